package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

func TestNotificationParams(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600))

	params := notificationParams(&models.Notification{
		ID:         "n-1",
		ProviderID: "p-1",
		Status:     models.NotificationStatusRouted,
		Metadata: models.Metadata{
			Article: models.Article{Title: "On Routing"},
			Journal: models.Journal{Identifiers: []models.Identifier{
				{Type: "issn", ID: "12345678"},
				{Type: "doi", ID: "10.1/x"},
			}},
		},
		Routed: &models.RoutedPayload{Reason: "matched 1 of 1", AnalysedAt: at},
	})

	assert.Equal(t, "routed", params["status"])
	assert.Equal(t, "matched 1 of 1", params["reason"])
	assert.Equal(t, "2026-02-03T03:05:06Z", params["analysed_at"])
	assert.Equal(t, []string{"1234-5678"}, params["issns"])
}

func TestNotificationParamsFailed(t *testing.T) {
	updated := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	params := notificationParams(&models.Notification{
		ID:        "n-2",
		Status:    models.NotificationStatusFailed,
		UpdatedAt: updated,
		Failed:    &models.FailedPayload{Reason: "no qualified subscribers"},
	})

	assert.Equal(t, "no qualified subscribers", params["reason"])
	assert.Equal(t, "2026-02-03T00:00:00Z", params["analysed_at"])
	assert.Equal(t, []string{}, params["issns"])
}
