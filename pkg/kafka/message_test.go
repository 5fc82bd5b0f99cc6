package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

func TestParseNotification(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		msg     IncomingMessage
		wantErr bool
		wantID  string
	}{
		{
			name:   "id from payload",
			msg:    IncomingMessage{Key: "k", Value: []byte(`{"id":"n-1","provider_id":"p-1"}`), Timestamp: ts},
			wantID: "n-1",
		},
		{
			name:   "id falls back to key",
			msg:    IncomingMessage{Key: "n-2", Value: []byte(`{"provider_id":"p-1"}`), Timestamp: ts},
			wantID: "n-2",
		},
		{
			name:    "empty value",
			msg:     IncomingMessage{Key: "n-3"},
			wantErr: true,
		},
		{
			name:    "invalid json",
			msg:     IncomingMessage{Key: "n-4", Value: []byte(`{`)},
			wantErr: true,
		},
		{
			name:    "terminal notification",
			msg:     IncomingMessage{Value: []byte(`{"id":"n-5","status":"routed"}`)},
			wantErr: true,
		},
		{
			name:    "no id anywhere",
			msg:     IncomingMessage{Value: []byte(`{"provider_id":"p-1"}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.ParseNotification()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, tt.msg.Notification)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, tt.msg.Notification.ID)
			assert.Equal(t, models.NotificationStatusUnrouted, tt.msg.Notification.Status)
			assert.Equal(t, ts, tt.msg.Notification.CreatedAt)
		})
	}
}

func TestNewNotificationEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	routed, err := NewNotificationEvent(&models.Notification{
		ID:         "n-1",
		ProviderID: "p-1",
		Status:     models.NotificationStatusRouted,
		Routed:     &models.RoutedPayload{RepositoryIDs: []string{"r-1", "r-2"}, Reason: "matched", AnalysedAt: at},
	})
	require.NoError(t, err)
	assert.Equal(t, EventNotificationRouted, routed.EventType)
	assert.Equal(t, []string{"r-1", "r-2"}, routed.RepositoryIDs)
	assert.Equal(t, at, routed.Timestamp)

	failed, err := NewNotificationEvent(&models.Notification{
		ID:     "n-2",
		Status: models.NotificationStatusFailed,
		Failed: &models.FailedPayload{Reason: "no qualified subscribers", Stage: "disposition", AnalysedAt: at},
	})
	require.NoError(t, err)
	assert.Equal(t, EventNotificationFailed, failed.EventType)
	assert.Equal(t, "disposition", failed.Stage)
	assert.False(t, failed.Stalled)

	_, err = NewNotificationEvent(&models.Notification{ID: "n-3", Status: models.NotificationStatusUnrouted})
	assert.Error(t, err)
}
