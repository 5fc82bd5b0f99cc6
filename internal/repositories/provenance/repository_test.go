package provenance_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscPER/jper-sub000/internal/repositories/provenance"
	"github.com/JiscPER/jper-sub000/pkg/database/dbtest"
	"github.com/JiscPER/jper-sub000/pkg/models"
)

func TestRepository_SaveIsImmutable(t *testing.T) {
	db := dbtest.NewPostgres(t)
	repo := provenance.NewRepository(db, dbtest.Logger())
	ctx := context.Background()

	first := &models.MatchProvenance{
		ID:             uuid.NewString(),
		NotificationID: "n-1",
		RepositoryID:   "r-2",
		Entries: []models.ProvenanceEntry{{
			SubscriberField:   "domains",
			SubscriberTerm:    "ed.ac.uk",
			NotificationField: "author.affiliation.email",
			NotificationTerm:  "someone@ed.ac.uk",
			Explanation:       "email domain matches",
		}},
		License: &models.LicenseRecord{
			LicenseID: "lic-1",
			Type:      models.LicenseTypeAlliance,
			Link:      "https://register.example/first",
		},
		EmbargoMonths: 6,
	}
	require.NoError(t, repo.Save(ctx, first))

	// A second record for the same pair is ignored
	require.NoError(t, repo.Save(ctx, &models.MatchProvenance{
		ID:             uuid.NewString(),
		NotificationID: "n-1",
		RepositoryID:   "r-2",
	}))
	require.NoError(t, repo.Save(ctx, &models.MatchProvenance{
		ID:             uuid.NewString(),
		NotificationID: "n-1",
		RepositoryID:   "r-1",
	}))

	got, err := repo.ListByNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "r-1", got[0].RepositoryID)
	assert.Empty(t, got[0].Entries)
	assert.Nil(t, got[0].License)

	assert.Equal(t, first.ID, got[1].ID)
	require.Len(t, got[1].Entries, 1)
	assert.Equal(t, "ed.ac.uk", got[1].Entries[0].SubscriberTerm)
	require.NotNil(t, got[1].License)
	assert.Equal(t, "lic-1", got[1].License.LicenseID)
	assert.Equal(t, 6, got[1].EmbargoMonths)

	got, err = repo.ListByNotification(ctx, "n-unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}
