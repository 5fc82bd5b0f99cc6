package license_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscPER/jper-sub000/internal/repositories/license"
	"github.com/JiscPER/jper-sub000/pkg/database/dbtest"
	"github.com/JiscPER/jper-sub000/pkg/models"
)

func journal(title, issn string) models.LicenseJournal {
	return models.LicenseJournal{
		Title:       title,
		Identifiers: []models.Identifier{{Type: "eissn", ID: issn}},
		Period:      models.YearRange{From: "2015"},
		Links:       []models.Link{{Type: models.RegisterLinkType, URL: "https://register.example/" + title}},
	}
}

func TestRepository_LicensesForISSN(t *testing.T) {
	db := dbtest.NewPostgres(t)
	repo := license.NewRepository(db, dbtest.Logger())
	ctx := context.Background()

	alliance := &models.License{
		ID:     "lic-alliance",
		Name:   "Alliance",
		Type:   models.LicenseTypeAlliance,
		Status: models.LicenseStatusActive,
		Journals: []models.LicenseJournal{
			journal("first", "1234-5678"),
			journal("second", "8765432X"),
		},
	}
	inactive := &models.License{
		ID:       "lic-old",
		Type:     models.LicenseTypeNational,
		Status:   models.LicenseStatusInactive,
		Journals: []models.LicenseJournal{journal("first", "1234-5678")},
	}
	require.NoError(t, repo.Upsert(ctx, alliance))
	require.NoError(t, repo.Upsert(ctx, inactive))

	// ISSNs are matched in normalized form
	got, err := repo.ActiveLicensesForISSN(ctx, "12345678")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lic-alliance", got[0].ID)
	require.Len(t, got[0].Journals, 2)
	assert.Equal(t, "first", got[0].Journals[0].Title)
	assert.Equal(t, "second", got[0].Journals[1].Title)

	got, err = repo.ActiveLicensesForISSN(ctx, "8765-432x")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = repo.ActiveLicensesForISSN(ctx, "0000-0000")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Upsert replaces the journal list
	alliance.Journals = []models.LicenseJournal{journal("third", "1111-2222")}
	require.NoError(t, repo.Upsert(ctx, alliance))
	got, err = repo.ActiveLicensesForISSN(ctx, "1234-5678")
	require.NoError(t, err)
	assert.Empty(t, got)

	l, err := repo.LicenseByID(ctx, "lic-alliance")
	require.NoError(t, err)
	require.Len(t, l.Journals, 1)
	url, ok := l.Journals[0].RegisterURL()
	assert.True(t, ok)
	assert.Equal(t, "https://register.example/third", url)

	_, err = repo.LicenseByID(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRepository_Participants(t *testing.T) {
	db := dbtest.NewPostgres(t)
	repo := license.NewRepository(db, dbtest.Logger())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.License{
		ID:     "lic-1",
		Type:   models.LicenseTypeDeal,
		Status: models.LicenseStatusActive,
	}))
	require.NoError(t, repo.UpsertParticipant(ctx, &models.Participant{
		ID:           "part-1",
		LicenseID:    "lic-1",
		Institutions: []models.Identifier{{Type: "ror", ID: "https://ror.org/01"}},
	}))
	require.NoError(t, repo.UpsertParticipant(ctx, &models.Participant{
		ID:        "part-2",
		LicenseID: "lic-1",
		Status:    models.LicenseStatusInactive,
	}))

	got, err := repo.ActiveParticipantsForLicense(ctx, "lic-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "part-1", got[0].ID)
	assert.Equal(t, models.LicenseStatusActive, got[0].Status)
	assert.Equal(t, "https://ror.org/01", got[0].Institutions[0].ID)

	got, err = repo.ActiveParticipantsForLicense(ctx, "lic-unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}
