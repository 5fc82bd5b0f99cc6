package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

type fakeRegister struct {
	licenses     []models.License
	participants map[string][]models.Participant
	err          error
	issnCalls    int
}

func (f *fakeRegister) ActiveLicensesForISSN(_ context.Context, issn string) ([]models.License, error) {
	f.issnCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.License
	for _, l := range f.licenses {
		if !l.IsActive() {
			continue
		}
		for _, j := range l.Journals {
			if contains(j.ISSNs(), issn) {
				out = append(out, l)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRegister) ActiveParticipantsForLicense(_ context.Context, licenseID string) ([]models.Participant, error) {
	return f.participants[licenseID], nil
}

func (f *fakeRegister) LicenseByID(_ context.Context, id string) (*models.License, error) {
	for i := range f.licenses {
		if f.licenses[i].ID == id {
			return &f.licenses[i], nil
		}
	}
	return nil, errors.New("not found")
}

type fakeSubscribers struct {
	profiles []models.SubscriberProfile
	err      error
}

func (f *fakeSubscribers) ListActiveSubscribers(_ context.Context, excludeSubjectOnly bool) ([]models.SubscriberProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.SubscriberProfile
	for _, p := range f.profiles {
		if !p.Active || (excludeSubjectOnly && p.IsSubject()) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSubscribers) ProfileFor(_ context.Context, id string) (*models.SubscriberProfile, error) {
	for i := range f.profiles {
		if f.profiles[i].ID == id {
			return &f.profiles[i], nil
		}
	}
	return nil, errors.New("not found")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func journal(issn string, from, to string, embargo int, withLink bool) models.LicenseJournal {
	j := models.LicenseJournal{
		Title:         "Journal " + issn,
		Identifiers:   []models.Identifier{{Type: "issn", ID: issn}},
		Period:        models.YearRange{From: from, To: to},
		EmbargoMonths: embargo,
	}
	if withLink {
		j.Links = []models.Link{{Type: models.RegisterLinkType, URL: "https://register.example/" + issn}}
	}
	return j
}

func subscribers() *fakeSubscribers {
	return &fakeSubscribers{profiles: []models.SubscriberProfile{
		{ID: "inst-a", Active: true, Role: models.RepositoryRoleInstitutional, Institutions: []models.Identifier{{Type: "ezb", ID: "A"}}},
		{ID: "inst-b", Active: true, Role: models.RepositoryRoleInstitutional, Institutions: []models.Identifier{{Type: "ezb", ID: "B"}}},
		{ID: "subject", Active: true, Role: models.RepositoryRoleSubject, Institutions: []models.Identifier{{Type: "ezb", ID: "S"}}},
		{ID: "inactive", Active: false, Role: models.RepositoryRoleInstitutional},
	}}
}

func candidateIDs(cs []Candidate) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.Subscriber.ID)
	}
	return ids
}

func TestResolve_GoldLicense(t *testing.T) {
	register := &fakeRegister{licenses: []models.License{
		{ID: "gold-1", Name: "Gold", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
			Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, true)}},
	}}
	resolver := NewResolver(register, subscribers(), getTestLogger())

	candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"12345678"}, PublicationYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-a", "inst-b"}, candidateIDs(candidates))
	assert.Equal(t, "gold-1", candidates[0].Licenses[0].LicenseID)
	assert.Equal(t, "https://register.example/1234-5678", candidates[0].Licenses[0].Link)
}

func TestResolve_AllianceLicense(t *testing.T) {
	register := &fakeRegister{
		licenses: []models.License{
			{ID: "alliance-1", Type: models.LicenseTypeAlliance, Status: models.LicenseStatusActive,
				Journals: []models.LicenseJournal{journal("1234-5678", "2019", "2022", 12, true)}},
		},
		participants: map[string][]models.Participant{
			"alliance-1": {
				{ID: "p1", LicenseID: "alliance-1", Status: models.LicenseStatusActive, Institutions: []models.Identifier{{Type: "EZB", ID: "b"}}},
				{ID: "p2", LicenseID: "alliance-1", Status: models.LicenseStatusInactive, Institutions: []models.Identifier{{Type: "ezb", ID: "A"}}},
			},
		},
	}
	resolver := NewResolver(register, subscribers(), getTestLogger())

	candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}, PublicationYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-b"}, candidateIDs(candidates))
	assert.Equal(t, 12, candidates[0].Licenses[0].EmbargoMonths)
}

func TestResolve_YearRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		year     int
		eligible bool
	}{
		{name: "inside range", from: "2019", to: "2022", year: 2020, eligible: true},
		{name: "inclusive lower bound", from: "2019", to: "2022", year: 2019, eligible: true},
		{name: "inclusive upper bound", from: "2019", to: "2022", year: 2022, eligible: true},
		{name: "before range", from: "2019", to: "2022", year: 2018, eligible: false},
		{name: "after range", from: "2019", to: "2022", year: 2023, eligible: false},
		{name: "open ended", from: "2019", to: "", year: 2030, eligible: true},
		{name: "no bounds", from: "", to: "", year: 1990, eligible: true},
		{name: "malformed bound", from: "twenty", to: "2022", year: 2030, eligible: true},
		{name: "unknown year", from: "2019", to: "2022", year: 0, eligible: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			register := &fakeRegister{licenses: []models.License{
				{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
					Journals: []models.LicenseJournal{journal("1234-5678", tt.from, tt.to, 0, true)}},
			}}
			resolver := NewResolver(register, subscribers(), getTestLogger())

			candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}, PublicationYear: tt.year})
			require.NoError(t, err)
			assert.Equal(t, tt.eligible, len(candidates) > 0)
		})
	}
}

func TestResolve_JournalWithoutRegisterLinkIsSkipped(t *testing.T) {
	register := &fakeRegister{licenses: []models.License{
		{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
			Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, false)}},
	}}
	resolver := NewResolver(register, subscribers(), getTestLogger())

	candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestResolve_ExcludedLicenses(t *testing.T) {
	register := &fakeRegister{
		licenses: []models.License{
			{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
				Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, true)}},
			{ID: "alliance-1", Type: models.LicenseTypeAlliance, Status: models.LicenseStatusActive,
				Journals: []models.LicenseJournal{journal("1234-5678", "", "", 6, true)}},
		},
		participants: map[string][]models.Participant{
			"alliance-1": {{LicenseID: "alliance-1", Status: models.LicenseStatusActive, Institutions: []models.Identifier{{Type: "ezb", ID: "A"}}}},
		},
	}
	subs := subscribers()
	subs.profiles[0].ExcludedLicenses = []string{"gold-1"}
	subs.profiles[1].ExcludedLicenses = []string{"gold-1"}
	resolver := NewResolver(register, subs, getTestLogger())

	candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}})
	require.NoError(t, err)

	// inst-a keeps its alliance record, inst-b had only the excluded gold license
	require.Equal(t, []string{"inst-a"}, candidateIDs(candidates))
	require.Len(t, candidates[0].Licenses, 1)
	assert.Equal(t, "alliance-1", candidates[0].Licenses[0].LicenseID)
}

func TestResolve_MultipleLicensesRetained(t *testing.T) {
	register := &fakeRegister{
		licenses: []models.License{
			{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
				Journals: []models.LicenseJournal{journal("1234-5678", "", "", 12, true)}},
			{ID: "alliance-1", Type: models.LicenseTypeAlliance, Status: models.LicenseStatusActive,
				Journals: []models.LicenseJournal{journal("1234-5678", "", "", 3, true)}},
		},
		participants: map[string][]models.Participant{
			"alliance-1": {{LicenseID: "alliance-1", Status: models.LicenseStatusActive, Institutions: []models.Identifier{{Type: "ezb", ID: "A"}}}},
		},
	}
	resolver := NewResolver(register, subscribers(), getTestLogger())

	candidates, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}})
	require.NoError(t, err)
	require.Equal(t, "inst-a", candidates[0].Subscriber.ID)
	assert.Len(t, candidates[0].Licenses, 2)
	assert.Equal(t, "alliance-1", candidates[0].PreferredLicense().LicenseID)
}

func TestResolve_HybridPromotedByAllowedGoldDeclaration(t *testing.T) {
	register := &fakeRegister{licenses: []models.License{
		{ID: "hybrid-1", Type: models.LicenseTypeHybrid, Status: models.LicenseStatusActive,
			Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, true)}},
	}}
	resolver := NewResolver(register, subscribers(), getTestLogger())

	q := Query{ISSNs: []string{"1234-5678"}}
	candidates, err := resolver.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, candidates, "hybrid without participants and without gold declaration")

	q.DeclaredLicenses = []models.LicenseRef{{Type: "gold", URL: "https://creativecommons.org/licenses/by/4.0/"}}
	q.GoldAllowList = []string{"https://creativecommons.org/licenses/by/4.0/"}
	candidates, err = resolver.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-a", "inst-b"}, candidateIDs(candidates))
}

func TestResolve_LookupErrorsPropagate(t *testing.T) {
	boom := errors.New("register unreachable")

	resolver := NewResolver(&fakeRegister{err: boom}, subscribers(), getTestLogger())
	_, err := resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}})
	assert.ErrorIs(t, err, boom)

	register := &fakeRegister{licenses: []models.License{
		{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
			Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, true)}},
	}}
	resolver = NewResolver(register, &fakeSubscribers{err: boom}, getTestLogger())
	_, err = resolver.Resolve(context.Background(), Query{ISSNs: []string{"1234-5678"}})
	assert.ErrorIs(t, err, boom)
}

func TestSnapshot_MemoizesLookups(t *testing.T) {
	register := &fakeRegister{licenses: []models.License{
		{ID: "gold-1", Type: models.LicenseTypeGold, Status: models.LicenseStatusActive,
			Journals: []models.LicenseJournal{journal("1234-5678", "", "", 0, true)}},
	}}
	snapshot := NewSnapshot(register, subscribers())

	for i := 0; i < 3; i++ {
		licenses, err := snapshot.ActiveLicensesForISSN(context.Background(), "1234-5678")
		require.NoError(t, err)
		assert.Len(t, licenses, 1)
	}
	assert.Equal(t, 1, register.issnCalls)

	_, err := snapshot.ListActiveSubscribers(context.Background(), true)
	require.NoError(t, err)
	profile, err := snapshot.ProfileFor(context.Background(), "inst-a")
	require.NoError(t, err)
	assert.Equal(t, "inst-a", profile.ID)
}
