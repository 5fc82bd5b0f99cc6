// Package eligibility decides which subscribers are contractually entitled to a
// notification through the license register.
package eligibility

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// Query describes the notification being checked
type Query struct {
	NotificationID string
	ISSNs          []string
	// PublicationYear of 0 means unknown; every year range accepts it
	PublicationYear int
	// DeclaredLicenses are the licenses the provider put on the notification
	DeclaredLicenses []models.LicenseRef
	// GoldAllowList holds the license types and URLs the providing account may declare as gold
	GoldAllowList []string
}

// Candidate is a license-eligible subscriber with the license records that made it eligible
type Candidate struct {
	Subscriber models.SubscriberProfile
	Licenses   []models.LicenseRecord
}

// PreferredLicense returns the record whose embargo is shortest. Ties keep register order.
func (c Candidate) PreferredLicense() *models.LicenseRecord {
	if len(c.Licenses) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(c.Licenses); i++ {
		if c.Licenses[i].EmbargoMonths < c.Licenses[best].EmbargoMonths {
			best = i
		}
	}
	rec := c.Licenses[best]
	return &rec
}

// Resolver resolves license-eligible subscribers
type Resolver struct {
	register    LicenseRegister
	subscribers SubscriberStore
	logger      ectologger.Logger
}

// NewResolver creates a new eligibility resolver
func NewResolver(register LicenseRegister, subscribers SubscriberStore, logger ectologger.Logger) *Resolver {
	return &Resolver{
		register:    register,
		subscribers: subscribers,
		logger:      logger,
	}
}

// Resolve returns the eligible candidates ordered by subscriber id. Any register or
// subscriber store failure is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "eligibility.Resolver.Resolve")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id":  q.NotificationID,
		"issns":            q.ISSNs,
		"publication_year": q.PublicationYear,
	})

	promoteHybrid := declaresAllowedGold(q.DeclaredLicenses, q.GoldAllowList)
	acc := newAccumulator()
	seen := make(map[string]struct{})

	for _, issn := range normalizeISSNs(q.ISSNs) {
		licenses, err := r.register.ActiveLicensesForISSN(ctx, issn)
		if err != nil {
			return nil, fmt.Errorf("looking up licenses for issn %s: %w", issn, err)
		}

		for _, license := range licenses {
			if !license.IsActive() {
				continue
			}
			for _, journal := range license.Journals {
				if !journalHasISSN(journal, issn) {
					continue
				}
				if !yearInRange(journal.Period, q.PublicationYear) {
					continue
				}
				link, ok := journal.RegisterURL()
				if !ok {
					log.WithFields(map[string]any{"license_id": license.ID, "journal": journal.Title}).
						Debug("Skipping license journal without a register link")
					continue
				}

				key := license.ID + "|" + link
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				record := models.LicenseRecord{
					LicenseID:     license.ID,
					Name:          license.Name,
					Type:          license.Type,
					JournalTitle:  journal.Title,
					Link:          link,
					EmbargoMonths: journal.EmbargoMonths,
				}

				if err := r.classify(ctx, license, record, promoteHybrid, acc); err != nil {
					return nil, err
				}
			}
		}
	}

	candidates := acc.candidates()
	log.WithFields(map[string]any{
		"candidate_count": len(candidates),
		"hybrid_as_gold":  promoteHybrid,
	}).Debug("Resolved eligible subscribers")

	return candidates, nil
}

// classify adds every subscriber eligible for record under the license's type rules
func (r *Resolver) classify(ctx context.Context, license models.License, record models.LicenseRecord, promoteHybrid bool, acc *accumulator) error {
	isGold := license.Type == models.LicenseTypeGold ||
		(license.Type == models.LicenseTypeHybrid && promoteHybrid)

	if isGold {
		subs, err := r.subscribers.ListActiveSubscribers(ctx, true)
		if err != nil {
			return fmt.Errorf("listing active subscribers: %w", err)
		}
		for _, sub := range subs {
			if !sub.Active || sub.IsSubject() {
				continue
			}
			acc.add(sub, record)
		}
		return nil
	}

	participants, err := r.register.ActiveParticipantsForLicense(ctx, license.ID)
	if err != nil {
		return fmt.Errorf("looking up participants for license %s: %w", license.ID, err)
	}
	institutions := participantInstitutions(participants)
	if len(institutions) == 0 {
		return nil
	}

	subs, err := r.subscribers.ListActiveSubscribers(ctx, false)
	if err != nil {
		return fmt.Errorf("listing active subscribers: %w", err)
	}
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		for _, inst := range sub.Institutions {
			if _, ok := institutions[institutionKey(inst)]; ok {
				acc.add(sub, record)
				break
			}
		}
	}
	return nil
}

// =============================================================================
// CANDIDATE ACCUMULATION
// =============================================================================

type accumulator struct {
	subscribers map[string]models.SubscriberProfile
	records     map[string][]models.LicenseRecord
}

func newAccumulator() *accumulator {
	return &accumulator{
		subscribers: make(map[string]models.SubscriberProfile),
		records:     make(map[string][]models.LicenseRecord),
	}
}

func (a *accumulator) add(sub models.SubscriberProfile, record models.LicenseRecord) {
	for _, existing := range a.records[sub.ID] {
		if existing.LicenseID == record.LicenseID {
			return
		}
	}
	a.subscribers[sub.ID] = sub
	a.records[sub.ID] = append(a.records[sub.ID], record)
}

// candidates applies each subscriber's license exclusions and drops subscribers
// left without any license record
func (a *accumulator) candidates() []Candidate {
	out := make([]Candidate, 0, len(a.subscribers))
	for id, sub := range a.subscribers {
		kept := ectolinq.Filter(a.records[id], func(rec models.LicenseRecord) bool {
			return !sub.ExcludesLicense(rec.LicenseID)
		})
		if len(kept) == 0 {
			continue
		}
		out = append(out, Candidate{Subscriber: sub, Licenses: kept})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscriber.ID < out[j].Subscriber.ID })
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeISSNs(issns []string) []string {
	seen := make(map[string]struct{}, len(issns))
	out := make([]string, 0, len(issns))
	for _, issn := range issns {
		n := normalizers.ISSN(issn)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func journalHasISSN(j models.LicenseJournal, issn string) bool {
	for _, candidate := range j.ISSNs() {
		if normalizers.ISSN(candidate) == issn {
			return true
		}
	}
	return false
}

// yearInRange accepts year when it lies inside the inclusive range. Missing or
// malformed bounds accept every year.
func yearInRange(r models.YearRange, year int) bool {
	if year == 0 {
		return true
	}
	from, to := strings.TrimSpace(r.From), strings.TrimSpace(r.To)

	lo, hi := 0, 0
	var err error
	if from != "" {
		if lo, err = strconv.Atoi(from); err != nil {
			return true
		}
	}
	if to != "" {
		if hi, err = strconv.Atoi(to); err != nil {
			return true
		}
	}
	if from != "" && to != "" && lo > hi {
		return true
	}
	if from != "" && year < lo {
		return false
	}
	if to != "" && year > hi {
		return false
	}
	return true
}

func participantInstitutions(participants []models.Participant) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range participants {
		if p.Status != "" && p.Status != models.LicenseStatusActive {
			continue
		}
		for _, inst := range p.Institutions {
			out[institutionKey(inst)] = struct{}{}
		}
	}
	return out
}

func institutionKey(id models.Identifier) string {
	return normalizers.Normalize(id.Type) + ":" + normalizers.Normalize(id.ID)
}

// declaresAllowedGold reports whether the notification declares a license whose type
// or URL is on the provider's gold allow-list
func declaresAllowedGold(declared []models.LicenseRef, allowList []string) bool {
	if len(declared) == 0 || len(allowList) == 0 {
		return false
	}
	allowed := make(map[string]struct{}, len(allowList))
	for _, a := range allowList {
		if n := normalizers.Normalize(a); n != "" {
			allowed[n] = struct{}{}
		}
	}

	for _, l := range declared {
		for _, v := range []string{l.Type, l.URL} {
			if _, ok := allowed[normalizers.Normalize(v)]; ok {
				return true
			}
		}
	}
	return false
}
