// Package matching decides whether a subscriber's profile matches a notification.
// Every pairwise comparison is evaluated so the resulting provenance is complete.
package matching

import (
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
)

// Reasons a subscriber is rejected
const (
	RejectNoCriteria    = "no matching criteria met"
	RejectKeywords      = "none of the required keywords are present"
	RejectContentTypes  = "none of the required content types are present"
	matchAllTerm        = "*"
	matchAllExplanation = "subscriber matches all affiliations"
)

// Config is passed explicitly into every Match call
type Config struct {
	// PostcodeMatching enables the postcode rules
	PostcodeMatching bool `json:"postcode_matching" yaml:"postcode_matching" mapstructure:"postcode_matching"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PostcodeMatching: true,
	}
}

// Result is the outcome of matching one subscriber
type Result struct {
	RepositoryID  string                   `json:"repository_id"`
	Matched       bool                     `json:"matched"`
	Entries       []models.ProvenanceEntry `json:"entries,omitempty"`
	License       *models.LicenseRecord    `json:"license,omitempty"`
	EmbargoMonths int                      `json:"embargo_months,omitempty"`
	RejectReason  string                   `json:"reject_reason,omitempty"`
}

// Engine evaluates the fixed rule table
type Engine struct {
	rules []rule
}

// NewEngine creates a new matching engine
func NewEngine() *Engine {
	return &Engine{rules: rules}
}

// Match evaluates profile against data. The license record only sets the embargo of
// the result and plays no part in field matching.
func (e *Engine) Match(data models.MatchData, profile *models.SubscriberProfile, license *models.LicenseRecord, cfg Config) Result {
	result := Result{RepositoryID: profile.ID, License: license}
	if license != nil {
		result.EmbargoMonths = license.EmbargoMonths
	}

	result.Entries = e.evaluate(data, profile, cfg)
	if len(result.Entries) == 0 {
		result.RejectReason = RejectNoCriteria
		return result
	}

	if len(profile.Keywords) > 0 && !anyExact(profile.Keywords, data.Keywords) {
		result.RejectReason = RejectKeywords
		return result
	}

	if len(profile.ContentTypes) > 0 && !anyExact(profile.ContentTypes, data.ContentTypes) {
		result.RejectReason = RejectContentTypes
		return result
	}

	result.Matched = true
	return result
}

// evaluate runs every rule and returns one entry per successful comparison
func (e *Engine) evaluate(data models.MatchData, profile *models.SubscriberProfile, cfg Config) []models.ProvenanceEntry {
	var entries []models.ProvenanceEntry
	matchAllRecorded := false

	for _, r := range e.rules {
		if r.postcode && !cfg.PostcodeMatching {
			continue
		}

		if r.affiliation && profile.MatchAll {
			if !matchAllRecorded {
				entries = append(entries, models.ProvenanceEntry{
					SubscriberField:   FieldMatchAll,
					SubscriberTerm:    matchAllTerm,
					NotificationField: FieldAffiliations,
					NotificationTerm:  matchAllTerm,
					Explanation:       matchAllExplanation,
				})
				matchAllRecorded = true
			}
			continue
		}

		for _, st := range subscriberTerms(profile, r.subscriberField) {
			for _, nt := range notificationTerms(data, r.notificationField) {
				explanation, ok := r.match(st, nt)
				if !ok {
					continue
				}
				entries = append(entries, models.ProvenanceEntry{
					SubscriberField:   r.subscriberField,
					SubscriberTerm:    st.display(),
					NotificationField: r.notificationField,
					NotificationTerm:  nt.display(),
					Explanation:       explanation,
				})
			}
		}
	}

	return entries
}

func anyExact(required, present []string) bool {
	if len(present) == 0 {
		return false
	}
	have := make(map[string]struct{}, len(present))
	for _, p := range present {
		if n := normalizers.Normalize(p); n != "" {
			have[n] = struct{}{}
		}
	}
	for _, r := range required {
		if _, ok := have[normalizers.Normalize(r)]; ok {
			return true
		}
	}
	return false
}
