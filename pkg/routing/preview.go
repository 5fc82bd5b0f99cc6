package routing

import (
	"context"

	"github.com/JiscPER/jper-sub000/pkg/eligibility"
	"github.com/JiscPER/jper-sub000/pkg/matching"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// PreviewResult explains how one subscriber would treat a notification
type PreviewResult struct {
	matching.Result
	// Eligible reports whether the license register makes the subscriber a candidate
	Eligible bool                   `json:"eligible"`
	Licenses []models.LicenseRecord `json:"licenses,omitempty"`
}

// Preview runs eligibility and matching for one subscriber against md without
// persisting anything. Match results are computed even for ineligible subscribers.
func (o *Orchestrator) Preview(ctx context.Context, providerID string, md models.Metadata, subscriberID string) (*PreviewResult, error) {
	ctx, span := tracing.StartSpan(ctx, "routing.Orchestrator.Preview")
	defer span.End()

	policy := o.policy.Policy()
	snapshot := eligibility.NewSnapshot(o.register, o.subscribers)

	profile, err := snapshot.ProfileFor(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrSubscriberNotFound
	}

	candidates, err := eligibility.NewResolver(snapshot, snapshot, o.logger).Resolve(ctx, eligibility.Query{
		NotificationID:   "preview",
		ISSNs:            md.Journal.ISSNs(),
		PublicationYear:  md.PublicationYear(),
		DeclaredLicenses: md.Licenses,
		GoldAllowList:    policy.GoldAllowList(providerID),
	})
	if err != nil {
		return nil, &EligibilityLookupError{NotificationID: "preview", Err: err}
	}

	out := &PreviewResult{}
	var license *models.LicenseRecord
	for _, c := range candidates {
		if c.Subscriber.ID == subscriberID {
			out.Eligible = true
			out.Licenses = c.Licenses
			license = c.PreferredLicense()
			break
		}
	}

	out.Result = o.engine.Match(matching.BuildMatchData(md), profile, license, policy.Matching)
	return out, nil
}
