package routing

import (
	"context"
	"errors"

	"github.com/JiscPER/jper-sub000/pkg/eligibility"
	"github.com/JiscPER/jper-sub000/pkg/models"
)

// Extractor mines metadata and match data from a notification's content package
type Extractor interface {
	Extract(ctx context.Context, notificationID, packagingFormat string) (models.Metadata, models.MatchData, error)
}

// Store persists routing outcomes. Saves are idempotent upserts keyed by
// (notification id, status) and provenance id.
type Store interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	SaveProvenance(ctx context.Context, p *models.MatchProvenance) error
	DeleteNotification(ctx context.Context, id string, status models.NotificationStatus) error
}

// Repackager converts a routed notification's package into additional formats
type Repackager interface {
	Convert(ctx context.Context, notificationID, sourceFormat string, targetFormats []string) ([]models.Link, error)
}

// OutcomeSink receives every recorded disposition. Failures are logged and ignored.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, n *models.Notification) error
}

// OutcomeSinks fans a disposition out to several sinks. Every sink is called even
// when an earlier one fails.
type OutcomeSinks []OutcomeSink

func (s OutcomeSinks) RecordOutcome(ctx context.Context, n *models.Notification) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.RecordOutcome(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LicenseRegister is read access to the license/participant register
type LicenseRegister = eligibility.LicenseRegister

// SubscriberStore is read access to subscriber profiles
type SubscriberStore = eligibility.SubscriberStore
