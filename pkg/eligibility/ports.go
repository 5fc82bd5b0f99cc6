package eligibility

import (
	"context"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

// LicenseRegister is read access to the license/participant register
type LicenseRegister interface {
	ActiveLicensesForISSN(ctx context.Context, issn string) ([]models.License, error)
	ActiveParticipantsForLicense(ctx context.Context, licenseID string) ([]models.Participant, error)
	LicenseByID(ctx context.Context, id string) (*models.License, error)
}

// SubscriberStore is read access to subscriber profiles
type SubscriberStore interface {
	ListActiveSubscribers(ctx context.Context, excludeSubjectOnly bool) ([]models.SubscriberProfile, error)
	ProfileFor(ctx context.Context, subscriberID string) (*models.SubscriberProfile, error)
}
