package models

import "time"

// ContentPackageStatus tracks a repackaging request
type ContentPackageStatus string

const (
	ContentPackageRequested ContentPackageStatus = "requested"
	ContentPackageAvailable ContentPackageStatus = "available"
	ContentPackageFailed    ContentPackageStatus = "failed"
)

// ContentPackage is a format a routed notification's package is (being) converted into
type ContentPackage struct {
	NotificationID string               `json:"notification_id" db:"notification_id"`
	Format         string               `json:"format" db:"format"`
	SourceFormat   string               `json:"source_format" db:"source_format"`
	Status         ContentPackageStatus `json:"status" db:"status"`
	URL            string               `json:"url" db:"url"`
	RequestedAt    time.Time            `json:"requested_at" db:"requested_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty" db:"completed_at"`
}
