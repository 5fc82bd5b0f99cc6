package models

import "time"

// ProvenanceEntry is one successful pairwise comparison between a subscriber term
// and a notification term
type ProvenanceEntry struct {
	SubscriberField   string `json:"subscriber_field"`
	SubscriberTerm    string `json:"subscriber_term"`
	NotificationField string `json:"notification_field"`
	NotificationTerm  string `json:"notification_term"`
	Explanation       string `json:"explanation"`
}

// MatchProvenance records why a subscriber matched a notification. It is immutable once created.
type MatchProvenance struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notification_id"`
	RepositoryID   string            `json:"repository_id"`
	Entries        []ProvenanceEntry `json:"entries"`
	License        *LicenseRecord    `json:"license,omitempty"`
	EmbargoMonths  int               `json:"embargo_months,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
