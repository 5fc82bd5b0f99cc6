package models

import "time"

// NotificationStatus tags which lifecycle state a notification record is in
type NotificationStatus string

const (
	NotificationStatusUnrouted NotificationStatus = "unrouted"
	NotificationStatusRouted   NotificationStatus = "routed"
	NotificationStatusFailed   NotificationStatus = "failed"
)

// Notification is a publication notification from a content provider.
// Routed and Failed are set only once the record reaches the matching terminal status.
type Notification struct {
	ID              string             `json:"id"`
	Status          NotificationStatus `json:"status"`
	ProviderID      string             `json:"provider_id"`
	PackagingFormat string             `json:"packaging_format,omitempty"`
	Metadata        Metadata           `json:"metadata"`
	Links           []Link             `json:"links,omitempty"`
	RoutingAttempts int                `json:"routing_attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`

	Routed *RoutedPayload `json:"routed,omitempty"`
	Failed *FailedPayload `json:"failed,omitempty"`
}

// RoutedPayload holds the fields added when a notification is routed
type RoutedPayload struct {
	RepositoryIDs []string  `json:"repository_ids"`
	Reason        string    `json:"reason"`
	AnalysedAt    time.Time `json:"analysed_at"`
	AddedLinks    []Link    `json:"added_links,omitempty"`
}

// FailedPayload holds the fields added when routing fails. Stalled marks
// infrastructure failures that an external scheduler may retry.
type FailedPayload struct {
	Reason     string    `json:"reason"`
	Stage      string    `json:"stage,omitempty"`
	Stalled    bool      `json:"stalled"`
	AnalysedAt time.Time `json:"analysed_at"`
}

// Link is a content link attached to a notification
type Link struct {
	Type      string `json:"type,omitempty"`
	Format    string `json:"format,omitempty"`
	Packaging string `json:"packaging,omitempty"`
	Access    string `json:"access,omitempty"`
	URL       string `json:"url"`
}

// IsTerminal reports whether the notification has reached Routed or Failed
func (n *Notification) IsTerminal() bool {
	return n.Status == NotificationStatusRouted || n.Status == NotificationStatusFailed
}

// IsStalled reports whether the notification failed for infrastructure reasons
func (n *Notification) IsStalled() bool {
	return n.Status == NotificationStatusFailed && n.Failed != nil && n.Failed.Stalled
}
