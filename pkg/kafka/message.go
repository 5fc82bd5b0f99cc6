package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

// Header keys
const (
	HeaderEventType   = "event_type"
	HeaderProviderID  = "provider_id"
	HeaderTraceParent = "traceparent"
	HeaderTraceState  = "tracestate"
)

// Event types
const (
	EventNotificationRouted = "notification.routed"
	EventNotificationFailed = "notification.failed"
	EventRepackageRequested = "package.repackage_requested"
)

// IncomingMessage is a consumed Kafka message
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	Notification *models.Notification
}

// ParseNotification decodes the message value as an unrouted notification
func (m *IncomingMessage) ParseNotification() error {
	if len(m.Value) == 0 {
		return errors.New("empty message")
	}

	var n models.Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		return fmt.Errorf("decoding notification: %w", err)
	}
	if n.ID == "" {
		n.ID = m.Key
	}
	if n.ID == "" {
		return errors.New("notification has no id")
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusUnrouted
	}
	if n.Status != models.NotificationStatusUnrouted {
		return fmt.Errorf("notification %s has status %q, expected unrouted", n.ID, n.Status)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.Timestamp
	}

	m.Notification = &n
	return nil
}

// NotificationEvent announces a routing disposition
type NotificationEvent struct {
	EventType      string    `json:"event_type"`
	NotificationID string    `json:"notification_id"`
	ProviderID     string    `json:"provider_id"`
	RepositoryIDs  []string  `json:"repository_ids,omitempty"`
	Reason         string    `json:"reason"`
	Stage          string    `json:"stage,omitempty"`
	Stalled        bool      `json:"stalled,omitempty"`
	EmbargoMonths  int       `json:"embargo_months,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewNotificationEvent builds the event for a terminal notification
func NewNotificationEvent(n *models.Notification) (*NotificationEvent, error) {
	event := &NotificationEvent{
		NotificationID: n.ID,
		ProviderID:     n.ProviderID,
		EmbargoMonths:  n.Metadata.EmbargoMonths,
	}
	switch {
	case n.Status == models.NotificationStatusRouted && n.Routed != nil:
		event.EventType = EventNotificationRouted
		event.RepositoryIDs = n.Routed.RepositoryIDs
		event.Reason = n.Routed.Reason
		event.Timestamp = n.Routed.AnalysedAt
	case n.Status == models.NotificationStatusFailed && n.Failed != nil:
		event.EventType = EventNotificationFailed
		event.Reason = n.Failed.Reason
		event.Stage = n.Failed.Stage
		event.Stalled = n.Failed.Stalled
		event.Timestamp = n.Failed.AnalysedAt
	default:
		return nil, fmt.Errorf("notification %s is not terminal", n.ID)
	}
	return event, nil
}

// RepackageCommand asks the packaging service to convert a notification's package
type RepackageCommand struct {
	NotificationID string    `json:"notification_id"`
	SourceFormat   string    `json:"source_format"`
	TargetFormats  []string  `json:"target_formats"`
	Timestamp      time.Time `json:"timestamp"`
}
