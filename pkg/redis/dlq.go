package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JiscPER/jper-sub000/pkg/kafka"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// DLQMaxLen caps the stream; the oldest entries are trimmed
const DLQMaxLen = 10000

// ErrDLQEntryNotFound is returned when deleting an entry the stream does not hold
var ErrDLQEntryNotFound = errors.New("DLQ entry not found")

// DLQEntry is a Kafka message that could not be routed
type DLQEntry struct {
	ID             string            `json:"id"`
	MessageID      string            `json:"message_id,omitempty"`
	NotificationID string            `json:"notification_id,omitempty"`
	Topic          string            `json:"topic"`
	Partition      int               `json:"partition"`
	Offset         int64             `json:"offset"`
	Key            string            `json:"key,omitempty"`
	Value          string            `json:"value"`
	Headers        map[string]string `json:"headers,omitempty"`
	Reason         string            `json:"reason"`
	ErrorMessage   string            `json:"error_message"`
	CreatedAt      time.Time         `json:"created_at"`
	TraceID        string            `json:"trace_id,omitempty"`
}

// DeadLetterQueue keeps poison messages in a capped Redis stream
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

// NewDeadLetterQueue creates a dead letter queue on streamName, or on the namespaced
// "dlq" stream when streamName is empty
func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = client.Key("dlq")
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// Send implements kafka.DeadLetterer
func (d *DeadLetterQueue) Send(ctx context.Context, msg *kafka.IncomingMessage, reason string, cause error) error {
	entry := &DLQEntry{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     string(msg.Value),
		Headers:   msg.Headers,
		Reason:    reason,
	}
	if msg.Notification != nil {
		entry.NotificationID = msg.Notification.ID
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	_, err := d.Add(ctx, entry)
	return err
}

// Add appends an entry to the stream
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encoding DLQ entry: %w", err)
	}

	messageID, err := d.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":            string(data),
			"notification_id": entry.NotificationID,
			"reason":          entry.Reason,
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"stream": d.streamName}).Error("Failed to dead-letter message")
		return "", fmt.Errorf("appending to %s: %w", d.streamName, err)
	}

	metrics.RecordDLQMessage(entry.Reason)
	d.logger.WithContext(ctx).WithFields(map[string]any{
		"message_id":      messageID,
		"notification_id": entry.NotificationID,
		"reason":          entry.Reason,
	}).Warn("Message dead-lettered")
	return messageID, nil
}

// List returns up to count entries, newest first. Entries that no longer decode are
// skipped with a warning.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}
	messages, err := d.client.Redis().XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", d.streamName, err)
	}

	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		entry, err := decodeEntry(msg)
		if err != nil {
			d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"message_id": msg.ID}).Warn("Skipping unreadable DLQ entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns the entry stored under a stream message id, or nil when there is none
func (d *DeadLetterQueue) Get(ctx context.Context, messageID string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Get")
	defer span.End()

	messages, err := d.client.Redis().XRangeN(ctx, d.streamName, messageID, messageID, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", d.streamName, messageID, err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	entry, err := decodeEntry(messages[0])
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes an entry; ErrDLQEntryNotFound if the stream does not hold it
func (d *DeadLetterQueue) Delete(ctx context.Context, messageID string) error {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Delete")
	defer span.End()

	removed, err := d.client.Redis().XDel(ctx, d.streamName, messageID).Result()
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", d.streamName, messageID, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrDLQEntryNotFound, messageID)
	}
	return nil
}

// Count returns the number of entries in the stream
func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.Redis().XLen(ctx, d.streamName).Result()
}

func decodeEntry(msg redis.XMessage) (DLQEntry, error) {
	var entry DLQEntry
	data, ok := msg.Values["data"].(string)
	if !ok {
		return entry, fmt.Errorf("DLQ entry %s has no data", msg.ID)
	}
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return entry, fmt.Errorf("decoding DLQ entry %s: %w", msg.ID, err)
	}
	entry.MessageID = msg.ID
	return entry, nil
}
