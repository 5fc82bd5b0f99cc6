package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// messageWriter is the part of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	OutcomeTopic string
	PackageTopic string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	// Compression is one of none, gzip, snappy, lz4 or zstd; empty means snappy
	Compression string
}

var codecs = map[string]compress.Compression{
	"":       compress.Snappy,
	"snappy": compress.Snappy,
	"gzip":   compress.Gzip,
	"lz4":    compress.Lz4,
	"zstd":   compress.Zstd,
	"none":   compress.None,
}

// Producer publishes routing outcomes and repackaging commands. Messages are keyed
// by notification id so all events of one notification share a partition.
type Producer struct {
	writer       messageWriter
	logger       ectologger.Logger
	outcomeTopic string
	packageTopic string
}

// NewProducer creates a producer writing to cfg.Brokers
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) (*Producer, error) {
	codec, ok := codecs[cfg.Compression]
	if !ok {
		return nil, fmt.Errorf("unknown kafka compression %q", cfg.Compression)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            codec,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg, logger), nil
}

func newProducer(writer messageWriter, cfg ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		writer:       writer,
		logger:       logger,
		outcomeTopic: cfg.OutcomeTopic,
		packageTopic: cfg.PackageTopic,
	}
}

// Close flushes pending batches and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// RecordOutcome publishes the disposition of a terminal notification
func (p *Producer) RecordOutcome(ctx context.Context, n *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.RecordOutcome")
	defer span.End()

	event, err := NewNotificationEvent(n)
	if err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.outcomeTopic, event.NotificationID, event.EventType, n.ProviderID, event)
}

// PublishRepackageCommand asks the packaging workers to convert a notification's package
func (p *Producer) PublishRepackageCommand(ctx context.Context, cmd *RepackageCommand) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishRepackageCommand")
	defer span.End()

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.packageTopic, cmd.NotificationID, EventRepackageRequested, "", cmd)
}

func (p *Producer) publish(ctx context.Context, topic, key, eventType, providerID string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: eventHeaders(ctx, eventType, providerID),
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      topic,
		"event_type": eventType,
		"key":        key,
	})

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordKafkaPublish(topic, status, time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).Error("Failed to publish event")
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	log.Debug("Published event")
	return nil
}

func eventHeaders(ctx context.Context, eventType, providerID string) []kafka.Header {
	headers := []kafka.Header{{Key: HeaderEventType, Value: []byte(eventType)}}
	if providerID != "" {
		headers = append(headers, kafka.Header{Key: HeaderProviderID, Value: []byte(providerID)})
	}
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(tp)})
	}
	return headers
}
