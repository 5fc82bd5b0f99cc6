package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// Dead letter reasons
const (
	ReasonParseError       = "parse_error"
	ReasonPermanentError   = "permanent_error"
	ReasonRetriesExhausted = "retries_exhausted"
)

// MessageHandler processes incoming Kafka messages
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// Handle calls h(ctx, msg)
func (h MessageHandler) Handle(ctx context.Context, msg *IncomingMessage) error {
	return h(ctx, msg)
}

// DeadLetterer receives messages that can never be processed
type DeadLetterer interface {
	Send(ctx context.Context, msg *IncomingMessage, reason string, cause error) error
}

// PermanentError marks a handler failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// MaxRetries bounds in-place retries of a failing message before it is dead-lettered
	MaxRetries   int
	RetryBackoff time.Duration
}

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
	// unhealthyAfter consecutive fetch failures marks the consumer unhealthy
	unhealthyAfter = 5
)

// Consumer reads unrouted notifications one at a time. A message is committed only
// once it is handled or dead-lettered, and a failing message is retried in place so
// later offsets are never committed past it.
type Consumer struct {
	reader  messageReader
	topic   string
	logger  ectologger.Logger
	handler MessageHandler
	dlq     DeadLetterer

	maxRetries   int
	retryBackoff time.Duration

	running       atomic.Bool
	fetchFailures atomic.Int32
	wg            sync.WaitGroup
	cancel        context.CancelFunc
}

// NewConsumer creates a new Kafka consumer. dlq may be nil, in which case poison
// messages are logged and committed.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, dlq DeadLetterer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, cfg, logger, handler, dlq)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, dlq DeadLetterer) *Consumer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Consumer{
		reader:       reader,
		topic:        cfg.Topic,
		logger:       logger,
		handler:      handler,
		dlq:          dlq,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.running.Store(true)
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{"topic": c.topic}).Info("Kafka consumer started")
	return nil
}

// Stop waits for the in-flight message and closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// Health reports whether the loop is running and the brokers are answering
func (c *Consumer) Health() bool {
	return c.running.Load() && c.fetchFailures.Load() < unhealthyAfter
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.running.Store(false)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			failures := c.fetchFailures.Add(1)
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"failures": failures}).Error("Failed to fetch message")
			if !sleep(ctx, c.backoff(int(failures))) {
				return
			}
			continue
		}
		c.fetchFailures.Store(0)
		if !c.processMessage(ctx, msg) {
			return
		}
	}
}

// processMessage reports false when the loop must stop without moving past msg
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if tp := headers[HeaderTraceParent]; tp != "" {
		ctx = tracing.ContextWithTraceParent(ctx, tp, headers[HeaderTraceState])
	}

	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
	})

	incoming := &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}

	if err := incoming.ParseNotification(); err != nil {
		log.WithError(err).Error("Failed to parse message")
		return c.deadLetter(ctx, log, msg, incoming, ReasonParseError, err)
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = c.handler(ctx, incoming)
		if err == nil {
			break
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			log.WithError(err).Error("Message can never be processed")
			return c.deadLetter(ctx, log, msg, incoming, ReasonPermanentError, err)
		}
		metrics.RecordKafkaConsume(msg.Topic, "error")
		if attempt > c.maxRetries {
			log.WithError(err).WithFields(map[string]any{"attempts": attempt}).Error("Giving up on message")
			return c.deadLetter(ctx, log, msg, incoming, ReasonRetriesExhausted, err)
		}

		log.WithError(err).WithFields(map[string]any{"attempt": attempt}).Warn("Failed to process message, retrying")
		if !sleep(ctx, c.backoff(attempt)) {
			// shutting down: leave the message uncommitted for redelivery
			return false
		}
	}

	metrics.RecordKafkaConsume(msg.Topic, "success")
	c.commit(ctx, log, msg)
	return true
}

// deadLetter hands the message to the DLQ and commits it so the partition moves on.
// When the DLQ stays unavailable the message is left uncommitted and the loop stops,
// since committing any later offset would skip it.
func (c *Consumer) deadLetter(ctx context.Context, log ectologger.Logger, msg kafka.Message, incoming *IncomingMessage, reason string, cause error) bool {
	metrics.RecordKafkaConsume(msg.Topic, reason)
	if c.dlq != nil {
		for attempt := 1; ; attempt++ {
			err := c.dlq.Send(ctx, incoming, reason, cause)
			if err == nil {
				break
			}
			if attempt > c.maxRetries {
				log.WithError(err).Error("Failed to dead-letter message, stopping consumer")
				return false
			}
			log.WithError(err).WithFields(map[string]any{"attempt": attempt}).Warn("Failed to dead-letter message, retrying")
			if !sleep(ctx, c.backoff(attempt)) {
				return false
			}
		}
	}
	c.commit(ctx, log, msg)
	return true
}

func (c *Consumer) commit(ctx context.Context, log ectologger.Logger, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}

// backoff doubles per attempt up to maxRetryBackoff
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.retryBackoff
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
