package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type sentLetter struct {
	key    string
	reason string
}

type fakeDLQ struct {
	mu   sync.Mutex
	err  error
	sent []sentLetter
}

func (f *fakeDLQ) Send(_ context.Context, msg *IncomingMessage, reason string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentLetter{key: msg.Key, reason: reason})
	return nil
}

func (f *fakeDLQ) letters() []sentLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentLetter(nil), f.sent...)
}

func message(offset int64, key, value string) kafka.Message {
	return kafka.Message{Topic: "notifications.unrouted", Offset: offset, Key: []byte(key), Value: []byte(value)}
}

func newTestConsumer(reader *fakeReader, handler MessageHandler, dlq DeadLetterer) *Consumer {
	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
	return newConsumer(reader, ConsumerConfig{
		Topic:        "notifications.unrouted",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, logger, handler, dlq)
}

func TestConsumerProcessMessage(t *testing.T) {
	transient := errors.New("database unavailable")

	tests := []struct {
		name        string
		value       string
		failures    int
		err         error
		dlqErr      error
		wantCalls   int
		wantCommit  bool
		wantStop    bool
		wantLetters []sentLetter
	}{
		{
			name:       "handled first time",
			value:      `{"id":"n1"}`,
			wantCalls:  1,
			wantCommit: true,
		},
		{
			name:       "transient failure then success",
			value:      `{"id":"n1"}`,
			failures:   2,
			err:        transient,
			wantCalls:  3,
			wantCommit: true,
		},
		{
			name:        "retries exhausted",
			value:       `{"id":"n1"}`,
			failures:    10,
			err:         transient,
			wantCalls:   3,
			wantCommit:  true,
			wantLetters: []sentLetter{{key: "n1", reason: ReasonRetriesExhausted}},
		},
		{
			name:        "permanent failure",
			value:       `{"id":"n1"}`,
			failures:    10,
			err:         Permanent(errors.New("unknown provider")),
			wantCalls:   1,
			wantCommit:  true,
			wantLetters: []sentLetter{{key: "n1", reason: ReasonPermanentError}},
		},
		{
			name:        "unparseable message",
			value:       `{`,
			wantCalls:   0,
			wantCommit:  true,
			wantLetters: []sentLetter{{key: "n1", reason: ReasonParseError}},
		},
		{
			name:     "dead letter failure leaves message uncommitted",
			value:    `{`,
			dlqErr:   errors.New("redis down"),
			wantStop: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{}
			dlq := &fakeDLQ{err: tt.dlqErr}
			calls := 0
			handler := func(_ context.Context, msg *IncomingMessage) error {
				calls++
				require.NotNil(t, msg.Notification)
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}
			c := newTestConsumer(reader, handler, dlq)

			keepGoing := c.processMessage(context.Background(), message(7, "n1", tt.value))

			assert.Equal(t, !tt.wantStop, keepGoing)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCommit {
				assert.Equal(t, []int64{7}, reader.commits())
			} else {
				assert.Empty(t, reader.commits())
			}
			assert.Equal(t, tt.wantLetters, dlq.letters())
		})
	}
}

func TestConsumerStopsRetryingOnShutdown(t *testing.T) {
	reader := &fakeReader{}
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(context.Context, *IncomingMessage) error {
		cancel()
		return errors.New("database unavailable")
	}
	c := newConsumer(reader, ConsumerConfig{MaxRetries: 5, RetryBackoff: time.Hour},
		zapadapter.NewZapEctoLogger(zap.NewNop(), nil), handler, &fakeDLQ{})

	assert.False(t, c.processMessage(ctx, message(3, "n1", `{"id":"n1"}`)))
	assert.Empty(t, reader.commits())
}

func TestConsumerLoop(t *testing.T) {
	reader := &fakeReader{
		fetchErrs: []error{errors.New("broker not available")},
		messages: []kafka.Message{
			message(1, "n1", `{"id":"n1"}`),
			message(2, "n2", `{"id":"n2"}`),
		},
	}
	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, msg *IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Notification.ID)
		return nil
	}
	c := newTestConsumer(reader, handler, &fakeDLQ{})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Health())

	require.NoError(t, c.Stop())
	assert.False(t, c.Health())
	assert.True(t, reader.closed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n1", "n2"}, seen)
	assert.Equal(t, []int64{1, 2}, reader.commits())
}

func TestConsumerLoopHaltsWhenDeadLetterQueueIsDown(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		message(1, "n1", `{`),
		message(2, "n2", `{"id":"n2"}`),
	}}
	calls := 0
	handler := func(context.Context, *IncomingMessage) error {
		calls++
		return nil
	}
	c := newTestConsumer(reader, handler, &fakeDLQ{err: errors.New("redis down")})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return !c.Health() }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Empty(t, reader.commits())
	assert.Zero(t, calls)
}

func TestConsumerBackoff(t *testing.T) {
	c := newConsumer(&fakeReader{}, ConsumerConfig{RetryBackoff: 10 * time.Second},
		zapadapter.NewZapEctoLogger(zap.NewNop(), nil), nil, nil)

	assert.Equal(t, 10*time.Second, c.backoff(1))
	assert.Equal(t, 20*time.Second, c.backoff(2))
	assert.Equal(t, maxRetryBackoff, c.backoff(3))
	assert.Equal(t, maxRetryBackoff, c.backoff(10))
	assert.Equal(t, defaultMaxRetries, c.maxRetries)
}
