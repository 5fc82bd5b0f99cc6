package dlq

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/JiscPER/jper-sub000/pkg/kafka"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// Store is the dead letter queue
type Store interface {
	List(ctx context.Context, count int64) ([]redis.DLQEntry, error)
	Get(ctx context.Context, messageID string) (*redis.DLQEntry, error)
	Delete(ctx context.Context, messageID string) error
	Count(ctx context.Context) (int64, error)
}

// Replayer handles a replayed entry the way the consumer handles a message
type Replayer interface {
	Handle(ctx context.Context, msg *kafka.IncomingMessage) error
}

const defaultListCount = 100

// ListResponse lists DLQ entries; Total counts the whole stream
type ListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
	Total   int64            `json:"total"`
}

// RetryResponse reports a replayed entry
type RetryResponse struct {
	Status         string `json:"status"`
	NotificationID string `json:"notification_id"`
}

// Register registers DLQ routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.GET("/:id", Get)
	g.POST("/:id/retry", Retry)
	g.DELETE("/:id", Delete)
}

// List returns the newest dead letter queue entries, optionally only those with one reason
// GET /api/v1/dlq?count=&reason=
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.List")
	defer span.End()

	count := int64(defaultListCount)
	if raw := c.QueryParam("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "count must be a positive integer")
		}
		count = n
	}

	ctx, dlq, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)

	entries, err := dlq.List(ctx, count)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list DLQ entries")
	}
	if reason := c.QueryParam("reason"); reason != "" {
		entries = ectolinq.Filter(entries, func(e redis.DLQEntry) bool { return e.Reason == reason })
	}
	if entries == nil {
		entries = []redis.DLQEntry{}
	}

	total, err := dlq.Count(ctx)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Failed to count DLQ entries")
	}

	return c.JSON(http.StatusOK, ListResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   total,
	})
}

// Get returns one DLQ entry
// GET /api/v1/dlq/:id
func Get(c echo.Context) error {
	entry, err := load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

// Retry replays an entry through the consumer's handler and removes it once handled.
// An entry the handler still rejects as permanent stays queued and yields 422.
// POST /api/v1/dlq/:id/retry
func Retry(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.Retry")
	defer span.End()

	entry, err := load(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	log := logger.WithContext(ctx).WithFields(map[string]any{
		"message_id": entry.MessageID,
		"reason":     entry.Reason,
	})

	msg := &kafka.IncomingMessage{
		Key:       entry.Key,
		Value:     []byte(entry.Value),
		Headers:   entry.Headers,
		Partition: entry.Partition,
		Offset:    entry.Offset,
		Timestamp: entry.CreatedAt,
		Topic:     entry.Topic,
	}
	if err := msg.ParseNotification(); err != nil {
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, "entry cannot be replayed: "+err.Error())
	}
	log = log.WithFields(map[string]any{"notification_id": msg.Notification.ID})

	ctx, replayer, err := ectoinject.GetContext[Replayer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, dlq, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := replayer.Handle(ctx, msg); err != nil {
		var permanent *kafka.PermanentError
		if errors.As(err, &permanent) {
			log.WithError(err).Warn("Replayed DLQ entry rejected again")
			return httperror.NewHTTPError(http.StatusUnprocessableEntity, "entry rejected: "+permanent.Err.Error())
		}
		log.WithError(err).Error("Failed to replay DLQ entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replay DLQ entry")
	}

	if err := dlq.Delete(ctx, entry.MessageID); err != nil {
		log.WithError(err).Warn("Replayed DLQ entry could not be removed")
	}
	log.Info("DLQ entry replayed")

	return c.JSON(http.StatusOK, RetryResponse{
		Status:         "retried",
		NotificationID: msg.Notification.ID,
	})
}

// Delete discards a DLQ entry
// DELETE /api/v1/dlq/:id
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "dlq_handler.Delete")
	defer span.End()

	ctx, dlq, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	messageID := c.Param("id")
	err = dlq.Delete(ctx, messageID)
	switch {
	case errors.Is(err, redis.ErrDLQEntryNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, "DLQ entry "+messageID+" not found")
	case err != nil:
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		logger.WithContext(ctx).WithError(err).Error("Failed to delete DLQ entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete DLQ entry")
	}
	return c.NoContent(http.StatusNoContent)
}

func load(ctx context.Context, messageID string) (*redis.DLQEntry, error) {
	ctx, dlq, err := ectoinject.GetContext[Store](ctx)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entry, err := dlq.Get(ctx, messageID)
	if err != nil {
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		logger.WithContext(ctx).WithError(err).Error("Failed to get DLQ entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get DLQ entry")
	}
	if entry == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "DLQ entry "+messageID+" not found")
	}
	return entry, nil
}
