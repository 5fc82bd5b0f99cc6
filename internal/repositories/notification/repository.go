package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const table = "notifications"

var columns = []string{
	"id", "status", "provider_id", "packaging_format", "metadata", "links",
	"routing_attempts", "routed", "failed", "stalled", "created_at", "updated_at",
}

type row struct {
	ID              string                                `db:"id"`
	Status          string                                `db:"status"`
	ProviderID      string                                `db:"provider_id"`
	PackagingFormat string                                `db:"packaging_format"`
	Metadata        database.JSONB[models.Metadata]       `db:"metadata"`
	Links           database.JSONB[[]models.Link]         `db:"links"`
	RoutingAttempts int                                   `db:"routing_attempts"`
	Routed          database.JSONB[*models.RoutedPayload] `db:"routed"`
	Failed          database.JSONB[*models.FailedPayload] `db:"failed"`
	Stalled         bool                                  `db:"stalled"`
	CreatedAt       time.Time                             `db:"created_at"`
	UpdatedAt       time.Time                             `db:"updated_at"`
}

func (r row) toModel() *models.Notification {
	return &models.Notification{
		ID:              r.ID,
		Status:          models.NotificationStatus(r.Status),
		ProviderID:      r.ProviderID,
		PackagingFormat: r.PackagingFormat,
		Metadata:        r.Metadata.GetValue(),
		Links:           r.Links.GetValue(),
		RoutingAttempts: r.RoutingAttempts,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Routed:          r.Routed.GetValue(),
		Failed:          r.Failed.GetValue(),
	}
}

// Repository handles notification persistence. A notification id may have one record
// per status.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the record for the notification's id and status
func (r *Repository) Save(ctx context.Context, n *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "notification.Repository.Save")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("notification.save", time.Now())

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusUnrouted
	}
	links := n.Links
	if links == nil {
		links = []models.Link{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(
		n.ID, string(n.Status), n.ProviderID, n.PackagingFormat,
		database.NewJSONB(n.Metadata), database.NewJSONB(links),
		n.RoutingAttempts, database.NullableJSONB(n.Routed), database.NullableJSONB(n.Failed),
		n.IsStalled(), n.CreatedAt, n.UpdatedAt,
	)
	query, args := ib.Build()
	query = database.OnConflictUpdate(query, []string{"id", "status"},
		"provider_id", "packaging_format", "metadata", "links", "routing_attempts",
		"routed", "failed", "stalled", "updated_at")

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": n.ID,
			"status":          n.Status,
		}).Error("Failed to save notification")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save notification")
	}
	return nil
}

// Delete removes the record for id and status. Deleting a missing record is not an error.
func (r *Repository) Delete(ctx context.Context, id string, status models.NotificationStatus) error {
	ctx, span := tracing.StartSpan(ctx, "notification.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("id", id), db.Equal("status", string(status)))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": id,
			"status":          status,
		}).Error("Failed to delete notification")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete notification")
	}
	return nil
}

// Get returns the record for id and status
func (r *Repository) Get(ctx context.Context, id string, status models.NotificationStatus) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notification.Repository.Get")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("notification.get", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id), sb.Equal("status", string(status)))

	query, args := sb.Build()
	var rec row
	if err := r.db.Conn(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s notification %s not found", status, id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get notification")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get notification")
	}
	return rec.toModel(), nil
}

// GetLatest returns the most advanced record for id: routed, then failed, then unrouted
func (r *Repository) GetLatest(ctx context.Context, id string) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notification.Repository.GetLatest")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("notification.get_latest", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	sb.OrderBy("CASE status WHEN 'routed' THEN 0 WHEN 'failed' THEN 1 ELSE 2 END")
	sb.Limit(1)

	query, args := sb.Build()
	var rec row
	if err := r.db.Conn(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("notification %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get notification")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get notification")
	}
	return rec.toModel(), nil
}

// ListRoutable returns unrouted records due for routing: never attempted, or stalled
// with attempts left, and untouched since before olderThan
func (r *Repository) ListRoutable(ctx context.Context, maxAttempts int, olderThan time.Time, limit int) ([]*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notification.Repository.ListRoutable")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("notification.list_routable", time.Now())

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table + " u")
	sb.Where(
		sb.Equal("u.status", string(models.NotificationStatusUnrouted)),
		sb.LessThan("u.updated_at", olderThan),
		sb.Or(
			sb.Equal("u.routing_attempts", 0),
			sb.And(
				sb.LessThan("u.routing_attempts", maxAttempts),
				fmt.Sprintf("EXISTS (SELECT 1 FROM %s f WHERE f.id = u.id AND f.status = 'failed' AND f.stalled)", table),
			),
		),
		fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s t WHERE t.id = u.id AND (t.status = 'routed' OR (t.status = 'failed' AND NOT t.stalled)))", table),
	)
	sb.OrderBy("u.updated_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []row
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list routable notifications")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list routable notifications")
	}

	out := make([]*models.Notification, 0, len(rows))
	for _, rec := range rows {
		out = append(out, rec.toModel())
	}
	return out, nil
}
