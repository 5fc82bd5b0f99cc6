package contentpackage

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const table = "content_packages"

var columns = []string{"notification_id", "format", "source_format", "status", "url", "requested_at", "completed_at"}

// Repository tracks repackaging requests and their results
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new content package repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Request records the given packages as requested. Re-requesting a format resets it.
func (r *Repository) Request(ctx context.Context, packages []models.ContentPackage) error {
	ctx, span := tracing.StartSpan(ctx, "contentpackage.Repository.Request")
	defer span.End()

	if len(packages) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	for _, p := range packages {
		ib.Values(p.NotificationID, p.Format, p.SourceFormat, string(models.ContentPackageRequested), p.URL, now, nil)
	}
	query, args := ib.Build()
	query = database.OnConflictUpdate(query, []string{"notification_id", "format"},
		"source_format", "status", "url", "requested_at", "completed_at")

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": packages[0].NotificationID,
			"count":           len(packages),
		}).Error("Failed to record content package requests")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record content packages")
	}
	return nil
}

// Complete marks a requested package as available or failed
func (r *Repository) Complete(ctx context.Context, notificationID, format string, status models.ContentPackageStatus) error {
	ctx, span := tracing.StartSpan(ctx, "contentpackage.Repository.Complete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", string(status)),
		ub.Assign("completed_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("notification_id", notificationID), ub.Equal("format", format))

	query, args := ub.Build()
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": notificationID,
			"format":          format,
		}).Error("Failed to complete content package")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete content package")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "content package not found")
	}
	return nil
}

// ListByNotification returns every package requested for a notification
func (r *Repository) ListByNotification(ctx context.Context, notificationID string) ([]models.ContentPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "contentpackage.Repository.ListByNotification")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("notification_id", notificationID))
	sb.OrderBy("format").Asc()

	query, args := sb.Build()
	var out []models.ContentPackage
	if err := r.db.Conn(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"notification_id": notificationID}).Error("Failed to list content packages")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list content packages")
	}
	return out, nil
}
