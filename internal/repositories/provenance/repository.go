package provenance

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const table = "match_provenance"

var columns = []string{"id", "notification_id", "repository_id", "entries", "license", "embargo_months", "created_at"}

type row struct {
	ID             string                                  `db:"id"`
	NotificationID string                                  `db:"notification_id"`
	RepositoryID   string                                  `db:"repository_id"`
	Entries        database.JSONB[[]models.ProvenanceEntry] `db:"entries"`
	License        database.JSONB[*models.LicenseRecord]   `db:"license"`
	EmbargoMonths  int                                     `db:"embargo_months"`
	CreatedAt      time.Time                               `db:"created_at"`
}

// Repository handles match provenance persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new provenance repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save inserts the provenance record. Records are immutable, so saving an existing id
// or (notification, repository) pair keeps the stored record.
func (r *Repository) Save(ctx context.Context, p *models.MatchProvenance) error {
	ctx, span := tracing.StartSpan(ctx, "provenance.Repository.Save")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("provenance.save", time.Now())

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	entries := p.Entries
	if entries == nil {
		entries = []models.ProvenanceEntry{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(p.ID, p.NotificationID, p.RepositoryID, database.NewJSONB(entries),
		database.NullableJSONB(p.License), p.EmbargoMonths, p.CreatedAt)

	query, args := ib.Build()
	query = database.OnConflictDoNothing(query)

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": p.NotificationID,
			"repository_id":   p.RepositoryID,
		}).Error("Failed to save match provenance")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save match provenance")
	}
	return nil
}

// ListByNotification returns the provenance of every repository a notification matched
func (r *Repository) ListByNotification(ctx context.Context, notificationID string) ([]models.MatchProvenance, error) {
	ctx, span := tracing.StartSpan(ctx, "provenance.Repository.ListByNotification")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("notification_id", notificationID))
	sb.OrderBy("repository_id").Asc()

	query, args := sb.Build()
	var rows []row
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": notificationID,
		}).Error("Failed to list match provenance")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match provenance")
	}

	out := make([]models.MatchProvenance, 0, len(rows))
	for _, rec := range rows {
		out = append(out, models.MatchProvenance{
			ID:             rec.ID,
			NotificationID: rec.NotificationID,
			RepositoryID:   rec.RepositoryID,
			Entries:        rec.Entries.GetValue(),
			License:        rec.License.GetValue(),
			EmbargoMonths:  rec.EmbargoMonths,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return out, nil
}
