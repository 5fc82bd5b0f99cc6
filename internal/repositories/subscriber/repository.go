package subscriber

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const table = "subscribers"

type row struct {
	ID        string                                  `db:"id"`
	Name      string                                  `db:"name"`
	Active    bool                                    `db:"active"`
	Role      string                                  `db:"role"`
	Profile   database.JSONB[models.SubscriberProfile] `db:"profile"`
	UpdatedAt time.Time                               `db:"updated_at"`
}

// toModel prefers the indexed columns over the copies inside the profile document
func (r row) toModel() models.SubscriberProfile {
	p := r.Profile.GetValue()
	p.ID = r.ID
	p.Name = r.Name
	p.Active = r.Active
	p.Role = models.RepositoryRole(r.Role)
	p.UpdatedAt = r.UpdatedAt
	return p
}

// Repository handles subscriber profile persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new subscriber repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or replaces a subscriber profile
func (r *Repository) Upsert(ctx context.Context, p *models.SubscriberProfile) error {
	ctx, span := tracing.StartSpan(ctx, "subscriber.Repository.Upsert")
	defer span.End()

	p.UpdatedAt = time.Now().UTC()
	role := p.Role
	if role == "" {
		role = models.RepositoryRoleInstitutional
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("id", "name", "active", "role", "profile", "updated_at")
	ib.Values(p.ID, p.Name, p.Active, string(role), database.NewJSONB(*p), p.UpdatedAt)

	query, args := ib.Build()
	query = database.OnConflictUpdate(query, []string{"id"}, "name", "active", "role", "profile", "updated_at")

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subscriber_id": p.ID}).Error("Failed to upsert subscriber")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert subscriber")
	}
	return nil
}

// ListActiveSubscribers returns every active subscriber ordered by id, optionally
// leaving out subject repositories
func (r *Repository) ListActiveSubscribers(ctx context.Context, excludeSubjectOnly bool) ([]models.SubscriberProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "subscriber.Repository.ListActiveSubscribers")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("subscriber.list_active", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select("id", "name", "active", "role", "profile", "updated_at")
	sb.From(table)
	sb.Where(sb.Equal("active", true))
	if excludeSubjectOnly {
		sb.Where(sb.NotEqual("role", string(models.RepositoryRoleSubject)))
	}
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []row
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active subscribers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active subscribers")
	}

	out := make([]models.SubscriberProfile, 0, len(rows))
	for _, rec := range rows {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// ProfileFor returns a subscriber's profile, or nil when the subscriber does not exist
func (r *Repository) ProfileFor(ctx context.Context, subscriberID string) (*models.SubscriberProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "subscriber.Repository.ProfileFor")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("subscriber.profile", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select("id", "name", "active", "role", "profile", "updated_at")
	sb.From(table)
	sb.Where(sb.Equal("id", subscriberID))

	query, args := sb.Build()
	var rec row
	if err := r.db.Conn(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subscriber_id": subscriberID}).Error("Failed to get subscriber")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get subscriber")
	}

	p := rec.toModel()
	return &p, nil
}
