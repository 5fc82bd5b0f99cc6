package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const (
	licenseTable     = "licenses"
	journalTable     = "license_journals"
	participantTable = "license_participants"
)

type licenseRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Status    string    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

type journalRow struct {
	LicenseID string                               `db:"license_id"`
	Position  int                                  `db:"position"`
	Journal   database.JSONB[models.LicenseJournal] `db:"journal"`
}

type participantRow struct {
	ID           string                              `db:"id"`
	LicenseID    string                              `db:"license_id"`
	Status       string                              `db:"status"`
	Institutions database.JSONB[[]models.Identifier] `db:"institutions"`
}

// Repository is the Postgres-backed license register
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new license repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert replaces a license and its journal list
func (r *Repository) Upsert(ctx context.Context, l *models.License) error {
	ctx, span := tracing.StartSpan(ctx, "license.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{"license_id": l.ID})
	l.UpdatedAt = time.Now().UTC()

	err := database.WithTx(ctx, r.db, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)

		ib := database.NewInsertBuilder()
		ib.InsertInto(licenseTable)
		ib.Cols("id", "name", "type", "status", "updated_at")
		ib.Values(l.ID, l.Name, string(l.Type), string(l.Status), l.UpdatedAt)
		query, args := ib.Build()
		query = database.OnConflictUpdate(query, []string{"id"}, "name", "type", "status", "updated_at")
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upserting license: %w", err)
		}

		db := database.NewDeleteBuilder()
		db.DeleteFrom(journalTable)
		db.Where(db.Equal("license_id", l.ID))
		query, args = db.Build()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clearing license journals: %w", err)
		}

		if len(l.Journals) == 0 {
			return nil
		}
		jb := database.NewInsertBuilder()
		jb.InsertInto(journalTable)
		jb.Cols("license_id", "position", "title", "issns", "journal")
		for i, j := range l.Journals {
			jb.Values(l.ID, i, j.Title, pq.Array(normalizedISSNs(j)), database.NewJSONB(j))
		}
		query, args = jb.Build()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting license journals: %w", err)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to upsert license")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert license")
	}
	return nil
}

// UpsertParticipant creates or replaces a participant record
func (r *Repository) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	ctx, span := tracing.StartSpan(ctx, "license.Repository.UpsertParticipant")
	defer span.End()

	status := p.Status
	if status == "" {
		status = models.LicenseStatusActive
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(participantTable)
	ib.Cols("id", "license_id", "status", "institutions")
	ib.Values(p.ID, p.LicenseID, string(status), database.NewJSONB(p.Institutions))
	query, args := ib.Build()
	query = database.OnConflictUpdate(query, []string{"id"}, "license_id", "status", "institutions")

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": p.ID,
			"license_id":     p.LicenseID,
		}).Error("Failed to upsert participant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert participant")
	}
	return nil
}

// ActiveLicensesForISSN returns every active license with a journal carrying issn
func (r *Repository) ActiveLicensesForISSN(ctx context.Context, issn string) ([]models.License, error) {
	ctx, span := tracing.StartSpan(ctx, "license.Repository.ActiveLicensesForISSN")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("license.by_issn", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select("l.id", "l.name", "l.type", "l.status", "l.updated_at")
	sb.From(licenseTable + " l")
	sb.Where(
		sb.Equal("l.status", string(models.LicenseStatusActive)),
		fmt.Sprintf("EXISTS (SELECT 1 FROM %s j WHERE j.license_id = l.id AND %s = ANY(j.issns))",
			journalTable, sb.Var(normalizers.ISSN(issn))),
	)
	sb.OrderBy("l.id").Asc()

	query, args := sb.Build()
	var rows []licenseRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"issn": issn}).Error("Failed to list licenses for issn")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list licenses")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]any, 0, len(rows))
	for _, rec := range rows {
		ids = append(ids, rec.ID)
	}
	journals, err := r.journalsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.License, 0, len(rows))
	for _, rec := range rows {
		out = append(out, rec.toModel(journals[rec.ID]))
	}
	return out, nil
}

// ActiveParticipantsForLicense returns the active participants of a license
func (r *Repository) ActiveParticipantsForLicense(ctx context.Context, licenseID string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "license.Repository.ActiveParticipantsForLicense")
	defer span.End()
	defer metrics.ObserveDatabaseQuery("license.participants", time.Now())

	sb := database.NewSelectBuilder()
	sb.Select("id", "license_id", "status", "institutions")
	sb.From(participantTable)
	sb.Where(
		sb.Equal("license_id", licenseID),
		sb.Equal("status", string(models.LicenseStatusActive)),
	)
	sb.OrderBy("id").Asc()

	query, args := sb.Build()
	var rows []participantRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"license_id": licenseID}).Error("Failed to list participants")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list participants")
	}

	out := make([]models.Participant, 0, len(rows))
	for _, rec := range rows {
		out = append(out, models.Participant{
			ID:           rec.ID,
			LicenseID:    rec.LicenseID,
			Status:       models.LicenseStatus(rec.Status),
			Institutions: rec.Institutions.GetValue(),
		})
	}
	return out, nil
}

// LicenseByID returns a license with its journals
func (r *Repository) LicenseByID(ctx context.Context, id string) (*models.License, error) {
	ctx, span := tracing.StartSpan(ctx, "license.Repository.LicenseByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "name", "type", "status", "updated_at")
	sb.From(licenseTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rec licenseRow
	if err := r.db.Conn(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("license %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"license_id": id}).Error("Failed to get license")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get license")
	}

	journals, err := r.journalsFor(ctx, []any{id})
	if err != nil {
		return nil, err
	}
	l := rec.toModel(journals[id])
	return &l, nil
}

// journalsFor loads the journals of the given licenses keyed by license id, in register order
func (r *Repository) journalsFor(ctx context.Context, licenseIDs []any) (map[string][]models.LicenseJournal, error) {
	sb := database.NewSelectBuilder()
	sb.Select("license_id", "position", "journal")
	sb.From(journalTable)
	sb.Where(sb.In("license_id", licenseIDs...))
	sb.OrderBy("license_id", "position").Asc()

	query, args := sb.Build()
	var rows []journalRow
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list license journals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list license journals")
	}

	out := make(map[string][]models.LicenseJournal, len(licenseIDs))
	for _, rec := range rows {
		out[rec.LicenseID] = append(out[rec.LicenseID], rec.Journal.GetValue())
	}
	return out, nil
}

func (r licenseRow) toModel(journals []models.LicenseJournal) models.License {
	return models.License{
		ID:        r.ID,
		Name:      r.Name,
		Type:      models.LicenseType(r.Type),
		Status:    models.LicenseStatus(r.Status),
		Journals:  journals,
		UpdatedAt: r.UpdatedAt,
	}
}

func normalizedISSNs(j models.LicenseJournal) []string {
	issns := j.ISSNs()
	out := make([]string, 0, len(issns))
	for _, issn := range issns {
		if n := normalizers.ISSN(issn); n != "" {
			out = append(out, n)
		}
	}
	return out
}
