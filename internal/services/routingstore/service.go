package routingstore

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

type NotificationRepository interface {
	Save(ctx context.Context, n *models.Notification) error
	Delete(ctx context.Context, id string, status models.NotificationStatus) error
}

type ProvenanceRepository interface {
	Save(ctx context.Context, p *models.MatchProvenance) error
}

// Service is the orchestrator's view of the notification and provenance tables
type Service struct {
	logger        ectologger.Logger
	notifications NotificationRepository
	provenance    ProvenanceRepository
}

func NewService(logger ectologger.Logger, notifications NotificationRepository, provenance ProvenanceRepository) *Service {
	return &Service{
		logger:        logger,
		notifications: notifications,
		provenance:    provenance,
	}
}

func (s *Service) SaveNotification(ctx context.Context, n *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "routingstore.SaveNotification")
	defer span.End()

	if n.ID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "notification id is required")
	}
	switch n.Status {
	case models.NotificationStatusRouted:
		if n.Routed == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "routed notification has no routing payload")
		}
	case models.NotificationStatusFailed:
		if n.Failed == nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "failed notification has no failure payload")
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": n.ID,
		"status":          n.Status,
		"attempts":        n.RoutingAttempts,
	}).Debug("saving notification")
	return s.notifications.Save(ctx, n)
}

func (s *Service) SaveProvenance(ctx context.Context, p *models.MatchProvenance) error {
	ctx, span := tracing.StartSpan(ctx, "routingstore.SaveProvenance")
	defer span.End()

	if p.ID == "" || p.NotificationID == "" || p.RepositoryID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "provenance requires id, notification_id and repository_id")
	}
	return s.provenance.Save(ctx, p)
}

func (s *Service) DeleteNotification(ctx context.Context, id string, status models.NotificationStatus) error {
	ctx, span := tracing.StartSpan(ctx, "routingstore.DeleteNotification")
	defer span.End()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": id,
		"status":          status,
	}).Debug("deleting notification")
	return s.notifications.Delete(ctx, id, status)
}
