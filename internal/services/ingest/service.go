package ingest

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/kafka"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

type NotificationRepository interface {
	Get(ctx context.Context, id string, status models.NotificationStatus) (*models.Notification, error)
	GetLatest(ctx context.Context, id string) (*models.Notification, error)
}

type NotificationSaver interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) (*routing.Outcome, error)
}

// Service accepts unrouted notifications from the message bus. The unrouted record
// is stored before routing so the scheduler can pick it up again if routing stalls.
type Service struct {
	logger        ectologger.Logger
	notifications NotificationRepository
	store         NotificationSaver
	dispatcher    Dispatcher
}

func NewService(logger ectologger.Logger, notifications NotificationRepository, store NotificationSaver, dispatcher Dispatcher) *Service {
	return &Service{
		logger:        logger,
		notifications: notifications,
		store:         store,
		dispatcher:    dispatcher,
	}
}

// Handle is a kafka.MessageHandler. A returned error leaves the message uncommitted;
// a kafka.PermanentError sends it to the dead letter queue.
func (s *Service) Handle(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.Handle")
	defer span.End()

	n := msg.Notification
	if n == nil {
		return kafka.Permanent(errors.New("message carries no notification"))
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": n.ID,
		"provider_id":     n.ProviderID,
	})

	latest, err := s.notifications.GetLatest(ctx, n.ID)
	switch {
	case err == nil && latest.IsTerminal() && !latest.IsStalled():
		log.WithFields(map[string]any{"status": latest.Status}).Debug("Notification already has a disposition, skipping redelivery")
		return nil
	case err != nil && !isNotFound(err):
		return err
	}

	existing, err := s.notifications.Get(ctx, n.ID, models.NotificationStatusUnrouted)
	switch {
	case err == nil:
		// keep the stored attempt count
		n = existing
	case isNotFound(err):
		if err := s.store.SaveNotification(ctx, n); err != nil {
			return err
		}
	default:
		return err
	}

	outcome, err := s.dispatcher.Dispatch(ctx, n)
	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		log.Debug("Notification is being routed elsewhere")
		return nil
	case errors.Is(err, routing.ErrTerminal):
		return kafka.Permanent(err)
	case err != nil:
		return err
	}

	log.WithFields(map[string]any{
		"status":     outcome.Notification.Status,
		"candidates": outcome.Candidates,
		"matched":    len(outcome.Provenance),
	}).Info("Notification ingested")
	return nil
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
