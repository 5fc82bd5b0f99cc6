package scheduler

import (
	"context"
	"time"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/routing"
)

// Router drives one notification to its disposition
type Router interface {
	Route(ctx context.Context, n *models.Notification) (*routing.Outcome, error)
}

// Locker serializes work per key across router instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Dispatcher routes a notification while holding its lock, so the Kafka consumer,
// the scheduler and manual triggers never route the same notification at once
type Dispatcher struct {
	router  Router
	locker  Locker
	lockTTL time.Duration
}

// NewDispatcher creates a dispatcher. A nil locker routes without locking.
func NewDispatcher(router Router, locker Locker, lockTTL time.Duration) *Dispatcher {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Dispatcher{
		router:  router,
		locker:  locker,
		lockTTL: lockTTL,
	}
}

// Dispatch routes n under its lock. The lock error is returned unchanged when
// another owner holds it.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) (*routing.Outcome, error) {
	if d.locker == nil {
		return d.router.Route(ctx, n)
	}

	var outcome *routing.Outcome
	err := d.locker.WithLock(ctx, "notification:"+n.ID, d.lockTTL, func(ctx context.Context) error {
		var err error
		outcome, err = d.router.Route(ctx, n)
		return err
	})
	return outcome, err
}
