package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// NotificationReader loads notification records
type NotificationReader interface {
	Get(ctx context.Context, id string, status models.NotificationStatus) (*models.Notification, error)
	GetLatest(ctx context.Context, id string) (*models.Notification, error)
}

// ProvenanceReader lists the provenance recorded for a notification
type ProvenanceReader interface {
	ListByNotification(ctx context.Context, notificationID string) ([]models.MatchProvenance, error)
}

// PackageReader lists the repackaged formats of a notification
type PackageReader interface {
	ListByNotification(ctx context.Context, notificationID string) ([]models.ContentPackage, error)
}

// Dispatcher routes a notification under its lock
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) (*routing.Outcome, error)
}

// PackageStoreURLName names the package store base URL in the dependency container
const PackageStoreURLName = "package-store-url"

// RouteResponse is the result of a manual routing trigger
type RouteResponse struct {
	Notification *models.Notification     `json:"notification"`
	Provenance   []models.MatchProvenance `json:"provenance"`
	Candidates   int                      `json:"candidates"`
	Stage        routing.Stage            `json:"stage"`
	Error        string                   `json:"error,omitempty"`
}

// ProvenanceListResponse lists why each repository matched
type ProvenanceListResponse struct {
	Items      []models.MatchProvenance `json:"items"`
	TotalCount int                      `json:"total_count"`
}

// PackageListResponse lists the repackaged formats of a notification
type PackageListResponse struct {
	Items      []models.ContentPackage `json:"items"`
	TotalCount int                     `json:"total_count"`
}

// Register registers notification routes
func Register(g *echo.Group) {
	g.GET("/:id", Get)
	g.GET("/:id/provenance", ListProvenance)
	g.GET("/:id/packages", ListPackages)
	g.GET("/:id/content/:format", Content)
	g.POST("/:id/route", Route)
}

// Get returns the most advanced record of a notification
// GET /api/v1/notifications/:id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "notification_handler.Get")
	defer span.End()

	id := c.Param("id")
	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing id")
	}

	ctx, notifications, err := ectoinject.GetContext[NotificationReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	n, err := notifications.GetLatest(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

// ListProvenance returns the provenance recorded for a notification
// GET /api/v1/notifications/:id/provenance
func ListProvenance(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "notification_handler.ListProvenance")
	defer span.End()

	id := c.Param("id")
	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing id")
	}

	ctx, provenance, err := ectoinject.GetContext[ProvenanceReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := provenance.ListByNotification(ctx, id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.MatchProvenance{}
	}
	return c.JSON(http.StatusOK, ProvenanceListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// ListPackages returns the repackaged formats requested for a notification
// GET /api/v1/notifications/:id/packages
func ListPackages(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "notification_handler.ListPackages")
	defer span.End()

	id := c.Param("id")
	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing id")
	}

	ctx, packages, err := ectoinject.GetContext[PackageReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := packages.ListByNotification(ctx, id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.ContentPackage{}
	}
	return c.JSON(http.StatusOK, PackageListResponse{
		Items:      items,
		TotalCount: len(items),
	})
}

// Content redirects to a converted package once the packaging workers have produced it
// GET /api/v1/notifications/:id/content/:format
func Content(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "notification_handler.Content")
	defer span.End()

	id := c.Param("id")
	format, err := url.PathUnescape(c.Param("format"))
	if err != nil || id == "" || format == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid content format")
	}

	ctx, packages, err := ectoinject.GetContext[PackageReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, storeURL, err := ectoinject.GetNamedDependency[string](ctx, PackageStoreURLName)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "package store unavailable")
	}
	storeURL = strings.TrimRight(storeURL, "/")

	items, err := packages.ListByNotification(ctx, id)
	if err != nil {
		return err
	}

	for _, p := range items {
		if p.Format != format {
			continue
		}
		switch p.Status {
		case models.ContentPackageAvailable:
			target := fmt.Sprintf("%s/packages/%s/content?format=%s", storeURL, url.PathEscape(id), url.QueryEscape(format))
			return c.Redirect(http.StatusFound, target)
		case models.ContentPackageFailed:
			return httperror.NewHTTPError(http.StatusGone, "package conversion failed")
		default:
			return c.JSON(http.StatusAccepted, p)
		}
	}
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no %s package for notification %s", format, id))
}

// Route routes an unrouted notification now instead of waiting for the scheduler
// POST /api/v1/notifications/:id/route
func Route(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "notification_handler.Route")
	defer span.End()

	id := c.Param("id")
	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing id")
	}
	ctx, notifications, err := ectoinject.GetContext[NotificationReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, dispatcher, err := ectoinject.GetContext[Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	log := logger.WithContext(ctx).WithFields(map[string]any{"notification_id": id})

	n, err := notifications.Get(ctx, id, models.NotificationStatusUnrouted)
	if err != nil {
		return err
	}

	outcome, err := dispatcher.Dispatch(ctx, n)
	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		return httperror.NewHTTPError(http.StatusConflict, "notification is already being routed")
	case errors.Is(err, routing.ErrTerminal):
		return httperror.NewHTTPError(http.StatusConflict, "notification has already been routed or failed")
	case err != nil:
		log.WithError(err).Error("Manual routing failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to route notification")
	}

	resp := RouteResponse{
		Notification: outcome.Notification,
		Provenance:   outcome.Provenance,
		Candidates:   outcome.Candidates,
		Stage:        outcome.Stage,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	log.WithFields(map[string]any{"routed": outcome.IsRouted()}).Info("Notification routed manually")
	return c.JSON(http.StatusOK, resp)
}
