package graph

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// RouteReader reads the routing projection
type RouteReader interface {
	RoutedRepositories(ctx context.Context, notificationID string) ([]string, error)
	RoutedNotifications(ctx context.Context, repositoryID string, limit int) ([]string, error)
}

// IDListResponse lists node ids
type IDListResponse struct {
	Items      []string `json:"items"`
	TotalCount int      `json:"total_count"`
}

// Register registers graph routes
func Register(g *echo.Group) {
	g.GET("/notifications/:id/repositories", RoutedRepositories)
	g.GET("/repositories/:id/notifications", RoutedNotifications)
}

// requireReader resolves the routing projection. The graph database is optional and
// only registered when enabled, so a missing reader answers 503.
func requireReader(ctx context.Context) (context.Context, RouteReader, error) {
	ctx, reader, err := ectoinject.GetContext[RouteReader](ctx)
	if err != nil || reader == nil {
		return ctx, nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "routing graph unavailable")
	}
	return ctx, reader, nil
}

// RoutedRepositories lists the repositories a notification was routed to
// GET /api/v1/graph/notifications/:id/repositories
func RoutedRepositories(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "graph_handler.RoutedRepositories")
	defer span.End()

	ctx, reader, err := requireReader(ctx)
	if err != nil {
		return err
	}

	id := c.Param("id")
	ids, err := reader.RoutedRepositories(ctx, id)
	if err != nil {
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"notification_id": id}).Error("Failed to read routing graph")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to read routing graph")
	}
	return c.JSON(http.StatusOK, newIDList(ids))
}

// RoutedNotifications lists the notifications most recently routed to a repository
// GET /api/v1/graph/repositories/:id/notifications?limit=
func RoutedNotifications(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "graph_handler.RoutedNotifications")
	defer span.End()

	ctx, reader, err := requireReader(ctx)
	if err != nil {
		return err
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	id := c.Param("id")
	ids, err := reader.RoutedNotifications(ctx, id, limit)
	if err != nil {
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"repository_id": id}).Error("Failed to read routing graph")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to read routing graph")
	}
	return c.JSON(http.StatusOK, newIDList(ids))
}

func newIDList(ids []string) IDListResponse {
	if ids == nil {
		ids = []string{}
	}
	return IDListResponse{Items: ids, TotalCount: len(ids)}
}
