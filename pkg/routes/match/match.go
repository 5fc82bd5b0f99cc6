package match

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	ctxmiddleware "github.com/JiscPER/jper-sub000/pkg/context"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

var validate = validator.New()

// Previewer explains how one subscriber would treat a notification
type Previewer interface {
	Preview(ctx context.Context, providerID string, md models.Metadata, subscriberID string) (*routing.PreviewResult, error)
}

// PreviewRequest is the body of a match preview
type PreviewRequest struct {
	// ProviderID selects the gold-license allow-list. Defaults to the X-Provider-ID header.
	ProviderID   string          `json:"provider_id"`
	SubscriberID string          `json:"subscriber_id" validate:"required"`
	Metadata     models.Metadata `json:"metadata"`
}

// Register registers match routes
func Register(g *echo.Group) {
	g.POST("/preview", Preview)
}

// Preview runs eligibility and matching for one subscriber without persisting anything
// POST /api/v1/match/preview
func Preview(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "match_handler.Preview")
	defer span.End()

	var req PreviewRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ProviderID == "" {
		req.ProviderID = ctxmiddleware.GetProviderID(ctx)
	}

	ctx, previewer, err := ectoinject.GetContext[Previewer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := previewer.Preview(ctx, req.ProviderID, req.Metadata, req.SubscriberID)
	if err != nil {
		if errors.Is(err, routing.ErrSubscriberNotFound) {
			return httperror.NewHTTPError(http.StatusNotFound, "subscriber "+req.SubscriberID+" not found")
		}
		ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscriber_id": req.SubscriberID,
			"provider_id":   req.ProviderID,
		}).Error("Failed to preview match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to preview match")
	}

	return c.JSON(http.StatusOK, result)
}
