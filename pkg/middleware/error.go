package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/JiscPER/jper-sub000/pkg/context"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// classify maps a handler error to a status, a client-safe message and metadata.
// Errors that are neither httperror nor echo errors never leak their text.
func classify(err error) (int, string, map[string]any) {
	if httperror.IsHTTPError(err) {
		he := httperror.ToHTTPError(err)
		return httperror.GetStatusCode(err), he.Error(), he.Meta
	}
	var ee *echo.HTTPError
	if errors.As(err, &ee) {
		msg, ok := ee.Message.(string)
		if !ok {
			msg = http.StatusText(ee.Code)
		}
		return ee.Code, msg, nil
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), nil
}

// Error renders handler errors as ErrorResponse and logs them at a level matching the status
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		code, message, meta := classify(err)
		if meta == nil {
			meta = map[string]any{}
		}

		log := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"status": code})
		if code >= http.StatusInternalServerError {
			log.Error("Request failed with server error")
		} else {
			log.Warn("Request failed with client error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
