package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JiscPER/jper-sub000/pkg/context"
)

const (
	// HeaderProviderID is the header key for the publisher account id
	HeaderProviderID = "X-Provider-ID"
	// HeaderOperatorID is the header key for the operator id
	HeaderOperatorID = "X-Operator-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetProviderID(ctx, req.Header.Get(HeaderProviderID))
			ctx = context.SetOperator(ctx, req.Header.Get(HeaderOperatorID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
