// Package routestest serves route handlers against fakes registered in a throwaway
// dependency container.
package routestest

import (
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/pkg/middleware"
)

var containerSeq atomic.Int64

// Logger returns a logger that discards everything
func Logger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// NewContainer registers a container private to the test, holding a discarding
// logger. Container ids are global to the process so each call gets a fresh one.
func NewContainer(t *testing.T) ectocontainer.DIContainer {
	t.Helper()

	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       fmt.Sprintf("%s#%d", t.Name(), containerSeq.Add(1)),
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig:             &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	})
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[ectologger.Logger](container, Logger()))
	return container
}

// Register adds instance to the container as a T, failing the test on error
func Register[T any](t *testing.T, container ectocontainer.DIContainer, instance T, names ...string) {
	t.Helper()
	require.NoError(t, ectoinject.RegisterInstance[T](container, instance, names...))
}

// NewServer returns an echo server whose requests resolve dependencies from container.
// register mounts the routes under test.
func NewServer(container ectocontainer.DIContainer, register func(e *echo.Echo)) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(Logger())
	e.Use(middleware.Context())
	e.Use(middleware.Container(container.GetContainerID()))
	register(e)
	return e
}

// Do serves one request and returns the recorded response
func Do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}
