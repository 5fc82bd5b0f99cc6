package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type staticGreeter string

func (g staticGreeter) Greet() string { return string(g) }

func newGreeterContainer(t *testing.T, id, greeting string) {
	t.Helper()
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:           id,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	})
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[greeter](container, staticGreeter(greeting)))
}

func TestContainerSelectsActiveContainer(t *testing.T) {
	newGreeterContainer(t, t.Name()+"-a", "from a")
	newGreeterContainer(t, t.Name()+"-b", "from b")

	for _, id := range []string{t.Name() + "-a", t.Name() + "-b"} {
		e, _ := newTestEcho(t)
		e.Use(Container(id))

		var greeting string
		e.GET("/greet", func(c echo.Context) error {
			_, g, err := ectoinject.GetContext[greeter](c.Request().Context())
			if err != nil {
				return err
			}
			greeting = g.Greet()
			return c.NoContent(http.StatusNoContent)
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "from "+id[len(id)-1:], greeting)
	}
}

func TestContainerUnknownID(t *testing.T) {
	e, _ := newTestEcho(t)
	e.Use(Container("no-such-container"))
	e.GET("/greet", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/greet", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
