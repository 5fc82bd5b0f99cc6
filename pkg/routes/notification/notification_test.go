package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routes/routestest"
	"github.com/JiscPER/jper-sub000/pkg/routing"
)

type fakeNotifications struct {
	records map[string]*models.Notification
}

func (f *fakeNotifications) key(id string, status models.NotificationStatus) string {
	return id + "/" + string(status)
}

func (f *fakeNotifications) Get(_ context.Context, id string, status models.NotificationStatus) (*models.Notification, error) {
	n, ok := f.records[f.key(id, status)]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s notification %s not found", status, id))
	}
	return n, nil
}

func (f *fakeNotifications) GetLatest(ctx context.Context, id string) (*models.Notification, error) {
	for _, status := range []models.NotificationStatus{
		models.NotificationStatusRouted,
		models.NotificationStatusFailed,
		models.NotificationStatusUnrouted,
	} {
		if n, ok := f.records[f.key(id, status)]; ok {
			return n, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("notification %s not found", id))
}

type fakeProvenance map[string][]models.MatchProvenance

func (f fakeProvenance) ListByNotification(_ context.Context, id string) ([]models.MatchProvenance, error) {
	return f[id], nil
}

type fakePackages map[string][]models.ContentPackage

func (f fakePackages) ListByNotification(_ context.Context, id string) ([]models.ContentPackage, error) {
	return f[id], nil
}

type fakeDispatcher struct {
	outcome *routing.Outcome
	err     error
	seen    []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n *models.Notification) (*routing.Outcome, error) {
	f.seen = append(f.seen, n.ID)
	return f.outcome, f.err
}

type deps struct {
	notifications NotificationReader
	provenance    ProvenanceReader
	packages      PackageReader
	dispatcher    Dispatcher
	storeURL      string
}

func newDeps() deps {
	return deps{
		notifications: seeded(),
		provenance:    fakeProvenance{},
		packages:      fakePackages{},
		dispatcher:    &fakeDispatcher{},
		storeURL:      "http://store",
	}
}

func newTestServer(t *testing.T, d deps) *echo.Echo {
	t.Helper()
	container := routestest.NewContainer(t)
	routestest.Register(t, container, d.notifications)
	routestest.Register(t, container, d.provenance)
	routestest.Register(t, container, d.packages)
	routestest.Register(t, container, d.dispatcher)
	routestest.Register(t, container, d.storeURL, PackageStoreURLName)

	return routestest.NewServer(container, func(e *echo.Echo) {
		Register(e.Group("/api/v1/notifications"))
	})
}

var do = routestest.Do

func seeded() *fakeNotifications {
	return &fakeNotifications{records: map[string]*models.Notification{
		"n1/unrouted": {ID: "n1", Status: models.NotificationStatusUnrouted, ProviderID: "p1"},
		"n1/routed":   {ID: "n1", Status: models.NotificationStatusRouted, ProviderID: "p1"},
		"n2/unrouted": {ID: "n2", Status: models.NotificationStatusUnrouted, ProviderID: "p1"},
	}}
}

func TestGetReturnsMostAdvancedRecord(t *testing.T) {
	e := newTestServer(t, newDeps())

	rec := do(e, http.MethodGet, "/api/v1/notifications/n1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.NotificationStatusRouted, got.Status)

	rec = do(e, http.MethodGet, "/api/v1/notifications/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProvenance(t *testing.T) {
	prov := fakeProvenance{"n1": {{ID: "pv1", NotificationID: "n1", RepositoryID: "r1"}}}
	d := newDeps()
	d.provenance = prov
	e := newTestServer(t, d)

	rec := do(e, http.MethodGet, "/api/v1/notifications/n1/provenance")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ProvenanceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.TotalCount)
	assert.Equal(t, "r1", got.Items[0].RepositoryID)

	rec = do(e, http.MethodGet, "/api/v1/notifications/n2/provenance")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 0, got.TotalCount)
	assert.NotNil(t, got.Items)
}

func TestListPackages(t *testing.T) {
	pkgs := fakePackages{"n1": {{NotificationID: "n1", Format: "https://pubrouter.jisc.ac.uk/PDFUnpacked", Status: models.ContentPackageRequested}}}
	d := newDeps()
	d.packages = pkgs
	e := newTestServer(t, d)

	rec := do(e, http.MethodGet, "/api/v1/notifications/n1/packages")
	require.Equal(t, http.StatusOK, rec.Code)

	var got PackageListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.TotalCount)
}

func TestContent(t *testing.T) {
	pdf := "https://pubrouter.jisc.ac.uk/PDFUnpacked"
	zip := "http://purl.org/net/sword/package/SimpleZip"
	pkgs := fakePackages{"n1": {
		{NotificationID: "n1", Format: pdf, Status: models.ContentPackageAvailable},
		{NotificationID: "n1", Format: zip, Status: models.ContentPackageRequested},
		{NotificationID: "n1", Format: "failed-format", Status: models.ContentPackageFailed},
	}}
	d := newDeps()
	d.packages = pkgs
	d.storeURL = "http://store/"
	e := newTestServer(t, d)

	rec := do(e, http.MethodGet, "/api/v1/notifications/n1/content/"+url.PathEscape(pdf))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://store/packages/n1/content?format="+url.QueryEscape(pdf), rec.Header().Get(echo.HeaderLocation))

	rec = do(e, http.MethodGet, "/api/v1/notifications/n1/content/"+url.PathEscape(zip))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/notifications/n1/content/failed-format")
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/notifications/n1/content/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoute(t *testing.T) {
	routed := &routing.Outcome{
		Notification: &models.Notification{ID: "n2", Status: models.NotificationStatusRouted},
		Candidates:   2,
		Stage:        routing.StageDisposition,
	}

	tests := []struct {
		name       string
		id         string
		dispatcher *fakeDispatcher
		wantCode   int
		wantCalls  int
	}{
		{
			name:       "routes unrouted record",
			id:         "n2",
			dispatcher: &fakeDispatcher{outcome: routed},
			wantCode:   http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "missing unrouted record",
			id:         "n3",
			dispatcher: &fakeDispatcher{},
			wantCode:   http.StatusNotFound,
		},
		{
			name:       "lock held elsewhere",
			id:         "n2",
			dispatcher: &fakeDispatcher{err: redis.ErrLockNotAcquired},
			wantCode:   http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "already terminal",
			id:         "n2",
			dispatcher: &fakeDispatcher{err: routing.ErrTerminal},
			wantCode:   http.StatusConflict,
			wantCalls:  1,
		},
		{
			name:       "persistence failure",
			id:         "n2",
			dispatcher: &fakeDispatcher{err: errors.New("connection reset")},
			wantCode:   http.StatusInternalServerError,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps()
			d.dispatcher = tt.dispatcher
			e := newTestServer(t, d)

			rec := do(e, http.MethodPost, "/api/v1/notifications/"+tt.id+"/route")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Len(t, tt.dispatcher.seen, tt.wantCalls)
		})
	}
}

func TestRouteReportsFailureCause(t *testing.T) {
	failed := &routing.Outcome{
		Notification: &models.Notification{ID: "n2", Status: models.NotificationStatusFailed},
		Stage:        routing.StageDisposition,
		Err:          routing.ErrNoQualifiedSubscribers,
	}
	d := newDeps()
	d.dispatcher = &fakeDispatcher{outcome: failed}
	e := newTestServer(t, d)

	rec := do(e, http.MethodPost, "/api/v1/notifications/n2/route")
	require.Equal(t, http.StatusOK, rec.Code)

	var got RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.NotificationStatusFailed, got.Notification.Status)
	assert.Equal(t, routing.ErrNoQualifiedSubscribers.Error(), got.Error)
}

func TestRouteWithoutDispatcher(t *testing.T) {
	container := routestest.NewContainer(t)
	routestest.Register[NotificationReader](t, container, seeded())
	e := routestest.NewServer(container, func(e *echo.Echo) {
		Register(e.Group("/api/v1/notifications"))
	})

	rec := do(e, http.MethodPost, "/api/v1/notifications/n2/route")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
