package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(zapadapter.NewZapEctoLogger(zap.NewNop(), nil), maxAttempts)
	s.backoffUnit = time.Millisecond
	return s
}

func recorder(log *[]string, name string, needs ...string) *Dependency {
	return &Dependency{
		Name:    name,
		Needs:   needs,
		StartFn: func(context.Context) error { *log = append(*log, "start "+name); return nil },
		StopFn:  func(context.Context) error { *log = append(*log, "stop "+name); return nil },
	}
}

func TestStartStopOrder(t *testing.T) {
	var log []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&log, "http", "scheduler", "database"))
	s.AddDependency(recorder(&log, "scheduler", "redis", "database"))
	s.AddDependency(recorder(&log, "database"))
	s.AddDependency(recorder(&log, "redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start redis", "start database", "start scheduler", "start http"}, log)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))

	log = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop http", "stop scheduler", "stop database", "stop redis"}, log)
	assert.Equal(t, StartupStatusStopped, s.Status("redis"))
}

func TestStartRetries(t *testing.T) {
	calls := 0
	s := newTestStartup(3)
	s.AddDependency(&Dependency{Name: "database", StartFn: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartGivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Dependency{Name: "database", StartFn: func(context.Context) error {
		return errors.New("connection refused")
	}})

	err := s.Start(context.Background())
	assert.ErrorContains(t, err, "startup failed after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("database"))
}

func TestStartRejectsCyclesAndUnknown(t *testing.T) {
	var log []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&log, "a", "b"))
	s.AddDependency(recorder(&log, "b", "a"))
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")

	s = newTestStartup(1)
	s.AddDependency(recorder(&log, "a", "missing"))
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")
}
