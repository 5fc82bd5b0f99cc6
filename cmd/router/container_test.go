package main

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JiscPER/jper-sub000/config"
	"github.com/JiscPER/jper-sub000/internal/repositories/contentpackage"
	"github.com/JiscPER/jper-sub000/internal/repositories/notification"
	"github.com/JiscPER/jper-sub000/internal/repositories/provenance"
	"github.com/JiscPER/jper-sub000/internal/services/ingest"
	"github.com/JiscPER/jper-sub000/pkg/graph"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routes/dlq"
	graphroutes "github.com/JiscPER/jper-sub000/pkg/routes/graph"
	"github.com/JiscPER/jper-sub000/pkg/routes/match"
	notificationroutes "github.com/JiscPER/jper-sub000/pkg/routes/notification"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/scheduler"
)

func newWiredApp(t *testing.T) *app {
	t.Helper()
	return &app{
		cfg:           config.Config{AppName: t.Name(), PackageStoreURL: "http://store"},
		logger:        zapadapter.NewZapEctoLogger(zap.NewNop(), nil),
		notifications: &notification.Repository{},
		provenance:    &provenance.Repository{},
		packages:      &contentpackage.Repository{},
		dlq:           &redis.DeadLetterQueue{},
		orchestrator:  &routing.Orchestrator{},
		dispatcher:    &scheduler.Dispatcher{},
		ingest:        &ingest.Service{},
	}
}

func activeContext(t *testing.T, a *app) context.Context {
	t.Helper()
	ctx, err := ectoinject.SetActiveContainer(context.Background(), a.containerID)
	require.NoError(t, err)
	return ctx
}

func TestRegisterContainer(t *testing.T) {
	a := newWiredApp(t)
	require.NoError(t, a.registerContainer())
	assert.Equal(t, t.Name(), a.containerID)
	ctx := activeContext(t, a)

	_, previewer, err := ectoinject.GetContext[match.Previewer](ctx)
	require.NoError(t, err)
	assert.Same(t, a.orchestrator, previewer)

	_, dispatcher, err := ectoinject.GetContext[notificationroutes.Dispatcher](ctx)
	require.NoError(t, err)
	assert.Same(t, a.dispatcher, dispatcher)

	_, replayer, err := ectoinject.GetContext[dlq.Replayer](ctx)
	require.NoError(t, err)
	assert.Same(t, a.ingest, replayer)

	_, storeURL, err := ectoinject.GetNamedDependency[string](ctx, notificationroutes.PackageStoreURLName)
	require.NoError(t, err)
	assert.Equal(t, "http://store", storeURL)

	_, _, err = ectoinject.GetContext[graphroutes.RouteReader](ctx)
	assert.Error(t, err, "the routing graph is only registered when the graph database is enabled")
}

func TestRegisterContainerAgainReplacesInstances(t *testing.T) {
	a := newWiredApp(t)
	require.NoError(t, a.registerContainer())

	a.orchestrator = &routing.Orchestrator{}
	a.routingGraph = &graph.RoutingGraph{}
	require.NoError(t, a.registerContainer())
	ctx := activeContext(t, a)

	_, previewer, err := ectoinject.GetContext[match.Previewer](ctx)
	require.NoError(t, err)
	assert.Same(t, a.orchestrator, previewer)

	_, reader, err := ectoinject.GetContext[graphroutes.RouteReader](ctx)
	require.NoError(t, err)
	assert.Same(t, a.routingGraph, reader)
}
