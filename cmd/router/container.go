package main

import (
	"context"
	"errors"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/routes/dlq"
	graphroutes "github.com/JiscPER/jper-sub000/pkg/routes/graph"
	"github.com/JiscPER/jper-sub000/pkg/routes/match"
	notificationroutes "github.com/JiscPER/jper-sub000/pkg/routes/notification"
)

// registerContainer exposes the routing pipeline to the HTTP handlers, which resolve
// it from the request context. Startup may retry the router, so an existing container
// is reused and its instances replaced.
func (a *app) registerContainer() error {
	container := ectoinject.GetContainer(a.cfg.AppName)
	if container == nil {
		var err error
		container, err = ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
			ID:                       a.cfg.AppName,
			AllowCaptiveDependencies: true,
			AllowMissingDependencies: true,
			LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
				Prefix:   "ectoinject",
				LogLevel: loglevel.WARN,
				Enabled:  true,
				LogFunc:  a.logContainer,
			},
		})
		if err != nil {
			return err
		}
	}

	errs := []error{
		ectoinject.RegisterInstance[ectologger.Logger](container, a.logger),
		ectoinject.RegisterInstance[notificationroutes.NotificationReader](container, a.notifications),
		ectoinject.RegisterInstance[notificationroutes.ProvenanceReader](container, a.provenance),
		ectoinject.RegisterInstance[notificationroutes.PackageReader](container, a.packages),
		ectoinject.RegisterInstance[notificationroutes.Dispatcher](container, a.dispatcher),
		ectoinject.RegisterInstance[string](container, a.cfg.PackageStoreURL, notificationroutes.PackageStoreURLName),
		ectoinject.RegisterInstance[match.Previewer](container, a.orchestrator),
		ectoinject.RegisterInstance[dlq.Store](container, a.dlq),
		ectoinject.RegisterInstance[dlq.Replayer](container, a.ingest),
	}
	if a.routingGraph != nil {
		errs = append(errs, ectoinject.RegisterInstance[graphroutes.RouteReader](container, a.routingGraph))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	a.containerID = container.GetContainerID()
	return nil
}

func (a *app) logContainer(ctx context.Context, level, msg string) {
	log := a.logger.WithContext(ctx).WithField("component", "ectoinject")
	if level == loglevel.WARN {
		log.Warn(msg)
		return
	}
	log.Debug(msg)
}
