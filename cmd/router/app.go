package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/JiscPER/jper-sub000/config"
	"github.com/JiscPER/jper-sub000/internal/repositories/contentpackage"
	"github.com/JiscPER/jper-sub000/internal/repositories/license"
	"github.com/JiscPER/jper-sub000/internal/repositories/notification"
	"github.com/JiscPER/jper-sub000/internal/repositories/provenance"
	"github.com/JiscPER/jper-sub000/internal/repositories/subscriber"
	"github.com/JiscPER/jper-sub000/internal/services/ingest"
	"github.com/JiscPER/jper-sub000/internal/services/repackaging"
	"github.com/JiscPER/jper-sub000/internal/services/routingstore"
	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/eligibility"
	"github.com/JiscPER/jper-sub000/pkg/extractor"
	"github.com/JiscPER/jper-sub000/pkg/graph"
	"github.com/JiscPER/jper-sub000/pkg/health"
	"github.com/JiscPER/jper-sub000/pkg/httpclient"
	"github.com/JiscPER/jper-sub000/pkg/kafka"
	"github.com/JiscPER/jper-sub000/pkg/redis"
	"github.com/JiscPER/jper-sub000/pkg/routing"
	"github.com/JiscPER/jper-sub000/pkg/scheduler"
	"github.com/JiscPER/jper-sub000/pkg/startup"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
	"github.com/JiscPER/jper-sub000/pkg/tracing/exporters"
)

const (
	depDatabase  = "database"
	depRedis     = "redis"
	depGraph     = "graph"
	depProducer  = "kafka-producer"
	depRouter    = "router"
	depConsumer  = "kafka-consumer"
	depScheduler = "scheduler"
	depHTTP      = "http"
)

var errNotStarted = errors.New("not started")

type app struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	health  *health.Checker
	policy  *config.RoutingPolicyHolder
	tracer  *sdktrace.TracerProvider

	db        database.DB
	redis     *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	scheduler *scheduler.Scheduler
	server    *http.Server

	notifications *notification.Repository
	provenance    *provenance.Repository
	packages      *contentpackage.Repository
	dlq           *redis.DeadLetterQueue
	routingGraph  *graph.RoutingGraph
	orchestrator  *routing.Orchestrator
	dispatcher    *scheduler.Dispatcher
	ingest        *ingest.Service
	containerID   string
}

func newApp(ctx context.Context, cfg config.Config, logger ectologger.Logger) (*app, error) {
	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Exporter:    cfg.TraceExporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  cfg.OTLPExportTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	policy, err := config.NewRoutingPolicyHolder(cfg.RoutingPolicyFile, logger)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:  health.NewChecker(cfg.AppVersion),
		policy:  policy,
		tracer:  tracer,
	}
	a.registerHealthChecks()
	a.registerDependencies()
	return a, nil
}

func (a *app) registerHealthChecks() {
	a.health.AddCheck(depDatabase, health.PingFunc(func(ctx context.Context) error {
		if a.db == nil {
			return errNotStarted
		}
		return a.db.PingContext(ctx)
	}))
	a.health.AddCheck(depRedis, health.PingFunc(func(ctx context.Context) error {
		if a.redis == nil {
			return errNotStarted
		}
		return a.redis.Ping(ctx)
	}))
	if a.cfg.GraphDBEnabled && a.cfg.HealthCheckGraph {
		a.health.AddOptionalCheck(depGraph, health.PingFunc(func(ctx context.Context) error {
			if a.graph == nil {
				return errNotStarted
			}
			return a.graph.VerifyConnectivity(ctx)
		}))
	}
	if a.cfg.KafkaConsumerEnabled {
		a.health.AddCheck(depConsumer, health.Running(func() bool {
			return a.consumer != nil && a.consumer.Health()
		}))
	}
}

func (a *app) registerDependencies() {
	a.startup.AddDependency(&startup.Dependency{
		Name:    depDatabase,
		StartFn: a.startDatabase,
		StopFn: func(context.Context) error {
			return a.db.Close()
		},
	})

	a.startup.AddDependency(&startup.Dependency{
		Name: depRedis,
		StartFn: func(context.Context) error {
			client, err := redis.NewClient(a.cfg.Redis(), a.logger)
			if err != nil {
				return err
			}
			a.redis = client
			return nil
		},
		StopFn: func(context.Context) error {
			return a.redis.Close()
		},
	})

	routerNeeds := []string{depDatabase, depRedis, depProducer}
	if a.cfg.GraphDBEnabled {
		routerNeeds = append(routerNeeds, depGraph)
		a.startup.AddDependency(&startup.Dependency{
			Name: depGraph,
			StartFn: func(ctx context.Context) error {
				client, err := graph.NewClient(ctx, graph.Config{
					Host:        a.cfg.GraphDBHost,
					Port:        a.cfg.GraphDBPort,
					Username:    a.cfg.GraphDBUser,
					Password:    a.cfg.GraphDBPassword,
					Database:    a.cfg.GraphDBName,
					MaxPoolSize: a.cfg.GraphDBMaxPoolSize,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.EnsureIndexes(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				return nil
			},
			StopFn: func(ctx context.Context) error {
				return a.graph.Close(ctx)
			},
		})
	}

	a.startup.AddDependency(&startup.Dependency{
		Name: depProducer,
		StartFn: func(context.Context) error {
			producer, err := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      a.cfg.KafkaBrokers,
				OutcomeTopic: a.cfg.KafkaOutcomeTopic,
				PackageTopic: a.cfg.KafkaPackageTopic,
				BatchSize:    a.cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: a.cfg.KafkaRequiredAcks,
				Compression:  a.cfg.KafkaCompression,
			}, a.logger)
			if err != nil {
				return err
			}
			a.producer = producer
			return nil
		},
		StopFn: func(context.Context) error {
			return a.producer.Close()
		},
	})

	a.startup.AddDependency(&startup.Dependency{
		Name:    depRouter,
		Needs:   routerNeeds,
		StartFn: a.startRouter,
	})

	if a.cfg.KafkaConsumerEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name:  depConsumer,
			Needs: []string{depRouter},
			StartFn: func(ctx context.Context) error {
				a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       a.cfg.KafkaBrokers,
					Topic:         a.cfg.KafkaInputTopic,
					ConsumerGroup: a.cfg.KafkaConsumerGroup,
					MaxRetries:    a.cfg.KafkaMaxRetries,
					RetryBackoff:  a.cfg.KafkaRetryBackoff,
				}, a.logger, a.ingest.Handle, a.dlq)
				return a.consumer.Start(ctx)
			},
			StopFn: func(context.Context) error {
				return a.consumer.Stop()
			},
		})
	}

	if a.cfg.SchedulerEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name:  depScheduler,
			Needs: []string{depRouter},
			StartFn: func(ctx context.Context) error {
				a.scheduler = scheduler.NewScheduler(a.notifications, a.dispatcher, a.policy, scheduler.Config{
					PollInterval: a.cfg.SchedulerInterval,
					BatchSize:    a.cfg.SchedulerBatchSize,
					SettleTime:   a.cfg.SchedulerSettleTime,
				}, a.logger)
				return a.scheduler.Start(ctx)
			},
			StopFn: func(ctx context.Context) error {
				return a.scheduler.Stop(ctx)
			},
		})
	}

	a.startup.AddDependency(&startup.Dependency{
		Name:    depHTTP,
		Needs:   []string{depRouter},
		StartFn: a.startServer,
		StopFn: func(ctx context.Context) error {
			return a.server.Shutdown(ctx)
		},
	})
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, a.cfg.Database(), a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, a.cfg.Migrations())
	if err := migrations.Migrate(db); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	return nil
}

// startRouter builds the routing pipeline on top of the started stores
func (a *app) startRouter(context.Context) error {
	a.notifications = notification.NewRepository(a.db, a.logger)
	a.provenance = provenance.NewRepository(a.db, a.logger)
	a.packages = contentpackage.NewRepository(a.db, a.logger)
	a.dlq = redis.NewDeadLetterQueue(a.redis, a.cfg.DeadLetterQueueStream, a.logger)

	licenses := license.NewRepository(a.db, a.logger)
	var register eligibility.LicenseRegister = licenses
	if a.cfg.RegisterCacheEnabled {
		register = redis.NewRegisterCache(a.redis, licenses, a.cfg.RegisterCacheTTL, a.logger)
	}

	var ex routing.Extractor
	if a.cfg.ExtractionEnabled {
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = a.cfg.PackageStoreTimeout
		clientCfg.UserAgent = a.cfg.AppName + "/" + a.cfg.AppVersion
		source := extractor.NewHTTPSource(httpclient.NewClient(clientCfg, a.logger), a.cfg.PackageStoreURL)
		e, err := extractor.New(source, extractor.DefaultMappings(), a.logger)
		if err != nil {
			return err
		}
		ex = e
	}

	sinks := routing.OutcomeSinks{a.producer}
	if a.graph != nil {
		a.routingGraph = graph.NewRoutingGraph(a.graph, a.logger)
		sinks = append(sinks, a.routingGraph)
	}

	store := routingstore.NewService(a.logger, a.notifications, a.provenance)
	a.orchestrator = routing.NewOrchestrator(
		a.logger,
		ex,
		register,
		subscriber.NewRepository(a.db, a.logger),
		store,
		a.policy,
		routing.WithRepackager(repackaging.NewService(a.logger, a.packages, a.producer, a.cfg.PackageDownloadURL)),
		routing.WithOutcomeSink(sinks),
	)
	a.dispatcher = scheduler.NewDispatcher(a.orchestrator, redis.NewLocker(a.redis, ""), a.cfg.RedisLockTTL)
	a.ingest = ingest.NewService(a.logger, a.notifications, store, a.dispatcher)
	return a.registerContainer()
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
	defer cancel()

	err := a.startup.Stop(ctx)
	if tErr := a.tracer.Shutdown(ctx); tErr != nil {
		a.logger.WithError(tErr).Warn("Failed to flush traces")
	}
	return err
}
