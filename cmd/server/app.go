package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"go.uber.org/zap"

	"applyflow/cmd/server/config"
	"applyflow/internal/applications"
	"applyflow/internal/applications/saga"
	"applyflow/internal/clients"
	applicationsdb "applyflow/internal/db/applications"
	"applyflow/internal/events"
	"applyflow/internal/observability"
	"applyflow/internal/realtime"
	"applyflow/internal/storage"
)

// app holds the wired components shared by the servers.
type app struct {
	orchestrator *applications.SagaOrchestrator
	statuses     *applications.StatusService
	hub          *realtime.Hub
	metrics      *observability.Metrics
	registry     *prometheus.Registry
	closers      []io.Closer
}

func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, a.closers[i].Close())
	}
	return err
}

// buildApp wires every component. Collaborators without configuration fall
// back to in-process implementations so the service can run standalone.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = observability.NewMetrics(a.registry); err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	repo, journal, err := a.buildRepository(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	files, err := buildStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	a.hub = realtime.NewHub(256, cfg.HTTP.AllowedOrigins, logger)
	fanout := events.NewFanoutPublisher(publisher, a.hub)
	jobs, users, err := buildClients(cfg.Clients, logger)
	if err != nil {
		return nil, err
	}

	pipeline := applications.NewValidationPipeline(logger,
		applications.NewDuplicateCheck(repo),
		applications.NewFileCheck(),
		applications.NewJobExistenceCheck(jobs, logger),
	)
	opts := []applications.Option{
		applications.WithLogger(logger),
		applications.WithRecorder(a.metrics),
	}
	if journal != nil {
		opts = append(opts, applications.WithJournal(journal))
	}
	a.orchestrator = applications.NewSagaOrchestrator(pipeline, jobs, files, repo, fanout, users, opts...)
	a.statuses = applications.NewStatusService(repo, fanout, logger)
	return a, nil
}

func (a *app) buildRepository(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (applications.Repository, saga.Journal, error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory repository")
		return applications.NewInMemoryRepository(), nil, nil
	}
	stores, err := applicationsdb.Open(ctx, cfg.URL, applicationsdb.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, stores)
	return stores.Repository, stores.Journal, nil
}

func buildStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (applications.FileStorage, error) {
	if cfg.Endpoint == "" {
		logger.Warn("S3_ENDPOINT not set, storing CVs in memory")
		return storage.NewMemoryStorage("", cfg.Bucket), nil
	}
	s3cfg := storage.S3Config{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	}
	store := storage.NewS3Storage(storage.NewS3Client(s3cfg), s3cfg, logger)
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) buildPublisher(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (applications.EventPublisher, error) {
	if cfg.URL == "" {
		logger.Warn("REDIS_URL not set, events are only logged")
		return events.NewLogPublisher(logger), nil
	}
	tlsConfig, err := cfg.TLS.Build()
	if err != nil {
		return nil, err
	}
	opts := events.RedisOptions{URL: cfg.URL, TLSConfig: tlsConfig}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}

	client, err := events.NewRedisClient(opts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, errors.Wrap(err, "redis tracing")
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, errors.Wrap(err, "redis metrics")
		}
	}

	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return events.NewRedisPublisher(events.ClientAdapter{Client: client}, cfg.StreamMaxLen), nil
}

func buildClients(cfg config.ClientsConfig, logger *zap.Logger) (applications.JobService, applications.UserDirectory, error) {
	var (
		jobs  applications.JobService
		users applications.UserDirectory
	)
	if cfg.JobServiceURL == "" {
		seed, err := loadJobSeed(cfg.JobsSeedFile)
		if err != nil {
			return nil, nil, err
		}
		if len(seed) == 0 {
			logger.Warn("JOB_SERVICE_URL and JOBS_SEED_FILE not set, every submission will be rejected as JOB_NOT_FOUND")
		} else {
			logger.Info("JOB_SERVICE_URL not set, serving seeded jobs", zap.Int("jobs", len(seed)))
		}
		jobs = applications.NewInMemoryJobService(seed...)
	} else {
		jobs = applications.NewReliableJobService(
			clients.NewJobServiceClient(cfg.JobServiceURL, nil, cfg.Timeout),
			applications.NewControls(cfg.Reliability))
	}
	if cfg.UserServiceURL == "" {
		logger.Warn("USER_SERVICE_URL not set, notifications fall back to request emails")
		users = applications.NewInMemoryUserDirectory()
	} else {
		users = applications.NewReliableUserDirectory(
			clients.NewUserDirectoryClient(cfg.UserServiceURL, nil, cfg.Timeout),
			applications.NewControls(cfg.Reliability))
	}
	return jobs, users, nil
}
