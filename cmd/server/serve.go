package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"applyflow/cmd/server/config"
	"applyflow/internal/adapters/httpapi"
	"applyflow/internal/observability"
)

const readHeaderTimeout = 10 * time.Second

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()

	apiSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewServer(httpapi.Options{
			Creator:        a.orchestrator,
			Lifecycle:      a.statuses,
			Realtime:       http.HandlerFunc(a.hub.ServeWS),
			Metrics:        a.metrics,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	obsSrv := &http.Server{
		Addr:              cfg.Observability.Addr,
		Handler:           observability.NewMux(a.metrics, a.registry),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	grpcSrv, healthSrv := newGRPCServer(cfg.GRPC, a.metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return listenAndServe(apiSrv, "api", logger) })
	g.Go(func() error { return listenAndServe(obsSrv, "observability", logger) })
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		return errors.Wrap(grpcSrv.Serve(lis), "grpc serve")
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Int64("in_flight", a.metrics.InFlight()))
		a.metrics.MarkShutdown(a.metrics.InFlight())
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := errors.CombineErrors(apiSrv.Shutdown(shutdownCtx), obsSrv.Shutdown(shutdownCtx))
		grpcSrv.GracefulStop()
		return err
	})
	return g.Wait()
}

func listenAndServe(srv *http.Server, name string, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "%s server", name)
	}
	return nil
}

// newGRPCServer exposes health and, when enabled, reflection. Every call
// passes through the ingress rate limiter.
func newGRPCServer(cfg config.GRPCConfig, metrics *observability.Metrics, logger *zap.Logger) (*grpcpkg.Server, *health.Server) {
	limiter := newGrpcRateLimiter(cfg.RateLimitInterval, cfg.RateLimitBurst, metrics.AddRateLimitWait)
	server := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger)),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.EnableReflection {
		reflection.Register(server)
		logger.Info("grpc reflection enabled")
	}
	return server, healthSrv
}

// serviceName is the health key reported for the submission service.
const serviceName = "applyflow.Applications"
