package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"applyflow/cmd/server/config"
	"applyflow/internal/applications"
)

func baseConfig() config.Config {
	return config.Config{
		HTTP:          config.HTTPConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		GRPC:          config.GRPCConfig{Addr: "127.0.0.1:0"},
		Observability: config.ObservabilityConfig{Addr: "127.0.0.1:0"},
		Clients:       config.ClientsConfig{Reliability: applications.DefaultReliabilityConfig()},
	}
}

func TestBuildAppFallsBackToInMemory(t *testing.T) {
	a, err := buildApp(context.Background(), baseConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	require.NotNil(t, a.orchestrator)
	require.NotNil(t, a.hub)
	_, err = a.statuses.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, applications.ErrApplicationNotFound), "got %v", err)
}

func TestBuildAppUsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{URL: "redis://" + mr.Addr(), PingTimeout: time.Second, StreamMaxLen: 100}

	a, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, a.closers, 1)
	require.NoError(t, a.Close())
}

func TestBuildAppFailsWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{URL: "redis://" + addr, PingTimeout: 200 * time.Millisecond}
	_, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestBuildAppRejectsInvalidRedisURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{URL: "not-a-url"}
	_, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRunMigrateRequiresDatabaseURL(t *testing.T) {
	err := runMigrate(context.Background(), baseConfig(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRootCommandMigrateWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("S3_ENDPOINT", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "--env-file", t.TempDir() + "/missing.env"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRunServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listening not permitted: %v", err)
	}
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, baseConfig(), zaptest.NewLogger(t)) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestGRPCHealthReportsServingUntilShutdown(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv, healthSrv := newGRPCServer(config.GRPCConfig{}, nil, zaptest.NewLogger(t))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	healthSrv.Shutdown()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuildClientsServesSeededJobs(t *testing.T) {
	cfg := baseConfig().Clients
	cfg.JobsSeedFile = writeSeed(t, `[
		{"id": "J1", "title": "Backend Engineer", "status": "PUBLISHED", "companyName": "Acme", "createdBy": "hr1"},
		{"id": "J2", "title": "Designer", "status": "CLOSED"}
	]`)

	jobs, _, err := buildClients(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := jobs.ValidateAndGet(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "hr1", info.CreatedBy)
	_, err = jobs.ValidateAndGet(context.Background(), "J2")
	assert.True(t, errors.Is(err, applications.ErrJobNotFound), "got %v", err)
}

func TestLoadJobSeedErrors(t *testing.T) {
	jobs, err := loadJobSeed("")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = loadJobSeed(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = loadJobSeed(writeSeed(t, `{"id": "J1"}`))
	assert.Error(t, err)

	_, err = loadJobSeed(writeSeed(t, `[{"title": "no id"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}
