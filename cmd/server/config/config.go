package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"applyflow/internal/applications"
)

// HTTPConfig holds the public API listener settings.
type HTTPConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// GRPCConfig holds the health endpoint listener and its ingress rate limit.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
	EnableReflection  bool
}

// PostgresConfig holds the database DSN and pool settings. An empty URL
// selects the in-memory repository.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection and stream settings. An empty URL
// selects the log-only publisher.
type RedisConfig struct {
	URL          string
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	PingTimeout  time.Duration
	StreamMaxLen int64
	EnableOTel   bool
	TLS          TLSFiles
}

// StorageConfig holds S3/MinIO settings. An empty Endpoint selects in-memory
// storage.
type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// ClientsConfig holds the collaborator service URLs and the reliability
// knobs applied to them. An empty URL selects the in-memory stand-in; the job
// stand-in is seeded from JobsSeedFile when set.
type ClientsConfig struct {
	JobServiceURL  string
	UserServiceURL string
	JobsSeedFile   string
	Timeout        time.Duration
	Reliability    applications.ReliabilityConfig
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level string
	JSON  bool
}

// Config is the full process configuration.
type Config struct {
	HTTP          HTTPConfig
	GRPC          GRPCConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Clients       ClientsConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
}

// LoadDotEnv loads the given files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// Load reads every group from the environment.
func Load() (Config, error) {
	var (
		cfg Config
		err error
	)
	if cfg.HTTP, err = LoadHTTP(); err != nil {
		return cfg, err
	}
	if cfg.GRPC, err = LoadGRPC(); err != nil {
		return cfg, err
	}
	if cfg.Postgres, err = LoadPostgres(); err != nil {
		return cfg, err
	}
	if cfg.Redis, err = LoadRedis(); err != nil {
		return cfg, err
	}
	if cfg.Storage, err = LoadStorage(); err != nil {
		return cfg, err
	}
	if cfg.Clients, err = LoadClients(); err != nil {
		return cfg, err
	}
	if cfg.Observability, err = LoadObservability(); err != nil {
		return cfg, err
	}
	if cfg.Logging, err = LoadLogging(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadHTTP reads the API listener settings.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		Addr:           stringOr("HTTP_ADDR", ":8080"),
		AllowedOrigins: list("CORS_ALLOWED_ORIGINS"),
	}
	var err error
	if cfg.ShutdownTimeout, err = durationOr("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGRPC reads the gRPC listener and ingress rate limit settings.
func LoadGRPC() (GRPCConfig, error) {
	cfg := GRPCConfig{Addr: stringOr("GRPC_ADDR", ":50051")}
	var err error
	if cfg.RateLimitInterval, err = durationOr("GRPC_RATE_LIMIT_INTERVAL", 10*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOr("GRPC_RATE_LIMIT_BURST", 100); err != nil {
		return cfg, err
	}
	if cfg.EnableReflection, err = optionalBool("GRPC_REFLECTION"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPostgres reads the database settings.
func LoadPostgres() (PostgresConfig, error) {
	cfg := PostgresConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
	var err error
	if cfg.MaxOpenConns, err = intOr("DATABASE_MAX_OPEN_CONNS", 20); err != nil {
		return cfg, err
	}
	if cfg.MaxIdleConns, err = intOr("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return cfg, err
	}
	if cfg.ConnMaxLifetime, err = durationOr("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{URL: strings.TrimSpace(os.Getenv("REDIS_URL"))}
	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.PingTimeout, err = durationOr("REDIS_PING_TIMEOUT", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64Or("REDIS_STREAM_MAXLEN", 100000); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = loadRedisTLSFiles(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStorage reads the object store settings. The bucket and credentials are
// required once an endpoint is set.
func LoadStorage() (StorageConfig, error) {
	cfg := StorageConfig{
		Endpoint: strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		Region:   stringOr("S3_REGION", "us-east-1"),
		Bucket:   stringOr("S3_BUCKET", "cvs"),
	}
	if cfg.Endpoint == "" {
		return cfg, nil
	}
	var err error
	if cfg.AccessKey, err = requiredString("S3_ACCESS_KEY"); err != nil {
		return cfg, err
	}
	if cfg.SecretKey, err = requiredString("S3_SECRET_KEY"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadClients reads the collaborator URLs and their reliability settings.
func LoadClients() (ClientsConfig, error) {
	cfg := ClientsConfig{
		JobServiceURL:  strings.TrimSpace(os.Getenv("JOB_SERVICE_URL")),
		UserServiceURL: strings.TrimSpace(os.Getenv("USER_SERVICE_URL")),
		JobsSeedFile:   strings.TrimSpace(os.Getenv("JOBS_SEED_FILE")),
		Reliability:    applications.DefaultReliabilityConfig(),
	}
	r := &cfg.Reliability
	var err error
	if cfg.Timeout, err = durationOr("CLIENT_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if r.RetryMaxAttempts, err = intOr("CLIENT_RETRY_MAX_ATTEMPTS", r.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if r.RetryBaseDelay, err = durationOr("CLIENT_RETRY_BASE_DELAY", r.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if r.RetryMaxDelay, err = durationOr("CLIENT_RETRY_MAX_DELAY", r.RetryMaxDelay); err != nil {
		return cfg, err
	}
	if r.BreakerMaxFailures, err = intOr("CLIENT_BREAKER_MAX_FAILURES", r.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if r.BreakerResetTimeout, err = durationOr("CLIENT_BREAKER_RESET_TIMEOUT", r.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if r.RateLimitInterval, err = durationOr("CLIENT_RATE_LIMIT_INTERVAL", r.RateLimitInterval); err != nil {
		return cfg, err
	}
	if r.RateLimitBurst, err = intOr("CLIENT_RATE_LIMIT_BURST", r.RateLimitBurst); err != nil {
		return cfg, err
	}
	if r.RetryMaxAttempts == 0 {
		return cfg, errors.New("CLIENT_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	return cfg, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":9090")}, nil
}

// LoadLogging reads the log level and encoding.
func LoadLogging() (LoggingConfig, error) {
	cfg := LoggingConfig{Level: stringOr("LOG_LEVEL", "info")}
	var err error
	if cfg.JSON, err = optionalBool("LOG_JSON"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func stringOr(name, def string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return def
}

func list(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if val < 0 {
		return nil, errors.Newf("%s must be >= 0", name)
	}
	return &val, nil
}

func durationOr(name string, def time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil || val == nil {
		return def, err
	}
	return *val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if val < 0 {
		return nil, errors.Newf("%s must be >= 0", name)
	}
	return &val, nil
}

func intOr(name string, def int) (int, error) {
	val, err := optionalInt(name)
	if err != nil || val == nil {
		return def, err
	}
	return *val, nil
}

func int64Or(name string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def, errors.Wrap(err, name)
	}
	if val < 0 {
		return def, errors.Newf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Wrap(err, name)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", errors.Newf("%s is required", name)
	}
	return raw, nil
}
