package applicationsdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Stores bundles the Postgres-backed stores sharing one pool.
type Stores struct {
	DB         *sql.DB
	Repository *PostgresRepository
	Journal    *SagaStore
}

// Close releases the pool.
func (s *Stores) Close() error {
	return s.DB.Close()
}

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects with the pgx driver, pings, and initializes both schemas.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*Stores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	stores, err := initStores(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return stores, nil
}

func initStores(ctx context.Context, db *sql.DB) (*Stores, error) {
	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(setupCtx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	repo, err := NewPostgresRepositoryWithSchema(setupCtx, db)
	if err != nil {
		return nil, err
	}
	journal, err := NewSagaStoreWithSchema(setupCtx, db)
	if err != nil {
		return nil, err
	}
	return &Stores{DB: db, Repository: repo, Journal: journal}, nil
}
