package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leadlink/internal/store"
	memorystore "github.com/wolfeidau/leadlink/internal/store/memory"
	postgresstore "github.com/wolfeidau/leadlink/internal/store/postgres"
	"github.com/wolfeidau/leadlink/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// StoreFlags selects and configures the durable store.
type StoreFlags struct {
	StoreType string        `help:"store type (memory or postgres)" default:"memory" env:"LEADLINK_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`
	Retry     RetryFlags    `embed:"" prefix:"retry-"`
}

type PostgresFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20" env:"LEADLINK_POSTGRES_MAX_CONNS"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2" env:"LEADLINK_POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h" env:"LEADLINK_POSTGRES_MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m" env:"LEADLINK_POSTGRES_MAX_CONN_IDLE_TIME"`

	// Session Configuration
	LockTimeout      time.Duration `help:"maximum wait for merge row locks before retrying" default:"5s" env:"LEADLINK_POSTGRES_LOCK_TIMEOUT"`
	StatementTimeout time.Duration `help:"maximum duration of a single statement" default:"30s" env:"LEADLINK_POSTGRES_STATEMENT_TIMEOUT"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"LEADLINK_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,

		LockTimeout:      s.LockTimeout,
		StatementTimeout: s.StatementTimeout,
	}
}

// RetryFlags bound retries of conflicting transactions.
type RetryFlags struct {
	MaxAttempts     uint          `help:"attempts per transaction including the first" default:"5" env:"LEADLINK_RETRY_MAX_ATTEMPTS"`
	InitialInterval time.Duration `help:"delay before the first retry" default:"10ms" env:"LEADLINK_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `help:"maximum delay between retries" default:"250ms" env:"LEADLINK_RETRY_MAX_INTERVAL"`
}

func (r *RetryFlags) config() store.RetryConfig {
	return store.RetryConfig{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
	}
}

// open creates the configured store. The returned func releases it.
func (s *StoreFlags) open(ctx context.Context) (store.Store, func(), error) {
	switch s.StoreType {
	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			return nil, nil, err
		}

		pool, err := postgresstore.NewPool(ctx, s.Postgres.poolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if s.Postgres.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		st := postgresstore.NewStore(pool, &postgresstore.StoreConfig{Retry: s.Retry.config()})
		if err := st.Start(); err != nil {
			pool.Close()
			return nil, nil, err
		}

		log.Info().Msg("Using PostgreSQL store")
		return st, func() {
			if err := st.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop store")
			}
		}, nil

	default:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return memorystore.New(), func() {}, nil
	}
}

// TelemetryFlags configure OpenTelemetry export.
type TelemetryFlags struct {
	Tracing     bool    `help:"enable OpenTelemetry traces and metrics" default:"false" env:"LEADLINK_TRACING"`
	SampleRatio float64 `name:"trace-sample-ratio" help:"fraction of new traces recorded" default:"1" env:"LEADLINK_TRACE_SAMPLE_RATIO"`
	Environment string  `help:"deployment environment recorded on telemetry" default:"development" env:"LEADLINK_ENVIRONMENT"`
}

// setup initializes OpenTelemetry when enabled. The returned func flushes and shuts it down.
func (f *TelemetryFlags) setup(ctx context.Context, serviceName, version string) func() {
	if !f.Tracing {
		return func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: f.Environment,
		SampleRatio: f.SampleRatio,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	// Create HTTP server
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
