package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/metrics"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// connectTimeout bounds the initial ping in New.
const connectTimeout = 5 * time.Second

// DB wraps the postgres pool shared by the watchlist and payment repositories.
type DB struct {
	*sql.DB
	config *Config
}

// Config holds connection and pool settings. URL, when set, wins over the parts.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewConfig reads DATABASE_URL and the DB_* variables.
func NewConfig() *Config {
	return &Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost", parseString),
		Port:     envOr("DB_PORT", 5432, strconv.Atoi),
		User:     envOr("DB_USER", "postgres", parseString),
		Password: envOr("DB_PASSWORD", "", parseString),
		Database: envOr("DB_NAME", "fin_desk", parseString),
		SSLMode:  envOr("DB_SSLMODE", "disable", parseString),

		MaxOpenConns:    envOr("DB_MAX_OPEN_CONNS", 25, strconv.Atoi),
		MaxIdleConns:    envOr("DB_MAX_IDLE_CONNS", 5, strconv.Atoi),
		ConnMaxLifetime: envOr("DB_CONN_MAX_LIFETIME", 5*time.Minute, time.ParseDuration),
		ConnMaxIdleTime: envOr("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, time.ParseDuration),
	}
}

// DSN returns DATABASE_URL when set, otherwise a key/value DSN built from the parts.
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New opens the pool and fails fast when postgres is unreachable.
func New(config *Config) (*DB, error) {
	pool, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(config.MaxOpenConns)
	pool.SetMaxIdleConns(config.MaxIdleConns)
	pool.SetConnMaxLifetime(config.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Log.Info("database connected",
		zap.String("database", config.Database),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return &DB{DB: pool, config: config}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	logger.Log.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck pings the pool; /ready calls it.
func (db *DB) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := db.PingContext(ctx)
	metrics.DatabaseHealthCheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DatabaseHealthCheckErrors.Inc()
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Transaction runs fn inside a transaction. It commits when fn returns nil
// and rolls back on error or panic.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(tx)
}

// observe records duration and error metrics for one repository operation.
func observe(operation string, start time.Time, err error) {
	metrics.DatabaseOperationDuration.WithLabelValues(operation, metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DatabaseErrors.WithLabelValues(operation).Inc()
	}
}

// observeLookup is observe for reads where a missing row is an answer, not a failure.
func observeLookup(operation string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	observe(operation, start, err)
}

func parseString(s string) (string, error) { return s, nil }

// envOr parses key with parse, falling back to def when unset or unparseable.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := parse(value)
	if err != nil {
		logger.Log.Warn("ignoring invalid database setting", zap.String("key", key), zap.Error(err))
		return def
	}
	return parsed
}
