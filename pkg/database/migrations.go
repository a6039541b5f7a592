package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alim08/fin_desk/pkg/logger"
	"go.uber.org/zap"
)

// Migration is one schema step with its reverse.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// Migrations holds all database migrations, applied in order.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Create watchlist_rows",
		UpSQL: `
			-- Latest snapshot per instrument. Only symbol is mandatory: feeds send
			-- partial rows and absent columns stay NULL until a tick supplies them.
			CREATE TABLE IF NOT EXISTS watchlist_rows (
				symbol VARCHAR(64) PRIMARY KEY,
				asset_type VARCHAR(64),
				price DOUBLE PRECISION,
				price_change DOUBLE PRECISION,
				percent_change DOUBLE PRECISION,
				high DOUBLE PRECISION,
				low DOUBLE PRECISION,
				updated_time VARCHAR(64),
				confirmed BOOLEAN,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_watchlist_rows_asset_type ON watchlist_rows(asset_type);
		`,
		DownSQL: `
			DROP TABLE IF EXISTS watchlist_rows;
		`,
	},
	{
		Version:     2,
		Description: "Create payment_methods",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS payment_methods (
				id BIGSERIAL PRIMARY KEY,
				account_id VARCHAR(128) NOT NULL,
				stripe_payment_method_id VARCHAR(255) NOT NULL,
				last4 VARCHAR(4),
				expiration_date VARCHAR(32),
				billing_address TEXT,
				card_brand VARCHAR(32),
				card_exp_month INTEGER CHECK (card_exp_month BETWEEN 1 AND 12),
				card_exp_year INTEGER,
				card_last4 VARCHAR(4),
				is_default BOOLEAN NOT NULL DEFAULT FALSE,
				type VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_payment_methods_account ON payment_methods(account_id);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_methods_stripe_id
				ON payment_methods(stripe_payment_method_id);

			-- At most one default per account.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_methods_one_default
				ON payment_methods(account_id) WHERE is_default;
		`,
		DownSQL: `
			DROP TABLE IF EXISTS payment_methods;
		`,
	},
}

// MigrationStatus reports whether one migration has been applied.
type MigrationStatus struct {
	Version     int        `json:"version"`
	Description string     `json:"description"`
	Applied     bool       `json:"applied"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
}

// RunMigrations applies every migration not yet recorded in the migrations table.
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var ran int
	for _, m := range Migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		logger.Log.Info("migration applied", zap.Int("version", m.Version), zap.String("description", m.Description))
		ran++
	}

	logger.Log.Info("database schema up to date", zap.Int("applied", ran), zap.Int("total", len(Migrations)))
	return nil
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
`

func (db *DB) appliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// applyMigration runs the up SQL and records the version in one transaction.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus lists every known migration in version order.
func (db *DB) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(Migrations))
	for _, m := range Migrations {
		st := MigrationStatus{Version: m.Version, Description: m.Description}
		if at, ok := applied[m.Version]; ok {
			at := at.UTC()
			st.Applied = true
			st.AppliedAt = &at
		}
		status = append(status, st)
	}
	return status, nil
}

// RollbackMigration reverts the newest applied migration.
func (db *DB) RollbackMigration(ctx context.Context) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	m, ok := findMigration(version)
	if !ok {
		return fmt.Errorf("migration version %d not found", version)
	}
	logger.Log.Info("rolling back migration", zap.Int("version", version), zap.String("description", m.Description))

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if m.DownSQL != "" {
			if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
				return fmt.Errorf("failed to execute rollback SQL: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM migrations WHERE version = $1`, version); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		return nil
	})
}

func findMigration(version int) (Migration, bool) {
	for _, m := range Migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}
