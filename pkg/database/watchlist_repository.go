package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/fin_desk/pkg/models"
	"github.com/alim08/fin_desk/pkg/validation"
)

// WatchlistRepository stores the latest snapshot per symbol
type WatchlistRepository interface {
	UpsertRow(ctx context.Context, row *models.WatchlistRow) error
	GetRow(ctx context.Context, symbol string) (*models.WatchlistRow, error)
	ListRows(ctx context.Context) ([]*models.WatchlistRow, error)
}

var _ WatchlistRepository = (*watchlistRepository)(nil)

type watchlistRepository struct {
	db *DB
}

// NewWatchlistRepository creates a new watchlist repository
func NewWatchlistRepository(db *DB) WatchlistRepository {
	return &watchlistRepository{db: db}
}

// storedRow mirrors WatchlistRow with the limits of the watchlist_rows columns.
type storedRow struct {
	Symbol        *string  `json:"symbol" validate:"omitempty,max=64"`
	AssetType     *string  `json:"assetType" validate:"omitempty,max=64"`
	Price         *float64 `json:"price" validate:"omitempty,finite"`
	PriceChange   *float64 `json:"priceChange" validate:"omitempty,finite"`
	PercentChange *float64 `json:"percentChange" validate:"omitempty,finite"`
	High          *float64 `json:"high" validate:"omitempty,finite"`
	Low           *float64 `json:"low" validate:"omitempty,finite"`
	UpdatedTime   *string  `json:"updatedTime" validate:"omitempty,max=64"`
	Confirmed     *bool    `json:"confirmed"`
}

// ValidateRow reports whether row fits the watchlist_rows columns: text of at
// most 64 characters and finite numbers. Absent fields always pass.
func ValidateRow(row models.WatchlistRow) error {
	if errs := validation.ValidateStruct(storedRow(row)); len(errs) > 0 {
		return errs
	}
	return nil
}

const watchlistColumns = `symbol, asset_type, price, price_change, percent_change, high, low, updated_time, confirmed`

// UpsertRow inserts the row or merges it into the stored one. Columns the
// row leaves absent keep their stored values.
func (r *watchlistRepository) UpsertRow(ctx context.Context, row *models.WatchlistRow) (err error) {
	start := time.Now()
	defer func() { observe("upsert_watchlist_row", start, err) }()

	row.Sanitize()
	if row.Symbol == nil || *row.Symbol == "" {
		return ErrSymbolRequired
	}
	if err := ValidateRow(*row); err != nil {
		return fmt.Errorf("watchlist row validation failed: %w", err)
	}

	query := `
		INSERT INTO watchlist_rows (` + watchlistColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			asset_type = COALESCE(EXCLUDED.asset_type, watchlist_rows.asset_type),
			price = COALESCE(EXCLUDED.price, watchlist_rows.price),
			price_change = COALESCE(EXCLUDED.price_change, watchlist_rows.price_change),
			percent_change = COALESCE(EXCLUDED.percent_change, watchlist_rows.percent_change),
			high = COALESCE(EXCLUDED.high, watchlist_rows.high),
			low = COALESCE(EXCLUDED.low, watchlist_rows.low),
			updated_time = COALESCE(EXCLUDED.updated_time, watchlist_rows.updated_time),
			confirmed = COALESCE(EXCLUDED.confirmed, watchlist_rows.confirmed),
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		row.Symbol, row.AssetType, row.Price, row.PriceChange, row.PercentChange,
		row.High, row.Low, row.UpdatedTime, row.Confirmed)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist row: %w", err)
	}
	return nil
}

// GetRow retrieves the stored snapshot for one symbol
func (r *watchlistRepository) GetRow(ctx context.Context, symbol string) (row *models.WatchlistRow, err error) {
	start := time.Now()
	defer func() { observeLookup("get_watchlist_row", start, err) }()

	query := `SELECT ` + watchlistColumns + ` FROM watchlist_rows WHERE symbol = $1`

	row, err = scanWatchlistRow(r.db.QueryRowContext(ctx, query, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist row: %w", err)
	}
	return row, nil
}

// ListRows retrieves every stored snapshot ordered by symbol
func (r *watchlistRepository) ListRows(ctx context.Context) (out []*models.WatchlistRow, err error) {
	start := time.Now()
	defer func() { observe("list_watchlist_rows", start, err) }()

	query := `SELECT ` + watchlistColumns + ` FROM watchlist_rows ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist rows: %w", err)
	}
	defer rows.Close()

	out = []*models.WatchlistRow{}
	for rows.Next() {
		row, err := scanWatchlistRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watchlist row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWatchlistRow(s scanner) (*models.WatchlistRow, error) {
	var row models.WatchlistRow
	err := s.Scan(
		&row.Symbol, &row.AssetType, &row.Price, &row.PriceChange, &row.PercentChange,
		&row.High, &row.Low, &row.UpdatedTime, &row.Confirmed,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
