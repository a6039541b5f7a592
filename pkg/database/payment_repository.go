package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/metrics"
	"github.com/alim08/fin_desk/pkg/models"
	"go.uber.org/zap"
)

// PaymentMethodRepository stores payment methods per account. It owns the
// default-instrument rule: an account with any payment methods has exactly
// one default.
type PaymentMethodRepository interface {
	Create(ctx context.Context, pm *models.PaymentMethod) error
	Get(ctx context.Context, accountID string, id int64) (*models.PaymentMethod, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.PaymentMethod, error)
	Update(ctx context.Context, pm *models.PaymentMethod) error
	SetDefault(ctx context.Context, accountID string, id int64) error
	Delete(ctx context.Context, accountID string, id int64) error
}

var _ PaymentMethodRepository = (*paymentMethodRepository)(nil)

type paymentMethodRepository struct {
	db *DB
}

// NewPaymentMethodRepository creates a new payment method repository
func NewPaymentMethodRepository(db *DB) PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

const paymentMethodColumns = `id, account_id, stripe_payment_method_id, last4, expiration_date,
	billing_address, card_brand, card_exp_month, card_exp_year, card_last4,
	is_default, type, created_at, updated_at`

// Create inserts pm and fills in its id and timestamps. The first payment
// method of an account becomes its default; a new default demotes the old one.
func (r *paymentMethodRepository) Create(ctx context.Context, pm *models.PaymentMethod) (err error) {
	start := time.Now()
	defer func() { observe("create_payment_method", start, err) }()

	pm.Sanitize()
	if pm.AccountID == "" {
		return fmt.Errorf("payment method validation failed: accountId is required")
	}
	if err := pm.Input().Validate(); err != nil {
		return fmt.Errorf("payment method validation failed: %w", err)
	}

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, pm.AccountID); err != nil {
			return err
		}
		if pm.IsDefault {
			if err := clearDefault(ctx, tx, pm.AccountID); err != nil {
				return err
			}
		} else {
			var hasDefault bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM payment_methods WHERE account_id = $1 AND is_default)`,
				pm.AccountID).Scan(&hasDefault)
			if err != nil {
				return fmt.Errorf("failed to check default payment method: %w", err)
			}
			pm.IsDefault = !hasDefault
		}

		query := `
			INSERT INTO payment_methods (
				account_id, stripe_payment_method_id, last4, expiration_date,
				billing_address, card_brand, card_exp_month, card_exp_year, card_last4,
				is_default, type
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`
		var createdAt, updatedAt time.Time
		err := tx.QueryRowContext(ctx, query,
			pm.AccountID, pm.StripePaymentMethodID, pm.Last4, pm.ExpirationDate,
			pm.BillingAddress, pm.CardBrand, pm.CardExpMonth, pm.CardExpYear, pm.CardLast4,
			pm.IsDefault, pm.Type,
		).Scan(&pm.ID, &createdAt, &updatedAt)
		if err != nil {
			return fmt.Errorf("failed to create payment method: %w", translateError(err))
		}
		pm.CreatedAt = formatTimestamp(createdAt)
		pm.UpdatedAt = formatTimestamp(updatedAt)
		return nil
	})
}

// Get retrieves one payment method owned by accountID
func (r *paymentMethodRepository) Get(ctx context.Context, accountID string, id int64) (pm *models.PaymentMethod, err error) {
	start := time.Now()
	defer func() { observeLookup("get_payment_method", start, err) }()

	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1 AND account_id = $2`

	pm, err = scanPaymentMethod(r.db.QueryRowContext(ctx, query, id, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return pm, nil
}

// ListByAccount retrieves an account's payment methods, default first, then newest
func (r *paymentMethodRepository) ListByAccount(ctx context.Context, accountID string) (out []*models.PaymentMethod, err error) {
	start := time.Now()
	defer func() { observe("list_payment_methods", start, err) }()

	query := `
		SELECT ` + paymentMethodColumns + `
		FROM payment_methods
		WHERE account_id = $1
		ORDER BY is_default DESC, created_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	out = []*models.PaymentMethod{}
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		out = append(out, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment methods: %w", err)
	}
	return out, nil
}

// Update replaces the processor token, type and card details of pm.
// Default status is changed only through SetDefault.
func (r *paymentMethodRepository) Update(ctx context.Context, pm *models.PaymentMethod) (err error) {
	start := time.Now()
	defer func() { observeLookup("update_payment_method", start, err) }()

	pm.Sanitize()
	if err := pm.Input().Validate(); err != nil {
		return fmt.Errorf("payment method validation failed: %w", err)
	}

	query := `
		UPDATE payment_methods SET
			stripe_payment_method_id = $3,
			last4 = $4,
			expiration_date = $5,
			billing_address = $6,
			card_brand = $7,
			card_exp_month = $8,
			card_exp_year = $9,
			card_last4 = $10,
			type = $11,
			updated_at = NOW()
		WHERE id = $1 AND account_id = $2
		RETURNING is_default, created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	err = r.db.QueryRowContext(ctx, query,
		pm.ID, pm.AccountID,
		pm.StripePaymentMethodID, pm.Last4, pm.ExpirationDate, pm.BillingAddress,
		pm.CardBrand, pm.CardExpMonth, pm.CardExpYear, pm.CardLast4, pm.Type,
	).Scan(&pm.IsDefault, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", translateError(err))
	}
	pm.CreatedAt = formatTimestamp(createdAt)
	pm.UpdatedAt = formatTimestamp(updatedAt)
	return nil
}

// SetDefault makes id the account's only default payment method
func (r *paymentMethodRepository) SetDefault(ctx context.Context, accountID string, id int64) (err error) {
	start := time.Now()
	defer func() { observeLookup("set_default_payment_method", start, err) }()

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		var isDefault bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_default FROM payment_methods WHERE id = $1 AND account_id = $2 FOR UPDATE`,
			id, accountID).Scan(&isDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock payment method: %w", err)
		}
		if isDefault {
			return nil
		}

		if err := clearDefault(ctx, tx, accountID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE payment_methods SET is_default = TRUE, updated_at = NOW() WHERE id = $1 AND account_id = $2`,
			id, accountID); err != nil {
			return fmt.Errorf("failed to set default payment method: %w", translateError(err))
		}

		metrics.DefaultPaymentMethodChanges.Inc()
		logger.Log.Info("default payment method changed",
			zap.String("account_id", accountID),
			zap.Int64("payment_method_id", id))
		return nil
	})
}

// Delete removes a payment method. Deleting the default promotes the
// account's newest remaining payment method.
func (r *paymentMethodRepository) Delete(ctx context.Context, accountID string, id int64) (err error) {
	start := time.Now()
	defer func() { observeLookup("delete_payment_method", start, err) }()

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		var wasDefault bool
		err := tx.QueryRowContext(ctx,
			`DELETE FROM payment_methods WHERE id = $1 AND account_id = $2 RETURNING is_default`,
			id, accountID).Scan(&wasDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete payment method: %w", err)
		}
		if !wasDefault {
			return nil
		}

		query := `
			UPDATE payment_methods SET is_default = TRUE, updated_at = NOW()
			WHERE id = (
				SELECT id FROM payment_methods
				WHERE account_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT 1
			)
		`
		if _, err := tx.ExecContext(ctx, query, accountID); err != nil {
			return fmt.Errorf("failed to promote default payment method: %w", err)
		}
		return nil
	})
}

// lockAccount serializes default changes for one account until the
// transaction ends, so concurrent writers cannot both claim the default.
func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, accountID); err != nil {
		return fmt.Errorf("failed to lock account payment methods: %w", err)
	}
	return nil
}

func clearDefault(ctx context.Context, tx *sql.Tx, accountID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = FALSE, updated_at = NOW() WHERE account_id = $1 AND is_default`,
		accountID)
	if err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}
	return nil
}

func scanPaymentMethod(s scanner) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	var createdAt, updatedAt time.Time
	err := s.Scan(
		&pm.ID, &pm.AccountID, &pm.StripePaymentMethodID, &pm.Last4, &pm.ExpirationDate,
		&pm.BillingAddress, &pm.CardBrand, &pm.CardExpMonth, &pm.CardExpYear, &pm.CardLast4,
		&pm.IsDefault, &pm.Type, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	pm.CreatedAt = formatTimestamp(createdAt)
	pm.UpdatedAt = formatTimestamp(updatedAt)
	return &pm, nil
}

// formatTimestamp renders stored times as RFC 3339 in UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
