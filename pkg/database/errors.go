package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrSymbolRequired is returned when a watchlist row has no symbol to key on
	ErrSymbolRequired = errors.New("watchlist row has no symbol")
	// ErrConflict is returned when a write violates a unique constraint
	ErrConflict = errors.New("conflicts with an existing record")
)

const uniqueViolation = pq.ErrorCode("23505")

// translateError maps a unique violation to ErrConflict naming the constraint.
// Other errors come back unchanged.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}
