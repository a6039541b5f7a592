package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alim08/fin_desk/pkg/auth"
	"github.com/alim08/fin_desk/pkg/database"
	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/models"
	"github.com/alim08/fin_desk/pkg/redisclient"
	"github.com/alim08/fin_desk/pkg/validation"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Response represents a standard API response
type Response struct {
	Success bool                       `json:"success"`
	Data    interface{}                `json:"data,omitempty"`
	Error   string                     `json:"error,omitempty"`
	Fields  validation.ValidationErrors `json:"fields,omitempty"`
}

// rowCache is the latest-row cache the API reads first
type rowCache interface {
	StoreRow(ctx context.Context, row models.WatchlistRow) error
	GetRow(ctx context.Context, symbol string) (models.WatchlistRow, error)
	Symbols(ctx context.Context) ([]string, error)
}

type migrationStatuser interface {
	GetMigrationStatus(ctx context.Context) ([]database.MigrationStatus, error)
}

// Server holds the dependencies shared by the HTTP handlers
type Server struct {
	rows       database.WatchlistRepository
	cache      rowCache
	stream     rowSubscriber
	payments   database.PaymentMethodRepository
	checks     map[string]func(context.Context) error
	migrations migrationStatuser
	timeout    time.Duration
	upgrader   websocket.Upgrader
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error("JSON encoding error", zap.Error(err))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// writeStoreError maps repository and validation errors to responses
func (s *Server) writeStoreError(w http.ResponseWriter, err error, op string) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		s.writeJSON(w, http.StatusBadRequest, Response{Error: "validation failed", Fields: verrs})
	case errors.Is(err, database.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrConflict):
		s.writeError(w, http.StatusConflict, "payment method already exists")
	case errors.Is(err, database.ErrSymbolRequired):
		s.writeError(w, http.StatusBadRequest, "symbol is required")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Log.Warn("request timed out", zap.String("op", op))
		s.writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logger.Log.Error("store error", zap.String("op", op), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) runChecks(r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// healthHandler returns server health status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.runChecks(r); err != nil {
		logger.Log.Warn("health check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "health check failed")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		},
	})
}

// readyHandler reports whether dependencies accept traffic
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.runChecks(r); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "ready"}})
}

// listWatchlistHandler returns every row, from the cache when it has any
func (s *Server) listWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if rows, ok := s.cachedRows(ctx); ok {
		s.writeJSON(w, http.StatusOK, Response{Success: true, Data: rows})
		return
	}

	rows, err := s.rows.ListRows(ctx)
	if err != nil {
		s.writeStoreError(w, err, "list_watchlist")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: rows})
}

// cachedRows reads all rows from the cache. ok is false when the cache is
// unavailable or empty and the database should answer instead.
func (s *Server) cachedRows(ctx context.Context) ([]models.WatchlistRow, bool) {
	symbols, err := s.cache.Symbols(ctx)
	if err != nil {
		logger.Log.Warn("watchlist cache unavailable", zap.Error(err))
		return nil, false
	}
	if len(symbols) == 0 {
		return nil, false
	}

	rows := make([]models.WatchlistRow, 0, len(symbols))
	for _, symbol := range symbols {
		row, err := s.cache.GetRow(ctx, symbol)
		if errors.Is(err, redisclient.ErrRowNotCached) {
			continue
		}
		if err != nil {
			logger.Log.Warn("watchlist cache read failed", zap.String("symbol", symbol), zap.Error(err))
			return nil, false
		}
		rows = append(rows, row)
	}
	return rows, true
}

// getWatchlistRowHandler returns one row, from the cache first
func (s *Server) getWatchlistRowHandler(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	ctx, cancel := s.requestContext(r)
	defer cancel()

	row, err := s.cache.GetRow(ctx, symbol)
	if err == nil {
		s.writeJSON(w, http.StatusOK, Response{Success: true, Data: row})
		return
	}
	if !errors.Is(err, redisclient.ErrRowNotCached) {
		logger.Log.Warn("watchlist cache read failed", zap.String("symbol", symbol), zap.Error(err))
	}

	stored, err := s.rows.GetRow(ctx, symbol)
	if err != nil {
		s.writeStoreError(w, err, "get_watchlist_row")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: stored})
}

// postWatchlistRowHandler accepts a partial row and merges it into storage
func (s *Server) postWatchlistRowHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	row, err := models.WatchlistRowFromJSON(string(body))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := database.ValidateRow(row); err != nil {
		s.writeStoreError(w, err, "post_watchlist_row")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.rows.UpsertRow(ctx, &row); err != nil {
		s.writeStoreError(w, err, "upsert_watchlist_row")
		return
	}
	if err := s.cache.StoreRow(ctx, row); err != nil {
		logger.Log.Warn("watchlist cache write failed", zap.String("symbol", row.SymbolOr("")), zap.Error(err))
	}

	s.writeJSON(w, http.StatusAccepted, Response{Success: true, Data: row})
}

func (s *Server) listPaymentMethodsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.payments.ListByAccount(ctx, auth.AccountIDFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, err, "list_payment_methods")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: list})
}

func (s *Server) createPaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodePaymentInput(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	pm := in.ToPaymentMethod(auth.AccountIDFromContext(r.Context()))
	if err := s.payments.Create(ctx, &pm); err != nil {
		s.writeStoreError(w, err, "create_payment_method")
		return
	}
	s.writeJSON(w, http.StatusCreated, Response{Success: true, Data: pm})
}

func (s *Server) getPaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paymentMethodID(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	pm, err := s.payments.Get(ctx, auth.AccountIDFromContext(r.Context()), id)
	if err != nil {
		s.writeStoreError(w, err, "get_payment_method")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: pm})
}

func (s *Server) updatePaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paymentMethodID(w, r)
	if !ok {
		return
	}
	in, ok := s.decodePaymentInput(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	pm := in.ToPaymentMethod(auth.AccountIDFromContext(r.Context()))
	pm.ID = id
	if err := s.payments.Update(ctx, &pm); err != nil {
		s.writeStoreError(w, err, "update_payment_method")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: pm})
}

func (s *Server) deletePaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paymentMethodID(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.payments.Delete(ctx, auth.AccountIDFromContext(r.Context()), id); err != nil {
		s.writeStoreError(w, err, "delete_payment_method")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) setDefaultPaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.paymentMethodID(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	accountID := auth.AccountIDFromContext(r.Context())
	if err := s.payments.SetDefault(ctx, accountID, id); err != nil {
		s.writeStoreError(w, err, "set_default_payment_method")
		return
	}
	pm, err := s.payments.Get(ctx, accountID, id)
	if err != nil {
		s.writeStoreError(w, err, "get_payment_method")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: pm})
}

func (s *Server) migrationStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	status, err := s.migrations.GetMigrationStatus(ctx)
	if err != nil {
		s.writeStoreError(w, err, "migration_status")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: status})
}

func (s *Server) paymentMethodID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid payment method id")
		return 0, false
	}
	return id, true
}

// decodePaymentInput reads, sanitizes and validates the client-writable fields
func (s *Server) decodePaymentInput(w http.ResponseWriter, r *http.Request) (models.PaymentMethodInput, bool) {
	var in models.PaymentMethodInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return in, false
	}

	in.Sanitize()
	if err := in.Validate(); err != nil {
		s.writeStoreError(w, err, "decode_payment_method")
		return in, false
	}
	return in, true
}
