package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alim08/fin_desk/pkg/auth"
	"github.com/alim08/fin_desk/pkg/config"
	"github.com/alim08/fin_desk/pkg/database"
	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/metrics"
	"github.com/alim08/fin_desk/pkg/redisclient"
	"github.com/alim08/fin_desk/pkg/views"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()
	log := logger.Log

	log.Info("starting fin-desk API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	log.Info("configuration loaded", zap.String("environment", cfg.Environment))

	db, err := database.New(database.NewConfig())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal("failed to run database migrations", zap.Error(err))
	}

	redisClient, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to configure Redis", zap.Error(err))
	}
	defer redisClient.Close()

	authService, err := auth.NewAuthService(auth.NewConfig())
	if err != nil {
		log.Fatal("failed to initialize authentication service", zap.Error(err))
	}

	cache := redisclient.NewWatchlistCache(redisClient)
	srv := &Server{
		rows:     database.NewWatchlistRepository(db),
		cache:    cache,
		stream:   cache,
		payments: database.NewPaymentMethodRepository(db),
		checks: map[string]func(context.Context) error{
			"database": db.HealthCheck,
			"redis":    redisClient.Ping,
		},
		migrations: db,
		timeout:    cfg.RequestTimeout,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      newHandler(srv, authService, cfg.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// newHandler builds the router and wraps it in the outer middleware.
func newHandler(s *Server, authService *auth.AuthService, allowedOrigins []string) http.Handler {
	origins := newOriginPolicy(allowedOrigins)
	s.upgrader = newStreamUpgrader(origins)

	router := mux.NewRouter()
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Public watchlist reads
	api.HandleFunc("/watchlist", s.listWatchlistHandler).Methods(http.MethodGet)
	api.HandleFunc("/watchlist/stream", s.streamWatchlistHandler).Methods(http.MethodGet)
	api.HandleFunc("/watchlist/{symbol}", s.getWatchlistRowHandler).Methods(http.MethodGet)

	// Feeder pushes
	feed := api.PathPrefix("/watchlist").Subrouter()
	feed.Use(authService.AuthMiddleware, authService.RoleMiddleware(auth.RoleFeeder))
	feed.HandleFunc("", s.postWatchlistRowHandler).Methods(http.MethodPost)

	// Payment methods, scoped to the caller's account
	pm := api.PathPrefix("/payment-methods").Subrouter()
	pm.Use(authService.AuthMiddleware)
	pm.HandleFunc("", s.listPaymentMethodsHandler).Methods(http.MethodGet)
	pm.HandleFunc("", s.createPaymentMethodHandler).Methods(http.MethodPost)
	pm.HandleFunc("/{id:[0-9]+}", s.getPaymentMethodHandler).Methods(http.MethodGet)
	pm.HandleFunc("/{id:[0-9]+}", s.updatePaymentMethodHandler).Methods(http.MethodPut)
	pm.HandleFunc("/{id:[0-9]+}", s.deletePaymentMethodHandler).Methods(http.MethodDelete)
	pm.HandleFunc("/{id:[0-9]+}/default", s.setDefaultPaymentMethodHandler).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authService.AuthMiddleware, authService.RoleMiddleware(auth.RoleAdmin))
	admin.HandleFunc("/migrations/status", s.migrationStatusHandler).Methods(http.MethodGet)

	router.NotFoundHandler = notFoundHandler()

	return loggingMiddleware(corsMiddleware(origins)(router))
}

// notFoundHandler serves the 404 page for every unmatched route
func notFoundHandler() http.Handler {
	page := views.NotFoundHandler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.NotFoundTotal.Inc()
		page.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

// originPolicy is the CORS_ALLOWED_ORIGINS set shared by CORS and the stream upgrader
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o == "*" {
			p.any = true
		}
		p.allowed[o] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return p.any || (origin != "" && p.allowed[origin])
}

func corsMiddleware(origins originPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origins.any:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origins.allows(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
			}, ", "))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware labels requests by route template to keep label cardinality bounded
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		status := fmt.Sprint(rec.status)
		metrics.APIRequestDuration.WithLabelValues(r.Method, endpoint, status).Observe(time.Since(start).Seconds())
		metrics.APIRequestTotal.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}
