package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/alim08/fin_desk/pkg/config"
    "github.com/alim08/fin_desk/pkg/database"
    "github.com/alim08/fin_desk/pkg/logger"
    "github.com/alim08/fin_desk/pkg/metrics"
    "github.com/alim08/fin_desk/pkg/redisclient"
    "github.com/go-chi/chi/v5"
    "go.uber.org/zap"
)

func main() {
    // 1. Load config
    cfg, err := config.Load()
    if err != nil {
        panic("config error: " + err.Error())
    }
    if err := cfg.RequireFeed(); err != nil {
        panic("config error: " + err.Error())
    }

    // 2. Init logger
    if err := logger.Init(); err != nil {
        panic("logger init: " + err.Error())
    }
    defer logger.Log.Sync()

    // 3. Connect to Redis and Postgres
    rdb, err := redisclient.New(cfg.RedisURL)
    if err != nil {
        logger.Log.Fatal("invalid redis url", zap.Error(err))
    }
    defer rdb.Close()

    db, err := database.New(database.NewConfig())
    if err != nil {
        logger.Log.Fatal("failed to connect to database", zap.Error(err))
    }
    defer db.Close()

    migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
    err = db.RunMigrations(migrateCtx)
    migrateCancel()
    if err != nil {
        logger.Log.Fatal("failed to run database migrations", zap.Error(err))
    }

    // 4. Start Prometheus metrics endpoint
    metricsSrv := newMetricsServer(cfg.MetricsPort)
    go func() {
        logger.Log.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
        if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Log.Error("metrics server failed", zap.Error(err))
        }
    }()

    // 5. Run the feed until a shutdown signal
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    f := &feed{
        url:     cfg.FeedURL,
        workers: cfg.FeedWorkers,
        buffer:  cfg.FeedBuffer,
        poll:    cfg.FeedPoll,
        rows:    database.NewWatchlistRepository(db),
        cache:   redisclient.NewWatchlistCache(rdb),
        timeout: cfg.RequestTimeout,
    }
    f.run(ctx)
    logger.Log.Info("shutdown signal received, exiting")

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    metricsSrv.Shutdown(shutdownCtx)
}

func newMetricsServer(port int) *http.Server {
    r := chi.NewRouter()
    r.Handle("/metrics", metrics.Handler())
    return &http.Server{
        Addr:              fmt.Sprintf(":%d", port),
        Handler:           r,
        ReadHeaderTimeout: 5 * time.Second,
    }
}
