package main

import (
    "bytes"
    "context"
    "encoding/json"
    "hash/fnv"
    "strings"
    "sync"
    "time"

    "github.com/alim08/fin_desk/pkg/database"
    "github.com/alim08/fin_desk/pkg/logger"
    "github.com/alim08/fin_desk/pkg/metrics"
    "github.com/alim08/fin_desk/pkg/models"
    "go.uber.org/zap"
)

// Drop reasons, used as the metrics label
const (
    dropMalformed  = "malformed"
    dropInvalid    = "invalid"
    dropNoSymbol   = "no_symbol"
    dropBufferFull = "buffer_full"
    dropFetch      = "fetch_failed"
)

type rowStore interface {
    UpsertRow(ctx context.Context, row *models.WatchlistRow) error
}

type rowCache interface {
    StoreRow(ctx context.Context, row models.WatchlistRow) error
}

// feed reads partial watchlist rows from one source and writes each to the
// cache and the database. Rows for a symbol always go to the same worker so
// their updates apply in arrival order.
type feed struct {
    url     string
    workers int
    buffer  int
    poll    time.Duration
    rows    rowStore
    cache   rowCache
    timeout time.Duration

    queues []chan models.WatchlistRow
}

// run blocks until ctx is cancelled and every queued row has been written.
func (f *feed) run(ctx context.Context) {
    logger.Log.Info("starting feed", zap.String("url", f.url), zap.Int("workers", f.workers))

    if f.workers < 1 {
        f.workers = 1
    }
    perWorker := f.buffer / f.workers
    if perWorker < 1 {
        perWorker = 1
    }

    var wg sync.WaitGroup
    f.queues = make([]chan models.WatchlistRow, f.workers)
    for i := range f.queues {
        f.queues[i] = make(chan models.WatchlistRow, perWorker)
        wg.Add(1)
        go func(id int, rows <-chan models.WatchlistRow) {
            defer wg.Done()
            for row := range rows {
                f.store(row)
            }
            logger.Log.Debug("writer exiting", zap.Int("worker", id))
        }(i, f.queues[i])
    }

    if strings.HasPrefix(f.url, "ws://") || strings.HasPrefix(f.url, "wss://") {
        readWebSocket(ctx, f.url, f.handleFrame)
    } else {
        pollHTTP(ctx, f.url, f.poll, f.handleFrame)
    }

    // readers have returned, so nothing sends any more
    for _, q := range f.queues {
        close(q)
    }
    wg.Wait()
    logger.Log.Info("feed terminated", zap.String("url", f.url))
}

// handleFrame decodes one frame and queues every accepted row.
func (f *feed) handleFrame(data []byte) {
    rows, err := decodeFrame(data)
    if err != nil {
        logger.Log.Warn("dropping malformed frame", zap.Error(err))
        metrics.FeedDropped.WithLabelValues(dropMalformed).Inc()
        return
    }

    for _, row := range rows {
        metrics.FeedMessages.Inc()
        if reason := checkRow(&row); reason != "" {
            metrics.FeedDropped.WithLabelValues(reason).Inc()
            continue
        }
        f.enqueue(row)
    }
}

// enqueue drops the row when its worker is saturated rather than stall the reader
func (f *feed) enqueue(row models.WatchlistRow) {
    q := f.queues[shard(*row.Symbol, len(f.queues))]
    select {
    case q <- row:
    default:
        logger.Log.Warn("queue full, dropping row", zap.String("symbol", *row.Symbol))
        metrics.FeedDropped.WithLabelValues(dropBufferFull).Inc()
    }
}

// store writes one row. The context is detached from the reader's so rows
// already queued at shutdown are still written.
func (f *feed) store(row models.WatchlistRow) {
    start := time.Now()
    ctx, cancel := context.WithTimeout(context.Background(), f.storeTimeout())
    defer cancel()

    symbol := zap.String("symbol", *row.Symbol)
    if err := f.rows.UpsertRow(ctx, &row); err != nil {
        logger.Log.Warn("database write failed", symbol, zap.Error(err))
        return
    }
    if err := f.cache.StoreRow(ctx, row); err != nil {
        logger.Log.Warn("cache write failed", symbol, zap.Error(err))
        return
    }
    metrics.FeedStored.Inc()
    metrics.FeedStoreLatency.Observe(time.Since(start).Seconds())
}

func (f *feed) storeTimeout() time.Duration {
    if f.timeout > 0 {
        return f.timeout
    }
    return 10 * time.Second
}

// decodeFrame accepts a single row object or an array of rows.
func decodeFrame(data []byte) ([]models.WatchlistRow, error) {
    data = bytes.TrimSpace(data)
    if len(data) > 0 && data[0] == '[' {
        var rows []models.WatchlistRow
        if err := json.Unmarshal(data, &rows); err != nil {
            return nil, err
        }
        return rows, nil
    }
    var row models.WatchlistRow
    if err := json.Unmarshal(data, &row); err != nil {
        return nil, err
    }
    return []models.WatchlistRow{row}, nil
}

// checkRow sanitizes row and returns a drop reason, or "" to accept it.
func checkRow(row *models.WatchlistRow) string {
    row.Sanitize()
    if row.Symbol == nil || *row.Symbol == "" {
        return dropNoSymbol
    }
    if err := database.ValidateRow(*row); err != nil {
        logger.Log.Debug("dropping invalid row", zap.String("symbol", *row.Symbol), zap.Error(err))
        return dropInvalid
    }
    return ""
}

func shard(symbol string, n int) int {
    h := fnv.New32a()
    h.Write([]byte(symbol))
    return int(h.Sum32() % uint32(n))
}
