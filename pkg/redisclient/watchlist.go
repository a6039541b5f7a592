package redisclient

import (
  "context"
  "errors"
  "fmt"
  "sort"

  "github.com/alim08/fin_desk/pkg/logger"
  "github.com/alim08/fin_desk/pkg/models"
  "github.com/go-redis/redis/v8"
  "go.uber.org/zap"
)

const (
  // LatestKeyPrefix prefixes the per-symbol hash holding the latest row
  LatestKeyPrefix = "watchlist:latest:"
  // SymbolsKey is the set of every symbol with a cached row
  SymbolsKey = "watchlist:symbols"
  // PubSubChannel carries each stored row as JSON
  PubSubChannel = "watchlist:pubsub"
)

var ErrRowNotCached = errors.New("watchlist row not cached")

// LatestKey returns the hash key for symbol
func LatestKey(symbol string) string {
  return LatestKeyPrefix + symbol
}

// WatchlistCache keeps the latest row per symbol in redis hashes.
type WatchlistCache struct {
  client *Client
}

func NewWatchlistCache(client *Client) *WatchlistCache {
  return &WatchlistCache{client: client}
}

// StoreRow writes the present fields of row into its hash, so a partial row
// only overwrites what it carries, then announces the row on the channel.
func (w *WatchlistCache) StoreRow(ctx context.Context, row models.WatchlistRow) error {
  if row.Symbol == nil || *row.Symbol == "" {
    return errors.New("watchlist row has no symbol")
  }
  symbol := *row.Symbol

  if err := w.client.HSet(ctx, LatestKey(symbol), hashValues(row)...); err != nil {
    return fmt.Errorf("hset %s: %w", symbol, err)
  }
  if err := w.client.SAdd(ctx, SymbolsKey, symbol); err != nil {
    return fmt.Errorf("sadd %s: %w", symbol, err)
  }

  msg, err := row.ToJSON()
  if err != nil {
    return err
  }
  if err := w.client.Publish(ctx, PubSubChannel, msg); err != nil {
    return fmt.Errorf("publish %s: %w", symbol, err)
  }
  return nil
}

// GetRow reads the cached row for symbol
func (w *WatchlistCache) GetRow(ctx context.Context, symbol string) (models.WatchlistRow, error) {
  m, err := w.client.HGetAll(ctx, LatestKey(symbol))
  if err != nil {
    return models.WatchlistRow{}, fmt.Errorf("hgetall %s: %w", symbol, err)
  }
  if len(m) == 0 {
    return models.WatchlistRow{}, ErrRowNotCached
  }
  return models.WatchlistRowFromMap(m)
}

// Symbols lists every cached symbol in sorted order
func (w *WatchlistCache) Symbols(ctx context.Context) ([]string, error) {
  symbols, err := w.client.SMembers(ctx, SymbolsKey)
  if err != nil {
    return nil, fmt.Errorf("smembers: %w", err)
  }
  sort.Strings(symbols)
  return symbols, nil
}

// Subscribe streams every row announced on PubSubChannel until ctx is done.
// The returned channel is closed when the subscription ends.
func (w *WatchlistCache) Subscribe(ctx context.Context) (<-chan models.WatchlistRow, error) {
  ps := w.client.Subscribe(ctx, PubSubChannel)
  if _, err := ps.Receive(ctx); err != nil {
    ps.Close()
    return nil, fmt.Errorf("subscribe %s: %w", PubSubChannel, err)
  }

  out := make(chan models.WatchlistRow, 64)
  go func() {
    defer close(out)
    defer ps.Close()
    forwardRows(ctx, ps.Channel(), out)
  }()
  return out, nil
}

// forwardRows decodes pub/sub payloads into rows, skipping malformed ones.
func forwardRows(ctx context.Context, msgs <-chan *redis.Message, out chan<- models.WatchlistRow) {
  for {
    select {
    case <-ctx.Done():
      return
    case msg, ok := <-msgs:
      if !ok {
        return
      }
      row, err := models.WatchlistRowFromJSON(msg.Payload)
      if err != nil {
        logger.Log.Warn("skipping malformed watchlist message", zap.Error(err))
        continue
      }
      select {
      case out <- row:
      case <-ctx.Done():
        return
      }
    }
  }
}

// hashValues flattens the present fields into field/value pairs in
// declaration order.
func hashValues(row models.WatchlistRow) []interface{} {
  m := row.ToMap()
  fields := row.PresentFields()
  values := make([]interface{}, 0, 2*len(fields))
  for _, f := range fields {
    values = append(values, f, m[f])
  }
  return values
}
