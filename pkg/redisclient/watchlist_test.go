package redisclient

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/alim08/fin_desk/pkg/models"
    "github.com/go-redis/redis/v8"
    redismock "github.com/go-redis/redismock/v8"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestStoreRow_PartialRow(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    // only the fields the row carries are written
    mock.ExpectHSet("watchlist:latest:AAPL", "symbol", "AAPL", "price", "150.2").SetVal(2)
    mock.ExpectSAdd(SymbolsKey, "AAPL").SetVal(1)
    mock.ExpectPublish(PubSubChannel, `{"symbol":"AAPL","price":150.2}`).SetVal(1)

    row := models.WatchlistRow{Symbol: strPtr("AAPL"), Price: floatPtr(150.2)}
    if err := cache.StoreRow(context.Background(), row); err != nil {
        t.Fatalf("StoreRow() error = %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unfulfilled expectations: %v", err)
    }
}

func TestStoreRow_RequiresSymbol(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    if err := cache.StoreRow(context.Background(), models.WatchlistRow{Price: floatPtr(1)}); err == nil {
        t.Fatal("StoreRow() should reject a row without a symbol")
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unexpected redis calls: %v", err)
    }
}

func TestGetRow(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    mock.ExpectHGetAll("watchlist:latest:AAPL").SetVal(map[string]string{
        "symbol":    "AAPL",
        "price":     "150.2",
        "confirmed": "true",
    })

    row, err := cache.GetRow(context.Background(), "AAPL")
    if err != nil {
        t.Fatalf("GetRow() error = %v", err)
    }
    if got := row.PresentFields(); len(got) != 3 {
        t.Errorf("PresentFields() = %v", got)
    }
    if *row.Price != 150.2 || !*row.Confirmed {
        t.Errorf("row = %+v", row)
    }
}

func TestGetRow_NotCached(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    mock.ExpectHGetAll("watchlist:latest:MSFT").SetVal(map[string]string{})

    if _, err := cache.GetRow(context.Background(), "MSFT"); !errors.Is(err, ErrRowNotCached) {
        t.Errorf("GetRow() error = %v, want ErrRowNotCached", err)
    }
}

func TestGetRow_Malformed(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    mock.ExpectHGetAll("watchlist:latest:AAPL").SetVal(map[string]string{"price": "abc"})

    if _, err := cache.GetRow(context.Background(), "AAPL"); err == nil {
        t.Error("GetRow() should fail on an unparseable price")
    }
}

func TestSymbols(t *testing.T) {
    db, mock := redismock.NewClientMock()
    cache := NewWatchlistCache(&Client{rdb: db})

    mock.ExpectSMembers(SymbolsKey).SetVal([]string{"MSFT", "AAPL", "BTC-USD"})

    got, err := cache.Symbols(context.Background())
    if err != nil {
        t.Fatalf("Symbols() error = %v", err)
    }
    want := []string{"AAPL", "BTC-USD", "MSFT"}
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("Symbols() = %v, want %v", got, want)
        }
    }
}

func TestForwardRows(t *testing.T) {
    msgs := make(chan *redis.Message, 3)
    msgs <- &redis.Message{Channel: PubSubChannel, Payload: `{"symbol":"AAPL","price":150.2}`}
    msgs <- &redis.Message{Channel: PubSubChannel, Payload: `{not json`}
    msgs <- &redis.Message{Channel: PubSubChannel, Payload: `{"symbol":"MSFT"}`}
    close(msgs)

    out := make(chan models.WatchlistRow, 3)
    forwardRows(context.Background(), msgs, out)
    close(out)

    var got []string
    for row := range out {
        got = append(got, *row.Symbol)
    }
    if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
        t.Errorf("forwarded %v; want [AAPL MSFT]", got)
    }
}

func TestForwardRows_StopsOnCancel(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan struct{})
    go func() {
        forwardRows(ctx, make(chan *redis.Message), make(chan models.WatchlistRow))
        close(done)
    }()
    cancel()
    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatal("forwardRows did not return after cancel")
    }
}
