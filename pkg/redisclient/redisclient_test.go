package redisclient

import (
    "context"
    "errors"
    "sync/atomic"
    "testing"
    "time"

    redismock "github.com/go-redis/redismock/v8"
)

// TestHSet_Success verifies that HSet writes the hash on first attempt.
func TestHSet_Success(t *testing.T) {
    db, mock := redismock.NewClientMock()
    client := &Client{rdb: db}

    mock.ExpectHSet("h", "foo", "bar").SetVal(1)

    if err := client.HSet(context.Background(), "h", "foo", "bar"); err != nil {
        t.Fatalf("unexpected error: %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unfulfilled expectations: %v", err)
    }
}

// TestHSet_RetryOnError ensures HSet retries on a transient Redis error.
func TestHSet_RetryOnError(t *testing.T) {
    db, mock := redismock.NewClientMock()
    client := &Client{rdb: db}

    mock.ExpectHSet("h", "foo", "bar").SetErr(errors.New("i/o timeout"))
    mock.ExpectHSet("h", "foo", "bar").SetVal(1)

    if err := client.HSet(context.Background(), "h", "foo", "bar"); err != nil {
        t.Fatalf("expected success after retry, got %v", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unfulfilled expectations: %v", err)
    }
    if n := atomic.LoadInt64(&client.failureCount); n != 0 {
        t.Errorf("failure count should reset after success, got %d", n)
    }
}

// TestCircuitBreaker_OpensAndRecovers trips the breaker with consecutive
// failures, then lets a trial call close it once the cooldown has passed.
func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
    db, mock := redismock.NewClientMock()
    client := &Client{rdb: db}
    ctx := context.Background()

    for i := 0; i < breakerThreshold; i++ {
        mock.ExpectHGetAll("h").SetErr(errors.New("connection refused"))
    }
    for i := 0; i < breakerThreshold; i++ {
        if _, err := client.HGetAll(ctx, "h"); err == nil {
            t.Fatalf("call %d: expected error", i)
        }
    }
    if s := atomic.LoadInt32(&client.state); s != stateOpen {
        t.Fatalf("state = %d, want open", s)
    }

    // open breaker short-circuits without touching redis
    if _, err := client.HGetAll(ctx, "h"); !errors.Is(err, ErrCircuitBreakerOpen) {
        t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
    }
    if err := client.Publish(ctx, "c", "m"); !errors.Is(err, ErrCircuitBreakerOpen) {
        t.Fatalf("expected ErrCircuitBreakerOpen from Publish, got %v", err)
    }

    atomic.StoreInt64(&client.lastFailure, time.Now().Add(-2*breakerCooldown).Unix())
    mock.ExpectHGetAll("h").SetVal(map[string]string{"a": "1"})
    if _, err := client.HGetAll(ctx, "h"); err != nil {
        t.Fatalf("trial call failed: %v", err)
    }
    if s := atomic.LoadInt32(&client.state); s != stateClosed {
        t.Errorf("state = %d, want closed", s)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unfulfilled expectations: %v", err)
    }
}

// TestCircuitBreaker_HalfOpenFailureReopens keeps the breaker open when the
// trial call fails.
func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
    db, mock := redismock.NewClientMock()
    client := &Client{rdb: db, state: stateOpen, failureCount: breakerThreshold}
    atomic.StoreInt64(&client.lastFailure, time.Now().Add(-2*breakerCooldown).Unix())

    mock.ExpectSMembers("s").SetErr(errors.New("connection refused"))
    if _, err := client.SMembers(context.Background(), "s"); err == nil {
        t.Fatal("expected trial call to fail")
    }
    if s := atomic.LoadInt32(&client.state); s != stateOpen {
        t.Errorf("state = %d, want open", s)
    }
}

// TestCircuitBreaker_SingleTrialCall checks that only one caller gets through
// a cooled-down breaker while the trial is outstanding.
func TestCircuitBreaker_SingleTrialCall(t *testing.T) {
    db, _ := redismock.NewClientMock()
    client := &Client{rdb: db, state: stateOpen, failureCount: breakerThreshold}
    atomic.StoreInt64(&client.lastFailure, time.Now().Add(-2*breakerCooldown).Unix())

    admitted := 0
    for i := 0; i < 10; i++ {
        if client.allow() {
            admitted++
        }
    }
    if admitted != 1 {
        t.Fatalf("admitted %d calls while trial outstanding, want 1", admitted)
    }
    if s := atomic.LoadInt32(&client.state); s != stateHalfOpen {
        t.Fatalf("state = %d, want half-open", s)
    }

    client.record(nil)
    if !client.allow() {
        t.Error("closed breaker should admit calls after a successful trial")
    }
}

// TestHSet_StopsRetryingWhenBreakerOpens verifies the retry loop gives up
// once the failed trial call reopens the breaker.
func TestHSet_StopsRetryingWhenBreakerOpens(t *testing.T) {
    db, mock := redismock.NewClientMock()
    client := &Client{rdb: db, state: stateOpen, failureCount: breakerThreshold}
    atomic.StoreInt64(&client.lastFailure, time.Now().Add(-2*breakerCooldown).Unix())

    mock.ExpectHSet("h", "foo", "bar").SetErr(errors.New("connection refused"))

    err := client.HSet(context.Background(), "h", "foo", "bar")
    if err == nil || err.Error() != "connection refused" {
        t.Fatalf("HSet() error = %v, want connection refused", err)
    }
    if err := mock.ExpectationsWereMet(); err != nil {
        t.Errorf("unexpected extra attempts: %v", err)
    }
    if s := atomic.LoadInt32(&client.state); s != stateOpen {
        t.Errorf("state = %d, want open", s)
    }
}
