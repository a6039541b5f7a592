package redisclient

import (
  "context"
  "errors"
  "sync/atomic"
  "time"

  "github.com/alim08/fin_desk/pkg/logger"
  "github.com/alim08/fin_desk/pkg/metrics"
  "github.com/cenkalti/backoff/v4"
  "github.com/go-redis/redis/v8"
  "go.uber.org/zap"
)

var (
  ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

const (
  stateClosed int32 = iota
  stateOpen
  stateHalfOpen
)

const (
  breakerThreshold = 5
  breakerCooldown  = 30 * time.Second
  attemptTimeout   = 100 * time.Millisecond
  publishTimeout   = 50 * time.Millisecond
  maxRetries       = 3
)

type Client struct {
  rdb *redis.Client
  // Circuit breaker state
  failureCount int64
  lastFailure  int64
  state        int32
}

// New constructs a Client with sensible defaults & retry logic
func New(redisURL string) (*Client, error) {
  opt, err := redis.ParseURL(redisURL)
  if err != nil {
    return nil, err
  }
  opt.PoolSize = 20
  opt.MinIdleConns = 5
  opt.MaxRetries = 3
  opt.DialTimeout = 5 * time.Second
  opt.ReadTimeout = 3 * time.Second
  opt.WriteTimeout = 3 * time.Second
  opt.IdleTimeout = 5 * time.Minute
  return &Client{rdb: redis.NewClient(opt)}, nil
}

// withMetrics wraps operations with metrics collection
func (c *Client) withMetrics(operation string, fn func() error) error {
  start := time.Now()
  err := fn()
  metrics.RedisOperationDuration.WithLabelValues(operation, metrics.Status(err)).Observe(time.Since(start).Seconds())
  if err != nil {
    metrics.RedisErrors.WithLabelValues(operation).Inc()
  }
  return err
}

// allow reports whether a call may go through. An open breaker lets a
// single trial call through once the cooldown has passed; every other
// caller is refused until that trial has been recorded.
func (c *Client) allow() bool {
  switch atomic.LoadInt32(&c.state) {
  case stateClosed:
    return true
  case stateHalfOpen:
    return false
  }
  last := time.Unix(atomic.LoadInt64(&c.lastFailure), 0)
  if time.Since(last) < breakerCooldown {
    return false
  }
  return atomic.CompareAndSwapInt32(&c.state, stateOpen, stateHalfOpen)
}

// record updates the circuit breaker with the outcome of one call
func (c *Client) record(err error) {
  if err != nil && !errors.Is(err, redis.Nil) {
    atomic.StoreInt64(&c.lastFailure, time.Now().Unix())
    n := atomic.AddInt64(&c.failureCount, 1)
    if atomic.CompareAndSwapInt32(&c.state, stateHalfOpen, stateOpen) {
      logger.Log.Warn("circuit breaker reopened", zap.Error(err))
      return
    }
    if n >= breakerThreshold && atomic.CompareAndSwapInt32(&c.state, stateClosed, stateOpen) {
      logger.Log.Warn("circuit breaker opened", zap.Int64("failures", n), zap.Error(err))
    }
    return
  }
  atomic.StoreInt64(&c.failureCount, 0)
  if atomic.SwapInt32(&c.state, stateClosed) != stateClosed {
    logger.Log.Info("circuit breaker closed")
  }
}

// retry runs op under the breaker with exponential backoff
func (c *Client) retry(ctx context.Context, op func(ctx context.Context) error) error {
  if !c.allow() {
    return ErrCircuitBreakerOpen
  }
  attempt := func() error {
    actx, cancel := context.WithTimeout(ctx, attemptTimeout)
    defer cancel()
    err := op(actx)
    c.record(err)
    if err != nil && atomic.LoadInt32(&c.state) != stateClosed {
      return backoff.Permanent(err)
    }
    return err
  }
  b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
  return backoff.Retry(attempt, b)
}

// HSet sets hash fields with retry. values are alternating field/value pairs.
func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) error {
  return c.withMetrics("hset", func() error {
    return c.retry(ctx, func(ctx context.Context) error {
      return c.rdb.HSet(ctx, key, values...).Err()
    })
  })
}

// SAdd adds members to a set with retry
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
  return c.withMetrics("sadd", func() error {
    return c.retry(ctx, func(ctx context.Context) error {
      return c.rdb.SAdd(ctx, key, members...).Err()
    })
  })
}

// Publish wraps rdb.Publish with a short timeout and no retry
func (c *Client) Publish(ctx context.Context, channel string, msg interface{}) error {
  return c.withMetrics("publish", func() error {
    if !c.allow() {
      return ErrCircuitBreakerOpen
    }
    ctx, cancel := context.WithTimeout(ctx, publishTimeout)
    defer cancel()
    err := c.rdb.Publish(ctx, channel, msg).Err()
    c.record(err)
    return err
  })
}

// HGetAll retrieves all fields from a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
  var out map[string]string
  err := c.withMetrics("hgetall", func() error {
    if !c.allow() {
      return ErrCircuitBreakerOpen
    }
    var err error
    out, err = c.rdb.HGetAll(ctx, key).Result()
    c.record(err)
    return err
  })
  return out, err
}

// SMembers lists the members of a set
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
  var out []string
  err := c.withMetrics("smembers", func() error {
    if !c.allow() {
      return ErrCircuitBreakerOpen
    }
    var err error
    out, err = c.rdb.SMembers(ctx, key).Result()
    c.record(err)
    return err
  })
  return out, err
}

// Ping checks connectivity, bypassing the breaker
func (c *Client) Ping(ctx context.Context) error {
  return c.withMetrics("ping", func() error {
    return c.rdb.Ping(ctx).Err()
  })
}

// Subscribe creates a pub/sub subscription
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
  return c.rdb.Subscribe(ctx, channels...)
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
  return c.rdb.Close()
}
