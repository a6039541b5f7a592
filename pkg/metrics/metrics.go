package metrics

import (
  "net/http"

  "github.com/prometheus/client_golang/prometheus"
  "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
  // Watchlist feed metrics
  FeedMessages = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "watchlist_feed_messages_total",
      Help: "Total watchlist rows read from the feed",
    })
  FeedDropped = prometheus.NewCounterVec(
    prometheus.CounterOpts{
      Name: "watchlist_feed_dropped_total",
      Help: "Watchlist rows dropped before storage",
    },
    []string{"reason"},
  )
  FeedStored = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "watchlist_feed_stored_total",
      Help: "Watchlist rows written to cache and database",
    })
  FeedStoreLatency = prometheus.NewHistogram(
    prometheus.HistogramOpts{
      Name:    "watchlist_feed_store_latency_seconds",
      Help:    "Time to store one watchlist row",
      Buckets: prometheus.DefBuckets,
    })
  FeedReconnects = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "watchlist_feed_reconnects_total",
      Help: "Websocket feed dial attempts after the first",
    })

  // API metrics
  APIRequestDuration = prometheus.NewHistogramVec(
    prometheus.HistogramOpts{
      Name:    "api_request_duration_seconds",
      Help:    "API request duration",
      Buckets: prometheus.DefBuckets,
    },
    []string{"method", "endpoint", "status"},
  )
  APIRequestTotal = prometheus.NewCounterVec(
    prometheus.CounterOpts{
      Name: "api_requests_total",
      Help: "Total API requests",
    },
    []string{"method", "endpoint", "status"},
  )
  NotFoundTotal = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "api_not_found_total",
      Help: "Requests answered with the 404 page",
    })

  // Redis metrics
  RedisOperationDuration = prometheus.NewHistogramVec(
    prometheus.HistogramOpts{
      Name:    "redis_operation_duration_seconds",
      Help:    "Redis operation duration",
      Buckets: prometheus.DefBuckets,
    },
    []string{"operation", "status"},
  )
  RedisErrors = prometheus.NewCounterVec(
    prometheus.CounterOpts{
      Name: "redis_errors_total",
      Help: "Total Redis errors",
    },
    []string{"operation"},
  )

  // Database metrics
  DatabaseHealthCheckDuration = prometheus.NewHistogram(
    prometheus.HistogramOpts{
      Name:    "database_health_check_duration_seconds",
      Help:    "Database health check duration",
      Buckets: prometheus.DefBuckets,
    })
  DatabaseHealthCheckErrors = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "database_health_check_errors_total",
      Help: "Total database health check errors",
    })
  DatabaseOperationDuration = prometheus.NewHistogramVec(
    prometheus.HistogramOpts{
      Name:    "database_operation_duration_seconds",
      Help:    "Database operation duration",
      Buckets: prometheus.DefBuckets,
    },
    []string{"operation", "status"},
  )
  DatabaseErrors = prometheus.NewCounterVec(
    prometheus.CounterOpts{
      Name: "database_errors_total",
      Help: "Total database errors",
    },
    []string{"operation"},
  )
  DefaultPaymentMethodChanges = prometheus.NewCounter(
    prometheus.CounterOpts{
      Name: "payment_method_default_changes_total",
      Help: "Times an account's default payment method was switched",
    })

  // Authentication metrics
  AuthOperationDuration = prometheus.NewHistogramVec(
    prometheus.HistogramOpts{
      Name:    "auth_operation_duration_seconds",
      Help:    "Authentication operation duration",
      Buckets: prometheus.DefBuckets,
    },
    []string{"operation", "status"},
  )
  AuthMiddlewareErrors = prometheus.NewCounterVec(
    prometheus.CounterOpts{
      Name: "auth_middleware_errors_total",
      Help: "Total authentication middleware errors",
    },
    []string{"error_type"},
  )
)

func init() {
  // MustRegister panics if registration fails (e.g. duplicate)
  prometheus.MustRegister(
    FeedMessages, FeedDropped, FeedStored, FeedStoreLatency, FeedReconnects,
    APIRequestDuration, APIRequestTotal, NotFoundTotal,
    RedisOperationDuration, RedisErrors,
    DatabaseHealthCheckDuration, DatabaseHealthCheckErrors,
    DatabaseOperationDuration, DatabaseErrors, DefaultPaymentMethodChanges,
    AuthOperationDuration, AuthMiddlewareErrors,
  )
}

// Handler exposes the default registry.
func Handler() http.Handler {
  return promhttp.Handler()
}

// Status maps an error to the "status" label value.
func Status(err error) string {
  if err != nil {
    return "error"
  }
  return "success"
}
