package config

import (
    "flag"
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"
)

type Config struct {
    Environment    string
    RedisURL       string
    HTTPPort       int
    MetricsPort    int
    FeedURL        string
    FeedWorkers    int
    FeedBuffer     int
    FeedPoll       time.Duration
    RequestTimeout time.Duration
    AllowedOrigins []string
}

// Load reads environment variables and application flags (via a local FlagSet),
// strips out any -test.* flags, and validates required fields.
func Load() (*Config, error) {
    fs := flag.NewFlagSet("config", flag.ContinueOnError)

    var redisURL, feedURL string
    var httpPort, metricsPort int
    fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL")
    fs.StringVar(&feedURL, "feed", os.Getenv("FEED_URL"), "Watchlist websocket feed URL")
    fs.IntVar(&httpPort, "port", 8080, "HTTP listen port")
    fs.IntVar(&metricsPort, "metrics-port", 8082, "Metrics server port")

    var appArgs []string
    for _, arg := range os.Args[1:] {
        if strings.HasPrefix(arg, "-test.") {
            continue
        }
        appArgs = append(appArgs, arg)
    }
    if err := fs.Parse(appArgs); err != nil {
        return nil, err
    }

    cfg := &Config{
        Environment:    getEnvOrDefault("ENVIRONMENT", "production"),
        RedisURL:       redisURL,
        HTTPPort:       httpPort,
        MetricsPort:    metricsPort,
        FeedURL:        feedURL,
        FeedWorkers:    5,
        FeedBuffer:     1000,
        FeedPoll:       getDurationEnvOrDefault("FEED_POLL_INTERVAL", 30*time.Second),
        RequestTimeout: getDurationEnvOrDefault("REQUEST_TIMEOUT", 10*time.Second),
        AllowedOrigins: []string{"*"},
    }

    // PORT overrides the flag/default if set
    if portEnv := os.Getenv("PORT"); portEnv != "" {
        portVal, err := strconv.Atoi(portEnv)
        if err != nil {
            return nil, fmt.Errorf("invalid PORT env var: %w", err)
        }
        cfg.HTTPPort = portVal
    }
    if portEnv := os.Getenv("METRICS_PORT"); portEnv != "" {
        portVal, err := strconv.Atoi(portEnv)
        if err != nil {
            return nil, fmt.Errorf("invalid METRICS_PORT env var: %w", err)
        }
        cfg.MetricsPort = portVal
    }

    if workers := os.Getenv("FEED_WORKERS"); workers != "" {
        if n, err := strconv.Atoi(workers); err == nil && n > 0 {
            cfg.FeedWorkers = n
        }
    }
    if buf := os.Getenv("FEED_BUFFER"); buf != "" {
        if n, err := strconv.Atoi(buf); err == nil && n > 0 {
            cfg.FeedBuffer = n
        }
    }
    if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
        if parts := splitAndTrim(origins, ","); len(parts) > 0 {
            cfg.AllowedOrigins = parts
        }
    }

    if cfg.RedisURL == "" {
        return nil, fmt.Errorf("missing required config: REDIS_URL or -redis")
    }

    return cfg, nil
}

// RequireFeed reports an error when no usable feed URL is configured.
// ws:// and wss:// feeds stream; http:// and https:// feeds are polled.
func (c *Config) RequireFeed() error {
    if c.FeedURL == "" {
        return fmt.Errorf("missing required config: FEED_URL or -feed")
    }
    for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
        if strings.HasPrefix(c.FeedURL, scheme) {
            return nil
        }
    }
    return fmt.Errorf("feed URL must be ws(s):// or http(s)://, got %q", c.FeedURL)
}

// splitAndTrim splits s on sep, trims spaces, and drops empty entries.
func splitAndTrim(s, sep string) []string {
    parts := []string{}
    for _, p := range strings.Split(s, sep) {
        if t := strings.TrimSpace(p); t != "" {
            parts = append(parts, t)
        }
    }
    return parts
}

func getEnvOrDefault(key, defaultValue string) string {
    if value := os.Getenv(key); value != "" {
        return value
    }
    return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
    if value := os.Getenv(key); value != "" {
        if duration, err := time.ParseDuration(value); err == nil {
            return duration
        }
    }
    return defaultValue
}
