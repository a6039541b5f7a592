package main

import (
    "context"
    "io"
    "net/http"
    "time"

    "github.com/alim08/fin_desk/pkg/logger"
    "github.com/alim08/fin_desk/pkg/metrics"
    "go.uber.org/zap"
)

const maxPollBody = 8 << 20

// pollHTTP fetches url every interval and hands each body to handle as a frame.
func pollHTTP(ctx context.Context, url string, interval time.Duration, handle func([]byte)) {
    client := &http.Client{
        Timeout: 5 * time.Second,
        Transport: &http.Transport{
            MaxIdleConns:        10,
            MaxIdleConnsPerHost: 5,
            IdleConnTimeout:     30 * time.Second,
        },
    }
    if interval <= 0 {
        interval = 30 * time.Second
    }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()

    for {
        if body, ok := fetch(ctx, client, url); ok {
            handle(body)
        }
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        }
    }
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, bool) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        logger.Log.Warn("bad feed request", zap.String("url", url), zap.Error(err))
        return nil, false
    }
    resp, err := client.Do(req)
    if err != nil {
        if ctx.Err() == nil {
            logger.Log.Warn("http get failed", zap.String("url", url), zap.Error(err))
            metrics.FeedDropped.WithLabelValues(dropFetch).Inc()
        }
        return nil, false
    }
    defer resp.Body.Close()

    if resp.StatusCode != http.StatusOK {
        logger.Log.Warn("non-200 from HTTP", zap.Int("code", resp.StatusCode))
        metrics.FeedDropped.WithLabelValues(dropFetch).Inc()
        return nil, false
    }
    body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
    if err != nil {
        logger.Log.Warn("http read failed", zap.Error(err))
        metrics.FeedDropped.WithLabelValues(dropFetch).Inc()
        return nil, false
    }
    return body, true
}
