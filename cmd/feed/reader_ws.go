package main

import (
    "context"
    "errors"
    "time"

    "github.com/alim08/fin_desk/pkg/logger"
    "github.com/alim08/fin_desk/pkg/metrics"
    "github.com/cenkalti/backoff/v4"
    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

const wsHandshakeTimeout = 10 * time.Second

// readWebSocket streams frames from url into handle, redialing with
// exponential backoff until ctx is cancelled.
func readWebSocket(ctx context.Context, url string, handle func([]byte)) {
    eb := backoff.NewExponentialBackOff()
    eb.MaxElapsedTime = 0 // retry forever
    bo := backoff.WithContext(eb, ctx)
    dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}

    attempt := 0
    err := backoff.Retry(func() error {
        if attempt > 0 {
            metrics.FeedReconnects.Inc()
        }
        attempt++

        logger.Log.Info("dialing websocket", zap.String("url", url))
        conn, _, err := dialer.DialContext(ctx, url, nil)
        if err != nil {
            if ctx.Err() != nil {
                return backoff.Permanent(ctx.Err())
            }
            logger.Log.Warn("ws dial error", zap.Error(err))
            return err
        }
        defer conn.Close()
        eb.Reset()

        // unblock ReadMessage on shutdown
        done := make(chan struct{})
        defer close(done)
        go func() {
            select {
            case <-ctx.Done():
                conn.WriteControl(websocket.CloseMessage,
                    websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
                    time.Now().Add(time.Second))
                conn.Close()
            case <-done:
            }
        }()

        for {
            msgType, data, err := conn.ReadMessage()
            if err != nil {
                if ctx.Err() != nil {
                    return backoff.Permanent(ctx.Err())
                }
                logger.Log.Warn("ws read error", zap.Error(err))
                return err
            }
            if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
                continue
            }
            handle(data)
        }
    }, bo)

    if err != nil && !errors.Is(err, context.Canceled) {
        logger.Log.Error("websocket reader stopped", zap.Error(err))
    }
}
