package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// rowSubscriber delivers rows as the feed stores them
type rowSubscriber interface {
	Subscribe(ctx context.Context) (<-chan models.WatchlistRow, error)
}

// newStreamUpgrader extends gorilla's same-origin check with the CORS allow-list.
func newStreamUpgrader(origins originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origins.allows(origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// streamWatchlistHandler pushes every stored row to a websocket client.
// ?symbols=AAPL,MSFT limits the stream to those symbols.
func (s *Server) streamWatchlistHandler(w http.ResponseWriter, r *http.Request) {
	filter := symbolFilter(r.URL.Query().Get("symbols"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rows, err := s.stream.Subscribe(ctx)
	if err != nil {
		logger.Log.Error("watchlist subscribe failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	defer conn.Close()

	// The client only sends control frames; reading them keeps pongs flowing
	// and notices when it goes away.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		case row, ok := <-rows:
			if !ok {
				return
			}
			if filter != nil && !filter[row.SymbolOr("")] {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(row); err != nil {
				logger.Log.Debug("stream client write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// symbolFilter parses a comma separated symbol list. nil means no filter.
func symbolFilter(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	filter := map[string]bool{}
	for _, sym := range strings.Split(raw, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			filter[sym] = true
		}
	}
	return filter
}
