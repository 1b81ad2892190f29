package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/types"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// handleStream pushes the current state once and then every provider update
// over a WebSocket until the client goes away or the provider closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		log.Ctx(ctx).WarnContext(ctx, "failed to upgrade stream", slog.Any("error", err))
		return
	}
	defer conn.Close()

	updates, cancel := s.telemetry.Subscribe()
	defer cancel()

	// the client sends nothing but control frames, reading is only needed to
	// process them and notice the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(u types.Update) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(u); err != nil {
			log.Ctx(ctx).DebugContext(ctx, "failed to write stream update", slog.Any("error", err))
			return false
		}
		return true
	}

	if !write(types.Update{
		Kind:         types.UpdateSnapshot,
		Snapshot:     s.telemetry.Snapshot(),
		Connectivity: s.telemetry.Connectivity(),
	}) {
		return
	}

	ping := s.clock.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait),
			)
			return
		case <-gone:
			return
		case u, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(streamWriteWait),
				)
				return
			}
			if !write(u) {
				return
			}
		case <-ping.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
