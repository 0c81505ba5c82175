package gateway

import (
	"context"
	"net/http"
	"time"
)

// statusEvent is one message on the live status stream.
type statusEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// handleWebSocket streams periodic status snapshots to the client. Each tick
// leases a session just long enough to read the status block, so a stalled
// instrument never pins a handle between ticks.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().
		Str("request_id", RequestID(r)).
		Str("remote_addr", conn.RemoteAddr().String()).
		Logger()
	logger.Info().Msg("status stream connected")

	// Reader goroutine: we never expect client messages, but reading is how
	// close frames and dead peers are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// The request context ends with the hijack; the stream lives until the
	// peer goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.streamEvent(ctx)); err != nil {
		return
	}
	for {
		select {
		case <-done:
			logger.Info().Msg("status stream disconnected")
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.streamEvent(ctx)); err != nil {
				logger.Debug().Err(err).Msg("status stream write failed")
				return
			}
		}
	}
}

// streamEvent assembles one stream message. Pool saturation or an
// unreachable instrument is reported inside the event instead of tearing the
// stream down.
func (s *Server) streamEvent(ctx context.Context) statusEvent {
	event := statusEvent{Type: "status", Time: time.Now().UTC()}

	sess, err := s.acquire(ctx)
	if err != nil {
		event.Type = "error"
		event.Data = map[string]interface{}{
			"error": err.Error(),
			"pool":  s.pool.Stats(),
		}
		return event
	}
	defer sess.Close()

	event.Data = map[string]interface{}{
		"instrument": s.statusSnapshot(ctx, sess),
		"pool":       s.pool.Stats(),
	}
	return event
}
