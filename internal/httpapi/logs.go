package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleLogStream pushes stage events over SSE. Intermediaries tend to drop
// idle connections, so a comment line goes out on every keep-alive tick.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	ch, cancel := s.broadcast.Subscribe(sessionID, 64)
	defer cancel()
	if s.metrics != nil {
		s.metrics.EventSubscribers.Inc()
		defer s.metrics.EventSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleLogSocket is the WebSocket flavor of the stage-event stream, for
// clients that already hold a socket open and want the events multiplexed in.
func (s *Server) handleLogSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("sessionId")
	ch, cancel := s.broadcast.Subscribe(sessionID, 64)
	defer cancel()
	if s.metrics != nil {
		s.metrics.EventSubscribers.Inc()
		defer s.metrics.EventSubscribers.Dec()
	}

	// Reader goroutine only watches for the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("log socket write failed", zap.Error(err))
				return
			}
		}
	}
}
