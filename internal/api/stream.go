package api

import (
	"net/http"
	"time"

	"github.com/dkarimoff/evoinbox/internal/bus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvent is the wire shape of one pushed event.
type streamEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// handleStream pushes inbox changes, notifications and feed lifecycle
// transitions to the client. Raw feed rows are not forwarded; clients
// re-query the REST endpoints on inbox.* changes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	inboxCh, unsubInbox := s.bus.Subscribe("inbox.", 64)
	defer unsubInbox()
	notifyCh, unsubNotify := s.bus.Subscribe("notify.", 64)
	defer unsubNotify()
	stateCh, unsubState := s.bus.Subscribe("feed.state_changed", 16)
	defer unsubState()

	// Reader detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(evt bus.Event) bool {
		msg := streamEvent{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			return false
		}
		return true
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt := <-inboxCh:
			if !send(evt) {
				return
			}
		case evt := <-notifyCh:
			if !send(evt) {
				return
			}
		case evt := <-stateCh:
			if !send(evt) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
