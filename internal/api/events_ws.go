package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scanbrain/internal/events"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type       string             `json:"type"`
	Instance   string             `json:"instance,omitempty"`
	Completion *events.Completion `json:"completion,omitempty"`
}

// EventsWSHandler streams completion events over a websocket. The optional
// instance query parameter narrows the stream to one instance. A
// connection_ack is sent once the subscription is in place.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	instance := r.URL.Query().Get("instance")
	if instance == "" {
		instance = events.All
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.broker.Subscribe(instance)
	defer s.broker.Unsubscribe(instance, ch)

	write := func(m wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}
	if err := write(wsMessage{Type: "connection_ack", Instance: instance}); err != nil {
		return
	}

	// The read loop only exists to notice the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(wsMessage{Type: "completion", Instance: evt.Instance, Completion: &evt}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
