package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dublintech/callbridge/internal/callserver/app"
	"github.com/dublintech/callbridge/internal/callserver/domain"
)

const writeTimeout = 10 * time.Second

// SubscriberHandler upgrades /hubs/calls requests to WebSocket connections
// and bridges them onto the hub. Each connection gets its own subscriber and
// delivery goroutine so one stalled socket never blocks another.
type SubscriberHandler struct {
	hub      *app.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewSubscriberHandler(hub *app.Hub, logger *slog.Logger) *SubscriberHandler {
	return &SubscriberHandler{
		hub:    hub,
		logger: logger.With("component", "calls_hub_ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Operator clients connect from arbitrary origins; there is
			// no operator authentication in this design.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /hubs/calls.
func (h *SubscriberHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	sub := h.hub.Join(connID, r.URL.Query().Get("group"))
	regroup := make(chan string)

	go h.writeLoop(conn, sub, regroup)
	h.readLoop(conn, connID, regroup)
}

// writeLoop is the connection's only writer for its whole life. Group
// re-joins arrive on regroup and are performed here, so a replacement
// subscriber never spawns a second goroutine writing to the same socket.
// It returns when regroup is closed by the read loop.
func (h *SubscriberHandler) writeLoop(conn *websocket.Conn, sub *app.Subscriber, regroup <-chan string) {
	events := sub.C()
	for {
		select {
		case group, ok := <-regroup:
			if !ok {
				// Read loop is gone. The registration is normally removed
				// there, but a re-join racing the disconnect lands here.
				if events != nil {
					h.hub.Remove(sub)
				}
				conn.Close()
				return
			}
			if events == nil {
				continue
			}
			old := sub
			sub = h.hub.Join(old.ID(), group)
			events = sub.C()
			h.logger.Info("Subscriber joined group", "conn_id", sub.ID(), "group", group)
			// Deliver what the replaced subscriber still had buffered.
			for ev := range old.C() {
				if err := h.writeEvent(conn, ev); err != nil {
					events = h.dropSubscriber(conn, sub, ev.CallSid, err)
					break
				}
			}
		case ev, ok := <-events:
			if !ok {
				// Left or evicted; keep draining regroup until the read
				// loop notices the closed socket.
				conn.Close()
				events = nil
				continue
			}
			if err := h.writeEvent(conn, ev); err != nil {
				events = h.dropSubscriber(conn, sub, ev.CallSid, err)
			}
		}
	}
}

func (h *SubscriberHandler) writeEvent(conn *websocket.Conn, ev domain.CallArrivalEvent) error {
	msg := domain.ServerMessage{Type: domain.MessageTypeIncomingCall, Data: ev}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// dropSubscriber tears down a subscriber whose socket write failed. It
// returns the nil events channel the write loop parks on afterwards.
func (h *SubscriberHandler) dropSubscriber(conn *websocket.Conn, sub *app.Subscriber, callSid string, err error) <-chan domain.CallArrivalEvent {
	h.logger.Warn("Delivery failed, dropping subscriber",
		"conn_id", sub.ID(), "call_sid", callSid, "error", err)
	h.hub.Remove(sub)
	conn.Close()
	return nil
}

// readLoop consumes client messages (joinGroup) and detects disconnects.
func (h *SubscriberHandler) readLoop(conn *websocket.Conn, connID string, regroup chan<- string) {
	defer func() {
		close(regroup)
		h.hub.Leave(connID)
		conn.Close()
	}()

	for {
		var msg domain.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("Subscriber connection closed", "conn_id", connID, "error", err)
			}
			return
		}

		switch msg.Type {
		case domain.MessageTypeJoinGroup:
			regroup <- msg.Group
		default:
			h.logger.Debug("Ignoring unknown client message", "conn_id", connID, "type", msg.Type)
		}
	}
}
