// Package transport terminates signaling WebSocket connections and drives
// the room manager and client registry. Adapted from the teacher's
// internal/handlers, with the pion-webrtc peer-connection body replaced by
// plain envelope relay.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"rendezvous/internal/keepalive"
	"rendezvous/internal/metrics"
	"rendezvous/internal/persistence"
	"rendezvous/internal/registry"
	"rendezvous/internal/signaling"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn serializes concurrent writers onto one gorilla connection, the
// same shape as the teacher's ThreadSafeWriter.
type safeConn struct {
	*websocket.Conn
	sync.Mutex
}

func (c *safeConn) WriteJSON(v any) error {
	c.Lock()
	defer c.Unlock()
	return c.Conn.WriteJSON(v)
}

// Handler wires the WebSocket endpoint to a RoomManager and a Registry.
type Handler struct {
	Manager   *signaling.Manager
	Registry  *registry.Registry
	Store     *persistence.Store // audit sink; nil disables room-event recording
	Logger    logging.LeveledLogger
	Keepalive keepalive.Config
}

// recordEvent persists a join/leave/sender-rejection audit row, swallowing
// the error beyond a log line since an audit-trail gap must never take
// down a live connection.
func (h *Handler) recordEvent(roomID, eventType, connectionID string, detail map[string]interface{}) {
	if h.Store == nil {
		return
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		h.Logger.Errorf("failed to marshal room event detail: %v", err)
		return
	}
	if err := h.Store.RecordRoomEvent(roomID, eventType, connectionID, raw); err != nil {
		h.Logger.Errorf("failed to record room event room=%s type=%s: %v", roomID, eventType, err)
	}
}

// ServeHTTP upgrades the request and runs the connection's read/write loop
// until the client disconnects. The room id is taken from the URL path
// "/ws/{room_id}"; the connection id is the connection_id of the first
// envelope that carries one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			h.Logger.Errorf("panic in signaling handler: %v", err)
		}
	}()

	roomID := roomIDFromPath(r.URL.Path)
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	unsafeConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	conn := &safeConn{Conn: unsafeConn}
	defer conn.Close() //nolint:errcheck

	mon := keepalive.NewMonitor(unsafeConn, h.Logger, h.Keepalive)
	mon.Start()
	defer mon.Stop()

	metrics.RecordConnectionCreated()
	defer metrics.RecordConnectionClosed()

	var connectionID string
	var outbox <-chan signaling.Envelope
	stopPump := make(chan struct{})
	defer close(stopPump)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Infof("signaling connection closed normally (room=%s)", roomID)
			} else {
				h.Logger.Errorf("signaling read error (room=%s): %v", roomID, err)
			}
			break
		}

		env, err := signaling.Decode(raw)
		if err != nil {
			h.Logger.Errorf("failed to decode envelope: %v", err)
			continue
		}
		metrics.RecordMessageProcessed()
		recordDomainMetric(env.Type)

		if connectionID == "" && env.ConnectionID != nil {
			connectionID = *env.ConnectionID
			outbox = h.Registry.Register(connectionID)
			go h.pumpOutbound(conn, outbox, stopPump)
			h.Logger.Infof("registered signaling connection %s in room %s", connectionID, roomID)
		}

		if env.Type == signaling.TypeJoin {
			h.recordEvent(roomID, "join", connectionID, map[string]interface{}{
				"is_sender": env.IsSenderOr(false),
			})
		}

		responses := h.Manager.HandleMessage(roomID, env)
		for _, resp := range responses {
			if resp.Type == signaling.TypeError {
				metrics.RecordSenderRejection()
				h.recordEvent(roomID, "sender_rejected", connectionID, map[string]interface{}{
					"reason": resp.Data,
				})
			}
		}
		h.Registry.Deliver(responses)
	}

	if connectionID != "" {
		responses := h.Manager.RemoveConnection(roomID, connectionID)
		h.Registry.Deliver(responses)
		h.Registry.Unregister(connectionID)
		h.recordEvent(roomID, "leave", connectionID, nil)
		h.Logger.Infof("signaling connection %s left room %s", connectionID, roomID)
	}
}

// pumpOutbound drains the registry queue onto the wire until stop fires or a
// write fails.
func (h *Handler) pumpOutbound(conn *safeConn, outbox <-chan signaling.Envelope, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case env, ok := <-outbox:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				h.Logger.Errorf("failed to write outbound envelope: %v", err)
				return
			}
		}
	}
}

// roomIDFromPath extracts {room_id} from "/ws/{room_id}" or
// "/ws/{room_id}/" — whatever trailing segment follows the ws prefix.
func roomIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/ws/")
	if trimmed == path {
		return ""
	}
	return strings.Trim(trimmed, "/")
}

func recordDomainMetric(t signaling.MessageType) {
	switch t {
	case signaling.TypeJoin:
		metrics.RecordJoin()
	case signaling.TypeOffer:
		metrics.RecordOffer()
	case signaling.TypeInferenceResult:
		metrics.RecordInferenceResult()
	}
}
