package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// senderAlreadyExistsError is the exact text the spec requires on the
// wire for a rejected duplicate-sender join.
const senderAlreadyExistsError = "Sender already exists in this room"

// Manager is the central dispatcher: the room table and inference store,
// guarded by one write lock spanning each call. All outbound delivery
// happens outside the lock (the transport does it after HandleMessage
// returns), so the lock only ever protects in-memory bookkeeping.
type Manager struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	inference map[string]map[string]json.RawMessage // room_id -> source_sender_id -> latest payload

	sink   Sink
	logger logging.LeveledLogger
}

// NewManager builds an empty manager. sink may be NopSink{} to disable
// persistence entirely.
func NewManager(sink Sink, logger logging.LeveledLogger) *Manager {
	return &Manager{
		rooms:     make(map[string]*Room),
		inference: make(map[string]map[string]json.RawMessage),
		sink:      sink,
		logger:    logger,
	}
}

// CreateRoom is idempotent; if the room already exists the call is a no-op.
func (m *Manager) CreateRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[roomID]; exists {
		return
	}
	m.rooms[roomID] = newRoom(roomID)
}

// Snapshot returns the current connection count per live room. Used only by
// the ops REST surface; never consulted by the signaling path.
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.rooms))
	for id, room := range m.rooms {
		out[id] = room.connectionCount()
	}
	return out
}

// RoomExists reports whether roomID has been created.
func (m *Manager) RoomExists(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// HandleMessage is the state-machine step. It returns an empty slice if the
// room does not exist, or if the envelope's type needs no response.
func (m *Manager) HandleMessage(roomID string, env Envelope) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}

	switch env.Type {
	case TypeJoin:
		return m.handleJoin(roomID, room, env)
	case TypeOffer:
		return m.handleOffer(room, env)
	case TypeAnswer:
		return []Envelope{env}
	case TypeICECandidate:
		return m.handleICECandidate(room, env)
	case TypeInferenceResult:
		return m.handleInferenceResult(roomID, room, env)
	default:
		// leave, room_info, error, new_peer, inference_update received
		// inbound: no response produced.
		return nil
	}
}

func (m *Manager) handleJoin(roomID string, room *Room, env Envelope) []Envelope {
	if env.ConnectionID == nil || env.IsSender == nil {
		return nil
	}
	connectionID := env.ConnectionIDOr("")
	isSender := env.IsSenderOr(false)

	if isSender && room.hasSender() {
		return []Envelope{errorEnvelope(connectionID, senderAlreadyExistsError)}
	}

	room.Connections[connectionID] = ConnectionInfo{
		ID:          connectionID,
		IsSender:    isSender,
		ConnectedAt: time.Now(),
	}

	count := room.connectionCount()

	responses := make([]Envelope, 0, count+len(room.Offers))

	responses = append(responses, Envelope{
		Type:         TypeRoomInfo,
		ConnectionID: strPtr(connectionID),
		Data: mustJSON(map[string]interface{}{
			"room_id":          roomID,
			"mode":             "1onN",
			"connection_count": count,
			"peers":            room.peersExcept(connectionID),
		}),
	})

	for otherID := range room.Connections {
		if otherID == connectionID {
			continue
		}
		responses = append(responses, Envelope{
			Type:         TypeNewPeer,
			ConnectionID: strPtr(otherID),
			Data: mustJSON(map[string]interface{}{
				"connection_id":    connectionID,
				"is_sender":        isSender,
				"connection_count": count,
			}),
		})
	}

	if !isSender {
		for offerID, offer := range room.Offers {
			responses = append(responses, Envelope{
				Type:         TypeOffer,
				ConnectionID: strPtr(connectionID),
				SenderID:     offer.SenderID,
				OfferID:      strPtr(offerID),
				Data:         offer.Data,
			})
		}
	}

	return responses
}

func (m *Manager) handleOffer(room *Room, env Envelope) []Envelope {
	if env.ConnectionID != nil {
		// Targeted (mesh): forwarded verbatim, never cached.
		return []Envelope{env}
	}

	// Broadcast (legacy): mint an offer id, cache it, fan out to viewers.
	offerID := uuid.NewString()
	cached := env
	cached.OfferID = strPtr(offerID)
	room.Offers[offerID] = cached

	viewers := room.viewerIDs()
	responses := make([]Envelope, 0, len(viewers))
	for _, viewerID := range viewers {
		responses = append(responses, Envelope{
			Type:         TypeOffer,
			ConnectionID: strPtr(viewerID),
			SenderID:     env.SenderID,
			OfferID:      strPtr(offerID),
			Data:         env.Data,
		})
	}
	return responses
}

func (m *Manager) handleICECandidate(room *Room, env Envelope) []Envelope {
	if env.ConnectionID != nil {
		return []Envelope{env}
	}

	viewers := room.viewerIDs()
	responses := make([]Envelope, 0, len(viewers))
	for _, viewerID := range viewers {
		copyEnv := env
		copyEnv.ConnectionID = strPtr(viewerID)
		responses = append(responses, copyEnv)
	}
	return responses
}

func (m *Manager) handleInferenceResult(roomID string, room *Room, env Envelope) []Envelope {
	if env.SourceSenderID == nil {
		return nil
	}
	sourceID := *env.SourceSenderID

	perRoom, ok := m.inference[roomID]
	if !ok {
		perRoom = make(map[string]json.RawMessage)
		m.inference[roomID] = perRoom
	}
	perRoom[sourceID] = env.Data

	m.notifySink(roomID, sourceID, env.Data)

	responses := make([]Envelope, 0, len(room.Connections))
	for connID := range room.Connections {
		responses = append(responses, Envelope{
			Type:         TypeInferenceUpdate,
			ConnectionID: strPtr(connID),
			Data: mustJSON(map[string]interface{}{
				"source_sender_id": sourceID,
				"latest":           json.RawMessage(perRoom[sourceID]),
			}),
		})
	}
	return responses
}

// notifySink fires Save and AppendLog fire-and-forget, each in its own
// goroutine so a slow or blocking sink never holds up the manager's lock.
func (m *Manager) notifySink(roomID, sourceID string, payload []byte) {
	sink := m.sink
	logger := m.logger
	go func() {
		if err := sink.Save(roomID, sourceID, payload); err != nil && logger != nil {
			logger.Errorf("persistence save failed for room=%s source=%s: %v", roomID, sourceID, err)
		}
	}()
	go func() {
		if err := sink.AppendLog(roomID, sourceID, payload); err != nil && logger != nil {
			logger.Errorf("persistence append_log failed for room=%s source=%s: %v", roomID, sourceID, err)
		}
	}()
}

// RemoveConnection evicts the connection and produces leave notifications.
// Returns nil if the room does not exist.
func (m *Manager) RemoveConnection(roomID, connectionID string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}

	room.removeConnection(connectionID)
	count := room.connectionCount()

	responses := make([]Envelope, 0, count)
	for otherID := range room.Connections {
		responses = append(responses, Envelope{
			Type:         TypeLeave,
			ConnectionID: strPtr(otherID),
			Data: mustJSON(map[string]interface{}{
				"connection_id":    connectionID,
				"connection_count": count,
			}),
		})
	}
	return responses
}

func errorEnvelope(connectionID, message string) Envelope {
	return Envelope{
		Type:         TypeError,
		ConnectionID: strPtr(connectionID),
		Data: mustJSON(map[string]interface{}{
			"error": message,
		}),
	}
}
