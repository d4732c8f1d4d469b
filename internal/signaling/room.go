package signaling

import "time"

// ConnectionInfo is created on successful join, destroyed on disconnect or
// eviction.
type ConnectionInfo struct {
	ID          string
	IsSender    bool
	ConnectedAt time.Time
}

// Room is per-room state: the connection set and the offer cache. It is not
// safe for concurrent use on its own — callers (the RoomManager) must hold
// the manager's single write lock for the duration of any operation that
// touches a Room.
type Room struct {
	ID          string
	Connections map[string]ConnectionInfo
	Offers      map[string]Envelope // offer_id -> cached offer envelope
}

func newRoom(id string) *Room {
	return &Room{
		ID:          id,
		Connections: make(map[string]ConnectionInfo),
		Offers:      make(map[string]Envelope),
	}
}

func (r *Room) hasSender() bool {
	for _, c := range r.Connections {
		if c.IsSender {
			return true
		}
	}
	return false
}

// removeConnection deletes the connection and purges any offers whose
// SenderID names it, preserving the offer referential-integrity invariant.
func (r *Room) removeConnection(connectionID string) {
	delete(r.Connections, connectionID)
	for offerID, offer := range r.Offers {
		if offer.SenderID != nil && *offer.SenderID == connectionID {
			delete(r.Offers, offerID)
		}
	}
}

func (r *Room) connectionCount() int {
	return len(r.Connections)
}

// peersExcept returns {id, is_sender} for every connection other than
// excludeID, in the shape room_info's "peers" field wants.
func (r *Room) peersExcept(excludeID string) []map[string]interface{} {
	peers := make([]map[string]interface{}, 0, len(r.Connections))
	for id, info := range r.Connections {
		if id == excludeID {
			continue
		}
		peers = append(peers, map[string]interface{}{
			"id":        id,
			"is_sender": info.IsSender,
		})
	}
	return peers
}

func (r *Room) viewerIDs() []string {
	ids := make([]string, 0, len(r.Connections))
	for id, info := range r.Connections {
		if !info.IsSender {
			ids = append(ids, id)
		}
	}
	return ids
}
