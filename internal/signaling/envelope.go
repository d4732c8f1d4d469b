// Package signaling implements the room & routing engine: the in-memory
// state machine that tracks rooms, connections, pending offers and peer
// topology, and fans signaling messages out to the correct subset of peers.
package signaling

import "encoding/json"

// MessageType is the tagged variant carried on the wire as the envelope's
// "type" field.
type MessageType string

const (
	TypeJoin             MessageType = "join"
	TypeLeave            MessageType = "leave"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeICECandidate     MessageType = "ice_candidate"
	TypeRoomInfo         MessageType = "room_info"
	TypeError            MessageType = "error"
	TypeInferenceResult  MessageType = "inference_result"
	TypeInferenceUpdate  MessageType = "inference_update"
	TypeNewPeer          MessageType = "new_peer"
)

// Envelope is the unit of input/output for the room manager. Inbound, it is
// decoded off a signaling WebSocket frame; outbound, it is one addressed
// message the transport must deliver to ConnectionID.
//
// Optional fields are pointers so that "absent" and "present but zero
// value" are distinguishable on the wire: json.Marshal omits a nil pointer
// field entirely (via omitempty) rather than encoding it as null.
type Envelope struct {
	Type           MessageType     `json:"type"`
	ConnectionID   *string         `json:"connection_id,omitempty"`
	SenderID       *string         `json:"sender_id,omitempty"`
	SourceSenderID *string         `json:"source_sender_id,omitempty"`
	OfferID        *string         `json:"offer_id,omitempty"`
	IsSender       *bool           `json:"is_sender,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw signaling frame. Unknown fields are ignored by
// encoding/json's default behavior; this function does not reject them.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// Encode serializes an envelope back to wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// ConnectionIDOr returns the envelope's ConnectionID, or def if absent.
func (e Envelope) ConnectionIDOr(def string) string {
	if e.ConnectionID == nil {
		return def
	}
	return *e.ConnectionID
}

// IsSenderOr returns the envelope's IsSender, or def if absent.
func (e Envelope) IsSenderOr(def bool) bool {
	if e.IsSender == nil {
		return def
	}
	return *e.IsSender
}

// mustJSON marshals v to a json.RawMessage, panicking on failure. Only used
// internally for data the manager constructs itself from known-good Go
// values (never from user input), so a marshal failure here would indicate
// a programming error, not a runtime condition to recover from.
func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("signaling: failed to marshal internal payload: " + err.Error())
	}
	return b
}
