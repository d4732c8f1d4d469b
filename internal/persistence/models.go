package persistence

import (
	"time"

	"gorm.io/datatypes"
)

// InferenceRecord is one durable row per inference_result saved through the
// signaling.Sink contract. Append-only: nothing updates or deletes a row
// after insert.
type InferenceRecord struct {
	ID             string         `gorm:"primaryKey"`
	RoomID         string         `gorm:"index"`
	SourceSenderID string         `gorm:"index"`
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	RecordedAt     time.Time      `gorm:"index"`
}

// RoomEvent is the join/leave/sender-rejection audit trail, repurposed from
// the teacher's AuditLog model for the room-lifecycle domain.
type RoomEvent struct {
	ID           string         `gorm:"primaryKey"`
	RoomID       string         `gorm:"index"`
	EventType    string         `gorm:"index"` // "join", "leave", "sender_rejected"
	ConnectionID string
	Detail       datatypes.JSON `gorm:"type:jsonb"`
	RecordedAt   time.Time      `gorm:"index"`
}
