// Package persistence implements the signaling.Sink contract against
// Postgres (durable storage, for operator queries) and a JSONL append-log
// (for offline audit), mirroring the dual SQLite+JSONL design of the system
// this was rewritten from, adapted to the teacher's Postgres-first stack.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store is the concrete signaling.Sink: GORM/Postgres for Save, a
// mutex-guarded append-only file for AppendLog.
type Store struct {
	db     *gorm.DB
	logger logging.LeveledLogger

	mu       sync.Mutex
	jsonlOut *os.File
}

// Open connects to Postgres, runs migrations, and opens the JSONL
// append-log. databaseURL may be empty only in tests that never call Save.
func Open(databaseURL, jsonlPath string, logger logging.LeveledLogger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := db.AutoMigrate(&InferenceRecord{}, &RoomEvent{}); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	logger.Infof("✅ persistence store migrated")

	f, err := os.OpenFile(jsonlPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open jsonl log: %w", err)
	}

	return &Store{db: db, logger: logger, jsonlOut: f}, nil
}

// Close releases the database and log-file handles.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err == nil {
		sqlDB.Close()
	}
	return s.jsonlOut.Close()
}

// Save implements signaling.Sink: one durable row per call.
func (s *Store) Save(roomID, sourceSenderID string, payload []byte) error {
	record := InferenceRecord{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		SourceSenderID: sourceSenderID,
		Payload:        datatypes.JSON(payload),
		RecordedAt:     time.Now(),
	}
	return s.db.Create(&record).Error
}

// AppendLog implements signaling.Sink: one JSON line per call, for
// human/offline audit outside the database.
func (s *Store) AppendLog(roomID, sourceSenderID string, payload []byte) error {
	line, err := json.Marshal(struct {
		RoomID         string          `json:"room_id"`
		SourceSenderID string          `json:"source_sender_id"`
		Payload        json.RawMessage `json:"payload"`
		RecordedAt     time.Time       `json:"recorded_at"`
	}{
		RoomID:         roomID,
		SourceSenderID: sourceSenderID,
		Payload:        payload,
		RecordedAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.jsonlOut.Write(line)
	return err
}

// RecordRoomEvent persists a join/leave/sender-rejection audit entry. Unlike
// Save/AppendLog this is not part of the signaling.Sink contract — the
// transport calls it directly since room-lifecycle events originate outside
// the manager's envelope flow.
func (s *Store) RecordRoomEvent(roomID, eventType, connectionID string, detail []byte) error {
	event := RoomEvent{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		EventType:    eventType,
		ConnectionID: connectionID,
		Detail:       datatypes.JSON(detail),
		RecordedAt:   time.Now(),
	}
	return s.db.Create(&event).Error
}
