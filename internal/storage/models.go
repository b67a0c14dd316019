package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted view of an interview session.
type SessionRecord struct {
	ID              string
	VisaCode        string
	DurationMinutes int
	UserPartition   string
	ConfigError     string // descriptor defect recorded at load, empty when clean
	State           string // ACTIVE, GOODBYE_ISSUED, TERMINATED
	CreatedAt       time.Time
	EndedAt         time.Time // zero until terminated
}

// ToolCall is one audited tool invocation by the conversational model.
type ToolCall struct {
	ID        string
	SessionID string
	Tool      string
	Arguments string // truncated, human-readable
	Outcome   string
	CreatedAt time.Time
}

// Job is a queued background task. The only current type is
// "document_upload": push an applicant document into their partition.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
