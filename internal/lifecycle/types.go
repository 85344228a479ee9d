package lifecycle

import (
	"context"
	"time"
)

type Kind string

const (
	KindStarted    Kind = "started"
	KindRunning    Kind = "running"
	KindFailed     Kind = "failed"
	KindStopped    Kind = "stopped"
	KindTerminated Kind = "terminated"
)

// Event is one session lifecycle transition. It carries no conversation content.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and lists session lifecycle events.
type Store interface {
	Record(ctx context.Context, ev Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

const defaultLimit = 50
