package session

import (
	"time"

	"github.com/antoniostano/diavoice/internal/relay"
)

// Info identifies a launched voice session.
type Info struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of the manager.
type Status struct {
	Active    bool        `json:"active"`
	SessionID string      `json:"session_id,omitempty"`
	State     relay.State `json:"state"`
	Running   bool        `json:"running"`
	Clients   int         `json:"clients"`
}
