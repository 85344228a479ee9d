package upstream

import (
	"context"

	"github.com/antoniostano/diavoice/internal/audio"
)

// Event is one message received from the conversational service.
type Event struct {
	// Audio holds a chunk of synthesized PCM, if any.
	Audio []byte
	// TurnComplete marks the end of the model's current turn.
	TurnComplete bool
}

// Stream is an open bidirectional conversation with the upstream service.
type Stream interface {
	SendAudio(ctx context.Context, frame audio.Frame) error
	// Recv blocks until the next event, an error, or Close.
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Connector opens new upstream streams.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
	Name() string
}
