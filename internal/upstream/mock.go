package upstream

import (
	"context"
	"sync"

	"github.com/antoniostano/diavoice/internal/audio"
)

// EchoConnector is a local fallback used when no Gemini key is configured.
// Every frame sent upstream comes back as a single-chunk turn.
type EchoConnector struct{}

func NewEchoConnector() *EchoConnector { return &EchoConnector{} }

func (c *EchoConnector) Name() string { return "echo" }

func (c *EchoConnector) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &echoStream{
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}, nil
}

type echoStream struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *echoStream) SendAudio(ctx context.Context, frame audio.Frame) error {
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.events <- Event{Audio: data, TurnComplete: true}:
		return nil
	}
}

func (s *echoStream) Recv(ctx context.Context) (Event, error) {
	select {
	case <-s.done:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *echoStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
