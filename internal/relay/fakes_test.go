package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/upstream"
)

type recvResult struct {
	ev  upstream.Event
	err error
}

// fakeStream blocks in Recv until an event is pushed or it is closed, like a
// real websocket-backed session that ignores context.
type fakeStream struct {
	mu      sync.Mutex
	sent    []audio.Frame
	sendErr error
	gate    chan struct{}
	entered chan struct{}

	recv      chan recvResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		recv:    make(chan recvResult, 64),
		closed:  make(chan struct{}),
		entered: make(chan struct{}, 64),
	}
}

func (s *fakeStream) SendAudio(_ context.Context, frame audio.Frame) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.closed:
			return upstream.ErrClosed
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeStream) Recv(context.Context) (upstream.Event, error) {
	select {
	case <-s.closed:
		return upstream.Event{}, upstream.ErrClosed
	case r := <-s.recv:
		return r.ev, r.err
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) sentFrames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.sent...)
}

type fakeConnector struct {
	failFirst int
	always    bool
	attempts  atomic.Int32
	stream    *fakeStream
}

func (c *fakeConnector) Name() string { return "fake" }

func (c *fakeConnector) Connect(context.Context) (upstream.Stream, error) {
	n := int(c.attempts.Add(1))
	if c.always || n <= c.failFirst {
		return nil, errors.New("dial refused")
	}
	return c.stream, nil
}

type recordingBroadcaster struct {
	msgs chan []byte
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{msgs: make(chan []byte, 64)}
}

func (b *recordingBroadcaster) Broadcast(msg []byte) int {
	b.msgs <- msg
	return 1
}

func testClient(conn upstream.Connector) *upstream.Client {
	return upstream.NewClient(conn, upstream.ClientConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
}

func testConfig() Config {
	return Config{
		QueueSize:         16,
		StopGrace:         20 * time.Millisecond,
		KeepAliveInterval: 5 * time.Millisecond,
		RetryPause:        time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startEngine launches Run in the background and returns its result channel.
func startEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(context.Background()) }()
	return runErr
}
