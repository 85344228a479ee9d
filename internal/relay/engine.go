package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/protocol"
	"github.com/antoniostano/diavoice/internal/reliability"
	"github.com/antoniostano/diavoice/internal/upstream"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
)

var (
	ErrNotRunning     = errors.New("relay is not running")
	ErrQueueFull      = errors.New("relay outbound queue is full")
	ErrStopped        = errors.New("relay stopped")
	ErrAlreadyStarted = errors.New("relay already started")
)

// Broadcaster fans a pre-encoded message out to listeners.
type Broadcaster interface {
	Broadcast(msg []byte) int
}

type Config struct {
	QueueSize         int
	StopGrace         time.Duration
	KeepAliveInterval time.Duration
	// RetryPause is the wait after a recoverable receive timeout.
	RetryPause time.Duration
	Output     audio.Format
	// OnRunning is called once the upstream stream is connected.
	OnRunning func()
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.StopGrace < 0 {
		c.StopGrace = 0
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 500 * time.Millisecond
	}
	if c.RetryPause < 0 {
		c.RetryPause = 0
	}
	if c.Output.SampleRate <= 0 {
		c.Output = audio.Format{SampleRate: audio.ReceiveSampleRate, Channels: audio.Channels, SampleWidth: audio.SampleWidth}
	}
	return c
}

// Engine relays audio between one upstream session and the connected
// clients. An Engine runs at most once.
type Engine struct {
	id      string
	client  *upstream.Client
	out     Broadcaster
	cfg     Config
	metrics *observability.Metrics

	outbound chan audio.Frame
	inbound  chan []byte

	running    atomic.Bool
	firstAudio atomic.Bool

	mu            sync.Mutex
	state         State
	started       bool
	stopRequested bool
	cancel        context.CancelFunc
	runningAt     time.Time
	done          chan struct{}
}

func NewEngine(id string, client *upstream.Client, out Broadcaster, cfg Config, metrics *observability.Metrics) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		id:       id,
		client:   client,
		out:      out,
		cfg:      cfg,
		metrics:  metrics,
		outbound: make(chan audio.Frame, cfg.QueueSize),
		inbound:  make(chan []byte, cfg.QueueSize),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

func (e *Engine) ID() string { return e.id }

// Running reports whether the duty cycles are active.
func (e *Engine) Running() bool { return e.running.Load() }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Enqueue hands one client frame to the send loop without blocking.
func (e *Engine) Enqueue(frame audio.Frame) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	select {
	case e.outbound <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run connects upstream and relays audio until Stop is called, ctx ends, or
// a duty cycle fails. It returns nil after a requested stop.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	defer close(e.done)
	if e.stopRequested {
		e.mu.Unlock()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	e.state = StateConnecting
	e.mu.Unlock()

	began := time.Now()
	handle, err := e.client.Connect(runCtx)
	if err != nil {
		e.setState(StateIdle)
		if e.isStopRequested() {
			return nil
		}
		log.Printf("relay: session %s connect failed: %v", e.id, err)
		return err
	}

	e.mu.Lock()
	if e.stopRequested {
		e.mu.Unlock()
		e.closeHandle(handle)
		e.setState(StateIdle)
		return nil
	}
	e.state = StateRunning
	e.runningAt = time.Now()
	e.metrics.ObserveConnectLatency(e.id, e.runningAt.Sub(began))
	e.running.Store(true)
	e.mu.Unlock()

	log.Printf("relay: session %s running", e.id)
	if e.cfg.OnRunning != nil {
		e.cfg.OnRunning()
	}

	err = e.relay(runCtx, handle)
	if e.isStopRequested() {
		return nil
	}
	return err
}

// Stop clears the running flag, cancels the duty cycles and waits for Run to
// finish tearing down, bounded by ctx. Stopping an idle engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopRequested = true
	e.running.Store(false)
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	if e.state != StateIdle {
		e.state = StateStopping
	}
	cancel := e.cancel
	e.mu.Unlock()

	log.Printf("relay: stopping session %s", e.id)
	if cancel != nil {
		cancel()
	}
	select {
	case <-e.done:
		log.Printf("relay: session %s stopped", e.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay: session %s still shutting down: %w", e.id, ctx.Err())
	}
}

func (e *Engine) relay(ctx context.Context, handle *upstream.Handle) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(e.guard("send", func() error { return e.sendLoop(gctx, handle) }))
	g.Go(e.guard("receive", func() error { return e.receiveLoop(gctx, handle) }))
	g.Go(e.guard("keepalive", func() error { return e.keepAliveLoop(gctx) }))
	g.Go(e.guard("broadcast", func() error { return e.broadcastLoop(gctx) }))

	waitCh := make(chan error, 1)
	go func() { waitCh <- g.Wait() }()

	var (
		err    error
		exited bool
	)
	select {
	case err = <-waitCh:
		exited = true
	case <-gctx.Done():
		e.running.Store(false)
		e.setState(StateStopping)
		// Give the loops a moment to observe the flag before the upstream
		// stream is pulled from under the receiver.
		grace := time.NewTimer(e.cfg.StopGrace)
		select {
		case err = <-waitCh:
			exited = true
		case <-grace.C:
		}
		grace.Stop()
	}

	e.running.Store(false)
	e.setState(StateStopping)
	e.closeHandle(handle)
	if !exited {
		err = <-waitCh
	}
	e.drain()
	e.setState(StateIdle)

	if err != nil {
		log.Printf("relay: session %s ended with error: %v", e.id, err)
	}
	return err
}

func (e *Engine) sendLoop(ctx context.Context, handle *upstream.Handle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-e.outbound:
			if !e.running.Load() {
				return nil
			}
			if err := handle.Send(ctx, frame); err != nil {
				if ctx.Err() != nil || !e.running.Load() {
					return nil
				}
				e.running.Store(false)
				e.metrics.ObserveUpstreamError("send")
				return err
			}
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context, handle *upstream.Handle) error {
	for e.running.Load() {
		retry := false
		for chunk, err := range handle.ReceiveTurn(ctx) {
			if err != nil {
				if ctx.Err() != nil || !e.running.Load() {
					return nil
				}
				if upstream.IsRecoverableTimeout(err) {
					log.Printf("relay: session %s receive timeout, retrying: %v", e.id, err)
					e.metrics.ObserveUpstreamError("receive_timeout")
					retry = true
					break
				}
				e.running.Store(false)
				e.metrics.ObserveUpstreamError("receive")
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case e.inbound <- chunk:
			}
		}
		if retry {
			if err := reliability.Sleep(ctx, e.cfg.RetryPause); err != nil {
				return nil
			}
		}
	}
	return nil
}

// keepAliveLoop does no work; capture is driven by websocket clients. It
// holds the group open for as long as the session is running.
func (e *Engine) keepAliveLoop(ctx context.Context) error {
	t := time.NewTicker(e.cfg.KeepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !e.running.Load() {
				return nil
			}
		}
	}
}

func (e *Engine) broadcastLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-e.inbound:
			if !e.running.Load() {
				return nil
			}
			e.broadcast(chunk)
		}
	}
}

func (e *Engine) broadcast(chunk []byte) {
	if e.firstAudio.CompareAndSwap(false, true) {
		e.mu.Lock()
		since := time.Since(e.runningAt)
		e.mu.Unlock()
		e.metrics.ObserveFirstAudioLatency(e.id, since)
	}
	wav, err := audio.EncodeWAV(chunk, e.cfg.Output)
	if err != nil {
		log.Printf("relay: session %s wav framing failed: %v", e.id, err)
		return
	}
	msg, err := json.Marshal(protocol.NewServerAudio(wav))
	if err != nil {
		log.Printf("relay: session %s encode audio message failed: %v", e.id, err)
		return
	}
	e.out.Broadcast(msg)
}

func (e *Engine) guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				e.running.Store(false)
				err = fmt.Errorf("relay: %s loop panic: %v", name, r)
			}
		}()
		return fn()
	}
}

func (e *Engine) closeHandle(handle *upstream.Handle) {
	if err := handle.Close(); err != nil {
		log.Printf("relay: session %s teardown: close upstream: %v", e.id, err)
	}
}

func (e *Engine) drain() {
	for {
		select {
		case <-e.outbound:
		case <-e.inbound:
		default:
			return
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) isStopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}
