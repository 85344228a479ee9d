package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/lifecycle"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/policy"
	"github.com/antoniostano/diavoice/internal/relay"
	"github.com/antoniostano/diavoice/internal/upstream"
)

var ErrNoSession = errors.New("no active voice session")

type Options struct {
	Client      *upstream.Client
	Relay       relay.Config
	JoinTimeout time.Duration
	Registry    *relay.Registry
	Metrics     *observability.Metrics
	Events      lifecycle.Store
	Redactor    *policy.Redactor
}

type active struct {
	engine *relay.Engine
	info   Info
}

// Manager owns the single process-wide voice session. Every transition is
// serialized by mu, which stays held across the bounded join wait.
type Manager struct {
	mu      sync.Mutex
	current *active
	runs    sync.WaitGroup

	client      *upstream.Client
	relayCfg    relay.Config
	joinTimeout time.Duration
	registry    *relay.Registry
	metrics     *observability.Metrics
	events      lifecycle.Store
	redactor    *policy.Redactor
}

func NewManager(opts Options) *Manager {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 2 * time.Second
	}
	if opts.Registry == nil {
		opts.Registry = relay.NewRegistry(opts.Metrics)
	}
	if opts.Events == nil {
		opts.Events = lifecycle.NewInMemoryStore(0)
	}
	return &Manager{
		client:      opts.Client,
		relayCfg:    opts.Relay,
		joinTimeout: opts.JoinTimeout,
		registry:    opts.Registry,
		metrics:     opts.Metrics,
		events:      opts.Events,
		redactor:    opts.Redactor,
	}
}

func (m *Manager) Registry() *relay.Registry { return m.registry }

func (m *Manager) Events() lifecycle.Store { return m.events }

// Start tears down any existing session and launches a fresh one in the
// background. It returns once the launch is dispatched, not once connected.
func (m *Manager) Start(ctx context.Context) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopLocked(ctx, lifecycle.KindStopped, "replaced") {
		log.Printf("session: existing session stopped before starting a new one")
	}
	return m.launchLocked(ctx)
}

// Ensure starts a session only when none is active. The bool reports whether
// a new session was launched.
func (m *Manager) Ensure(ctx context.Context) (Info, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current.info, false, nil
	}
	log.Printf("session: client connected without an active session, starting one")
	info, err := m.launchLocked(ctx)
	if err != nil {
		return Info{}, false, err
	}
	return info, true, nil
}

// Stop ends the active session and keeps connected clients. It reports
// whether a session was active.
func (m *Manager) Stop(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx, lifecycle.KindStopped, "stop requested")
}

// Terminate stops the active session and force-disconnects every client.
// It is a no-op when no session is active.
func (m *Manager) Terminate(ctx context.Context) bool {
	m.mu.Lock()
	if !m.stopLocked(ctx, lifecycle.KindTerminated, "") {
		m.mu.Unlock()
		return false
	}
	clients := m.registry.Detach()
	m.mu.Unlock()

	// A slow client can hold its close for a write deadline; keep that off mu.
	if n := relay.CloseClients(clients); n > 0 {
		log.Printf("session: disconnected %d client(s)", n)
	}
	return true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	st := Status{State: relay.StateIdle, Clients: m.registry.Len()}
	if cur == nil {
		return st
	}
	st.Active = true
	st.SessionID = cur.info.SessionID
	st.State = cur.engine.State()
	st.Running = cur.engine.Running()
	return st
}

// Enqueue forwards one client frame to the active session.
func (m *Manager) Enqueue(frame audio.Frame) error {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur == nil {
		m.metrics.ObserveQueueDrop("no_session")
		return ErrNoSession
	}
	err := cur.engine.Enqueue(frame)
	switch {
	case errors.Is(err, relay.ErrNotRunning):
		m.metrics.ObserveQueueDrop("not_running")
	case errors.Is(err, relay.ErrQueueFull):
		m.metrics.ObserveQueueDrop("full")
	}
	return err
}

func (m *Manager) launchLocked(ctx context.Context) (Info, error) {
	if m.client == nil {
		return Info{}, fmt.Errorf("session: upstream client is not configured")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Info{}, fmt.Errorf("session: generate id: %w", err)
	}
	info := Info{SessionID: id.String(), StartedAt: time.Now().UTC()}

	cfg := m.relayCfg
	onRunning := cfg.OnRunning
	cfg.OnRunning = func() {
		m.metrics.ObserveSessionEvent(string(lifecycle.KindRunning))
		m.record(info.SessionID, lifecycle.KindRunning, "")
		if onRunning != nil {
			onRunning()
		}
	}
	a := &active{
		engine: relay.NewEngine(info.SessionID, m.client, m.registry, cfg, m.metrics),
		info:   info,
	}
	m.current = a
	m.metrics.SetActiveSessions(1)
	m.metrics.ObserveSessionEvent(string(lifecycle.KindStarted))
	m.record(info.SessionID, lifecycle.KindStarted, "")

	m.runs.Add(1)
	go m.run(context.WithoutCancel(ctx), a)
	log.Printf("session: %s started", info.SessionID)
	return info, nil
}

func (m *Manager) run(ctx context.Context, a *active) {
	defer m.runs.Done()
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("session: relay panic: %v", r)
		}
		m.finish(a, runErr)
	}()
	runErr = a.engine.Run(ctx)
}

// finish releases a session whose engine returned on its own.
func (m *Manager) finish(a *active, err error) {
	m.mu.Lock()
	owned := m.current == a
	if owned {
		m.current = nil
		m.metrics.SetActiveSessions(0)
	}
	m.mu.Unlock()

	// A stop that lands before the engine starts is a clean exit.
	if errors.Is(err, relay.ErrStopped) {
		err = nil
	}
	if err != nil {
		detail := m.redactor.Error(err)
		log.Printf("session: %s failed: %s", a.info.SessionID, detail)
		m.metrics.ObserveSessionEvent(string(lifecycle.KindFailed))
		m.record(a.info.SessionID, lifecycle.KindFailed, detail)
		return
	}
	if owned {
		m.metrics.ObserveSessionEvent(string(lifecycle.KindStopped))
		m.record(a.info.SessionID, lifecycle.KindStopped, "relay finished")
	}
}

func (m *Manager) stopLocked(ctx context.Context, kind lifecycle.Kind, detail string) bool {
	cur := m.current
	if cur == nil {
		return false
	}
	m.current = nil
	m.metrics.SetActiveSessions(0)

	joinCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.joinTimeout)
	defer cancel()
	began := time.Now()
	if err := cur.engine.Stop(joinCtx); err != nil {
		log.Printf("session: warning: %v; releasing anyway", err)
	}
	m.metrics.ObserveStopLatency(cur.info.SessionID, time.Since(began))
	m.metrics.ObserveSessionEvent(string(kind))
	m.record(cur.info.SessionID, kind, detail)
	log.Printf("session: %s %s", cur.info.SessionID, kind)
	return true
}

func (m *Manager) record(sessionID string, kind lifecycle.Kind, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.events.Record(ctx, lifecycle.Event{SessionID: sessionID, Kind: kind, Detail: detail}); err != nil {
		log.Printf("session: record %s event for %s: %v", kind, sessionID, err)
	}
}
