package upstream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/policy"
	"github.com/antoniostano/diavoice/internal/reliability"
)

// ClientConfig bounds the connect retry policy.
type ClientConfig struct {
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	// Redactor masks credentials in logged and returned connect errors.
	Redactor *policy.Redactor
}

// Client opens upstream sessions with bounded, fixed-delay retries.
type Client struct {
	connector Connector
	cfg       ClientConfig
	metrics   *observability.Metrics
}

func NewClient(connector Connector, cfg ClientConfig, metrics *observability.Metrics) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Client{connector: connector, cfg: cfg, metrics: metrics}
}

// Connect opens a stream, retrying up to MaxRetries attempts in total. It
// returns ErrConnectionExhausted once every attempt failed, or the context
// error if ctx ends first.
func (c *Client) Connect(ctx context.Context) (*Handle, error) {
	var stream Stream
	err := reliability.RetryFixed(ctx, c.cfg.MaxRetries, c.cfg.RetryDelay,
		func(ctx context.Context, attempt int) error {
			log.Printf("upstream: connecting to %s (attempt %d/%d)", c.connector.Name(), attempt, c.cfg.MaxRetries)
			attemptCtx := ctx
			if c.cfg.ConnectTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
				defer cancel()
			}
			s, err := c.connector.Connect(attemptCtx)
			if err != nil {
				return err
			}
			stream = s
			return nil
		},
		func(attempt int, err error) {
			c.metrics.ObserveConnectAttempt("failure")
			log.Printf("upstream: connect attempt %d failed: %s", attempt, c.cfg.Redactor.Error(err))
		},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		log.Printf("upstream: giving up after %d attempts", c.cfg.MaxRetries)
		return nil, fmt.Errorf("%w: %s", ErrConnectionExhausted, c.cfg.Redactor.Error(err))
	}
	c.metrics.ObserveConnectAttempt("success")
	log.Printf("upstream: connected to %s", c.connector.Name())
	return &Handle{stream: stream}, nil
}

// Handle is a connected upstream stream. It is safe for one sender and one
// receiver to use it concurrently.
type Handle struct {
	stream    Stream
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Send forwards one frame upstream.
func (h *Handle) Send(ctx context.Context, frame audio.Frame) error {
	if h == nil || h.closed.Load() {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrClosed)
	}
	if err := h.stream.SendAudio(ctx, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// ReceiveTurn yields the audio chunks of the next model turn and finishes
// when the turn completes. A failure is yielded once, wrapped in
// ErrReceiveFailed; use IsRecoverableTimeout to decide whether to retry.
func (h *Handle) ReceiveTurn(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			if h == nil || h.closed.Load() {
				yield(nil, fmt.Errorf("%w: %w", ErrReceiveFailed, ErrClosed))
				return
			}
			ev, err := h.stream.Recv(ctx)
			if err != nil {
				if h.closed.Load() {
					err = fmt.Errorf("%w: %w", ErrClosed, err)
				}
				yield(nil, fmt.Errorf("%w: %w", ErrReceiveFailed, err))
				return
			}
			if len(ev.Audio) > 0 && !yield(ev.Audio, nil) {
				return
			}
			if ev.TurnComplete {
				return
			}
		}
	}
}

// Close releases the stream. Only the first call reaches the service.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.stream.Close()
	})
	return h.closeErr
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h == nil || h.closed.Load()
}
