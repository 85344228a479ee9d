package relay

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/antoniostano/diavoice/internal/observability"
)

var ErrClientSendFailed = errors.New("client send failed")

// Client is one connected listener eligible for broadcast audio.
// Implementations must serialize their own writes.
type Client interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// Registry is the set of connected clients. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	metrics *observability.Metrics
}

func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{clients: make(map[string]Client), metrics: metrics}
}

// Add registers c. It returns false if a client with the same ID is present.
func (r *Registry) Add(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID()]; ok {
		return false
	}
	r.clients[c.ID()] = c
	return true
}

// Remove deregisters c; removing an absent client is a no-op.
func (r *Registry) Remove(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID()]; !ok {
		return false
	}
	delete(r.clients, c.ID())
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends msg to every client and returns how many deliveries
// succeeded. A failing client is logged and stays registered.
func (r *Registry) Broadcast(msg []byte) int {
	delivered := 0
	for _, c := range r.snapshot() {
		if err := c.Send(msg); err != nil {
			r.metrics.ObserveBroadcastFailure()
			log.Printf("relay: %v", fmt.Errorf("%w: client=%s: %w", ErrClientSendFailed, c.ID(), err))
			continue
		}
		delivered++
	}
	return delivered
}

// Detach removes every client without closing it and returns them.
func (r *Registry) Detach() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := make([]Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	return clients
}

// CloseAll removes and force-closes every client. It returns the number of
// clients that were registered.
func (r *Registry) CloseAll() int {
	return CloseClients(r.Detach())
}

// CloseClients force-closes clients, logging failures, and returns how many
// it was given.
func CloseClients(clients []Client) int {
	for _, c := range clients {
		if err := c.Close(); err != nil {
			log.Printf("relay: close client %s: %v", c.ID(), err)
		}
	}
	return len(clients)
}

func (r *Registry) snapshot() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
