package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/diavoice/internal/config"
	"github.com/antoniostano/diavoice/internal/httpapi"
	"github.com/antoniostano/diavoice/internal/lifecycle"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/policy"
	"github.com/antoniostano/diavoice/internal/relay"
	"github.com/antoniostano/diavoice/internal/session"
	"github.com/antoniostano/diavoice/internal/upstream"
)

type UpstreamInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Upstream UpstreamInfo

	// Cleanup should be called on shutdown to release external resources (DB).
	Cleanup func() error
}

// Build wires the service. reg may be nil to use the default Prometheus registry.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	events, err := lifecycle.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session event store init failed: %w", err)
	}

	setup, err := resolveUpstream(cfg)
	if err != nil {
		_ = events.Close()
		return nil, err
	}
	cfg.UpstreamProvider = setup.resolvedProvider

	redactor := policy.NewRedactor(cfg.GeminiAPIKey)
	client := upstream.NewClient(setup.connector, upstream.ClientConfig{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		Redactor:       redactor,
	}, metrics)

	sessions := session.NewManager(session.Options{
		Client: client,
		Relay: relay.Config{
			QueueSize:         cfg.QueueSize,
			StopGrace:         cfg.StopGrace,
			KeepAliveInterval: cfg.KeepAliveInterval,
			RetryPause:        cfg.RetryDelay,
			Output:            cfg.Live.Audio.OutputFormat(),
		},
		JoinTimeout: cfg.JoinTimeout,
		Metrics:     metrics,
		Events:      events,
		Redactor:    redactor,
	})

	api := httpapi.New(cfg, sessions, metrics)
	if g, ok := reg.(prometheus.Gatherer); ok {
		api.SetMetricsHandler(observability.HandlerFor(g))
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Upstream: UpstreamInfo{
			Provider: setup.resolvedProvider,
			Detail:   setup.detail,
		},
		Cleanup: events.Close,
	}, nil
}
