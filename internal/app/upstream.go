package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/diavoice/internal/config"
	"github.com/antoniostano/diavoice/internal/upstream"
)

type upstreamSetup struct {
	connector        upstream.Connector
	resolvedProvider string
	detail           string
}

func resolveUpstream(cfg config.Config) (upstreamSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.UpstreamProvider))
	if mode == "" {
		mode = "auto"
	}

	tryGemini := func() (upstreamSetup, bool, error) {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return upstreamSetup{}, false, nil
		}
		c, err := upstream.NewGeminiConnector(upstream.GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			APIVersion: cfg.GeminiAPIVersion,
			Live:       cfg.Live,
		})
		if err != nil {
			return upstreamSetup{}, false, fmt.Errorf("gemini connector init failed: %w", err)
		}
		return upstreamSetup{
			connector:        c,
			resolvedProvider: "gemini",
			detail:           fmt.Sprintf("gemini live (%s, voice %s)", cfg.Live.Model, cfg.Live.VoiceName),
		}, true, nil
	}

	echo := func(detail string) upstreamSetup {
		return upstreamSetup{
			connector:        upstream.NewEchoConnector(),
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch mode {
	case "gemini":
		setup, ok, err := tryGemini()
		if err != nil {
			return upstreamSetup{}, err
		}
		if !ok {
			return upstreamSetup{}, fmt.Errorf("UPSTREAM_PROVIDER=gemini but GEMINI_API_KEY is not set")
		}
		return setup, nil
	case "mock":
		return echo("mock (echo)"), nil
	case "auto":
		setup, ok, err := tryGemini()
		if err != nil {
			return upstreamSetup{}, err
		}
		if ok {
			return setup, nil
		}
		return echo("mock echo (no GEMINI_API_KEY)"), nil
	default:
		return upstreamSetup{}, fmt.Errorf("invalid UPSTREAM_PROVIDER: %q (expected auto|gemini|mock)", cfg.UpstreamProvider)
	}
}
