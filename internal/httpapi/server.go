package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/diavoice/internal/config"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/session"
)

const apiVersion = "1.0.0"

type Server struct {
	cfg            config.Config
	sessions       *session.Manager
	metrics        *observability.Metrics
	metricsHandler http.Handler
	upgrader       websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:            cfg,
		sessions:       sessions,
		metrics:        metrics,
		metricsHandler: observability.MetricsHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SetMetricsHandler replaces the /metrics handler, e.g. to serve a private registry.
func (s *Server) SetMetricsHandler(h http.Handler) {
	if h != nil {
		s.metricsHandler = h
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(allowAnyOrigin)

	r.Get("/", s.handleHome)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})

	r.Post("/start_voice", s.handleStartVoice)
	r.Options("/start_voice", handlePreflight)
	r.Post("/terminate_voice", s.handleTerminateVoice)
	r.Options("/terminate_voice", handlePreflight)
	r.Get("/audio-stream", s.handleAudioStream)

	r.Get("/v1/sessions/events", s.handleSessionEvents)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": apiVersion,
		"vercel":  s.cfg.Serverless,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": s.sessions.Status(),
	})
}

func (s *Server) handleStartVoice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Serverless {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "started",
			"vercel": true,
			"info":   "Limited functionality in serverless environment.",
		})
		return
	}

	info, err := s.sessions.Start(r.Context())
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "started",
		"websocket": map[string]string{
			"url":      websocketURL(r),
			"protocol": "audio-stream",
		},
		"session_id": info.SessionID,
	})
}

func (s *Server) handleTerminateVoice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Serverless {
		respondJSON(w, http.StatusOK, map[string]any{"status": "terminated", "vercel": true})
		return
	}
	s.sessions.Terminate(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"status": "terminated"})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.sessions.Events().Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "events_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// requestOrigin prefers proxy forwarding headers so advertised URLs work
// behind a TLS-terminating load balancer.
func requestOrigin(r *http.Request) (scheme, host string) {
	scheme, host = "http", r.Host
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := forwardedValue(r, "X-Forwarded-Host"); fwd != "" {
		host = fwd
		scheme = "https"
	}
	if proto := forwardedValue(r, "X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme, host
}

// forwardedValue returns the first hop of a possibly comma-separated header.
func forwardedValue(r *http.Request, key string) string {
	v, _, _ := strings.Cut(r.Header.Get(key), ",")
	return strings.ToLower(strings.TrimSpace(v))
}

func baseURL(r *http.Request) string {
	scheme, host := requestOrigin(r)
	return scheme + "://" + host
}

func websocketURL(r *http.Request) string {
	scheme, host := requestOrigin(r)
	if scheme == "https" {
		return "wss://" + host + "/audio-stream"
	}
	return "ws://" + host + "/audio-stream"
}
