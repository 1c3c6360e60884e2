package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
)

//go:embed openapi.yaml
var rawSpec []byte

// Engine is the part of the dialog engine the API drives.
type Engine interface {
	HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (*runtime.Reply, error)
	HandleTimeout(ctx context.Context, sessionID, token string) error
	Release(ctx context.Context, contactID, connectionID string) error
	SetDynamicOptions(ctx context.Context, sessionID, nodeID string, options []domain.Option) error
}

// Sessions gives read and delete access to stored sessions.
type Sessions interface {
	Load(ctx context.Context, sessionID string) (*domain.Session, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}

// Flows lists flow headers.
type Flows interface {
	ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error)
}

// Server holds the API handlers.
type Server struct {
	Engine   Engine
	Sessions Sessions
	Flows    Flows
	Streams  *StreamManager

	version    string
	apiVersion string
	gatherer   prometheus.Gatherer
	validate   bool
	logger     *slog.Logger
}

type Option func(*Server)

// WithStreams shares a StreamManager that is also wired as a MessageSender.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) { s.Streams = sm }
}

func WithFlows(f Flows) Option {
	return func(s *Server) { s.Flows = f }
}

// WithMetrics exposes g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = strings.TrimSpace(v) }
}

// WithValidation checks /v1 requests against the embedded OpenAPI document.
func WithValidation(enabled bool) Option {
	return func(s *Server) { s.validate = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, sessions Sessions, opts ...Option) (http.Handler, error) {
	s := &Server{
		Engine:     engine,
		Sessions:   sessions,
		version:    "dev",
		apiVersion: "unknown",
		validate:   true,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var validator func(http.Handler) http.Handler
	if s.validate {
		v, err := NewValidator(rawSpec)
		if err != nil {
			return nil, fmt.Errorf("load api document: %w", err)
		}
		validator = v.Middleware
		s.apiVersion = v.Version()
	}

	r.Route("/v1", func(r chi.Router) {
		if validator != nil {
			r.Use(validator)
		}
		r.Post("/messages", s.HandleMessage)
		r.Post("/release", s.ReleaseSession)
		r.Get("/flows", s.ListFlows)
		r.Get("/sessions", s.ListSessions)
		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/timeout", s.FireTimeout)
			r.Put("/options/{nodeId}", s.SetDynamicOptions)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return enableCORS(r), nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Parley API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// HandleMessage handles POST /v1/messages.
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("HandleMessage: Invalid request body", "err", err)
		return
	}

	reply, err := s.Engine.HandleInboundMessage(r.Context(), msg)
	switch {
	case errors.Is(err, runtime.ErrInputTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		s.logger.Warn("HandleMessage: Input rejected", "err", err, "size", len(msg.Text))
		return
	case errors.Is(err, runtime.ErrInvalidUTF8):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("turn failed: %v", err))
		s.logger.Error("HandleMessage failed", "err", err, "contact_id", msg.ContactID)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type releaseRequest struct {
	ContactID    string `json:"contact_id"`
	ConnectionID string `json:"connection_id"`
}

// ReleaseSession handles POST /v1/release.
func (s *Server) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	var body releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Engine.Release(r.Context(), body.ContactID, body.ConnectionID); err != nil {
		s.sessionError(w, "Release", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFlows handles GET /v1/flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	if s.Flows == nil {
		writeError(w, http.StatusNotImplemented, "flow listing not configured")
		return
	}
	flows, err := s.Flows.ListFlows(r.Context(), r.URL.Query().Get("connection_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		s.logger.Error("ListFlows failed", "err", err)
		return
	}
	headers := make([]domain.Flow, len(flows))
	for i, f := range flows {
		f.Nodes = nil
		headers[i] = f
	}
	writeJSON(w, http.StatusOK, headers)
}

// ListSessions handles GET /v1/sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		s.logger.Error("ListSessions failed", "err", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// GetSession handles GET /v1/sessions/{sessionId}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Load(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.sessionError(w, "GetSession", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /v1/sessions/{sessionId}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		s.sessionError(w, "DeleteSession", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FireTimeout handles POST /v1/sessions/{sessionId}/timeout.
func (s *Server) FireTimeout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.Engine.HandleTimeout(r.Context(), chi.URLParam(r, "sessionId"), body.Token); err != nil {
		s.sessionError(w, "FireTimeout", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SetDynamicOptions handles PUT /v1/sessions/{sessionId}/options/{nodeId}.
func (s *Server) SetDynamicOptions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Options []domain.Option `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.Engine.SetDynamicOptions(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "nodeId"), body.Options)
	if err != nil {
		s.sessionError(w, "SetDynamicOptions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "parley-http",
		"version":     s.version,
		"api_version": s.apiVersion,
	})
}

func (s *Server) sessionError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
	s.logger.Error(op+" failed", "err", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
