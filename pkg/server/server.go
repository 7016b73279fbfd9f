// Package server implements the thin OpenAI-compatible request surface:
// liveness, model list, and chat completions on top of go-chi/chi/v5,
// grounded on nico-hyperjump-sagasu's internal/server router-plus-middleware
// layout.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/orchestrator"
)

// MetricsHandler is the subset of pkg/metrics.Metrics this package depends
// on, kept narrow so pkg/server has no hard dependency on the prometheus
// client types.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server wires the orchestrator behind chi's router.
type Server struct {
	orch    *orchestrator.Orchestrator
	model   string
	metrics MetricsHandler
	logger  *slog.Logger
}

// New builds a Server. metrics may be nil, in which case /metrics is not
// mounted.
func New(orch *orchestrator.Orchestrator, model string, metrics MetricsHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, model: model, metrics: metrics, logger: logger}
}

// Router builds the chi.Router exposing /health, /v1/models, and
// /v1/chat/completions; /metrics is added too when metrics is non-nil.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type healthBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth runs the configured backend's health probe on every call
// rather than reporting liveness alone. A failing probe is surfaced as 503
// with its diagnostic message, not masked as healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

type modelListResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   []modelInfo{{ID: s.model, Object: "model"}},
	})
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = "invalid_request_error"
	writeJSON(w, http.StatusBadRequest, body)
}

// decodeChatRequest parses and validates the incoming body: malformed
// JSON, missing/empty messages, an invalid first message role, or a
// negative temperature are all rejected with a well-formed error object
// rather than reaching the orchestrator.
func decodeChatRequest(r *http.Request) (chatmodel.ChatRequest, string) {
	var req chatmodel.ChatRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return chatmodel.ChatRequest{}, "request body is not valid JSON"
	}
	if len(req.Messages) == 0 {
		return chatmodel.ChatRequest{}, "messages must be a non-empty array"
	}
	if role := req.Messages[0].Role; role != chatmodel.RoleUser && role != chatmodel.RoleSystem {
		return chatmodel.ChatRequest{}, "the first message must have role \"user\" or \"system\""
	}
	if req.Temperature != nil && *req.Temperature < 0 {
		return chatmodel.ChatRequest{}, "temperature must be non-negative"
	}
	return req, ""
}
