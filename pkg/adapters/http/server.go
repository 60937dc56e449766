// Package http exposes a run manager over HTTP: a JSON API, server-sent
// events, a WebSocket and Prometheus metrics.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/internal/presentation/graph"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// Server serves the runs of a Manager.
type Server struct {
	Runs   *runner.Manager
	Logger *slog.Logger

	doc     *openapi3.T
	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithMetrics serves the collectors of g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
}

// NewServer creates a server for the runs of m.
func NewServer(m *runner.Manager, opts ...Option) (*Server, error) {
	doc, err := Spec()
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	s := &Server{Runs: m, Logger: logging.NewNop(), doc: doc}
	for _, opt := range opts {
		opt(s)
	}
	s.Logger = s.Logger.With("component", "http")
	return s, nil
}

// NewHandler creates the HTTP handler for the runs of m.
func NewHandler(m *runner.Manager, opts ...Option) (http.Handler, error) {
	s, err := NewServer(m, opts...)
	if err != nil {
		return nil, err
	}
	return s.Handler()
}

// Handler builds the router. Requests to documented paths are validated
// against the OpenAPI document first.
func (s *Server) Handler() (http.Handler, error) {
	router, err := newRouter(s.doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	r.Use(func(next http.Handler) http.Handler { return validateRequests(router, next) })

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(swaggerHTML))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/flows", s.ListFlows)
	r.Get("/flows/{name}/graph", s.GetFlowGraph)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.ListRuns)
		r.Post("/", s.StartRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetRun)
			r.Get("/events", s.StreamEvents)
			r.Get("/ws", s.RunSocket)
			r.Post("/messages", s.SendMessage)
			r.Post("/invocations/{invocation}/messages", s.SendToInvocation)
			r.Post("/prompts/{prompt}/reply", s.ReplyPrompt)
			r.Post("/abort", s.AbortRun)
		})
	})
	return r, nil
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
    <title>Harness API Documentation</title>
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

type errorBody struct {
	Error string `json:"error"`
}

type startRunRequest struct {
	Flow      string `json:"flow"`
	Input     any    `json:"input,omitempty"`
	RunID     string `json:"runId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Replay    string `json:"replay,omitempty"`
}

type messageRequest struct {
	Content any    `json:"content"`
	From    string `json:"from,omitempty"`
}

type replyRequest struct {
	Response any `json:"response"`
}

type abortRequest struct {
	Reason string `json:"reason,omitempty"`
}

var errBadRequest = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusOf(err error) int {
	var invalid *domain.InputValidationError
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid),
		errors.Is(err, domain.ErrCompile),
		errors.Is(err, runner.ErrInputTooLarge),
		errors.Is(err, runner.ErrInvalidUTF8),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, harness.ErrNoLoader):
		return http.StatusNotImplemented
	case errors.Is(err, runner.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, logging.Err(err))
	} else {
		s.Logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, logging.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if s.doc.Info != nil {
		apiVersion = s.doc.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "harness-http",
		"version":     strings.TrimSpace(harness.Version),
		"api_version": apiVersion,
	})
}

// ListFlows handles GET /flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	names, err := s.Runs.Engine().Flows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"flows": names})
}

// GetFlowGraph handles GET /flows/{name}/graph. With ?run=<id> the node
// states of that run are painted on the graph.
func (s *Server) GetFlowGraph(w http.ResponseWriter, r *http.Request) {
	eng := s.Runs.Engine()
	flow, err := eng.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var overlay *graph.Overlay
	if runID := r.URL.Query().Get("run"); runID != "" {
		events, err := s.runEvents(r, runID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		overlay = graph.OverlayFromEvents(events)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(graph.GenerateMermaid(flow.Spec(), eng.Registry().Capabilities, overlay)))
}

func (s *Server) runEvents(r *http.Request, runID string) ([]domain.Event, error) {
	if run, err := s.Runs.Get(runID); err == nil {
		return run.Hub().History(), nil
	}
	rec, err := s.Runs.Engine().Store().Load(r.Context(), runID)
	if err != nil {
		return nil, err
	}
	return rec.Events, nil
}

// ListRuns handles GET /runs.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.RunQuery{Flow: q.Get("flow"), Status: domain.RunStatus(q.Get("status"))}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit %q", errBadRequest, limit))
			return
		}
		query.Limit = n
	}

	recorded, err := s.Runs.Engine().Store().List(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	active := []runner.RunView{}
	for _, v := range s.Runs.Active() {
		if (query.Flow == "" || v.Flow == query.Flow) && (query.Status == "" || v.Status == query.Status) {
			active = append(active, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "recorded": recorded})
}

// StartRun handles POST /runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var opts []harness.RunOption
	if req.RunID != "" {
		opts = append(opts, harness.WithRunID(req.RunID))
	}
	if req.SessionID != "" {
		opts = append(opts, harness.WithSessionID(req.SessionID))
	}
	if req.Replay != "" {
		opts = append(opts, harness.WithReplay(req.Replay))
	}

	run, err := s.Runs.Start(r.Context(), req.Flow, req.Input, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.Runs.View(r.Context(), run.ID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/runs/"+run.ID())
	writeJSON(w, http.StatusCreated, view)
}

// GetRun handles GET /runs/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.Runs.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SendMessage handles POST /runs/{id}/messages.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Runs.Send(chi.URLParam(r, "id"), domain.Message{Content: req.Content, From: req.From}); err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w)
}

// SendToInvocation handles POST /runs/{id}/invocations/{invocation}/messages.
func (s *Server) SendToInvocation(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := domain.Message{Content: req.Content, From: req.From}
	if err := s.Runs.SendTo(chi.URLParam(r, "id"), chi.URLParam(r, "invocation"), msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w)
}

// ReplyPrompt handles POST /runs/{id}/prompts/{prompt}/reply.
func (s *Server) ReplyPrompt(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Runs.Reply(chi.URLParam(r, "id"), chi.URLParam(r, "prompt"), req.Response); err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w)
}

// AbortRun handles POST /runs/{id}/abort. The body is optional.
func (s *Server) AbortRun(w http.ResponseWriter, r *http.Request) {
	req := abortRequest{Reason: "aborted by client"}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.Runs.Abort(chi.URLParam(r, "id"), req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted(w)
}
