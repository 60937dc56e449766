// Package mcp exposes a run manager as Model Context Protocol tools, so an
// assistant can start flows, answer their prompts and follow their state.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/internal/presentation/graph"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// FlowList is the result of list_flows.
type FlowList struct {
	Flows []string `json:"flows" jsonschema_description:"Names of the flows that can be started"`
}

// RunList is the result of list_runs.
type RunList struct {
	Active   []runner.RunView    `json:"active" jsonschema_description:"Runs held in memory, running or recently finished"`
	Recorded []domain.RunSummary `json:"recorded" jsonschema_description:"Runs saved in the store, most recent first"`
}

// Graph is the result of get_graph.
type Graph struct {
	Flow    string `json:"flow"`
	Mermaid string `json:"mermaid" jsonschema_description:"Mermaid flowchart of the flow"`
}

// Server exposes a run manager as an MCP server.
type Server struct {
	runs      *runner.Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(runs *runner.Manager, opts ...Option) *Server {
	s := &Server{
		runs:      runs,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("harness-mcp", harness.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mcp")
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		baseURL = "http://localhost" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_flows",
		mcp.WithDescription("List the flows that can be started."),
		mcp.WithOutputSchema[FlowList](),
	), mcp.NewStructuredToolHandler(s.handleListFlows))

	s.mcpServer.AddTool(mcp.NewTool("start_run",
		mcp.WithDescription("Start a flow run in the background and return its state."),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Name of the flow")),
		mcp.WithString("input", mcp.Description("Flow input as JSON (optional)")),
		mcp.WithString("run_id", mcp.Description("Run id to use (optional)")),
		mcp.WithString("session_id", mcp.Description("Session the run belongs to (optional)")),
		mcp.WithString("replay", mcp.Description("Id of a recorded run to replay (optional)")),
		mcp.WithOutputSchema[runner.RunView](),
	), mcp.NewStructuredToolHandler(s.handleStartRun))

	s.mcpServer.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get the state of a run: status, pending prompt, open agents and outputs."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithOutputSchema[runner.RunView](),
	), mcp.NewStructuredToolHandler(s.handleGetRun))

	s.mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List active and recorded runs."),
		mcp.WithString("flow", mcp.Description("Only runs of this flow")),
		mcp.WithString("status", mcp.Description("Only runs with this status: running, complete, failed or aborted")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of recorded runs")),
		mcp.WithOutputSchema[RunList](),
	), mcp.NewStructuredToolHandler(s.handleListRuns))

	s.mcpServer.AddTool(mcp.NewTool("reply",
		mcp.WithDescription("Answer the pending prompt of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("prompt_id", mcp.Required(), mcp.Description("Prompt id from get_run")),
		mcp.WithString("response", mcp.Required(), mcp.Description("The answer")),
		mcp.WithOutputSchema[runner.RunView](),
	), mcp.NewStructuredToolHandler(s.handleReply))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a running agent of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("invocation_id", mcp.Description("Agent invocation to target; defaults to the most recent one")),
		mcp.WithOutputSchema[runner.RunView](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	s.mcpServer.AddTool(mcp.NewTool("abort_run",
		mcp.WithDescription("Abort a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithString("reason", mcp.Description("Why the run is aborted")),
		mcp.WithOutputSchema[runner.RunView](),
	), mcp.NewStructuredToolHandler(s.handleAbortRun))

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Render a flow as a Mermaid flowchart, optionally painted with the node states of a run."),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Name of the flow")),
		mcp.WithString("run_id", mcp.Description("Run whose node states to paint (optional)")),
		mcp.WithOutputSchema[Graph](),
	), mcp.NewStructuredToolHandler(s.handleGetGraph))
}

var errMissingArgument = errors.New("missing argument")

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func requiredArg(args map[string]interface{}, name string) (string, error) {
	s := stringArg(args, name)
	if s == "" {
		return "", fmt.Errorf("%w: %s", errMissingArgument, name)
	}
	return s, nil
}

func (s *Server) handleListFlows(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (FlowList, error) {
	names, err := s.runs.Engine().Flows(ctx)
	if err != nil {
		return FlowList{}, err
	}
	return FlowList{Flows: names}, nil
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RunView, error) {
	flow, err := requiredArg(args, "flow")
	if err != nil {
		return runner.RunView{}, err
	}
	var input any
	if raw := stringArg(args, "input"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return runner.RunView{}, fmt.Errorf("input is not JSON: %w", err)
		}
	}

	var opts []harness.RunOption
	if id := stringArg(args, "run_id"); id != "" {
		opts = append(opts, harness.WithRunID(id))
	}
	if id := stringArg(args, "session_id"); id != "" {
		opts = append(opts, harness.WithSessionID(id))
	}
	if id := stringArg(args, "replay"); id != "" {
		opts = append(opts, harness.WithReplay(id))
	}

	run, err := s.runs.Start(ctx, flow, input, opts...)
	if err != nil {
		return runner.RunView{}, err
	}
	s.logger.Info("run started over MCP", logging.RunID(run.ID()), logging.Flow(flow))
	return s.view(ctx, run.ID())
}

func (s *Server) view(ctx context.Context, runID string) (runner.RunView, error) {
	v, err := s.runs.View(ctx, runID)
	if err != nil {
		return runner.RunView{}, err
	}
	return *v, nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RunView, error) {
	runID, err := requiredArg(args, "run_id")
	if err != nil {
		return runner.RunView{}, err
	}
	return s.view(ctx, runID)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunList, error) {
	query := domain.RunQuery{Flow: stringArg(args, "flow"), Status: domain.RunStatus(stringArg(args, "status"))}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		query.Limit = int(limit)
	}
	recorded, err := s.runs.Engine().Store().List(ctx, query)
	if err != nil {
		return RunList{}, err
	}
	list := RunList{Active: []runner.RunView{}, Recorded: recorded}
	for _, v := range s.runs.Active() {
		if (query.Flow == "" || v.Flow == query.Flow) && (query.Status == "" || v.Status == query.Status) {
			list.Active = append(list.Active, v)
		}
	}
	return list, nil
}

func (s *Server) handleReply(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RunView, error) {
	runID, err := requiredArg(args, "run_id")
	if err != nil {
		return runner.RunView{}, err
	}
	promptID, err := requiredArg(args, "prompt_id")
	if err != nil {
		return runner.RunView{}, err
	}
	if err := s.runs.Reply(runID, promptID, stringArg(args, "response")); err != nil {
		s.logger.Warn("MCP reply rejected", logging.RunID(runID), logging.Err(err))
		return runner.RunView{}, fmt.Errorf("reply rejected: %w", err)
	}
	return s.view(ctx, runID)
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RunView, error) {
	runID, err := requiredArg(args, "run_id")
	if err != nil {
		return runner.RunView{}, err
	}
	msg := domain.Message{Content: stringArg(args, "content"), From: "mcp"}
	if target := stringArg(args, "invocation_id"); target != "" {
		err = s.runs.SendTo(runID, target, msg)
	} else {
		err = s.runs.Send(runID, msg)
	}
	if err != nil {
		return runner.RunView{}, fmt.Errorf("message rejected: %w", err)
	}
	return s.view(ctx, runID)
}

func (s *Server) handleAbortRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (runner.RunView, error) {
	runID, err := requiredArg(args, "run_id")
	if err != nil {
		return runner.RunView{}, err
	}
	reason := stringArg(args, "reason")
	if reason == "" {
		reason = "aborted over MCP"
	}
	if err := s.runs.Abort(runID, reason); err != nil {
		return runner.RunView{}, err
	}
	run, err := s.runs.Get(runID)
	if err != nil {
		return runner.RunView{}, err
	}
	// Abort returns before the run settles; report the final state.
	select {
	case <-run.Done():
	case <-ctx.Done():
		return runner.RunView{}, ctx.Err()
	}
	return s.view(ctx, runID)
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (Graph, error) {
	name, err := requiredArg(args, "flow")
	if err != nil {
		return Graph{}, err
	}
	eng := s.runs.Engine()
	flow, err := eng.Load(ctx, name)
	if err != nil {
		return Graph{}, err
	}

	var overlay *graph.Overlay
	if runID := stringArg(args, "run_id"); runID != "" {
		var events []domain.Event
		if run, err := s.runs.Get(runID); err == nil {
			events = run.Hub().History()
		} else {
			rec, err := eng.Store().Load(ctx, runID)
			if err != nil {
				return Graph{}, err
			}
			events = rec.Events
		}
		overlay = graph.OverlayFromEvents(events)
	}
	return Graph{Flow: name, Mermaid: graph.GenerateMermaid(flow.Spec(), eng.Registry().Capabilities, overlay)}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("harness://flows", "Available flows",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		names, err := s.runs.Engine().Flows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list flows: %w", err)
		}
		jsonBytes, _ := json.Marshal(FlowList{Flows: names})
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "harness://flows", MIMEType: "application/json", Text: string(jsonBytes)},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource("harness://runs/active", "Active runs",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, _ := json.Marshal(s.runs.Active())
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "harness://runs/active", MIMEType: "application/json", Text: string(jsonBytes)},
		}, nil
	})
}
