package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentflow/pkg/config"
	"agentflow/pkg/enforce"
	"agentflow/pkg/llm"
	"agentflow/pkg/logx"
	"agentflow/pkg/persistence"
	"agentflow/pkg/workflow"
)

const systemPrompt = `You are the planning and execution agent behind a coding assistant.
Drive the workflow with the structured tags you have been trained on
(analysis, plan, todo-update, log, status, focus, auto). Work on one
todo at a time and complete at most one todo per response.`

// Server is the localhost HTTP surface for the desktop shell.
type Server struct {
	cfg    *config.Config
	engine *workflow.Engine
	store  *persistence.Store
	client llm.Client
	logger *logx.Logger
}

// NewServer wires the HTTP layer over the engine and store.
func NewServer(cfg *config.Config, engine *workflow.Engine, store *persistence.Store, client llm.Client) *Server {
	return &Server{
		cfg:    cfg,
		engine: engine,
		store:  store,
		client: client,
		logger: logx.NewLogger("http"),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chats/{chatID}/turns", s.handleTurn)
	mux.HandleFunc("GET /api/workflows/{workflowID}", s.handleWorkflow)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is canceled; shutdown needs a fresh one.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

// turnRequest is the body of POST /api/chats/{chatID}/turns.
type turnRequest struct {
	Prompt string `json:"prompt"`
}

// turnResult is one engine cycle within a turn response. A single user
// prompt can yield several cycles when auto-advance is on.
//
//nolint:govet // struct alignment optimization not critical for this type
type turnResult struct {
	Command      string                  `json:"command"`
	Response     string                  `json:"response"`
	Dropped      []enforce.DroppedUpdate `json:"dropped,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
	AutoContinue bool                    `json:"autoContinue"`
}

// turnResponse is the full reply for one user prompt.
type turnResponse struct {
	Workflow *persistence.Workflow `json:"workflow"`
	Todos    []persistence.Todo    `json:"todos"`
	Turns    []turnResult          `json:"turns"`
}

// handleTurn runs one prompt through the engine, following
// auto-continue decisions up to the configured bound.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	resp := turnResponse{Turns: make([]turnResult, 0, 1)}
	prompt := req.Prompt
	var lastResponse string

	for i := 0; i <= s.cfg.Enforcement.MaxAutoContinues; i++ {
		outcome, err := s.engine.RunTurn(r.Context(), chatID, prompt, s.complete(&lastResponse))
		if err != nil {
			s.logger.Error("turn failed for chat %s: %v", chatID, err)
			http.Error(w, "turn failed", http.StatusInternalServerError)
			return
		}

		resp.Workflow = outcome.Workflow
		resp.Todos = outcome.Todos
		resp.Turns = append(resp.Turns, turnResult{
			Command:      prompt,
			Response:     lastResponse,
			Dropped:      outcome.Dropped,
			Warnings:     outcome.Warnings,
			AutoContinue: outcome.AutoContinue,
		})

		if !outcome.AutoContinue {
			break
		}
		if i == s.cfg.Enforcement.MaxAutoContinues {
			s.logger.Warn("chat %s hit the auto-continue bound (%d)", chatID, s.cfg.Enforcement.MaxAutoContinues)
			break
		}
		prompt = "continue"
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// complete adapts the model client to the engine's CompleteFunc and
// captures the raw response text for the API reply.
func (s *Server) complete(captured *string) workflow.CompleteFunc {
	return func(ctx context.Context, contextPayload, prompt string) (string, error) {
		req := llm.NewCompletionRequest([]llm.CompletionMessage{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(contextPayload),
			llm.NewUserMessage(prompt),
		})

		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		*captured = resp.Content
		return resp.Content, nil
	}
}

// handleWorkflow returns the full snapshot for one workflow id.
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflowID")

	snapshot, err := s.store.GetWorkflowByID(workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		s.logger.Error("snapshot failed for workflow %s: %v", workflowID, err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshot)
}

// handleLogs returns recent in-memory log entries for the UI log pane.
// Optional query params: domain, since (RFC3339).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")

	since := time.Now().Add(-15 * time.Minute)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, logx.RecentEntries(domain, since))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}
