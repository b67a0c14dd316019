// Package api exposes the daemon's HTTP surface: session lifecycle
// endpoints, the per-session data channel, and the per-session tool
// server the conversational model calls into.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/veristep/viva/internal/ingest"
	"github.com/veristep/viva/internal/interview"
	"github.com/veristep/viva/internal/questions"
	"github.com/veristep/viva/internal/session"
	"github.com/veristep/viva/internal/storage"
	"github.com/veristep/viva/internal/transport"
	"github.com/veristep/viva/internal/verifier"
)

const maxDescriptorBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP surface.
type AppDeps struct {
	Store        *storage.Store
	Registry     *session.Registry
	Search       verifier.Searcher
	Token        string
	KeywordTable questions.KeywordTable // nil selects the default table
	Defaults     interview.Defaults     // fallbacks for omitted descriptor fields
	Logger       *slog.Logger
}

// sessionEntry pairs a live session with its transport handle and its
// tool server. The registry only knows Sessions; the HTTP layer needs
// the rest.
type sessionEntry struct {
	sess    *session.Session
	channel *transport.Channel
	tools   http.Handler
}

type app struct {
	deps    AppDeps
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewAppHandler builds the daemon router. Everything except /health
// sits behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &app{deps: deps, entries: make(map[string]*sessionEntry)}

	r := chi.NewRouter()
	r.Get("/health", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", a.handleCreateSession)
		r.Get("/sessions/{id}", a.handleGetSession)
		r.Delete("/sessions/{id}", a.handleDeleteSession)
		r.Get("/sessions/{id}/tool-calls", a.handleListToolCalls)
		r.Post("/sessions/{id}/documents", a.handleUploadDocuments)
		r.Handle("/sessions/{id}/mcp", http.HandlerFunc(a.serveMCP))
		r.Get("/sessions/{id}/channel", a.handleChannel)
	})

	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": a.deps.Registry.Len(),
	})
}

func (a *app) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDescriptorBodySize)
	defer r.Body.Close()

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		// A descriptor that is not even JSON still gets a session;
		// the interview runs degraded rather than not at all.
		payload = nil
	}

	id := uuid.New().String()
	channel := transport.NewChannel(a.deps.Logger)
	sess := session.New(id, payload, session.Deps{
		Search:       a.deps.Search,
		Transport:    channel,
		KeywordTable: a.deps.KeywordTable,
		Defaults:     a.deps.Defaults,
		Logger:       a.deps.Logger,
	})

	rec := storage.SessionRecord{
		ID:              sess.ID,
		VisaCode:        sess.Config.VisaCode,
		DurationMinutes: sess.Config.DurationMinutes,
		UserPartition:   sess.Config.Partitions.User,
		ConfigError:     sess.ConfigError,
		CreatedAt:       sess.CreatedAt,
	}
	if err := a.deps.Store.CreateSession(rec); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "persisting session: %v", err)
		return
	}

	tools := NewToolServer(ToolDeps{Session: sess, Store: a.deps.Store, Logger: a.deps.Logger})

	a.deps.Registry.Add(sess)
	a.mu.Lock()
	a.entries[sess.ID] = &sessionEntry{
		sess:    sess,
		channel: channel,
		tools:   server.NewStreamableHTTPServer(tools),
	}
	a.mu.Unlock()

	a.deps.Logger.Info("session created",
		"session_id", sess.ID,
		"visa_code", sess.Config.VisaCode,
		"duration_minutes", sess.Config.DurationMinutes,
		"degraded", sess.ConfigError != "")

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           sess.ID,
		"state":        sess.Controller.State(),
		"instructions": sess.Instructions,
		"config_error": sess.ConfigError,
	})
}

func (a *app) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if sess := a.deps.Registry.Get(id); sess != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              sess.ID,
			"state":           sess.Controller.State(),
			"visa_code":       sess.Config.VisaCode,
			"elapsed_seconds": sess.Controller.Elapsed(),
			"percentage":      sess.Controller.Percentage(),
			"wrap_up_sent":    sess.Controller.WrapUpSent(),
			"config_error":    sess.ConfigError,
			"created_at":      sess.CreatedAt.Format(time.RFC3339),
		})
		return
	}

	rec, err := a.deps.Store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "invalid_request_error", "session %s not found", id)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
		return
	}

	resp := map[string]any{
		"id":           rec.ID,
		"state":        rec.State,
		"visa_code":    rec.VisaCode,
		"config_error": rec.ConfigError,
		"created_at":   rec.CreatedAt.Format(time.RFC3339),
	}
	if !rec.EndedAt.IsZero() {
		resp["ended_at"] = rec.EndedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	entry := a.entries[id]
	delete(a.entries, id)
	a.mu.Unlock()

	if entry == nil {
		httpError(w, http.StatusNotFound, "invalid_request_error", "session %s not found", id)
		return
	}

	a.deps.Registry.Remove(r.Context(), id)
	if err := a.deps.Store.UpdateSessionState(id, "TERMINATED"); err != nil {
		a.deps.Logger.Warn("recording teardown failed", "session_id", id, "error", err)
	}

	a.deps.Logger.Info("session removed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	calls, err := a.deps.Store.ListToolCalls(id, 200)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "listing tool calls: %v", err)
		return
	}

	type callView struct {
		ID        string `json:"id"`
		Tool      string `json:"tool"`
		Arguments string `json:"arguments,omitempty"`
		Outcome   string `json:"outcome"`
		CreatedAt string `json:"created_at"`
	}
	views := make([]callView, len(calls))
	for i, c := range calls {
		views[i] = callView{
			ID:        c.ID,
			Tool:      c.Tool,
			Arguments: c.Arguments,
			Outcome:   c.Outcome,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": views})
}

// UploadRequest asks the daemon to index applicant files into the
// session's user partition.
type UploadRequest struct {
	Documents []ingest.UploadFile `json:"documents"`
}

func (a *app) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess := a.deps.Registry.Get(id)
	if sess == nil {
		httpError(w, http.StatusNotFound, "invalid_request_error", "session %s not found", id)
		return
	}
	if sess.Config.Partitions.User == "" {
		httpError(w, http.StatusConflict, "invalid_request_error", "session %s has no user partition configured", id)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDescriptorBodySize)
	defer r.Body.Close()

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if len(req.Documents) == 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one document is required")
		return
	}

	payload, err := json.Marshal(ingest.UploadPayload{
		SessionID: id,
		Partition: sess.Config.Partitions.User,
		Documents: req.Documents,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "marshaling upload payload: %v", err)
		return
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        ingest.JobType,
		PayloadJSON: string(payload),
	}
	if err := a.deps.Store.EnqueueJob(job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "queuing upload: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (a *app) serveMCP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	entry := a.entries[id]
	a.mu.Unlock()

	if entry == nil {
		httpError(w, http.StatusNotFound, "invalid_request_error", "session %s not found", id)
		return
	}
	entry.tools.ServeHTTP(w, r)
}

func (a *app) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.mu.Lock()
	entry := a.entries[id]
	a.mu.Unlock()

	if entry == nil {
		httpError(w, http.StatusNotFound, "invalid_request_error", "session %s not found", id)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.deps.Logger.Warn("channel upgrade failed", "session_id", id, "error", err)
		return
	}

	if err := entry.channel.Attach(conn); err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	a.deps.Logger.Info("channel attached", "session_id", id)
	entry.sess.Greet(r.Context())

	sink := &persistingSink{
		ctrl:   entry.sess.Controller,
		store:  a.deps.Store,
		id:     id,
		logger: a.deps.Logger,
	}
	entry.channel.Serve(r.Context(), conn, sink)

	a.deps.Logger.Info("channel closed", "session_id", id)
}

// persistingSink forwards lifecycle signals to the controller and
// mirrors state transitions into storage.
type persistingSink struct {
	ctrl   *session.Controller
	store  *storage.Store
	id     string
	logger *slog.Logger
}

func (p *persistingSink) HandleTimeUpdate(ctx context.Context, elapsedSeconds int) bool {
	return p.ctrl.HandleTimeUpdate(ctx, elapsedSeconds)
}

func (p *persistingSink) MarkGoodbye() {
	p.ctrl.MarkGoodbye()
	if err := p.store.UpdateSessionState(p.id, string(p.ctrl.State())); err != nil {
		p.logger.Warn("recording goodbye failed", "session_id", p.id, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
