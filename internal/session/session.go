// Package session owns the per-interview state: configuration, composed
// instructions, tool collaborators, the session clock, and the two-phase
// termination machine. Each interview gets exactly one Session; nothing
// here is process-global, so concurrent sessions never share state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veristep/viva/internal/composer"
	"github.com/veristep/viva/internal/interview"
	"github.com/veristep/viva/internal/questions"
	"github.com/veristep/viva/internal/verifier"
)

// Deps are the collaborators a Session is built from.
type Deps struct {
	Search       verifier.Searcher
	Transport    Transport
	KeywordTable questions.KeywordTable // nil selects the default table
	Defaults     interview.Defaults     // fallbacks for omitted descriptor fields
	Logger       *slog.Logger
}

// Session is the per-interview root object.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Config       interview.Config
	ConfigError  string // non-fatal descriptor defect, empty when clean
	Instructions string

	Bank       *questions.Bank
	Verifier   *verifier.Verifier
	Controller *Controller

	greet  sync.Once
	logger *slog.Logger
}

// New builds a Session from an untrusted descriptor payload. A malformed
// payload degrades to a defaulted configuration (no bank, no document
// access) and records the defect; session creation itself never fails.
func New(id string, payload []byte, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	cfg, err := interview.ParseWith(payload, deps.Defaults)
	configErr := ""
	if err != nil {
		configErr = err.Error()
		logger.Warn("descriptor parse failed, starting degraded", "error", err)
	}

	return &Session{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		Config:       cfg,
		ConfigError:  configErr,
		Instructions: composer.Instructions(cfg),
		Bank:         questions.NewBank(cfg.QuestionBank, deps.KeywordTable),
		Verifier:     verifier.New(deps.Search, cfg.Partitions.User, cfg.Partitions.Global),
		Controller:   NewController(cfg.DurationSeconds(), deps.Transport, logger),
		logger:       logger,
	}
}

// Greet triggers the initial greeting turn. One-shot: repeat calls do
// nothing.
func (s *Session) Greet(ctx context.Context) {
	s.greet.Do(func() {
		instruction := fmt.Sprintf(
			"Greet the applicant briefly for their %s visa interview and ask your first question from the question bank. "+
				"Be direct and slightly impatient, as you have many applicants to process today.",
			orVisa(s.Config.VisaCode),
		)
		if err := s.Controller.transport.Greet(ctx, instruction); err != nil {
			s.logger.Warn("greeting trigger failed", "error", err)
		}
	})
}

func orVisa(code string) string {
	if code == "" {
		return "visa"
	}
	return code
}

// Registry tracks live sessions by ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the session with the given ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove drops a session from the registry and releases its transport.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if s != nil {
		s.Controller.Release(ctx)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
