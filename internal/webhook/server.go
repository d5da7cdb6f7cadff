// Package webhook is the single HTTP surface spec.md §6 names: GET
// /health and POST /webhook/{platform}. Grounded on the teacher's
// cmd/nexus/handlers_serve.go for the graceful-serve shape and the
// pack's agentoven-agentoven control-plane router for go-chi/chi/v5
// routing idiom.
package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agenticdevops/aof/internal/aoftypes"
	"github.com/agenticdevops/aof/internal/channels"
	"github.com/agenticdevops/aof/internal/safety"
	"github.com/agenticdevops/aof/internal/triggerrouter"
)

const defaultIdempotencyTTL = 10 * time.Minute

// Submitter is the subset of *orchestrator.Orchestrator this server
// calls, kept as an interface so the server can be exercised without a
// live Orchestrator.
type Submitter interface {
	Submit(ctx context.Context, task *aoftypes.Task) (string, error)
}

// Config tunes the webhook server's idempotency window.
type Config struct {
	IdempotencyTTL time.Duration
}

func (c Config) sanitized() Config {
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = defaultIdempotencyTTL
	}
	return c
}

// Server parses inbound platform webhooks, routes and gates them, and
// submits accepted messages as Tasks.
type Server struct {
	router     *triggerrouter.Router
	platforms  *channels.Registry
	policies   *safety.PolicyEngine
	classifier *safety.ToolClassifier
	submitter  Submitter

	seen    *lru.LRU[string, struct{}]
	handler http.Handler
}

// New returns a Server wired to route, platforms, policies, classifier,
// and submitter.
func New(router *triggerrouter.Router, platforms *channels.Registry, policies *safety.PolicyEngine, classifier *safety.ToolClassifier, submitter Submitter, cfg Config) *Server {
	cfg = cfg.sanitized()

	s := &Server{
		router:     router,
		platforms:  platforms,
		policies:   policies,
		classifier: classifier,
		submitter:  submitter,
		seen:       lru.NewLRU[string, struct{}](4096, nil, cfg.IdempotencyTTL),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Get("/health", s.handleHealth)
	r.Post("/webhook/{platform}", s.handleWebhook)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	adapter, ok := s.platforms.Get(platform)
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}

	msg, ok, err := adapter.ParseEvent(r.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.duplicate(platform, msg) {
		w.WriteHeader(http.StatusOK)
		return
	}

	match, ok := s.router.RouteBest(platform, msg)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	_, decision := s.policies.Evaluate(platform, s.classifier, msg.Text)
	if decision.Blocked {
		reply := decision.Suggestion
		if reply == "" {
			reply = decision.Reason
		}
		_ = s.platforms.Send(r.Context(), platform, msg.Channel, reply)
		w.WriteHeader(http.StatusOK)
		return
	}

	execCtx := match.Resolve(msg)
	task := &aoftypes.Task{
		Name:         execCtx.TriggerName,
		ResourceKind: aoftypes.ResourceKind(execCtx.TargetKind),
		AgentRef:     execCtx.TargetName,
		Input:        msg.Text,
		UserID:       msg.User,
	}
	if _, err := s.submitter.Submit(r.Context(), task); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// duplicate reports whether msg carries a platform-supplied message_id
// already seen within the idempotency window, recording it if not.
func (s *Server) duplicate(platform string, msg triggerrouter.Message) bool {
	id, ok := msg.Metadata["message_id"].(string)
	if !ok || id == "" {
		return false
	}

	key := platform + ":" + id
	if _, dup := s.seen.Get(key); dup {
		return true
	}
	s.seen.Add(key, struct{}{})
	return false
}
