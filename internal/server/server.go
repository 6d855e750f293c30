// Package server exposes the trust engine's core packages over HTTP. Every
// handler does auth and request parsing and then calls into
// internal/pipeline, internal/registry or internal/compliance, or reads
// list/detail views straight from Store — no scoring logic lives here.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/pipeline"
	"github.com/garl-protocol/trust-engine/internal/ratelimit"
	"github.com/garl-protocol/trust-engine/internal/signing"
	"github.com/garl-protocol/trust-engine/internal/storage"
	"github.com/garl-protocol/trust-engine/internal/webhook"
)

// Store is the persistence slice handlers read directly for list/detail
// views that pipeline.Store does not already cover.
type Store interface {
	pipeline.Store
	GetTrace(traceID string) (*storage.Trace, error)
	ListTracesForAgent(agentID string, limit int) ([]*storage.Trace, error)
	ListRecentTraces(limit int) ([]*storage.Trace, error)
	ListReputationHistory(agentID string, limit int) ([]*storage.ReputationHistory, error)
	CountAgents(opts storage.ListAgentsOptions) (int, error)
	CreateAgent(a *storage.Agent) error
	AnonymizeAgent(agentID string) error

	GetWebhook(id string) (*storage.Webhook, error)
	ListWebhooksForAgent(agentID string) ([]*storage.Webhook, error)
	CreateWebhook(w *storage.Webhook) error
	UpdateWebhook(w *storage.Webhook) error
	DeleteWebhook(id string) error
}

// Server is the trust engine's HTTP adapter.
type Server struct {
	store      Store
	pipe       *pipeline.Pipeline
	signer     *signing.Signer
	dispatcher *webhook.Dispatcher
	writeLimit *ratelimit.KeyedLimiter
	regLimit   *ratelimit.KeyedLimiter
	readAuth   bool
	adminToken string
	corsOrigin []string
	mux        *http.ServeMux
}

// Deps bundles what New needs beyond storage/pipeline, mirroring the
// config groups that feed it.
type Deps struct {
	Signer             *signing.Signer
	Dispatcher         *webhook.Dispatcher
	WriteLimitPerMin   int
	RegisterLimitPerHr int
	ReadAuthEnabled    bool
	AdminToken         string
	CORSOrigins        []string
}

// New builds a Server with every route registered.
func New(store Store, pipe *pipeline.Pipeline, deps Deps) *Server {
	s := &Server{
		store:      store,
		pipe:       pipe,
		signer:     deps.Signer,
		dispatcher: deps.Dispatcher,
		writeLimit: ratelimit.New(max1(deps.WriteLimitPerMin, 120), time.Minute),
		regLimit:   ratelimit.New(max1(deps.RegisterLimitPerHr, 20), time.Hour),
		readAuth:   deps.ReadAuthEnabled,
		adminToken: deps.AdminToken,
		corsOrigin: deps.CORSOrigins,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func max1(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// ServeHTTP implements http.Handler, applying CORS headers to every
// response before delegating to the route mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range s.corsOrigin {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
			return
		}
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /verify", s.handleVerify)
	s.mux.HandleFunc("POST /verify/batch", s.handleVerifyBatch)
	s.mux.HandleFunc("POST /verify/check", s.handleVerifyCheck)

	s.mux.HandleFunc("POST /agents", s.handleCreateAgent)
	s.mux.HandleFunc("POST /agents/auto-register", s.handleAutoRegister)
	s.mux.HandleFunc("DELETE /agents/{id}", s.handleDeleteAgent)
	s.mux.HandleFunc("POST /agents/{id}/anonymize", s.handleAnonymizeAgent)
	s.mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("GET /agents/{id}/detail", s.handleGetAgentDetail)
	s.mux.HandleFunc("GET /agents/{id}/history", s.handleGetAgentHistory)
	s.mux.HandleFunc("GET /agents/{id}/card", s.handleGetAgentCard)
	s.mux.HandleFunc("GET /agents/{id}/compliance", s.handleGetAgentCompliance)

	s.mux.HandleFunc("GET /trust/verify", s.handleTrustVerify)
	s.mux.HandleFunc("GET /trust/route", s.handleTrustRoute)

	s.mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /compare", s.handleCompare)
	s.mux.HandleFunc("GET /feed", s.handleFeed)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /badge/{id}", s.handleBadgeData)
	s.mux.HandleFunc("GET /badge/svg/{id}", s.handleBadgeSVG)

	s.mux.HandleFunc("POST /endorse", s.handleEndorse)
	s.mux.HandleFunc("GET /endorsements/{id}", s.handleGetEndorsements)

	s.mux.HandleFunc("POST /webhooks", s.handleCreateWebhook)
	s.mux.HandleFunc("GET /webhooks/{id}", s.handleListWebhooks)
	s.mux.HandleFunc("PATCH /webhooks/{id}/{wh}", s.handleUpdateWebhook)
	s.mux.HandleFunc("DELETE /webhooks/{id}/{wh}", s.handleDeleteWebhook)

	s.mux.HandleFunc("GET /.well-known/agent-card.json", s.handleWellKnownAgentCard)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "garl-trust-engine"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorResp(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]any{
		"code":      codeOf(err),
		"error":     hintOr(err),
		"retryable": apperr.RetryableOf(err),
	})
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
