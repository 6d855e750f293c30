package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/compliance"
	"github.com/garl-protocol/trust-engine/internal/registry"
	"github.com/garl-protocol/trust-engine/internal/storage"
)

type registerRequest struct {
	Name                string           `json:"name"`
	Description         string           `json:"description,omitempty"`
	Framework           string           `json:"framework,omitempty"`
	Category            storage.Category `json:"category"`
	IsSandbox           bool             `json:"is_sandbox,omitempty"`
	PermissionsDeclared []string         `json:"permissions_declared,omitempty"`
}

type registerResponse struct {
	AgentID     string       `json:"agent_id"`
	SovereignID string       `json:"sovereign_id"`
	APIKey      string       `json:"api_key"`
	TrustScore  float64      `json:"trust_score"`
	Tier        storage.Tier `json:"certification_tier"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	s.register(w, r, false)
}

func (s *Server) handleAutoRegister(w http.ResponseWriter, r *http.Request) {
	s.register(w, r, true)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, sandbox bool) {
	if !s.regLimit.Allow(clientAddr(r)) {
		rateLimited(w)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if sandbox {
		req.IsSandbox = true
	}

	reg, err := registry.Register(s.store, registry.Request{
		Name: req.Name, Description: req.Description, Framework: req.Framework,
		Category: req.Category, IsSandbox: req.IsSandbox, PermissionsDeclared: req.PermissionsDeclared,
	}, time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		AgentID: reg.Agent.AgentID, SovereignID: reg.Agent.SovereignID, APIKey: reg.APIKey,
		TrustScore: reg.Agent.TrustScore, Tier: reg.Agent.CertificationTier,
	})
}

func (s *Server) requireAPIKeyOwner(w http.ResponseWriter, r *http.Request, agentID string) bool {
	apiKey := s.apiKeyFor(r)
	if apiKey == "" {
		unauthorized(w, "X-Api-Key header is required")
		return false
	}
	agent, err := registry.Authorize(s.store, apiKey)
	if err != nil {
		writeErrorResp(w, err)
		return false
	}
	if agent.AgentID != agentID {
		writeErrorResp(w, apperr.New(apperr.KindForbidden, "not_owner", "the API key does not belong to this agent"))
		return false
	}
	return true
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !s.requireAPIKeyOwner(w, r, id) {
		return
	}
	if err := registry.SoftDelete(s.store, id); err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAnonymizeAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !s.requireAPIKeyOwner(w, r, id) {
		return
	}
	if err := registry.Anonymize(s.store, id); err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"anonymized": true})
}

func (s *Server) requireReadAuth(w http.ResponseWriter, r *http.Request) bool {
	if !s.readAuth {
		return true
	}
	if s.apiKeyFor(r) == "" {
		unauthorized(w, "X-Api-Key header is required for reads")
		return false
	}
	return true
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if !s.requireReadAuth(w, r) {
		return
	}
	agent, err := s.store.GetAgent(pathParam(r, "id"))
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindNotFound, "agent_not_found", "no such agent"))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleGetAgentDetail(w http.ResponseWriter, r *http.Request) {
	if !s.requireReadAuth(w, r) {
		return
	}
	agent, err := s.pipe.AgentWithDecay(pathParam(r, "id"), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	traces, err := s.store.ListTracesForAgent(agent.AgentID, 20)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "traces_read_failed", "could not read recent traces"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "recent_traces": traces})
}

func (s *Server) handleGetAgentHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireReadAuth(w, r) {
		return
	}
	limit := queryInt(r, "limit", 50, 200)
	history, err := s.store.ListReputationHistory(pathParam(r, "id"), limit)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "history_read_failed", "could not read reputation history"))
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetAgentCard(w http.ResponseWriter, r *http.Request) {
	agent, err := s.pipe.AgentWithDecay(pathParam(r, "id"), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agentCard(agent))
}

// agentCard builds the A2A-style discovery document for one agent:
// identity, capability, auth contract, and a trust profile.
func (s *Server) agentCard(agent *storage.Agent) map[string]any {
	return map[string]any{
		"name": agent.Name, "description": agent.Description, "version": "1.0.0",
		"protocol": "garl/v1", "sovereign_id": agent.SovereignID,
		"certification_tier": agent.CertificationTier,
		"api":                map[string]string{"type": "rest", "url": "/agents/" + agent.AgentID},
		"auth":               map[string]string{"type": "api_key", "header": "x-api-key"},
		"capabilities":       []map[string]string{{"type": string(agent.Category), "description": agent.Description}},
		"garl_trust": map[string]any{
			"agent_id": agent.AgentID, "trust_score": agent.TrustScore, "verified": agent.Verified(),
			"success_rate": agent.SuccessRate, "total_traces": agent.TotalTraces,
			"dimensions": agent.Dimensions, "public_key": s.signer.PublicKeyHex(),
			"last_verified": agent.LastTraceAt,
		},
		"framework": agent.Framework, "created_at": agent.CreatedAt,
	}
}

func (s *Server) handleGetAgentCompliance(w http.ResponseWriter, r *http.Request) {
	if !s.requireReadAuth(w, r) {
		return
	}
	agent, err := s.pipe.AgentWithDecay(pathParam(r, "id"), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	received, err := s.store.ListEndorsementsReceived(agent.AgentID)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "endorsements_read_failed", "could not read endorsements"))
		return
	}
	given, err := s.store.ListEndorsementsGiven(agent.AgentID)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "endorsements_read_failed", "could not read endorsements"))
		return
	}
	writeJSON(w, http.StatusOK, compliance.Build(agent, received, given))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(storage.ListAgentsOptions{
		Category: storage.Category(r.URL.Query().Get("category")), ExcludeDeleted: true,
		ExcludeSandbox: true, MinTotalTraces: 1, Limit: queryInt(r, "limit", 50, 200),
	})
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "list_agents_failed", "could not list agents"))
		return
	}
	writeJSON(w, http.StatusOK, s.decayAll(agents))
}

func (s *Server) decayAll(agents []*storage.Agent) []*storage.Agent {
	now := time.Now().Unix()
	out := make([]*storage.Agent, 0, len(agents))
	for _, a := range agents {
		decayed, err := s.pipe.AgentWithDecay(a.AgentID, now)
		if err != nil {
			continue
		}
		out = append(out, decayed)
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(storage.ListAgentsOptions{
		Category: storage.Category(r.URL.Query().Get("category")), ExcludeDeleted: true,
		MinTotalTraces: 1, NameContains: strings.TrimSpace(r.URL.Query().Get("q")),
		Limit: queryInt(r, "limit", 10, 100),
	})
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "search_failed", "could not search agents"))
		return
	}
	writeJSON(w, http.StatusOK, s.decayAll(agents))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("agents")
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		badRequest(w, "provide at least 2 agent ids")
		return
	}
	if len(ids) > 10 {
		badRequest(w, "maximum 10 agents")
		return
	}

	now := time.Now().Unix()
	var out []*storage.Agent
	for _, id := range ids {
		agent, err := s.pipe.AgentWithDecay(id, now)
		if err != nil {
			continue
		}
		out = append(out, agent)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	traces, err := s.store.ListRecentTraces(queryInt(r, "limit", 20, 100))
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "feed_failed", "could not read the activity feed"))
		return
	}
	writeJSON(w, http.StatusOK, traces)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalAgents, err := s.store.CountAgents(storage.ListAgentsOptions{ExcludeDeleted: true, ExcludeSandbox: true})
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "stats_failed", "could not compute stats"))
		return
	}
	top, err := s.store.ListAgents(storage.ListAgentsOptions{ExcludeDeleted: true, ExcludeSandbox: true, MinTotalTraces: 1, Limit: 1})
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "stats_failed", "could not compute stats"))
		return
	}
	resp := map[string]any{"total_agents": totalAgents}
	if len(top) > 0 {
		resp["top_agent"] = map[string]any{
			"name": top[0].Name, "trust_score": top[0].TrustScore, "certification_tier": top[0].CertificationTier,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var tierBadgeColor = map[storage.Tier]string{
	storage.TierEnterprise: "#a855f7",
	storage.TierGold:       "#f59e0b",
	storage.TierSilver:     "#94a3b8",
	storage.TierBronze:     "#92400e",
}

func (s *Server) handleBadgeData(w http.ResponseWriter, r *http.Request) {
	agent, err := s.pipe.AgentWithDecay(pathParam(r, "id"), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agent.AgentID, "name": agent.Name, "trust_score": agent.TrustScore,
		"certification_tier": agent.CertificationTier, "verified": agent.Verified(),
	})
}

func (s *Server) handleBadgeSVG(w http.ResponseWriter, r *http.Request) {
	agent, err := s.pipe.AgentWithDecay(pathParam(r, "id"), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}

	name := agent.Name
	if len(name) > 20 {
		name = name[:20]
	}
	color := tierBadgeColor[agent.CertificationTier]
	if color == "" {
		color = "#00ff88"
	}
	label := fmt.Sprintf("GARL %s", strings.ToUpper(string(agent.CertificationTier)))
	value := fmt.Sprintf("%.1f", agent.TrustScore)
	if agent.Verified() {
		value += " ✓"
	}
	labelWidth := len(label)*7 + 10
	valueWidth := len(value)*7 + 14
	total := labelWidth + valueWidth

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">
  <title>%s: %s</title>
  <g>
    <rect width="%d" height="20" fill="#12121a"/>
    <rect x="%d" width="%d" height="20" fill="%s"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" font-size="11">
    <text x="%d" y="14" fill="#e4e4e7">%s</text>
    <text x="%d" y="14" fill="#0a0a0f" font-weight="bold">%s</text>
  </g>
</svg>`, total, label, value, label, value, labelWidth, labelWidth, valueWidth, color,
		labelWidth/2, label, labelWidth+valueWidth/2, value)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(svg))
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
