package server

import (
	"net/http"
	"time"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

func (s *Server) handleTrustVerify(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		badRequest(w, "agent_id query parameter is required")
		return
	}
	v, err := s.pipe.Verdict(agentID, time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTrustRoute(w http.ResponseWriter, r *http.Request) {
	category := storage.Category(r.URL.Query().Get("category"))
	if category == "" {
		badRequest(w, "category query parameter is required")
		return
	}
	minTier := storage.Tier(r.URL.Query().Get("min_tier"))
	if minTier == "" {
		minTier = storage.TierBronze
	}
	limit := queryInt(r, "limit", 10, 100)

	agents, err := s.pipe.Route(category, minTier, limit, time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}
