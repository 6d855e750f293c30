package server

import (
	"net/http"
	"time"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/registry"
)

type endorseRequest struct {
	TargetID string `json:"target_id"`
	Context  string `json:"context,omitempty"`
}

func (s *Server) handleEndorse(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFor(r)
	if apiKey == "" {
		unauthorized(w, "X-Api-Key header is required")
		return
	}
	if !s.writeLimit.Allow(apiKey) {
		rateLimited(w)
		return
	}

	var req endorseRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.TargetID == "" {
		badRequest(w, "target_id is required")
		return
	}

	agent, err := registry.Authorize(s.store, apiKey)
	if err != nil {
		writeErrorResp(w, err)
		return
	}

	edge, err := s.pipe.Endorse(apiKey, agent.AgentID, req.TargetID, req.Context, time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) handleGetEndorsements(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "id")
	received, err := s.store.ListEndorsementsReceived(agentID)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "endorsements_read_failed", "could not read endorsements"))
		return
	}
	given, err := s.store.ListEndorsementsGiven(agentID)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindStorage, "endorsements_read_failed", "could not read endorsements"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": received, "given": given})
}
