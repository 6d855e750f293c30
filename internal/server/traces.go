package server

import (
	"net/http"
	"time"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/pipeline"
	"github.com/garl-protocol/trust-engine/internal/signing"
	"github.com/garl-protocol/trust-engine/internal/storage"
)

type verifyRequest struct {
	AgentID         string              `json:"agent_id"`
	TaskDescription string              `json:"task_description"`
	Status          storage.TraceStatus `json:"status"`
	DurationMs      int64               `json:"duration_ms"`
	Category        storage.Category    `json:"category"`
	CostUSD         *float64            `json:"cost_usd,omitempty"`
	TokenCount      int64               `json:"token_count"`
	ToolCalls       []storage.ToolCall  `json:"tool_calls,omitempty"`
	InputSummary    string              `json:"input_summary,omitempty"`
	OutputSummary   string              `json:"output_summary,omitempty"`
	RuntimeEnv      string              `json:"runtime_env,omitempty"`
	Permissions     []string            `json:"permissions,omitempty"`
	SecurityEvent   bool                `json:"security_event,omitempty"`
	MaskPII         bool                `json:"mask_pii,omitempty"`
}

func (req verifyRequest) toInput() pipeline.TraceInput {
	return pipeline.TraceInput{
		TaskDescription: req.TaskDescription, Status: req.Status, DurationMs: req.DurationMs,
		Category: req.Category, CostUSD: req.CostUSD, TokenCount: req.TokenCount,
		ToolCalls: req.ToolCalls, InputSummary: req.InputSummary, OutputSummary: req.OutputSummary,
		RuntimeEnv: req.RuntimeEnv, Permissions: req.Permissions, SecurityEvent: req.SecurityEvent,
		MaskPII: req.MaskPII,
	}
}

type verifyResponse struct {
	TraceID     string               `json:"trace_id"`
	TrustDelta  float64              `json:"trust_delta"`
	TrustScore  float64              `json:"trust_score"`
	Dimensions  storage.Dimensions   `json:"dimensions"`
	Certificate *signing.Certificate `json:"certificate"`
	Duplicate   bool                 `json:"duplicate"`
}

func toVerifyResponse(res *pipeline.SubmitResult) verifyResponse {
	return verifyResponse{
		TraceID: res.TraceID, TrustDelta: res.TrustDelta, TrustScore: res.TrustScore,
		Dimensions: res.NewScores, Certificate: res.Certificate, Duplicate: res.Duplicate,
	}
}

func (s *Server) apiKeyFor(r *http.Request) string {
	return r.Header.Get("X-Api-Key")
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFor(r)
	if apiKey == "" {
		unauthorized(w, "X-Api-Key header is required")
		return
	}
	if !s.writeLimit.Allow(apiKey) {
		rateLimited(w)
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.AgentID == "" {
		badRequest(w, "agent_id is required")
		return
	}

	res, err := s.pipe.Submit(apiKey, req.AgentID, req.toInput(), time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(res))
}

type verifyBatchRequest struct {
	AgentID string          `json:"agent_id"`
	Traces  []verifyRequest `json:"traces"`
}

type verifyBatchResponse struct {
	Submitted int                 `json:"submitted"`
	Failed    int                 `json:"failed"`
	Details   []batchItemResponse `json:"details"`
}

type batchItemResponse struct {
	Index  int             `json:"index"`
	Result *verifyResponse `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	apiKey := s.apiKeyFor(r)
	if apiKey == "" {
		unauthorized(w, "X-Api-Key header is required")
		return
	}
	if !s.writeLimit.Allow(apiKey) {
		rateLimited(w)
		return
	}

	var req verifyBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.AgentID == "" {
		badRequest(w, "agent_id is required")
		return
	}

	items := make([]pipeline.TraceInput, len(req.Traces))
	for i, t := range req.Traces {
		items[i] = t.toInput()
	}

	batch, err := s.pipe.SubmitBatch(apiKey, req.AgentID, items, time.Now().Unix())
	if err != nil {
		writeErrorResp(w, err)
		return
	}

	resp := verifyBatchResponse{Submitted: batch.Submitted, Failed: batch.Failed, Details: make([]batchItemResponse, len(batch.Details))}
	for i, d := range batch.Details {
		item := batchItemResponse{Index: d.Index}
		if d.Err != nil {
			msg := hintOr(d.Err)
			item.Error = &msg
		} else {
			v := toVerifyResponse(d.Result)
			item.Result = &v
		}
		resp.Details[i] = item
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyCheckRequest struct {
	Certificate *signing.Certificate `json:"certificate"`
}

func (s *Server) handleVerifyCheck(w http.ResponseWriter, r *http.Request) {
	var req verifyCheckRequest
	if err := decodeJSON(r, &req); err != nil || req.Certificate == nil {
		badRequest(w, "certificate is required")
		return
	}

	ok, err := signing.Verify(req.Certificate)
	if err != nil {
		writeErrorResp(w, apperr.Wrap(err, apperr.KindValidation, "malformed_certificate", "could not parse the certificate"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}
