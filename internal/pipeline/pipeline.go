// Package pipeline orchestrates the write paths that touch more than one
// core package: submitting a trace end to end, endorsing another agent,
// and the verdict/routing reads that must apply lazy decay first. Handlers
// in internal/server call into this package instead of wiring the core
// packages together themselves.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/endorsement"
	"github.com/garl-protocol/trust-engine/internal/reputation"
	"github.com/garl-protocol/trust-engine/internal/signing"
	"github.com/garl-protocol/trust-engine/internal/storage"
	"github.com/garl-protocol/trust-engine/internal/verdict"
	"github.com/garl-protocol/trust-engine/internal/webhook"
)

const consistencyWindow = 20

// Store is the persistence slice the pipeline needs. internal/storage.DB
// satisfies this.
type Store interface {
	GetAgent(agentID string) (*storage.Agent, error)
	GetAgentByAPIKeyHash(hash string) (*storage.Agent, error)
	UpdateAgent(a *storage.Agent) error
	ListAgents(opts storage.ListAgentsOptions) ([]*storage.Agent, error)

	CreateTrace(t *storage.Trace) error
	GetTraceByHash(agentID, traceHash string) (*storage.Trace, error)

	AppendReputationHistory(h *storage.ReputationHistory) error
	ListRecentReliabilityObservations(agentID string, n int) ([]float64, error)
	LastNSuccessRate(agentID string, n int) (float64, error)

	GetEndorsementPair(endorserID, targetID string) (*storage.Endorsement, error)
	CreateEndorsement(e *storage.Endorsement) error
	ListEndorsementsReceived(targetID string) ([]*storage.Endorsement, error)
	ListEndorsementsGiven(endorserID string) ([]*storage.Endorsement, error)
}

// Dispatcher is the slice of the webhook dispatcher the pipeline enqueues
// events onto.
type Dispatcher interface {
	Enqueue(event storage.WebhookEvent, payload json.RawMessage)
}

// Pipeline wires the reputation engine to storage, signing, and the
// webhook dispatcher, and serialises writes per agent.
type Pipeline struct {
	store      Store
	signer     *signing.Signer
	dispatcher Dispatcher
	cfg        reputation.Config
	locks      keyedMutex
}

// New builds a Pipeline. cfg fixes the reputation engine's tunables.
func New(store Store, signer *signing.Signer, dispatcher Dispatcher, cfg reputation.Config) *Pipeline {
	return &Pipeline{store: store, signer: signer, dispatcher: dispatcher, cfg: cfg}
}

// keyedMutex hands out one *sync.Mutex per key, so writes to the same
// agent serialise while writes to different agents proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// TraceInput is the caller-supplied half of a trace submission; server-
// assigned fields (trace_id, trace_hash, certificate, trust_delta,
// created_at) are filled in by Submit.
type TraceInput struct {
	TaskDescription string
	Status          storage.TraceStatus
	DurationMs      int64
	Category        storage.Category
	CostUSD         *float64
	TokenCount      int64
	ToolCalls       []storage.ToolCall
	InputSummary    string
	OutputSummary   string
	RuntimeEnv      string
	Permissions     []string
	SecurityEvent   bool
	MaskPII         bool
}

// SubmitResult is what the caller gets back from a successful submission.
type SubmitResult struct {
	TraceID     string
	TrustDelta  float64
	Certificate *signing.Certificate
	NewScores   storage.Dimensions
	TrustScore  float64
	Duplicate   bool
}

// hashablePayload is the subset of a trace canonicalised and hashed for
// trace_hash, excluding server-assigned fields. Summaries enter it unmasked;
// PII masking applies only to the stored trace row.
type hashablePayload struct {
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
}

func maskSummary(s string) string {
	if s == "" {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Submit validates, deduplicates, scores, persists, signs and fans out
// webhook events for a single trace, authenticated by apiKey. Submitting
// the same (agent_id, canonical payload) twice returns the original
// certificate rather than an error.
func (p *Pipeline) Submit(apiKey, agentID string, in TraceInput, now int64) (*SubmitResult, error) {
	agent, err := p.authorize(apiKey, agentID)
	if err != nil {
		return nil, err
	}
	if err := validateTraceInput(in); err != nil {
		return nil, err
	}

	inputSummary, outputSummary := in.InputSummary, in.OutputSummary
	if in.MaskPII {
		inputSummary = maskSummary(inputSummary)
		outputSummary = maskSummary(outputSummary)
	}

	payload := hashablePayload{
		AgentID: agentID, TaskDescription: in.TaskDescription, Status: in.Status,
		DurationMs: in.DurationMs, Category: in.Category, CostUSD: in.CostUSD,
		TokenCount: in.TokenCount, ToolCalls: in.ToolCalls, InputSummary: in.InputSummary,
		OutputSummary: in.OutputSummary, RuntimeEnv: in.RuntimeEnv, Permissions: in.Permissions,
		SecurityEvent: in.SecurityEvent,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "payload_encode_failed", "could not encode the trace payload")
	}
	traceHash, err := signing.Hash(raw)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "hash_failed", "could not hash the trace payload")
	}

	lock := p.locks.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := p.store.GetTraceByHash(agentID, traceHash); err == nil {
		existingPayload, err := json.Marshal(signing.TracePayload{
			TraceID: existing.TraceID, AgentID: existing.AgentID, Status: string(existing.Status),
			TrustScoreAfter: existing.TrustScoreAfter, TraceHash: existing.TraceHash,
			Created: existing.CreatedAt,
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindStorage, "payload_encode_failed", "could not re-encode the existing certificate payload")
		}
		cert := &signing.Certificate{
			Context: signing.CertificateContext,
			Type:    signing.CertificateType,
			Payload: existingPayload,
			Proof: signing.Proof{
				Type:      signing.ProofType,
				Created:   existing.Certificate.Created,
				PublicKey: existing.Certificate.PublicKey,
				Signature: existing.Certificate.Signature,
				Alg:       existing.Certificate.Alg,
			},
		}
		return &SubmitResult{
			TraceID: existing.TraceID, TrustDelta: existing.TrustDelta, Certificate: cert,
			NewScores: agent.Dimensions, TrustScore: agent.TrustScore, Duplicate: true,
		}, nil
	}

	priorObs, err := p.store.ListRecentReliabilityObservations(agentID, consistencyWindow)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "history_read_failed", "could not read reliability history")
	}
	last50, err := p.store.LastNSuccessRate(agentID, 50)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "history_read_failed", "could not read recent success rate")
	}

	trace := &storage.Trace{
		TraceID: uuid.NewString(), AgentID: agentID, TaskDescription: in.TaskDescription,
		Status: in.Status, DurationMs: in.DurationMs, Category: in.Category, CostUSD: in.CostUSD,
		TokenCount: in.TokenCount, ToolCalls: in.ToolCalls, InputSummary: inputSummary,
		OutputSummary: outputSummary, RuntimeEnv: in.RuntimeEnv, Permissions: in.Permissions,
		SecurityEvent: in.SecurityEvent, TraceHash: traceHash, CreatedAt: now,
	}

	outcome := reputation.ApplyTrace(p.cfg, agent, trace, priorObs, last50, now)
	trace.TrustDelta = outcome.CompositeAfter - outcome.CompositeBefore
	trace.TrustScoreAfter = outcome.CompositeAfter

	cert, err := p.signer.SignTracePayload(signing.TracePayload{
		TraceID: trace.TraceID, AgentID: agentID, Status: string(trace.Status),
		TrustScoreAfter: trace.TrustScoreAfter, TraceHash: traceHash, Created: now,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfig, "sign_failed", "could not sign the trace certificate")
	}
	trace.Certificate = storage.Certificate{
		PublicKey: cert.Proof.PublicKey, Signature: cert.Proof.Signature,
		Created: cert.Proof.Created, Alg: cert.Proof.Alg,
	}

	if err := p.store.CreateTrace(trace); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "trace_persist_failed", "could not persist the trace")
	}
	if err := p.store.AppendReputationHistory(&storage.ReputationHistory{
		AgentID: agentID, TrustScore: agent.TrustScore, Dimensions: agent.Dimensions,
		EventType: storage.EventTrace, TrustDelta: trace.TrustDelta,
		ReliabilityObs: outcome.ReliabilityObs, CreatedAt: now,
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "history_persist_failed", "could not persist reputation history")
	}
	if err := p.store.UpdateAgent(agent); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "agent_persist_failed", "could not persist agent state")
	}

	p.fanOutTraceEvents(agent, trace, outcome, now)

	return &SubmitResult{
		TraceID: trace.TraceID, TrustDelta: trace.TrustDelta, Certificate: cert,
		NewScores: agent.Dimensions, TrustScore: agent.TrustScore, Duplicate: false,
	}, nil
}

func (p *Pipeline) authorize(apiKey, agentID string) (*storage.Agent, error) {
	agent, err := p.store.GetAgentByAPIKeyHash(hashAPIKey(apiKey))
	if err != nil {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid_api_key", "unknown API key")
	}
	if agent.IsDeleted {
		return nil, apperr.New(apperr.KindForbidden, "agent_deleted", "this agent has been deleted")
	}
	if agent.AgentID != agentID {
		return nil, apperr.New(apperr.KindForbidden, "cross_agent_submission", "the API key does not belong to this agent")
	}
	return agent, nil
}

func validateTraceInput(in TraceInput) error {
	if len(in.TaskDescription) == 0 || len(in.TaskDescription) > 1000 {
		return apperr.New(apperr.KindValidation, "invalid_task_description", "task_description must be 1-1000 characters")
	}
	switch in.Status {
	case storage.TraceSuccess, storage.TraceFailure, storage.TracePartial:
	default:
		return apperr.New(apperr.KindValidation, "invalid_status", fmt.Sprintf("unknown status %q", in.Status))
	}
	if in.DurationMs < 0 {
		return apperr.New(apperr.KindValidation, "invalid_duration", "duration_ms must be >= 0")
	}
	if in.CostUSD != nil && *in.CostUSD < 0 {
		return apperr.New(apperr.KindValidation, "invalid_cost", "cost_usd must be >= 0")
	}
	if in.TokenCount < 0 {
		return apperr.New(apperr.KindValidation, "invalid_token_count", "token_count must be >= 0")
	}
	if len(in.InputSummary) > 500 || len(in.OutputSummary) > 500 {
		return apperr.New(apperr.KindValidation, "summary_too_long", "input_summary/output_summary must be <= 500 characters")
	}
	return nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// fanOutTraceEvents enqueues every webhook event a completed submission
// can produce. Enqueue never blocks and never fails the submission.
func (p *Pipeline) fanOutTraceEvents(agent *storage.Agent, trace *storage.Trace, outcome reputation.TraceOutcome, now int64) {
	if p.dispatcher == nil {
		return
	}

	p.emit(storage.WebhookTraceRecorded, agent.AgentID, now, map[string]any{
		"trace_id": trace.TraceID, "trust_delta": trace.TrustDelta, "trust_score": agent.TrustScore,
	})

	if delta := outcome.CompositeAfter - outcome.CompositeBefore; delta >= 2 || delta <= -2 {
		p.emit(storage.WebhookScoreChange, agent.AgentID, now, map[string]any{
			"trust_score_before": outcome.CompositeBefore, "trust_score_after": outcome.CompositeAfter,
		})
	}

	if reputation.Milestones[agent.TotalTraces] {
		p.emit(storage.WebhookMilestone, agent.AgentID, now, map[string]any{"total_traces": agent.TotalTraces})
	}

	if outcome.TierBefore != outcome.TierAfter {
		p.emit(storage.WebhookTierChange, agent.AgentID, now, map[string]any{
			"tier_before": outcome.TierBefore, "tier_after": outcome.TierAfter,
		})
	}

	for _, flag := range outcome.NewAnomalies {
		p.emit(storage.WebhookAnomaly, agent.AgentID, now, map[string]any{
			"type": flag.Type, "severity": flag.Severity, "message": flag.Message,
		})
	}
}

func (p *Pipeline) emit(event storage.WebhookEvent, agentID string, now int64, data map[string]any) {
	body, err := json.Marshal(map[string]any{
		"event": event, "agent_id": agentID, "timestamp": now, "data": data,
	})
	if err != nil {
		return
	}
	p.dispatcher.Enqueue(event, body)
}

// BatchResult summarises a batch submission, since individual items may
// fail independently.
type BatchResult struct {
	Submitted int
	Failed    int
	Details   []BatchItemResult
}

// BatchItemResult records the outcome of one item in a batch submission.
type BatchItemResult struct {
	Index  int
	Result *SubmitResult
	Err    error
}

const maxBatchSize = 50

// SubmitBatch submits up to 50 traces for the same agent. Each item is
// applied independently and failures do not roll back earlier successes.
func (p *Pipeline) SubmitBatch(apiKey, agentID string, items []TraceInput, now int64) (*BatchResult, error) {
	if len(items) == 0 || len(items) > maxBatchSize {
		return nil, apperr.New(apperr.KindValidation, "invalid_batch_size", fmt.Sprintf("batch must contain 1-%d items", maxBatchSize))
	}

	result := &BatchResult{Details: make([]BatchItemResult, len(items))}
	for i, item := range items {
		res, err := p.Submit(apiKey, agentID, item, now)
		result.Details[i] = BatchItemResult{Index: i, Result: res, Err: err}
		if err != nil {
			result.Failed++
		} else {
			result.Submitted++
		}
	}
	return result, nil
}

// Endorse validates and applies a directed endorsement edge from
// endorserID to targetID, authenticated as the endorser.
func (p *Pipeline) Endorse(apiKey, endorserID, targetID, context string, now int64) (*storage.Endorsement, error) {
	endorser, err := p.authorize(apiKey, endorserID)
	if err != nil {
		return nil, err
	}

	_, err = p.store.GetEndorsementPair(endorserID, targetID)
	exists := err == nil
	if err := endorsement.Validate(endorserID, targetID, exists); err != nil {
		return nil, err
	}

	lock := p.locks.lockFor(targetID)
	lock.Lock()
	defer lock.Unlock()

	target, err := p.store.GetAgent(targetID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "target_not_found", "the agent being endorsed does not exist")
	}
	if target.IsDeleted {
		return nil, apperr.New(apperr.KindForbidden, "target_deleted", "cannot endorse a deleted agent")
	}

	edge := endorsement.Build(p.cfg, endorser, target, context, uuid.NewString(), now)
	target.TrustScore = reputation.TrustScoreFor(target.Dimensions, target.EndorsementScore)
	target.CertificationTier = reputation.TierFor(target.TrustScore)
	target.UpdatedAt = now

	if err := p.store.CreateEndorsement(edge); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "endorsement_persist_failed", "could not persist the endorsement")
	}
	if err := p.store.UpdateAgent(target); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "agent_persist_failed", "could not persist the target's updated score")
	}
	if err := p.store.AppendReputationHistory(&storage.ReputationHistory{
		AgentID: targetID, TrustScore: target.TrustScore, Dimensions: target.Dimensions,
		EventType: storage.EventEndorsement, TrustDelta: edge.BonusApplied, CreatedAt: now,
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "history_persist_failed", "could not persist reputation history")
	}

	if p.dispatcher != nil && edge.BonusApplied != 0 {
		p.emit(storage.WebhookScoreChange, targetID, now, map[string]any{
			"reason": "endorsement", "bonus_applied": edge.BonusApplied, "trust_score": target.TrustScore,
		})
	}

	return edge, nil
}

// Verdict applies lazy decay and returns the read-side trust verdict for
// agentID, persisting the decayed state if it moved.
func (p *Pipeline) Verdict(agentID string, now int64) (*verdict.Verdict, error) {
	agent, err := p.decayedAgent(agentID, now)
	if err != nil {
		return nil, err
	}
	v := verdict.For(agent)
	return &v, nil
}

// Route applies lazy decay to every candidate in category and returns the
// best agents at or above minTier, per the trust verdict's routing rules.
func (p *Pipeline) Route(category storage.Category, minTier storage.Tier, limit int, now int64) ([]*storage.Agent, error) {
	candidates, err := p.store.ListAgents(storage.ListAgentsOptions{Category: category, ExcludeDeleted: true, ExcludeSandbox: true})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "list_agents_failed", "could not list agents")
	}
	decayed := make([]*storage.Agent, 0, len(candidates))
	for _, a := range candidates {
		d, err := p.decayedAgent(a.AgentID, now)
		if err != nil {
			continue
		}
		decayed = append(decayed, d)
	}
	return verdict.Route(decayed, category, minTier, limit), nil
}

const decayPersistEpsilon = 0.01

// AgentWithDecay loads an agent with lazy decay applied, for any read path
// (agent detail, card, compliance) that must serve dormancy-adjusted
// scores the same way Verdict does.
func (p *Pipeline) AgentWithDecay(agentID string, now int64) (*storage.Agent, error) {
	return p.decayedAgent(agentID, now)
}

// decayedAgent loads an agent, projects and persists lazy decay if it has
// been dormant long enough to move its scores, and returns the current
// (possibly just-updated) state.
func (p *Pipeline) decayedAgent(agentID string, now int64) (*storage.Agent, error) {
	agent, err := p.store.GetAgent(agentID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "agent_not_found", "no such agent")
	}

	lock := p.locks.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	before := agent.TrustScore
	reputation.ApplyDecay(p.cfg, agent, now)
	if diff := agent.TrustScore - before; diff > decayPersistEpsilon || diff < -decayPersistEpsilon {
		if err := p.store.UpdateAgent(agent); err != nil {
			return nil, apperr.Wrap(err, apperr.KindStorage, "decay_persist_failed", "could not persist decayed scores")
		}
		if err := p.store.AppendReputationHistory(&storage.ReputationHistory{
			AgentID: agentID, TrustScore: agent.TrustScore, Dimensions: agent.Dimensions,
			EventType: storage.EventDecay, TrustDelta: agent.TrustScore - before, CreatedAt: now,
		}); err != nil {
			return nil, apperr.Wrap(err, apperr.KindStorage, "history_persist_failed", "could not persist decay history")
		}
	}
	return agent, nil
}

// Ensure Dispatcher is satisfied by the real webhook dispatcher type.
var _ Dispatcher = (*webhook.Dispatcher)(nil)
