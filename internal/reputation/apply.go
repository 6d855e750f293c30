package reputation

import (
	"github.com/garl-protocol/trust-engine/internal/storage"
)

// TraceOutcome summarises what applying a trace changed, for the pipeline
// to decide which webhook events to enqueue.
type TraceOutcome struct {
	CompositeBefore float64
	CompositeAfter  float64
	TierBefore      storage.Tier
	TierAfter       storage.Tier
	NewAnomalies    []storage.AnomalyFlag
	ReliabilityObs  float64
}

// ApplyTrace mutates agent in place to incorporate trace t: it updates the
// five dimensional EMAs, the composite score, the certification tier, the
// running counters (total_traces, success_count, consecutive_successes,
// avg_duration_ms, total_cost_usd), last_trace_at, and anomaly flags
// (archiving non-critical ones once the consecutive-success streak reaches
// AnomalyClearThreshold).
//
// recentReliabilityObservations is the agent's reliability-observation
// history (oldest first, most recent consistencyWindow entries) BEFORE
// this trace; ApplyTrace appends this trace's own observation before
// scoring consistency, since the trace being scored is part of its own
// rolling window. last50SuccessRate is the agent's success rate over its
// most recent 50 traces, computed by the caller BEFORE this trace.
func ApplyTrace(cfg Config, agent *storage.Agent, t *storage.Trace, recentReliabilityObservations []float64, last50SuccessRate float64, now int64) TraceOutcome {
	before := TrustScoreFor(agent.Dimensions, agent.EndorsementScore)
	tierBefore := agent.CertificationTier
	lowTrace := agent.TotalTraces < cfg.LowTraceThreshold

	snap := anomalySnapshot{
		totalTraces:       agent.TotalTraces,
		avgDurationMs:     agent.AvgDurationMs,
		totalCostUSD:      agent.TotalCostUSD,
		last50SuccessRate: last50SuccessRate,
	}

	if t.Status == storage.TraceSuccess {
		agent.ConsecutiveSuccesses++
	} else {
		agent.ConsecutiveSuccesses = 0
	}

	reliabilityObs := ReliabilityObservation(t.Status, agent.ConsecutiveSuccesses)
	agent.Dimensions.Reliability = ema(cfg, reliabilityObs, agent.Dimensions.Reliability, lowTrace)

	if speedObs, ok := SpeedObservation(t.Category, t.DurationMs); ok {
		agent.Dimensions.Speed = ema(cfg, speedObs, agent.Dimensions.Speed, lowTrace)
	}
	if costObs, ok := CostObservation(t.Category, t.CostUSD); ok {
		agent.Dimensions.CostEfficiency = ema(cfg, costObs, agent.Dimensions.CostEfficiency, lowTrace)
	}

	securityObs := SecurityObservation(len(t.Permissions) > 0, t.SecurityEvent)
	agent.Dimensions.Security = ema(cfg, securityObs, agent.Dimensions.Security, lowTrace)

	window := append(append([]float64{}, recentReliabilityObservations...), reliabilityObs)
	if len(window) > consistencyWindow {
		window = window[len(window)-consistencyWindow:]
	}
	consistencyObs := ConsistencyObservation(window)
	agent.Dimensions.Consistency = ema(cfg, consistencyObs, agent.Dimensions.Consistency, lowTrace)

	agent.TotalTraces++
	if t.Status == storage.TraceSuccess {
		agent.SuccessCount++
	}
	agent.SuccessRate = 100 * float64(agent.SuccessCount) / float64(agent.TotalTraces)

	agent.AvgDurationMs = runningAverage(agent.AvgDurationMs, agent.TotalTraces, float64(t.DurationMs))
	if t.CostUSD != nil {
		agent.TotalCostUSD += *t.CostUSD
	}

	agent.TrustScore = TrustScoreFor(agent.Dimensions, agent.EndorsementScore)
	agent.CertificationTier = TierFor(agent.TrustScore)
	agent.LastTraceAt = &now
	agent.UpdatedAt = now

	newFlags := detectAnomalies(cfg, agent.TotalTraces, t, snap, now)
	if len(newFlags) > 0 {
		agent.AnomalyFlags = append(agent.AnomalyFlags, newFlags...)
	} else {
		autoClearAnomalies(cfg, agent.AnomalyFlags, agent.ConsecutiveSuccesses)
	}

	return TraceOutcome{
		CompositeBefore: before,
		CompositeAfter:  agent.TrustScore,
		TierBefore:      tierBefore,
		TierAfter:       agent.CertificationTier,
		NewAnomalies:    newFlags,
		ReliabilityObs:  reliabilityObs,
	}
}

// runningAverage folds a new sample into a running mean given the sample
// count AFTER including it.
func runningAverage(prevAvg float64, countAfter int, sample float64) float64 {
	if countAfter <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/float64(countAfter)
}

// Milestones is the set of total_traces values that trigger a milestone
// webhook event.
var Milestones = map[int]bool{10: true, 50: true, 100: true, 500: true, 1000: true, 5000: true}
