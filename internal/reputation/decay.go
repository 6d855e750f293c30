package reputation

import (
	"math"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

const decayDormancySeconds = 24 * 60 * 60

// decayToward pulls x toward the baseline by a compounding rate per elapsed
// day: x' = baseline + (x - baseline)·(1-rate)^days. The gap to baseline
// shrinks geometrically and never changes sign, so x never overshoots past
// the baseline.
func decayToward(x, rate float64, days float64) float64 {
	if days <= 0 {
		return x
	}
	step := x - baselineScore
	factor := math.Pow(1-rate, days)
	return clampScore(baselineScore + step*factor)
}

// ApplyDecay relaxes an agent's dimensions toward the baseline when it has
// been dormant for at least 24h, and recomputes its composite score and
// tier accordingly. It is a no-op for agents that have never submitted a
// trace, or that are still within the dormancy window. Decay is applied
// lazily on read rather than by a background sweep: callers invoke this
// once per read with the current time before serving agent state.
func ApplyDecay(cfg Config, agent *storage.Agent, now int64) {
	if agent.LastTraceAt == nil {
		return
	}
	idleSeconds := now - *agent.LastTraceAt
	if idleSeconds < decayDormancySeconds {
		return
	}
	days := float64(idleSeconds) / 86400

	agent.Dimensions.Reliability = decayToward(agent.Dimensions.Reliability, cfg.DecayRatePerDay, days)
	agent.Dimensions.Security = decayToward(agent.Dimensions.Security, cfg.DecayRatePerDay, days)
	agent.Dimensions.Speed = decayToward(agent.Dimensions.Speed, cfg.DecayRatePerDay, days)
	agent.Dimensions.CostEfficiency = decayToward(agent.Dimensions.CostEfficiency, cfg.DecayRatePerDay, days)
	agent.Dimensions.Consistency = decayToward(agent.Dimensions.Consistency, cfg.DecayRatePerDay, days)

	agent.TrustScore = TrustScoreFor(agent.Dimensions, agent.EndorsementScore)
	agent.CertificationTier = TierFor(agent.TrustScore)
}

// ProjectDecay returns what an agent's trust score would be after the given
// number of additional dormant days, without mutating the agent.
func ProjectDecay(cfg Config, agent *storage.Agent, additionalDays float64) float64 {
	d := agent.Dimensions
	d.Reliability = decayToward(d.Reliability, cfg.DecayRatePerDay, additionalDays)
	d.Security = decayToward(d.Security, cfg.DecayRatePerDay, additionalDays)
	d.Speed = decayToward(d.Speed, cfg.DecayRatePerDay, additionalDays)
	d.CostEfficiency = decayToward(d.CostEfficiency, cfg.DecayRatePerDay, additionalDays)
	d.Consistency = decayToward(d.Consistency, cfg.DecayRatePerDay, additionalDays)
	return TrustScoreFor(d, agent.EndorsementScore)
}
