// Package reputation implements the five-dimensional scoring engine: EMA
// updates per trace, the composite trust score, certification tiers,
// anomaly detection, and inactivity decay. Every exported function here is
// pure over its inputs; nothing in this package touches storage.
package reputation

import (
	"math"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

// Config carries the tunable constants the engine is parameterised by.
// DefaultConfig holds the values fixed by the scoring contract; the server
// builds its Config from config.TrustConfig.ToReputationConfig, so every
// field can be overridden from the environment.
type Config struct {
	Alpha                 float64
	LowTraceThreshold     int
	DecayRatePerDay       float64
	AnomalyMinTraces      int
	AnomalyClearThreshold int
	MaxEndorsementBonus   float64
}

// DefaultConfig returns the engine constants fixed by §4.2 of the scoring
// contract.
func DefaultConfig() Config {
	return Config{
		Alpha:                 0.3,
		LowTraceThreshold:     5,
		DecayRatePerDay:       0.001,
		AnomalyMinTraces:      10,
		AnomalyClearThreshold: 50,
		MaxEndorsementBonus:   2.0,
	}
}

const baselineScore = 50.0

// Weights for the composite trust score. Sum to 1.0.
const (
	weightReliability    = 0.30
	weightSecurity       = 0.20
	weightSpeed          = 0.15
	weightCostEfficiency = 0.10
	weightConsistency    = 0.25
)

// Composite blends the five dimensions into the single trust score, before
// any endorsement bonus is folded in.
func Composite(d storage.Dimensions) float64 {
	return weightReliability*d.Reliability +
		weightSecurity*d.Security +
		weightSpeed*d.Speed +
		weightCostEfficiency*d.CostEfficiency +
		weightConsistency*d.Consistency
}

// TrustScoreFor is the displayed trust score: the dimensional composite
// plus the accumulated endorsement bonus, clamped to [0, 100]. The
// endorsement bonus lives outside the five EMA dimensions, so it is added
// on top rather than blended in.
func TrustScoreFor(d storage.Dimensions, endorsementScore float64) float64 {
	return clampScore(Composite(d) + endorsementScore)
}

// TierFor maps a composite trust score to its certification tier. Pure
// function of score.
func TierFor(score float64) storage.Tier {
	switch {
	case score >= 90:
		return storage.TierEnterprise
	case score >= 70:
		return storage.TierGold
	case score >= 40:
		return storage.TierSilver
	default:
		return storage.TierBronze
	}
}

// TierMultiplier is the endorsement-bonus weight for an endorser's tier.
func TierMultiplier(t storage.Tier) float64 {
	switch t {
	case storage.TierEnterprise:
		return 2.0
	case storage.TierGold:
		return 1.5
	case storage.TierSilver:
		return 1.0
	default:
		return 0.5
	}
}

// clip bounds x to [lo, hi].
func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// clampScore bounds a dimensional or composite score to [0, 100].
func clampScore(x float64) float64 {
	return clip(x, 0, 100)
}

// ema blends a new observation into the running average at rate alpha,
// halving the effective step while the agent is still low-trace (the
// noise-suppression rule: agents with fewer than LowTraceThreshold total
// traces have every dimensional update dampened by 50%).
func ema(cfg Config, observation, previous float64, lowTrace bool) float64 {
	next := cfg.Alpha*observation + (1-cfg.Alpha)*previous
	if lowTrace {
		next = previous + 0.5*(next-previous)
	}
	return clampScore(next)
}
