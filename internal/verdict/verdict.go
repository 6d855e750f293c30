// Package verdict assembles the read-side trust recommendation and the
// category/tier routing query. Both are pure over already-decayed agent
// state; neither package mutates storage.
package verdict

import (
	"sort"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

// Recommendation is the closed set of delegation guidance the engine gives
// for an agent.
type Recommendation string

const (
	RecommendationTrusted            Recommendation = "trusted"
	RecommendationTrustedWithMonitor Recommendation = "trusted_with_monitoring"
	RecommendationProceedWithMonitor Recommendation = "proceed_with_monitoring"
	RecommendationCaution            Recommendation = "caution"
	RecommendationDoNotDelegate      Recommendation = "do_not_delegate"
)

// RiskLevel is the closed set of risk bands paired with a recommendation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Verdict is the full trust-delegation summary for one agent.
type Verdict struct {
	AgentID           string                `json:"agent_id"`
	TrustScore        float64               `json:"trust_score"`
	Verified          bool                  `json:"verified"`
	RiskLevel         RiskLevel             `json:"risk_level"`
	Recommendation    Recommendation        `json:"recommendation"`
	CertificationTier storage.Tier          `json:"certification_tier"`
	Dimensions        storage.Dimensions    `json:"dimensions"`
	Anomalies         []storage.AnomalyFlag `json:"anomalies"`
	LastActive        *int64                `json:"last_active"`
}

// For evaluates the recommendation/risk ladder top-down against an agent
// that has already had decay applied (the pipeline runs
// reputation.ApplyDecay on the loaded agent, persisting it when the score
// moved, before calling this, so the trust_score passed in already
// reflects dormancy).
func For(agent *storage.Agent) Verdict {
	verified := agent.Verified()
	hasActiveAnomaly := agent.HasActiveAnomaly()

	rec, risk := classify(agent.TrustScore, verified, hasActiveAnomaly)

	return Verdict{
		AgentID:           agent.AgentID,
		TrustScore:        agent.TrustScore,
		Verified:          verified,
		RiskLevel:         risk,
		Recommendation:    rec,
		CertificationTier: agent.CertificationTier,
		Dimensions:        agent.Dimensions,
		Anomalies:         agent.AnomalyFlags,
		LastActive:        agent.LastTraceAt,
	}
}

// classify runs the top-down recommendation ladder. First match wins.
func classify(score float64, verified bool, hasActiveAnomaly bool) (Recommendation, RiskLevel) {
	switch {
	case score >= 75 && verified && !hasActiveAnomaly:
		return RecommendationTrusted, RiskLow
	case score >= 60 && verified:
		return RecommendationTrustedWithMonitor, RiskLow
	case score >= 50:
		return RecommendationProceedWithMonitor, RiskMedium
	case score >= 25:
		return RecommendationCaution, RiskHigh
	default:
		return RecommendationDoNotDelegate, RiskCritical
	}
}

var tierRank = map[storage.Tier]int{
	storage.TierBronze:     0,
	storage.TierSilver:     1,
	storage.TierGold:       2,
	storage.TierEnterprise: 3,
}

// Route filters candidates down to the routing set for a category/min-tier
// query: same category, tier at or above minTier, not deleted, not
// sandboxed, and free of any active critical anomaly. The result is sorted
// by trust_score descending, ties broken by total_traces descending, and
// capped at limit.
func Route(candidates []*storage.Agent, category storage.Category, minTier storage.Tier, limit int) []*storage.Agent {
	minRank := tierRank[minTier]

	eligible := make([]*storage.Agent, 0, len(candidates))
	for _, a := range candidates {
		if a.Category != category {
			continue
		}
		if a.IsDeleted || a.IsSandbox {
			continue
		}
		if tierRank[a.CertificationTier] < minRank {
			continue
		}
		if a.HasCriticalAnomaly() {
			continue
		}
		eligible = append(eligible, a)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].TrustScore != eligible[j].TrustScore {
			return eligible[i].TrustScore > eligible[j].TrustScore
		}
		return eligible[i].TotalTraces > eligible[j].TotalTraces
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}
