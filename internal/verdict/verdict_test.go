package verdict

import (
	"testing"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

func TestForTrustedRequiresVerifiedAndNoActiveAnomaly(t *testing.T) {
	agent := &storage.Agent{TrustScore: 80, TotalTraces: 15}
	v := For(agent)
	if v.Recommendation != RecommendationTrusted || v.RiskLevel != RiskLow {
		t.Fatalf("expected trusted/low, got %v/%v", v.Recommendation, v.RiskLevel)
	}
}

func TestForTrustedDemotedByActiveAnomaly(t *testing.T) {
	agent := &storage.Agent{
		TrustScore:  80,
		TotalTraces: 15,
		AnomalyFlags: []storage.AnomalyFlag{
			{Type: storage.AnomalyDurationSpike, Severity: storage.SeverityWarning, Archived: false},
		},
	}
	v := For(agent)
	if v.Recommendation != RecommendationTrustedWithMonitor {
		t.Fatalf("an active anomaly should demote from trusted, got %v", v.Recommendation)
	}
}

func TestForTrustedWithMonitoringBelow75(t *testing.T) {
	agent := &storage.Agent{TrustScore: 65, TotalTraces: 20}
	v := For(agent)
	if v.Recommendation != RecommendationTrustedWithMonitor || v.RiskLevel != RiskLow {
		t.Fatalf("expected trusted_with_monitoring/low, got %v/%v", v.Recommendation, v.RiskLevel)
	}
}

func TestForUnverifiedHighScoreFallsToProceedWithMonitoring(t *testing.T) {
	agent := &storage.Agent{TrustScore: 80, TotalTraces: 3}
	v := For(agent)
	if v.Verified {
		t.Fatalf("an agent with 3 traces should not be verified")
	}
	if v.Recommendation != RecommendationProceedWithMonitor {
		t.Fatalf("an unverified agent cannot reach trusted/trusted_with_monitoring, got %v", v.Recommendation)
	}
}

func TestForCautionBand(t *testing.T) {
	agent := &storage.Agent{TrustScore: 30, TotalTraces: 20}
	v := For(agent)
	if v.Recommendation != RecommendationCaution || v.RiskLevel != RiskHigh {
		t.Fatalf("expected caution/high, got %v/%v", v.Recommendation, v.RiskLevel)
	}
}

func TestForDoNotDelegateBelowFloor(t *testing.T) {
	agent := &storage.Agent{TrustScore: 10, TotalTraces: 20}
	v := For(agent)
	if v.Recommendation != RecommendationDoNotDelegate || v.RiskLevel != RiskCritical {
		t.Fatalf("expected do_not_delegate/critical, got %v/%v", v.Recommendation, v.RiskLevel)
	}
}

func agentFixture(id string, category storage.Category, tier storage.Tier, score float64, traces int, critical bool) *storage.Agent {
	a := &storage.Agent{
		AgentID:           id,
		Category:          category,
		CertificationTier: tier,
		TrustScore:        score,
		TotalTraces:       traces,
	}
	if critical {
		a.AnomalyFlags = []storage.AnomalyFlag{{Severity: storage.SeverityCritical}}
	}
	return a
}

func TestRouteOrdersByScoreAndExcludesCritical(t *testing.T) {
	a := agentFixture("A", storage.CategoryCoding, storage.TierGold, 82, 100, false)
	b := agentFixture("B", storage.CategoryCoding, storage.TierSilver, 65, 50, false)
	c := agentFixture("C", storage.CategoryCoding, storage.TierGold, 70, 200, true)

	got := Route([]*storage.Agent{a, b, c}, storage.CategoryCoding, storage.TierSilver, 5)

	if len(got) != 2 || got[0].AgentID != "A" || got[1].AgentID != "B" {
		ids := make([]string, len(got))
		for i, a := range got {
			ids[i] = a.AgentID
		}
		t.Fatalf("expected [A B], got %v", ids)
	}
}

func TestRouteExcludesWrongCategoryDeletedSandboxAndLowTier(t *testing.T) {
	wrongCategory := agentFixture("wrong-cat", storage.CategoryResearch, storage.TierGold, 90, 10, false)
	deleted := agentFixture("deleted", storage.CategoryCoding, storage.TierGold, 90, 10, false)
	deleted.IsDeleted = true
	sandboxed := agentFixture("sandbox", storage.CategoryCoding, storage.TierGold, 90, 10, false)
	sandboxed.IsSandbox = true
	lowTier := agentFixture("low-tier", storage.CategoryCoding, storage.TierBronze, 90, 10, false)

	got := Route([]*storage.Agent{wrongCategory, deleted, sandboxed, lowTier}, storage.CategoryCoding, storage.TierSilver, 5)
	if len(got) != 0 {
		t.Fatalf("expected no eligible agents, got %d", len(got))
	}
}

func TestRouteRespectsLimit(t *testing.T) {
	agents := []*storage.Agent{
		agentFixture("A", storage.CategoryCoding, storage.TierGold, 90, 10, false),
		agentFixture("B", storage.CategoryCoding, storage.TierGold, 80, 10, false),
		agentFixture("C", storage.CategoryCoding, storage.TierGold, 70, 10, false),
	}
	got := Route(agents, storage.CategoryCoding, storage.TierBronze, 2)
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
}

func TestRouteTiesBrokenByTotalTraces(t *testing.T) {
	a := agentFixture("A", storage.CategoryCoding, storage.TierGold, 80, 5, false)
	b := agentFixture("B", storage.CategoryCoding, storage.TierGold, 80, 50, false)

	got := Route([]*storage.Agent{a, b}, storage.CategoryCoding, storage.TierBronze, 5)
	if got[0].AgentID != "B" {
		t.Fatalf("expected the higher-trace agent to win the tie, got %s first", got[0].AgentID)
	}
}
