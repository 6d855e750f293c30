package reputation

import (
	"testing"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

func TestApplyDecayNoOpWithoutTraceHistory(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions = storage.Dimensions{Reliability: 80, Security: 80, Speed: 80, CostEfficiency: 80, Consistency: 80}

	ApplyDecay(cfg, agent, 1000000)

	if agent.Dimensions.Reliability != 80 {
		t.Fatalf("an agent with no trace history should not decay, got %v", agent.Dimensions.Reliability)
	}
}

func TestApplyDecayNoOpWithinDormancyWindow(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions.Reliability = 80
	lastTrace := int64(1000)
	agent.LastTraceAt = &lastTrace

	ApplyDecay(cfg, agent, lastTrace+3600)

	if agent.Dimensions.Reliability != 80 {
		t.Fatalf("decay should not apply within the 24h dormancy window, got %v", agent.Dimensions.Reliability)
	}
}

func TestApplyDecayPullsTowardBaselineAfterDormancy(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions.Reliability = 80
	lastTrace := int64(0)
	agent.LastTraceAt = &lastTrace

	tenDaysLater := int64(10 * 86400)
	ApplyDecay(cfg, agent, tenDaysLater)

	if agent.Dimensions.Reliability >= 80 {
		t.Fatalf("reliability above baseline should decay downward, got %v", agent.Dimensions.Reliability)
	}
	if agent.Dimensions.Reliability <= baselineScore {
		t.Fatalf("decay should not overshoot the baseline, got %v", agent.Dimensions.Reliability)
	}
}

func TestApplyDecayNeverCrossesBaselineForLowScores(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions.Reliability = 10
	lastTrace := int64(0)
	agent.LastTraceAt = &lastTrace

	farFuture := int64(100000 * 86400)
	ApplyDecay(cfg, agent, farFuture)

	if r := agent.Dimensions.Reliability; r > baselineScore || r <= 10 {
		t.Fatalf("a below-baseline score should rise toward, not past, the baseline, got %v", r)
	}
}

func TestApplyDecayRecomputesCompositeAndTier(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions = storage.Dimensions{Reliability: 95, Security: 95, Speed: 95, CostEfficiency: 95, Consistency: 95}
	lastTrace := int64(0)
	agent.LastTraceAt = &lastTrace

	ApplyDecay(cfg, agent, 30*86400)

	want := Composite(agent.Dimensions)
	if agent.TrustScore != want {
		t.Fatalf("trust score should be recomputed from the decayed dimensions, got %v want %v", agent.TrustScore, want)
	}
	if agent.CertificationTier != TierFor(want) {
		t.Fatalf("certification tier should be recomputed, got %v", agent.CertificationTier)
	}
}

func TestProjectDecayDoesNotMutateAgent(t *testing.T) {
	cfg := DefaultConfig()
	agent := freshAgent()
	agent.Dimensions = storage.Dimensions{Reliability: 95, Security: 95, Speed: 95, CostEfficiency: 95, Consistency: 95}
	before := agent.Dimensions

	projected := ProjectDecay(cfg, agent, 30)

	if agent.Dimensions != before {
		t.Fatalf("ProjectDecay must not mutate the agent's dimensions")
	}
	if projected >= Composite(before) {
		t.Fatalf("a 30-day projection should show decay below the current composite")
	}
}
