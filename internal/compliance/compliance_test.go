package compliance

import (
	"testing"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

func TestBuildSLAMetCalculation(t *testing.T) {
	agent := &storage.Agent{
		SuccessRate: 96,
		TotalTraces: 20,
	}
	r := Build(agent, nil, nil)
	if !r.SLACompliance.SLAMet {
		t.Fatalf("expected SLA met at 96%% success over 20 traces")
	}
}

func TestBuildSLANotMetBelowTraceFloor(t *testing.T) {
	agent := &storage.Agent{SuccessRate: 100, TotalTraces: 3}
	r := Build(agent, nil, nil)
	if r.SLACompliance.SLAMet {
		t.Fatalf("expected SLA not met below the 10-trace floor even at 100%% success")
	}
}

func TestBuildSplitsActiveAndArchivedAnomalies(t *testing.T) {
	agent := &storage.Agent{
		AnomalyFlags: []storage.AnomalyFlag{
			{Type: storage.AnomalyDurationSpike, Archived: false},
			{Type: storage.AnomalyCostSpike, Archived: true},
		},
	}
	r := Build(agent, nil, nil)
	if len(r.AnomalyHistory.Active) != 1 || len(r.AnomalyHistory.Archived) != 1 {
		t.Fatalf("expected one active and one archived flag, got %+v", r.AnomalyHistory)
	}
	if r.AnomalyHistory.TotalFlags != 2 {
		t.Fatalf("expected total_flags=2, got %d", r.AnomalyHistory.TotalFlags)
	}
}

func TestSecurityRisksCriticalBelowFloor(t *testing.T) {
	agent := &storage.Agent{Dimensions: storage.Dimensions{Security: 30}}
	r := Build(agent, nil, nil)
	if len(r.SecurityRisks) == 0 || r.SecurityRisks[0].Level != RiskCritical {
		t.Fatalf("expected a critical security risk, got %+v", r.SecurityRisks)
	}
}

func TestSecurityRisksWarningBand(t *testing.T) {
	agent := &storage.Agent{Dimensions: storage.Dimensions{Security: 50}, PermissionsDeclared: []string{"read"}}
	r := Build(agent, nil, nil)
	if len(r.SecurityRisks) != 1 || r.SecurityRisks[0].Level != RiskWarning {
		t.Fatalf("expected a single warning security risk, got %+v", r.SecurityRisks)
	}
}

func TestSecurityRisksNoneAboveFloorWithPermissions(t *testing.T) {
	agent := &storage.Agent{Dimensions: storage.Dimensions{Security: 80}, PermissionsDeclared: []string{"read"}}
	r := Build(agent, nil, nil)
	if len(r.SecurityRisks) != 0 {
		t.Fatalf("expected no security risks, got %+v", r.SecurityRisks)
	}
}

func TestSecurityRisksFlagsMissingPermissions(t *testing.T) {
	agent := &storage.Agent{Dimensions: storage.Dimensions{Security: 80}}
	r := Build(agent, nil, nil)
	found := false
	for _, risk := range r.SecurityRisks {
		if risk.Level == RiskInfo {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an info-level risk about missing permissions, got %+v", r.SecurityRisks)
	}
}

func TestEndorsementSummarySumsBonus(t *testing.T) {
	agent := &storage.Agent{}
	received := []*storage.Endorsement{
		{ID: "e1", BonusApplied: 1.5},
		{ID: "e2", BonusApplied: 0.5},
	}
	r := Build(agent, received, nil)
	if r.EndorsementSummary.TotalEndorsementBonus != 2.0 {
		t.Fatalf("expected total bonus 2.0, got %v", r.EndorsementSummary.TotalEndorsementBonus)
	}
}
