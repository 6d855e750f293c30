// Package compliance assembles the enterprise-facing report: SLA metrics,
// anomaly history, a heuristic security risk list, and the endorsement
// summary. It is a pure projection over already-decayed agent state plus
// the endorsements pointing at and from that agent; it never persists
// anything.
package compliance

import (
	"fmt"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

const (
	slaSuccessRateFloor = 95.0
	slaMinTraces        = 10

	securityCriticalFloor = 40.0
	securityWarningFloor  = 60.0
)

// RiskLevel mirrors the severity vocabulary used elsewhere in the engine,
// plus "info" for advisory-only notes that are not actual risk.
type RiskLevel string

const (
	RiskInfo     RiskLevel = "info"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// SecurityRisk is one heuristic finding in the report.
type SecurityRisk struct {
	Level   RiskLevel             `json:"level"`
	Message string                `json:"message"`
	Details []storage.AnomalyFlag `json:"details,omitempty"`
}

// SLACompliance is the service-level summary derived from an agent's
// running counters.
type SLACompliance struct {
	UptimeRate        float64      `json:"uptime_rate"`
	AvgResponseMs     float64      `json:"avg_response_ms"`
	TotalExecutions   int          `json:"total_executions"`
	SLAMet            bool         `json:"sla_met"`
	TierQualification storage.Tier `json:"tier_qualification"`
}

// AnomalyHistory splits an agent's flags into active and archived, plus a
// total count across both.
type AnomalyHistory struct {
	Active     []storage.AnomalyFlag `json:"active"`
	Archived   []storage.AnomalyFlag `json:"archived"`
	TotalFlags int                   `json:"total_flags"`
}

// EndorsementSummary summarises the edges pointing at and given by an
// agent, with the cumulative bonus received.
type EndorsementSummary struct {
	Received              []*storage.Endorsement `json:"received"`
	Given                 []*storage.Endorsement `json:"given"`
	TotalEndorsementBonus float64                `json:"total_endorsement_bonus"`
}

// Report is the full compliance projection for one agent.
type Report struct {
	AgentID             string             `json:"agent_id"`
	Name                string             `json:"name"`
	SovereignID         string             `json:"sovereign_id"`
	CertificationTier   storage.Tier       `json:"certification_tier"`
	TrustScore          float64            `json:"trust_score"`
	SecurityScore       float64            `json:"security_score"`
	Dimensions          storage.Dimensions `json:"dimensions"`
	SLACompliance       SLACompliance      `json:"sla_compliance"`
	AnomalyHistory      AnomalyHistory     `json:"anomaly_history"`
	SecurityRisks       []SecurityRisk     `json:"security_risks"`
	EndorsementSummary  EndorsementSummary `json:"endorsement_summary"`
	PermissionsDeclared []string           `json:"permissions_declared"`
	CreatedAt           int64              `json:"created_at"`
	LastActive          *int64             `json:"last_active"`
}

// Build assembles a Report from an already-decayed agent and its
// endorsement edges. received and given may be nil or empty.
func Build(agent *storage.Agent, received, given []*storage.Endorsement) Report {
	active := make([]storage.AnomalyFlag, 0, len(agent.AnomalyFlags))
	archived := make([]storage.AnomalyFlag, 0, len(agent.AnomalyFlags))
	for _, f := range agent.AnomalyFlags {
		if f.Archived {
			archived = append(archived, f)
		} else {
			active = append(active, f)
		}
	}

	var totalBonus float64
	for _, e := range received {
		totalBonus += e.BonusApplied
	}

	return Report{
		AgentID:           agent.AgentID,
		Name:              agent.Name,
		SovereignID:       agent.SovereignID,
		CertificationTier: agent.CertificationTier,
		TrustScore:        agent.TrustScore,
		SecurityScore:     agent.Dimensions.Security,
		Dimensions:        agent.Dimensions,
		SLACompliance: SLACompliance{
			UptimeRate:        agent.SuccessRate,
			AvgResponseMs:     agent.AvgDurationMs,
			TotalExecutions:   agent.TotalTraces,
			SLAMet:            agent.SuccessRate >= slaSuccessRateFloor && agent.TotalTraces >= slaMinTraces,
			TierQualification: agent.CertificationTier,
		},
		AnomalyHistory: AnomalyHistory{
			Active:     active,
			Archived:   archived,
			TotalFlags: len(agent.AnomalyFlags),
		},
		SecurityRisks: securityRisks(agent, active),
		EndorsementSummary: EndorsementSummary{
			Received:              received,
			Given:                 given,
			TotalEndorsementBonus: totalBonus,
		},
		PermissionsDeclared: agent.PermissionsDeclared,
		CreatedAt:           agent.CreatedAt,
		LastActive:          agent.LastTraceAt,
	}
}

// securityRisks runs the heuristic findings: a low security dimension, any
// active anomaly flags, and a declared-permissions gap.
func securityRisks(agent *storage.Agent, active []storage.AnomalyFlag) []SecurityRisk {
	var risks []SecurityRisk

	switch {
	case agent.Dimensions.Security < securityCriticalFloor:
		risks = append(risks, SecurityRisk{Level: RiskCritical, Message: "security score at critical level"})
	case agent.Dimensions.Security < securityWarningFloor:
		risks = append(risks, SecurityRisk{Level: RiskWarning, Message: "security score below average"})
	}

	if len(active) > 0 {
		risks = append(risks, SecurityRisk{
			Level:   RiskWarning,
			Message: fmt.Sprintf("%d active anomaly flag(s)", len(active)),
			Details: active,
		})
	}

	if len(agent.PermissionsDeclared) == 0 {
		risks = append(risks, SecurityRisk{
			Level:   RiskInfo,
			Message: "no permissions declared, security score cannot be fully calculated",
		})
	}

	return risks
}
