// Package endorsement implements the directed, Sybil-resistant trust edge
// between two agents: validating the edge, computing the bonus it
// contributes to the target's score, and the side effects of recording it.
package endorsement

import (
	"fmt"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/reputation"
	"github.com/garl-protocol/trust-engine/internal/storage"
)

const (
	bonusFloor = 60.0
	bonusSpan  = 40.0
	traceFloor = 10.0
)

// Bonus computes the Sybil-weighted score bonus an endorsement from
// endorser contributes, given the cap from Config. Endorsers below the
// trust/trace floor produce zero — this is the Sybil-resistance property:
// spinning up many low-trust, low-trace agents to endorse a target buys
// nothing.
func Bonus(cfg reputation.Config, endorserScore float64, endorserTraces int, endorserTier storage.Tier) float64 {
	if endorserScore < bonusFloor || float64(endorserTraces) < traceFloor {
		return 0
	}

	wScore := (endorserScore - bonusFloor) / bonusSpan
	if wScore > 1 {
		wScore = 1
	}

	wTraces := float64(endorserTraces) / traceFloor
	if wTraces > 1 {
		wTraces = 1
	}

	raw := cfg.MaxEndorsementBonus * wScore * wTraces * reputation.TierMultiplier(endorserTier)
	if raw > cfg.MaxEndorsementBonus {
		return cfg.MaxEndorsementBonus
	}
	return raw
}

// Validate checks the two rejection rules that do not depend on storage:
// an agent may not endorse itself, and this directed pair must be new.
// exists reports whether the (endorser, target) edge already exists.
func Validate(endorserID, targetID string, exists bool) error {
	if endorserID == targetID {
		return apperr.New(apperr.KindValidation, "self_endorsement", "an agent cannot endorse itself")
	}
	if exists {
		return apperr.New(apperr.KindDuplicate, "duplicate_endorsement", fmt.Sprintf("endorsement from %s to %s already exists", endorserID, targetID))
	}
	return nil
}

// Build constructs the immutable endorsement edge and applies its bonus to
// the target's accumulated endorsement_score/endorsement_count in place.
// It does not touch the target's dimensions or recompute trust_score by
// itself — callers must also update target.TrustScore/CertificationTier
// via reputation.TrustScoreFor/TierFor after calling Build, the same as any
// other endorsement_score mutation.
func Build(cfg reputation.Config, endorser *storage.Agent, target *storage.Agent, context string, id string, now int64) *storage.Endorsement {
	bonus := Bonus(cfg, endorser.TrustScore, endorser.TotalTraces, endorser.CertificationTier)

	target.EndorsementScore += bonus
	target.EndorsementCount++

	return &storage.Endorsement{
		ID:             id,
		EndorserID:     endorser.AgentID,
		TargetID:       target.AgentID,
		EndorserScore:  endorser.TrustScore,
		EndorserTraces: endorser.TotalTraces,
		EndorserTier:   endorser.CertificationTier,
		BonusApplied:   bonus,
		TierMultiplier: reputation.TierMultiplier(endorser.CertificationTier),
		Context:        context,
		CreatedAt:      now,
	}
}
