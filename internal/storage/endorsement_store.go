// internal/storage/endorsement_store.go
package storage

import (
	"database/sql"
	"fmt"
)

// CreateEndorsement inserts a new immutable endorsement edge. The
// UNIQUE(endorser_id, target_id) constraint enforces the duplicate-pair
// rule at the schema level; callers should still pre-check with
// GetEndorsementPair to return a clean Duplicate error.
func (d *DB) CreateEndorsement(e *Endorsement) error {
	_, err := d.db.Exec(
		`INSERT INTO endorsements (
			id, endorser_id, target_id, endorser_score, endorser_traces,
			endorser_tier, bonus_applied, tier_multiplier, context, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.EndorserID, e.TargetID, e.EndorserScore, e.EndorserTraces,
		e.EndorserTier, e.BonusApplied, e.TierMultiplier, e.Context, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create endorsement: %w", err)
	}
	return nil
}

const endorsementColumns = `id, endorser_id, target_id, endorser_score, endorser_traces,
	endorser_tier, bonus_applied, tier_multiplier, context, created_at`

func scanEndorsement(scan func(dest ...any) error) (*Endorsement, error) {
	e := &Endorsement{}
	var context sql.NullString
	err := scan(
		&e.ID, &e.EndorserID, &e.TargetID, &e.EndorserScore, &e.EndorserTraces,
		&e.EndorserTier, &e.BonusApplied, &e.TierMultiplier, &context, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Context = context.String
	return e, nil
}

// GetEndorsementPair returns the existing edge for (endorserID, targetID),
// or sql.ErrNoRows if no such edge exists yet.
func (d *DB) GetEndorsementPair(endorserID, targetID string) (*Endorsement, error) {
	row := d.db.QueryRow(
		`SELECT `+endorsementColumns+` FROM endorsements WHERE endorser_id = ? AND target_id = ?`,
		endorserID, targetID,
	)
	e, err := scanEndorsement(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get endorsement pair: %w", err)
	}
	return e, nil
}

// ListEndorsementsReceived returns the edges where targetID is the target.
func (d *DB) ListEndorsementsReceived(targetID string) ([]*Endorsement, error) {
	rows, err := d.db.Query(
		`SELECT `+endorsementColumns+` FROM endorsements WHERE target_id = ? ORDER BY created_at DESC`,
		targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list endorsements received: %w", err)
	}
	defer rows.Close()
	return collectEndorsements(rows)
}

// ListEndorsementsGiven returns the edges where endorserID is the endorser.
func (d *DB) ListEndorsementsGiven(endorserID string) ([]*Endorsement, error) {
	rows, err := d.db.Query(
		`SELECT `+endorsementColumns+` FROM endorsements WHERE endorser_id = ? ORDER BY created_at DESC`,
		endorserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list endorsements given: %w", err)
	}
	defer rows.Close()
	return collectEndorsements(rows)
}

func collectEndorsements(rows *sql.Rows) ([]*Endorsement, error) {
	var out []*Endorsement
	for rows.Next() {
		e, err := scanEndorsement(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan endorsement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
