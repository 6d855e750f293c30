// internal/storage/reputation_store.go
package storage

import (
	"fmt"
)

// AppendReputationHistory inserts one append-only history row. The row's
// ID is populated from the database-assigned autoincrement value.
func (d *DB) AppendReputationHistory(h *ReputationHistory) error {
	res, err := d.db.Exec(
		`INSERT INTO reputation_history (
			agent_id, trust_score, reliability, security, speed, cost_efficiency,
			consistency, event_type, trust_delta, reliability_obs, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		h.AgentID, h.TrustScore, h.Dimensions.Reliability, h.Dimensions.Security,
		h.Dimensions.Speed, h.Dimensions.CostEfficiency, h.Dimensions.Consistency,
		h.EventType, h.TrustDelta, h.ReliabilityObs, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append reputation history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append reputation history: last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// ListReputationHistory returns an agent's history rows, newest first,
// capped at limit.
func (d *DB) ListReputationHistory(agentID string, limit int) ([]*ReputationHistory, error) {
	rows, err := d.db.Query(
		`SELECT id, agent_id, trust_score, reliability, security, speed, cost_efficiency,
			consistency, event_type, trust_delta, reliability_obs, created_at
		 FROM reputation_history WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reputation history: %w", err)
	}
	defer rows.Close()

	var history []*ReputationHistory
	for rows.Next() {
		h := &ReputationHistory{}
		if err := rows.Scan(
			&h.ID, &h.AgentID, &h.TrustScore, &h.Dimensions.Reliability, &h.Dimensions.Security,
			&h.Dimensions.Speed, &h.Dimensions.CostEfficiency, &h.Dimensions.Consistency,
			&h.EventType, &h.TrustDelta, &h.ReliabilityObs, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reputation history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListRecentReliabilityObservations returns the last n raw reliability
// observations recorded for agentID from trace events, oldest first. This
// is the window the consistency dimension's rolling variance is computed
// over; it does not include the observation from the trace being applied.
func (d *DB) ListRecentReliabilityObservations(agentID string, n int) ([]float64, error) {
	rows, err := d.db.Query(
		`SELECT reliability_obs FROM reputation_history
		 WHERE agent_id = ? AND event_type = 'trace'
		 ORDER BY created_at DESC LIMIT ?`,
		agentID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent reliability observations: %w", err)
	}
	defer rows.Close()

	var obs []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan reliability observation: %w", err)
		}
		obs = append(obs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(obs)-1; i < j; i, j = i+1, j-1 {
		obs[i], obs[j] = obs[j], obs[i]
	}
	return obs, nil
}

// LastNSuccessRate computes the success rate (0-100) over the most recent n
// trace events for agentID, used as the pre-trace baseline for anomaly
// detection. A reliability observation of 100 or more means that trace
// succeeded (partial=60, failure=0). Returns 0 with no error if the agent
// has no trace history.
func (d *DB) LastNSuccessRate(agentID string, n int) (float64, error) {
	rows, err := d.db.Query(
		`SELECT reliability_obs FROM reputation_history
		 WHERE agent_id = ? AND event_type = 'trace'
		 ORDER BY created_at DESC LIMIT ?`,
		agentID, n,
	)
	if err != nil {
		return 0, fmt.Errorf("last n success rate: %w", err)
	}
	defer rows.Close()

	var total, success int
	for rows.Next() {
		var obs float64
		if err := rows.Scan(&obs); err != nil {
			return 0, fmt.Errorf("scan reliability observation: %w", err)
		}
		total++
		if obs >= 100 {
			success++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(success) / float64(total), nil
}
