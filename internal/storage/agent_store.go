// internal/storage/agent_store.go
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateAgent inserts a newly registered agent. Dimensional and composite
// scores are expected to already be at the baseline of 50.0.
func (d *DB) CreateAgent(a *Agent) error {
	flags, err := json.Marshal(a.AnomalyFlags)
	if err != nil {
		return fmt.Errorf("create agent: marshal anomaly flags: %w", err)
	}
	perms, err := json.Marshal(a.PermissionsDeclared)
	if err != nil {
		return fmt.Errorf("create agent: marshal permissions: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO agents (
			agent_id, sovereign_id, name, description, framework, category,
			api_key_hash, is_sandbox, is_deleted,
			reliability, security, speed, cost_efficiency, consistency,
			trust_score, certification_tier, total_traces, success_count,
			success_rate, consecutive_successes, avg_duration_ms, total_cost_usd,
			anomaly_flags, endorsement_score, endorsement_count, permissions_declared,
			last_trace_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.AgentID, a.SovereignID, a.Name, a.Description, a.Framework, a.Category,
		a.APIKeyHash, boolToInt(a.IsSandbox), boolToInt(a.IsDeleted),
		a.Dimensions.Reliability, a.Dimensions.Security, a.Dimensions.Speed,
		a.Dimensions.CostEfficiency, a.Dimensions.Consistency,
		a.TrustScore, a.CertificationTier, a.TotalTraces, a.SuccessCount,
		a.SuccessRate, a.ConsecutiveSuccesses, a.AvgDurationMs, a.TotalCostUSD,
		string(flags), a.EndorsementScore, a.EndorsementCount, string(perms),
		a.LastTraceAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

const agentColumns = `agent_id, sovereign_id, name, description, framework, category,
	api_key_hash, is_sandbox, is_deleted,
	reliability, security, speed, cost_efficiency, consistency,
	trust_score, certification_tier, total_traces, success_count,
	success_rate, consecutive_successes, avg_duration_ms, total_cost_usd,
	anomaly_flags, endorsement_score, endorsement_count, permissions_declared,
	last_trace_at, created_at, updated_at`

func scanAgent(row *sql.Row) (*Agent, error) {
	a := &Agent{}
	var isSandbox, isDeleted int
	var flags, perms string
	var description, framework sql.NullString
	var lastTraceAt sql.NullInt64

	err := row.Scan(
		&a.AgentID, &a.SovereignID, &a.Name, &description, &framework, &a.Category,
		&a.APIKeyHash, &isSandbox, &isDeleted,
		&a.Dimensions.Reliability, &a.Dimensions.Security, &a.Dimensions.Speed,
		&a.Dimensions.CostEfficiency, &a.Dimensions.Consistency,
		&a.TrustScore, &a.CertificationTier, &a.TotalTraces, &a.SuccessCount,
		&a.SuccessRate, &a.ConsecutiveSuccesses, &a.AvgDurationMs, &a.TotalCostUSD,
		&flags, &a.EndorsementScore, &a.EndorsementCount, &perms,
		&lastTraceAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Description = description.String
	a.Framework = framework.String
	a.IsSandbox = isSandbox != 0
	a.IsDeleted = isDeleted != 0
	if lastTraceAt.Valid {
		v := lastTraceAt.Int64
		a.LastTraceAt = &v
	}
	if err := json.Unmarshal([]byte(flags), &a.AnomalyFlags); err != nil {
		return nil, fmt.Errorf("unmarshal anomaly flags: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &a.PermissionsDeclared); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return a, nil
}

// GetAgent retrieves an agent by ID, including soft-deleted ones; callers
// that must respect soft-delete should check a.IsDeleted.
func (d *DB) GetAgent(agentID string) (*Agent, error) {
	row := d.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// GetAgentByAPIKeyHash resolves an agent from the hash of its API key.
func (d *DB) GetAgentByAPIKeyHash(hash string) (*Agent, error) {
	row := d.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = ?`, hash)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get agent by api key: %w", err)
	}
	return a, nil
}

// ListAgentsOptions filters the agent roster for leaderboard/search/routing reads.
type ListAgentsOptions struct {
	Category        Category
	ExcludeSandbox  bool
	ExcludeDeleted  bool
	MinTotalTraces  int
	NameContains    string
	Limit           int
}

// ListAgents returns agents matching opts, ordered by trust_score descending
// then total_traces descending.
func (d *DB) ListAgents(opts ListAgentsOptions) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []any

	if opts.ExcludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if opts.ExcludeSandbox {
		query += ` AND is_sandbox = 0`
	}
	if opts.Category != "" {
		query += ` AND category = ?`
		args = append(args, opts.Category)
	}
	if opts.MinTotalTraces > 0 {
		query += ` AND total_traces >= ?`
		args = append(args, opts.MinTotalTraces)
	}
	if opts.NameContains != "" {
		query += ` AND name LIKE ?`
		args = append(args, "%"+opts.NameContains+"%")
	}
	query += ` ORDER BY trust_score DESC, total_traces DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		var isSandbox, isDeleted int
		var flags, perms string
		var description, framework sql.NullString
		var lastTraceAt sql.NullInt64

		if err := rows.Scan(
			&a.AgentID, &a.SovereignID, &a.Name, &description, &framework, &a.Category,
			&a.APIKeyHash, &isSandbox, &isDeleted,
			&a.Dimensions.Reliability, &a.Dimensions.Security, &a.Dimensions.Speed,
			&a.Dimensions.CostEfficiency, &a.Dimensions.Consistency,
			&a.TrustScore, &a.CertificationTier, &a.TotalTraces, &a.SuccessCount,
			&a.SuccessRate, &a.ConsecutiveSuccesses, &a.AvgDurationMs, &a.TotalCostUSD,
			&flags, &a.EndorsementScore, &a.EndorsementCount, &perms,
			&lastTraceAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Description = description.String
		a.Framework = framework.String
		a.IsSandbox = isSandbox != 0
		a.IsDeleted = isDeleted != 0
		if lastTraceAt.Valid {
			v := lastTraceAt.Int64
			a.LastTraceAt = &v
		}
		if err := json.Unmarshal([]byte(flags), &a.AnomalyFlags); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly flags: %w", err)
		}
		if err := json.Unmarshal([]byte(perms), &a.PermissionsDeclared); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent persists the full mutable state of an agent. Identity fields
// (agent_id, sovereign_id, api_key_hash) are not updatable through this path.
func (d *DB) UpdateAgent(a *Agent) error {
	flags, err := json.Marshal(a.AnomalyFlags)
	if err != nil {
		return fmt.Errorf("update agent: marshal anomaly flags: %w", err)
	}
	perms, err := json.Marshal(a.PermissionsDeclared)
	if err != nil {
		return fmt.Errorf("update agent: marshal permissions: %w", err)
	}

	res, err := d.db.Exec(
		`UPDATE agents SET
			name = ?, description = ?, framework = ?, category = ?,
			is_sandbox = ?, is_deleted = ?,
			reliability = ?, security = ?, speed = ?, cost_efficiency = ?, consistency = ?,
			trust_score = ?, certification_tier = ?, total_traces = ?, success_count = ?,
			success_rate = ?, consecutive_successes = ?, avg_duration_ms = ?, total_cost_usd = ?,
			anomaly_flags = ?, endorsement_score = ?, endorsement_count = ?, permissions_declared = ?,
			last_trace_at = ?, updated_at = ?
		WHERE agent_id = ?`,
		a.Name, a.Description, a.Framework, a.Category,
		boolToInt(a.IsSandbox), boolToInt(a.IsDeleted),
		a.Dimensions.Reliability, a.Dimensions.Security, a.Dimensions.Speed,
		a.Dimensions.CostEfficiency, a.Dimensions.Consistency,
		a.TrustScore, a.CertificationTier, a.TotalTraces, a.SuccessCount,
		a.SuccessRate, a.ConsecutiveSuccesses, a.AvgDurationMs, a.TotalCostUSD,
		string(flags), a.EndorsementScore, a.EndorsementCount, string(perms),
		a.LastTraceAt, a.UpdatedAt,
		a.AgentID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update agent: %w", sql.ErrNoRows)
	}
	return nil
}

// AnonymizeAgent overwrites an agent's personally-identifying fields in
// place, leaving its reputation history intact. Used by the GDPR-style
// anonymize operation; the agent remains queryable by ID.
func (d *DB) AnonymizeAgent(agentID string) error {
	res, err := d.db.Exec(
		`UPDATE agents SET name = 'anonymized', description = '', framework = '',
			api_key_hash = ?, is_deleted = 1 WHERE agent_id = ?`,
		fmt.Sprintf("anonymized:%s", agentID), agentID,
	)
	if err != nil {
		return fmt.Errorf("anonymize agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("anonymize agent rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("anonymize agent: %w", sql.ErrNoRows)
	}
	return nil
}

// CountAgents returns the number of agents matching opts (ignoring Limit).
func (d *DB) CountAgents(opts ListAgentsOptions) (int, error) {
	query := `SELECT COUNT(*) FROM agents WHERE 1=1`
	var args []any
	if opts.ExcludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if opts.ExcludeSandbox {
		query += ` AND is_sandbox = 0`
	}
	if opts.Category != "" {
		query += ` AND category = ?`
		args = append(args, opts.Category)
	}
	if opts.MinTotalTraces > 0 {
		query += ` AND total_traces >= ?`
		args = append(args, opts.MinTotalTraces)
	}
	var count int
	if err := d.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}
