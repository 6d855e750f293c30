// internal/storage/trace_store.go
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateTrace inserts a new append-only trace row. Returns a wrapped
// sql.ErrNoRows-shaped unique-constraint error is not special-cased here;
// callers that need duplicate detection should check GetTraceByHash first,
// per the pipeline's explicit duplicate-hash guard.
func (d *DB) CreateTrace(t *Trace) error {
	toolCalls, err := json.Marshal(t.ToolCalls)
	if err != nil {
		return fmt.Errorf("create trace: marshal tool calls: %w", err)
	}
	perms, err := json.Marshal(t.Permissions)
	if err != nil {
		return fmt.Errorf("create trace: marshal permissions: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO traces (
			trace_id, agent_id, task_description, status, duration_ms, category,
			cost_usd, token_count, tool_calls, input_summary, output_summary,
			runtime_env, permissions, security_event, trace_hash,
			cert_public_key, cert_signature, cert_created, cert_alg,
			trust_delta, trust_score_after, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TraceID, t.AgentID, t.TaskDescription, t.Status, t.DurationMs, t.Category,
		t.CostUSD, t.TokenCount, string(toolCalls), t.InputSummary, t.OutputSummary,
		t.RuntimeEnv, string(perms), boolToInt(t.SecurityEvent), t.TraceHash,
		t.Certificate.PublicKey, t.Certificate.Signature, t.Certificate.Created, t.Certificate.Alg,
		t.TrustDelta, t.TrustScoreAfter, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	return nil
}

const traceColumns = `trace_id, agent_id, task_description, status, duration_ms, category,
	cost_usd, token_count, tool_calls, input_summary, output_summary,
	runtime_env, permissions, security_event, trace_hash,
	cert_public_key, cert_signature, cert_created, cert_alg,
	trust_delta, trust_score_after, created_at`

func scanTraceRow(scan func(dest ...any) error) (*Trace, error) {
	t := &Trace{}
	var securityEvent int
	var toolCalls, perms string
	var costUSD sql.NullFloat64
	var inputSummary, outputSummary, runtimeEnv sql.NullString

	err := scan(
		&t.TraceID, &t.AgentID, &t.TaskDescription, &t.Status, &t.DurationMs, &t.Category,
		&costUSD, &t.TokenCount, &toolCalls, &inputSummary, &outputSummary,
		&runtimeEnv, &perms, &securityEvent, &t.TraceHash,
		&t.Certificate.PublicKey, &t.Certificate.Signature, &t.Certificate.Created, &t.Certificate.Alg,
		&t.TrustDelta, &t.TrustScoreAfter, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if costUSD.Valid {
		v := costUSD.Float64
		t.CostUSD = &v
	}
	t.InputSummary = inputSummary.String
	t.OutputSummary = outputSummary.String
	t.RuntimeEnv = runtimeEnv.String
	t.SecurityEvent = securityEvent != 0
	if err := json.Unmarshal([]byte(toolCalls), &t.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(perms), &t.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return t, nil
}

// GetTrace retrieves a trace by ID.
func (d *DB) GetTrace(traceID string) (*Trace, error) {
	row := d.db.QueryRow(`SELECT `+traceColumns+` FROM traces WHERE trace_id = ?`, traceID)
	t, err := scanTraceRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	return t, nil
}

// GetTraceByHash looks up an existing trace for (agentID, traceHash), the
// duplicate-submission guard the pipeline relies on for idempotency.
func (d *DB) GetTraceByHash(agentID, traceHash string) (*Trace, error) {
	row := d.db.QueryRow(
		`SELECT `+traceColumns+` FROM traces WHERE agent_id = ? AND trace_hash = ?`,
		agentID, traceHash,
	)
	t, err := scanTraceRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get trace by hash: %w", err)
	}
	return t, nil
}

// ListTracesForAgent returns an agent's most recent traces, newest first,
// capped at limit.
func (d *DB) ListTracesForAgent(agentID string, limit int) ([]*Trace, error) {
	rows, err := d.db.Query(
		`SELECT `+traceColumns+` FROM traces WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces for agent: %w", err)
	}
	defer rows.Close()
	return collectTraces(rows)
}

// ListRecentTraces returns the most recent traces across all agents, for
// the public activity feed.
func (d *DB) ListRecentTraces(limit int) ([]*Trace, error) {
	rows, err := d.db.Query(
		`SELECT `+traceColumns+` FROM traces ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent traces: %w", err)
	}
	defer rows.Close()
	return collectTraces(rows)
}

func collectTraces(rows *sql.Rows) ([]*Trace, error) {
	var traces []*Trace
	for rows.Next() {
		t, err := scanTraceRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// CountTraces returns the total number of traces ever recorded.
func (d *DB) CountTraces() (int, error) {
	var count int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM traces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return count, nil
}
