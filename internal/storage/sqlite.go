package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// SQLite permits only one writer at a time regardless of pool size, and
	// the reputation pipeline already serializes per-agent writes with its
	// own keyed mutex; a wider pool only adds lock-contention retries on
	// top of that, so pin the pool to the single connection SQLite actually
	// uses for writes.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// traces, reputation_history and endorsements are append-only: this
// package intentionally exposes no update or delete method for them, so
// the guarantee holds at the Go API boundary and not only at the schema
// level.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agents (
    agent_id TEXT PRIMARY KEY,
    sovereign_id TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    framework TEXT,
    category TEXT NOT NULL,
    api_key_hash TEXT NOT NULL UNIQUE,
    is_sandbox INTEGER DEFAULT 0,
    is_deleted INTEGER DEFAULT 0,
    reliability REAL DEFAULT 50.0,
    security REAL DEFAULT 50.0,
    speed REAL DEFAULT 50.0,
    cost_efficiency REAL DEFAULT 50.0,
    consistency REAL DEFAULT 50.0,
    trust_score REAL DEFAULT 50.0,
    certification_tier TEXT DEFAULT 'bronze',
    total_traces INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    success_rate REAL DEFAULT 0.0,
    consecutive_successes INTEGER DEFAULT 0,
    avg_duration_ms REAL DEFAULT 0.0,
    total_cost_usd REAL DEFAULT 0.0,
    anomaly_flags TEXT DEFAULT '[]',
    endorsement_score REAL DEFAULT 0.0,
    endorsement_count INTEGER DEFAULT 0,
    permissions_declared TEXT DEFAULT '[]',
    last_trace_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS traces (
    trace_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    task_description TEXT NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    category TEXT NOT NULL,
    cost_usd REAL,
    token_count INTEGER DEFAULT 0,
    tool_calls TEXT DEFAULT '[]',
    input_summary TEXT,
    output_summary TEXT,
    runtime_env TEXT,
    permissions TEXT DEFAULT '[]',
    security_event INTEGER DEFAULT 0,
    trace_hash TEXT NOT NULL,
    cert_public_key TEXT NOT NULL,
    cert_signature TEXT NOT NULL,
    cert_created INTEGER NOT NULL,
    cert_alg TEXT NOT NULL,
    trust_delta REAL NOT NULL,
    trust_score_after REAL NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(agent_id, trace_hash),
    FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
);

CREATE TABLE IF NOT EXISTS reputation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL,
    trust_score REAL NOT NULL,
    reliability REAL NOT NULL,
    security REAL NOT NULL,
    speed REAL NOT NULL,
    cost_efficiency REAL NOT NULL,
    consistency REAL NOT NULL,
    event_type TEXT NOT NULL,
    trust_delta REAL NOT NULL,
    reliability_obs REAL DEFAULT 0.0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
);

CREATE TABLE IF NOT EXISTS endorsements (
    id TEXT PRIMARY KEY,
    endorser_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    endorser_score REAL NOT NULL,
    endorser_traces INTEGER NOT NULL,
    endorser_tier TEXT NOT NULL,
    bonus_applied REAL NOT NULL,
    tier_multiplier REAL NOT NULL,
    context TEXT,
    created_at INTEGER NOT NULL,
    UNIQUE(endorser_id, target_id),
    FOREIGN KEY (endorser_id) REFERENCES agents(agent_id),
    FOREIGN KEY (target_id) REFERENCES agents(agent_id)
);

CREATE TABLE IF NOT EXISTS webhooks (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    url TEXT NOT NULL,
    secret TEXT NOT NULL,
    events TEXT NOT NULL,
    is_active INTEGER DEFAULT 1,
    created_at INTEGER NOT NULL,
    last_triggered_at INTEGER,
    FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
);

CREATE TABLE IF NOT EXISTS signing_keys (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    private_key_hex TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_agent ON traces(agent_id);
CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at);
CREATE INDEX IF NOT EXISTS idx_history_agent ON reputation_history(agent_id);
CREATE INDEX IF NOT EXISTS idx_endorsements_target ON endorsements(target_id);
CREATE INDEX IF NOT EXISTS idx_endorsements_endorser ON endorsements(endorser_id);
CREATE INDEX IF NOT EXISTS idx_webhooks_agent ON webhooks(agent_id);
CREATE INDEX IF NOT EXISTS idx_agents_category ON agents(category);
CREATE INDEX IF NOT EXISTS idx_agents_trust_score ON agents(trust_score DESC);`
	_, err := d.db.Exec(schema)
	return err
}

// boolToInt converts a bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
