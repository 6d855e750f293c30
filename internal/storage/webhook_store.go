// internal/storage/webhook_store.go
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateWebhook inserts a new webhook subscription.
func (d *DB) CreateWebhook(w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("create webhook: marshal events: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO webhooks (id, agent_id, url, secret, events, is_active, created_at, last_triggered_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		w.ID, w.AgentID, w.URL, w.Secret, string(events), boolToInt(w.IsActive), w.CreatedAt, w.LastTriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

const webhookColumns = `id, agent_id, url, secret, events, is_active, created_at, last_triggered_at`

func scanWebhook(scan func(dest ...any) error) (*Webhook, error) {
	w := &Webhook{}
	var isActive int
	var events string
	var lastTriggeredAt sql.NullInt64
	err := scan(&w.ID, &w.AgentID, &w.URL, &w.Secret, &events, &isActive, &w.CreatedAt, &lastTriggeredAt)
	if err != nil {
		return nil, err
	}
	w.IsActive = isActive != 0
	if lastTriggeredAt.Valid {
		v := lastTriggeredAt.Int64
		w.LastTriggeredAt = &v
	}
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return w, nil
}

// GetWebhook retrieves a webhook by ID.
func (d *DB) GetWebhook(id string) (*Webhook, error) {
	row := d.db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// ListWebhooksForAgent returns every subscription owned by agentID.
func (d *DB) ListWebhooksForAgent(agentID string) ([]*Webhook, error) {
	rows, err := d.db.Query(`SELECT `+webhookColumns+` FROM webhooks WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for agent: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

// ListActiveSubscribersForEvent returns active webhooks anywhere in the
// system that opted into evt, for the dispatcher's fan-out.
func (d *DB) ListActiveSubscribersForEvent(evt string) ([]*Webhook, error) {
	rows, err := d.db.Query(
		`SELECT ` + webhookColumns + ` FROM webhooks WHERE is_active = 1 AND events LIKE '%' || ? || '%'`,
		`"`+evt+`"`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()
	return collectWebhooks(rows)
}

func collectWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var out []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWebhook allow-lists mutation of is_active, url and events, matching
// the update surface spec.md exposes over PATCH.
func (d *DB) UpdateWebhook(w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("update webhook: marshal events: %w", err)
	}
	res, err := d.db.Exec(
		`UPDATE webhooks SET url = ?, events = ?, is_active = ? WHERE id = ?`,
		w.URL, string(events), boolToInt(w.IsActive), w.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update webhook rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update webhook: %w", sql.ErrNoRows)
	}
	return nil
}

// TouchWebhook updates last_triggered_at after a successful delivery.
func (d *DB) TouchWebhook(id string, triggeredAt int64) error {
	_, err := d.db.Exec(`UPDATE webhooks SET last_triggered_at = ? WHERE id = ?`, triggeredAt, id)
	if err != nil {
		return fmt.Errorf("touch webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes a subscription by ID.
func (d *DB) DeleteWebhook(id string) error {
	res, err := d.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete webhook: %w", sql.ErrNoRows)
	}
	return nil
}
