// internal/storage/signing_key_store.go
package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// LoadSigningKey implements signing.KeyStore: it returns the process
// signing key persisted on a prior run, if any.
func (d *DB) LoadSigningKey() (string, bool, error) {
	var hexKey string
	err := d.db.QueryRow(`SELECT private_key_hex FROM signing_keys WHERE id = 1`).Scan(&hexKey)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load signing key: %w", err)
	}
	return hexKey, true, nil
}

// SaveSigningKey implements signing.KeyStore: it persists a freshly
// generated process signing key so later restarts reuse it.
func (d *DB) SaveSigningKey(hexKey string) error {
	_, err := d.db.Exec(
		`INSERT INTO signing_keys (id, private_key_hex, created_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET private_key_hex = excluded.private_key_hex`,
		hexKey, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save signing key: %w", err)
	}
	return nil
}
