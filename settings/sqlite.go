package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/unclip/dbopen"
)

// Schema creates the table shared by every SQLiteArea.
const Schema = `CREATE TABLE IF NOT EXISTS kv_store (
	area       TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (area, key)
)`

// SQLiteArea stores one area as rows of kv_store.
type SQLiteArea struct {
	db   *sql.DB
	name string
}

// NewSQLiteArea returns the area called name inside db. The caller applies
// Schema, typically through dbopen.WithSchema.
func NewSQLiteArea(db *sql.DB, name string) *SQLiteArea {
	return &SQLiteArea{db: db, name: name}
}

func (a *SQLiteArea) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	q := `SELECT key, value FROM kv_store WHERE area = ?`
	args := []any{a.name}
	if len(keys) > 0 {
		q += ` AND key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("settings: %s get: %w", a.name, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: %s scan: %w", a.name, err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func (a *SQLiteArea) Set(ctx context.Context, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	err := dbopen.RunTx(ctx, a.db, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv_store (area, key, value, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(area, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				a.name, k, string(v), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settings: %s set: %w", a.name, err)
	}
	return nil
}

func (a *SQLiteArea) Clear(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM kv_store WHERE area = ?`, a.name); err != nil {
		return fmt.Errorf("settings: %s clear: %w", a.name, err)
	}
	return nil
}

// pin reserves a connection for version polling. PRAGMA data_version is
// per connection, so the watcher must keep asking the same one.
func (a *SQLiteArea) pin(ctx context.Context) (*sql.Conn, error) {
	return a.db.Conn(ctx)
}
