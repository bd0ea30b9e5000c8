package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/unclip/dbopen"
	"github.com/hazyhaar/unclip/idgen"
)

// Schema creates the licenses table.
const Schema = `CREATE TABLE IF NOT EXISTS licenses (
	id           TEXT PRIMARY KEY,
	key_hash     TEXT NOT NULL UNIQUE,
	session_id   TEXT NOT NULL UNIQUE,
	extension_id TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
)`

// Record is one issued license. The plaintext key is never stored.
type Record struct {
	ID          string    `json:"id"`
	KeyHash     string    `json:"keyHash"`
	SessionID   string    `json:"sessionId"`
	ExtensionID string    `json:"extensionId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists license records in SQLite.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets the record id generator. Default: prefixed UUIDv7.
func WithIDGenerator(g idgen.Generator) StoreOption { return func(s *Store) { s.newID = g } }

// WithStoreClock injects the time source for CreatedAt.
func WithStoreClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

// NewStore creates a Store on db. The caller applies Schema.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		newID: idgen.Prefixed("lic_", idgen.UUIDv7()),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record stores a license for sessionID unless one exists. It returns the
// stored record and whether it was created by this call.
func (s *Store) Record(ctx context.Context, sessionID, extensionID, key string) (Record, bool, error) {
	rec := Record{
		ID:          s.newID(),
		KeyHash:     HashKey(key),
		SessionID:   sessionID,
		ExtensionID: extensionID,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}
	var created bool
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO licenses (id, key_hash, session_id, extension_id, created_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT(session_id) DO NOTHING`,
			rec.ID, rec.KeyHash, rec.SessionID, rec.ExtensionID, rec.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n == 1
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("license: record: %w", err)
	}
	if created {
		return rec, true, nil
	}
	existing, err := s.BySession(ctx, sessionID)
	return existing, false, err
}

// ErrNotFound is returned by lookups with no matching record.
var ErrNotFound = errors.New("license: not found")

// BySession returns the record issued for a checkout session.
func (s *Store) BySession(ctx context.Context, sessionID string) (Record, error) {
	return s.one(ctx, `SELECT id, key_hash, session_id, extension_id, created_at FROM licenses WHERE session_id = ?`, sessionID)
}

// ByKey returns the record of a plaintext key.
func (s *Store) ByKey(ctx context.Context, key string) (Record, error) {
	return s.one(ctx, `SELECT id, key_hash, session_id, extension_id, created_at FROM licenses WHERE key_hash = ?`, HashKey(key))
}

// Count returns the number of issued licenses.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("license: count: %w", err)
	}
	return n, nil
}

func (s *Store) one(ctx context.Context, query, arg string) (Record, error) {
	var rec Record
	var created int64
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&rec.ID, &rec.KeyHash, &rec.SessionID, &rec.ExtensionID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("license: lookup: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, nil
}
