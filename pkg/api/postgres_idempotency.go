package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore is the durable IdempotencyStore: replay
// records survive a restart, so a client retrying across a deploy still
// gets its original response. The full response header is kept as JSONB
// rather than a single content type, making replays byte-faithful.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl}
}

// Migrate creates the idempotency_keys table if it does not exist.
func (s *PostgresIdempotencyStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key       TEXT PRIMARY KEY,
			status    INTEGER NOT NULL,
			header    JSONB NOT NULL,
			body      BYTEA NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresIdempotencyStore) Lookup(key string) (*ReplayRecord, bool) {
	var (
		status    int
		headerRaw []byte
		body      []byte
		storedAt  time.Time
	)
	err := s.db.QueryRow(
		`SELECT status, header, body, stored_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&status, &headerRaw, &body, &storedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(storedAt) > s.ttl {
		// Entry aged out. Drop it and report a miss.
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	hdr := make(http.Header)
	if err := json.Unmarshal(headerRaw, &hdr); err != nil {
		slog.Warn("idempotency: corrupt header record", "key", key, "error", err)
		return nil, false
	}
	return &ReplayRecord{
		Status:   status,
		Header:   hdr,
		Body:     body,
		StoredAt: storedAt,
	}, true
}

func (s *PostgresIdempotencyStore) Save(key string, rec ReplayRecord) {
	headerRaw, err := json.Marshal(rec.Header)
	if err != nil {
		slog.Warn("idempotency: header not serializable", "key", key, "error", err)
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO idempotency_keys (key, status, header, body, stored_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (key) DO UPDATE SET status = $2, header = $3, body = $4, stored_at = NOW()`,
		key, rec.Status, headerRaw, rec.Body,
	)
	if err != nil {
		// A failed write only costs replay protection for this response.
		slog.Warn("idempotency: failed to save record", "key", key, "error", err)
	}
}

// Cleanup removes records older than the TTL. Called periodically by the
// server; Lookup also drops expired records it touches, so Cleanup only
// bounds the table size.
func (s *PostgresIdempotencyStore) Cleanup() {
	_, _ = s.db.Exec(
		`DELETE FROM idempotency_keys WHERE stored_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
