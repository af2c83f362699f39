package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"

	_ "modernc.org/sqlite"
)

// SQLiteProposalStore backs single-node deployments that want the
// projection to survive restarts without running Postgres.
type SQLiteProposalStore struct {
	db *sql.DB
}

func NewSQLiteProposalStore(db *sql.DB) (*SQLiteProposalStore, error) {
	s := &SQLiteProposalStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteProposalStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		submitter TEXT NOT NULL,
		description TEXT NOT NULL,
		tag TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		deposit INTEGER NOT NULL,
		status TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		ttl_seconds INTEGER NOT NULL,
		resolved_at TEXT,
		resolution_note TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteProposalStore) RecordSubmitted(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(ctx, p)
}

func (s *SQLiteProposalStore) RecordResolved(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(ctx, p)
}

func (s *SQLiteProposalStore) save(ctx context.Context, p *sponsorship.Proposal) error {
	query := `INSERT INTO proposals (
		id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE
	SET deposit = excluded.deposit,
		status = excluded.status,
		resolved_at = excluded.resolved_at,
		resolution_note = excluded.resolution_note`

	var resolvedAt any
	if p.ResolvedAt != nil {
		resolvedAt = p.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, query,
		int64(p.ID),
		string(p.Submitter),
		p.Description,
		p.Tag,
		p.Message,
		int64(p.Deposit),
		string(p.Status),
		p.SubmittedAt.UTC().Format(time.RFC3339Nano),
		int64(p.TTL/time.Second),
		resolvedAt,
		p.ResolutionNote,
	)
	if err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	return nil
}

func (s *SQLiteProposalStore) Get(ctx context.Context, id uint64) (*sponsorship.Proposal, error) {
	query := `
	SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
	FROM proposals
	WHERE id = ?
	`
	p, err := scanProposalText(s.db.QueryRowContext(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *SQLiteProposalStore) List(ctx context.Context, limit int) ([]*sponsorship.Proposal, error) {
	query := `
	SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
	FROM proposals
	ORDER BY id ASC
	LIMIT ?
	`
	return s.list(ctx, query, limit)
}

func (s *SQLiteProposalStore) ListByStatus(ctx context.Context, status sponsorship.Status, limit int) ([]*sponsorship.Proposal, error) {
	query := `
	SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
	FROM proposals
	WHERE status = ?
	ORDER BY id ASC
	LIMIT ?
	`
	return s.list(ctx, query, string(status), limit)
}

func (s *SQLiteProposalStore) list(ctx context.Context, query string, args ...any) ([]*sponsorship.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proposals []*sponsorship.Proposal
	for rows.Next() {
		p, err := scanProposalText(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proposals, nil
}

// scanProposalText reads a row whose timestamps are stored as RFC3339
// text, which is how SQLite keeps them.
func scanProposalText(sc scanner) (*sponsorship.Proposal, error) {
	var (
		id          int64
		submitter   string
		description string
		tag         string
		message     string
		deposit     int64
		status      string
		submittedAt string
		ttlSeconds  int64
		resolvedAt  sql.NullString
		note        string
	)
	if err := sc.Scan(&id, &submitter, &description, &tag, &message, &deposit, &status, &submittedAt, &ttlSeconds, &resolvedAt, &note); err != nil {
		return nil, err
	}
	p := &sponsorship.Proposal{
		ID:             uint64(id),
		Submitter:      auth.AccountID(submitter),
		Description:    description,
		Tag:            tag,
		Message:        message,
		Deposit:        funds.Amount(deposit),
		Status:         sponsorship.Status(status),
		SubmittedAt:    parseTime(submittedAt),
		TTL:            time.Duration(ttlSeconds) * time.Second,
		ResolutionNote: note,
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := parseTime(resolvedAt.String)
		p.ResolvedAt = &t
	}
	return p, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
