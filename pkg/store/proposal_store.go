// Package store provides durable projections of the proposal book.
// Implementations satisfy sponsorship.Recorder: the live book pushes
// submissions and resolutions into them so the record survives process
// restarts and stays queryable outside the service.
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
)

// ErrProposalNotFound is returned when no record exists for the
// requested proposal id.
var ErrProposalNotFound = errors.New("proposal not found")

// ProposalStore persists proposal transitions and reads them back.
// The write side satisfies sponsorship.Recorder; the read side serves
// inspection and projection rebuilds.
type ProposalStore interface {
	sponsorship.Recorder
	Get(ctx context.Context, id uint64) (*sponsorship.Proposal, error)
	List(ctx context.Context, limit int) ([]*sponsorship.Proposal, error)
	ListByStatus(ctx context.Context, status sponsorship.Status, limit int) ([]*sponsorship.Proposal, error)
}

// PostgresProposalStore is a durable SQL-based implementation.
type PostgresProposalStore struct {
	db *sql.DB
}

func NewPostgresProposalStore(db *sql.DB) *PostgresProposalStore {
	return &PostgresProposalStore{db: db}
}

// Migrate creates the proposals table if it does not exist.
func (s *PostgresProposalStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS proposals (
			id BIGINT PRIMARY KEY,
			submitter TEXT NOT NULL,
			description TEXT NOT NULL,
			tag TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			deposit BIGINT NOT NULL,
			status TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			ttl_seconds BIGINT NOT NULL,
			resolved_at TIMESTAMPTZ,
			resolution_note TEXT NOT NULL DEFAULT ''
		)
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresProposalStore) RecordSubmitted(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(ctx, p)
}

func (s *PostgresProposalStore) RecordResolved(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(ctx, p)
}

// save upserts the full record. A projection that missed the submission
// still converges on the terminal row, and replaying a transition is a
// no-op. The identity columns never change after submission, so the
// update clause only touches the ones a resolution moves.
func (s *PostgresProposalStore) save(ctx context.Context, p *sponsorship.Proposal) error {
	query := `
		INSERT INTO proposals (id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET deposit = EXCLUDED.deposit,
			status = EXCLUDED.status,
			resolved_at = EXCLUDED.resolved_at,
			resolution_note = EXCLUDED.resolution_note
	`
	_, err := s.db.ExecContext(ctx, query,
		int64(p.ID),
		string(p.Submitter),
		p.Description,
		p.Tag,
		p.Message,
		int64(p.Deposit),
		string(p.Status),
		p.SubmittedAt,
		int64(p.TTL/time.Second),
		p.ResolvedAt,
		p.ResolutionNote,
	)
	if err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	return nil
}

func (s *PostgresProposalStore) Get(ctx context.Context, id uint64) (*sponsorship.Proposal, error) {
	query := `
		SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
		FROM proposals
		WHERE id = $1
	`
	return s.queryOne(ctx, query, int64(id))
}

func (s *PostgresProposalStore) List(ctx context.Context, limit int) ([]*sponsorship.Proposal, error) {
	query := `
		SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
		FROM proposals
		ORDER BY id ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proposals []*sponsorship.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
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

func (s *PostgresProposalStore) ListByStatus(ctx context.Context, status sponsorship.Status, limit int) ([]*sponsorship.Proposal, error) {
	query := `
		SELECT id, submitter, description, tag, message, deposit, status, submitted_at, ttl_seconds, resolved_at, resolution_note
		FROM proposals
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var proposals []*sponsorship.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
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

func (s *PostgresProposalStore) queryOne(ctx context.Context, query string, arg any) (*sponsorship.Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return p, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(sc scanner) (*sponsorship.Proposal, error) {
	var (
		id          int64
		submitter   string
		description string
		tag         string
		message     string
		deposit     int64
		status      string
		submittedAt time.Time
		ttlSeconds  int64
		resolvedAt  sql.NullTime
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
		SubmittedAt:    submittedAt,
		TTL:            time.Duration(ttlSeconds) * time.Second,
		ResolutionNote: note,
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		p.ResolvedAt = &t
	}
	return p, nil
}
