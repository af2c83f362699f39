package funds

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// PostgresReceiptSink persists receipts to PostgreSQL for server
// deployments where the receipt log must survive the process.
type PostgresReceiptSink struct {
	db *sql.DB
}

func NewPostgresReceiptSink(db *sql.DB) *PostgresReceiptSink {
	return &PostgresReceiptSink{db: db}
}

// Migrate creates the receipts table if missing. Run once at startup.
func (s *PostgresReceiptSink) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS treasury_receipts (
		sequence BIGINT PRIMARY KEY,
		receipt_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount BIGINT NOT NULL,
		memo TEXT,
		at TIMESTAMPTZ NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		signature TEXT
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate receipts table: %w", err)
	}
	return nil
}

func (s *PostgresReceiptSink) Append(ctx context.Context, r *Receipt) error {
	query := `INSERT INTO treasury_receipts (
		sequence, receipt_id, kind, from_account, to_account, amount, memo, at, prev_hash, hash, signature
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		r.Sequence, r.ID, string(r.Kind), string(r.From), string(r.To), int64(r.Amount),
		r.Memo, r.At.UTC(), r.PrevHash, r.Hash, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// List returns every stored receipt in sequence order, for replay and
// offline chain verification.
func (s *PostgresReceiptSink) List(ctx context.Context) ([]*Receipt, error) {
	query := `
		SELECT sequence, receipt_id, kind, from_account, to_account, amount, memo, at, prev_hash, hash, signature
		FROM treasury_receipts
		ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*Receipt
	for rows.Next() {
		var (
			r         Receipt
			kind      string
			from      string
			to        string
			amount    int64
			memo      sql.NullString
			signature sql.NullString
		)
		if err := rows.Scan(&r.Sequence, &r.ID, &kind, &from, &to, &amount, &memo, &r.At, &r.PrevHash, &r.Hash, &signature); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		r.From = auth.AccountID(from)
		r.To = auth.AccountID(to)
		r.Amount = Amount(amount)
		r.Memo = memo.String
		r.Signature = signature.String
		receipts = append(receipts, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}
