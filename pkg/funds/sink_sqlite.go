package funds

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// SQLiteReceiptSink persists receipts to a local SQLite database. Suited
// to single-node deployments and the offline verifier.
type SQLiteReceiptSink struct {
	db *sql.DB
}

func NewSQLiteReceiptSink(db *sql.DB) (*SQLiteReceiptSink, error) {
	s := &SQLiteReceiptSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS treasury_receipts (
		sequence INTEGER PRIMARY KEY,
		receipt_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount INTEGER NOT NULL,
		memo TEXT,
		at TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		signature TEXT
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteReceiptSink) Append(ctx context.Context, r *Receipt) error {
	query := `INSERT INTO treasury_receipts (
		sequence, receipt_id, kind, from_account, to_account, amount, memo, at, prev_hash, hash, signature
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.Sequence, r.ID, string(r.Kind), string(r.From), string(r.To), int64(r.Amount),
		r.Memo, r.At.UTC().Format(time.RFC3339Nano), r.PrevHash, r.Hash, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// List returns every stored receipt in sequence order, for replay and
// offline chain verification.
func (s *SQLiteReceiptSink) List(ctx context.Context) ([]*Receipt, error) {
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
			at        string
			signature sql.NullString
		)
		if err := rows.Scan(&r.Sequence, &r.ID, &kind, &from, &to, &amount, &memo, &at, &r.PrevHash, &r.Hash, &signature); err != nil {
			return nil, err
		}
		r.Kind = Kind(kind)
		r.From = auth.AccountID(from)
		r.To = auth.AccountID(to)
		r.Amount = Amount(amount)
		r.Memo = memo.String
		r.At = parseReceiptTime(at)
		r.Signature = signature.String
		receipts = append(receipts, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func parseReceiptTime(value string) time.Time {
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
