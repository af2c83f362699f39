package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/statsgallery/sponsorship/pkg/funds"
)

// runVerifyLedgerCmd implements `sponsord verify-ledger`.
//
// Replays the durable receipt log and verifies the hash chain. With
// --pub it also checks every receipt signature against the treasury
// public key, so an auditor can validate a copied database without
// trusting the host that produced it.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = could not open or read the ledger
func runVerifyLedgerCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-ledger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		dbURL      string
		pubHex     string
		jsonOutput bool
	)

	cmd.StringVar(&dbPath, "db", "", "Path to the SQLite receipt log")
	cmd.StringVar(&dbURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN holding the receipt log")
	cmd.StringVar(&pubHex, "pub", "", "Hex-encoded Ed25519 treasury public key for signature checks")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	receipts, err := loadReceipts(context.Background(), dbPath, dbURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ok, reason := funds.VerifyChain(receipts)
	var sigErr error
	if ok && pubHex != "" {
		pub, decodeErr := hex.DecodeString(pubHex)
		if decodeErr != nil || len(pub) != ed25519.PublicKeySize {
			_, _ = fmt.Fprintln(stderr, "Error: --pub must be a hex-encoded Ed25519 public key")
			return 2
		}
		sigErr = funds.VerifySignatures(receipts, ed25519.PublicKey(pub))
	}

	verified := ok && sigErr == nil
	var head string
	if len(receipts) > 0 {
		head = receipts[len(receipts)-1].Hash
	}

	if jsonOutput {
		result := map[string]any{
			"verified": verified,
			"receipts": len(receipts),
			"head":     head,
		}
		if !ok {
			result["reason"] = reason
		} else if sigErr != nil {
			result["reason"] = sigErr.Error()
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if verified {
		_, _ = fmt.Fprintf(stdout, "✅ Receipt chain verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Receipts: %d\n", len(receipts))
		if head != "" {
			_, _ = fmt.Fprintf(stdout, "Head:     %s\n", head)
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Receipt chain verification FAILED\n")
		if !ok {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", reason)
		} else {
			_, _ = fmt.Fprintf(stdout, "  - %v\n", sigErr)
		}
	}

	if !verified {
		return 1
	}
	return 0
}

func loadReceipts(ctx context.Context, dbPath, dbURL string) ([]*funds.Receipt, error) {
	switch {
	case dbPath != "":
		if _, err := os.Stat(dbPath); err != nil {
			return nil, fmt.Errorf("receipt log %s: %w", dbPath, err)
		}
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", dbPath, err)
		}
		defer func() { _ = db.Close() }()
		sink, err := funds.NewSQLiteReceiptSink(db)
		if err != nil {
			return nil, err
		}
		return sink.List(ctx)
	case dbURL != "":
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		defer func() { _ = db.Close() }()
		return funds.NewPostgresReceiptSink(db).List(ctx)
	default:
		return nil, fmt.Errorf("either --db or --database-url is required")
	}
}
