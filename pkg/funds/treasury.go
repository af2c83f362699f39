package funds

import (
	"context"
	"errors"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// Internal bucket accounts. Receipts use them as transfer endpoints so
// the full money flow is reconstructible from the receipt log alone.
const (
	EscrowAccount  auth.AccountID = "escrow"
	RevenueAccount auth.AccountID = "revenue"
)

var (
	ErrNonPositiveAmount    = errors.New("amount must be positive")
	ErrInsufficientEscrow   = errors.New("insufficient escrow balance")
	ErrInsufficientRevenue  = errors.New("insufficient revenue balance")
	ErrReceiptBadSignature  = errors.New("receipt signature invalid")
	ErrReceiptSinkUnhealthy = errors.New("receipt sink rejected append")
)

// Kind categorizes a treasury movement.
type Kind string

const (
	// KindCollect moves a deposit from a caller into escrow.
	KindCollect Kind = "collect"
	// KindDisburse returns escrowed funds to an account (refund).
	KindDisburse Kind = "disburse"
	// KindRetain moves escrowed funds to operator revenue (acceptance).
	KindRetain Kind = "retain"
	// KindReinstate moves funds from revenue back to escrow, compensating
	// a retain whose follow-up action failed.
	KindReinstate Kind = "reinstate"
)

// Receipt is an immutable, hash-chained record of one movement.
type Receipt struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence"`
	Kind      Kind           `json:"kind"`
	From      auth.AccountID `json:"from"`
	To        auth.AccountID `json:"to"`
	Amount    Amount         `json:"amount"`
	Memo      string         `json:"memo,omitempty"`
	At        time.Time      `json:"at"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature,omitempty"`
}

// Treasury is the custody boundary for deposits. Implementations must be
// all-or-nothing per call: on error, balances and the receipt log are
// unchanged.
type Treasury interface {
	Collect(ctx context.Context, from auth.AccountID, amount Amount, memo string) (*Receipt, error)
	Disburse(ctx context.Context, to auth.AccountID, amount Amount, memo string) (*Receipt, error)
	Retain(ctx context.Context, amount Amount, memo string) (*Receipt, error)
	Reinstate(ctx context.Context, amount Amount, memo string) (*Receipt, error)
}

// ReceiptSink receives a durable copy of every receipt. Appends happen
// before the movement commits; a sink error aborts the movement.
type ReceiptSink interface {
	Append(ctx context.Context, r *Receipt) error
}
