package funds

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

const genesisHash = "genesis"

// Ledger is the in-process Treasury: an append-only, hash-chained
// receipt log with escrow and revenue balances derived from it.
type Ledger struct {
	mu       sync.RWMutex
	receipts []*Receipt
	headHash string
	escrow   Amount
	revenue  Amount
	clock    func() time.Time
	signer   KeyProvider
	sink     ReceiptSink
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		headHash: genesisHash,
		clock:    time.Now,
	}
}

// WithClock substitutes the receipt timestamp source.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithSigner makes the ledger sign every receipt.
func (l *Ledger) WithSigner(kp KeyProvider) *Ledger {
	l.signer = kp
	return l
}

// WithSink attaches a durable receipt sink. The sink is written before a
// movement commits, so a failing sink blocks fund movement.
func (l *Ledger) WithSink(s ReceiptSink) *Ledger {
	l.sink = s
	return l
}

func (l *Ledger) Collect(ctx context.Context, from auth.AccountID, amount Amount, memo string) (*Receipt, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	return l.append(ctx, KindCollect, from, EscrowAccount, amount, memo)
}

func (l *Ledger) Disburse(ctx context.Context, to auth.AccountID, amount Amount, memo string) (*Receipt, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	return l.append(ctx, KindDisburse, EscrowAccount, to, amount, memo)
}

func (l *Ledger) Retain(ctx context.Context, amount Amount, memo string) (*Receipt, error) {
	return l.append(ctx, KindRetain, EscrowAccount, RevenueAccount, amount, memo)
}

func (l *Ledger) Reinstate(ctx context.Context, amount Amount, memo string) (*Receipt, error) {
	return l.append(ctx, KindReinstate, RevenueAccount, EscrowAccount, amount, memo)
}

func (l *Ledger) append(ctx context.Context, kind Kind, from, to auth.AccountID, amount Amount, memo string) (*Receipt, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case KindDisburse, KindRetain:
		if l.escrow < amount {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientEscrow, l.escrow, amount)
		}
	case KindReinstate:
		if l.revenue < amount {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientRevenue, l.revenue, amount)
		}
	}

	r := &Receipt{
		ID:       uuid.New().String(),
		Sequence: uint64(len(l.receipts)) + 1,
		Kind:     kind,
		From:     from,
		To:       to,
		Amount:   amount,
		Memo:     memo,
		// Microsecond precision: timestamptz sinks round-trip the stamp
		// without changing the hash.
		At:       l.clock().UTC().Truncate(time.Microsecond),
		PrevHash: l.headHash,
	}

	hash, canonical, err := receiptHash(r)
	if err != nil {
		return nil, err
	}
	r.Hash = hash

	if l.signer != nil {
		sig, err := l.signer.Sign(canonical)
		if err != nil {
			return nil, fmt.Errorf("sign receipt: %w", err)
		}
		r.Signature = hex.EncodeToString(sig)
	}

	// Durable copy first; the movement only commits if the sink took it.
	if l.sink != nil {
		if err := l.sink.Append(ctx, r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReceiptSinkUnhealthy, err)
		}
	}

	l.receipts = append(l.receipts, r)
	l.headHash = r.Hash
	switch kind {
	case KindCollect:
		l.escrow += amount
	case KindDisburse:
		l.escrow -= amount
	case KindRetain:
		l.escrow -= amount
		l.revenue += amount
	case KindReinstate:
		l.revenue -= amount
		l.escrow += amount
	}

	return r, nil
}

// Escrow returns the current escrow pool balance.
func (l *Ledger) Escrow() Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.escrow
}

// Revenue returns the accumulated operator revenue.
func (l *Ledger) Revenue() Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revenue
}

// Head returns the hash of the newest receipt. An empty chain reports
// the genesis hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of receipts.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.receipts)
}

// Get retrieves a receipt by sequence number.
func (l *Ledger) Get(seq uint64) (*Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.receipts)) {
		return nil, fmt.Errorf("receipt %d not found", seq)
	}
	r := *l.receipts[seq-1]
	return &r, nil
}

// Receipts returns a copy of the full receipt log in sequence order.
func (l *Ledger) Receipts() []*Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Receipt, len(l.receipts))
	for i, r := range l.receipts {
		cp := *r
		out[i] = &cp
	}
	return out
}

// Verify checks the integrity of the entire receipt chain.
func (l *Ledger) Verify() (bool, string) {
	return VerifyChain(l.Receipts())
}

// VerifyChain replays a receipt log, recomputing every hash and link
// and checking that no movement overdrew a bucket. It works on exported
// logs as well as live ones.
func VerifyChain(receipts []*Receipt) (bool, string) {
	prevHash := genesisHash
	var escrow, revenue Amount
	for i, r := range receipts {
		if r.Sequence != uint64(i)+1 {
			return false, fmt.Sprintf("sequence gap at entry %d: got %d", i+1, r.Sequence)
		}
		if r.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, r.PrevHash)
		}
		computed, _, err := receiptHash(r)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d: %v", i+1, err)
		}
		if computed != r.Hash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		switch r.Kind {
		case KindCollect:
			escrow += r.Amount
		case KindDisburse:
			escrow -= r.Amount
		case KindRetain:
			escrow -= r.Amount
			revenue += r.Amount
		case KindReinstate:
			revenue -= r.Amount
			escrow += r.Amount
		default:
			return false, fmt.Sprintf("unknown kind %q at entry %d", r.Kind, i+1)
		}
		if escrow.IsNegative() || revenue.IsNegative() {
			return false, fmt.Sprintf("bucket overdrawn at entry %d", i+1)
		}
		prevHash = r.Hash
	}
	return true, "chain verified"
}

// VerifySignatures checks every receipt signature against the given key.
// Unsigned receipts fail: a ledger configured with a signer must have
// signed everything.
func VerifySignatures(receipts []*Receipt, pub ed25519.PublicKey) error {
	for _, r := range receipts {
		if r.Signature == "" {
			return fmt.Errorf("%w: receipt %d unsigned", ErrReceiptBadSignature, r.Sequence)
		}
		sig, err := hex.DecodeString(r.Signature)
		if err != nil {
			return fmt.Errorf("%w: receipt %d: %v", ErrReceiptBadSignature, r.Sequence, err)
		}
		_, canonical, err := receiptHash(r)
		if err != nil {
			return err
		}
		if !ed25519.Verify(pub, canonical, sig) {
			return fmt.Errorf("%w: receipt %d", ErrReceiptBadSignature, r.Sequence)
		}
	}
	return nil
}

// receiptHash computes the content hash over the immutable receipt
// fields. Returns the hash and the canonical bytes it covers, which are
// also what gets signed.
func receiptHash(r *Receipt) (string, []byte, error) {
	hashInput := struct {
		Sequence uint64         `json:"sequence"`
		Kind     Kind           `json:"kind"`
		From     auth.AccountID `json:"from"`
		To       auth.AccountID `json:"to"`
		Amount   Amount         `json:"amount"`
		Memo     string         `json:"memo"`
		At       string         `json:"at"`
		PrevHash string         `json:"prev"`
	}{r.Sequence, r.Kind, r.From, r.To, r.Amount, r.Memo, r.At.UTC().Format(time.RFC3339Nano), r.PrevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", nil, fmt.Errorf("failed to canonicalize receipt: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), canonical, nil
}
