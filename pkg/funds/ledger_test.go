package funds

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLedgerCollectAndDisburse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger().WithClock(fixedClock(now))

	r1, err := l.Collect(ctx, "alice", 100, "proposal 1 deposit")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.Sequence)
	assert.Equal(t, KindCollect, r1.Kind)
	assert.Equal(t, genesisHash, r1.PrevHash)
	assert.Equal(t, Amount(100), l.Escrow())

	r2, err := l.Disburse(ctx, "alice", 40, "partial refund test")
	require.NoError(t, err)
	assert.Equal(t, r1.Hash, r2.PrevHash)
	assert.Equal(t, Amount(60), l.Escrow())
	assert.Equal(t, Amount(0), l.Revenue())

	ok, msg := l.Verify()
	assert.True(t, ok, msg)
}

func TestLedgerRetainAndReinstate(t *testing.T) {
	ctx := context.Background()
	l := NewLedger().WithClock(fixedClock(time.Unix(1700000000, 0)))

	_, err := l.Collect(ctx, "bob", 250, "deposit")
	require.NoError(t, err)

	_, err = l.Retain(ctx, 250, "proposal 1 accepted")
	require.NoError(t, err)
	assert.Equal(t, Amount(0), l.Escrow())
	assert.Equal(t, Amount(250), l.Revenue())

	_, err = l.Reinstate(ctx, 250, "acceptance action failed")
	require.NoError(t, err)
	assert.Equal(t, Amount(250), l.Escrow())
	assert.Equal(t, Amount(0), l.Revenue())

	ok, msg := l.Verify()
	assert.True(t, ok, msg)
	assert.Equal(t, 3, l.Length())
}

func TestLedgerRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	_, err := l.Collect(ctx, "alice", 50, "")
	require.NoError(t, err)

	_, err = l.Disburse(ctx, "alice", 51, "")
	assert.ErrorIs(t, err, ErrInsufficientEscrow)

	_, err = l.Retain(ctx, 51, "")
	assert.ErrorIs(t, err, ErrInsufficientEscrow)

	_, err = l.Reinstate(ctx, 1, "")
	assert.ErrorIs(t, err, ErrInsufficientRevenue)

	// Failed movements must not leave receipts behind.
	assert.Equal(t, 1, l.Length())
	assert.Equal(t, Amount(50), l.Escrow())
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	_, err := l.Collect(ctx, "alice", 0, "")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = l.Collect(ctx, "alice", -5, "")
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestLedgerRejectsInvalidAccount(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	_, err := l.Collect(ctx, "NOT VALID", 10, "")
	assert.Error(t, err)
	assert.Equal(t, 0, l.Length())
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	for i := 0; i < 5; i++ {
		_, err := l.Collect(ctx, "alice", Amount(10+i), "")
		require.NoError(t, err)
	}

	receipts := l.Receipts()
	ok, _ := VerifyChain(receipts)
	require.True(t, ok)

	receipts[2].Amount++
	ok, msg := VerifyChain(receipts)
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch")
}

func TestLedgerSignatures(t *testing.T) {
	ctx := context.Background()
	signer, err := DeriveKeyProvider(bytes.Repeat([]byte{7}, 32), "receipts")
	require.NoError(t, err)

	l := NewLedger().WithSigner(signer)
	_, err = l.Collect(ctx, "alice", 100, "")
	require.NoError(t, err)
	_, err = l.Retain(ctx, 100, "")
	require.NoError(t, err)

	receipts := l.Receipts()
	require.NoError(t, VerifySignatures(receipts, signer.PublicKey()))

	receipts[1].Memo = "tampered"
	assert.ErrorIs(t, VerifySignatures(receipts, signer.PublicKey()), ErrReceiptBadSignature)

	unsigned := NewLedger()
	_, err = unsigned.Collect(ctx, "alice", 1, "")
	require.NoError(t, err)
	assert.ErrorIs(t, VerifySignatures(unsigned.Receipts(), signer.PublicKey()), ErrReceiptBadSignature)
}

type failingSink struct{ err error }

func (f *failingSink) Append(ctx context.Context, r *Receipt) error { return f.err }

func TestLedgerSinkFailureAbortsMovement(t *testing.T) {
	ctx := context.Background()
	sinkErr := errors.New("disk full")
	l := NewLedger().WithSink(&failingSink{err: sinkErr})

	_, err := l.Collect(ctx, "alice", 100, "")
	assert.ErrorIs(t, err, ErrReceiptSinkUnhealthy)
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 0, l.Length())
	assert.Equal(t, Amount(0), l.Escrow())
}

func TestDeriveKeyProviderDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0xAB}, 32)

	a, err := DeriveKeyProvider(seed, "receipts")
	require.NoError(t, err)
	b, err := DeriveKeyProvider(seed, "receipts")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey(), b.PublicKey())

	c, err := DeriveKeyProvider(seed, "other")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey(), c.PublicKey())

	_, err = DeriveKeyProvider(nil, "receipts")
	assert.Error(t, err)
	_, err = DeriveKeyProvider(seed, "")
	assert.Error(t, err)
}
