package funds

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider abstracts receipt signing so the in-memory backend can be
// swapped for an HSM or KMS.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// kdfSalt binds derived keys to this service; the same master seed used
// elsewhere with another salt yields unrelated keys.
var kdfSalt = []byte("sponsorship-funds-kdf")

// MemoryKeyProvider signs with an Ed25519 key held in process memory.
type MemoryKeyProvider struct {
	priv ed25519.PrivateKey
}

func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.priv.Public().(ed25519.PublicKey)
}

// DeriveKeyProvider expands a master seed into a purpose-specific signing
// key with HKDF-SHA256. Derivation is deterministic, so a verifier holding
// the same seed re-derives the same public key offline.
func DeriveKeyProvider(masterSeed []byte, purpose string) (*MemoryKeyProvider, error) {
	if len(masterSeed) == 0 {
		return nil, fmt.Errorf("master seed must not be empty")
	}
	if purpose == "" {
		return nil, fmt.Errorf("purpose must not be empty")
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterSeed, kdfSalt, []byte(purpose)), seed); err != nil {
		return nil, fmt.Errorf("derive key material: %w", err)
	}
	return &MemoryKeyProvider{priv: ed25519.NewKeyFromSeed(seed)}, nil
}
