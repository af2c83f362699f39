package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages active signing keys and verification of past keys,
// supporting rotation without downtime.
type KeySet interface {
	// Sign issues a token under whichever key is currently active.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc resolves verification keys for the jwt parser.
	KeyFunc() jwt.Keyfunc
}

// maxRetiredKeys bounds how many rotated-out keys stay verifiable.
const maxRetiredKeys = 4

type signingKey struct {
	id   string
	priv ed25519.PrivateKey
}

// keyID fingerprints the public half, so every process that derives the
// same key also derives the same id.
func keyID(priv ed25519.PrivateKey) string {
	sum := sha256.Sum256(priv.Public().(ed25519.PublicKey))
	return hex.EncodeToString(sum[:8])
}

// InMemoryKeySet signs with one active Ed25519 key and keeps a short tail
// of retired keys, so tokens minted just before a rotation still verify.
type InMemoryKeySet struct {
	mu      sync.RWMutex
	active  signingKey
	retired []signingKey
}

// NewInMemoryKeySet creates a key set with a freshly generated key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewKeySetFromSeed derives the key deterministically so that separate
// processes (the server and the token mint) agree on the key material.
func NewKeySetFromSeed(seed []byte) (*InMemoryKeySet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &InMemoryKeySet{active: signingKey{id: keyID(priv), priv: priv}}, nil
}

// Rotate generates a fresh active key. The previous key moves to the
// retired tail and stays valid for verification until it ages out.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.active.priv != nil {
		ks.retired = append(ks.retired, ks.active)
		if len(ks.retired) > maxRetiredKeys {
			ks.retired = ks.retired[len(ks.retired)-maxRetiredKeys:]
		}
	}
	ks.active = signingKey{id: keyID(priv), priv: priv}
	return nil
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	k := ks.active
	ks.mu.RUnlock()

	if k.priv == nil {
		return "", fmt.Errorf("key set has no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = k.id
	return token.SignedString(k.priv)
}

// KeyFunc resolves the verification key named by the token's kid header,
// checking the active key first and then the retired tail.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()

		if ks.active.priv != nil && kid == ks.active.id {
			return ks.active.priv.Public(), nil
		}
		for _, k := range ks.retired {
			if k.id == kid {
				return k.priv.Public(), nil
			}
		}
		return nil, fmt.Errorf("unknown signing key %s", kid)
	}
}
