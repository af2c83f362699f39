package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/funds"
)

// loadKeyMaterial builds the token keyset and the treasury signing key.
// With a master seed both are deterministic: tokens minted offline stay
// valid and receipt signatures stay verifiable across restarts. Without
// one the keys are ephemeral, which only suits development.
func loadKeyMaterial(masterSeed string) (auth.KeySet, funds.KeyProvider, error) {
	if masterSeed == "" {
		slog.Warn("SPONSORD_MASTER_SEED not set, using ephemeral keys; tokens and receipt signatures will not survive a restart")
		keys, err := auth.NewInMemoryKeySet()
		if err != nil {
			return nil, nil, err
		}
		signer, err := funds.NewMemoryKeyProvider()
		if err != nil {
			return nil, nil, err
		}
		return keys, signer, nil
	}

	seed, err := hex.DecodeString(masterSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("SPONSORD_MASTER_SEED must be hex: %w", err)
	}
	keys, err := auth.NewKeySetFromSeed(seed)
	if err != nil {
		return nil, nil, err
	}
	signer, err := funds.DeriveKeyProvider(seed, "treasury")
	if err != nil {
		return nil, nil, err
	}
	slog.Info("treasury signing key derived", "pub", hex.EncodeToString(signer.PublicKey()))
	return keys, signer, nil
}
