package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
)

// runMintTokenCmd implements `sponsord mint-token`.
//
// Mints a bearer token signed with the key the master seed derives, so
// a server booted from the same seed accepts it. Operator tooling for
// development and onboarding; production deployments issue tokens from
// their identity provider.
func runMintTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		account string
		ttl     time.Duration
		seedHex string
	)

	cmd.StringVar(&account, "account", "", "Account id the token authenticates (REQUIRED)")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.StringVar(&seedHex, "seed", os.Getenv("SPONSORD_MASTER_SEED"), "Hex master seed (defaults to SPONSORD_MASTER_SEED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if account == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --account is required")
		return 2
	}
	if seedHex == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --seed or SPONSORD_MASTER_SEED is required; a token minted with a random key would be rejected")
		return 2
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: seed must be hex: %v\n", err)
		return 2
	}
	keys, err := auth.NewKeySetFromSeed(seed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	token, err := auth.MintToken(context.Background(), keys, auth.AccountID(account), ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
