package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// refScheme prefixes content-addressed archive references.
const refScheme = "sha256:"

// ArchiveStore is long-term storage for evidence packs. Packs are stored
// content-addressed by SHA-256 so re-archiving the same range is
// idempotent.
type ArchiveStore interface {
	// Store persists data and returns its content hash ("sha256:...").
	Store(ctx context.Context, data []byte) (string, error)
	// Get loads the archived bytes for a ref returned by Store.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks whether a pack is already archived.
	Exists(ctx context.Context, hash string) (bool, error)
}

// packRef computes the content-addressed reference for a pack.
func packRef(data []byte) string {
	sum := sha256.Sum256(data)
	return refScheme + hex.EncodeToString(sum[:])
}

// parseRef strips the scheme, rejecting references it does not recognize.
func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refScheme)
	if !ok || raw == "" {
		return "", fmt.Errorf("malformed archive ref %q", ref)
	}
	return raw, nil
}
