// Package ownership implements the two-step transfer of the resolver
// role: the current owner nominates a successor, and the successor must
// explicitly accept before authority moves.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
)

// ErrNoPendingOwner is returned when acceptance or inspection is
// attempted while no successor has been proposed.
var ErrNoPendingOwner = errors.New("no pending owner")

// Registry tracks the current owner and an optional proposed successor.
// A renounced registry has no owner; owner-gated operations then fail
// permanently.
type Registry struct {
	mu       sync.RWMutex
	owner    auth.AccountID
	proposed auth.AccountID
	auditor  audit.Logger
}

// NewRegistry creates a registry with the given initial owner.
func NewRegistry(owner auth.AccountID) (*Registry, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("initial owner: %w", err)
	}
	return &Registry{owner: owner}, nil
}

// WithAuditor attaches an audit logger for ownership transitions.
func (r *Registry) WithAuditor(l audit.Logger) *Registry {
	r.auditor = l
	return r
}

// Owner returns the current owner, or the zero AccountID after renounce.
func (r *Registry) Owner() auth.AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// ProposedOwner returns the pending successor.
func (r *Registry) ProposedOwner() (auth.AccountID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.proposed.IsZero() {
		return "", ErrNoPendingOwner
	}
	return r.proposed, nil
}

// Propose nominates a successor, overwriting any earlier nomination. An
// empty candidate clears the nomination. Owner only.
func (r *Registry) Propose(ctx context.Context, caller, candidate auth.AccountID) error {
	if !candidate.IsZero() {
		if err := candidate.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner.IsZero() || caller != r.owner {
		return fmt.Errorf("%w: only the owner may propose a successor", auth.ErrUnauthorized)
	}

	r.proposed = candidate
	r.record(ctx, "ownership.proposed", map[string]interface{}{
		"candidate": candidate.String(),
	})
	return nil
}

// AcceptOwnership completes the handshake. The caller must be the
// proposed successor; on success it becomes the owner and the nomination
// is cleared.
func (r *Registry) AcceptOwnership(ctx context.Context, caller auth.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proposed.IsZero() {
		return ErrNoPendingOwner
	}
	if caller != r.proposed {
		return fmt.Errorf("%w: only the proposed owner may accept", auth.ErrUnauthorized)
	}

	r.owner = r.proposed
	r.proposed = ""
	r.record(ctx, "ownership.accepted", map[string]interface{}{
		"owner": r.owner.String(),
	})
	return nil
}

// Renounce clears the owner and any nomination. Owner only. After this,
// no account holds the resolver role again.
func (r *Registry) Renounce(ctx context.Context, caller auth.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner.IsZero() || caller != r.owner {
		return fmt.Errorf("%w: only the owner may renounce", auth.ErrUnauthorized)
	}

	r.owner = ""
	r.proposed = ""
	r.record(ctx, "ownership.renounced", nil)
	return nil
}

func (r *Registry) record(ctx context.Context, action string, metadata map[string]interface{}) {
	if r.auditor == nil {
		return
	}
	_ = r.auditor.Record(ctx, audit.EventMutation, action, "ownership", metadata)
}
