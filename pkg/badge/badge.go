// Package badge turns accepted sponsorship proposals into gallery
// badges. The issuer screens submissions carrying a badge directive and
// applies the directive when the proposal is accepted.
package badge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

const day = 24 * time.Hour

// Tags the sponsorship registry must carry for badge directives to be
// submittable. The action inside the directive must match the tag.
const (
	TagCreate = "badge-create"
	TagExtend = "badge-extend"
)

var (
	ErrBadDirective      = errors.New("invalid badge directive")
	ErrTagMismatch       = errors.New("tag mismatch")
	ErrBadgeExists       = errors.New("badge already exists")
	ErrBadgeUnknown      = errors.New("badge does not exist")
	ErrMaxActiveExceeded = errors.New("exceeded maximum active duration")
)

// Badge is an issued gallery badge. Its active window starts at StartAt
// and runs for Active; extensions lengthen Active, never the start.
type Badge struct {
	ID          string         `json:"id"`
	GroupID     string         `json:"group_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Sponsor     auth.AccountID `json:"sponsor"`
	Active      time.Duration  `json:"active"`
	StartAt     time.Time      `json:"start_at"`
	IssuedAt    time.Time      `json:"issued_at"`
}

// ExpiresAt returns the end of the badge's active window.
func (b *Badge) ExpiresAt() time.Time {
	return b.StartAt.Add(b.Active)
}

// ActiveAt reports whether the badge is live at the given instant.
func (b *Badge) ActiveAt(now time.Time) bool {
	return !now.Before(b.StartAt) && now.Before(b.ExpiresAt())
}

// Config fixes the issuer's pricing and limits.
type Config struct {
	// RatePerDay is the price of one billable day of badge time.
	RatePerDay funds.Amount
	// MinCreationDeposit is the floor price for creating a badge.
	// Extensions have no floor; they cost exactly days times rate.
	MinCreationDeposit funds.Amount
	// MaxActive caps a badge's total active duration across its
	// creation and all extensions.
	MaxActive time.Duration
}

// Issuer holds the badge book and implements both sponsorship
// collaborator roles: it vets badge directives at submission time and
// applies them at acceptance time.
type Issuer struct {
	mu     sync.Mutex
	badges map[string]*Badge

	cfg     Config
	schema  *directiveSchema
	clock   func() time.Time
	auditor audit.Logger
}

// NewIssuer creates an issuer with the given pricing configuration.
func NewIssuer(cfg Config) (*Issuer, error) {
	if !cfg.RatePerDay.IsPositive() {
		return nil, fmt.Errorf("rate per day must be positive, got %s", cfg.RatePerDay)
	}
	if !cfg.MinCreationDeposit.IsPositive() {
		return nil, fmt.Errorf("minimum creation deposit must be positive, got %s", cfg.MinCreationDeposit)
	}
	if cfg.MaxActive < day {
		return nil, fmt.Errorf("max active duration must be at least one day, got %s", cfg.MaxActive)
	}
	schema, err := compileDirectiveSchema()
	if err != nil {
		return nil, err
	}
	return &Issuer{
		badges: make(map[string]*Badge),
		cfg:    cfg,
		schema: schema,
		clock:  time.Now,
	}, nil
}

// WithClock replaces the time source behind issued_at stamps.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// WithAuditor attaches an audit logger for issue and extend events.
func (i *Issuer) WithAuditor(l audit.Logger) *Issuer {
	i.auditor = l
	return i
}

// Execute applies the proposal's directive to the badge book. It is the
// authoritative check: the book may have changed since the submission
// was vetted, so existence and duration limits are verified again under
// the lock before anything mutates.
func (i *Issuer) Execute(ctx context.Context, p sponsorship.Proposal) error {
	d, err := i.ParseDirective(p.Message)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.check(d); err != nil {
		return err
	}

	requested := time.Duration(d.Days) * day
	switch d.Action {
	case ActionCreate:
		now := i.clock().UTC()
		start := now
		if d.StartAt != nil {
			start = d.StartAt.UTC()
		}
		b := &Badge{
			ID:          d.BadgeID,
			GroupID:     d.GroupID,
			Name:        d.Name,
			Description: d.Description,
			Sponsor:     p.Submitter,
			Active:      requested,
			StartAt:     start,
			IssuedAt:    now,
		}
		i.badges[b.ID] = b
		i.record(ctx, "badge.issued", b.ID, p.ID, d.Days)
	case ActionExtend:
		b := i.badges[d.BadgeID]
		b.Active += requested
		i.record(ctx, "badge.extended", b.ID, p.ID, d.Days)
	}
	return nil
}

// check verifies a directive against the current book. Callers hold the
// lock.
func (i *Issuer) check(d *Directive) error {
	requested := time.Duration(d.Days) * day
	switch d.Action {
	case ActionCreate:
		if _, ok := i.badges[d.BadgeID]; ok {
			return fmt.Errorf("%w: %q", ErrBadgeExists, d.BadgeID)
		}
		if requested > i.cfg.MaxActive {
			return fmt.Errorf("%w: requested %s, limit %s", ErrMaxActiveExceeded, requested, i.cfg.MaxActive)
		}
	case ActionExtend:
		b, ok := i.badges[d.BadgeID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrBadgeUnknown, d.BadgeID)
		}
		if b.Active+requested > i.cfg.MaxActive {
			return fmt.Errorf("%w: %s total, limit %s", ErrMaxActiveExceeded, b.Active+requested, i.cfg.MaxActive)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrBadDirective, d.Action)
	}
	return nil
}

// Badges returns the issued badges ordered by id.
func (i *Issuer) Badges() []Badge {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Badge, 0, len(i.badges))
	for _, b := range i.badges {
		out = append(out, *b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Badge returns a copy of the badge with the given id.
func (i *Issuer) Badge(id string) (*Badge, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	b, ok := i.badges[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

func (i *Issuer) record(ctx context.Context, action, badgeID string, proposalID uint64, days int) {
	if i.auditor == nil {
		return
	}
	_ = i.auditor.Record(ctx, audit.EventMutation, action, "badge/"+badgeID, map[string]interface{}{
		"proposal": proposalID,
		"days":     days,
	})
}
