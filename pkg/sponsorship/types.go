// Package sponsorship implements the deposit-backed proposal lifecycle:
// submission with escrowed deposits, owner resolution, derived expiry,
// and the query surface over the proposal book.
package sponsorship

import (
	"context"
	"time"

	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/funds"
)

// Status is the lifecycle state of a proposal. Expiry is not a status;
// it is derived from the submission time and the proposal's TTL.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusRescinded Status = "RESCINDED"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusRescinded:
		return true
	}
	return false
}

// Terminal reports whether s is a resolved state. A proposal's status
// changes at most once, from PENDING to a terminal state.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// Proposal is a single record in the proposal book. Records are never
// deleted; terminal proposals stay queryable with a zeroed deposit.
type Proposal struct {
	ID             uint64         `json:"id"`
	Submitter      auth.AccountID `json:"submitter"`
	Description    string         `json:"description"`
	Tag            string         `json:"tag"`
	Message        string         `json:"message,omitempty"`
	Deposit        funds.Amount   `json:"deposit"`
	Status         Status         `json:"status"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	TTL            time.Duration  `json:"ttl"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote string         `json:"resolution_note,omitempty"`
}

// ExpiresAt returns the instant the proposal stops being acceptable.
func (p *Proposal) ExpiresAt() time.Time {
	return p.SubmittedAt.Add(p.TTL)
}

// Expired reports whether now has reached the proposal's expiry. Expiry
// blocks acceptance only; rejection and rescission stay valid.
func (p *Proposal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt())
}

// Submission is the input to Submit.
type Submission struct {
	Submitter   auth.AccountID `json:"submitter"`
	Description string         `json:"description"`
	Tag         string         `json:"tag"`
	Message     string         `json:"message,omitempty"`
	Deposit     funds.Amount   `json:"deposit"`
	// TTL optionally narrows the proposal's time-to-live. The effective
	// TTL is the smaller of this and the configured duration; zero means
	// use the configured duration.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Totals is the aggregate view of the proposal book. The two deposit
// counters are cumulative and never decrease; point-in-time custody
// lives in the treasury balances.
type Totals struct {
	TotalDeposits         funds.Amount   `json:"total_deposits"`
	TotalAcceptedDeposits funds.Amount   `json:"total_accepted_deposits"`
	Counts                map[Status]int `json:"counts"`
}

// Page bounds a query result. A zero Limit returns everything from
// Offset onward.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (p Page) bounds(n int) (int, int) {
	lo := p.Offset
	if lo < 0 {
		lo = 0
	}
	if lo > n {
		lo = n
	}
	hi := n
	if p.Limit > 0 && lo+p.Limit < n {
		hi = lo + p.Limit
	}
	return lo, hi
}

// Authority reports the current resolver. Satisfied by
// ownership.Registry.
type Authority interface {
	Owner() auth.AccountID
}

// Vetter screens submissions after basic validation and before any
// funds move. A nil vetter admits everything.
type Vetter interface {
	VetSubmission(ctx context.Context, sub Submission) error
}

// Vetters chains screens into one; the first error wins.
func Vetters(vs ...Vetter) Vetter {
	return multiVetter(vs)
}

type multiVetter []Vetter

func (m multiVetter) VetSubmission(ctx context.Context, sub Submission) error {
	for _, v := range m {
		if v == nil {
			continue
		}
		if err := v.VetSubmission(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// Executor runs the side effect bound to acceptance. If it fails, the
// deposit movement is compensated and the proposal stays pending.
type Executor interface {
	Execute(ctx context.Context, p Proposal) error
}

// Recorder receives durable copies of proposal transitions. Recorders
// are projections of the live book and may be rebuilt from it, so
// recording is best-effort and never blocks a transition.
type Recorder interface {
	RecordSubmitted(ctx context.Context, p *Proposal) error
	RecordResolved(ctx context.Context, p *Proposal) error
}
