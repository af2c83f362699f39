package sponsorship

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/funds"
)

// tagPattern is the grammar for registry tags.
var tagPattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

// Config fixes the store's parameters at construction. There is no
// runtime mutation of the duration or the deposit floor.
type Config struct {
	// ProposalDuration is the default time-to-live for new proposals.
	ProposalDuration time.Duration
	// MinDeposit is the smallest deposit a submission may carry.
	MinDeposit funds.Amount
	// Tags seeds the tag registry. Submissions must name a registered
	// tag, so an empty seed means the owner must add tags before the
	// first submission.
	Tags []string
}

// Store is the custodian of the proposal book. All lifecycle operations
// and queries go through it; the embedded map is the source of truth and
// recorders are projections of it.
type Store struct {
	mu        sync.Mutex
	proposals map[uint64]*Proposal
	order     []uint64
	nextID    uint64
	tags      map[string]struct{}

	duration   time.Duration
	minDeposit funds.Amount

	totalDeposits         funds.Amount
	totalAcceptedDeposits funds.Amount

	clock     func() time.Time
	treasury  funds.Treasury
	authority Authority
	vetter    Vetter
	executor  Executor
	recorder  Recorder
	auditor   audit.Logger
}

// NewStore creates a store with the given fixed configuration and
// collaborators. Treasury and authority are required.
func NewStore(cfg Config, treasury funds.Treasury, authority Authority) (*Store, error) {
	if cfg.ProposalDuration <= 0 {
		return nil, fmt.Errorf("proposal duration must be positive, got %s", cfg.ProposalDuration)
	}
	if !cfg.MinDeposit.IsPositive() {
		return nil, fmt.Errorf("minimum deposit must be positive, got %s", cfg.MinDeposit)
	}
	if treasury == nil {
		return nil, fmt.Errorf("treasury is required")
	}
	if authority == nil {
		return nil, fmt.Errorf("authority is required")
	}

	tags := make(map[string]struct{}, len(cfg.Tags))
	for _, tag := range cfg.Tags {
		if !tagPattern.MatchString(tag) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
		tags[tag] = struct{}{}
	}

	return &Store{
		proposals:  make(map[uint64]*Proposal),
		nextID:     1,
		tags:       tags,
		duration:   cfg.ProposalDuration,
		minDeposit: cfg.MinDeposit,
		clock:      time.Now,
		treasury:   treasury,
		authority:  authority,
	}, nil
}

// WithClock sets the time source used to stamp submissions and
// resolutions.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithVetter attaches a submission screen.
func (s *Store) WithVetter(v Vetter) *Store {
	s.vetter = v
	return s
}

// WithExecutor attaches the acceptance side effect.
func (s *Store) WithExecutor(e Executor) *Store {
	s.executor = e
	return s
}

// WithRecorder attaches a durable transition projection.
func (s *Store) WithRecorder(r Recorder) *Store {
	s.recorder = r
	return s
}

// WithAuditor attaches an audit logger for transitions.
func (s *Store) WithAuditor(l audit.Logger) *Store {
	s.auditor = l
	return s
}

// Duration returns the configured default time-to-live.
func (s *Store) Duration() time.Duration {
	return s.duration
}

// MinDeposit returns the configured deposit floor.
func (s *Store) MinDeposit() funds.Amount {
	return s.minDeposit
}

// Submit turns a valid submission into a PENDING proposal with its
// deposit held in escrow. The id counter advances only on success; a
// rejected submission consumes nothing.
func (s *Store) Submit(ctx context.Context, sub Submission) (*Proposal, error) {
	if err := sub.Submitter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	if strings.TrimSpace(sub.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidSubmission)
	}
	if sub.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", ErrInvalidSubmission)
	}
	if sub.Deposit < s.minDeposit {
		return nil, fmt.Errorf("%w: required %s, received %s", ErrInsufficientDeposit, s.minDeposit, sub.Deposit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tags[sub.Tag]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, sub.Tag)
	}

	if s.vetter != nil {
		if err := s.vetter.VetSubmission(ctx, sub); err != nil {
			return nil, err
		}
	}

	ttl := s.duration
	if sub.TTL > 0 && sub.TTL < ttl {
		ttl = sub.TTL
	}

	id := s.nextID
	if _, err := s.treasury.Collect(ctx, sub.Submitter, sub.Deposit, fmt.Sprintf("proposal %d deposit", id)); err != nil {
		return nil, err
	}

	p := &Proposal{
		ID:          id,
		Submitter:   sub.Submitter,
		Description: sub.Description,
		Tag:         sub.Tag,
		Message:     sub.Message,
		Deposit:     sub.Deposit,
		Status:      StatusPending,
		SubmittedAt: s.clock().UTC(),
		TTL:         ttl,
	}

	s.proposals[id] = p
	s.order = append(s.order, id)
	s.nextID = id + 1
	s.totalDeposits += sub.Deposit

	cp := *p
	if s.recorder != nil {
		_ = s.recorder.RecordSubmitted(ctx, &cp)
	}
	s.record(ctx, "proposal.submitted", p, map[string]interface{}{
		"tag":     p.Tag,
		"deposit": int64(sub.Deposit),
	})
	return &cp, nil
}

// Rescind returns a pending proposal's deposit to its submitter and
// marks it RESCINDED. Only the submitter may rescind, and expiry does
// not block it.
func (s *Store) Rescind(ctx context.Context, caller auth.AccountID, id uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, p.Status)
	}
	if caller != p.Submitter {
		return nil, fmt.Errorf("%w: only the original submitter may rescind", auth.ErrUnauthorized)
	}

	refund, err := s.treasury.Disburse(ctx, p.Submitter, p.Deposit, fmt.Sprintf("proposal %d rescinded", id))
	if err != nil {
		return nil, err
	}

	s.resolve(ctx, p, StatusRescinded, "", map[string]interface{}{
		"refund_receipt": refund.ID,
	})
	cp := *p
	return &cp, nil
}

// Accept resolves a pending proposal as ACCEPTED: the deposit moves to
// operator revenue and the acceptance action runs. If the action fails,
// the deposit is reinstated to escrow and the proposal stays pending.
// Owner only; blocked once the proposal has expired.
func (s *Store) Accept(ctx context.Context, caller auth.AccountID, id uint64, note string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, p.Status)
	}
	now := s.clock()
	if p.Expired(now) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpired, p.ExpiresAt().UTC().Format(time.RFC3339))
	}

	retain, err := s.treasury.Retain(ctx, p.Deposit, fmt.Sprintf("proposal %d accepted", id))
	if err != nil {
		return nil, err
	}

	if s.executor != nil {
		if execErr := s.executor.Execute(ctx, *p); execErr != nil {
			// Compensate the retain so the book and the treasury agree:
			// the proposal is still pending and its deposit is back in
			// escrow.
			if _, rbErr := s.treasury.Reinstate(ctx, p.Deposit, fmt.Sprintf("proposal %d acceptance reverted", id)); rbErr != nil {
				return nil, fmt.Errorf("acceptance action failed: %w (compensation also failed: %v)", execErr, rbErr)
			}
			return nil, fmt.Errorf("acceptance action failed: %w", execErr)
		}
	}

	s.totalAcceptedDeposits += p.Deposit
	s.resolve(ctx, p, StatusAccepted, note, map[string]interface{}{
		"retain_receipt": retain.ID,
	})
	cp := *p
	return &cp, nil
}

// Reject resolves a pending proposal as REJECTED and refunds the
// deposit to the submitter. Owner only. Expired proposals can still be
// rejected, which is how the book gets cleared after the fact.
func (s *Store) Reject(ctx context.Context, caller auth.AccountID, id uint64, note string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, p.Status)
	}

	refund, err := s.treasury.Disburse(ctx, p.Submitter, p.Deposit, fmt.Sprintf("proposal %d rejected", id))
	if err != nil {
		return nil, err
	}

	s.resolve(ctx, p, StatusRejected, note, map[string]interface{}{
		"refund_receipt": refund.ID,
	})
	cp := *p
	return &cp, nil
}

// resolve commits a terminal transition: stamps the resolution, zeroes
// the deposit (custody has ended), and notifies projections. Callers
// hold the lock and have already moved the funds.
func (s *Store) resolve(ctx context.Context, p *Proposal, status Status, note string, meta map[string]interface{}) {
	now := s.clock().UTC()
	p.Status = status
	p.ResolvedAt = &now
	p.ResolutionNote = note
	p.Deposit = 0

	cp := *p
	if s.recorder != nil {
		_ = s.recorder.RecordResolved(ctx, &cp)
	}
	action := "proposal." + strings.ToLower(string(status))
	s.record(ctx, action, p, meta)
}

func (s *Store) requireOwner(caller auth.AccountID) error {
	owner := s.authority.Owner()
	if owner.IsZero() || caller != owner {
		return fmt.Errorf("%w: only the owner may resolve proposals", auth.ErrUnauthorized)
	}
	return nil
}

func (s *Store) record(ctx context.Context, action string, p *Proposal, meta map[string]interface{}) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Record(ctx, audit.EventMutation, action, fmt.Sprintf("proposal/%d", p.ID), meta)
}
