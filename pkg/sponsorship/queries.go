package sponsorship

import (
	"context"
	"fmt"
	"sort"

	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
)

// Get returns a copy of the proposal with the given id.
func (s *Store) Get(id uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// All returns every proposal in submission order, paged.
func (s *Store) All(page Page) []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(page, func(*Proposal) bool { return true })
}

// Pending returns proposals that are still open for resolution: PENDING
// and not yet past their expiry.
func (s *Store) Pending(page Page) []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.collect(page, func(p *Proposal) bool {
		return p.Status == StatusPending && !p.Expired(now)
	})
}

// ExpiredPending returns proposals whose window has closed without a
// resolution. They can still be rejected or rescinded.
func (s *Store) ExpiredPending(page Page) []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.collect(page, func(p *Proposal) bool {
		return p.Status == StatusPending && p.Expired(now)
	})
}

// ByStatus returns proposals with the given status in submission order.
func (s *Store) ByStatus(status Status, page Page) []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(page, func(p *Proposal) bool { return p.Status == status })
}

// collect applies keep over the book in id order and pages the result.
// Callers hold the lock.
func (s *Store) collect(page Page, keep func(*Proposal) bool) []Proposal {
	matched := make([]Proposal, 0, len(s.order))
	for _, id := range s.order {
		p := s.proposals[id]
		if keep(p) {
			matched = append(matched, *p)
		}
	}
	lo, hi := page.bounds(len(matched))
	return matched[lo:hi]
}

// Totals reports the cumulative deposit counters and a count of
// proposals per status. The deposit totals are monotone: they count
// everything ever escrowed and ever retained, not current holdings.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Totals{
		TotalDeposits:         s.totalDeposits,
		TotalAcceptedDeposits: s.totalAcceptedDeposits,
		Counts:                make(map[Status]int, 4),
	}
	for _, p := range s.proposals {
		t.Counts[p.Status]++
	}
	return t
}

// Tags returns the registered tags in lexical order.
func (s *Store) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.tags))
	for tag := range s.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// HasTag reports whether a tag is registered.
func (s *Store) HasTag(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tags[tag]
	return ok
}

// AddTags registers tags. Owner only; already registered tags are
// ignored, so the call is idempotent.
func (s *Store) AddTags(ctx context.Context, caller auth.AccountID, tags []string) error {
	for _, tag := range tags {
		if !tagPattern.MatchString(tag) {
			return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(caller); err != nil {
		return err
	}
	added := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := s.tags[tag]; ok {
			continue
		}
		s.tags[tag] = struct{}{}
		added = append(added, tag)
	}
	if len(added) > 0 && s.auditor != nil {
		_ = s.auditor.Record(ctx, audit.EventMutation, "tags.added", "tags", map[string]interface{}{
			"tags": added,
		})
	}
	return nil
}

// RemoveTags unregisters tags. Owner only. Proposals already submitted
// under a removed tag keep it; removal only blocks new submissions.
func (s *Store) RemoveTags(ctx context.Context, caller auth.AccountID, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(caller); err != nil {
		return err
	}
	removed := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := s.tags[tag]; !ok {
			continue
		}
		delete(s.tags, tag)
		removed = append(removed, tag)
	}
	if len(removed) > 0 && s.auditor != nil {
		_ = s.auditor.Record(ctx, audit.EventMutation, "tags.removed", "tags", map[string]interface{}{
			"tags": removed,
		})
	}
	return nil
}
