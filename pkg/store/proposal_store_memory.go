package store

import (
	"context"
	"sync"

	"github.com/statsgallery/sponsorship/pkg/sponsorship"
)

// MemoryProposalStore keeps the projection in process memory. It backs
// deployments that run without a database.
type MemoryProposalStore struct {
	mu    sync.RWMutex
	order []uint64
	rows  map[uint64]*sponsorship.Proposal
}

func NewMemoryProposalStore() *MemoryProposalStore {
	return &MemoryProposalStore{rows: make(map[uint64]*sponsorship.Proposal)}
}

func (s *MemoryProposalStore) RecordSubmitted(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(p)
}

func (s *MemoryProposalStore) RecordResolved(ctx context.Context, p *sponsorship.Proposal) error {
	return s.save(p)
}

// save stores a copy so later mutations of the live record do not leak
// into the projection.
func (s *MemoryProposalStore) save(p *sponsorship.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.rows[p.ID] = cloneProposal(p)
	return nil
}

func (s *MemoryProposalStore) Get(ctx context.Context, id uint64) (*sponsorship.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// List returns up to limit records in submission order. A non-positive
// limit returns everything.
func (s *MemoryProposalStore) List(ctx context.Context, limit int) ([]*sponsorship.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var proposals []*sponsorship.Proposal
	for _, id := range s.order {
		if limit > 0 && len(proposals) >= limit {
			break
		}
		proposals = append(proposals, cloneProposal(s.rows[id]))
	}
	return proposals, nil
}

func (s *MemoryProposalStore) ListByStatus(ctx context.Context, status sponsorship.Status, limit int) ([]*sponsorship.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var proposals []*sponsorship.Proposal
	for _, id := range s.order {
		if limit > 0 && len(proposals) >= limit {
			break
		}
		if p := s.rows[id]; p.Status == status {
			proposals = append(proposals, cloneProposal(p))
		}
	}
	return proposals, nil
}

func cloneProposal(p *sponsorship.Proposal) *sponsorship.Proposal {
	cp := *p
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
