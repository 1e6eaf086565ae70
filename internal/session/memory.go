package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps the arena in process. One mutex serializes writes,
// which makes Replace trivially atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byHash map[string]string
	chains map[string][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*Session),
		byHash: make(map[string]string),
		chains: make(map[string][]string),
	}
}

func (m *MemoryRepository) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(s)
}

func (m *MemoryRepository) insert(s Session) error {
	if _, ok := m.byID[s.ID]; ok {
		return fmt.Errorf("session: duplicate id %s", s.ID)
	}
	if _, ok := m.byHash[s.TokenHash]; ok {
		return fmt.Errorf("session: duplicate token hash")
	}
	cp := s
	m.byID[s.ID] = &cp
	m.byHash[s.TokenHash] = s.ID
	m.chains[s.ChainID] = append(m.chains[s.ChainID], s.ID)
	return nil
}

func (m *MemoryRepository) ByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryRepository) ByHash(_ context.Context, tokenHash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[tokenHash]
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *MemoryRepository) Replace(ctx context.Context, parentID string, child Session, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	parent, ok := m.byID[parentID]
	if !ok {
		return ErrNotFound
	}
	if parent.ReplacedBy != "" || parent.RevokedAt != nil || !at.Before(parent.ExpiresAt) {
		return ErrConflict
	}
	if err := m.insert(child); err != nil {
		return err
	}
	ts := at
	parent.ReplacedBy = child.ID
	parent.ReplacedAt = &ts
	return nil
}

func (m *MemoryRepository) RevokeChain(_ context.Context, chainID string, fromGeneration int, rev Revocation, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.chains[chainID] {
		s := m.byID[id]
		if s.Generation < fromGeneration || s.RevokedAt != nil {
			continue
		}
		ts := at
		s.RevokedAt = &ts
		s.RevokeReason = rev.Reason
		s.RequestedBy = rev.RequestedBy
		n++
	}
	return n, nil
}

func (m *MemoryRepository) Chain(_ context.Context, chainID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.chains[chainID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m.byID[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

func (m *MemoryRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for chainID, ids := range m.chains {
		expired := true
		for _, id := range ids {
			if !m.byID[id].ExpiresAt.Before(cutoff) {
				expired = false
				break
			}
		}
		if !expired {
			continue
		}
		for _, id := range ids {
			delete(m.byHash, m.byID[id].TokenHash)
			delete(m.byID, id)
			n++
		}
		delete(m.chains, chainID)
	}
	return n, nil
}

func clone(s *Session) Session {
	out := *s
	if s.ReplacedAt != nil {
		t := *s.ReplacedAt
		out.ReplacedAt = &t
	}
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		out.RevokedAt = &t
	}
	return out
}
