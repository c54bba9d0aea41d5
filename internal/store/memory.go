package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/polybet/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[common.Address]*model.MarketSnapshot
	order   []common.Address
	log     []model.EventRecord
	ids     map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[common.Address]*model.MarketSnapshot),
		ids:     make(map[string]struct{}),
	}
}

func (s *MemoryStore) SaveMarket(_ context.Context, snap model.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[snap.Address]; !ok {
		s.order = append(s.order, snap.Address)
	}
	// Store a copy to avoid external mutation.
	s.markets[snap.Address] = &snap
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, addr common.Address) (*model.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, addr.Hex())
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, filter model.MarketFilter, page model.Page) ([]model.MarketSnapshot, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.MarketSnapshot
	for _, addr := range s.order {
		if m := s.markets[addr]; matches(filter, m) {
			matched = append(matched, *m)
		}
	}
	start, end := window(page, len(matched))
	return slices.Clone(matched[start:end]), len(matched), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, rec model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, rec.ID)
	}
	s.ids[rec.ID] = struct{}{}
	s.log = append(s.log, rec)
	return nil
}

func (s *MemoryStore) EventsByMarket(_ context.Context, market common.Address) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EventRecord
	for _, e := range s.log {
		if e.Market == market {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) EventsByAccount(_ context.Context, account common.Address) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EventRecord
	for _, e := range s.log {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}
