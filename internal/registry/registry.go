// Package registry is the append-only directory of markets: one entry per
// market plus reverse indices by creator and by category. It holds no
// collateral. Only the linked factory may register markets.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/polybet/internal/events"
)

var (
	ErrOnlyOwner         = errors.New("registry: only owner")
	ErrOnlyFactory       = errors.New("registry: only factory")
	ErrOnlyCreator       = errors.New("registry: only creator")
	ErrFactoryAlreadySet = errors.New("registry: factory already set")
	ErrZeroAddress       = errors.New("registry: zero address")
	ErrAlreadyRegistered = errors.New("registry: market already registered")
	ErrMarketNotFound    = errors.New("registry: market not found")
	ErrInvalidPagination = errors.New("registry: invalid pagination")
)

// Entry is the directory record of one market.
type Entry struct {
	Market    common.Address `json:"market_address"`
	Creator   common.Address `json:"creator"`
	Question  string         `json:"question"`
	Category  string         `json:"category"`
	CreatedAt time.Time      `json:"created_at"`
	IsActive  bool           `json:"is_active"`
}

// Stats summarizes the registry.
type Stats struct {
	Address       common.Address `json:"address"`
	Factory       common.Address `json:"factory"`
	TotalMarkets  int            `json:"total_markets"`
	ActiveMarkets int            `json:"active_markets"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	addr       common.Address
	owner      common.Address
	factory    common.Address
	entries    []Entry
	index      map[common.Address]int
	byCreator  map[common.Address][]common.Address
	byCategory map[string][]common.Address
	pub        events.Publisher
}

// New creates an empty registry at addr administered by owner.
func New(addr, owner common.Address, pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Registry{
		addr:       addr,
		owner:      owner,
		index:      make(map[common.Address]int),
		byCreator:  make(map[common.Address][]common.Address),
		byCategory: make(map[string][]common.Address),
		pub:        pub,
	}
}

func (r *Registry) Address() common.Address { return r.addr }

// SetFactory links the factory allowed to register markets. It can be set
// once.
func (r *Registry) SetFactory(caller, factory common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrOnlyOwner
	}
	if factory == (common.Address{}) {
		return ErrZeroAddress
	}
	if r.factory != (common.Address{}) {
		return ErrFactoryAlreadySet
	}
	r.factory = factory
	return nil
}

// Register appends e. Entries are never removed.
func (r *Registry) Register(caller common.Address, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.factory == (common.Address{}) || caller != r.factory {
		return ErrOnlyFactory
	}
	if e.Market == (common.Address{}) || e.Creator == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := r.index[e.Market]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e.Market.Hex())
	}

	e.IsActive = true
	r.index[e.Market] = len(r.entries)
	r.entries = append(r.entries, e)
	r.byCreator[e.Creator] = append(r.byCreator[e.Creator], e.Market)
	r.byCategory[e.Category] = append(r.byCategory[e.Category], e.Market)
	return nil
}

// SetMarketActive toggles the listing flag of market. The factory relays
// the call for account, who must be the market's creator.
func (r *Registry) SetMarketActive(ctx context.Context, caller, account, market common.Address, active bool, now time.Time) error {
	r.mu.Lock()
	if caller != r.factory {
		r.mu.Unlock()
		return ErrOnlyFactory
	}
	i, ok := r.index[market]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMarketNotFound, market.Hex())
	}
	if r.entries[i].Creator != account {
		r.mu.Unlock()
		return ErrOnlyCreator
	}
	changed := r.entries[i].IsActive != active
	r.entries[i].IsActive = active
	r.mu.Unlock()

	if changed {
		r.pub.Publish(ctx, events.NewEnvelope(market, now, events.MarketActiveChanged{Market: market, IsActive: active}))
	}
	return nil
}

// GetMarketInfo returns the entry for market.
func (r *Registry) GetMarketInfo(market common.Address) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[market]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrMarketNotFound, market.Hex())
	}
	return r.entries[i], nil
}

// IsRegistered reports whether market has an entry.
func (r *Registry) IsRegistered(market common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[market]
	return ok
}

// GetAllMarkets returns every market address in registration order.
func (r *Registry) GetAllMarkets() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Market
	}
	return out
}

func (r *Registry) GetMarketsByCreator(creator common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byCreator[creator])
}

func (r *Registry) GetMarketsByCategory(category string) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byCategory[category])
}

// GetMarketsPaginated returns up to limit entries starting at offset, and
// the total number of entries. An offset past the end yields an empty page.
func (r *Registry) GetMarketsPaginated(offset, limit int) ([]Entry, int, error) {
	if offset < 0 || limit <= 0 {
		return nil, 0, ErrInvalidPagination
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.entries)
	if offset >= total {
		return []Entry{}, total, nil
	}
	end := min(offset+limit, total)
	return slices.Clone(r.entries[offset:end]), total, nil
}

// GetRegistryStats returns the linked factory and market counts.
func (r *Registry) GetRegistryStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, e := range r.entries {
		if e.IsActive {
			active++
		}
	}
	return Stats{
		Address:       r.addr,
		Factory:       r.factory,
		TotalMarkets:  len(r.entries),
		ActiveMarkets: active,
	}
}
