// Package factory validates market creation requests, deploys markets at
// derived addresses, registers them and keeps the global category list.
package factory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/market"
	"github.com/atmx/polybet/internal/registry"
)

var (
	ErrOnlyOwner        = errors.New("factory: only owner")
	ErrCategoryExists   = errors.New("factory: category already exists")
	ErrUnknownCategory  = errors.New("factory: unknown category")
	ErrDurationTooShort = errors.New("factory: market duration too short")
	ErrMarketNotFound   = errors.New("factory: market not found")
)

// Config holds the platform-wide settings of a factory.
type Config struct {
	Owner       common.Address
	Oracle      common.Address
	FeeBps      uint64
	MinDuration time.Duration
	Categories  []string // nil means DefaultCategories
}

// Info is the public summary of a factory.
type Info struct {
	Address     common.Address `json:"address"`
	Owner       common.Address `json:"owner"`
	Oracle      common.Address `json:"oracle"`
	Registry    common.Address `json:"registry"`
	FeeBps      uint64         `json:"fee_bps"`
	MinDuration time.Duration  `json:"min_duration"`
	MarketCount int            `json:"market_count"`
}

// Factory owns every market it creates. Safe for concurrent use, but the
// markets it returns are not: callers serialize access to them.
type Factory struct {
	mu          sync.RWMutex
	addr        common.Address
	owner       common.Address
	oracle      common.Address
	feeBps      uint64
	minDuration time.Duration
	nonce       uint64

	categories []string
	markets    map[common.Address]*market.Market
	order      []common.Address

	registry *registry.Registry
	treasury market.Treasury
	pub      events.Publisher
}

// New creates a factory at addr. The registry must be linked to addr with
// SetFactory before markets can be created.
func New(addr common.Address, cfg Config, reg *registry.Registry, treasury market.Treasury, pub events.Publisher) (*Factory, error) {
	if addr == (common.Address{}) || cfg.Owner == (common.Address{}) || cfg.Oracle == (common.Address{}) {
		return nil, market.ErrZeroAddress
	}
	if reg == nil || treasury == nil {
		return nil, errors.New("factory: registry and treasury are required")
	}
	if _, err := amm.NewCurve(cfg.FeeBps); err != nil {
		return nil, err
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if pub == nil {
		pub = events.Discard{}
	}

	names := cfg.Categories
	if names == nil {
		names = DefaultCategories
	}
	categories := make([]string, 0, len(names))
	for _, name := range names {
		n, err := NormalizeCategory(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(categories, n) {
			categories = append(categories, n)
		}
	}

	return &Factory{
		addr:        addr,
		owner:       cfg.Owner,
		oracle:      cfg.Oracle,
		feeBps:      cfg.FeeBps,
		minDuration: cfg.MinDuration,
		categories:  categories,
		markets:     make(map[common.Address]*market.Market),
		registry:    reg,
		treasury:    treasury,
		pub:         pub,
	}, nil
}

func (f *Factory) Address() common.Address { return f.addr }

// AddCategory appends a new category. Owner only.
func (f *Factory) AddCategory(ctx context.Context, caller common.Address, name string, now time.Time) (string, error) {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return "", ErrOnlyOwner
	}
	n, err := NormalizeCategory(name)
	if err != nil {
		f.mu.Unlock()
		return "", err
	}
	if slices.Contains(f.categories, n) {
		f.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrCategoryExists, n)
	}
	f.categories = append(f.categories, n)
	f.mu.Unlock()

	f.pub.Publish(ctx, events.NewEnvelope(f.addr, now, events.CategoryAdded{Name: n}))
	return n, nil
}

// Categories returns the category list in creation order.
func (f *Factory) Categories() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.categories)
}

// HasCategory reports whether name is a known category.
func (f *Factory) HasCategory(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Contains(f.categories, name)
}

// CreateMarket deploys a market seeded with the attached value. tx.From
// becomes the creator; the factory's oracle reports the outcome.
func (f *Factory) CreateMarket(ctx context.Context, tx market.Tx, p CreateParams) (*market.Market, error) {
	now := tx.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	seed := new(uint256.Int)
	if tx.Value != nil {
		seed.Set(tx.Value)
	}

	f.mu.Lock()
	if !slices.Contains(f.categories, p.Category) {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, p.Category)
	}
	if !p.Expiration.After(now) {
		f.mu.Unlock()
		return nil, market.ErrExpirationTooSoon
	}
	if p.Expiration.Sub(now) < f.minDuration {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: minimum is %s", ErrDurationTooShort, f.minDuration)
	}

	addr := crypto.CreateAddress(f.addr, f.nonce)
	m, err := market.New(market.Params{
		Address:               addr,
		Creator:               tx.From,
		Oracle:                f.oracle,
		Question:              p.Question,
		Category:              p.Category,
		TokenUnitValue:        p.TokenUnitValue,
		InitialYesProbability: p.InitialYesProbability,
		PercentageLocked:      p.PercentageLocked,
		Expiration:            p.Expiration,
		FeeBps:                f.feeBps,
	}, seed, now, f.treasury, f.pub)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	err = f.registry.Register(f.addr, registry.Entry{
		Market:    addr,
		Creator:   tx.From,
		Question:  m.Question(),
		Category:  p.Category,
		CreatedAt: now,
	})
	if err != nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("factory: register %s: %w", addr.Hex(), err)
	}
	f.nonce++
	f.markets[addr] = m
	f.order = append(f.order, addr)
	f.mu.Unlock()

	f.pub.Publish(ctx, events.NewEnvelope(addr, now, events.MarketCreated{
		Market:            addr,
		Creator:           tx.From,
		Question:          m.Question(),
		Category:          p.Category,
		InitialLiquidity:  seed.Dec(),
		CreationTimestamp: now,
	}))
	return m, nil
}

// Market returns the market deployed at addr.
func (f *Factory) Market(addr common.Address) (*market.Market, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	return m, nil
}

// Markets returns every market in creation order.
func (f *Factory) Markets() []*market.Market {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*market.Market, len(f.order))
	for i, addr := range f.order {
		out[i] = f.markets[addr]
	}
	return out
}

// SetMarketActive relays a listing toggle from caller to the registry.
func (f *Factory) SetMarketActive(ctx context.Context, caller, addr common.Address, active bool, now time.Time) error {
	return f.registry.SetMarketActive(ctx, f.addr, caller, addr, active, now)
}

// GetFactoryInfo summarizes the factory.
func (f *Factory) GetFactoryInfo() Info {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Info{
		Address:     f.addr,
		Owner:       f.owner,
		Oracle:      f.oracle,
		Registry:    f.registry.Address(),
		FeeBps:      f.feeBps,
		MinDuration: f.minDuration,
		MarketCount: len(f.order),
	}
}
