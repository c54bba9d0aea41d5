package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/polybet/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveMarket(ctx context.Context, snap model.MarketSnapshot) error {
	if err := s.primary.SaveMarket(ctx, snap); err != nil {
		return err
	}
	s.cacheMarket(ctx, &snap)
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, rec model.EventRecord) error {
	if err := s.primary.AppendEvent(ctx, rec); err != nil {
		return err
	}
	// Invalidate history caches touched by this record.
	keys := []string{historyKey("market", rec.Market)}
	if rec.Account != (common.Address{}) {
		keys = append(keys, historyKey("account", rec.Account))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, addr common.Address) (*model.MarketSnapshot, error) {
	data, err := s.rdb.Get(ctx, marketKey(addr)).Bytes()
	if err == nil {
		var m model.MarketSnapshot
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) EventsByMarket(ctx context.Context, market common.Address) ([]model.EventRecord, error) {
	return s.cachedHistory(ctx, historyKey("market", market), func() ([]model.EventRecord, error) {
		return s.primary.EventsByMarket(ctx, market)
	})
}

func (s *CachedStore) EventsByAccount(ctx context.Context, account common.Address) ([]model.EventRecord, error) {
	return s.cachedHistory(ctx, historyKey("account", account), func() ([]model.EventRecord, error) {
		return s.primary.EventsByAccount(ctx, account)
	})
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, filter model.MarketFilter, page model.Page) ([]model.MarketSnapshot, int, error) {
	return s.primary.ListMarkets(ctx, filter, page)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.MarketSnapshot) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.Address), data, s.ttl)
	}
}

func (s *CachedStore) cachedHistory(ctx context.Context, key string, load func() ([]model.EventRecord, error)) ([]model.EventRecord, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.EventRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

func marketKey(addr common.Address) string {
	return fmt.Sprintf("polybet:market:%s", strings.ToLower(addr.Hex()))
}

func historyKey(scope string, addr common.Address) string {
	return fmt.Sprintf("polybet:history:%s:%s", scope, strings.ToLower(addr.Hex()))
}
