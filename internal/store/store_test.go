package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/model"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func marketAt(i int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0x1000+i))
}

func snapshot(i int, creator common.Address, category, status string) model.MarketSnapshot {
	return model.MarketSnapshot{
		Address:               marketAt(i),
		Creator:               creator,
		Oracle:                bob,
		Question:              fmt.Sprintf("Question %d?", i),
		Category:              category,
		TokenUnitValue:        decimal.RequireFromString("0.01"),
		InitialYesProbability: 60,
		PercentageLocked:      10,
		YesReserve:            decimal.RequireFromString("4"),
		NoReserve:             decimal.RequireFromString("6"),
		Collateral:            decimal.RequireFromString("0.1"),
		PriceYes:              decimal.RequireFromString("0.6"),
		PriceNo:               decimal.RequireFromString("0.4"),
		Status:                status,
		IsActive:              true,
		Expiration:            t0.Add(48 * time.Hour),
		CreatedAt:             t0.Add(time.Duration(i) * time.Minute),
		UpdatedAt:             t0.Add(time.Duration(i) * time.Minute),
	}
}

func record(id string, market, account common.Address, kind events.Kind) model.EventRecord {
	return model.EventRecord{
		ID:        id,
		Market:    market,
		Kind:      string(kind),
		Account:   account,
		Payload:   []byte(`{}`),
		Timestamp: t0,
	}
}

// exerciseStore runs the shared contract every implementation must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	seeds := []model.MarketSnapshot{
		snapshot(0, alice, "crypto", "active"),
		snapshot(1, bob, "sports", "active"),
		snapshot(2, alice, "sports", "resolved"),
	}
	for _, snap := range seeds {
		if err := s.SaveMarket(ctx, snap); err != nil {
			t.Fatalf("SaveMarket: %v", err)
		}
	}

	// Upsert keeps creation order and replaces state.
	updated := seeds[0]
	updated.Status = "reported"
	updated.YesReserve = decimal.RequireFromString("3.5")
	if err := s.SaveMarket(ctx, updated); err != nil {
		t.Fatalf("SaveMarket update: %v", err)
	}
	got, err := s.GetMarket(ctx, marketAt(0))
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Status != "reported" || !got.YesReserve.Equal(decimal.RequireFromString("3.5")) || got.Creator != alice {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if _, err := s.GetMarket(ctx, marketAt(9)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		name   string
		filter model.MarketFilter
		page   model.Page
		want   []common.Address
		total  int
	}{
		{"all", model.MarketFilter{}, model.Page{}, []common.Address{marketAt(0), marketAt(1), marketAt(2)}, 3},
		{"category", model.MarketFilter{Category: "sports"}, model.Page{}, []common.Address{marketAt(1), marketAt(2)}, 2},
		{"creator", model.MarketFilter{Creator: alice}, model.Page{}, []common.Address{marketAt(0), marketAt(2)}, 2},
		{"status", model.MarketFilter{Status: "resolved"}, model.Page{}, []common.Address{marketAt(2)}, 1},
		{"paged", model.MarketFilter{}, model.Page{Offset: 1, Limit: 1}, []common.Address{marketAt(1)}, 3},
		{"past end", model.MarketFilter{}, model.Page{Offset: 5, Limit: 2}, nil, 3},
	}
	for _, tt := range tests {
		list, total, err := s.ListMarkets(ctx, tt.filter, tt.page)
		if err != nil {
			t.Fatalf("%s: ListMarkets: %v", tt.name, err)
		}
		if total != tt.total || len(list) != len(tt.want) {
			t.Errorf("%s: got %d of %d, want %d of %d", tt.name, len(list), total, len(tt.want), tt.total)
			continue
		}
		for i, addr := range tt.want {
			if list[i].Address != addr {
				t.Errorf("%s: entry %d is %s, want %s", tt.name, i, list[i].Address.Hex(), addr.Hex())
			}
		}
	}

	recs := []model.EventRecord{
		record("e1", marketAt(0), alice, events.KindTokensPurchased),
		record("e2", marketAt(0), common.Address{}, events.KindMarketReported),
		record("e3", marketAt(1), alice, events.KindLiquidityAdded),
	}
	for _, r := range recs {
		if err := s.AppendEvent(ctx, r); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := s.AppendEvent(ctx, recs[0]); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}

	byMarket, err := s.EventsByMarket(ctx, marketAt(0))
	if err != nil {
		t.Fatalf("EventsByMarket: %v", err)
	}
	if len(byMarket) != 2 {
		t.Errorf("expected 2 market events, got %d", len(byMarket))
	}
	byAccount, err := s.EventsByAccount(ctx, alice)
	if err != nil {
		t.Fatalf("EventsByAccount: %v", err)
	}
	if len(byAccount) != 2 {
		t.Errorf("expected 2 account events, got %d", len(byAccount))
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedStore(t *testing.T) {
	exerciseStore(t, NewCachedStore(NewMemoryStore(), newRedis(t), time.Minute))
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	cached := NewCachedStore(primary, newRedis(t), time.Minute)

	if err := cached.SaveMarket(ctx, snapshot(0, alice, "crypto", "active")); err != nil {
		t.Fatalf("SaveMarket: %v", err)
	}
	// Writing behind the cache's back is invisible until the next save.
	_ = primary.SaveMarket(ctx, snapshot(0, alice, "crypto", "resolved"))
	got, err := cached.GetMarket(ctx, marketAt(0))
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.Status != "active" {
		t.Errorf("expected cached status active, got %s", got.Status)
	}
	if !got.PriceYes.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("decimal lost in cache round trip: %s", got.PriceYes)
	}

	// History is cached and invalidated by appends.
	_ = cached.AppendEvent(ctx, record("e1", marketAt(0), alice, events.KindTokensPurchased))
	if h, _ := cached.EventsByAccount(ctx, alice); len(h) != 1 {
		t.Fatalf("expected 1 event, got %d", len(h))
	}
	_ = cached.AppendEvent(ctx, record("e2", marketAt(0), alice, events.KindTokensSold))
	if h, _ := cached.EventsByAccount(ctx, alice); len(h) != 2 {
		t.Errorf("expected cache invalidation, got %d events", len(h))
	}
}

func TestProjector(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := NewProjector(s, nil)

	buy := events.NewEnvelope(marketAt(0), t0, events.TokensPurchased{Buyer: alice, Outcome: model.Yes, TokenAmount: "1", CollateralPaid: "0.6"})
	report := events.NewEnvelope(marketAt(0), t0, events.MarketReported{Outcome: model.No})
	p.Publish(ctx, buy, report)
	// Replays are ignored.
	p.Publish(ctx, buy)

	byMarket, _ := s.EventsByMarket(ctx, marketAt(0))
	if len(byMarket) != 2 {
		t.Fatalf("expected 2 events, got %d", len(byMarket))
	}
	if byMarket[0].Kind != string(events.KindTokensPurchased) || byMarket[0].Account != alice {
		t.Errorf("unexpected record %+v", byMarket[0])
	}
	if byMarket[1].Account != (common.Address{}) {
		t.Error("market-level events carry no account")
	}
}

// TestPostgresStore runs only when DATABASE_URL points at a scratch database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE markets, market_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, s)
}
