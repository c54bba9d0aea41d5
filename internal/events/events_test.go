package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/polybet/internal/model"
)

var (
	market = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func TestEnvelope_Record(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := NewEnvelope(market, ts, TokensPurchased{
		Buyer:          buyer,
		Outcome:        model.Yes,
		TokenAmount:    "1000",
		CollateralPaid: "6",
	})

	if env.ID == "" {
		t.Fatal("expected envelope id")
	}
	if env.Kind != KindTokensPurchased {
		t.Errorf("expected kind %s, got %s", KindTokensPurchased, env.Kind)
	}

	rec, err := env.Record()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Account != buyer {
		t.Errorf("expected account %s, got %s", buyer.Hex(), rec.Account.Hex())
	}
	if rec.Market != market {
		t.Errorf("expected market %s, got %s", market.Hex(), rec.Market.Hex())
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["outcome"] != "YES" {
		t.Errorf("expected outcome YES in payload, got %v", payload["outcome"])
	}
}

func TestEnvelope_RecordMarketLevelEvent(t *testing.T) {
	env := NewEnvelope(market, time.Now(), MarketReported{Outcome: model.No})
	rec, err := env.Record()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Account != (common.Address{}) {
		t.Errorf("market-level event should have zero account, got %s", rec.Account.Hex())
	}
}

func TestMulti_FansOut(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Publish(context.Background(),
		NewEnvelope(market, time.Now(), CategoryAdded{Name: "weather"}),
		NewEnvelope(market, time.Now(), MarketResolved{Payout: "1"}),
	)

	for _, r := range []*Recorder{&a, &b} {
		kinds := r.Kinds()
		if len(kinds) != 2 || kinds[0] != KindCategoryAdded || kinds[1] != KindMarketResolved {
			t.Errorf("unexpected kinds %v", kinds)
		}
	}

	a.Reset()
	if len(a.Envelopes()) != 0 {
		t.Error("expected recorder to be empty after reset")
	}
}

func TestRedisPublisher_StreamAndChannel(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "polybet:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewRedisPublisher(rdb, "polybet:events", "polybet:stream")
	pub.Publish(ctx, NewEnvelope(market, time.Now(), LiquidityAdded{Provider: buyer, Amount: "50"}))

	n, err := rdb.XLen(ctx, "polybet:stream").Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stream entry, got %d", n)
	}

	select {
	case msg := <-sub.Channel():
		var env struct {
			Kind Kind `json:"kind"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		if env.Kind != KindLiquidityAdded {
			t.Errorf("expected %s, got %s", KindLiquidityAdded, env.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
	}
}

func TestRedisPublisher_SkipsUnconfiguredHalf(t *testing.T) {
	tests := []struct {
		name       string
		channel    string
		stream     string
		wantStream bool
	}{
		{"channel only", "polybet:events", "", false},
		{"stream only", "", "polybet:stream", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			defer s.Close()
			rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
			defer rdb.Close()

			ctx := context.Background()
			if err := rdb.Ping(ctx).Err(); err != nil {
				t.Fatalf("ping: %v", err)
			}
			before := s.CommandCount()
			pub := NewRedisPublisher(rdb, tt.channel, tt.stream)
			pub.Publish(ctx, NewEnvelope(market, time.Now(), LiquidityAdded{Provider: buyer, Amount: "50"}))

			// One command per envelope: either XADD or PUBLISH, never both.
			if n := s.CommandCount() - before; n != 1 {
				t.Errorf("expected 1 redis command, got %d", n)
			}
			keys := s.Keys()
			if tt.wantStream && (len(keys) != 1 || keys[0] != tt.stream) {
				t.Errorf("expected only stream %q, got keys %v", tt.stream, keys)
			}
			if !tt.wantStream && len(keys) != 0 {
				t.Errorf("no stream configured, got keys %v", keys)
			}
		})
	}
}
