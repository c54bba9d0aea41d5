package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/market"
	"github.com/atmx/polybet/internal/model"
	"github.com/atmx/polybet/internal/registry"
	"github.com/atmx/polybet/internal/vault"
)

var (
	factoryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	registryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	owner        = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	oracle       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newFactory(t *testing.T, rec *events.Recorder) (*Factory, *registry.Registry) {
	t.Helper()
	// Avoid passing a typed-nil *Recorder as a non-nil events.Publisher.
	var pub events.Publisher
	if rec != nil {
		pub = rec
	}
	reg := registry.New(registryAddr, owner, pub)
	if err := reg.SetFactory(owner, factoryAddr); err != nil {
		t.Fatalf("SetFactory: %v", err)
	}
	f, err := New(factoryAddr, Config{Owner: owner, Oracle: oracle, FeeBps: 250}, reg, vault.New(), pub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, reg
}

func params() CreateParams {
	return CreateParams{
		Question:              "Will ETH close above 5000 this year?",
		Category:              CategoryCrypto,
		TokenUnitValue:        fixedpoint.MustParseUnits("0.01"),
		InitialYesProbability: 60,
		PercentageLocked:      10,
		Expiration:            t0.Add(30 * 24 * time.Hour),
	}
}

func seeded(from common.Address, v string) market.Tx {
	return market.Tx{From: from, Value: fixedpoint.MustParseUnits(v), Now: t0}
}

func TestNew_DefaultCategories(t *testing.T) {
	f, _ := newFactory(t, nil)
	got := f.Categories()
	if len(got) != 5 || got[0] != "crypto" || got[4] != "other" {
		t.Errorf("unexpected default categories %v", got)
	}
	info := f.GetFactoryInfo()
	if info.Owner != owner || info.Oracle != oracle || info.Registry != registryAddr || info.MarketCount != 0 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.MinDuration != DefaultMinDuration {
		t.Errorf("expected default min duration, got %s", info.MinDuration)
	}
}

func TestAddCategory(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	f, _ := newFactory(t, rec)

	if _, err := f.AddCategory(ctx, alice, "weather", t0); !errors.Is(err, ErrOnlyOwner) {
		t.Errorf("expected ErrOnlyOwner, got %v", err)
	}
	name, err := f.AddCategory(ctx, owner, "  Weather ", t0)
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if name != "weather" || !f.HasCategory("weather") {
		t.Errorf("expected normalized category weather, got %q", name)
	}
	if _, err := f.AddCategory(ctx, owner, "weather", t0); !errors.Is(err, ErrCategoryExists) {
		t.Errorf("expected ErrCategoryExists, got %v", err)
	}
	if _, err := f.AddCategory(ctx, owner, "no spaces allowed", t0); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}

	kinds := rec.Kinds()
	if len(kinds) != 1 || kinds[0] != events.KindCategoryAdded {
		t.Errorf("expected one CategoryAdded, got %v", kinds)
	}
}

func TestCreateMarket(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	f, reg := newFactory(t, rec)

	m, err := f.CreateMarket(ctx, seeded(alice, "0.1"), params())
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if want := crypto.CreateAddress(factoryAddr, 0); m.Address() != want {
		t.Errorf("expected derived address %s, got %s", want.Hex(), m.Address().Hex())
	}
	if m.Creator() != alice || m.Oracle() != oracle || m.FeeBps() != 250 {
		t.Errorf("unexpected market roles creator=%s oracle=%s", m.Creator().Hex(), m.Oracle().Hex())
	}
	if m.Status() != model.StatusActive || !m.Collateral().Eq(fixedpoint.MustParseUnits("0.1")) {
		t.Errorf("unexpected initial state %s %s", m.Status(), m.Collateral().Dec())
	}

	second, err := f.CreateMarket(ctx, seeded(bob, "0.2"), params())
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if second.Address() != crypto.CreateAddress(factoryAddr, 1) {
		t.Error("second market should use the next nonce")
	}

	got, err := f.Market(m.Address())
	if err != nil || got != m {
		t.Errorf("Market lookup failed: %v", err)
	}
	if len(f.Markets()) != 2 || f.GetFactoryInfo().MarketCount != 2 {
		t.Error("expected two markets")
	}
	if e, err := reg.GetMarketInfo(m.Address()); err != nil || e.Creator != alice || e.Category != CategoryCrypto {
		t.Errorf("market not registered: %+v %v", e, err)
	}

	var created int
	for _, env := range rec.Envelopes() {
		if env.Kind == events.KindMarketCreated {
			created++
			if ev := env.Payload.(events.MarketCreated); env.Source != ev.Market {
				t.Errorf("MarketCreated should be sourced from the market, got %s", env.Source.Hex())
			}
		}
	}
	if created != 2 {
		t.Errorf("expected 2 MarketCreated events, got %d", created)
	}
}

func TestCreateMarket_Rejections(t *testing.T) {
	ctx := context.Background()
	f, reg := newFactory(t, nil)

	tests := []struct {
		name   string
		mutate func(*CreateParams)
		tx     market.Tx
		want   error
	}{
		{"unknown category", func(p *CreateParams) { p.Category = "weather" }, seeded(alice, "0.1"), ErrUnknownCategory},
		{"past expiration", func(p *CreateParams) { p.Expiration = t0.Add(-time.Hour) }, seeded(alice, "0.1"), market.ErrExpirationTooSoon},
		{"too short", func(p *CreateParams) { p.Expiration = t0.Add(23 * time.Hour) }, seeded(alice, "0.1"), ErrDurationTooShort},
		{"empty question", func(p *CreateParams) { p.Question = "" }, seeded(alice, "0.1"), market.ErrEmptyQuestion},
		{"bad probability", func(p *CreateParams) { p.InitialYesProbability = 0 }, seeded(alice, "0.1"), market.ErrInvalidProbability},
		{"bad locked", func(p *CreateParams) { p.PercentageLocked = 100 }, seeded(alice, "0.1"), market.ErrInvalidPercentageLocked},
		{"no seed", func(p *CreateParams) {}, market.Tx{From: alice, Now: t0}, market.ErrZeroAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.mutate(&p)
			if _, err := f.CreateMarket(ctx, tt.tx, p); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if len(f.Markets()) != 0 || len(reg.GetAllMarkets()) != 0 {
		t.Error("rejected creations must not deploy or register")
	}
	// Failed creations do not consume a nonce.
	m, err := f.CreateMarket(ctx, seeded(alice, "0.1"), params())
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if m.Address() != crypto.CreateAddress(factoryAddr, 0) {
		t.Error("expected nonce 0 after failed attempts")
	}
}

func TestCreateMarket_UnlinkedRegistry(t *testing.T) {
	reg := registry.New(registryAddr, owner, nil)
	f, err := New(factoryAddr, Config{Owner: owner, Oracle: oracle, FeeBps: 250}, reg, vault.New(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.CreateMarket(context.Background(), seeded(alice, "0.1"), params()); !errors.Is(err, registry.ErrOnlyFactory) {
		t.Errorf("expected registry.ErrOnlyFactory, got %v", err)
	}
}

func TestSetMarketActive(t *testing.T) {
	ctx := context.Background()
	f, reg := newFactory(t, nil)
	m, _ := f.CreateMarket(ctx, seeded(alice, "0.1"), params())

	if err := f.SetMarketActive(ctx, bob, m.Address(), false, t0); !errors.Is(err, registry.ErrOnlyCreator) {
		t.Errorf("expected ErrOnlyCreator, got %v", err)
	}
	if err := f.SetMarketActive(ctx, alice, m.Address(), false, t0); err != nil {
		t.Fatalf("SetMarketActive: %v", err)
	}
	if reg.GetRegistryStats().ActiveMarkets != 0 {
		t.Error("market should be inactive")
	}
}

func TestParseRequest(t *testing.T) {
	req := CreateRequest{
		Question:              "  Will it snow?  ",
		Category:              "Other",
		TokenUnitValue:        "0.01",
		InitialYesProbability: 35,
		PercentageLocked:      20,
		Expiration:            t0.Add(48 * time.Hour),
		InitialLiquidity:      "1.5",
	}
	p, seed, err := ParseRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Question != "Will it snow?" || p.Category != "other" {
		t.Errorf("unexpected params %+v", p)
	}
	if !p.TokenUnitValue.Eq(uint256.NewInt(10_000_000_000_000_000)) {
		t.Errorf("expected 1e16 unit value, got %s", p.TokenUnitValue.Dec())
	}
	if !seed.Eq(fixedpoint.MustParseUnits("1.5")) {
		t.Errorf("expected seed 1.5, got %s", seed.Dec())
	}
	if p.InitialYesProbability != 35 || p.PercentageLocked != 20 {
		t.Errorf("unexpected percentages %d/%d", p.InitialYesProbability, p.PercentageLocked)
	}
}

func TestParseRequest_Invalid(t *testing.T) {
	base := CreateRequest{
		Question:              "Q?",
		Category:              "other",
		TokenUnitValue:        "0.01",
		InitialYesProbability: 50,
		PercentageLocked:      10,
		InitialLiquidity:      "1",
	}
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"bad category", func(r *CreateRequest) { r.Category = "x" }, ErrInvalidCategory},
		{"not a number", func(r *CreateRequest) { r.TokenUnitValue = "abc" }, ErrInvalidRequest},
		{"negative seed", func(r *CreateRequest) { r.InitialLiquidity = "-1" }, ErrInvalidRequest},
		{"too precise", func(r *CreateRequest) { r.InitialLiquidity = "0.0000000000000000001" }, ErrInvalidRequest},
		{"probability overflow", func(r *CreateRequest) { r.InitialYesProbability = 300 }, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			if _, _, err := ParseRequest(r); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
