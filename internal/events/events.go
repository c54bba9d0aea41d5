// Package events defines the notifications the market engine emits for the
// external metadata cache, and the Publisher interface that delivers them.
//
// The engine calls Publish synchronously once a state change has committed.
// Delivery, retry and persistence are the publisher's concern: Publish has no
// error return and must not call back into the engine.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/atmx/polybet/internal/model"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindMarketCreated             Kind = "MarketCreated"
	KindCategoryAdded             Kind = "CategoryAdded"
	KindMarketActiveChanged       Kind = "MarketActiveChanged"
	KindLiquidityAdded            Kind = "LiquidityAdded"
	KindLiquidityRemoved          Kind = "LiquidityRemoved"
	KindLPRevenueClaimed          Kind = "LPRevenueClaimed"
	KindTokensPurchased           Kind = "TokensPurchased"
	KindTokensSold                Kind = "TokensSold"
	KindTransfer                  Kind = "Transfer"
	KindMarketReported            Kind = "MarketReported"
	KindMarketResolved            Kind = "MarketResolved"
	KindWinningTokensRedeemed     Kind = "WinningTokensRedeemed"
	KindSettledLiquidityWithdrawn Kind = "SettledLiquidityWithdrawn"
)

// Event is implemented by every payload type.
type Event interface {
	Kind() Kind
}

// Accounted is implemented by events that concern a single account, so the
// store can index them for per-user history.
type Accounted interface {
	Account() common.Address
}

// Amounts are base-unit decimal strings (18 decimals), matching the ledger.

type MarketCreated struct {
	Market            common.Address `json:"market_address"`
	Creator           common.Address `json:"creator"`
	Question          string         `json:"question"`
	Category          string         `json:"category"`
	InitialLiquidity  string         `json:"initial_liquidity"`
	CreationTimestamp time.Time      `json:"creation_timestamp"`
}

type CategoryAdded struct {
	Name string `json:"name"`
}

type MarketActiveChanged struct {
	Market   common.Address `json:"market_address"`
	IsActive bool           `json:"is_active"`
}

type LiquidityAdded struct {
	Provider common.Address `json:"provider"`
	Amount   string         `json:"amount"`
}

type LiquidityRemoved struct {
	Provider common.Address `json:"provider"`
	Amount   string         `json:"amount"`
}

type LPRevenueClaimed struct {
	Provider common.Address `json:"provider"`
	Amount   string         `json:"amount"`
}

type TokensPurchased struct {
	Buyer          common.Address `json:"buyer"`
	Outcome        model.Outcome  `json:"outcome"`
	TokenAmount    string         `json:"token_amount"`
	CollateralPaid string         `json:"collateral_paid"`
}

type TokensSold struct {
	Seller             common.Address `json:"seller"`
	Outcome            model.Outcome  `json:"outcome"`
	TokenAmount        string         `json:"token_amount"`
	CollateralReceived string         `json:"collateral_received"`
}

// Transfer mirrors an outcome-token ledger movement. Mints have a zero From,
// burns a zero To.
type Transfer struct {
	Token  model.Outcome  `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

type MarketReported struct {
	Outcome model.Outcome `json:"outcome"`
}

type MarketResolved struct {
	Payout string `json:"payout"`
}

type WinningTokensRedeemed struct {
	Redeemer common.Address `json:"redeemer"`
	Amount   string         `json:"amount"`
	Payout   string         `json:"payout"`
}

type SettledLiquidityWithdrawn struct {
	Provider common.Address `json:"provider"`
	Amount   string         `json:"amount"`
}

func (MarketCreated) Kind() Kind             { return KindMarketCreated }
func (CategoryAdded) Kind() Kind             { return KindCategoryAdded }
func (MarketActiveChanged) Kind() Kind       { return KindMarketActiveChanged }
func (LiquidityAdded) Kind() Kind            { return KindLiquidityAdded }
func (LiquidityRemoved) Kind() Kind          { return KindLiquidityRemoved }
func (LPRevenueClaimed) Kind() Kind          { return KindLPRevenueClaimed }
func (TokensPurchased) Kind() Kind           { return KindTokensPurchased }
func (TokensSold) Kind() Kind                { return KindTokensSold }
func (Transfer) Kind() Kind                  { return KindTransfer }
func (MarketReported) Kind() Kind            { return KindMarketReported }
func (MarketResolved) Kind() Kind            { return KindMarketResolved }
func (WinningTokensRedeemed) Kind() Kind     { return KindWinningTokensRedeemed }
func (SettledLiquidityWithdrawn) Kind() Kind { return KindSettledLiquidityWithdrawn }

func (e MarketCreated) Account() common.Address             { return e.Creator }
func (e LiquidityAdded) Account() common.Address            { return e.Provider }
func (e LiquidityRemoved) Account() common.Address          { return e.Provider }
func (e LPRevenueClaimed) Account() common.Address          { return e.Provider }
func (e TokensPurchased) Account() common.Address           { return e.Buyer }
func (e TokensSold) Account() common.Address                { return e.Seller }
func (e WinningTokensRedeemed) Account() common.Address     { return e.Redeemer }
func (e SettledLiquidityWithdrawn) Account() common.Address { return e.Provider }

// Envelope carries one event with its origin and a unique id.
type Envelope struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Source    common.Address `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   Event          `json:"payload"`
}

// NewEnvelope wraps ev emitted by source at ts.
func NewEnvelope(source common.Address, ts time.Time, ev Event) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		Kind:      ev.Kind(),
		Source:    source,
		Timestamp: ts.UTC(),
		Payload:   ev,
	}
}

// Record converts the envelope into an immutable event-log entry.
func (e Envelope) Record() (model.EventRecord, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return model.EventRecord{}, err
	}
	rec := model.EventRecord{
		ID:        e.ID,
		Market:    e.Source,
		Kind:      string(e.Kind),
		Payload:   payload,
		Timestamp: e.Timestamp,
	}
	if a, ok := e.Payload.(Accounted); ok {
		rec.Account = a.Account()
	}
	return rec, nil
}

// Publisher delivers committed events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, envs ...Envelope)
}

// Multi fans out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, envs ...Envelope) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, envs...)
		}
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, ...Envelope) {}

// Recorder keeps every published envelope in memory. Used in tests and as a
// short in-process history.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *Recorder) Publish(_ context.Context, envs ...Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, envs...)
}

// Envelopes returns a copy of everything recorded so far.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.envs))
	for _, e := range r.envs {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = nil
}
