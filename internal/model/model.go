// Package model defines the domain types shared across the market engine,
// the read-model store and the HTTP layer.
// Read-model amounts use shopspring/decimal in whole units, never float64 for money.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Outcome identifies one side of a binary market.
type Outcome uint8

const (
	Yes Outcome = iota
	No
)

func (o Outcome) String() string {
	switch o {
	case Yes:
		return "YES"
	case No:
		return "NO"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Valid reports whether o is YES or NO.
func (o Outcome) Valid() bool {
	return o == Yes || o == No
}

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == Yes {
		return No
	}
	return Yes
}

// ParseOutcome accepts "YES"/"NO" in any case, or "0"/"1".
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "0":
		return Yes, nil
	case "NO", "1":
		return No, nil
	}
	return 0, fmt.Errorf("model: invalid outcome %q (expected YES or NO)", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("model: invalid outcome %d", uint8(o))
	}
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	parsed, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Status is the stored lifecycle state of a market. Expiry is not a stored
// state: an Active market past its expiration time is reported as expired by
// the status views but keeps Status == Active until the oracle reports.
type Status uint8

const (
	StatusActive Status = iota
	StatusReported
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReported:
		return "reported"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Phase returns the externally visible phase, folding the derived expiry
// condition into the stored status.
func (s Status) Phase(expired bool) string {
	if s == StatusActive && expired {
		return "expired"
	}
	return s.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusView is the read-only answer to "can this market trade right now".
type StatusView struct {
	Status        Status        `json:"status"`
	Phase         string        `json:"phase"`
	IsExpired     bool          `json:"is_expired"`
	TimeRemaining time.Duration `json:"time_remaining"`
	CanTrade      bool          `json:"can_trade"`
}

// MarketSnapshot is the read-optimized copy of a market kept by the external
// cache. It is rebuilt from the engine after every committed change.
type MarketSnapshot struct {
	Address               common.Address  `json:"address" db:"address"`
	Creator               common.Address  `json:"creator" db:"creator"`
	Oracle                common.Address  `json:"oracle" db:"oracle"`
	Question              string          `json:"question" db:"question"`
	Category              string          `json:"category" db:"category"`
	TokenUnitValue        decimal.Decimal `json:"token_unit_value" db:"token_unit_value"`
	InitialYesProbability uint8           `json:"initial_yes_probability" db:"initial_yes_probability"`
	PercentageLocked      uint8           `json:"percentage_locked" db:"percentage_locked"`
	YesReserve            decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve             decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	YesSupply             decimal.Decimal `json:"yes_supply" db:"yes_supply"`
	NoSupply              decimal.Decimal `json:"no_supply" db:"no_supply"`
	Collateral            decimal.Decimal `json:"collateral" db:"collateral"`
	LPRevenue             decimal.Decimal `json:"lp_revenue" db:"lp_revenue"`
	TotalLiquidity        decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	PriceYes              decimal.Decimal `json:"price_yes" db:"price_yes"` // implied probability
	PriceNo               decimal.Decimal `json:"price_no" db:"price_no"`
	Status                string          `json:"status" db:"status"` // phase, incl. "expired"
	WinningOutcome        *Outcome        `json:"winning_outcome,omitempty" db:"winning_outcome"`
	IsActive              bool            `json:"is_active" db:"is_active"`
	Expiration            time.Time       `json:"expiration" db:"expiration"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// EventRecord is an immutable entry in the event log mirrored to the
// read-model store. Once written it is never modified or deleted.
type EventRecord struct {
	ID        string          `json:"id" db:"id"`
	Market    common.Address  `json:"market" db:"market"`
	Kind      string          `json:"kind" db:"kind"`
	Account   common.Address  `json:"account" db:"account"` // zero for market-level events
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// MarketFilter narrows market listings. Zero values match everything.
type MarketFilter struct {
	Category string
	Creator  common.Address
	Status   string
}

// Page is an offset/limit window over a listing.
type Page struct {
	Offset int
	Limit  int
}

// Position is one account's holdings and liquidity in one market.
type Position struct {
	Account        common.Address  `json:"account"`
	Market         common.Address  `json:"market"`
	Yes            decimal.Decimal `json:"yes"`
	No             decimal.Decimal `json:"no"`
	Contribution   decimal.Decimal `json:"contribution"`
	PendingRevenue decimal.Decimal `json:"pending_revenue"`
}
