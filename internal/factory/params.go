package factory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/polybet/internal/fixedpoint"
)

// Default categories every factory starts with.
const (
	CategoryCrypto   = "crypto"
	CategorySports   = "sports"
	CategoryPolitics = "politics"
	CategoryTech     = "tech"
	CategoryOther    = "other"
)

// DefaultCategories in listing order.
var DefaultCategories = []string{
	CategoryCrypto,
	CategorySports,
	CategoryPolitics,
	CategoryTech,
	CategoryOther,
}

// DefaultMinDuration is the shortest market lifetime accepted at creation.
const DefaultMinDuration = 24 * time.Hour

// categoryRegex matches lowercase slugs: "crypto", "world-cup", "ai2"
var categoryRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{1,31}$`)

var (
	ErrInvalidCategory = errors.New("factory: invalid category name")
	ErrInvalidRequest  = errors.New("factory: invalid market request")
)

// NormalizeCategory lowercases and validates a category name.
func NormalizeCategory(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !categoryRegex.MatchString(n) {
		return "", fmt.Errorf("%w: %q (expected 2-32 chars of a-z, 0-9, -)", ErrInvalidCategory, name)
	}
	return n, nil
}

// CreateRequest is the human-readable form of a market creation call.
// Amounts are decimal strings in whole units ("0.01").
type CreateRequest struct {
	Question              string    `json:"question"`
	Category              string    `json:"category"`
	TokenUnitValue        string    `json:"token_unit_value"`
	InitialYesProbability int       `json:"initial_yes_probability"`
	PercentageLocked      int       `json:"percentage_locked"`
	Expiration            time.Time `json:"expiration"`
	InitialLiquidity      string    `json:"initial_liquidity"`
}

// CreateParams are validated, base-unit creation parameters.
type CreateParams struct {
	Question              string
	Category              string
	TokenUnitValue        *uint256.Int
	InitialYesProbability uint8
	PercentageLocked      uint8
	Expiration            time.Time
}

// ParseRequest converts req into CreateParams and the seed amount. Range
// checks on probabilities and expiration are left to the market so that
// both entry points report the same errors.
func ParseRequest(req CreateRequest) (CreateParams, *uint256.Int, error) {
	category, err := NormalizeCategory(req.Category)
	if err != nil {
		return CreateParams{}, nil, err
	}
	unit, err := parseAmount("token_unit_value", req.TokenUnitValue)
	if err != nil {
		return CreateParams{}, nil, err
	}
	seed, err := parseAmount("initial_liquidity", req.InitialLiquidity)
	if err != nil {
		return CreateParams{}, nil, err
	}
	yesPct, err := percentage("initial_yes_probability", req.InitialYesProbability)
	if err != nil {
		return CreateParams{}, nil, err
	}
	locked, err := percentage("percentage_locked", req.PercentageLocked)
	if err != nil {
		return CreateParams{}, nil, err
	}

	return CreateParams{
		Question:              strings.TrimSpace(req.Question),
		Category:              category,
		TokenUnitValue:        unit,
		InitialYesProbability: yesPct,
		PercentageLocked:      locked,
		Expiration:            req.Expiration.UTC(),
	}, seed, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a decimal", ErrInvalidRequest, field, s)
	}
	v, err := fixedpoint.FromDecimal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, field, err)
	}
	return v, nil
}

// percentage narrows v to uint8; the [1, 99] range is the market's check.
func percentage(field string, v int) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrInvalidRequest, field, v)
	}
	return uint8(v), nil
}
