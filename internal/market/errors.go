package market

import (
	"errors"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/token"
)

// Validation errors.
var (
	ErrEmptyQuestion           = errors.New("market: question must not be empty")
	ErrInvalidProbability      = errors.New("market: initial probability must be within [1, 99]")
	ErrInvalidPercentageLocked = errors.New("market: percentage locked must be within [1, 99]")
	ErrExpirationTooSoon       = errors.New("market: expiration must be in the future")
	ErrInvalidTokenUnitValue   = errors.New("market: token unit value must be positive")
	ErrZeroAmount              = errors.New("market: amount must be positive")
	ErrInvalidOutcome          = errors.New("market: invalid outcome")
	ErrZeroAddress             = errors.New("market: zero address")
	ErrUnexpectedValue         = errors.New("market: operation does not accept collateral")
)

// Authorization errors.
var (
	ErrOnlyOracle      = errors.New("market: only oracle")
	ErrOnlyCreator     = errors.New("market: only creator")
	ErrOwnerCannotCall = errors.New("market: creator cannot trade on own market")
)

// State-machine errors.
var (
	ErrNotActive        = errors.New("market: not active")
	ErrMarketExpired    = errors.New("market: expired")
	ErrAlreadyReported  = errors.New("market: already reported")
	ErrNotYetReported   = errors.New("market: not yet reported")
	ErrAlreadyResolved  = errors.New("market: already resolved")
	ErrNotResolved      = errors.New("market: not resolved")
	ErrAlreadyWithdrawn = errors.New("market: settled liquidity already withdrawn")
	ErrReentrantCall    = errors.New("market: reentrant call")
)

// Economic errors. Several alias the lower layers so callers can match on
// the market package alone.
var (
	ErrInsufficientTokenReserve  = amm.ErrInsufficientTokenReserve
	ErrInsufficientBalance       = token.ErrInsufficientBalance
	ErrArithmeticOverflow        = fixedpoint.ErrArithmeticOverflow
	ErrDivisionByZero            = fixedpoint.ErrDivisionByZero
	ErrInsufficientWinningTokens = errors.New("market: insufficient winning tokens")
	ErrInsufficientContribution  = errors.New("market: insufficient contribution")
	ErrMustSendExactAmount       = errors.New("market: must send exact amount")
	ErrInsufficientCollateral    = errors.New("market: insufficient collateral")
	ErrInsufficientLiquidity     = errors.New("market: removal would empty a reserve")
	ErrLockedLiquidity           = errors.New("market: creator liquidity is locked")
	ErrNothingToClaim            = errors.New("market: nothing to claim")
)
