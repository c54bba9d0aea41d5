package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/factory"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/market"
	"github.com/atmx/polybet/internal/registry"
	"github.com/atmx/polybet/internal/store"
	"github.com/atmx/polybet/internal/token"
	"github.com/atmx/polybet/internal/vault"
)

// errBadRequest marks malformed input rejected before reaching the engine.
var errBadRequest = errors.New("bad request")

// Error classes, used as HTTP status and metric label.
const (
	classValidation    = "validation"
	classAuthorization = "authorization"
	classState         = "state"
	classEconomic      = "economic"
	classNotFound      = "not_found"
	classInternal      = "internal"
)

var errorClasses = []struct {
	class string
	errs  []error
}{
	{classNotFound, []error{
		factory.ErrMarketNotFound, registry.ErrMarketNotFound, store.ErrNotFound,
	}},
	{classValidation, []error{
		errBadRequest,
		market.ErrEmptyQuestion, market.ErrInvalidProbability, market.ErrInvalidPercentageLocked,
		market.ErrExpirationTooSoon, market.ErrInvalidTokenUnitValue, market.ErrZeroAmount,
		market.ErrInvalidOutcome, market.ErrZeroAddress, market.ErrUnexpectedValue,
		amm.ErrZeroAmount, fixedpoint.ErrInvalidAmount, token.ErrZeroAddress, vault.ErrZeroAddress,
		factory.ErrInvalidCategory, factory.ErrInvalidRequest, factory.ErrUnknownCategory,
		factory.ErrDurationTooShort, registry.ErrInvalidPagination,
	}},
	{classAuthorization, []error{
		market.ErrOnlyOracle, market.ErrOnlyCreator, market.ErrOwnerCannotCall,
		factory.ErrOnlyOwner, registry.ErrOnlyCreator, registry.ErrOnlyOwner, registry.ErrOnlyFactory,
	}},
	{classState, []error{
		market.ErrNotActive, market.ErrMarketExpired, market.ErrAlreadyReported,
		market.ErrNotYetReported, market.ErrAlreadyResolved, market.ErrNotResolved,
		market.ErrAlreadyWithdrawn, market.ErrReentrantCall, factory.ErrCategoryExists,
	}},
	{classEconomic, []error{
		market.ErrInsufficientTokenReserve, market.ErrInsufficientBalance,
		market.ErrArithmeticOverflow, market.ErrDivisionByZero,
		market.ErrInsufficientWinningTokens, market.ErrInsufficientContribution,
		market.ErrMustSendExactAmount, market.ErrInsufficientCollateral,
		market.ErrInsufficientLiquidity, market.ErrLockedLiquidity, market.ErrNothingToClaim,
		amm.ErrEmptyReserve, vault.ErrInsufficientFunds,
	}},
}

var classStatus = map[string]int{
	classValidation:    http.StatusBadRequest,
	classAuthorization: http.StatusForbidden,
	classState:         http.StatusConflict,
	classEconomic:      http.StatusUnprocessableEntity,
	classNotFound:      http.StatusNotFound,
	classInternal:      http.StatusInternalServerError,
}

// classify maps an engine error to its class. Unknown errors are internal.
func classify(err error) string {
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return classInternal
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError classifies err and writes it. Internal errors are not
// echoed to the client.
func writeEngineError(w http.ResponseWriter, err error) string {
	class := classify(err)
	msg := err.Error()
	if class == classInternal {
		msg = "internal error"
	}
	writeError(w, msg, classStatus[class])
	return class
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
