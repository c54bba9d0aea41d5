// Package store defines the persistence interface for the read model: market
// snapshots and the immutable event log. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/polybet/internal/model"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateEvent = errors.New("store: event already recorded")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market snapshots ---

	// SaveMarket inserts or replaces the snapshot for snap.Address.
	SaveMarket(ctx context.Context, snap model.MarketSnapshot) error

	// GetMarket retrieves a snapshot by market address.
	GetMarket(ctx context.Context, addr common.Address) (*model.MarketSnapshot, error)

	// ListMarkets returns a page of snapshots matching filter in creation
	// order, and the number of matches.
	ListMarkets(ctx context.Context, filter model.MarketFilter, page model.Page) ([]model.MarketSnapshot, int, error)

	// --- Immutable event log ---

	// AppendEvent records rec. Records are never updated or deleted.
	AppendEvent(ctx context.Context, rec model.EventRecord) error

	// EventsByMarket returns a market's events in timestamp order.
	EventsByMarket(ctx context.Context, market common.Address) ([]model.EventRecord, error)

	// EventsByAccount returns every event concerning account.
	EventsByAccount(ctx context.Context, account common.Address) ([]model.EventRecord, error)
}

func matches(f model.MarketFilter, s *model.MarketSnapshot) bool {
	if f.Category != "" && f.Category != s.Category {
		return false
	}
	if f.Creator != (common.Address{}) && f.Creator != s.Creator {
		return false
	}
	if f.Status != "" && f.Status != s.Status {
		return false
	}
	return true
}

// window clamps page to n items and returns the slice bounds.
func window(page model.Page, n int) (int, int) {
	start := max(page.Offset, 0)
	if start > n {
		start = n
	}
	end := n
	if page.Limit > 0 {
		end = min(start+page.Limit, n)
	}
	return start, end
}
