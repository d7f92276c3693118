package ports

import (
	"context"

	"github.com/betbot/ordercore/internal/domain"
)

// Small capability interfaces shared across layers (channels/trader/storage).
//
// NOTE: defined in a neutral package to avoid import cycles between the
// broadcast layer and the lifecycle coordinator.

// OrderStore is the authoritative order-state store: one live entry per order id,
// last write wins.
type OrderStore interface {
	UpsertOrder(ctx context.Context, order *domain.Order) error
}

// TradeJournal persists trade records.
type TradeJournal interface {
	RecordTrade(ctx context.Context, trade domain.Trade) error
}

// OrderPublisher broadcasts an order update; it never fails the caller.
type OrderPublisher interface {
	Push(ctx context.Context, symbol string, order *domain.Order)
}

// OrderCloser ends an order's life (fill or forced cancel).
type OrderCloser interface {
	NotifyOrderClose(ctx context.Context, order *domain.Order, forceCancel bool)
}
