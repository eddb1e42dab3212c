package domain

import (
	"context"
	"time"
)

// PositionRepository is the durable ledger of positions. The implementation
// must guarantee at most one OPEN row per symbol at the storage layer, so
// two concurrent opens cannot both succeed.
type PositionRepository interface {
	Open(ctx context.Context, symbol string, qty, price float64, orderID string) (*Position, error)
	Close(ctx context.Context, symbol string, exitPrice float64, exitOrderID string) (*Position, error)
	GetOpen(ctx context.Context, symbol string) (*Position, error)
	ListOpen(ctx context.Context) ([]*Position, error)
	History(ctx context.Context, symbol string, limit int) ([]*Position, error)
	CountOpen(ctx context.Context) (int, error)
	TotalRealizedPnL(ctx context.Context) (float64, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// OrderGateway submits orders to the external venue.
type OrderGateway interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, quoteQty float64) (*OrderResult, error)
	OrderConstraints(ctx context.Context, symbol string) (*OrderConstraints, error)
}

// PriceSource answers point queries for the current price. Used as the
// market stream's degraded-mode fallback.
type PriceSource interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// AlertSender delivers fire-and-forget notifications. Delivery failures must
// never propagate to the caller.
type AlertSender interface {
	Send(message string)
}

// AuditWriter appends one immutable entry to the decision trail. The write
// completes before the call returns so a crash never loses a decision.
type AuditWriter interface {
	Write(event string, fields map[string]any) error
}
