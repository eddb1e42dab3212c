package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a row in the durable position ledger. An OPEN position has no
// exit fields; closing fills them exactly once, after which the row is
// immutable and retained forever as history.
type Position struct {
	ID          string
	Symbol      string
	Quantity    float64
	EntryPrice  float64
	EntryTime   time.Time
	ExitPrice   float64
	ExitTime    time.Time
	RealizedPnL float64
	Status      PositionStatus
	OrderID     string
	ExitOrderID string
}

// RealizedPnLFor computes the long-only realized PnL for an exit at the given price.
func (p *Position) RealizedPnLFor(exitPrice float64) float64 {
	return (exitPrice - p.EntryPrice) * p.Quantity
}
