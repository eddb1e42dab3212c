package domain

import "math"

// OrderResult is the venue's answer to a market order submission.
type OrderResult struct {
	OrderID     string
	ExecutedQty float64
	AvgPrice    float64
}

// OrderConstraints are the venue-imposed increments and minimum order value
// for a symbol. Prices and quantities must be rounded to them before
// submission; orders under MinNotional are rejected by the venue.
type OrderConstraints struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinNotional float64
}

// RoundPrice rounds a price down to the symbol's tick size.
func (c *OrderConstraints) RoundPrice(price float64) float64 {
	if c.TickSize <= 0 {
		return price
	}
	return math.Floor(price/c.TickSize) * c.TickSize
}

// RoundQty rounds a quantity down to the symbol's step size.
func (c *OrderConstraints) RoundQty(qty float64) float64 {
	if c.StepSize <= 0 {
		return qty
	}
	return math.Floor(qty/c.StepSize) * c.StepSize
}

// MeetsMinNotional reports whether qty*price clears the venue minimum.
func (c *OrderConstraints) MeetsMinNotional(qty, price float64) bool {
	return qty*price >= c.MinNotional
}
