package domain

// MarketTicker is the latest best-bid/best-ask snapshot for a symbol.
// It is replaced wholesale on every inbound stream message, never patched
// field by field, so readers always observe a self-consistent quote.
type MarketTicker struct {
	Symbol     string
	BestBid    float64
	BestBidQty float64
	BestAsk    float64
	BestAskQty float64
	UpdateID   int64
}

// Mid returns the bid/ask midpoint, or the one-sided quote if the other
// side is empty.
func (t *MarketTicker) Mid() float64 {
	if t.BestBid > 0 && t.BestAsk > 0 {
		return (t.BestBid + t.BestAsk) / 2
	}
	if t.BestBid > 0 {
		return t.BestBid
	}
	return t.BestAsk
}
