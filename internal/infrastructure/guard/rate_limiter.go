package guard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiter enforces the venue's dual quota: an overall weighted-request
// budget and a narrower order-submission budget. Every outbound request
// consumes its weight from the request bucket; order submissions
// additionally consume one token from the order bucket.
//
// When the weight bucket succeeds and the order bucket then fails, the
// weight tokens are not returned. The venue charges request weight whether
// or not an order is placed, so the local estimate stays honest.
type RateLimiter struct {
	requests *TokenBucket
	orders   *TokenBucket

	mu              sync.Mutex
	venueUsedWeight int
	venueOrderCount int
	venueObservedAt time.Time

	weightLimit int
	orderLimit  int
	logger      *zap.Logger
}

// RateLimiterConfig mirrors the venue's published budgets.
type RateLimiterConfig struct {
	WeightCapacity float64 // request-weight budget per window
	WeightRefill   float64 // weight tokens per second
	OrderCapacity  float64 // order submissions per window
	OrderRefill    float64 // order tokens per second
}

func NewRateLimiter(cfg RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		requests:    NewTokenBucket(cfg.WeightCapacity, cfg.WeightRefill),
		orders:      NewTokenBucket(cfg.OrderCapacity, cfg.OrderRefill),
		weightLimit: int(cfg.WeightCapacity),
		orderLimit:  int(cfg.OrderCapacity),
		logger:      logger,
	}
}

// Request blocks until weight tokens are available in the request budget.
func (rl *RateLimiter) Request(ctx context.Context, weight float64) error {
	return rl.requests.Consume(ctx, weight)
}

// TryRequest is the non-blocking variant of Request.
func (rl *RateLimiter) TryRequest(weight float64) (bool, error) {
	return rl.requests.TryConsume(weight)
}

// Order blocks for weight tokens from the request budget and then one token
// from the order budget. The order bucket is only attempted once the weight
// bucket has succeeded.
func (rl *RateLimiter) Order(ctx context.Context, weight float64) error {
	if err := rl.requests.Consume(ctx, weight); err != nil {
		return err
	}
	return rl.orders.Consume(ctx, 1)
}

// TryOrder is the non-blocking variant of Order. A false second check does
// not roll the weight tokens back.
func (rl *RateLimiter) TryOrder(weight float64) (bool, error) {
	ok, err := rl.requests.TryConsume(weight)
	if err != nil || !ok {
		return ok, err
	}
	return rl.orders.TryConsume(1)
}

// ObserveUsage ingests the venue's own usage counters, typically parsed from
// response headers. They are compared against the local estimate for alert
// logging only and never adjust bucket state.
func (rl *RateLimiter) ObserveUsage(usedWeight, orderCount int) {
	rl.mu.Lock()
	rl.venueUsedWeight = usedWeight
	rl.venueOrderCount = orderCount
	rl.venueObservedAt = time.Now()
	rl.mu.Unlock()

	if rl.weightLimit > 0 && usedWeight >= rl.weightLimit*9/10 {
		rl.logger.Warn("venue request-weight usage near limit",
			zap.Int("used_weight", usedWeight),
			zap.Int("limit", rl.weightLimit))
	}
	if rl.orderLimit > 0 && orderCount >= rl.orderLimit*9/10 {
		rl.logger.Warn("venue order-count usage near limit",
			zap.Int("order_count", orderCount),
			zap.Int("limit", rl.orderLimit))
	}
}

// Usage reports local bucket levels and the last venue-reported counters.
func (rl *RateLimiter) Usage() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"request_tokens":    rl.requests.Available(),
		"order_tokens":      rl.orders.Available(),
		"venue_used_weight": rl.venueUsedWeight,
		"venue_order_count": rl.venueOrderCount,
		"venue_observed_at": rl.venueObservedAt,
	}
}
