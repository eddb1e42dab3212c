package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// PriceQuoter answers best-effort price queries. Satisfied by the market
// stream's fallback-aware read path.
type PriceQuoter interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// ExecutionResult reports what happened to a proposal. A policy rejection
// is a normal result, not an error.
type ExecutionResult struct {
	Approved bool
	Reason   string
	Order    *domain.OrderResult
	Position *domain.Position
}

// TradeExecutor drives a proposal through the safety core: risk validation,
// price lookup, venue constraint rounding, order submission and ledger
// update.
type TradeExecutor struct {
	risk    *RiskManager
	quotes  PriceQuoter
	gateway domain.OrderGateway
	store   domain.PositionRepository
	logger  *zap.Logger
}

func NewTradeExecutor(risk *RiskManager, quotes PriceQuoter, gateway domain.OrderGateway, store domain.PositionRepository, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		risk:    risk,
		quotes:  quotes,
		gateway: gateway,
		store:   store,
		logger:  logger,
	}
}

// Execute validates and, on approval, performs the trade. BUY opens a
// ledger position; SELL flattens the existing one and feeds the win/loss
// outcome back into the risk state.
func (e *TradeExecutor) Execute(ctx context.Context, symbol string, side domain.Side, quoteQty float64, strategyID string) (*ExecutionResult, error) {
	allowed, reason := e.risk.ValidateTrade(ctx, symbol, quoteQty, side, strategyID)
	if !allowed {
		e.logger.Info("trade rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("reason", reason))
		return &ExecutionResult{Approved: false, Reason: reason}, nil
	}

	switch side {
	case domain.SideBuy:
		return e.executeBuy(ctx, symbol, quoteQty)
	case domain.SideSell:
		return e.executeSell(ctx, symbol, quoteQty)
	default:
		return nil, fmt.Errorf("invalid side: %s", side)
	}
}

func (e *TradeExecutor) executeBuy(ctx context.Context, symbol string, quoteQty float64) (*ExecutionResult, error) {
	price, err := e.quotes.LatestPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	constraints, err := e.gateway.OrderConstraints(ctx, symbol)
	if err != nil {
		return nil, err
	}

	qty := constraints.RoundQty(quoteQty / price)
	if !constraints.MeetsMinNotional(qty, price) {
		reason := fmt.Sprintf("order %.8f @ %.2f under min notional %.2f", qty, price, constraints.MinNotional)
		e.logger.Warn("order below min notional", zap.String("symbol", symbol), zap.String("detail", reason))
		return &ExecutionResult{Approved: false, Reason: reason}, nil
	}

	order, err := e.gateway.SubmitMarketOrder(ctx, symbol, domain.SideBuy, quoteQty)
	if err != nil {
		return nil, fmt.Errorf("submit buy order: %w", err)
	}

	pos, err := e.store.Open(ctx, symbol, order.ExecutedQty, order.AvgPrice, order.OrderID)
	if err != nil {
		// The fill happened; a ledger failure here is a serious
		// reconciliation problem, not something to swallow.
		return nil, fmt.Errorf("record fill for %s: %w", symbol, err)
	}

	return &ExecutionResult{Approved: true, Reason: "filled", Order: order, Position: pos}, nil
}

func (e *TradeExecutor) executeSell(ctx context.Context, symbol string, quoteQty float64) (*ExecutionResult, error) {
	if _, err := e.store.GetOpen(ctx, symbol); err != nil {
		return nil, err
	}

	order, err := e.gateway.SubmitMarketOrder(ctx, symbol, domain.SideSell, quoteQty)
	if err != nil {
		return nil, fmt.Errorf("submit sell order: %w", err)
	}

	pos, err := e.store.Close(ctx, symbol, order.AvgPrice, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("close position for %s: %w", symbol, err)
	}

	if pos.RealizedPnL < 0 {
		e.risk.RecordLoss(symbol, pos.RealizedPnL)
	} else {
		e.risk.RecordWin(symbol, pos.RealizedPnL)
	}

	return &ExecutionResult{Approved: true, Reason: "filled", Order: order, Position: pos}, nil
}
