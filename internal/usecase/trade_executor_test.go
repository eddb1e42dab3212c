package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
	"github.com/BasicFist/tradeguard/internal/usecase"
)

type executorFixture struct {
	executor *usecase.TradeExecutor
	risk     *usecase.RiskManager
	store    *MockPositionRepo
	trail    *MockTrail
	gateway  *MockGateway
	quoter   *MockQuoter
}

func newExecutorFixture(t *testing.T, limits usecase.RiskLimits) *executorFixture {
	t.Helper()
	rf := newRiskFixture(t, limits)
	f := &executorFixture{
		risk:   rf.risk,
		store:  rf.store,
		trail:  rf.trail,
		quoter: &MockQuoter{Price: 40000},
		gateway: &MockGateway{
			FillPrice: 40000,
			Constraints: &domain.OrderConstraints{
				Symbol:      "BTCUSDT",
				TickSize:    0.01,
				StepSize:    0.0001,
				MinNotional: 10,
			},
		},
	}
	f.executor = usecase.NewTradeExecutor(f.risk, f.quoter, f.gateway, f.store, zap.NewNop())
	return f
}

func TestExecutor_BuyOpensPosition(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())

	result, err := f.executor.Execute(context.Background(), "BTCUSDT", domain.SideBuy, 50, "sma-cross")
	require.NoError(t, err)
	require.True(t, result.Approved)
	require.NotNil(t, result.Position)
	require.Equal(t, domain.PositionOpen, result.Position.Status)
	require.Equal(t, 40000.0, result.Position.EntryPrice)

	submits := f.gateway.Submits()
	require.Len(t, submits, 1)
	require.Equal(t, domain.SideBuy, submits[0].Side)
	require.Equal(t, 50.0, submits[0].QuoteQty)

	open, err := f.store.GetOpen(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, result.Order.OrderID, open.OrderID)
}

func TestExecutor_RejectionNeverReachesVenue(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())
	f.risk.ActivateKillSwitch("test")

	result, err := f.executor.Execute(context.Background(), "BTCUSDT", domain.SideBuy, 50, "s")
	require.NoError(t, err)
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "kill-switch")
	require.Empty(t, f.gateway.Submits())
}

func TestExecutor_MinNotionalRejectedBeforeSubmission(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())

	// 5 quote units at 40000 rounds to a quantity worth less than the
	// venue minimum of 10.
	result, err := f.executor.Execute(context.Background(), "BTCUSDT", domain.SideBuy, 5, "s")
	require.NoError(t, err)
	require.False(t, result.Approved)
	require.Contains(t, result.Reason, "min notional")
	require.Empty(t, f.gateway.Submits())
}

func TestExecutor_SellClosesAndRecordsLoss(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := f.store.Open(ctx, "BTCUSDT", 0.001, 42000, "entry-order")
	require.NoError(t, err)

	// Fill below entry: a realized loss that must start the cool-down.
	f.gateway.FillPrice = 40000

	result, err := f.executor.Execute(ctx, "BTCUSDT", domain.SideSell, 40, "s")
	require.NoError(t, err)
	require.True(t, result.Approved)
	require.Equal(t, domain.PositionClosed, result.Position.Status)
	require.InDelta(t, (40000.0-42000.0)*0.001, result.Position.RealizedPnL, 1e-9)

	require.Greater(t, f.risk.CooldownRemaining(), time.Duration(0))
	require.True(t, f.trail.Has("loss_recorded"))
}

func TestExecutor_SellRecordsWin(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := f.store.Open(ctx, "BTCUSDT", 0.001, 38000, "entry-order")
	require.NoError(t, err)
	f.gateway.FillPrice = 40000

	result, err := f.executor.Execute(ctx, "BTCUSDT", domain.SideSell, 40, "s")
	require.NoError(t, err)
	require.True(t, result.Approved)
	require.Greater(t, result.Position.RealizedPnL, 0.0)

	require.Zero(t, f.risk.CooldownRemaining())
	require.True(t, f.trail.Has("win_recorded"))
}

func TestExecutor_SellWithoutPositionIsError(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())

	_, err := f.executor.Execute(context.Background(), "BTCUSDT", domain.SideSell, 40, "s")
	require.ErrorIs(t, err, domain.ErrNoOpenPosition)
	require.Empty(t, f.gateway.Submits())
}

func TestExecutor_PriceUnavailableSurfaces(t *testing.T) {
	f := newExecutorFixture(t, defaultLimits())
	f.quoter.Err = domain.ErrPriceUnavailable

	_, err := f.executor.Execute(context.Background(), "BTCUSDT", domain.SideBuy, 50, "s")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	require.Empty(t, f.gateway.Submits())
}
