package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BasicFist/tradeguard/internal/domain"
)

func TestIsTripWorthy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &domain.StatusError{Status: 503}, true},
		{"bad gateway", &domain.StatusError{Status: 502}, true},
		{"rate limited", &domain.StatusError{Status: 429}, true},
		{"ip ban", &domain.StatusError{Status: 418}, true},
		{"bad request", &domain.StatusError{Status: 400}, false},
		{"not found", &domain.StatusError{Status: 404}, false},
		{"wrapped client error", fmt.Errorf("call: %w", &domain.StatusError{Status: 400}), false},
		{"wrapped server error", fmt.Errorf("call: %w", &domain.StatusError{Status: 500}), true},
		{"connection error", errors.New("dial tcp: connection refused"), true},
		{"caller cancellation", context.Canceled, false},
		{"wrapped cancellation", fmt.Errorf("call: %w", context.Canceled), false},
		{"deadline expiry", context.DeadlineExceeded, true},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, domain.IsTripWorthy(tc.err))
		})
	}
}

func TestOrderConstraints_Rounding(t *testing.T) {
	c := &domain.OrderConstraints{TickSize: 0.01, StepSize: 0.001, MinNotional: 10}

	require.InDelta(t, 40000.12, c.RoundPrice(40000.1299), 1e-9)
	require.InDelta(t, 0.123, c.RoundQty(0.12399), 1e-9)

	require.True(t, c.MeetsMinNotional(0.001, 40000))
	require.False(t, c.MeetsMinNotional(0.0001, 40000))
}

func TestOrderConstraints_ZeroIncrementsPassThrough(t *testing.T) {
	c := &domain.OrderConstraints{}
	require.Equal(t, 123.456, c.RoundPrice(123.456))
	require.Equal(t, 0.789, c.RoundQty(0.789))
}

func TestMarketTicker_Mid(t *testing.T) {
	full := &domain.MarketTicker{BestBid: 100, BestAsk: 102}
	require.Equal(t, 101.0, full.Mid())

	bidOnly := &domain.MarketTicker{BestBid: 100}
	require.Equal(t, 100.0, bidOnly.Mid())

	askOnly := &domain.MarketTicker{BestAsk: 102}
	require.Equal(t, 102.0, askOnly.Mid())
}

func TestPosition_RealizedPnL(t *testing.T) {
	p := &domain.Position{Quantity: 0.5, EntryPrice: 40000}
	require.InDelta(t, 500.0, p.RealizedPnLFor(41000), 1e-9)
	require.InDelta(t, -500.0, p.RealizedPnLFor(39000), 1e-9)
}
