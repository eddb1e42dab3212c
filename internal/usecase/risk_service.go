package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
	"github.com/BasicFist/tradeguard/internal/infrastructure/guard"
)

const dailyPnLCacheTTL = 60 * time.Second

// RiskLimits are the policy thresholds. All are expressed in quote
// currency except MaxPositions and CoolDown.
type RiskLimits struct {
	MaxLossPerTrade float64       `json:"max_loss_per_trade"`
	MaxDailyLoss    float64       `json:"max_daily_loss"`
	MaxPositions    int           `json:"max_positions"`
	CoolDown        time.Duration `json:"cool_down"`
}

// RiskStatus is the snapshot exposed to health checks and dashboards.
type RiskStatus struct {
	KillSwitchActive  bool                    `json:"kill_switch_active"`
	KillSwitchReason  string                  `json:"kill_switch_reason,omitempty"`
	DailyPnL          float64                 `json:"daily_pnl"`
	Limits            RiskLimits              `json:"limits"`
	OpenPositions     int                     `json:"open_positions"`
	CoolDownRemaining time.Duration           `json:"cool_down_remaining"`
	BreakerStates     map[string]guard.Status `json:"breaker_states"`
}

// RiskManager is the mandatory gate for every trade proposal. It combines
// independent policies in a fixed order and writes every outcome to the
// audit trail before returning, so the decision record survives a crash.
//
// Rejection is an ordinary (false, reason) result, never an error:
// rejections are expected and frequent.
type RiskManager struct {
	limits   RiskLimits
	store    domain.PositionRepository
	trail    domain.AuditWriter
	breakers *guard.Registry
	alerts   domain.AlertSender
	logger   *zap.Logger

	mu          sync.Mutex
	killSwitch  bool
	killReason  string
	lastLoss    time.Time
	pnlCache    float64
	pnlCachedAt time.Time
}

func NewRiskManager(
	limits RiskLimits,
	store domain.PositionRepository,
	trail domain.AuditWriter,
	breakers *guard.Registry,
	alerts domain.AlertSender,
	logger *zap.Logger,
) *RiskManager {
	return &RiskManager{
		limits:   limits,
		store:    store,
		trail:    trail,
		breakers: breakers,
		alerts:   alerts,
		logger:   logger,
	}
}

// ValidateTrade evaluates a trade proposal against the risk policy.
// Checks run in a fixed order and the first failure short-circuits. SELL
// proposals bypass the sizing, position-count, duplicate and cool-down
// checks so an existing position can always be flattened.
func (r *RiskManager) ValidateTrade(ctx context.Context, symbol string, quoteQty float64, side domain.Side, strategyID string) (bool, string) {
	base := map[string]any{
		"symbol":      symbol,
		"side":        string(side),
		"quote_qty":   quoteQty,
		"strategy_id": strategyID,
	}

	// 1. Kill switch.
	r.mu.Lock()
	killed, killReason := r.killSwitch, r.killReason
	r.mu.Unlock()
	if killed {
		return r.reject(base, "kill_switch", fmt.Sprintf("kill-switch active: %s", killReason))
	}

	// 2. Daily loss. Detection and activation happen inside this call: the
	// first proposal that sees the breach trips the switch and is rejected.
	dailyPnL, err := r.dailyPnL(ctx)
	if err != nil {
		r.logger.Error("daily pnl computation failed", zap.Error(err))
		return r.reject(base, "daily_pnl_error", "daily PnL unavailable")
	}
	if dailyPnL <= -r.limits.MaxDailyLoss {
		reason := fmt.Sprintf("kill-switch: daily loss %.2f breaches limit %.2f", dailyPnL, r.limits.MaxDailyLoss)
		r.ActivateKillSwitch(reason)
		base["daily_pnl"] = dailyPnL
		return r.reject(base, "daily_loss", reason)
	}

	if side == domain.SideBuy {
		// 3. Per-trade size.
		if quoteQty > r.limits.MaxLossPerTrade {
			return r.reject(base, "trade_size",
				fmt.Sprintf("trade size %.2f exceeds max loss per trade %.2f", quoteQty, r.limits.MaxLossPerTrade))
		}

		// 4. Position count.
		count, err := r.store.CountOpen(ctx)
		if err != nil {
			r.logger.Error("open position count failed", zap.Error(err))
			return r.reject(base, "position_count_error", "position count unavailable")
		}
		if count >= r.limits.MaxPositions {
			base["open_positions"] = count
			return r.reject(base, "position_limit",
				fmt.Sprintf("position limit reached: %d of %d", count, r.limits.MaxPositions))
		}

		// 5. Duplicate symbol. Anything other than a clean "no open
		// position" rejects: a store failure must not wave a trade through.
		if _, err := r.store.GetOpen(ctx, symbol); err == nil {
			return r.reject(base, "duplicate_position",
				fmt.Sprintf("position already open for %s", symbol))
		} else if !errors.Is(err, domain.ErrNoOpenPosition) {
			r.logger.Error("open position lookup failed", zap.Error(err))
			return r.reject(base, "duplicate_check_error", "position lookup unavailable")
		}

		// 6. Cool-down after a loss.
		if remaining := r.CooldownRemaining(); remaining > 0 {
			base["cool_down_remaining"] = remaining.String()
			return r.reject(base, "cool_down",
				fmt.Sprintf("cooling down after loss, %s remaining", remaining.Round(time.Second)))
		}
	}

	// 7. Dependency health.
	if open, name := r.breakers.AnyOpen(); open {
		base["breaker"] = name
		return r.reject(base, "circuit_open",
			fmt.Sprintf("circuit breaker %s open", name))
	}

	// 8. Approved.
	r.audit("trade_approved", base)
	return true, "approved"
}

func (r *RiskManager) reject(base map[string]any, check, reason string) (bool, string) {
	fields := make(map[string]any, len(base)+2)
	for k, v := range base {
		fields[k] = v
	}
	fields["check"] = check
	fields["reason"] = reason
	r.audit("trade_rejected", fields)
	return false, reason
}

// dailyPnL returns realized PnL since midnight UTC, cached for 60 seconds.
func (r *RiskManager) dailyPnL(ctx context.Context) (float64, error) {
	r.mu.Lock()
	if time.Since(r.pnlCachedAt) < dailyPnLCacheTTL && !r.pnlCachedAt.IsZero() {
		pnl := r.pnlCache
		r.mu.Unlock()
		return pnl, nil
	}
	r.mu.Unlock()

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	pnl, err := r.store.RealizedPnLSince(ctx, startOfDay)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.pnlCache = pnl
	r.pnlCachedAt = time.Now()
	r.mu.Unlock()
	return pnl, nil
}

// ActivateKillSwitch latches the kill switch. Idempotent: only the first
// activation writes the audit snapshot and fires the alert. The switch is
// cleared only by DeactivateKillSwitch, never by time passing or a new
// trading day.
func (r *RiskManager) ActivateKillSwitch(reason string) {
	r.mu.Lock()
	if r.killSwitch {
		r.mu.Unlock()
		return
	}
	r.killSwitch = true
	r.killReason = reason
	dailyPnL := r.pnlCache
	r.mu.Unlock()

	openCount, _ := r.store.CountOpen(context.Background())
	r.audit("kill_switch_activated", map[string]any{
		"reason":         reason,
		"daily_pnl":      dailyPnL,
		"open_positions": openCount,
		"limits": map[string]any{
			"max_loss_per_trade": r.limits.MaxLossPerTrade,
			"max_daily_loss":     r.limits.MaxDailyLoss,
			"max_positions":      r.limits.MaxPositions,
			"cool_down":          r.limits.CoolDown.String(),
		},
	})

	r.logger.Error("kill switch activated", zap.String("reason", reason))
	if r.alerts != nil {
		r.alerts.Send(fmt.Sprintf("KILL SWITCH ACTIVATED: %s (daily PnL %.2f, %d open positions)",
			reason, dailyPnL, openCount))
	}
}

// DeactivateKillSwitch is the explicit manual clear.
func (r *RiskManager) DeactivateKillSwitch(reason string) {
	r.mu.Lock()
	wasActive := r.killSwitch
	r.killSwitch = false
	r.killReason = ""
	r.mu.Unlock()

	if wasActive {
		r.audit("kill_switch_deactivated", map[string]any{"reason": reason})
		r.logger.Warn("kill switch deactivated", zap.String("reason", reason))
	}
}

// KillSwitchActive reports the current switch state.
func (r *RiskManager) KillSwitchActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killSwitch
}

// ResetDailyState clears the cool-down and the PnL cache for a new trading
// day. It must not clear the kill switch.
func (r *RiskManager) ResetDailyState() {
	r.mu.Lock()
	r.lastLoss = time.Time{}
	r.pnlCachedAt = time.Time{}
	r.mu.Unlock()
	r.audit("daily_state_reset", map[string]any{})
}

// RecordLoss stamps the cool-down clock after a losing close.
func (r *RiskManager) RecordLoss(symbol string, pnl float64) {
	r.mu.Lock()
	r.lastLoss = time.Now()
	r.pnlCachedAt = time.Time{} // realized PnL changed, drop the cache
	r.mu.Unlock()
	r.audit("loss_recorded", map[string]any{"symbol": symbol, "realized_pnl": pnl})
}

// RecordWin clears any pending cool-down after a winning close.
func (r *RiskManager) RecordWin(symbol string, pnl float64) {
	r.mu.Lock()
	r.lastLoss = time.Time{}
	r.pnlCachedAt = time.Time{}
	r.mu.Unlock()
	r.audit("win_recorded", map[string]any{"symbol": symbol, "realized_pnl": pnl})
}

// CooldownRemaining reports how long risk-increasing trades stay blocked.
func (r *RiskManager) CooldownRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastLoss.IsZero() {
		return 0
	}
	remaining := r.limits.CoolDown - time.Since(r.lastLoss)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status assembles the observability snapshot for dashboards and riskctl.
func (r *RiskManager) Status(ctx context.Context) (*RiskStatus, error) {
	dailyPnL, err := r.dailyPnL(ctx)
	if err != nil {
		return nil, err
	}
	openCount, err := r.store.CountOpen(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	killed, killReason := r.killSwitch, r.killReason
	r.mu.Unlock()

	return &RiskStatus{
		KillSwitchActive:  killed,
		KillSwitchReason:  killReason,
		DailyPnL:          dailyPnL,
		Limits:            r.limits,
		OpenPositions:     openCount,
		CoolDownRemaining: r.CooldownRemaining(),
		BreakerStates:     r.breakers.Statuses(),
	}, nil
}

func (r *RiskManager) audit(event string, fields map[string]any) {
	if err := r.trail.Write(event, fields); err != nil {
		r.logger.Error("audit write failed", zap.String("event", event), zap.Error(err))
	}
}
