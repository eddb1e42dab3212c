package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.risk.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to assemble status", zap.Error(err))
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{
		"risk":         status,
		"stream_state": s.market.State().String(),
	})
}

func (s *Server) handleOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListOpen(r.Context())
	if err != nil {
		s.logger.Error("failed to list open positions", zap.Error(err))
		http.Error(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	history, err := s.store.History(r.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("failed to list history", zap.Error(err))
		http.Error(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, history)
}

func (s *Server) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.trail.Tail(limit)
	if err != nil {
		s.logger.Error("failed to read audit trail", zap.Error(err))
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

type tradeRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	QuoteQty   float64 `json:"quote_qty"`
	StrategyID string  `json:"strategy_id"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid trade request", http.StatusBadRequest)
		return
	}
	side := domain.Side(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		http.Error(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.QuoteQty <= 0 {
		http.Error(w, "symbol and positive quote_qty required", http.StatusBadRequest)
		return
	}

	result, err := s.executor.Execute(r.Context(), req.Symbol, side, req.QuoteQty, req.StrategyID)
	if err != nil {
		s.logger.Error("trade execution failed",
			zap.String("symbol", req.Symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	price, err := s.market.LatestPrice(r.Context(), symbol)
	if err != nil {
		http.Error(w, "price unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]any{"symbol": symbol, "price": price})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason required", http.StatusBadRequest)
		return
	}

	s.risk.ActivateKillSwitch("manual: " + req.Reason)
	s.writeJSON(w, map[string]bool{"kill_switch_active": true})
}

func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		http.Error(w, "reason required", http.StatusBadRequest)
		return
	}

	s.risk.DeactivateKillSwitch("manual: " + req.Reason)
	s.writeJSON(w, map[string]bool{"kill_switch_active": false})
}

func (s *Server) handleResetDaily(w http.ResponseWriter, r *http.Request) {
	s.risk.ResetDailyState()
	s.writeJSON(w, map[string]string{"status": "daily state reset"})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cb := s.breakers.Get(name)
	if cb == nil {
		http.Error(w, "unknown breaker: "+name, http.StatusNotFound)
		return
	}
	cb.Reset()
	s.writeJSON(w, cb.GetStatus())
}
