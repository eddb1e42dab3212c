package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
	"github.com/BasicFist/tradeguard/internal/infrastructure/audit"
	"github.com/BasicFist/tradeguard/internal/infrastructure/guard"
	"github.com/BasicFist/tradeguard/internal/infrastructure/stream"
	"github.com/BasicFist/tradeguard/internal/usecase"
)

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	risk     *usecase.RiskManager
	executor *usecase.TradeExecutor
	store    domain.PositionRepository
	trail    *audit.Trail
	market   *stream.MarketStream
	breakers *guard.Registry
	logger   *zap.Logger
}

func NewServer(
	port int,
	risk *usecase.RiskManager,
	executor *usecase.TradeExecutor,
	store domain.PositionRepository,
	trail *audit.Trail,
	market *stream.MarketStream,
	breakers *guard.Registry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   http.NewServeMux(),
		risk:     risk,
		executor: executor,
		store:    store,
		trail:    trail,
		market:   market,
		breakers: breakers,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /positions", s.handleOpenPositions)
	s.router.HandleFunc("GET /history", s.handleHistory)

	// Audit trail
	s.router.HandleFunc("GET /audit", s.handleAuditTail)

	// Trade entry point for external strategy callers
	s.router.HandleFunc("POST /trade", s.handleTrade)

	// Price lookup with stream fallback
	s.router.HandleFunc("GET /price", s.handlePrice)

	// Admin
	s.router.HandleFunc("POST /killswitch/activate", s.handleKillSwitchActivate)
	s.router.HandleFunc("POST /killswitch/deactivate", s.handleKillSwitchDeactivate)
	s.router.HandleFunc("POST /reset-daily", s.handleResetDaily)
	s.router.HandleFunc("POST /breakers/{name}/reset", s.handleBreakerReset)
}

func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
