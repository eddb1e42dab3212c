package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BasicFist/tradeguard/internal/infrastructure/audit"
	"github.com/BasicFist/tradeguard/internal/infrastructure/exchange"
	"github.com/BasicFist/tradeguard/internal/infrastructure/guard"
	"github.com/BasicFist/tradeguard/internal/infrastructure/logger"
	"github.com/BasicFist/tradeguard/internal/infrastructure/storage"
	"github.com/BasicFist/tradeguard/internal/infrastructure/stream"
	"github.com/BasicFist/tradeguard/internal/usecase"
	"github.com/BasicFist/tradeguard/internal/web"
)

type Config struct {
	Venue struct {
		APIKey       string   `yaml:"api_key"`
		APISecret    string   `yaml:"api_secret"`
		RESTEndpoint string   `yaml:"rest_endpoint"`
		WSEndpoint   string   `yaml:"ws_endpoint"`
		Symbols      []string `yaml:"symbols"`
	} `yaml:"venue"`
	RateLimits struct {
		WeightCapacity float64 `yaml:"weight_capacity"`
		WeightRefill   float64 `yaml:"weight_refill"`
		OrderCapacity  float64 `yaml:"order_capacity"`
		OrderRefill    float64 `yaml:"order_refill"`
	} `yaml:"rate_limits"`
	Breaker struct {
		FailMax       int `yaml:"fail_max"`
		ResetTimeoutS int `yaml:"reset_timeout_s"`
	} `yaml:"breaker"`
	Risk struct {
		MaxLossPerTrade float64 `yaml:"max_loss_per_trade"`
		MaxDailyLoss    float64 `yaml:"max_daily_loss"`
		MaxPositions    int     `yaml:"max_positions"`
		CoolDownMinutes int     `yaml:"cool_down_minutes"`
	} `yaml:"risk"`
	Stream struct {
		CheckIntervalS int `yaml:"check_interval_s"`
		StaleTimeoutS  int `yaml:"stale_timeout_s"`
		MaxRetries     int `yaml:"max_retries"`
	} `yaml:"stream"`
	Storage struct {
		DBPath    string `yaml:"db_path"`
		AuditPath string `yaml:"audit_path"`
	} `yaml:"storage"`
	Alerts struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"alerts"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// job is an explicit schedule descriptor: a name, a cadence and the work.
// Keeping jobs as values means the schedule is inspectable and loggable
// instead of hiding in anonymous tickers.
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
}

func runJobs(ctx context.Context, jobs []job, log *zap.Logger) {
	for _, j := range jobs {
		j := j
		go func() {
			log.Info("job scheduled", zap.String("job", j.name), zap.Duration("interval", j.interval))
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					j.run(ctx)
				}
			}
		}()
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Shutdown()

	trail, err := audit.NewTrail(cfg.Storage.AuditPath)
	if err != nil {
		log.Fatal("Failed to init audit trail", zap.Error(err))
	}
	defer trail.Close()

	// Guard registry: one breaker per protected dependency, one dual-bucket
	// limiter for the venue. All owned here, injected below.
	registry := guard.NewRegistry()
	venueBreaker := guard.NewCircuitBreaker(guard.CircuitBreakerConfig{
		Name:         "venue-rest",
		FailMax:      cfg.Breaker.FailMax,
		ResetTimeout: time.Duration(cfg.Breaker.ResetTimeoutS) * time.Second,
	}, log)
	registry.Register("venue-rest", venueBreaker)

	limiter := guard.NewRateLimiter(guard.RateLimiterConfig{
		WeightCapacity: cfg.RateLimits.WeightCapacity,
		WeightRefill:   cfg.RateLimits.WeightRefill,
		OrderCapacity:  cfg.RateLimits.OrderCapacity,
		OrderRefill:    cfg.RateLimits.OrderRefill,
	}, log)

	gateway := exchange.NewBinanceGateway(
		cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.RESTEndpoint,
		limiter, venueBreaker, log)

	market := stream.NewMarketStream(stream.Config{
		URL:           cfg.Venue.WSEndpoint,
		Symbols:       cfg.Venue.Symbols,
		CheckInterval: time.Duration(cfg.Stream.CheckIntervalS) * time.Second,
		StaleTimeout:  time.Duration(cfg.Stream.StaleTimeoutS) * time.Second,
		MaxRetries:    cfg.Stream.MaxRetries,
	}, gateway, log)
	market.Start()
	defer market.Stop()

	alerts := exchange.NewWebhookAlert(cfg.Alerts.WebhookURL, log)

	risk := usecase.NewRiskManager(usecase.RiskLimits{
		MaxLossPerTrade: cfg.Risk.MaxLossPerTrade,
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
		MaxPositions:    cfg.Risk.MaxPositions,
		CoolDown:        time.Duration(cfg.Risk.CoolDownMinutes) * time.Minute,
	}, store, trail, registry, alerts, log)

	executor := usecase.NewTradeExecutor(risk, market, gateway, store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJobs(ctx, []job{
		{
			name:     "daily-reset",
			interval: 24 * time.Hour,
			run: func(ctx context.Context) {
				risk.ResetDailyState()
			},
		},
		{
			name:     "status-log",
			interval: time.Minute,
			run: func(ctx context.Context) {
				status, err := risk.Status(ctx)
				if err != nil {
					log.Error("status job failed", zap.Error(err))
					return
				}
				log.Info("risk status",
					zap.Bool("kill_switch", status.KillSwitchActive),
					zap.Float64("daily_pnl", status.DailyPnL),
					zap.Int("open_positions", status.OpenPositions),
					zap.String("stream_state", market.State().String()))
			},
		},
	}, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, risk, executor, store, trail, market, registry, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}
