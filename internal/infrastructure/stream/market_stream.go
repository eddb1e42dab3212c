package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// State is the stream lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDegraded // retries exhausted, fallback-only
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Config tunes health monitoring and reconnection.
type Config struct {
	URL           string
	Symbols       []string
	CheckInterval time.Duration // watchdog cadence
	StaleTimeout  time.Duration // no message for this long means unhealthy
	BaseDelay     time.Duration // first reconnect backoff
	MaxDelay      time.Duration // backoff cap
	MaxRetries    int           // attempts before DEGRADED
	ReadTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
}

// MarketStream maintains live best-bid/best-ask snapshots over a websocket,
// degrading to point queries through the venue gateway when the stream is
// down.
//
// Three goroutines coordinate through one signal channel and one data lock:
// the reader updates snapshots, the watchdog detects staleness and only
// ever signals, and the control loop is the sole place a reconnect runs.
// The watchdog never tears down the connection it is observing; doing the
// teardown inline would deadlock it against the reader it monitors.
type MarketStream struct {
	cfg      Config
	fallback domain.PriceSource
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	tickers     map[string]*domain.MarketTicker
	lastMessage time.Time

	reconnectCh chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	readerWG    sync.WaitGroup
}

func NewMarketStream(cfg Config, fallback domain.PriceSource, logger *zap.Logger) *MarketStream {
	cfg.applyDefaults()
	return &MarketStream{
		cfg:         cfg,
		fallback:    fallback,
		logger:      logger,
		state:       StateDisconnected,
		tickers:     make(map[string]*domain.MarketTicker),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the watchdog and control loop and requests the initial
// connection. It never blocks on the venue.
func (s *MarketStream) Start() {
	s.wg.Add(2)
	go s.watchdog()
	go s.controlLoop()
	s.signalReconnect()
}

// Stop terminates the reader, watchdog and control loop. Idempotent; waits
// a bounded time for the goroutines to exit.
func (s *MarketStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.closeConn()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			s.readerWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("market stream stop timed out")
		}
	})
}

// State returns the current lifecycle state.
func (s *MarketStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LatestTicker returns the last complete snapshot for a symbol, if any.
func (s *MarketStream) LatestTicker(symbol string) (*domain.MarketTicker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[symbol]
	if !ok {
		return nil, false
	}
	copied := *t
	return &copied, true
}

// LatestPrice returns the best-effort current price for a symbol. A fresh
// stream snapshot wins; otherwise the call transparently falls back to the
// gateway point query. Only when both paths fail does it report
// ErrPriceUnavailable.
func (s *MarketStream) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	t, ok := s.tickers[symbol]
	fresh := s.state == StateConnected && time.Since(s.lastMessage) < s.cfg.StaleTimeout
	var price float64
	if ok && fresh {
		price = t.Mid()
	}
	s.mu.Unlock()

	if price > 0 {
		return price, nil
	}

	price, err := s.fallback.TickerPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}

// watchdog periodically compares the last message time against the
// staleness timeout. On staleness it signals the control loop and nothing
// else.
func (s *MarketStream) watchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := s.state == StateConnected && time.Since(s.lastMessage) > s.cfg.StaleTimeout
			s.mu.Unlock()

			if stale {
				s.logger.Warn("market stream stale, requesting reconnect",
					zap.Duration("stale_timeout", s.cfg.StaleTimeout))
				s.signalReconnect()
			}
		}
	}
}

// signalReconnect posts a reconnect request without blocking. A request
// already pending is enough; duplicates coalesce.
func (s *MarketStream) signalReconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// controlLoop is the single consumer of reconnect requests, so at most one
// reconnect attempt is ever in flight.
func (s *MarketStream) controlLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.reconnectCh:
			s.reconnect()
		}
	}
}

func (s *MarketStream) reconnect() {
	s.closeConn()
	s.readerWG.Wait()

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.state = StateConnecting
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if attempt > 0 {
			delay := backoff(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt-1)
			s.logger.Info("reconnect backoff",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
		}

		if err := s.connect(); err != nil {
			s.logger.Warn("stream connect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		// A stale signal from the reader of the connection just torn down
		// must not trigger another cycle.
		select {
		case <-s.reconnectCh:
		default:
		}
		return
	}

	s.mu.Lock()
	s.state = StateDegraded
	s.mu.Unlock()
	s.logger.Error("market stream degraded, fallback-only",
		zap.Int("max_retries", s.cfg.MaxRetries))
}

func (s *MarketStream) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.streamURL(), nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.lastMessage = time.Now()
	s.mu.Unlock()

	s.readerWG.Add(1)
	go s.readLoop(conn)

	s.logger.Info("market stream connected", zap.Strings("symbols", s.cfg.Symbols))
	return nil
}

func (s *MarketStream) streamURL() string {
	streams := make([]string, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}
	return s.cfg.URL + "/stream?streams=" + strings.Join(streams, "/")
}

// readLoop owns exactly one connection and exits when it dies. A transport
// error is reported the same way watchdog staleness is: by signaling the
// control loop.
func (s *MarketStream) readLoop(conn *websocket.Conn) {
	defer s.readerWG.Done()

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.logger.Warn("stream read error", zap.Error(err))
				s.signalReconnect()
			}
			return
		}
		s.handleMessage(msg)
	}
}

type bookTickerPayload struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func (s *MarketStream) handleMessage(msg []byte) {
	// Combined-stream envelope; raw payloads arrive without it.
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	payload := msg
	if err := json.Unmarshal(msg, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var raw bookTickerPayload
	if err := json.Unmarshal(payload, &raw); err != nil || raw.Symbol == "" {
		return
	}

	bid, _ := strconv.ParseFloat(raw.BidPrice, 64)
	bidQty, _ := strconv.ParseFloat(raw.BidQty, 64)
	ask, _ := strconv.ParseFloat(raw.AskPrice, 64)
	askQty, _ := strconv.ParseFloat(raw.AskQty, 64)

	// Whole-snapshot replacement under the data lock; readers never see a
	// half-updated quote.
	snapshot := &domain.MarketTicker{
		Symbol:     raw.Symbol,
		BestBid:    bid,
		BestBidQty: bidQty,
		BestAsk:    ask,
		BestAskQty: askQty,
		UpdateID:   raw.UpdateID,
	}

	s.mu.Lock()
	s.tickers[raw.Symbol] = snapshot
	s.lastMessage = time.Now()
	s.mu.Unlock()
}

func (s *MarketStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// backoff doubles the base delay per attempt, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max {
		return max
	}
	return d
}
