package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// MockPositionRepo is an in-memory domain.PositionRepository with the same
// one-OPEN-row-per-symbol guarantee as the real store.
type MockPositionRepo struct {
	GetOpenErr error // injected failure for the open-position lookup

	mu         sync.Mutex
	open       map[string]*domain.Position
	closed     []*domain.Position
	pnlQueries int
	nextID     int
}

func NewMockPositionRepo() *MockPositionRepo {
	return &MockPositionRepo{open: make(map[string]*domain.Position)}
}

func (m *MockPositionRepo) Open(ctx context.Context, symbol string, qty, price float64, orderID string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.open[symbol]; exists {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrDuplicatePosition)
	}
	m.nextID++
	pos := &domain.Position{
		ID:         fmt.Sprintf("pos-%d", m.nextID),
		Symbol:     symbol,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  time.Now().UTC(),
		Status:     domain.PositionOpen,
		OrderID:    orderID,
	}
	m.open[symbol] = pos
	return pos, nil
}

func (m *MockPositionRepo) Close(ctx context.Context, symbol string, exitPrice float64, exitOrderID string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, exists := m.open[symbol]
	if !exists {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoOpenPosition)
	}
	delete(m.open, symbol)

	pos.Status = domain.PositionClosed
	pos.ExitPrice = exitPrice
	pos.ExitTime = time.Now().UTC()
	pos.ExitOrderID = exitOrderID
	pos.RealizedPnL = pos.RealizedPnLFor(exitPrice)
	m.closed = append(m.closed, pos)
	return pos, nil
}

func (m *MockPositionRepo) GetOpen(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetOpenErr != nil {
		return nil, m.GetOpenErr
	}
	pos, exists := m.open[symbol]
	if !exists {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoOpenPosition)
	}
	return pos, nil
}

func (m *MockPositionRepo) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.open {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockPositionRepo) History(ctx context.Context, symbol string, limit int) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.closed {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPositionRepo) CountOpen(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open), nil
}

func (m *MockPositionRepo) TotalRealizedPnL(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, p := range m.closed {
		sum += p.RealizedPnL
	}
	return sum, nil
}

func (m *MockPositionRepo) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnlQueries++
	var sum float64
	for _, p := range m.closed {
		if !p.ExitTime.Before(since) {
			sum += p.RealizedPnL
		}
	}
	return sum, nil
}

func (m *MockPositionRepo) PnLQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnlQueries
}

// MockTrail records audit entries in memory.
type MockTrail struct {
	mu      sync.Mutex
	entries []mockEntry
}

type mockEntry struct {
	Event  string
	Fields map[string]any
}

func (m *MockTrail) Write(event string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.entries = append(m.entries, mockEntry{Event: event, Fields: copied})
	return nil
}

func (m *MockTrail) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

func (m *MockTrail) Last() *mockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	e := m.entries[len(m.entries)-1]
	return &e
}

func (m *MockTrail) Has(event string) bool {
	for _, e := range m.Events() {
		if e == event {
			return true
		}
	}
	return false
}

// MockAlert captures kill-switch notifications.
type MockAlert struct {
	mu       sync.Mutex
	messages []string
}

func (m *MockAlert) Send(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func (m *MockAlert) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// MockQuoter returns a fixed price.
type MockQuoter struct {
	Price float64
	Err   error
}

func (m *MockQuoter) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	return m.Price, m.Err
}

// MockGateway simulates the venue: fills at a fixed price and hands out
// fixed constraints.
type MockGateway struct {
	mu          sync.Mutex
	FillPrice   float64
	Constraints *domain.OrderConstraints
	SubmitErr   error
	submits     []submittedOrder
	orderSeq    int
}

type submittedOrder struct {
	Symbol   string
	Side     domain.Side
	QuoteQty float64
}

func (m *MockGateway) SubmitMarketOrder(ctx context.Context, symbol string, side domain.Side, quoteQty float64) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.submits = append(m.submits, submittedOrder{Symbol: symbol, Side: side, QuoteQty: quoteQty})
	m.orderSeq++
	return &domain.OrderResult{
		OrderID:     fmt.Sprintf("venue-%d", m.orderSeq),
		ExecutedQty: quoteQty / m.FillPrice,
		AvgPrice:    m.FillPrice,
	}, nil
}

func (m *MockGateway) OrderConstraints(ctx context.Context, symbol string) (*domain.OrderConstraints, error) {
	if m.Constraints != nil {
		return m.Constraints, nil
	}
	return &domain.OrderConstraints{Symbol: symbol}, nil
}

func (m *MockGateway) Submits() []submittedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submittedOrder(nil), m.submits...)
}
