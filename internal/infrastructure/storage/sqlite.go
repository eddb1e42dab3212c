package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// SQLiteStore is the durable position ledger. The "one OPEN row per symbol"
// invariant lives in the schema itself: a partial unique index over OPEN
// rows makes the check-then-insert race impossible regardless of what
// callers do.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL CHECK (quantity > 0),
			entry_price REAL NOT NULL CHECK (entry_price > 0),
			entry_time DATETIME NOT NULL,
			exit_price REAL,
			exit_time DATETIME,
			realized_pnl REAL,
			status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
			order_id TEXT NOT NULL,
			exit_order_id TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol
			ON positions(symbol) WHERE status = 'OPEN';`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_exit_time ON positions(exit_time);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func newPositionID() string {
	return ulid.Make().String()
}

// Open inserts a new OPEN position. The partial unique index turns a
// concurrent duplicate open into a constraint violation, which is mapped to
// domain.ErrDuplicatePosition.
func (s *SQLiteStore) Open(ctx context.Context, symbol string, qty, price float64, orderID string) (*domain.Position, error) {
	pos := &domain.Position{
		ID:         newPositionID(),
		Symbol:     symbol,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  time.Now().UTC(),
		Status:     domain.PositionOpen,
		OrderID:    orderID,
	}

	query := `INSERT INTO positions (id, symbol, quantity, entry_price, entry_time, status, order_id)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.EntryTime, pos.Status, pos.OrderID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", symbol, domain.ErrDuplicatePosition)
		}
		return nil, err
	}
	return pos, nil
}

// Close transitions the symbol's OPEN position to CLOSED, computing the
// long-only realized PnL. Select and update run in one transaction so the
// row cannot be closed twice.
func (s *SQLiteStore) Close(ctx context.Context, symbol string, exitPrice float64, exitOrderID string) (*domain.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, quantity, entry_price, entry_time, order_id FROM positions
		 WHERE symbol = ? AND status = 'OPEN'`, symbol)

	pos := &domain.Position{Symbol: symbol, Status: domain.PositionClosed}
	err = row.Scan(&pos.ID, &pos.Quantity, &pos.EntryPrice, &pos.EntryTime, &pos.OrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoOpenPosition)
	}
	if err != nil {
		return nil, err
	}

	pos.ExitPrice = exitPrice
	pos.ExitTime = time.Now().UTC()
	pos.ExitOrderID = exitOrderID
	pos.RealizedPnL = pos.RealizedPnLFor(exitPrice)

	_, err = tx.ExecContext(ctx,
		`UPDATE positions SET status = 'CLOSED', exit_price = ?, exit_time = ?, realized_pnl = ?, exit_order_id = ?
		 WHERE id = ? AND status = 'OPEN'`,
		pos.ExitPrice, pos.ExitTime, pos.RealizedPnL, pos.ExitOrderID, pos.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pos, nil
}

const positionColumns = `id, symbol, quantity, entry_price, entry_time,
	exit_price, exit_time, realized_pnl, status, order_id, exit_order_id`

func scanPosition(row interface{ Scan(...any) error }) (*domain.Position, error) {
	var (
		p           domain.Position
		exitPrice   sql.NullFloat64
		exitTime    sql.NullTime
		realizedPnL sql.NullFloat64
		exitOrderID sql.NullString
	)
	err := row.Scan(&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.EntryTime,
		&exitPrice, &exitTime, &realizedPnL, &p.Status, &p.OrderID, &exitOrderID)
	if err != nil {
		return nil, err
	}
	p.ExitPrice = exitPrice.Float64
	p.ExitTime = exitTime.Time
	p.RealizedPnL = realizedPnL.Float64
	p.ExitOrderID = exitOrderID.String
	return &p, nil
}

// GetOpen returns the OPEN position for a symbol, or ErrNoOpenPosition.
func (s *SQLiteStore) GetOpen(ctx context.Context, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status = 'OPEN'`, symbol)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoOpenPosition)
	}
	return pos, err
}

// ListOpen returns all OPEN positions.
func (s *SQLiteStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = 'OPEN' ORDER BY entry_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

// History returns CLOSED positions, newest first, optionally filtered by
// symbol and limited in count.
func (s *SQLiteStore) History(ctx context.Context, symbol string, limit int) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = 'CLOSED'`
	args := []any{}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY exit_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

// CountOpen returns the number of OPEN positions.
func (s *SQLiteStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = 'OPEN'`).Scan(&n)
	return n, err
}

// TotalRealizedPnL sums realized PnL over all CLOSED positions.
func (s *SQLiteStore) TotalRealizedPnL(ctx context.Context) (float64, error) {
	var pnl float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE status = 'CLOSED'`).Scan(&pnl)
	return pnl, err
}

// RealizedPnLSince sums realized PnL over positions closed at or after the
// given instant. The risk manager uses this for the daily-loss check.
func (s *SQLiteStore) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var pnl float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions WHERE status = 'CLOSED' AND exit_time >= ?`,
		since.UTC()).Scan(&pnl)
	return pnl, err
}

// Shutdown releases the database handle.
func (s *SQLiteStore) Shutdown() error { return s.db.Close() }

func collectPositions(rows *sql.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
