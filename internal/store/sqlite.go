package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orderbridge/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ FillStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)

// Order refs restart at 1 with every engine, so orders are keyed by the
// session that created them.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	session          TEXT    NOT NULL,
	ref              INTEGER NOT NULL,
	symbol           TEXT    NOT NULL,
	side             TEXT    NOT NULL,
	type             TEXT    NOT NULL,
	size             REAL    NOT NULL,
	price            REAL,
	price_limit      REAL,
	expiry           INTEGER,
	parent_ref       INTEGER NOT NULL DEFAULT 0,
	role             TEXT    NOT NULL DEFAULT '',
	status           TEXT    NOT NULL,
	filled_size      REAL    NOT NULL DEFAULT 0,
	filled_avg_price REAL    NOT NULL DEFAULT 0,
	commission       REAL    NOT NULL DEFAULT 0,
	oid              TEXT    NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	PRIMARY KEY (session, ref)
);
CREATE INDEX IF NOT EXISTS orders_status ON orders (status);

CREATE TABLE IF NOT EXISTS fills (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT    NOT NULL,
	ref        INTEGER NOT NULL,
	oid        TEXT    NOT NULL,
	symbol     TEXT    NOT NULL,
	size       REAL    NOT NULL,
	price      REAL    NOT NULL,
	commission REAL    NOT NULL,
	reason     TEXT    NOT NULL,
	at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_at ON fills (at);

CREATE TABLE IF NOT EXISTS positions (
	symbol     TEXT PRIMARY KEY,
	qty        REAL    NOT NULL,
	avg_price  REAL    NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore implements OrderStore, FillStore and PositionStore backed by a
// SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	session string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables and returns a store scoped to a fresh session.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db, session: uuid.NewString()}, nil
}

// Session returns the id orders of this store are recorded under.
func (s *SQLiteStore) Session() string {
	return s.session
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder upserts the order's latest snapshot.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (session, ref, symbol, side, type, size, price, price_limit, expiry,
	parent_ref, role, status, filled_size, filled_avg_price, commission, oid, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session, ref) DO UPDATE SET
	status = excluded.status,
	filled_size = excluded.filled_size,
	filled_avg_price = excluded.filled_avg_price,
	commission = excluded.commission,
	oid = excluded.oid,
	updated_at = excluded.updated_at`,
		s.session, o.Ref, o.Symbol, string(o.Side), string(o.Type), o.Size,
		nullFloat(o.Price), nullFloat(o.PriceLimit), nullTime(o.Expiry),
		o.ParentRef, string(o.Role), string(o.Status),
		o.FilledSize, o.FilledAvgPrice, o.Commission, o.OID,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving order %d: %w", o.Ref, err)
	}
	return nil
}

const orderColumns = `ref, symbol, side, type, size, price, price_limit, expiry, parent_ref, role,
	status, filled_size, filled_avg_price, commission, oid, created_at, updated_at`

// GetOrder retrieves a single order of this session by its ref.
func (s *SQLiteStore) GetOrder(ctx context.Context, ref int64) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session = ? AND ref = ?`, s.session, ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns this session's orders matching the given status.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session = ?`
	args := []any{s.session}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY ref`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*domain.Order, error) {
	var (
		o                       domain.Order
		side, typ, role, status string
		price, priceLimit       sql.NullFloat64
		expiry                  sql.NullInt64
		createdAt, updatedAt    int64
	)
	err := sc.Scan(&o.Ref, &o.Symbol, &side, &typ, &o.Size, &price, &priceLimit, &expiry,
		&o.ParentRef, &role, &status, &o.FilledSize, &o.FilledAvgPrice, &o.Commission, &o.OID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Role = domain.BracketRole(role)
	o.Status = domain.OrderStatus(status)
	if price.Valid {
		o.Price = &price.Float64
	}
	if priceLimit.Valid {
		o.PriceLimit = &priceLimit.Float64
	}
	if expiry.Valid {
		t := time.UnixMilli(expiry.Int64)
		o.Expiry = &t
	}
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// SaveFill appends a fill to the journal.
func (s *SQLiteStore) SaveFill(ctx context.Context, f *domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fills (session, ref, oid, symbol, size, price, commission, reason, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, f.Ref, f.OID, f.Symbol, f.Size, f.Price, f.Commission, string(f.Reason), f.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving fill for order %d: %w", f.Ref, err)
	}
	return nil
}

// ListFills returns fills at or after since across all sessions, oldest
// first.
func (s *SQLiteStore) ListFills(ctx context.Context, since time.Time) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ref, oid, symbol, size, price, commission, reason, at
FROM fills WHERE at >= ? ORDER BY at, id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f      domain.Fill
			reason string
			at     int64
		)
		if err := rows.Scan(&f.Ref, &f.OID, &f.Symbol, &f.Size, &f.Price, &f.Commission, &reason, &at); err != nil {
			return nil, err
		}
		f.Reason = domain.FillReason(reason)
		f.At = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// SavePosition inserts or updates a position for a symbol.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO positions (symbol, qty, avg_price, updated_at) VALUES (?, ?, ?, ?)`,
		p.Symbol, p.Qty, p.AvgPrice, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving position %s: %w", p.Symbol, err)
	}
	return nil
}

// GetPosition retrieves the current position for a symbol.
func (s *SQLiteStore) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT symbol, qty, avg_price, updated_at FROM positions WHERE symbol = ?`, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", symbol, ErrNotFound)
	}
	return p, err
}

// ListPositions returns all open positions.
func (s *SQLiteStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, qty, avg_price, updated_at FROM positions WHERE qty != 0 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePosition removes the position for a symbol.
func (s *SQLiteStore) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("deleting position %s: %w", symbol, err)
	}
	return nil
}

func scanPosition(sc scanner) (*domain.Position, error) {
	var (
		p         domain.Position
		updatedAt int64
	)
	if err := sc.Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &updatedAt); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.UnixMilli(updatedAt)
	switch {
	case p.Qty > 0:
		p.Side = domain.PositionSideLong
	case p.Qty < 0:
		p.Side = domain.PositionSideShort
	}
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
