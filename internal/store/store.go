// Package store defines storage interfaces for the order journal and
// implements them on SQLite (orders, fills, positions) and Parquet (daily
// fill archives).
package store

import (
	"context"
	"errors"
	"time"

	"orderbridge/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts the order or replaces its previous snapshot.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ref.
	GetOrder(ctx context.Context, ref int64) (*domain.Order, error)

	// ListOrders returns all orders matching the given status, or every
	// order when status is empty.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
}

// FillStore persists executions.
type FillStore interface {
	// SaveFill appends a fill.
	SaveFill(ctx context.Context, fill *domain.Fill) error

	// ListFills returns fills at or after since, oldest first.
	ListFills(ctx context.Context, since time.Time) ([]domain.Fill, error)
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// SavePosition inserts or updates a position for a symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves the current position for a symbol.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// ListPositions returns all open positions.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// DeletePosition removes the position for a symbol.
	DeletePosition(ctx context.Context, symbol string) error
}

// FillArchive writes fills to long-term columnar storage.
type FillArchive interface {
	// WriteFills merges fills into the archive, one file per trading day.
	WriteFills(ctx context.Context, fills []domain.Fill) error

	// ReadFills returns the archived fills of day.
	ReadFills(ctx context.Context, day time.Time) ([]domain.Fill, error)
}
