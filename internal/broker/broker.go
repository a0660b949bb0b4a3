// Package broker defines the Broker interface the order engine talks to and
// provides implementations for live (Alpaca) and simulated venues.
package broker

import (
	"context"
	"errors"
	"time"

	"orderbridge/internal/domain"
)

var (
	// ErrNotConnected is returned when the venue cannot be reached or
	// refuses the credentials.
	ErrNotConnected = errors.New("broker not connected")

	// ErrUnknownOrder is returned when the venue does not know an order id.
	ErrUnknownOrder = errors.New("broker: unknown order")
)

// TimeInForce is the lifetime of a submitted order.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTD TimeInForce = "gtd"
)

// Leg is an attached stop-loss or take-profit child of a bracket submission.
type Leg struct {
	Type       domain.OrderType
	Price      float64
	PriceLimit *float64
}

// SubmitRequest is the venue-neutral encoding of an order submission. Qty is
// always unsigned; Side carries the direction.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Qty           float64
	Side          domain.OrderSide
	Type          domain.OrderType
	LimitPrice    *float64
	StopPrice     *float64
	TimeInForce   TimeInForce
	ExpireDate    *time.Time
	StopLoss      *Leg
	TakeProfit    *Leg
}

// IsBracket reports whether the request carries attached legs.
func (r SubmitRequest) IsBracket() bool {
	return r.StopLoss != nil || r.TakeProfit != nil
}

// SubmitResult holds the venue ids assigned on acceptance. OIDs belong to the
// submitted order, the first one being its primary id. Legs holds the ids of
// attached children when the venue assigns them separately.
type SubmitResult struct {
	OIDs []string
	Legs map[domain.BracketRole][]string
}

// Broker abstracts the venue capabilities the order engine depends on.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order (or a bracket group) to the venue.
	SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// CancelOrder requests cancellation of an open order by its venue id.
	CancelOrder(ctx context.Context, oid string) error

	// GetPositions returns all current positions held at the venue.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's balances.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)

	// Events subscribes to the venue's order event stream. The channel is
	// closed when ctx is done. An error here means the venue refused the
	// session and is fatal at startup.
	Events(ctx context.Context) (<-chan domain.Event, error)
}
