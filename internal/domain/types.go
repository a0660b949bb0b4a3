// Package domain holds the core types shared across orderbridge: orders,
// fills, positions, account snapshots and the venue events that drive
// order state.
package domain

import (
	"math"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// BracketRole is the position of an order inside a bracket group.
type BracketRole string

const (
	RoleNone   BracketRole = ""
	RoleParent BracketRole = "parent"
	RoleStop   BracketRole = "stop"
	RoleTake   BracketRole = "take"
)

// Order is the internal record of a single order. Size is signed: positive
// for buys, negative for sells.
type Order struct {
	Ref        int64
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Size       float64
	Price      *float64
	PriceLimit *float64
	Expiry     *time.Time // nil means a day order
	ParentRef  int64
	Transmit   bool
	Role       BracketRole
	Active     bool // false while a bracket child waits for its parent

	Status         OrderStatus
	FilledSize     float64
	FilledAvgPrice float64
	Commission     float64
	OID            string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy safe to hand outside the ledger.
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.PriceLimit != nil {
		p := *o.PriceLimit
		c.PriceLimit = &p
	}
	if o.Expiry != nil {
		e := *o.Expiry
		c.Expiry = &e
	}
	return &c
}

// Remaining is the unsigned size still open.
func (o *Order) Remaining() float64 {
	r := math.Abs(o.Size) - math.Abs(o.FilledSize)
	if r < 1e-9 {
		return 0
	}
	return r
}

// Alive reports whether the order can still trade or be cancelled.
func (o *Order) Alive() bool {
	return !o.Status.Terminal()
}

// IsBuy reports whether the order buys.
func (o *Order) IsBuy() bool {
	return o.Size > 0
}

// Fill is one confirmed execution against an order.
type Fill struct {
	Ref        int64
	OID        string
	Symbol     string
	Size       float64 // signed
	Price      float64
	Commission float64
	Reason     FillReason
	At         time.Time
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideFlat  PositionSide = ""
)

// Position is the net holding of one symbol.
type Position struct {
	Symbol    string
	Qty       float64 // signed
	AvgPrice  float64
	Side      PositionSide
	UpdatedAt time.Time
}

// Update applies an execution of size at price and returns the previous
// size. Adding to the position moves the average price, reducing it keeps the
// price, crossing zero restarts at the execution price.
func (p *Position) Update(size, price float64) float64 {
	prev := p.Qty
	next := prev + size
	switch {
	case math.Abs(next) < 1e-9:
		next = 0
		p.AvgPrice = 0
	case prev == 0:
		p.AvgPrice = price
	case (prev > 0) == (size > 0):
		p.AvgPrice = (p.AvgPrice*prev + price*size) / next
	case (prev > 0) != (next > 0):
		p.AvgPrice = price
	}
	p.Qty = next
	switch {
	case next > 0:
		p.Side = PositionSideLong
	case next < 0:
		p.Side = PositionSideShort
	default:
		p.Side = PositionSideFlat
	}
	return prev
}

// AccountInfo is a snapshot of account balances.
type AccountInfo struct {
	Cash        float64
	Equity      float64
	BuyingPower float64
	UpdatedAt   time.Time
}
