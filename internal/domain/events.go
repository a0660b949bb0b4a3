package domain

import "time"

// EventType tags a venue event.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
	EventTradeClosed    EventType = "trade_closed"
	EventUnknown        EventType = "unknown"
)

// Event is a decoded venue event. Each variant carries only the fields its
// type guarantees; Lookup exposes them by venue key so id extraction can be
// driven by a table.
type Event interface {
	Type() EventType
	Lookup(key string) (string, bool)
}

// FillReason tells which leg produced a fill.
type FillReason string

const (
	FillReasonOrder        FillReason = "order"
	FillReasonStopLoss     FillReason = "stop_loss"
	FillReasonTakeProfit   FillReason = "take_profit"
	FillReasonTrailingStop FillReason = "trailing_stop"
)

// CancelReason is the venue's explanation for an order cancel.
type CancelReason string

const (
	CancelReasonFilled        CancelReason = "filled"
	CancelReasonExpired       CancelReason = "expired"
	CancelReasonClientRequest CancelReason = "client_request"
	CancelReasonOther         CancelReason = "other"
)

// OrderCreated confirms the venue created an order. Market orders are
// reported with the execution already attached.
type OrderCreated struct {
	ID             string
	OrderType      OrderType
	TradeOpenedID  string
	TradeReducedID string
	Side           OrderSide
	Units          float64
	Price          float64
	At             time.Time
}

func (OrderCreated) Type() EventType { return EventOrderCreated }

func (e OrderCreated) Lookup(key string) (string, bool) {
	switch key {
	case "id":
		return e.ID, e.ID != ""
	case "tradeOpened.id":
		return e.TradeOpenedID, e.TradeOpenedID != ""
	case "tradeReduced.id":
		return e.TradeReducedID, e.TradeReducedID != ""
	}
	return "", false
}

// OrderFilled reports an execution. Units is unsigned; Side gives direction.
type OrderFilled struct {
	OrderID string
	Side    OrderSide
	Units   float64
	Price   float64
	Reason  FillReason
	At      time.Time
}

func (OrderFilled) Type() EventType { return EventOrderFilled }

func (e OrderFilled) Lookup(key string) (string, bool) {
	if key == "orderId" {
		return e.OrderID, e.OrderID != ""
	}
	return "", false
}

// SignedUnits returns Units with the sign of Side.
func (e OrderFilled) SignedUnits() float64 {
	if e.Side == OrderSideSell {
		return -e.Units
	}
	return e.Units
}

// OrderCancelled reports the venue removed an order.
type OrderCancelled struct {
	OrderID string
	Reason  CancelReason
	At      time.Time
}

func (OrderCancelled) Type() EventType { return EventOrderCancelled }

func (e OrderCancelled) Lookup(key string) (string, bool) {
	if key == "orderId" {
		return e.OrderID, e.OrderID != ""
	}
	return "", false
}

// TradeClosed reports a position closed outside this client.
type TradeClosed struct {
	ID      string
	TradeID string
	At      time.Time
}

func (TradeClosed) Type() EventType { return EventTradeClosed }

func (e TradeClosed) Lookup(key string) (string, bool) {
	switch key {
	case "id":
		return e.ID, e.ID != ""
	case "tradeId":
		return e.TradeID, e.TradeID != ""
	}
	return "", false
}

// UnknownEvent wraps anything the decoder did not recognise.
type UnknownEvent struct {
	Name   string
	Fields map[string]string
}

func (UnknownEvent) Type() EventType { return EventUnknown }

func (e UnknownEvent) Lookup(key string) (string, bool) {
	v, ok := e.Fields[key]
	return v, ok && v != ""
}
