package engine

import (
	"fmt"
	"time"

	"orderbridge/internal/domain"
)

// OrderRequest describes a new order. Size is unsigned; Side carries the
// direction. Price is the limit price for limit orders and the trigger price
// for stop and stop-limit orders; PriceLimit is the stop-limit's limit.
//
// Bracket members are placed with ParentRef and Transmit: a parent with
// Transmit false is parked, its stop-loss child (ParentRef set, Transmit
// false) joins it, and the take-profit child (ParentRef set, Transmit true)
// releases all three as one submission.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Type       domain.OrderType
	Size       float64
	Price      *float64
	PriceLimit *float64
	Expiry     *time.Time
	ParentRef  int64
	Transmit   bool
}

// BracketRequest is an entry order with a protective stop and a profit
// target. StopPrice triggers a stop order and TakePrice sets a limit order,
// both on the opposite side.
type BracketRequest struct {
	Symbol     string
	Type       domain.OrderType
	Size       float64
	Price      *float64
	PriceLimit *float64
	Expiry     *time.Time
	StopPrice  float64
	TakePrice  float64
}

func (r OrderRequest) validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case r.Size <= 0:
		return fmt.Errorf("%w: size %v must be positive", ErrInvalidOrder, r.Size)
	case r.Side != domain.OrderSideBuy && r.Side != domain.OrderSideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	}
	switch r.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit, domain.OrderTypeStop:
		if r.Price == nil {
			return fmt.Errorf("%w: %s order needs a price", ErrInvalidOrder, r.Type)
		}
	case domain.OrderTypeStopLimit:
		if r.Price == nil || r.PriceLimit == nil {
			return fmt.Errorf("%w: stop_limit order needs price and price limit", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, r.Type)
	}
	return nil
}

// Place creates an order and hands it to the bracket coordinator. It returns
// at once with a snapshot; an order failing the risk check comes back
// rejected.
func (e *Engine) Place(req OrderRequest) (*domain.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	account := e.acct.get()

	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.placeLocked(req, account)
	return o.Clone(), nil
}

func (e *Engine) placeLocked(req OrderRequest, account domain.AccountInfo) *domain.Order {
	size := req.Size
	if req.Side == domain.OrderSideSell {
		size = -size
	}
	o := &domain.Order{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Size:       size,
		Price:      copyPrice(req.Price),
		PriceLimit: copyPrice(req.PriceLimit),
		ParentRef:  req.ParentRef,
		Transmit:   req.Transmit,
		Active:     true,
	}
	if req.Expiry != nil {
		exp := *req.Expiry
		o.Expiry = &exp
	}
	switch {
	case req.ParentRef == 0 && !req.Transmit:
		o.Role = domain.RoleParent
	case req.ParentRef != 0 && !req.Transmit:
		o.Role, o.Active = domain.RoleStop, false
	case req.ParentRef != 0:
		o.Role, o.Active = domain.RoleTake, false
	}

	e.ledger.add(o, e.now())
	e.notes.orderUpdate(o, nil)

	if e.opts.Risk != nil && o.Role != domain.RoleStop && o.Role != domain.RoleTake {
		pos := e.ledger.positionSnapshot(o.Symbol)
		if err := e.opts.Risk.CheckOrder(o, account, pos); err != nil {
			e.rejectLocked(o.Ref, "order rejected by risk check", "symbol", o.Symbol, "error", err.Error())
			return o
		}
	}
	e.transmitLocked(o)
	return o
}

// Buy places a buy order that is transmitted at once.
func (e *Engine) Buy(symbol string, size float64, typ domain.OrderType, price *float64) (*domain.Order, error) {
	return e.Place(OrderRequest{Symbol: symbol, Side: domain.OrderSideBuy, Type: typ, Size: size, Price: price, Transmit: true})
}

// Sell places a sell order that is transmitted at once.
func (e *Engine) Sell(symbol string, size float64, typ domain.OrderType, price *float64) (*domain.Order, error) {
	return e.Place(OrderRequest{Symbol: symbol, Side: domain.OrderSideSell, Type: typ, Size: size, Price: price, Transmit: true})
}

// BuyBracket places a buy entry with a sell stop-loss and sell take-profit.
// The returned orders are parent, stop, take.
func (e *Engine) BuyBracket(req BracketRequest) ([]*domain.Order, error) {
	return e.bracket(domain.OrderSideBuy, req)
}

// SellBracket places a sell entry with a buy stop-loss and buy take-profit.
func (e *Engine) SellBracket(req BracketRequest) ([]*domain.Order, error) {
	return e.bracket(domain.OrderSideSell, req)
}

func (e *Engine) bracket(side domain.OrderSide, req BracketRequest) ([]*domain.Order, error) {
	parent := OrderRequest{
		Symbol:     req.Symbol,
		Side:       side,
		Type:       req.Type,
		Size:       req.Size,
		Price:      req.Price,
		PriceLimit: req.PriceLimit,
		Expiry:     req.Expiry,
	}
	if err := parent.validate(); err != nil {
		return nil, err
	}
	if req.StopPrice <= 0 || req.TakePrice <= 0 {
		return nil, fmt.Errorf("%w: bracket needs positive stop and take prices", ErrInvalidOrder)
	}
	stopPrice, takePrice := req.StopPrice, req.TakePrice
	account := e.acct.get()

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.placeLocked(parent, account)
	stop := OrderRequest{
		Symbol:    req.Symbol,
		Side:      side.Opposite(),
		Type:      domain.OrderTypeStop,
		Size:      req.Size,
		Price:     &stopPrice,
		Expiry:    req.Expiry,
		ParentRef: p.Ref,
	}
	take := stop
	take.Type = domain.OrderTypeLimit
	take.Price = &takePrice
	take.Transmit = true

	if p.Status.Terminal() {
		// The parent failed the risk check; its children go down with it.
		s := e.addRejectedLocked(stop)
		t := e.addRejectedLocked(take)
		return []*domain.Order{p.Clone(), s.Clone(), t.Clone()}, nil
	}
	s := e.placeLocked(stop, account)
	t := e.placeLocked(take, account)
	return []*domain.Order{p.Clone(), s.Clone(), t.Clone()}, nil
}

func (e *Engine) addRejectedLocked(req OrderRequest) *domain.Order {
	size := req.Size
	if req.Side == domain.OrderSideSell {
		size = -size
	}
	o := &domain.Order{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Size:      size,
		Price:     copyPrice(req.Price),
		ParentRef: req.ParentRef,
		Transmit:  req.Transmit,
		Role:      domain.RoleStop,
	}
	if req.Transmit {
		o.Role = domain.RoleTake
	}
	e.ledger.add(o, e.now())
	o.Status = domain.OrderStatusRejected
	e.notes.orderUpdate(o, nil)
	return o
}

// Cancel requests cancellation of ref. Parked bracket orders are cancelled
// locally; orders the venue knows go to the cancellation worker; orders with
// no venue id yet and terminal orders are left alone.
func (e *Engine) Cancel(ref int64) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.ledger.get(ref)
	if err != nil {
		return nil, err
	}
	switch {
	case !o.Alive():
	case e.cancelParkedLocked(ref):
	case e.recon.primary(ref) != "":
		e.cancelQ.push(ref)
	default:
		e.log.Debug("cancel ignored, order has no venue id", "ref", ref, "status", o.Status)
	}
	return o.Clone(), nil
}
