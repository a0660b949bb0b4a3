package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderbridge/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading and
// tests. It tracks positions and orders in memory without making external
// API calls. Market orders are filled at the last price set for their symbol;
// everything else waits for Emit.
type SimulatorBroker struct {
	// OnSubmit, when set, replaces the default submission behaviour.
	OnSubmit func(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	// OnCancel, when set, replaces the default cancel behaviour.
	OnCancel func(ctx context.Context, oid string) error

	mu         sync.Mutex
	nextID     int
	positions  map[string]*domain.Position
	prices     map[string]float64
	orders     map[string]SubmitRequest
	account    domain.AccountInfo
	accountErr error
	submitted  []SubmitRequest
	cancelled  []string

	events chan domain.Event
	closed bool
}

// NewSimulatorBroker creates a new SimulatorBroker holding cash and no
// positions.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		positions: make(map[string]*domain.Position),
		prices:    make(map[string]float64),
		orders:    make(map[string]SubmitRequest),
		account:   domain.AccountInfo{Cash: cash, Equity: cash, BuyingPower: cash},
		events:    make(chan domain.Event, 1024),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPrice sets the price market orders on symbol fill at.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetPosition seeds a venue-side position.
func (b *SimulatorBroker) SetPosition(symbol string, qty, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &domain.Position{Symbol: symbol}
	p.Update(qty, price)
	b.positions[symbol] = p
	b.prices[symbol] = price
}

// SetAccountError makes GetAccount fail with err until reset with nil.
func (b *SimulatorBroker) SetAccountError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accountErr = err
}

// Submitted returns a copy of every request that reached the venue.
func (b *SimulatorBroker) Submitted() []SubmitRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SubmitRequest(nil), b.submitted...)
}

// Cancelled returns the oids cancelled so far.
func (b *SimulatorBroker) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// SubmitOrder records the order and assigns it (and its legs) venue ids.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, req)
	hook := b.OnSubmit
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, req)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	oid := b.newID()
	b.orders[oid] = req
	res := SubmitResult{OIDs: []string{oid}}
	if req.IsBracket() {
		res.Legs = make(map[domain.BracketRole][]string, 2)
		legs := []struct {
			role domain.BracketRole
			leg  *Leg
		}{{domain.RoleStop, req.StopLoss}, {domain.RoleTake, req.TakeProfit}}
		for _, l := range legs {
			if l.leg == nil {
				continue
			}
			id := b.newID()
			b.orders[id] = SubmitRequest{
				Symbol:     req.Symbol,
				Qty:        req.Qty,
				Side:       req.Side.Opposite(),
				Type:       l.leg.Type,
				LimitPrice: l.leg.PriceLimit,
			}
			res.Legs[l.role] = []string{id}
		}
	}

	now := time.Now()
	if req.Type == domain.OrderTypeMarket {
		if price, ok := b.prices[req.Symbol]; ok {
			b.applyFillLocked(req, price)
			b.emitLocked(domain.OrderCreated{
				ID:        oid,
				OrderType: domain.OrderTypeMarket,
				Side:      req.Side,
				Units:     req.Qty,
				Price:     price,
				At:        now,
			})
		}
	} else {
		b.emitLocked(domain.OrderCreated{ID: oid, OrderType: req.Type, Side: req.Side, At: now})
	}
	return res, nil
}

// CancelOrder forgets the order and reports the cancel on the event stream.
func (b *SimulatorBroker) CancelOrder(ctx context.Context, oid string) error {
	b.mu.Lock()
	b.cancelled = append(b.cancelled, oid)
	hook := b.OnCancel
	b.mu.Unlock()
	if hook != nil {
		return hook(ctx, oid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[oid]; !ok {
		return fmt.Errorf("cancel %s: %w", oid, ErrUnknownOrder)
	}
	delete(b.orders, oid)
	b.emitLocked(domain.OrderCancelled{OrderID: oid, Reason: domain.CancelReasonClientRequest, At: time.Now()})
	return nil
}

// GetPositions returns all simulated positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Qty != 0 {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

// GetAccount returns simulated account information, marking positions at the
// last known price.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accountErr != nil {
		return nil, b.accountErr
	}
	acct := b.account
	acct.Equity = acct.Cash
	for sym, p := range b.positions {
		acct.Equity += p.Qty * b.prices[sym]
	}
	acct.UpdatedAt = time.Now()
	return &acct, nil
}

// Events returns the simulated event stream. It is closed when ctx is done.
func (b *SimulatorBroker) Events(ctx context.Context) (<-chan domain.Event, error) {
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.closed {
			b.closed = true
			close(b.events)
		}
	}()
	return b.events, nil
}

// Emit injects ev into the event stream. It reports false if the stream is
// closed or full.
func (b *SimulatorBroker) Emit(ev domain.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitLocked(ev)
}

func (b *SimulatorBroker) emitLocked(ev domain.Event) bool {
	if b.closed {
		return false
	}
	select {
	case b.events <- ev:
		return true
	default:
		return false
	}
}

func (b *SimulatorBroker) applyFillLocked(req SubmitRequest, price float64) {
	size := req.Qty
	if req.Side == domain.OrderSideSell {
		size = -size
	}
	p, ok := b.positions[req.Symbol]
	if !ok {
		p = &domain.Position{Symbol: req.Symbol}
		b.positions[req.Symbol] = p
	}
	p.Update(size, price)
	p.UpdatedAt = time.Now()
	b.account.Cash -= size * price
}

func (b *SimulatorBroker) newID() string {
	b.nextID++
	return fmt.Sprintf("SIM-%d", b.nextID)
}
