package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"orderbridge/internal/commission"
	"orderbridge/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
)

// legal lists the states each non-terminal state may move to.
var legal = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {
		domain.OrderStatusSubmitted, domain.OrderStatusRejected, domain.OrderStatusCancelled,
	},
	domain.OrderStatusSubmitted: {
		domain.OrderStatusAccepted, domain.OrderStatusRejected, domain.OrderStatusCancelled, domain.OrderStatusExpired,
	},
	domain.OrderStatusAccepted: {
		domain.OrderStatusPartiallyFilled, domain.OrderStatusCompleted, domain.OrderStatusRejected,
		domain.OrderStatusCancelled, domain.OrderStatusExpired,
	},
	domain.OrderStatusPartiallyFilled: {
		domain.OrderStatusPartiallyFilled, domain.OrderStatusCompleted,
		domain.OrderStatusCancelled, domain.OrderStatusExpired,
	},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ledger owns every order and position. It is the only code that mutates
// them and is always called with the engine lock held.
type ledger struct {
	orders    map[int64]*domain.Order
	positions map[string]*domain.Position
	nextRef   int64
	comm      commission.Scheme
}

func newLedger(comm commission.Scheme) *ledger {
	if comm == nil {
		comm = commission.None{}
	}
	return &ledger{
		orders:    make(map[int64]*domain.Order),
		positions: make(map[string]*domain.Position),
		comm:      comm,
	}
}

// add assigns o the next ref and stores it in the created state.
func (l *ledger) add(o *domain.Order, now time.Time) *domain.Order {
	l.nextRef++
	o.Ref = l.nextRef
	o.Status = domain.OrderStatusCreated
	o.CreatedAt = now
	o.UpdatedAt = now
	l.orders[o.Ref] = o
	return o
}

func (l *ledger) get(ref int64) (*domain.Order, error) {
	o, ok := l.orders[ref]
	if !ok {
		return nil, fmt.Errorf("ref %d: %w", ref, ErrUnknownOrder)
	}
	return o, nil
}

// transition moves ref to status. Accepting an already accepted or partially
// filled order is a no-op and reports changed=false.
func (l *ledger) transition(ref int64, to domain.OrderStatus, now time.Time) (o *domain.Order, changed bool, err error) {
	o, err = l.get(ref)
	if err != nil {
		return nil, false, err
	}
	if to == domain.OrderStatusAccepted &&
		(o.Status == domain.OrderStatusAccepted || o.Status == domain.OrderStatusPartiallyFilled) {
		return o, false, nil
	}
	if !canTransition(o.Status, to) {
		return o, false, fmt.Errorf("%w: ref %d %s -> %s", ErrInvalidTransition, ref, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return o, true, nil
}

// fill applies an execution of units at price. A fill on a submitted order
// accepts it first. The fill's direction follows the order's, and its size is
// capped at the order's remaining size.
func (l *ledger) fill(ref int64, units, price float64, reason domain.FillReason, now time.Time) (*domain.Order, *domain.Fill, error) {
	o, err := l.get(ref)
	if err != nil {
		return nil, nil, err
	}
	switch o.Status {
	case domain.OrderStatusSubmitted, domain.OrderStatusAccepted, domain.OrderStatusPartiallyFilled:
	default:
		return o, nil, fmt.Errorf("%w: fill on ref %d in %s", ErrInvalidTransition, ref, o.Status)
	}
	size := math.Abs(units)
	if size == 0 {
		return o, nil, fmt.Errorf("%w: zero fill on ref %d", ErrInvalidTransition, ref)
	}
	if rem := o.Remaining(); size > rem {
		size = rem
	}

	if !o.IsBuy() {
		size = -size
	}

	prevFilled := o.FilledSize
	o.FilledSize += size
	o.FilledAvgPrice = (o.FilledAvgPrice*math.Abs(prevFilled) + price*math.Abs(size)) / math.Abs(o.FilledSize)

	fee := l.comm.Commission(size, price)
	o.Commission += fee

	if o.Remaining() == 0 {
		o.Status = domain.OrderStatusCompleted
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = now

	pos := l.position(o.Symbol)
	pos.Update(size, price)
	pos.UpdatedAt = now

	return o, &domain.Fill{
		Ref:        o.Ref,
		OID:        o.OID,
		Symbol:     o.Symbol,
		Size:       size,
		Price:      price,
		Commission: fee,
		Reason:     reason,
		At:         now,
	}, nil
}

func (l *ledger) position(symbol string) *domain.Position {
	p, ok := l.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		l.positions[symbol] = p
	}
	return p
}

// seed replaces the position for p.Symbol, used by the startup load.
func (l *ledger) seed(p domain.Position) {
	cp := p
	l.positions[p.Symbol] = &cp
}

func (l *ledger) positionSnapshot(symbol string) domain.Position {
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return domain.Position{Symbol: symbol}
}

func (l *ledger) positionsSnapshot() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Qty != 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
