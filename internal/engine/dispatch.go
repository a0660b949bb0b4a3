package engine

import (
	"math"

	"orderbridge/internal/domain"
)

type route int

const (
	routeCreated route = iota
	routeFilled
	routeCancelled
	routeTradeClosed
)

// rule says where an event type keeps its oid and how it is handled. Keys are
// tried in order.
type rule struct {
	keys  []string
	route route
}

var rules = map[domain.EventType]rule{
	domain.EventOrderCreated:   {keys: []string{"tradeReduced.id", "tradeOpened.id", "id"}, route: routeCreated},
	domain.EventOrderFilled:    {keys: []string{"orderId"}, route: routeFilled},
	domain.EventOrderCancelled: {keys: []string{"orderId"}, route: routeCancelled},
	domain.EventTradeClosed:    {keys: []string{"id"}, route: routeTradeClosed},
}

// extractOID returns the first key of r present on ev.
func (r rule) extractOID(ev domain.Event) (string, bool) {
	for _, k := range r.keys {
		if v, ok := ev.Lookup(k); ok {
			return v, true
		}
	}
	return "", false
}

// dispatch routes one venue event: to the ledger when its oid is mapped, to
// the pending buffer when not. Anything unusable becomes a notification.
func (e *Engine) dispatch(ev domain.Event) {
	r, ok := rules[ev.Type()]
	if !ok {
		name := string(ev.Type())
		if u, isUnknown := ev.(domain.UnknownEvent); isUnknown {
			name = u.Name
		}
		e.log.Warn("unknown venue event", "type", name)
		e.notes.notify(LevelWarn, "unknown venue event dropped", "type", name)
		return
	}

	if r.route == routeTradeClosed {
		id, _ := r.extractOID(ev)
		e.log.Info("trade closed outside this client", "id", id)
		e.notes.notify(LevelInfo, "trade closed, possibly generated by another client", "id", id)
		return
	}

	oid, ok := r.extractOID(ev)
	if !ok {
		e.log.Warn("venue event without order id", "type", ev.Type())
		e.notes.notify(LevelWarn, "venue event without order id dropped", "type", string(ev.Type()))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.recon.lookup(oid)
	if !ok {
		e.log.Debug("buffering event for unmapped oid", "oid", oid, "type", ev.Type())
		e.reportEvictedLocked(e.recon.buffer(oid, ev, e.now()))
		return
	}
	e.applyLocked(ref, oid, ev)
}

// applyLocked performs the state change an event asks for on ref.
func (e *Engine) applyLocked(ref int64, oid string, ev domain.Event) {
	o, err := e.ledger.get(ref)
	if err != nil {
		e.log.Warn("event for missing order", "ref", ref, "oid", oid)
		return
	}

	switch v := ev.(type) {
	case domain.OrderCreated:
		if v.OrderType == domain.OrderTypeMarket && v.Units != 0 {
			e.fillLocked(ref, v.Units, v.Price, domain.FillReasonOrder)
			return
		}
		if o.Status.Terminal() {
			e.log.Debug("create for terminal order discarded", "ref", ref, "status", o.Status)
			return
		}
		e.transitionLocked(ref, domain.OrderStatusAccepted)

	case domain.OrderFilled:
		if child := e.bracketChildFor(ref, v.Reason); child != 0 {
			ref = child
		}
		e.fillLocked(ref, v.Units, v.Price, v.Reason)

	case domain.OrderCancelled:
		var to domain.OrderStatus
		switch v.Reason {
		case domain.CancelReasonFilled:
			return
		case domain.CancelReasonExpired:
			to = domain.OrderStatusExpired
		case domain.CancelReasonClientRequest:
			to = domain.OrderStatusCancelled
		default:
			to = domain.OrderStatusRejected
			if o.Status == domain.OrderStatusPartiallyFilled {
				// Partial fills stand; the venue only dropped the rest.
				to = domain.OrderStatusCancelled
			}
		}
		if o.Status.Terminal() {
			e.log.Debug("cancel for terminal order discarded", "ref", ref, "status", o.Status)
			return
		}
		e.transitionLocked(ref, to)
	}
}

func (e *Engine) fillLocked(ref int64, units, price float64, reason domain.FillReason) {
	o, fill, err := e.ledger.fill(ref, units, price, reason, e.now())
	if err != nil {
		e.log.Warn("fill discarded", "ref", ref, "units", units, "price", price, "error", err)
		return
	}
	if excess := math.Abs(units) - math.Abs(fill.Size); excess > 1e-9 {
		e.log.Warn("fill exceeds remaining size", "ref", ref, "units", units, "applied", fill.Size)
		e.notes.notify(LevelWarn, "fill exceeds remaining size, excess ignored",
			"ref", ref, "units", units, "applied", fill.Size)
	}
	e.log.Info("order filled", "ref", ref, "symbol", o.Symbol, "size", fill.Size, "price", price, "status", o.Status)
	e.changedLocked(o, fill)
}
