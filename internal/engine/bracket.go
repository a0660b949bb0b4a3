package engine

import (
	"slices"

	"orderbridge/internal/domain"
)

// group is a live bracket: a parent and its stop-loss and take-profit
// children, identified by refs.
type group struct {
	parent, stop, take int64
}

func (g *group) refs() []int64 { return []int64{g.parent, g.stop, g.take} }

func (g *group) sibling(ref int64) int64 {
	switch ref {
	case g.stop:
		return g.take
	case g.take:
		return g.stop
	}
	return 0
}

// brackets tracks parked (not yet transmitted) orders and transmitted
// groups. Guarded by the engine lock.
type brackets struct {
	groups map[int64]*group  // by parent ref
	member map[int64]int64   // member ref -> parent ref
	parked map[int64][]int64 // parent ref -> parked refs, parent first
}

func newBrackets() *brackets {
	return &brackets{
		groups: make(map[int64]*group),
		member: make(map[int64]int64),
		parked: make(map[int64][]int64),
	}
}

// holds reports whether ref belongs to a transmitted group still tracked.
func (b *brackets) holds(ref int64) bool {
	_, ok := b.member[ref]
	return ok
}

func (b *brackets) groupOf(ref int64) *group {
	pref, ok := b.member[ref]
	if !ok {
		return nil
	}
	return b.groups[pref]
}

// transmitLocked routes a new order: standalone orders go straight to the
// submitter, bracket members are parked until the transmitting take-profit
// child releases the whole group as one submission.
func (e *Engine) transmitLocked(o *domain.Order) {
	b := e.brackets
	switch {
	case o.ParentRef == 0 && o.Transmit:
		e.submitQ.push(submitJob{refs: []int64{o.Ref}})

	case o.ParentRef == 0:
		b.parked[o.Ref] = []int64{o.Ref}

	case !o.Transmit:
		members, ok := b.parked[o.ParentRef]
		if !ok || len(members) != 1 {
			e.rejectLocked(o.Ref, "bracket stop-loss without a parked parent", "parent", o.ParentRef)
			return
		}
		b.parked[o.ParentRef] = append(members, o.Ref)

	default:
		members := b.parked[o.ParentRef]
		if len(members) != 2 {
			e.rejectLocked(o.Ref, "incomplete bracket group", "parent", o.ParentRef, "parked", len(members))
			return
		}
		delete(b.parked, o.ParentRef)
		g := &group{parent: members[0], stop: members[1], take: o.Ref}
		b.groups[g.parent] = g
		for _, ref := range g.refs() {
			b.member[ref] = g.parent
		}
		e.submitQ.push(submitJob{refs: g.refs()})
	}
}

// cancelParkedLocked cancels a parked order locally. The parked group goes
// down as a whole, whichever member is cancelled.
func (e *Engine) cancelParkedLocked(ref int64) bool {
	b := e.brackets
	key := ref
	if _, ok := b.parked[ref]; !ok {
		o := e.ledger.orders[ref]
		if o == nil || o.ParentRef == 0 || !slices.Contains(b.parked[o.ParentRef], ref) {
			return false
		}
		key = o.ParentRef
	}
	members := b.parked[key]
	delete(b.parked, key)
	for _, m := range members {
		e.transitionLocked(m, domain.OrderStatusCancelled)
	}
	return true
}

// bracketChangedLocked applies the group rules after a member of a
// transmitted bracket changed state.
func (e *Engine) bracketChangedLocked(o *domain.Order) {
	g := e.brackets.groupOf(o.Ref)
	if g == nil {
		return
	}

	if o.Ref == g.parent {
		switch o.Status {
		case domain.OrderStatusSubmitted:
			e.cascadeLocked(g, domain.OrderStatusCreated, domain.OrderStatusSubmitted)
		case domain.OrderStatusAccepted:
			e.cascadeLocked(g, domain.OrderStatusCreated, domain.OrderStatusSubmitted)
			e.cascadeLocked(g, domain.OrderStatusSubmitted, domain.OrderStatusAccepted)
		case domain.OrderStatusCompleted:
			for _, ref := range []int64{g.stop, g.take} {
				if c := e.ledger.orders[ref]; c != nil && c.Alive() && !c.Active {
					c.Active = true
					c.UpdatedAt = e.now()
					e.notes.orderUpdate(c, nil)
				}
			}
		case domain.OrderStatusRejected, domain.OrderStatusCancelled, domain.OrderStatusExpired:
			e.cancelMemberLocked(g.stop)
			e.cancelMemberLocked(g.take)
		}
	} else if o.Status.Terminal() {
		e.cancelMemberLocked(g.sibling(o.Ref))
	}

	e.dissolveLocked(g)
}

// cascadeLocked moves dormant children in state from to state to.
func (e *Engine) cascadeLocked(g *group, from, to domain.OrderStatus) {
	for _, ref := range []int64{g.stop, g.take} {
		if c := e.ledger.orders[ref]; c != nil && c.Status == from {
			e.transitionLocked(ref, to)
		}
	}
}

// cancelMemberLocked cancels a live group member: through the cancellation
// worker when the venue knows it, locally otherwise.
func (e *Engine) cancelMemberLocked(ref int64) {
	o := e.ledger.orders[ref]
	if o == nil || !o.Alive() {
		return
	}
	if o.Status != domain.OrderStatusCreated && e.recon.primary(ref) != "" {
		e.cancelQ.push(ref)
		return
	}
	e.transitionLocked(ref, domain.OrderStatusCancelled)
}

// dissolveLocked forgets g once no member is alive and retires the members'
// oids.
func (e *Engine) dissolveLocked(g *group) {
	if _, ok := e.brackets.groups[g.parent]; !ok {
		return
	}
	for _, ref := range g.refs() {
		if o := e.ledger.orders[ref]; o != nil && o.Alive() {
			return
		}
	}
	delete(e.brackets.groups, g.parent)
	now := e.now()
	for _, ref := range g.refs() {
		delete(e.brackets.member, ref)
		e.recon.retire(ref, now)
	}
}

// bracketChildFor resolves a fill reported on a completed parent's oid to
// the child the reason names, or 0.
func (e *Engine) bracketChildFor(ref int64, reason domain.FillReason) int64 {
	g := e.brackets.groups[ref]
	if g == nil {
		return 0
	}
	if p := e.ledger.orders[ref]; p == nil || p.Status != domain.OrderStatusCompleted {
		return 0
	}
	switch reason {
	case domain.FillReasonStopLoss, domain.FillReasonTrailingStop:
		return g.stop
	case domain.FillReasonTakeProfit:
		return g.take
	}
	return 0
}
