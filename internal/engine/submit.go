package engine

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"

	"orderbridge/internal/broker"
	"orderbridge/internal/domain"
)

var errNoOrderID = errors.New("venue returned no order id")

// submitJob is one venue submission: a single order, or a bracket as
// parent, stop, take.
type submitJob struct {
	refs []int64
}

func (e *Engine) runSubmitter(ctx context.Context) {
	for {
		job, ok := e.submitQ.pop(ctx)
		if !ok {
			return
		}
		e.submit(ctx, job)
	}
}

// submit sends one job to the venue and reconciles the result.
func (e *Engine) submit(ctx context.Context, job submitJob) {
	e.mu.Lock()
	req, ok := e.buildRequestLocked(job)
	e.mu.Unlock()
	if !ok {
		return
	}

	var res broker.SubmitResult
	err := e.opts.SubmitPolicy(ctx, func() error {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		res, err = e.broker.SubmitOrder(ctx, req)
		return err
	})
	if err == nil && len(res.OIDs) == 0 {
		err = errNoOrderID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.log.Warn("submission failed", "refs", job.refs, "symbol", req.Symbol, "error", err)
		e.rejectJobLocked(job, err)
		return
	}
	e.registerLocked(job, res)
}

// buildRequestLocked encodes the job's orders into a venue request. Jobs
// whose primary order has already left the created state are skipped.
func (e *Engine) buildRequestLocked(job submitJob) (broker.SubmitRequest, bool) {
	o := e.ledger.orders[job.refs[0]]
	if o == nil || o.Status != domain.OrderStatusCreated {
		return broker.SubmitRequest{}, false
	}

	req := broker.SubmitRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        o.Symbol,
		Qty:           math.Abs(o.Size),
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   broker.TimeInForceDay,
	}
	switch o.Type {
	case domain.OrderTypeLimit:
		req.LimitPrice = copyPrice(o.Price)
	case domain.OrderTypeStop:
		req.StopPrice = copyPrice(o.Price)
	case domain.OrderTypeStopLimit:
		req.StopPrice = copyPrice(o.Price)
		req.LimitPrice = copyPrice(o.PriceLimit)
	}
	if o.Expiry != nil {
		exp := *o.Expiry
		req.TimeInForce = broker.TimeInForceGTD
		req.ExpireDate = &exp
	}

	if len(job.refs) == 3 {
		req.StopLoss = legFor(e.ledger.orders[job.refs[1]])
		req.TakeProfit = legFor(e.ledger.orders[job.refs[2]])
	}
	return req, true
}

func legFor(o *domain.Order) *broker.Leg {
	if o == nil || o.Price == nil {
		return nil
	}
	return &broker.Leg{Type: o.Type, Price: *o.Price, PriceLimit: copyPrice(o.PriceLimit)}
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// rejectJobLocked rejects every order of a failed job with one notification.
func (e *Engine) rejectJobLocked(job submitJob, cause error) {
	var changed []*domain.Order
	for _, ref := range job.refs {
		o, ok, err := e.ledger.transition(ref, domain.OrderStatusRejected, e.now())
		if err != nil {
			e.log.Warn("transition discarded", "ref", ref, "error", err)
			continue
		}
		if ok {
			changed = append(changed, o)
		}
	}
	if len(changed) == 0 {
		return
	}
	e.notes.notify(LevelError, "order submission rejected",
		"ref", job.refs[0], "symbol", changed[0].Symbol, "error", cause.Error())
	for _, o := range changed {
		e.changedLocked(o, nil)
	}
}

// rejectLocked rejects a single order that never reached the venue.
func (e *Engine) rejectLocked(ref int64, msg string, kv ...any) {
	e.log.Warn(msg, append([]any{"ref", ref}, kv...)...)
	e.notes.notify(LevelError, msg, append([]any{"ref", ref}, kv...)...)
	e.transitionLocked(ref, domain.OrderStatusRejected)
}

// registerLocked maps the venue's ids, moves the job's orders to submitted
// (market orders straight on to accepted) and replays buffered events.
func (e *Engine) registerLocked(job submitJob, res broker.SubmitResult) {
	type replay struct {
		ref    int64
		oid    string
		events []domain.Event
	}
	var replays []replay

	parent := job.refs[0]
	for _, oid := range res.OIDs {
		replays = append(replays, replay{parent, oid, e.recon.register(oid, parent)})
	}
	if len(job.refs) == 3 {
		for i, role := range []domain.BracketRole{domain.RoleStop, domain.RoleTake} {
			ref := job.refs[i+1]
			for _, oid := range res.Legs[role] {
				replays = append(replays, replay{ref, oid, e.recon.register(oid, ref)})
			}
		}
	}
	for _, ref := range job.refs {
		if o := e.ledger.orders[ref]; o != nil {
			o.OID = e.recon.primary(ref)
		}
	}

	o := e.ledger.orders[parent]
	e.log.Info("order submitted", "ref", parent, "oid", res.OIDs[0], "symbol", o.Symbol, "size", o.Size)
	if e.transitionLocked(parent, domain.OrderStatusSubmitted) && o.Type == domain.OrderTypeMarket {
		e.transitionLocked(parent, domain.OrderStatusAccepted)
	}

	for _, r := range replays {
		for _, ev := range r.events {
			e.applyLocked(r.ref, r.oid, ev)
		}
	}
}
