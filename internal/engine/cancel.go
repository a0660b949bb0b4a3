package engine

import (
	"context"

	"orderbridge/internal/domain"
)

func (e *Engine) runCanceller(ctx context.Context) {
	for {
		ref, ok := e.cancelQ.pop(ctx)
		if !ok {
			return
		}
		e.cancelAtVenue(ctx, ref)
	}
}

// cancelAtVenue cancels ref at the venue. Orders without an oid or already
// terminal are skipped; failures are logged and dropped.
func (e *Engine) cancelAtVenue(ctx context.Context, ref int64) {
	e.mu.Lock()
	o := e.ledger.orders[ref]
	oid := e.recon.primary(ref)
	skip := o == nil || !o.Alive() || oid == ""
	e.mu.Unlock()
	if skip {
		return
	}

	err := e.opts.CancelPolicy(ctx, func() error {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return e.broker.CancelOrder(ctx, oid)
	})
	if err != nil {
		e.log.Warn("cancel dropped", "ref", ref, "oid", oid, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if o := e.ledger.orders[ref]; o == nil || !o.Alive() {
		return
	}
	e.log.Info("order cancelled", "ref", ref, "oid", oid)
	e.transitionLocked(ref, domain.OrderStatusCancelled)
}
