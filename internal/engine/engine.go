// Package engine coordinates order submission, venue event reconciliation,
// bracket groups and the local mirror of positions and account balances.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderbridge/internal/broker"
	"orderbridge/internal/commission"
	"orderbridge/internal/domain"
	"orderbridge/internal/util"
)

// Defaults for zero-valued Options fields.
const (
	DefaultAccountRefresh = 10 * time.Second
	DefaultAccountWait    = 10 * time.Second
	DefaultPendingTTL     = 5 * time.Minute
	DefaultMaxPending     = 10000
	DefaultSweepInterval  = 30 * time.Second
)

// Options configures an Engine.
type Options struct {
	AccountRefresh time.Duration
	AccountWait    time.Duration
	PendingTTL     time.Duration
	MaxPending     int
	SweepInterval  time.Duration

	// UsePositions loads the venue's positions at Start.
	UsePositions bool

	SubmitPolicy RetryPolicy
	CancelPolicy RetryPolicy
	Limiter      *util.RateLimiter
	Commission   commission.Scheme
	Risk         *RiskManager
}

func (o *Options) setDefaults() {
	if o.AccountRefresh <= 0 {
		o.AccountRefresh = DefaultAccountRefresh
	}
	if o.AccountWait <= 0 {
		o.AccountWait = DefaultAccountWait
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.MaxPending <= 0 {
		o.MaxPending = DefaultMaxPending
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.SubmitPolicy == nil {
		o.SubmitPolicy = Once
	}
	if o.CancelPolicy == nil {
		o.CancelPolicy = Once
	}
}

// Engine is the order management service. Intent and query calls never touch
// the network; submission, cancellation, account refresh and event ingestion
// each run on their own goroutine.
type Engine struct {
	broker broker.Broker
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	// mu guards ledger, recon and brackets. Transport calls are never made
	// while it is held.
	mu       sync.Mutex
	ledger   *ledger
	recon    *recon
	brackets *brackets

	acct    *accountState
	notes   *notifier
	submitQ *queue[submitJob]
	cancelQ *queue[int64]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine bound to b. Call Start to run it.
func New(b broker.Broker, opts Options, log *slog.Logger) *Engine {
	opts.setDefaults()
	return &Engine{
		broker:   b,
		opts:     opts,
		log:      log,
		now:      time.Now,
		ledger:   newLedger(opts.Commission),
		recon:    newRecon(opts.PendingTTL, opts.MaxPending),
		brackets: newBrackets(),
		acct:     newAccountState(),
		notes:    newNotifier(),
		submitQ:  newQueue[submitJob](),
		cancelQ:  newQueue[int64](),
	}
}

// Start loads positions when configured, subscribes to the venue event stream
// and launches the workers. An error means the engine cannot run.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.UsePositions {
		positions, err := e.broker.GetPositions(ctx)
		if err != nil {
			return fmt.Errorf("loading positions: %w", err)
		}
		e.mu.Lock()
		for _, p := range positions {
			e.ledger.seed(p)
		}
		e.mu.Unlock()
		e.log.Info("loaded venue positions", "count", len(positions))
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := e.broker.Events(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to %s events: %w", e.broker.Name(), err)
	}
	e.cancel = cancel

	e.wg.Add(4)
	go func() { defer e.wg.Done(); e.runSubmitter(ctx) }()
	go func() { defer e.wg.Done(); e.runCanceller(ctx) }()
	go func() { defer e.wg.Done(); e.runAccount(ctx) }()
	go func() { defer e.wg.Done(); e.runIngest(ctx, events) }()

	e.log.Info("engine started", "broker", e.broker.Name())
	return nil
}

// Close stops the workers and waits for them, then closes every subscriber
// channel.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.notes.closeAll()
}

// runIngest feeds venue events to the dispatcher and sweeps the pending
// buffer on a timer.
func (e *Engine) runIngest(ctx context.Context, events <-chan domain.Event) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				e.log.Warn("venue event stream closed")
				return
			}
			e.dispatch(ev)
		case <-ticker.C:
			e.sweep(e.now())
		}
	}
}

// sweep evicts stale pending events and prunes retired oid mappings.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reportEvictedLocked(e.recon.sweep(now))
}

func (e *Engine) reportEvictedLocked(ev []evicted) {
	for _, x := range ev {
		e.log.Warn("pending events evicted", "oid", x.oid, "events", x.events, "reason", x.reason)
		e.notes.notify(LevelWarn, "pending events evicted for unknown order id",
			"oid", x.oid, "events", x.events, "reason", x.reason)
	}
}

// Notifications drains the messages produced so far.
func (e *Engine) Notifications() []Notification {
	return e.notes.drainMessages()
}

// OrderUpdates drains the order snapshots produced so far.
func (e *Engine) OrderUpdates() []OrderUpdate {
	return e.notes.drainUpdates()
}

// Subscribe returns a channel receiving every notification and order update
// from now on. Slow subscribers miss updates rather than block the engine.
func (e *Engine) Subscribe(bufSize int) (int, <-chan Update) {
	return e.notes.subscribe(bufSize)
}

// Unsubscribe removes a subscription and closes its channel.
func (e *Engine) Unsubscribe(id int) {
	e.notes.unsubscribe(id)
}

// Order returns a snapshot of the order with the given ref.
func (e *Engine) Order(ref int64) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.ledger.orders[ref]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Position returns the local position for symbol. A symbol never traded
// yields a flat position.
func (e *Engine) Position(symbol string) domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.positionSnapshot(symbol)
}

// Positions returns every open position ordered by symbol.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.positionsSnapshot()
}

// Cash returns the cash balance from the last account snapshot.
func (e *Engine) Cash() float64 {
	return e.acct.get().Cash
}

// Value returns the account equity from the last account snapshot.
func (e *Engine) Value() float64 {
	return e.acct.get().Equity
}

// Refresh asks the account refresher to fetch a snapshot now.
func (e *Engine) Refresh() {
	e.acct.trigger()
}

// WaitReady blocks until the first account snapshot has landed or timeout
// elapses. A non-positive timeout uses the configured account wait.
func (e *Engine) WaitReady(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = e.opts.AccountWait
	}
	return e.acct.waitReady(timeout)
}

// changedLocked publishes the new state of o and runs the bookkeeping that
// follows a transition.
func (e *Engine) changedLocked(o *domain.Order, fill *domain.Fill) {
	e.notes.orderUpdate(o, fill)
	e.bracketChangedLocked(o)
	if o.Status.Terminal() && !e.brackets.holds(o.Ref) {
		e.recon.retire(o.Ref, e.now())
	}
}

// transitionLocked applies a state change and its cascade. Illegal
// transitions are logged and dropped.
func (e *Engine) transitionLocked(ref int64, to domain.OrderStatus) bool {
	o, changed, err := e.ledger.transition(ref, to, e.now())
	if err != nil {
		e.log.Warn("transition discarded", "ref", ref, "to", to, "error", err)
		return false
	}
	if changed {
		e.changedLocked(o, nil)
	}
	return changed
}
