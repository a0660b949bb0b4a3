package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"orderbridge/internal/broker"
	"orderbridge/internal/commission"
	"orderbridge/internal/domain"
)

// idleEngine returns an engine whose workers are not running, for driving
// the locked paths directly.
func idleEngine(opts Options) *Engine {
	return New(broker.NewSimulatorBroker(0), opts, testLogger())
}

// placeMapped places a buy of size at 100 and registers oid for it as if
// the venue had accepted the submission.
func placeMapped(e *Engine, typ domain.OrderType, size float64, oid string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.placeLocked(OrderRequest{
		Symbol: "7203", Side: domain.OrderSideBuy, Type: typ, Size: size, Price: price(100), Transmit: true,
	}, domain.AccountInfo{})
	e.registerLocked(submitJob{refs: []int64{o.Ref}}, broker.SubmitResult{OIDs: []string{oid}})
	return o.Ref
}

func TestLedgerTransitions(t *testing.T) {
	l := newLedger(nil)
	now := time.Now()
	o := l.add(&domain.Order{Symbol: "7203", Size: 100, Type: domain.OrderTypeLimit}, now)
	require.EqualValues(t, 1, o.Ref)

	_, _, err := l.transition(o.Ref, domain.OrderStatusCompleted, now)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, changed, err := l.transition(o.Ref, domain.OrderStatusSubmitted, now)
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = l.transition(o.Ref, domain.OrderStatusAccepted, now)
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = l.transition(o.Ref, domain.OrderStatusAccepted, now)
	require.NoError(t, err)
	require.False(t, changed, "repeated accept is a no-op")

	_, changed, err = l.transition(o.Ref, domain.OrderStatusCancelled, now)
	require.NoError(t, err)
	require.True(t, changed)

	for _, to := range []domain.OrderStatus{
		domain.OrderStatusAccepted, domain.OrderStatusSubmitted, domain.OrderStatusExpired, domain.OrderStatusCancelled,
	} {
		_, _, err = l.transition(o.Ref, to, now)
		require.ErrorIs(t, err, ErrInvalidTransition, "cancelled -> %s", to)
	}

	_, _, err = l.transition(99, domain.OrderStatusSubmitted, now)
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestLedgerFillOnSubmittedAccepts(t *testing.T) {
	scheme, err := commission.New("fixed", 88, 3_000_000)
	require.NoError(t, err)
	l := newLedger(scheme)
	now := time.Now()
	o := l.add(&domain.Order{Symbol: "7203", Side: domain.OrderSideSell, Size: -100, Type: domain.OrderTypeLimit}, now)
	_, _, err = l.transition(o.Ref, domain.OrderStatusSubmitted, now)
	require.NoError(t, err)

	o, fill, err := l.fill(o.Ref, 30, 1000, domain.FillReasonOrder, now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	require.EqualValues(t, -30, fill.Size)
	require.EqualValues(t, 88, fill.Commission)

	o, _, err = l.fill(o.Ref, 70, 1000, domain.FillReasonOrder, now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.EqualValues(t, 176, o.Commission)
	require.EqualValues(t, -100, l.positionSnapshot("7203").Qty)

	_, _, err = l.fill(o.Ref, 1, 1000, domain.FillReasonOrder, now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.EqualValues(t, -100, l.positionSnapshot("7203").Qty)
}

func TestCancelReasonMapping(t *testing.T) {
	tests := []struct {
		reason domain.CancelReason
		want   domain.OrderStatus
	}{
		{domain.CancelReasonFilled, domain.OrderStatusAccepted},
		{domain.CancelReasonExpired, domain.OrderStatusExpired},
		{domain.CancelReasonClientRequest, domain.OrderStatusCancelled},
		{domain.CancelReasonOther, domain.OrderStatusRejected},
		{"MARKET_HALTED", domain.OrderStatusRejected},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			e := idleEngine(Options{})
			ref := placeMapped(e, domain.OrderTypeLimit, 100, "C1")
			e.dispatch(domain.OrderCreated{ID: "C1", OrderType: domain.OrderTypeLimit})
			e.dispatch(domain.OrderCancelled{OrderID: "C1", Reason: tt.reason})
			require.Equal(t, tt.want, statusOf(e, ref))
		})
	}
}

func TestCancelAfterPartialFill(t *testing.T) {
	tests := []struct {
		reason domain.CancelReason
		want   domain.OrderStatus
	}{
		{domain.CancelReasonOther, domain.OrderStatusCancelled},
		{"MARKET_HALTED", domain.OrderStatusCancelled},
		{domain.CancelReasonClientRequest, domain.OrderStatusCancelled},
		{domain.CancelReasonExpired, domain.OrderStatusExpired},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			e := idleEngine(Options{})
			ref := placeMapped(e, domain.OrderTypeLimit, 100, "C1")
			e.dispatch(domain.OrderCreated{ID: "C1", OrderType: domain.OrderTypeLimit})
			e.dispatch(domain.OrderFilled{OrderID: "C1", Units: 40, Price: 100})
			require.Equal(t, domain.OrderStatusPartiallyFilled, statusOf(e, ref))

			e.dispatch(domain.OrderCancelled{OrderID: "C1", Reason: tt.reason})
			o, ok := e.Order(ref)
			require.True(t, ok)
			require.Equal(t, tt.want, o.Status)
			require.False(t, o.Alive())
			require.EqualValues(t, 40, o.FilledSize)
			require.EqualValues(t, 40, e.Position("7203").Qty)
		})
	}
}

func TestLedgerFillCappedAtRemaining(t *testing.T) {
	l := newLedger(nil)
	now := time.Now()
	o := l.add(&domain.Order{Symbol: "7203", Side: domain.OrderSideBuy, Size: 100, Type: domain.OrderTypeLimit}, now)
	_, _, err := l.transition(o.Ref, domain.OrderStatusSubmitted, now)
	require.NoError(t, err)

	o, fill, err := l.fill(o.Ref, 150, 100, domain.FillReasonOrder, now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.EqualValues(t, 100, fill.Size)
	require.EqualValues(t, 100, o.FilledSize)
	require.EqualValues(t, 100, l.positionSnapshot("7203").Qty)

	o = l.add(&domain.Order{Symbol: "7203", Side: domain.OrderSideSell, Size: -100, Type: domain.OrderTypeLimit}, now)
	_, _, err = l.transition(o.Ref, domain.OrderStatusSubmitted, now)
	require.NoError(t, err)
	_, _, err = l.fill(o.Ref, 60, 100, domain.FillReasonOrder, now)
	require.NoError(t, err)
	o, fill, err = l.fill(o.Ref, 60, 100, domain.FillReasonOrder, now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.EqualValues(t, -40, fill.Size)
	require.EqualValues(t, -100, o.FilledSize)
	require.EqualValues(t, 0, l.positionSnapshot("7203").Qty)
}

func TestOverfillNotifies(t *testing.T) {
	e := idleEngine(Options{})
	ref := placeMapped(e, domain.OrderTypeLimit, 100, "O1")
	e.Notifications()

	e.dispatch(domain.OrderFilled{OrderID: "O1", Units: 150, Price: 100})
	o, _ := e.Order(ref)
	require.Equal(t, domain.OrderStatusCompleted, o.Status)
	require.EqualValues(t, 100, o.FilledSize)
	require.EqualValues(t, 100, e.Position("7203").Qty)

	notes := e.Notifications()
	require.Len(t, notes, 1)
	require.Equal(t, LevelWarn, notes[0].Level)
	require.EqualValues(t, 100, notes[0].Fields["applied"])
}

func TestMarketCreateUsesTradeIDs(t *testing.T) {
	e := idleEngine(Options{})
	ref := placeMapped(e, domain.OrderTypeMarket, 100, "T7")
	require.Equal(t, domain.OrderStatusAccepted, statusOf(e, ref))

	// The order's own id is ignored when a trade id is present.
	e.dispatch(domain.OrderCreated{
		ID: "unrelated", TradeOpenedID: "T7", OrderType: domain.OrderTypeMarket,
		Side: domain.OrderSideBuy, Units: 100, Price: 1234.5,
	})
	require.Equal(t, domain.OrderStatusCompleted, statusOf(e, ref))
	require.InDelta(t, 1234.5, e.Position("7203").AvgPrice, 1e-9)
}

func TestTerminalOrdersIgnoreEvents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := idleEngine(Options{})
		ref := placeMapped(e, domain.OrderTypeLimit, 100, "R1")
		e.dispatch(domain.OrderCreated{ID: "R1", OrderType: domain.OrderTypeLimit})

		switch rapid.IntRange(0, 3).Draw(t, "terminal") {
		case 0:
			e.dispatch(domain.OrderFilled{OrderID: "R1", Side: domain.OrderSideBuy, Units: 100, Price: 100})
		case 1:
			e.dispatch(domain.OrderCancelled{OrderID: "R1", Reason: domain.CancelReasonClientRequest})
		case 2:
			e.dispatch(domain.OrderCancelled{OrderID: "R1", Reason: domain.CancelReasonExpired})
		case 3:
			e.dispatch(domain.OrderCancelled{OrderID: "R1", Reason: domain.CancelReasonOther})
		}
		before, _ := e.Order(ref)
		if !before.Status.Terminal() {
			t.Fatalf("status %s is not terminal", before.Status)
		}
		pos := e.Position("7203")

		events := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) domain.Event {
			switch rapid.IntRange(0, 3).Draw(t, "kind") {
			case 0:
				return domain.OrderCreated{ID: "R1", OrderType: domain.OrderTypeLimit}
			case 1:
				return domain.OrderCreated{
					ID: "R1", OrderType: domain.OrderTypeMarket, Side: domain.OrderSideBuy,
					Units: rapid.Float64Range(1, 500).Draw(t, "units"), Price: 100,
				}
			case 2:
				return domain.OrderFilled{
					OrderID: "R1", Side: domain.OrderSideBuy,
					Units: rapid.Float64Range(1, 500).Draw(t, "units"),
					Price: rapid.Float64Range(1, 1000).Draw(t, "price"),
				}
			default:
				reasons := []domain.CancelReason{
					domain.CancelReasonFilled, domain.CancelReasonExpired,
					domain.CancelReasonClientRequest, domain.CancelReasonOther,
				}
				return domain.OrderCancelled{OrderID: "R1", Reason: rapid.SampledFrom(reasons).Draw(t, "reason")}
			}
		}), 1, 20).Draw(t, "events")

		for _, ev := range events {
			e.dispatch(ev)
		}

		after, _ := e.Order(ref)
		if !reflect.DeepEqual(after, before) {
			t.Fatalf("terminal order changed:\nbefore %+v\nafter  %+v", before, after)
		}
		if got := e.Position("7203"); got != pos {
			t.Fatalf("position changed: %+v -> %+v", pos, got)
		}
	})
}
