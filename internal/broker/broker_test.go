package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"orderbridge/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestDecodeTradeUpdate(t *testing.T) {
	qty := decimal.NewFromInt(10)
	price := decimal.NewFromFloat(101.5)

	tests := []struct {
		name string
		tu   alpaca.TradeUpdate
		want domain.EventType
	}{
		{"new", alpaca.TradeUpdate{Event: "new", Order: alpaca.Order{ID: "a", Type: alpaca.Limit}}, domain.EventOrderCreated},
		{"fill", alpaca.TradeUpdate{Event: "fill", Order: alpaca.Order{ID: "a"}, Qty: &qty, Price: &price}, domain.EventOrderFilled},
		{"canceled", alpaca.TradeUpdate{Event: "canceled", Order: alpaca.Order{ID: "a"}}, domain.EventOrderCancelled},
		{"replaced", alpaca.TradeUpdate{Event: "replaced", Order: alpaca.Order{ID: "a"}}, domain.EventUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decodeTradeUpdate(tt.tu)
			if ev.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", ev.Type(), tt.want)
			}
		})
	}

	fill := decodeTradeUpdate(alpaca.TradeUpdate{
		Event: "partial_fill",
		Order: alpaca.Order{ID: "b", Side: alpaca.Sell},
		Qty:   &qty,
		Price: &price,
	}).(domain.OrderFilled)
	if fill.SignedUnits() != -10 || fill.Price != 101.5 {
		t.Errorf("fill = %+v, want -10 @ 101.5", fill)
	}

	rejected := decodeTradeUpdate(alpaca.TradeUpdate{Event: "rejected", Order: alpaca.Order{ID: "c"}}).(domain.OrderCancelled)
	if rejected.Reason != domain.CancelReasonOther {
		t.Errorf("rejected reason = %q, want %q", rejected.Reason, domain.CancelReasonOther)
	}
}

func TestSimulatorMarketOrderFills(t *testing.T) {
	b := NewSimulatorBroker(1_000_000)
	b.SetPrice("7203", 1234.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := b.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	res, err := b.SubmitOrder(ctx, SubmitRequest{
		Symbol: "7203",
		Qty:    100,
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if len(res.OIDs) != 1 {
		t.Fatalf("OIDs = %v, want one id", res.OIDs)
	}

	select {
	case ev := <-events:
		created, ok := ev.(domain.OrderCreated)
		if !ok {
			t.Fatalf("event = %T, want OrderCreated", ev)
		}
		if created.ID != res.OIDs[0] || created.Units != 100 || created.Price != 1234.5 {
			t.Errorf("created = %+v", created)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}

	positions, _ := b.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Qty != 100 {
		t.Errorf("positions = %+v, want 100 of 7203", positions)
	}
	acct, _ := b.GetAccount(ctx)
	if acct.Cash != 1_000_000-123_450 {
		t.Errorf("Cash = %v, want %v", acct.Cash, 1_000_000-123_450)
	}
	if acct.Equity != 1_000_000 {
		t.Errorf("Equity = %v, want 1000000", acct.Equity)
	}
}

func TestSimulatorBracketLegs(t *testing.T) {
	b := NewSimulatorBroker(0)
	res, err := b.SubmitOrder(context.Background(), SubmitRequest{
		Symbol:     "7203",
		Qty:        100,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeLimit,
		StopLoss:   &Leg{Type: domain.OrderTypeStop, Price: 90},
		TakeProfit: &Leg{Type: domain.OrderTypeLimit, Price: 110},
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if len(res.Legs[domain.RoleStop]) != 1 || len(res.Legs[domain.RoleTake]) != 1 {
		t.Errorf("Legs = %v, want one stop and one take id", res.Legs)
	}
}

func TestSimulatorCancelUnknown(t *testing.T) {
	b := NewSimulatorBroker(0)
	err := b.CancelOrder(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("CancelOrder error = %v, want ErrUnknownOrder", err)
	}
}

func TestSimulatorEventsClosedOnCancel(t *testing.T) {
	b := NewSimulatorBroker(0)
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := b.Events(ctx)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if b.Emit(domain.UnknownEvent{Name: "late"}) {
		t.Error("Emit after close should report false")
	}
}

func TestAlpacaStreamReconnectsAndCloses(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets", slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.reconnect = time.Millisecond

	first := time.Date(2024, 6, 14, 14, 30, 0, 0, time.UTC)
	var calls int
	var since time.Time
	stream := func(ctx context.Context, handler func(alpaca.TradeUpdate), req alpaca.StreamTradeUpdatesRequest) error {
		calls++
		if calls == 1 {
			handler(alpaca.TradeUpdate{At: first, Event: "new", Order: alpaca.Order{ID: "A1"}})
			return errors.New("connection reset")
		}
		since = req.Since
		handler(alpaca.TradeUpdate{At: first.Add(time.Second), Event: "new", Order: alpaca.Order{ID: "A2"}})
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan domain.Event, 4)
	done := make(chan struct{})
	go func() {
		b.streamTradeUpdates(ctx, stream, ch)
		close(done)
	}()

	for _, want := range []string{"A1", "A2"} {
		select {
		case ev := <-ch:
			created, ok := ev.(domain.OrderCreated)
			if !ok || created.ID != want {
				t.Fatalf("event = %#v, want OrderCreated %s", ev, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no event for %s", want)
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream loop did not stop")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if calls != 2 {
		t.Errorf("stream calls = %d, want 2", calls)
	}
	if !since.Equal(first.Add(time.Nanosecond)) {
		t.Errorf("resumed since %v, want %v", since, first.Add(time.Nanosecond))
	}
}
