package main

import (
	"strings"
	"testing"
	"time"

	"orderbridge/internal/domain"
	"orderbridge/internal/stream"
)

func TestModelAppliesFills(t *testing.T) {
	m := newModel("localhost:9090", func() {})
	now := time.Now()

	m.apply(stream.Event{Kind: stream.KindPosition, At: now,
		Position: &domain.Position{Symbol: "AAPL", Qty: 10, AvgPrice: 100}})
	m.apply(stream.Event{Kind: stream.KindOrder, At: now,
		Order: &domain.Order{Ref: 1, Symbol: "AAPL", Size: 10, Status: domain.OrderStatusCompleted, FilledSize: 10, FilledAvgPrice: 110},
		Fill:  &domain.Fill{Ref: 1, Symbol: "AAPL", Size: 10, Price: 110, At: now}})

	p := m.positions["AAPL"]
	if p.Qty != 20 || p.AvgPrice != 105 {
		t.Fatalf("position = %+v, want 20 @ 105", p)
	}
	if m.fills != 1 {
		t.Fatalf("fills = %d, want 1", m.fills)
	}
	if v := m.View(); !strings.Contains(v, "AAPL") {
		t.Fatalf("view does not show AAPL:\n%s", v)
	}
}

func TestModelKeepsLiveOrders(t *testing.T) {
	m := newModel("x", func() {})
	m.apply(stream.Event{Kind: stream.KindOrder, Order: &domain.Order{Ref: 1, Status: domain.OrderStatusAccepted}})
	for ref := int64(2); ref <= maxOrders+5; ref++ {
		m.apply(stream.Event{Kind: stream.KindOrder, Order: &domain.Order{Ref: ref, Status: domain.OrderStatusCancelled}})
	}
	if len(m.orders) != maxOrders {
		t.Fatalf("kept %d orders, want %d", len(m.orders), maxOrders)
	}
	if _, ok := m.orders[1]; !ok {
		t.Fatal("live order 1 was trimmed")
	}
}

func TestModelTrimsNotifications(t *testing.T) {
	m := newModel("x", func() {})
	for i := 0; i < maxNotes+3; i++ {
		m.apply(stream.Event{Kind: stream.KindNotification, Level: "warn", Message: "m"})
	}
	if len(m.notes) != maxNotes {
		t.Fatalf("notes = %d, want %d", len(m.notes), maxNotes)
	}
}
