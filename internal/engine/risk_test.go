package engine

import (
	"errors"
	"testing"
	"time"

	"orderbridge/internal/domain"
)

func TestRiskManagerCheckOrder(t *testing.T) {
	rm := NewRiskManager(0.10, 0.02)
	p := 100.0

	order := &domain.Order{
		Symbol: "AAPL",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		Size:   10,
		Price:  &p,
	}
	account := domain.AccountInfo{
		Equity:      100000,
		Cash:        50000,
		BuyingPower: 200000,
		UpdatedAt:   time.Now(),
	}

	if err := rm.CheckOrder(order, account, domain.Position{Symbol: "AAPL"}); err != nil {
		t.Fatalf("CheckOrder returned unexpected error: %v", err)
	}

	order.Size = 200
	if err := rm.CheckOrder(order, account, domain.Position{Symbol: "AAPL"}); !errors.Is(err, ErrRiskLimit) {
		t.Fatalf("CheckOrder error = %v, want ErrRiskLimit", err)
	}

	// Reducing an oversized position is always allowed.
	order.Size = -200
	big := domain.Position{Symbol: "AAPL", Qty: 500, AvgPrice: 100}
	if err := rm.CheckOrder(order, account, big); err != nil {
		t.Fatalf("reducing order rejected: %v", err)
	}
}

func TestRiskManagerDailyLoss(t *testing.T) {
	rm := NewRiskManager(0, 0.02)
	p := 10.0
	order := &domain.Order{Symbol: "AAPL", Size: 1, Price: &p}
	day := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)

	if err := rm.CheckOrder(order, domain.AccountInfo{Equity: 100000, UpdatedAt: day}, domain.Position{}); err != nil {
		t.Fatalf("first check: %v", err)
	}
	err := rm.CheckOrder(order, domain.AccountInfo{Equity: 97000, UpdatedAt: day.Add(time.Hour)}, domain.Position{})
	if !errors.Is(err, ErrRiskLimit) {
		t.Fatalf("after 3%% loss error = %v, want ErrRiskLimit", err)
	}
	// A new day resets the reference equity.
	if err := rm.CheckOrder(order, domain.AccountInfo{Equity: 97000, UpdatedAt: day.AddDate(0, 0, 1)}, domain.Position{}); err != nil {
		t.Fatalf("next day check: %v", err)
	}
}

func TestRiskManagerSkipsWithoutSnapshot(t *testing.T) {
	rm := NewRiskManager(0.01, 0.01)
	order := &domain.Order{Symbol: "AAPL", Size: 1_000_000}
	if err := rm.CheckOrder(order, domain.AccountInfo{}, domain.Position{}); err != nil {
		t.Fatalf("CheckOrder without equity: %v", err)
	}
}
