package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"orderbridge/internal/domain"
)

// ErrRiskLimit is returned by CheckOrder when an order would breach a limit.
var ErrRiskLimit = errors.New("risk limit exceeded")

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and maximum daily loss constraints.
type RiskManager struct {
	maxPositionPct  float64
	maxDailyLossPct float64

	mu          sync.Mutex
	day         string
	startEquity float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: maximum fraction of equity allowed in a single position
//     (e.g. 0.10 for 10%).
//   - maxDailyLossPct: maximum fraction of equity that may be lost in a single
//     trading day (e.g. 0.02 for 2%).
//
// A zero threshold disables its rule.
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
	}
}

// CheckOrder evaluates whether the proposed order complies with the
// configured risk limits given the current account state and the symbol's
// position. Orders that reduce exposure always pass, as does everything
// before the first account snapshot.
func (rm *RiskManager) CheckOrder(order *domain.Order, account domain.AccountInfo, pos domain.Position) error {
	if account.Equity <= 0 {
		return nil
	}
	after := pos.Qty + order.Size
	if math.Abs(after) <= math.Abs(pos.Qty) {
		return nil
	}

	if rm.maxDailyLossPct > 0 {
		day := account.UpdatedAt.Format("2006-01-02")
		rm.mu.Lock()
		if day != rm.day {
			rm.day = day
			rm.startEquity = account.Equity
		}
		floor := rm.startEquity * (1 - rm.maxDailyLossPct)
		rm.mu.Unlock()
		if account.Equity < floor {
			return fmt.Errorf("%w: equity %.2f below daily floor %.2f", ErrRiskLimit, account.Equity, floor)
		}
	}

	if rm.maxPositionPct > 0 {
		price := pos.AvgPrice
		if order.Price != nil {
			price = *order.Price
		}
		if price <= 0 {
			return nil
		}
		notional := math.Abs(after) * price
		limit := rm.maxPositionPct * account.Equity
		if notional > limit {
			return fmt.Errorf("%w: %s position notional %.2f over %.2f", ErrRiskLimit, order.Symbol, notional, limit)
		}
	}
	return nil
}
