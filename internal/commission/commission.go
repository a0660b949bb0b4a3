// Package commission computes per-fill brokerage fees.
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownScheme is returned by New for an unrecognised scheme name.
var ErrUnknownScheme = errors.New("commission: unknown scheme")

// Scheme prices a single execution. size is signed; the fee never is.
type Scheme interface {
	Name() string
	Commission(size, price float64) float64
}

// New builds the scheme named by name. fee and freeAbove only apply to the
// fixed scheme.
func New(name string, fee, freeAbove float64) (Scheme, error) {
	switch name {
	case "", "none":
		return None{}, nil
	case "fixed":
		return Fixed{Fee: decimal.NewFromFloat(fee), FreeAbove: decimal.NewFromFloat(freeAbove)}, nil
	case "tiered":
		return DefaultTiered(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// None charges nothing.
type None struct{}

func (None) Name() string { return "none" }
func (None) Commission(_, _ float64) float64 { return 0 }

// Fixed charges a flat fee per fill, waived when the fill's notional exceeds
// FreeAbove. A zero FreeAbove never waives.
type Fixed struct {
	Fee       decimal.Decimal
	FreeAbove decimal.Decimal
}

func (Fixed) Name() string { return "fixed" }

func (f Fixed) Commission(size, price float64) float64 {
	if f.FreeAbove.IsPositive() && notional(size, price).GreaterThan(f.FreeAbove) {
		return 0
	}
	return f.Fee.InexactFloat64()
}

// Step is one bracket of a tiered schedule: fills with notional up to Upto
// pay Fee.
type Step struct {
	Upto decimal.Decimal
	Fee  decimal.Decimal
}

// Tiered charges by notional bracket. Above the last step the fee is
// notional*Rate + Base, capped at Cap.
type Tiered struct {
	Steps []Step
	Rate  decimal.Decimal
	Base  decimal.Decimal
	Cap   decimal.Decimal
}

// DefaultTiered is the one-shot schedule: 55 up to 50k, 99 up to 100k, 115 up
// to 200k, 275 up to 500k, 535 up to 1M, then 0.099% + 99 capped at 4059.
func DefaultTiered() Tiered {
	step := func(upto, fee int64) Step {
		return Step{Upto: decimal.NewFromInt(upto), Fee: decimal.NewFromInt(fee)}
	}
	return Tiered{
		Steps: []Step{
			step(50_000, 55),
			step(100_000, 99),
			step(200_000, 115),
			step(500_000, 275),
			step(1_000_000, 535),
		},
		Rate: decimal.RequireFromString("0.00099"),
		Base: decimal.NewFromInt(99),
		Cap:  decimal.NewFromInt(4059),
	}
}

func (Tiered) Name() string { return "tiered" }

func (t Tiered) Commission(size, price float64) float64 {
	v := notional(size, price)
	for _, s := range t.Steps {
		if v.LessThanOrEqual(s.Upto) {
			return s.Fee.InexactFloat64()
		}
	}
	fee := v.Mul(t.Rate).Add(t.Base)
	if t.Cap.IsPositive() && fee.GreaterThan(t.Cap) {
		fee = t.Cap
	}
	return fee.InexactFloat64()
}

func notional(size, price float64) decimal.Decimal {
	return decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).Abs()
}
