package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"orderbridge/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client *alpaca.Client
	log    *slog.Logger
	buf    int

	reconnect time.Duration
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, log *slog.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		log:       log,
		buf:       1024,
		reconnect: time.Second,
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder sends an order to the Alpaca API. Brackets are sent as a single
// bracket-class order; the venue assigns the legs their own ids.
func (b *AlpacaBroker) SubmitOrder(_ context.Context, req SubmitRequest) (SubmitResult, error) {
	qty := decimal.NewFromFloat(req.Qty)
	r := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpacaType(req.Type),
		TimeInForce:   alpaca.Day,
		LimitPrice:    decimalPtr(req.LimitPrice),
		StopPrice:     decimalPtr(req.StopPrice),
		ClientOrderID: req.ClientOrderID,
	}
	if req.TimeInForce == TimeInForceGTD {
		// Alpaca has no good-till-date; GTC is the closest lifetime.
		r.TimeInForce = alpaca.GTC
	}
	if req.IsBracket() {
		r.OrderClass = alpaca.Bracket
		if req.TakeProfit != nil {
			r.TakeProfit = &alpaca.TakeProfit{LimitPrice: decimalPtr(&req.TakeProfit.Price)}
		}
		if req.StopLoss != nil {
			r.StopLoss = &alpaca.StopLoss{
				StopPrice:  decimalPtr(&req.StopLoss.Price),
				LimitPrice: decimalPtr(req.StopLoss.PriceLimit),
			}
		}
	}

	order, err := b.client.PlaceOrder(r)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("alpaca place order %s: %w", req.Symbol, err)
	}

	res := SubmitResult{OIDs: []string{order.ID}}
	if len(order.Legs) > 0 {
		res.Legs = make(map[domain.BracketRole][]string, len(order.Legs))
		for _, leg := range order.Legs {
			role := domain.RoleStop
			if leg.Type == alpaca.Limit {
				role = domain.RoleTake
			}
			res.Legs[role] = append(res.Legs[role], leg.ID)
		}
	}
	return res, nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(_ context.Context, oid string) error {
	if err := b.client.CancelOrder(oid); err != nil {
		return fmt.Errorf("alpaca cancel order %s: %w", oid, err)
	}
	return nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca get positions: %w", err)
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		qty := p.Qty.InexactFloat64()
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		pos := domain.Position{Symbol: p.Symbol}
		pos.Update(qty, p.AvgEntryPrice.InexactFloat64())
		out = append(out, pos)
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca get account: %w", err)
	}
	return &domain.AccountInfo{
		Cash:        acct.Cash.InexactFloat64(),
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		UpdatedAt:   time.Now(),
	}, nil
}

// Events verifies the credentials and then streams trade updates, decoded
// into domain events, until ctx is cancelled. The channel is closed once the
// stream has stopped.
func (b *AlpacaBroker) Events(ctx context.Context) (<-chan domain.Event, error) {
	if _, err := b.client.GetAccount(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	ch := make(chan domain.Event, b.buf)
	go b.streamTradeUpdates(ctx, b.client.StreamTradeUpdates, ch)
	return ch, nil
}

type tradeUpdateStream func(ctx context.Context, handler func(alpaca.TradeUpdate), req alpaca.StreamTradeUpdatesRequest) error

// streamTradeUpdates runs stream until ctx is done, reconnecting after errors
// and resuming after the last update seen, then closes ch. The handler runs
// on this goroutine, so nothing sends on ch after it is closed.
func (b *AlpacaBroker) streamTradeUpdates(ctx context.Context, stream tradeUpdateStream, ch chan<- domain.Event) {
	defer close(ch)
	defer b.log.Info("alpaca trade update stream stopped")

	var last time.Time
	for ctx.Err() == nil {
		var req alpaca.StreamTradeUpdatesRequest
		if !last.IsZero() {
			req.Since = last.Add(time.Nanosecond)
		}
		err := stream(ctx, func(tu alpaca.TradeUpdate) {
			last = tu.At
			select {
			case ch <- decodeTradeUpdate(tu):
			case <-ctx.Done():
			}
		}, req)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.log.Warn("alpaca trade update stream error, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(b.reconnect):
		}
	}
}

// decodeTradeUpdate maps an Alpaca trade update onto the domain event
// variants. Unrecognised update kinds become UnknownEvent.
func decodeTradeUpdate(tu alpaca.TradeUpdate) domain.Event {
	at := tu.At
	if tu.Timestamp != nil {
		at = *tu.Timestamp
	}
	o := tu.Order
	switch tu.Event {
	case "new", "accepted", "pending_new":
		return domain.OrderCreated{
			ID:        o.ID,
			OrderType: domainType(o.Type),
			Side:      domain.OrderSide(o.Side),
			At:        at,
		}
	case "fill", "partial_fill":
		ev := domain.OrderFilled{
			OrderID: o.ID,
			Side:    domain.OrderSide(o.Side),
			Reason:  domain.FillReasonOrder,
			At:      at,
		}
		if tu.Qty != nil {
			ev.Units = tu.Qty.InexactFloat64()
		}
		if tu.Price != nil {
			ev.Price = tu.Price.InexactFloat64()
		}
		return ev
	case "canceled":
		return domain.OrderCancelled{OrderID: o.ID, Reason: domain.CancelReasonClientRequest, At: at}
	case "expired", "done_for_day":
		return domain.OrderCancelled{OrderID: o.ID, Reason: domain.CancelReasonExpired, At: at}
	case "rejected":
		return domain.OrderCancelled{OrderID: o.ID, Reason: domain.CancelReasonOther, At: at}
	default:
		return domain.UnknownEvent{
			Name:   tu.Event,
			Fields: map[string]string{"id": o.ID, "symbol": o.Symbol, "status": o.Status},
		}
	}
}

func alpacaSide(s domain.OrderSide) alpaca.Side {
	if s == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	case domain.OrderTypeStopLimit:
		return alpaca.StopLimit
	default:
		return alpaca.Market
	}
}

func domainType(t alpaca.OrderType) domain.OrderType {
	switch t {
	case alpaca.Limit:
		return domain.OrderTypeLimit
	case alpaca.Stop:
		return domain.OrderTypeStop
	case alpaca.StopLimit:
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeMarket
	}
}

func decimalPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
