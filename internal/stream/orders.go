package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"orderbridge/internal/domain"
	"orderbridge/internal/engine"
)

const (
	ordersService = "orderbridge.Orders"
	placeMethod   = "/" + ordersService + "/Place"
	cancelMethod  = "/" + ordersService + "/Cancel"
)

// Intents is the engine surface the order service drives.
type Intents interface {
	Place(req engine.OrderRequest) (*domain.Order, error)
	BuyBracket(req engine.BracketRequest) ([]*domain.Order, error)
	SellBracket(req engine.BracketRequest) ([]*domain.Order, error)
	Cancel(ref int64) (*domain.Order, error)
}

type ordersServer interface {
	place(context.Context, *structpb.Struct) (*structpb.Struct, error)
	cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ordersDesc = grpc.ServiceDesc{
	ServiceName: ordersService,
	HandlerType: (*ordersServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Place", Handler: unary(placeMethod, ordersServer.place)},
		{MethodName: "Cancel", Handler: unary(cancelMethod, ordersServer.cancel)},
	},
	Metadata: "orderbridge/orders",
}

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary(method string, fn func(ordersServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ordersServer)
		if interceptor == nil {
			return fn(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(s, ctx, req.(*structpb.Struct))
		})
	}
}

// OrderServer accepts order intents over gRPC. Calls return as soon as the
// engine has recorded the intent.
type OrderServer struct {
	eng Intents
	log *slog.Logger
}

// NewOrderServer creates an order service backed by eng.
func NewOrderServer(eng Intents, log *slog.Logger) *OrderServer {
	return &OrderServer{eng: eng, log: log}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *OrderServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ordersDesc, s)
}

// Intent is a request to place an order or a bracket. StopPrice and
// TakePrice together make it a bracket.
type Intent struct {
	Symbol     string
	Side       domain.OrderSide
	Type       domain.OrderType
	Size       float64 // unsigned
	Price      *float64
	PriceLimit *float64
	Expiry     *time.Time
	StopPrice  float64
	TakePrice  float64
}

func (in Intent) bracket() bool {
	return in.StopPrice > 0 || in.TakePrice > 0
}

func (s *OrderServer) place(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := decodeIntent(req)
	var (
		orders []*domain.Order
		err    error
	)
	if in.bracket() {
		br := engine.BracketRequest{
			Symbol: in.Symbol, Type: in.Type, Size: in.Size,
			Price: in.Price, PriceLimit: in.PriceLimit, Expiry: in.Expiry,
			StopPrice: in.StopPrice, TakePrice: in.TakePrice,
		}
		switch in.Side {
		case domain.OrderSideBuy:
			orders, err = s.eng.BuyBracket(br)
		case domain.OrderSideSell:
			orders, err = s.eng.SellBracket(br)
		default:
			err = fmt.Errorf("%w: side %q", engine.ErrInvalidOrder, in.Side)
		}
	} else {
		var o *domain.Order
		o, err = s.eng.Place(engine.OrderRequest{
			Symbol: in.Symbol, Side: in.Side, Type: in.Type, Size: in.Size,
			Price: in.Price, PriceLimit: in.PriceLimit, Expiry: in.Expiry,
			Transmit: true,
		})
		if o != nil {
			orders = []*domain.Order{o}
		}
	}
	if err != nil {
		return nil, toStatus(err)
	}

	s.log.Info("intent accepted", "symbol", in.Symbol, "side", in.Side, "orders", len(orders))
	list := make([]any, 0, len(orders))
	for _, o := range orders {
		list = append(list, orderFields(o))
	}
	return structpb.NewStruct(map[string]any{"orders": list})
}

func (s *OrderServer) cancel(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref := int64(num(req.AsMap(), "ref"))
	o, err := s.eng.Cancel(ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"order": orderFields(o)})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, engine.ErrUnknownOrder):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func encodeIntent(in Intent) (*structpb.Struct, error) {
	m := map[string]any{
		"symbol": in.Symbol,
		"side":   string(in.Side),
		"type":   string(in.Type),
		"size":   in.Size,
	}
	if in.Price != nil {
		m["price"] = *in.Price
	}
	if in.PriceLimit != nil {
		m["price_limit"] = *in.PriceLimit
	}
	if in.Expiry != nil {
		m["expiry"] = in.Expiry.Format(time.RFC3339Nano)
	}
	if in.bracket() {
		m["stop_price"] = in.StopPrice
		m["take_price"] = in.TakePrice
	}
	return structpb.NewStruct(m)
}

func decodeIntent(s *structpb.Struct) Intent {
	m := s.AsMap()
	in := Intent{
		Symbol:    str(m, "symbol"),
		Side:      domain.OrderSide(str(m, "side")),
		Type:      domain.OrderType(str(m, "type")),
		Size:      num(m, "size"),
		StopPrice: num(m, "stop_price"),
		TakePrice: num(m, "take_price"),
	}
	if in.Type == "" {
		in.Type = domain.OrderTypeMarket
	}
	if v, ok := m["price"].(float64); ok {
		in.Price = &v
	}
	if v, ok := m["price_limit"].(float64); ok {
		in.PriceLimit = &v
	}
	if _, ok := m["expiry"]; ok {
		e := ts(m, "expiry")
		in.Expiry = &e
	}
	return in
}

// Place sends an intent to the order service and returns the resulting
// order snapshots.
func (c *Client) Place(ctx context.Context, in Intent) ([]*domain.Order, error) {
	req, err := encodeIntent(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, placeMethod, req, out); err != nil {
		return nil, err
	}
	list, _ := out.AsMap()["orders"].([]any)
	orders := make([]*domain.Order, 0, len(list))
	for _, v := range list {
		if om, ok := v.(map[string]any); ok {
			orders = append(orders, decodeOrder(om))
		}
	}
	return orders, nil
}

// Cancel asks the order service to cancel ref.
func (c *Client) Cancel(ctx context.Context, ref int64) (*domain.Order, error) {
	req, err := structpb.NewStruct(map[string]any{"ref": ref})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, cancelMethod, req, out); err != nil {
		return nil, err
	}
	om, _ := out.AsMap()["order"].(map[string]any)
	return decodeOrder(om), nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()
	return conn.Invoke(ctx, method, req, out)
}
