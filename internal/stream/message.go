package stream

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"orderbridge/internal/domain"
	"orderbridge/internal/engine"
)

// Message kinds carried in the "kind" field.
const (
	KindPosition     = "position"
	KindOrder        = "order"
	KindNotification = "notification"
)

// Event is a decoded stream message. Kind selects which of the other fields
// are set.
type Event struct {
	Kind     string
	At       time.Time
	Level    string
	Message  string
	Fields   map[string]any
	Order    *domain.Order
	Fill     *domain.Fill
	Position *domain.Position
}

func encodeUpdate(u engine.Update) (*structpb.Struct, error) {
	switch {
	case u.Notification != nil:
		n := u.Notification
		fields := make(map[string]any, len(n.Fields))
		for k, v := range n.Fields {
			fields[k] = plain(v)
		}
		return structpb.NewStruct(map[string]any{
			"kind":    KindNotification,
			"at":      n.At.Format(time.RFC3339Nano),
			"level":   n.Level,
			"message": n.Message,
			"fields":  fields,
		})
	case u.Order != nil:
		m := map[string]any{
			"kind":  KindOrder,
			"at":    u.Order.Order.UpdatedAt.Format(time.RFC3339Nano),
			"order": orderFields(u.Order.Order),
		}
		if f := u.Order.Fill; f != nil {
			m["fill"] = map[string]any{
				"ref":        f.Ref,
				"oid":        f.OID,
				"symbol":     f.Symbol,
				"size":       f.Size,
				"price":      f.Price,
				"commission": f.Commission,
				"reason":     string(f.Reason),
				"at":         f.At.Format(time.RFC3339Nano),
			}
		}
		return structpb.NewStruct(m)
	default:
		return nil, fmt.Errorf("empty update")
	}
}

func encodePosition(p domain.Position) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"kind": KindPosition,
		"at":   p.UpdatedAt.Format(time.RFC3339Nano),
		"position": map[string]any{
			"symbol":    p.Symbol,
			"qty":       p.Qty,
			"avg_price": p.AvgPrice,
			"side":      string(p.Side),
		},
	})
}

func orderFields(o *domain.Order) map[string]any {
	m := map[string]any{
		"ref":              o.Ref,
		"symbol":           o.Symbol,
		"side":             string(o.Side),
		"type":             string(o.Type),
		"size":             o.Size,
		"parent_ref":       o.ParentRef,
		"role":             string(o.Role),
		"status":           string(o.Status),
		"filled_size":      o.FilledSize,
		"filled_avg_price": o.FilledAvgPrice,
		"commission":       o.Commission,
		"oid":              o.OID,
		"created_at":       o.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       o.UpdatedAt.Format(time.RFC3339Nano),
	}
	if o.Price != nil {
		m["price"] = *o.Price
	}
	if o.PriceLimit != nil {
		m["price_limit"] = *o.PriceLimit
	}
	if o.Expiry != nil {
		m["expiry"] = o.Expiry.Format(time.RFC3339Nano)
	}
	return m
}

// plain reduces a notification field to a value structpb accepts.
func plain(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return x
	case error:
		return x.Error()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Decode converts a stream message back into an Event.
func Decode(s *structpb.Struct) Event {
	m := s.AsMap()
	ev := Event{Kind: str(m, "kind"), At: ts(m, "at")}
	switch ev.Kind {
	case KindNotification:
		ev.Level = str(m, "level")
		ev.Message = str(m, "message")
		ev.Fields, _ = m["fields"].(map[string]any)
	case KindOrder:
		if om, ok := m["order"].(map[string]any); ok {
			ev.Order = decodeOrder(om)
		}
		if fm, ok := m["fill"].(map[string]any); ok {
			ev.Fill = &domain.Fill{
				Ref:        int64(num(fm, "ref")),
				OID:        str(fm, "oid"),
				Symbol:     str(fm, "symbol"),
				Size:       num(fm, "size"),
				Price:      num(fm, "price"),
				Commission: num(fm, "commission"),
				Reason:     domain.FillReason(str(fm, "reason")),
				At:         ts(fm, "at"),
			}
		}
	case KindPosition:
		if pm, ok := m["position"].(map[string]any); ok {
			ev.Position = &domain.Position{
				Symbol:    str(pm, "symbol"),
				Qty:       num(pm, "qty"),
				AvgPrice:  num(pm, "avg_price"),
				Side:      domain.PositionSide(str(pm, "side")),
				UpdatedAt: ev.At,
			}
		}
	}
	return ev
}

func decodeOrder(m map[string]any) *domain.Order {
	o := &domain.Order{
		Ref:            int64(num(m, "ref")),
		Symbol:         str(m, "symbol"),
		Side:           domain.OrderSide(str(m, "side")),
		Type:           domain.OrderType(str(m, "type")),
		Size:           num(m, "size"),
		ParentRef:      int64(num(m, "parent_ref")),
		Role:           domain.BracketRole(str(m, "role")),
		Status:         domain.OrderStatus(str(m, "status")),
		FilledSize:     num(m, "filled_size"),
		FilledAvgPrice: num(m, "filled_avg_price"),
		Commission:     num(m, "commission"),
		OID:            str(m, "oid"),
		CreatedAt:      ts(m, "created_at"),
		UpdatedAt:      ts(m, "updated_at"),
	}
	if v, ok := m["price"].(float64); ok {
		o.Price = &v
	}
	if v, ok := m["price_limit"].(float64); ok {
		o.PriceLimit = &v
	}
	if _, ok := m["expiry"]; ok {
		e := ts(m, "expiry")
		o.Expiry = &e
	}
	return o
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func ts(m map[string]any, key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, str(m, key))
	return t
}
