package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"orderbridge/internal/domain"
	"orderbridge/internal/stream"
)

// printEvent writes one line per event for -plain mode.
func printEvent(ev stream.Event) {
	at := ev.At.Local().Format("15:04:05.000")
	switch ev.Kind {
	case stream.KindPosition:
		p := ev.Position
		fmt.Printf("%s POS   %-8s %12s @ %s\n", at, p.Symbol, formatQty(p.Qty), formatPrice(p.AvgPrice))
	case stream.KindOrder:
		printOrder(at, ev.Order, ev.Fill)
	case stream.KindNotification:
		fmt.Printf("%s %-5s %s%s\n", at, strings.ToUpper(ev.Level), ev.Message, formatFields(ev.Fields))
	default:
		fmt.Printf("%s ?     %s\n", at, ev.Kind)
	}
}

func printOrder(at string, o *domain.Order, f *domain.Fill) {
	if o == nil {
		return
	}
	role := ""
	if o.Role != domain.RoleNone {
		role = fmt.Sprintf(" [%s of %d]", o.Role, o.ParentRef)
		if o.Role == domain.RoleParent {
			role = " [parent]"
		}
	}
	fmt.Printf("%s ORDER #%-5d %-8s %-4s %-10s %12s %-16s filled %s @ %s%s\n",
		at, o.Ref, o.Symbol, o.Side, o.Type, formatQty(o.Size), o.Status,
		formatQty(o.FilledSize), formatPrice(o.FilledAvgPrice), role)
	if f != nil {
		fmt.Printf("%s FILL  #%-5d %-8s %12s @ %s  fee %s  (%s, %s)\n",
			at, f.Ref, f.Symbol, formatQty(f.Size), formatPrice(f.Price),
			formatPrice(f.Commission), f.Reason, f.At.Local().Format(time.TimeOnly))
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func formatQty(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%+d", int64(q))
	}
	return fmt.Sprintf("%+.4f", q)
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}
