package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"orderbridge/internal/domain"
	"orderbridge/internal/stream"
)

const (
	maxOrders = 20
	maxNotes  = 10
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type eventMsg stream.Event

type watchEndMsg struct{ err error }

type model struct {
	addr   string
	cancel context.CancelFunc

	positions map[string]domain.Position
	orders    map[int64]*domain.Order
	notes     []stream.Event
	fills     int

	width  int
	ended  bool
	endErr error
}

func newModel(addr string, cancel context.CancelFunc) model {
	return model{
		addr:      addr,
		cancel:    cancel,
		positions: make(map[string]domain.Position),
		orders:    make(map[int64]*domain.Order),
		width:     100,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case eventMsg:
		m.apply(stream.Event(msg))
	case watchEndMsg:
		m.ended = true
		m.endErr = msg.err
	}
	return m, nil
}

// apply folds one event into the model. Positions arrive as a snapshot on
// connect and are then moved by fills.
func (m *model) apply(ev stream.Event) {
	switch ev.Kind {
	case stream.KindPosition:
		m.positions[ev.Position.Symbol] = *ev.Position
	case stream.KindOrder:
		m.orders[ev.Order.Ref] = ev.Order
		if f := ev.Fill; f != nil {
			m.fills++
			p := m.positions[f.Symbol]
			p.Symbol = f.Symbol
			p.Update(f.Size, f.Price)
			m.positions[f.Symbol] = p
		}
		m.trimOrders()
	case stream.KindNotification:
		m.notes = append(m.notes, ev)
		if len(m.notes) > maxNotes {
			m.notes = m.notes[len(m.notes)-maxNotes:]
		}
	}
}

// trimOrders keeps the newest terminal orders and every live one.
func (m *model) trimOrders() {
	if len(m.orders) <= maxOrders {
		return
	}
	var done []int64
	for ref, o := range m.orders {
		if !o.Alive() {
			done = append(done, ref)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i] < done[j] })
	for _, ref := range done {
		if len(m.orders) <= maxOrders {
			break
		}
		delete(m.orders, ref)
	}
}

func (m model) View() string {
	var b strings.Builder

	state := "live"
	if m.ended {
		state = "disconnected"
		if m.endErr != nil {
			state = "error: " + m.endErr.Error()
		}
	}
	header := fmt.Sprintf(" orderbridge %s  (%s)  orders: %d  fills: %d", m.addr, state, len(m.orders), m.fills)
	b.WriteString(headerStyle.Render(padOrTrunc(header, m.width)))
	b.WriteString("\n\n")

	b.WriteString(titleStyle.Render(" POSITIONS "))
	b.WriteString("\n")
	m.renderPositions(&b)

	b.WriteString("\n")
	b.WriteString(titleStyle.Render(" ORDERS "))
	b.WriteString("\n")
	m.renderOrders(&b)

	b.WriteString("\n")
	b.WriteString(titleStyle.Render(" NOTIFICATIONS "))
	b.WriteString("\n")
	m.renderNotes(&b)

	b.WriteString("\n")
	b.WriteString(footerStyle.Render(padOrTrunc(" q quit", m.width)))
	return b.String()
}

func (m model) renderPositions(b *strings.Builder) {
	symbols := make([]string, 0, len(m.positions))
	for s, p := range m.positions {
		if p.Qty != 0 {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		b.WriteString(dimStyle.Render("  (flat)"))
		b.WriteString("\n")
		return
	}
	sort.Strings(symbols)
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-10s %12s %10s", "Symbol", "Qty", "Avg")))
	b.WriteString("\n")
	for _, s := range symbols {
		p := m.positions[s]
		qty := fmt.Sprintf("%12s", formatQty(p.Qty))
		if p.Qty > 0 {
			qty = gainStyle.Render(qty)
		} else {
			qty = lossStyle.Render(qty)
		}
		fmt.Fprintf(b, "  %s %s %10s\n", symbolStyle.Render(fmt.Sprintf("%-10s", s)), qty, formatPrice(p.AvgPrice))
	}
}

func (m model) renderOrders(b *strings.Builder) {
	if len(m.orders) == 0 {
		b.WriteString(dimStyle.Render("  (none)"))
		b.WriteString("\n")
		return
	}
	refs := make([]int64, 0, len(m.orders))
	for ref := range m.orders {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] > refs[j] })

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-6s %-10s %-10s %10s %-16s %10s %10s %s",
		"Ref", "Symbol", "Type", "Size", "Status", "Filled", "Avg", "Role")))
	b.WriteString("\n")
	for _, ref := range refs {
		o := m.orders[ref]
		line := fmt.Sprintf("  %-6d %-10s %-10s %10s %-16s %10s %10s %s",
			o.Ref, o.Symbol, o.Type, formatQty(o.Size), o.Status,
			formatQty(o.FilledSize), formatPrice(o.FilledAvgPrice), o.Role)
		switch o.Status {
		case domain.OrderStatusCompleted:
			line = gainStyle.Render(line)
		case domain.OrderStatusRejected:
			line = lossStyle.Render(line)
		case domain.OrderStatusCancelled, domain.OrderStatusExpired:
			line = dimStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (m model) renderNotes(b *strings.Builder) {
	if len(m.notes) == 0 {
		b.WriteString(dimStyle.Render("  (none)"))
		b.WriteString("\n")
		return
	}
	for i := len(m.notes) - 1; i >= 0; i-- {
		n := m.notes[i]
		line := fmt.Sprintf("  %s %-5s %s%s", n.At.Local().Format("15:04:05"), strings.ToUpper(n.Level),
			n.Message, formatFields(n.Fields))
		switch n.Level {
		case "error":
			line = lossStyle.Render(line)
		case "warn":
			line = warnStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
