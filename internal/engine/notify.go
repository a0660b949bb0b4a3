package engine

import (
	"sync"
	"time"

	"orderbridge/internal/domain"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notification is a human-readable message about something the caller may
// want to act on: a rejected submission, a dropped venue event, a failed
// account refresh.
type Notification struct {
	At      time.Time
	Level   string
	Message string
	Fields  map[string]any
}

// OrderUpdate carries an order snapshot after a state change, with the fill
// that caused it when there was one.
type OrderUpdate struct {
	Order *domain.Order
	Fill  *domain.Fill
}

// Update is what subscribers receive: exactly one of the fields is set.
type Update struct {
	Notification *Notification
	Order        *OrderUpdate
}

// notifier holds the drainable queues and the subscriber fan-out. Its lock is
// a leaf: nothing is called while it is held.
type notifier struct {
	mu      sync.Mutex
	msgs    []Notification
	updates []OrderUpdate

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Update
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Update)}
}

func (n *notifier) notify(level, msg string, kv ...any) {
	note := Notification{At: time.Now(), Level: level, Message: msg}
	if len(kv) > 0 {
		note.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				note.Fields[k] = kv[i+1]
			}
		}
	}
	n.mu.Lock()
	n.msgs = append(n.msgs, note)
	n.mu.Unlock()
	n.publish(Update{Notification: &note})
}

func (n *notifier) orderUpdate(o *domain.Order, fill *domain.Fill) {
	u := OrderUpdate{Order: o.Clone()}
	if fill != nil {
		f := *fill
		u.Fill = &f
	}
	n.mu.Lock()
	n.updates = append(n.updates, u)
	n.mu.Unlock()
	n.publish(Update{Order: &u})
}

func (n *notifier) publish(u Update) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber, drop.
		}
	}
}

func (n *notifier) drainMessages() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.msgs
	n.msgs = nil
	return out
}

func (n *notifier) drainUpdates() []OrderUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.updates
	n.updates = nil
	return out
}

func (n *notifier) subscribe(bufSize int) (int, <-chan Update) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	id := n.nextSubID
	n.nextSubID++
	c := make(chan Update, bufSize)
	n.subs[id] = c
	return id, c
}

func (n *notifier) unsubscribe(id int) {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	if ch, ok := n.subs[id]; ok {
		close(ch)
		delete(n.subs, id)
	}
}

func (n *notifier) closeAll() {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
