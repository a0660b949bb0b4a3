package engine

import (
	"time"

	"orderbridge/internal/domain"
)

// pendingEntry is the FIFO of events received for an oid nobody has
// registered yet.
type pendingEntry struct {
	events []domain.Event
	first  time.Time
}

// evicted describes a buffer entry dropped by the sweep or the size cap.
type evicted struct {
	oid    string
	events int
	reason string
}

// recon maps venue order ids to local refs and buffers events for ids not
// yet mapped. An oid is either mapped or buffered, never both.
type recon struct {
	byOID   map[string]int64
	oids    map[int64][]string // first entry is the primary oid
	retired map[string]time.Time

	pending      map[string]*pendingEntry
	pendingCount int

	ttl        time.Duration
	maxPending int
}

func newRecon(ttl time.Duration, maxPending int) *recon {
	return &recon{
		byOID:      make(map[string]int64),
		oids:       make(map[int64][]string),
		retired:    make(map[string]time.Time),
		pending:    make(map[string]*pendingEntry),
		ttl:        ttl,
		maxPending: maxPending,
	}
}

// register maps oid to ref and returns any events buffered for it, in
// receipt order. The buffer entry is removed.
func (r *recon) register(oid string, ref int64) []domain.Event {
	if _, ok := r.byOID[oid]; !ok {
		r.oids[ref] = append(r.oids[ref], oid)
	}
	r.byOID[oid] = ref
	delete(r.retired, oid)

	p, ok := r.pending[oid]
	if !ok {
		return nil
	}
	delete(r.pending, oid)
	r.pendingCount -= len(p.events)
	return p.events
}

func (r *recon) lookup(oid string) (int64, bool) {
	ref, ok := r.byOID[oid]
	return ref, ok
}

// primary returns the first oid registered for ref, or "".
func (r *recon) primary(ref int64) string {
	if ids := r.oids[ref]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// buffer appends ev to the oid's pending FIFO. If the buffer is then over its
// cap, whole entries are evicted oldest first and returned.
func (r *recon) buffer(oid string, ev domain.Event, now time.Time) []evicted {
	p, ok := r.pending[oid]
	if !ok {
		p = &pendingEntry{first: now}
		r.pending[oid] = p
	}
	p.events = append(p.events, ev)
	r.pendingCount++

	var out []evicted
	for r.maxPending > 0 && r.pendingCount > r.maxPending {
		oldest := r.oldestPending()
		if oldest == "" {
			break
		}
		out = append(out, r.evict(oldest, "cap"))
	}
	return out
}

// retire marks ref's oids for pruning once the TTL has passed. Events for
// them still resolve to ref until then.
func (r *recon) retire(ref int64, now time.Time) {
	for _, oid := range r.oids[ref] {
		r.retired[oid] = now
	}
}

// sweep evicts pending entries older than the TTL and prunes retired
// mappings past it.
func (r *recon) sweep(now time.Time) []evicted {
	var out []evicted
	for oid, p := range r.pending {
		if now.Sub(p.first) >= r.ttl {
			out = append(out, r.evict(oid, "ttl"))
		}
	}
	for oid, at := range r.retired {
		if now.Sub(at) < r.ttl {
			continue
		}
		ref := r.byOID[oid]
		delete(r.byOID, oid)
		delete(r.retired, oid)
		r.dropOID(ref, oid)
	}
	return out
}

func (r *recon) dropOID(ref int64, oid string) {
	ids := r.oids[ref]
	for i, id := range ids {
		if id == oid {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.oids, ref)
		return
	}
	r.oids[ref] = ids
}

func (r *recon) oldestPending() string {
	var (
		oid   string
		first time.Time
	)
	for k, p := range r.pending {
		if oid == "" || p.first.Before(first) {
			oid, first = k, p.first
		}
	}
	return oid
}

func (r *recon) evict(oid, reason string) evicted {
	p := r.pending[oid]
	delete(r.pending, oid)
	r.pendingCount -= len(p.events)
	return evicted{oid: oid, events: len(p.events), reason: reason}
}

func (r *recon) pendingLen() int {
	return r.pendingCount
}
