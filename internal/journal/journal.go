// Package journal persists the engine's order updates: every order snapshot
// and fill goes to the SQL store as it happens, positions follow each fill,
// and the session's fills are archived to Parquet when the journal stops.
package journal

import (
	"context"
	"log/slog"
	"sync"

	"orderbridge/internal/domain"
	"orderbridge/internal/engine"
	"orderbridge/internal/store"
)

// Source is the engine surface the journal reads from.
type Source interface {
	Subscribe(bufSize int) (int, <-chan engine.Update)
	Unsubscribe(id int)
	Position(symbol string) domain.Position
}

// Journal writes order updates to storage.
type Journal struct {
	src       Source
	orders    store.OrderStore
	fills     store.FillStore
	positions store.PositionStore
	archive   store.FillArchive
	log       *slog.Logger

	mu      sync.Mutex
	session []domain.Fill
}

// New creates a journal. archive may be nil to skip the Parquet export.
func New(src Source, orders store.OrderStore, fills store.FillStore, positions store.PositionStore,
	archive store.FillArchive, log *slog.Logger) *Journal {
	return &Journal{
		src:       src,
		orders:    orders,
		fills:     fills,
		positions: positions,
		archive:   archive,
		log:       log,
	}
}

// Run consumes updates until ctx is cancelled or the engine closes the
// subscription, then flushes the session's fills to the archive.
func (j *Journal) Run(ctx context.Context) error {
	id, ch := j.src.Subscribe(4096)
	defer j.src.Unsubscribe(id)

	j.log.Info("journal started")
	defer func() {
		// ctx is done by now; the flush gets its own.
		if err := j.Flush(context.Background()); err != nil {
			j.log.Error("archiving fills", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			j.handle(ctx, u)
		}
	}
}

func (j *Journal) handle(ctx context.Context, u engine.Update) {
	if n := u.Notification; n != nil {
		j.log.Log(ctx, logLevel(n.Level), "notification", "message", n.Message, "fields", n.Fields)
		return
	}
	if u.Order == nil {
		return
	}

	o := u.Order.Order
	if err := j.orders.SaveOrder(ctx, o); err != nil {
		j.log.Error("journaling order", "ref", o.Ref, "error", err)
	}

	f := u.Order.Fill
	if f == nil {
		return
	}
	if err := j.fills.SaveFill(ctx, f); err != nil {
		j.log.Error("journaling fill", "ref", f.Ref, "error", err)
	}
	j.mu.Lock()
	j.session = append(j.session, *f)
	j.mu.Unlock()

	pos := j.src.Position(f.Symbol)
	if pos.Qty == 0 {
		err := j.positions.DeletePosition(ctx, f.Symbol)
		if err != nil {
			j.log.Error("journaling position", "symbol", f.Symbol, "error", err)
		}
		return
	}
	if err := j.positions.SavePosition(ctx, &pos); err != nil {
		j.log.Error("journaling position", "symbol", f.Symbol, "error", err)
	}
}

// Flush writes the fills seen so far to the archive and clears them.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	fills := j.session
	j.session = nil
	j.mu.Unlock()

	if j.archive == nil || len(fills) == 0 {
		return nil
	}
	if err := j.archive.WriteFills(ctx, fills); err != nil {
		return err
	}
	j.log.Info("archived fills", "count", len(fills))
	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case engine.LevelError:
		return slog.LevelError
	case engine.LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
