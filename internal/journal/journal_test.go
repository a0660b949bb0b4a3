package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orderbridge/internal/domain"
	"orderbridge/internal/engine"
	"orderbridge/internal/store"
)

type fakeSource struct {
	ch        chan engine.Update
	positions map[string]domain.Position
	unsubbed  bool
}

func (f *fakeSource) Subscribe(int) (int, <-chan engine.Update) { return 1, f.ch }
func (f *fakeSource) Unsubscribe(int) { f.unsubbed = true }
func (f *fakeSource) Position(symbol string) domain.Position {
	return f.positions[symbol]
}

func TestJournalPersistsUpdates(t *testing.T) {
	dir := t.TempDir()
	db, err := store.NewSQLiteStore(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	archive := store.NewParquetStore(dir)

	at := time.Date(2024, 6, 14, 14, 30, 0, 0, time.UTC)
	src := &fakeSource{
		ch: make(chan engine.Update, 8),
		positions: map[string]domain.Position{
			"7203": {Symbol: "7203", Qty: 100, AvgPrice: 1234.5, Side: domain.PositionSideLong, UpdatedAt: at},
		},
	}
	j := New(src, db, db, db, archive, slog.New(slog.NewTextHandler(io.Discard, nil)))

	order := &domain.Order{Ref: 1, Symbol: "7203", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Size: 100, Status: domain.OrderStatusSubmitted, OID: "SIM-1", CreatedAt: at, UpdatedAt: at}
	src.ch <- engine.Update{Order: &engine.OrderUpdate{Order: order.Clone()}}

	done := order.Clone()
	done.Status = domain.OrderStatusCompleted
	done.FilledSize = 100
	done.FilledAvgPrice = 1234.5
	fill := &domain.Fill{Ref: 1, OID: "SIM-1", Symbol: "7203", Size: 100, Price: 1234.5,
		Reason: domain.FillReasonOrder, At: at}
	src.ch <- engine.Update{Order: &engine.OrderUpdate{Order: done, Fill: fill}}
	src.ch <- engine.Update{Notification: &engine.Notification{At: at, Level: engine.LevelWarn, Message: "dropped event"}}
	close(src.ch)

	require.NoError(t, j.Run(context.Background()))
	require.True(t, src.unsubbed)

	ctx := context.Background()
	got, err := db.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.InDelta(t, 1234.5, got.FilledAvgPrice, 1e-9)

	fills, err := db.ListFills(ctx, at.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, fills, 1)

	pos, err := db.GetPosition(ctx, "7203")
	require.NoError(t, err)
	require.EqualValues(t, 100, pos.Qty)

	archived, err := archive.ReadFills(ctx, at)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "SIM-1", archived[0].OID)
}

func TestJournalDeletesFlatPosition(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Qty: 10, AvgPrice: 5, UpdatedAt: now}))

	src := &fakeSource{ch: make(chan engine.Update, 1), positions: map[string]domain.Position{}}
	j := New(src, db, db, db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	closing := &domain.Order{Ref: 2, Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
		Size: -10, Status: domain.OrderStatusCompleted, FilledSize: -10, CreatedAt: now, UpdatedAt: now}
	src.ch <- engine.Update{Order: &engine.OrderUpdate{Order: closing,
		Fill: &domain.Fill{Ref: 2, OID: "X", Symbol: "AAPL", Size: -10, Price: 6, At: now}}}
	close(src.ch)

	require.NoError(t, j.Run(ctx))
	_, err = db.GetPosition(ctx, "AAPL")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestJournalStopsOnCancel(t *testing.T) {
	src := &fakeSource{ch: make(chan engine.Update)}
	j := New(src, nil, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))
}
