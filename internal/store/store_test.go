package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"orderbridge/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	ts := time.Date(2024, 6, 15, 21, 30, 0, 0, time.UTC)
	got := ps.fillPath(ts)

	want := filepath.Join("/data", "fills", "2024-06-15.parquet")
	if got != want {
		t.Errorf("fillPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadFills(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	day := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	fills := []domain.Fill{
		{Ref: 1, OID: "A1", Symbol: "AAPL", Size: 10, Price: 185.5, Commission: 1, Reason: domain.FillReasonOrder, At: day},
		{Ref: 2, OID: "A2", Symbol: "AAPL", Size: -5, Price: 186, Reason: domain.FillReasonTakeProfit, At: day.Add(time.Minute)},
		{Ref: 3, OID: "A3", Symbol: "MSFT", Size: 1, Price: 400, At: day.AddDate(0, 0, 1)},
	}
	if err := ps.WriteFills(ctx, fills); err != nil {
		t.Fatalf("WriteFills: %v", err)
	}

	got, err := ps.ReadFills(ctx, day)
	if err != nil {
		t.Fatalf("ReadFills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadFills returned %d fills, want 2", len(got))
	}
	if got[0].OID != "A1" || got[0].Price != 185.5 || got[0].Reason != domain.FillReasonOrder {
		t.Errorf("first fill = %+v", got[0])
	}
	if got[1].Size != -5 {
		t.Errorf("second fill Size = %v, want -5", got[1].Size)
	}

	next, err := ps.ReadFills(ctx, day.AddDate(0, 0, 1))
	if err != nil || len(next) != 1 {
		t.Fatalf("ReadFills(next day) = %v, %v", next, err)
	}
}

func TestParquetStoreMergeFills(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	first := []domain.Fill{{Ref: 1, OID: "X", Symbol: "MSFT", Size: 1, Price: 400, At: at}}
	if err := ps.WriteFills(ctx, first); err != nil {
		t.Fatalf("WriteFills (first): %v", err)
	}
	// The same execution again plus a new one: merge, not duplicate.
	second := []domain.Fill{
		{Ref: 1, OID: "X", Symbol: "MSFT", Size: 1, Price: 400, At: at},
		{Ref: 1, OID: "X", Symbol: "MSFT", Size: 2, Price: 401, At: at.Add(time.Second)},
	}
	if err := ps.WriteFills(ctx, second); err != nil {
		t.Fatalf("WriteFills (second): %v", err)
	}

	got, err := ps.ReadFills(ctx, at)
	if err != nil {
		t.Fatalf("ReadFills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadFills returned %d fills after merge, want 2", len(got))
	}
}

func TestParquetStoreReadMissingDay(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	got, err := ps.ReadFills(context.Background(), time.Now())
	if err != nil || len(got) != 0 {
		t.Fatalf("ReadFills(missing) = %v, %v; want empty, nil", got, err)
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	if s.Session() == "" {
		t.Fatal("Session() is empty")
	}
}

func TestSQLiteStoreOrders(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 14, 14, 30, 0, 0, time.UTC)
	price := 99.5

	o := &domain.Order{
		Ref: 7, Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Size: 10, Price: &price, Status: domain.OrderStatusSubmitted, OID: "V-1",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.Status = domain.OrderStatusCompleted
	o.FilledSize = 10
	o.FilledAvgPrice = 99.4
	o.UpdatedAt = now.Add(time.Minute)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	got, err := s.GetOrder(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted || got.FilledAvgPrice != 99.4 {
		t.Errorf("GetOrder = %+v", got)
	}
	if got.Price == nil || *got.Price != 99.5 || got.PriceLimit != nil || got.Expiry != nil {
		t.Errorf("prices not round-tripped: price=%v limit=%v expiry=%v", got.Price, got.PriceLimit, got.Expiry)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}

	if _, err := s.GetOrder(ctx, 8); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOrder(missing) error = %v, want ErrNotFound", err)
	}

	other := &domain.Order{Ref: 8, Symbol: "MSFT", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
		Size: -1, Status: domain.OrderStatusRejected, CreatedAt: now, UpdatedAt: now}
	if err := s.SaveOrder(ctx, other); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	all, err := s.ListOrders(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListOrders(all) = %d, %v; want 2", len(all), err)
	}
	rejected, err := s.ListOrders(ctx, domain.OrderStatusRejected)
	if err != nil || len(rejected) != 1 || rejected[0].Ref != 8 {
		t.Fatalf("ListOrders(rejected) = %+v, %v", rejected, err)
	}
}

func TestSQLiteStoreFills(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 14, 14, 30, 0, 0, time.UTC)

	for i, size := range []float64{5, 3} {
		f := &domain.Fill{Ref: 1, OID: "V-1", Symbol: "AAPL", Size: size, Price: 10,
			Reason: domain.FillReasonOrder, At: at.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveFill(ctx, f); err != nil {
			t.Fatalf("SaveFill: %v", err)
		}
	}

	got, err := s.ListFills(ctx, at.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(got) != 1 || got[0].Size != 3 {
		t.Fatalf("ListFills = %+v, want the second fill only", got)
	}
}

func TestSQLiteStorePositions(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	if err := s.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Qty: -20, AvgPrice: 150, UpdatedAt: now}); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	if err := s.SavePosition(ctx, &domain.Position{Symbol: "MSFT", Qty: 0, UpdatedAt: now}); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	p, err := s.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if p.Qty != -20 || p.Side != domain.PositionSideShort {
		t.Errorf("GetPosition = %+v", p)
	}

	open, err := s.ListPositions(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("ListPositions = %+v, %v; want only AAPL", open, err)
	}

	if err := s.DeletePosition(ctx, "AAPL"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	if _, err := s.GetPosition(ctx, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPosition after delete error = %v, want ErrNotFound", err)
	}
}
