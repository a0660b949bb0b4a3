package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"orderbridge/internal/domain"
)

// Compile-time interface check.
var _ FillArchive = (*ParquetStore)(nil)

// ParquetStore implements FillArchive using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// FillRecord is the Parquet schema for an execution.
type FillRecord struct {
	Ref        int64   `parquet:"ref"`
	OID        string  `parquet:"oid"`
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Size       float64 `parquet:"size"`
	Price      float64 `parquet:"price"`
	Commission float64 `parquet:"commission"`
	Reason     string  `parquet:"reason"`
}

// WriteFills merges fills into one file per UTC day at:
//
//	<DataDir>/fills/<YYYY-MM-DD>.parquet
func (s *ParquetStore) WriteFills(_ context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	groups := make(map[string][]FillRecord)
	for _, f := range fills {
		date := f.At.UTC().Format("2006-01-02")
		groups[date] = append(groups[date], FillRecord{
			Ref:        f.Ref,
			OID:        f.OID,
			Symbol:     f.Symbol,
			Timestamp:  f.At.UnixMilli(),
			Size:       f.Size,
			Price:      f.Price,
			Commission: f.Commission,
			Reason:     string(f.Reason),
		})
	}

	for date, records := range groups {
		day, _ := time.Parse("2006-01-02", date)
		path := s.fillPath(day)

		existing, _ := readParquetFile[FillRecord](path)
		merged := mergeFillRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing fills for %s: %w", date, err)
		}
	}
	return nil
}

// ReadFills returns the archived fills of the UTC day containing day. A day
// without a file yields no fills.
func (s *ParquetStore) ReadFills(_ context.Context, day time.Time) ([]domain.Fill, error) {
	records, err := readParquetFile[FillRecord](s.fillPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(records))
	for _, r := range records {
		fills = append(fills, domain.Fill{
			Ref:        r.Ref,
			OID:        r.OID,
			Symbol:     r.Symbol,
			Size:       r.Size,
			Price:      r.Price,
			Commission: r.Commission,
			Reason:     domain.FillReason(r.Reason),
			At:         time.UnixMilli(r.Timestamp),
		})
	}
	return fills, nil
}

// fillPath returns the filesystem path for a fill Parquet file.
// Layout: <dataDir>/fills/<YYYY-MM-DD>.parquet
func (s *ParquetStore) fillPath(t time.Time) string {
	return filepath.Join(s.DataDir, "fills", t.UTC().Format("2006-01-02")+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeFillRecords deduplicates fill records by (oid, timestamp, size),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	type key struct {
		oid  string
		ts   int64
		size float64
	}
	seen := make(map[key]FillRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.OID, r.Timestamp, r.Size}] = r
	}
	for _, r := range incoming {
		seen[key{r.OID, r.Timestamp, r.Size}] = r
	}

	merged := make([]FillRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Ref < merged[j].Ref
	})
	return merged
}
