package commission

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"", "none", "fixed", "tiered"} {
		if _, err := New(name, 88, 3_000_000); err != nil {
			t.Errorf("New(%q) error: %v", name, err)
		}
	}
	if _, err := New("flat-ish", 0, 0); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("New(unknown) error = %v, want ErrUnknownScheme", err)
	}
}

func TestFixed(t *testing.T) {
	s, _ := New("fixed", 88, 3_000_000)
	tests := []struct {
		size, price, want float64
	}{
		{100, 1234.5, 88},
		{-100, 1234.5, 88},
		{1000, 3000, 88}, // exactly at the threshold still pays
		{1000, 3001, 0},
		{-1000, 3001, 0},
	}
	for _, tt := range tests {
		if got := s.Commission(tt.size, tt.price); got != tt.want {
			t.Errorf("Commission(%v, %v) = %v, want %v", tt.size, tt.price, got, tt.want)
		}
	}
}

func TestTiered(t *testing.T) {
	s := DefaultTiered()
	tests := []struct {
		name        string
		size, price float64
		want        float64
	}{
		{"small", 10, 1000, 55},
		{"50k boundary", 50, 1000, 55},
		{"100k", 100, 1000, 99},
		{"200k", 200, 1000, 115},
		{"500k", 500, 1000, 275},
		{"1M", 1000, 1000, 535},
		{"2M", 2000, 1000, 2079},
		{"capped", 10000, 1000, 4059},
		{"sell uses notional", -100, 1000, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Commission(tt.size, tt.price); got != tt.want {
				t.Errorf("Commission = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNone(t *testing.T) {
	if got := (None{}).Commission(100, 1e9); got != 0 {
		t.Errorf("Commission = %v, want 0", got)
	}
}
