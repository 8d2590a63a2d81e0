package limits

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func defaultLimiter() *EntryLimiter {
	return NewEntryLimiter(10, 2, d(200), d(30))
}

func TestCheckEntry_WithinLimits(t *testing.T) {
	if err := defaultLimiter().CheckEntry(3, d(1500)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckEntry_MaxPositions(t *testing.T) {
	err := defaultLimiter().CheckEntry(10, d(1500))
	if err != ErrMaxPositions {
		t.Errorf("expected ErrMaxPositions, got %v", err)
	}
}

func TestCheckEntry_LowBalance(t *testing.T) {
	l := defaultLimiter()

	// 2 × 30 = 60 is the floor; 59.99 is below it.
	if err := l.CheckEntry(0, d(59.99)); err != ErrLowBalance {
		t.Errorf("expected ErrLowBalance, got %v", err)
	}
	if err := l.CheckEntry(0, d(60)); err != nil {
		t.Errorf("balance at the floor should pass, got %v", err)
	}
}

func TestCheckEntry_MaxPositionsCheckedFirst(t *testing.T) {
	err := defaultLimiter().CheckEntry(12, d(10))
	if err != ErrMaxPositions {
		t.Errorf("expected ErrMaxPositions, got %v", err)
	}
}

func TestSlots(t *testing.T) {
	l := defaultLimiter()
	tests := []struct {
		open int
		want int
	}{
		{0, 2},
		{8, 2},
		{9, 1},
		{10, 0},
		{14, 0},
	}
	for _, tt := range tests {
		if got := l.Slots(tt.open); got != tt.want {
			t.Errorf("Slots(%d) = %d, want %d", tt.open, got, tt.want)
		}
	}
}

func TestSize(t *testing.T) {
	l := defaultLimiter()
	tests := []struct {
		name     string
		balance  float64
		fraction float64
		want     float64
		wantErr  error
	}{
		{"fraction of balance", 1500, 0.05, 75, nil},
		{"capped at max position size", 5000, 0.10, 200, nil},
		{"capped by reserve", 62, 0.9, 32, nil},
		{"below minimum", 400, 0.05, 0, ErrBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Size(d(tt.balance), d(tt.fraction))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && !got.Equal(d(tt.want)) {
				t.Errorf("size = %s, want %v", got, tt.want)
			}
		})
	}
}

func TestCanContinue(t *testing.T) {
	l := defaultLimiter()
	if !l.CanContinue(d(30)) {
		t.Error("balance equal to min trade size should continue")
	}
	if l.CanContinue(d(29.99)) {
		t.Error("balance below min trade size should stop")
	}
}
