package connectors

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFloorToStepNeverRoundsUp(t *testing.T) {
	cases := []struct {
		value, step, want string
	}{
		{"0.12345678", "0.001", "0.123"},
		{"0.1239", "0.001", "0.123"},
		{"0.123", "0.001", "0.123"},
		{"1.999", "1", "1"},
		{"45123.7", "0.5", "45123.5"},
		{"0.0009", "0.001", "0"},
	}
	for _, tc := range cases {
		got := floorToStep(d(tc.value), d(tc.step))
		if !got.Equal(d(tc.want)) {
			t.Fatalf("floorToStep(%s, %s) = %s, want %s", tc.value, tc.step, got, tc.want)
		}
	}
}

func TestFloorToStepZeroStepPassthrough(t *testing.T) {
	v := d("0.12345678")
	if got := floorToStep(v, decimal.Zero); !got.Equal(v) {
		t.Fatalf("expected passthrough on zero step, got %s", got)
	}
}

func TestStepPrecision(t *testing.T) {
	cases := []struct {
		step string
		want int32
	}{
		{"0.001", 3},
		{"0.00000001", 8},
		{"1", 0},
		{"10", 0},
		{"0.5", 1},
	}
	for _, tc := range cases {
		if got := stepPrecision(d(tc.step)); got != tc.want {
			t.Fatalf("stepPrecision(%s) = %d, want %d", tc.step, got, tc.want)
		}
	}
}

func TestPrecisionCacheFetchesOnce(t *testing.T) {
	cache := newPrecisionCache()
	calls := 0
	fetch := func(ctx context.Context, symbol string) (*SymbolPrecision, error) {
		calls++
		return &SymbolPrecision{QtyStep: d("0.001"), PriceStep: d("0.1")}, nil
	}

	for i := 0; i < 3; i++ {
		p, err := cache.lookup(context.Background(), VenueBinance, "BTCUSDT", fetch)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !p.QtyStep.Equal(d("0.001")) {
			t.Fatalf("unexpected qty step %s", p.QtyStep)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestPrecisionCacheRejectsEmptyStep(t *testing.T) {
	cache := newPrecisionCache()
	fetch := func(ctx context.Context, symbol string) (*SymbolPrecision, error) {
		return &SymbolPrecision{}, nil
	}
	if _, err := cache.lookup(context.Background(), VenueBybit, "BTCUSDT", fetch); err == nil {
		t.Fatal("expected error for empty quantity step")
	}
}
