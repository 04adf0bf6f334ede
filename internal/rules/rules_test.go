package rules

import (
	"context"
	"errors"
	"testing"

	"futures-orders/internal/exchange"
)

type stubFilters struct {
	filters exchange.InstrumentFilters
	err     error
	calls   int
}

func (s *stubFilters) FetchInstrumentFilters(ctx context.Context, symbol string) (exchange.InstrumentFilters, error) {
	s.calls++
	if s.err != nil {
		return exchange.InstrumentFilters{}, s.err
	}
	return s.filters, nil
}

func btcFilters() exchange.InstrumentFilters {
	return exchange.InstrumentFilters{
		MinPrice:    556.80,
		MaxPrice:    4529764,
		TickSize:    0.10,
		MinQty:      0.001,
		MaxQty:      1000,
		StepSize:    0.001,
		MinNotional: 100,
	}
}

func TestNormalizePrice_SnapsToTick(t *testing.T) {
	r := NewRules(&stubFilters{filters: btcFilters()}, nil)
	ctx := context.Background()

	cases := []struct {
		price float64
		want  float64
	}{
		{35000.0, 35000.0},
		{35000.04, 35000.0},
		{35000.06, 35000.1},
		{35000.16, 35000.2},
		{34999.99, 35000.0},
	}

	for _, tc := range cases {
		got, err := r.NormalizePrice(ctx, "BTC/USDT:USDT", tc.price)
		if err != nil {
			t.Fatalf("NormalizePrice(%v) returned error: %v", tc.price, err)
		}
		if got != tc.want {
			t.Errorf("NormalizePrice(%v): got %v want %v", tc.price, got, tc.want)
		}
	}
}

func TestNormalizePrice_Idempotent(t *testing.T) {
	r := NewRules(&stubFilters{filters: btcFilters()}, nil)
	ctx := context.Background()

	first, err := r.NormalizePrice(ctx, "BTC/USDT:USDT", 35123.456789)
	if err != nil {
		t.Fatalf("NormalizePrice returned error: %v", err)
	}
	second, err := r.NormalizePrice(ctx, "BTC/USDT:USDT", first)
	if err != nil {
		t.Fatalf("NormalizePrice returned error: %v", err)
	}
	if first != second {
		t.Errorf("normalization not idempotent: %v != %v", first, second)
	}
}

func TestNormalizeQuantity_SnapsToStep(t *testing.T) {
	r := NewRules(&stubFilters{filters: btcFilters()}, nil)
	ctx := context.Background()

	got, err := r.NormalizeQuantity(ctx, "BTC/USDT:USDT", 0.0014)
	if err != nil {
		t.Fatalf("NormalizeQuantity returned error: %v", err)
	}
	if got != 0.001 {
		t.Errorf("NormalizeQuantity(0.0014): got %v want 0.001", got)
	}
}

func TestIsValidQuantity(t *testing.T) {
	r := NewRules(&stubFilters{filters: btcFilters()}, nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		quantity float64
		want     bool
	}{
		{"aligned in range", 0.005, true},
		{"minimum", 0.001, true},
		{"maximum", 1000, true},
		{"below minimum", 0.0005, false},
		{"above maximum", 1000.001, false},
		{"misaligned", 0.0015, false},
		{"float artifact aligned", 0.1 + 0.2, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.IsValidQuantity(ctx, "BTC/USDT:USDT", tc.quantity); got != tc.want {
				t.Errorf("IsValidQuantity(%v): got %v want %v", tc.quantity, got, tc.want)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	r := NewRules(&stubFilters{filters: btcFilters()}, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		price float64
		want  bool
	}{
		{"aligned in range", 35000.1, true},
		{"minimum", 556.80, true},
		{"below minimum", 500, false},
		{"above maximum", 4600000, false},
		{"misaligned", 35000.15, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.ValidatePrice(ctx, "BTC/USDT:USDT", tc.price); got != tc.want {
				t.Errorf("ValidatePrice(%v): got %v want %v", tc.price, got, tc.want)
			}
		})
	}
}

func TestRules_FailClosedWhenSourceErrors(t *testing.T) {
	r := NewRules(&stubFilters{err: errors.New("exchange unavailable")}, nil)
	ctx := context.Background()

	if r.ValidSymbol(ctx, "BTC/USDT:USDT") {
		t.Errorf("ValidSymbol should fail closed on source error")
	}
	if r.IsValidQuantity(ctx, "BTC/USDT:USDT", 0.01) {
		t.Errorf("IsValidQuantity should fail closed on source error")
	}
	if r.ValidatePrice(ctx, "BTC/USDT:USDT", 35000) {
		t.Errorf("ValidatePrice should fail closed on source error")
	}
	if _, err := r.NormalizePrice(ctx, "BTC/USDT:USDT", 35000); err == nil {
		t.Errorf("NormalizePrice should propagate source error")
	}
}

func TestFilters_CachesPerSymbol(t *testing.T) {
	stub := &stubFilters{filters: btcFilters()}
	r := NewRules(stub, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Filters(ctx, "BTC/USDT:USDT"); err != nil {
			t.Fatalf("Filters returned error: %v", err)
		}
	}
	if stub.calls != 1 {
		t.Errorf("expected single source fetch, got %d", stub.calls)
	}

	if _, err := r.Refresh(ctx, "BTC/USDT:USDT"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("Refresh should bypass cache, got %d calls", stub.calls)
	}
}

func TestSnapToUnit_CentTick(t *testing.T) {
	// 0.29 不是 0.01 的精确浮点倍数，规范化后仍应返回 0.29 本身。
	got := snapToUnit(0.29, 0.01)
	if got != 0.29 {
		t.Errorf("snapToUnit(0.29, 0.01): got %v want 0.29", got)
	}
}

func TestAlignedToUnit_ToleratesFloatArtifacts(t *testing.T) {
	cases := []struct {
		value float64
		unit  float64
		want  bool
	}{
		{0.3, 0.1, true},
		{0.1 + 0.2, 0.1, true},
		{0.29, 0.01, true},
		{0.25, 0.1, false},
		{35000.1, 0.1, true},
	}

	for _, tc := range cases {
		if got := alignedToUnit(tc.value, tc.unit); got != tc.want {
			t.Errorf("alignedToUnit(%v, %v): got %v want %v", tc.value, tc.unit, got, tc.want)
		}
	}
}
