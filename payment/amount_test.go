package payment

import (
	"math/big"
	"testing"
)

func TestNewAmount(t *testing.T) {
	tests := []struct {
		name    string
		credits float64
		want    *big.Int
		wantErr bool
	}{
		{"zero", 0.0, big.NewInt(0), false},
		{"one_credit", 1.0, big.NewInt(1_000_000), false},
		{"fractional", 0.5, big.NewInt(500_000), false},
		{"smallest_unit", 0.000001, big.NewInt(1), false},
		{"large_amount", 123456.789012, big.NewInt(123456_789012), false},
		{"max_precision", 99.123456, big.NewInt(99_123456), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAmount(tt.credits)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAmount() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Value.Cmp(tt.want) != 0 {
				t.Errorf("NewAmount() got = %v, want %v", got.Value, tt.want)
			}
		})
	}
}

func TestAmount_ToCredits(t *testing.T) {
	tests := []struct {
		name   string
		amount *Amount
		want   float64
	}{
		{"zero", &Amount{Value: big.NewInt(0)}, 0.0},
		{"one_credit", &Amount{Value: big.NewInt(1_000_000)}, 1.0},
		{"fractional", &Amount{Value: big.NewInt(500_000)}, 0.5},
		{"smallest_unit", &Amount{Value: big.NewInt(1)}, 0.000001},
		{"negative", &Amount{Value: big.NewInt(-1_500_000)}, -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tolerance := 0.0000001
			got := tt.amount.ToCredits()
			if diff := got - tt.want; diff > tolerance || diff < -tolerance {
				t.Errorf("ToCredits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAmount_AddSub(t *testing.T) {
	a1, _ := NewAmount(1.23)
	a2, _ := NewAmount(4.56)
	sum, _ := NewAmount(5.79)

	if got := a1.Add(a2); got.Cmp(sum) != 0 {
		t.Errorf("Add() = %v, want %v", got.Value, sum.Value)
	}
	if got := sum.Sub(a2); got.Cmp(a1) != 0 {
		t.Errorf("Sub() = %v, want %v", got.Value, a1.Value)
	}
}

func TestAmount_Fee(t *testing.T) {
	tests := []struct {
		name    string
		credits float64
		feeBPS  int64
		want    float64
	}{
		{"five_percent", 100.0, 500, 5.0},
		{"ten_percent", 10.0, 1000, 1.0},
		{"zero_fee", 100.0, 0, 0.0},
		{"truncates_toward_zero", 0.000001, 500, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAmount(tt.credits)
			if err != nil {
				t.Fatalf("NewAmount() error = %v", err)
			}
			want, _ := NewAmount(tt.want)
			if got := a.Fee(tt.feeBPS); got.Cmp(want) != 0 {
				t.Errorf("Fee(%d) = %v, want %v", tt.feeBPS, got.Value, want.Value)
			}
		})
	}
}

func TestAmount_Cmp(t *testing.T) {
	a1, _ := NewAmount(1.0)
	a2, _ := NewAmount(2.0)
	a3, _ := NewAmount(1.0)

	if a1.Cmp(a2) != -1 {
		t.Errorf("Cmp(a1, a2) want -1")
	}
	if a2.Cmp(a1) != 1 {
		t.Errorf("Cmp(a2, a1) want 1")
	}
	if a1.Cmp(a3) != 0 {
		t.Errorf("Cmp(a1, a3) want 0")
	}
}
