package payment

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Amounts are stored in micro-credits so that money math never touches
// floating point. One credit == 10^6 micro-credits, matching USDC's
// on-chain precision so the credits ledger and the on-chain provider
// agree on the smallest unit.
const (
	AmountDecimals   = 6
	AmountMultiplier = 1_000_000 // 10^6
)

// Amount represents a monetary value in its smallest unit.
type Amount struct {
	Value *big.Int
}

// NewAmount creates an Amount from a float number of credits.
func NewAmount(credits float64) (*Amount, error) {
	// Convert through a fixed 6-decimal string to avoid floating point drift.
	str := fmt.Sprintf("%.6f", credits)

	parts := strings.Split(str, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid amount format")
	}

	combined := parts[0] + parts[1]
	value := new(big.Int)
	if _, ok := value.SetString(combined, 10); !ok {
		return nil, fmt.Errorf("invalid amount %q", str)
	}

	return &Amount{Value: value}, nil
}

// FromMicro wraps a raw micro-credit value.
func FromMicro(micro int64) *Amount {
	return &Amount{Value: big.NewInt(micro)}
}

// Zero returns a new Amount with value 0.
func Zero() *Amount {
	return &Amount{Value: new(big.Int)}
}

// ToMicro returns the amount in micro-credits.
func (a *Amount) ToMicro() *big.Int {
	return a.Value
}

// ToCredits returns the amount as a float64 (for display only).
func (a *Amount) ToCredits() float64 {
	str := a.Value.String()
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= AmountDecimals {
		str = strings.Repeat("0", AmountDecimals-len(str)+1) + str
	}
	whole := str[:len(str)-AmountDecimals]
	decimal := str[len(str)-AmountDecimals:]
	result, _ := strconv.ParseFloat(whole+"."+decimal, 64)
	if neg {
		result = -result
	}
	return result
}

// Add adds two amounts.
func (a *Amount) Add(b *Amount) *Amount {
	if a == nil || b == nil {
		return nil
	}
	result := new(big.Int)
	result.Add(a.Value, b.Value)
	return &Amount{Value: result}
}

// Sub subtracts two amounts.
func (a *Amount) Sub(b *Amount) *Amount {
	if a == nil || b == nil {
		return nil
	}
	result := new(big.Int)
	result.Sub(a.Value, b.Value)
	return &Amount{Value: result}
}

// Cmp compares two amounts.
func (a *Amount) Cmp(b *Amount) int {
	if a == nil || b == nil {
		return 0
	}
	return a.Value.Cmp(b.Value)
}

// IsZero returns true if the amount is zero.
func (a *Amount) IsZero() bool {
	if a == nil || a.Value == nil {
		return true
	}
	return a.Value.Sign() == 0
}

// IsNegative returns true if the amount is negative.
func (a *Amount) IsNegative() bool {
	if a == nil || a.Value == nil {
		return false
	}
	return a.Value.Sign() < 0
}

// IsPositive returns true if the amount is positive.
func (a *Amount) IsPositive() bool {
	if a == nil || a.Value == nil {
		return false
	}
	return a.Value.Sign() > 0
}

// Fee returns the platform fee for this amount at the given basis points.
// The division truncates toward zero, so the winner's net payout is never
// short-changed by rounding.
func (a *Amount) Fee(feeBPS int64) *Amount {
	if a == nil || a.Value == nil {
		return Zero()
	}
	fee := new(big.Int).Mul(a.Value, big.NewInt(feeBPS))
	fee.Quo(fee, big.NewInt(10_000))
	return &Amount{Value: fee}
}

// String renders the amount in credits for logs and memos.
func (a *Amount) String() string {
	return strconv.FormatFloat(a.ToCredits(), 'f', -1, 64)
}
