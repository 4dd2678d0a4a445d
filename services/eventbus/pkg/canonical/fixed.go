package canonical

import (
	"math"

	"github.com/shopspring/decimal"
)

// Fixed-point scales of Silver records.
const (
	ScalePrice int32 = 8 // prices, amounts, volumes
	ScaleRate  int32 = 9 // funding rates, greeks
	ScaleIV    int32 = 6 // implied volatility
)

var (
	maxFixed = decimal.NewFromInt(math.MaxInt64)
	minFixed = decimal.NewFromInt(math.MinInt64)
)

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ToFixed scales v by 10^scale and rounds half away from zero.
// Non-finite values become 0; results outside int64 saturate at
// math.MaxInt64 or math.MinInt64.
func ToFixed(v float64, scale int32) int64 {
	if !finite(v) {
		return 0
	}
	d := decimal.NewFromFloat(v).Shift(scale).Round(0)
	switch {
	case d.GreaterThan(maxFixed):
		return math.MaxInt64
	case d.LessThan(minFixed):
		return math.MinInt64
	}
	return d.IntPart()
}

// FromFixed reverses ToFixed.
func FromFixed(v int64, scale int32) float64 {
	f, _ := decimal.New(v, -scale).Float64()
	return f
}

func e8(v float64) int64 { return ToFixed(v, ScalePrice) }
func e9(v float64) int64 { return ToFixed(v, ScaleRate) }
func e6(v float64) int64 { return ToFixed(v, ScaleIV) }

// DecimalString renders v in the shortest decimal form that round-trips,
// "0" for non-finite values.
func DecimalString(v float64) string {
	if !finite(v) {
		return "0"
	}
	return decimal.NewFromFloat(v).String()
}

// optionalDecimal is DecimalString for fields that may be absent.
func optionalDecimal(v float64) string {
	if !finite(v) {
		return ""
	}
	return decimal.NewFromFloat(v).String()
}
