package canonical

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scales := []struct {
		scale int32
		tol   float64
		max   float64
	}{
		{ScalePrice, 1e-8, 1e9},
		{ScaleRate, 1e-9, 1e3},
		{ScaleIV, 1e-6, 1e6},
	}
	for _, s := range scales {
		for i := 0; i < 2000; i++ {
			v := (rng.Float64()*2 - 1) * s.max
			got := FromFixed(ToFixed(v, s.scale), s.scale)
			// half a unit of rounding plus float64 representation error
			tol := s.tol + math.Abs(v)*1e-15
			if math.Abs(got-v) > tol {
				t.Fatalf("scale %d: %v -> %v (diff %g)", s.scale, v, got, math.Abs(got-v))
			}
		}
	}
}

func TestToFixed(t *testing.T) {
	tests := []struct {
		v     float64
		scale int32
		want  int64
	}{
		{31250.25, ScalePrice, 3125025000000},
		{0.1, ScalePrice, 10000000},
		{-0.0001, ScaleRate, -100000},
		{0.65, ScaleIV, 650000},
		{math.NaN(), ScalePrice, 0},
		{math.Inf(1), ScalePrice, 0},
		{math.Inf(-1), ScaleRate, 0},
		{9e10, ScalePrice, 9000000000000000000},
		{1e11, ScalePrice, math.MaxInt64},
		{-1e12, ScalePrice, math.MinInt64},
		{1e15, ScalePrice, math.MaxInt64},
		{-1e300, ScaleIV, math.MinInt64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToFixed(tt.v, tt.scale), "ToFixed(%v, %d)", tt.v, tt.scale)
	}
}

func TestDecimalString(t *testing.T) {
	assert.Equal(t, "31250.25", DecimalString(31250.25))
	assert.Equal(t, "0", DecimalString(math.NaN()))
	assert.Equal(t, "0.00000001", DecimalString(1e-8))
	assert.Equal(t, "", optionalDecimal(math.Inf(1)))
}
