package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		x    float64
		tick float64
		want float64
	}{
		{12.34, 0.05, 12.35},
		{12.32, 0.05, 12.30},
		{291.47, 0.1, 291.5},
		{100.0, 0.05, 100.0},
		{1.2345, 0, 1.2345},
		{1.2345, -1, 1.2345},
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
		}
	}
}
