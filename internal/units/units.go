// Package units converts between ADC codes and millivolts and splits
// acquisitions into pre- and post-trigger samples.
package units

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/verte-zerg/blockcap/internal/model"
)

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MillivoltsToCode translates a voltage into a device code for range r.
// Voltages beyond the range's full scale are rejected.
func MillivoltsToCode(mv float64, r model.Range, maxADC int16) (int16, error) {
	full, ok := r.FullScaleMV()
	if !ok {
		return 0, fmt.Errorf("unknown range %d", int(r))
	}
	if maxADC <= 0 {
		return 0, fmt.Errorf("max ADC code must be > 0, got %d", maxADC)
	}
	if math.IsNaN(mv) || math.Abs(mv) > full {
		return 0, fmt.Errorf("%.3f mV is outside the +/-%s range", mv, r)
	}
	code := math.Round(mv * float64(maxADC) / full)
	code = Clamp(code, -float64(maxADC), float64(maxADC))
	return int16(code), nil
}

// CodeToMillivolts scales a raw code by the range and the max ADC code.
func CodeToMillivolts(code int16, r model.Range, maxADC int16) float64 {
	full, ok := r.FullScaleMV()
	if !ok || maxADC == 0 {
		return 0
	}
	return float64(code) * full / float64(maxADC)
}

// Scaler converts whole buffers for one channel.
type Scaler struct {
	factor float64
}

// NewScaler precomputes the code-to-millivolt factor.
func NewScaler(r model.Range, maxADC int16) (Scaler, error) {
	full, ok := r.FullScaleMV()
	if !ok {
		return Scaler{}, fmt.Errorf("unknown range %d", int(r))
	}
	if maxADC <= 0 {
		return Scaler{}, fmt.Errorf("max ADC code must be > 0, got %d", maxADC)
	}
	return Scaler{factor: full / float64(maxADC)}, nil
}

// MV converts one code.
func (s Scaler) MV(code int16) float64 {
	return float64(code) * s.factor
}

// SplitSamples returns the pre- and post-trigger counts for total samples.
// pre is round(total*fraction) and pre+post == total.
func SplitSamples(total int, fraction float64) (pre, post int, err error) {
	if total <= 0 {
		return 0, 0, fmt.Errorf("total samples must be > 0, got %d", total)
	}
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return 0, 0, fmt.Errorf("pre-trigger fraction must be between 0 and 1, got %v", fraction)
	}
	pre = int(math.Round(float64(total) * fraction))
	pre = Clamp(pre, 0, total)
	return pre, total - pre, nil
}

// ElapsedNs is the elapsed time of sample i at the nominal interval.
func ElapsedNs(i int, intervalNs float64) float64 {
	return float64(i) * intervalNs
}
