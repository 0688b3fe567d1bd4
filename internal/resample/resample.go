// Package resample moves signals between the raw DAQ rate and the imaging
// frame rate using pulse indices as the bridge.
package resample

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrLengthMismatch = errors.New("values and pulses differ in length")
	ErrPulseRange     = errors.New("pulse index outside the output")
	ErrUnsorted       = errors.New("pulse indices are not ascending")
)

// Reducer collapses the raw samples of one pulse interval into one value.
// An empty slice must yield NaN.
type Reducer func([]float64) float64

// Upsample expands values, one per pulse, into a dense signal of length size
// by linear interpolation between consecutive known pulses. Both endpoints of
// a span are written exactly. A NaN pulse is bridged when a known value lies
// within maxSkips pulses ahead; otherwise the span stays NaN, as does
// everything before the first and after the last interpolated span.
func Upsample(values []float64, size int, pulses []int, maxSkips int) ([]float64, error) {
	if len(values) != len(pulses) {
		return nil, fmt.Errorf("%w: %d values, %d pulses", ErrLengthMismatch, len(values), len(pulses))
	}
	if err := checkPulses(pulses, size); err != nil {
		return nil, err
	}

	out := make([]float64, size)
	for i := range out {
		out[i] = math.NaN()
	}

	ceil := len(pulses) - 1 // the last pulse only closes a span
	offset := 0
	for offset < ceil {
		if math.IsNaN(values[offset]) {
			offset++
			continue
		}
		if !math.IsNaN(values[offset+1]) {
			fillLinear(out, pulses[offset], pulses[offset+1], values[offset], values[offset+1])
			offset++
			continue
		}
		for skip := 1; skip <= maxSkips; skip++ {
			next := offset + skip + 1
			if offset+skip < ceil && !math.IsNaN(values[next]) {
				fillLinear(out, pulses[offset], pulses[next], values[offset], values[next])
				offset += skip
				break
			}
		}
		offset++
	}
	return out, nil
}

// fillLinear writes the straight line from a at out[start] to b at out[stop].
func fillLinear(out []float64, start, stop int, a, b float64) {
	lo, hi := math.Min(a, b), math.Max(a, b)
	n := stop - start
	for k := 0; k < n; k++ {
		v := float64(k)/float64(n)*(b-a) + a
		out[start+k] = math.Max(lo, math.Min(hi, v))
	}
	out[stop] = b
}

// Downsample reduces a dense signal to one value per pulse. Bin i covers
// [pulses[i], pulses[i+1]). The last pulse has no closing boundary, so its
// bin is given the mean inter-pulse width, rounded half to even and clipped
// to the signal. That width is an estimate: a trailing sample count recorded
// at acquisition would be exact.
func Downsample(values []float64, pulses []int, reduce Reducer) ([]float64, error) {
	if reduce == nil {
		reduce = NaNMean
	}
	if len(pulses) == 0 {
		return []float64{}, nil
	}
	if err := checkPulses(pulses, math.MaxInt); err != nil {
		return nil, err
	}

	out := make([]float64, len(pulses))
	for i := 0; i < len(pulses)-1; i++ {
		out[i] = reduce(window(values, pulses[i], pulses[i+1]))
	}

	last := pulses[len(pulses)-1]
	width := 0
	if len(pulses) > 1 {
		width = int(math.RoundToEven(float64(last-pulses[0]) / float64(len(pulses)-1)))
	}
	out[len(out)-1] = reduce(window(values, last, last+width))
	return out, nil
}

func window(values []float64, start, stop int) []float64 {
	stop = min(stop, len(values))
	if start >= stop {
		return nil
	}
	return values[start:stop]
}

func checkPulses(pulses []int, size int) error {
	for i, p := range pulses {
		if p < 0 || p >= size {
			return fmt.Errorf("%w: pulse %d at %d, size %d", ErrPulseRange, i, p, size)
		}
		if i > 0 && p < pulses[i-1] {
			return fmt.Errorf("%w: pulse %d", ErrUnsorted, i)
		}
	}
	return nil
}

// NaNMean averages the non-NaN samples.
func NaNMean(s []float64) float64 {
	if floats.HasNaN(s) {
		s = dropNaN(s)
	}
	if len(s) == 0 {
		return math.NaN()
	}
	return stat.Mean(s, nil)
}

// NaNMedian returns the median of the non-NaN samples. An even count
// averages the two middle values.
func NaNMedian(s []float64) float64 {
	vals := dropNaN(s)
	if len(vals) == 0 {
		return math.NaN()
	}
	slices.Sort(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

func dropNaN(s []float64) []float64 {
	out := make([]float64, 0, len(s))
	for _, v := range s {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// First returns the sample at the start of the interval.
func First(s []float64) float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	return s[0]
}
