// Package align maps sample indices between timelines: DAQ samples onto
// pulse intervals, and indices onto timestamps.
package align

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsorted        = errors.New("indices are not in ascending order")
	ErrIndexOutOfRange = errors.New("index outside the timeline")
)

type state uint8

const (
	stateIndex state = iota
	stateMissing
	stateOutOfPeriod
)

// Index is a position on some timeline, or one of two reasons for not
// having one: the value was never recorded (Missing), or it lies outside
// the span the target timeline covers (OutOfPeriod).
type Index struct {
	state state
	n     int
}

var (
	Missing     = Index{state: stateMissing}
	OutOfPeriod = Index{state: stateOutOfPeriod}
)

// At returns the valid index n.
func At(n int) Index {
	return Index{n: n}
}

// Value returns the index and whether it is valid.
func (i Index) Value() (int, bool) {
	if i.state != stateIndex {
		return 0, false
	}
	return i.n, true
}

func (i Index) IsMissing() bool     { return i.state == stateMissing }
func (i Index) IsOutOfPeriod() bool { return i.state == stateOutOfPeriod }

func (i Index) String() string {
	switch i.state {
	case stateMissing:
		return "missing"
	case stateOutOfPeriod:
		return "out-of-period"
	default:
		return fmt.Sprintf("%d", i.n)
	}
}

// FromSample converts a numeric sample index as stored by acquisition
// software: NaN and negative values are missing.
func FromSample(v float64) Index {
	if math.IsNaN(v) || v < 0 {
		return Missing
	}
	return At(int(v))
}

// FromSamples applies FromSample elementwise.
func FromSamples(vs []float64) []Index {
	out := make([]Index, len(vs))
	for i, v := range vs {
		out[i] = FromSample(v)
	}
	return out
}

// Sentinel encodes i in the legacy integer convention: -1 for missing,
// -2 for out of period. Only export formats should need this.
func (i Index) Sentinel() int {
	switch i.state {
	case stateMissing:
		return -1
	case stateOutOfPeriod:
		return -2
	default:
		return i.n
	}
}

// TimebaseToDAQIndices finds, for each time in pulseT, the first DAQ sample
// within tol of it. Both inputs must be sorted; the scan is a single forward
// pass and unmatched entries end up Missing.
func TimebaseToDAQIndices(daqT, pulseT []float64, tol float64) []Index {
	out := make([]Index, len(pulseT))
	for i := range out {
		out[i] = Missing
	}
	offset := 0
	for i, t := range pulseT {
		for offset < len(daqT) && math.Abs(t-daqT[offset]) > tol {
			offset++
		}
		if offset == len(daqT) {
			break
		}
		out[i] = At(offset)
	}
	return out
}

// DAQIndexToPulseIndex finds, for each DAQ sample index, the pulse interval
// [pulseT[k], pulseT[k+1]) that contains daqT[idx] and returns k. Samples
// before the first pulse, or at or after the last one, are OutOfPeriod.
// Missing entries pass through. daqIdx must be ascending apart from the
// Missing holes; the scan offset never rewinds.
func DAQIndexToPulseIndex(daqIdx []Index, daqT, pulseT []float64) ([]Index, error) {
	out := make([]Index, len(daqIdx))
	offset := 0
	last := -1
	for i, idx := range daqIdx {
		n, ok := idx.Value()
		if !ok {
			out[i] = idx
			continue
		}
		if n >= len(daqT) {
			return nil, fmt.Errorf("%w: entry %d refers to sample %d of %d", ErrIndexOutOfRange, i, n, len(daqT))
		}
		if n < last {
			return nil, fmt.Errorf("%w: entry %d (%d) follows %d", ErrUnsorted, i, n, last)
		}
		last = n

		t := daqT[n]
		for offset+1 < len(pulseT) && pulseT[offset+1] <= t {
			offset++
		}
		switch {
		case len(pulseT) == 0 || t < pulseT[offset]:
			out[i] = OutOfPeriod
		case offset == len(pulseT)-1:
			// the last pulse has no closing boundary
			out[i] = OutOfPeriod
		default:
			out[i] = At(offset)
		}
	}
	return out, nil
}

// IndexToTimestamp looks each valid index up in t; anything else is NaN.
func IndexToTimestamp(vals []Index, t []float64) ([]float64, error) {
	out := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := v.Value()
		if !ok {
			out[i] = math.NaN()
			continue
		}
		if n >= len(t) {
			return nil, fmt.Errorf("%w: entry %d refers to index %d of %d", ErrIndexOutOfRange, i, n, len(t))
		}
		out[i] = t[n]
	}
	return out, nil
}
