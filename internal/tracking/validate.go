package tracking

import (
	"fmt"
	"math"
	"slices"
)

// Criteria controls keypoint rejection. Frames with likelihood below
// Threshold are dropped; then, per axis, values outside the
// [Alpha, 100-Alpha] percentile band. Alpha <= 0 or NaN disables the band.
type Criteria struct {
	Alpha     float64
	Threshold float64
}

// DefaultCriteria drops low-confidence frames only.
var DefaultCriteria = Criteria{Alpha: 0, Threshold: 0.2}

func (c Criteria) percentileEnabled() bool {
	return !math.IsNaN(c.Alpha) && c.Alpha > 0
}

// ValidateKeypoint returns the positions of one keypoint with rejected
// frames set to NaN on both axes. The table is not modified.
func ValidateKeypoint(table PoseTable, keypoint string, c Criteria) (PointEstimation, error) {
	kp, err := table.Keypoint(keypoint)
	if err != nil {
		return PointEstimation{}, err
	}
	n := len(kp.X)
	if len(kp.Y) != n || len(kp.Likelihood) != n {
		return PointEstimation{}, fmt.Errorf("keypoint %q: x/y/likelihood lengths differ", keypoint)
	}

	x := slices.Clone(kp.X)
	y := slices.Clone(kp.Y)
	for i, l := range kp.Likelihood {
		// NaN likelihood also fails the comparison
		if !(l >= c.Threshold) {
			x[i], y[i] = math.NaN(), math.NaN()
		}
	}

	if c.percentileEnabled() {
		okX := withinBand(x, c.Alpha)
		okY := withinBand(y, c.Alpha)
		for i := range x {
			if !okX[i] || !okY[i] {
				x[i], y[i] = math.NaN(), math.NaN()
			}
		}
	}
	return PointEstimation{X: x, Y: y}, nil
}

func withinBand(v []float64, alpha float64) []bool {
	lo := NaNPercentile(v, alpha)
	hi := NaNPercentile(v, 100-alpha)
	ok := make([]bool, len(v))
	for i, x := range v {
		ok[i] = x >= lo && x <= hi
	}
	return ok
}

// NaNPercentile returns the q-th percentile (0-100) of the non-NaN values
// of v, interpolating linearly between the closest ranks. It is NaN when v
// holds no numbers.
func NaNPercentile(v []float64, q float64) float64 {
	vals := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	slices.Sort(vals)

	rank := q / 100 * float64(len(vals)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	lo = max(0, min(lo, len(vals)-1))
	hi = max(0, min(hi, len(vals)-1))
	frac := rank - math.Floor(rank)
	return vals[lo] + (vals[hi]-vals[lo])*frac
}

// IndexRanges is how many leading pulses and frames of a video survive
// reconciliation. Both counts are equal after a successful validation.
type IndexRanges struct {
	Pulses int
	Frames int
}

// ValidateIndexRanges reconciles the frame count of a video-derived table
// with the number of video pulses. A difference of up to tolerance is
// resolved by clipping the longer side; anything larger is ErrMismatch.
func ValidateIndexRanges(numFrames, numPulses, tolerance int) (IndexRanges, error) {
	delta := numFrames - numPulses
	switch {
	case delta == 0:
		return IndexRanges{Pulses: numPulses, Frames: numFrames}, nil
	case delta > 0 && delta <= tolerance:
		return IndexRanges{Pulses: numPulses, Frames: numPulses}, nil
	case delta < 0 && -delta <= tolerance:
		return IndexRanges{Pulses: numFrames, Frames: numFrames}, nil
	default:
		return IndexRanges{}, fmt.Errorf("%w: %d pulses vs %d frames", ErrMismatch, numPulses, numFrames)
	}
}
