package imaging

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/MikeSquared-Agency/nwbpack/internal/resample"
)

// Params configure the band-pass applied to both channels before the
// hemodynamic regression.
type Params struct {
	Order int
	Low   float64
	High  float64
}

var DefaultParams = Params{Order: 5, Low: 0.01, High: 10}

// Signal is the response of one ROI on the imaging timeline. B and V are the
// filtered dF/F of the two excitation channels; DFF is what remains of B
// after regressing out V.
type Signal struct {
	ROI       ROI
	B         []float64
	V         []float64
	DFF       []float64
	Slope     float64
	Intercept float64
}

// DFF returns (x - m) / m where m is the median of x.
func DFF(x []float64) []float64 {
	m := resample.NaNMedian(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - m) / m
	}
	return out
}

// HalfFrameForward moves V samples half a frame later so that they sit
// between two B frames. The first sample is kept.
func HalfFrameForward(v []float64) []float64 {
	if len(v) == 0 {
		return []float64{}
	}
	out := make([]float64, len(v))
	out[0] = v[0]
	for i := 1; i < len(v); i++ {
		out[i] = (v[i] + v[i-1]) / 2
	}
	return out
}

// Fit is the least-squares line b = Intercept + Slope*v and its residuals.
type Fit struct {
	Slope     float64
	Intercept float64
	Residuals []float64
}

// Regress fits b against v.
func Regress(v, b []float64) Fit {
	alpha, beta := stat.LinearRegression(v, b, nil, false)
	res := make([]float64, len(b))
	for i := range b {
		res[i] = b[i] - (alpha + beta*v[i])
	}
	return Fit{Slope: beta, Intercept: alpha, Residuals: res}
}

// Signals corrects the per-ROI mean traces of both channels. meanB and meanV
// hold one trace per ROI, in rois order, and rate is the imaging frame rate.
func Signals(rois []ROI, meanB, meanV [][]float64, rate float64, p Params) ([]Signal, error) {
	if len(meanB) != len(rois) || len(meanV) != len(rois) {
		return nil, fmt.Errorf("%w: %d ROIs, %d B and %d V traces", ErrChannelLength, len(rois), len(meanB), len(meanV))
	}
	f, err := Bandpass(p.Order, p.Low, p.High, rate)
	if err != nil {
		return nil, err
	}
	out := make([]Signal, 0, len(rois))
	for i, roi := range rois {
		if len(meanB[i]) != len(meanV[i]) {
			return nil, fmt.Errorf("%w: ROI %s has %d B and %d V frames", ErrChannelLength, roi.Name, len(meanB[i]), len(meanV[i]))
		}
		b, err := f.FiltFilt(DFF(meanB[i]))
		if err != nil {
			return nil, fmt.Errorf("ROI %s: %w", roi.Name, err)
		}
		v, err := f.FiltFilt(HalfFrameForward(DFF(meanV[i])))
		if err != nil {
			return nil, fmt.Errorf("ROI %s: %w", roi.Name, err)
		}
		fit := Regress(v, b)
		out = append(out, Signal{
			ROI:       roi,
			B:         b,
			V:         v,
			DFF:       fit.Residuals,
			Slope:     fit.Slope,
			Intercept: fit.Intercept,
		})
	}
	return out, nil
}
