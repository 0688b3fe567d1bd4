package tracking_test

import (
	"math"
	"testing"

	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(x, y, l []float64) tracking.PoseTable {
	return tracking.PoseTable{
		Scorer:    "DLC_resnet50",
		Keypoints: []tracking.Keypoint{{Name: "paw", X: x, Y: y, Likelihood: l}},
	}
}

func TestValidateKeypoint_Threshold(t *testing.T) {
	tab := table(
		[]float64{1, 2, 3, 4},
		[]float64{5, 6, 7, 8},
		[]float64{0.95, 0.5, 0.99, math.NaN()},
	)

	for _, alpha := range []float64{math.NaN(), 0, 5, 40} {
		est, err := tracking.ValidateKeypoint(tab, "paw", tracking.Criteria{Alpha: alpha, Threshold: 0.9})
		require.NoError(t, err)
		assert.True(t, math.IsNaN(est.X[1]), "alpha %v", alpha)
		assert.True(t, math.IsNaN(est.Y[1]), "alpha %v", alpha)
		assert.True(t, math.IsNaN(est.X[3]), "NaN likelihood is rejected")
	}

	assert.Equal(t, 2.0, tab.Keypoints[0].X[1], "input must not be modified")
}

func TestValidateKeypoint_PercentileNullsBothAxes(t *testing.T) {
	x := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	y := []float64{5, 5, 5, 5, 5, 100, 5, 5, 5, 5, 5}
	l := make([]float64, len(x))
	for i := range l {
		l[i] = 1
	}

	est, err := tracking.ValidateKeypoint(table(x, y, l), "paw", tracking.Criteria{Alpha: 5, Threshold: 0.2})
	require.NoError(t, err)

	assert.True(t, math.IsNaN(est.X[0]), "x below the 5th percentile")
	assert.True(t, math.IsNaN(est.X[10]), "x above the 95th percentile")
	assert.True(t, math.IsNaN(est.X[5]), "y outlier nulls x too")
	assert.True(t, math.IsNaN(est.Y[5]))
	assert.Equal(t, 13.0, est.X[3])
	assert.Equal(t, 5.0, est.Y[3])
}

func TestValidateKeypoint_Unknown(t *testing.T) {
	_, err := tracking.ValidateKeypoint(table(nil, nil, nil), "nose", tracking.DefaultCriteria)
	assert.ErrorIs(t, err, tracking.ErrUnknownKeypoint)
}

func TestNaNPercentile(t *testing.T) {
	v := []float64{4, math.NaN(), 1, 3, 2}
	assert.Equal(t, 1.0, tracking.NaNPercentile(v, 0))
	assert.Equal(t, 4.0, tracking.NaNPercentile(v, 100))
	assert.InDelta(t, 2.5, tracking.NaNPercentile(v, 50), 1e-12)
	assert.InDelta(t, 1.3, tracking.NaNPercentile(v, 10), 1e-12)
	assert.True(t, math.IsNaN(tracking.NaNPercentile([]float64{math.NaN()}, 50)))
}

func TestValidateIndexRanges(t *testing.T) {
	tests := []struct {
		name           string
		frames, pulses int
		tolerance      int
		want           tracking.IndexRanges
		wantErr        bool
	}{
		{"equal", 100, 100, 0, tracking.IndexRanges{Pulses: 100, Frames: 100}, false},
		{"extra frames", 102, 100, 2, tracking.IndexRanges{Pulses: 100, Frames: 100}, false},
		{"extra pulses", 99, 100, 1, tracking.IndexRanges{Pulses: 99, Frames: 99}, false},
		{"too many frames", 103, 100, 2, tracking.IndexRanges{}, true},
		{"zero tolerance", 100, 101, 0, tracking.IndexRanges{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tracking.ValidateIndexRanges(tt.frames, tt.pulses, tt.tolerance)
			if tt.wantErr {
				assert.ErrorIs(t, err, tracking.ErrMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointEstimation_ApplyStack(t *testing.T) {
	p := tracking.PointEstimation{X: []float64{1, 2}, Y: []float64{3, 4}}
	doubled, err := p.Apply(func(v []float64) ([]float64, error) {
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = 2 * x
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{2, 6}, {4, 8}}, doubled.Stack())
	assert.Equal(t, []float64{1, 2}, p.X)
}

func TestFrameRate_Downsample(t *testing.T) {
	// video at every 2nd raw sample, imaging at every 10th
	video := []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}
	f := tracking.FrameRate{RawSize: 20, VideoPulses: video, DFFPulses: []int{0, 10}, MaxSkips: 1}

	x := make([]float64, len(video))
	for i := range x {
		x[i] = 7
	}
	x[3] = math.NaN()

	got, err := f.Downsample(x)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 7.0, got[0], 1e-12)
	assert.InDelta(t, 7.0, got[1], 1e-12)

	_, err = f.Downsample(x[:5])
	assert.Error(t, err)
}

func TestFrameRate_DownsamplePupil(t *testing.T) {
	f := tracking.FrameRate{RawSize: 10, VideoPulses: []int{0, 5, 9}, DFFPulses: []int{0, 5}, MaxSkips: 1}
	p := tracking.Pupil{
		CenterX:  []float64{1, 1, 1},
		CenterY:  []float64{2, 2, 2},
		Diameter: []float64{0, 10, 10},
	}
	got, err := f.DownsamplePupil(p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.CenterX[0], 1e-12)
	assert.InDelta(t, 2.0, got.CenterY[1], 1e-12)
	assert.InDelta(t, 4.0, got.Diameter[0], 1e-12)
	assert.InDelta(t, 10.0, got.Diameter[1], 1e-12)
}
