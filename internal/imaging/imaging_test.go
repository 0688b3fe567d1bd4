package imaging_test

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikeSquared-Agency/nwbpack/internal/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandpass_FirstOrderCoefficients(t *testing.T) {
	f, err := imaging.Bandpass(1, 0.2, 0.4, 2)
	require.NoError(t, err)
	require.Len(t, f.B, 3)
	require.Len(t, f.A, 3)
	want := imaging.Filter{
		B: []float64{0.24523728, 0, -0.24523728},
		A: []float64{1, -0.93293803, 0.50952545},
	}
	for i := range want.B {
		assert.InDelta(t, want.B[i], f.B[i], 1e-7, "b[%d]", i)
		assert.InDelta(t, want.A[i], f.A[i], 1e-7, "a[%d]", i)
	}
}

func TestBandpass_Gain(t *testing.T) {
	f, err := imaging.Bandpass(2, 1, 4, 20)
	require.NoError(t, err)
	assert.Len(t, f.A, 5)
	assert.InDelta(t, 0, cmplx.Abs(f.Response(0)), 1e-9, "DC")
	assert.InDelta(t, 0, cmplx.Abs(f.Response(math.Pi)), 1e-9, "Nyquist")

	// unity gain at the geometric centre of the pre-warped band
	w1, w2 := 4*math.Tan(math.Pi*0.1/2), 4*math.Tan(math.Pi*0.4/2)
	centre := 2 * math.Atan(math.Sqrt(w1*w2)/4)
	assert.InDelta(t, 1, cmplx.Abs(f.Response(centre)), 1e-9)
}

func TestBandpass_InvalidBand(t *testing.T) {
	for _, tc := range []struct {
		name      string
		order     int
		low, high float64
	}{
		{"zero low", 5, 0, 1},
		{"inverted", 5, 2, 1},
		{"above Nyquist", 5, 0.01, 10},
		{"zero order", 0, 0.1, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := imaging.Bandpass(tc.order, tc.low, tc.high, 15)
			assert.Error(t, err)
		})
	}
	_, err := imaging.Bandpass(0, 0.1, 1, 15)
	assert.ErrorIs(t, err, imaging.ErrFilterOrder)
	_, err = imaging.Bandpass(5, 0.01, 10, 15)
	assert.ErrorIs(t, err, imaging.ErrFilterBand)
}

func TestFiltFilt(t *testing.T) {
	f, err := imaging.Bandpass(2, 1, 4, 20)
	require.NoError(t, err)

	w1, w2 := 4*math.Tan(math.Pi*0.1/2), 4*math.Tan(math.Pi*0.4/2)
	centre := 2 * math.Atan(math.Sqrt(w1*w2)/4)
	x := make([]float64, 200)
	for i := range x {
		x[i] = math.Sin(centre * float64(i))
	}
	y, err := f.FiltFilt(x)
	require.NoError(t, err)
	require.Len(t, y, len(x))
	for i := 50; i < 150; i++ {
		assert.InDelta(t, x[i], y[i], 1e-3, "sample %d", i)
	}

	constant := make([]float64, 100)
	for i := range constant {
		constant[i] = 5
	}
	y, err = f.FiltFilt(constant)
	require.NoError(t, err)
	for i, v := range y {
		assert.InDelta(t, 0, v, 1e-9, "sample %d", i)
	}
}

func TestFiltFilt_ShortSignal(t *testing.T) {
	f, err := imaging.Bandpass(2, 1, 4, 20)
	require.NoError(t, err)
	_, err = f.FiltFilt(make([]float64, 15))
	assert.ErrorIs(t, err, imaging.ErrShortSignal)
	_, err = f.FiltFilt(make([]float64, 16))
	assert.NoError(t, err)
}

func TestDFF(t *testing.T) {
	got := imaging.DFF([]float64{1, 2, 3, 4})
	for i, want := range []float64{-0.6, -0.2, 0.2, 0.6} {
		assert.InDelta(t, want, got[i], 1e-12)
	}
	assert.Equal(t, []float64{0, 1, 3}, imaging.HalfFrameForward([]float64{0, 2, 4}))
	assert.Empty(t, imaging.HalfFrameForward(nil))
}

func TestRegress(t *testing.T) {
	v := []float64{0, 1, 2, 3}
	b := []float64{1, 3.5, 4.5, 7}
	fit := imaging.Regress(v, b)
	assert.InDelta(t, 1.9, fit.Slope, 1e-12)
	assert.InDelta(t, 1.15, fit.Intercept, 1e-12)
	var sum float64
	for _, r := range fit.Residuals {
		sum += r
	}
	assert.InDelta(t, 0, sum, 1e-12)
}

func TestSignals(t *testing.T) {
	const n, rate = 200, 20.0
	w1, w2 := 4*math.Tan(math.Pi*0.1/2), 4*math.Tan(math.Pi*0.4/2)
	centre := 2 * math.Atan(math.Sqrt(w1*w2)/4)
	meanB := make([]float64, n)
	meanV := make([]float64, n)
	for i := range meanB {
		u := math.Sin(centre * float64(i))
		meanV[i] = 100 + u
		meanB[i] = 100 + 3*u + 0.5*math.Cos(centre*float64(i))
	}
	rois := []imaging.ROI{{Name: "MOp", Pixels: []int{0}}}
	sig, err := imaging.Signals(rois, [][]float64{meanB}, [][]float64{meanV}, rate, imaging.Params{Order: 2, Low: 1, High: 4})
	require.NoError(t, err)
	require.Len(t, sig, 1)
	s := sig[0]
	assert.Equal(t, "MOp", s.ROI.Name)
	assert.Len(t, s.B, n)
	assert.Len(t, s.V, n)
	assert.Len(t, s.DFF, n)
	assert.Greater(t, s.Slope, 0.0)

	// least-squares residuals are centred and orthogonal to the regressor
	var sum, dot float64
	for i := range s.DFF {
		sum += s.DFF[i]
		dot += s.DFF[i] * s.V[i]
	}
	assert.InDelta(t, 0, sum, 1e-9)
	assert.InDelta(t, 0, dot, 1e-9)
	for i := range s.DFF {
		assert.InDelta(t, s.B[i]-(s.Intercept+s.Slope*s.V[i]), s.DFF[i], 1e-12)
	}
}

func TestSignals_ChannelLength(t *testing.T) {
	rois := []imaging.ROI{{Name: "MOp", Pixels: []int{0}}}
	_, err := imaging.Signals(rois, [][]float64{make([]float64, 40)}, [][]float64{make([]float64, 39)}, 20, imaging.Params{Order: 1, Low: 1, High: 4})
	assert.ErrorIs(t, err, imaging.ErrChannelLength)
}

func writeStack(t *testing.T, path string, frames [][]uint16) {
	t.Helper()
	var buf []byte
	for _, fr := range frames {
		for _, px := range fr {
			buf = binary.LittleEndian.AppendUint16(buf, px)
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestMeanTraces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B.raw")
	writeStack(t, path, [][]uint16{
		{10, 20, 30, 40},
		{11, 21, 31, 41},
		{12, 22, 32, 1000},
	})
	set := &imaging.ROISet{Width: 2, Height: 2, ROIs: []imaging.ROI{
		{Name: "a", Pixels: []int{0, 3}},
		{Name: "b", Pixels: []int{1}},
	}}
	traces, err := imaging.MeanTraces(path, set)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, []float64{25, 26, 506}, traces[0])
	assert.Equal(t, []float64{20, 21, 22}, traces[1])
}

func TestMeanTraces_PartialFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))
	set := &imaging.ROISet{Width: 2, Height: 2, ROIs: []imaging.ROI{{Name: "a", Pixels: []int{0}}}}
	_, err := imaging.MeanTraces(path, set)
	assert.ErrorIs(t, err, imaging.ErrFrameSize)
}

func TestLoadROISet(t *testing.T) {
	dir := t.TempDir()
	set, err := imaging.LoadROISet(filepath.Join(dir, "rois.json"))
	require.NoError(t, err)
	assert.Nil(t, set)

	path := filepath.Join(dir, "rois.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"width": 2, "height": 2,
		"transform": [[1, 0, 0], [0, 1, 0], [0, 0, 1]],
		"rois": [{"name": "MOp", "description": "primary motor area", "pixels": [0, 1]}]
	}`), 0o644))
	set, err = imaging.LoadROISet(path)
	require.NoError(t, err)
	require.Len(t, set.ROIs, 1)
	assert.Equal(t, "primary motor area", set.ROIs[0].Description)
	assert.Len(t, set.Transform, 3)
}

func TestROISet_Check(t *testing.T) {
	for _, tc := range []struct {
		name string
		set  imaging.ROISet
	}{
		{"no size", imaging.ROISet{ROIs: []imaging.ROI{{Name: "a", Pixels: []int{0}}}}},
		{"no ROIs", imaging.ROISet{Width: 2, Height: 2}},
		{"empty ROI", imaging.ROISet{Width: 2, Height: 2, ROIs: []imaging.ROI{{Name: "a"}}}},
		{"pixel outside", imaging.ROISet{Width: 2, Height: 2, ROIs: []imaging.ROI{{Name: "a", Pixels: []int{4}}}}},
		{"duplicate", imaging.ROISet{Width: 2, Height: 2, ROIs: []imaging.ROI{{Name: "a", Pixels: []int{0}}, {Name: "a", Pixels: []int{1}}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.set.Check(), imaging.ErrInvalidROI)
		})
	}
}
