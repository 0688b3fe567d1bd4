package acquisition_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/acquisition"
	"github.com/OpenPSG/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEDF(t *testing.T, path string, spr int, channels ...[]float64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          "mouse-01",
		RecordingID:        "behavior_raw",
		StartTime:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		DataRecordDuration: time.Second,
		SignalCount:        len(channels),
	}
	for range channels {
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:            "ch",
			PhysicalMin:      -32768,
			PhysicalMax:      32767,
			DigitalMin:       -32768,
			DigitalMax:       32767,
			SamplesPerRecord: spr,
		})
	}
	w, err := edf.Create(f, hdr)
	require.NoError(t, err)

	n := len(channels[0])
	for off := 0; off < n; off += spr {
		record := make([][]float64, len(channels))
		for i, ch := range channels {
			rec := make([]float64, spr)
			copy(rec, ch[off:min(off+spr, n)])
			record[i] = rec
		}
		require.NoError(t, w.WriteRecord(record))
	}
	require.NoError(t, w.Close())
}

func TestReadDAQ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "behavior_raw.edf")
	state := []float64{0, 0, 1, 1, 1, 2, 0}
	lever := []float64{10, 20, 30, 40, 50, 60, 70}
	writeEDF(t, path, 4, state, lever)

	daq, err := acquisition.ReadDAQ(path, []string{"Task state", "Lever.pos"}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, daq.Samples)
	assert.Equal(t, []string{"Task_state", "Leverpos"}, daq.Labels)

	got, ok := daq.Channel("Task_state")
	require.True(t, ok)
	assert.Equal(t, state, got)
	got, _ = daq.Channel("Leverpos")
	assert.Equal(t, lever, got)

	padded, err := acquisition.ReadDAQ(path, []string{"Task state"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, padded.Samples, "without a logged count the record padding is kept")

	_, err = acquisition.ReadDAQ(path, []string{"Task state"}, 9)
	assert.ErrorIs(t, err, acquisition.ErrShortRecording)
}

func TestLoadLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquisition.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"sync_pulse": {
			"img_acquisition_start_b": [1, 501, 1000],
			"img_acquisition_start_v": [251, 751]
		},
		"tick_in_second": {"raw": [0, 0.0002, 0.0004]},
		"image": {"Ib": 3, "Iv": 2},
		"behavior_raw": {"label": ["Task_state"], "samples": 3},
		"trial_info": {"label": ["start", "end"], "data": [[11, 31], [21, 41]]}
	}`), 0o644))

	l, err := acquisition.LoadLog(path)
	require.NoError(t, err)
	assert.Equal(t, acquisition.DefaultDAQRate, l.DAQRate)
	assert.False(t, l.HasVideoPulses())

	raw, err := l.RawTriggers()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 501, 1000}, raw.BPulses)
	assert.Nil(t, raw.VideoPulses)
	assert.Nil(t, raw.BTicks, "ticks are derived later when not logged")

	obs := l.Observed(1000, false)
	assert.Equal(t, 3, obs.BFrames)
	assert.Equal(t, 2, obs.VFrames)

	cols, err := l.TrialInfo.Columns()
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 41}, cols["end"])
}

func TestLoadLog_MissingDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquisition.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sync_pulse": {"img_acquisition_start_b": [1]}}`), 0o644))
	_, err := acquisition.LoadLog(path)
	assert.ErrorIs(t, err, acquisition.ErrMissingDataset)
}

func TestTrialInfo_Empty(t *testing.T) {
	cols, err := (&acquisition.TrialInfo{Labels: []string{"start"}, Data: [][]float64{{}}}).Columns()
	require.NoError(t, err)
	assert.Nil(t, cols)

	var missing *acquisition.TrialInfo
	cols, err = missing.Columns()
	require.NoError(t, err)
	assert.Nil(t, cols)
}

func TestLoadPoseTable(t *testing.T) {
	dir := t.TempDir()
	layout := acquisition.Layout{Dir: dir}
	require.NoError(t, os.MkdirAll(filepath.Dir(layout.Pose("body")), 0o755))
	require.NoError(t, os.WriteFile(layout.Pose("body"), []byte(`{
		"scorer": "DLC_resnet50",
		"keypoints": [{"name": "paw", "x": [1, null], "y": [2, 3], "likelihood": [0.9, 0.1]}]
	}`), 0o644))

	tab, err := acquisition.LoadPoseTable(layout.Pose("body"))
	require.NoError(t, err)
	require.NotNil(t, tab)
	assert.Equal(t, 2, tab.Frames())
	assert.True(t, math.IsNaN(tab.Keypoints[0].X[1]))

	none, err := acquisition.LoadPoseTable(layout.Pose("face"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLoadPoseTable_Ragged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eye.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scorer": "s", "keypoints": [{"name": "p", "x": [1, 2], "y": [2], "likelihood": [1, 1]}]}`), 0o644))
	_, err := acquisition.LoadPoseTable(path)
	assert.Error(t, err)
}

func TestLoadVideoAndPupil(t *testing.T) {
	dir := t.TempDir()
	layout := acquisition.Layout{Dir: dir}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "videos"), 0o755))
	require.NoError(t, os.WriteFile(layout.Video("eye"), []byte(`{"num_frames": 3, "width": 640, "height": 480}`), 0o644))
	require.NoError(t, os.WriteFile(layout.Pupil(), []byte(`{"cx": [1, 2, 3], "cy": [1, 2, null], "D": [4, 4, 4]}`), 0o644))

	v, err := acquisition.LoadVideoInfo(layout.Video("eye"))
	require.NoError(t, err)
	assert.Equal(t, acquisition.VideoInfo{Frames: 3, Width: 640, Height: 480}, *v)

	missing, err := acquisition.LoadVideoInfo(layout.Video("body"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	p, err := acquisition.LoadPupil(layout.Pupil())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Frames())
	assert.True(t, math.IsNaN(p.CenterY[2]))
}
