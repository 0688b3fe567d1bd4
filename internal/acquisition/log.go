// Package acquisition reads what the recording rig leaves behind for one
// session: the acquisition log, the raw DAQ channels and the reports of the
// video, pose-estimation and pupil-fitting collaborators.
package acquisition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MikeSquared-Agency/nwbpack/internal/timebase"
)

// DefaultDAQRate is the sampling rate of the behaviour DAQ in Hz.
const DefaultDAQRate = 5000.0

var ErrMissingDataset = errors.New("acquisition log lacks a required dataset")

// PulseSource provides trigger pulses and ticks before validation.
type PulseSource interface {
	RawTriggers() (timebase.RawTriggers, error)
}

// Log is the acquisition log of a session. Pulse arrays are 1-based sample
// numbers into the raw DAQ timeline; ticks are in seconds.
type Log struct {
	SyncPulse struct {
		ImageB []int `json:"img_acquisition_start_b"`
		ImageV []int `json:"img_acquisition_start_v"`
		Video  []int `json:"vid_acquisition_start"`
	} `json:"sync_pulse"`

	TickInSecond struct {
		Raw    []float64 `json:"raw"`
		Video  []float64 `json:"vid"`
		ImageB []float64 `json:"img_b"`
		ImageV []float64 `json:"img_v"`
	} `json:"tick_in_second"`

	Image struct {
		FramesB int `json:"Ib"`
		FramesV int `json:"Iv"`
	} `json:"image"`

	DAQRate float64 `json:"daq_rate"`

	BehaviorRaw struct {
		Labels  []string `json:"label"`
		Samples int      `json:"samples"`
	} `json:"behavior_raw"`

	TrialInfo *TrialInfo `json:"trial_info"`
}

// TrialInfo is a trial table recorded by the task controller. Data holds one
// row of values per label.
type TrialInfo struct {
	Labels []string    `json:"label"`
	Data   [][]float64 `json:"data"`
}

// Columns returns the table keyed by label, or nil for an empty table.
func (ti *TrialInfo) Columns() (map[string][]float64, error) {
	if ti == nil || len(ti.Data) == 0 {
		return nil, nil
	}
	if len(ti.Labels) != len(ti.Data) {
		return nil, fmt.Errorf("trial_info: %d labels for %d columns", len(ti.Labels), len(ti.Data))
	}
	cols := make(map[string][]float64, len(ti.Labels))
	n := len(ti.Data[0])
	for i, label := range ti.Labels {
		if len(ti.Data[i]) != n {
			return nil, fmt.Errorf("trial_info: column %s has %d rows, expected %d", label, len(ti.Data[i]), n)
		}
		if n == 0 {
			// sessions without trials, e.g. resting state
			return nil, nil
		}
		cols[label] = ti.Data[i]
	}
	return cols, nil
}

// LoadLog reads and checks the acquisition log at path.
func LoadLog(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read acquisition log: %w", err)
	}
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode acquisition log %s: %w", path, err)
	}
	if l.DAQRate == 0 {
		l.DAQRate = DefaultDAQRate
	}
	for name, v := range map[string]int{
		"sync_pulse/img_acquisition_start_b": len(l.SyncPulse.ImageB),
		"sync_pulse/img_acquisition_start_v": len(l.SyncPulse.ImageV),
		"tick_in_second/raw":                 len(l.TickInSecond.Raw),
	} {
		if v == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingDataset, name)
		}
	}
	return &l, nil
}

// HasVideoPulses reports whether the video trigger channel was recorded.
func (l *Log) HasVideoPulses() bool {
	return l.SyncPulse.Video != nil
}

// RawTriggers implements PulseSource. Video pulses and ticks are nil when the
// session recorded no video trigger.
func (l *Log) RawTriggers() (timebase.RawTriggers, error) {
	raw := timebase.RawTriggers{
		BPulses:  l.SyncPulse.ImageB,
		VPulses:  l.SyncPulse.ImageV,
		RawTicks: l.TickInSecond.Raw,
		BTicks:   l.TickInSecond.ImageB,
		VTicks:   l.TickInSecond.ImageV,
	}
	if l.HasVideoPulses() {
		raw.VideoPulses = l.SyncPulse.Video
		raw.VideoTicks = l.TickInSecond.Video
	}
	return raw, nil
}

// Observed reports the frame counts of the imaging collaborator together
// with the given DAQ sample count.
func (l *Log) Observed(daqSamples int, hasVideos bool) timebase.Observed {
	return timebase.Observed{
		DAQSamples: daqSamples,
		BFrames:    l.Image.FramesB,
		VFrames:    l.Image.FramesV,
		HasVideos:  hasVideos,
	}
}

// NormalizeLabel turns a DAQ channel label into an identifier:
// "Task state" and "Task-state" both become "Task_state".
func NormalizeLabel(label string) string {
	label = strings.ReplaceAll(label, ".", "")
	label = strings.ReplaceAll(label, " ", "-")
	return strings.ReplaceAll(label, "-", "_")
}
