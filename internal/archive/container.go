// Package archive writes the time-aligned container of a packaged session:
// a JSON manifest with every timeline and series, plus an EDF copy of the
// continuous series at the imaging frame rate.
package archive

import (
	"path"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/imaging"
	"github.com/MikeSquared-Agency/nwbpack/internal/nullable"
	"github.com/MikeSquared-Agency/nwbpack/internal/timebase"
	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

const (
	ManifestFile    = "manifest.json"
	DownsampledFile = "downsampled.edf"
)

// Container holds everything packaged for one session.
type Container struct {
	Session     string    `json:"session"`
	Subject     string    `json:"subject"`
	Task        string    `json:"task"`
	SessionType string    `json:"session_type"`
	Start       time.Time `json:"session_start"`
	CreatedAt   time.Time `json:"created_at"`

	Timebases Timebases `json:"timebases"`
	Triggers  Triggers  `json:"pulse_triggers"`

	Trials   *Trials          `json:"trials,omitempty"`
	Behavior Recordings       `json:"behavior"`
	Pose     map[string]Pose  `json:"pose_estimation,omitempty"`
	Pupil    *Pupil           `json:"pupil,omitempty"`
	Videos   map[string]Video `json:"videos,omitempty"`
	Imaging  *Imaging         `json:"imaging,omitempty"`
}

// Timebases are the session timelines in seconds.
type Timebases struct {
	Raw    nullable.Floats `json:"raw"`
	Videos nullable.Floats `json:"videos"`
	B      nullable.Floats `json:"B"`
	V      nullable.Floats `json:"V"`
}

func NewTimebases(tb timebase.Timebases) Timebases {
	return Timebases{Raw: tb.Raw, Videos: tb.Videos, B: tb.B, V: tb.V}
}

// Triggers are zero-based indices into the raw timeline.
type Triggers struct {
	Videos []int `json:"videos"`
	B      []int `json:"B"`
	V      []int `json:"V"`
}

func NewTriggers(p timebase.PulseTriggers) Triggers {
	return Triggers{Videos: p.Videos, B: p.B, V: p.V}
}

// ColumnDoc describes one trial column as written to the archive.
type ColumnDoc struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Description string `json:"description"`
}

// Trials is the trial table rendered on the raw and the downsampled timeline.
type Trials struct {
	Task        string       `json:"task"`
	Columns     []ColumnDoc  `json:"columns"`
	Raw         []trials.Row `json:"raw"`
	Downsampled []trials.Row `json:"downsampled"`
}

// NewTrials documents the columns of spec, flag mappings included.
func NewTrials(spec trials.TaskSpec, raw, downsampled []trials.Row) *Trials {
	doc := spec.Documented()
	out := &Trials{Task: spec.Name, Raw: raw, Downsampled: downsampled}
	for _, cs := range doc.TaskColumns() {
		out.Columns = append(out.Columns, ColumnDoc{
			Name:        cs.OutputName(),
			DataType:    string(cs.DataType),
			Description: cs.Description,
		})
	}
	return out
}

// Series is one named channel.
type Series struct {
	Label  string          `json:"label"`
	Values nullable.Floats `json:"values"`
}

// Recordings are the DAQ channels on the raw timeline and averaged onto the
// dFF pulses.
type Recordings struct {
	Rate        float64  `json:"rate"`
	Raw         []Series `json:"raw"`
	Downsampled []Series `json:"downsampled"`
}

// Point is a keypoint trajectory. Likelihood is only kept on the video
// timeline.
type Point struct {
	X          nullable.Floats `json:"x"`
	Y          nullable.Floats `json:"y"`
	Likelihood nullable.Floats `json:"likelihood,omitempty"`
}

// Pose holds the keypoints of one video view.
type Pose struct {
	View        string           `json:"view"`
	Model       string           `json:"model"`
	Scorer      string           `json:"scorer"`
	Raw         map[string]Point `json:"raw"`
	Downsampled map[string]Point `json:"downsampled"`
}

// PoseName is the container key of the pose estimation of view.
func PoseName(view string) string {
	return view + "_video_keypoints"
}

// NewPose builds the entry of view from the model table on the video
// timeline and its validated, downsampled keypoints.
func NewPose(view string, table tracking.PoseTable, downsampled map[string]tracking.PointEstimation) Pose {
	p := Pose{
		View:        view,
		Model:       tracking.ViewModels[view],
		Scorer:      table.Scorer,
		Raw:         make(map[string]Point, len(table.Keypoints)),
		Downsampled: make(map[string]Point, len(downsampled)),
	}
	for _, kp := range table.Keypoints {
		p.Raw[kp.Name] = Point{X: kp.X, Y: kp.Y, Likelihood: kp.Likelihood}
	}
	for name, est := range downsampled {
		p.Downsampled[name] = Point{X: est.X, Y: est.Y}
	}
	return p
}

type Pupil struct {
	Raw         tracking.Pupil `json:"raw"`
	Downsampled tracking.Pupil `json:"downsampled"`
}

// Video is a behaviour recording stored next to the manifest. File is
// relative to the container directory and Timestamps are on the video
// timeline, one per kept frame.
type Video struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	File          string          `json:"external_file"`
	StartingFrame int             `json:"starting_frame"`
	Timestamps    nullable.Floats `json:"timestamps"`

	// Source is the recording to copy when the container is written.
	Source string `json:"-"`
}

// VideoName is the container key of the recording of view.
func VideoName(view string) string {
	return view + "_video"
}

// NewVideo describes the recording of view found at source.
func NewVideo(view, source string, timestamps []float64) Video {
	return Video{
		Name:        VideoName(view),
		Description: "behavioral video acquisition, " + tracking.ViewDescriptions[view] + ".",
		File:        path.Join("videos", view+path.Ext(source)),
		Timestamps:  timestamps,
		Source:      source,
	}
}

// ROISignal is the response of one ROI on the dFF timeline.
type ROISignal struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Pixels      []int           `json:"pixels"`
	B           nullable.Floats `json:"dFF_B"`
	V           nullable.Floats `json:"dFF_V"`
	DFF         nullable.Floats `json:"dFF"`
	Slope       float64         `json:"slope"`
	Intercept   float64         `json:"intercept"`
}

// Imaging holds the hemodynamics-corrected ROI responses and how they were
// filtered.
type Imaging struct {
	FrameRate   float64     `json:"frame_rate"`
	Band        [2]float64  `json:"band_hz"`
	FilterOrder int         `json:"filter_order"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Transform   [][]float64 `json:"atlas_to_data_transform,omitempty"`
	ROIs        []ROISignal `json:"rois"`
}

func NewImaging(set *imaging.ROISet, signals []imaging.Signal, rate float64, p imaging.Params) *Imaging {
	out := &Imaging{
		FrameRate:   rate,
		Band:        [2]float64{p.Low, p.High},
		FilterOrder: p.Order,
		Width:       set.Width,
		Height:      set.Height,
		Transform:   set.Transform,
	}
	for _, s := range signals {
		out.ROIs = append(out.ROIs, ROISignal{
			Name:        s.ROI.Name,
			Description: s.ROI.Description,
			Pixels:      s.ROI.Pixels,
			B:           s.B,
			V:           s.V,
			DFF:         s.DFF,
			Slope:       s.Slope,
			Intercept:   s.Intercept,
		})
	}
	return out
}

// ImagingRate estimates the frame rate of the dFF timeline in Hz, or 0 when
// it has fewer than two frames.
func (c *Container) ImagingRate() float64 {
	t := c.Timebases.B
	if len(t) < 2 || t[len(t)-1] <= t[0] {
		return 0
	}
	return float64(len(t)-1) / (t[len(t)-1] - t[0])
}

// DownsampledSignals collects the continuous series at the imaging frame
// rate in archive order: behaviour channels, the pupil fit, then the
// corrected ROI responses.
func (c *Container) DownsampledSignals() SignalSet {
	set := SignalSet{Rate: c.ImagingRate()}
	for _, s := range c.Behavior.Downsampled {
		set.Labels = append(set.Labels, s.Label)
		set.Values = append(set.Values, s.Values)
	}
	if c.Pupil != nil {
		d := c.Pupil.Downsampled
		set.Labels = append(set.Labels, "pupil_cx", "pupil_cy", "pupil_D")
		set.Values = append(set.Values, d.CenterX, d.CenterY, d.Diameter)
	}
	if c.Imaging != nil {
		for _, roi := range c.Imaging.ROIs {
			set.Labels = append(set.Labels, "dFF_"+roi.Name)
			set.Values = append(set.Values, roi.DFF)
		}
	}
	return set
}
