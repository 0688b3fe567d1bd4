// Package tracking validates and resamples video-derived coordinate streams:
// pose-estimation keypoints and pupil fits.
package tracking

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/nwbpack/internal/nullable"
)

var (
	ErrMismatch        = errors.New("untolerable mismatch between frames and pulses")
	ErrUnknownKeypoint = errors.New("unknown keypoint")
)

// ViewModels maps each video view to the name of the pose model run on it.
var ViewModels = map[string]string{
	"body": "forelimb",
	"face": "face",
	"eye":  "eye",
}

// ViewDescriptions says what each camera films.
var ViewDescriptions = map[string]string{
	"body": "view of the upper body from the bottom",
	"face": "view of the face on the right side",
	"eye":  "view of the right eye",
}

// Views is the fixed order in which views are processed.
var Views = []string{"body", "face", "eye"}

// Keypoint is one tracked body part: per-frame coordinates in pixels and the
// network's confidence in each.
type Keypoint struct {
	Name       string          `json:"name"`
	X          nullable.Floats `json:"x"`
	Y          nullable.Floats `json:"y"`
	Likelihood nullable.Floats `json:"likelihood"`
}

// PoseTable is the output of a pose-estimation model for one video.
type PoseTable struct {
	Scorer    string     `json:"scorer"`
	Keypoints []Keypoint `json:"keypoints"`
}

// Frames returns the number of frames in the table.
func (t PoseTable) Frames() int {
	if len(t.Keypoints) == 0 {
		return 0
	}
	return len(t.Keypoints[0].X)
}

// Keypoint returns the keypoint called name.
func (t PoseTable) Keypoint(name string) (Keypoint, error) {
	for _, kp := range t.Keypoints {
		if kp.Name == name {
			return kp, nil
		}
	}
	return Keypoint{}, fmt.Errorf("%w: %q (scorer %s)", ErrUnknownKeypoint, name, t.Scorer)
}

// Check verifies every keypoint column has the same number of frames.
func (t PoseTable) Check() error {
	n := t.Frames()
	for _, kp := range t.Keypoints {
		if len(kp.X) != n || len(kp.Y) != n || len(kp.Likelihood) != n {
			return fmt.Errorf("keypoint %q: x/y/likelihood have %d/%d/%d frames, expected %d",
				kp.Name, len(kp.X), len(kp.Y), len(kp.Likelihood), n)
		}
	}
	return nil
}

// Head returns a table holding only the first n frames.
func (t PoseTable) Head(n int) PoseTable {
	out := PoseTable{Scorer: t.Scorer, Keypoints: make([]Keypoint, len(t.Keypoints))}
	for i, kp := range t.Keypoints {
		out.Keypoints[i] = Keypoint{
			Name:       kp.Name,
			X:          kp.X[:n:n],
			Y:          kp.Y[:n:n],
			Likelihood: kp.Likelihood[:n:n],
		}
	}
	return out
}

// PointEstimation is a validated 2D position per video frame. NaN marks a
// rejected or missing frame on both axes.
type PointEstimation struct {
	X []float64
	Y []float64
}

// Apply returns a new estimation with fn applied to each axis.
func (p PointEstimation) Apply(fn func([]float64) ([]float64, error)) (PointEstimation, error) {
	x, err := fn(p.X)
	if err != nil {
		return PointEstimation{}, fmt.Errorf("x: %w", err)
	}
	y, err := fn(p.Y)
	if err != nil {
		return PointEstimation{}, fmt.Errorf("y: %w", err)
	}
	return PointEstimation{X: x, Y: y}, nil
}

// Stack interleaves the axes into one (x, y) pair per frame.
func (p PointEstimation) Stack() [][2]float64 {
	out := make([][2]float64, len(p.X))
	for i := range out {
		out[i] = [2]float64{p.X[i], p.Y[i]}
	}
	return out
}

// Pupil is the per-frame ellipse fit of the eye video.
type Pupil struct {
	CenterX  nullable.Floats `json:"cx"`
	CenterY  nullable.Floats `json:"cy"`
	Diameter nullable.Floats `json:"D"`
}

// Frames returns the number of fitted frames.
func (p Pupil) Frames() int {
	return len(p.Diameter)
}

// Head returns the first n frames of the fit.
func (p Pupil) Head(n int) Pupil {
	return Pupil{
		CenterX:  p.CenterX[:n:n],
		CenterY:  p.CenterY[:n:n],
		Diameter: p.Diameter[:n:n],
	}
}

// Check verifies the three columns have the same length.
func (p Pupil) Check() error {
	if len(p.CenterX) != len(p.Diameter) || len(p.CenterY) != len(p.Diameter) {
		return fmt.Errorf("pupil fit: cx/cy/D have %d/%d/%d frames", len(p.CenterX), len(p.CenterY), len(p.Diameter))
	}
	return nil
}
