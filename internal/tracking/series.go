package tracking

import (
	"fmt"

	"github.com/MikeSquared-Agency/nwbpack/internal/resample"
)

// FrameRate moves a video-rate signal onto the imaging frame rate: it is
// first interpolated onto the raw DAQ timeline at the video pulses, then
// averaged within each dFF pulse interval.
type FrameRate struct {
	RawSize     int
	VideoPulses []int
	DFFPulses   []int
	MaxSkips    int
}

// Downsample converts one video-rate series.
func (f FrameRate) Downsample(x []float64) ([]float64, error) {
	up, err := resample.Upsample(x, f.RawSize, f.VideoPulses, f.MaxSkips)
	if err != nil {
		return nil, fmt.Errorf("upsample onto raw: %w", err)
	}
	down, err := resample.Downsample(up, f.DFFPulses, resample.NaNMean)
	if err != nil {
		return nil, fmt.Errorf("downsample onto dFF: %w", err)
	}
	return down, nil
}

// DownsamplePose validates every keypoint of table and moves it onto the
// imaging frame rate.
func (f FrameRate) DownsamplePose(table PoseTable, c Criteria) (map[string]PointEstimation, error) {
	out := make(map[string]PointEstimation, len(table.Keypoints))
	for _, kp := range table.Keypoints {
		est, err := ValidateKeypoint(table, kp.Name, c)
		if err != nil {
			return nil, err
		}
		est, err = est.Apply(f.Downsample)
		if err != nil {
			return nil, fmt.Errorf("keypoint %q: %w", kp.Name, err)
		}
		out[kp.Name] = est
	}
	return out, nil
}

// DownsamplePupil moves all three pupil columns onto the imaging frame rate.
func (f FrameRate) DownsamplePupil(p Pupil) (Pupil, error) {
	var out Pupil
	var err error
	if out.CenterX, err = f.Downsample(p.CenterX); err != nil {
		return Pupil{}, fmt.Errorf("cx: %w", err)
	}
	if out.CenterY, err = f.Downsample(p.CenterY); err != nil {
		return Pupil{}, fmt.Errorf("cy: %w", err)
	}
	if out.Diameter, err = f.Downsample(p.Diameter); err != nil {
		return Pupil{}, fmt.Errorf("D: %w", err)
	}
	return out, nil
}
