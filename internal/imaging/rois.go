// Package imaging turns widefield frame stacks into hemodynamics-corrected
// dF/F traces, one per atlas ROI.
package imaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	ErrInvalidROI    = errors.New("invalid ROI set")
	ErrFrameSize     = errors.New("frame stack is not a whole number of frames")
	ErrChannelLength = errors.New("imaging channels differ in length")
)

// ROI is one atlas region as flat row-major pixel indices into a frame.
type ROI struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Pixels      []int  `json:"pixels"`
}

// ROISet is the registration of the atlas onto the imaging frames.
// Transform maps atlas coordinates to frame coordinates.
type ROISet struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Transform [][]float64 `json:"transform"`
	ROIs      []ROI       `json:"rois"`
}

// LoadROISet reads a registration. A missing file is returned as
// (nil, nil): the session was not registered.
func LoadROISet(path string) (*ROISet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var set ROISet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := set.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &set, nil
}

// Check validates the frame size and that every ROI covers at least one
// pixel inside the frame.
func (s *ROISet) Check() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidROI, s.Width, s.Height)
	}
	if len(s.ROIs) == 0 {
		return fmt.Errorf("%w: no ROIs", ErrInvalidROI)
	}
	n := s.Width * s.Height
	seen := make(map[string]bool, len(s.ROIs))
	for _, roi := range s.ROIs {
		if roi.Name == "" {
			return fmt.Errorf("%w: unnamed ROI", ErrInvalidROI)
		}
		if seen[roi.Name] {
			return fmt.Errorf("%w: duplicate ROI %s", ErrInvalidROI, roi.Name)
		}
		seen[roi.Name] = true
		if len(roi.Pixels) == 0 {
			return fmt.Errorf("%w: ROI %s has no pixels", ErrInvalidROI, roi.Name)
		}
		for _, p := range roi.Pixels {
			if p < 0 || p >= n {
				return fmt.Errorf("%w: ROI %s pixel %d outside %dx%d", ErrInvalidROI, roi.Name, p, s.Width, s.Height)
			}
		}
	}
	return nil
}
