package acquisition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
)

// VideoInfo is what the video collaborator reports about one recording.
type VideoInfo struct {
	Frames int `json:"num_frames"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LoadVideoInfo reads a video report. A missing report is returned as
// (nil, nil): the view was not recorded.
func LoadVideoInfo(path string) (*VideoInfo, error) {
	var v VideoInfo
	ok, err := readOptionalJSON(path, &v)
	if !ok || err != nil {
		return nil, err
	}
	return &v, nil
}

// LoadPoseTable reads pose-estimation results. A missing file is (nil, nil).
func LoadPoseTable(path string) (*tracking.PoseTable, error) {
	var t tracking.PoseTable
	ok, err := readOptionalJSON(path, &t)
	if !ok || err != nil {
		return nil, err
	}
	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

// LoadPupil reads pupil-fitting results. A missing file is (nil, nil).
func LoadPupil(path string) (*tracking.Pupil, error) {
	var p tracking.Pupil
	ok, err := readOptionalJSON(path, &p)
	if !ok || err != nil {
		return nil, err
	}
	if err := p.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func readOptionalJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
