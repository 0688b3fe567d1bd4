package acquisition

import "path/filepath"

// Layout locates the files of one session under its source directory.
type Layout struct {
	Dir string
}

func (l Layout) Descriptor() string     { return filepath.Join(l.Dir, "session.toml") }
func (l Layout) AcquisitionLog() string { return filepath.Join(l.Dir, "acquisition.json") }
func (l Layout) RawDAQ() string         { return filepath.Join(l.Dir, "behavior_raw.edf") }
func (l Layout) Pupil() string          { return filepath.Join(l.Dir, "pupil.json") }

// Video is the report of the video collaborator for view.
func (l Layout) Video(view string) string {
	return filepath.Join(l.Dir, "videos", view+".json")
}

// Pose is the pose-estimation table of view.
func (l Layout) Pose(view string) string {
	return filepath.Join(l.Dir, "deeplabcut", view+".json")
}

// VideoFile is the recording of view itself.
func (l Layout) VideoFile(view string) string {
	return filepath.Join(l.Dir, "videos", view+VideoExt)
}

// VideoExt is the container format the cameras record to.
const VideoExt = ".mp4"

// ROIs is the atlas registration of the imaging frames.
func (l Layout) ROIs() string { return filepath.Join(l.Dir, "imaging", "rois.json") }

// Frames is the raw frame stack of one imaging channel, "B" or "V".
func (l Layout) Frames(channel string) string {
	return filepath.Join(l.Dir, "imaging", channel+".raw")
}
