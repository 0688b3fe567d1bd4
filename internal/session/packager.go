package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/acquisition"
	"github.com/MikeSquared-Agency/nwbpack/internal/archive"
	"github.com/MikeSquared-Agency/nwbpack/internal/imaging"
	"github.com/MikeSquared-Agency/nwbpack/internal/resample"
	"github.com/MikeSquared-Agency/nwbpack/internal/timebase"
	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

// ErrFrameCount is returned when a frame stack holds fewer frames than its
// channel has pulses.
var ErrFrameCount = errors.New("frame stack shorter than its timeline")

// Options tune how video-derived streams are reconciled and resampled, and
// how ROI responses are filtered.
type Options struct {
	MismatchTolerance int
	MaxSkips          int
	Criteria          tracking.Criteria
	Filter            imaging.Params
}

// Packager turns session directories into archive containers. It processes
// one session at a time.
type Packager struct {
	registry *trials.Registry
	writer   *archive.Writer
	opts     Options
	logger   *slog.Logger
}

func NewPackager(registry *trials.Registry, writer *archive.Writer, opts Options, logger *slog.Logger) *Packager {
	return &Packager{registry: registry, writer: writer, opts: opts, logger: logger}
}

// Result summarises a packaged session.
type Result struct {
	Session  string
	Subject  string
	Task     string
	Manifest string
	Trials   []trials.Row
	Views    []string
	Videos   int
	Pupil    bool
	ROIs     int
	Duration time.Duration
}

// Package builds the container of the session in dir and writes it.
func (p *Packager) Package(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()
	c, err := p.Build(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.writer.Write(c)
	if err != nil {
		return nil, fmt.Errorf("write container %s: %w", c.Session, err)
	}

	res := &Result{
		Session:  c.Session,
		Subject:  c.Subject,
		Task:     c.Task,
		Manifest: path,
		Videos:   len(c.Videos),
		Pupil:    c.Pupil != nil,
		Duration: time.Since(start),
	}
	if c.Imaging != nil {
		res.ROIs = len(c.Imaging.ROIs)
	}
	if c.Trials != nil {
		res.Trials = c.Trials.Downsampled
	}
	for _, view := range tracking.Views {
		if _, ok := c.Pose[archive.PoseName(view)]; ok {
			res.Views = append(res.Views, view)
		}
	}
	p.logger.Info("session packaged",
		"session", res.Session,
		"trials", len(res.Trials),
		"views", res.Views,
		"videos", res.Videos,
		"pupil", res.Pupil,
		"rois", res.ROIs,
		"duration", res.Duration,
	)
	return res, nil
}

// Build reads and reconciles the session in dir without writing anything.
func (p *Packager) Build(ctx context.Context, dir string) (*archive.Container, error) {
	layout := acquisition.Layout{Dir: dir}
	desc, err := LoadDescriptor(layout.Descriptor())
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("session", desc.Name)

	alog, err := acquisition.LoadLog(layout.AcquisitionLog())
	if err != nil {
		return nil, err
	}
	daq, err := acquisition.ReadDAQ(layout.RawDAQ(), alog.BehaviorRaw.Labels, alog.BehaviorRaw.Samples)
	if err != nil {
		return nil, err
	}

	hasVideos := desc.HasVideos()
	if hasVideos && !alog.HasVideoPulses() {
		logger.Warn("video trigger channel not recorded, skipping videos", "views", desc.Views)
		hasVideos = false
	}
	raw, err := alog.RawTriggers()
	if err != nil {
		return nil, err
	}
	trigs, tb, err := timebase.NewBuilder(logger).Build(raw, alog.Observed(daq.Samples, hasVideos))
	if err != nil {
		return nil, fmt.Errorf("timebases: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &archive.Container{
		Session:     desc.Name,
		Subject:     desc.Subject,
		Task:        desc.Task,
		SessionType: desc.SessionType,
		Start:       desc.Start(),
		Timebases:   archive.NewTimebases(tb),
		Triggers:    archive.NewTriggers(trigs),
	}

	if c.Trials, err = p.buildTrials(desc, alog, daq, tb); err != nil {
		return nil, fmt.Errorf("trials: %w", err)
	}
	if c.Behavior, err = behavior(daq, alog.DAQRate, trigs, tb); err != nil {
		return nil, fmt.Errorf("behavior: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.addImaging(logger, layout, tb, c); err != nil {
		return nil, fmt.Errorf("imaging: %w", err)
	}
	if hasVideos {
		if err := p.addTracking(logger, layout, desc, trigs, tb, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// addImaging computes the corrected response of every registered ROI. A
// session without registration or frame stacks is skipped. Frames past the
// last pulse of their channel are dropped.
func (p *Packager) addImaging(logger *slog.Logger, layout acquisition.Layout, tb timebase.Timebases, c *archive.Container) error {
	set, err := imaging.LoadROISet(layout.ROIs())
	if err != nil {
		return err
	}
	if set == nil {
		logger.Warn("no ROI registration, skipping dF/F")
		return nil
	}
	traces := make(map[timebase.Channel][][]float64, len(timebase.ImagingChannels))
	for _, ch := range timebase.ImagingChannels {
		means, err := imaging.MeanTraces(layout.Frames(string(ch)), set)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("frame stack not found, skipping dF/F", "channel", ch)
			return nil
		}
		if err != nil {
			return err
		}
		pulses := len(tb.Get(ch))
		frames := len(means[0])
		if frames < pulses {
			return fmt.Errorf("%w: channel %s has %d frames, %d pulses", ErrFrameCount, ch, frames, pulses)
		}
		if frames > pulses {
			logger.Debug("frame stack clipped to pulses", "channel", ch, "frames", frames, "pulses", pulses)
			for i := range means {
				means[i] = means[i][:pulses]
			}
		}
		traces[ch] = means
	}

	rate := c.ImagingRate()
	signals, err := imaging.Signals(set.ROIs, traces[timebase.ChannelB], traces[timebase.ChannelV], rate, p.opts.Filter)
	if err != nil {
		return err
	}
	c.Imaging = archive.NewImaging(set, signals, rate, p.opts.Filter)
	return nil
}

func (p *Packager) buildTrials(desc *Descriptor, alog *acquisition.Log, daq acquisition.DAQ, tb timebase.Timebases) (*archive.Trials, error) {
	if desc.Task == "" {
		return nil, nil
	}
	spec, err := p.registry.Get(desc.Task)
	if err != nil {
		return nil, err
	}

	cols, err := alog.TrialInfo.Columns()
	if err != nil {
		return nil, err
	}
	var table trials.Table
	if cols != nil {
		table, err = trials.FromColumns(spec, cols)
	} else {
		table, err = trials.Extract(spec, daq.Channels, alog.DAQRate)
	}
	if err != nil {
		return nil, err
	}

	rawRows, err := trials.Render(table, spec, tb.Raw)
	if err != nil {
		return nil, fmt.Errorf("raw timeline: %w", err)
	}
	aligned, err := trials.Align(table, tb.Raw, tb.DFF())
	if err != nil {
		return nil, err
	}
	downRows, err := trials.Render(aligned, spec, tb.DFF())
	if err != nil {
		return nil, fmt.Errorf("dFF timeline: %w", err)
	}
	if dropped := table.Len() - aligned.Len(); dropped > 0 {
		p.logger.Debug("trials outside the imaging period dropped", "session", desc.Name, "dropped", dropped)
	}
	return archive.NewTrials(spec, rawRows, downRows), nil
}

func behavior(daq acquisition.DAQ, rate float64, trigs timebase.PulseTriggers, tb timebase.Timebases) (archive.Recordings, error) {
	rec := archive.Recordings{Rate: rate}
	for _, label := range daq.Labels {
		v, _ := daq.Channel(label)
		v = v[:len(tb.Raw)]
		down, err := resample.Downsample(v, trigs.DFF(), resample.NaNMean)
		if err != nil {
			return archive.Recordings{}, fmt.Errorf("channel %s: %w", label, err)
		}
		rec.Raw = append(rec.Raw, archive.Series{Label: label, Values: v})
		rec.Downsampled = append(rec.Downsampled, archive.Series{Label: label, Values: down})
	}
	return rec, nil
}

// addTracking adds the pose estimation of every recorded view and the pupil fit
// of the eye video. Missing collaborator outputs are skipped.
func (p *Packager) addTracking(logger *slog.Logger, layout acquisition.Layout, desc *Descriptor, trigs timebase.PulseTriggers, tb timebase.Timebases, c *archive.Container) error {
	for _, view := range tracking.Views {
		if !desc.HasView(view) {
			continue
		}
		info, err := acquisition.LoadVideoInfo(layout.Video(view))
		if err != nil {
			return err
		}
		if info == nil {
			logger.Warn("video not processed, skipping pose estimation", "view", view)
			continue
		}
		if err := p.addVideo(logger, layout, view, info, trigs, tb, c); err != nil {
			return fmt.Errorf("view %s: %w", view, err)
		}
		table, err := acquisition.LoadPoseTable(layout.Pose(view))
		if err != nil {
			return err
		}
		if table == nil {
			logger.Warn("no pose estimation results", "view", view, "model", tracking.ViewModels[view])
			continue
		}
		if table.Frames() != info.Frames {
			logger.Warn("pose table and video disagree on frame count", "view", view, "table", table.Frames(), "video", info.Frames)
		}

		fr, frames, err := p.frameRate(logger, table.Frames(), trigs, tb)
		if err != nil {
			return fmt.Errorf("view %s: %w", view, err)
		}
		clipped := table.Head(frames)
		down, err := fr.DownsamplePose(clipped, p.opts.Criteria)
		if err != nil {
			return fmt.Errorf("view %s: %w", view, err)
		}
		if c.Pose == nil {
			c.Pose = make(map[string]archive.Pose)
		}
		c.Pose[archive.PoseName(view)] = archive.NewPose(view, clipped, down)
	}

	if !desc.HasView("eye") {
		return nil
	}
	pupil, err := acquisition.LoadPupil(layout.Pupil())
	if err != nil {
		return err
	}
	if pupil == nil {
		logger.Warn("no pupil fitting results")
		return nil
	}
	fr, frames, err := p.frameRate(logger, pupil.Frames(), trigs, tb)
	if err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	clipped := pupil.Head(frames)
	down, err := fr.DownsamplePupil(clipped)
	if err != nil {
		return fmt.Errorf("pupil: %w", err)
	}
	c.Pupil = &archive.Pupil{Raw: clipped, Downsampled: down}
	return nil
}

// addVideo registers the recording of view with the timestamps of the
// frames that have a pulse. A missing recording is skipped.
func (p *Packager) addVideo(logger *slog.Logger, layout acquisition.Layout, view string, info *acquisition.VideoInfo, trigs timebase.PulseTriggers, tb timebase.Timebases, c *archive.Container) error {
	src := layout.VideoFile(view)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("video file not found", "view", view, "path", src)
		return nil
	} else if err != nil {
		return err
	}
	r, err := tracking.ValidateIndexRanges(info.Frames, len(trigs.Videos), p.opts.MismatchTolerance)
	if err != nil {
		return err
	}
	if c.Videos == nil {
		c.Videos = make(map[string]archive.Video)
	}
	c.Videos[archive.VideoName(view)] = archive.NewVideo(view, src, tb.Videos[:r.Pulses])
	return nil
}

// frameRate reconciles a video-rate table of numFrames with the video pulses
// and returns the resampler for it together with the frames to keep.
func (p *Packager) frameRate(logger *slog.Logger, numFrames int, trigs timebase.PulseTriggers, tb timebase.Timebases) (tracking.FrameRate, int, error) {
	r, err := tracking.ValidateIndexRanges(numFrames, len(trigs.Videos), p.opts.MismatchTolerance)
	if err != nil {
		return tracking.FrameRate{}, 0, err
	}
	if r.Frames != numFrames || r.Pulses != len(trigs.Videos) {
		logger.Debug("video table clipped to pulses", "frames", numFrames, "pulses", len(trigs.Videos), "kept", r.Frames)
	}
	return tracking.FrameRate{
		RawSize:     len(tb.Raw),
		VideoPulses: trigs.Videos[:r.Pulses],
		DFFPulses:   trigs.DFF(),
		MaxSkips:    p.opts.MaxSkips,
	}, r.Frames, nil
}
