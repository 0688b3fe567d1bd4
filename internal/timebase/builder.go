package timebase

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrInsufficientSamples = errors.New("fewer raw timepoints than DAQ samples")
	ErrInsufficientPulses  = errors.New("fewer pulses than frames")
	ErrInsufficientTicks   = errors.New("fewer ticks than frames")
	ErrPulseOutOfRange     = errors.New("pulse index outside the raw timeline")
	ErrUnsorted            = errors.New("pulses are not in ascending order")
)

// RawTriggers is what an acquisition log provides before any validation.
// Pulse arrays use the hardware's 1-based sample numbering. A nil tick array
// for a channel means "derive it from the raw ticks at the pulses".
type RawTriggers struct {
	VideoPulses []int
	BPulses     []int
	VPulses     []int

	RawTicks   []float64
	VideoTicks []float64
	BTicks     []float64
	VTicks     []float64
}

// Observed carries the counts reported by the DAQ, imaging and video collaborators.
type Observed struct {
	DAQSamples int
	BFrames    int
	VFrames    int
	HasVideos  bool
}

// Builder assembles and validates the timelines of one session.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder logging truncations to logger.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build runs the whole reconciliation: index conversion, raw-data validation,
// imaging validation, video validation and the final consistency check.
func (b *Builder) Build(raw RawTriggers, obs Observed) (PulseTriggers, Timebases, error) {
	trigs, tb, err := FromRaw(raw)
	if err != nil {
		return PulseTriggers{}, Timebases{}, err
	}
	trigs, tb, err = b.ValidateWithRawData(trigs, tb, obs.DAQSamples)
	if err != nil {
		return PulseTriggers{}, Timebases{}, err
	}
	trigs, tb, err = b.ValidateWithImaging(trigs, tb, map[Channel]int{
		ChannelB: obs.BFrames,
		ChannelV: obs.VFrames,
	})
	if err != nil {
		return PulseTriggers{}, Timebases{}, err
	}
	trigs, tb = b.ValidateWithVideos(trigs, tb, obs.HasVideos)
	if err := Check(trigs, tb); err != nil {
		return PulseTriggers{}, Timebases{}, err
	}
	return trigs, tb, nil
}

// FromRaw converts 1-based pulses to 0-based indices and assembles both
// structures without further interpolation.
func FromRaw(raw RawTriggers) (PulseTriggers, Timebases, error) {
	var trigs PulseTriggers
	var err error
	if raw.VideoPulses != nil {
		if trigs.Videos, err = zeroBased(raw.VideoPulses); err != nil {
			return PulseTriggers{}, Timebases{}, fmt.Errorf("channel %s: %w", ChannelVideos, err)
		}
	}
	if trigs.B, err = zeroBased(raw.BPulses); err != nil {
		return PulseTriggers{}, Timebases{}, fmt.Errorf("channel %s: %w", ChannelB, err)
	}
	if trigs.V, err = zeroBased(raw.VPulses); err != nil {
		return PulseTriggers{}, Timebases{}, fmt.Errorf("channel %s: %w", ChannelV, err)
	}

	tb := Timebases{
		Raw:    raw.RawTicks,
		Videos: raw.VideoTicks,
		B:      raw.BTicks,
		V:      raw.VTicks,
	}
	for _, ch := range []Channel{ChannelVideos, ChannelB, ChannelV} {
		pulses := trigs.Get(ch)
		if pulses == nil || tb.Get(ch) != nil {
			continue
		}
		t, err := lookup(tb.Raw, pulses)
		if err != nil {
			return PulseTriggers{}, Timebases{}, fmt.Errorf("channel %s: %w", ch, err)
		}
		tb = tb.With(ch, t)
	}
	return trigs, tb, nil
}

func zeroBased(pulses []int) ([]int, error) {
	out := make([]int, len(pulses))
	for i, p := range pulses {
		if p < 1 {
			return nil, fmt.Errorf("%w: pulse %d has 1-based index %d", ErrPulseOutOfRange, i, p)
		}
		out[i] = p - 1
	}
	return out, nil
}

// ValidateWithRawData checks the raw timeline against the number of samples
// the DAQ actually recorded. Trailing ticks are acquisition padding.
func (b *Builder) ValidateWithRawData(trigs PulseTriggers, tb Timebases, numSamples int) (PulseTriggers, Timebases, error) {
	numTimepoints := len(tb.Raw)
	switch {
	case numTimepoints < numSamples:
		return PulseTriggers{}, Timebases{}, fmt.Errorf("%w: %d timepoints, %d samples", ErrInsufficientSamples, numTimepoints, numSamples)
	case numTimepoints > numSamples:
		b.logger.Debug("trimming raw ticks", "from", numTimepoints, "to", numSamples)
		tb = tb.With(ChannelRaw, tb.Raw[:numSamples:numSamples])
	}
	return trigs, tb, nil
}

// ValidateWithImaging checks each imaging channel's pulses and ticks against
// its frame count, trimming excess from the tail.
func (b *Builder) ValidateWithImaging(trigs PulseTriggers, tb Timebases, frames map[Channel]int) (PulseTriggers, Timebases, error) {
	for _, ch := range ImagingChannels {
		numFrames, ok := frames[ch]
		if !ok {
			continue
		}

		pulses := trigs.Get(ch)
		switch {
		case len(pulses) < numFrames:
			return PulseTriggers{}, Timebases{}, fmt.Errorf("%w: channel %s has %d pulses for %d frames", ErrInsufficientPulses, ch, len(pulses), numFrames)
		case len(pulses) > numFrames:
			b.logger.Debug("trimming pulses", "channel", ch, "from", len(pulses), "to", numFrames)
			trigs = trigs.With(ch, pulses[:numFrames:numFrames])
		}

		ticks := tb.Get(ch)
		switch {
		case len(ticks) < numFrames:
			return PulseTriggers{}, Timebases{}, fmt.Errorf("%w: channel %s has %d ticks for %d frames", ErrInsufficientTicks, ch, len(ticks), numFrames)
		case len(ticks) > numFrames:
			b.logger.Debug("trimming ticks", "channel", ch, "from", len(ticks), "to", numFrames)
			tb = tb.With(ch, ticks[:numFrames:numFrames])
		}
	}
	return trigs, tb, nil
}

// ValidateWithVideos drops the video channel from sessions that have no
// behaviour videos. Frame-level checks happen when video tables are loaded.
func (b *Builder) ValidateWithVideos(trigs PulseTriggers, tb Timebases, hasVideos bool) (PulseTriggers, Timebases) {
	if !hasVideos {
		if trigs.Videos != nil {
			b.logger.Debug("dropping video timeline", "reason", "session has no behavior videos")
		}
		trigs = trigs.With(ChannelVideos, nil)
		tb = tb.With(ChannelVideos, nil)
	}
	return trigs, tb
}

// Check verifies that pulses are ascending, index the raw timeline, and
// match their channel's timeline in length.
func Check(trigs PulseTriggers, tb Timebases) error {
	for _, ch := range []Channel{ChannelVideos, ChannelB, ChannelV} {
		pulses := trigs.Get(ch)
		for i, p := range pulses {
			if p < 0 || p >= len(tb.Raw) {
				return fmt.Errorf("%w: channel %s pulse %d at index %d, raw timeline has %d samples", ErrPulseOutOfRange, ch, i, p, len(tb.Raw))
			}
			if i > 0 && p < pulses[i-1] {
				return fmt.Errorf("%w: channel %s at pulse %d", ErrUnsorted, ch, i)
			}
		}
		if ch == ChannelVideos {
			// video pulses and ticks are reconciled against frame counts later
			continue
		}
		if len(pulses) != len(tb.Get(ch)) {
			return fmt.Errorf("channel %s: %d pulses but %d timepoints", ch, len(pulses), len(tb.Get(ch)))
		}
	}
	return nil
}
