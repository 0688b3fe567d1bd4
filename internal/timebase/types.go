package timebase

import "fmt"

// Channel names one of the acquisition streams that carries its own timeline.
type Channel string

const (
	ChannelRaw    Channel = "raw"
	ChannelVideos Channel = "videos"
	ChannelB      Channel = "B"
	ChannelV      Channel = "V"
)

// ImagingChannels are the two alternating excitation channels of widefield imaging.
var ImagingChannels = []Channel{ChannelB, ChannelV}

// Timebases holds the per-stream timelines in seconds since session start.
// Videos is nil when the session has no behaviour video.
type Timebases struct {
	Raw    []float64
	Videos []float64
	B      []float64
	V      []float64
}

// DFF returns the timeline of hemodynamics-corrected signals.
func (t Timebases) DFF() []float64 {
	return t.B
}

// Get returns the timeline for ch.
func (t Timebases) Get(ch Channel) []float64 {
	switch ch {
	case ChannelRaw:
		return t.Raw
	case ChannelVideos:
		return t.Videos
	case ChannelB:
		return t.B
	case ChannelV:
		return t.V
	default:
		return nil
	}
}

// With returns a copy of t whose ch timeline is replaced by v.
func (t Timebases) With(ch Channel, v []float64) Timebases {
	switch ch {
	case ChannelRaw:
		t.Raw = v
	case ChannelVideos:
		t.Videos = v
	case ChannelB:
		t.B = v
	case ChannelV:
		t.V = v
	}
	return t
}

// PulseTriggers holds, per channel, the zero-based indices into the raw
// timeline at which each frame was triggered. Videos is nil when absent.
type PulseTriggers struct {
	Videos []int
	B      []int
	V      []int
}

// DFF returns the pulse triggers of hemodynamics-corrected signals.
func (p PulseTriggers) DFF() []int {
	return p.B
}

// Get returns the pulses for ch. ChannelRaw has no pulses.
func (p PulseTriggers) Get(ch Channel) []int {
	switch ch {
	case ChannelVideos:
		return p.Videos
	case ChannelB:
		return p.B
	case ChannelV:
		return p.V
	default:
		return nil
	}
}

// With returns a copy of p whose ch pulses are replaced by v.
func (p PulseTriggers) With(ch Channel, v []int) PulseTriggers {
	switch ch {
	case ChannelVideos:
		p.Videos = v
	case ChannelB:
		p.B = v
	case ChannelV:
		p.V = v
	}
	return p
}

// AsTimebases looks every pulse up in ref, so that the result's channel
// timelines equal ref[pulses] elementwise and Raw is ref itself.
func (p PulseTriggers) AsTimebases(ref []float64) (Timebases, error) {
	tb := Timebases{Raw: ref}
	for _, ch := range []Channel{ChannelVideos, ChannelB, ChannelV} {
		pulses := p.Get(ch)
		if pulses == nil {
			continue
		}
		t, err := lookup(ref, pulses)
		if err != nil {
			return Timebases{}, fmt.Errorf("channel %s: %w", ch, err)
		}
		tb = tb.With(ch, t)
	}
	return tb, nil
}

func lookup(ref []float64, pulses []int) ([]float64, error) {
	out := make([]float64, len(pulses))
	for i, idx := range pulses {
		if idx < 0 || idx >= len(ref) {
			return nil, fmt.Errorf("%w: pulse %d at index %d, raw timeline has %d samples", ErrPulseOutOfRange, i, idx, len(ref))
		}
		out[i] = ref[idx]
	}
	return out, nil
}
