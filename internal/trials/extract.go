package trials

import (
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/nwbpack/internal/align"
)

var (
	ErrMissingChannel   = errors.New("DAQ channel not recorded")
	ErrUnexpectedState  = errors.New("unexpected task state sequence")
	ErrUnknownExtractor = errors.New("unknown trial extractor")
)

// Task states of the cued lever-pull protocol.
const (
	stateWaiting  = 0
	stateCued     = 1
	stateRewarded = 2
)

// Block is a run of identical flag values covering samples [Start, Stop).
type Block struct {
	Start int
	Stop  int
	Value int
}

// ExtractBlocks splits flags into runs of constant value.
func ExtractBlocks(flags []int) []Block {
	if len(flags) == 0 {
		return nil
	}
	var out []Block
	start := 0
	for i := 1; i < len(flags); i++ {
		if flags[i] != flags[i-1] {
			out = append(out, Block{Start: start, Stop: i, Value: flags[start]})
			start = i
		}
	}
	return append(out, Block{Start: start, Stop: len(flags), Value: flags[start]})
}

func asFlags(v []float64, thresholdAbove bool) []int {
	out := make([]int, len(v))
	for i, x := range v {
		switch {
		case thresholdAbove && x > 0:
			out[i] = 1
		case thresholdAbove:
			out[i] = 0
		default:
			out[i] = int(x)
		}
	}
	return out
}

func channel(daq map[string][]float64, label string) ([]float64, error) {
	v, ok := daq[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingChannel, label)
	}
	return v, nil
}

// Extract derives the trial table of spec from raw DAQ channels sampled at
// rate. Time columns hold DAQ sample indices.
func Extract(spec TaskSpec, daq map[string][]float64, rate float64) (Table, error) {
	switch spec.Extractor {
	case "cued-lever-pull":
		return CuedLeverPull(daq, rate)
	case "blocks":
		return FlagBlocks(daq, spec.Channel)
	default:
		return Table{}, fmt.Errorf("%w: %q (task %s)", ErrUnknownExtractor, spec.Extractor, spec.Name)
	}
}

// CuedLeverPull walks the Task_state channel through WAITING, CUED and an
// optional REWARDED state. Each CUED block is a trial; the first
// supra-threshold lever response inside it is the pull onset.
func CuedLeverPull(daq map[string][]float64, rate float64) (Table, error) {
	stateCh, err := channel(daq, "Task_state")
	if err != nil {
		return Table{}, err
	}
	overThr, err := channel(daq, "Over_thr")
	if err != nil {
		return Table{}, err
	}
	pullDur, err := channel(daq, "Pull_dur")
	if err != nil {
		return Table{}, err
	}

	states := ExtractBlocks(asFlags(stateCh, false))
	var responses []int
	for _, b := range ExtractBlocks(asFlags(overThr, true)) {
		if b.Value == 1 {
			responses = append(responses, b.Start)
		}
	}

	var start, end, lever []align.Index
	var reaction, required, reward []float64
	resp := 0
	for i := 0; i < len(states); {
		if states[i].Value != stateWaiting {
			i++
			continue
		}
		if i+2 >= len(states) {
			break
		}
		cued := states[i+1]
		if cued.Value != stateCued {
			return Table{}, fmt.Errorf("%w: state %d follows WAITING at sample %d", ErrUnexpectedState, cued.Value, cued.Start)
		}

		for resp < len(responses) && responses[resp] < cued.Start {
			resp++
		}
		pull := align.Missing
		rt := math.NaN()
		if resp < len(responses) && responses[resp] < cued.Stop {
			pull = align.At(responses[resp])
			rt = float64(responses[resp]-cued.Start) / rate
		}

		rewarded := 0.0
		if states[i+2].Value == stateRewarded {
			rewarded = 1
			i += 3
		} else {
			i += 2
		}

		start = append(start, align.At(cued.Start))
		end = append(end, align.At(cued.Stop))
		lever = append(lever, pull)
		reaction = append(reaction, rt)
		required = append(required, pullDur[cued.Start]/rate)
		reward = append(reward, rewarded)
	}

	return NewTable(
		TimeColumn(ColumnStart, orEmpty(start)),
		TimeColumn(ColumnEnd, orEmpty(end)),
		TimeColumn("lever", orEmpty(lever)),
		ValueColumn("reaction_time", orEmptyF(reaction)),
		ValueColumn("required_pull_duration", orEmptyF(required)),
		ValueColumn("reward", orEmptyF(reward)),
	)
}

// FlagBlocks makes one trial per non-zero block of the label channel. A
// block still open when the recording stops has no end and is skipped.
func FlagBlocks(daq map[string][]float64, label string) (Table, error) {
	ch, err := channel(daq, label)
	if err != nil {
		return Table{}, err
	}
	var start, end []align.Index
	var value []float64
	for _, b := range ExtractBlocks(asFlags(ch, false)) {
		if b.Value == 0 || b.Stop == len(ch) {
			continue
		}
		start = append(start, align.At(b.Start))
		end = append(end, align.At(b.Stop))
		value = append(value, float64(b.Value))
	}
	return NewTable(
		TimeColumn(ColumnStart, orEmpty(start)),
		TimeColumn(ColumnEnd, orEmpty(end)),
		ValueColumn("value", orEmptyF(value)),
	)
}

// FromColumns builds the table of spec from columns as stored by the
// acquisition software: time columns are 1-based sample numbers, with NaN
// or 0 for a missing event.
func FromColumns(spec TaskSpec, cols map[string][]float64) (Table, error) {
	out := make([]Column, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		v, ok := cols[c.Name]
		if !ok {
			return Table{}, fmt.Errorf("%w: '%s'", ErrMissingColumn, c.Name)
		}
		if c.Kind == KindValue {
			out = append(out, ValueColumn(c.Name, v))
			continue
		}
		idx := make([]align.Index, len(v))
		for i, x := range v {
			idx[i] = align.FromSample(x - 1)
		}
		out = append(out, TimeColumn(c.Name, idx))
	}
	return NewTable(out...)
}

func orEmpty(v []align.Index) []align.Index {
	if v == nil {
		return []align.Index{}
	}
	return v
}

func orEmptyF(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
