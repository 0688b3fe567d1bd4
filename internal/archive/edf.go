package archive

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/OpenPSG/edf"
)

var (
	ErrEmptySignals  = errors.New("no signals to write")
	ErrRaggedSignals = errors.New("signals differ in length")
	ErrSignalRange   = errors.New("signal range does not fit an EDF header field")
)

const (
	digitalMin = -32768
	digitalMax = 32767

	// maxRecordSamples keeps a data record within the 61440 bytes EDF allows.
	maxRecordSamples = 61440 / 2
	maxLabel         = 16
)

// SignalSet is a group of equal-length series sampled at Rate Hz.
type SignalSet struct {
	Labels []string
	Values [][]float64
	Rate   float64
}

// Len returns the number of samples per signal.
func (s SignalSet) Len() int {
	if len(s.Values) == 0 {
		return 0
	}
	return len(s.Values[0])
}

// RecordingInfo identifies the recording in the EDF header.
type RecordingInfo struct {
	Subject string
	Session string
	Start   time.Time
}

// WriteEDF writes set as 16-bit EDF. Each signal is scaled to its own finite
// range; NaN samples and the padding of the last record are written as the
// digital minimum. Labels longer than the header field are cut.
func WriteEDF(w io.WriteSeeker, set SignalSet, info RecordingInfo) error {
	if len(set.Values) == 0 || set.Len() == 0 || set.Rate <= 0 {
		return ErrEmptySignals
	}
	n := set.Len()
	for i, v := range set.Values {
		if len(v) != n {
			return fmt.Errorf("%w: %s has %d samples, expected %d", ErrRaggedSignals, set.Labels[i], len(v), n)
		}
	}

	spr := recordLength(set.Rate, len(set.Values), n)
	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          info.Subject,
		RecordingID:        info.Session,
		StartTime:          info.Start,
		DataRecordDuration: time.Duration(float64(spr) / set.Rate * float64(time.Second)),
		SignalCount:        len(set.Values),
	}
	for i, v := range set.Values {
		lo, hi, err := physicalRange(v)
		if err != nil {
			return fmt.Errorf("signal %s: %w", set.Labels[i], err)
		}
		label := set.Labels[i]
		if len(label) > maxLabel {
			label = label[:maxLabel]
		}
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:            label,
			PhysicalMin:      lo,
			PhysicalMax:      hi,
			DigitalMin:       digitalMin,
			DigitalMax:       digitalMax,
			SamplesPerRecord: spr,
		})
	}

	ew, err := edf.Create(w, hdr)
	if err != nil {
		return fmt.Errorf("create edf: %w", err)
	}
	for off := 0; off < n; off += spr {
		record := make([][]float64, len(set.Values))
		for i, v := range set.Values {
			rec := make([]float64, spr)
			lo := hdr.Signals[i].PhysicalMin
			for j := range rec {
				rec[j] = lo
				if off+j < n && !math.IsNaN(v[off+j]) {
					rec[j] = v[off+j]
				}
			}
			record[i] = rec
		}
		if err := ew.WriteRecord(record); err != nil {
			return fmt.Errorf("write record at sample %d: %w", off, err)
		}
	}
	return ew.Close()
}

// recordLength picks at most one second of samples per record, limited by
// the record size and the recording length. The header stores the record
// duration in whole seconds rounded up, so a record never spans more than
// the second it is labelled with when the rate is at least 1 Hz.
func recordLength(rate float64, signals, n int) int {
	spr := int(math.Floor(rate))
	spr = min(spr, maxRecordSamples/signals, n)
	return max(spr, 1)
}

// physicalRange returns header bounds enclosing every finite sample of v.
// Bounds are widened to what the 8-character header fields can hold so the
// file reads back with the scaling it was written with.
func physicalRange(v []float64) (float64, float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 1
	}
	if hi <= lo {
		hi = lo + 1
	}
	lo = math.Floor(lo*100) / 100
	hi = math.Ceil(hi*100) / 100
	if len(strconv.FormatFloat(lo, 'f', 2, 64)) > 8 {
		lo = math.Floor(lo)
	}
	if len(strconv.FormatFloat(hi, 'f', 2, 64)) > 8 {
		hi = math.Ceil(hi)
	}
	if len(strconv.FormatFloat(lo, 'f', 0, 64)) > 8 || len(strconv.FormatFloat(hi, 'f', 0, 64)) > 8 {
		return 0, 0, fmt.Errorf("%w: [%g, %g]", ErrSignalRange, lo, hi)
	}
	return lo, hi, nil
}
