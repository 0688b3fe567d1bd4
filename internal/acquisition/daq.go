package acquisition

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OpenPSG/edf"
)

var ErrShortRecording = errors.New("DAQ recording shorter than logged")

const readChunk = 4096

// DAQ is the raw behaviour recording: one equally long channel per label.
type DAQ struct {
	Labels   []string
	Channels map[string][]float64
	Samples  int
}

// Channel returns the samples recorded under label.
func (d DAQ) Channel(label string) ([]float64, bool) {
	v, ok := d.Channels[label]
	return v, ok
}

// ReadDAQ reads the EDF recording at path. The EDF header does not carry the
// channel names in a form the reader exposes, so labels gives them in signal
// order. EDF stores whole data records; numSamples, when positive, trims the
// padding of the last record.
func ReadDAQ(path string, labels []string, numSamples int) (DAQ, error) {
	f, err := os.Open(path)
	if err != nil {
		return DAQ{}, fmt.Errorf("open DAQ recording: %w", err)
	}
	defer f.Close()

	r, err := edf.Open(f)
	if err != nil {
		return DAQ{}, fmt.Errorf("read EDF header %s: %w", path, err)
	}

	d := DAQ{Channels: make(map[string][]float64, len(labels)), Samples: -1}
	for i, raw := range labels {
		sig, err := r.Signal(i)
		if err != nil {
			return DAQ{}, fmt.Errorf("signal %d (%s): %w", i, raw, err)
		}
		samples, err := readAll(sig)
		if err != nil {
			return DAQ{}, fmt.Errorf("signal %d (%s): %w", i, raw, err)
		}
		if numSamples > 0 {
			if len(samples) < numSamples {
				return DAQ{}, fmt.Errorf("%w: signal %s has %d samples, log says %d", ErrShortRecording, raw, len(samples), numSamples)
			}
			samples = samples[:numSamples:numSamples]
		}
		if d.Samples >= 0 && len(samples) != d.Samples {
			return DAQ{}, fmt.Errorf("signal %s has %d samples, expected %d", raw, len(samples), d.Samples)
		}
		d.Samples = len(samples)

		label := NormalizeLabel(raw)
		d.Labels = append(d.Labels, label)
		d.Channels[label] = samples
	}
	if d.Samples < 0 {
		d.Samples = 0
	}
	return d, nil
}

func readAll(sig *edf.SignalReader) ([]float64, error) {
	var out []float64
	buf := make([]float64, readChunk)
	for {
		n, err := sig.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
