package imaging

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// MeanTraces streams a frame stack and averages each ROI per frame. The
// stack is frame-major little-endian uint16 of set.Width*set.Height pixels.
// The result holds one trace per ROI, in set order.
func MeanTraces(path string, set *ROISet) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	frameBytes := int64(set.Width * set.Height * 2)
	if info.Size()%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, frame is %d", ErrFrameSize, path, info.Size(), frameBytes)
	}
	frames := int(info.Size() / frameBytes)

	traces := make([][]float64, len(set.ROIs))
	for i := range traces {
		traces[i] = make([]float64, frames)
	}
	r := bufio.NewReader(f)
	buf := make([]byte, frameBytes)
	for k := 0; k < frames; k++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read %s frame %d: %w", path, k, err)
		}
		for i, roi := range set.ROIs {
			var sum float64
			for _, p := range roi.Pixels {
				sum += float64(binary.LittleEndian.Uint16(buf[2*p:]))
			}
			traces[i][k] = sum / float64(len(roi.Pixels))
		}
	}
	return traces, nil
}
