package trials

import (
	"fmt"

	"github.com/MikeSquared-Agency/nwbpack/internal/align"
)

// Align re-expresses t, whose time columns index daqT, onto the pulse
// timeline pulseT. Time columns become pulse-interval indices, value columns
// are carried over. Trials that start or end outside the pulse period are
// dropped.
func Align(t Table, daqT, pulseT []float64) (Table, error) {
	if err := t.require(ColumnStart, ColumnEnd); err != nil {
		return Table{}, err
	}

	cols := make([]Column, 0, len(t.columns))
	for _, c := range t.columns {
		if c.Kind != KindTime {
			cols = append(cols, c)
			continue
		}
		idx, err := align.DAQIndexToPulseIndex(c.Times, daqT, pulseT)
		if err != nil {
			return Table{}, fmt.Errorf("column '%s': %w", c.Name, err)
		}
		cols = append(cols, TimeColumn(c.Name, idx))
	}
	aligned, err := NewTable(cols...)
	if err != nil {
		return Table{}, err
	}

	start, _ := aligned.Column(ColumnStart)
	end, _ := aligned.Column(ColumnEnd)
	keep := make([]bool, aligned.Len())
	for i := range keep {
		keep[i] = !start.Times[i].IsOutOfPeriod() && !end.Times[i].IsOutOfPeriod()
	}
	return aligned.Filter(keep), nil
}
