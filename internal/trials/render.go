package trials

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/MikeSquared-Agency/nwbpack/internal/align"
)

var ErrMissingBoundary = errors.New("trial has no start or stop time")

// Row is one rendered trial. Times are in seconds on the timeline the table
// was rendered against; missing values are nil.
type Row struct {
	Start  float64        `json:"start_time"`
	Stop   float64        `json:"stop_time"`
	Fields map[string]any `json:"fields"`
}

// Documented returns s with every flag mapping applied to its columns.
func (s TaskSpec) Documented() TaskSpec {
	for _, m := range s.Mappers() {
		s = m.Apply(s)
	}
	return s
}

// Render converts t into rows keyed by archive column names. Time columns
// are looked up in timeline, value columns cast to their data type and
// categorical columns named through the task's flags.
func Render(t Table, spec TaskSpec, timeline []float64) ([]Row, error) {
	mappers := make(map[string]FlagMapper)
	for _, m := range spec.Mappers() {
		mappers[m.Column] = m
	}

	type rendered struct {
		spec  ColumnSpec
		times []float64
		vals  []float64
	}
	cols := make([]rendered, 0, len(spec.Columns))
	for _, cs := range spec.Columns {
		c, ok := t.Column(cs.Name)
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", ErrMissingColumn, cs.Name)
		}
		if c.Kind != cs.Kind {
			return nil, fmt.Errorf("column '%s' holds %s, task %s declares %s", cs.Name, c.Kind, spec.Name, cs.Kind)
		}
		r := rendered{spec: cs}
		if c.Kind == KindTime {
			ts, err := align.IndexToTimestamp(c.Times, timeline)
			if err != nil {
				return nil, fmt.Errorf("column '%s': %w", cs.Name, err)
			}
			r.times = ts
		} else {
			r.vals = c.Values
		}
		cols = append(cols, r)
	}

	rows := make([]Row, t.Len())
	for i := range rows {
		row := Row{Start: math.NaN(), Stop: math.NaN(), Fields: make(map[string]any)}
		for _, c := range cols {
			name := c.spec.OutputName()
			if c.times != nil {
				switch name {
				case OutputStart:
					row.Start = c.times[i]
				case OutputStop:
					row.Stop = c.times[i]
				default:
					row.Fields[name] = nullable(c.times[i])
				}
				continue
			}
			v, err := castValue(c.vals[i], c.spec, mappers)
			if err != nil {
				return nil, fmt.Errorf("trial %d: %w", i, err)
			}
			row.Fields[name] = v
		}
		if math.IsNaN(row.Start) || math.IsNaN(row.Stop) {
			return nil, fmt.Errorf("%w: trial %d", ErrMissingBoundary, i)
		}
		rows[i] = row
	}
	return rows, nil
}

func castValue(v float64, cs ColumnSpec, mappers map[string]FlagMapper) (any, error) {
	if math.IsNaN(v) {
		return nil, nil
	}
	name := cs.OutputName()
	if m, ok := mappers[name]; ok {
		return m.Map(int(v))
	}
	switch cs.DataType {
	case TypeInt:
		return int64(v), nil
	case TypeStr:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return v, nil
	}
}

func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
