// Package trials holds per-session trial tables, their alignment onto
// other timelines and the task schemas that describe their columns.
package trials

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MikeSquared-Agency/nwbpack/internal/align"
)

var (
	ErrMissingColumn = errors.New("trials do not contain a required column")
	ErrRaggedTable   = errors.New("trial columns differ in length")
)

// Required columns, named as the acquisition side names them.
const (
	ColumnStart = "start"
	ColumnEnd   = "end"
)

// Kind says how a column relates to time.
type Kind string

const (
	// KindTime columns hold sample indices on the timeline the table lives on.
	KindTime Kind = "time"
	// KindValue columns hold plain numbers that move with the row.
	KindValue Kind = "value"
)

// Column is one named column. Exactly one of Times and Values is set,
// matching Kind.
type Column struct {
	Name   string
	Kind   Kind
	Times  []align.Index
	Values []float64
}

// TimeColumn builds a column of sample indices.
func TimeColumn(name string, idx []align.Index) Column {
	return Column{Name: name, Kind: KindTime, Times: idx}
}

// ValueColumn builds a column of plain values.
func ValueColumn(name string, v []float64) Column {
	return Column{Name: name, Kind: KindValue, Values: v}
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	if c.Kind == KindTime {
		return len(c.Times)
	}
	return len(c.Values)
}

func (c Column) pick(keep []bool) Column {
	out := Column{Name: c.Name, Kind: c.Kind}
	for i, k := range keep {
		if !k {
			continue
		}
		if c.Kind == KindTime {
			out.Times = append(out.Times, c.Times[i])
		} else {
			out.Values = append(out.Values, c.Values[i])
		}
	}
	if c.Kind == KindTime && out.Times == nil {
		out.Times = []align.Index{}
	}
	if c.Kind == KindValue && out.Values == nil {
		out.Values = []float64{}
	}
	return out
}

// Table is an immutable, column-oriented trial table. Columns keep the order
// they were given in.
type Table struct {
	columns []Column
	rows    int
}

// NewTable checks that all columns have the same length and builds a table.
func NewTable(cols ...Column) (Table, error) {
	t := Table{columns: slices.Clone(cols)}
	for i, c := range cols {
		switch c.Kind {
		case KindTime, KindValue:
		default:
			return Table{}, fmt.Errorf("column %q: unexpected column type %q", c.Name, c.Kind)
		}
		if i == 0 {
			t.rows = c.Len()
			continue
		}
		if c.Len() != t.rows {
			return Table{}, fmt.Errorf("%w: %q has %d rows, %q has %d", ErrRaggedTable, c.Name, c.Len(), cols[0].Name, t.rows)
		}
	}
	return t, nil
}

// Len returns the number of trials.
func (t Table) Len() int { return t.rows }

// Columns returns the columns in order. The slice is a copy.
func (t Table) Columns() []Column { return slices.Clone(t.columns) }

// Column returns the column called name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Filter returns a table holding the rows where keep is true.
func (t Table) Filter(keep []bool) Table {
	out := Table{columns: make([]Column, len(t.columns))}
	for _, k := range keep {
		if k {
			out.rows++
		}
	}
	for i, c := range t.columns {
		out.columns[i] = c.pick(keep)
	}
	return out
}

func (t Table) require(names ...string) error {
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("%w: '%s'", ErrMissingColumn, name)
		}
		if c.Kind != KindTime {
			return fmt.Errorf("column '%s' must hold times, got %s", name, c.Kind)
		}
	}
	return nil
}
