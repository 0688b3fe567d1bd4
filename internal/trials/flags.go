package trials

import (
	"fmt"
	"strings"
)

// FlagMapper turns the integer codes of one column into category names.
type FlagMapper struct {
	Column      string
	Names       map[int]string
	Description string
}

// NewFlagMapper builds the mapper of column from its flag entries. The
// description lists every code as "`name (value)`, what it means".
func NewFlagMapper(column string, flags []FlagSpec) FlagMapper {
	m := FlagMapper{Column: column, Names: make(map[int]string, len(flags))}
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		m.Names[f.Value] = f.Name
		desc := strings.TrimSpace(strings.ReplaceAll(f.Description, ";", " --"))
		desc = strings.TrimRight(desc, ".,;:")
		parts = append(parts, fmt.Sprintf("`%s (%d)`, %s", f.Name, f.Value, desc))
	}
	m.Description = strings.Join(parts, "; ")
	return m
}

// Mappers groups the flags of s by column, in the order columns first appear.
func (s TaskSpec) Mappers() []FlagMapper {
	var order []string
	byColumn := make(map[string][]FlagSpec)
	for _, f := range s.Flags {
		if _, seen := byColumn[f.Column]; !seen {
			order = append(order, f.Column)
		}
		byColumn[f.Column] = append(byColumn[f.Column], f)
	}
	out := make([]FlagMapper, len(order))
	for i, col := range order {
		out[i] = NewFlagMapper(col, byColumn[col])
	}
	return out
}

// Map returns the category name of v.
func (m FlagMapper) Map(v int) (string, error) {
	name, ok := m.Names[v]
	if !ok {
		return "", fmt.Errorf("column %s: no category for flag %d", m.Column, v)
	}
	return name, nil
}

// Apply returns a copy of s whose mapped column renders as a string and
// documents the categories.
func (m FlagMapper) Apply(s TaskSpec) TaskSpec {
	cols := make([]ColumnSpec, len(s.Columns))
	copy(cols, s.Columns)
	for i, c := range cols {
		if c.OutputName() != m.Column {
			continue
		}
		c.DataType = TypeStr
		c.Description = fmt.Sprintf("%s: %s", c.Description, m.Description)
		cols[i] = c
	}
	s.Columns = cols
	return s
}
