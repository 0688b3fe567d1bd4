package trials

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

var ErrUnknownTask = errors.New("unknown task type")

//go:embed tasks.toml
var builtinTasks []byte

// DataType is the type a rendered value column is cast to.
type DataType string

const (
	TypeFloat DataType = "float"
	TypeInt   DataType = "int"
	TypeStr   DataType = "str"
)

// Output names the archive requires of every task.
const (
	OutputStart = "start_time"
	OutputStop  = "stop_time"
)

// ColumnSpec describes one trial column of a task.
type ColumnSpec struct {
	Name        string   `toml:"name"`
	Output      string   `toml:"output"`
	Kind        Kind     `toml:"kind"`
	DataType    DataType `toml:"data_type"`
	Description string   `toml:"description"`
}

// OutputName is the column name in the archive.
func (c ColumnSpec) OutputName() string {
	if c.Output != "" {
		return c.Output
	}
	return c.Name
}

// FlagSpec names one integer code of a categorical column.
type FlagSpec struct {
	Column      string `toml:"column"`
	Value       int    `toml:"value"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// TaskSpec is the declarative schema of one task type.
type TaskSpec struct {
	Name      string       `toml:"name"`
	Extractor string       `toml:"extractor"`
	Channel   string       `toml:"channel"`
	Columns   []ColumnSpec `toml:"column"`
	Flags     []FlagSpec   `toml:"flag"`
}

// Column returns the column whose archive name is output.
func (s TaskSpec) Column(output string) (ColumnSpec, bool) {
	for _, c := range s.Columns {
		if c.OutputName() == output {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// TaskColumns returns every column except start and stop.
func (s TaskSpec) TaskColumns() []ColumnSpec {
	var out []ColumnSpec
	for _, c := range s.Columns {
		if n := c.OutputName(); n == OutputStart || n == OutputStop {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s TaskSpec) normalize() (TaskSpec, error) {
	if s.Name == "" {
		return TaskSpec{}, errors.New("task without a name")
	}
	s.Columns = slices.Clone(s.Columns)
	for i, c := range s.Columns {
		if c.DataType == "" {
			c.DataType = TypeFloat
		}
		switch c.DataType {
		case TypeFloat, TypeInt, TypeStr:
		default:
			return TaskSpec{}, fmt.Errorf("task %s column %s: expected one of (str, int, float), got %q", s.Name, c.Name, c.DataType)
		}
		switch c.Kind {
		case KindTime, KindValue:
		default:
			return TaskSpec{}, fmt.Errorf("task %s column %s: unexpected column type %q", s.Name, c.Name, c.Kind)
		}
		s.Columns[i] = c
	}
	for _, want := range [][2]string{{ColumnStart, OutputStart}, {ColumnEnd, OutputStop}} {
		c, ok := s.Column(want[1])
		if !ok || c.Name != want[0] || c.Kind != KindTime {
			return TaskSpec{}, fmt.Errorf("task %s: at least two time columns (%s and %s) are needed", s.Name, OutputStart, OutputStop)
		}
	}
	return s, nil
}

// Registry looks task schemas up by name.
type Registry struct {
	tasks map[string]TaskSpec
	names []string
}

type registryFile struct {
	Tasks []TaskSpec `toml:"task"`
}

// LoadRegistry parses task schemas from TOML.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var f registryFile
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&f); err != nil {
		return nil, fmt.Errorf("decode task specs: %w", err)
	}

	reg := &Registry{tasks: make(map[string]TaskSpec, len(f.Tasks))}
	for _, raw := range f.Tasks {
		t, err := raw.normalize()
		if err != nil {
			return nil, err
		}
		if _, dup := reg.tasks[t.Name]; dup {
			return nil, fmt.Errorf("task %s defined twice", t.Name)
		}
		reg.tasks[t.Name] = t
		reg.names = append(reg.names, t.Name)
	}
	return reg, nil
}

// DefaultRegistry returns the built-in task schemas.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(bytes.NewReader(builtinTasks))
}

// Get returns the schema of task.
func (r *Registry) Get(task string) (TaskSpec, error) {
	t, ok := r.tasks[task]
	if !ok {
		return TaskSpec{}, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return t, nil
}

// Names lists the registered tasks in definition order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}
