// Package session packages one recorded session: it reads the acquisition
// outputs, reconciles their timelines and writes the archive container.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/tracking"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidDescriptor = errors.New("invalid session descriptor")

const (
	TypeTask         = "task"
	TypeRestingState = "resting-state"
)

// Descriptor is the session.toml written next to the recordings.
type Descriptor struct {
	Name        string         `toml:"name"`
	Subject     string         `toml:"subject"`
	Date        toml.LocalDate `toml:"date"`
	Task        string         `toml:"task"`
	SessionType string         `toml:"session_type"`
	Views       []string       `toml:"views"`
	Notes       string         `toml:"notes"`
}

// LoadDescriptor reads and checks the descriptor at path. The session name
// defaults to the name of the directory holding it.
func LoadDescriptor(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open descriptor: %w", err)
	}
	defer f.Close()

	var d Descriptor
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = filepath.Base(filepath.Dir(path))
	}
	if d.SessionType == "" {
		d.SessionType = TypeTask
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	if d.Subject == "" {
		return fmt.Errorf("%w: %s has no subject", ErrInvalidDescriptor, d.Name)
	}
	if d.SessionType == TypeTask && d.Task == "" {
		return fmt.Errorf("%w: %s is a task session without a task", ErrInvalidDescriptor, d.Name)
	}
	for _, v := range d.Views {
		if !slices.Contains(tracking.Views, v) {
			return fmt.Errorf("%w: %s lists unknown view %q", ErrInvalidDescriptor, d.Name, v)
		}
	}
	return nil
}

// HasVideos reports whether behaviour videos were recorded.
func (d *Descriptor) HasVideos() bool {
	return len(d.Views) > 0
}

// HasView reports whether view was recorded.
func (d *Descriptor) HasView(view string) bool {
	return slices.Contains(d.Views, view)
}

// Start is the recording date at midnight UTC, or the zero time when no
// date was given.
func (d *Descriptor) Start() time.Time {
	if d.Date == (toml.LocalDate{}) {
		return time.Time{}
	}
	return d.Date.AsTime(time.UTC)
}
