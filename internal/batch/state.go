package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/config"
)

// DefaultStatePath is used when no state path is configured.
const DefaultStatePath = "~/.nwbpack/batch-state.json"

// State tracks progress for resumable batch runs.
type State struct {
	StartedAt         time.Time `json:"started_at"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	SessionsProcessed []string  `json:"sessions_processed"`
	SessionsRemaining int       `json:"sessions_remaining"`
	Packaged          int       `json:"packaged"`
	Skipped           int       `json:"skipped"`
	Failed            []string  `json:"failed"`
	Errors            []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the batch state at path, or creates a new one when the
// file does not exist yet.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := config.ExpandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Path is where the state is saved.
func (s *State) Path() string { return s.path }

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed returns true if the session was packaged or skipped by an
// earlier run.
func (s *State) IsProcessed(session string) bool {
	return slices.Contains(s.SessionsProcessed, session)
}

// MarkProcessed records a session as done.
func (s *State) MarkProcessed(session string) {
	if !s.IsProcessed(session) {
		s.SessionsProcessed = append(s.SessionsProcessed, session)
	}
}

// MarkFailed records a failed session. Failed sessions are retried on the
// next run.
func (s *State) MarkFailed(session string, err error) {
	if !slices.Contains(s.Failed, session) {
		s.Failed = append(s.Failed, session)
	}
	s.AddError(fmt.Sprintf("%s: %v", session, err))
}

// AddError records a processing error.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}
