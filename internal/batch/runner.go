// Package batch packages every session found under the source root,
// resuming from a state file between runs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MikeSquared-Agency/nwbpack/internal/acquisition"
	"github.com/MikeSquared-Agency/nwbpack/internal/hermes"
	"github.com/MikeSquared-Agency/nwbpack/internal/processor"
	"github.com/MikeSquared-Agency/nwbpack/internal/session"
)

// Config holds the batch command configuration.
type Config struct {
	SourceRoot string
	StatePath  string
	Session    string // package a single session only
	Since      time.Time
	Until      time.Time
	Force      bool // rebuild sessions that already have a container
	DryRun     bool // list the sessions that would be packaged
}

// Processor packages one requested session.
type Processor interface {
	Process(ctx context.Context, req hermes.SessionRequested, source string) (*session.Result, error)
}

// Summary counts the outcome of a run.
type Summary struct {
	Discovered int
	Packaged   int
	Skipped    int
	Failed     int
}

// Runner packages sessions sequentially. A failed session is recorded and
// the run continues with the next one.
type Runner struct {
	cfg    Config
	proc   Processor
	logger *slog.Logger
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config, proc Processor, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, proc: proc, logger: logger}
}

// Run executes the batch.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return Summary{}, fmt.Errorf("load state: %w", err)
	}

	sessions, err := r.discover()
	if err != nil {
		return Summary{}, fmt.Errorf("discover sessions: %w", err)
	}

	var todo []string
	for _, name := range sessions {
		if !r.cfg.Force && state.IsProcessed(name) {
			continue
		}
		todo = append(todo, name)
	}
	sum := Summary{Discovered: len(sessions)}
	state.SessionsRemaining = len(todo)
	r.logger.Info("sessions discovered", "total", len(sessions), "to_process", len(todo), "dry_run", r.cfg.DryRun)

	if r.cfg.DryRun {
		for _, name := range todo {
			r.logger.Info("would package session", "session", name)
		}
		return sum, nil
	}

	for _, name := range todo {
		select {
		case <-ctx.Done():
			r.logger.Info("batch interrupted, saving state")
			r.save(state)
			return sum, ctx.Err()
		default:
		}

		res, err := r.proc.Process(ctx, hermes.SessionRequested{Session: name, RequestedBy: "batch", Force: r.cfg.Force}, "batch")
		switch {
		case errors.Is(err, processor.ErrAlreadyPackaged):
			sum.Skipped++
			state.Skipped++
			state.MarkProcessed(name)
		case err != nil:
			if ctx.Err() != nil {
				r.save(state)
				return sum, ctx.Err()
			}
			sum.Failed++
			state.MarkFailed(name, err)
		default:
			sum.Packaged++
			state.Packaged++
			state.Failed = slices.DeleteFunc(state.Failed, func(s string) bool { return s == name })
			state.MarkProcessed(name)
			r.logger.Info("session done", "session", name, "trials", len(res.Trials), "duration", res.Duration)
		}
		state.SessionsRemaining--
		r.save(state)
	}

	r.logger.Info("batch complete",
		"packaged", sum.Packaged,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"state", state.Path(),
	)
	return sum, nil
}

func (r *Runner) save(state *State) {
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save batch state", "path", state.Path(), "error", err)
	}
}

// discover returns the sorted names of the directories under the source
// root that hold a session descriptor. The root is used as given, the
// same way the processor resolves session names against it.
func (r *Runner) discover() ([]string, error) {
	root := r.cfg.SourceRoot
	if r.cfg.Session != "" {
		layout := acquisition.Layout{Dir: filepath.Join(root, r.cfg.Session)}
		if _, err := os.Stat(layout.Descriptor()); err != nil {
			return nil, fmt.Errorf("session not found: %s", r.cfg.Session)
		}
		return []string{r.cfg.Session}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		layout := acquisition.Layout{Dir: filepath.Join(root, e.Name())}
		if !r.inDateRange(layout.Descriptor()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// inDateRange reports whether the descriptor at path exists and its date
// falls within the configured since/until range. Undated sessions pass
// the range check.
func (r *Runner) inDateRange(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}
	desc, err := session.LoadDescriptor(path)
	if err != nil {
		r.logger.Warn("unreadable session descriptor", "path", path, "error", err)
		return true
	}
	start := desc.Start()
	if start.IsZero() {
		return true
	}
	if !r.cfg.Since.IsZero() && start.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && start.After(r.cfg.Until) {
		return false
	}
	return true
}
