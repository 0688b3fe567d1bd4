package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/nwbpack/internal/hermes"
	"github.com/MikeSquared-Agency/nwbpack/internal/session"
	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

var (
	ErrAlreadyPackaged = errors.New("session already packaged")
	ErrInvalidSession  = errors.New("invalid session name")
)

// Packager builds and writes the container of one session directory.
type Packager interface {
	Package(ctx context.Context, dir string) (*session.Result, error)
}

// Ledger records packaging runs. The Postgres store implements it.
type Ledger interface {
	StartRun(ctx context.Context, session, source string) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, manifest string, rows []trials.Row) error
	FailRun(ctx context.Context, id uuid.UUID, msg string) error
}

// Publisher announces finished and failed sessions.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor packages requested sessions one at a time.
type Processor struct {
	packager   Packager
	sourceRoot string
	exists     func(session string) bool
	ledger     Ledger
	bus        Publisher
	logger     *slog.Logger

	mu      sync.Mutex
	current atomic.Value // session being packaged, "" when idle
}

// New creates a Processor. ledger and bus may be nil.
func New(packager Packager, sourceRoot string, exists func(string) bool, ledger Ledger, bus Publisher, logger *slog.Logger) *Processor {
	p := &Processor{
		packager:   packager,
		sourceRoot: sourceRoot,
		exists:     exists,
		ledger:     ledger,
		bus:        bus,
		logger:     logger,
	}
	p.current.Store("")
	return p
}

// HandleSessionRequested is the NATS handler for nwbpack.session.requested.
func (p *Processor) HandleSessionRequested(subject string, data []byte) {
	var req hermes.SessionRequested
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse session request", "subject", subject, "error", err)
		return
	}
	if _, err := p.Process(context.Background(), req, "nats"); err != nil && !errors.Is(err, ErrAlreadyPackaged) {
		p.logger.Error("session request failed", "session", req.Session, "error", err)
	}
}

// Submit packages req in the background.
func (p *Processor) Submit(req hermes.SessionRequested, source string) error {
	if err := validSession(req.Session); err != nil {
		return err
	}
	go func() {
		if _, err := p.Process(context.Background(), req, source); err != nil && !errors.Is(err, ErrAlreadyPackaged) {
			p.logger.Error("submitted session failed", "session", req.Session, "source", source, "error", err)
		}
	}()
	return nil
}

// Current returns the session being packaged, or "" when idle.
func (p *Processor) Current() string {
	return p.current.Load().(string)
}

// Process packages one session, recording the run and publishing the
// outcome. Sessions that already have a container are skipped unless the
// request forces a rebuild.
func (p *Processor) Process(ctx context.Context, req hermes.SessionRequested, source string) (*session.Result, error) {
	if err := validSession(req.Session); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !req.Force && p.exists != nil && p.exists(req.Session) {
		p.logger.Info("session already packaged, skipping", "session", req.Session)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPackaged, req.Session)
	}

	p.current.Store(req.Session)
	defer p.current.Store("")

	runID := uuid.New()
	if p.ledger != nil {
		id, err := p.ledger.StartRun(ctx, req.Session, source)
		if err != nil {
			p.logger.Warn("failed to record run start", "session", req.Session, "error", err)
		} else {
			runID = id
		}
	}

	p.logger.Info("packaging session", "session", req.Session, "run_id", runID, "source", source, "requested_by", req.RequestedBy)
	res, err := p.packager.Package(ctx, filepath.Join(p.sourceRoot, req.Session))
	if err != nil {
		p.fail(ctx, runID, req.Session, err)
		return nil, err
	}

	if p.ledger != nil {
		if err := p.ledger.FinishRun(ctx, runID, res.Manifest, res.Trials); err != nil {
			p.logger.Warn("failed to record run finish", "session", req.Session, "run_id", runID, "error", err)
		}
	}
	p.publish(hermes.SubjectSessionPackaged, hermes.SessionPackaged{
		RunID:      runID.String(),
		Session:    res.Session,
		Subject:    res.Subject,
		Task:       res.Task,
		Manifest:   res.Manifest,
		Trials:     len(res.Trials),
		Views:      res.Views,
		Pupil:      res.Pupil,
		DurationMS: res.Duration.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	})
	return res, nil
}

func (p *Processor) fail(ctx context.Context, runID uuid.UUID, name string, cause error) {
	p.logger.Error("packaging failed", "session", name, "run_id", runID, "error", cause)
	if p.ledger != nil {
		if err := p.ledger.FailRun(ctx, runID, cause.Error()); err != nil {
			p.logger.Warn("failed to record run failure", "session", name, "run_id", runID, "error", err)
		}
	}
	p.publish(hermes.SubjectSessionFailed, hermes.SessionFailed{
		RunID:    runID.String(),
		Session:  name,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	})
}

func (p *Processor) publish(subject string, ev any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(subject, ev); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// validSession rejects names that would escape the source root.
func validSession(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidSession, name)
	}
	return nil
}
