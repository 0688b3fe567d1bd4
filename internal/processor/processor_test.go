package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/nwbpack/internal/hermes"
	"github.com/MikeSquared-Agency/nwbpack/internal/session"
	"github.com/MikeSquared-Agency/nwbpack/internal/trials"
)

type fakePackager struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (f *fakePackager) Package(_ context.Context, dir string) (*session.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	return &session.Result{
		Session:  filepath.Base(dir),
		Subject:  "m1",
		Manifest: filepath.Join("/out", filepath.Base(dir), "manifest.json"),
		Trials:   []trials.Row{{Start: 1, Stop: 2}},
		Views:    []string{"eye"},
		Duration: 1500 * time.Millisecond,
	}, nil
}

type fakeLedger struct {
	started  []string
	finished map[uuid.UUID]int
	failed   map[uuid.UUID]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{finished: map[uuid.UUID]int{}, failed: map[uuid.UUID]string{}}
}

func (l *fakeLedger) StartRun(_ context.Context, session, source string) (uuid.UUID, error) {
	l.started = append(l.started, session+"/"+source)
	return uuid.New(), nil
}

func (l *fakeLedger) FinishRun(_ context.Context, id uuid.UUID, _ string, rows []trials.Row) error {
	l.finished[id] = len(rows)
	return nil
}

func (l *fakeLedger) FailRun(_ context.Context, id uuid.UUID, msg string) error {
	l.failed[id] = msg
	return nil
}

type fakeBus struct {
	subjects []string
	events   []any
}

func (b *fakeBus) Publish(subject string, data any) error {
	b.subjects = append(b.subjects, subject)
	b.events = append(b.events, data)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcess_Success(t *testing.T) {
	pk := &fakePackager{}
	ledger := newFakeLedger()
	bus := &fakeBus{}
	p := New(pk, "/data/sessions", func(string) bool { return false }, ledger, bus, testLogger())

	res, err := p.Process(context.Background(), hermes.SessionRequested{Session: "m1-20240501"}, "api")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Session != "m1-20240501" {
		t.Errorf("unexpected session %q", res.Session)
	}
	if len(pk.dirs) != 1 || pk.dirs[0] != "/data/sessions/m1-20240501" {
		t.Errorf("unexpected packaged dirs %v", pk.dirs)
	}
	if len(ledger.started) != 1 || ledger.started[0] != "m1-20240501/api" {
		t.Errorf("unexpected runs %v", ledger.started)
	}
	if len(ledger.finished) != 1 {
		t.Errorf("expected one finished run, got %d", len(ledger.finished))
	}
	if len(bus.subjects) != 1 || bus.subjects[0] != hermes.SubjectSessionPackaged {
		t.Fatalf("expected packaged event, got %v", bus.subjects)
	}
	ev := bus.events[0].(hermes.SessionPackaged)
	if ev.Trials != 1 || ev.DurationMS != 1500 {
		t.Errorf("unexpected event %+v", ev)
	}
	if p.Current() != "" {
		t.Errorf("expected idle processor, got %q", p.Current())
	}
}

func TestProcess_Failure(t *testing.T) {
	pk := &fakePackager{err: errors.New("timebases: fewer pulses than frames")}
	ledger := newFakeLedger()
	bus := &fakeBus{}
	p := New(pk, "/src", nil, ledger, bus, testLogger())

	_, err := p.Process(context.Background(), hermes.SessionRequested{Session: "bad"}, "nats")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(ledger.failed) != 1 {
		t.Errorf("expected one failed run, got %d", len(ledger.failed))
	}
	if len(bus.subjects) != 1 || bus.subjects[0] != hermes.SubjectSessionFailed {
		t.Fatalf("expected failed event, got %v", bus.subjects)
	}
	if ev := bus.events[0].(hermes.SessionFailed); ev.Error != err.Error() {
		t.Errorf("event error %q, want %q", ev.Error, err.Error())
	}
}

func TestProcess_SkipsPackaged(t *testing.T) {
	pk := &fakePackager{}
	p := New(pk, "/src", func(string) bool { return true }, nil, nil, testLogger())

	_, err := p.Process(context.Background(), hermes.SessionRequested{Session: "done"}, "nats")
	if !errors.Is(err, ErrAlreadyPackaged) {
		t.Fatalf("expected ErrAlreadyPackaged, got %v", err)
	}
	if len(pk.dirs) != 0 {
		t.Errorf("packager should not run, got %v", pk.dirs)
	}

	if _, err := p.Process(context.Background(), hermes.SessionRequested{Session: "done", Force: true}, "nats"); err != nil {
		t.Fatalf("forced rebuild failed: %v", err)
	}
	if len(pk.dirs) != 1 {
		t.Errorf("expected forced rebuild, got %v", pk.dirs)
	}
}

func TestProcess_InvalidSession(t *testing.T) {
	p := New(&fakePackager{}, "/src", nil, nil, nil, testLogger())
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := p.Process(context.Background(), hermes.SessionRequested{Session: name}, "api"); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("session %q: expected ErrInvalidSession, got %v", name, err)
		}
	}
	if err := p.Submit(hermes.SessionRequested{Session: "../etc"}, "api"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Submit: expected ErrInvalidSession, got %v", err)
	}
}

func TestHandleSessionRequested(t *testing.T) {
	pk := &fakePackager{}
	p := New(pk, "/src", nil, nil, nil, testLogger())

	data, _ := json.Marshal(hermes.SessionRequested{Session: "m1"})
	p.HandleSessionRequested(hermes.SubjectSessionRequested, data)
	p.HandleSessionRequested(hermes.SubjectSessionRequested, []byte("not json"))

	if len(pk.dirs) != 1 || pk.dirs[0] != "/src/m1" {
		t.Errorf("unexpected packaged dirs %v", pk.dirs)
	}
}
