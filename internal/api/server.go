package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/nwbpack/internal/hermes"
	"github.com/MikeSquared-Agency/nwbpack/internal/processor"
	"github.com/MikeSquared-Agency/nwbpack/internal/store"
)

// RunStore reads the run ledger.
type RunStore interface {
	ListRuns(ctx context.Context, session string, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
	ListTrials(ctx context.Context, id uuid.UUID) ([]store.TrialRow, error)
}

// Trigger starts packaging sessions.
type Trigger interface {
	Submit(req hermes.SessionRequested, source string) error
	Current() string
}

// Bus reports the event bus connection.
type Bus interface {
	Connected() bool
}

type Server struct {
	router  *chi.Mux
	port    int
	runs    RunStore
	trigger Trigger
	bus     Bus
	tasks   []string
}

// NewServer builds the router. runs may be nil when no database is
// configured; the ledger routes then answer 503.
func NewServer(port int, apiToken string, runs RunStore, trigger Trigger, tasks []string) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		runs:    runs,
		trigger: trigger,
		tasks:   tasks,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/nwbpack/status", s.status)
	router.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})
	router.With(BearerAuthMiddleware(apiToken)).Post("/api/v1/sessions/{session}/package", s.packageSession)

	return s
}

// SetBus makes the status route report the bus connection.
func (s *Server) SetBus(b Bus) { s.bus = b }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	state, current := "idle", ""
	if s.trigger != nil {
		if current = s.trigger.Current(); current != "" {
			state = "packaging"
		}
	}
	bus := "none"
	if s.bus != nil {
		bus = "disconnected"
		if s.bus.Connected() {
			bus = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "nwbpack",
		"status":  state,
		"session": current,
		"tasks":   s.tasks,
		"ledger":  s.runs != nil,
		"bus":     bus,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	runs, err := s.runs.ListRuns(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows, err := s.runs.ListTrials(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.TrialRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "trials": rows})
}

type packageRequest struct {
	Force       bool   `json:"force"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) packageSession(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "packager not available")
		return
	}
	var body packageRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	req := hermes.SessionRequested{
		Session:     chi.URLParam(r, "session"),
		RequestedBy: body.RequestedBy,
		Force:       body.Force,
	}
	if err := s.trigger.Submit(req, "api"); err != nil {
		if errors.Is(err, processor.ErrInvalidSession) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session": req.Session, "accepted": true})
}
