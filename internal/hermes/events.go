package hermes

import "time"

// Subjects of the packaging workflow.
const (
	SubjectSessionRequested = "nwbpack.session.requested"
	SubjectSessionPackaged  = "nwbpack.session.packaged"
	SubjectSessionFailed    = "nwbpack.session.failed"
)

// SessionRequested asks for one session directory, relative to the source
// root, to be packaged.
type SessionRequested struct {
	Session     string `json:"session"`
	RequestedBy string `json:"requested_by,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// SessionPackaged is published once the container of a session is written.
type SessionPackaged struct {
	RunID      string    `json:"run_id"`
	Session    string    `json:"session"`
	Subject    string    `json:"subject"`
	Task       string    `json:"task,omitempty"`
	Manifest   string    `json:"manifest"`
	Trials     int       `json:"trials"`
	Views      []string  `json:"views,omitempty"`
	Pupil      bool      `json:"pupil"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// SessionFailed is published when packaging aborts.
type SessionFailed struct {
	RunID    string    `json:"run_id"`
	Session  string    `json:"session"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
