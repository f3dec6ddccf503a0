package stores

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hostwire/hostwire/pkg/telemetry"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped marks a change that was not needed, such as
	// installing a package that is already installed.
	RunStatusSkipped RunStatus = "skipped"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// Run is one operation against one host.
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	Host        string     `json:"host" yaml:"host"`
	Endpoint    string     `json:"endpoint" yaml:"endpoint"`
	Provider    string     `json:"provider" yaml:"provider"`
	Op          string     `json:"op" yaml:"op"`
	Target      string     `json:"target" yaml:"target"` // command line, package or service name
	Status      RunStatus  `json:"status" yaml:"status"`
	ExitCode    *int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewRun returns a running Run with a fresh id.
func NewRun(host, endpoint, provider, op, target string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Host:      host,
		Endpoint:  endpoint,
		Provider:  provider,
		Op:        op,
		Target:    target,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunFilter narrows ListRuns. Zero values match everything; Limit 0 means
// DefaultListLimit.
type RunFilter struct {
	Host   string
	Status RunStatus
	Limit  int
	Offset int
}

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// Snapshot is a stored telemetry document.
type Snapshot struct {
	ID         int64                `json:"id" yaml:"id"`
	Host       string               `json:"host" yaml:"host"`
	Telemetry  *telemetry.Telemetry `json:"telemetry" yaml:"telemetry"`
	CapturedAt time.Time            `json:"captured_at" yaml:"captured_at"`
}

// Store persists run history and telemetry snapshots.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id string, status RunStatus, exitCode *int, errMsg *string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FindRun(ctx context.Context, prefix string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	SaveTelemetry(ctx context.Context, host string, t *telemetry.Telemetry) (*Snapshot, error)
	LatestTelemetry(ctx context.Context, host string) (*Snapshot, error)
}
