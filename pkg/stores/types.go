package stores

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// RunStatus represents the execution state of a recorded run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusManaged    RunStatus = "managed"
	RunStatusStarted    RunStatus = "started"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailure    RunStatus = "failure"
)

// DefaultMode is the execution profile applied when a run does not name one.
const DefaultMode = "default"

// Run represents one recorded execution of a named pipeline.
//
// Selector and EnvironmentConfig are opaque to the store: their structure is
// owned by the caller and they are persisted without interpretation. A nil
// StepKeysToExecute means the run covers all steps.
type Run struct {
	RunID             string            `json:"run_id" validate:"required"`
	PipelineName      string            `json:"pipeline_name" validate:"required"`
	Mode              string            `json:"mode"`
	Selector          json.RawMessage   `json:"selector,omitempty"`
	EnvironmentConfig json.RawMessage   `json:"environment_config,omitempty"`
	StepKeysToExecute []string          `json:"step_keys_to_execute,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	Status            RunStatus         `json:"status" validate:"omitempty,oneof=not_started managed started success failure"`
}

// NewRun creates a run record with the defaults applied: mode "default" and
// status not_started.
func NewRun(runID, pipelineName string) *Run {
	return &Run{
		RunID:        runID,
		PipelineName: pipelineName,
		Mode:         DefaultMode,
		Status:       RunStatusNotStarted,
	}
}

// Clone returns a deep copy of the run. Backends hand out clones so that
// callers can never reach into a backend's internal state through a shared
// map or slice.
//
// Empty optional collections are normalized to their absent form: an empty
// tag map or step-key slice clones as nil. Every record passes through Clone
// on the way into a backend, so the stored shape is canonical and a record
// reads back identically no matter which backend held it.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Selector = nil
	if len(r.Selector) > 0 {
		out.Selector = append(json.RawMessage(nil), r.Selector...)
	}
	out.EnvironmentConfig = nil
	if len(r.EnvironmentConfig) > 0 {
		out.EnvironmentConfig = append(json.RawMessage(nil), r.EnvironmentConfig...)
	}
	out.StepKeysToExecute = nil
	if len(r.StepKeysToExecute) > 0 {
		out.StepKeysToExecute = append([]string(nil), r.StepKeysToExecute...)
	}
	out.Tags = nil
	if len(r.Tags) > 0 {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// HasTag reports whether the run carries the exact tag key/value pair.
func (r *Run) HasTag(key, value string) bool {
	v, ok := r.Tags[key]
	return ok && v == value
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the run record against the struct-level constraints.
func (r *Run) Validate() error {
	return validate.Struct(r)
}

// RunStorage is the capability contract every backend implements. All
// operations are synchronous; failures surface to the caller without
// internal retries.
type RunStorage interface {
	// AddRun inserts a new record. It returns ErrDuplicateRun when a record
	// with the same run ID already exists, leaving the store unchanged.
	AddRun(ctx context.Context, run *Run) error

	// HasRun reports whether a record with the given run ID exists. It never
	// fails for a missing ID.
	HasRun(ctx context.Context, runID string) (bool, error)

	// GetRunByID returns the stored record, or ErrNotFound when no record
	// with the given run ID exists.
	GetRunByID(ctx context.Context, runID string) (*Run, error)

	// AllRuns returns every stored record in insertion order.
	AllRuns(ctx context.Context) ([]*Run, error)

	// AllRunsForPipeline returns the records whose pipeline name matches
	// exactly. The result is empty, never nil-with-error, when nothing
	// matches.
	AllRunsForPipeline(ctx context.Context, pipelineName string) ([]*Run, error)

	// AllRunsForTag returns the records carrying the exact tag key/value
	// pair. Untagged runs never match.
	AllRunsForTag(ctx context.Context, key, value string) ([]*Run, error)

	// Wipe removes every record. It is idempotent and safe on an empty
	// store.
	Wipe(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
