// Package instance binds a storage backend into a process-wide RunLedger
// facade. The backend is chosen explicitly at construction time: Ephemeral
// for the transient in-memory store, Local for the durable SQLite store
// rooted at a directory. The facade consumes the stores.RunStorage contract
// only and instruments every call with logging, metrics, and tracing.
package instance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/runledger/runledger/pkg/stores"
	"github.com/runledger/runledger/pkg/telemetry"
)

// Backend names reported in logs, metrics, and traces.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Instance is a process-wide handle on one run-metadata store.
type Instance struct {
	storage stores.RunStorage
	backend string
	tel     *telemetry.Telemetry
	log     *telemetry.Logger
}

// Option customizes instance construction.
type Option func(*Instance)

// WithTelemetry installs a caller-provided telemetry stack.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(inst *Instance) {
		inst.tel = tel
	}
}

// Ephemeral creates an instance over the transient in-memory backend.
// Contents are lost when the process exits.
func Ephemeral(opts ...Option) (*Instance, error) {
	return newInstance(stores.NewMemoryStore(), BackendMemory, opts...)
}

// Local creates an instance over the durable SQLite backend rooted at the
// given directory.
func Local(ctx context.Context, baseDir string, opts ...Option) (*Instance, error) {
	storage, err := stores.FromLocal(ctx, baseDir)
	if err != nil {
		return nil, err
	}
	return newInstance(storage, BackendSQLite, opts...)
}

func newInstance(storage stores.RunStorage, backend string, opts ...Option) (*Instance, error) {
	inst := &Instance{
		storage: storage,
		backend: backend,
	}
	for _, opt := range opts {
		opt(inst)
	}

	if inst.tel == nil {
		tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		inst.tel = tel
	}
	inst.log = inst.tel.Logger.NewComponentLogger("instance").WithBackend(backend)

	inst.log.Debug("run storage ready")
	return inst, nil
}

// Backend returns the name of the bound storage backend.
func (inst *Instance) Backend() string {
	return inst.backend
}

// Events exposes the run event publisher for subscribers.
func (inst *Instance) Events() *telemetry.EventPublisher {
	return inst.tel.Events
}

// CreateEmptyRun constructs a default run record for the pipeline and stores
// it. When runID is empty a new UUID is generated. The stored record is
// returned.
func (inst *Instance) CreateEmptyRun(ctx context.Context, runID, pipelineName string) (*stores.Run, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	run := stores.NewRun(runID, pipelineName)
	if err := inst.AddRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// AddRun records a run, rejecting duplicates with stores.ErrDuplicateRun.
func (inst *Instance) AddRun(ctx context.Context, run *stores.Run) error {
	err := inst.instrument(ctx, "add_run", func(ctx context.Context) error {
		return inst.storage.AddRun(ctx, run)
	})

	switch {
	case err == nil:
		inst.tel.Metrics.RecordRunAdded(run.PipelineName, inst.backend)
		_ = inst.tel.Events.PublishRunAdded(run.RunID, run.PipelineName)
		inst.log.WithRunID(run.RunID).WithPipeline(run.PipelineName).Info("run recorded")
	case errors.Is(err, stores.ErrDuplicateRun):
		inst.tel.Metrics.RecordDuplicateRun(inst.backend)
		_ = inst.tel.Events.PublishRunDuplicate(run.RunID)
		inst.log.WithRunID(run.RunID).Warn("duplicate run rejected")
	}
	return err
}

// HasRun reports whether a run with the given ID is recorded.
func (inst *Instance) HasRun(ctx context.Context, runID string) (bool, error) {
	var ok bool
	err := inst.instrument(ctx, "has_run", func(ctx context.Context) error {
		var err error
		ok, err = inst.storage.HasRun(ctx, runID)
		return err
	})
	return ok, err
}

// GetRun fetches a run by ID, returning stores.ErrNotFound when absent.
func (inst *Instance) GetRun(ctx context.Context, runID string) (*stores.Run, error) {
	var run *stores.Run
	err := inst.instrument(ctx, "get_run", func(ctx context.Context) error {
		var err error
		run, err = inst.storage.GetRunByID(ctx, runID)
		return err
	})
	return run, err
}

// AllRuns returns every recorded run.
func (inst *Instance) AllRuns(ctx context.Context) ([]*stores.Run, error) {
	var runs []*stores.Run
	err := inst.instrument(ctx, "all_runs", func(ctx context.Context) error {
		var err error
		runs, err = inst.storage.AllRuns(ctx)
		return err
	})
	return runs, err
}

// AllRunsForPipeline returns every run recorded for the pipeline.
func (inst *Instance) AllRunsForPipeline(ctx context.Context, pipelineName string) ([]*stores.Run, error) {
	var runs []*stores.Run
	err := inst.instrument(ctx, "all_runs_for_pipeline", func(ctx context.Context) error {
		var err error
		runs, err = inst.storage.AllRunsForPipeline(ctx, pipelineName)
		return err
	})
	return runs, err
}

// AllRunsForTag returns every run carrying the exact tag pair.
func (inst *Instance) AllRunsForTag(ctx context.Context, key, value string) ([]*stores.Run, error) {
	var runs []*stores.Run
	err := inst.instrument(ctx, "all_runs_for_tag", func(ctx context.Context) error {
		var err error
		runs, err = inst.storage.AllRunsForTag(ctx, key, value)
		return err
	})
	return runs, err
}

// Wipe removes every recorded run.
func (inst *Instance) Wipe(ctx context.Context) error {
	err := inst.instrument(ctx, "wipe", func(ctx context.Context) error {
		return inst.storage.Wipe(ctx)
	})
	if err == nil {
		inst.tel.Metrics.RecordWipe(inst.backend)
		_ = inst.tel.Events.PublishStoreWiped()
		inst.log.Info("store wiped")
	}
	return err
}

// Close tears down the instance: the storage backend is closed and pending
// telemetry is flushed.
func (inst *Instance) Close(ctx context.Context) error {
	storageErr := inst.storage.Close()
	telErr := inst.tel.Shutdown(ctx)
	if storageErr != nil {
		return fmt.Errorf("failed to close storage: %w", storageErr)
	}
	return telErr
}

// instrument wraps one storage call with a span, a duration observation, and
// failure accounting. Expected outcomes (duplicate, not found) are not
// counted as store errors.
func (inst *Instance) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	op := telemetry.StartOperation(inst.tel.WithContext(ctx), "storage."+operation,
		telemetry.AttrOperation.String(operation),
		telemetry.AttrBackend.String(inst.backend),
	)

	err := fn(op.Ctx)
	inst.tel.Metrics.ObserveOperation(operation, inst.backend, op.Timer.Duration())

	if err != nil && !errors.Is(err, stores.ErrDuplicateRun) && !errors.Is(err, stores.ErrNotFound) {
		inst.tel.Metrics.RecordStoreError(operation, inst.backend)
		_ = inst.tel.Events.PublishStoreError(operation, err)
		op.Logger.WithBackend(inst.backend).WithError(err).Errorf("storage operation %s failed", operation)
	}
	op.End(err)
	return err
}
