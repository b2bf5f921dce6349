package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

// storageFactory builds a fresh backend for each conformance test so the
// same properties are checked against every implementation.
type storageFactory struct {
	name   string
	create func(t *testing.T) RunStorage
}

func storageFactories() []storageFactory {
	return []storageFactory{
		{
			name: "memory",
			create: func(t *testing.T) RunStorage {
				t.Helper()
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			create: func(t *testing.T) RunStorage {
				t.Helper()
				store, err := FromLocal(context.Background(), t.TempDir())
				if err != nil {
					t.Fatalf("failed to create sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = store.Close() })
				return store
			},
		},
	}
}

// buildRun constructs a run the way a pipeline launcher would: defaults
// applied, selector targeting the pipeline itself.
func buildRun(runID, pipelineName string, tags map[string]string) *Run {
	run := NewRun(runID, pipelineName)
	run.Selector = json.RawMessage(fmt.Sprintf(`{"name":%q}`, pipelineName))
	run.Tags = tags
	return run
}

func TestBasicStorage(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			runID := uuid.New().String()
			if err := storage.AddRun(ctx, buildRun(runID, "some_pipeline", nil)); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}

			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 1 {
				t.Fatalf("expected 1 run, got %d", len(runs))
			}
			if runs[0].RunID != runID {
				t.Errorf("expected run ID %s, got %s", runID, runs[0].RunID)
			}
			if runs[0].PipelineName != "some_pipeline" {
				t.Errorf("expected pipeline some_pipeline, got %s", runs[0].PipelineName)
			}

			ok, err := storage.HasRun(ctx, runID)
			if err != nil {
				t.Fatalf("failed to check run: %v", err)
			}
			if !ok {
				t.Error("expected HasRun to report true")
			}

			fetched, err := storage.GetRunByID(ctx, runID)
			if err != nil {
				t.Fatalf("failed to get run: %v", err)
			}
			if fetched.RunID != runID {
				t.Errorf("expected run ID %s, got %s", runID, fetched.RunID)
			}
			if fetched.PipelineName != "some_pipeline" {
				t.Errorf("expected pipeline some_pipeline, got %s", fetched.PipelineName)
			}
		})
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			runID := uuid.New().String()
			original := buildRun(runID, "some_pipeline", map[string]string{"mytag": "hello"})
			if err := storage.AddRun(ctx, original); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}

			conflicting := buildRun(runID, "some_other_pipeline", nil)
			err := storage.AddRun(ctx, conflicting)
			if !errors.Is(err, ErrDuplicateRun) {
				t.Fatalf("expected ErrDuplicateRun, got %v", err)
			}

			// The failed insert must leave the store unchanged.
			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 1 {
				t.Fatalf("expected 1 run after rejected insert, got %d", len(runs))
			}
			if runs[0].PipelineName != "some_pipeline" {
				t.Errorf("stored run was modified by rejected insert: %s", runs[0].PipelineName)
			}
		})
	}
}

func TestMissingRun(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			ok, err := storage.HasRun(ctx, "no-such-run")
			if err != nil {
				t.Fatalf("HasRun must not fail for a missing id: %v", err)
			}
			if ok {
				t.Error("expected HasRun to report false")
			}

			if _, err := storage.GetRunByID(ctx, "no-such-run"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestWipe(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			// Wipe on an empty store is safe.
			if err := storage.Wipe(ctx); err != nil {
				t.Fatalf("failed to wipe empty store: %v", err)
			}

			runID := uuid.New().String()
			if err := storage.AddRun(ctx, buildRun(runID, "some_pipeline", map[string]string{"mytag": "hello"})); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}

			if err := storage.Wipe(ctx); err != nil {
				t.Fatalf("failed to wipe store: %v", err)
			}

			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 0 {
				t.Errorf("expected 0 runs after wipe, got %d", len(runs))
			}

			tagged, err := storage.AllRunsForTag(ctx, "mytag", "hello")
			if err != nil {
				t.Fatalf("failed to filter by tag: %v", err)
			}
			if len(tagged) != 0 {
				t.Errorf("expected 0 tagged runs after wipe, got %d", len(tagged))
			}

			// Wipe is idempotent.
			if err := storage.Wipe(ctx); err != nil {
				t.Fatalf("failed to wipe store twice: %v", err)
			}
		})
	}
}

func TestFetchByPipeline(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			one := uuid.New().String()
			two := uuid.New().String()
			if err := storage.AddRun(ctx, buildRun(one, "some_pipeline", nil)); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}
			if err := storage.AddRun(ctx, buildRun(two, "some_other_pipeline", nil)); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}

			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 2 {
				t.Fatalf("expected 2 runs, got %d", len(runs))
			}

			someRuns, err := storage.AllRunsForPipeline(ctx, "some_pipeline")
			if err != nil {
				t.Fatalf("failed to filter by pipeline: %v", err)
			}
			if len(someRuns) != 1 {
				t.Fatalf("expected 1 run for some_pipeline, got %d", len(someRuns))
			}
			if someRuns[0].RunID != one {
				t.Errorf("expected run %s, got %s", one, someRuns[0].RunID)
			}

			none, err := storage.AllRunsForPipeline(ctx, "unknown_pipeline")
			if err != nil {
				t.Fatalf("pipeline filter must not fail on no match: %v", err)
			}
			if len(none) != 0 {
				t.Errorf("expected empty result for unknown pipeline, got %d", len(none))
			}
		})
	}
}

func TestFetchByTag(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			one := uuid.New().String()
			two := uuid.New().String()
			three := uuid.New().String()
			if err := storage.AddRun(ctx, buildRun(one, "some_pipeline", map[string]string{"mytag": "hello"})); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}
			if err := storage.AddRun(ctx, buildRun(two, "some_pipeline", map[string]string{"mytag": "goodbye"})); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}
			if err := storage.AddRun(ctx, buildRun(three, "some_pipeline", nil)); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}

			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("expected 3 runs, got %d", len(runs))
			}

			someRuns, err := storage.AllRunsForTag(ctx, "mytag", "hello")
			if err != nil {
				t.Fatalf("failed to filter by tag: %v", err)
			}
			if len(someRuns) != 1 {
				t.Fatalf("expected 1 run for mytag=hello, got %d", len(someRuns))
			}
			if someRuns[0].RunID != one {
				t.Errorf("expected run %s, got %s", one, someRuns[0].RunID)
			}

			// Key must match as well as value.
			none, err := storage.AllRunsForTag(ctx, "othertag", "hello")
			if err != nil {
				t.Fatalf("tag filter must not fail on no match: %v", err)
			}
			if len(none) != 0 {
				t.Errorf("expected empty result for unknown tag key, got %d", len(none))
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, factory := range storageFactories() {
		t.Run(factory.name, func(t *testing.T) {
			storage := factory.create(t)
			ctx := context.Background()

			full := &Run{
				RunID:             uuid.New().String(),
				PipelineName:      "some_pipeline",
				Mode:              "sampling",
				Selector:          json.RawMessage(`{"name":"some_pipeline","solid_subset":["load","transform"]}`),
				EnvironmentConfig: json.RawMessage(`{"resources":{"io":{"config":{"bucket":"scratch"}}}}`),
				StepKeysToExecute: []string{"load.compute", "transform.compute"},
				Tags:              map[string]string{"team": "data", "priority": "high"},
				Status:            RunStatusNotStarted,
			}
			sparse := NewRun(uuid.New().String(), "some_other_pipeline")

			for _, original := range []*Run{full, sparse} {
				if err := storage.AddRun(ctx, original); err != nil {
					t.Fatalf("failed to add run: %v", err)
				}

				fetched, err := storage.GetRunByID(ctx, original.RunID)
				if err != nil {
					t.Fatalf("failed to get run: %v", err)
				}
				if !reflect.DeepEqual(original, fetched) {
					t.Errorf("round trip mismatch:\n  stored:  %+v\n  fetched: %+v", original, fetched)
				}
			}
		})
	}
}

// TestEmptyCollectionsNormalized stores a run whose optional collections are
// present but empty and checks every backend hands back the absent form, so
// the same record reads identically no matter which backend held it.
func TestEmptyCollectionsNormalized(t *testing.T) {
	factories := storageFactories()
	backends := make([]RunStorage, len(factories))
	for i, factory := range factories {
		backends[i] = factory.create(t)
	}
	ctx := context.Background()

	runID := uuid.New().String()
	fetched := make([]*Run, len(backends))
	for i, storage := range backends {
		run := NewRun(runID, "some_pipeline")
		run.StepKeysToExecute = []string{}
		run.Tags = map[string]string{}
		run.Selector = json.RawMessage{}
		run.EnvironmentConfig = json.RawMessage{}
		if err := storage.AddRun(ctx, run); err != nil {
			t.Fatalf("failed to add run on %s: %v", factories[i].name, err)
		}

		got, err := storage.GetRunByID(ctx, runID)
		if err != nil {
			t.Fatalf("failed to get run on %s: %v", factories[i].name, err)
		}
		if got.StepKeysToExecute != nil {
			t.Errorf("%s: expected nil step keys, got %#v", factories[i].name, got.StepKeysToExecute)
		}
		if got.Tags != nil {
			t.Errorf("%s: expected nil tags, got %#v", factories[i].name, got.Tags)
		}
		if got.Selector != nil {
			t.Errorf("%s: expected nil selector, got %#v", factories[i].name, got.Selector)
		}
		if got.EnvironmentConfig != nil {
			t.Errorf("%s: expected nil environment config, got %#v", factories[i].name, got.EnvironmentConfig)
		}
		fetched[i] = got
	}

	for i := 1; i < len(fetched); i++ {
		if !reflect.DeepEqual(fetched[0], fetched[i]) {
			t.Errorf("backends %s and %s disagree:\n  %+v\n  %+v",
				factories[0].name, factories[i].name, fetched[0], fetched[i])
		}
	}
}

// TestBackendEquivalence drives both backends through the same operation
// sequence and checks they report identical contents at every step.
func TestBackendEquivalence(t *testing.T) {
	factories := storageFactories()
	backends := make([]RunStorage, len(factories))
	for i, factory := range factories {
		backends[i] = factory.create(t)
	}
	ctx := context.Background()

	runIDs := []string{uuid.New().String(), uuid.New().String(), uuid.New().String()}
	tags := []map[string]string{
		{"mytag": "hello"},
		{"mytag": "goodbye"},
		nil,
	}

	for i, runID := range runIDs {
		for _, storage := range backends {
			if err := storage.AddRun(ctx, buildRun(runID, "some_pipeline", tags[i])); err != nil {
				t.Fatalf("failed to add run: %v", err)
			}
		}
	}

	snapshots := make([][]*Run, len(backends))
	for i, storage := range backends {
		runs, err := storage.AllRuns(ctx)
		if err != nil {
			t.Fatalf("failed to list runs on %s: %v", factories[i].name, err)
		}
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs on %s, got %d", factories[i].name, len(runs))
		}
		snapshots[i] = runs
	}

	for i := 1; i < len(snapshots); i++ {
		if !equalRunSets(snapshots[0], snapshots[i]) {
			t.Errorf("backends %s and %s disagree:\n  %+v\n  %+v",
				factories[0].name, factories[i].name, snapshots[0], snapshots[i])
		}
	}

	for i, storage := range backends {
		if err := storage.Wipe(ctx); err != nil {
			t.Fatalf("failed to wipe %s: %v", factories[i].name, err)
		}
		runs, err := storage.AllRuns(ctx)
		if err != nil {
			t.Fatalf("failed to list runs on %s: %v", factories[i].name, err)
		}
		if len(runs) != 0 {
			t.Errorf("expected 0 runs on %s after wipe, got %d", factories[i].name, len(runs))
		}
	}
}

// equalRunSets compares two result sets ignoring order.
func equalRunSets(a, b []*Run) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]*Run, len(a))
	for _, run := range a {
		byID[run.RunID] = run
	}
	for _, run := range b {
		other, ok := byID[run.RunID]
		if !ok || !reflect.DeepEqual(run, other) {
			return false
		}
	}
	return true
}
