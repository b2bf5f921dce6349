package stores

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// TestMemoryStoreSnapshotIsolation verifies records are owned snapshots:
// mutating either the inserted value or a fetched value must not leak into
// the store.
func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	storage := NewMemoryStore()
	ctx := context.Background()

	run := buildRun("run-001", "some_pipeline", map[string]string{"mytag": "hello"})
	if err := storage.AddRun(ctx, run); err != nil {
		t.Fatalf("failed to add run: %v", err)
	}

	// Mutate the caller's copy after insert.
	run.PipelineName = "mutated"
	run.Tags["mytag"] = "mutated"

	fetched, err := storage.GetRunByID(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if fetched.PipelineName != "some_pipeline" {
		t.Errorf("insert leaked a reference: pipeline is %s", fetched.PipelineName)
	}
	if fetched.Tags["mytag"] != "hello" {
		t.Errorf("insert leaked tag map: mytag is %s", fetched.Tags["mytag"])
	}

	// Mutate a fetched copy.
	fetched.Tags["mytag"] = "mutated"
	fetched.StepKeysToExecute = append(fetched.StepKeysToExecute, "extra")

	again, err := storage.GetRunByID(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if again.Tags["mytag"] != "hello" {
		t.Errorf("read leaked tag map: mytag is %s", again.Tags["mytag"])
	}
	if len(again.StepKeysToExecute) != 0 {
		t.Errorf("read leaked step keys: %v", again.StepKeysToExecute)
	}
}

func TestMemoryStoreInsertionOrder(t *testing.T) {
	storage := NewMemoryStore()
	ctx := context.Background()

	ids := []string{"run-c", "run-a", "run-b"}
	for _, id := range ids {
		if err := storage.AddRun(ctx, buildRun(id, "some_pipeline", nil)); err != nil {
			t.Fatalf("failed to add run: %v", err)
		}
	}

	runs, err := storage.AllRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	for i, id := range ids {
		if runs[i].RunID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, runs[i].RunID)
		}
	}
}

func TestMemoryStoreRejectsInvalidRun(t *testing.T) {
	storage := NewMemoryStore()
	ctx := context.Background()

	if err := storage.AddRun(ctx, nil); err == nil {
		t.Error("expected error for nil run")
	}
	if err := storage.AddRun(ctx, &Run{PipelineName: "some_pipeline"}); err == nil {
		t.Error("expected error for missing run id")
	}
	if err := storage.AddRun(ctx, &Run{RunID: "run-001"}); err == nil {
		t.Error("expected error for missing pipeline name")
	}
	if err := storage.AddRun(ctx, &Run{RunID: "run-001", PipelineName: "p", Status: "bogus"}); err == nil {
		t.Error("expected error for unknown status")
	}

	runs, err := storage.AllRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("rejected inserts must not be stored, got %d runs", len(runs))
	}
}

// TestMemoryStoreConcurrentAccess hammers the store with concurrent writers,
// readers, and wipes. Correctness here is the absence of races and torn
// reads; every observed record must be fully formed.
func TestMemoryStoreConcurrentAccess(t *testing.T) {
	storage := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				runID := fmt.Sprintf("run-%d-%d", w, i)
				run := buildRun(runID, "some_pipeline", map[string]string{"worker": fmt.Sprint(w)})
				if err := storage.AddRun(ctx, run); err != nil {
					t.Errorf("failed to add run %s: %v", runID, err)
				}
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			runs, err := storage.AllRuns(ctx)
			if err != nil {
				t.Errorf("failed to list runs: %v", err)
				return
			}
			for _, run := range runs {
				if run.RunID == "" || run.PipelineName == "" {
					t.Errorf("observed a half-inserted record: %+v", run)
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if err := storage.Wipe(ctx); err != nil {
				t.Errorf("failed to wipe: %v", err)
				return
			}
		}
	}()

	wg.Wait()
}
