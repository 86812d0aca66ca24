package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"morsel/internal/config"
	"morsel/internal/pipeline"
	"morsel/internal/store"
	"morsel/internal/testsupport"
)

type stubProcessor struct {
	calls  atomic.Int64
	result pipeline.Result
	err    error
}

func (s *stubProcessor) ProcessBatch(_ context.Context, job *store.BatchJob) (pipeline.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return pipeline.Result{}, s.err
	}
	result := s.result
	result.BatchID = job.BatchID
	return result, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t)
}

func openTestStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, cfg)
}

func enqueueJob(t *testing.T, st *store.Store) *store.BatchJob {
	t.Helper()
	return testsupport.NewJob(t, st, "austinfood", "p1")
}

func waitForStatus(t *testing.T, st *store.Store, id int64, want store.JobStatus) *store.BatchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached status %s", id, want)
	return nil
}

func fastManager(cfg *config.Config, st *store.Store, processor Processor) *JobManager {
	manager := NewJobManager(cfg, st, processor, nil)
	manager.pollInterval = 10 * time.Millisecond
	manager.errorRetryInterval = 10 * time.Millisecond
	return manager
}

func TestJobManagerCompletesJob(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	job := enqueueJob(t, st)

	processor := &stubProcessor{result: pipeline.Result{Success: true, PostsFetched: 1}}
	manager := fastManager(cfg, st, processor)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	done := waitForStatus(t, st, job.ID, store.StatusCompleted)
	if done.ResultJSON == "" {
		t.Fatal("completed job missing result payload")
	}
	if processor.calls.Load() != 1 {
		t.Fatalf("expected one processing call, got %d", processor.calls.Load())
	}
}

func TestJobManagerMarksFailedOnBatchFailure(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	job := enqueueJob(t, st)

	processor := &stubProcessor{result: pipeline.Result{Success: false, Error: "no posts could be resolved"}}
	manager := fastManager(cfg, st, processor)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	failed := waitForStatus(t, st, job.ID, store.StatusFailed)
	if failed.ErrorMessage != "no posts could be resolved" {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
}

func TestJobManagerMarksFailedOnRejectedJob(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	job := enqueueJob(t, st)

	processor := &stubProcessor{err: errors.New("unknown collection type")}
	manager := fastManager(cfg, st, processor)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()

	failed := waitForStatus(t, st, job.ID, store.StatusFailed)
	if failed.ErrorMessage == "" {
		t.Fatal("rejected job should record an error message")
	}
}

func TestJobManagerRejectsDoubleStart(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	manager := fastManager(cfg, st, &stubProcessor{result: pipeline.Result{Success: true}})
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	defer manager.Stop()
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("second start should fail while running")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	processor := &stubProcessor{result: pipeline.Result{Success: true}}

	first, err := New(cfg, st, nil, fastManager(cfg, st, processor))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	defer first.Stop()

	second, err := New(cfg, st, nil, fastManager(cfg, st, processor))
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon should fail to acquire the lock")
	}
}

func TestDaemonStatusReportsJobCounts(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	enqueueJob(t, st)

	d, err := New(cfg, st, nil, fastManager(cfg, st, &stubProcessor{result: pipeline.Result{Success: true}}))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should not report running before start")
	}
	if status.Jobs[store.StatusPending] != 1 {
		t.Fatalf("expected one pending job, got %+v", status.Jobs)
	}
}
