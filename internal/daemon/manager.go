package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"morsel/internal/config"
	"morsel/internal/logging"
	"morsel/internal/pipeline"
	"morsel/internal/store"
)

// Processor runs one batch job to completion.
type Processor interface {
	ProcessBatch(ctx context.Context, job *store.BatchJob) (pipeline.Result, error)
}

// JobManager drains the batch queue one job at a time.
type JobManager struct {
	store     *store.Store
	processor Processor
	logger    *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	heartbeat          *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobManager wires a manager from daemon configuration.
func NewJobManager(cfg *config.Config, st *store.Store, processor Processor, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "jobs")
	return &JobManager{
		store:              st,
		processor:          processor,
		logger:             logger,
		pollInterval:       secondsOrDefault(cfg.Workflow.JobPollInterval, 5),
		errorRetryInterval: secondsOrDefault(cfg.Workflow.ErrorRetryInterval, 10),
		heartbeat: NewHeartbeatMonitor(
			st,
			logger,
			secondsOrDefault(cfg.Workflow.HeartbeatInterval, 30),
			secondsOrDefault(cfg.Workflow.HeartbeatTimeout, 300),
		),
	}
}

func secondsOrDefault(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// Start begins background processing.
func (m *JobManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("job manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for the loop to exit.
func (m *JobManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *JobManager) run(ctx context.Context) {
	defer m.wg.Done()

	if err := m.heartbeat.ReclaimStaleJobs(ctx); err != nil {
		m.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.NextPending(ctx)
		if err != nil {
			m.logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			if !sleepCtx(ctx, m.errorRetryInterval) {
				return
			}
			continue
		}
		if job == nil {
			if err := m.heartbeat.ReclaimStaleJobs(ctx); err != nil {
				m.logger.Warn("reclaim stale jobs failed", logging.Error(err))
			}
			if !sleepCtx(ctx, m.pollInterval) {
				return
			}
			continue
		}

		if err := m.processJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

// processJob drives one job through processing. Cancellation leaves the job
// in processing for the stale reclaimer to reset on the next start.
func (m *JobManager) processJob(ctx context.Context, job *store.BatchJob) error {
	jobLogger := m.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldBatchID, job.BatchID),
		logging.String(logging.FieldScope, job.Scope),
		logging.String("collection_type", string(job.CollectionType)),
	)

	if err := m.store.MarkProcessing(ctx, job.ID); err != nil {
		jobLogger.Error("failed to mark job processing", logging.Error(err))
		return err
	}
	jobLogger.Info("batch started",
		logging.Int("batch_number", job.BatchNumber),
		logging.Int("total_batches", job.TotalBatches),
	)

	result, err := m.executeWithHeartbeat(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			jobLogger.Debug("batch interrupted by shutdown")
			return err
		}
		jobLogger.Error("batch rejected", logging.Error(err))
		if markErr := m.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			jobLogger.Error("failed to persist job failure", logging.Error(markErr))
		}
		return err
	}

	if !result.Success {
		jobLogger.Warn("batch failed", logging.String("reason", result.Error))
		if markErr := m.store.MarkFailed(ctx, job.ID, result.Error); markErr != nil {
			jobLogger.Error("failed to persist job failure", logging.Error(markErr))
		}
		return nil
	}

	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		jobLogger.Error("failed to encode batch result", logging.Error(marshalErr))
		resultJSON = []byte("{}")
	}
	if err := m.store.MarkCompleted(ctx, job.ID, string(resultJSON)); err != nil {
		jobLogger.Error("failed to persist job completion", logging.Error(err))
		return err
	}
	jobLogger.Info("batch finished",
		logging.Int("posts", result.PostsFetched),
		logging.Int("mentions", result.MentionsPersisted),
		logging.Duration("duration", result.Duration),
	)
	m.logParentSettled(ctx, jobLogger, job)
	return nil
}

// logParentSettled marks the moment a multi-batch parent job has no batches
// left in flight.
func (m *JobManager) logParentSettled(ctx context.Context, jobLogger *slog.Logger, job *store.BatchJob) {
	if job.TotalBatches <= 1 {
		return
	}
	done, err := m.store.SiblingsCompleted(ctx, job.ParentJobID, job.ID)
	if err != nil {
		jobLogger.Warn("failed to check sibling batches", logging.Error(err))
		return
	}
	if done {
		jobLogger.Info("parent job settled",
			logging.String("parent_job_id", job.ParentJobID),
			logging.Int("total_batches", job.TotalBatches),
		)
	}
}

func (m *JobManager) executeWithHeartbeat(ctx context.Context, job *store.BatchJob) (pipeline.Result, error) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	result, err := m.processor.ProcessBatch(ctx, job)
	hbCancel()
	hbWG.Wait()
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
