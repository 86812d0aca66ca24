// Package coordinator dispatches chunks to the extraction backend under a
// bounded worker pool with settle-all semantics: one chunk's failure never
// aborts the batch.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"morsel/internal/chunker"
	"morsel/internal/extraction"
	"morsel/internal/logging"
	"morsel/internal/services"
)

const (
	defaultWorkers = 16
	// Workers pick ids round-robin from this fixed slot space so the
	// backend can reserve per-worker time slots deterministically.
	workerSlots          = 32
	defaultGatePoll      = 500 * time.Millisecond
	defaultEngagedBar    = 25
	maxThrottleExtension = 5 * time.Minute
)

// Backend is the extraction service a coordinator dispatches to.
type Backend interface {
	Extract(ctx context.Context, chunk chunker.Chunk, workerID string) (extraction.Result, error)
}

// Config tunes the worker pool.
type Config struct {
	Workers      int
	EngagedScore int
	GatePoll     time.Duration
}

// ChunkFailure records one chunk that did not produce usable output.
type ChunkFailure struct {
	ChunkID string
	PostID  string
	Err     error
}

// Metrics aggregates one dispatch run.
type Metrics struct {
	ChunkCount  int
	Successes   int
	Failures    int
	SuccessRate float64
	Engaged     int
	Duration    time.Duration
	Average     time.Duration
	Fastest     time.Duration
	Slowest     time.Duration
}

// Outcome is the consolidated result of dispatching a batch of chunks.
type Outcome struct {
	Mentions []extraction.Mention
	Failures []ChunkFailure
	Metrics  Metrics
}

// Coordinator runs chunk extraction over a bounded worker pool.
type Coordinator struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	slot    atomic.Uint64
}

// New returns a coordinator over the given backend.
func New(backend Backend, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.EngagedScore <= 0 {
		cfg.EngagedScore = defaultEngagedBar
	}
	if cfg.GatePoll <= 0 {
		cfg.GatePoll = defaultGatePoll
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		backend: backend,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "coordinator"),
	}
}

// Process dispatches every chunk and waits for all of them to settle.
// Per-chunk failures ride in the outcome; the returned error is non-nil
// only for context cancellation or a batch-fatal chunk error.
func (c *Coordinator) Process(ctx context.Context, chunks []chunker.Chunk, metas []chunker.Metadata) (Outcome, error) {
	var outcome Outcome
	outcome.Metrics.ChunkCount = len(chunks)
	if len(chunks) == 0 {
		return outcome, nil
	}

	metaByChunk := make(map[string]chunker.Metadata, len(metas))
	for _, meta := range metas {
		metaByChunk[meta.ChunkID] = meta
		if meta.MaxRootScore > c.cfg.EngagedScore {
			outcome.Metrics.Engaged++
		}
	}

	gate := &throttleGate{}
	start := time.Now()

	var mu sync.Mutex
	var durations []time.Duration

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.Workers)
	for i := range chunks {
		chunk := chunks[i]
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			workerID := c.nextWorkerID()
			if err := gate.wait(groupCtx, c.cfg.GatePoll, c.logger, workerID); err != nil {
				mu.Lock()
				outcome.Failures = append(outcome.Failures, ChunkFailure{ChunkID: chunk.ID, PostID: chunk.PostID, Err: err})
				mu.Unlock()
				return nil
			}

			began := time.Now()
			chunkCtx := services.WithRequestID(groupCtx, uuid.NewString())
			result, err := c.backend.Extract(chunkCtx, chunk, workerID)
			elapsed := time.Since(began)

			if err == nil {
				err = vitalFields(result.Mentions)
			}
			if result.Throttle > 0 {
				gate.extend(result.Throttle)
				c.logger.Warn("backend requested backoff",
					logging.String(logging.FieldChunkID, chunk.ID),
					logging.Duration("backoff", result.Throttle),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			durations = append(durations, elapsed)
			if err != nil {
				outcome.Failures = append(outcome.Failures, ChunkFailure{ChunkID: chunk.ID, PostID: chunk.PostID, Err: err})
				c.logger.Warn("chunk extraction failed",
					logging.String(logging.FieldChunkID, chunk.ID),
					logging.String(logging.FieldPostID, chunk.PostID),
					logging.Error(err),
				)
				// Configuration problems hit every chunk the same way;
				// stop the dispatch instead of burning the batch.
				if services.IsBatchFatal(err) {
					return err
				}
				return nil
			}
			for j := range result.Mentions {
				result.Mentions[j].PostID = chunk.PostID
			}
			outcome.Mentions = append(outcome.Mentions, result.Mentions...)
			outcome.Metrics.Successes++
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return outcome, err
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	outcome.Metrics.Failures = len(outcome.Failures)
	outcome.Metrics.Duration = time.Since(start)
	outcome.Metrics.SuccessRate = float64(outcome.Metrics.Successes) / float64(outcome.Metrics.ChunkCount)
	for _, d := range durations {
		outcome.Metrics.Average += d
		if outcome.Metrics.Fastest == 0 || d < outcome.Metrics.Fastest {
			outcome.Metrics.Fastest = d
		}
		if d > outcome.Metrics.Slowest {
			outcome.Metrics.Slowest = d
		}
	}
	if len(durations) > 0 {
		outcome.Metrics.Average /= time.Duration(len(durations))
	}

	c.logger.Info("dispatch settled",
		logging.Int("chunks", outcome.Metrics.ChunkCount),
		logging.Int("successes", outcome.Metrics.Successes),
		logging.Int("failures", outcome.Metrics.Failures),
		logging.Duration("duration", outcome.Metrics.Duration),
	)
	return outcome, nil
}

func (c *Coordinator) nextWorkerID() string {
	slot := (c.slot.Add(1) - 1) % workerSlots
	return fmt.Sprintf("w%02d", slot)
}

// vitalFields demotes a successful extraction to a failure when any mention
// lacks the fields the aggregate output depends on. Typed backends enforce
// this already; the check guards alternative Backend implementations too.
func vitalFields(mentions []extraction.Mention) error {
	for i, mention := range mentions {
		if strings.TrimSpace(mention.SourceID) == "" {
			return fmt.Errorf("mention %d: missing source_id", i)
		}
		if strings.TrimSpace(mention.TempID) == "" {
			return fmt.Errorf("mention %d: missing temp_id", i)
		}
	}
	return nil
}

// throttleGate is the shared backpressure deadline. Workers only ever
// extend it, never shorten it, so concurrent extensions cannot under-throttle.
type throttleGate struct {
	mu    sync.Mutex
	until time.Time
}

func (g *throttleGate) extend(backoff time.Duration) {
	if backoff <= 0 {
		return
	}
	if backoff > maxThrottleExtension {
		backoff = maxThrottleExtension
	}
	deadline := time.Now().Add(backoff)
	g.mu.Lock()
	if deadline.After(g.until) {
		g.until = deadline
	}
	g.mu.Unlock()
}

// wait blocks until the deadline has elapsed, polling in bounded increments
// so a deadline extended mid-wait is picked up. The stall is logged once,
// not per poll.
func (g *throttleGate) wait(ctx context.Context, poll time.Duration, logger *slog.Logger, workerID string) error {
	logged := false
	for {
		g.mu.Lock()
		until := g.until
		g.mu.Unlock()

		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}
		if !logged {
			logger.Info("waiting out backend backoff",
				logging.String(logging.FieldWorkerID, workerID),
				logging.Duration("remaining", remaining),
			)
			logged = true
		}
		sleep := remaining
		if sleep > poll {
			sleep = poll
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
