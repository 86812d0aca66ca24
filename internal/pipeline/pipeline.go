// Package pipeline drives one batch end to end: resolve posts through the
// freshness gate, chunk, extract, enrich, normalize, and persist.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"morsel/internal/chunker"
	"morsel/internal/content"
	"morsel/internal/coordinator"
	"morsel/internal/extraction"
	"morsel/internal/logging"
	"morsel/internal/names"
	"morsel/internal/ranking"
	"morsel/internal/services"
	"morsel/internal/store"
)

const (
	rawSampleLimit        = 25
	rankingRefreshTimeout = 2 * time.Minute
)

// ContentSource fetches post trees and freshness probes.
type ContentSource interface {
	PostTree(ctx context.Context, scope, postID string) (*content.Post, []content.Comment, error)
	RecentCommentIDs(ctx context.Context, scope, postID string, limit int) ([]string, error)
}

// Ledger is the read/write surface of the source-processing ledger.
type Ledger interface {
	LastProcessed(ctx context.Context, pipelines, sourceIDs []string) (map[string]time.Time, error)
	RecordProcessed(ctx context.Context, pipeline string, sourceIDs []string, when time.Time) error
}

// Persistence receives the cleaned mention list.
type Persistence interface {
	SaveMentions(ctx context.Context, record store.BatchRecord, mentions []extraction.Mention) (store.PersistSummary, error)
}

// Dispatcher runs chunks through the extraction backend.
type Dispatcher interface {
	Process(ctx context.Context, chunks []chunker.Chunk, metas []chunker.Metadata) (coordinator.Outcome, error)
}

// Config tunes the orchestrator.
type Config struct {
	Freshness FreshnessConfig
}

// Orchestrator is the top-level batch driver.
type Orchestrator struct {
	source      ContentSource
	ledger      Ledger
	persistence Persistence
	dispatcher  Dispatcher
	splitter    *chunker.Chunker
	ranking     ranking.Service
	cfg         Config
	logger      *slog.Logger

	refreshWG sync.WaitGroup
}

// New wires an orchestrator from its collaborators.
func New(
	source ContentSource,
	ledger Ledger,
	persistence Persistence,
	dispatcher Dispatcher,
	splitter *chunker.Chunker,
	rankingSvc ranking.Service,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Freshness.LookbackDays <= 0 {
		cfg.Freshness.LookbackDays = 21
	}
	if cfg.Freshness.ProbeSize <= 0 {
		cfg.Freshness.ProbeSize = 5
	}
	if cfg.Freshness.MinUnseenProbe <= 0 {
		cfg.Freshness.MinUnseenProbe = 3
	}
	if rankingSvc == nil {
		rankingSvc = ranking.NewService(ranking.Config{}, nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		source:      source,
		ledger:      ledger,
		persistence: persistence,
		dispatcher:  dispatcher,
		splitter:    splitter,
		ranking:     rankingSvc,
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// ProcessBatch runs one job to completion. The returned error is reserved
// for malformed jobs and context cancellation; every expected failure mode
// comes back inside the Result.
func (o *Orchestrator) ProcessBatch(ctx context.Context, job *store.BatchJob) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	ctx = services.WithBatchID(ctx, job.BatchID)
	start := time.Now()

	result := Result{
		Success:        true,
		BatchID:        job.BatchID,
		CollectionType: job.CollectionType,
		Scope:          job.Scope,
		PostsRequested: len(job.PostIDs),
	}

	posts, err := o.resolvePosts(ctx, job, &result)
	if err != nil {
		return result, err
	}
	if !result.Success {
		result.Duration = time.Since(start)
		return result, nil
	}
	if len(posts) == 0 {
		// Everything gated out: a successful no-op carrying the skip counts.
		result.Duration = time.Since(start)
		o.logger.Info("batch gated to no-op",
			logging.String(logging.FieldBatchID, job.BatchID),
			logging.Int("skipped_fresh", result.PostsSkippedFresh),
			logging.Int("skipped_probe", result.PostsSkippedProbe),
		)
		return result, nil
	}
	result.PostsFetched = len(posts)
	result.SourceBreakdown = map[store.CollectionType]int{job.CollectionType: len(posts)}
	result.EarliestPost, result.LatestPost = temporalRange(posts)

	chunks, metas := o.splitter.Split(posts)
	if report := chunker.Validate(posts, chunks, metas); !report.OK() {
		for _, issue := range report.Issues {
			o.logger.Warn("chunk validation issue", logging.String("issue", issue))
		}
	}

	outcome, err := o.dispatcher.Process(ctx, chunks, metas)
	if err != nil {
		return result, err
	}
	result.ChunkMetrics = outcome.Metrics
	result.MentionsExtracted = len(outcome.Mentions)
	for _, failure := range outcome.Failures {
		result.ChunkFailures = append(result.ChunkFailures, fmt.Sprintf("%s: %v", failure.ChunkID, failure.Err))
	}

	mentions := outcome.Mentions
	if job.Options.KeepRawSample {
		result.RawSample = rawSample(mentions)
	}

	tables := buildEnrichmentTables(posts)
	tables.enrich(mentions)
	mentions = normalizeByPost(mentions)
	result.MentionsPersisted = len(mentions)

	record := store.BatchRecord{
		BatchID:         job.BatchID,
		CollectionType:  job.CollectionType,
		Scope:           job.Scope,
		SourceBreakdown: result.SourceBreakdown,
		EarliestPost:    result.EarliestPost,
		LatestPost:      result.LatestPost,
	}
	summary, err := o.persistence.SaveMentions(ctx, record, mentions)
	if err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("persist mentions: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Persist = summary

	o.recordLedger(ctx, job, posts)

	if job.IsFinalBatch() && wantsRankingRefresh(job.CollectionType) {
		o.triggerRankingRefresh(job.Scope, summary.CreatedEntityIDs)
	}

	result.Duration = time.Since(start)
	o.logger.Info("batch completed",
		logging.String(logging.FieldBatchID, job.BatchID),
		logging.Int("posts", result.PostsFetched),
		logging.Int("mentions", result.MentionsPersisted),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// resolvePosts yields the posts this batch will process. Pre-built posts
// are used as-is; otherwise candidates run through the freshness gate and
// surviving ids are fetched with per-item error isolation.
func (o *Orchestrator) resolvePosts(ctx context.Context, job *store.BatchJob, result *Result) ([]content.Post, error) {
	if len(job.Posts) > 0 {
		posts := job.Posts
		result.PostsRequested = len(posts)
		return posts, nil
	}

	candidates := job.PostIDs
	if !job.Options.SkipFreshnessGate {
		decision, err := o.freshnessGate(ctx, job.Scope, job.PostIDs)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("freshness gate: %v", err)
			return nil, nil
		}
		logGateSummary(o.logger, job.Scope, decision, len(job.PostIDs))
		result.PostsSkippedFresh = decision.skippedFresh
		result.PostsSkippedProbe = decision.skippedProbe
		result.ProbeFailures = decision.probeFails
		candidates = decision.fetch
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	posts := make([]content.Post, 0, len(candidates))
	for _, postID := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		post, _, err := o.source.PostTree(ctx, job.Scope, postID)
		if err != nil {
			// A deleted post is a permanent miss, not a batch problem.
			if services.IsNotFound(err) {
				o.logger.Info("post no longer exists", logging.String(logging.FieldPostID, postID))
				continue
			}
			result.FetchFailures++
			o.logger.Warn("post fetch failed",
				logging.String(logging.FieldPostID, postID),
				logging.Error(err),
			)
			continue
		}
		if post == nil {
			continue
		}
		posts = append(posts, *post)
	}

	if len(posts) == 0 && result.FetchFailures > 0 {
		result.Success = false
		result.Error = "no posts could be resolved"
	}
	return posts, nil
}

// recordLedger stamps every processed post and comment id. Ledger failures
// are logged, not fatal: the worst case is re-fetching content next time.
func (o *Orchestrator) recordLedger(ctx context.Context, job *store.BatchJob, posts []content.Post) {
	ids := make([]string, 0, len(posts)*8)
	for i := range posts {
		ids = append(ids, posts[i].ID)
		for _, comment := range posts[i].Comments {
			ids = append(ids, comment.ID)
		}
	}
	if err := o.ledger.RecordProcessed(ctx, string(job.CollectionType), ids, time.Now().UTC()); err != nil {
		o.logger.Warn("ledger update failed", logging.Error(err))
	}
}

// triggerRankingRefresh hands the refresh to its own goroutine with an
// isolated error channel; a failure is logged and structurally incapable of
// failing the batch.
func (o *Orchestrator) triggerRankingRefresh(scope string, entityIDs []string) {
	errs := make(chan error, 1)
	o.refreshWG.Add(2)
	go func() {
		defer o.refreshWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), rankingRefreshTimeout)
		defer cancel()
		errs <- o.ranking.RefreshScope(ctx, scope, entityIDs)
	}()
	go func() {
		defer o.refreshWG.Done()
		if err := <-errs; err != nil {
			o.logger.Warn("ranking refresh failed",
				logging.String(logging.FieldScope, scope),
				logging.Error(err),
			)
		}
	}()
}

// WaitFollowUps blocks until in-flight best-effort follow-ups settle. The
// daemon calls this on shutdown.
func (o *Orchestrator) WaitFollowUps() {
	o.refreshWG.Wait()
}

func wantsRankingRefresh(collectionType store.CollectionType) bool {
	switch collectionType {
	case store.CollectionArchive, store.CollectionSearch:
		return true
	}
	return false
}

// normalizeByPost runs the name-normalization and dedup passes per post.
func normalizeByPost(mentions []extraction.Mention) []extraction.Mention {
	byPost := make(map[string][]extraction.Mention)
	order := make([]string, 0)
	for _, mention := range mentions {
		if _, seen := byPost[mention.PostID]; !seen {
			order = append(order, mention.PostID)
		}
		byPost[mention.PostID] = append(byPost[mention.PostID], mention)
	}

	cleaned := make([]extraction.Mention, 0, len(mentions))
	for _, postID := range order {
		group := byPost[postID]
		names.Normalize(group)
		group = names.DropSelfReferential(group)
		cleaned = append(cleaned, group...)
	}
	return cleaned
}

func temporalRange(posts []content.Post) (time.Time, time.Time) {
	var earliest, latest time.Time
	for i := range posts {
		created := posts[i].CreatedAt
		if created.IsZero() {
			continue
		}
		if earliest.IsZero() || created.Before(earliest) {
			earliest = created
		}
		if latest.IsZero() || created.After(latest) {
			latest = created
		}
	}
	return earliest, latest
}

func rawSample(mentions []extraction.Mention) []extraction.Mention {
	if len(mentions) <= rawSampleLimit {
		sample := make([]extraction.Mention, len(mentions))
		copy(sample, mentions)
		return sample
	}
	sample := make([]extraction.Mention, rawSampleLimit)
	copy(sample, mentions[:rawSampleLimit])
	return sample
}
