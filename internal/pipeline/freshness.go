package pipeline

import (
	"context"
	"log/slog"
	"time"

	"morsel/internal/logging"
	"morsel/internal/store"
)

// FreshnessConfig tunes the re-fetch gate.
type FreshnessConfig struct {
	LookbackDays   int
	ProbeSize      int
	MinUnseenProbe int
}

// activePipelines is the set of collection pipelines consulted in the
// ledger; content processed by any of them counts as seen.
var activePipelines = []string{
	string(store.CollectionLive),
	string(store.CollectionSearch),
	string(store.CollectionArchive),
	string(store.CollectionOnDemand),
}

// gateDecision is the per-candidate outcome of the gate.
type gateDecision struct {
	fetch        []string
	skippedFresh int
	skippedProbe int
	probeFails   int
}

// freshnessGate decides which candidate posts are worth re-fetching. A post
// never processed is fetched. One processed within the lookback window is
// skipped outright. Anything older is probed: a sample of its newest comment
// ids is checked against the ledger, and only enough unseen activity earns a
// fetch. A failed probe fails open.
func (o *Orchestrator) freshnessGate(ctx context.Context, scope string, postIDs []string) (gateDecision, error) {
	var decision gateDecision

	lastSeen, err := o.ledger.LastProcessed(ctx, activePipelines, postIDs)
	if err != nil {
		return decision, err
	}

	lookback := time.Duration(o.cfg.Freshness.LookbackDays) * 24 * time.Hour
	now := time.Now().UTC()

	for _, postID := range postIDs {
		processedAt, seen := lastSeen[postID]
		if !seen {
			decision.fetch = append(decision.fetch, postID)
			continue
		}
		if now.Sub(processedAt) < lookback {
			decision.skippedFresh++
			continue
		}

		unseen, err := o.probeUnseen(ctx, scope, postID)
		if err != nil {
			decision.probeFails++
			decision.fetch = append(decision.fetch, postID)
			o.logger.Warn("freshness probe failed, fetching anyway",
				logging.String(logging.FieldPostID, postID),
				logging.Error(err),
			)
			continue
		}
		if unseen >= o.cfg.Freshness.MinUnseenProbe {
			decision.fetch = append(decision.fetch, postID)
		} else {
			decision.skippedProbe++
		}
	}
	return decision, nil
}

// probeUnseen counts how many of the post's most recent comments the ledger
// has never recorded.
func (o *Orchestrator) probeUnseen(ctx context.Context, scope, postID string) (int, error) {
	ids, err := o.source.RecentCommentIDs(ctx, scope, postID, o.cfg.Freshness.ProbeSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	seen, err := o.ledger.LastProcessed(ctx, activePipelines, ids)
	if err != nil {
		return 0, err
	}
	unseen := 0
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			unseen++
		}
	}
	return unseen, nil
}

func logGateSummary(logger *slog.Logger, scope string, decision gateDecision, requested int) {
	logger.Info("freshness gate resolved",
		logging.String(logging.FieldScope, scope),
		logging.Int("requested", requested),
		logging.Int("to_fetch", len(decision.fetch)),
		logging.Int("skipped_fresh", decision.skippedFresh),
		logging.Int("skipped_probe", decision.skippedProbe),
		logging.Int("probe_failures", decision.probeFails),
	)
}
