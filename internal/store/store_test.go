package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"morsel/internal/content"
	"morsel/internal/extraction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenPath(filepath.Join(t.TempDir(), "morsel.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueAndNextPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, &BatchJob{
		CollectionType: CollectionLive,
		Scope:          "austinfood",
		PostIDs:        []string{"p1", "p2"},
		Options:        Options{SkipFreshnessGate: true},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.BatchID == "" || job.ParentJobID != job.BatchID {
		t.Fatalf("expected generated ids, got %+v", job)
	}
	if job.Status != StatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}

	next, err := s.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next == nil || next.ID != job.ID {
		t.Fatalf("expected queued job back, got %+v", next)
	}
	if len(next.PostIDs) != 2 || next.PostIDs[0] != "p1" {
		t.Fatalf("post ids did not round-trip: %v", next.PostIDs)
	}
	if !next.Options.SkipFreshnessGate {
		t.Fatal("options did not round-trip")
	}
}

func TestEnqueuePrebuiltPosts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	posts := []content.Post{{
		ID:        "p1",
		Title:     "archived",
		Scope:     "austinfood",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Comments:  []content.Comment{{ID: "c1", Body: "still here", Score: 4}},
	}}
	job, err := s.Enqueue(ctx, &BatchJob{
		CollectionType: CollectionArchive,
		Scope:          "austinfood",
		Posts:          posts,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if len(got.Posts) != 1 || len(got.Posts[0].Comments) != 1 {
		t.Fatalf("pre-built posts did not round-trip: %+v", got.Posts)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, &BatchJob{CollectionType: "bogus", Scope: "x", PostIDs: []string{"p"}}); err == nil {
		t.Fatal("expected rejection of unknown collection type")
	}
	if _, err := s.Enqueue(ctx, &BatchJob{CollectionType: CollectionLive, Scope: "x"}); err == nil {
		t.Fatal("expected rejection of job without posts")
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.Enqueue(ctx, &BatchJob{CollectionType: CollectionOnDemand, Scope: "x", PostIDs: []string{"p1"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != StatusProcessing || got.LastHeartbeat == nil {
		t.Fatalf("expected processing with heartbeat, got %+v", got)
	}

	if err := s.MarkFailed(ctx, job.ID, "backend down"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != "backend down" {
		t.Fatalf("unexpected failed state: %+v", got)
	}

	n, err := s.RetryFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v", n, err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != StatusPending || got.ErrorMessage != "" {
		t.Fatalf("retry did not reset job: %+v", got)
	}

	if err := s.MarkCompleted(ctx, job.ID, `{"success":true}`); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != StatusCompleted || got.ResultJSON == "" {
		t.Fatalf("unexpected completed state: %+v", got)
	}
}

func TestReclaimStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _ := s.Enqueue(ctx, &BatchJob{CollectionType: CollectionLive, Scope: "x", PostIDs: []string{"p1"}})
	if err := s.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	// Cutoff in the past: heartbeat is fresh, nothing reclaimed.
	n, err := s.ReclaimStale(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("expected no reclaim, got %d, %v", n, err)
	}

	// Cutoff in the future: heartbeat counts as expired.
	n, err = s.ReclaimStale(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 reclaim, got %d, %v", n, err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if got.Status != StatusPending {
		t.Fatalf("expected reclaimed job pending, got %s", got.Status)
	}
}

func TestSiblingsCompleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _ := s.Enqueue(ctx, &BatchJob{
		CollectionType: CollectionSearch, Scope: "x", PostIDs: []string{"p1"},
		ParentJobID: "parent-1", BatchNumber: 1, TotalBatches: 2,
	})
	second, _ := s.Enqueue(ctx, &BatchJob{
		CollectionType: CollectionSearch, Scope: "x", PostIDs: []string{"p2"},
		ParentJobID: "parent-1", BatchNumber: 2, TotalBatches: 2,
	})

	done, err := s.SiblingsCompleted(ctx, "parent-1", second.ID)
	if err != nil {
		t.Fatalf("SiblingsCompleted: %v", err)
	}
	if done {
		t.Fatal("first sibling still pending, expected false")
	}

	if err := s.MarkCompleted(ctx, first.ID, ""); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	done, err = s.SiblingsCompleted(ctx, "parent-1", second.ID)
	if err != nil || !done {
		t.Fatalf("expected siblings completed, got %v, %v", done, err)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := s.RecordProcessed(ctx, "live-chronological", []string{"p1", "c1"}, newer); err != nil {
		t.Fatalf("RecordProcessed: %v", err)
	}
	// An older stamp never rewinds the ledger.
	if err := s.RecordProcessed(ctx, "live-chronological", []string{"p1"}, older); err != nil {
		t.Fatalf("RecordProcessed older: %v", err)
	}

	got, err := s.LastProcessed(ctx, []string{"live-chronological", "keyword-search"}, []string{"p1", "c1", "p9"})
	if err != nil {
		t.Fatalf("LastProcessed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ledger entries, got %v", got)
	}
	if !got["p1"].Equal(newer) {
		t.Fatalf("expected newer stamp for p1, got %v", got["p1"])
	}
	if _, ok := got["p9"]; ok {
		t.Fatal("unseen source must be absent from result")
	}
}

func TestSaveMentionsCreatesAndReuses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := BatchRecord{BatchID: "b1", CollectionType: CollectionLive, Scope: "austinfood"}
	mentions := []extraction.Mention{
		{TempID: "m1", RestaurantName: "Franklin", FoodName: "Brisket", SourceID: "c1", AuthorUpvotes: 40, Scope: "austinfood", ParentContext: "best brisket in town?"},
		{TempID: "m2", RestaurantName: "franklin", FoodName: "Brisket", SourceID: "c2", Scope: "austinfood"},
		{TempID: "m3", RestaurantName: "Franklin", FoodName: "Ribs", SourceID: "c3", Scope: "austinfood"},
		{TempID: "m4", RestaurantName: "Uchi", GeneralPraise: true, SourceID: "c4", Scope: "austinfood"},
	}

	summary, err := s.SaveMentions(ctx, record, mentions)
	if err != nil {
		t.Fatalf("SaveMentions: %v", err)
	}
	// Case-insensitive entity reuse: Franklin and franklin are one entity.
	if summary.EntitiesCreated != 2 {
		t.Fatalf("expected 2 entities created, got %d", summary.EntitiesCreated)
	}
	// Brisket connection reused across m1 and m2.
	if summary.ConnectionsCreated != 2 {
		t.Fatalf("expected 2 connections created, got %d", summary.ConnectionsCreated)
	}
	if summary.MentionsStored != 4 {
		t.Fatalf("expected 4 mentions stored, got %d", summary.MentionsStored)
	}

	var parentContext string
	err = s.db.QueryRowContext(ctx, `SELECT parent_context FROM mentions WHERE source_id = 'c1'`).Scan(&parentContext)
	if err != nil {
		t.Fatalf("read parent context: %v", err)
	}
	if parentContext != "best brisket in town?" {
		t.Fatalf("parent context did not persist: %q", parentContext)
	}

	// A second batch reuses everything.
	summary, err = s.SaveMentions(ctx, BatchRecord{BatchID: "b2", CollectionType: CollectionLive, Scope: "austinfood"}, mentions[:1])
	if err != nil {
		t.Fatalf("SaveMentions second batch: %v", err)
	}
	if summary.EntitiesCreated != 0 || summary.ConnectionsCreated != 0 {
		t.Fatalf("expected full reuse, got %+v", summary)
	}
	if len(summary.EntitySummaries) != 1 || summary.EntitySummaries[0].Mentions != 1 {
		t.Fatalf("unexpected entity summaries: %+v", summary.EntitySummaries)
	}
}

func TestSaveMentionsPersistsBatchRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	earliest := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	latest := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	record := BatchRecord{
		BatchID:         "b1",
		CollectionType:  CollectionArchive,
		Scope:           "austinfood",
		SourceBreakdown: map[CollectionType]int{CollectionArchive: 3},
		EarliestPost:    earliest,
		LatestPost:      latest,
	}
	mentions := []extraction.Mention{
		{TempID: "m1", RestaurantName: "Uchi", GeneralPraise: true, SourceID: "c1", Scope: "austinfood"},
	}
	if _, err := s.SaveMentions(ctx, record, mentions); err != nil {
		t.Fatalf("SaveMentions: %v", err)
	}

	var breakdownJSON, gotEarliest, gotLatest string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_breakdown_json, earliest_post, latest_post FROM batch_records WHERE batch_id = 'b1'`,
	).Scan(&breakdownJSON, &gotEarliest, &gotLatest)
	if err != nil {
		t.Fatalf("read batch record: %v", err)
	}
	if !strings.Contains(breakdownJSON, `"bulk-archive":3`) {
		t.Fatalf("unexpected breakdown json: %q", breakdownJSON)
	}
	if gotEarliest != earliest.Format(time.RFC3339Nano) || gotLatest != latest.Format(time.RFC3339Nano) {
		t.Fatalf("temporal range did not persist: %q .. %q", gotEarliest, gotLatest)
	}

	// Replaying the batch id overwrites rather than erroring.
	record.SourceBreakdown = map[CollectionType]int{CollectionArchive: 5}
	if _, err := s.SaveMentions(ctx, record, mentions); err != nil {
		t.Fatalf("SaveMentions replay: %v", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM batch_records`).Scan(&count); err != nil {
		t.Fatalf("count batch records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one batch record after replay, got %d", count)
	}
}

func TestSchemaReopenIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "morsel.db")
	s, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := s.Enqueue(context.Background(), &BatchJob{CollectionType: CollectionLive, Scope: "x", PostIDs: []string{"p"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	jobs, err := reopened.ListJobs(context.Background())
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected surviving job, got %v, %v", jobs, err)
	}
}
