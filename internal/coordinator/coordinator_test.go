package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"morsel/internal/chunker"
	"morsel/internal/extraction"
	"morsel/internal/services"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	handler func(chunk chunker.Chunk, workerID string) (extraction.Result, error)
}

func (f *fakeBackend) Extract(_ context.Context, chunk chunker.Chunk, workerID string) (extraction.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.handler(chunk, workerID)
}

func mention(sourceID string) extraction.Mention {
	return extraction.Mention{TempID: "m-" + sourceID, RestaurantName: "Franklin", SourceID: sourceID}
}

func makeChunks(n int) ([]chunker.Chunk, []chunker.Metadata) {
	chunks := make([]chunker.Chunk, 0, n)
	metas := make([]chunker.Metadata, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		chunks = append(chunks, chunker.Chunk{ID: id, PostID: "p1"})
		metas = append(metas, chunker.Metadata{ChunkID: id, PostID: "p1"})
	}
	return chunks, metas
}

func TestProcessSettlesAllWithPartialFailure(t *testing.T) {
	backend := &fakeBackend{handler: func(chunk chunker.Chunk, _ string) (extraction.Result, error) {
		if chunk.ID == "c" {
			return extraction.Result{}, errors.New("rigged")
		}
		return extraction.Result{Mentions: []extraction.Mention{mention(chunk.ID)}}, nil
	}}
	chunks, metas := makeChunks(5)

	outcome, err := New(backend, Config{Workers: 3}, nil).Process(context.Background(), chunks, metas)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Metrics.Successes != 4 || outcome.Metrics.Failures != 1 {
		t.Fatalf("expected 4 successes and 1 failure, got %+v", outcome.Metrics)
	}
	if len(outcome.Failures) != 1 || outcome.Failures[0].ChunkID != "c" {
		t.Fatalf("unexpected failures: %+v", outcome.Failures)
	}
	if len(outcome.Mentions) != 4 {
		t.Fatalf("expected 4 mentions, got %d", len(outcome.Mentions))
	}
	for _, m := range outcome.Mentions {
		if m.PostID != "p1" {
			t.Fatalf("mention not tagged with post id: %+v", m)
		}
	}
	if rate := outcome.Metrics.SuccessRate; rate < 0.79 || rate > 0.81 {
		t.Fatalf("expected success rate 0.8, got %f", rate)
	}
}

func TestProcessDemotesMissingVitalFields(t *testing.T) {
	backend := &fakeBackend{handler: func(chunk chunker.Chunk, _ string) (extraction.Result, error) {
		m := mention(chunk.ID)
		m.SourceID = ""
		return extraction.Result{Mentions: []extraction.Mention{m}}, nil
	}}
	chunks, metas := makeChunks(1)

	outcome, err := New(backend, Config{}, nil).Process(context.Background(), chunks, metas)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Metrics.Successes != 0 || len(outcome.Failures) != 1 {
		t.Fatalf("expected demotion to failure, got %+v", outcome.Metrics)
	}
}

func TestProcessAbortsOnConfigurationError(t *testing.T) {
	rigged := services.Wrap(services.ErrConfiguration, "extraction", "auth", "api key rejected", nil)
	backend := &fakeBackend{handler: func(chunk chunker.Chunk, _ string) (extraction.Result, error) {
		return extraction.Result{}, rigged
	}}
	chunks, metas := makeChunks(4)

	_, err := New(backend, Config{Workers: 1}, nil).Process(context.Background(), chunks, metas)
	if err == nil {
		t.Fatal("expected Process to surface a configuration error")
	}
	if !services.IsBatchFatal(err) {
		t.Fatalf("expected a batch-fatal error, got %v", err)
	}
	// With one worker the first fatal chunk cancels the group before the
	// rest dispatch.
	backend.mu.Lock()
	calls := backend.calls
	backend.mu.Unlock()
	if calls == len(chunks) {
		t.Fatal("expected the dispatch to stop early")
	}
}

func TestProcessCountsEngagedChunks(t *testing.T) {
	backend := &fakeBackend{handler: func(chunk chunker.Chunk, _ string) (extraction.Result, error) {
		return extraction.Result{}, nil
	}}
	chunks := []chunker.Chunk{{ID: "a", PostID: "p1"}, {ID: "b", PostID: "p1"}}
	metas := []chunker.Metadata{
		{ChunkID: "a", PostID: "p1", MaxRootScore: 100},
		{ChunkID: "b", PostID: "p1", MaxRootScore: 3},
	}
	outcome, err := New(backend, Config{EngagedScore: 25}, nil).Process(context.Background(), chunks, metas)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Metrics.Engaged != 1 {
		t.Fatalf("expected 1 engaged chunk, got %d", outcome.Metrics.Engaged)
	}
}

func TestProcessHonorsThrottleBetweenDispatches(t *testing.T) {
	const backoff = 120 * time.Millisecond
	var starts []time.Time
	var mu sync.Mutex
	backend := &fakeBackend{handler: func(chunk chunker.Chunk, _ string) (extraction.Result, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		if chunk.ID == "a" {
			return extraction.Result{Throttle: backoff}, nil
		}
		return extraction.Result{}, nil
	}}
	chunks, metas := makeChunks(2)

	// One worker so the second chunk dispatches only after the first
	// extended the shared deadline.
	outcome, err := New(backend, Config{Workers: 1, GatePoll: 10 * time.Millisecond}, nil).Process(context.Background(), chunks, metas)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Metrics.Successes != 2 {
		t.Fatalf("expected 2 successes, got %+v", outcome.Metrics)
	}
	if len(starts) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < backoff-20*time.Millisecond {
		t.Fatalf("second dispatch did not wait out the backoff, gap %v", gap)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	backend := &fakeBackend{handler: func(chunker.Chunk, string) (extraction.Result, error) {
		t.Fatal("backend must not be called")
		return extraction.Result{}, nil
	}}
	outcome, err := New(backend, Config{}, nil).Process(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Metrics.ChunkCount != 0 {
		t.Fatalf("unexpected metrics: %+v", outcome.Metrics)
	}
}

func TestThrottleGateOnlyExtends(t *testing.T) {
	gate := &throttleGate{}
	gate.extend(200 * time.Millisecond)
	first := gate.until
	gate.extend(10 * time.Millisecond)
	if gate.until.Before(first) {
		t.Fatal("a shorter extension must never pull the deadline back")
	}
	gate.extend(-time.Second)
	if gate.until.Before(first) {
		t.Fatal("a negative extension must be ignored")
	}
}

func TestWorkerIDsRoundRobin(t *testing.T) {
	c := New(&fakeBackend{}, Config{}, nil)
	first := c.nextWorkerID()
	if first != "w00" {
		t.Fatalf("expected w00 first, got %q", first)
	}
	var last string
	for i := 0; i < workerSlots; i++ {
		last = c.nextWorkerID()
	}
	if last != "w00" {
		t.Fatalf("expected wraparound to w00, got %q", last)
	}
}
