package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"morsel/internal/chunker"
	"morsel/internal/content"
	"morsel/internal/services"
)

func completionBody(t *testing.T, payload string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": payload}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	return body
}

func testChunk() chunker.Chunk {
	return chunker.Chunk{
		ID:              "c1",
		PostID:          "p1",
		PostContext:     "Post: where to eat",
		ExtractFromPost: true,
		Comments: []content.Comment{
			{ID: "c1", Body: "Franklin brisket is elite", Score: 40},
		},
	}
}

func TestExtractParsesMentions(t *testing.T) {
	var gotWorker string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWorker = r.Header.Get("X-Worker-Slot")
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "[id: c1]") {
			t.Errorf("user prompt missing comment id tag: %+v", req.Messages)
		}
		w.Write(completionBody(t, `{"mentions":[{"temp_id":"m1","restaurant_name":"Franklin","food_name":"Brisket","general_praise":false,"source_id":"c1"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"})
	result, err := client.Extract(context.Background(), testChunk(), "w03")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gotWorker != "w03" {
		t.Fatalf("expected worker slot header, got %q", gotWorker)
	}
	if len(result.Mentions) != 1 {
		t.Fatalf("expected 1 mention, got %d", len(result.Mentions))
	}
	m := result.Mentions[0]
	if m.RestaurantName != "Franklin" || m.FoodName != "Brisket" || m.SourceID != "c1" {
		t.Fatalf("unexpected mention: %+v", m)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fenced := "```json\n{\"mentions\":[]}\n```"
		w.Write(completionBody(t, fenced))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL})
	result, err := client.Extract(context.Background(), testChunk(), "w00")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Mentions) != 0 {
		t.Fatalf("expected empty mentions, got %d", len(result.Mentions))
	}
}

func TestExtractMissingVitalFieldFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// general_praise omitted entirely.
		w.Write(completionBody(t, `{"mentions":[{"temp_id":"m1","restaurant_name":"Franklin","source_id":"c1"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL})
	_, err := client.Extract(context.Background(), testChunk(), "w00")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !services.IsValidation(err) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestExtractRetriesAndReportsThrottle(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "7")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write(completionBody(t, `{"mentions":[]}`))
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "key", BaseURL: server.URL},
		WithSleeper(func(time.Duration) {}),
	)
	result, err := client.Extract(context.Background(), testChunk(), "w01")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if result.Throttle != 7*time.Second {
		t.Fatalf("expected 7s throttle hint, got %v", result.Throttle)
	}
}

func TestExtractNonRetryableStatusFailsFast(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	if _, err := client.Extract(context.Background(), testChunk(), "w00"); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retry on 401, got %d attempts", attempts)
	}
}

func TestExtractRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Extract(context.Background(), testChunk(), "w00")
	if !services.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
