package ranking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{}, nil)
	if err := svc.RefreshScope(context.Background(), "austinfood", nil); err != nil {
		t.Fatalf("noop refresh should never fail: %v", err)
	}
}

func TestRefreshPostsScope(t *testing.T) {
	var got refreshRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc := NewService(Config{Endpoint: server.URL}, nil)
	if err := svc.RefreshScope(context.Background(), "austinfood", []string{"e1"}); err != nil {
		t.Fatalf("RefreshScope: %v", err)
	}
	if got.Scope != "austinfood" || len(got.EntityIDs) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestRefreshReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "recompute queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewService(Config{Endpoint: server.URL}, nil)
	if err := svc.RefreshScope(context.Background(), "austinfood", nil); err == nil {
		t.Fatal("expected error on http 503")
	}
}
