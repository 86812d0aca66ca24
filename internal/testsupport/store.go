package testsupport

import (
	"context"
	"testing"

	"morsel/internal/config"
	"morsel/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob enqueues a minimal on-demand job for tests using the provided store.
func NewJob(t testing.TB, st *store.Store, scope string, postIDs ...string) *store.BatchJob {
	t.Helper()

	job, err := st.Enqueue(context.Background(), &store.BatchJob{
		CollectionType: store.CollectionOnDemand,
		Scope:          scope,
		PostIDs:        postIDs,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
