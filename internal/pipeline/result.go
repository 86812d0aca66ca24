package pipeline

import (
	"time"

	"morsel/internal/coordinator"
	"morsel/internal/extraction"
	"morsel/internal/store"
)

// Result is the outcome of one batch. Expected failure modes set Success
// false and Error; callers never see them as returned errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	BatchID        string               `json:"batch_id"`
	CollectionType store.CollectionType `json:"collection_type"`
	Scope          string               `json:"scope"`

	PostsRequested    int `json:"posts_requested"`
	PostsFetched      int `json:"posts_fetched"`
	PostsSkippedFresh int `json:"posts_skipped_fresh"`
	PostsSkippedProbe int `json:"posts_skipped_probe"`
	ProbeFailures     int `json:"probe_failures"`
	FetchFailures     int `json:"fetch_failures"`

	ChunkMetrics      coordinator.Metrics `json:"chunk_metrics"`
	MentionsExtracted int                 `json:"mentions_extracted"`
	MentionsPersisted int                 `json:"mentions_persisted"`

	Persist         store.PersistSummary           `json:"persist"`
	SourceBreakdown map[store.CollectionType]int   `json:"source_breakdown,omitempty"`
	EarliestPost    time.Time                      `json:"earliest_post,omitzero"`
	LatestPost      time.Time                      `json:"latest_post,omitzero"`
	RawSample       []extraction.Mention           `json:"raw_sample,omitempty"`
	ChunkFailures   []string                       `json:"chunk_failures,omitempty"`

	Duration time.Duration `json:"duration"`
}
