package store

import (
	"encoding/json"
	"fmt"
	"time"

	"morsel/internal/content"
)

// JobStatus is the lifecycle of a batch job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// CollectionType is the closed set of ingestion modes.
type CollectionType string

const (
	CollectionLive     CollectionType = "live-chronological"
	CollectionSearch   CollectionType = "keyword-search"
	CollectionArchive  CollectionType = "bulk-archive"
	CollectionOnDemand CollectionType = "on-demand"
)

// ValidCollectionType reports whether the value is one of the known modes.
func ValidCollectionType(value CollectionType) bool {
	switch value {
	case CollectionLive, CollectionSearch, CollectionArchive, CollectionOnDemand:
		return true
	}
	return false
}

// Options tunes one batch run.
type Options struct {
	SkipFreshnessGate bool `json:"skip_freshness_gate,omitempty"`
	KeepRawSample     bool `json:"keep_raw_sample,omitempty"`
}

// BatchJob is one queued unit of collection work. Either PostIDs (fetched
// through the freshness gate) or Posts (pre-built, e.g. from an archive) is
// set, never both.
type BatchJob struct {
	ID             int64
	BatchID        string
	ParentJobID    string
	CollectionType CollectionType
	Scope          string
	PostIDs        []string
	Posts          []content.Post
	Options        Options
	BatchNumber    int
	TotalBatches   int
	Status         JobStatus
	ErrorMessage   string
	ResultJSON     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastHeartbeat  *time.Time
}

// IsFinalBatch reports whether this job is the last batch of its parent job.
func (j *BatchJob) IsFinalBatch() bool {
	return j.BatchNumber >= j.TotalBatches
}

// Validate checks the fields a job cannot run without.
func (j *BatchJob) Validate() error {
	if !ValidCollectionType(j.CollectionType) {
		return fmt.Errorf("unknown collection type %q", j.CollectionType)
	}
	if j.Scope == "" {
		return fmt.Errorf("job %s: scope required", j.BatchID)
	}
	if len(j.PostIDs) == 0 && len(j.Posts) == 0 {
		return fmt.Errorf("job %s: no post ids or pre-built posts", j.BatchID)
	}
	return nil
}

// EntitySummary describes one entity touched by a persisted batch.
type EntitySummary struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Scope    string `json:"scope"`
	Mentions int    `json:"mentions"`
	Created  bool   `json:"created"`
}

// PersistSummary is what persistence reports back after storing a batch's
// mentions.
type PersistSummary struct {
	EntitiesCreated       int             `json:"entities_created"`
	ConnectionsCreated    int             `json:"connections_created"`
	MentionsStored        int             `json:"mentions_stored"`
	CreatedEntityIDs      []string        `json:"created_entity_ids,omitempty"`
	AffectedConnectionIDs []string        `json:"affected_connection_ids,omitempty"`
	EntitySummaries       []EntitySummary `json:"entity_summaries,omitempty"`
}

func marshalJSON(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, target any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), target)
}
