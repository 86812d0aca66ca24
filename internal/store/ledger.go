package store

import (
	"context"
	"fmt"
	"time"
)

// LastProcessed returns the most recent processed timestamp per source id,
// across the given pipeline scopes. Source ids never processed under any of
// the pipelines are absent from the result.
func (s *Store) LastProcessed(ctx context.Context, pipelines, sourceIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(sourceIDs))
	if len(pipelines) == 0 || len(sourceIDs) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(pipelines)+len(sourceIDs))
	for _, pipeline := range pipelines {
		args = append(args, pipeline)
	}
	for _, id := range sourceIDs {
		args = append(args, id)
	}
	query := `SELECT source_id, MAX(processed_at) FROM processed_sources
        WHERE pipeline IN (` + makePlaceholders(len(pipelines)) + `)
          AND source_id IN (` + makePlaceholders(len(sourceIDs)) + `)
        GROUP BY source_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID, processedRaw string
		if err := rows.Scan(&sourceID, &processedRaw); err != nil {
			return nil, err
		}
		processed, err := parseTimeString(processedRaw)
		if err != nil {
			continue
		}
		result[sourceID] = processed
	}
	return result, rows.Err()
}

// RecordProcessed stamps every source id as processed under the pipeline.
// Existing entries move forward, never backward.
func (s *Store) RecordProcessed(ctx context.Context, pipeline string, sourceIDs []string, when time.Time) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	stamp := when.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range sourceIDs {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO processed_sources (pipeline, source_id, processed_at) VALUES (?, ?, ?)
             ON CONFLICT(pipeline, source_id) DO UPDATE SET processed_at = excluded.processed_at
             WHERE excluded.processed_at > processed_sources.processed_at`,
			pipeline, id, stamp,
		); err != nil {
			return fmt.Errorf("record processed %s: %w", id, err)
		}
	}
	return tx.Commit()
}
