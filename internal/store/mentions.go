package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"morsel/internal/extraction"
)

// BatchRecord carries the batch metadata persisted alongside its mentions:
// how many posts each collection contributed and the creation-time span of
// the batch's posts.
type BatchRecord struct {
	BatchID         string
	CollectionType  CollectionType
	Scope           string
	SourceBreakdown map[CollectionType]int
	EarliestPost    time.Time
	LatestPost      time.Time
}

// SaveMentions stores a cleaned mention list, creating entities and
// connections as needed. The whole batch commits or rolls back as a unit.
func (s *Store) SaveMentions(ctx context.Context, record BatchRecord, mentions []extraction.Mention) (PersistSummary, error) {
	var summary PersistSummary
	if len(mentions) == 0 {
		return summary, nil
	}
	if record.BatchID == "" {
		return summary, errors.New("batch id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin mentions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := insertBatchRecord(ctx, tx, record, now); err != nil {
		return summary, err
	}

	entityMentions := make(map[string]*EntitySummary)
	seenConnections := make(map[string]struct{})

	for _, mention := range mentions {
		scope := mention.Scope
		if scope == "" {
			scope = record.Scope
		}
		entityID, entityCreated, entityName, err := upsertEntity(ctx, tx, mention.RestaurantName, scope, now)
		if err != nil {
			return summary, err
		}
		if entityCreated {
			summary.EntitiesCreated++
			summary.CreatedEntityIDs = append(summary.CreatedEntityIDs, entityID)
		}
		es, ok := entityMentions[entityID]
		if !ok {
			es = &EntitySummary{EntityID: entityID, Name: entityName, Scope: scope, Created: entityCreated}
			entityMentions[entityID] = es
		}
		es.Mentions++

		connectionID := ""
		if strings.TrimSpace(mention.FoodName) != "" {
			var connectionCreated bool
			connectionID, connectionCreated, err = upsertConnection(ctx, tx, entityID, mention.FoodName, mention.IsMenuItem, now)
			if err != nil {
				return summary, err
			}
			if connectionCreated {
				summary.ConnectionsCreated++
			}
			if _, dup := seenConnections[connectionID]; !dup {
				seenConnections[connectionID] = struct{}{}
				summary.AffectedConnectionIDs = append(summary.AffectedConnectionIDs, connectionID)
			}
		}

		categoriesJSON, err := marshalJSON(mention.FoodCategories)
		if err != nil {
			return summary, err
		}
		sourceCreated := ""
		if !mention.CreatedAt.IsZero() {
			sourceCreated = mention.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO mentions (
                batch_id, entity_id, connection_id, source_id, post_id, scope,
                source_text, parent_context, author_upvotes, url, general_praise,
                food_categories_json, source_created_at, recorded_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.BatchID,
			entityID,
			nullableString(connectionID),
			mention.SourceID,
			nullableString(mention.PostID),
			nullableString(scope),
			nullableString(mention.SourceText),
			nullableString(mention.ParentContext),
			mention.AuthorUpvotes,
			nullableString(mention.URL),
			boolToInt(mention.GeneralPraise),
			nullableString(categoriesJSON),
			nullableString(sourceCreated),
			now,
		); err != nil {
			return summary, fmt.Errorf("insert mention: %w", err)
		}
		summary.MentionsStored++
	}

	for _, es := range entityMentions {
		summary.EntitySummaries = append(summary.EntitySummaries, *es)
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("commit mentions: %w", err)
	}
	return summary, nil
}

// insertBatchRecord persists the batch-level metadata row. Replaying a batch
// id overwrites the prior row rather than erroring.
func insertBatchRecord(ctx context.Context, tx *sql.Tx, record BatchRecord, now string) error {
	breakdownJSON := ""
	if len(record.SourceBreakdown) > 0 {
		var err error
		breakdownJSON, err = marshalJSON(record.SourceBreakdown)
		if err != nil {
			return err
		}
	}
	earliest := ""
	if !record.EarliestPost.IsZero() {
		earliest = record.EarliestPost.UTC().Format(time.RFC3339Nano)
	}
	latest := ""
	if !record.LatestPost.IsZero() {
		latest = record.LatestPost.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO batch_records (
            batch_id, collection_type, scope, source_breakdown_json,
            earliest_post, latest_post, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.BatchID,
		string(record.CollectionType),
		record.Scope,
		nullableString(breakdownJSON),
		nullableString(earliest),
		nullableString(latest),
		now,
	); err != nil {
		return fmt.Errorf("insert batch record: %w", err)
	}
	return nil
}

func upsertEntity(ctx context.Context, tx *sql.Tx, name, scope, now string) (string, bool, string, error) {
	name = strings.TrimSpace(name)
	key := strings.ToLower(name)
	if key == "" {
		return "", false, "", errors.New("entity name required")
	}

	var id, storedName string
	err := tx.QueryRowContext(ctx, `SELECT id, name FROM entities WHERE name_key = ? AND scope = ?`, key, scope).Scan(&id, &storedName)
	if err == nil {
		return id, false, storedName, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, "", fmt.Errorf("lookup entity: %w", err)
	}

	id = uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO entities (id, name, name_key, scope, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, key, scope, now,
	); err != nil {
		return "", false, "", fmt.Errorf("insert entity: %w", err)
	}
	return id, true, name, nil
}

func upsertConnection(ctx context.Context, tx *sql.Tx, entityID, foodName string, isMenuItem bool, now string) (string, bool, error) {
	foodName = strings.TrimSpace(foodName)
	key := strings.ToLower(foodName)

	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM connections WHERE entity_id = ? AND food_key = ?`, entityID, key).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("lookup connection: %w", err)
	}

	id = uuid.NewString()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO connections (id, entity_id, food_name, food_key, is_menu_item, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, entityID, foodName, key, boolToInt(isMenuItem), now,
	); err != nil {
		return "", false, fmt.Errorf("insert connection: %w", err)
	}
	return id, true, nil
}
