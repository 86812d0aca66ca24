package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"morsel/internal/config"
	"morsel/internal/store"
)

func newCollectCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var collectionType string
	var skipGate bool
	var keepSample bool
	var batchSize int

	cmd := &cobra.Command{
		Use:   "collect <post-id> [post-id...]",
		Short: "Queue posts for collection and extraction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				ct := store.CollectionType(collectionType)
				if !store.ValidCollectionType(ct) {
					return fmt.Errorf("unknown collection type %q", collectionType)
				}
				if batchSize <= 0 {
					batchSize = 25
				}

				batches := batchStrings(args, batchSize)
				parentID := uuid.NewString()
				options := store.Options{
					SkipFreshnessGate: skipGate,
					KeepRawSample:     keepSample,
				}

				for i, ids := range batches {
					job := &store.BatchJob{
						ParentJobID:    parentID,
						CollectionType: ct,
						Scope:          scope,
						PostIDs:        ids,
						Options:        options,
						BatchNumber:    i + 1,
						TotalBatches:   len(batches),
					}
					queued, err := st.Enqueue(cmd.Context(), job)
					if err != nil {
						return fmt.Errorf("enqueue batch %d: %w", i+1, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued batch %s (%d posts)\n", queued.BatchID, len(ids))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Community scope, e.g. austinfood")
	cmd.Flags().StringVar(&collectionType, "type", string(store.CollectionOnDemand), "Collection type (live-chronological, keyword-search, bulk-archive, on-demand)")
	cmd.Flags().BoolVar(&skipGate, "skip-freshness-gate", false, "Fetch posts even when recently processed")
	cmd.Flags().BoolVar(&keepSample, "keep-raw-sample", false, "Keep a sample of raw extracted mentions in the batch result")
	cmd.Flags().IntVar(&batchSize, "batch-size", 25, "Posts per queued batch")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func batchStrings(values []string, size int) [][]string {
	if size <= 0 || len(values) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		batches = append(batches, values[start:end])
	}
	return batches
}
