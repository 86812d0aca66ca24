package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"morsel/internal/archive"
	"morsel/internal/config"
	"morsel/internal/content"
	"morsel/internal/store"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Work with historical data dumps",
	}
	archiveCmd.AddCommand(newArchiveImportCommand(ctx))
	return archiveCmd
}

func newArchiveImportCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "import <scope>",
		Short: "Reconstruct an archive dump and queue it for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				scope := strings.TrimSpace(args[0])
				if scope == "" {
					return fmt.Errorf("scope is required")
				}
				if dir == "" {
					dir = cfg.Paths.ArchiveDir
				}
				if batchSize <= 0 {
					batchSize = 50
				}

				submissions, comments, err := archive.ResolvePair(dir, scope)
				if err != nil {
					return err
				}

				reconstructor := archive.NewReconstructor(nil)
				result, err := reconstructor.Reconstruct(cmd.Context(), submissions, comments, scope)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Reconstructed %d posts (%d submissions, %d comments)\n",
					len(result.Posts), result.Submissions.Valid, result.Comments.Valid)
				if len(result.Posts) == 0 {
					fmt.Fprintln(out, "Nothing to queue")
					return nil
				}

				batches := batchPosts(result.Posts, batchSize)
				parentID := uuid.NewString()
				for i, posts := range batches {
					job := &store.BatchJob{
						ParentJobID:    parentID,
						CollectionType: store.CollectionArchive,
						Scope:          scope,
						Posts:          posts,
						BatchNumber:    i + 1,
						TotalBatches:   len(batches),
					}
					queued, err := st.Enqueue(cmd.Context(), job)
					if err != nil {
						return fmt.Errorf("enqueue batch %d: %w", i+1, err)
					}
					fmt.Fprintf(out, "Queued batch %s (%d posts)\n", queued.BatchID, len(posts))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory holding the archive files (defaults to the configured archive directory)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Posts per queued batch")
	return cmd
}

func batchPosts(posts []content.Post, size int) [][]content.Post {
	if size <= 0 || len(posts) == 0 {
		return nil
	}
	batches := make([][]content.Post, 0, (len(posts)+size-1)/size)
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		batches = append(batches, posts[start:end])
	}
	return batches
}
