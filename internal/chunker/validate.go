package chunker

import (
	"fmt"

	"morsel/internal/content"
)

// Report is the outcome of a chunking validation pass. Issues are advisory;
// callers log them rather than aborting the batch.
type Report struct {
	Issues []string
}

// OK reports whether validation found no issues.
func (r Report) OK() bool {
	return len(r.Issues) == 0
}

// Validate cross-checks chunking output against its input: every reachable
// comment lands in exactly one chunk, metadata counts agree with chunk
// contents, and at most one post-only chunk exists per post.
func Validate(posts []content.Post, chunks []Chunk, metas []Metadata) Report {
	var report Report

	inputComments := 0
	for i := range posts {
		inputComments += len(posts[i].Comments)
	}

	seen := make(map[string]string, inputComments)
	chunkComments := 0
	emptyByPost := make(map[string]int)
	for _, chunk := range chunks {
		chunkComments += len(chunk.Comments)
		if len(chunk.Comments) == 0 {
			emptyByPost[chunk.PostID]++
		}
		for _, comment := range chunk.Comments {
			if prior, dup := seen[comment.ID]; dup {
				report.Issues = append(report.Issues, fmt.Sprintf("comment %s appears in chunks %s and %s", comment.ID, prior, chunk.ID))
				continue
			}
			seen[comment.ID] = chunk.ID
		}
	}

	if chunkComments != inputComments {
		report.Issues = append(report.Issues, fmt.Sprintf("comment count mismatch: input %d, chunked %d", inputComments, chunkComments))
	}

	metaComments := 0
	for _, meta := range metas {
		metaComments += meta.CommentCount
	}
	if metaComments != chunkComments {
		report.Issues = append(report.Issues, fmt.Sprintf("metadata count mismatch: chunks %d, metadata %d", chunkComments, metaComments))
	}

	for postID, count := range emptyByPost {
		// One post-only chunk is the legitimate zero-comment case.
		if count > 1 {
			report.Issues = append(report.Issues, fmt.Sprintf("post %s produced %d empty chunks", postID, count))
		}
	}

	flagCounts := make(map[string]int)
	for _, chunk := range chunks {
		if chunk.ExtractFromPost {
			flagCounts[chunk.PostID]++
		}
	}
	for postID, count := range flagCounts {
		if count != 1 {
			report.Issues = append(report.Issues, fmt.Sprintf("post %s has %d chunks flagged for post extraction", postID, count))
		}
	}

	return report
}
