// Package chunker splits a post's comment tree into bounded-size extraction
// units. Threads are never split across chunks; the budgets are packing
// targets, not truncation limits.
package chunker

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"morsel/internal/content"
	"morsel/internal/logging"
)

// Config carries the packing budgets.
type Config struct {
	MaxChars          int
	MaxTokens         int
	MaxComments       int
	SecondsPerComment float64
}

// Chunk is one extraction unit: post context plus one or more complete
// comment threads. ExtractFromPost is set on exactly the first chunk of each
// post so post-level facts are derived once.
type Chunk struct {
	ID              string
	PostID          string
	PostContext     string
	Comments        []content.Comment
	ExtractFromPost bool
	Sequence        int
}

// Metadata describes one chunk for scheduling and metrics.
type Metadata struct {
	ChunkID          string
	CommentCount     int
	MaxRootScore     int
	EstimatedSeconds float64
	EstimatedTokens  int
	PostID           string
	Sequence         int
}

// Chunker packs comment threads into chunks under the configured budgets.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a chunker with the given budgets. Zero budgets fall back to
// permissive defaults so a misconfigured caller still makes progress.
func New(cfg Config, logger *slog.Logger) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 24000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = cfg.MaxChars / 4
	}
	if cfg.MaxComments <= 0 {
		cfg.MaxComments = 60
	}
	if cfg.SecondsPerComment <= 0 {
		cfg.SecondsPerComment = 1.5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Chunker{cfg: cfg, logger: logging.NewComponentLogger(logger, "chunker")}
}

// thread is one top-level comment with its full reply subtree, flattened
// depth-first.
type thread struct {
	rootScore int
	comments  []content.Comment
	chars     int
}

// Split chunks every post and returns the chunks with their metadata, in
// post order then sequence order.
func (c *Chunker) Split(posts []content.Post) ([]Chunk, []Metadata) {
	var chunks []Chunk
	var metas []Metadata
	for i := range posts {
		postChunks, postMetas := c.splitPost(&posts[i])
		chunks = append(chunks, postChunks...)
		metas = append(metas, postMetas...)
	}
	return chunks, metas
}

func (c *Chunker) splitPost(post *content.Post) ([]Chunk, []Metadata) {
	threads, orphans := collectThreads(post)

	var chunks []Chunk
	var metas []Metadata
	seq := 0

	emit := func(group []thread) {
		if len(group) == 0 {
			return
		}
		chunk, meta := c.buildChunk(post, group, seq)
		chunks = append(chunks, chunk)
		metas = append(metas, meta)
		seq++
	}

	// Greedy bin-packing over score-ordered threads. A group closes when the
	// next thread would push it over the character or token budget, or over
	// the comment budget while token usage is already past 80% of its max.
	var group []thread
	groupChars := len(c.postContext(post, seq == 0))
	groupComments := 0
	for _, th := range threads {
		if len(group) > 0 && c.wouldOverflow(groupChars, groupComments, th) {
			emit(group)
			group = nil
			groupChars = len(c.postContext(post, false))
			groupComments = 0
		}
		group = append(group, th)
		groupChars += th.chars
		groupComments += len(th.comments)
	}
	emit(group)

	// A post with no packable threads still produces one post-only chunk so
	// post-level facts are extracted.
	if len(chunks) == 0 {
		chunk, meta := c.buildChunk(post, nil, 0)
		chunks = append(chunks, chunk)
		metas = append(metas, meta)
		seq = 1
	}

	// Comments whose ancestor chain never reaches the post ride in one
	// trailing chunk with light context.
	if len(orphans) > 0 {
		orphanThread := thread{comments: orphans}
		for _, comment := range orphans {
			orphanThread.rootScore = max(orphanThread.rootScore, comment.Score)
		}
		chunk, meta := c.buildChunk(post, []thread{orphanThread}, seq)
		chunks = append(chunks, chunk)
		metas = append(metas, meta)
	}

	c.logger.Debug("post chunked",
		logging.String(logging.FieldPostID, post.ID),
		logging.Int("threads", len(threads)),
		logging.Int("orphans", len(orphans)),
		logging.Int("chunks", len(chunks)),
	)
	return chunks, metas
}

func (c *Chunker) wouldOverflow(groupChars, groupComments int, next thread) bool {
	chars := groupChars + next.chars
	comments := groupComments + len(next.comments)
	tokens := estimateTokens(chars)
	if chars > c.cfg.MaxChars {
		return true
	}
	if tokens > c.cfg.MaxTokens {
		return true
	}
	// Comment count alone never forces a split while token usage is still
	// comfortable.
	if comments > c.cfg.MaxComments && tokens > c.cfg.MaxTokens*8/10 {
		return true
	}
	return false
}

func (c *Chunker) buildChunk(post *content.Post, group []thread, seq int) (Chunk, Metadata) {
	first := seq == 0
	var comments []content.Comment
	maxRootScore := 0
	for _, th := range group {
		comments = append(comments, th.comments...)
		maxRootScore = max(maxRootScore, th.rootScore)
	}

	id := post.ID
	switch {
	case len(group) == 1 && len(group[0].comments) > 0:
		id = group[0].comments[0].ID
	case len(group) > 1:
		id = fmt.Sprintf("%s-group-%d", post.ID, seq)
	}

	context := c.postContext(post, first)
	chars := len(context)
	for _, comment := range comments {
		chars += len(comment.Body)
	}

	chunk := Chunk{
		ID:              id,
		PostID:          post.ID,
		PostContext:     context,
		Comments:        comments,
		ExtractFromPost: first,
		Sequence:        seq,
	}
	meta := Metadata{
		ChunkID:          id,
		CommentCount:     len(comments),
		MaxRootScore:     maxRootScore,
		EstimatedSeconds: float64(len(comments)) * c.cfg.SecondsPerComment,
		EstimatedTokens:  estimateTokens(chars),
		PostID:           post.ID,
		Sequence:         seq,
	}
	return chunk, meta
}

// postContext renders the post for the extraction backend. The first chunk
// carries the full post; later chunks carry just enough to anchor the
// comments.
func (c *Chunker) postContext(post *content.Post, full bool) string {
	var b strings.Builder
	b.WriteString("Post: ")
	b.WriteString(post.Title)
	if full {
		if post.Body != "" {
			b.WriteString("\n")
			b.WriteString(post.Body)
		}
		if post.Scope != "" {
			b.WriteString("\nCommunity: ")
			b.WriteString(post.Scope)
		}
	}
	return b.String()
}

// collectThreads gathers each top-level comment's full reply subtree,
// depth-first in the forum's order, and returns the leftover comments whose
// ancestor chain never resolves. Traversal is iterative with a visited guard
// since parent links in malformed data can be cyclic.
func collectThreads(post *content.Post) ([]thread, []content.Comment) {
	children := make(map[string][]content.Comment)
	var topLevel []content.Comment
	for _, comment := range post.Comments {
		if comment.IsTopLevel(post.ID) {
			topLevel = append(topLevel, comment)
		} else {
			children[comment.ParentID] = append(children[comment.ParentID], comment)
		}
	}

	// Stable by descending score; ties keep the forum's own ordering.
	sort.SliceStable(topLevel, func(i, j int) bool {
		return topLevel[i].Score > topLevel[j].Score
	})

	assigned := make(map[string]bool, len(post.Comments))
	threads := make([]thread, 0, len(topLevel))
	for _, root := range topLevel {
		th := thread{rootScore: root.Score}
		stack := []content.Comment{root}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if assigned[current.ID] {
				continue
			}
			assigned[current.ID] = true
			th.comments = append(th.comments, current)
			th.chars += len(current.Body)
			replies := children[current.ID]
			for i := len(replies) - 1; i >= 0; i-- {
				stack = append(stack, replies[i])
			}
		}
		threads = append(threads, th)
	}

	var orphans []content.Comment
	for _, comment := range post.Comments {
		if !assigned[comment.ID] {
			orphans = append(orphans, comment)
		}
	}
	return threads, orphans
}

func estimateTokens(chars int) int {
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
