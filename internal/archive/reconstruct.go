// Package archive rebuilds posts and comments from compressed bulk-export
// files. Files are streamed line by line so memory use stays flat even for
// multi-hundred-MB inputs.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"morsel/internal/content"
	"morsel/internal/logging"
	"morsel/internal/services"
)

// FileMetrics reports per-file processing counters.
type FileMetrics struct {
	Path     string
	Lines    int
	Valid    int
	Errored  int
	Duration time.Duration
}

// Result is the reconstructed output for one source-scope.
type Result struct {
	Posts       []content.Post
	Submissions FileMetrics
	Comments    FileMetrics
}

// Reconstructor streams archive file pairs into ordered posts with attached
// comments.
type Reconstructor struct {
	logger *slog.Logger
}

// NewReconstructor returns a reconstructor logging through the given logger.
func NewReconstructor(logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconstructor{logger: logging.NewComponentLogger(logger, "archive")}
}

type rawSubmission struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Scope      string  `json:"subreddit"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

type rawArchiveComment struct {
	ID         string  `json:"id"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	ParentID   string  `json:"parent_id"`
	LinkID     string  `json:"link_id"`
}

// Reconstruct reads one submissions file and one comments file and rebuilds
// the posts they describe. A malformed line is counted and skipped; only an
// unreadable file fails the call.
func (r *Reconstructor) Reconstruct(ctx context.Context, submissionsPath, commentsPath, scope string) (Result, error) {
	var result Result

	posts := make(map[string]*content.Post)
	order := make([]string, 0, 1024)

	metrics, err := r.streamFile(ctx, submissionsPath, func(line []byte) bool {
		var raw rawSubmission
		if err := json.Unmarshal(line, &raw); err != nil {
			return false
		}
		id := raw.ID
		if strings.TrimSpace(id) == "" {
			id = fallbackID(line)
		}
		if _, seen := posts[id]; seen {
			return true
		}
		body := strings.TrimSpace(raw.SelfText)
		if body == "" || body == content.DeletedBody || body == content.RemovedBody {
			body = strings.TrimSpace(raw.Title)
		}
		postScope := raw.Scope
		if postScope == "" {
			postScope = scope
		}
		posts[id] = &content.Post{
			ID:        id,
			Title:     strings.TrimSpace(raw.Title),
			Body:      body,
			Scope:     postScope,
			Author:    raw.Author,
			URL:       raw.Permalink,
			Score:     content.ClampScore(raw.Score),
			CreatedAt: archiveTimestamp(raw.CreatedUTC),
		}
		order = append(order, id)
		return true
	})
	if err != nil {
		return result, services.Wrap(services.ErrExternalService, "archive", "read submissions", "archive file unreadable", err)
	}
	result.Submissions = metrics

	metrics, err = r.streamFile(ctx, commentsPath, func(line []byte) bool {
		var raw rawArchiveComment
		if err := json.Unmarshal(line, &raw); err != nil {
			return false
		}
		if content.IsDroppableBody(raw.Body) {
			return true
		}
		postID := stripKindPrefix(raw.LinkID)
		if postID == "" {
			postID = fallbackID(line)
		}
		post, seen := posts[postID]
		if !seen {
			// Comment for a post the submissions file never carried. Keep it
			// on a placeholder so the content is not lost.
			post = &content.Post{
				ID:        postID,
				Title:     "",
				Body:      "",
				Scope:     scope,
				CreatedAt: archiveTimestamp(raw.CreatedUTC),
			}
			posts[postID] = post
			order = append(order, postID)
		}
		id := raw.ID
		if strings.TrimSpace(id) == "" {
			id = fallbackID(line)
		}
		post.Comments = append(post.Comments, content.Comment{
			ID:        id,
			Body:      strings.TrimSpace(raw.Body),
			Author:    raw.Author,
			Score:     raw.Score,
			CreatedAt: archiveTimestamp(raw.CreatedUTC),
			ParentID:  stripKindPrefix(raw.ParentID),
		})
		return true
	})
	if err != nil {
		return result, services.Wrap(services.ErrExternalService, "archive", "read comments", "archive file unreadable", err)
	}
	result.Comments = metrics

	result.Posts = make([]content.Post, 0, len(order))
	for _, id := range order {
		post := posts[id]
		resolveParents(post)
		content.SortCommentsByScore(post.Comments)
		result.Posts = append(result.Posts, *post)
	}
	content.SortPostsByCreated(result.Posts)

	r.logger.Info("archive reconstructed",
		logging.String(logging.FieldScope, scope),
		logging.Int("posts", len(result.Posts)),
		logging.Int("submission_lines", result.Submissions.Lines),
		logging.Int("comment_lines", result.Comments.Lines),
		logging.Int("errored_lines", result.Submissions.Errored+result.Comments.Errored),
	)
	return result, nil
}

// ResolvePair locates the submissions and comments files for a scope inside
// dir, following the {scope}_submissions / {scope}_comments naming scheme and
// probing the supported compression extensions.
func ResolvePair(dir, scope string) (string, string, error) {
	submissions, err := resolveArchiveFile(dir, scope+"_submissions")
	if err != nil {
		return "", "", err
	}
	comments, err := resolveArchiveFile(dir, scope+"_comments")
	if err != nil {
		return "", "", err
	}
	return submissions, comments, nil
}

func resolveArchiveFile(dir, stem string) (string, error) {
	for _, ext := range []string{".zst", ".zstd", ".gz", ".jsonl", ".ndjson", ""} {
		candidate := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no archive file found for %s in %s", stem, dir)
}

// streamFile feeds each line to handle; handle returns false for a malformed
// line, which is counted and skipped.
func (r *Reconstructor) streamFile(ctx context.Context, path string, handle func(line []byte) bool) (FileMetrics, error) {
	metrics := FileMetrics{Path: path}
	start := time.Now()

	reader, err := openLineReader(path)
	if err != nil {
		return metrics, err
	}
	defer reader.Close()

	for reader.Scan() {
		if err := ctx.Err(); err != nil {
			return metrics, err
		}
		line := reader.Line()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		metrics.Lines++
		if handle(line) {
			metrics.Valid++
		} else {
			metrics.Errored++
		}
	}
	if err := reader.Err(); err != nil {
		return metrics, fmt.Errorf("scan %s: %w", path, err)
	}
	metrics.Duration = time.Since(start)
	return metrics, nil
}

// resolveParents rewrites unresolved parent links to point at the post, so
// no comment is stranded by a parent the archive never carried.
func resolveParents(post *content.Post) {
	ids := make(map[string]struct{}, len(post.Comments))
	for _, comment := range post.Comments {
		ids[comment.ID] = struct{}{}
	}
	for i := range post.Comments {
		parent := post.Comments[i].ParentID
		if parent == "" || parent == post.ID {
			continue
		}
		if _, ok := ids[parent]; !ok {
			post.Comments[i].ParentID = post.ID
		}
	}
}

func stripKindPrefix(id string) string {
	if idx := strings.IndexByte(id, '_'); idx == 2 {
		return id[idx+1:]
	}
	return id
}

// fallbackID derives a stable id from the record content so downstream code
// never sees a missing id.
func fallbackID(line []byte) string {
	sum := sha256.Sum256(line)
	return "x" + hex.EncodeToString(sum[:8])
}

func archiveTimestamp(epochSeconds float64) time.Time {
	if epochSeconds <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(epochSeconds), 0).UTC()
}
