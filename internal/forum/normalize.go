package forum

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"morsel/internal/content"
)

// Listing payload shapes as the forum API serves them. Comment replies are a
// nested listing or an empty string, so they decode lazily.
type listing struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	Children []thing `json:"children"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type rawPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Scope      string  `json:"subreddit"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

type rawComment struct {
	ID         string          `json:"id"`
	Body       string          `json:"body"`
	Author     string          `json:"author"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	ParentID   string          `json:"parent_id"`
	Replies    json.RawMessage `json:"replies"`
}

const (
	kindPost    = "t3"
	kindComment = "t1"
)

// NormalizePostTree converts a raw post+comments listing pair into the
// pipeline's post and comment shape. A post carrying neither title nor body
// yields a nil post. Removed and deleted comments are dropped while their
// replies are still walked, so surviving descendants stay in the output.
func NormalizePostTree(payload []byte, canonicalURL string) (*content.Post, []content.Comment, error) {
	var listings []listing
	if err := json.Unmarshal(payload, &listings); err != nil {
		return nil, nil, err
	}
	if len(listings) < 2 {
		return nil, nil, errors.New("expected post and comment listings")
	}

	post := decodePost(listings[0], canonicalURL)
	if post == nil {
		return nil, nil, nil
	}

	comments := make([]content.Comment, 0, len(listings[1].Data.Children))
	walkCommentThings(listings[1].Data.Children, &comments)
	post.Comments = comments
	return post, comments, nil
}

func decodePost(l listing, canonicalURL string) *content.Post {
	for _, child := range l.Data.Children {
		if child.Kind != kindPost {
			continue
		}
		var raw rawPost
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			continue
		}
		if strings.TrimSpace(raw.Title) == "" && strings.TrimSpace(raw.SelfText) == "" {
			return nil
		}
		postURL := canonicalURL
		if raw.Permalink != "" {
			postURL = raw.Permalink
		}
		return &content.Post{
			ID:        raw.ID,
			Title:     strings.TrimSpace(raw.Title),
			Body:      strings.TrimSpace(raw.SelfText),
			Scope:     raw.Scope,
			Author:    raw.Author,
			URL:       postURL,
			Score:     content.ClampScore(raw.Score),
			CreatedAt: normalizeTimestamp(raw.CreatedUTC),
		}
	}
	return nil
}

// walkCommentThings flattens the nested reply listings depth-first,
// preserving the forum's ordering. Dropped comments still have their replies
// walked; any surviving descendant keeps its original parent id and is
// reattached or orphan-handled downstream.
func walkCommentThings(things []thing, out *[]content.Comment) {
	for _, t := range things {
		if t.Kind != kindComment {
			continue
		}
		var raw rawComment
		if err := json.Unmarshal(t.Data, &raw); err != nil {
			continue
		}
		if !content.IsDroppableBody(raw.Body) {
			*out = append(*out, content.Comment{
				ID:        raw.ID,
				Body:      strings.TrimSpace(raw.Body),
				Author:    raw.Author,
				Score:     raw.Score,
				CreatedAt: normalizeTimestamp(raw.CreatedUTC),
				ParentID:  stripKindPrefix(raw.ParentID),
			})
		}
		walkReplies(raw.Replies, out)
	}
}

func walkReplies(replies json.RawMessage, out *[]content.Comment) {
	trimmed := strings.TrimSpace(string(replies))
	if trimmed == "" || trimmed == `""` || trimmed == "null" {
		return
	}
	var nested listing
	if err := json.Unmarshal(replies, &nested); err != nil {
		return
	}
	walkCommentThings(nested.Data.Children, out)
}

// stripKindPrefix turns fullname references ("t1_abc", "t3_xyz") into bare
// ids so parent links compare directly against post and comment ids.
func stripKindPrefix(id string) string {
	if idx := strings.IndexByte(id, '_'); idx == 2 {
		return id[idx+1:]
	}
	return id
}

// normalizeTimestamp converts epoch seconds to an absolute instant. Missing
// or malformed timestamps default to now instead of failing the batch.
func normalizeTimestamp(epochSeconds float64) time.Time {
	if epochSeconds <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(epochSeconds), 0).UTC()
}

func recentCommentIDs(payload []byte, limit int) ([]string, error) {
	var listings []listing
	if err := json.Unmarshal(payload, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, errors.New("expected post and comment listings")
	}
	var comments []content.Comment
	walkCommentThings(listings[1].Data.Children, &comments)
	ids := make([]string, 0, limit)
	for _, comment := range comments {
		ids = append(ids, comment.ID)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
