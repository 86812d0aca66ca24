// Package content defines the post and comment value objects that flow
// through the collection pipeline. Instances are constructed once per batch
// and treated as read-only afterwards.
package content

import (
	"sort"
	"strings"
	"time"
)

// Body sentinels the forum substitutes for moderated content. Comments
// carrying one of these are dropped during normalization.
const (
	DeletedBody = "[deleted]"
	RemovedBody = "[removed]"
)

// Post is one forum submission with its surviving comments attached.
type Post struct {
	ID        string
	Title     string
	Body      string
	Scope     string
	Author    string
	URL       string
	Score     int
	CreatedAt time.Time
	Comments  []Comment
}

// Comment is one forum comment. ParentID is empty or equal to the post id
// for top-level comments; otherwise it references another comment.
type Comment struct {
	ID        string
	Body      string
	Author    string
	Score     int
	CreatedAt time.Time
	ParentID  string
}

// IsTopLevel reports whether the comment replies directly to the given post.
func (c Comment) IsTopLevel(postID string) bool {
	return c.ParentID == "" || c.ParentID == postID
}

// IsDroppableBody reports whether a comment body carries no usable content.
func IsDroppableBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	return trimmed == "" || trimmed == DeletedBody || trimmed == RemovedBody
}

// SortCommentsByScore orders comments by descending score. The sort is
// stable so the forum's own secondary ordering survives ties.
func SortCommentsByScore(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].Score > comments[j].Score
	})
}

// SortPostsByCreated orders posts ascending by creation time.
func SortPostsByCreated(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})
}

// ClampScore maps negative forum scores to zero; scores are non-negative
// throughout the pipeline.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	return score
}
