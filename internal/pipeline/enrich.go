package pipeline

import (
	"time"

	"morsel/internal/content"
	"morsel/internal/extraction"
)

// sourceInfo is the literal facts looked up per source id during
// enrichment. The extraction backend is deliberately never asked to echo
// source text; it is re-joined locally to keep model output small.
type sourceInfo struct {
	text      string
	upvotes   int
	url       string
	createdAt time.Time
	scope     string
	postID    string
}

type enrichmentTables struct {
	bySource   map[string]sourceInfo
	parentBody map[string]string
}

func buildEnrichmentTables(posts []content.Post) enrichmentTables {
	tables := enrichmentTables{
		bySource:   make(map[string]sourceInfo),
		parentBody: make(map[string]string),
	}
	for i := range posts {
		post := &posts[i]
		postText := post.Body
		if postText == "" {
			postText = post.Title
		}
		tables.bySource[post.ID] = sourceInfo{
			text:      postText,
			upvotes:   post.Score,
			url:       post.URL,
			createdAt: post.CreatedAt,
			scope:     post.Scope,
			postID:    post.ID,
		}
		tables.parentBody[post.ID] = postText
		for _, comment := range post.Comments {
			tables.bySource[comment.ID] = sourceInfo{
				text:      comment.Body,
				upvotes:   content.ClampScore(comment.Score),
				url:       post.URL,
				createdAt: comment.CreatedAt,
				scope:     post.Scope,
				postID:    post.ID,
			}
			tables.parentBody[comment.ID] = postText
		}
	}
	return tables
}

// enrich overwrites each mention's enrichment fields from the lookup
// tables. A mention citing an id the batch never saw keeps its chunk's post
// id and gets post-level facts as a fallback.
func (t enrichmentTables) enrich(mentions []extraction.Mention) {
	for i := range mentions {
		mention := &mentions[i]
		info, ok := t.bySource[mention.SourceID]
		if !ok {
			info, ok = t.bySource[mention.PostID]
			if !ok {
				continue
			}
		}
		mention.SourceText = info.text
		mention.AuthorUpvotes = info.upvotes
		mention.URL = info.url
		mention.CreatedAt = info.createdAt
		mention.Scope = info.scope
		if mention.PostID == "" {
			mention.PostID = info.postID
		}
		if parent, ok := t.parentBody[mention.SourceID]; ok {
			mention.ParentContext = parent
		} else {
			mention.ParentContext = t.parentBody[mention.PostID]
		}
	}
}
