package extraction

import (
	"fmt"
	"strings"

	"morsel/internal/chunker"
)

// ExtractionPrompt instructs the model to return mentions as strict JSON.
// The model is never asked to echo source text back; enrichment happens
// locally so response size stays bounded.
const ExtractionPrompt = `You extract restaurant and dish mentions from forum discussions.

Read the post and comments below. For every distinct pairing of a restaurant and a food item that a specific post or comment recommends or discusses, emit one mention.

Respond with JSON only, in this exact shape:
{"mentions": [{
  "temp_id": "m1",
  "restaurant_name": "...",
  "food_name": "...",
  "food_categories": ["..."],
  "food_attributes": ["..."],
  "restaurant_attributes": ["..."],
  "is_menu_item": true,
  "general_praise": false,
  "source_id": "<id of the post or comment the mention came from>"
}]}

Rules:
- temp_id must be unique within your response.
- source_id must be copied exactly from the [id: ...] tag of the post or comment the mention was found in.
- general_praise is true when a restaurant is praised without a specific dish; food_name is then empty.
- Do not copy source text into any field.
- If nothing qualifies, respond {"mentions": []}.`

// RenderChunk formats one chunk as the user prompt. Every post and comment
// carries an [id: ...] tag the model must cite in source_id.
func RenderChunk(chunk chunker.Chunk) string {
	var b strings.Builder
	if chunk.ExtractFromPost {
		fmt.Fprintf(&b, "[id: %s] %s\n", chunk.PostID, chunk.PostContext)
		b.WriteString("Extract mentions from the post itself as well as the comments.\n")
	} else {
		fmt.Fprintf(&b, "%s\n", chunk.PostContext)
		b.WriteString("Extract mentions from the comments only.\n")
	}
	b.WriteString("\nComments:\n")
	for _, comment := range chunk.Comments {
		fmt.Fprintf(&b, "[id: %s] (score %d) %s\n", comment.ID, comment.Score, comment.Body)
	}
	return b.String()
}
