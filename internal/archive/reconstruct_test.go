package archive

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeGzipLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := gzip.NewWriter(file)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestReconstructAttachesAndOrders(t *testing.T) {
	dir := t.TempDir()
	subs := filepath.Join(dir, "austinfood_submissions.jsonl")
	comms := filepath.Join(dir, "austinfood_comments.jsonl")

	writeLines(t, subs,
		`{"id":"p2","title":"Late post","selftext":"body two","subreddit":"austinfood","score":3,"created_utc":1700001000}`,
		`{"id":"p1","title":"Early post","selftext":"","subreddit":"austinfood","score":9,"created_utc":1700000000}`,
		`not json at all`,
	)
	writeLines(t, comms,
		`{"id":"c1","body":"low score","score":2,"created_utc":1700000100,"parent_id":"t3_p1","link_id":"t3_p1"}`,
		`{"id":"c2","body":"high score","score":50,"created_utc":1700000200,"parent_id":"t1_missing","link_id":"t3_p1"}`,
		`{"id":"c3","body":"[removed]","score":9,"link_id":"t3_p1"}`,
		`{"id":"c4","body":"orphan post comment","score":1,"created_utc":1700000300,"parent_id":"t3_p9","link_id":"t3_p9"}`,
	)

	result, err := NewReconstructor(nil).Reconstruct(context.Background(), subs, comms, "austinfood")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if result.Submissions.Lines != 3 || result.Submissions.Valid != 2 || result.Submissions.Errored != 1 {
		t.Fatalf("unexpected submission metrics: %+v", result.Submissions)
	}

	// p9 is synthesized from its stray comment, so three posts total, sorted
	// ascending by creation time.
	if len(result.Posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(result.Posts))
	}
	if result.Posts[0].ID != "p1" || result.Posts[1].ID != "p9" || result.Posts[2].ID != "p2" {
		t.Fatalf("unexpected post order: %s %s %s", result.Posts[0].ID, result.Posts[1].ID, result.Posts[2].ID)
	}

	// Post with empty selftext falls back to its title as body.
	if result.Posts[0].Body != "Early post" {
		t.Fatalf("expected title fallback body, got %q", result.Posts[0].Body)
	}

	p1 := result.Posts[0]
	if len(p1.Comments) != 2 {
		t.Fatalf("expected 2 surviving comments on p1, got %d", len(p1.Comments))
	}
	// Sorted descending by score.
	if p1.Comments[0].ID != "c2" || p1.Comments[1].ID != "c1" {
		t.Fatalf("unexpected comment order: %s %s", p1.Comments[0].ID, p1.Comments[1].ID)
	}
	// c2's parent was never seen, so it reattaches to the post directly.
	if p1.Comments[0].ParentID != "p1" {
		t.Fatalf("expected unresolved parent rewritten to post, got %q", p1.Comments[0].ParentID)
	}

	p9 := result.Posts[1]
	if len(p9.Comments) != 1 || p9.Comments[0].ID != "c4" {
		t.Fatalf("expected placeholder post to carry its comment: %+v", p9.Comments)
	}
}

func TestReconstructMissingIDGetsFallback(t *testing.T) {
	dir := t.TempDir()
	subs := filepath.Join(dir, "scope_submissions.jsonl")
	comms := filepath.Join(dir, "scope_comments.jsonl")
	writeLines(t, subs, `{"title":"no id here","selftext":"body","created_utc":1700000000}`)
	writeLines(t, comms, ``)

	result, err := NewReconstructor(nil).Reconstruct(context.Background(), subs, comms, "scope")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(result.Posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(result.Posts))
	}
	if result.Posts[0].ID == "" {
		t.Fatal("expected a fallback id, got empty")
	}
}

func TestReconstructGzipStream(t *testing.T) {
	dir := t.TempDir()
	subs := filepath.Join(dir, "scope_submissions.gz")
	comms := filepath.Join(dir, "scope_comments.gz")
	writeGzipLines(t, subs, `{"id":"p1","title":"hi","selftext":"compressed body","created_utc":1700000000}`)
	writeGzipLines(t, comms, `{"id":"c1","body":"works","score":1,"parent_id":"t3_p1","link_id":"t3_p1","created_utc":1700000100}`)

	result, err := NewReconstructor(nil).Reconstruct(context.Background(), subs, comms, "scope")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(result.Posts) != 1 || len(result.Posts[0].Comments) != 1 {
		t.Fatalf("unexpected result: %+v", result.Posts)
	}
}

func TestReconstructUnreadableFileFails(t *testing.T) {
	dir := t.TempDir()
	comms := filepath.Join(dir, "scope_comments.jsonl")
	writeLines(t, comms, ``)
	_, err := NewReconstructor(nil).Reconstruct(context.Background(), filepath.Join(dir, "absent.jsonl"), comms, "scope")
	if err == nil {
		t.Fatal("expected error for missing submissions file")
	}
}

func TestResolvePair(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "scope_submissions.jsonl"), ``)
	writeLines(t, filepath.Join(dir, "scope_comments.gz"), ``)

	subs, comms, err := ResolvePair(dir, "scope")
	if err != nil {
		t.Fatalf("ResolvePair: %v", err)
	}
	if filepath.Base(subs) != "scope_submissions.jsonl" || filepath.Base(comms) != "scope_comments.gz" {
		t.Fatalf("unexpected pair: %s %s", subs, comms)
	}

	if _, _, err := ResolvePair(dir, "other"); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}
