package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"morsel/internal/store"
)

func TestBatchStrings(t *testing.T) {
	batches := batchStrings([]string{"a", "b", "c", "d", "e"}, 2)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch shapes: %v", batches)
	}
	if batchStrings(nil, 2) != nil {
		t.Fatal("empty input should yield no batches")
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "logs"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\noutput: %s", args, err, buf.String())
	}
	return buf.String()
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out := runCommand(t, "config", "init", "--path", target)
	if !strings.Contains(out, target) {
		t.Fatalf("output should name the target path: %s", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	if !strings.Contains(string(data), "[extraction]") {
		t.Fatal("sample config missing extraction section")
	}
}

func TestCollectQueuesBatches(t *testing.T) {
	configPath := writeTestConfig(t)
	out := runCommand(t, "--config", configPath,
		"collect", "p1", "p2", "p3",
		"--scope", "austinfood", "--batch-size", "2")
	if strings.Count(out, "Queued batch") != 2 {
		t.Fatalf("expected 2 queued batches, output: %s", out)
	}

	dataDir := filepath.Join(filepath.Dir(configPath), "data")
	st, err := store.OpenPath(filepath.Join(dataDir, "morsel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	jobs, err := st.ListJobs(context.Background(), store.StatusPending)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", len(jobs))
	}
	if jobs[0].ParentJobID != jobs[1].ParentJobID {
		t.Fatal("batches of one collect run should share a parent job id")
	}
	if jobs[0].TotalBatches != 2 {
		t.Fatalf("total batches wrong: %d", jobs[0].TotalBatches)
	}
}

func TestCollectRejectsUnknownType(t *testing.T) {
	configPath := writeTestConfig(t)
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"--config", configPath,
		"collect", "p1", "--scope", "austinfood", "--type", "firehose"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("unknown collection type should be rejected")
	}
}

func TestJobsListEmptyQueue(t *testing.T) {
	configPath := writeTestConfig(t)
	out := runCommand(t, "--config", configPath, "jobs", "list")
	if !strings.Contains(out, "No jobs queued") {
		t.Fatalf("unexpected output: %s", out)
	}
}
