package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *DailyCache {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, filepath.Join(dir, "metadata.json"))
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	return New(backend, zap.NewNop())
}

func sampleCommit(sha string) activity.Commit {
	return activity.Commit{
		SHA:        sha,
		Author:     "octocat",
		Repository: "acme/widgets",
		Timestamp:  "2026-08-20T12:00:00Z",
		Message:    "fix widget alignment",
		Stats:      activity.CommitStats{Additions: 10, Deletions: 2, Total: 12},
		Branches:   []string{"main"},
	}
}

func TestWritePreservesCachedAtWhenCommitsUnchanged(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	first := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	cache.Now = func() time.Time { return first }

	record := activity.DayRecord{
		Commits: []activity.Commit{sampleCommit("abc123")},
		Issues:  []activity.Issue{},
	}
	if err := cache.Write("2026-08-20", record); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	cache.Now = func() time.Time { return first.Add(6 * time.Hour) }
	if err := cache.Write("2026-08-20", record); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	got := cache.Read("2026-08-20")
	if got == nil {
		t.Fatal("Read() returned nil after write")
	}
	want := first.Format(time.RFC3339)
	if got.CachedAt != want {
		t.Fatalf("CachedAt = %q, want preserved %q", got.CachedAt, want)
	}
}

func TestWriteStampsFreshCachedAtWhenCommitsChange(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	first := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	cache.Now = func() time.Time { return first }

	if err := cache.Write("2026-08-20", activity.DayRecord{
		Commits: []activity.Commit{sampleCommit("abc123")},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	second := first.Add(6 * time.Hour)
	cache.Now = func() time.Time { return second }
	if err := cache.Write("2026-08-20", activity.DayRecord{
		Commits: []activity.Commit{sampleCommit("abc123"), sampleCommit("def456")},
	}); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}

	got := cache.Read("2026-08-20")
	if got == nil {
		t.Fatal("Read() returned nil after write")
	}
	if want := second.Format(time.RFC3339); got.CachedAt != want {
		t.Fatalf("CachedAt = %q, want fresh %q", got.CachedAt, want)
	}
	if got.CommitCount != 2 {
		t.Fatalf("CommitCount = %d, want 2", got.CommitCount)
	}
}

func TestWriteNormalizesCounts(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	if err := cache.Write("2026-08-20", activity.DayRecord{
		Commits:     []activity.Commit{sampleCommit("abc123")},
		CommitCount: 99,
		IssueCount:  99,
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := cache.Read("2026-08-20")
	if got == nil {
		t.Fatal("Read() returned nil after write")
	}
	if got.CommitCount != 1 || got.IssueCount != 0 {
		t.Fatalf("counts = (%d, %d), want (1, 0)", got.CommitCount, got.IssueCount)
	}
	if got.Issues == nil {
		t.Fatal("Issues slice was not materialized")
	}
}

func TestReadRejectsDriftedRecords(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload string
	}{
		{
			name:    "not json",
			payload: "{broken",
		},
		{
			name:    "missing commits field",
			payload: `{"date":"2026-08-20","cached_at":"2026-08-21T09:00:00Z","commit_count":0,"issues":[],"issue_count":0}`,
		},
		{
			name:    "count mismatch",
			payload: `{"date":"2026-08-20","cached_at":"2026-08-21T09:00:00Z","commits":[],"commit_count":3,"issues":[],"issue_count":0}`,
		},
		{
			name:    "bad date key",
			payload: `{"date":"Aug 20","cached_at":"2026-08-21T09:00:00Z","commits":[],"commit_count":0,"issues":[],"issue_count":0}`,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			backend, err := NewFileBackend(dir, "")
			if err != nil {
				t.Fatalf("NewFileBackend() error = %v", err)
			}
			if err := os.WriteFile(filepath.Join(dir, "2026-08-20.json"), []byte(tc.payload), 0o644); err != nil {
				t.Fatalf("seed cache file: %v", err)
			}

			cache := New(backend, zap.NewNop())
			if got := cache.Read("2026-08-20"); got != nil {
				t.Fatalf("Read() = %+v, want nil for drifted record", got)
			}
			if invalid := cache.ValidateSchema(); len(invalid) != 1 || invalid[0] != "2026-08-20" {
				t.Fatalf("ValidateSchema() = %v, want [2026-08-20]", invalid)
			}
		})
	}
}

func TestListDatesAscending(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	for _, date := range []string{"2026-08-22", "2026-08-20", "2026-08-21"} {
		if err := cache.Write(date, activity.DayRecord{}); err != nil {
			t.Fatalf("Write(%s) error = %v", date, err)
		}
	}

	got := cache.ListDates()
	want := []string{"2026-08-20", "2026-08-21", "2026-08-22"}
	if len(got) != len(want) {
		t.Fatalf("ListDates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListDates() = %v, want %v", got, want)
		}
	}
}

func TestClearAndClearAll(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	for _, date := range []string{"2026-08-20", "2026-08-21"} {
		if err := cache.Write(date, activity.DayRecord{}); err != nil {
			t.Fatalf("Write(%s) error = %v", date, err)
		}
	}

	if err := cache.Clear("2026-08-20"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if cache.Exists("2026-08-20") {
		t.Fatal("cleared date still exists")
	}
	if !cache.Exists("2026-08-21") {
		t.Fatal("untouched date was removed")
	}

	if err := cache.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if dates := cache.ListDates(); len(dates) != 0 {
		t.Fatalf("ListDates() after ClearAll = %v, want empty", dates)
	}
}

func TestWriteMetadataSummarizesDates(t *testing.T) {
	t.Parallel()

	cache := newTestCache(t)
	now := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	cache.Now = func() time.Time { return now }

	for _, date := range []string{"2026-08-20", "2026-08-21"} {
		if err := cache.Write(date, activity.DayRecord{}); err != nil {
			t.Fatalf("Write(%s) error = %v", date, err)
		}
	}
	if err := cache.WriteMetadata(); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	meta := cache.ReadMetadata()
	if meta == nil {
		t.Fatal("ReadMetadata() returned nil")
	}
	if meta.LastUpdated != now.Format(time.RFC3339) {
		t.Fatalf("LastUpdated = %q, want %q", meta.LastUpdated, now.Format(time.RFC3339))
	}
	if len(meta.CachedDates) != 2 {
		t.Fatalf("CachedDates = %v, want 2 entries", meta.CachedDates)
	}
	if meta.DateRange == nil || meta.DateRange.Start != "2026-08-20" || meta.DateRange.End != "2026-08-21" {
		t.Fatalf("DateRange = %+v, want 2026-08-20..2026-08-21", meta.DateRange)
	}
}
