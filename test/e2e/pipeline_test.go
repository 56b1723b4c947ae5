//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cam3ron2/org-pulse/internal/cache"
	"github.com/cam3ron2/org-pulse/internal/config"
	"github.com/cam3ron2/org-pulse/internal/fetch"
	"github.com/cam3ron2/org-pulse/internal/githubql"
	"github.com/cam3ron2/org-pulse/internal/leaderboard"
)

// TestFetchAggregateScorePipeline drives the whole pipeline against a fake
// GraphQL endpoint: discovery, batched commit collection with cross-branch
// dedup and bot filtering, issue collection, day-keyed caching, aggregation,
// and leaderboard scoring.
func TestFetchAggregateScorePipeline(t *testing.T) {
	day1 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	fake := newFakeGitHubGraphQL()
	defer fake.Close()

	fake.repos = []fixtureRepo{
		{NameWithOwner: "acme/widgets", PushedAt: day2.Add(20 * time.Hour)},
		{NameWithOwner: "acme/gadgets", PushedAt: day2.Add(18 * time.Hour)},
	}
	fake.commits["acme/widgets"] = []fixtureBranch{
		{
			Name: "main",
			Commits: []fixtureCommit{
				{SHA: "a1", Login: "alice", TypeName: "User", Name: "Alice", Email: "alice@acme.test", Message: "add widget pipeline", Timestamp: day1.Add(10 * time.Hour), Additions: 600, Deletions: 200},
				{SHA: "b1", Login: "bob", TypeName: "User", Name: "Bob", Email: "bob@acme.test", Message: "fix widget test", Timestamp: day1.Add(11 * time.Hour), Additions: 150, Deletions: 50},
				{SHA: "bot1", Login: "dependabot[bot]", TypeName: "Bot", Name: "dependabot[bot]", Email: "support@github.test", Message: "bump deps", Timestamp: day1.Add(12 * time.Hour), Additions: 9000, Deletions: 9000},
			},
		},
		{
			Name: "release",
			Commits: []fixtureCommit{
				// Same identity as a1, reachable from a second branch.
				{SHA: "a1", Login: "alice", TypeName: "User", Name: "Alice", Email: "alice@acme.test", Message: "add widget pipeline", Timestamp: day1.Add(10 * time.Hour), Additions: 600, Deletions: 200},
			},
		},
	}
	fake.commits["acme/gadgets"] = []fixtureBranch{
		{
			Name: "main",
			Commits: []fixtureCommit{
				{SHA: "a2", Login: "alice", TypeName: "User", Name: "Alice", Email: "alice@acme.test", Message: "gadget cleanup", Timestamp: day2.Add(9 * time.Hour), Additions: 400, Deletions: 100},
				{SHA: "x1", Login: "mallory", TypeName: "User", Name: "Mallory", Email: "mallory@elsewhere.test", Message: "untracked change", Timestamp: day2.Add(9 * time.Hour), Additions: 10, Deletions: 10},
			},
		},
	}
	fake.issues["alice"] = []fixtureIssue{
		{Number: 7, Title: "flaky widget build", ClosedAt: day1.Add(15 * time.Hour), Repository: "acme/widgets", Assignee: "alice"},
		{Number: 9, Title: "gadget docs", ClosedAt: day2.Add(8 * time.Hour), Repository: "acme/gadgets", Assignee: "alice"},
	}
	fake.issues["bob"] = []fixtureIssue{
		{Number: 8, Title: "widget CI timeout", ClosedAt: day1.Add(16 * time.Hour), Repository: "acme/widgets", Assignee: "bob"},
	}

	logger := zap.NewNop()
	client := githubql.NewClient(http.DefaultClient, fake.URL(), githubql.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}, nil, logger)

	dir := t.TempDir()
	backend, err := cache.NewFileBackend(filepath.Join(dir, "commits"), filepath.Join(dir, "metadata.json"))
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	dailyCache := cache.New(backend, logger)

	knownBots := []string{"dependabot[bot]"}
	discoverer := githubql.NewDiscoverer(client, nil, 0, logger)
	commits := githubql.NewCommitCollector(client, nil, 5, 0, knownBots, logger)
	issues := githubql.NewIssueCollector(client, nil, 0, time.UTC, logger)

	runner := fetch.NewRunner(discoverer, commits, issues, dailyCache, nil, fetch.Options{
		Org:           "acme",
		TrackedLogins: []string{"alice", "bob"},
		WorkerCount:   2,
	}, logger)

	dates := []string{"2026-08-20", "2026-08-21"}
	result := runner.Run(context.Background(), dates)
	if len(result.Fetched) != 2 || len(result.Failed) != 0 {
		t.Fatalf("first run result = %+v, want both dates fetched", result)
	}

	day1Record := dailyCache.Read("2026-08-20")
	if day1Record == nil {
		t.Fatal("day one record missing from cache")
	}
	for _, commit := range day1Record.Commits {
		if commit.SHA == "a1" && len(commit.Branches) != 2 {
			t.Fatalf("a1 branches = %v, want both main and release", commit.Branches)
		}
		if commit.SHA == "bot1" {
			t.Fatal("bot commit leaked into the cache")
		}
		if commit.Author == "mallory" {
			t.Fatal("untracked author leaked into the cache")
		}
	}

	// A second run over the same window skips both dates via the cache.
	discoveryCallsAfterFirst := fake.calls("discovery")
	result = runner.Run(context.Background(), dates)
	if len(result.Skipped) != 2 {
		t.Fatalf("second run result = %+v, want both dates skipped", result)
	}
	if fake.calls("discovery") != discoveryCallsAfterFirst {
		t.Fatal("skipped dates still hit the discovery endpoint")
	}

	agg := leaderboard.NewAggregator(dailyCache, logger)
	totals := agg.Aggregate(dates)

	alice := totals["alice"]
	if alice.CommitCount != 2 || alice.TotalLOC != 1300 || alice.IssuesClosed != 2 {
		t.Fatalf("alice totals = %+v, want commits=2 loc=1300 issues=2", alice)
	}
	bob := totals["bob"]
	if bob.CommitCount != 1 || bob.TotalLOC != 200 || bob.IssuesClosed != 1 {
		t.Fatalf("bob totals = %+v, want commits=1 loc=200 issues=1", bob)
	}

	scorer := leaderboard.NewScorer(config.ScoreConfig{
		WeightIssuesClosed:   0.4,
		WeightCommitCount:    0.3,
		WeightTotalAdditions: 0.2,
		WeightTotalDeletions: 0.1,
	})
	entries := scorer.Rank([]string{"alice", "bob"}, totals)
	if entries[0].Username != "alice" || entries[0].Rank != 1 {
		t.Fatalf("leaderboard head = %+v, want alice at rank 1", entries[0])
	}
	if entries[0].Score <= entries[1].Score {
		t.Fatalf("alice score %f should exceed bob score %f", entries[0].Score, entries[1].Score)
	}

	meta := dailyCache.ReadMetadata()
	if meta == nil || len(meta.CachedDates) != 2 {
		t.Fatalf("metadata = %+v, want both dates recorded", meta)
	}
}
