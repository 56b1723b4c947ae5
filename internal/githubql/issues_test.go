package githubql

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func issueSearchPage(hasNext bool, cursor string, issues ...string) string {
	nodes := ""
	for i, issue := range issues {
		if i > 0 {
			nodes += ","
		}
		nodes += issue
	}
	return fmt.Sprintf(`{"search":{
		"pageInfo":{"hasNextPage":%t,"endCursor":%q},
		"nodes":[%s]
	}}`, hasNext, cursor, nodes)
}

func issueNode(number int, closedAt, assignee, repo string) string {
	return fmt.Sprintf(`{
		"number": %d,
		"title": "issue %d",
		"closedAt": %q,
		"url": "https://github.test/%s/issues/%d",
		"repository": {"nameWithOwner": %q},
		"assignees": {"nodes": [{"login": %q}]},
		"labels": {"nodes": [{"name": "bug"}, {"name": "area/cache"}]}
	}`, number, number, closedAt, repo, number, repo, assignee)
}

func TestFetchClosedIssuesWindowBoundary(t *testing.T) {
	t.Parallel()

	windowStart := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 8, 20, 23, 59, 59, 0, time.UTC)

	requester := &scriptedRequester{payloads: []string{issueSearchPage(false, "",
		issueNode(1, "2026-08-20T23:59:59Z", "alice", "acme/widgets"),
		issueNode(2, "2026-08-21T00:00:00Z", "alice", "acme/widgets"),
		issueNode(3, "2026-08-20T00:00:00Z", "alice", "acme/widgets"),
		issueNode(4, "2026-08-19T23:59:59Z", "alice", "acme/widgets"),
	)}}

	collector := NewIssueCollector(requester, nil, 0, time.UTC, zap.NewNop())
	issues := collector.FetchClosedIssues(context.Background(), "alice", "acme", windowStart, windowEnd)

	if len(issues) != 2 {
		t.Fatalf("issues = %d, want exactly the boundary-inclusive pair", len(issues))
	}
	if issues[0].Number != 1 || issues[1].Number != 3 {
		t.Fatalf("issue numbers = %d, %d, want 1 and 3", issues[0].Number, issues[1].Number)
	}
}

func TestFetchClosedIssuesFiltersOrgAndAssignee(t *testing.T) {
	t.Parallel()

	windowStart := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(24*time.Hour - time.Second)

	requester := &scriptedRequester{payloads: []string{issueSearchPage(false, "",
		issueNode(1, "2026-08-20T10:00:00Z", "alice", "acme/widgets"),
		issueNode(2, "2026-08-20T10:00:00Z", "alice", "otherorg/widgets"),
		issueNode(3, "2026-08-20T10:00:00Z", "bob", "acme/widgets"),
	)}}

	collector := NewIssueCollector(requester, nil, 0, time.UTC, zap.NewNop())
	issues := collector.FetchClosedIssues(context.Background(), "alice", "acme", windowStart, windowEnd)

	if len(issues) != 1 || issues[0].Number != 1 {
		t.Fatalf("issues = %+v, want only the in-org issue assigned to alice", issues)
	}
	if issues[0].Assignee != "alice" {
		t.Fatalf("assignee = %q, want the queried login", issues[0].Assignee)
	}
	if len(issues[0].Labels) != 2 || issues[0].Labels[0] != "area/cache" {
		t.Fatalf("labels = %v, want sorted label names", issues[0].Labels)
	}
}

func TestFetchClosedIssuesPaginates(t *testing.T) {
	t.Parallel()

	windowStart := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(24*time.Hour - time.Second)

	requester := &scriptedRequester{payloads: []string{
		issueSearchPage(true, "page2", issueNode(1, "2026-08-20T08:00:00Z", "alice", "acme/widgets")),
		issueSearchPage(false, "", issueNode(2, "2026-08-20T09:00:00Z", "alice", "acme/widgets")),
	}}

	collector := NewIssueCollector(requester, nil, 0, time.UTC, zap.NewNop())
	issues := collector.FetchClosedIssues(context.Background(), "alice", "acme", windowStart, windowEnd)

	if len(issues) != 2 {
		t.Fatalf("issues = %d, want both pages collected", len(issues))
	}
	if cursor := requester.variables[1]["cursor"]; cursor != "page2" {
		t.Fatalf("second page cursor = %v, want page2", cursor)
	}
	if query, _ := requester.variables[0]["searchQuery"].(string); query != "org:acme assignee:alice is:issue is:closed" {
		t.Fatalf("search query = %q", query)
	}
}

func TestFetchClosedIssuesFailureReturnsCollected(t *testing.T) {
	t.Parallel()

	windowStart := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(24*time.Hour - time.Second)

	requester := &scriptedRequester{payloads: []string{
		issueSearchPage(true, "page2", issueNode(1, "2026-08-20T08:00:00Z", "alice", "acme/widgets")),
		"",
	}}

	collector := NewIssueCollector(requester, nil, 0, time.UTC, zap.NewNop())
	issues := collector.FetchClosedIssues(context.Background(), "alice", "acme", windowStart, windowEnd)

	if len(issues) != 1 {
		t.Fatalf("issues = %d, want first page kept after second page failed", len(issues))
	}
}

func TestNormalizeToLocation(t *testing.T) {
	t.Parallel()

	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	utcBound := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	normalized := normalizeToLocation(utcBound, denver)
	if normalized.Hour() != 9 || normalized.Location() != denver {
		t.Fatalf("normalized = %s, want same wall clock in Denver", normalized)
	}

	explicit := time.Date(2026, 8, 20, 9, 30, 0, 0, time.FixedZone("X", 3600))
	if got := normalizeToLocation(explicit, denver); !got.Equal(explicit) {
		t.Fatalf("explicit-offset bound was altered: %s", got)
	}
}
