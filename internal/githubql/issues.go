package githubql

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"go.uber.org/zap"
)

// IssueCollector fetches closed issues assigned to tracked contributors.
type IssueCollector struct {
	requester    Requester
	limiter      *RateLimiter
	minRemaining int
	location     *time.Location
	logger       *zap.Logger
}

// NewIssueCollector creates an issue collector. location is the reference
// zone that naive window bounds are normalized to; the limiter is optional.
func NewIssueCollector(requester Requester, limiter *RateLimiter, minRemaining int, location *time.Location, logger *zap.Logger) *IssueCollector {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IssueCollector{
		requester:    requester,
		limiter:      limiter,
		minRemaining: minRemaining,
		location:     location,
		logger:       logger,
	}
}

type issueSearchPayload struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []struct {
			Number     int    `json:"number"`
			Title      string `json:"title"`
			ClosedAt   string `json:"closedAt"`
			URL        string `json:"url"`
			Repository struct {
				NameWithOwner string `json:"nameWithOwner"`
			} `json:"repository"`
			Assignees struct {
				Nodes []struct {
					Login string `json:"login"`
				} `json:"nodes"`
			} `json:"assignees"`
			Labels struct {
				Nodes []struct {
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"labels"`
		} `json:"nodes"`
	} `json:"search"`
}

// FetchClosedIssues returns issues assigned to username, scoped to org, whose
// close time falls inside [windowStart, windowEnd]. Window bounds are
// re-anchored in the collector's reference zone before comparison. Returns an
// empty slice on total query failure or when nothing matches; "no results" is
// never an error.
func (c *IssueCollector) FetchClosedIssues(ctx context.Context, username, org string, windowStart, windowEnd time.Time) []activity.Issue {
	start := normalizeToLocation(windowStart, c.location)
	end := normalizeToLocation(windowEnd, c.location)

	searchQuery := fmt.Sprintf("org:%s assignee:%s is:issue is:closed", org, username)
	issues := []activity.Issue{}

	cursor := ""
	for {
		if c.limiter != nil {
			c.limiter.CheckAndWait(ctx, c.minRemaining, ResourceSearch)
		}

		variables := map[string]any{"searchQuery": searchQuery}
		if cursor != "" {
			variables["cursor"] = cursor
		}

		data := c.requester.Do(ctx, issueSearchQuery, variables)
		if data == nil {
			c.logger.Warn("issue search query failed",
				zap.String("username", username),
				zap.String("org", org),
			)
			return issues
		}

		var payload issueSearchPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			c.logger.Warn("decode issue search payload", zap.Error(err))
			return issues
		}

		for _, node := range payload.Search.Nodes {
			if node.Number == 0 && node.ClosedAt == "" {
				// Search unions can surface non-issue nodes as empty objects.
				continue
			}
			closedAt, err := time.Parse(time.RFC3339, node.ClosedAt)
			if err != nil {
				c.logger.Debug("skipping issue with unparsable close time",
					zap.String("closed_at", node.ClosedAt),
					zap.Int("number", node.Number),
				)
				continue
			}
			if closedAt.Before(start) || closedAt.After(end) {
				continue
			}
			if !strings.HasPrefix(node.Repository.NameWithOwner, org+"/") {
				continue
			}
			assigned := false
			for _, assignee := range node.Assignees.Nodes {
				if assignee.Login == username {
					assigned = true
					break
				}
			}
			if !assigned {
				continue
			}

			labels := make([]string, 0, len(node.Labels.Nodes))
			for _, label := range node.Labels.Nodes {
				labels = append(labels, label.Name)
			}
			slices.Sort(labels)

			issues = append(issues, activity.Issue{
				Number:     node.Number,
				Title:      node.Title,
				ClosedAt:   node.ClosedAt,
				Assignee:   username,
				Repository: node.Repository.NameWithOwner,
				URL:        node.URL,
				Labels:     labels,
			})
		}

		pageInfo := payload.Search.PageInfo
		if !pageInfo.HasNextPage {
			break
		}
		cursor = pageInfo.EndCursor
	}

	return issues
}

// normalizeToLocation re-anchors a bound's wall-clock reading in the
// reference zone. Bounds already carrying an explicit offset are preserved.
func normalizeToLocation(bound time.Time, location *time.Location) time.Time {
	if bound.Location() == time.UTC || bound.Location() == time.Local {
		return time.Date(
			bound.Year(), bound.Month(), bound.Day(),
			bound.Hour(), bound.Minute(), bound.Second(), bound.Nanosecond(),
			location,
		)
	}
	return bound
}
