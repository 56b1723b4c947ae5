package githubql

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Discoverer finds repositories that could contain commits in a date window.
type Discoverer struct {
	requester    Requester
	limiter      *RateLimiter
	minRemaining int
	logger       *zap.Logger
}

// NewDiscoverer creates a repository discoverer. The limiter is optional.
func NewDiscoverer(requester Requester, limiter *RateLimiter, minRemaining int, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		requester:    requester,
		limiter:      limiter,
		minRemaining: minRemaining,
		logger:       logger,
	}
}

type discoveryPayload struct {
	Organization struct {
		Repositories struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []struct {
				NameWithOwner string `json:"nameWithOwner"`
				PushedAt      string `json:"pushedAt"`
			} `json:"nodes"`
		} `json:"repositories"`
	} `json:"organization"`
}

// DiscoverActiveRepos returns the repositories whose last push falls at or
// after windowStart minus a one-day look-behind buffer. Repositories pushed
// after windowEnd are deliberately included: a repo pushed today can still
// hold commits dated yesterday deep in its branch history. Results arrive
// push-time-descending, so the first repository older than the bound ends
// pagination, every later one is at least as old. A nil result means the
// query itself failed; an org with no recently pushed repositories yields an
// empty, non-nil slice.
func (d *Discoverer) DiscoverActiveRepos(ctx context.Context, org string, windowStart, windowEnd time.Time) []string {
	lookBehind := windowStart.Add(-lookBehindBuffer)

	repos := []string{}
	cursor := ""
	for {
		if d.limiter != nil {
			d.limiter.CheckAndWait(ctx, d.minRemaining, ResourceGraphQL)
		}

		variables := map[string]any{"org": org}
		if cursor != "" {
			variables["cursor"] = cursor
		}

		data := d.requester.Do(ctx, repoDiscoveryQuery, variables)
		if data == nil {
			d.logger.Warn("repository discovery query failed", zap.String("org", org))
			return nil
		}

		var payload discoveryPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			d.logger.Warn("decode repository discovery payload", zap.Error(err))
			return nil
		}

		for _, node := range payload.Organization.Repositories.Nodes {
			pushedAt, err := time.Parse(time.RFC3339, node.PushedAt)
			if err != nil {
				d.logger.Debug("skipping repository with unparsable push time",
					zap.String("repo", node.NameWithOwner),
					zap.String("pushed_at", node.PushedAt),
				)
				continue
			}
			if pushedAt.Before(lookBehind) {
				d.logger.Debug("discovery early exit",
					zap.String("repo", node.NameWithOwner),
					zap.Time("pushed_at", pushedAt),
					zap.Time("look_behind", lookBehind),
				)
				return repos
			}
			repos = append(repos, node.NameWithOwner)
		}

		pageInfo := payload.Organization.Repositories.PageInfo
		if !pageInfo.HasNextPage {
			break
		}
		cursor = pageInfo.EndCursor
	}

	d.logger.Info("discovered active repositories",
		zap.String("org", org),
		zap.Int("count", len(repos)),
		zap.Time("window_start", windowStart),
		zap.Time("window_end", windowEnd),
	)
	return repos
}
