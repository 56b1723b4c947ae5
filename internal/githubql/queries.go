package githubql

import (
	"fmt"
	"strings"
	"time"
)

const (
	branchPageSize      = 50
	historyPageSize     = 100
	commitMessageMaxLen = 100
	lookBehindBuffer    = 24 * time.Hour
)

const repoDiscoveryQuery = `
query($org: String!, $cursor: String) {
  organization(login: $org) {
    repositories(first: 100, orderBy: {field: PUSHED_AT, direction: DESC}, after: $cursor) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        nameWithOwner
        pushedAt
      }
    }
  }
}`

const issueSearchQuery = `
query($searchQuery: String!, $cursor: String) {
  search(query: $searchQuery, type: ISSUE, first: 100, after: $cursor) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ... on Issue {
        number
        title
        closedAt
        url
        repository {
          nameWithOwner
        }
        assignees(first: 10) {
          nodes {
            login
          }
        }
        labels(first: 20) {
          nodes {
            name
          }
        }
      }
    }
  }
}`

// batchTarget is one repository slot in an aliased commit-batch query. A
// non-empty cursor narrows the request to the repository's next branch page.
type batchTarget struct {
	owner  string
	name   string
	cursor string
}

// buildCommitBatchQuery renders one aliased query fetching branches and
// window-restricted commit history for every target repository in a single
// network call. The window bounds are inlined as GitTimestamp literals
// because aliased selections cannot share positional variables.
func buildCommitBatchQuery(targets []batchTarget, since, until time.Time) string {
	builder := strings.Builder{}
	builder.WriteString("query {\n")
	for i, target := range targets {
		afterArg := ""
		if target.cursor != "" {
			afterArg = fmt.Sprintf(", after: %q", target.cursor)
		}
		builder.WriteString(fmt.Sprintf(`  repo%d: repository(owner: %q, name: %q) {
    refs(refPrefix: "refs/heads/", first: %d%s) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        name
        target {
          ... on Commit {
            history(since: %q, until: %q, first: %d) {
              pageInfo {
                hasNextPage
              }
              nodes {
                oid
                messageHeadline
                committedDate
                additions
                deletions
                author {
                  name
                  email
                  user {
                    login
                    __typename
                  }
                }
              }
            }
          }
        }
      }
    }
  }
`,
			i, target.owner, target.name,
			branchPageSize, afterArg,
			since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339),
			historyPageSize,
		))
	}
	builder.WriteString("}")
	return builder.String()
}

// splitRepoName splits an "org/name" full name.
func splitRepoName(fullName string) (string, string, bool) {
	owner, name, found := strings.Cut(fullName, "/")
	if !found || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}
