//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// fakeGitHubGraphQL serves canned GraphQL responses for repository discovery,
// aliased commit batches, and issue search.
type fakeGitHubGraphQL struct {
	mu sync.Mutex

	server *httptest.Server

	repos     []fixtureRepo
	commits   map[string][]fixtureBranch
	issues    map[string][]fixtureIssue
	callCount map[string]int
}

type fixtureRepo struct {
	NameWithOwner string
	PushedAt      time.Time
}

type fixtureBranch struct {
	Name    string
	Commits []fixtureCommit
}

type fixtureCommit struct {
	SHA       string
	Login     string
	TypeName  string
	Name      string
	Email     string
	Message   string
	Timestamp time.Time
	Additions int
	Deletions int
}

type fixtureIssue struct {
	Number     int
	Title      string
	ClosedAt   time.Time
	Repository string
	Assignee   string
}

func newFakeGitHubGraphQL() *fakeGitHubGraphQL {
	fake := &fakeGitHubGraphQL{
		commits:   map[string][]fixtureBranch{},
		issues:    map[string][]fixtureIssue{},
		callCount: map[string]int{},
	}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.handle))
	return fake
}

func (f *fakeGitHubGraphQL) Close() {
	f.server.Close()
}

func (f *fakeGitHubGraphQL) URL() string {
	return f.server.URL
}

func (f *fakeGitHubGraphQL) calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[kind]
}

func (f *fakeGitHubGraphQL) handle(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case strings.Contains(request.Query, "organization(login:"):
		f.record("discovery")
		f.writeData(w, f.discoveryPayload())
	case strings.Contains(request.Query, "repo0: repository("):
		f.record("commits")
		f.writeData(w, f.commitPayload(request.Query))
	case strings.Contains(request.Query, "type: ISSUE"):
		f.record("issues")
		searchQuery, _ := request.Variables["searchQuery"].(string)
		f.writeData(w, f.issuePayload(searchQuery))
	default:
		http.Error(w, "unrecognized query", http.StatusBadRequest)
	}
}

func (f *fakeGitHubGraphQL) record(kind string) {
	f.mu.Lock()
	f.callCount[kind]++
	f.mu.Unlock()
}

func (f *fakeGitHubGraphQL) writeData(w http.ResponseWriter, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeGitHubGraphQL) discoveryPayload() map[string]any {
	nodes := make([]map[string]any, 0, len(f.repos))
	for _, repo := range f.repos {
		nodes = append(nodes, map[string]any{
			"nameWithOwner": repo.NameWithOwner,
			"pushedAt":      repo.PushedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{
		"organization": map[string]any{
			"repositories": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
				"nodes":    nodes,
			},
		},
	}
}

func (f *fakeGitHubGraphQL) commitPayload(query string) map[string]any {
	payload := map[string]any{}
	for i := 0; ; i++ {
		alias := fmt.Sprintf("repo%d:", i)
		idx := strings.Index(query, alias)
		if idx < 0 {
			break
		}
		fragment := query[idx:]
		fullName := repoNameFromQuery(fragment)
		since, until := windowFromQuery(fragment)
		branches := f.commits[fullName]

		refNodes := make([]map[string]any, 0, len(branches))
		for _, branch := range branches {
			historyNodes := make([]map[string]any, 0, len(branch.Commits))
			for _, commit := range branch.Commits {
				if commit.Timestamp.Before(since) || commit.Timestamp.After(until) {
					continue
				}
				var user map[string]any
				if commit.Login != "" {
					user = map[string]any{"login": commit.Login, "__typename": commit.TypeName}
				}
				historyNodes = append(historyNodes, map[string]any{
					"oid":             commit.SHA,
					"messageHeadline": commit.Message,
					"committedDate":   commit.Timestamp.UTC().Format(time.RFC3339),
					"additions":       commit.Additions,
					"deletions":       commit.Deletions,
					"author": map[string]any{
						"name":  commit.Name,
						"email": commit.Email,
						"user":  user,
					},
				})
			}
			refNodes = append(refNodes, map[string]any{
				"name": branch.Name,
				"target": map[string]any{
					"history": map[string]any{
						"pageInfo": map[string]any{"hasNextPage": false},
						"nodes":    historyNodes,
					},
				},
			})
		}

		payload[fmt.Sprintf("repo%d", i)] = map[string]any{
			"refs": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
				"nodes":    refNodes,
			},
		}
	}
	return payload
}

func (f *fakeGitHubGraphQL) issuePayload(searchQuery string) map[string]any {
	assignee := assigneeFromSearch(searchQuery)
	nodes := make([]map[string]any, 0)
	for _, issue := range f.issues[assignee] {
		nodes = append(nodes, map[string]any{
			"number":     issue.Number,
			"title":      issue.Title,
			"closedAt":   issue.ClosedAt.UTC().Format(time.RFC3339),
			"url":        fmt.Sprintf("https://github.test/%s/issues/%d", issue.Repository, issue.Number),
			"repository": map[string]any{"nameWithOwner": issue.Repository},
			"assignees": map[string]any{
				"nodes": []map[string]any{{"login": issue.Assignee}},
			},
			"labels": map[string]any{"nodes": []map[string]any{}},
		})
	}
	return map[string]any{
		"search": map[string]any{
			"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
			"nodes":    nodes,
		},
	}
}

// repoNameFromQuery extracts owner/name from the head of one aliased
// repository selection, e.g. `repo0: repository(owner: "acme", name: "w") {`.
func repoNameFromQuery(fragment string) string {
	owner := quotedArg(fragment, "owner:")
	name := quotedArg(fragment, "name:")
	return owner + "/" + name
}

func quotedArg(fragment, key string) string {
	idx := strings.Index(fragment, key)
	if idx < 0 {
		return ""
	}
	rest := fragment[idx+len(key):]
	open := strings.Index(rest, `"`)
	if open < 0 {
		return ""
	}
	rest = rest[open+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func windowFromQuery(fragment string) (time.Time, time.Time) {
	since, _ := time.Parse(time.RFC3339, quotedArg(fragment, "since:"))
	until, _ := time.Parse(time.RFC3339, quotedArg(fragment, "until:"))
	return since, until
}

func assigneeFromSearch(searchQuery string) string {
	for _, field := range strings.Fields(searchQuery) {
		if login, ok := strings.CutPrefix(field, "assignee:"); ok {
			return login
		}
	}
	return ""
}
