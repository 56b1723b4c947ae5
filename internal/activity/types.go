package activity

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DateLayout is the calendar-day key format used throughout the cache.
const DateLayout = "2006-01-02"

// CommitStats holds line-change counts for one commit.
type CommitStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// Commit is one commit authored by a tracked contributor. Identity is SHA;
// Branches accumulates every branch the commit was observed on during a
// single collection pass.
type Commit struct {
	SHA        string      `json:"sha"`
	Author     string      `json:"author"`
	Repository string      `json:"repository"`
	Timestamp  string      `json:"timestamp"`
	Message    string      `json:"message"`
	Stats      CommitStats `json:"stats"`
	Branches   []string    `json:"branches"`
}

// AddBranch appends a branch name if it is not already recorded.
func (c *Commit) AddBranch(branch string) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return
	}
	if slices.Contains(c.Branches, branch) {
		return
	}
	c.Branches = append(c.Branches, branch)
}

// Issue is one closed issue assigned to a tracked contributor.
// Identity is (Repository, Number).
type Issue struct {
	Number     int      `json:"number"`
	Title      string   `json:"title"`
	ClosedAt   string   `json:"closed_at"`
	Assignee   string   `json:"assignee"`
	Repository string   `json:"repository"`
	URL        string   `json:"url"`
	Labels     []string `json:"labels"`
}

// DayRecord is the persisted cache payload for one calendar date.
type DayRecord struct {
	Date        string   `json:"date"`
	CachedAt    string   `json:"cached_at"`
	Commits     []Commit `json:"commits"`
	CommitCount int      `json:"commit_count"`
	Issues      []Issue  `json:"issues"`
	IssueCount  int      `json:"issue_count"`
}

// Validate checks that a record read from disk carries the expected shape.
// Records written by an older cache layout fail here so the caller can
// invalidate the cache instead of mixing schema versions.
func (r *DayRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("day record is nil")
	}

	var errs []string
	if strings.TrimSpace(r.Date) == "" {
		errs = append(errs, "date is required")
	} else if _, err := time.Parse(DateLayout, r.Date); err != nil {
		errs = append(errs, fmt.Sprintf("date %q is not in YYYY-MM-DD form", r.Date))
	}
	if strings.TrimSpace(r.CachedAt) == "" {
		errs = append(errs, "cached_at is required")
	}
	if r.Commits == nil {
		errs = append(errs, "commits field is missing")
	}
	if r.CommitCount != len(r.Commits) {
		errs = append(errs, fmt.Sprintf("commit_count %d does not match %d commits", r.CommitCount, len(r.Commits)))
	}
	if r.Issues == nil {
		errs = append(errs, "issues field is missing")
	}
	if r.IssueCount != len(r.Issues) {
		errs = append(errs, fmt.Sprintf("issue_count %d does not match %d issues", r.IssueCount, len(r.Issues)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid day record: %s", strings.Join(errs, "; "))
	}
	return nil
}

// UserDayMetrics is the per-user projection of one day's cached commits.
// It is recomputed on every read and never persisted on its own.
type UserDayMetrics struct {
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	TotalLOC     int      `json:"total_loc"`
	CommitCount  int      `json:"commit_count"`
	Repositories []string `json:"repositories"`
	RepoCount    int      `json:"repo_count"`
}

// UserTotals is a per-user aggregate over one or more cached dates.
type UserTotals struct {
	IssuesClosed   int `json:"issues_closed"`
	CommitCount    int `json:"commit_count"`
	TotalLOC       int `json:"total_loc"`
	TotalAdditions int `json:"total_additions"`
	TotalDeletions int `json:"total_deletions"`
}

// TruncateMessage reduces a commit message to its first line, capped at
// maxLen characters.
func TruncateMessage(message string, maxLen int) string {
	firstLine, _, _ := strings.Cut(message, "\n")
	if maxLen > 0 && len(firstLine) > maxLen {
		return firstLine[:maxLen]
	}
	return firstLine
}
