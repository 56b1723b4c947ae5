package leaderboard

import (
	"slices"
	"sort"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"go.uber.org/zap"
)

// RecordReader reads cached day records. Dates with no record read as nil,
// which aggregation treats as zero activity.
type RecordReader interface {
	Read(date string) *activity.DayRecord
	ListDates() []string
}

// Aggregator rolls cached day records into per-user metrics.
type Aggregator struct {
	cache  RecordReader
	logger *zap.Logger
}

// NewAggregator creates an aggregator over a cache.
func NewAggregator(cache RecordReader, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cache: cache, logger: logger}
}

// Aggregate sums commit and issue activity across the given dates, grouped
// by commit author and issue assignee. Missing dates contribute nothing.
func (a *Aggregator) Aggregate(dates []string) map[string]activity.UserTotals {
	totals := make(map[string]activity.UserTotals)

	for _, date := range dates {
		record := a.cache.Read(date)
		if record == nil {
			a.logger.Debug("no cached record for date", zap.String("date", date))
			continue
		}

		for _, commit := range record.Commits {
			if commit.Author == "" {
				continue
			}
			t := totals[commit.Author]
			t.CommitCount++
			t.TotalAdditions += commit.Stats.Additions
			t.TotalDeletions += commit.Stats.Deletions
			t.TotalLOC += commit.Stats.Total
			totals[commit.Author] = t
		}

		for _, issue := range record.Issues {
			if issue.Assignee == "" {
				continue
			}
			t := totals[issue.Assignee]
			t.IssuesClosed++
			totals[issue.Assignee] = t
		}
	}

	return totals
}

// UserDaily projects one user's commit activity for a single date. A missing
// record yields zero metrics, never an error.
func (a *Aggregator) UserDaily(username, date string) activity.UserDayMetrics {
	metrics := activity.UserDayMetrics{Repositories: []string{}}

	record := a.cache.Read(date)
	if record == nil {
		return metrics
	}

	for _, commit := range record.Commits {
		if commit.Author != username {
			continue
		}
		metrics.CommitCount++
		metrics.Additions += commit.Stats.Additions
		metrics.Deletions += commit.Stats.Deletions
		metrics.TotalLOC += commit.Stats.Total
		if !slices.Contains(metrics.Repositories, commit.Repository) {
			metrics.Repositories = append(metrics.Repositories, commit.Repository)
		}
	}
	sort.Strings(metrics.Repositories)
	metrics.RepoCount = len(metrics.Repositories)
	return metrics
}

// UserSeries projects one user's daily commit metrics over a date range,
// keyed by date. Every requested date is present in the result.
func (a *Aggregator) UserSeries(username string, dates []string) map[string]activity.UserDayMetrics {
	series := make(map[string]activity.UserDayMetrics, len(dates))
	for _, date := range dates {
		series[date] = a.UserDaily(username, date)
	}
	return series
}
