package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"go.uber.org/zap"
)

// RepoDiscoverer finds repositories active near a date window. A nil result
// means discovery itself failed.
type RepoDiscoverer interface {
	DiscoverActiveRepos(ctx context.Context, org string, windowStart, windowEnd time.Time) []string
}

// CommitFetcher collects tracked-author commits for a set of repositories.
type CommitFetcher interface {
	FetchCommits(ctx context.Context, repos []string, windowStart, windowEnd time.Time, tracked map[string]struct{}) []activity.Commit
}

// IssueFetcher collects one user's closed issues inside a window.
type IssueFetcher interface {
	FetchClosedIssues(ctx context.Context, username, org string, windowStart, windowEnd time.Time) []activity.Issue
}

// DayStore is the cache surface the runner writes through.
type DayStore interface {
	Exists(date string) bool
	Write(date string, record activity.DayRecord) error
	ValidateSchema() []string
	ClearAll() error
	WriteMetadata() error
}

// Options configures a fetch run.
type Options struct {
	Org           string
	TrackedLogins []string
	WorkerCount   int
	ForceRefresh  bool
	Location      *time.Location
}

// Result reports per-date outcomes of a run. Failed dates were not cached
// and will be retried by the next run's existence checks.
type Result struct {
	Fetched []string
	Skipped []string
	Failed  []string
}

// Runner fans a date range out over a bounded worker pool, fetching and
// caching one calendar date per task.
type Runner struct {
	discoverer RepoDiscoverer
	commits    CommitFetcher
	issues     IssueFetcher
	cache      DayStore
	metrics    *Metrics
	logger     *zap.Logger

	org          string
	tracked      []string
	trackedSet   map[string]struct{}
	workerCount  int
	forceRefresh bool
	location     *time.Location
}

// NewRunner creates a fetch runner.
func NewRunner(discoverer RepoDiscoverer, commits CommitFetcher, issues IssueFetcher, cache DayStore, metrics *Metrics, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = 4
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}

	tracked := make([]string, 0, len(opts.TrackedLogins))
	trackedSet := make(map[string]struct{}, len(opts.TrackedLogins))
	for _, login := range opts.TrackedLogins {
		if _, seen := trackedSet[login]; seen {
			continue
		}
		trackedSet[login] = struct{}{}
		tracked = append(tracked, login)
	}
	sort.Strings(tracked)

	return &Runner{
		discoverer:   discoverer,
		commits:      commits,
		issues:       issues,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
		org:          opts.Org,
		tracked:      tracked,
		trackedSet:   trackedSet,
		workerCount:  workerCount,
		forceRefresh: opts.ForceRefresh,
		location:     location,
	}
}

// Run fetches every date in the list, parallelized across the worker pool.
// Dates already cached are skipped unless the runner was built with force
// refresh. Cancelling the context stops scheduling further dates; tasks
// already dispatched run to completion so their cache writes land. A run
// never returns an error for per-date failures, only reports them.
func (r *Runner) Run(ctx context.Context, dates []string) Result {
	if invalid := r.cache.ValidateSchema(); len(invalid) > 0 {
		// Mixed record shapes cannot be trusted; drop everything and
		// refetch rather than aggregate across schema versions.
		r.logger.Warn("cached records failed schema validation, clearing cache",
			zap.Strings("invalid_dates", invalid),
		)
		if err := r.cache.ClearAll(); err != nil {
			r.logger.Error("cache invalidation failed", zap.Error(err))
		}
	}

	var (
		mu     sync.Mutex
		result Result
	)
	record := func(list *[]string, date string) {
		mu.Lock()
		*list = append(*list, date)
		mu.Unlock()
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for date := range jobs {
				if !r.forceRefresh && r.cache.Exists(date) {
					r.logger.Debug("date already cached", zap.String("date", date))
					r.metrics.DatesSkipped.Inc()
					record(&result.Skipped, date)
					continue
				}
				if err := r.fetchDate(ctx, date); err != nil {
					r.logger.Warn("date fetch failed",
						zap.String("date", date),
						zap.Error(err),
					)
					r.metrics.DatesFailed.Inc()
					record(&result.Failed, date)
					continue
				}
				r.metrics.DatesFetched.Inc()
				record(&result.Fetched, date)
			}
		}()
	}

	for _, date := range dates {
		if ctx.Err() != nil {
			r.logger.Info("fetch cancelled, not scheduling remaining dates",
				zap.String("next_date", date),
			)
			break
		}
		jobs <- date
	}
	close(jobs)
	wg.Wait()

	if err := r.cache.WriteMetadata(); err != nil {
		r.logger.Warn("cache metadata update failed", zap.Error(err))
	}

	sort.Strings(result.Fetched)
	sort.Strings(result.Skipped)
	sort.Strings(result.Failed)

	r.logger.Info("fetch run complete",
		zap.Int("fetched", len(result.Fetched)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Strings("failed_dates", result.Failed),
	)
	return result
}

// fetchDate collects one calendar date's activity and writes it through the
// cache. Discovery must finish before commit collection; issue fetching is
// independent of both.
func (r *Runner) fetchDate(ctx context.Context, date string) error {
	day, err := time.ParseInLocation(activity.DateLayout, date, r.location)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", date, err)
	}
	windowStart := day
	windowEnd := day.Add(24*time.Hour - time.Second)

	repos := r.discoverer.DiscoverActiveRepos(ctx, r.org, windowStart, windowEnd)
	if repos == nil {
		return fmt.Errorf("repository discovery failed for %s", date)
	}

	commits := r.commits.FetchCommits(ctx, repos, windowStart, windowEnd, r.trackedSet)

	issues := []activity.Issue{}
	for _, login := range r.tracked {
		issues = append(issues, r.issues.FetchClosedIssues(ctx, login, r.org, windowStart, windowEnd)...)
	}

	if err := r.cache.Write(date, activity.DayRecord{
		Commits: commits,
		Issues:  issues,
	}); err != nil {
		return fmt.Errorf("cache write for %s: %w", date, err)
	}

	r.metrics.CommitsRecorded.Add(float64(len(commits)))
	r.metrics.IssuesRecorded.Add(float64(len(issues)))
	return nil
}
