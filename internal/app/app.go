package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"github.com/cam3ron2/org-pulse/internal/cache"
	"github.com/cam3ron2/org-pulse/internal/config"
	"github.com/cam3ron2/org-pulse/internal/fetch"
	"github.com/cam3ron2/org-pulse/internal/githubql"
	"github.com/cam3ron2/org-pulse/internal/health"
	"github.com/cam3ron2/org-pulse/internal/leaderboard"
	"github.com/cam3ron2/org-pulse/internal/report"
)

// App wires the fetch, cache, and reporting pipeline from configuration and
// exposes one entry point per execution mode.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	cache    *cache.DailyCache
	limiter  *githubql.RateLimiter
	runner   *fetch.Runner
	agg      *leaderboard.Aggregator
	scorer   *leaderboard.Scorer
	poster   *report.Poster
	registry *prometheus.Registry
	closers  []func() error
}

// New builds the application from validated configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := newAuthenticatedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build github client: %w", err)
	}

	limiter, err := githubql.NewRateLimiter(httpClient, cfg.GitHub.APIBaseURL, cfg.RateLimit.SafetyMargin, logger)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	client := githubql.NewClient(httpClient, cfg.GitHub.GraphQLURL, githubql.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, limiter, logger)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		limiter:  limiter,
		scorer:   leaderboard.NewScorer(cfg.Score),
		registry: prometheus.NewRegistry(),
	}

	backend, err := app.newCacheBackend()
	if err != nil {
		return nil, err
	}
	app.cache = cache.New(backend, logger)
	app.agg = leaderboard.NewAggregator(app.cache, logger)
	app.poster = report.NewPoster(nil, cfg.Report.WebhookURL, logger)

	metrics := fetch.NewMetrics(app.registry)
	location := cfg.Location()
	discoverer := githubql.NewDiscoverer(client, limiter, cfg.RateLimit.MinRemaining, logger)
	commits := githubql.NewCommitCollector(client, limiter, cfg.Fetch.RepoBatchSize, cfg.RateLimit.MinRemaining, cfg.GitHub.KnownBots, logger)
	issues := githubql.NewIssueCollector(client, limiter, cfg.RateLimit.MinRemaining, location, logger)

	app.runner = fetch.NewRunner(discoverer, commits, issues, app.cache, metrics, fetch.Options{
		Org:           cfg.GitHub.Org,
		TrackedLogins: cfg.GitHub.TrackedLogins,
		WorkerCount:   cfg.Fetch.WorkerCount,
		ForceRefresh:  cfg.Fetch.ForceRefresh || cfg.Fetch.Mode == "refresh",
		Location:      location,
	}, logger)

	return app, nil
}

// Close releases backend resources.
func (a *App) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("close resource", zap.Error(err))
		}
	}
}

func newAuthenticatedClient(cfg *config.Config) (*http.Client, error) {
	if cfg.GitHub.AppID > 0 {
		return githubql.NewInstallationHTTPClient(githubql.InstallationAuthConfig{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
		})
	}
	return githubql.NewTokenHTTPClient(githubql.TokenAuthConfig{
		Token:   cfg.GitHub.Token,
		Timeout: cfg.GitHub.RequestTimeout,
	})
}

func (a *App) newCacheBackend() (cache.Backend, error) {
	if a.cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		backend := cache.NewRedisBackend(client, cache.RedisBackendConfig{
			Namespace: a.cfg.Cache.Namespace,
		})
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	}

	backend, err := cache.NewFileBackend(a.cfg.Cache.Dir, a.cfg.Cache.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("build file cache: %w", err)
	}
	return backend, nil
}

// RunFetch fetches the configured date range into the cache. Per-date
// failures do not abort the run; they are reported and left uncached so the
// next run retries them.
func (a *App) RunFetch(ctx context.Context) error {
	dates, err := a.configuredDates()
	if err != nil {
		return err
	}

	a.logger.Info("starting fetch",
		zap.String("org", a.cfg.GitHub.Org),
		zap.Int("dates", len(dates)),
		zap.Int("workers", a.cfg.Fetch.WorkerCount),
	)

	result := a.runner.Run(ctx, dates)
	if len(result.Failed) > 0 {
		return fmt.Errorf("fetch completed with %d failed dates: %v", len(result.Failed), result.Failed)
	}
	return nil
}

// RunReport renders the leaderboard over the configured range to stdout and,
// when a webhook is configured, posts the formatted message. Report mode reads
// only the cache; it performs no fetching.
func (a *App) RunReport(ctx context.Context) error {
	dates, err := a.configuredDates()
	if err != nil {
		return err
	}

	entries := a.leaderboard(dates)
	rangeLabel := report.FormatDateRange(dates[0], dates[len(dates)-1])
	periodType := "Daily"
	if len(dates) > 1 {
		periodType = "Weekly"
	}

	title := fmt.Sprintf("%s Leaderboard (%s)", periodType, rangeLabel)
	if err := report.PrintLeaderboard(os.Stdout, title, entries); err != nil {
		return fmt.Errorf("render leaderboard table: %w", err)
	}

	if a.poster.Enabled() {
		message := report.FormatLeaderboardMessage(periodType, rangeLabel, entries, "")
		if err := a.poster.Post(ctx, message); err != nil {
			return fmt.Errorf("post leaderboard: %w", err)
		}
	}
	return nil
}

// RunServe exposes the leaderboard, health, and metrics endpoints until the
// context is cancelled.
func (a *App) RunServe(ctx context.Context) error {
	metricsHandler := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	handler := report.NewHTTPHandler(a, metricsHandler, health.NewHandler(a), a.logger)

	server := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", zap.String("addr", a.cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// RunStatus prints rate-limit bucket state and a cache summary.
func (a *App) RunStatus(ctx context.Context) error {
	status, err := a.limiter.Status(ctx)
	if err != nil {
		return err
	}
	for _, resource := range []githubql.Resource{githubql.ResourceGraphQL, githubql.ResourceSearch} {
		bucket, ok := status[resource]
		if !ok {
			continue
		}
		fmt.Printf("%-8s remaining %d/%d, resets %s\n",
			resource, bucket.Remaining, bucket.Limit, bucket.ResetAt.Local().Format(time.RFC3339))
	}

	dates := a.cache.ListDates()
	fmt.Printf("cache: %d dates", len(dates))
	if len(dates) > 0 {
		fmt.Printf(" (%s to %s)", dates[0], dates[len(dates)-1])
	}
	fmt.Println()
	if meta := a.cache.ReadMetadata(); meta != nil {
		fmt.Printf("last updated: %s\n", meta.LastUpdated)
	}
	return nil
}

// CurrentStatus implements health.Provider. The cache must be listable to
// serve leaderboards; an unreachable GitHub API only degrades, since serving
// reads cached records.
func (a *App) CurrentStatus(ctx context.Context) health.Status {
	_, githubErr := a.limiter.Status(ctx)
	return health.NewStatusEvaluator().Evaluate(health.Input{
		CacheHealthy:  a.cache.ListDates() != nil,
		GitHubHealthy: githubErr == nil,
	})
}

// Leaderboard implements report.LeaderboardSource.
func (a *App) Leaderboard(dates []string) []leaderboard.Entry {
	return a.leaderboard(dates)
}

// CachedDates implements report.LeaderboardSource.
func (a *App) CachedDates() []string {
	return a.cache.ListDates()
}

func (a *App) leaderboard(dates []string) []leaderboard.Entry {
	totals := a.agg.Aggregate(dates)
	entries := a.scorer.Rank(a.cfg.GitHub.TrackedLogins, totals)
	if a.cfg.Report.TopN > 0 && len(entries) > a.cfg.Report.TopN {
		entries = entries[:a.cfg.Report.TopN]
	}
	return entries
}

// configuredDates expands the configured window into calendar-day strings.
func (a *App) configuredDates() ([]string, error) {
	start, end, err := a.cfg.DateRange(time.Now())
	if err != nil {
		return nil, err
	}

	var dates []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(activity.DateLayout))
	}
	return dates, nil
}
