package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

var validModes = []string{"fetch", "refresh", "report", "serve", "status"}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	Fetch     FetchConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Cache     CacheConfig
	Score     ScoreConfig
	Report    ReportConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server and logging settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures GitHub API interactions.
type GitHubConfig struct {
	Org            string
	GraphQLURL     string
	APIBaseURL     string
	RequestTimeout time.Duration
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	TrackedLogins  []string
	KnownBots      []string
	Timezone       string
}

// FetchConfig configures the date-window fetch pipeline.
type FetchConfig struct {
	Mode          string
	WorkerCount   int
	RepoBatchSize int
	DaysBack      int
	StartDate     string
	EndDate       string
	ForceRefresh  bool
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemaining int
	SafetyMargin time.Duration
}

// RetryConfig configures rate-limit retry backoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CacheConfig configures the per-date cache store.
type CacheConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	MetadataFile  string `yaml:"metadata_file"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Namespace     string `yaml:"namespace"`
}

// ScoreConfig configures leaderboard score weights.
type ScoreConfig struct {
	WeightIssuesClosed   float64 `yaml:"weight_issues_closed"`
	WeightCommitCount    float64 `yaml:"weight_commit_count"`
	WeightTotalAdditions float64 `yaml:"weight_total_additions"`
	WeightTotalDeletions float64 `yaml:"weight_total_deletions"`
}

// ReportConfig configures leaderboard delivery.
type ReportConfig struct {
	WebhookURL string
	TopN       int
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

// Load reads configuration from YAML, resolves environment secrets, and
// validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)
	resolveSecrets(cfg, raw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DateRange resolves the configured fetch window as inclusive calendar days.
func (c *Config) DateRange(now time.Time) (time.Time, time.Time, error) {
	if c.Fetch.StartDate != "" || c.Fetch.EndDate != "" {
		start, err := time.Parse("2006-01-02", c.Fetch.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse fetch.start_date: %w", err)
		}
		end := start
		if c.Fetch.EndDate != "" {
			end, err = time.Parse("2006-01-02", c.Fetch.EndDate)
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("parse fetch.end_date: %w", err)
			}
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("fetch.start_date %s is after fetch.end_date %s", c.Fetch.StartDate, c.Fetch.EndDate)
		}
		return start, end, nil
	}

	end := now.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(c.Fetch.DaysBack - 1))
	return start, end, nil
}

// Location resolves the configured reference timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.GitHub.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates configuration values. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.GitHub.Org == "" {
		errs = append(errs, "github.org is required")
	}
	appAuth := c.GitHub.AppID > 0 || c.GitHub.InstallationID > 0 || c.GitHub.PrivateKeyPath != ""
	if appAuth {
		if c.GitHub.AppID <= 0 {
			errs = append(errs, "github.app_id must be > 0 when app auth is configured")
		}
		if c.GitHub.InstallationID <= 0 {
			errs = append(errs, "github.installation_id must be > 0 when app auth is configured")
		}
		if c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github.private_key_path is required when app auth is configured")
		}
	} else if c.GitHub.Token == "" {
		errs = append(errs, "github token is not set: export the variable named by github.token_env or configure app auth")
	}
	if len(c.GitHub.TrackedLogins) == 0 {
		errs = append(errs, "github.tracked_logins must contain at least one login")
	}
	seenLogins := make(map[string]struct{}, len(c.GitHub.TrackedLogins))
	for _, login := range c.GitHub.TrackedLogins {
		if _, ok := seenLogins[login]; ok {
			errs = append(errs, "github.tracked_logins contains duplicate login: "+login)
		}
		seenLogins[login] = struct{}{}
	}
	if _, err := time.LoadLocation(c.GitHub.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("github.timezone %q is not a valid IANA zone", c.GitHub.Timezone))
	}

	if !slices.Contains(validModes, c.Fetch.Mode) {
		errs = append(errs, "fetch.mode must be one of fetch|refresh|report|serve|status")
	}
	if c.Fetch.WorkerCount < 1 {
		errs = append(errs, "fetch.worker_count must be >= 1")
	}
	if c.Fetch.RepoBatchSize < 1 {
		errs = append(errs, "fetch.repo_batch_size must be >= 1")
	}
	if c.Fetch.DaysBack < 1 && c.Fetch.StartDate == "" {
		errs = append(errs, "fetch.days_back must be >= 1 when no explicit date range is set")
	}
	if _, _, err := c.DateRange(time.Now()); err != nil {
		errs = append(errs, err.Error())
	}

	if c.RateLimit.MinRemaining < 0 {
		errs = append(errs, "rate_limit.min_remaining must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, "retry.initial_backoff must be > 0")
	}

	if c.Cache.Backend != "file" && c.Cache.Backend != "redis" {
		errs = append(errs, "cache.backend must be file or redis")
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required when cache.backend=redis")
	}

	for _, weight := range []struct {
		name  string
		value float64
	}{
		{"score.weight_issues_closed", c.Score.WeightIssuesClosed},
		{"score.weight_commit_count", c.Score.WeightCommitCount},
		{"score.weight_total_additions", c.Score.WeightTotalAdditions},
		{"score.weight_total_deletions", c.Score.WeightTotalDeletions},
	} {
		if weight.value < 0 {
			errs = append(errs, weight.name+" must be >= 0")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitHub.GraphQLURL == "" {
		cfg.GitHub.GraphQLURL = "https://api.github.com/graphql"
	}
	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com/"
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.GitHub.Timezone == "" {
		cfg.GitHub.Timezone = "UTC"
	}
	if len(cfg.GitHub.KnownBots) == 0 {
		cfg.GitHub.KnownBots = []string{
			"dependabot[bot]",
			"dependabot-preview[bot]",
			"github-actions[bot]",
			"renovate[bot]",
			"greenkeeper[bot]",
			"snyk-bot",
			"pyup-bot",
		}
	}
	if cfg.Fetch.Mode == "" {
		cfg.Fetch.Mode = "fetch"
	}
	if cfg.Fetch.WorkerCount == 0 {
		cfg.Fetch.WorkerCount = 4
	}
	if cfg.Fetch.RepoBatchSize == 0 {
		cfg.Fetch.RepoBatchSize = 5
	}
	if cfg.Fetch.DaysBack == 0 {
		cfg.Fetch.DaysBack = 7
	}
	if cfg.RateLimit.MinRemaining == 0 {
		cfg.RateLimit.MinRemaining = 100
	}
	if cfg.RateLimit.SafetyMargin == 0 {
		cfg.RateLimit.SafetyMargin = 2 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Minute
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 5 * time.Minute
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "cache/commits"
	}
	if cfg.Cache.MetadataFile == "" {
		cfg.Cache.MetadataFile = "cache/metadata.json"
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "org-pulse"
	}
	if scoreIsZero(cfg.Score) {
		cfg.Score = ScoreConfig{
			WeightIssuesClosed:   0.4,
			WeightCommitCount:    0.3,
			WeightTotalAdditions: 0.2,
			WeightTotalDeletions: 0.1,
		}
	}
	if cfg.Report.TopN == 0 {
		cfg.Report.TopN = 10
	}
}

func scoreIsZero(score ScoreConfig) bool {
	return score.WeightIssuesClosed == 0 &&
		score.WeightCommitCount == 0 &&
		score.WeightTotalAdditions == 0 &&
		score.WeightTotalDeletions == 0
}

func resolveSecrets(cfg *Config, raw rawConfig) {
	tokenEnv := strings.TrimSpace(raw.GitHub.TokenEnv)
	if tokenEnv == "" {
		tokenEnv = "GITHUB_TOKEN"
	}
	cfg.GitHub.Token = strings.TrimSpace(os.Getenv(tokenEnv))

	webhookEnv := strings.TrimSpace(raw.Report.WebhookURLEnv)
	if webhookEnv == "" {
		webhookEnv = "LEADERBOARD_WEBHOOK_URL"
	}
	cfg.Report.WebhookURL = strings.TrimSpace(os.Getenv(webhookEnv))
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    rawGitHub       `yaml:"github"`
	Fetch     rawFetch        `yaml:"fetch"`
	RateLimit rawRateLimit    `yaml:"rate_limit"`
	Retry     rawRetry        `yaml:"retry"`
	Cache     CacheConfig     `yaml:"cache"`
	Score     ScoreConfig     `yaml:"score"`
	Report    rawReport       `yaml:"report"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type rawGitHub struct {
	Org            string   `yaml:"org"`
	GraphQLURL     string   `yaml:"graphql_url"`
	APIBaseURL     string   `yaml:"api_base_url"`
	RequestTimeout duration `yaml:"request_timeout"`
	TokenEnv       string   `yaml:"token_env"`
	AppID          int64    `yaml:"app_id"`
	InstallationID int64    `yaml:"installation_id"`
	PrivateKeyPath string   `yaml:"private_key_path"`
	TrackedLogins  []string `yaml:"tracked_logins"`
	KnownBots      []string `yaml:"known_bots"`
	Timezone       string   `yaml:"timezone"`
}

type rawFetch struct {
	Mode          string `yaml:"mode"`
	WorkerCount   int    `yaml:"worker_count"`
	RepoBatchSize int    `yaml:"repo_batch_size"`
	DaysBack      int    `yaml:"days_back"`
	StartDate     string `yaml:"start_date"`
	EndDate       string `yaml:"end_date"`
	ForceRefresh  bool   `yaml:"force_refresh"`
}

type rawRateLimit struct {
	MinRemaining int      `yaml:"min_remaining"`
	SafetyMargin duration `yaml:"safety_margin"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawReport struct {
	WebhookURLEnv string `yaml:"webhook_url_env"`
	TopN          int    `yaml:"top_n"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			Org:            r.GitHub.Org,
			GraphQLURL:     r.GitHub.GraphQLURL,
			APIBaseURL:     r.GitHub.APIBaseURL,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
			AppID:          r.GitHub.AppID,
			InstallationID: r.GitHub.InstallationID,
			PrivateKeyPath: r.GitHub.PrivateKeyPath,
			TrackedLogins:  r.GitHub.TrackedLogins,
			KnownBots:      r.GitHub.KnownBots,
			Timezone:       r.GitHub.Timezone,
		},
		Fetch: FetchConfig{
			Mode:          r.Fetch.Mode,
			WorkerCount:   r.Fetch.WorkerCount,
			RepoBatchSize: r.Fetch.RepoBatchSize,
			DaysBack:      r.Fetch.DaysBack,
			StartDate:     r.Fetch.StartDate,
			EndDate:       r.Fetch.EndDate,
			ForceRefresh:  r.Fetch.ForceRefresh,
		},
		RateLimit: RateLimitConfig{
			MinRemaining: r.RateLimit.MinRemaining,
			SafetyMargin: r.RateLimit.SafetyMargin.Duration,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		Cache: r.Cache,
		Score: r.Score,
		Report: ReportConfig{
			TopN: r.Report.TopN,
		},
		Telemetry: r.Telemetry,
	}
}
