package githubql

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"
)

// Resource names one independently-bucketed API quota.
type Resource string

const (
	// ResourceGraphQL is the general GraphQL call bucket.
	ResourceGraphQL Resource = "graphql"
	// ResourceSearch is the search-query bucket.
	ResourceSearch Resource = "search"
)

// BucketStatus is the point-in-time state of one quota bucket.
type BucketStatus struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter polls GitHub's REST rate-limit endpoint and waits out quota
// exhaustion for the GraphQL and search buckets. Buckets are independent;
// callers name the one their next burst of calls will draw from.
type RateLimiter struct {
	rest         *github.Client
	safetyMargin time.Duration
	logger       *zap.Logger
	// Sleep and Now are injected for testability.
	Sleep func(duration time.Duration)
	Now   func() time.Time
}

// NewRateLimiter creates a rate limiter over an authenticated HTTP client.
func NewRateLimiter(httpClient *http.Client, apiBaseURL string, safetyMargin time.Duration, logger *zap.Logger) (*RateLimiter, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := github.NewClient(httpClient)
	trimmedBaseURL := strings.TrimSpace(apiBaseURL)
	if trimmedBaseURL != "" {
		parsedURL, err := url.Parse(trimmedBaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api base url: %w", err)
		}
		if parsedURL.Scheme == "" || parsedURL.Host == "" {
			return nil, fmt.Errorf("parse github api base url: missing scheme or host")
		}
		if !strings.HasSuffix(parsedURL.Path, "/") {
			parsedURL.Path += "/"
		}
		client.BaseURL = parsedURL
	}

	return &RateLimiter{
		rest:         client,
		safetyMargin: safetyMargin,
		logger:       logger,
		Sleep:        time.Sleep,
		Now:          time.Now,
	}, nil
}

// CheckAndWait blocks until the named bucket has at least minRemaining calls
// left. A failed status query is non-fatal: the caller proceeds optimistically
// rather than blocking forever.
func (r *RateLimiter) CheckAndWait(ctx context.Context, minRemaining int, resource Resource) {
	if r == nil {
		return
	}

	status, ok := r.bucketStatus(ctx, resource)
	if !ok {
		return
	}

	if status.Remaining >= minRemaining {
		r.logger.Debug("rate limit within budget",
			zap.String("resource", string(resource)),
			zap.Int("remaining", status.Remaining),
		)
		return
	}

	wait := status.ResetAt.Sub(r.Now()) + r.safetyMargin
	if wait <= 0 {
		return
	}

	r.logger.Warn("rate limit low, waiting for reset",
		zap.String("resource", string(resource)),
		zap.Int("remaining", status.Remaining),
		zap.Duration("wait", wait),
	)
	r.Sleep(wait)
}

// ResetTime reports the reset timestamp for the named bucket. The second
// return is false when the status endpoint could not be queried.
func (r *RateLimiter) ResetTime(ctx context.Context, resource Resource) (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	status, ok := r.bucketStatus(ctx, resource)
	if !ok {
		return time.Time{}, false
	}
	return status.ResetAt, true
}

// Status reports the current state of both buckets for status displays.
func (r *RateLimiter) Status(ctx context.Context) (map[Resource]BucketStatus, error) {
	limits, _, err := r.rest.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("query rate limit status: %w", err)
	}

	result := make(map[Resource]BucketStatus, 2)
	if limits.GraphQL != nil {
		result[ResourceGraphQL] = bucketFromRate(limits.GraphQL)
	}
	if limits.Search != nil {
		result[ResourceSearch] = bucketFromRate(limits.Search)
	}
	return result, nil
}

func (r *RateLimiter) bucketStatus(ctx context.Context, resource Resource) (BucketStatus, bool) {
	limits, _, err := r.rest.RateLimit.Get(ctx)
	if err != nil {
		r.logger.Warn("could not check rate limit", zap.Error(err))
		return BucketStatus{}, false
	}

	var rate *github.Rate
	switch resource {
	case ResourceSearch:
		rate = limits.Search
	default:
		rate = limits.GraphQL
	}
	if rate == nil {
		return BucketStatus{}, false
	}
	return bucketFromRate(rate), true
}

func bucketFromRate(rate *github.Rate) BucketStatus {
	return BucketStatus{
		Limit:     rate.Limit,
		Remaining: rate.Remaining,
		ResetAt:   rate.Reset.Time,
	}
}
