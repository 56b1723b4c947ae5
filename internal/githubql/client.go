package githubql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cam3ron2/org-pulse/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

// RetryConfig configures rate-limit retry behavior.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Requester issues one GraphQL request and returns the data payload, or nil
// when no data could be obtained. Collectors depend on this interface.
type Requester interface {
	Do(ctx context.Context, query string, variables map[string]any) json.RawMessage
}

// Client issues GraphQL requests with in-band rate-limit detection and
// bounded, reset-time-aware retries. Every failure degrades to a nil payload;
// callers treat nil as "no data for this call" and continue.
type Client struct {
	doer    HTTPDoer
	url     string
	retry   RetryConfig
	limiter *RateLimiter
	logger  *zap.Logger
	// Sleep is injected for testability.
	Sleep func(duration time.Duration)
}

// NewClient creates a GraphQL client. The limiter is optional; when present
// it supplies exact reset times for rate-limit waits.
func NewClient(doer HTTPDoer, graphqlURL string, retry RetryConfig, limiter *RateLimiter, logger *zap.Logger) *Client {
	if strings.TrimSpace(graphqlURL) == "" {
		graphqlURL = defaultGraphQLURL
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		doer:    doer,
		url:     graphqlURL,
		retry:   retry,
		limiter: limiter,
		logger:  logger,
		Sleep:   time.Sleep,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Do sends one query. Rate-limit-shaped errors are retried with a
// reset-time-aware or exponential-backoff delay; transport failures and other
// application errors yield nil without retry.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any) json.RawMessage {
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("org-pulse/internal/githubql").Start(
			ctx,
			"githubql.client.do",
			trace.WithAttributes(
				attribute.Int("github.max_attempts", c.retry.MaxAttempts),
			),
		)
		defer span.End()
	}

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		payload, rateLimited := c.doOnce(ctx, query, variables, span, attempt)
		if payload != nil {
			if span != nil {
				span.SetStatus(codes.Ok, "request completed")
			}
			return payload
		}
		if !rateLimited {
			if span != nil {
				span.SetStatus(codes.Error, "request failed")
			}
			return nil
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		c.Sleep(c.rateLimitWait(ctx, attempt))
	}

	if span != nil {
		span.SetStatus(codes.Error, "rate-limit retries exhausted")
	}
	c.logger.Error("graphql request gave up after rate-limit retries",
		zap.Int("attempts", c.retry.MaxAttempts),
	)
	return nil
}

// doOnce performs a single request. The second return reports whether the
// failure was rate-limit shaped and therefore retryable.
func (c *Client) doOnce(ctx context.Context, query string, variables map[string]any, span trace.Span, attempt int) (json.RawMessage, bool) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		c.logger.Error("marshal graphql request", zap.Error(err))
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("build graphql request", zap.Error(err))
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		c.logger.Warn("graphql transport failure", zap.Error(err))
		return nil, false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if span != nil {
		span.AddEvent("attempt_completed", trace.WithAttributes(
			attribute.Int("github.attempt", attempt),
			attribute.Int("http.status_code", resp.StatusCode),
		))
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("graphql rate limited by http status", zap.Int("status", resp.StatusCode))
		return nil, true
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("graphql unexpected status", zap.Int("status", resp.StatusCode))
		return nil, false
	}

	var parsed graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("decode graphql response", zap.Error(err))
		return nil, false
	}

	// The GraphQL error channel can carry rate-limit information inside a
	// 200 response; HTTP status alone is not enough.
	if len(parsed.Errors) > 0 {
		if hasRateLimitError(parsed.Errors) {
			c.logger.Warn("graphql rate limited in response body")
			return nil, true
		}
		c.logger.Warn("graphql returned errors", zap.String("first_error", parsed.Errors[0].Message))
		return nil, false
	}

	if len(parsed.Data) == 0 || string(parsed.Data) == "null" {
		return nil, false
	}
	return parsed.Data, false
}

// rateLimitWait prefers the exact reset time from the live status endpoint
// and falls back to exponential backoff.
func (c *Client) rateLimitWait(ctx context.Context, attempt int) time.Duration {
	if c.limiter != nil {
		if resetAt, ok := c.limiter.ResetTime(ctx, ResourceGraphQL); ok {
			wait := resetAt.Sub(c.limiter.Now()) + c.limiter.safetyMargin
			if wait > 0 {
				c.logger.Info("waiting until rate limit reset", zap.Duration("wait", wait))
				return wait
			}
		}
	}
	backoff := backoffForAttempt(c.retry, attempt)
	c.logger.Info("backing off before rate-limit retry",
		zap.Int("attempt", attempt),
		zap.Duration("wait", backoff),
	)
	return backoff
}

func hasRateLimitError(errs []graphQLError) bool {
	for _, gqlErr := range errs {
		if strings.EqualFold(gqlErr.Type, "RATE_LIMITED") {
			return true
		}
		if strings.Contains(strings.ToLower(gqlErr.Message), "rate limit") {
			return true
		}
	}
	return false
}

func backoffForAttempt(retry RetryConfig, attempt int) time.Duration {
	backoff := retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
			return retry.MaxBackoff
		}
	}
	if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
		return retry.MaxBackoff
	}
	return backoff
}

var _ Requester = (*Client)(nil)
