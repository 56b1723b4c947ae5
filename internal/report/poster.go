package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	posterMaxAttempts = 3
	posterBaseBackoff = 2 * time.Second
	posterTimeout     = 30 * time.Second
)

// Poster delivers leaderboard messages to a chat webhook.
type Poster struct {
	client     *http.Client
	webhookURL string
	logger     *zap.Logger

	// Sleep is replaceable in tests.
	Sleep func(time.Duration)
}

// NewPoster creates a webhook poster. An empty webhook URL disables posting;
// Post becomes a logged no-op.
func NewPoster(client *http.Client, webhookURL string, logger *zap.Logger) *Poster {
	if client == nil {
		client = &http.Client{Timeout: posterTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poster{
		client:     client,
		webhookURL: webhookURL,
		logger:     logger,
		Sleep:      time.Sleep,
	}
}

// Enabled reports whether a webhook URL is configured.
func (p *Poster) Enabled() bool {
	return p.webhookURL != ""
}

// Post sends one message, retrying transient failures with doubling backoff.
// A 4xx other than 429 is treated as permanent and not retried.
func (p *Poster) Post(ctx context.Context, message string) error {
	if !p.Enabled() {
		p.logger.Info("webhook posting disabled, skipping message")
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= posterMaxAttempts; attempt++ {
		lastErr = p.postOnce(ctx, payload)
		if lastErr == nil {
			p.logger.Info("posted leaderboard message", zap.Int("attempt", attempt))
			return nil
		}
		if permanent, ok := lastErr.(*permanentPostError); ok {
			return fmt.Errorf("webhook rejected message: %w", permanent)
		}

		p.logger.Warn("webhook post failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < posterMaxAttempts {
			p.Sleep(posterBaseBackoff << (attempt - 1))
		}
	}
	return fmt.Errorf("webhook post failed after %d attempts: %w", posterMaxAttempts, lastErr)
}

type permanentPostError struct {
	status int
	body   string
}

func (e *permanentPostError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (p *Poster) postOnce(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentPostError{status: resp.StatusCode, body: string(body)}
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
}
