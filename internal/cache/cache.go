package cache

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"go.uber.org/zap"
)

// Metadata summarizes cache contents for quick inspection without reading
// every day record.
type Metadata struct {
	LastUpdated string         `json:"last_updated"`
	CachedDates []string       `json:"cached_dates"`
	DateRange   *MetadataRange `json:"date_range,omitempty"`
}

// MetadataRange is the inclusive span of cached dates.
type MetadataRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DailyCache stores one activity record per calendar day. Writes are
// change-aware: rewriting a day whose commit payload has not changed keeps
// the original cached_at timestamp, so repeated runs over the same window
// leave stable records behind.
type DailyCache struct {
	backend Backend
	logger  *zap.Logger

	// Now is replaceable in tests.
	Now func() time.Time

	mu sync.Mutex
}

// New creates a daily cache over a storage backend.
func New(backend Backend, logger *zap.Logger) *DailyCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyCache{
		backend: backend,
		logger:  logger,
		Now:     time.Now,
	}
}

// Read returns the record for a date, or nil when the date is not cached or
// the stored record fails validation. A corrupt record is reported as a miss
// so callers refetch rather than aggregate bad data.
func (c *DailyCache) Read(date string) *activity.DayRecord {
	payload, err := c.backend.Read(date)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("date", date), zap.Error(err))
		return nil
	}

	var record activity.DayRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		c.logger.Warn("cache record is not valid JSON", zap.String("date", date), zap.Error(err))
		return nil
	}
	if err := record.Validate(); err != nil {
		c.logger.Warn("cache record failed validation", zap.String("date", date), zap.Error(err))
		return nil
	}
	return &record
}

// Write stores the record for a date. When an existing record's commits are
// value-equal to the incoming ones, the existing cached_at is preserved;
// otherwise cached_at is stamped with the current UTC time.
func (c *DailyCache) Write(date string, record activity.DayRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record.Date = date
	record.CommitCount = len(record.Commits)
	record.IssueCount = len(record.Issues)
	if record.Commits == nil {
		record.Commits = []activity.Commit{}
	}
	if record.Issues == nil {
		record.Issues = []activity.Issue{}
	}

	record.CachedAt = c.Now().UTC().Format(time.RFC3339)
	if existing := c.Read(date); existing != nil {
		same, err := commitsEqual(existing.Commits, record.Commits)
		if err != nil {
			c.logger.Warn("commit comparison failed, stamping fresh cache time",
				zap.String("date", date), zap.Error(err))
		} else if same {
			record.CachedAt = existing.CachedAt
		}
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", date, err)
	}
	if err := c.backend.Write(date, payload); err != nil {
		return fmt.Errorf("store record for %s: %w", date, err)
	}
	return nil
}

// Exists reports whether a date is cached.
func (c *DailyCache) Exists(date string) bool {
	exists, err := c.backend.Exists(date)
	if err != nil {
		c.logger.Warn("cache existence check failed", zap.String("date", date), zap.Error(err))
		return false
	}
	return exists
}

// ListDates returns every cached date in ascending order.
func (c *DailyCache) ListDates() []string {
	dates, err := c.backend.ListDates()
	if err != nil {
		c.logger.Warn("cache listing failed", zap.Error(err))
		return nil
	}
	return dates
}

// Clear removes the record for one date.
func (c *DailyCache) Clear(date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Delete(date)
}

// ClearAll removes every cached record.
func (c *DailyCache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dates, err := c.backend.ListDates()
	if err != nil {
		return fmt.Errorf("list cache dates: %w", err)
	}
	for _, date := range dates {
		if err := c.backend.Delete(date); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSchema checks every cached record and returns the dates whose
// records fail validation. An empty result means the cache is consistent.
func (c *DailyCache) ValidateSchema() []string {
	var invalid []string
	for _, date := range c.ListDates() {
		payload, err := c.backend.Read(date)
		if err != nil {
			invalid = append(invalid, date)
			continue
		}
		var record activity.DayRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			invalid = append(invalid, date)
			continue
		}
		if err := record.Validate(); err != nil {
			c.logger.Warn("schema validation failed",
				zap.String("date", date), zap.Error(err))
			invalid = append(invalid, date)
		}
	}
	return invalid
}

// WriteMetadata refreshes the cache summary from the currently cached dates.
func (c *DailyCache) WriteMetadata() error {
	dates := c.ListDates()
	meta := Metadata{
		LastUpdated: c.Now().UTC().Format(time.RFC3339),
		CachedDates: dates,
	}
	if len(dates) > 0 {
		meta.DateRange = &MetadataRange{
			Start: dates[0],
			End:   dates[len(dates)-1],
		}
	}

	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	if err := c.backend.WriteMetadata(payload); err != nil {
		return fmt.Errorf("store cache metadata: %w", err)
	}
	return nil
}

// ReadMetadata returns the cache summary, or nil when none has been written.
func (c *DailyCache) ReadMetadata() *Metadata {
	payload, err := c.backend.ReadMetadata()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache metadata read failed", zap.Error(err))
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		c.logger.Warn("cache metadata is not valid JSON", zap.Error(err))
		return nil
	}
	return &meta
}

// commitsEqual compares two commit slices by value using a canonical JSON
// digest, so field ordering and in-memory representation cannot affect the
// outcome.
func commitsEqual(left, right []activity.Commit) (bool, error) {
	leftSum, err := commitDigest(left)
	if err != nil {
		return false, err
	}
	rightSum, err := commitDigest(right)
	if err != nil {
		return false, err
	}
	return leftSum == rightSum, nil
}

func commitDigest(commits []activity.Commit) ([32]byte, error) {
	if commits == nil {
		commits = []activity.Commit{}
	}
	payload, err := json.Marshal(commits)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal commits: %w", err)
	}
	return sha256.Sum256(payload), nil
}
