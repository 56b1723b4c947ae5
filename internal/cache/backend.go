package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound reports that no record exists for a date.
var ErrNotFound = errors.New("cache record not found")

// Backend stores raw day-record payloads keyed by YYYY-MM-DD date. The
// DailyCache layers its change-aware write semantics on top.
type Backend interface {
	Read(date string) ([]byte, error)
	Write(date string, payload []byte) error
	Exists(date string) (bool, error)
	ListDates() ([]string, error)
	Delete(date string) error
	ReadMetadata() ([]byte, error)
	WriteMetadata(payload []byte) error
}

// FileBackend keeps one JSON file per date under a cache directory. Writes
// go through a temp file and rename so concurrent readers never observe a
// partial record.
type FileBackend struct {
	dir          string
	metadataPath string
}

// NewFileBackend creates a file backend, creating the cache directory as
// needed.
func NewFileBackend(dir, metadataPath string) (*FileBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if metadataPath != "" {
		if err := os.MkdirAll(filepath.Dir(metadataPath), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
	}
	return &FileBackend{dir: dir, metadataPath: metadataPath}, nil
}

func (b *FileBackend) path(date string) string {
	return filepath.Join(b.dir, date+".json")
}

// Read returns the stored payload for a date, or ErrNotFound.
func (b *FileBackend) Read(date string) ([]byte, error) {
	payload, err := os.ReadFile(b.path(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file for %s: %w", date, err)
	}
	return payload, nil
}

// Write atomically replaces the payload for a date.
func (b *FileBackend) Write(date string, payload []byte) error {
	return atomicWriteFile(b.path(date), payload)
}

// Exists reports whether a record is stored for a date.
func (b *FileBackend) Exists(date string) (bool, error) {
	_, err := os.Stat(b.path(date))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat cache file for %s: %w", date, err)
	}
	return true, nil
}

// ListDates returns all cached dates in ascending order.
func (b *FileBackend) ListDates() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache directory: %w", err)
	}

	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// Delete removes the record for a date. Deleting a missing date is a no-op.
func (b *FileBackend) Delete(date string) error {
	err := os.Remove(b.path(date))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache file for %s: %w", date, err)
	}
	return nil
}

// ReadMetadata returns the stored metadata payload, or ErrNotFound.
func (b *FileBackend) ReadMetadata() ([]byte, error) {
	if b.metadataPath == "" {
		return nil, ErrNotFound
	}
	payload, err := os.ReadFile(b.metadataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	return payload, nil
}

// WriteMetadata atomically replaces the metadata payload.
func (b *FileBackend) WriteMetadata(payload []byte) error {
	if b.metadataPath == "" {
		return nil
	}
	return atomicWriteFile(b.metadataPath, payload)
}

func atomicWriteFile(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
