// Package metricslog persists per-check metrics to per-target, per-day
// JSON files. The log is append-only from the caller's point of view
// and strictly best-effort: a full disk or unwritable directory must
// never fail a check.
package metricslog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// maxEntriesPerFile bounds a single day file; older entries within the
// day roll off the front.
const maxEntriesPerFile = 1000

const dayFormat = "2006-01-02"

// Log writes check metrics under a base directory, one file per target
// and day.
type Log struct {
	dir    string
	logger *logging.Logger

	mu sync.Mutex
}

// NewLog creates the metrics log rooted at dir.
func NewLog(dir string, logger *logging.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics log dir: %w", err)
	}
	return &Log{dir: dir, logger: logger}, nil
}

// Append records one check outcome for the target. Write failures are
// logged and dropped.
func (l *Log) Append(target *models.Target, result *models.CheckResult) {
	now := time.Now().UTC()

	entry := models.MetricsEntry{
		"timestamp": now.Format(time.RFC3339),
		"status":    string(result.Status),
	}
	for k, v := range result.Metrics {
		entry[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.filePath(target.ID, now)
	entries, err := readEntries(path)
	if err != nil {
		l.logWriteError(target.ID, err)
		entries = nil
	}

	entries = append(entries, entry)
	if len(entries) > maxEntriesPerFile {
		entries = entries[len(entries)-maxEntriesPerFile:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		l.logWriteError(target.ID, err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		l.logWriteError(target.ID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		l.logWriteError(target.ID, err)
	}
}

// Read returns the entries recorded for a target on the given day. A
// missing file yields an empty slice.
func (l *Log) Read(targetID string, day time.Time) ([]models.MetricsEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readEntries(l.filePath(targetID, day))
}

func (l *Log) filePath(targetID string, day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_%s.json", targetID, day.UTC().Format(dayFormat)))
}

func readEntries(path string) ([]models.MetricsEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []models.MetricsEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt metrics file %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

func (l *Log) logWriteError(targetID string, err error) {
	l.logger.WithComponent(logging.ComponentMetricsLog).
		WithError(err).
		WithFields(map[string]interface{}{"target_id": targetID}).
		Warn("Failed to write metrics log entry")
}
