package metricslog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := NewLog(t.TempDir(), logging.GetGlobalLogger())
	if err != nil {
		t.Fatalf("NewLog returned error: %v", err)
	}
	return l
}

func sampleTarget() *models.Target {
	return &models.Target{ID: "t1", Name: "IP: 10.0.0.1", Kind: models.KindIP}
}

func TestAppendAndRead(t *testing.T) {
	l := newTestLog(t)
	target := sampleTarget()

	l.Append(target, &models.CheckResult{
		Status:  models.StatusOK,
		Metrics: models.MetricsEntry{"avg_rtt_ms": 12.5},
	})
	l.Append(target, &models.CheckResult{
		Status:  models.StatusError,
		Metrics: models.MetricsEntry{"error": "host unreachable"},
	})

	entries, err := l.Read(target.ID, time.Now())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["status"] != "ok" {
		t.Errorf("first status = %v, want ok", entries[0]["status"])
	}
	if entries[0]["avg_rtt_ms"] != 12.5 {
		t.Errorf("avg_rtt_ms = %v, want 12.5", entries[0]["avg_rtt_ms"])
	}
	if entries[1]["error"] != "host unreachable" {
		t.Errorf("error = %v", entries[1]["error"])
	}
	if entries[0]["timestamp"] == nil {
		t.Error("timestamp missing")
	}
}

func TestReadMissingFile(t *testing.T) {
	l := newTestLog(t)

	entries, err := l.Read("nobody", time.Now())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestAppendCapsDayFile(t *testing.T) {
	l := newTestLog(t)
	target := sampleTarget()

	total := maxEntriesPerFile + 10
	for i := 0; i < total; i++ {
		l.Append(target, &models.CheckResult{
			Status:  models.StatusOK,
			Metrics: models.MetricsEntry{"seq": i},
		})
	}

	entries, err := l.Read(target.ID, time.Now())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != maxEntriesPerFile {
		t.Fatalf("entries = %d, want %d", len(entries), maxEntriesPerFile)
	}
	// JSON decoding turns numbers into float64.
	if entries[0]["seq"] != float64(10) {
		t.Errorf("oldest seq = %v, want 10", entries[0]["seq"])
	}
	if entries[len(entries)-1]["seq"] != float64(total-1) {
		t.Errorf("newest seq = %v, want %d", entries[len(entries)-1]["seq"], total-1)
	}
}

func TestAppendIsolatesTargetsAndDays(t *testing.T) {
	l := newTestLog(t)

	a := &models.Target{ID: "a", Kind: models.KindIP}
	b := &models.Target{ID: "b", Kind: models.KindAPI}
	l.Append(a, &models.CheckResult{Status: models.StatusOK})
	l.Append(b, &models.CheckResult{Status: models.StatusOK})
	l.Append(b, &models.CheckResult{Status: models.StatusOK})

	entriesA, _ := l.Read("a", time.Now())
	entriesB, _ := l.Read("b", time.Now())
	if len(entriesA) != 1 || len(entriesB) != 2 {
		t.Errorf("entries a=%d b=%d, want 1 and 2", len(entriesA), len(entriesB))
	}

	// Yesterday's file must stay empty.
	yesterday, _ := l.Read("a", time.Now().Add(-24*time.Hour))
	if len(yesterday) != 0 {
		t.Errorf("yesterday entries = %d, want 0", len(yesterday))
	}
}

func TestAppendSurvivesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLog(dir, logging.GetGlobalLogger())
	if err != nil {
		t.Fatalf("NewLog returned error: %v", err)
	}
	target := sampleTarget()

	path := l.filePath(target.ID, time.Now())
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A corrupt day file is replaced rather than wedging the log.
	l.Append(target, &models.CheckResult{Status: models.StatusOK})

	entries, err := l.Read(target.ID, time.Now())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	if _, err := os.Stat(filepath.Join(dir, filepath.Base(path))); err != nil {
		t.Errorf("day file missing after recovery: %v", err)
	}
}

func TestAppendConcurrent(t *testing.T) {
	l := newTestLog(t)
	target := sampleTarget()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Append(target, &models.CheckResult{Status: models.StatusOK})
			}
		}()
	}
	wg.Wait()

	entries, err := l.Read(target.ID, time.Now())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 200 {
		t.Errorf("entries = %d, want 200", len(entries))
	}
}
