package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// stubDetect classifies without touching the network.
func stubDetect(address string) *models.DetectionInfo {
	kind := models.KindHostname
	switch {
	case address == "192.168.1.10", address == "10.0.0.1":
		kind = models.KindIP
	case len(address) > 4 && address[:4] == "http":
		kind = models.KindAPI
	}
	return &models.DetectionInfo{Kind: kind, Status: "success"}
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(Config{
		DataDir:         dir,
		BackupRetention: 3,
		Detect:          stubDetect,
	}, logging.GetGlobalLogger())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return s
}

func TestAddInfersNameAndAppliesDefaults(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	tests := []struct {
		address  string
		wantKind models.TargetKind
		wantName string
	}{
		{"https://example.com/health", models.KindAPI, "API: example.com"},
		{"192.168.1.10", models.KindIP, "IP: 192.168.1.10"},
		{"db.internal", models.KindHostname, "Host: db.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			target, err := s.Add(tt.address, AddOptions{})
			if err != nil {
				t.Fatalf("Add returned error: %v", err)
			}
			if target.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", target.Kind, tt.wantKind)
			}
			if target.Name != tt.wantName {
				t.Errorf("name = %q, want %q", target.Name, tt.wantName)
			}
			if target.CheckInterval != 60 {
				t.Errorf("check interval = %d, want default 60", target.CheckInterval)
			}
			if target.AlertThreshold != 3 {
				t.Errorf("alert threshold = %d, want default 3", target.AlertThreshold)
			}
			if target.Group != "default" {
				t.Errorf("group = %q, want %q", target.Group, "default")
			}
			if target.Status.CurrentStatus != models.StatusPending {
				t.Errorf("initial status = %q, want pending", target.Status.CurrentStatus)
			}
			if target.ID == "" {
				t.Error("expected generated id")
			}
		})
	}
}

func TestAddEmptyAddress(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if _, err := s.Add("", AddOptions{}); err != ErrEmptyAddress {
		t.Errorf("Add(\"\") error = %v, want ErrEmptyAddress", err)
	}
}

func TestAddDetectionFailureStillCreates(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Config{
		DataDir: dir,
		Detect: func(address string) *models.DetectionInfo {
			return &models.DetectionInfo{
				Kind:   models.KindHostname,
				Status: "error",
				Info:   models.MetricsEntry{"error": "no such host"},
			}
		},
	}, logging.GetGlobalLogger())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	target, err := s.Add("ghost.internal", AddOptions{})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if target.DetectionInfo == nil || target.DetectionInfo.Status != "error" {
		t.Errorf("detection info = %+v, want recorded error", target.DetectionInfo)
	}
	if got := s.Get(target.ID); got == nil {
		t.Error("target missing from registry after failed detection")
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("10.0.0.1", AddOptions{})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	if !s.Remove(target.ID) {
		t.Error("Remove(existing) = false, want true")
	}
	if s.Get(target.ID) != nil {
		t.Error("target still present after removal")
	}
	if s.Remove("no-such-id") {
		t.Error("Remove(unknown) = true, want false")
	}
}

func TestUpdateStatusThresholdStateMachine(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("https://example.com", AddOptions{AlertThreshold: 3})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	fail := &models.CheckResult{Status: models.StatusError, Metrics: models.MetricsEntry{"error": "timeout"}}
	ok := &models.CheckResult{Status: models.StatusOK, Metrics: models.MetricsEntry{"response_time_ms": 12.0}}

	// Below threshold every failing result stores warning, regardless of
	// how the check graded it.
	for i := 1; i <= 2; i++ {
		tr := s.UpdateStatus(target.ID, fail)
		if tr == nil {
			t.Fatal("UpdateStatus returned nil for known target")
		}
		if tr.Current != models.StatusWarning {
			t.Errorf("failure %d: status = %q, want warning", i, tr.Current)
		}
		if tr.EnteredCritical {
			t.Errorf("failure %d: entered critical below threshold", i)
		}
		if tr.Target.Status.Failures != i {
			t.Errorf("failure %d: failures = %d", i, tr.Target.Status.Failures)
		}
	}

	// Third failure reaches the threshold exactly once.
	tr := s.UpdateStatus(target.ID, fail)
	if tr.Current != models.StatusCritical || !tr.EnteredCritical {
		t.Errorf("third failure: current=%q entered=%v, want critical edge", tr.Current, tr.EnteredCritical)
	}

	// Staying critical must not re-fire the edge.
	tr = s.UpdateStatus(target.ID, fail)
	if !((tr.Current == models.StatusCritical) && !tr.EnteredCritical) {
		t.Errorf("fourth failure: current=%q entered=%v, want critical without edge", tr.Current, tr.EnteredCritical)
	}
	if tr.Target.Status.Failures != 4 {
		t.Errorf("failures = %d, want 4", tr.Target.Status.Failures)
	}

	// Recovery resets the counter and fires the recovery edge.
	tr = s.UpdateStatus(target.ID, ok)
	if !tr.Recovered {
		t.Error("recovery edge not set on critical->ok")
	}
	if tr.Target.Status.Failures != 0 {
		t.Errorf("failures after recovery = %d, want 0", tr.Target.Status.Failures)
	}
	if tr.Target.Status.LastSuccess == nil {
		t.Error("last_success not recorded")
	}

	// ok->ok is not a recovery.
	tr = s.UpdateStatus(target.ID, ok)
	if tr.Recovered {
		t.Error("recovery edge fired without a critical previous state")
	}
}

func TestUpdateStatusCriticalOnlyAtThreshold(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("https://example.com", AddOptions{AlertThreshold: 3})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	// No single failing result may reach critical on its own, whatever
	// status the check reported.
	for _, status := range []models.Status{models.StatusWarning, models.StatusError, models.StatusCritical} {
		tr := s.UpdateStatus(target.ID, &models.CheckResult{Status: status})
		if tr.Current == models.StatusCritical || tr.EnteredCritical {
			t.Errorf("result %q: current=%q entered=%v, critical before threshold", status, tr.Current, tr.EnteredCritical)
		}
		if tr.Current != models.StatusWarning {
			t.Errorf("result %q: current = %q, want warning", status, tr.Current)
		}
		s.UpdateStatus(target.ID, &models.CheckResult{Status: models.StatusOK})
	}
}

func TestUpdateStatusUnknownTarget(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if tr := s.UpdateStatus("missing", &models.CheckResult{Status: models.StatusOK}); tr != nil {
		t.Errorf("UpdateStatus(unknown) = %+v, want nil", tr)
	}
}

func TestUpdateStatusRingCap(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("10.0.0.1", AddOptions{})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	total := models.RecentMetricsCap + 5
	for i := 0; i < total; i++ {
		s.UpdateStatus(target.ID, &models.CheckResult{
			Status:  models.StatusOK,
			Metrics: models.MetricsEntry{"seq": i},
		})
	}

	got := s.Get(target.ID)
	if len(got.Status.RecentMetrics) != models.RecentMetricsCap {
		t.Fatalf("ring length = %d, want %d", len(got.Status.RecentMetrics), models.RecentMetricsCap)
	}
	if seq := got.Status.RecentMetrics[0]["seq"]; seq != 5 {
		t.Errorf("oldest retained seq = %v, want 5", seq)
	}
	if seq := got.Status.RecentMetrics[models.RecentMetricsCap-1]["seq"]; seq != total-1 {
		t.Errorf("newest seq = %v, want %d", seq, total-1)
	}
}

func TestUpdateConfig(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("db.internal", AddOptions{})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	name := "Primary DB"
	interval := 15
	if !s.UpdateConfig(target.ID, ConfigUpdate{Name: &name, CheckInterval: &interval}) {
		t.Fatal("UpdateConfig(existing) = false")
	}

	got := s.Get(target.ID)
	if got.Name != name {
		t.Errorf("name = %q, want %q", got.Name, name)
	}
	if got.CheckInterval != interval {
		t.Errorf("check interval = %d, want %d", got.CheckInterval, interval)
	}
	if got.AlertThreshold != target.AlertThreshold {
		t.Errorf("alert threshold changed unexpectedly: %d", got.AlertThreshold)
	}
	if got.Kind != target.Kind || got.Address != target.Address {
		t.Error("kind or address changed; both are immutable")
	}

	bad := 0
	s.UpdateConfig(target.ID, ConfigUpdate{CheckInterval: &bad})
	if got := s.Get(target.ID); got.CheckInterval != interval {
		t.Errorf("non-positive interval applied: %d", got.CheckInterval)
	}

	if s.UpdateConfig("missing", ConfigUpdate{Name: &name}) {
		t.Error("UpdateConfig(unknown) = true, want false")
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	target, err := s.Add("10.0.0.1", AddOptions{CustomParams: map[string]interface{}{"ping_count": 3}})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	got := s.Get(target.ID)
	got.Name = "mutated"
	got.CustomParams["ping_count"] = 99

	fresh := s.Get(target.ID)
	if fresh.Name == "mutated" {
		t.Error("mutating a returned target leaked into the registry")
	}
	if fresh.CustomParams["ping_count"] == 99 {
		t.Error("mutating returned custom params leaked into the registry")
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if _, err := s.Add("https://example.com", AddOptions{Group: "prod"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if _, err := s.Add("10.0.0.1", AddOptions{Group: "prod"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if _, err := s.Add("db.internal", AddOptions{}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	if got := len(s.ListAll()); got != 3 {
		t.Errorf("ListAll count = %d, want 3", got)
	}
	if got := len(s.ListByGroup("prod")); got != 2 {
		t.Errorf("ListByGroup(prod) count = %d, want 2", got)
	}
	if got := len(s.ListByKind(models.KindIP)); got != 1 {
		t.Errorf("ListByKind(ip) count = %d, want 1", got)
	}

	counts := s.KindCounts()
	if counts[models.KindAPI] != 1 || counts[models.KindIP] != 1 || counts[models.KindHostname] != 1 {
		t.Errorf("KindCounts = %v", counts)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	target, err := s.Add("https://example.com", AddOptions{Name: "API: example", AlertThreshold: 2})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	fail := &models.CheckResult{Status: models.StatusError, Metrics: models.MetricsEntry{"error": "refused"}}
	s.UpdateStatus(target.ID, fail)
	s.UpdateStatus(target.ID, fail) // crosses the threshold, persists

	reopened := newTestStore(t, dir)
	got := reopened.Get(target.ID)
	if got == nil {
		t.Fatal("target lost across restart")
	}
	if got.Status.CurrentStatus != models.StatusCritical {
		t.Errorf("restored status = %q, want critical", got.Status.CurrentStatus)
	}
	if got.Status.Failures != 2 {
		t.Errorf("restored failures = %d, want 2", got.Status.Failures)
	}
	if got.Name != "API: example" {
		t.Errorf("restored name = %q", got.Name)
	}
}

func TestBackupRetention(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Config{
		DataDir:         dir,
		BackupRetention: 2,
		Detect:          stubDetect,
	}, logging.GetGlobalLogger())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Add(fmt.Sprintf("host-%d.internal", i), AddOptions{}); err != nil {
			t.Fatalf("Add returned error: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, backupDirName))
	if err != nil {
		t.Fatalf("reading backup dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("backup count = %d, want 2", len(entries))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			src := newTestStore(t, t.TempDir())
			target, err := src.Add("https://example.com", AddOptions{Group: "prod"})
			if err != nil {
				t.Fatalf("Add returned error: %v", err)
			}

			data, err := src.ExportConfig(format)
			if err != nil {
				t.Fatalf("ExportConfig(%s) returned error: %v", format, err)
			}

			dst := newTestStore(t, t.TempDir())
			n, err := dst.ImportConfig(data, format)
			if err != nil {
				t.Fatalf("ImportConfig(%s) returned error: %v", format, err)
			}
			if n != 1 {
				t.Errorf("imported = %d, want 1", n)
			}

			got := dst.Get(target.ID)
			if got == nil {
				t.Fatal("imported target missing")
			}
			if got.Address != target.Address || got.Kind != target.Kind || got.Group != target.Group {
				t.Errorf("imported target mismatch: %+v", got)
			}
		})
	}
}

func TestExportUnknownFormat(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	if _, err := s.ExportConfig("toml"); err == nil {
		t.Error("expected error for unknown export format")
	}
	if _, err := s.ImportConfig([]byte("{}"), "toml"); err == nil {
		t.Error("expected error for unknown import format")
	}
}
