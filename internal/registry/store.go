package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

var (
	// ErrEmptyAddress is returned when a target is added without an address.
	ErrEmptyAddress = errors.New("target address is empty")

	// ErrUnknownFormat is returned for export/import formats other than
	// json and yaml.
	ErrUnknownFormat = errors.New("unknown config format")
)

const (
	targetsFile      = "targets.json"
	backupDirName    = "backups"
	backupTimeFormat = "20060102_150405.000000000"
)

// Config controls store construction.
type Config struct {
	// DataDir holds targets.json and the backups directory.
	DataDir string

	// BackupRetention is the number of snapshot backups to keep.
	// Zero disables backups entirely.
	BackupRetention int

	// DefaultCheckInterval and DefaultAlertThreshold apply to targets
	// added without explicit values.
	DefaultCheckInterval  int
	DefaultAlertThreshold int

	// Detect overrides the detection probe, mainly for tests.
	Detect ProbeFunc
}

// Store is the runtime target registry. All reads and writes go through
// a single mutex; callers only ever see deep copies of targets, so a
// snapshot handed out before a concurrent update stays internally
// consistent.
type Store struct {
	mu      sync.Mutex
	targets map[string]*models.Target

	cfg    Config
	detect ProbeFunc
	logger *logging.Logger
}

// NewStore creates a registry rooted at cfg.DataDir and loads any
// previously persisted targets. A missing snapshot file is not an error;
// the store just starts empty.
func NewStore(cfg Config, logger *logging.Logger) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("registry data dir is required")
	}
	if cfg.DefaultCheckInterval <= 0 {
		cfg.DefaultCheckInterval = 60
	}
	if cfg.DefaultAlertThreshold <= 0 {
		cfg.DefaultAlertThreshold = 3
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &Store{
		targets: make(map[string]*models.Target),
		cfg:     cfg,
		detect:  cfg.Detect,
		logger:  logger,
	}
	if s.detect == nil {
		s.detect = DetectTarget
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	path := filepath.Join(s.cfg.DataDir, targetsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read targets file: %w", err)
	}

	var targets map[string]*models.Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return fmt.Errorf("failed to parse targets file: %w", err)
	}

	for id, t := range targets {
		if t.Status.CurrentStatus == "" {
			t.Status.CurrentStatus = models.StatusPending
		}
		s.targets[id] = t
	}

	s.logger.WithComponent(logging.ComponentRegistry).
		WithFields(map[string]interface{}{"targets": len(s.targets)}).
		Info("Loaded target registry")
	return nil
}

// AddOptions carries the optional fields of an add operation. Zero
// values fall back to configured defaults.
type AddOptions struct {
	Name           string
	Group          string
	CheckInterval  int
	AlertThreshold int
	Headers        map[string]string
	CustomParams   map[string]interface{}
}

// Add registers a new target. The address kind is auto-detected and the
// detection probe runs once; a failed probe is recorded in the target's
// DetectionInfo but never blocks creation. The new target starts in
// status pending with zero failures.
func (s *Store) Add(address string, opts AddOptions) (*models.Target, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	detection := s.detect(address)

	target := &models.Target{
		ID:             uuid.New().String(),
		Address:        address,
		Kind:           detection.Kind,
		Name:           opts.Name,
		Group:          opts.Group,
		CheckInterval:  opts.CheckInterval,
		AlertThreshold: opts.AlertThreshold,
		Headers:        opts.Headers,
		CustomParams:   opts.CustomParams,
		CreatedAt:      time.Now().UTC(),
		DetectionInfo:  detection,
		Status: models.TargetStatus{
			CurrentStatus: models.StatusPending,
		},
	}
	if target.Name == "" {
		target.Name = inferName(address, detection.Kind)
	}
	if target.CheckInterval <= 0 {
		target.CheckInterval = s.cfg.DefaultCheckInterval
	}
	if target.AlertThreshold <= 0 {
		target.AlertThreshold = s.cfg.DefaultAlertThreshold
	}
	if target.Group == "" {
		target.Group = "default"
	}

	s.mu.Lock()
	s.targets[target.ID] = target
	clone := target.Clone()
	s.persistLocked()
	s.mu.Unlock()

	s.logger.WithComponent(logging.ComponentRegistry).
		WithEvent(logging.EventTargetAdded).
		WithTarget(target.ID, target.Name, string(target.Kind)).
		WithFields(map[string]interface{}{"detection_status": detection.Status}).
		Info("Target added")

	return clone, nil
}

// Remove deletes a target by id. It reports whether the id existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	t, ok := s.targets[id]
	if ok {
		delete(s.targets, id)
		s.persistLocked()
	}
	s.mu.Unlock()

	if ok {
		s.logger.WithComponent(logging.ComponentRegistry).
			WithEvent(logging.EventTargetRemoved).
			WithTarget(id, t.Name, string(t.Kind)).
			Info("Target removed")
	}
	return ok
}

// Get returns a deep copy of the target, or nil when the id is unknown.
func (s *Store) Get(id string) *models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[id].Clone()
}

// ListAll returns deep copies of every registered target keyed by id.
func (s *Store) ListAll() map[string]*models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*models.Target, len(s.targets))
	for id, t := range s.targets {
		out[id] = t.Clone()
	}
	return out
}

// ListByGroup returns deep copies of the targets in the given group.
func (s *Store) ListByGroup(group string) map[string]*models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*models.Target)
	for id, t := range s.targets {
		if t.Group == group {
			out[id] = t.Clone()
		}
	}
	return out
}

// ListByKind returns deep copies of the targets of the given kind.
func (s *Store) ListByKind(kind models.TargetKind) map[string]*models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*models.Target)
	for id, t := range s.targets {
		if t.Kind == kind {
			out[id] = t.Clone()
		}
	}
	return out
}

// KindCounts returns the number of targets per kind, for gauge exports.
func (s *Store) KindCounts() map[models.TargetKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.TargetKind]int)
	for _, t := range s.targets {
		out[t.Kind]++
	}
	return out
}

// UpdateStatus applies a check result to the target's state machine and
// returns the resulting transition, or nil when the id is unknown.
//
// An OK result resets the consecutive failure count and sets status ok.
// Any non-OK result increments the count; the stored status becomes
// critical once the count reaches the alert threshold, warning below
// it. EnteredCritical is set only on the not-critical to critical
// edge, Recovered only on critical to ok.
func (s *Store) UpdateStatus(id string, result *models.CheckResult) *models.Transition {
	now := time.Now().UTC()

	s.mu.Lock()
	t, ok := s.targets[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	st := &t.Status
	prev := st.CurrentStatus
	prevFailures := st.Failures

	st.LastCheck = &now
	if result.Status == models.StatusOK {
		st.Failures = 0
		st.CurrentStatus = models.StatusOK
		st.LastSuccess = &now
	} else {
		st.Failures++
		st.LastFailure = &now
		if st.Failures >= t.AlertThreshold {
			st.CurrentStatus = models.StatusCritical
		} else {
			// Below the threshold every failing result is a warning,
			// however the check itself graded it.
			st.CurrentStatus = models.StatusWarning
		}
	}

	entry := models.MetricsEntry{
		"timestamp": now.Format(time.RFC3339),
		"status":    string(result.Status),
	}
	for k, v := range result.Metrics {
		entry[k] = v
	}
	st.RecentMetrics = append(st.RecentMetrics, entry)
	if len(st.RecentMetrics) > models.RecentMetricsCap {
		st.RecentMetrics = st.RecentMetrics[len(st.RecentMetrics)-models.RecentMetricsCap:]
	}

	tr := &models.Transition{
		Target:          t.Clone(),
		Previous:        prev,
		Current:         st.CurrentStatus,
		EnteredCritical: st.CurrentStatus == models.StatusCritical && prev != models.StatusCritical,
		Recovered:       prev == models.StatusCritical && st.CurrentStatus == models.StatusOK,
	}

	// Persist only on state boundaries: entering critical, or the first
	// clean result after failures. Steady-state checks stay in memory.
	if tr.EnteredCritical || (result.Status == models.StatusOK && prevFailures > 0) {
		s.persistLocked()
	}
	s.mu.Unlock()

	return tr
}

// ConfigUpdate carries the fields a running target may change. Nil
// pointers leave the stored value untouched. Address and kind are
// immutable after creation and deliberately absent here.
type ConfigUpdate struct {
	Name           *string
	Group          *string
	CheckInterval  *int
	AlertThreshold *int
	Headers        map[string]string
	CustomParams   map[string]interface{}
}

// UpdateConfig applies a partial config change to a target. It reports
// whether the id existed.
func (s *Store) UpdateConfig(id string, update ConfigUpdate) bool {
	s.mu.Lock()
	t, ok := s.targets[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if update.Name != nil {
		t.Name = *update.Name
	}
	if update.Group != nil {
		t.Group = *update.Group
	}
	if update.CheckInterval != nil && *update.CheckInterval > 0 {
		t.CheckInterval = *update.CheckInterval
	}
	if update.AlertThreshold != nil && *update.AlertThreshold > 0 {
		t.AlertThreshold = *update.AlertThreshold
	}
	if update.Headers != nil {
		t.Headers = update.Headers
	}
	if update.CustomParams != nil {
		t.CustomParams = update.CustomParams
	}

	s.persistLocked()
	s.mu.Unlock()

	s.logger.WithComponent(logging.ComponentRegistry).
		WithEvent(logging.EventTargetUpdated).
		WithFields(map[string]interface{}{"target_id": id}).
		Info("Target config updated")
	return true
}

// ExportConfig serializes the full registry in the given format
// ("json" or "yaml").
func (s *Store) ExportConfig(format string) ([]byte, error) {
	snapshot := s.ListAll()

	switch format {
	case "json", "":
		return json.MarshalIndent(snapshot, "", "  ")
	case "yaml":
		return yaml.Marshal(snapshot)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ImportConfig merges targets from a previously exported document into
// the registry. Existing ids are overwritten.
func (s *Store) ImportConfig(data []byte, format string) (int, error) {
	var targets map[string]*models.Target

	switch format {
	case "json", "":
		if err := json.Unmarshal(data, &targets); err != nil {
			return 0, fmt.Errorf("failed to parse import data: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &targets); err != nil {
			return 0, fmt.Errorf("failed to parse import data: %w", err)
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	s.mu.Lock()
	for id, t := range targets {
		if t.Status.CurrentStatus == "" {
			t.Status.CurrentStatus = models.StatusPending
		}
		s.targets[id] = t
	}
	s.persistLocked()
	s.mu.Unlock()

	s.logger.WithComponent(logging.ComponentRegistry).
		WithFields(map[string]interface{}{"imported": len(targets)}).
		Info("Imported target config")
	return len(targets), nil
}

// persistLocked writes the registry snapshot to disk and rotates a
// timestamped backup. The caller must hold s.mu. Persistence failures
// are logged and swallowed; the in-memory state is authoritative.
func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(s.targets, "", "  ")
	if err != nil {
		s.logPersistError("marshal", err)
		return
	}

	path := filepath.Join(s.cfg.DataDir, targetsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logPersistError("write", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logPersistError("rename", err)
		return
	}

	if s.cfg.BackupRetention > 0 {
		s.writeBackup(data)
	}
}

func (s *Store) writeBackup(data []byte) {
	dir := filepath.Join(s.cfg.DataDir, backupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logPersistError("backup_dir", err)
		return
	}

	name := fmt.Sprintf("targets_%s.json", time.Now().UTC().Format(backupTimeFormat))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		s.logPersistError("backup_write", err)
		return
	}

	s.pruneBackups(dir)
}

// pruneBackups deletes the oldest snapshots beyond the retention count.
// Backup names sort lexicographically by timestamp.
func (s *Store) pruneBackups(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logPersistError("backup_list", err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.cfg.BackupRetention {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.cfg.BackupRetention] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			s.logPersistError("backup_prune", err)
		}
	}
}

func (s *Store) logPersistError(stage string, err error) {
	s.logger.WithComponent(logging.ComponentRegistry).
		WithError(err).
		WithFields(map[string]interface{}{"stage": stage}).
		Error("Failed to persist target registry")
}
