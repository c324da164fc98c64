// Package storage keeps a rolling history of check outcomes in
// BadgerDB. Entries carry a TTL so history trims itself; the registry
// snapshot on disk stays the source of truth for configuration.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// CheckRecord is one persisted check outcome.
type CheckRecord struct {
	TargetID  string              `json:"target_id"`
	Status    models.Status       `json:"status"`
	Metrics   models.MetricsEntry `json:"metrics,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// HistoryStore persists check records with per-record TTL.
type HistoryStore struct {
	db            *badger.DB
	logger        *logging.Logger
	retentionDays int
}

const (
	recordKeyPrefix   = "check"
	latestKeyPrefix   = "latest"
	timestampKeyWidth = 20
)

func formatTimestampKey(ts int64) string {
	return fmt.Sprintf("%0*d", timestampKeyWidth, ts)
}

// NewHistoryStore opens the history database at path. An empty path
// opens an in-memory database, used by tests.
func NewHistoryStore(path string, retentionDays int, logger *logging.Logger) (*HistoryStore, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	store := &HistoryStore{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
	}

	go store.runGC()

	logger.WithComponent(logging.ComponentStorage).
		WithFields(map[string]interface{}{
			"path":          path,
			"retentionDays": retentionDays,
		}).
		Info("Check history storage initialized")

	return store, nil
}

// StoreRecord appends one check outcome to the target's history and
// refreshes the latest-record cache.
func (hs *HistoryStore) StoreRecord(record *CheckRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	key := fmt.Sprintf("%s:%s:%s", recordKeyPrefix, record.TargetID, formatTimestampKey(record.Timestamp.UnixNano()))

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	ttl := time.Duration(hs.retentionDays) * 24 * time.Hour

	err = hs.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	latestKey := fmt.Sprintf("%s:%s", latestKeyPrefix, record.TargetID)
	err = hs.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(latestKey), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		hs.logger.WithComponent(logging.ComponentStorage).
			WithError(err).
			Warn("Failed to update latest record cache")
	}

	return nil
}

// GetLatest returns the most recent record for a target, or nil when
// the target has no history.
func (hs *HistoryStore) GetLatest(targetID string) (*CheckRecord, error) {
	latestKey := fmt.Sprintf("%s:%s", latestKeyPrefix, targetID)

	var record *CheckRecord
	err := hs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			record = &CheckRecord{}
			return json.Unmarshal(val, record)
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}
	return record, nil
}

// GetRecords returns a target's records within [start, end], oldest
// first, up to limit.
func (hs *HistoryStore) GetRecords(targetID string, start, end time.Time, limit int) ([]*CheckRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	prefix := []byte(fmt.Sprintf("%s:%s:", recordKeyPrefix, targetID))
	startKey := []byte(fmt.Sprintf("%s:%s:%s", recordKeyPrefix, targetID, formatTimestampKey(start.UnixNano())))
	endKey := []byte(fmt.Sprintf("%s:%s:%s", recordKeyPrefix, targetID, formatTimestampKey(end.UnixNano())))

	var records []*CheckRecord

	err := hs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), endKey) > 0 {
				break
			}
			if len(records) >= limit {
				break
			}

			err := item.Value(func(val []byte) error {
				var record CheckRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				records = append(records, &record)
				return nil
			})
			if err != nil {
				hs.logger.WithComponent(logging.ComponentStorage).
					WithError(err).
					Warn("Failed to unmarshal record")
				continue
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	return records, nil
}

// TargetIDs returns every target id with stored history.
func (hs *HistoryStore) TargetIDs() ([]string, error) {
	ids := make(map[string]bool)

	err := hs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recordKeyPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			colonIdx := bytes.LastIndexByte(rest, ':')
			if colonIdx <= 0 {
				continue
			}
			if id := string(rest[:colonIdx]); id != "" {
				ids[id] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list target ids: %w", err)
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

// Close gracefully closes the database.
func (hs *HistoryStore) Close() error {
	hs.logger.WithComponent(logging.ComponentStorage).Info("Closing check history storage")
	return hs.db.Close()
}

func (hs *HistoryStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		err := hs.db.RunValueLogGC(0.5)
		if err != nil && err != badger.ErrNoRewrite {
			hs.logger.WithComponent(logging.ComponentStorage).
				WithError(err).
				Debug("Garbage collection completed with notice")
		}
	}
}

// badgerLogger adapts our logger to BadgerDB's logger interface.
type badgerLogger struct {
	logger *logging.Logger
}

func (bl *badgerLogger) Errorf(format string, args ...interface{}) {
	bl.logger.WithComponent("badger").Errorf(format, args...)
}

func (bl *badgerLogger) Warningf(format string, args ...interface{}) {
	bl.logger.WithComponent("badger").Warnf(format, args...)
}

func (bl *badgerLogger) Infof(format string, args ...interface{}) {
	bl.logger.WithComponent("badger").Infof(format, args...)
}

func (bl *badgerLogger) Debugf(format string, args ...interface{}) {
	bl.logger.WithComponent("badger").Debugf(format, args...)
}
