package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/kubeheal/remediator/internal/incident"
)

const recordPrefix = "h/"

// BadgerStore is the durable history store. Appends are synchronous writes
// so a record is on disk before the caller sees its ActionResult.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	seq    atomic.Uint64
}

// BadgerConfig configures the durable store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string
	// InMemory disables disk persistence. Testing only.
	InMemory bool
	Logger   *slog.Logger
}

// OpenBadger opens (creating if needed) the history database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(!cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open store at %s: %w", cfg.Path, err)
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

// Append implements Store. The key embeds the applied timestamp so badger's
// lexicographic iteration yields records in AppliedAt order, plus a process
// sequence number so concurrent appends at the same nanosecond never
// overwrite each other.
func (s *BadgerStore) Append(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: failed to encode record: %w", err)
	}

	key := fmt.Sprintf("%s%s/%020d/%012d",
		recordPrefix, rec.WorkloadRef.Key(), rec.AppliedAt.UnixNano(), s.seq.Add(1))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("history: append failed for %s: %w", rec.WorkloadRef, err)
	}
	return nil
}

// Query implements Store.
func (s *BadgerStore) Query(_ context.Context, ref incident.WorkloadRef, since time.Time) ([]Record, error) {
	prefix := []byte(recordPrefix + ref.Key() + "/")

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.AppliedAt.Before(since) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: query failed for %s: %w", ref, err)
	}
	return out, nil
}

// PruneBefore implements Store. Retention enforcement only; records inside
// the window are never touched.
func (s *BadgerStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	prefix := []byte(recordPrefix)

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.AppliedAt.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("history: prune scan failed: %w", err)
	}

	for _, key := range stale {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return 0, fmt.Errorf("history: prune delete failed: %w", err)
		}
	}

	if len(stale) > 0 {
		s.logger.Info("pruned history records", "count", len(stale), "cutoff", cutoff)
	}
	return len(stale), nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
