// Package checkpoint provides the Task Lifecycle Manager's local dedup-state
// cache: a badger database recording which broker job IDs have already run
// to completion, so a redelivery after a lost Ack doesn't repeat an
// already-durable piece of work.
//
// Key Namespace
//
// Prefix   Key Format       Value
// ======================================================
// "done:"  done:<jobID>     completion unix timestamp (binary)
package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

const prefixDone = "done:"

func keyDone(jobID string) []byte {
	return []byte(prefixDone + jobID)
}

// Store is a badger-backed record of completed job IDs.
type Store struct {
	db *badgerdb.DB
}

// Open opens (creating if necessary) a badger database rooted at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open badger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkDone records jobID as having completed successfully.
func (s *Store) MarkDone(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(time.Now().Unix()))

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyDone(jobID), stamp[:])
	})
	if err != nil {
		return fmt.Errorf("checkpoint: mark done %s: %w", jobID, err)
	}
	return nil
}

// IsDone reports whether jobID was previously recorded as completed.
func (s *Store) IsDone(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyDone(jobID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checkpoint: check done %s: %w", jobID, err)
	}
	return found, nil
}

// Sweep deletes recorded completions older than olderThan, run periodically
// by the caller so the database doesn't grow unbounded (spec's Recovery
// Reaper cadence is a natural fit, but any caller-driven ticker works).
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cutoff := time.Now().Add(-olderThan).Unix()
	var stale [][]byte

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixDone)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return nil
				}
				if int64(binary.BigEndian.Uint64(val)) < cutoff {
					key := append([]byte(nil), item.Key()...)
					stale = append(stale, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkpoint: sweep scan: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkpoint: sweep delete: %w", err)
	}
	return nil
}
