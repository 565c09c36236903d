package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"ttlpaste/internal/storage"
)

var (
	pasteBucket    = []byte("pastes")
	deadlineBucket = []byte("deadlines")
)

// Store implements storage.Store backed by BoltDB.
//
// bbolt allows a single read-write transaction at a time, so Consume's
// check-and-increment runs inside one Update and is atomic by construction.
type Store struct {
	db *bolt.DB
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(pasteBucket); err != nil {
			return fmt.Errorf("create paste bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(deadlineBucket); err != nil {
			return fmt.Errorf("create deadline bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Insert persists a new paste. Existing ids are never overwritten.
func (s *Store) Insert(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := normalize(*paste)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		pBucket, dBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		if pBucket.Get([]byte(rec.ID)) != nil {
			return storage.ErrConflict
		}
		if err := pBucket.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}
		if deadline, ok := rec.Deadline(rec.CreatedAt); ok {
			if err := dBucket.Put(deadlineKey(deadline, rec.ID), []byte(rec.ID)); err != nil {
				return fmt.Errorf("index deadline: %w", err)
			}
		}
		return nil
	})
}

// Consume increments the view counter of a consumable paste and returns the
// updated record.
func (s *Store) Consume(ctx context.Context, id string, now time.Time) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now = now.UTC()
	var out *storage.Paste
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, dBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		raw := pBucket.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		var paste storage.Paste
		if err := json.Unmarshal(raw, &paste); err != nil {
			return fmt.Errorf("unmarshal paste: %w", err)
		}
		if !paste.Consumable(now) {
			return storage.ErrNotFound
		}

		paste.ViewCount++
		data, err := json.Marshal(paste)
		if err != nil {
			return fmt.Errorf("marshal paste: %w", err)
		}
		if err := pBucket.Put([]byte(id), data); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}

		// The last view moves the deadline forward to now, or keeps the
		// earlier TTL deadline if there is one.
		if paste.Exhausted() {
			if paste.HasExpiration() {
				if err := dBucket.Delete(deadlineKey(*paste.ExpiresAt, id)); err != nil {
					return fmt.Errorf("remove previous deadline: %w", err)
				}
			}
			deadline, _ := paste.Deadline(now)
			if err := dBucket.Put(deadlineKey(deadline, id), []byte(id)); err != nil {
				return fmt.Errorf("index deadline: %w", err)
			}
		}
		out = &paste
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteExpired removes all pastes whose deadline is before or equal to now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, dBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		cursor := dBucket.Cursor()
		cutoff := toTimestamp(now)
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			ts := binary.BigEndian.Uint64(key[:8])
			if ts > cutoff {
				break
			}
			id := string(val)
			if err := pBucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete expired paste %s: %w", id, err)
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete deadline index: %w", err)
			}
			removed++
		}
		return nil
	})

	return removed, err
}

// Ping checks that the database file is open and its buckets exist.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		_, _, err := buckets(tx)
		return err
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	pBucket := tx.Bucket(pasteBucket)
	dBucket := tx.Bucket(deadlineBucket)
	if pBucket == nil || dBucket == nil {
		return nil, nil, errors.New("buckets not initialized")
	}
	return pBucket, dBucket, nil
}

// normalize stores timestamps in UTC for consistent ordering.
func normalize(p storage.Paste) storage.Paste {
	p.CreatedAt = p.CreatedAt.UTC()
	if p.ExpiresAt != nil {
		exp := p.ExpiresAt.UTC()
		p.ExpiresAt = &exp
	}
	return p
}

func deadlineKey(t time.Time, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, toTimestamp(t))
	copy(key[8:], id)
	return key
}

func toTimestamp(t time.Time) uint64 {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return uint64(t.UTC().UnixNano())
}
