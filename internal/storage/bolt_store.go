package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samvad-hq/fetchstate/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	settlementBucket = "settlements"
	expiryValueBytes = 8
	keySeparator     = 0x00
)

// boltStore implements a Store backed by BoltDB.
// Keys are targetID, 0x00, big-endian settled-at nanos; values are an 8-byte
// expiry prefix followed by the JSON settlement.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	recordTTL       time.Duration
	cleanupInterval time.Duration
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settlementBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		recordTTL:       opts.RecordTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	store.lastCleanup.Store(time.Now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Record stores a settlement under its target.
func (b *boltStore) Record(s domain.Settlement) error {
	if b == nil || b.db == nil {
		return nil
	}
	if strings.TrimSpace(s.TargetID) == "" {
		return fmt.Errorf("settlement target id is empty")
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}
	value := make([]byte, expiryValueBytes, expiryValueBytes+len(raw))
	binary.BigEndian.PutUint64(value, uint64(now.Add(b.recordTTL).Unix()))
	value = append(value, raw...)

	settledAt := s.SettledAt
	if settledAt.IsZero() {
		settledAt = now
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(settlementBucket))
		if bucket == nil {
			return fmt.Errorf("settlement bucket missing")
		}
		return bucket.Put(recordKey(s.TargetID, settledAt), value)
	})
}

// History returns up to limit unexpired settlements for targetID, newest first.
// A non-positive limit returns everything.
func (b *boltStore) History(targetID string, limit int) ([]domain.Settlement, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	now := time.Now()
	prefix := targetPrefix(targetID)
	var out []domain.Settlement
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(settlementBucket))
		if bucket == nil {
			return fmt.Errorf("settlement bucket missing")
		}

		cursor := bucket.Cursor()
		// walk backwards from the end of the target's key range
		k, v := cursor.Seek(prefixEnd(prefix))
		if k == nil {
			k, v = cursor.Last()
		} else {
			k, v = cursor.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Prev() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				continue
			}
			var s domain.Settlement
			if err := json.Unmarshal(v[expiryValueBytes:], &s); err != nil {
				return fmt.Errorf("decode settlement %q: %w", k, err)
			}
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// maybeCleanupExpired removes expired settlements on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(settlementBucket))
		if bucket == nil {
			return fmt.Errorf("settlement bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				key := append([]byte(nil), k...)
				if err := cursor.Delete(); err != nil {
					return err
				}
				k, v = cursor.Seek(key)
				continue
			}
			k, v = cursor.Next()
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func targetPrefix(targetID string) []byte {
	return append([]byte(targetID), keySeparator)
}

// prefixEnd returns the first key greater than every key carrying prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func recordKey(targetID string, settledAt time.Time) []byte {
	key := targetPrefix(targetID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(settledAt.UnixNano()))
	return append(key, ts[:]...)
}

// decodeExpiry decodes the expiry time from the stored value prefix.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) < expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:expiryValueBytes]))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
