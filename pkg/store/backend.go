// The durable half of seenstore is a generic ordered key-value engine. The engine is pluggable behind the
// Backend interface; the shipped implementation sits on bbolt with one bucket per named store. Since most feed
// items have never been seen, negative lookups dominate the read path, so the backend keeps an optional bloom
// filter of every key ever written and answers "definitely absent" without touching disk.

package store

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	bolt "go.etcd.io/bbolt"

	"github.com/nobletooth/seenstore/pkg/utils"
)

var (
	filterEnabled = flag.Bool("negative_filter_enabled", true,
		"Enable the in-memory filter that short-circuits reads for keys that were never written.")
	filterCapacity = flag.Uint("negative_filter_capacity", 1<<20,
		"Expected number of keys the negative filter is sized for.")
	filterFalsePositiveRate = flag.Float64("negative_filter_fp_rate", 0.01,
		"Acceptable false positive rate of the negative filter.")

	backendReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_backend_reads_total",
		Help: "Total number of key lookups answered by the backend engine.",
	}, []string{"status" /* hit | miss | filtered */})
)

// Backend is the ordered key-value engine underneath the batched store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored for the given key and whether the key was found.
	Get(key string) ([]byte, bool, error)
	// GetBatch looks up all the given keys in one round trip. Keys that are not stored are left out of the
	// returned map, so a missing entry means confirmed absence, not an error.
	GetBatch(keys []string) (map[string][]byte, error)
	// PutBatch commits a group of key-value pairs atomically.
	PutBatch(pairs []utils.Pair[string, []byte]) error
	Close() error
}

// BoltBackend persists one named store as a single bbolt bucket.
type BoltBackend struct { // Implements Backend.
	db     *bolt.DB
	bucket []byte
	mux    sync.RWMutex       // Protects the filter; bbolt handles its own locking.
	filter *bloom.BloomFilter // Nil when the negative filter is disabled.
}

var _ Backend = (*BoltBackend)(nil)

// NewBoltBackend opens (or creates) the bbolt file at `path` and the bucket named `name`.
// The name spans the namespace: two backends over the same path and name observe the same records.
func NewBoltBackend(path, name string) (*BoltBackend, error) {
	if name == "" {
		return nil, errors.New("expected a non-empty store name")
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store file %s: %w", path, err)
	}
	backend := &BoltBackend{db: db, bucket: []byte(name)}
	if *filterEnabled {
		backend.filter = bloom.NewWithEstimates(*filterCapacity, *filterFalsePositiveRate)
	}

	// Create the bucket on first open; seed the filter with every key written by previous sessions.
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(backend.bucket)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		if backend.filter == nil {
			return nil
		}
		return bucket.ForEach(func(key, _ []byte) error {
			backend.filter.Add(key)
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return backend, nil
}

// mayContain reports whether the key could be stored. False means the key was definitely never written.
func (b *BoltBackend) mayContain(key string) bool {
	if b.filter == nil {
		return true
	}
	b.mux.RLock()
	defer b.mux.RUnlock()
	return b.filter.TestString(key)
}

// Get looks up a single key. A filtered-out key returns not-found without a disk read.
func (b *BoltBackend) Get(key string) ([]byte, bool, error) {
	if !b.mayContain(key) {
		backendReads.WithLabelValues("filtered").Inc()
		return nil, false, nil
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			utils.RaiseInvariant("store", "missing_bucket", "Store bucket disappeared after open.",
				"bucket", string(b.bucket))
			return fmt.Errorf("bucket %s not found", b.bucket)
		}
		// bbolt values are only valid inside the transaction, hence the clone.
		value = bytes.Clone(bucket.Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		backendReads.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	backendReads.WithLabelValues("hit").Inc()
	return value, true, nil
}

// GetBatch looks up all the given keys inside one read transaction.
func (b *BoltBackend) GetBatch(keys []string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			utils.RaiseInvariant("store", "missing_bucket", "Store bucket disappeared after open.",
				"bucket", string(b.bucket))
			return fmt.Errorf("bucket %s not found", b.bucket)
		}
		for _, key := range keys {
			if !b.mayContain(key) {
				backendReads.WithLabelValues("filtered").Inc()
				continue
			}
			if value := bucket.Get([]byte(key)); value != nil {
				backendReads.WithLabelValues("hit").Inc()
				values[key] = bytes.Clone(value)
			} else {
				backendReads.WithLabelValues("miss").Inc()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return values, nil
}

// PutBatch commits the whole group in one write transaction.
func (b *BoltBackend) PutBatch(pairs []utils.Pair[string, []byte]) error {
	if len(pairs) == 0 {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", b.bucket)
		}
		for _, pair := range pairs {
			if err := bucket.Put([]byte(pair.Key), pair.Value); err != nil {
				return fmt.Errorf("failed to put key %s: %w", pair.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if b.filter != nil { // Only account committed keys.
		b.mux.Lock()
		for _, pair := range pairs {
			b.filter.AddString(pair.Key)
		}
		b.mux.Unlock()
	}

	return nil
}

// Count returns the number of stored records.
func (b *BoltBackend) Count() (int, error) {
	count := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", b.bucket)
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
