// Durable writes are coalesced: a Set only buffers the pair in memory, and the whole group is committed to the
// backend in one batch no later than one write-batch interval after the first buffered write of the group.
// Callers get no commit acknowledgment; a crash inside the interval loses the group, which is acceptable for
// seen-state (best-effort, not must-persist). Reads consult the pending group before the backend so a buffered
// write is never reported absent.

package store

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nobletooth/seenstore/pkg/utils"
)

var (
	writeBatchInterval = flag.Duration("write_batch_interval", 10*time.Second,
		"Time window over which durable writes are coalesced into one commit group.")

	commitGroups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_commit_groups_total",
		Help: "Total number of write groups committed to the backend.",
	})
	commitWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_commit_writes_total",
		Help: "Total number of buffered writes committed to the backend.",
	})
	commitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_commit_failures_total",
		Help: "Total number of write groups that failed to commit.",
	})
)

// Batched is a durable store whose writes are buffered and committed in groups.
// Within a group the buffer keeps only the last write per key (last write wins, no history).
type Batched struct {
	backend Backend

	mux        sync.Mutex
	pending    map[string][]byte
	flushTimer *time.Timer // Armed while a commit group is open; nil otherwise.
}

// NewBatched wraps the given backend with the write-coalescing buffer.
// The group commit deadline is taken from -write_batch_interval at the first write of each group.
func NewBatched(backend Backend) *Batched {
	return &Batched{backend: backend, pending: make(map[string][]byte)}
}

// Set buffers the pair and arms the group commit timer if this is the first write of a group.
// It never blocks on I/O and returns before the pair is durable.
func (b *Batched) Set(key string, value []byte) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.pending[key] = value
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(*writeBatchInterval, func() {
			if err := b.Flush(); err != nil {
				slog.Error("Failed to commit a buffered write group.", "error", err)
			}
		})
	}
}

// Get serves the key from the pending group if buffered, and from the backend otherwise.
func (b *Batched) Get(key string) ([]byte, bool, error) {
	b.mux.Lock()
	if value, buffered := b.pending[key]; buffered {
		b.mux.Unlock()
		return bytes.Clone(value), true, nil
	}
	b.mux.Unlock()

	return b.backend.Get(key)
}

// GetBatch resolves buffered keys from the pending group and the rest via one backend multi-get.
func (b *Batched) GetBatch(keys []string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	missing := make([]string, 0, len(keys))
	b.mux.Lock()
	for _, key := range keys {
		if value, buffered := b.pending[key]; buffered {
			values[key] = bytes.Clone(value)
		} else {
			missing = append(missing, key)
		}
	}
	b.mux.Unlock()

	if len(missing) > 0 {
		stored, err := b.backend.GetBatch(missing)
		if err != nil {
			return nil, err
		}
		for key, value := range stored {
			values[key] = value
		}
	}

	return values, nil
}

// Flush synchronously commits the open group, if any. The periodic commit path goes through here as well.
func (b *Batched) Flush() error {
	b.mux.Lock()
	group := b.pending
	b.pending = make(map[string][]byte)
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.mux.Unlock()

	if len(group) == 0 {
		return nil
	}

	// Commit in key order; ordered engines prefer sorted batches.
	pairs := make([]utils.Pair[string, []byte], 0, len(group))
	for key, value := range group {
		pairs = append(pairs, utils.Pair[string, []byte]{Key: key, Value: value})
	}
	slices.SortFunc(pairs, func(x, y utils.Pair[string, []byte]) int { return strings.Compare(x.Key, y.Key) })

	if err := b.backend.PutBatch(pairs); err != nil {
		commitFailures.Inc()
		return err
	}
	commitGroups.Inc()
	commitWrites.Add(float64(len(pairs)))
	return nil
}

// Close commits any open group and closes the backend.
func (b *Batched) Close() error {
	return errors.Join(b.Flush(), b.backend.Close())
}
