// The read/write-through cache gives callers the performance of memory with the durability of the backing
// store. Memory is authoritative once a key has been read or written in the current process: entries are never
// evicted, and a value observed right after a Set reflects the Set even though its durable commit is still
// pending. A key missing from memory means "unknown", which is distinct from a key resolved to confirmed
// absence; only unknown keys ever cost a store round trip.

package cache

import (
	"flag"
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nobletooth/seenstore/pkg/utils"
)

var (
	memShardCount = flag.Int("seen_cache_shard_count", runtime.NumCPU(),
		"Number of shards of the in-memory resolved map.")

	memLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seen_cache_lookups_total",
		Help: "Total number of memory lookups on the seen cache.",
	}, []string{"status" /* hit | miss */})
	storeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seen_cache_store_failures_total",
		Help: "Total number of durable store round trips absorbed as unknown state.",
	})
)

// DurableStore is the slower, batched persistence layer consumed by the cache. Set is expected to buffer and
// return without awaiting the commit; a key left out of the GetBatch result is confirmed absent.
type DurableStore interface {
	Get(key string) ([]byte, bool, error)
	GetBatch(keys []string) (map[string][]byte, error)
	Set(key string, value []byte)
}

// entry is the resolved state of one key. An entry existing in memory means the key has been resolved;
// present=false records confirmed absence, which must stay distinguishable from never-resolved.
type entry[V any] struct {
	value   V
	present bool
}

// Cache is a read/write-through cache over a durable batched store.
// Construct exactly one Cache per named store: there is no cross-instance invalidation protocol, so two caches
// over the same store name would silently diverge.
type Cache[V any] struct {
	store DurableStore
	mem   *shardedMap[entry[V]]
}

// New is the constructor for Cache.
func New[V any](store DurableStore) *Cache[V] {
	return &Cache[V]{store: store, mem: newShardedMap[entry[V]](*memShardCount)}
}

// Set writes the value to memory synchronously (last write wins) and forwards it to the durable store, which
// only buffers the write. The caller never waits for the durable commit.
func (c *Cache[V]) Set(key string, value V) {
	c.mem.put(key, entry[V]{value: value, present: true})

	encoded, err := msgpack.Marshal(value)
	if err != nil {
		// Values are our own record types; failing to encode one is a bug, not an I/O condition.
		utils.RaiseInvariant("cache", "unencodable_value", "Failed to encode a cached value for persistence.",
			"key", key, "error", err)
		return
	}
	c.store.Set(key, encoded)
}

// Get returns the resolved value for the key and whether it is present. A memory-resident key (including one
// resolved to confirmed absence) is answered with no I/O; a cold key costs exactly one store round trip and
// back-fills memory. Store failures are absorbed: the key stays unknown, reads report absent, and a later Get
// may retry.
func (c *Cache[V]) Get(key string) (V, bool) {
	if resolvedEntry, resolved := c.mem.get(key); resolved {
		memLookups.WithLabelValues("hit").Inc()
		return resolvedEntry.value, resolvedEntry.present
	}
	memLookups.WithLabelValues("miss").Inc()

	var zero V
	data, found, err := c.store.Get(key)
	if err != nil {
		storeFailures.Inc()
		slog.Error("Durable store read failed; treating key as unknown.", "key", key, "error", err)
		return zero, false
	}

	resolvedEntry := entry[V]{}
	if found {
		if err := msgpack.Unmarshal(data, &resolvedEntry.value); err != nil {
			utils.RaiseInvariant("cache", "undecodable_value", "Failed to decode a stored value.",
				"key", key, "error", err)
			return zero, false
		}
		resolvedEntry.present = true
	}
	// Memory wins: a Set that landed while our read was in flight must not be clobbered by the stale result.
	winner := c.mem.putIfAbsent(key, resolvedEntry)
	return winner.value, winner.present
}

// GetBatch resolves all the keys at once and returns a mapping holding the present ones; callers infer absence
// from missing keys. If every key is memory-resident the whole batch is answered with no I/O. If ANY key is
// unknown, the FULL batch is resolved via a single store multi-get, resolved keys included: one round trip with
// some redundant reads instead of two round trips. All returned pairs back-fill memory before the mapping is
// composed, so the result always reflects memory (memory wins over in-flight store reads).
func (c *Cache[V]) GetBatch(keys []string) map[string]V {
	values := make(map[string]V, len(keys))
	if len(keys) == 0 {
		return values
	}

	unresolved := 0
	for _, key := range keys {
		if _, resolved := c.mem.get(key); resolved {
			memLookups.WithLabelValues("hit").Inc()
		} else {
			memLookups.WithLabelValues("miss").Inc()
			unresolved++
		}
	}

	if unresolved > 0 {
		fetched, err := c.store.GetBatch(keys)
		if err != nil {
			storeFailures.Inc()
			slog.Error("Durable store batch read failed; treating unresolved keys as unknown.",
				"keys", len(keys), "error", err)
		} else {
			for _, key := range keys {
				resolvedEntry := entry[V]{}
				if data, found := fetched[key]; found {
					if decodeErr := msgpack.Unmarshal(data, &resolvedEntry.value); decodeErr != nil {
						utils.RaiseInvariant("cache", "undecodable_value", "Failed to decode a stored value.",
							"key", key, "error", decodeErr)
						continue // Leave the key unresolved rather than caching a broken state.
					}
					resolvedEntry.present = true
				}
				c.mem.putIfAbsent(key, resolvedEntry)
			}
		}
	}

	for _, key := range keys {
		if resolvedEntry, resolved := c.mem.get(key); resolved && resolvedEntry.present {
			values[key] = resolvedEntry.value
		}
	}
	return values
}

// Len returns the number of resolved keys held in memory.
func (c *Cache[V]) Len() int {
	return c.mem.len()
}
