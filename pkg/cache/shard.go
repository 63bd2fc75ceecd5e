// The resolved map is sharded to distribute lock contention. Every rendered feed item costs at least one cache
// lookup, and the host application may render from many goroutines; with one mutex per shard a goroutine only
// locks the shard its key hashes to and doesn't block goroutines working on other keys.

package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nobletooth/seenstore/pkg/utils"
)

type mapShard[V any] struct {
	mux   sync.RWMutex
	items map[string]V
}

// shardedMap is an unbounded map from string keys to values, sharded by the xxhash of the key.
// Unlike a cache with an eviction policy, entries stay for the lifetime of the process.
type shardedMap[V any] struct {
	shards []*mapShard[V]
}

// newShardedMap is the constructor for shardedMap.
func newShardedMap[V any](shardCount int) *shardedMap[V] {
	if shardCount <= 0 {
		utils.RaiseInvariant("cache", "invalid_shard_count",
			"Invalid shard count has been given to the resolved map.", "shardCount", shardCount)
		shardCount = 1
	}
	shards := make([]*mapShard[V], shardCount)
	for i := 0; i < shardCount; i++ {
		shards[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return &shardedMap[V]{shards: shards}
}

// shard maps a key to the shard it belongs to.
func (m *shardedMap[V]) shard(key string) *mapShard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *shardedMap[V]) get(key string) (V, bool /*found*/) {
	shard := m.shard(key)
	shard.mux.RLock()
	defer shard.mux.RUnlock()
	value, found := shard.items[key]
	return value, found
}

// put overwrites the key unconditionally.
func (m *shardedMap[V]) put(key string, value V) {
	shard := m.shard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	shard.items[key] = value
}

// putIfAbsent stores the value only if the key is unset and returns the value left in the map, i.e. the
// existing one when another writer got there first.
func (m *shardedMap[V]) putIfAbsent(key string, value V) V {
	shard := m.shard(key)
	shard.mux.Lock()
	defer shard.mux.Unlock()
	if existing, exists := shard.items[key]; exists {
		return existing
	}
	shard.items[key] = value
	return value
}

func (m *shardedMap[V]) len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mux.RLock()
		total += len(shard.items)
		shard.mux.RUnlock()
	}
	return total
}
