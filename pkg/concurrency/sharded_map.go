package concurrency

import (
	"hash/fnv"
)

const shardCount = 64

// ShardedMapString is a concurrent string-keyed map split across fixed
// shards so that unrelated keys never contend on the same lock. Used for
// the subscription registry (sid -> subscription) and the pending-request
// table (reply subject -> pending request), both of which are touched from
// the read loop on every inbound frame and must not serialize behind a
// single mutex.
type ShardedMapString[V any] struct {
	shards []*shardString[V]
}

type shardString[V any] struct {
	mu   *SmartRWMutex
	data map[string]V
}

func NewShardedMapString[V any]() *ShardedMapString[V] {
	m := &ShardedMapString[V]{
		shards: make([]*shardString[V], shardCount),
	}
	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shardString[V]{
			data: make(map[string]V),
			mu:   NewSmartRWMutex(MutexConfig{Name: "ShardedMapString-Shard"}),
		}
	}
	return m
}

func (m *ShardedMapString[V]) getShard(key string) *shardString[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[uint(h.Sum32())%shardCount]
}

func (m *ShardedMapString[V]) Set(key string, value V) {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

func (m *ShardedMapString[V]) Get(key string) (V, bool) {
	shard := m.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	val, ok := shard.data[key]
	return val, ok
}

func (m *ShardedMapString[V]) Delete(key string) {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.data, key)
}

// Range calls fn for every entry across all shards. fn must not call back
// into the map (Set/Delete/Range) — each shard is held under its read lock
// for the duration of its own iteration.
func (m *ShardedMapString[V]) Range(fn func(key string, value V) bool) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		cont := true
		for k, v := range shard.data {
			if !fn(k, v) {
				cont = false
				break
			}
		}
		shard.mu.RUnlock()
		if !cont {
			return
		}
	}
}
