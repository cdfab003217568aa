// Package syncutil provides per-key locking with bounded memory.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key (an organization, a subscription) over
// a fixed pool of shards. Keys that hash to the same shard share a lock.
// The zero value is not usable; call NewKeyedMutex.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates an unlocked KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock blocks until key is held and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shard(key)
	<-ch
	return func() { ch <- struct{}{} }
}

// LockContext is Lock that gives up when ctx is done. The unlock function
// is nil when an error is returned.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shard(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}
