package keylock

import (
	"hash/maphash"
	"sync"
)

// Table 分片互斥锁表：按 key 哈希到固定数量的分片
// 分片数量固定，内存占用不随会话数增长；不同 key 可能共享分片，只会多串行化，不会破坏互斥
type Table struct {
	seed   maphash.Seed
	shards []sync.Mutex
}

// New 创建分片锁表，shards<=0 时使用 64
func New(shards int) *Table {
	if shards <= 0 {
		shards = 64
	}
	return &Table{seed: maphash.MakeSeed(), shards: make([]sync.Mutex, shards)}
}

func (t *Table) shard(key string) *sync.Mutex {
	h := maphash.String(t.seed, key)
	return &t.shards[h%uint64(len(t.shards))]
}

// Lock 锁定 key 所在分片，返回解锁函数
func (t *Table) Lock(key string) (unlock func()) {
	m := t.shard(key)
	m.Lock()
	return m.Unlock
}

// Size 分片数量
func (t *Table) Size() int { return len(t.shards) }
