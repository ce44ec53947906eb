package cache

import (
	"hash/fnv"
	"sync"
)

// idLocks serializes operations per record id with a fixed set of striped
// mutexes: two concurrent ingests of the same id contend, independent ids
// almost always proceed in parallel.
type idLocks struct {
	stripes [64]sync.Mutex
}

func (l *idLocks) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu
}
