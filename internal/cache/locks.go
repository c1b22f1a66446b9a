package cache

import (
	"hash/maphash"
	"sync"
)

const keyLockStripes = 64

// keyLocks serialises same-key updates inside this process. Distinct keys usually land on
// different stripes, so unrelated updates rarely wait on each other.
type keyLocks struct {
	seed    maphash.Seed
	stripes [keyLockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{seed: maphash.MakeSeed()}
}

func (l *keyLocks) lock(key string) func() {
	mu := &l.stripes[maphash.String(l.seed, key)%keyLockStripes]
	mu.Lock()
	return mu.Unlock
}
