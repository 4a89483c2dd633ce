package common

import "sync"

// SimpleSyncMap is a mutex-guarded map. The daemon uses a
// SimpleSyncMap[string, bool] as its process-lifetime feature flag cache.
type SimpleSyncMap[K comparable, V any] struct {
	lock sync.Mutex
	m    map[K]V
}

func NewSimpleSyncMap[K comparable, V any]() *SimpleSyncMap[K, V] {
	return &SimpleSyncMap[K, V]{m: make(map[K]V)}
}

func (ssm *SimpleSyncMap[K, V]) Get(k K) (V, bool) {
	ssm.lock.Lock()
	defer ssm.lock.Unlock()
	v, ok := ssm.m[k]
	return v, ok
}

func (ssm *SimpleSyncMap[K, V]) Put(k K, v V) {
	ssm.lock.Lock()
	defer ssm.lock.Unlock()
	ssm.m[k] = v
}

// Pop removes k and returns the value it had.
func (ssm *SimpleSyncMap[K, V]) Pop(k K) (V, bool) {
	ssm.lock.Lock()
	defer ssm.lock.Unlock()
	v, ok := ssm.m[k]
	delete(ssm.m, k)
	return v, ok
}
