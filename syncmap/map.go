package syncmap

import (
	"sync"

	"golang.org/x/exp/maps"
)

type SyncMap[K comparable, T any] interface {
	Set(key K, data T)
	Get(key K) (data T, ok bool)
	Delete(key K)
	GetMap() map[K]T
}

func New[K comparable, T any]() SyncMap[K, T] {
	return &syncMap[K, T]{
		data: make(map[K]T),
	}
}

type syncMap[K comparable, T any] struct {
	rwLock sync.RWMutex
	data   map[K]T
}

func (s *syncMap[K, T]) Set(key K, data T) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	s.data[key] = data
}

func (s *syncMap[K, T]) Get(key K) (data T, ok bool) {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	data, ok = s.data[key]
	return
}

func (s *syncMap[K, T]) Delete(key K) {
	s.rwLock.Lock()
	defer s.rwLock.Unlock()
	delete(s.data, key)
}

// GetMap returns a copy of the content.
func (s *syncMap[K, T]) GetMap() (data map[K]T) {
	s.rwLock.RLock()
	defer s.rwLock.RUnlock()
	return maps.Clone(s.data)
}
