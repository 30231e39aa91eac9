package market

import "sync"

// keyedMutex hands out one exclusive lock per key. Entries are dropped once
// no goroutine holds or waits on them.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// lock blocks until k is held and returns the matching unlock func.
func (m *keyedMutex[K]) lock(k K) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[K]*refMutex)
	}
	rm, ok := m.locks[k]
	if !ok {
		rm = &refMutex{}
		m.locks[k] = rm
	}
	rm.refs++
	m.mu.Unlock()

	rm.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rm.Unlock()

			m.mu.Lock()
			rm.refs--
			if rm.refs == 0 {
				delete(m.locks, k)
			}
			m.mu.Unlock()
		})
	}
}

// size returns the number of tracked keys.
func (m *keyedMutex[K]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
