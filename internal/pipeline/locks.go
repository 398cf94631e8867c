package pipeline

import "sync"

// sourceLocks serializes the replace window (delete + upsert) for jobs
// touching the same source within this process. Entries are reference
// counted and dropped when the last holder releases.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sourceLock
}

type sourceLock struct {
	mu   sync.Mutex
	refs int
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{locks: make(map[string]*sourceLock)}
}

// Acquire blocks until the lock for source is held and returns the release
// function.
func (s *sourceLocks) Acquire(source string) func() {
	s.mu.Lock()
	l, ok := s.locks[source]
	if !ok {
		l = &sourceLock{}
		s.locks[source] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, source)
		}
		s.mu.Unlock()
	}
}
