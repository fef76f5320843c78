package mutation

import (
	"context"
	"sort"
	"sync"
)

type resourceLock struct {
	sem  chan struct{}
	refs int
}

// lockSet holds one lock per resource name. Locks exist only while
// someone holds or waits for them.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*resourceLock)}
}

func (s *lockSet) ref(name string) *resourceLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &resourceLock{sem: make(chan struct{}, 1)}
		s.locks[name] = l
	}
	l.refs++
	return l
}

func (s *lockSet) unref(name string, l *resourceLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, name)
	}
}

// acquire locks every named resource in sorted order. The returned
// function releases them.
func (s *lockSet) acquire(ctx context.Context, names []string) (func(), error) {
	sorted := dedupe(names)
	held := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, name := range sorted {
		l := s.ref(name)
		select {
		case l.sem <- struct{}{}:
			name := name
			held = append(held, func() {
				<-l.sem
				s.unref(name, l)
			})
		case <-ctx.Done():
			s.unref(name, l)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// size reports how many resources currently have a lock entry.
func (s *lockSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
