// Package pathlock serializes work on the same filesystem path while letting
// work on different paths proceed in parallel.
package pathlock

import (
	"sort"
	"sync"
)

// Locks is a set of per-path mutexes. The zero value is ready to use.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until path is free and returns the matching unlock function
func (l *Locks) Lock(path string) func() {
	e := l.acquire(path)
	e.mu.Lock()
	return l.unlocker(path, e)
}

// TryLock takes path only if nobody holds it. ok is false when path is busy.
func (l *Locks) TryLock(path string) (unlock func(), ok bool) {
	e := l.acquire(path)
	if !e.mu.TryLock() {
		l.release(path, e)
		return nil, false
	}
	return l.unlocker(path, e), true
}

// LockAll takes every distinct path in sorted order, so two callers locking
// overlapping sets cannot deadlock. The returned function releases them all.
func (l *Locks) LockAll(paths ...string) func() {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var unlocks []func()
	for i, path := range sorted {
		if i > 0 && path == sorted[i-1] {
			continue
		}
		unlocks = append(unlocks, l.Lock(path))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (l *Locks) acquire(path string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*entry)
	}
	e, ok := l.locks[path]
	if !ok {
		e = &entry{}
		l.locks[path] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(path string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, path)
	}
}

func (l *Locks) unlocker(path string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.release(path, e)
		})
	}
}

// Held returns how many callers hold or wait on path
func (l *Locks) Held(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[path]; ok {
		return e.refs
	}
	return 0
}
