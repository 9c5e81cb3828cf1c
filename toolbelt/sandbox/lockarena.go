package sandbox

import (
	"sort"
	"sync"
)

// LockArena hands out per-canonical-path advisory locks so conflicting file
// operations serialize while unrelated ones run in parallel. Entries are
// refcounted and removed when the last holder releases, so the map only ever
// contains paths with in-flight operations.
//
// The locks are advisory and per-process: they protect tool operations that
// agree to acquire them, nothing else.
type LockArena struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockArena() *LockArena {
	return &LockArena{locks: make(map[string]*pathLock)}
}

// Acquire blocks until the lock for path is held and returns a release
// function. Release is idempotent, so deferred and explicit releases on
// different exit paths cannot double-unlock.
func (a *LockArena) Acquire(path string) (release func()) {
	a.mu.Lock()
	l, ok := a.locks[path]
	if !ok {
		l = &pathLock{}
		a.locks[path] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			a.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(a.locks, path)
			}
			a.mu.Unlock()
		})
	}
}

// AcquireAll locks several paths in sorted order so concurrent multi-path
// operations (copy, move) cannot deadlock against each other. Duplicate
// paths are collapsed: copying a file onto itself must not self-deadlock.
func (a *LockArena) AcquireAll(paths ...string) (release func()) {
	sorted := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	for _, p := range sorted {
		releases = append(releases, a.Acquire(p))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// Len reports how many paths currently hold a lock entry.
func (a *LockArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
