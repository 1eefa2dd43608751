package storage

import (
	"os"
	"sync"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Broadcaster fans change notifications out to registered watchers.
// Backends that live in one process (bolt, sqlite) publish after each commit.
type Broadcaster struct {
	mu       sync.RWMutex
	next     int
	watchers map[int]ChangeFunc
}

// Watch registers fn and returns a function that removes it.
func (b *Broadcaster) Watch(fn ChangeFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watchers == nil {
		b.watchers = make(map[int]ChangeFunc)
	}
	id := b.next
	b.next++
	b.watchers[id] = fn

	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// Publish delivers change to every watcher.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	fns := make([]ChangeFunc, 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// Changed reports whether a write from old to new is observable.
func Changed(old, new []byte) bool {
	if (old == nil) != (new == nil) {
		return true
	}
	return string(old) != string(new)
}
