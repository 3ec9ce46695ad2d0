// Package errtracker implements the failure queue workers record into and
// the caller layer drains after join. Recording and draining take a mutex;
// the queue is not lock-free.
package errtracker

import "sync"

// FailedItem records one path that could not be deleted.
type FailedItem struct {
	Path    string
	Message string
	IsDir   bool
}

// Tracker collects failures from any number of concurrent workers.
type Tracker struct {
	mu    sync.Mutex
	items []FailedItem
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// RecordFailure appends item to the tracker. Safe for concurrent use.
func (t *Tracker) RecordFailure(item FailedItem) {
	t.mu.Lock()
	t.items = append(t.items, item)
	t.mu.Unlock()
}

// GetFailures drains and returns every failure recorded so far.
func (t *Tracker) GetFailures() []FailedItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := t.items
	t.items = nil
	return drained
}
