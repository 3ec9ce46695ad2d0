package broker

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// shardCount bounds lock contention on the broker's concurrent maps: each
// shard is guarded by its own mutex, and entries inside a shard hold atomic
// counters so a decrement never itself requires taking the shard's lock.
const shardCount = 16

func shardIndex(path string) int {
	h := fnv.New32a()
	h.Write([]byte(path))
	return int(h.Sum32() % shardCount)
}

// shardedCounters implements the remaining-children and pending-batches
// counters: child_counts and pending_batches in the spec's data model.
type shardedCounters struct {
	shards [shardCount]*counterShard
}

type counterShard struct {
	mu sync.Mutex
	m  map[string]*atomic.Int64
}

func newShardedCounters() *shardedCounters {
	s := &shardedCounters{}
	for i := range s.shards {
		s.shards[i] = &counterShard{m: make(map[string]*atomic.Int64)}
	}
	return s
}

// set installs the counter for path, overwriting any existing entry.
func (s *shardedCounters) set(path string, v int64) {
	sh := s.shards[shardIndex(path)]
	n := &atomic.Int64{}
	n.Store(v)
	sh.mu.Lock()
	sh.m[path] = n
	sh.mu.Unlock()
}

// decrementAndCheckZero atomically decrements the counter for path. ok is
// false if no counter is registered for path. reachedZero is true exactly
// once, the first time the counter drops to zero or below; the entry is
// removed from the shard at that point so it is never observed again.
func (s *shardedCounters) decrementAndCheckZero(path string) (reachedZero bool, ok bool) {
	sh := s.shards[shardIndex(path)]

	sh.mu.Lock()
	n, exists := sh.m[path]
	sh.mu.Unlock()
	if !exists {
		return false, false
	}

	if n.Add(-1) > 0 {
		return false, true
	}

	sh.mu.Lock()
	delete(sh.m, path)
	sh.mu.Unlock()
	return true, true
}

// shardedFiles implements dir_files: the per-directory file lists moved in
// from the scanner, each taken exactly once when scheduled.
type shardedFiles struct {
	shards [shardCount]*fileShard
}

type fileShard struct {
	mu sync.Mutex
	m  map[string][]string
}

func newShardedFiles() *shardedFiles {
	s := &shardedFiles{}
	for i := range s.shards {
		s.shards[i] = &fileShard{m: make(map[string][]string)}
	}
	return s
}

func (s *shardedFiles) setAll(path string, files []string) {
	sh := s.shards[shardIndex(path)]
	sh.mu.Lock()
	sh.m[path] = files
	sh.mu.Unlock()
}

// length returns the number of files registered for path without removing
// them, used by the scheduler to pick the batching strategy.
func (s *shardedFiles) length(path string) (int, bool) {
	sh := s.shards[shardIndex(path)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	files, ok := sh.m[path]
	return len(files), ok
}

// take removes and returns the file list for path. Safe to call when no
// entry exists (returns ok=false).
func (s *shardedFiles) take(path string) ([]string, bool) {
	sh := s.shards[shardIndex(path)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	files, ok := sh.m[path]
	if ok {
		delete(sh.m, path)
	}
	return files, ok
}
