// Package broker implements the dependency-aware deletion scheduler: it
// owns the remaining-children counter per directory and the
// pending-batches counter per large directory, and emits work items onto a
// shared queue in an order that never asks a worker to remove a
// non-empty directory.
package broker

import (
	"github.com/fastrm/fastrm/internal/tree"
)

// BatchThreshold and BatchSize control when a directory's files are split
// into multiple DeleteFiles work items rather than handled inline by the
// eventual ProcessDir.
const (
	BatchThreshold = 1024
	BatchSize      = 256
)

type workItemKind int

const (
	KindProcessDir workItemKind = iota
	KindDeleteFiles
	KindShutdown
)

// WorkItem is the broker's channel payload: a tagged union of ProcessDir,
// DeleteFiles, and Shutdown per the spec's data model.
type WorkItem struct {
	Kind  workItemKind
	Dir   string   // ProcessDir: the directory to finish; DeleteFiles: the parent
	Files []string // DeleteFiles only
}

func (w WorkItem) IsProcessDir() bool { return w.Kind == KindProcessDir }
func (w WorkItem) IsDeleteFiles() bool { return w.Kind == KindDeleteFiles }
func (w WorkItem) IsShutdown() bool    { return w.Kind == KindShutdown }

// Broker owns the scheduling state for one deletion invocation: the
// remaining-children counters, the immutable parent map, the per-directory
// file lists taken over from the scanner, and the completion counters.
type Broker struct {
	childCounts    *shardedCounters
	pendingBatches *shardedCounters
	dirFiles       *shardedFiles
	parentMap      map[string]string

	totalDirs   int64
	completed   int64counter
	done        boolFlag
	workerCount int

	queue *unboundedQueue
}

// NewBroker consumes t, builds the receiver side of the work queue,
// populates child_counts and parent_map, moves dir_files in, and schedules
// every leaf. The broker retains the sender internally; it only ever sends
// Shutdown sentinels, never closes the channel, so no receiver observes a
// spurious disconnection while completions are in flight.
func NewBroker(t *tree.DirectoryTree, workerCount int) (*Broker, <-chan WorkItem) {
	b := &Broker{
		childCounts:    newShardedCounters(),
		pendingBatches: newShardedCounters(),
		dirFiles:       newShardedFiles(),
		parentMap:      buildParentMap(t.Children),
		totalDirs:      int64(len(t.Dirs)),
		workerCount:    workerCount,
		queue:          newUnboundedQueue(),
	}

	for dir, children := range t.Children {
		b.childCounts.set(dir, int64(len(children)))
	}
	for dir, files := range t.DirFiles {
		b.dirFiles.setAll(dir, files)
	}

	out := make(chan WorkItem)
	go b.queue.pump(out)

	for leaf := range t.Leaves {
		b.scheduleReady(leaf)
	}

	return b, out
}

// NewBrokerDirsOnly is the variant used when file deletion is driven
// separately by the caller: scheduling logic is identical except no
// batching is ever performed because there is no dir_files to split.
func NewBrokerDirsOnly(dirs map[string]struct{}, children map[string][]string, workerCount int) (*Broker, <-chan WorkItem) {
	b := &Broker{
		childCounts:    newShardedCounters(),
		pendingBatches: newShardedCounters(),
		dirFiles:       newShardedFiles(),
		parentMap:      buildParentMap(children),
		totalDirs:      int64(len(dirs)),
		workerCount:    workerCount,
		queue:          newUnboundedQueue(),
	}

	for dir, c := range children {
		b.childCounts.set(dir, int64(len(c)))
	}

	out := make(chan WorkItem)
	go b.queue.pump(out)

	for dir := range dirs {
		if _, hasChildren := children[dir]; !hasChildren {
			b.scheduleReady(dir)
		}
	}

	return b, out
}

func buildParentMap(children map[string][]string) map[string]string {
	parents := make(map[string]string)
	for parent, kids := range children {
		for _, k := range kids {
			parents[k] = parent
		}
	}
	return parents
}

// scheduleReady schedules a directory whose remaining-children counter has
// reached zero (or which was a leaf to begin with). Small directories (at
// or below BatchThreshold files) get a single ProcessDir; larger ones are
// split into BatchSize-sized DeleteFiles batches first, with ProcessDir
// deferred until every batch reports complete.
func (b *Broker) scheduleReady(dir string) {
	n, hasFiles := b.dirFiles.length(dir)
	if !hasFiles || n <= BatchThreshold {
		b.queue.push(WorkItem{Kind: KindProcessDir, Dir: dir})
		return
	}

	files, _ := b.dirFiles.take(dir)
	numBatches := (len(files) + BatchSize - 1) / BatchSize
	b.pendingBatches.set(dir, int64(numBatches))

	for i := 0; i < len(files); i += BatchSize {
		end := i + BatchSize
		if end > len(files) {
			end = len(files)
		}
		b.queue.push(WorkItem{Kind: KindDeleteFiles, Dir: dir, Files: files[i:end]})
	}
}

// TakeFiles returns and removes dir's remaining file list, if any. Used by
// a worker handling ProcessDir for a small (unbatched) directory.
func (b *Broker) TakeFiles(dir string) ([]string, bool) {
	return b.dirFiles.take(dir)
}

// MarkBatchComplete records that one DeleteFiles batch for dir has
// finished. When every batch of dir has reported in, ProcessDir(dir) is
// emitted.
func (b *Broker) MarkBatchComplete(dir string) {
	reachedZero, ok := b.pendingBatches.decrementAndCheckZero(dir)
	if ok && reachedZero {
		b.queue.push(WorkItem{Kind: KindProcessDir, Dir: dir})
	}
}

// MarkComplete records that dir itself (and every batch of its files) is
// fully handled, successfully or not. If this was the last outstanding
// directory, the broker sends one Shutdown per worker. Otherwise it
// decrements the parent's remaining-children counter and, if that reaches
// zero, schedules the parent.
func (b *Broker) MarkComplete(dir string) {
	completed := b.completed.add(1)
	if completed >= b.totalDirs {
		b.done.setTrue()
		for i := 0; i < b.workerCount; i++ {
			b.queue.push(WorkItem{Kind: KindShutdown})
		}
		return
	}

	parent, hasParent := b.parentMap[dir]
	if !hasParent {
		return
	}
	reachedZero, ok := b.childCounts.decrementAndCheckZero(parent)
	if ok && reachedZero {
		b.scheduleReady(parent)
	}
}

// CompletedCount returns the number of directories fully handled so far.
func (b *Broker) CompletedCount() int64 { return b.completed.load() }

// TotalDirs returns the total directory count the broker was constructed
// with.
func (b *Broker) TotalDirs() int64 { return b.totalDirs }

// Done reports whether every directory has been accounted for.
func (b *Broker) Done() bool { return b.done.get() }
