package broker

import (
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/fastrm/fastrm/internal/tree"
)

// drainProcessDirs consumes a broker's queue to completion, recording the
// order directories are finished in. It takes no *testing.T/*rapid.T
// directly so the same drain loop can back both a table test and a rapid
// property check.
func drainProcessDirs(rx <-chan WorkItem, br *Broker, workerCount int, order *[]string, mu *sync.Mutex) {
	shutdowns := 0
	for shutdowns < workerCount {
		item := <-rx
		switch {
		case item.IsDeleteFiles():
			br.MarkBatchComplete(item.Dir)
		case item.IsProcessDir():
			mu.Lock()
			*order = append(*order, item.Dir)
			mu.Unlock()
			br.MarkComplete(item.Dir)
		case item.IsShutdown():
			shutdowns++
		}
	}
}

func TestBrokerFlatTreeCompletesAll(t *testing.T) {
	tr := tree.New()
	tr.Dirs["root"] = struct{}{}
	tr.Leaves["root"] = struct{}{}
	tr.DirFiles["root"] = []string{"root/f1", "root/f2"}

	br, rx := NewBroker(tr, 2)
	var order []string
	var mu sync.Mutex
	drainProcessDirs(rx, br, 2, &order, &mu)

	if br.CompletedCount() != 1 {
		t.Fatalf("expected completed count 1, got %d", br.CompletedCount())
	}
	if !br.Done() {
		t.Fatalf("expected broker to be done")
	}
	if len(order) != 1 || order[0] != "root" {
		t.Fatalf("expected root to be processed once, got %v", order)
	}
}

func TestBrokerChildrenBeforeParent(t *testing.T) {
	// root/a/b/c, root/a/d — matches the dependency-ordering scenario.
	tr := tree.New()
	for _, d := range []string{"root", "root/a", "root/a/b", "root/a/b/c", "root/a/d"} {
		tr.Dirs[d] = struct{}{}
	}
	tr.Children["root"] = []string{"root/a"}
	tr.Children["root/a"] = []string{"root/a/b", "root/a/d"}
	tr.Children["root/a/b"] = []string{"root/a/b/c"}
	tr.Leaves["root/a/b/c"] = struct{}{}
	tr.Leaves["root/a/d"] = struct{}{}

	br, rx := NewBroker(tr, 1)
	var order []string
	var mu sync.Mutex
	drainProcessDirs(rx, br, 1, &order, &mu)

	pos := make(map[string]int, len(order))
	for i, d := range order {
		pos[d] = i
	}

	if pos["root/a/b/c"] >= pos["root/a/b"] {
		t.Fatalf("c must complete before b: order=%v", order)
	}
	if pos["root/a/b"] >= pos["root/a"] || pos["root/a/d"] >= pos["root/a"] {
		t.Fatalf("b and d must complete before a: order=%v", order)
	}
	if pos["root/a"] >= pos["root"] {
		t.Fatalf("a must complete before root: order=%v", order)
	}
}

func TestBrokerLargeDirectoryIsBatched(t *testing.T) {
	const fileCount = 5000
	tr := tree.New()
	tr.Dirs["root"] = struct{}{}
	tr.Leaves["root"] = struct{}{}

	files := make([]string, fileCount)
	for i := range files {
		files[i] = fmt.Sprintf("root/f%d", i)
	}
	tr.DirFiles["root"] = files

	br, rx := NewBroker(tr, 1)

	deleteBatches := 0
	processDirCount := 0
	shutdowns := 0
	for shutdowns < 1 {
		item := <-rx
		switch {
		case item.IsDeleteFiles():
			deleteBatches++
			br.MarkBatchComplete(item.Dir)
		case item.IsProcessDir():
			processDirCount++
			br.MarkComplete(item.Dir)
		case item.IsShutdown():
			shutdowns++
		}
	}

	expectedBatches := (fileCount + BatchSize - 1) / BatchSize
	if deleteBatches != expectedBatches {
		t.Fatalf("expected %d batches, got %d", expectedBatches, deleteBatches)
	}
	if processDirCount != 1 {
		t.Fatalf("expected exactly one ProcessDir for root, got %d", processDirCount)
	}
}

func TestBrokerDirsOnlyNeverBatches(t *testing.T) {
	dirs := map[string]struct{}{"root": {}}
	children := map[string][]string{}

	br, rx := NewBrokerDirsOnly(dirs, children, 1)
	item := <-rx
	if !item.IsProcessDir() || item.Dir != "root" {
		t.Fatalf("expected a single ProcessDir(root), got %+v", item)
	}
	br.MarkComplete("root")
	shutdown := <-rx
	if !shutdown.IsShutdown() {
		t.Fatalf("expected Shutdown after last directory completes")
	}
}

// TestBrokerBatchCountMathProperty checks spec §8's batch-count invariant
// for randomly generated file counts: a directory with more than
// BatchThreshold files is split into exactly ⌈N/BatchSize⌉ batches (one at
// or below the threshold gets none), and ProcessDir is emitted exactly
// once, only after every batch reports complete.
func TestBrokerBatchCountMathProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 6000).Draw(rt, "fileCount")

		tr := tree.New()
		tr.Dirs["root"] = struct{}{}
		tr.Leaves["root"] = struct{}{}
		if n > 0 {
			files := make([]string, n)
			for i := range files {
				files[i] = fmt.Sprintf("root/f%d", i)
			}
			tr.DirFiles["root"] = files
		}

		br, rx := NewBroker(tr, 1)

		deleteBatches := 0
		processDirCount := 0
		shutdowns := 0
		for shutdowns < 1 {
			item := <-rx
			switch {
			case item.IsDeleteFiles():
				deleteBatches++
				br.MarkBatchComplete(item.Dir)
			case item.IsProcessDir():
				processDirCount++
				br.MarkComplete(item.Dir)
			case item.IsShutdown():
				shutdowns++
			}
		}

		wantBatches := 0
		if n > BatchThreshold {
			wantBatches = (n + BatchSize - 1) / BatchSize
		}
		if deleteBatches != wantBatches {
			rt.Fatalf("n=%d: expected %d batches, got %d", n, wantBatches, deleteBatches)
		}
		if processDirCount != 1 {
			rt.Fatalf("n=%d: expected exactly one ProcessDir, got %d", n, processDirCount)
		}
	})
}

// TestBrokerDependencyOrderingProperty checks spec §8's dependency-ordering
// invariant for randomly generated chain depths: mark_complete is never
// observed for a directory before mark_complete has been observed for every
// one of its children.
func TestBrokerDependencyOrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		depth := rapid.IntRange(1, 8).Draw(rt, "depth")

		tr := tree.New()
		chain := make([]string, depth)
		cur := "root"
		tr.Dirs[cur] = struct{}{}
		chain[0] = cur
		for i := 1; i < depth; i++ {
			child := fmt.Sprintf("%s/d%d", cur, i)
			tr.Dirs[child] = struct{}{}
			tr.Children[cur] = []string{child}
			chain[i] = child
			cur = child
		}
		tr.Leaves[chain[depth-1]] = struct{}{}

		br, rx := NewBroker(tr, 1)
		var order []string
		var mu sync.Mutex
		drainProcessDirs(rx, br, 1, &order, &mu)

		pos := make(map[string]int, len(order))
		for i, d := range order {
			pos[d] = i
		}
		for i := 0; i < depth-1; i++ {
			child, parent := chain[i+1], chain[i]
			if pos[child] >= pos[parent] {
				rt.Fatalf("depth=%d: %s must complete before %s, order=%v", depth, child, parent, order)
			}
		}
	})
}

func TestShardedCountersDecrementToZeroOnce(t *testing.T) {
	sc := newShardedCounters()
	sc.set("d", 2)

	zero1, ok1 := sc.decrementAndCheckZero("d")
	if zero1 || !ok1 {
		t.Fatalf("first decrement from 2 should not reach zero")
	}
	zero2, ok2 := sc.decrementAndCheckZero("d")
	if !zero2 || !ok2 {
		t.Fatalf("second decrement from 2 should reach zero")
	}
	zero3, ok3 := sc.decrementAndCheckZero("d")
	if ok3 {
		t.Fatalf("decrementing an already-removed counter should report ok=false, got zero=%v ok=%v", zero3, ok3)
	}
}
