// Package scanner performs the parallel tree traversal that produces a
// DirectoryTree value: the set of directories, the parent-to-children
// relationship, the leaf set, per-directory file lists, and aggregate
// counters.
package scanner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fastrm/fastrm/internal/fsprim"
	"github.com/fastrm/fastrm/internal/logger"
	"github.com/fastrm/fastrm/internal/tree"
)

// highCoreThreshold is the CPU count at or above which the adaptive
// parallel recursion threshold drops from 3 children to 2.
const highCoreThreshold = 8

type builder struct {
	mu         sync.Mutex
	dirs       map[string]struct{}
	children   map[string][]string
	dirFiles   map[string][]string
	fileCount  atomic.Int64
	totalBytes atomic.Int64
}

func newBuilder() *builder {
	return &builder{
		dirs:     make(map[string]struct{}),
		children: make(map[string][]string),
		dirFiles: make(map[string][]string),
	}
}

func (b *builder) addDir(path string) {
	b.mu.Lock()
	b.dirs[path] = struct{}{}
	b.mu.Unlock()
}

func (b *builder) addChild(parent, child string) {
	b.mu.Lock()
	b.children[parent] = append(b.children[parent], child)
	b.mu.Unlock()
}

func (b *builder) addFile(dir, path string, size int64) {
	b.mu.Lock()
	b.dirFiles[dir] = append(b.dirFiles[dir], path)
	b.mu.Unlock()
	b.fileCount.Add(1)
	b.totalBytes.Add(size)
}

// parallelThreshold returns the minimum subdirectory count required before
// the scanner forks instead of recursing sequentially.
func parallelThreshold() int {
	if runtime.NumCPU() >= highCoreThreshold {
		return 2
	}
	return 3
}

// DiscoverTree walks root and returns the resulting DirectoryTree. Per-
// directory enumeration errors are logged and that subtree is skipped;
// scanning never aborts the overall invocation except on a fatal error at
// the root itself.
func DiscoverTree(root string) (*tree.DirectoryTree, error) {
	root = fsprim.Normalize(root)
	if !fsprim.Exists(root) {
		return nil, fmt.Errorf("discover tree: %s does not exist", root)
	}

	b := newBuilder()
	threshold := parallelThreshold()

	var walk func(ctx context.Context, dir string) error
	walk = func(ctx context.Context, dir string) error {
		b.addDir(dir)

		var subdirs, symlinkDirs []string

		err := fsprim.Enumerate(dir, func(e fsprim.Entry) error {
			switch {
			case e.IsDir && e.IsSymlink:
				// Junction/symlink directories are leaves in the
				// scheduling sense: listed as a child so the parent
				// waits for them, never recursed into.
				symlinkDirs = append(symlinkDirs, e.Path)
			case e.IsDir:
				subdirs = append(subdirs, e.Path)
			default:
				// Symlink files are treated as regular files.
				b.addFile(dir, e.Path, e.Size)
			}
			return nil
		})
		if err != nil {
			logger.Warning("scanner: skipping subtree %s: %v", dir, err)
			return nil
		}

		for _, link := range symlinkDirs {
			b.addDir(link)
			b.addChild(dir, link)
		}
		for _, sub := range subdirs {
			b.addChild(dir, sub)
		}

		if len(subdirs) == 0 {
			return nil
		}

		if len(subdirs) >= threshold {
			g, gctx := errgroup.WithContext(ctx)
			for _, sub := range subdirs {
				sub := sub
				g.Go(func() error { return walk(gctx, sub) })
			}
			return g.Wait()
		}

		for _, sub := range subdirs {
			if err := walk(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(context.Background(), root); err != nil {
		return nil, fmt.Errorf("discover tree: %w", err)
	}

	t := &tree.DirectoryTree{
		Dirs:       b.dirs,
		Children:   b.children,
		DirFiles:   b.dirFiles,
		Leaves:     make(map[string]struct{}),
		FileCount:  b.fileCount.Load(),
		TotalBytes: b.totalBytes.Load(),
	}
	for d := range t.Dirs {
		if _, hasChildren := t.Children[d]; !hasChildren {
			t.Leaves[d] = struct{}{}
		}
	}
	return t, nil
}
