package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fastrm/fastrm/internal/errtracker"
)

func TestDeleteFilesFromListSequential(t *testing.T) {
	dir := t.TempDir()
	files := make([]string, 5)
	for i := range files {
		p := filepath.Join(dir, fmt.Sprintf("f%d.txt", i))
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("setup: %v", err)
		}
		files[i] = p
	}

	tr := errtracker.New()
	deleteFilesFromList(files, Config{}, tr)

	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("expected no failures, got %v", got)
	}
	for _, f := range files {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be deleted", f)
		}
	}
}

func TestDeleteFilesFromListParallelStrategy(t *testing.T) {
	dir := t.TempDir()
	const n = 200 // comfortably above parallelThreshold() on any CPU count
	files := make([]string, n)
	for i := range files {
		p := filepath.Join(dir, fmt.Sprintf("f%d.txt", i))
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("setup: %v", err)
		}
		files[i] = p
	}

	tr := errtracker.New()
	deleteFilesFromList(files, Config{}, tr)

	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("expected no failures, got %v", got)
	}
	for _, f := range files {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be deleted", f)
		}
	}
}

func TestDeleteFilesFromListMissingFilesAreNotFailures(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "gone1.txt"),
		filepath.Join(dir, "gone2.txt"),
	}

	tr := errtracker.New()
	deleteFilesFromList(files, Config{}, tr)

	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("missing files must not be recorded as failures, got %v", got)
	}
}

func TestDeleteFilesFromListEmptyIsNoop(t *testing.T) {
	tr := errtracker.New()
	deleteFilesFromList(nil, Config{}, tr)
	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("expected no failures on empty input, got %v", got)
	}
}

func TestRemoveDirWithEscalationNotFoundIsSuccess(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope")

	tr := errtracker.New()
	removeDirWithEscalation(missing, Config{}, tr)

	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("missing directory must not be recorded as a failure, got %v", got)
	}
}

func TestRemoveDirWithEscalationRemovesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "empty")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tr := errtracker.New()
	removeDirWithEscalation(target, Config{}, tr)

	if got := tr.GetFailures(); len(got) != 0 {
		t.Fatalf("expected no failures, got %v", got)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed", target)
	}
}

func TestParallelThresholdAndMinChunkSizeBounds(t *testing.T) {
	if th := parallelThreshold(); th < 8 || th > 24 {
		t.Fatalf("parallelThreshold out of expected CPU-scaled range: %d", th)
	}
	if c := minChunkSize(); c < 4 || c > 16 {
		t.Fatalf("minChunkSize out of expected clamp range: %d", c)
	}
}
