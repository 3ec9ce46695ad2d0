// Command fastrm is a minimal caller-layer demonstration of the core
// package: command-line parsing, help text, and exit-code plumbing beyond
// this are explicitly out of the core's scope and are someone else's job.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/fastrm/fastrm/internal/broker"
	"github.com/fastrm/fastrm/internal/errtracker"
	"github.com/fastrm/fastrm/internal/logger"
	"github.com/fastrm/fastrm/internal/scanner"
	"github.com/fastrm/fastrm/internal/worker"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	killProcesses := flag.Bool("kill", false, "escalate to process termination and handle closing on locked files")
	workerCount := flag.Int("workers", runtime.NumCPU(), "number of deletion workers")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fastrm [-verbose] [-kill] [-workers N] <path>")
		os.Exit(2)
	}

	if err := logger.SetupLogging(*verbose, ""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close()

	root := flag.Arg(0)

	t, err := scanner.DiscoverTree(root)
	if err != nil {
		logger.Error("scan failed: %v", err)
		os.Exit(1)
	}

	tr := errtracker.New()
	br, rx := broker.NewBroker(t, *workerCount)
	handles := worker.SpawnWorkers(*workerCount, rx, br, worker.Config{
		Verbose:       *verbose,
		KillProcesses: *killProcesses,
	}, tr)
	for _, h := range handles {
		<-h
	}

	failures := tr.GetFailures()
	logger.Info("deleted %d/%d directories, %d failures", br.CompletedCount(), br.TotalDirs(), len(failures))
	for _, f := range failures {
		logger.Error("failed: %s: %s", f.Path, f.Message)
	}
	if len(failures) > 0 {
		os.Exit(1)
	}
}
