// kmerctl is the command-line front end for the k-mer processing engine:
// a thin flag-based wrapper that parses a handful of global flags and
// hands the rest of argv to the engine's own token grammar
// (internal/builder).
//
// Usage:
//
//	kmerctl -k 21 [-v 1] count reads.fastq output db.kmerdb \
//	    memory 4 threads 8
//
// Everything after the recognized global flags is tokenized on whitespace
// by the shell and fed to the builder one word at a time.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/kmerctl/kmerctl/internal/builder"
	"github.com/kmerctl/kmerctl/internal/driver"
	"github.com/kmerctl/kmerctl/internal/engine"
	"github.com/kmerctl/kmerctl/internal/kmer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run builds and executes the command tree described by args, returning
// the process exit code: 0 on success, non-zero if the error collector is
// non-empty after parsing or if any shard fails.
func run(args []string) int {
	fs := flag.NewFlagSet("kmerctl", flag.ContinueOnError)
	k := fs.Int("k", 21, "k-mer length")
	verbosity := fs.Int("v", 0, "log verbosity level")
	scratch := fs.String("scratch", "", "scratch directory for intermediate counting output (default: system temp)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	engine.SetVerbosity(*verbosity)

	if *k < 1 || *k > kmer.MaxLength {
		log.Error.Printf("kmerctl: -k must be between 1 and %d, got %d", kmer.MaxLength, *k)
		return 2
	}

	b := builder.New()
	for _, word := range fs.Args() {
		b.ProcessWord(word, *k)
	}
	b.Finish(*k)

	ctx := vcontext.Background()
	b.Finalize(ctx)

	if !b.Errors().Empty() {
		for _, e := range b.Errors().Errors() {
			log.Error.Printf("kmerctl: %s", e)
		}
		return 1
	}

	opts := driver.Options{
		AllowedMemoryGB: b.AllowedMemoryGB,
		AllowedThreads:  b.AllowedThreads,
		Out:             os.Stdout,
		ScratchDir:      *scratch,
	}
	if err := driver.Run(ctx, b, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
