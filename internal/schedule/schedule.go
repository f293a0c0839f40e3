// Package schedule implements the engine's data-parallel worker pool: one
// task per prefix shard, fanned out with github.com/grailbio/base/traverse
// and joined with a first-error-wins accumulator
// (github.com/grailbio/base/errors.Once) rather than a hand-rolled
// WaitGroup+channel.
package schedule

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	pkgerrors "github.com/pkg/errors"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// NumShards is the fixed shard fan-out width (top 6 bits of the k-mer).
const NumShards = kmer.NumShards

// RunShards evaluates fn once per shard (0..NumShards-1), using up to
// parallelism concurrent workers, each owning a contiguous shard range. A
// non-nil return (or panic) from any shard aborts the remaining shards at
// their next poll point; RunShards reports the first such error.
func RunShards(parallelism int, fn func(shard int) error) error {
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > NumShards {
		parallelism = NumShards
	}
	once := errors.Once{}
	err := traverse.Each(parallelism, func(jobIdx int) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = pkgerrors.Errorf("schedule: shard worker panic: %v", r)
				once.Set(err)
			}
		}()
		start := (jobIdx * NumShards) / parallelism
		end := ((jobIdx + 1) * NumShards) / parallelism
		for shard := start; shard < end; shard++ {
			if once.Err() != nil {
				return once.Err()
			}
			if e := fn(shard); e != nil {
				once.Set(e)
				log.Error.Printf("schedule: shard %d failed: %v", shard, e)
				return e
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return once.Err()
}
