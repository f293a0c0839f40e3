// Package counting builds fresh k-mer databases from raw sequence:
// extraction through a rolling register, prefix-sharded accumulation with
// a memory budget, and sorted per-shard database output. It is the
// engine's one concrete implementation of a Counting operation node; the
// driver runs it for any node of engine.OpCounting.
package counting

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/kmerctl/kmerctl/internal/kmer"
	"github.com/kmerctl/kmerctl/internal/kmerdb"
	"github.com/kmerctl/kmerctl/internal/schedule"
	"github.com/kmerctl/kmerctl/internal/seqio"
)

// Options configures one counting pass, sourced from the command line's
// trailing "memory <gigabytes> threads <N>" pair.
type Options struct {
	K              int
	Compress       bool
	AllowedMemory  int64 // bytes; 0 means unbounded (no spilling)
	AllowedThreads int
	SpillDir       string // scratch directory for overflow run files
}

// Run executes the full counting pipeline over sources, writing a sorted
// database to outDir. It returns the resulting index (already written to
// outDir/index.gob).
func Run(ctx context.Context, opts Options, sources []seqio.Source, outDir string) (*kmerdb.Index, error) {
	threads := opts.AllowedThreads
	if threads < 1 {
		threads = 1
	}
	// The memory budget is divided evenly across the concurrent shards;
	// a bucket that outgrows its share spills to disk.
	perShardBudget := int64(0)
	if opts.AllowedMemory > 0 {
		perShardBudget = opts.AllowedMemory / kmer.NumShards
	}

	buckets := make([]*bucket, kmer.NumShards)
	locks := make([]sync.Mutex, kmer.NumShards)
	for i := range buckets {
		buckets[i] = newBucket(opts.SpillDir, i, perShardBudget)
	}

	if err := produce(ctx, opts, sources, buckets, locks[:]); err != nil {
		return nil, err
	}

	idx := &kmerdb.Index{K: opts.K, NumShards: kmer.NumShards, ShardStats: make([]kmerdb.ShardStat, kmer.NumShards)}

	err := schedule.RunShards(threads, func(shard int) error {
		w, err := kmerdb.NewShardWriter(ctx, outDir, shard, opts.K)
		if err != nil {
			return err
		}
		distinctAt := make(map[uint32]int64)
		var count int64
		mergeErr := buckets[shard].mergeBucket(func(km kmer.Bits, c uint32) error {
			count++
			distinctAt[c]++
			return w.Write(km, c, 0)
		})
		if mergeErr != nil {
			return mergeErr
		}
		if err := w.Close(); err != nil {
			return err
		}
		stat := w.Stat()
		idx.ShardStats[shard] = kmerdb.ShardStat{
			RecordCount:     count,
			DistinctAtValue: distinctAt,
			Checksum:        stat.Sum,
		}
		log.Debug.Printf("counting: shard %d: %d distinct k-mers", shard, count)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := kmerdb.WriteIndex(ctx, outDir, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// produce runs the producer pass over every source, optionally in parallel
// when more than one source is supplied (coarse parallel intake for
// segmented sequence-store handles). Sources are partitioned into
// contiguous ranges, one per worker, the same way schedule.RunShards
// splits shard work across jobs.
func produce(ctx context.Context, opts Options, sources []seqio.Source, buckets []*bucket, locks []sync.Mutex) error {
	jobs := opts.AllowedThreads
	if jobs < 1 || jobs > len(sources) {
		jobs = len(sources)
	}
	if jobs < 1 {
		return nil
	}
	return traverse.Each(jobs, func(jobIdx int) error {
		start := (jobIdx * len(sources)) / jobs
		end := ((jobIdx + 1) * len(sources)) / jobs
		z := kmer.NewKmerizer(opts.K, opts.Compress)
		for i := start; i < end; i++ {
			if err := produceOne(sources[i], z, opts, buckets, locks); err != nil {
				return err
			}
		}
		return nil
	})
}

// produceOne drains one sequence source into the shard buckets.
func produceOne(src seqio.Source, z *kmer.Kmerizer, opts Options, buckets []*bucket, locks []sync.Mutex) error {
	defer src.Close() // nolint: errcheck
	for {
		bases, ok, err := src.Next()
		if err != nil {
			return errors.E(err, "counting: reading sequence source")
		}
		if !ok {
			return nil
		}
		var emitErr error
		z.PushSeq(bases, func(km kmer.Bits) {
			if emitErr != nil {
				return
			}
			shard := kmer.ShardOf(km, opts.K)
			locks[shard].Lock()
			emitErr = buckets[shard].add(km)
			locks[shard].Unlock()
		})
		if emitErr != nil {
			return emitErr
		}
	}
}
