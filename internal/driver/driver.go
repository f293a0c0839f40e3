// Package driver runs a finalized command tree to completion: it executes
// every counting node first, then partitions the remaining evaluation into
// the 64 prefix shards, fans per-shard compute twins out across worker
// threads (via internal/schedule), and joins their outputs (database
// shards, printed lines, histogram/statistics counts) once every shard
// finishes. It is the glue between internal/builder's template trees,
// internal/engine's merge twins, internal/counting, and internal/kmerdb.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/kmerctl/kmerctl/internal/builder"
	"github.com/kmerctl/kmerctl/internal/counting"
	"github.com/kmerctl/kmerctl/internal/engine"
	"github.com/kmerctl/kmerctl/internal/histogram"
	"github.com/kmerctl/kmerctl/internal/kmer"
	"github.com/kmerctl/kmerctl/internal/kmerdb"
	"github.com/kmerctl/kmerctl/internal/schedule"
	"github.com/kmerctl/kmerctl/internal/seqio"
)

// Options configures one end-to-end evaluation run.
type Options struct {
	AllowedMemoryGB float64
	AllowedThreads  int

	// Out receives print/histogram/statistics output (typically stdout).
	Out io.Writer

	// ScratchDir is the base directory for counting nodes that have no
	// explicit "output" path of their own (they still need somewhere on
	// disk to live, since downstream operations stream them shard by
	// shard rather than holding them in memory).
	ScratchDir string
}

// Run executes every tree the builder produced, to completion: counting
// nodes build fresh databases first, then every remaining root is
// evaluated shard by shard and its outputs are written or printed.
func Run(ctx context.Context, b *builder.Builder, opts Options) (err error) {
	templates := b.Templates()
	byID := make(map[engine.NodeID]*engine.Template, len(templates))
	for _, tpl := range templates {
		byID[tpl.ID] = tpl
	}

	threads := opts.AllowedThreads
	if threads < 1 {
		threads = 1
	}
	memBytes := int64(opts.AllowedMemoryGB * (1 << 30))

	dbPaths, err := runCountingNodes(ctx, templates, threads, memBytes, opts.ScratchDir)
	if err != nil {
		return err
	}
	rewriteCountingUpstreams(templates, dbPaths)

	var mergeRoots []engine.NodeID
	for _, id := range b.Roots() {
		if byID[id].Type != engine.OpCounting {
			mergeRoots = append(mergeRoots, id)
		}
	}
	if len(mergeRoots) == 0 {
		return nil
	}

	sinks := newSinkSet(opts.Out)

	abort := engine.NewRunAbort()
	err = schedule.RunShards(threads, func(shard int) error {
		built := map[engine.NodeID]*engine.ComputeNode{}
		var resolve func(id engine.NodeID) (*engine.ComputeNode, error)
		resolve = func(id engine.NodeID) (*engine.ComputeNode, error) {
			if cn, ok := built[id]; ok {
				return cn, nil
			}
			tpl, ok := byID[id]
			if !ok {
				return nil, errors.Errorf("driver: unknown node %d", id)
			}
			shardTpl := *tpl
			if err := sinks.attach(ctx, tpl, &shardTpl, shard); err != nil {
				return nil, err
			}

			inputs := make([]engine.InputSource, len(tpl.Inputs))
			for i, in := range tpl.Inputs {
				src, err := resolveInput(ctx, in, shard, resolve)
				if err != nil {
					return nil, err
				}
				inputs[i] = src
			}
			cn := engine.NewComputeNode(&shardTpl, shard, inputs, abort)
			built[id] = cn
			return cn, nil
		}

		for _, id := range mergeRoots {
			cn, err := resolve(id)
			if err != nil {
				return err
			}
			if err := cn.Run(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := sinks.finish(ctx); err != nil {
		return err
	}
	return nil
}

// runCountingNodes executes the counting pipeline for every Counting node,
// in isolation (counting nodes only ever take sequence-file/store inputs,
// never operation inputs, so there is no ordering dependency between
// them). It returns the output directory each counting node's database
// landed in.
func runCountingNodes(ctx context.Context, templates []*engine.Template, threads int, memBytes int64, scratchDir string) (map[engine.NodeID]string, error) {
	dbPaths := map[engine.NodeID]string{}
	for _, tpl := range templates {
		if tpl.Type != engine.OpCounting {
			continue
		}
		outDir := tpl.OutputPath
		if outDir == "" {
			dir, err := os.MkdirTemp(scratchDir, fmt.Sprintf("kmerctl-count-%d-", tpl.ID))
			if err != nil {
				return nil, err
			}
			outDir = dir
		} else if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, err
		}

		sources, err := openCountingSources(ctx, tpl)
		if err != nil {
			return nil, err
		}
		copts := counting.Options{
			K:              tpl.K,
			Compress:       anyInputCompressed(tpl),
			AllowedThreads: threads,
			AllowedMemory:  memBytes,
			SpillDir:       filepath.Join(outDir, ".spill"),
		}
		log.Printf("driver: counting node %d: %d input source(s) -> %s", tpl.ID, len(sources), outDir)
		if _, err := counting.Run(ctx, copts, sources, outDir); err != nil {
			return nil, err
		}
		dbPaths[tpl.ID] = outDir
	}
	return dbPaths, nil
}

// anyInputCompressed reports whether any of a counting node's inputs asked
// for homopolymer compression. counting.Options applies one
// Compress flag per node rather than per source, so a node mixing
// compressed and uncompressed inputs gets the more conservative (enabled)
// behavior for all of them.
func anyInputCompressed(tpl *engine.Template) bool {
	for _, in := range tpl.Inputs {
		if in.Compress {
			return true
		}
	}
	return false
}

// openCountingSources resolves a counting node's inputs to concrete
// seqio.Source values.
func openCountingSources(ctx context.Context, tpl *engine.Template) ([]seqio.Source, error) {
	var sources []seqio.Source
	for _, in := range tpl.Inputs {
		switch in.Kind {
		case engine.FromSequenceFile:
			for _, p := range in.SequencePaths {
				src, err := seqio.Open(ctx, p)
				if err != nil {
					return nil, err
				}
				sources = append(sources, src)
			}
		case engine.FromSequenceStore:
			src, err := seqio.OpenStore(ctx, in.StoreHandle, in.Segment, in.SegmentCount)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		default:
			return nil, errors.Errorf("counting node %d: input kind %d is not a sequence source", tpl.ID, in.Kind)
		}
	}
	return sources, nil
}

// rewriteCountingUpstreams replaces every FromOperation input that pointed
// at a (now-finished) counting node with a FromDatabase input over its
// output directory: a counting node has no live per-shard output stream to
// pull from, only a database already sorted and sharded on disk.
func rewriteCountingUpstreams(templates []*engine.Template, dbPaths map[engine.NodeID]string) {
	for _, tpl := range templates {
		for i := range tpl.Inputs {
			in := &tpl.Inputs[i]
			if in.Kind != engine.FromOperation {
				continue
			}
			if path, ok := dbPaths[in.Upstream]; ok {
				*in = engine.InputSpec{Kind: engine.FromDatabase, DatabasePath: path}
			}
		}
	}
}

// resolveInput materializes one of a node's InputSpecs into a concrete
// engine.InputSource for a given shard.
func resolveInput(ctx context.Context, in engine.InputSpec, shard int, resolve func(engine.NodeID) (*engine.ComputeNode, error)) (engine.InputSource, error) {
	switch in.Kind {
	case engine.FromOperation:
		up, err := resolve(in.Upstream)
		if err != nil {
			return nil, err
		}
		return engine.NewOperationInput(up), nil
	case engine.FromDatabase:
		idx, err := kmerdb.ReadIndex(ctx, in.DatabasePath)
		if err != nil {
			return nil, err
		}
		r, err := kmerdb.NewShardReader(ctx, in.DatabasePath, shard, idx.K)
		if err != nil {
			return nil, err
		}
		return engine.NewDatabaseInput(r), nil
	default:
		return nil, errors.Errorf("driver: input kind %d cannot feed a merge node directly (only Counting nodes accept sequence inputs)", in.Kind)
	}
}

// shardWriterAdapter satisfies engine.DatabaseWriter over a kmerdb shard,
// accumulating the per-value distinct counts the database index records
// for later distinct=/word-frequency= resolution.
type shardWriterAdapter struct {
	w          *kmerdb.ShardWriter
	distinctAt map[uint32]int64
}

func newShardWriterAdapter(w *kmerdb.ShardWriter) *shardWriterAdapter {
	return &shardWriterAdapter{w: w, distinctAt: map[uint32]int64{}}
}

func (a *shardWriterAdapter) Write(rec engine.Record) error {
	a.distinctAt[rec.Value]++
	return a.w.Write(rec.Kmer, rec.Value, rec.Label)
}
func (a *shardWriterAdapter) Close() error { return a.w.Close() }

// lineWriterAdapter satisfies engine.LineWriter over a shared LinePrinter.
type lineWriterAdapter struct{ p *kmerdb.LinePrinter }

func (a *lineWriterAdapter) WriteRecord(rec engine.Record, k int, acgtOrder bool) error {
	return a.p.WriteRecord(rec.Kmer, k, rec.Value, rec.Label, acgtOrder)
}

// nodeSink holds the per-node, cross-shard output state a sinkSet manages
// for one Template: a database writer's per-shard instances, a single
// shared line printer, and per-shard histogram accumulators merged at
// finish.
type nodeSink struct {
	tpl        *engine.Template
	k          int
	writers    map[int]*shardWriterAdapter
	printer    *kmerdb.LinePrinter
	histograms map[int]*histogram.LiveHistogram
}

// sinkSet owns every node's output state for one evaluation run. attach is
// called concurrently from shard workers, so the node map (and each node's
// per-shard writer/histogram maps) is guarded by mu; finish runs only
// after every worker has joined.
type sinkSet struct {
	mu    sync.Mutex
	out   io.Writer
	nodes map[engine.NodeID]*nodeSink
}

func newSinkSet(out io.Writer) *sinkSet {
	return &sinkSet{out: out, nodes: map[engine.NodeID]*nodeSink{}}
}

func (s *sinkSet) nodeFor(tpl *engine.Template) *nodeSink {
	ns, ok := s.nodes[tpl.ID]
	if !ok {
		ns = &nodeSink{tpl: tpl, k: tpl.K, writers: map[int]*shardWriterAdapter{}, histograms: map[int]*histogram.LiveHistogram{}}
		if tpl.Type == engine.OpPrint {
			ns.printer = kmerdb.NewLinePrinter(s.out)
		}
		s.nodes[tpl.ID] = ns
	}
	return ns
}

// attach wires this shard's concrete output sinks into shardTpl, per
// tpl's static configuration (OutputPath / Type).
func (s *sinkSet) attach(ctx context.Context, tpl, shardTpl *engine.Template, shard int) error {
	if tpl.OutputPath == "" && tpl.Type != engine.OpPrint && tpl.Type != engine.OpHistogram && tpl.Type != engine.OpStatistics {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.nodeFor(tpl)
	if tpl.OutputPath != "" {
		if err := os.MkdirAll(tpl.OutputPath, 0755); err != nil {
			return err
		}
		w, err := kmerdb.NewShardWriter(ctx, tpl.OutputPath, shard, tpl.K)
		if err != nil {
			return err
		}
		a := newShardWriterAdapter(w)
		ns.writers[shard] = a
		shardTpl.Writer = a
	}
	if ns.printer != nil {
		shardTpl.Printer = &lineWriterAdapter{ns.printer}
	}
	if tpl.Type == engine.OpHistogram || tpl.Type == engine.OpStatistics {
		lh := histogram.NewLiveHistogram()
		ns.histograms[shard] = lh
		shardTpl.Histogram = lh
	}
	return nil
}

// finish closes every database writer (recording its shard stats into a
// freshly written index) and prints every histogram/statistics node's
// merged report.
func (s *sinkSet) finish(ctx context.Context) error {
	for _, ns := range s.nodes {
		if len(ns.writers) > 0 {
			if err := finishDatabaseSink(ctx, ns); err != nil {
				return err
			}
		}
		if len(ns.histograms) > 0 {
			if err := finishHistogramSink(s.out, ns); err != nil {
				return err
			}
		}
	}
	return nil
}

func finishDatabaseSink(ctx context.Context, ns *nodeSink) error {
	idx := &kmerdb.Index{K: ns.k, NumShards: kmer.NumShards, ShardStats: make([]kmerdb.ShardStat, kmer.NumShards)}
	for shard := 0; shard < kmer.NumShards; shard++ {
		a, ok := ns.writers[shard]
		if !ok {
			continue
		}
		if err := a.Close(); err != nil {
			return errors.Wrapf(err, "closing shard %d of node %d", shard, ns.tpl.ID)
		}
		stat := a.w.Stat()
		idx.ShardStats[shard] = kmerdb.ShardStat{
			RecordCount:     int64(stat.Count),
			DistinctAtValue: a.distinctAt,
			Checksum:        stat.Sum,
		}
	}
	return kmerdb.WriteIndex(ctx, ns.tpl.OutputPath, idx)
}

func finishHistogramSink(out io.Writer, ns *nodeSink) error {
	merged := histogram.NewLiveHistogram()
	for _, lh := range ns.histograms {
		merged.Merge(lh)
	}
	h := merged.Snapshot()
	if ns.tpl.Type == engine.OpStatistics {
		return h.Compute().WriteReport(out)
	}
	return h.WriteHistogram(out)
}
