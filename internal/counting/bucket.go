package counting

import (
	"github.com/biogo/store/llrb"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// countEntry is one llrb.Comparable leaf: a canonical k-mer and its running
// occurrence count within one shard's in-memory bucket. Fields are exported
// for the gob spill-run framing in spill.go.
type countEntry struct {
	Km    kmer.Bits
	Count uint32
}

func (e *countEntry) Compare(o llrb.Comparable) int {
	return kmer.Compare(e.Km, o.(*countEntry).Km)
}

// entryOverhead is a rough per-entry memory estimate (k-mer lanes + count +
// llrb node pointers/color bit) used to decide when a bucket has outgrown
// its share of the memory budget. Not exact; only a conservative spill
// trigger is needed.
const entryOverhead = 64

// bucket is one shard's in-memory, memory-bounded accumulator. It is
// backed by an llrb.Tree, the same ordered structure the merge cursors
// use (engine.ComputeNode), rather than a second ordered-map
// implementation; in-order traversal gives the finalize pass its sorted
// drain for free.
type bucket struct {
	tree        llrb.Tree
	budgetBytes int64
	runs        []spillRun
	shardDir    string
	shard       int
}

func newBucket(shardDir string, shard int, budgetBytes int64) *bucket {
	return &bucket{shardDir: shardDir, shard: shard, budgetBytes: budgetBytes}
}

// add increments the count for km by one, spilling to disk first if the
// bucket has grown past its memory share.
func (b *bucket) add(km kmer.Bits) error {
	probe := &countEntry{Km: km}
	if found := b.tree.Get(probe); found != nil {
		found.(*countEntry).Count++
		return nil
	}
	b.tree.Insert(&countEntry{Km: km, Count: 1})
	if b.budgetBytes > 0 && int64(b.tree.Len())*entryOverhead > b.budgetBytes {
		return b.spill()
	}
	return nil
}

// spill writes every entry currently in memory to a new sorted run file
// and empties the in-memory tree.
func (b *bucket) spill() error {
	if b.tree.Len() == 0 {
		return nil
	}
	entries := make([]countEntry, 0, b.tree.Len())
	b.tree.Do(func(c llrb.Comparable) bool {
		entries = append(entries, *c.(*countEntry))
		return true
	})
	run, err := writeSpillRun(b.shardDir, b.shard, len(b.runs), entries)
	if err != nil {
		return err
	}
	b.runs = append(b.runs, run)
	b.tree = llrb.Tree{}
	return nil
}

// drainSorted returns every in-memory entry in ascending k-mer order,
// leaving the tree intact (used for the no-spill fast path at finalize).
func (b *bucket) drainSorted() []countEntry {
	entries := make([]countEntry, 0, b.tree.Len())
	b.tree.Do(func(c llrb.Comparable) bool {
		entries = append(entries, *c.(*countEntry))
		return true
	})
	return entries
}
