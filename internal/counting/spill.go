package counting

import (
	"bufio"
	"container/heap"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	farm "github.com/dgryski/go-farm"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// spillRun is one on-disk, already-sorted overflow file for a shard's
// bucket.
type spillRun struct {
	path string
}

// writeSpillRun gob-encodes entries (already sorted ascending, since they
// were drained from the in-memory llrb tree in order) to a new temp file.
// The file name folds in a FarmHash of the shard/run pair purely to spread
// run files across a balanced name space when many shards spill
// concurrently; it has no effect on read-back order.
func writeSpillRun(dir string, shard, runIdx int, entries []countEntry) (spillRun, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return spillRun{}, err
	}
	tag := farm.Hash64([]byte(fmt.Sprintf("%d:%d", shard, runIdx)))
	path := filepath.Join(dir, fmt.Sprintf("spill-%02d-%04d-%x.gob", shard, runIdx, tag&0xffff))
	f, err := os.Create(path)
	if err != nil {
		return spillRun{}, err
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			f.Close() // nolint: errcheck
			return spillRun{}, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close() // nolint: errcheck
		return spillRun{}, err
	}
	return spillRun{path: path}, f.Close()
}

// runReader streams one spill run's entries back in ascending order.
type runReader struct {
	f   *os.File
	dec *gob.Decoder
}

func openRun(r spillRun) (*runReader, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	return &runReader{f: f, dec: gob.NewDecoder(bufio.NewReader(f))}, nil
}

func (rr *runReader) next() (countEntry, bool, error) {
	var e countEntry
	if err := rr.dec.Decode(&e); err != nil {
		if err == io.EOF {
			return countEntry{}, false, nil
		}
		return countEntry{}, false, err
	}
	return e, true, nil
}

func (rr *runReader) close() error {
	return rr.f.Close()
}

// mergeHeapItem is one live run's current head entry, ordered by k-mer for
// the k-way merge below.
type mergeHeapItem struct {
	entry countEntry
	src   int // index into the merge's []source slice
}

type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return kmer.Compare(h[i].entry.Km, h[j].entry.Km) < 0
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// source is one input stream to the k-way merge: either a spilled run file
// or the in-memory bucket's final drain, unified behind a single closure.
type source struct {
	next  func() (countEntry, bool, error)
	close func() error
}

// mergeBucket fuses every spill run plus the remaining in-memory entries
// into one ascending, deduplicated stream, calling emit(km, count) for each
// distinct k-mer once all of its partial counts (which may be split across
// runs, since the same k-mer can recur after a spill boundary) have been
// summed. This is the counting pipeline's finalize pass.
func (b *bucket) mergeBucket(emit func(km kmer.Bits, count uint32) error) (err error) {
	var sources []source
	defer func() {
		for _, s := range sources {
			if cerr := s.close(); err == nil {
				err = cerr
			}
		}
	}()

	for _, run := range b.runs {
		rr, oerr := openRun(run)
		if oerr != nil {
			return oerr
		}
		sources = append(sources, source{next: rr.next, close: rr.close})
	}
	inMem := b.drainSorted()
	idx := 0
	sources = append(sources, source{
		next: func() (countEntry, bool, error) {
			if idx >= len(inMem) {
				return countEntry{}, false, nil
			}
			e := inMem[idx]
			idx++
			return e, true, nil
		},
		close: func() error { return nil },
	})

	h := &mergeHeap{}
	heap.Init(h)
	for i, s := range sources {
		e, ok, nerr := s.next()
		if nerr != nil {
			return nerr
		}
		if ok {
			heap.Push(h, mergeHeapItem{entry: e, src: i})
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeHeapItem)
		km := top.entry.Km
		total := top.entry.Count

		// Pull every other head tied at the same k-mer (possibly spanning
		// several runs) before emitting, so a k-mer split by a spill
		// boundary is summed exactly once.
		for h.Len() > 0 && kmer.Compare((*h)[0].entry.Km, km) == 0 {
			tied := heap.Pop(h).(mergeHeapItem)
			total += tied.entry.Count
			e, ok, nerr := sources[tied.src].next()
			if nerr != nil {
				return nerr
			}
			if ok {
				heap.Push(h, mergeHeapItem{entry: e, src: tied.src})
			}
		}

		if err := emit(km, total); err != nil {
			return err
		}

		e, ok, nerr := sources[top.src].next()
		if nerr != nil {
			return nerr
		}
		if ok {
			heap.Push(h, mergeHeapItem{entry: e, src: top.src})
		}
	}
	return nil
}
