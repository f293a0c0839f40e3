package kmerdb

import (
	"fmt"
	"io"
	"sync"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// LinePrinter writes one line per record:
// "<k-mer-string>\t<value>\t<label>\n". It is safe for concurrent use by
// multiple shard workers, serializing access to the single shared
// io.Writer with a mutex.
type LinePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLinePrinter wraps w for concurrent per-record writes.
func NewLinePrinter(w io.Writer) *LinePrinter {
	return &LinePrinter{w: w}
}

// WriteRecord prints one record. When acgtOrder is true, the k-mer is
// rewritten to its canonical lexicographic (A<C<G<T) orientation rather
// than the engine's internal canonicalization orientation.
func (p *LinePrinter) WriteRecord(km kmer.Bits, k int, value uint32, label uint64, acgtOrder bool) error {
	s := renderKmer(km, k, acgtOrder)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s\t%d\t%d\n", s, value, label)
	return err
}

// renderKmer renders km in the requested orientation: the stored
// (canonicalization) orientation, or the alphabetically smaller of km and
// its reverse complement when acgtOrder is set.
func renderKmer(km kmer.Bits, k int, acgtOrder bool) string {
	if !acgtOrder {
		return kmer.String(km, k)
	}
	rc := kmer.ReverseComplement(km, k)
	if kmer.LessACGT(rc, km, k) {
		return kmer.String(rc, k)
	}
	return kmer.String(km, k)
}
