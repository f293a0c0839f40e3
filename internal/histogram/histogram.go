// Package histogram resolves the quantile-derived filter constants
// (distinct=x, word-frequency=x) and formats the engine's histogram and
// statistics text outputs. Weighted summary math is backed by gonum/stat.
package histogram

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Histogram is value -> (distinct k-mer count at that value), the exact
// shape a database index's per-shard DistinctAtValue maps merge into.
type Histogram struct {
	distinctAt map[uint32]int64
	values     []uint32 // distinctAt's keys, sorted ascending
}

// New builds a Histogram from a value->distinct-count map (e.g.
// kmerdb.Index.MergedDistinctAtValue).
func New(distinctAt map[uint32]int64) *Histogram {
	h := &Histogram{distinctAt: distinctAt}
	for v := range distinctAt {
		h.values = append(h.values, v)
	}
	sort.Slice(h.values, func(i, j int) bool { return h.values[i] < h.values[j] })
	return h
}

// TotalDistinct is the number of distinct k-mers represented.
func (h *Histogram) TotalDistinct() int64 {
	var n int64
	for _, v := range h.values {
		n += h.distinctAt[v]
	}
	return n
}

// TotalOccurrence is the cumulative occurrence mass (sum of value*count).
func (h *Histogram) TotalOccurrence() int64 {
	var n int64
	for _, v := range h.values {
		n += int64(v) * h.distinctAt[v]
	}
	return n
}

// DistinctQuantile resolves "distinct=x": the smallest value v such
// that the fraction of distinct k-mers with value >= v is <= x. The tail
// fraction is non-increasing in v, so the scan walks values descending and
// stops just before the fraction first exceeds x.
func (h *Histogram) DistinctQuantile(x float64) uint32 {
	total := h.TotalDistinct()
	if total == 0 {
		return 0
	}
	best := h.values[len(h.values)-1] + 1
	var tail int64
	for i := len(h.values) - 1; i >= 0; i-- {
		tail += h.distinctAt[h.values[i]]
		if float64(tail)/float64(total) > x {
			break
		}
		best = h.values[i]
	}
	return best
}

// WordFrequencyQuantile resolves "word-frequency=x": the smallest
// value v such that the fraction of *occurrences* (value-weighted mass)
// contributed by k-mers with value >= v is <= x.
func (h *Histogram) WordFrequencyQuantile(x float64) uint32 {
	total := h.TotalOccurrence()
	if total == 0 {
		return 0
	}
	best := h.values[len(h.values)-1] + 1
	var tail int64
	for i := len(h.values) - 1; i >= 0; i-- {
		v := h.values[i]
		tail += int64(v) * h.distinctAt[v]
		if float64(tail)/float64(total) > x {
			break
		}
		best = v
	}
	return best
}

// asWeightedSample flattens the histogram into gonum's (x, weight) form,
// ascending by value, for the weighted mean reported in the statistics
// summary (distinct from the tail-mass threshold scans above, which follow
// their own convention).
func (h *Histogram) asWeightedSample() (xs, weights []float64) {
	xs = make([]float64, len(h.values))
	weights = make([]float64, len(h.values))
	for i, v := range h.values {
		xs[i] = float64(v)
		weights[i] = float64(h.distinctAt[v])
	}
	return xs, weights
}

// Stats is the statistics summary: total k-mers, distinct k-mers, and
// unique-value/word-frequency cutoffs at the four standard quantiles.
type Stats struct {
	TotalKmers      int64
	DistinctKmers   int64
	DistinctCutoffs map[float64]uint32
	WordFreqCutoffs map[float64]uint32
	MeanValue       float64
}

var standardQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Compute derives the full Stats summary for this histogram.
func (h *Histogram) Compute() Stats {
	s := Stats{
		TotalKmers:      h.TotalOccurrence(),
		DistinctKmers:   h.TotalDistinct(),
		DistinctCutoffs: make(map[float64]uint32, len(standardQuantiles)),
		WordFreqCutoffs: make(map[float64]uint32, len(standardQuantiles)),
	}
	for _, q := range standardQuantiles {
		s.DistinctCutoffs[q] = h.DistinctQuantile(1 - q)
		s.WordFreqCutoffs[q] = h.WordFrequencyQuantile(1 - q)
	}
	xs, weights := h.asWeightedSample()
	if len(xs) > 0 {
		s.MeanValue = stat.Mean(xs, weights)
	}
	return s
}

// WriteReport prints the statistics summary lines.
func (s Stats) WriteReport(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "total-kmers\t%d\n", s.TotalKmers); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "distinct-kmers\t%d\n", s.DistinctKmers); err != nil {
		return err
	}
	for _, q := range standardQuantiles {
		if _, err := fmt.Fprintf(w, "distinct-cutoff\t%.2f\t%d\n", q, s.DistinctCutoffs[q]); err != nil {
			return err
		}
	}
	for _, q := range standardQuantiles {
		if _, err := fmt.Fprintf(w, "word-frequency-cutoff\t%.2f\t%d\n", q, s.WordFreqCutoffs[q]); err != nil {
			return err
		}
	}
	return nil
}

// WriteHistogram prints the histogram lines: "<value> <distinct-count>
// <cumulative-occurrence>" ascending by value.
func (h *Histogram) WriteHistogram(w io.Writer) error {
	var cumulative int64
	for _, v := range h.values {
		cumulative += int64(v) * h.distinctAt[v]
		if _, err := fmt.Fprintf(w, "%d %d %d\n", v, h.distinctAt[v], cumulative); err != nil {
			return err
		}
	}
	return nil
}

// LiveHistogram is an engine.HistogramSink: it accumulates Observe calls
// from a merge's emitted output stream into a running value->count table,
// the in-flight twin of the database-index-backed Histogram above.
type LiveHistogram struct {
	counts map[uint32]int64
}

// NewLiveHistogram allocates an empty accumulator.
func NewLiveHistogram() *LiveHistogram {
	return &LiveHistogram{counts: make(map[uint32]int64)}
}

// Observe records one emitted record's value.
func (l *LiveHistogram) Observe(v uint32) {
	l.counts[v]++
}

// Snapshot freezes the accumulator into an immutable Histogram.
func (l *LiveHistogram) Snapshot() *Histogram {
	cp := make(map[uint32]int64, len(l.counts))
	for v, c := range l.counts {
		cp[v] = c
	}
	return New(cp)
}

// Merge folds another LiveHistogram's counts into this one (used when
// fusing per-shard accumulators at join time).
func (l *LiveHistogram) Merge(o *LiveHistogram) {
	for v, c := range o.counts {
		l.counts[v] += c
	}
}
