// Package engine implements the command-driven k-mer operation tree: the
// filter expression model, modify recipes, and operation templates and
// their per-shard compute twins. The token-by-token command builder lives
// in internal/builder.
package engine

import "github.com/kmerctl/kmerctl/internal/kmer"

// Value is the per-record numeric quantity (a count or derived number).
type Value = uint32

// Label is the per-record opaque bit-string tag.
type Label = uint64

// LabelWidth is the number of meaningful bits in a Label.
const LabelWidth = 64

// Record is one (k-mer, value, label) triple, the unit the merge and
// counting subsystems pass around.
type Record struct {
	Kmer  kmer.Bits
	Value Value
	Label Label
}

// OpType enumerates the action a template node performs.
type OpType int

const (
	OpNothing OpType = iota
	OpCounting
	OpStatistics
	OpHistogram
	OpPrint
	OpFilter
)

func (t OpType) String() string {
	switch t {
	case OpNothing:
		return "nothing"
	case OpCounting:
		return "count"
	case OpStatistics:
		return "statistics"
	case OpHistogram:
		return "histogram"
	case OpPrint:
		return "print"
	case OpFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// arityFor reports the [min,max] number of inputs this action accepts.
func arityFor(t OpType) (min, max int) {
	switch t {
	case OpCounting:
		return 1, 1 << 20
	case OpStatistics, OpHistogram, OpPrint:
		return 1, 1
	case OpFilter:
		return 1, 1 << 20
	default:
		return 0, 1 << 20
	}
}

// NodeID uniquely identifies an operation template for the life of one
// builder run; it indexes per-shard compute-twin arrays.
type NodeID int
