package engine

// InputKind distinguishes where one input slot's k-mers come from.
// FromTemplate is a placeholder used only during tree construction;
// finalization replaces every FromTemplate input with FromOperation.
type InputKind int

const (
	FromTemplate InputKind = iota
	FromOperation
	FromDatabase
	FromSequenceFile
	FromSequenceStore
)

// InputSpec describes one input slot of a Template, before the runtime
// (per-shard) InputSource is materialized.
type InputSpec struct {
	Kind InputKind

	// FromTemplate / FromOperation: the upstream node.
	Upstream NodeID

	// FromDatabase: the directory holding the input database.
	DatabasePath string

	// FromSequenceFile: one or more raw sequence files (FASTA/FASTQ,
	// optionally compressed).
	SequencePaths []string

	// FromSequenceStore: a segmentable proprietary sequence store handle,
	// plus this node's assigned segment for coarse parallel intake.
	StoreHandle  string
	Segment      int
	SegmentCount int

	// Compress enables homopolymer compression for sequence-derived
	// inputs.
	Compress bool
}

// Template is one node of the operation tree: a structural description
// shared read-only by every shard worker once Finalize has run.
type Template struct {
	ID   NodeID
	Type OpType
	K    int

	Inputs []InputSpec

	Filter Filter
	Modify Modify

	Writer    DatabaseWriter
	Printer   LineWriter
	ACGTOrder bool
	Histogram HistogramSink

	// OutputPath is the database directory named by an "output <path>"
	// action token; execute-time plugs an actual DatabaseWriter backed by
	// it into Writer once the per-shard compute tree is built.
	OutputPath string

	inputsMin, inputsMax int
}

// DatabaseWriter is the narrow interface the engine needs to persist a
// shard's output records; the driver's adapter around
// internal/kmerdb.ShardWriter satisfies it.
type DatabaseWriter interface {
	Write(rec Record) error
	Close() error
}

// LineWriter is the narrow interface for the text printer sink.
type LineWriter interface {
	WriteRecord(rec Record, k int, acgtOrder bool) error
}

// HistogramSink is the narrow interface for the histogram/statistics
// accumulator.
type HistogramSink interface {
	Observe(v Value)
}

// NewTemplate creates a template of the given action type with default
// arity bounds.
func NewTemplate(id NodeID, t OpType, k int) *Template {
	min, max := arityFor(t)
	return &Template{ID: id, Type: t, K: k, inputsMin: min, inputsMax: max}
}

// ValidateArity reports an ArityError if the input count is out of range
// for this node's action. The bounds are taken from the node's current
// Type, since the builder creates every node as OpNothing and types it
// afterwards.
func (tpl *Template) ValidateArity(errs *ErrorList) {
	min, max := arityFor(tpl.Type)
	n := len(tpl.Inputs)
	if n < min || n > max {
		errs.Add(ArityError, "node %d (%s): %d inputs, want %d..%d", tpl.ID, tpl.Type, n, min, max)
	}
}
