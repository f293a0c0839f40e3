package engine

import (
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/kmerctl/kmerctl/internal/kmer"
)

// ComputeNode is the per-shard runtime twin of a Template: it owns the
// merge cursors, active-set buffers, and output sinks for one shard. The
// driver builds one set of ComputeNodes (keyed by NodeID) per shard; no
// ComputeNode is ever shared across workers.
type ComputeNode struct {
	tpl    *Template
	shard  int
	inputs []InputSource
	active *ActiveSet

	cursors llrb.Tree // of *mergeCursor, ordered by current k-mer

	abort *abortFlag

	// downstream consumers pull via pullNext; upstream is pre-loaded
	// lazily on first pull.
	started bool
}

// NewComputeNode builds the runtime twin of tpl for one shard, wiring the
// given concrete InputSources (already resolved to this shard).
func NewComputeNode(tpl *Template, shard int, inputs []InputSource, abort *abortFlag) *ComputeNode {
	return &ComputeNode{
		tpl:    tpl,
		shard:  shard,
		inputs: inputs,
		active: NewActiveSet(len(inputs)),
		abort:  abort,
	}
}

// mergeCursor is one llrb.Comparable leaf: an input slot plus its current
// k-mer. The tree keeps every live input ordered by its head k-mer so one
// in-order scan yields the full run of inputs tied at the minimum, not
// just the smallest one.
type mergeCursor struct {
	slot int // 1-based input index
	src  InputSource
}

func (c *mergeCursor) Compare(o llrb.Comparable) int {
	other := o.(*mergeCursor)
	if cmp := kmer.Compare(c.src.Kmer(), other.src.Kmer()); cmp != 0 {
		return cmp
	}
	// llrb.Insert replaces an equal element, so cursors tied at the same
	// k-mer must still order distinctly; slot order also keeps the
	// active-set scan deterministic.
	return c.slot - other.slot
}

func (n *ComputeNode) ensureStarted() {
	if n.started {
		return
	}
	n.started = true
	for i, src := range n.inputs {
		slot := i + 1
		if src.NextMer() {
			n.cursors.Insert(&mergeCursor{slot: slot, src: src})
		}
	}
}

// pullNext advances the merge one step and returns the next accepted
// output record, or false once every input is exhausted.
func (n *ComputeNode) pullNext() (Record, bool) {
	n.ensureStarted()
	for {
		if n.abort != nil && n.abort.isSet() {
			return Record{}, false
		}
		if n.cursors.Len() == 0 {
			return Record{}, false
		}

		// Collect every cursor tied at the minimum k-mer into the active
		// set.
		var min *mergeCursor
		n.cursors.Do(func(item llrb.Comparable) bool {
			min = item.(*mergeCursor)
			return false
		})
		minKmer := min.src.Kmer()

		n.active.Reset()
		var tied []*mergeCursor
		n.cursors.Do(func(item llrb.Comparable) bool {
			c := item.(*mergeCursor)
			if kmer.Compare(c.src.Kmer(), minKmer) != 0 {
				return false
			}
			tied = append(tied, c)
			return true
		})
		for _, c := range tied {
			n.active.Set(c.slot, c.src.Value(), c.src.Label())
			n.cursors.DeleteMin()
		}

		outVal, outLbl, err := n.tpl.Modify.Compute(n.active)
		if err != nil {
			if n.abort != nil {
				n.abort.set(err)
			}
			return Record{}, false
		}

		ctx := &EvalContext{Active: n.active, OutKmer: minKmer, OutK: n.tpl.K, OutVal: outVal, OutLbl: outLbl}
		accept := n.tpl.Filter.Evaluate(ctx)

		for _, c := range tied {
			if c.src.NextMer() {
				n.cursors.Insert(c)
			}
		}

		if accept {
			rec := Record{Kmer: minKmer, Value: outVal, Label: outLbl}
			n.emit(rec)
			return rec, true
		}
	}
}

func (n *ComputeNode) emit(rec Record) {
	if n.tpl.Writer != nil {
		if err := n.tpl.Writer.Write(rec); err != nil && n.abort != nil {
			n.abort.set(err)
		}
	}
	if n.tpl.Printer != nil {
		if err := n.tpl.Printer.WriteRecord(rec, n.tpl.K, n.tpl.ACGTOrder); err != nil && n.abort != nil {
			n.abort.set(err)
		}
	}
	if n.tpl.Histogram != nil {
		n.tpl.Histogram.Observe(rec.Value)
	}
}

// Run drives this node (and transitively, via operationInput, its
// upstreams) to completion, for nodes with no downstream puller (i.e.
// roots). Non-root nodes are driven by their downstream's pullNext calls
// instead.
func (n *ComputeNode) Run() error {
	for {
		if _, ok := n.pullNext(); !ok {
			break
		}
	}
	if n.abort != nil {
		return n.abort.err()
	}
	return nil
}

// abortFlag is the shared cancellation signal for one evaluation run: a
// fatal error in one shard sets it; every other shard's merge loop polls
// it at record granularity and exits early. It is shared by every
// ComputeNode across every shard worker, so all access is synchronized.
type abortFlag struct {
	once   sync.Once
	ch     chan struct{}
	mu     sync.Mutex
	setErr error
}

// newAbortFlag allocates a fresh abort flag for one evaluation run.
func newAbortFlag() *abortFlag {
	return &abortFlag{ch: make(chan struct{})}
}

// NewRunAbort allocates the shared cancellation signal one evaluation run
// passes to every shard's ComputeNode tree.
func NewRunAbort() *abortFlag {
	return newAbortFlag()
}

// Err reports the first fatal error recorded across every shard sharing
// this abort flag, or nil if none was set.
func (a *abortFlag) Err() error { return a.err() }

// set records the first fatal error across all shards; subsequent calls
// are no-ops, matching the driver's "report the first such error" policy.
func (a *abortFlag) set(err error) {
	a.once.Do(func() {
		a.mu.Lock()
		a.setErr = err
		a.mu.Unlock()
		close(a.ch)
	})
}

func (a *abortFlag) isSet() bool {
	select {
	case <-a.ch:
		return true
	default:
		return false
	}
}

func (a *abortFlag) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setErr
}
