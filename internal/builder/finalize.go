package builder

import (
	"context"

	"github.com/kmerctl/kmerctl/internal/engine"
	"github.com/kmerctl/kmerctl/internal/histogram"
	"github.com/kmerctl/kmerctl/internal/kmerdb"
)

// Finalize runs the five-step finalization pass once every token has been
// processed (call Finish first): template-input resolution, arity checks,
// derived-constant resolution, input-membership tables, and the acyclicity
// assertion. It mutates every template in place; remaining problems are
// appended to Errors rather than aborting.
func (b *Builder) Finalize(ctx context.Context) {
	b.resolveTemplateInputs()
	b.validateArities()
	b.resolveDerivedConstants(ctx)
	b.finalizeIndexTerms()
	b.assertAcyclic()
}

// resolveTemplateInputs implements step 1: every FromTemplate input becomes
// FromOperation now that the full tree is built.
func (b *Builder) resolveTemplateInputs() {
	for _, tpl := range b.templates {
		for i := range tpl.Inputs {
			if tpl.Inputs[i].Kind == engine.FromTemplate {
				tpl.Inputs[i].Kind = engine.FromOperation
			}
		}
	}
}

// validateArities implements step 2.
func (b *Builder) validateArities() {
	for _, tpl := range b.templates {
		tpl.ValidateArity(&b.errs)
	}
}

// resolveDerivedConstants implements step 3: distinct=/word-frequency=
// right-hand operands are resolved against the histogram of whichever
// input their term's left side names (defaulting to input 1, mirroring
// the value-filter's own implicit-@1 default).
func (b *Builder) resolveDerivedConstants(ctx context.Context) {
	cache := map[string]*histogram.Histogram{}
	loadHist := func(path string) (*histogram.Histogram, error) {
		if h, ok := cache[path]; ok {
			return h, nil
		}
		idx, err := kmerdb.ReadIndex(ctx, path)
		if err != nil {
			return nil, err
		}
		h := histogram.New(idx.MergedDistinctAtValue())
		cache[path] = h
		return h, nil
	}

	for _, tpl := range b.templates {
		for pi := range tpl.Filter {
			for ti := range tpl.Filter[pi] {
				term := &tpl.Filter[pi][ti]
				if term.Right.Kind != engine.OperandDerived || term.Right.Derived.Resolved() {
					continue
				}
				idx := 1
				if term.Left.Kind == engine.OperandInputRef && term.Left.InputIdx >= 1 {
					idx = term.Left.InputIdx
				}
				if idx < 1 || idx > len(tpl.Inputs) || tpl.Inputs[idx-1].Kind != engine.FromDatabase {
					b.errs.Add(engine.UnresolvedConstant, "node %d: distinct=/word-frequency= needs a database input at @%d", tpl.ID, idx)
					continue
				}
				h, err := loadHist(tpl.Inputs[idx-1].DatabasePath)
				if err != nil {
					b.errs.Add(engine.UnresolvedConstant, "node %d: reading histogram for @%d: %v", tpl.ID, idx, err)
					continue
				}
				var v engine.Value
				switch term.Right.Derived.Kind {
				case engine.DerivedDistinct:
					v = h.DistinctQuantile(term.Right.Derived.Fraction)
				case engine.DerivedWordFrequency:
					v = h.WordFrequencyQuantile(term.Right.Derived.Fraction)
				}
				term.Right.Derived.Resolve(v)
			}
		}
	}
}

// finalizeIndexTerms implements step 4.
func (b *Builder) finalizeIndexTerms() {
	for _, tpl := range b.templates {
		n := len(tpl.Inputs)
		for pi := range tpl.Filter {
			for ti := range tpl.Filter[pi] {
				term := &tpl.Filter[pi][ti]
				if term.Quantity != engine.QIndex {
					continue
				}
				if err := term.Index.Finalize(n); err != nil {
					b.errs.Add(engine.ParseError, "node %d: %v", tpl.ID, err)
				}
			}
		}
	}
}

// assertAcyclic implements step 5's acyclicity assertion (design note
// "Cycle avoidance"): since the stack-based builder only ever wires an
// input to an already-closed (and therefore already-existing) node, a
// cycle can only arise from a builder defect, not from any token stream —
// this is a cheap sanity check, not a reachable user-facing error path.
func (b *Builder) assertAcyclic() {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[engine.NodeID]int, len(b.templates))
	byID := make(map[engine.NodeID]*engine.Template, len(b.templates))
	for _, tpl := range b.templates {
		byID[tpl.ID] = tpl
	}
	var visit func(id engine.NodeID) bool
	visit = func(id engine.NodeID) bool {
		switch state[id] {
		case visiting:
			return false
		case done:
			return true
		}
		state[id] = visiting
		tpl := byID[id]
		for _, in := range tpl.Inputs {
			if in.Kind == engine.FromOperation {
				if !visit(in.Upstream) {
					return false
				}
			}
		}
		state[id] = done
		return true
	}
	for _, tpl := range b.templates {
		if !visit(tpl.ID) {
			b.errs.Add(engine.ParseError, "operation tree contains a cycle at node %d", tpl.ID)
			return
		}
	}
}
