package builder

import (
	"strings"

	"github.com/kmerctl/kmerctl/internal/engine"
	"github.com/kmerctl/kmerctl/internal/seqio"
)

// tryAction recognizes the action keywords plus the union/intersect/
// subtract convenience aliases, presets that synthesize a filter+modify
// recipe instead of requiring the user to spell one out by hand. It
// reports whether word was consumed as an action.
func (b *Builder) tryAction(word string, k int) bool {
	switch word {
	case "count":
		b.ensureCurrent(k).Type = engine.OpCounting
		return true
	case "output":
		cur := b.ensureCurrent(k)
		b.pendingArg = func(path string) { cur.OutputPath = path }
		return true
	case "print":
		b.ensureCurrent(k).Type = engine.OpPrint
		return true
	case "acgt-order":
		b.ensureCurrent(k).ACGTOrder = true
		return true
	case "homopolymer-compress":
		// Sticky for the current node: applied to every sequence-derived
		// input token that follows it.
		b.ensureCurrent(k)
		b.compressNext = true
		return true
	case "histogram":
		b.ensureCurrent(k).Type = engine.OpHistogram
		return true
	case "statistics":
		b.ensureCurrent(k).Type = engine.OpStatistics
		return true
	}
	return b.tryCombineAlias(word, k)
}

// tryCombineAlias handles the union/intersect/subtract family: each one
// sets the node's action to Filter and pre-populates Filter/Modify with the
// preset that name implies, so "union value=max a b" behaves the same as
// spelling out "input:any value=max a b" would.
func (b *Builder) tryCombineAlias(word string, k int) bool {
	cur := b.ensureCurrent(k)
	switch word {
	case "union":
		cur.Type = engine.OpFilter
		return true
	case "union-sum":
		cur.Type = engine.OpFilter
		cur.Modify.ValueSelect = engine.ValueAdd
		return true
	case "union-min":
		cur.Type = engine.OpFilter
		cur.Modify.ValueSelect = engine.ValueMin
		return true
	case "union-max":
		cur.Type = engine.OpFilter
		cur.Modify.ValueSelect = engine.ValueMax
		return true
	case "intersect":
		cur.Type = engine.OpFilter
		cur.Filter = append(cur.Filter, engine.Product{{Quantity: engine.QIndex, Index: engine.IndexSpec{Raw: "all"}}})
		return true
	case "intersect-min":
		cur.Type = engine.OpFilter
		cur.Modify.ValueSelect = engine.ValueMin
		cur.Filter = append(cur.Filter, engine.Product{{Quantity: engine.QIndex, Index: engine.IndexSpec{Raw: "all"}}})
		return true
	case "intersect-max":
		cur.Type = engine.OpFilter
		cur.Modify.ValueSelect = engine.ValueMax
		cur.Filter = append(cur.Filter, engine.Product{{Quantity: engine.QIndex, Index: engine.IndexSpec{Raw: "all"}}})
		return true
	case "subtract", "difference":
		// Present in @1, absent from every other input: an exact-identity
		// requirement on @1 conjoined with an exact active-set count of 1.
		cur.Type = engine.OpFilter
		cur.Filter = append(cur.Filter, engine.Product{
			{Quantity: engine.QIndex, Index: engine.IndexSpec{Raw: "@1"}},
			{Quantity: engine.QIndex, Index: engine.IndexSpec{Raw: "1"}},
		})
		return true
	}
	return false
}

// addInputPath handles the fall-through case: anything not otherwise
// recognized names an input, disambiguated by inspecting the path itself.
// A "store:<handle>" prefix names a segmentable sequence-store handle; a
// recognized sequence-file extension names a raw sequence file; anything
// else is assumed to be a k-mer database directory.
func (b *Builder) addInputPath(word string, k int) {
	cur := b.ensureCurrent(k)
	switch {
	case strings.HasPrefix(word, "store:"):
		cur.Inputs = append(cur.Inputs, engine.InputSpec{
			Kind:         engine.FromSequenceStore,
			StoreHandle:  word[len("store:"):],
			Segment:      0,
			SegmentCount: 1,
			Compress:     b.compressNext,
		})
	case seqio.IsSequencePath(word):
		cur.Inputs = append(cur.Inputs, engine.InputSpec{
			Kind:          engine.FromSequenceFile,
			SequencePaths: []string{word},
			Compress:      b.compressNext,
		})
	default:
		cur.Inputs = append(cur.Inputs, engine.InputSpec{
			Kind:         engine.FromDatabase,
			DatabasePath: word,
		})
	}
}
