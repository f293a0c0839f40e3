package engine

import (
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// activeSetOf builds an ActiveSet over n inputs with the given (slot,
// value, label) triples present.
func activeSetOf(n int, entries ...[3]int) *ActiveSet {
	a := NewActiveSet(n)
	for _, e := range entries {
		a.Set(e[0], Value(e[1]), Label(e[2]))
	}
	return a
}

func evalCtx(a *ActiveSet, outVal Value) *EvalContext {
	return &EvalContext{Active: a, OutK: 3, OutVal: outVal}
}

func TestEmptyFilterIsTrue(t *testing.T) {
	var f Filter
	expect.True(t, f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 5, 0}), 5)))
}

func TestValueThreshold(t *testing.T) {
	// value >= 4 over inputs carrying 3, 4, 7, 2.
	f := Filter{Product{{
		Quantity: QValue,
		Relation: RGeq,
		Left:     refOperand(1),
		Right:    constOperand(4),
	}}}
	for _, tc := range []struct {
		v    int
		want bool
	}{
		{3, false}, {4, true}, {7, true}, {2, false},
	} {
		a := activeSetOf(1, [3]int{1, tc.v, 0})
		expect.EQ(t, f.Evaluate(evalCtx(a, Value(tc.v))), tc.want)
	}
}

func TestValueFilterOnOutputRef(t *testing.T) {
	// @0 selects the prospective output value, not any input's.
	f := Filter{Product{{
		Quantity: QValue,
		Relation: RGt,
		Left:     refOperand(0),
		Right:    constOperand(10),
	}}}
	a := activeSetOf(2, [3]int{1, 1, 0}, [3]int{2, 1, 0})
	expect.True(t, f.Evaluate(evalCtx(a, 11)))
	expect.True(t, !f.Evaluate(evalCtx(a, 10)))
}

func TestAbsentInputReferenceIsFalse(t *testing.T) {
	// A term referencing an input not in the active set is false, not an
	// error.
	f := Filter{Product{{
		Quantity: QValue,
		Relation: RGeq,
		Left:     refOperand(2),
		Right:    constOperand(0),
	}}}
	a := activeSetOf(2, [3]int{1, 5, 0}) // input 2 absent
	expect.True(t, !f.Evaluate(evalCtx(a, 5)))
}

func TestSumOfProducts(t *testing.T) {
	// (value >= 10) or (label == 7): true when either product passes.
	f := Filter{
		Product{{Quantity: QValue, Relation: RGeq, Left: refOperand(1), Right: constOperand(10)}},
		Product{{Quantity: QLabel, Relation: REq, Left: refOperand(1), Right: constOperand(7)}},
	}
	expect.True(t, f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 12, 0}), 12)))
	expect.True(t, f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 3, 7}), 3)))
	expect.True(t, !f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 3, 6}), 3)))
}

func TestProductConjunction(t *testing.T) {
	// value >= 4 and value <= 6: both terms must hold within one product.
	f := Filter{Product{
		{Quantity: QValue, Relation: RGeq, Left: refOperand(1), Right: constOperand(4)},
		{Quantity: QValue, Relation: RLeq, Left: refOperand(1), Right: constOperand(6)},
	}}
	expect.True(t, f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 5, 0}), 5)))
	expect.True(t, !f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 7, 0}), 7)))
	expect.True(t, !f.Evaluate(evalCtx(activeSetOf(1, [3]int{1, 3, 0}), 3)))
}

func TestInvertTerm(t *testing.T) {
	base := FilterTerm{Quantity: QValue, Relation: RGeq, Left: refOperand(1), Right: constOperand(4)}
	inverted := base
	inverted.Invert = true
	doubleInverted := inverted // not not F == F
	doubleInverted.Invert = !inverted.Invert

	a := activeSetOf(1, [3]int{1, 5, 0})
	ctx := evalCtx(a, 5)
	expect.True(t, Filter{Product{base}}.Evaluate(ctx))
	expect.True(t, !Filter{Product{inverted}}.Evaluate(ctx))
	expect.EQ(t, Filter{Product{doubleInverted}}.Evaluate(ctx), Filter{Product{base}}.Evaluate(ctx))
}

func TestBasesFilter(t *testing.T) {
	// bases:gc >= 2 over 3-mers: GCA yes, AAA no, GCG yes.
	term := FilterTerm{
		Quantity: QBases,
		Relation: RGeq,
		Left:     refOperand(0),
		Right:    constOperand(2),
		Bases:    BasesSpec{CountC: true, CountG: true},
	}
	f := Filter{Product{term}}
	for _, tc := range []struct {
		codes []uint8
		want  bool
	}{
		{[]uint8{kmer.G, kmer.C, kmer.A}, true},
		{[]uint8{kmer.A, kmer.A, kmer.A}, false},
		{[]uint8{kmer.G, kmer.C, kmer.G}, true},
	} {
		a := activeSetOf(1, [3]int{1, 1, 0})
		ctx := &EvalContext{Active: a, OutKmer: kmer.Pack(tc.codes), OutK: 3, OutVal: 1}
		expect.EQ(t, f.Evaluate(ctx), tc.want)
	}
}

func TestIndexSpecCountForms(t *testing.T) {
	for _, tc := range []struct {
		raw    string
		counts []int // active-set sizes that must pass, out of n=4
	}{
		{"all", []int{4}},
		{"any", []int{1, 2, 3, 4}},
		{"2", []int{2}},
		{"2-3", []int{2, 3}},
		{"3-all", []int{3, 4}},
	} {
		spec := IndexSpec{Raw: tc.raw}
		assert.NoError(t, spec.Finalize(4))
		accepted := map[int]bool{}
		for _, c := range tc.counts {
			accepted[c] = true
		}
		for c := 1; c <= 4; c++ {
			a := NewActiveSet(4)
			for i := 1; i <= c; i++ {
				a.Set(i, 1, 0)
			}
			expect.EQ(t, spec.satisfied(a), accepted[c], "raw=%s count=%d", tc.raw, c)
		}
	}
}

func TestIndexSpecIdentityForms(t *testing.T) {
	// input:@1:@3: the k-mer must be present in inputs 1 and 3.
	spec := IndexSpec{Raw: "@1:@3"}
	assert.NoError(t, spec.Finalize(3))

	y := activeSetOf(3, [3]int{1, 1, 0}, [3]int{2, 1, 0}, [3]int{3, 1, 0})
	expect.True(t, spec.satisfied(y))

	x := activeSetOf(3, [3]int{1, 1, 0}) // only @1
	expect.True(t, !spec.satisfied(x))

	z := activeSetOf(3, [3]int{2, 1, 0}, [3]int{3, 1, 0}) // missing @1
	expect.True(t, !spec.satisfied(z))
}

func TestIndexSpecFirstIsAtOne(t *testing.T) {
	spec := IndexSpec{Raw: "first"}
	assert.NoError(t, spec.Finalize(2))
	expect.True(t, spec.satisfied(activeSetOf(2, [3]int{1, 1, 0})))
	expect.True(t, !spec.satisfied(activeSetOf(2, [3]int{2, 1, 0})))
}

func TestIndexSpecIdentityRange(t *testing.T) {
	spec := IndexSpec{Raw: "@1-@2"}
	assert.NoError(t, spec.Finalize(3))
	expect.True(t, spec.satisfied(activeSetOf(3, [3]int{1, 1, 0}, [3]int{2, 1, 0})))
	expect.True(t, !spec.satisfied(activeSetOf(3, [3]int{1, 1, 0}, [3]int{3, 1, 0})))
}

func TestIndexSpecMinTightening(t *testing.T) {
	// Two count clauses intersect: "2-all" then "3-all" leaves 3-all.
	spec := IndexSpec{Raw: "2-all:3-all"}
	assert.NoError(t, spec.Finalize(4))
	expect.True(t, !spec.satisfied(activeSetOf(4, [3]int{1, 1, 0}, [3]int{2, 1, 0})))
	expect.True(t, spec.satisfied(activeSetOf(4, [3]int{1, 1, 0}, [3]int{2, 1, 0}, [3]int{3, 1, 0})))
}

func TestIndexSpecBadReference(t *testing.T) {
	spec := IndexSpec{Raw: "@5"}
	assert.NotNil(t, spec.Finalize(3), "out of range")
}

func TestDerivedOperandUnresolvedIsFalse(t *testing.T) {
	d := &Derived{Kind: DerivedDistinct, Fraction: 0.1}
	f := Filter{Product{{
		Quantity: QValue,
		Relation: RGeq,
		Left:     refOperand(1),
		Right:    Operand{Kind: OperandDerived, Derived: d},
	}}}
	a := activeSetOf(1, [3]int{1, 100, 0})
	expect.True(t, !f.Evaluate(evalCtx(a, 100)))

	d.Resolve(10)
	expect.True(t, f.Evaluate(evalCtx(a, 100)))
}

func TestActiveSetCountAndIndices(t *testing.T) {
	a := activeSetOf(4, [3]int{1, 1, 0}, [3]int{3, 2, 0})
	expect.EQ(t, a.Count(), 2)
	expect.EQ(t, a.PresentIndices(), []int{1, 3})
	a.Reset()
	expect.EQ(t, a.Count(), 0)
}
