package builder

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/kmerctl/kmerctl/internal/engine"
)

func buildWords(t *testing.T, words ...string) *Builder {
	t.Helper()
	b := New()
	for _, w := range words {
		b.ProcessWord(w, 3)
	}
	b.Finish(3)
	return b
}

func onlyTemplate(t *testing.T, b *Builder) *engine.Template {
	t.Helper()
	if len(b.Templates()) != 1 {
		t.Fatalf("want 1 template, got %d", len(b.Templates()))
	}
	return b.Templates()[0]
}

func TestActionKeywords(t *testing.T) {
	for _, tc := range []struct {
		word string
		want engine.OpType
	}{
		{"count", engine.OpCounting},
		{"print", engine.OpPrint},
		{"histogram", engine.OpHistogram},
		{"statistics", engine.OpStatistics},
		{"union", engine.OpFilter},
	} {
		b := buildWords(t, tc.word)
		expect.EQ(t, onlyTemplate(t, b).Type, tc.want, "word=%s", tc.word)
	}
}

func TestImplicitOperationAndRoot(t *testing.T) {
	b := buildWords(t, "print", "some.db")
	tpl := onlyTemplate(t, b)
	expect.EQ(t, len(tpl.Inputs), 1)
	expect.EQ(t, tpl.Inputs[0].Kind, engine.FromDatabase)
	expect.EQ(t, b.Roots(), []engine.NodeID{0})
}

func TestInputPathDisambiguation(t *testing.T) {
	b := buildWords(t, "count", "reads.fastq", "more.fa.gz", "store:archive.fa", "plain.db")
	tpl := onlyTemplate(t, b)
	expect.EQ(t, len(tpl.Inputs), 4)
	expect.EQ(t, tpl.Inputs[0].Kind, engine.FromSequenceFile)
	expect.EQ(t, tpl.Inputs[1].Kind, engine.FromSequenceFile)
	expect.EQ(t, tpl.Inputs[2].Kind, engine.FromSequenceStore)
	expect.EQ(t, tpl.Inputs[2].StoreHandle, "archive.fa")
	expect.EQ(t, tpl.Inputs[3].Kind, engine.FromDatabase)
}

func TestGroupingNestsOperations(t *testing.T) {
	b := buildWords(t, "print", "[", "union", "a.db", "b.db", "]")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	expect.EQ(t, len(b.Templates()), 2)

	outer, inner := b.Templates()[0], b.Templates()[1]
	expect.EQ(t, outer.Type, engine.OpPrint)
	expect.EQ(t, inner.Type, engine.OpFilter)
	expect.EQ(t, len(outer.Inputs), 1)
	expect.EQ(t, outer.Inputs[0].Kind, engine.FromTemplate)
	expect.EQ(t, outer.Inputs[0].Upstream, inner.ID)
	expect.EQ(t, b.Roots(), []engine.NodeID{0})
}

func TestUnmatchedCloseCollectsError(t *testing.T) {
	b := buildWords(t, "]")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "unmatched"))
}

func TestValueFilterToken(t *testing.T) {
	b := buildWords(t, "value:ge4", "a.db")
	tpl := onlyTemplate(t, b)
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	assert.EQ(t, len(tpl.Filter), 1)
	assert.EQ(t, len(tpl.Filter[0]), 1)
	term := tpl.Filter[0][0]
	expect.EQ(t, term.Quantity, engine.QValue)
	expect.EQ(t, term.Relation, engine.RGeq)
	// Omitted left side defaults to @1.
	expect.EQ(t, term.Left.Kind, engine.OperandInputRef)
	expect.EQ(t, term.Left.InputIdx, 1)
	expect.EQ(t, term.Right.Kind, engine.OperandConst)
	expect.EQ(t, term.Right.Const, int64(4))
}

func TestRelationSpellings(t *testing.T) {
	for _, tc := range []struct {
		tok  string
		want engine.Relation
	}{
		{"value:==5", engine.REq},
		{"value:=5", engine.REq},
		{"value:eq5", engine.REq},
		{"value:!=5", engine.RNeq},
		{"value:<>5", engine.RNeq},
		{"value:ne5", engine.RNeq},
		{"value:<=5", engine.RLeq},
		{"value:le5", engine.RLeq},
		{"value:>=5", engine.RGeq},
		{"value:ge5", engine.RGeq},
		{"value:<5", engine.RLt},
		{"value:lt5", engine.RLt},
		{"value:>5", engine.RGt},
		{"value:gt5", engine.RGt},
	} {
		b := buildWords(t, tc.tok)
		assert.True(t, b.Errors().Empty(), "tok=%s: %v", tc.tok, b.Errors())
		expect.EQ(t, onlyTemplate(t, b).Filter[0][0].Relation, tc.want, "tok=%s", tc.tok)
	}
}

func TestFilterInputReferences(t *testing.T) {
	b := buildWords(t, "value:@2<=@3", "a.db", "b.db", "c.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := onlyTemplate(t, b).Filter[0][0]
	expect.EQ(t, term.Left.InputIdx, 2)
	expect.EQ(t, term.Right.InputIdx, 3)
}

func TestExplicitConstantSyntax(t *testing.T) {
	b := buildWords(t, "label:#7!=@1", "a.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := onlyTemplate(t, b).Filter[0][0]
	expect.EQ(t, term.Quantity, engine.QLabel)
	expect.EQ(t, term.Left.Kind, engine.OperandConst)
	expect.EQ(t, term.Left.Const, int64(7))
	expect.EQ(t, term.Right.InputIdx, 1)
}

func TestThresholdIsConstantSynonym(t *testing.T) {
	b := buildWords(t, "value:gethreshold=10", "a.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := onlyTemplate(t, b).Filter[0][0]
	expect.EQ(t, term.Relation, engine.RGeq)
	expect.EQ(t, term.Right.Kind, engine.OperandConst)
	expect.EQ(t, term.Right.Const, int64(10))
}

func TestDistinctRightHandForm(t *testing.T) {
	b := buildWords(t, "value:>=distinct=0.9998", "a.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := onlyTemplate(t, b).Filter[0][0]
	expect.EQ(t, term.Right.Kind, engine.OperandDerived)
	expect.EQ(t, term.Right.Derived.Kind, engine.DerivedDistinct)
	expect.EQ(t, term.Right.Derived.Fraction, 0.9998)
	expect.True(t, !term.Right.Derived.Resolved())
}

func TestWordFrequencyOnLabelFilterIsError(t *testing.T) {
	b := buildWords(t, "label:>=word-frequency=0.5", "a.db")
	assert.True(t, !b.Errors().Empty())
}

func TestTautologyRejected(t *testing.T) {
	for _, tok := range []string{"value:@1=@1", "value:#5=#5", "value:5=5"} {
		b := buildWords(t, tok, "a.db")
		assert.True(t, !b.Errors().Empty(), "tok=%s should be tautological", tok)
		expect.True(t, strings.Contains(b.Errors().Error(), "TautologyError"), "tok=%s: %v", tok, b.Errors())
	}
}

func TestBasesFilterToken(t *testing.T) {
	b := buildWords(t, "bases:gc:ge2", "a.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := onlyTemplate(t, b).Filter[0][0]
	expect.EQ(t, term.Quantity, engine.QBases)
	expect.EQ(t, term.Relation, engine.RGeq)
	expect.True(t, term.Bases.CountG)
	expect.True(t, term.Bases.CountC)
	expect.True(t, !term.Bases.CountA)
	expect.True(t, !term.Bases.CountT)
	expect.EQ(t, term.Right.Const, int64(2))
}

func TestBasesFilterRejectsInputReference(t *testing.T) {
	b := buildWords(t, "bases:gc:@2>=2", "a.db", "b.db")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "InvalidReference"))
}

func TestConnectives(t *testing.T) {
	// and continues the current product; or starts a new one; not inverts
	// exactly the next term.
	b := buildWords(t, "value:ge4", "and", "value:le9", "or", "not", "label:=0", "a.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	f := onlyTemplate(t, b).Filter
	assert.EQ(t, len(f), 2)
	assert.EQ(t, len(f[0]), 2)
	assert.EQ(t, len(f[1]), 1)
	expect.True(t, !f[0][0].Invert)
	expect.True(t, !f[0][1].Invert)
	expect.True(t, f[1][0].Invert)
}

func TestDanglingNotIsError(t *testing.T) {
	b := buildWords(t, "value:ge4", "a.db", "not")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "trailing 'not'"))
}

func TestValueModifiers(t *testing.T) {
	b := buildWords(t, "union", "value=max", "a.db", "b.db")
	expect.EQ(t, onlyTemplate(t, b).Modify.ValueSelect, engine.ValueMax)

	b = buildWords(t, "union", "value=42", "a.db", "b.db")
	tpl := onlyTemplate(t, b)
	expect.EQ(t, tpl.Modify.ValueSelect, engine.ValueSet)
	expect.EQ(t, tpl.Modify.ValueConst, engine.Value(42))
	expect.True(t, tpl.Modify.HasValueConst)
}

func TestModifierWithFoldConstant(t *testing.T) {
	b := buildWords(t, "union", "value=min#5", "label=shift-left#2", "a.db", "b.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	tpl := onlyTemplate(t, b)
	expect.EQ(t, tpl.Modify.ValueSelect, engine.ValueMin)
	expect.EQ(t, tpl.Modify.ValueConst, engine.Value(5))
	expect.True(t, tpl.Modify.HasValueConst)
	expect.EQ(t, tpl.Modify.LabelSelect, engine.LabelShiftLeft)
	expect.EQ(t, tpl.Modify.LabelConst, engine.Label(2))
}

func TestLabelModifiers(t *testing.T) {
	b := buildWords(t, "union", "label=xor", "a.db", "b.db")
	expect.EQ(t, onlyTemplate(t, b).Modify.LabelSelect, engine.LabelXor)

	b = buildWords(t, "union", "label=bogus-mode", "a.db", "b.db")
	assert.True(t, !b.Errors().Empty())
}

func TestGlobalOptions(t *testing.T) {
	b := buildWords(t, "count", "reads.fa", "memory", "4.5", "threads", "8")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	expect.EQ(t, b.AllowedMemoryGB, 4.5)
	expect.EQ(t, b.AllowedThreads, 8)
}

func TestGlobalOptionMissingArgument(t *testing.T) {
	b := buildWords(t, "count", "reads.fa", "threads")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "mid-option"))
}

func TestCombineAliases(t *testing.T) {
	b := buildWords(t, "intersect-min", "a.db", "b.db")
	tpl := onlyTemplate(t, b)
	expect.EQ(t, tpl.Type, engine.OpFilter)
	expect.EQ(t, tpl.Modify.ValueSelect, engine.ValueMin)
	assert.EQ(t, len(tpl.Filter), 1)
	assert.EQ(t, len(tpl.Filter[0]), 1)
	expect.EQ(t, tpl.Filter[0][0].Quantity, engine.QIndex)
	expect.EQ(t, tpl.Filter[0][0].Index.Raw, "all")
}

func TestSubtractAlias(t *testing.T) {
	b := buildWords(t, "subtract", "a.db", "b.db")
	tpl := onlyTemplate(t, b)
	assert.EQ(t, len(tpl.Filter), 1)
	assert.EQ(t, len(tpl.Filter[0]), 2)
}

func TestHomopolymerCompressIsSticky(t *testing.T) {
	b := buildWords(t, "count", "homopolymer-compress", "a.fa", "b.fa")
	tpl := onlyTemplate(t, b)
	expect.True(t, tpl.Inputs[0].Compress)
	expect.True(t, tpl.Inputs[1].Compress)
}

func TestOutputActionCapturesPath(t *testing.T) {
	b := buildWords(t, "count", "reads.fa", "output", "fresh.db")
	expect.EQ(t, onlyTemplate(t, b).OutputPath, "fresh.db")
}
