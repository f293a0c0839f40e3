package builder

import (
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/kmerctl/kmerctl/internal/engine"
	"github.com/kmerctl/kmerctl/internal/kmerdb"
)

func finalizeWords(t *testing.T, words ...string) *Builder {
	t.Helper()
	b := buildWords(t, words...)
	b.Finalize(vcontext.Background())
	return b
}

func TestFinalizeResolvesTemplateInputs(t *testing.T) {
	b := finalizeWords(t, "print", "[", "union", "a.db", "b.db", "]")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	outer := b.Templates()[0]
	expect.EQ(t, outer.Inputs[0].Kind, engine.FromOperation)
	expect.EQ(t, outer.Inputs[0].Upstream, engine.NodeID(1))
}

func TestFinalizeChecksArity(t *testing.T) {
	// print takes exactly one input.
	b := finalizeWords(t, "print", "a.db", "b.db")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "ArityError"))

	// count needs at least one.
	b = finalizeWords(t, "count")
	assert.True(t, !b.Errors().Empty())
}

func TestFinalizeIndexTerms(t *testing.T) {
	b := finalizeWords(t, "input:all", "a.db", "b.db", "c.db")
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	tpl := b.Templates()[0]
	term := tpl.Filter[0][0]
	expect.EQ(t, term.Quantity, engine.QIndex)

	all := engine.NewActiveSet(3)
	for i := 1; i <= 3; i++ {
		all.Set(i, 1, 0)
	}
	ctx := &engine.EvalContext{Active: all, OutK: 3, OutVal: 1}
	expect.True(t, tpl.Filter.Evaluate(ctx))

	partial := engine.NewActiveSet(3)
	partial.Set(1, 1, 0)
	ctx = &engine.EvalContext{Active: partial, OutK: 3, OutVal: 1}
	expect.True(t, !tpl.Filter.Evaluate(ctx))
}

func TestFinalizeRejectsIndexReferenceBeyondInputs(t *testing.T) {
	b := finalizeWords(t, "input:@3", "a.db", "b.db")
	assert.True(t, !b.Errors().Empty())
}

func TestFinalizeResolvesDistinctConstant(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "kmerdb")
	defer cleanup()

	// 10 distinct k-mers: 8 at value 1, 1 at value 5, 1 at value 9. The
	// top 20% of distinct k-mers by value starts at value 5.
	ctx := vcontext.Background()
	idx := &kmerdb.Index{K: 3, NumShards: 64, ShardStats: make([]kmerdb.ShardStat, 64)}
	idx.ShardStats[0] = kmerdb.ShardStat{
		RecordCount:     10,
		DistinctAtValue: map[uint32]int64{1: 8, 5: 1, 9: 1},
	}
	assert.NoError(t, kmerdb.WriteIndex(ctx, tmpDir, idx))

	b := buildWords(t, "value:>=distinct=0.2", tmpDir)
	b.Finalize(ctx)
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())
	term := b.Templates()[0].Filter[0][0]
	assert.True(t, term.Right.Derived.Resolved())
}

func TestFinalizeReportsUnresolvedConstant(t *testing.T) {
	// distinct= against a sequence-file input cannot be resolved.
	b := finalizeWords(t, "value:>=distinct=0.5", "reads.fa")
	assert.True(t, !b.Errors().Empty())
	expect.True(t, strings.Contains(b.Errors().Error(), "UnresolvedConstant"))
}
