package driver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/kmerctl/kmerctl/internal/builder"
	"github.com/kmerctl/kmerctl/internal/kmer"
	"github.com/kmerctl/kmerctl/internal/kmerdb"
)

func mer(t *testing.T, s string) kmer.Bits {
	t.Helper()
	codes := make([]uint8, len(s))
	for i := 0; i < len(s); i++ {
		c, ok := kmer.ASCIIToCode(s[i])
		if !ok {
			t.Fatalf("bad base %q", s[i])
		}
		codes[i] = c
	}
	return kmer.Pack(codes)
}

type rec struct {
	km    string
	value uint32
	label uint64
}

// writeDB materializes a complete test database: every record lands in its
// ShardOf shard, every one of the 64 shard files exists (possibly empty),
// and the index carries per-shard stats.
func writeDB(t *testing.T, dir string, k int, recs []rec) {
	t.Helper()
	ctx := vcontext.Background()
	assert.NoError(t, os.MkdirAll(dir, 0755))

	byShard := make([][]rec, kmer.NumShards)
	for _, r := range recs {
		shard := kmer.ShardOf(mer(t, r.km), k)
		byShard[shard] = append(byShard[shard], r)
	}
	idx := &kmerdb.Index{K: k, NumShards: kmer.NumShards, ShardStats: make([]kmerdb.ShardStat, kmer.NumShards)}
	for shard := 0; shard < kmer.NumShards; shard++ {
		// Insertion sort by packed k-mer; shard files must be ascending.
		rs := byShard[shard]
		for i := 1; i < len(rs); i++ {
			for j := i; j > 0 && kmer.Compare(mer(t, rs[j].km), mer(t, rs[j-1].km)) < 0; j-- {
				rs[j], rs[j-1] = rs[j-1], rs[j]
			}
		}
		w, err := kmerdb.NewShardWriter(ctx, dir, shard, k)
		assert.NoError(t, err)
		distinctAt := map[uint32]int64{}
		for _, r := range rs {
			assert.NoError(t, w.Write(mer(t, r.km), r.value, r.label))
			distinctAt[r.value]++
		}
		assert.NoError(t, w.Close())
		idx.ShardStats[shard] = kmerdb.ShardStat{
			RecordCount:     int64(len(rs)),
			DistinctAtValue: distinctAt,
			Checksum:        w.Stat().Sum,
		}
	}
	assert.NoError(t, kmerdb.WriteIndex(ctx, dir, idx))
}

// runTokens builds, finalizes, and executes one command, returning the
// text printed to the output sink.
func runTokens(t *testing.T, k int, scratch string, tokens ...string) string {
	t.Helper()
	b := builder.New()
	for _, tok := range tokens {
		b.ProcessWord(tok, k)
	}
	b.Finish(k)
	ctx := vcontext.Background()
	b.Finalize(ctx)
	assert.True(t, b.Errors().Empty(), "%v", b.Errors())

	var out bytes.Buffer
	assert.NoError(t, Run(ctx, b, Options{
		AllowedThreads: 1, // deterministic shard order for golden output
		Out:            &out,
		ScratchDir:     scratch,
	}))
	return out.String()
}

func TestUnionMaxValue(t *testing.T) {
	// A={AAA→3}, B={AAA→5, AAC→1}; union value=max keeps the larger
	// count for the shared k-mer.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	dbA := filepath.Join(tmpDir, "a.db")
	dbB := filepath.Join(tmpDir, "b.db")
	writeDB(t, dbA, 3, []rec{{"AAA", 3, 0}})
	writeDB(t, dbB, 3, []rec{{"AAA", 5, 0}, {"AAC", 1, 0}})

	out := runTokens(t, 3, tmpDir, "print", "[", "union", "value=max", dbA, dbB, "]")
	expect.EQ(t, out, "AAA\t5\t0\nAAC\t1\t0\n")
}

func TestIntersectMinKeepsFirstLabel(t *testing.T) {
	// All three databases contain GGG (values 4, 7, 2), other k-mers
	// disjoint; input:all keeps only GGG, at min value with @1's label.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	dbA := filepath.Join(tmpDir, "a.db")
	dbB := filepath.Join(tmpDir, "b.db")
	dbC := filepath.Join(tmpDir, "c.db")
	writeDB(t, dbA, 3, []rec{{"GGG", 4, 161}, {"AAA", 1, 1}})
	writeDB(t, dbB, 3, []rec{{"GGG", 7, 178}, {"AAC", 1, 2}})
	writeDB(t, dbC, 3, []rec{{"GGG", 2, 195}, {"ACA", 1, 3}})

	out := runTokens(t, 3, tmpDir, "print", "[", "intersect-min", dbA, dbB, dbC, "]")
	expect.EQ(t, out, "GGG\t2\t161\n")
}

func TestValueThresholdFilter(t *testing.T) {
	// value:ge4 over symbolic 1-mers {A→3, C→4, G→7, T→2}.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	db := filepath.Join(tmpDir, "onemers.db")
	writeDB(t, db, 1, []rec{{"A", 3, 0}, {"C", 4, 0}, {"G", 7, 0}, {"T", 2, 0}})

	out := runTokens(t, 1, tmpDir, "print", "value:ge4", db)
	// Shard order is A, C, T, G under the packed-code layout; only C and
	// G survive the threshold.
	expect.EQ(t, out, "C\t4\t0\nG\t7\t0\n")
}

func TestInputMembership(t *testing.T) {
	// @1={X,Y}, @2={Y,Z}, @3={Y}; input:@1:@3 keeps only Y.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	db1 := filepath.Join(tmpDir, "1.db")
	db2 := filepath.Join(tmpDir, "2.db")
	db3 := filepath.Join(tmpDir, "3.db")
	writeDB(t, db1, 3, []rec{{"AAA", 1, 0}, {"CCC", 1, 0}})
	writeDB(t, db2, 3, []rec{{"CCC", 1, 0}, {"GGG", 1, 0}})
	writeDB(t, db3, 3, []rec{{"CCC", 1, 0}})

	out := runTokens(t, 3, tmpDir, "print", "[", "input:@1:@3", db1, db2, db3, "]")
	expect.EQ(t, out, "CCC\t1\t0\n")
}

func TestDatabaseRoundTrip(t *testing.T) {
	// Reading a database and writing it back with no filter reproduces
	// every record.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	src := filepath.Join(tmpDir, "src.db")
	dst := filepath.Join(tmpDir, "dst.db")
	recs := []rec{{"AAA", 3, 7}, {"ACT", 1, 0}, {"GGG", 9, 1 << 40}}
	writeDB(t, src, 3, recs)

	out := runTokens(t, 3, tmpDir, src, "output", dst)
	expect.EQ(t, out, "")

	ctx := vcontext.Background()
	srcIdx, err := kmerdb.ReadIndex(ctx, src)
	assert.NoError(t, err)
	dstIdx, err := kmerdb.ReadIndex(ctx, dst)
	assert.NoError(t, err)
	expect.EQ(t, dstIdx.TotalDistinct(), srcIdx.TotalDistinct())
	for shard := 0; shard < kmer.NumShards; shard++ {
		expect.EQ(t, dstIdx.ShardStats[shard].Checksum, srcIdx.ShardStats[shard].Checksum,
			"shard %d content diverged", shard)
	}
}

func TestUnionSelfIsIdempotent(t *testing.T) {
	// union A A = A when the modifiers stay NOP.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	db := filepath.Join(tmpDir, "a.db")
	writeDB(t, db, 3, []rec{{"AAA", 3, 7}, {"ACT", 1, 0}})

	out := runTokens(t, 3, tmpDir, "print", "[", "union", db, db, "]")
	expect.EQ(t, out, "AAA\t3\t7\nACT\t1\t0\n")
}

func TestCountThenPrint(t *testing.T) {
	// Count ACGTACGTA at k=3 and print the fresh database.
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	fasta := filepath.Join(tmpDir, "in.fa")
	assert.NoError(t, os.WriteFile(fasta, []byte(">r\nACGTACGTA\n"), 0644))

	out := runTokens(t, 3, tmpDir, "print", "[", "count", fasta, "]")
	expect.EQ(t, out, "ACG\t4\t0\nTAC\t3\t0\n")
}

func TestHistogramOutput(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	db := filepath.Join(tmpDir, "h.db")
	writeDB(t, db, 3, []rec{{"AAA", 1, 0}, {"AAC", 1, 0}, {"ACT", 2, 0}})

	out := runTokens(t, 3, tmpDir, "histogram", db)
	expect.EQ(t, out, "1 2 2\n2 1 4\n")
}

func TestStatisticsOutput(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "driver")
	defer cleanup()
	db := filepath.Join(tmpDir, "s.db")
	writeDB(t, db, 3, []rec{{"AAA", 1, 0}, {"AAC", 1, 0}, {"ACT", 2, 0}})

	out := runTokens(t, 3, tmpDir, "statistics", db)
	expect.True(t, bytes.Contains([]byte(out), []byte("total-kmers\t4\n")))
	expect.True(t, bytes.Contains([]byte(out), []byte("distinct-kmers\t3\n")))
}
