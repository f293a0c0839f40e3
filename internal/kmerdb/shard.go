package kmerdb

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash"
	"io"

	"blainsmith.com/go/seahash"
	"github.com/golang/snappy"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// recordBlock is the number of records snappy-compressed together on
// write. Framing the codec in small blocks rather than compressing the
// whole file as one stream lets a reader validate one block without
// decoding the rest.
const recordBlock = 4096

// shardHeader summarizes one shard for the database index: k (so Width can
// be derived), record count, and a seahash checksum over every block's
// decompressed bytes, checked to catch truncated or corrupt shards.
type shardHeader struct {
	K     uint32
	Count uint64
	Sum   uint64
}

// ShardWriter writes one shard's sorted records to disk: a sorted
// sequence of (k-mer, value, label) in a compact bit-packed encoding,
// snappy-compressed in blocks.
type ShardWriter struct {
	ctx   context.Context
	out   file.File
	w     *bufio.Writer
	k     int
	count uint64
	sum   hashAccumulator

	buf []byte // pending uncompressed record bytes for the current block
}

// hashAccumulator folds every block's bytes into a running seahash.
type hashAccumulator struct {
	h hash.Hash64
}

func (a *hashAccumulator) add(b []byte) {
	if a.h == nil {
		a.h = seahash.New()
	}
	a.h.Write(b) // nolint: errcheck
}

func (a *hashAccumulator) sum() uint64 {
	if a.h == nil {
		return 0
	}
	return a.h.Sum64()
}

// recordSize returns the on-wire byte size of one record for k-mers of width
// w lanes (1 for k<=32, 2 otherwise): w*8 (k-mer) + 4 (value) + 8 (label).
func recordSize(w int) int { return w*8 + 4 + 8 }

// NewShardWriter creates (or truncates) the shard file for the given shard id
// within dir.
func NewShardWriter(ctx context.Context, dir string, shard, k int) (*ShardWriter, error) {
	out, err := file.Create(ctx, shardPath(dir, shard))
	if err != nil {
		return nil, err
	}
	return &ShardWriter{ctx: ctx, out: out, w: bufio.NewWriter(out.Writer(ctx)), k: k}, nil
}

// Write appends one record. Callers (the engine's emit path) must supply
// records in strictly ascending k-mer order; ShardWriter does not itself
// re-sort.
func (s *ShardWriter) Write(km kmer.Bits, value uint32, label uint64) error {
	w := kmer.Width(s.k)
	rec := make([]byte, recordSize(w))
	off := 0
	if w == 2 {
		binary.BigEndian.PutUint64(rec[off:], km.Hi)
		off += 8
	}
	binary.BigEndian.PutUint64(rec[off:], km.Lo)
	off += 8
	binary.BigEndian.PutUint32(rec[off:], value)
	off += 4
	binary.BigEndian.PutUint64(rec[off:], label)

	s.buf = append(s.buf, rec...)
	s.count++
	if len(s.buf) >= recordSize(w)*recordBlock {
		return s.flushBlock()
	}
	return nil
}

func (s *ShardWriter) flushBlock() error {
	if len(s.buf) == 0 {
		return nil
	}
	s.sum.add(s.buf)
	compressed := snappy.Encode(nil, s.buf)
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(compressed)))
	if _, err := s.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(compressed); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	return nil
}

// Close flushes any pending block, stamps the header, and closes the
// underlying file.
func (s *ShardWriter) Close() (err error) {
	if err = s.flushBlock(); err != nil {
		return err
	}
	if err = s.w.Flush(); err != nil {
		return err
	}
	defer file.CloseAndReport(s.ctx, s.out, &err)
	return nil
}

// Stat reports the header this writer should be recorded under in the
// database index once Close has run.
func (s *ShardWriter) Stat() shardHeader {
	return shardHeader{K: uint32(s.k), Count: s.count, Sum: s.sum.sum()}
}

// ShardReader streams one shard's records back in ascending k-mer order. It
// satisfies engine.DatabaseReader.
type ShardReader struct {
	ctx context.Context
	in  file.File
	r   *bufio.Reader
	k   int

	block    []byte
	blockOff int
}

// NewShardReader opens the shard file for reading.
func NewShardReader(ctx context.Context, dir string, shard, k int) (*ShardReader, error) {
	in, err := file.Open(ctx, shardPath(dir, shard))
	if err != nil {
		return nil, err
	}
	return &ShardReader{ctx: ctx, in: in, r: bufio.NewReader(in.Reader(ctx)), k: k}, nil
}

func (r *ShardReader) nextBlock() (ok bool, err error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r.r, lenPrefix[:]); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, errors.Wrap(err, "kmerdb: reading block length")
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r.r, compressed); err != nil {
		return false, errors.Wrap(err, "kmerdb: reading compressed block")
	}
	decoded, err := snappy.Decode(nil, compressed)
	if err != nil {
		return false, errors.Wrap(err, "kmerdb: corrupt snappy block")
	}
	r.block = decoded
	r.blockOff = 0
	return true, nil
}

// Next returns the next record, or ok=false at end of shard.
func (r *ShardReader) Next() (kmer.Bits, uint32, uint64, bool) {
	w := kmer.Width(r.k)
	sz := recordSize(w)
	for r.blockOff >= len(r.block) {
		ok, err := r.nextBlock()
		if err != nil {
			panic(errors.Wrap(err, "kmerdb: shard read failed"))
		}
		if !ok {
			return kmer.Bits{}, 0, 0, false
		}
	}
	rec := r.block[r.blockOff : r.blockOff+sz]
	r.blockOff += sz

	off := 0
	var b kmer.Bits
	if w == 2 {
		b.Hi = binary.BigEndian.Uint64(rec[off:])
		off += 8
	}
	b.Lo = binary.BigEndian.Uint64(rec[off:])
	off += 8
	value := binary.BigEndian.Uint32(rec[off:])
	off += 4
	label := binary.BigEndian.Uint64(rec[off:])
	return b, value, label, true
}

// Close releases the underlying file handle.
func (r *ShardReader) Close() (err error) {
	defer file.CloseAndReport(r.ctx, r.in, &err)
	return nil
}

// VerifyChecksum re-derives the seahash over the shard's decompressed
// blocks and compares it against want, surfacing a CorruptInput-worthy
// error on mismatch. Kept separate from streaming Next so callers decide
// whether the up-front cost is worth it.
func VerifyChecksum(ctx context.Context, dir string, shard, k int, want uint64) error {
	r, err := NewShardReader(ctx, dir, shard, k)
	if err != nil {
		return err
	}
	defer r.Close()
	var sum hashAccumulator
	for {
		ok, err := r.nextBlock()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sum.add(r.block)
	}
	if got := sum.sum(); got != want {
		return errors.Errorf("kmerdb: shard %d checksum mismatch: got %x want %x", shard, got, want)
	}
	return nil
}
