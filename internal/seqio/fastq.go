package seqio

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// FASTQReader streams the Seq line of each FASTQ record, the counting
// subsystem's only interest. It validates the 4-line cadence (ID line
// begins with "@", line 3 begins with "+") but skips unpacking the quality
// line since nothing downstream reads it.
type FASTQReader struct {
	ctx  context.Context
	f    file.File
	gz   *gzip.Reader
	sc   *bufio.Scanner
	done bool
}

// OpenFASTQ opens path (transparently gunzip-ing a ".gz" suffix).
func OpenFASTQ(ctx context.Context, path string) (*FASTQReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &FASTQReader{ctx: ctx, f: f}
	var base io.Reader = f.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(base)
		if err != nil {
			return nil, err
		}
		r.gz = gz
		base = gz
	}
	sc := bufio.NewScanner(base)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	r.sc = sc
	return r, nil
}

// Next returns the Seq line of the next read.
func (r *FASTQReader) Next() ([]byte, bool, error) {
	if r.done {
		return nil, false, nil
	}
	if !r.sc.Scan() {
		r.done = true
		return nil, false, nil
	}
	idLine := r.sc.Bytes()
	if len(idLine) == 0 || idLine[0] != '@' {
		return nil, false, errors.Errorf("seqio: malformed FASTQ id line %q", idLine)
	}
	if !r.sc.Scan() {
		return nil, false, errors.New("seqio: short FASTQ file (missing seq line)")
	}
	seq := append([]byte(nil), r.sc.Bytes()...)
	if !r.sc.Scan() {
		return nil, false, errors.New("seqio: short FASTQ file (missing + line)")
	}
	plus := r.sc.Bytes()
	if len(plus) == 0 || plus[0] != '+' {
		return nil, false, errors.Errorf("seqio: malformed FASTQ separator line %q", plus)
	}
	if !r.sc.Scan() {
		return nil, false, errors.New("seqio: short FASTQ file (missing qual line)")
	}
	return seq, true, nil
}

func (r *FASTQReader) Close() error {
	if r.gz != nil {
		r.gz.Close() // nolint: errcheck
	}
	return r.f.Close(r.ctx)
}
