package seqio

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
)

// FASTAReader is a minimal streaming FASTA scanner. It deliberately builds
// no random-access index; the engine only ever needs one linear pass over
// every sequence per counting node.
type FASTAReader struct {
	ctx         context.Context
	f           file.File
	gz          *gzip.Reader
	sc          *bufio.Scanner
	pendingName string // header of a record already seen but not yet returned
	done        bool
}

// OpenFASTA opens path (transparently gunzip-ing a ".gz" suffix).
func OpenFASTA(ctx context.Context, path string) (*FASTAReader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &FASTAReader{ctx: ctx, f: f}
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
	sc.Buffer(make([]byte, 0, 64*1024), 1<<24)
	r.sc = sc
	return r, nil
}

// Next returns the bases of the next ">"-delimited record, with embedded
// newlines stripped.
func (r *FASTAReader) Next() ([]byte, bool, error) {
	if r.done {
		return nil, false, nil
	}
	var seq []byte
	haveRecord := r.pendingName != ""
	r.pendingName = ""
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if haveRecord {
				r.pendingName = string(line[1:])
				return seq, true, nil
			}
			haveRecord = true
			continue
		}
		seq = append(seq, line...)
	}
	if err := r.sc.Err(); err != nil {
		return nil, false, err
	}
	r.done = true
	if haveRecord {
		return seq, true, nil
	}
	return nil, false, nil
}

func (r *FASTAReader) Close() error {
	if r.gz != nil {
		r.gz.Close() // nolint: errcheck
	}
	return r.f.Close(r.ctx)
}
