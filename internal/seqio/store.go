package seqio

import "context"

// StoreSource adapts a proprietary sequence store to Source. The real
// store reader is an external collaborator; this implementation is the
// named, minimal seam the builder wires to. It multiplexes a
// FASTA/FASTQ-shaped path as if it were a single segmentable store,
// selecting every segmentCount-th record so segment workers can intake
// concurrently without coordinating.
type StoreSource struct {
	inner        Source
	segment      int
	segmentCount int
	idx          int
}

// OpenStore opens handle as segment s of sMax. sMax==1 reads every record.
func OpenStore(ctx context.Context, handle string, segment, segmentCount int) (*StoreSource, error) {
	inner, err := Open(ctx, handle)
	if err != nil {
		return nil, err
	}
	if segmentCount < 1 {
		segmentCount = 1
	}
	return &StoreSource{inner: inner, segment: segment, segmentCount: segmentCount}, nil
}

func (s *StoreSource) Next() ([]byte, bool, error) {
	for {
		bases, ok, err := s.inner.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		mine := s.idx%s.segmentCount == s.segment
		s.idx++
		if mine {
			return bases, true, nil
		}
	}
}

func (s *StoreSource) Close() error { return s.inner.Close() }
