// Package seqio implements the raw sequence readers that feed the counting
// subsystem's producer pass: FASTA, FASTQ (optionally gzip-compressed, via
// klauspost/compress), and a segmentable sequence-store stand-in. None of
// these sort their output; they are only ever wired as a Counting node's
// input.
package seqio

import "context"

// Source is the uniform surface the counting producer pulls raw sequence
// records from. Each call to Next yields one record's bases (a FASTA
// sequence, or one FASTQ read); the kmerizer resets its rolling register
// between records, so k-mers never span a record boundary.
type Source interface {
	// Next returns the bases of the next sequence record, or ok=false once
	// the source is exhausted. A non-nil error is CorruptInput-worthy and
	// fatal for the calling producer.
	Next() (bases []byte, ok bool, err error)
	Close() error
}

// Open resolves a sequence-file path to a concrete Source, dispatching on
// file extension the same way the builder's input-token disambiguation
// does: ".fa"/".fasta" family to FASTA, ".fq"/".fastq" family to FASTQ,
// transparently decompressing a trailing ".gz".
func Open(ctx context.Context, path string) (Source, error) {
	switch {
	case hasSuffixAny(path, ".fastq", ".fastq.gz", ".fq", ".fq.gz"):
		return OpenFASTQ(ctx, path)
	default:
		return OpenFASTA(ctx, path)
	}
}

// IsSequencePath reports whether path looks like a raw sequence file by
// extension, the same test Open and the builder's input-token
// disambiguation use.
func IsSequencePath(path string) bool {
	return hasSuffixAny(path,
		".fa", ".fa.gz", ".fasta", ".fasta.gz",
		".fq", ".fq.gz", ".fastq", ".fastq.gz")
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}
