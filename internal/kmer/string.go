package kmer

import (
	gunsafe "github.com/grailbio/base/unsafe"
)

// acgtRank maps this package's 2-bit codes to an alphabetically-sorted
// rank (A<C<G<T), used only when the database/printer ACGT-order flag is
// set. It is distinct from the canonicalization order used by Compare.
var acgtRank = [4]uint8{
	A: 0,
	C: 1,
	G: 2,
	T: 3,
}

// String renders a k-mer as its base letters, code[0] first.
func String(b Bits, k int) string {
	codes := Unpack(b, k)
	buf := make([]byte, k)
	for i, c := range codes {
		buf[i] = codeToASCII[c]
	}
	return gunsafe.BytesToString(buf)
}

// LessACGT reports whether a sorts before b under alphabetical ACGT order
// (A<C<G<T), as opposed to Compare's canonicalization order.
func LessACGT(a, b Bits, k int) bool {
	ac, bc := Unpack(a, k), Unpack(b, k)
	for i := 0; i < k; i++ {
		ra, rb := acgtRank[ac[i]], acgtRank[bc[i]]
		if ra != rb {
			return ra < rb
		}
	}
	return false
}

// ShardOf returns the 0..63 shard id selected by the top 6 bits of the
// k-mer, i.e. its first three bases.
func ShardOf(b Bits, k int) int {
	codes := Unpack(b, k)
	shard := 0
	for i := 0; i < 3; i++ {
		shard <<= 2
		if i < len(codes) {
			shard |= int(codes[i])
		}
	}
	return shard
}

const NumShards = 64
