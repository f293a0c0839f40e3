package engine

import "github.com/kmerctl/kmerctl/internal/kmer"

// InputSource is the uniform pull interface every merge-node input
// implements: "produce next k-mer". After NextMer returns true, Kmer/Value
// /Label expose the current record; after it returns false the source is
// exhausted.
type InputSource interface {
	NextMer() bool
	Valid() bool
	Kmer() kmer.Bits
	Value() Value
	Label() Label
}

// DatabaseReader is the narrow interface the engine needs from an on-disk
// shard reader (internal/kmerdb.ShardReader satisfies it); kept separate
// so the engine package doesn't import the codec package directly.
type DatabaseReader interface {
	Next() (kmer.Bits, Value, Label, bool)
}

// databaseInput adapts a DatabaseReader to InputSource.
type databaseInput struct {
	r            DatabaseReader
	valid        bool
	km           kmer.Bits
	val          Value
	lbl          Label
	lastSeen     kmer.Bits
	haveLastSeen bool
}

// NewDatabaseInput wraps a shard reader as an InputSource.
func NewDatabaseInput(r DatabaseReader) InputSource {
	return &databaseInput{r: r}
}

func (d *databaseInput) NextMer() bool {
	km, val, lbl, ok := d.r.Next()
	if !ok {
		d.valid = false
		return false
	}
	if d.haveLastSeen && kmer.Compare(km, d.lastSeen) <= 0 {
		d.valid = false
		panic(&Error{Kind: CorruptInput, Msg: "database shard k-mers are not strictly ascending"})
	}
	d.lastSeen, d.haveLastSeen = km, true
	d.km, d.val, d.lbl, d.valid = km, val, lbl, true
	return true
}

func (d *databaseInput) Valid() bool     { return d.valid }
func (d *databaseInput) Kmer() kmer.Bits { return d.km }
func (d *databaseInput) Value() Value    { return d.val }
func (d *databaseInput) Label() Label    { return d.lbl }

// operationInput adapts the compute twin of an upstream operation template
// into an InputSource: downstream sees that operation's post-filter,
// post-modify output stream.
type operationInput struct {
	up    *ComputeNode
	valid bool
	cur   Record
}

// NewOperationInput wraps an upstream compute node's output stream.
func NewOperationInput(up *ComputeNode) InputSource {
	return &operationInput{up: up}
}

func (o *operationInput) NextMer() bool {
	rec, ok := o.up.pullNext()
	if !ok {
		o.valid = false
		return false
	}
	o.cur = rec
	o.valid = true
	return true
}

func (o *operationInput) Valid() bool     { return o.valid }
func (o *operationInput) Kmer() kmer.Bits { return o.cur.Kmer }
func (o *operationInput) Value() Value    { return o.cur.Value }
func (o *operationInput) Label() Label    { return o.cur.Label }
