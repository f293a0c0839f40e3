package engine

import (
	"strconv"
	"strings"

	"github.com/kmerctl/kmerctl/internal/kmer"
)

// Quantity is the value a filter term tests.
type Quantity int

const (
	QValue Quantity = iota
	QLabel
	QBases
	QIndex
)

// Relation is the comparison a value/label/bases term applies.
type Relation int

const (
	REq Relation = iota
	RNeq
	RLeq
	RGeq
	RLt
	RGt
)

func (r Relation) eval(l, rgt int64) bool {
	switch r {
	case REq:
		return l == rgt
	case RNeq:
		return l != rgt
	case RLeq:
		return l <= rgt
	case RGeq:
		return l >= rgt
	case RLt:
		return l < rgt
	case RGt:
		return l > rgt
	default:
		return false
	}
}

// OperandKind distinguishes the three operand flavors a filter side can
// take.
type OperandKind int

const (
	OperandConst OperandKind = iota
	OperandInputRef
	OperandDerived
)

// DerivedKind is the right-hand-side quantile form resolved at finalize.
type DerivedKind int

const (
	DerivedDistinct DerivedKind = iota
	DerivedWordFrequency
)

// Derived is a distinct=/word-frequency= right-hand operand, resolved
// against an input database's histogram during finalization.
type Derived struct {
	Kind     DerivedKind
	Fraction float64
	resolved bool
	value    Value
}

// Resolve stamps the quantile value the builder computed from the
// referenced input's histogram.
func (d *Derived) Resolve(v Value) {
	d.resolved = true
	d.value = v
}

// Resolved reports whether Resolve has already run.
func (d *Derived) Resolved() bool { return d.resolved }

// Operand is a tagged union over {constant, @i input reference, derived
// quantile constant}.
type Operand struct {
	Kind     OperandKind
	Const    int64
	InputIdx int // 1-based; 0 means the prospective output k-mer
	Derived  *Derived
}

func constOperand(v int64) Operand { return Operand{Kind: OperandConst, Const: v} }
func refOperand(i int) Operand     { return Operand{Kind: OperandInputRef, InputIdx: i} }

// BasesSpec selects which bases contribute to a Bases-quantity count.
type BasesSpec struct {
	CountA, CountC, CountG, CountT bool
}

// IndexSpec describes an input-membership constraint. Raw holds the
// as-parsed count/identity requirement; the two tables below are computed
// by Finalize once the final input count N is known.
type IndexSpec struct {
	Raw string // e.g. "all", "any", "3", "2-4", "3-all", "@1", "@1-@2"

	// presentInNum[c] is true if |activeSet|==c satisfies the count form.
	presentInNum []bool
	// presentInIdx[i] is true if input i must be present in the active set.
	presentInIdx []bool
	finalized    bool
}

// FilterTerm is one predicate atom: (Quantity, Relation, operands, invert),
// plus the Bases/Index side-tables used by those two quantities.
type FilterTerm struct {
	Quantity Quantity
	Relation Relation
	Left     Operand
	Right    Operand
	Invert   bool
	Bases    BasesSpec
	Index    IndexSpec
}

// Product is a conjunction ("and") of terms. Filter is a disjunction ("or")
// of Products: a predicate in sum-of-products form.
type Product []FilterTerm
type Filter []Product

// EvalContext carries everything a term needs to resolve operands: the
// active set for this merge step, and the just-computed candidate output
// record (value/label from the modify recipe, k-mer from the merge
// minimum).
type EvalContext struct {
	Active  *ActiveSet
	OutKmer kmer.Bits
	OutK    int
	OutVal  Value
	OutLbl  Label
}

// Evaluate reports whether the filter accepts this candidate. A
// zero-product filter is the constant-true predicate.
func (f Filter) Evaluate(ctx *EvalContext) bool {
	if len(f) == 0 {
		return true
	}
	for _, product := range f {
		if product.evaluate(ctx) {
			return true
		}
	}
	return false
}

func (p Product) evaluate(ctx *EvalContext) bool {
	for _, term := range p {
		if !term.evaluate(ctx) {
			return false
		}
	}
	return true
}

func (t FilterTerm) evaluate(ctx *EvalContext) bool {
	var result bool
	switch t.Quantity {
	case QValue:
		result = t.evalNumeric(ctx, func(i int) (int64, bool) {
			if i == 0 {
				return int64(ctx.OutVal), true
			}
			if !ctx.Active.Present(i) {
				return 0, false
			}
			return int64(ctx.Active.ValueAt(i)), true
		})
	case QLabel:
		result = t.evalNumeric(ctx, func(i int) (int64, bool) {
			if i == 0 {
				return int64(ctx.OutLbl), true
			}
			if !ctx.Active.Present(i) {
				return 0, false
			}
			return int64(ctx.Active.LabelAt(i)), true
		})
	case QBases:
		count := countSelectedBases(ctx.OutKmer, ctx.OutK, t.Bases)
		right, ok := t.resolveScalar(ctx, t.Right)
		if !ok {
			result = false
		} else {
			result = t.Relation.eval(int64(count), right)
		}
	case QIndex:
		result = t.Index.satisfied(ctx.Active)
	}
	if t.Invert {
		return !result
	}
	return result
}

func countSelectedBases(b kmer.Bits, k int, spec BasesSpec) int {
	total := 0
	if spec.CountA {
		total += kmer.CountBase(b, k, kmer.A)
	}
	if spec.CountC {
		total += kmer.CountBase(b, k, kmer.C)
	}
	if spec.CountG {
		total += kmer.CountBase(b, k, kmer.G)
	}
	if spec.CountT {
		total += kmer.CountBase(b, k, kmer.T)
	}
	return total
}

func (t FilterTerm) evalNumeric(ctx *EvalContext, resolve func(i int) (int64, bool)) bool {
	left, ok := t.resolveSide(ctx, t.Left, resolve)
	if !ok {
		return false
	}
	right, ok := t.resolveSide(ctx, t.Right, resolve)
	if !ok {
		return false
	}
	return t.Relation.eval(left, right)
}

func (t FilterTerm) resolveSide(ctx *EvalContext, op Operand, resolve func(i int) (int64, bool)) (int64, bool) {
	switch op.Kind {
	case OperandConst:
		return op.Const, true
	case OperandInputRef:
		return resolve(op.InputIdx)
	case OperandDerived:
		if !op.Derived.resolved {
			return 0, false
		}
		return int64(op.Derived.value), true
	}
	return 0, false
}

// resolveScalar resolves a plain (non-active-set) operand, used for the
// Bases quantity's right-hand count threshold.
func (t FilterTerm) resolveScalar(ctx *EvalContext, op Operand) (int64, bool) {
	switch op.Kind {
	case OperandConst:
		return op.Const, true
	case OperandDerived:
		if !op.Derived.resolved {
			return 0, false
		}
		return int64(op.Derived.value), true
	}
	return 0, false
}

// Finalize parses Raw into the presentInNum/presentInIdx lookup tables now
// that the final input count n is known. Raw may list several
// comma/colon-joined parts (e.g. "@1:@3"); every identity part ("first",
// read as "@1", or "@n"/"@n-@m") narrows presentInIdx, every count-form
// part ("all"/"any"/"n"/"n-m"/"n-all") narrows presentInNum by
// intersection.
func (s *IndexSpec) Finalize(n int) error {
	s.presentInNum = make([]bool, n+1)
	for i := range s.presentInNum {
		s.presentInNum[i] = true
	}
	s.presentInIdx = make([]bool, n+1)

	raw := s.Raw
	if raw == "" {
		raw = "any"
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ':' || r == ',' })
	if len(parts) == 0 {
		parts = []string{"any"}
	}

	for _, part := range parts {
		if part == "first" {
			part = "@1"
		}
		switch {
		case part == "all":
			s.intersectCount(func(c int) bool { return c == n })
		case part == "any":
			s.intersectCount(func(c int) bool { return c >= 1 })
		case strings.HasPrefix(part, "@"):
			if !s.applyIdentity(part, n) {
				return newError(InvalidReference, "input: identity reference %q out of range 1..%d", part, n)
			}
		default:
			if !s.applyCountRange(part, n) {
				return newError(ParseError, "input: malformed count form %q", part)
			}
		}
	}
	s.finalized = true
	return nil
}

func (s *IndexSpec) intersectCount(accept func(c int) bool) {
	for c := range s.presentInNum {
		if !accept(c) {
			s.presentInNum[c] = false
		}
	}
}

func (s *IndexSpec) applyIdentity(part string, n int) bool {
	rest := strings.TrimPrefix(part, "@")
	if lo, hi, ok := splitRange(rest, "-@"); ok {
		loN, loErr := strconv.Atoi(lo)
		hiN, hiErr := strconv.Atoi(strings.TrimPrefix(hi, "@"))
		if loErr != nil || hiErr != nil || loN < 1 || hiN > n || loN > hiN {
			return false
		}
		for i := loN; i <= hiN; i++ {
			s.presentInIdx[i] = true
		}
		return true
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 1 || i > n {
		return false
	}
	s.presentInIdx[i] = true
	return true
}

// applyCountRange handles the bare numeric forms: "n", "n-m", "n-all".
func (s *IndexSpec) applyCountRange(part string, n int) bool {
	if strings.HasSuffix(part, "-all") {
		lo, err := strconv.Atoi(strings.TrimSuffix(part, "-all"))
		if err != nil || lo < 0 {
			return false
		}
		// A later "n-all" clause tightens an already-narrower lower bound
		// rather than widening it: intersectCount only ever turns entries
		// off, never back on.
		s.intersectCount(func(c int) bool { return c >= lo })
		return true
	}
	if lo, hi, ok := splitRange(part, "-"); ok {
		loN, loErr := strconv.Atoi(lo)
		hiN, hiErr := strconv.Atoi(hi)
		if loErr != nil || hiErr != nil || loN > hiN {
			return false
		}
		s.intersectCount(func(c int) bool { return c >= loN && c <= hiN })
		return true
	}
	exact, err := strconv.Atoi(part)
	if err != nil || exact < 0 {
		return false
	}
	s.intersectCount(func(c int) bool { return c == exact })
	return true
}

func splitRange(s, sep string) (lo, hi string, ok bool) {
	idx := strings.Index(s, sep)
	if idx <= 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

func (s *IndexSpec) satisfied(active *ActiveSet) bool {
	if !s.finalized {
		return false
	}
	n := active.Count()
	if n < len(s.presentInNum) && !s.presentInNum[n] {
		return false
	}
	for i, required := range s.presentInIdx {
		if required && !active.Present(i) {
			return false
		}
	}
	return true
}

// ActiveSet is the subset of inputs whose current cursor k-mer equals the
// candidate output k-mer, together with each active input's value/label.
type ActiveSet struct {
	n       int
	present []bool
	value   []Value
	label   []Label
}

// NewActiveSet allocates an ActiveSet for n inputs (1-based slots 1..n).
func NewActiveSet(n int) *ActiveSet {
	return &ActiveSet{
		n:       n,
		present: make([]bool, n+1),
		value:   make([]Value, n+1),
		label:   make([]Label, n+1),
	}
}

func (a *ActiveSet) Reset() {
	for i := range a.present {
		a.present[i] = false
	}
}

func (a *ActiveSet) Set(i int, v Value, l Label) {
	a.present[i] = true
	a.value[i] = v
	a.label[i] = l
}

func (a *ActiveSet) Present(i int) bool {
	if i < 0 || i >= len(a.present) {
		return false
	}
	return a.present[i]
}

func (a *ActiveSet) ValueAt(i int) Value { return a.value[i] }
func (a *ActiveSet) LabelAt(i int) Label { return a.label[i] }

// Count returns |activeSet|.
func (a *ActiveSet) Count() int {
	n := 0
	for _, p := range a.present[1:] {
		if p {
			n++
		}
	}
	return n
}

// PresentIndices returns the ascending list of active input indices.
func (a *ActiveSet) PresentIndices() []int {
	var out []int
	for i := 1; i <= a.n; i++ {
		if a.present[i] {
			out = append(out, i)
		}
	}
	return out
}
