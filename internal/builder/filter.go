package builder

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/kmerctl/kmerctl/internal/engine"
)

// relSymbols lists every accepted relation spelling, longest first so a
// greedy leftmost scan never stops on a symbol's own prefix (e.g. "<="
// must win over "<").
var relSymbols = []struct {
	sym string
	rel engine.Relation
}{
	{"!=", engine.RNeq},
	{"<>", engine.RNeq},
	{"<=", engine.RLeq},
	{">=", engine.RGeq},
	{"==", engine.REq},
	{"eq", engine.REq},
	{"ne", engine.RNeq},
	{"le", engine.RLeq},
	{"ge", engine.RGeq},
	{"lt", engine.RLt},
	{"gt", engine.RGt},
	{"=", engine.REq},
	{"<", engine.RLt},
	{">", engine.RGt},
}

// specialRightForms are the derived/aliased right-hand arg spellings that
// are NOT built from the plain numeric/@/# grammar, so the relation symbol
// must be located before them rather than by scanning the whole token (a
// plain scan would misfire on the "eq" hiding inside "frequency").
var specialRightForms = []string{"distinct=", "word-frequency=", "threshold="}

// parseFilterToken dispatches one value:/label:/bases:/input: token.
func (b *Builder) parseFilterToken(word string, k int) {
	switch {
	case strings.HasPrefix(word, "value:"):
		b.addNumericTerm(engine.QValue, word[len("value:"):], k)
	case strings.HasPrefix(word, "label:"):
		b.addNumericTerm(engine.QLabel, word[len("label:"):], k)
	case strings.HasPrefix(word, "bases:"):
		b.addBasesTerm(word[len("bases:"):], k)
	case strings.HasPrefix(word, "input:"):
		b.addIndexTerm(word[len("input:"):], k)
	}
}

// splitRelation locates the token's relation symbol and the raw left/right
// substrings around it, per the value-filter/label-filter grammar:
// "[arg] rel arg".
func splitRelation(body string) (left, rel, right string, ok bool) {
	for _, form := range specialRightForms {
		if idx := strings.Index(body, form); idx >= 0 {
			head, tail := body[:idx], body[idx:]
			for _, rs := range relSymbols {
				if strings.HasSuffix(head, rs.sym) {
					return head[:len(head)-len(rs.sym)], rs.sym, tail, true
				}
			}
			return "", "", "", false
		}
	}
	bestIdx, bestLen := -1, 0
	var bestSym string
	for _, rs := range relSymbols {
		idx := strings.Index(body, rs.sym)
		if idx < 0 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx || (idx == bestIdx && len(rs.sym) > bestLen) {
			bestIdx, bestLen, bestSym = idx, len(rs.sym), rs.sym
		}
	}
	if bestIdx == -1 {
		return "", "", "", false
	}
	return body[:bestIdx], bestSym, body[bestIdx+bestLen:], true
}

func relationFromSymbol(sym string) engine.Relation {
	for _, rs := range relSymbols {
		if rs.sym == sym {
			return rs.rel
		}
	}
	return engine.REq
}

// parseArg parses one operand: an "@i" input reference, a "#n" or bare
// constant, or one of the derived right-hand forms. valueOnly gates the
// distinct=/word-frequency= forms, which only value filters accept.
func parseArg(s string, valueOnly bool) (engine.Operand, error) {
	switch {
	case strings.HasPrefix(s, "@"):
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 {
			return engine.Operand{}, errors.Errorf("malformed input reference %q", s)
		}
		return engine.Operand{Kind: engine.OperandInputRef, InputIdx: n}, nil
	case strings.HasPrefix(s, "#"):
		n, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil {
			return engine.Operand{}, errors.Errorf("malformed constant %q", s)
		}
		return engine.Operand{Kind: engine.OperandConst, Const: n}, nil
	case strings.HasPrefix(s, "threshold="):
		// "threshold=" is a plain-constant synonym kept for script
		// compatibility.
		n, err := strconv.ParseInt(s[len("threshold="):], 10, 64)
		if err != nil {
			return engine.Operand{}, errors.Errorf("malformed threshold %q", s)
		}
		return engine.Operand{Kind: engine.OperandConst, Const: n}, nil
	case strings.HasPrefix(s, "distinct="):
		if !valueOnly {
			return engine.Operand{}, errors.Errorf("distinct= is only valid on a value: filter")
		}
		f, err := strconv.ParseFloat(s[len("distinct="):], 64)
		if err != nil {
			return engine.Operand{}, errors.Errorf("malformed distinct= fraction %q", s)
		}
		return engine.Operand{Kind: engine.OperandDerived, Derived: &engine.Derived{Kind: engine.DerivedDistinct, Fraction: f}}, nil
	case strings.HasPrefix(s, "word-frequency="):
		if !valueOnly {
			return engine.Operand{}, errors.Errorf("word-frequency= is only valid on a value: filter")
		}
		f, err := strconv.ParseFloat(s[len("word-frequency="):], 64)
		if err != nil {
			return engine.Operand{}, errors.Errorf("malformed word-frequency= fraction %q", s)
		}
		return engine.Operand{Kind: engine.OperandDerived, Derived: &engine.Derived{Kind: engine.DerivedWordFrequency, Fraction: f}}, nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return engine.Operand{}, errors.Errorf("malformed numeric argument %q", s)
		}
		return engine.Operand{Kind: engine.OperandConst, Const: n}, nil
	}
}

// defaultLeft is the implicit left operand when a filter token omits it:
// @1 for value/label, @0 (the output k-mer) for bases.
func defaultLeft(q engine.Quantity) engine.Operand {
	if q == engine.QBases {
		return engine.Operand{Kind: engine.OperandInputRef, InputIdx: 0}
	}
	return engine.Operand{Kind: engine.OperandInputRef, InputIdx: 1}
}

// addNumericTerm implements the value-filter/label-filter productions.
func (b *Builder) addNumericTerm(q engine.Quantity, body string, k int) {
	left, relSym, right, ok := splitRelation(body)
	if !ok {
		b.errs.Add(engine.ParseError, "malformed filter term %q: no relation found", body)
		return
	}
	rel := relationFromSymbol(relSym)

	var leftOp engine.Operand
	if left == "" {
		leftOp = defaultLeft(q)
	} else {
		op, err := parseArg(left, q == engine.QValue)
		if err != nil {
			b.errs.Add(engine.ParseError, "%v", err)
			return
		}
		leftOp = op
	}
	rightOp, err := parseArg(right, q == engine.QValue)
	if err != nil {
		b.errs.Add(engine.ParseError, "%v", err)
		return
	}

	if isTautologousConst(leftOp, rightOp) {
		b.errs.Add(engine.TautologyError, "filter term %q compares a value with itself", body)
		return
	}

	term := engine.FilterTerm{Quantity: q, Relation: rel, Left: leftOp, Right: rightOp, Invert: b.takeInvert()}
	b.appendTerm(k, term)
}

// addBasesTerm implements the bases-filter production: a run of ACGT
// letters naming the bases to count, then the usual relational tail. The
// left side defaults to, and may only be, the output k-mer: all inputs at
// a merge step share one k-mer, so a left-side "@i" with i>0 is an
// InvalidReference.
func (b *Builder) addBasesTerm(body string, k int) {
	i := 0
	for i < len(body) && strings.ContainsRune("acgtACGT", rune(body[i])) {
		i++
	}
	letters, rest := body[:i], body[i:]
	if letters == "" || !strings.HasPrefix(rest, ":") {
		b.errs.Add(engine.ParseError, "malformed bases: filter %q", body)
		return
	}
	rest = rest[1:]

	var spec engine.BasesSpec
	for _, c := range strings.ToLower(letters) {
		switch c {
		case 'a':
			spec.CountA = true
		case 'c':
			spec.CountC = true
		case 'g':
			spec.CountG = true
		case 't':
			spec.CountT = true
		}
	}

	left, relSym, right, ok := splitRelation(rest)
	if !ok {
		b.errs.Add(engine.ParseError, "malformed bases: filter %q: no relation found", body)
		return
	}
	if left != "" {
		if strings.HasPrefix(left, "@") {
			n, err := strconv.Atoi(left[1:])
			if err == nil && n > 0 {
				b.errs.Add(engine.InvalidReference, "bases: filter %q: left side cannot reference @%d (all inputs share one k-mer)", body, n)
				return
			}
		}
	}
	rightOp, err := parseArg(right, false)
	if err != nil {
		b.errs.Add(engine.ParseError, "%v", err)
		return
	}

	term := engine.FilterTerm{
		Quantity: engine.QBases,
		Relation: relationFromSymbol(relSym),
		Left:     engine.Operand{Kind: engine.OperandInputRef, InputIdx: 0},
		Right:    rightOp,
		Invert:   b.takeInvert(),
		Bases:    spec,
	}
	b.appendTerm(k, term)
}

// addIndexTerm implements the input-filter production: one or more
// comma/colon-joined "part"s, parsed fully at Finalize once the node's
// final input count is known (engine.IndexSpec.Finalize).
func (b *Builder) addIndexTerm(body string, k int) {
	if body == "" {
		b.errs.Add(engine.ParseError, "empty input: filter")
		return
	}
	term := engine.FilterTerm{
		Quantity: engine.QIndex,
		Invert:   b.takeInvert(),
		Index:    engine.IndexSpec{Raw: body},
	}
	b.appendTerm(k, term)
}

func (b *Builder) takeInvert() bool {
	v := b.invertNextFilter
	b.invertNextFilter = false
	return v
}

// appendTerm adds term to the conjunction currently being built: the last
// product of the current (or newly-opened implicit) operation's filter,
// starting one if "or"/the first term hasn't opened one yet.
func (b *Builder) appendTerm(k int, term engine.FilterTerm) {
	cur := b.ensureCurrent(k)
	if cur.Type == engine.OpNothing {
		cur.Type = engine.OpFilter
	}
	if len(cur.Filter) == 0 {
		cur.Filter = append(cur.Filter, engine.Product{})
	}
	last := len(cur.Filter) - 1
	cur.Filter[last] = append(cur.Filter[last], term)
}

// isTautologousConst rejects terms whose two sides are identical constants
// or the same @i reference (always true or always false), including both
// sides being @0, the output k-mer compared with itself.
func isTautologousConst(left, right engine.Operand) bool {
	if left.Kind == engine.OperandConst && right.Kind == engine.OperandConst {
		return left.Const == right.Const
	}
	if left.Kind == engine.OperandInputRef && right.Kind == engine.OperandInputRef {
		return left.InputIdx == right.InputIdx
	}
	return false
}
