// Package builder implements the token-by-token command parser that turns
// a flat token stream into engine.Template trees: action keywords open and
// type operations, filter and modifier tokens refine the current one, and
// bracket grouping nests operations as inputs of their parent.
package builder

import (
	"strconv"
	"strings"

	"github.com/kmerctl/kmerctl/internal/engine"
)

// Builder consumes tokens one at a time. It never aborts on a bad token;
// every problem is appended to Errors and surfaced together once parsing
// finishes.
type Builder struct {
	templates []*engine.Template
	stack     []*engine.Template
	roots     []engine.NodeID

	errs engine.ErrorList

	invertNextFilter bool

	// compressNext is the sticky "homopolymer-compress" flag:
	// applied to every sequence-derived input token added after it within
	// the current node.
	compressNext bool

	// pendingArg, when non-nil, is invoked with the very next token instead
	// of running it through the normal recognition order. It covers every
	// token that expects a bare follow-up argument (global options and
	// "output <path>"); filter/modifier tokens never need it, each being a
	// single self-contained colon/equals-joined string.
	pendingArg func(word string)

	// Global options, recognized from the trailing "memory <gigabytes>"
	// and "threads <N>" token pairs.
	AllowedMemoryGB float64
	AllowedThreads  int
	Verbosity       int

	nextID engine.NodeID
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Errors reports every collected parse/validation failure so far.
func (b *Builder) Errors() *engine.ErrorList { return &b.errs }

// Templates returns every template created during this build, in creation
// order (their index is NOT their NodeID once pruning happens, but this
// builder never prunes, so index==NodeID here).
func (b *Builder) Templates() []*engine.Template { return b.templates }

// Roots returns the NodeIDs of every root operation (one per output tree).
func (b *Builder) Roots() []engine.NodeID { return b.roots }

func (b *Builder) current() *engine.Template {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

// newOperation pushes a fresh, still-untyped (OpNothing) template onto the
// stack and clears the homopolymer-compress flag for the new node.
func (b *Builder) newOperation(k int) *engine.Template {
	b.compressNext = false
	tpl := engine.NewTemplate(b.nextID, engine.OpNothing, k)
	b.nextID++
	b.templates = append(b.templates, tpl)
	b.stack = append(b.stack, tpl)
	return tpl
}

// closeOperation pops the current operation. If a parent operation remains
// on the stack, the closed operation becomes one of the parent's inputs
// (FromTemplate, resolved to FromOperation at Finalize); otherwise it
// becomes a root.
func (b *Builder) closeOperation() {
	if len(b.stack) == 0 {
		b.errs.Add(engine.ParseError, "unmatched ']': no open operation to close")
		return
	}
	done := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]

	if parent := b.current(); parent != nil {
		parent.Inputs = append(parent.Inputs, engine.InputSpec{Kind: engine.FromTemplate, Upstream: done.ID})
	} else {
		b.roots = append(b.roots, done.ID)
	}
}

// ensureCurrent lazily opens an implicit top-level operation the first time
// a token arrives with nothing open — the common case of a flat command
// line with no explicit "[" grouping.
func (b *Builder) ensureCurrent(k int) *engine.Template {
	if cur := b.current(); cur != nil {
		return cur
	}
	return b.newOperation(k)
}

// ProcessWord consumes one token. Recognition order: grouping, pending
// option arguments, global options, action keywords, filter keywords,
// connectives, modifier assignments, and finally input names. k is the
// k-mer length in effect, set once globally by the CLI before any token is
// handed to the builder.
func (b *Builder) ProcessWord(word string, k int) {
	if word == "" {
		return
	}

	// 1. Group open/close.
	switch word {
	case "[":
		b.newOperation(k)
		return
	case "]":
		b.closeOperation()
		return
	}

	// 2. A preceding token (memory/threads, or output) is still waiting on
	// its bare follow-up argument.
	if b.pendingArg != nil {
		fn := b.pendingArg
		b.pendingArg = nil
		fn(word)
		return
	}

	// 3. Global options "memory <gigabytes>" and "threads <N>": the two
	// genuinely multi-token sequences in this grammar, since every
	// filter/modifier token below is a single self-contained string.
	switch word {
	case "memory":
		b.pendingArg = func(arg string) {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil || v < 0 {
				b.errs.Add(engine.ParseError, "memory: invalid gigabyte value %q", arg)
				return
			}
			b.AllowedMemoryGB = v
		}
		return
	case "threads":
		b.pendingArg = func(arg string) {
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 {
				b.errs.Add(engine.ParseError, "threads: invalid thread count %q", arg)
				return
			}
			b.AllowedThreads = n
		}
		return
	}

	// 4. Action keywords (and convenience aliases built from them).
	if b.tryAction(word, k) {
		return
	}

	// 5. Filter keywords: each one a single self-contained colon-delimited
	// string.
	if strings.HasPrefix(word, "value:") || strings.HasPrefix(word, "label:") ||
		strings.HasPrefix(word, "bases:") || strings.HasPrefix(word, "input:") {
		b.parseFilterToken(word, k)
		return
	}

	// 6. Connectives.
	switch word {
	case "and":
		return
	case "or":
		cur := b.ensureCurrent(k)
		cur.Filter = append(cur.Filter, engine.Product{})
		return
	case "not":
		b.invertNextFilter = !b.invertNextFilter
		return
	}

	// 7. Modifier assignments: also single self-contained strings.
	if strings.HasPrefix(word, "value=") {
		b.parseValueModifier(word[len("value="):], k)
		return
	}
	if strings.HasPrefix(word, "label=") {
		b.parseLabelModifier(word[len("label="):], k)
		return
	}

	// 8. Otherwise: an input name (database / sequence file / store handle).
	b.addInputPath(word, k)
}

// Finish must be called once every token has been processed. It reports a
// dangling "not" and closes any operations left open by an unbalanced
// "[".
func (b *Builder) Finish(k int) {
	if b.invertNextFilter {
		b.errs.Add(engine.ParseError, "trailing 'not' with no following filter term")
	}
	if b.pendingArg != nil {
		b.errs.Add(engine.ParseError, "command ends mid-option, missing its argument")
	}
	for len(b.stack) > 0 {
		b.closeOperation()
	}
	if len(b.roots) == 0 && len(b.templates) > 0 {
		// A flat command line with no explicit grouping: the single
		// implicit top-level operation is the (only) root.
		b.roots = append(b.roots, b.templates[len(b.templates)-1].ID)
	}
}
