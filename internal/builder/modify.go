package builder

import (
	"strconv"
	"strings"

	"github.com/kmerctl/kmerctl/internal/engine"
)

// valueModeNames maps every value= mode spelling to its engine.ValueMode.
// Names without a following numeric argument (min, max, first, ...) are
// recognized by name alone; anything else is parsed as a bare constant
// ("value=42" => ValueSet with constant 42).
var valueModeNames = map[string]engine.ValueMode{
	"nop":      engine.ValueNOP,
	"selected": engine.ValueSelected,
	"first":    engine.ValueFirst,
	"min":      engine.ValueMin,
	"max":      engine.ValueMax,
	"add":      engine.ValueAdd,
	"sum":      engine.ValueAdd,
	"sub":      engine.ValueSub,
	"mul":      engine.ValueMul,
	"div":      engine.ValueDiv,
	"divz":     engine.ValueDivZ,
	"mod":      engine.ValueMod,
	"count":    engine.ValueCount,
}

// splitModeConst splits a "mode#constant" modifier argument.
func splitModeConst(arg string) (mode, constArg string, ok bool) {
	idx := strings.Index(arg, "#")
	if idx <= 0 || idx == len(arg)-1 {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}

var labelModeNames = map[string]engine.LabelMode{
	"nop":          engine.LabelNOP,
	"selected":     engine.LabelSelected,
	"first":        engine.LabelFirst,
	"min":          engine.LabelMin,
	"max":          engine.LabelMax,
	"and":          engine.LabelAnd,
	"or":           engine.LabelOr,
	"xor":          engine.LabelXor,
	"difference":   engine.LabelDifference,
	"lightest":     engine.LabelLightest,
	"heaviest":     engine.LabelHeaviest,
	"invert":       engine.LabelInvert,
	"shift-left":   engine.LabelShiftLeft,
	"shift-right":  engine.LabelShiftRight,
	"rotate-left":  engine.LabelRotateLeft,
	"rotate-right": engine.LabelRotateRight,
}

// parseValueModifier implements "value=<mode-or-constant>".
// A "#<n>" suffix on a mode name supplies the fold's constant operand
// ("value=min#5" is min over the active set and 5).
func (b *Builder) parseValueModifier(arg string, k int) {
	cur := b.ensureCurrent(k)
	if mode, constArg, ok := splitModeConst(arg); ok {
		if vm, known := valueModeNames[mode]; known {
			n, err := strconv.ParseUint(constArg, 10, 32)
			if err != nil {
				b.errs.Add(engine.ParseError, "value=%s: malformed constant", arg)
				return
			}
			cur.Modify.ValueSelect = vm
			cur.Modify.ValueConst = engine.Value(n)
			cur.Modify.HasValueConst = true
			return
		}
	}
	if mode, ok := valueModeNames[arg]; ok {
		cur.Modify.ValueSelect = mode
		return
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		b.errs.Add(engine.ParseError, "value=%s: not a recognized mode or a 32-bit constant", arg)
		return
	}
	cur.Modify.ValueSelect = engine.ValueSet
	cur.Modify.ValueConst = engine.Value(n)
	cur.Modify.HasValueConst = true
}

// parseLabelModifier implements "label=<mode-or-constant>". As with
// value=, a "#<n>" suffix supplies the constant operand: the
// shift/rotate amounts and the optional extra operand of the bitwise folds
// ("label=shift-left#2", "label=or#255").
func (b *Builder) parseLabelModifier(arg string, k int) {
	cur := b.ensureCurrent(k)
	if mode, constArg, ok := splitModeConst(arg); ok {
		if lm, known := labelModeNames[mode]; known {
			n, err := strconv.ParseUint(constArg, 10, 64)
			if err != nil {
				b.errs.Add(engine.ParseError, "label=%s: malformed constant", arg)
				return
			}
			cur.Modify.LabelSelect = lm
			cur.Modify.LabelConst = engine.Label(n)
			cur.Modify.HasLabelConst = true
			return
		}
	}
	if mode, ok := labelModeNames[arg]; ok {
		cur.Modify.LabelSelect = mode
		return
	}
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		b.errs.Add(engine.ParseError, "label=%s: not a recognized mode or a 64-bit constant", arg)
		return
	}
	cur.Modify.LabelSelect = engine.LabelSet
	cur.Modify.LabelConst = engine.Label(n)
	cur.Modify.HasLabelConst = true
}
