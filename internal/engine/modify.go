package engine

import "math/bits"

// ValueMode is the output-value modify recipe.
type ValueMode int

const (
	ValueNOP ValueMode = iota
	ValueSet
	ValueSelected
	ValueFirst
	ValueMin
	ValueMax
	ValueAdd
	ValueSub
	ValueMul
	ValueDiv
	ValueDivZ
	ValueMod
	ValueCount
)

// LabelMode is the output-label modify recipe.
type LabelMode int

const (
	LabelNOP LabelMode = iota
	LabelSet
	LabelSelected
	LabelFirst
	LabelMin
	LabelMax
	LabelAnd
	LabelOr
	LabelXor
	LabelDifference
	LabelLightest
	LabelHeaviest
	LabelInvert
	LabelShiftLeft
	LabelShiftRight
	LabelRotateLeft
	LabelRotateRight
)

// Modify holds one node's value/label recipe and their constant operands.
// HasValueConst/HasLabelConst mark a constant the command explicitly
// supplied: fold modes (Min/Max, the arithmetic folds, the bitwise folds)
// include the constant operand only when set, so "value=min" over two
// inputs is the min of those inputs, not min(inputs, 0). Set/shift/rotate
// modes read the constant unconditionally.
type Modify struct {
	ValueSelect   ValueMode
	LabelSelect   LabelMode
	ValueConst    Value
	LabelConst    Label
	HasValueConst bool
	HasLabelConst bool
}

// Compute derives the output (value, label) for a merge step's active set.
// When ValueSelect or LabelSelect is *Selected, the value (resp.
// label) is taken from whichever input the OTHER select picked as its
// extremum — so the two folds run in an order that makes that input known
// before it is needed.
func (m Modify) Compute(active *ActiveSet) (Value, Label, error) {
	var (
		outValue                     Value
		outLabel                     Label
		valueExtremal, labelExtremal = -1, -1
		err                          error
	)
	if m.ValueSelect != ValueSelected {
		outValue, valueExtremal, err = foldValue(active, m.ValueSelect, m.ValueConst, m.HasValueConst)
		if err != nil {
			return 0, 0, err
		}
	}
	if m.LabelSelect != LabelSelected {
		outLabel, labelExtremal = foldLabel(active, m.LabelSelect, m.LabelConst, m.HasLabelConst, valueExtremal)
	}
	if m.ValueSelect == ValueSelected {
		outValue = valueAt(active, labelExtremal, m.ValueConst)
	}
	if m.LabelSelect == LabelSelected {
		outLabel = labelAt(active, valueExtremal, m.LabelConst)
	}
	return outValue, outLabel, nil
}

func valueAt(active *ActiveSet, idx int, fallback Value) Value {
	if idx > 0 && active.Present(idx) {
		return active.ValueAt(idx)
	}
	return fallback
}

func labelAt(active *ActiveSet, idx int, fallback Label) Label {
	if idx > 0 && active.Present(idx) {
		return active.LabelAt(idx)
	}
	return fallback
}

// foldValue computes the output value and, where the mode identifies a
// single extremal/selected input (First, Min, Max), its index — so that a
// coupled label=selected recipe can reuse it.
func foldValue(active *ActiveSet, mode ValueMode, constant Value, hasConst bool) (Value, int, error) {
	indices := active.PresentIndices()
	switch mode {
	case ValueNOP, ValueFirst:
		if len(indices) > 0 {
			return active.ValueAt(indices[0]), indices[0], nil
		}
		return 0, -1, nil
	case ValueSet:
		return constant, -1, nil
	case ValueCount:
		return Value(len(indices)), -1, nil
	case ValueMin, ValueMax:
		best := constant
		bestIdx := -1
		for _, i := range indices {
			v := active.ValueAt(i)
			if bestIdx == -1 {
				best, bestIdx = v, i
				continue
			}
			if (mode == ValueMin && v < best) || (mode == ValueMax && v > best) {
				best, bestIdx = v, i
			}
		}
		if bestIdx == -1 {
			return constant, -1, nil
		}
		// An explicitly supplied constant also participates in the
		// extremum ("active set ∪ {constant}"), but owns no input index.
		if hasConst && mode == ValueMin && constant < best {
			return constant, -1, nil
		}
		if hasConst && mode == ValueMax && constant > best {
			return constant, -1, nil
		}
		return best, bestIdx, nil
	case ValueAdd, ValueSub, ValueMul, ValueDiv, ValueDivZ, ValueMod:
		return foldValueArith(active, mode, constant, hasConst, indices)
	default:
		return 0, -1, nil
	}
}

func foldValueArith(active *ActiveSet, mode ValueMode, constant Value, hasConst bool, indices []int) (Value, int, error) {
	var acc Value
	seedIdx := -1
	rest := indices
	if len(indices) > 0 {
		seedIdx = indices[0]
		acc = active.ValueAt(seedIdx)
		rest = indices[1:]
	} else {
		return constant, -1, nil
	}
	apply := func(v Value) error {
		var err error
		acc, err = applyValueOp(mode, acc, v)
		return err
	}
	for _, i := range rest {
		if err := apply(active.ValueAt(i)); err != nil {
			return 0, -1, err
		}
	}
	if hasConst {
		if err := apply(constant); err != nil {
			return 0, -1, err
		}
	}
	return acc, seedIdx, nil
}

func applyValueOp(mode ValueMode, acc, v Value) (Value, error) {
	switch mode {
	case ValueAdd:
		sum := uint64(acc) + uint64(v)
		if sum > uint64(^Value(0)) {
			return ^Value(0), nil
		}
		return Value(sum), nil
	case ValueSub:
		if v > acc {
			return 0, nil
		}
		return acc - v, nil
	case ValueMul:
		prod := uint64(acc) * uint64(v)
		if prod > uint64(^Value(0)) {
			return ^Value(0), nil
		}
		return Value(prod), nil
	case ValueDiv:
		if v == 0 {
			return 0, newError(InvalidModify, "division by zero")
		}
		return acc / v, nil
	case ValueDivZ:
		if v == 0 {
			return 1, nil
		}
		q := acc / v
		if q == 0 {
			return 1, nil
		}
		return q, nil
	case ValueMod:
		if v == 0 {
			return 0, newError(InvalidModify, "modulo by zero")
		}
		return acc % v, nil
	default:
		return acc, nil
	}
}

// foldLabel mirrors foldValue for labels. valueExtremal, when >=0, is the
// input index the (already-computed) value fold picked as its extremum;
// LabelMin/LabelMax track it directly rather than recomputing their own
// extremum over label magnitudes. When the value recipe didn't produce
// one, label falls back to computing its own numeric min/max.
func foldLabel(active *ActiveSet, mode LabelMode, constant Label, hasConst bool, valueExtremal int) (Label, int) {
	indices := active.PresentIndices()
	switch mode {
	case LabelNOP, LabelFirst:
		if len(indices) > 0 {
			return active.LabelAt(indices[0]), indices[0]
		}
		return 0, -1
	case LabelSet:
		return constant, -1
	case LabelMin, LabelMax:
		if valueExtremal > 0 && active.Present(valueExtremal) {
			return active.LabelAt(valueExtremal), valueExtremal
		}
		best := constant
		bestIdx := -1
		for _, i := range indices {
			l := active.LabelAt(i)
			if bestIdx == -1 || (mode == LabelMin && l < best) || (mode == LabelMax && l > best) {
				best, bestIdx = l, i
			}
		}
		return best, bestIdx
	case LabelAnd, LabelOr, LabelXor:
		return foldLabelBitwise(active, mode, constant, hasConst, indices), -1
	case LabelDifference:
		if len(indices) == 0 || indices[0] != 1 {
			return 0, -1
		}
		diff := active.LabelAt(1)
		for _, i := range indices[1:] {
			diff &^= active.LabelAt(i)
		}
		return diff, 1
	case LabelLightest, LabelHeaviest:
		best := constant
		bestIdx := -1
		bestPop := bits.OnesCount64(uint64(constant))
		for _, i := range indices {
			l := active.LabelAt(i)
			pop := bits.OnesCount64(uint64(l))
			if bestIdx == -1 || (mode == LabelLightest && pop < bestPop) || (mode == LabelHeaviest && pop > bestPop) {
				best, bestIdx, bestPop = l, i, pop
			}
		}
		return best, bestIdx
	case LabelInvert:
		base := constant
		if len(indices) > 0 {
			base = active.LabelAt(indices[0])
		}
		return ^base, -1
	case LabelShiftLeft, LabelShiftRight, LabelRotateLeft, LabelRotateRight:
		base := Label(0)
		if len(indices) > 0 {
			base = active.LabelAt(indices[0])
		}
		amount := uint(constant) % LabelWidth
		switch mode {
		case LabelShiftLeft:
			return base << amount, -1
		case LabelShiftRight:
			return base >> amount, -1
		case LabelRotateLeft:
			return Label(bits.RotateLeft64(uint64(base), int(amount))), -1
		case LabelRotateRight:
			return Label(bits.RotateLeft64(uint64(base), -int(amount))), -1
		}
	}
	return 0, -1
}

func foldLabelBitwise(active *ActiveSet, mode LabelMode, constant Label, hasConst bool, indices []int) Label {
	if len(indices) == 0 {
		if hasConst {
			return constant
		}
		return 0
	}
	acc := active.LabelAt(indices[0])
	apply := func(l Label) {
		switch mode {
		case LabelAnd:
			acc &= l
		case LabelOr:
			acc |= l
		case LabelXor:
			acc ^= l
		}
	}
	for _, i := range indices[1:] {
		apply(active.LabelAt(i))
	}
	if hasConst {
		apply(constant)
	}
	return acc
}
