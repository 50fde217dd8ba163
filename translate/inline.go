package translate

import (
	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
)

func (st *state) newLongLocal(name string) *backend.Local {
	return st.ctx.NewLocal(st.fn, st.binding.LongLong, name)
}

func (st *state) newBoolLocal(name string) *backend.Local {
	return st.ctx.NewLocal(st.fn, st.binding.Bool, name)
}

// emitIncDec implements the sub1/add1 inline fast path: guard on the
// operand being a fixnum that will not overflow the fixnum range, inline
// the increment/decrement when the guard holds, otherwise fall back to
// the general runtime helper, and join the two paths before continuing.
func (st *state) emitIncDec(op bytecode.Opcode) error {
	v, err := st.pop()
	if err != nil {
		return err
	}

	isFix := st.newBoolLocal("is_fixnum")
	st.binding.EmitIsFixnum(st.curBlock, isFix, v)

	n := st.newLongLocal("n")
	st.binding.EmitXFixnum(st.curBlock, n, v)

	boundOK := st.newBoolLocal("bound_ok")
	var bound backend.Value
	var cmp backend.CmpOp
	if op == bytecode.Badd1 {
		bound, cmp = st.binding.MostPositiveFixnum, backend.CmpLT
	} else {
		bound, cmp = st.binding.MostNegativeFixnum, backend.CmpGT
	}
	st.ctx.EmitCmp(st.curBlock, boundOK, cmp, n.RV(), backend.LitRV(bound))

	canInline := st.newBoolLocal("can_inline")
	st.ctx.EmitBinOp(st.curBlock, canInline, backend.And, isFix.RV(), boundOK.RV())

	inlineB := st.ctx.NewBlock(st.fn, "inc_dec_inline")
	fallbackB := st.ctx.NewBlock(st.fn, "inc_dec_fallback")
	joinB := st.ctx.NewBlock(st.fn, "inc_dec_join")
	st.ctx.EndWithConditional(st.curBlock, canInline.RV(), inlineB, fallbackB)

	joined := st.newLocal("inc_dec_result")

	delta := int64(1)
	name := "Fadd1"
	if op == bytecode.Bsub1 {
		delta, name = -1, "Fsub1"
	}
	adjusted := st.newLongLocal("adjusted")
	st.ctx.EmitBinOp(inlineB, adjusted, backend.Add, n.RV(), backend.LitRV(backend.IntVal(st.binding.LongLong, delta)))
	tagged := st.newLocal("tagged")
	st.binding.EmitMakeFixnum(inlineB, tagged, adjusted.RV())
	st.ctx.EmitAssign(inlineB, joined, tagged.RV())
	st.ctx.EndWithJump(inlineB, joinB)

	fallbackRes := st.symbols.EmitCall(fallbackB, name, st.binding.LispObj, []*backend.Type{st.binding.LispObj}, []backend.RValue{v})
	st.ctx.EmitAssign(fallbackB, joined, fallbackRes.RV())
	st.ctx.EndWithJump(fallbackB, joinB)

	st.curBlock = joinB
	return st.push(joined.RV())
}

// emitNegate mirrors emitIncDec with a single overflow boundary to guard:
// negating MOST_NEGATIVE_FIXNUM does not fit back into a fixnum, so that
// case routes to the fallback.
func (st *state) emitNegate() error {
	v, err := st.pop()
	if err != nil {
		return err
	}

	isFix := st.newBoolLocal("is_fixnum")
	st.binding.EmitIsFixnum(st.curBlock, isFix, v)

	n := st.newLongLocal("n")
	st.binding.EmitXFixnum(st.curBlock, n, v)

	notMin := st.newBoolLocal("not_min")
	st.ctx.EmitCmp(st.curBlock, notMin, backend.CmpNE, n.RV(), backend.LitRV(st.binding.MostNegativeFixnum))

	canInline := st.newBoolLocal("can_inline")
	st.ctx.EmitBinOp(st.curBlock, canInline, backend.And, isFix.RV(), notMin.RV())

	inlineB := st.ctx.NewBlock(st.fn, "negate_inline")
	fallbackB := st.ctx.NewBlock(st.fn, "negate_fallback")
	joinB := st.ctx.NewBlock(st.fn, "negate_join")
	st.ctx.EndWithConditional(st.curBlock, canInline.RV(), inlineB, fallbackB)

	joined := st.newLocal("negate_result")

	negated := st.newLongLocal("negated")
	st.ctx.EmitUnOp(inlineB, negated, backend.Neg, n.RV())
	tagged := st.newLocal("tagged")
	st.binding.EmitMakeFixnum(inlineB, tagged, negated.RV())
	st.ctx.EmitAssign(inlineB, joined, tagged.RV())
	st.ctx.EndWithJump(inlineB, joinB)

	// The full runtime helper for negate is the variadic Fminus (comp.c's
	// EMIT_SCRATCH_CALL_N("Fminus", 1)), not a dedicated Fnegate.
	fallbackRes := st.emitVariadicCallArgs(fallbackB, "Fminus", []backend.RValue{v})
	st.ctx.EmitAssign(fallbackB, joined, fallbackRes)
	st.ctx.EndWithJump(fallbackB, joinB)

	st.curBlock = joinB
	return st.push(joined.RV())
}

// emitConsp inlines the cons-cell type test directly against the tag
// bits, without a runtime call: the only opcode in this system that has
// no fallback path at all, since the test is unconditionally cheap.
func (st *state) emitConsp() error {
	v, err := st.pop()
	if err != nil {
		return err
	}
	isCons := st.newBoolLocal("is_cons")
	st.binding.EmitIsCons(st.curBlock, isCons, v)

	result := st.newLocal("consp_result")
	thenB := st.ctx.NewBlock(st.fn, "consp_true")
	elseB := st.ctx.NewBlock(st.fn, "consp_false")
	joinB := st.ctx.NewBlock(st.fn, "consp_join")
	st.ctx.EndWithConditional(st.curBlock, isCons.RV(), thenB, elseB)

	st.ctx.EmitAssign(thenB, result, st.tLocal.RV())
	st.ctx.EndWithJump(thenB, joinB)
	st.ctx.EmitAssign(elseB, result, st.nilLocal.RV())
	st.ctx.EndWithJump(elseB, joinB)

	st.curBlock = joinB
	return st.push(result.RV())
}
