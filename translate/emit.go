package translate

import (
	"fmt"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
)

// emit appends the IR for the opcode at pc to the current block (possibly
// terminating it) and returns the number of bytes the opcode and its
// operand occupy.
func (st *state) emit(op bytecode.Opcode, code []byte, pc int, constants []bytecode.LispValue) (int, error) {
	switch {
	case bytecode.IsAbsoluteBranch(op) || bytecode.IsRelativeBranch(op):
		return st.emitBranch(op, code, pc)

	case op >= bytecode.Bstack_ref0 && op <= bytecode.Bstack_ref7:
		n, size := decodeOperand(bytecode.Bstack_ref0, op, code, pc)
		v, err := st.peek(n)
		if err != nil {
			return 0, err
		}
		return size, st.push(v)

	case op == bytecode.Bdup:
		v, err := st.peek(0)
		if err != nil {
			return 0, err
		}
		return 1, st.push(v)

	case op == bytecode.Bdiscard:
		_, err := st.pop()
		return 1, err

	case op >= bytecode.Bvarref && op <= bytecode.Bvarref7:
		return st.emitVarref(op, code, pc, constants)
	case op >= bytecode.Bvarset && op <= bytecode.Bvarset7:
		return st.emitVarset(op, code, pc, constants)
	case op >= bytecode.Bvarbind && op <= bytecode.Bvarbind7:
		return st.emitVarbind(op, code, pc, constants)
	case op >= bytecode.Bunbind && op <= bytecode.Bunbind7:
		return st.emitUnbind(op, code, pc)
	case op >= bytecode.Bcall && op <= bytecode.Bcall7:
		return st.emitCall(op, code, pc)

	case op == bytecode.Bsub1 || op == bytecode.Badd1:
		return 1, st.emitIncDec(op)
	case op == bytecode.Bnegate:
		return 1, st.emitNegate()
	case op == bytecode.Bconsp:
		return 1, st.emitConsp()

	case op == bytecode.Bstack_set:
		return st.emitStackSet(code, pc)

	case op == bytecode.Breturn:
		v, err := st.pop()
		if err != nil {
			return 0, err
		}
		st.ctx.EndWithReturn(st.curBlock, v)
		return 1, nil

	case op >= bytecode.Bconstant:
		return 1, st.emitConstant(int(op-bytecode.Bconstant), constants)
	case op == bytecode.Bconstant2:
		n := int(code[pc+1]) | int(code[pc+2])<<8
		return 3, st.emitConstant(n, constants)

	default:
		if arity, ok := bytecode.ListConstruct(op); ok {
			return st.emitListConstruct(arity, code, pc)
		}
		if name, arity, ok := bytecode.VariadicCall(op); ok {
			return st.emitVariadicCallOp(name, arity, code, pc)
		}
		if code2, ok := bytecode.ArithCompare(op); ok {
			return st.emitArithCompare(code2)
		}
		if global, ok := bytecode.BufferGlobal(op); ok {
			return st.emitBufferPos(global)
		}
		if name, arity, pushResult, ok := bytecode.SimpleCall(op); ok {
			return 1, st.emitSimpleCall(name, arity, pushResult)
		}
		return 0, &ErrUnsupportedOpcode{Op: op}
	}
}

// emitStackSet implements stack_set <k>: pop TOS and, for k > 0, write it
// into the local at depth k (k == 0 acts as a plain discard). After pop's
// sp-- the new top of stack sits at st.stack[st.sp-1], so depth k targets
// st.stack[st.sp-k].
func (st *state) emitStackSet(code []byte, pc int) (int, error) {
	k := int(code[pc+1])
	v, err := st.pop()
	if err != nil {
		return 0, err
	}
	if k > 0 {
		idx := st.sp - k
		if idx < 0 || idx >= len(st.stack) {
			return 0, &ErrInternal{Msg: "stack_set depth out of range"}
		}
		st.ctx.EmitAssign(st.curBlock, st.stack[idx], v)
	}
	return 2, nil
}

// emitListConstruct implements list1..4 and listN: pop n elements and fold
// them right-to-left into Fcons(x, acc) starting from nil (comp.c's
// make_list label). n is the opcode's fixed arity, or -1 if it instead
// carries its own inline byte operand (listN).
func (st *state) emitListConstruct(n int, code []byte, pc int) (int, error) {
	size := 1
	if n < 0 {
		n = int(code[pc+1])
		size = 2
	}
	acc := st.nilLocal.RV()
	for i := 0; i < n; i++ {
		v, err := st.pop()
		if err != nil {
			return 0, err
		}
		res := st.symbols.EmitCall(st.curBlock, "Fcons", st.binding.LispObj,
			[]*backend.Type{st.binding.LispObj, st.binding.LispObj}, []backend.RValue{v, acc})
		acc = res.RV()
	}
	return size, st.push(acc)
}

// emitVariadicCallOp implements the §4.5 scratch-call aggregators:
// concat2..4/concatN, plus, diff, mult, min, max, quo, nconc and insert.
// arity is the opcode's fixed operand count, or -1 if it instead carries
// its own inline byte operand (concatN).
func (st *state) emitVariadicCallOp(name string, arity int, code []byte, pc int) (int, error) {
	n := arity
	size := 1
	if n < 0 {
		n = int(code[pc+1])
		size = 2
	}
	res, err := st.emitVariadicCall(name, n)
	if err != nil {
		return 0, err
	}
	return size, st.push(res)
}

// emitArithCompare implements eqlsign/gtr/lss/leq/geq: pop 2 operands and
// emit a direct 3-argument call to "arithcompare" (comp.c's
// EMIT_ARITHCOMPARE macro), the third argument identifying which
// comparison to perform.
func (st *state) emitArithCompare(code int) (int, error) {
	b, err := st.pop()
	if err != nil {
		return 0, err
	}
	a, err := st.pop()
	if err != nil {
		return 0, err
	}
	codeLit := backend.LitRV(backend.IntVal(st.binding.Int, int64(code)))
	res := st.symbols.EmitCall(st.curBlock, "arithcompare", st.binding.LispObj,
		[]*backend.Type{st.binding.LispObj, st.binding.LispObj, st.binding.Int},
		[]backend.RValue{a, b, codeLit})
	return 1, st.push(res.RV())
}

// emitBufferPos implements point/point_max/point_min: read the named host
// buffer global and call make_fixed_natnum on it (comp.c:1277-1315).
func (st *state) emitBufferPos(global string) (int, error) {
	var g *backend.Global
	switch global {
	case "PT":
		g = st.binding.PT
	case "ZV":
		g = st.binding.ZV
	case "BEGV":
		g = st.binding.BEGV
	default:
		return 0, &ErrInternal{Msg: "unknown buffer global " + global}
	}
	res := st.symbols.EmitCall(st.curBlock, "make_fixed_natnum", st.binding.LispObj,
		[]*backend.Type{st.binding.PtrDiff}, []backend.RValue{g.RV()})
	return 1, st.push(res.RV())
}

func decodeOperand(base, op bytecode.Opcode, code []byte, pc int) (n, size int) {
	switch int(op - base) {
	case 6:
		return int(code[pc+1]), 2
	case 7:
		return int(code[pc+1]) | int(code[pc+2])<<8, 3
	default:
		return int(op - base), 1
	}
}

func (st *state) emitBranch(op bytecode.Opcode, code []byte, pc int) (int, error) {
	var target, size int
	if bytecode.IsRelativeBranch(op) {
		off := int(int8(code[pc+1] - 128))
		size = 2
		target = pc + size + off
	} else {
		target = int(code[pc+1]) | int(code[pc+2])<<8
		size = 3
	}
	targetIdx := st.cmap.BlockOf(target)
	fallIdx := -1
	if pc+size < len(st.code) {
		fallIdx = st.cmap.BlockOf(pc + size)
	}

	if op == bytecode.Bgoto || op == bytecode.BRgoto {
		st.ctx.EndWithJump(st.curBlock, st.blocks[targetIdx])
		return size, nil
	}

	var cond backend.RValue
	var err error
	if bytecode.PopsWithoutConsuming(op) {
		cond, err = st.peek(0)
		if fallIdx < 0 {
			return 0, &ErrInternal{Msg: "conditional-pop branch has no fallthrough block"}
		}
		st.needsPop[fallIdx] = true
	} else {
		cond, err = st.pop()
	}
	if err != nil {
		return 0, err
	}

	isNil := st.newLocal("is_nil")
	st.ctx.EmitCmp(st.curBlock, isNil, backend.CmpEQ, cond, backend.LitRV(backend.IntVal(st.binding.LispObj, 0)))

	thenB, elseB := st.blocks[targetIdx], st.blocks[fallIdx]
	if !bytecode.IsNilBranch(op) {
		thenB, elseB = elseB, thenB
	}
	st.ctx.EndWithConditional(st.curBlock, isNil.RV(), thenB, elseB)
	return size, nil
}

func (st *state) emitVarref(op bytecode.Opcode, code []byte, pc int, constants []bytecode.LispValue) (int, error) {
	n, size := decodeOperand(bytecode.Bvarref, op, code, pc)
	name, err := st.constantRV(n, constants)
	if err != nil {
		return 0, err
	}
	res := st.symbols.EmitCall(st.curBlock, "Fsymbol_value", st.binding.LispObj, []*backend.Type{st.binding.LispObj}, []backend.RValue{name})
	return size, st.push(res.RV())
}

func (st *state) emitVarset(op bytecode.Opcode, code []byte, pc int, constants []bytecode.LispValue) (int, error) {
	n, size := decodeOperand(bytecode.Bvarset, op, code, pc)
	name, err := st.constantRV(n, constants)
	if err != nil {
		return 0, err
	}
	v, err := st.pop()
	if err != nil {
		return 0, err
	}
	st.symbols.EmitCall(st.curBlock, "Fset", st.binding.LispObj, []*backend.Type{st.binding.LispObj, st.binding.LispObj}, []backend.RValue{name, v})
	return size, nil
}

func (st *state) emitVarbind(op bytecode.Opcode, code []byte, pc int, constants []bytecode.LispValue) (int, error) {
	n, size := decodeOperand(bytecode.Bvarbind, op, code, pc)
	name, err := st.constantRV(n, constants)
	if err != nil {
		return 0, err
	}
	v, err := st.pop()
	if err != nil {
		return 0, err
	}
	st.symbols.EmitCall(st.curBlock, "helper_varbind", st.binding.LispObj, []*backend.Type{st.binding.LispObj, st.binding.LispObj}, []backend.RValue{name, v})
	return size, nil
}

func (st *state) emitUnbind(op bytecode.Opcode, code []byte, pc int) (int, error) {
	n, size := decodeOperand(bytecode.Bunbind, op, code, pc)
	st.symbols.EmitCall(st.curBlock, "helper_unbind_n", st.binding.LispObj,
		[]*backend.Type{st.binding.PtrDiff}, []backend.RValue{backend.LitRV(backend.IntVal(st.binding.PtrDiff, int64(n)))})
	return size, nil
}

// emitCall implements the call opcode family: nargs arguments plus the
// function itself are popped off the operand stack and Ffuncall is invoked
// on them through the §4.5 scratch-call convention.
func (st *state) emitCall(op bytecode.Opcode, code []byte, pc int) (int, error) {
	n, size := decodeOperand(bytecode.Bcall, op, code, pc)
	total := n + 1 // the function being called is also on the stack
	res, err := st.emitVariadicCall("Ffuncall", total)
	if err != nil {
		return 0, err
	}
	return size, st.push(res)
}

// emitVariadicCall implements the §4.5 scratch-call-area convention
// (comp.c's EMIT_SCRATCH_CALL_N macro): nargs operands are popped off the
// operand stack and passed to emitVariadicCallArgs against the current
// block. The call's result is returned, not pushed -- callers push it (or
// not) as their opcode's stack picture demands.
func (st *state) emitVariadicCall(name string, nargs int) (backend.RValue, error) {
	if nargs > backend.MaxScratchArgs {
		return backend.RValue{}, &ErrInternal{Msg: fmt.Sprintf("%s arity %d exceeds scratch area capacity", name, nargs)}
	}
	args := make([]backend.RValue, nargs)
	for i := nargs - 1; i >= 0; i-- {
		v, err := st.pop()
		if err != nil {
			return backend.RValue{}, err
		}
		args[i] = v
	}
	return st.emitVariadicCallArgs(st.curBlock, name, args), nil
}

// emitVariadicCallArgs stages args into the context's scratch area and
// emits a 2-argument (nargs, ptr) call to name in blk. The ptr operand is
// a null void* literal, not the scratch area's address; the callee reads
// its operands from the scratch slots (backend.Context.ScratchValue).
// Unlike
// emitVariadicCall it does not touch the operand stack, so callers that
// already hold their operands as plain RValues (e.g. negate's inline fast
// path, whose fallback block is not the current block) can use it
// directly.
func (st *state) emitVariadicCallArgs(blk *backend.Block, name string, args []backend.RValue) backend.RValue {
	for i, a := range args {
		slot := st.ctx.ScratchSlot(i, st.binding.LispObj)
		st.ctx.EmitStoreGlobal(blk, slot, a)
	}
	res := st.symbols.EmitCall(blk, name, st.binding.LispObj,
		[]*backend.Type{st.binding.PtrDiff, st.binding.VoidPtr},
		[]backend.RValue{backend.LitRV(backend.IntVal(st.binding.PtrDiff, int64(len(args)))), backend.LitRV(backend.IntVal(st.binding.VoidPtr, 0))})
	return res.RV()
}

func (st *state) emitSimpleCall(name string, arity int, pushResult bool) error {
	args := make([]backend.RValue, arity)
	for i := arity - 1; i >= 0; i-- {
		v, err := st.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	argTypes := make([]*backend.Type, arity)
	for i := range argTypes {
		argTypes[i] = st.binding.LispObj
	}
	res := st.symbols.EmitCall(st.curBlock, name, st.binding.LispObj, argTypes, args)
	if pushResult {
		return st.push(res.RV())
	}
	return nil
}

func (st *state) emitConstant(n int, constants []bytecode.LispValue) error {
	v, err := st.constantRV(n, constants)
	if err != nil {
		return err
	}
	return st.push(v)
}

// constantRV materializes constants[n] into a fresh local, named with a
// monotonic counter for uniqueness, the same way the byte compiler's own
// constant pool references are turned into IR locals. nil is special-cased
// to reuse the single nil local allocated in the prologue.
func (st *state) constantRV(n int, constants []bytecode.LispValue) (backend.RValue, error) {
	if n < 0 || n >= len(constants) {
		return backend.RValue{}, &ErrInternal{Msg: fmt.Sprintf("constant index %d out of range", n)}
	}
	v := constants[n]
	if v.Kind == bytecode.KindNil {
		return st.nilLocal.RV(), nil
	}
	bits, err := bytecode.ToLispObjBits(v, st.binding.Config())
	if err != nil {
		return backend.RValue{}, fmt.Errorf("translate: %w", err)
	}
	st.constCounter++
	local := st.newLocal(fmt.Sprintf("const_%d", st.constCounter))
	st.ctx.EmitAssign(st.curBlock, local, backend.LitRV(backend.IntVal(st.binding.LispObj, int64(bits))))
	return local.RV(), nil
}
