// Package translate implements the translator: it walks a compiled
// function's byte string in program-counter order, maintains an abstract
// compile-time operand stack, switches basic blocks as the control-flow
// map demands, and emits backend IR for every opcode, including the
// inlined numeric fast paths for sub1, add1, negate and consp.
package translate

import (
	"fmt"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/cfg"
	"github.com/mna/lispjit/rtb"
	"github.com/mna/lispjit/symtab"
)

// ErrUnsupportedOpcode reports a recognized-but-refused bytecode.
type ErrUnsupportedOpcode struct{ Op bytecode.Opcode }

func (e *ErrUnsupportedOpcode) Error() string {
	return fmt.Sprintf("translate: unsupported opcode %s", e.Op)
}

// ErrInternal reports an invariant violation in the translator itself:
// stack over/underflow, a malformed fallthrough pop, or similar conditions
// that mean the input byte string or the translator itself is broken, not
// that the input Lisp program is invalid.
type ErrInternal struct{ Msg string }

func (e *ErrInternal) Error() string { return "translate: internal error: " + e.Msg }

// state is the per-compilation scratch the translator threads through
// opcode handlers; nothing here outlives one call to Translate.
type state struct {
	binding *rtb.Binding
	symbols *symtab.Table
	ctx     *backend.Context

	fn    *backend.Function
	code  []byte
	cmap  *cfg.BlockMap
	blocks []*backend.Block

	stack      []*backend.Local // pre-allocated stack_depth locals
	sp         int
	curBlock   *backend.Block
	curIdx     int
	needsPop   []bool

	nilLocal *backend.Local
	tLocal   *backend.Local

	// counter for uniquely-named constant materialization locals
	constCounter int
}

// Translate compiles fn into a backend.Function. The returned function's
// Impl is nil; its Blocks hold the emitted IR and are interpreted each
// time it is called.
func Translate(ctx *backend.Context, binding *rtb.Binding, symbols *symtab.Table, fn *bytecode.CompiledFunction) (*backend.Function, error) {
	arity, err := bytecode.DecodeArity(fn.ArgTemplate)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	cmap, err := cfg.Build(fn.ByteString)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}

	params := make([]*backend.Type, arity.Max)
	for i := range params {
		params[i] = binding.LispObj
	}
	mangled, err := MangleName(fn.Name)
	if err != nil {
		return nil, err
	}
	bfn := ctx.NewFunction(mangled, binding.LispObj, params, backend.Exported)

	st := &state{
		binding: binding,
		symbols: symbols,
		ctx:     ctx,
		fn:      bfn,
		code:    fn.ByteString,
		cmap:    cmap,
		needsPop: make([]bool, cmap.NumBlocks()),
	}

	prologue := ctx.NewBlock(bfn, "prologue")
	st.blocks = make([]*backend.Block, cmap.NumBlocks())
	for i := range st.blocks {
		st.blocks[i] = ctx.NewBlock(bfn, fmt.Sprintf("bb%d", i))
	}

	st.stack = make([]*backend.Local, fn.StackDepth)
	for i := range st.stack {
		st.stack[i] = ctx.NewLocal(bfn, binding.LispObj, fmt.Sprintf("local_%d", i))
	}

	st.nilLocal = ctx.NewLocal(bfn, binding.LispObj, "nil_const")
	ctx.EmitAssign(prologue, st.nilLocal, backend.LitRV(backend.IntVal(binding.LispObj, 0)))
	st.tLocal = ctx.NewLocal(bfn, binding.LispObj, "t_const")
	ctx.EmitAssign(prologue, st.tLocal, backend.LitRV(backend.IntVal(binding.LispObj, 1)))

	for i := 0; i < arity.Max; i++ {
		ctx.EmitAssign(prologue, st.stack[i], bfn.Param(i).RV())
	}
	st.sp = arity.Max
	ctx.EndWithJump(prologue, st.blocks[cmap.BlockOf(0)])

	st.curIdx = -1
	if err := st.run(fn.Constants); err != nil {
		return nil, err
	}
	return bfn, nil
}

// MangleName renders the C-level symbol for a Lisp function name:
// Fnative_comp_<sym>, with '-' and '+' replaced by '_'. A name whose
// mangled form exceeds 256 bytes is rejected, matching the one hard limit
// placed on this scheme (collisions from the substitution are a known,
// unresolved limitation, not an error).
func MangleName(sym string) (string, error) {
	const prefix = "Fnative_comp_"
	name := []byte(prefix + sym)
	for i := range name {
		if name[i] == '-' || name[i] == '+' {
			name[i] = '_'
		}
	}
	if len(name) > 256 {
		return "", &ErrInvalidInput{Msg: fmt.Sprintf("mangled name for %q exceeds 256 bytes", sym)}
	}
	return string(name), nil
}

// ErrInvalidInput reports a user-facing input validation failure. In this
// package it is raised only by MangleName, for a function name too long to
// mangle.
type ErrInvalidInput struct{ Msg string }

func (e *ErrInvalidInput) Error() string { return "translate: invalid input: " + e.Msg }

func (st *state) push(v backend.RValue) error {
	if st.sp >= len(st.stack) {
		return &ErrInternal{Msg: "operand stack overflow"}
	}
	st.ctx.EmitAssign(st.curBlock, st.stack[st.sp], v)
	st.sp++
	return nil
}

func (st *state) pop() (backend.RValue, error) {
	if st.sp <= 0 {
		return backend.RValue{}, &ErrInternal{Msg: "operand stack underflow"}
	}
	st.sp--
	return st.stack[st.sp].RV(), nil
}

func (st *state) peek(n int) (backend.RValue, error) {
	idx := st.sp - 1 - n
	if idx < 0 {
		return backend.RValue{}, &ErrInternal{Msg: "operand stack underflow on peek"}
	}
	return st.stack[idx].RV(), nil
}

func (st *state) newLocal(name string) *backend.Local {
	return st.ctx.NewLocal(st.fn, st.binding.LispObj, name)
}

func (st *state) switchTo(idx int) error {
	if idx == st.curIdx {
		return nil
	}
	if st.curBlock != nil && !st.curBlock.Terminated() {
		st.ctx.EndWithJump(st.curBlock, st.blocks[idx])
	}
	st.curIdx = idx
	st.curBlock = st.blocks[idx]
	if st.needsPop[idx] {
		st.needsPop[idx] = false
		if _, err := st.pop(); err != nil {
			return err
		}
	}
	return nil
}

func (st *state) run(constants []bytecode.LispValue) error {
	pc := 0
	code := st.code
	for pc < len(code) {
		idx := st.cmap.BlockOf(pc)
		if err := st.switchTo(idx); err != nil {
			return err
		}

		op := bytecode.Opcode(code[pc])
		if bytecode.Unsupported(op) {
			return &ErrUnsupportedOpcode{Op: op}
		}

		size, err := st.emit(op, code, pc, constants)
		if err != nil {
			return err
		}
		pc += size
	}
	return nil
}
