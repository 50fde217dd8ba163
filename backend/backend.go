// Package backend is a stand-in for the native code-generation collaborator
// the translator emits IR into. The real compiler targets a backend that
// lowers typed IR to object code; no such library appears anywhere in the
// reference corpus this module was built from (see DESIGN.md), so this
// package plays that role with a context that records typed functions,
// blocks and instructions, then interprets them directly when a compiled
// function is invoked.
//
// The shape of the API (one method per concern: types, functions, blocks,
// locals, binary/unary/comparison ops, casts, calls, terminators) mirrors
// the call shape of a real JIT context: every emitting method takes the
// block it appends to and, where the instruction produces a value, the
// Local that receives it; later instructions reference the result through
// that Local.
package backend

import "fmt"

// Kind identifies the broad category of a backend scalar type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindBool
	KindPointer
)

// Type is a backend scalar type. The translator never constructs Types
// directly; it asks a Context for the ones it needs.
type Type struct {
	name   string
	kind   Kind
	bits   int
	signed bool
	elem   *Type
}

func (t *Type) String() string { return t.name }
func (t *Type) Kind() Kind     { return t.kind }
func (t *Type) Bits() int      { return t.bits }
func (t *Type) Signed() bool   { return t.signed }
func (t *Type) Elem() *Type    { return t.elem }

// Value is a single backend run-time cell: a fixed-width bit pattern tagged
// with the Type it was last written as. Reinterpreting a Value as a
// different Type (Context.EmitCast) reuses the same bits, the same
// width-polymorphic trick a union does in C.
type Value struct {
	Bits uint64
	Typ  *Type
}

func (v Value) Int() int64   { return int64(v.Bits) }
func (v Value) UInt() uint64 { return v.Bits }
func (v Value) Bool() bool   { return v.Bits != 0 }

func IntVal(t *Type, n int64) Value   { return Value{Bits: uint64(n), Typ: t} }
func UintVal(t *Type, n uint64) Value { return Value{Bits: n, Typ: t} }
func BoolVal(t *Type, b bool) Value {
	if b {
		return Value{Bits: 1, Typ: t}
	}
	return Value{Bits: 0, Typ: t}
}

// BinOp identifies a binary arithmetic/bitwise operation.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Quo
	Rem
	And
	Or
	Xor
	Shl
	Shr
)

// UnOp identifies a unary operation.
type UnOp uint8

const (
	Neg UnOp = iota
	Not
	BitNot
)

// CmpOp identifies a comparison operation; comparisons always produce a
// bool-typed Value.
type CmpOp uint8

const (
	CmpEQ CmpOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// FnKind distinguishes a function the translator itself builds the body of
// (Exported) from one it only declares and calls into (Imported).
type FnKind uint8

const (
	Exported FnKind = iota
	Imported
)

// Function is a declared backend function: a name, a signature, and either
// an Impl (for Imported functions the reference context can execute
// directly, standing in for the runtime ABI) or a sequence of Blocks built
// by the translator (for Exported functions).
type Function struct {
	Name   string
	Ret    *Type
	Params []*Type
	Kind   FnKind

	locals []*Type // slot -> type; slots [0,len(Params)) are parameters
	blocks []*Block

	// Impl, when non-nil, is invoked instead of interpreting Blocks. It
	// models a runtime helper the translator calls into but never defines.
	Impl func(ctx *Context, args []Value) (Value, error)
}

// Param returns a handle to the i'th parameter, usable as an RValue.
func (fn *Function) Param(i int) *Local {
	return &Local{fn: fn, slot: i, typ: fn.locals[i]}
}

// Block is a single basic block: a straight-line instruction sequence ended
// by exactly one terminator (EndWithJump, EndWithConditional or
// EndWithReturn).
type Block struct {
	fn         *Function
	Name       string
	instrs     []func(f *frame)
	terminated bool
	term       func(f *frame) (next *Block, ret Value, isReturn bool)
}

func (b *Block) append(ins func(f *frame)) {
	if b.terminated {
		panic(fmt.Sprintf("backend: block %s already terminated", b.Name))
	}
	b.instrs = append(b.instrs, ins)
}

// Terminated reports whether a terminator has already been emitted for b.
func (b *Block) Terminated() bool { return b.terminated }

// Function returns the function b belongs to, so callers holding only a
// Block can still allocate new locals on its parent function.
func (b *Block) Function() *Function { return b.fn }

// Local is a handle to a function-local slot (parameter or Context.NewLocal
// result), readable and writable only while that function's frame is live.
type Local struct {
	fn   *Function
	slot int
	typ  *Type
}

func (l *Local) Type() *Type { return l.typ }

// RV returns l as an RValue usable as an operand.
func (l *Local) RV() RValue { return RValue{local: l} }

// Global is a handle to a Context-scoped storage cell that outlives any
// single call — used both for the shared variadic-call scratch area and
// for host-owned globals (e.g. buffer position) that compiled code reads
// directly.
type Global struct {
	cell *Value
	typ  *Type
}

func (g *Global) Type() *Type { return g.typ }
func (g *Global) RV() RValue  { return RValue{global: g} }

// RValue is an operand: a compile-time literal, a Local, or a Global.
type RValue struct {
	local  *Local
	global *Global
	lit    Value
	isLit  bool
}

// LitRV wraps a compile-time-known Value as an RValue.
func LitRV(v Value) RValue { return RValue{lit: v, isLit: true} }

func (r RValue) eval(f *frame) Value {
	switch {
	case r.isLit:
		return r.lit
	case r.global != nil:
		return *r.global.cell
	default:
		return f.get(r.local)
	}
}

// Type reports the static type of the operand.
func (r RValue) Type() *Type {
	switch {
	case r.isLit:
		return r.lit.Typ
	case r.global != nil:
		return r.global.typ
	default:
		return r.local.typ
	}
}

type frame struct {
	locals []Value
	err    error
}

func (f *frame) get(l *Local) Value    { return f.locals[l.slot] }
func (f *frame) set(l *Local, v Value) { f.locals[l.slot] = v }
func (f *frame) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// MaxScratchArgs bounds the shared variadic-call scratch area, mirroring
// the runtime's fixed-size argument staging buffer.
const MaxScratchArgs = 16

// Context owns every Type, Function and the shared scratch area for a
// single compilation session. It is not safe for concurrent use; callers
// serialize access (see the loader package).
type Context struct {
	scratch [MaxScratchArgs]Value
}

// NewContext returns a fresh, empty backend context.
func NewContext() *Context { return &Context{} }

func (c *Context) NewIntType(name string, bits int, signed bool) *Type {
	return &Type{name: name, kind: KindInt, bits: bits, signed: signed}
}

func (c *Context) NewBoolType(name string) *Type {
	return &Type{name: name, kind: KindBool, bits: 1}
}

func (c *Context) NewPointerType(name string, elem *Type) *Type {
	return &Type{name: name, kind: KindPointer, bits: 64, elem: elem}
}

func (c *Context) VoidType() *Type { return &Type{name: "void", kind: KindVoid} }

// NewFunction declares a function signature. For Imported functions the
// caller should set the returned Function's Impl field before any call is
// emitted against it.
func (c *Context) NewFunction(name string, ret *Type, params []*Type, kind FnKind) *Function {
	locals := make([]*Type, len(params))
	copy(locals, params)
	return &Function{Name: name, Ret: ret, Params: params, Kind: kind, locals: locals}
}

// NewBlock appends a new, empty, unterminated block to fn.
func (c *Context) NewBlock(fn *Function, name string) *Block {
	b := &Block{fn: fn, Name: name}
	fn.blocks = append(fn.blocks, b)
	return b
}

// NewLocal allocates a fresh local slot of the given type in fn.
func (c *Context) NewLocal(fn *Function, typ *Type, name string) *Local {
	slot := len(fn.locals)
	fn.locals = append(fn.locals, typ)
	return &Local{fn: fn, slot: slot, typ: typ}
}

// ScratchSlot returns a handle to slot i of the shared scratch area.
func (c *Context) ScratchSlot(i int, typ *Type) *Global {
	if i < 0 || i >= MaxScratchArgs {
		panic("backend: scratch slot out of range")
	}
	return &Global{cell: &c.scratch[i], typ: typ}
}

// ScratchValue reads slot i of the shared scratch area directly, bypassing
// the IR evaluator. An Imported function's Impl receives only the (nargs,
// args-pointer) pair the §4.5 calling convention passes on the wire; it
// reads the actual staged operands back out through this method.
func (c *Context) ScratchValue(i int) Value {
	if i < 0 || i >= MaxScratchArgs {
		panic("backend: scratch slot out of range")
	}
	return c.scratch[i]
}

// NewHostGlobal declares a process-global cell owned by the host runtime
// rather than by compiled code — the buffer position globals (PT, ZV,
// BEGV) the translator reads for the point/point-max/point-min opcodes are
// this shape: read-only to emitted IR, updated by the host between calls.
func (c *Context) NewHostGlobal(typ *Type) *Global {
	return &Global{cell: &Value{Typ: typ}, typ: typ}
}

// SetGlobal updates g's cell directly, outside any emitted IR. Used by the
// host to publish the current value of a NewHostGlobal before invoking
// compiled code.
func (c *Context) SetGlobal(g *Global, v Value) { *g.cell = v }

func (c *Context) EmitAssign(b *Block, dst *Local, src RValue) {
	b.append(func(f *frame) { f.set(dst, Value{Bits: src.eval(f).Bits, Typ: dst.typ}) })
}

func (c *Context) EmitStoreGlobal(b *Block, dst *Global, src RValue) {
	b.append(func(f *frame) { *dst.cell = Value{Bits: src.eval(f).Bits, Typ: dst.typ} })
}

func (c *Context) EmitBinOp(b *Block, dst *Local, op BinOp, lhs, rhs RValue) {
	b.append(func(f *frame) {
		l, r := lhs.eval(f), rhs.eval(f)
		f.set(dst, Value{Bits: applyBin(op, l, r, dst.typ), Typ: dst.typ})
	})
}

func (c *Context) EmitUnOp(b *Block, dst *Local, op UnOp, src RValue) {
	b.append(func(f *frame) {
		v := src.eval(f)
		f.set(dst, Value{Bits: applyUn(op, v, dst.typ), Typ: dst.typ})
	})
}

func (c *Context) EmitCmp(b *Block, dst *Local, op CmpOp, lhs, rhs RValue) {
	b.append(func(f *frame) {
		l, r := lhs.eval(f), rhs.eval(f)
		f.set(dst, BoolVal(dst.typ, applyCmp(op, l, r)))
	})
}

// EmitCast reinterprets src's bit pattern as dst's type, the cast_union
// trick: no numeric conversion happens, only a type relabeling.
func (c *Context) EmitCast(b *Block, dst *Local, src RValue) {
	b.append(func(f *frame) {
		v := src.eval(f)
		f.set(dst, Value{Bits: v.Bits, Typ: dst.typ})
	})
}

// EmitCall emits a call to fn with the given arguments; if dst is non-nil
// the result is stored there, otherwise it is discarded.
func (c *Context) EmitCall(b *Block, dst *Local, fn *Function, args []RValue) {
	b.append(func(f *frame) {
		argv := make([]Value, len(args))
		for i, a := range args {
			argv[i] = a.eval(f)
		}
		res, err := c.callFunction(fn, argv)
		if err != nil {
			f.fail(err)
			return
		}
		if dst != nil {
			f.set(dst, Value{Bits: res.Bits, Typ: dst.typ})
		}
	})
}

func (c *Context) EndWithJump(b *Block, target *Block) {
	b.terminated = true
	b.term = func(f *frame) (*Block, Value, bool) { return target, Value{}, false }
}

func (c *Context) EndWithConditional(b *Block, cond RValue, thenB, elseB *Block) {
	b.terminated = true
	b.term = func(f *frame) (*Block, Value, bool) {
		if cond.eval(f).Bool() {
			return thenB, Value{}, false
		}
		return elseB, Value{}, false
	}
}

func (c *Context) EndWithReturn(b *Block, v RValue) {
	b.terminated = true
	b.term = func(f *frame) (*Block, Value, bool) { return nil, v.eval(f), true }
}

// Call invokes fn with args, interpreting its Blocks (or its Impl, if it
// is an Imported function).
func (c *Context) Call(fn *Function, args ...Value) (Value, error) {
	return c.callFunction(fn, args)
}

func (c *Context) callFunction(fn *Function, args []Value) (Value, error) {
	if fn.Impl != nil {
		return fn.Impl(c, args)
	}
	if len(fn.blocks) == 0 {
		return Value{}, fmt.Errorf("backend: function %q has no body", fn.Name)
	}
	fr := &frame{locals: make([]Value, len(fn.locals))}
	copy(fr.locals, args)

	cur := fn.blocks[0]
	for {
		for _, ins := range cur.instrs {
			ins(fr)
			if fr.err != nil {
				return Value{}, fr.err
			}
		}
		if cur.term == nil {
			return Value{}, fmt.Errorf("backend: block %q of %q is not terminated", cur.Name, fn.Name)
		}
		next, ret, isReturn := cur.term(fr)
		if isReturn {
			return ret, nil
		}
		cur = next
	}
}

func applyBin(op BinOp, l, r Value, typ *Type) uint64 {
	switch op {
	case Add:
		return uint64(l.Int() + r.Int())
	case Sub:
		return uint64(l.Int() - r.Int())
	case Mul:
		return uint64(l.Int() * r.Int())
	case Quo:
		return uint64(l.Int() / r.Int())
	case Rem:
		return uint64(l.Int() % r.Int())
	case And:
		return l.UInt() & r.UInt()
	case Or:
		return l.UInt() | r.UInt()
	case Xor:
		return l.UInt() ^ r.UInt()
	case Shl:
		return l.UInt() << uint(r.UInt())
	case Shr:
		if typ != nil && typ.signed {
			return uint64(l.Int() >> uint(r.UInt()))
		}
		return l.UInt() >> uint(r.UInt())
	default:
		panic("backend: unknown binary op")
	}
}

func applyUn(op UnOp, v Value, typ *Type) uint64 {
	switch op {
	case Neg:
		return uint64(-v.Int())
	case Not:
		if v.Bool() {
			return 0
		}
		return 1
	case BitNot:
		return ^v.UInt()
	default:
		panic("backend: unknown unary op")
	}
}

func applyCmp(op CmpOp, l, r Value) bool {
	switch op {
	case CmpEQ:
		return l.Bits == r.Bits
	case CmpNE:
		return l.Bits != r.Bits
	case CmpLT:
		return l.Int() < r.Int()
	case CmpLE:
		return l.Int() <= r.Int()
	case CmpGT:
		return l.Int() > r.Int()
	case CmpGE:
		return l.Int() >= r.Int()
	default:
		panic("backend: unknown comparison op")
	}
}
