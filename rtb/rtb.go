// Package rtb builds the runtime-type binding: the catalogue of backend
// scalar types, the tagged-value representation (LispObj) and the
// width-polymorphic reinterpretation helper (CastUnion) that the translator
// needs before it can emit a single instruction. A Binding is created once
// per backend context and is immutable thereafter.
package rtb

import "github.com/mna/lispjit/backend"

// Config carries the handful of layout constants a real runtime would
// derive from its own headers (bit widths of the tag, which enumerator
// value identifies the fixnum type, and so on). They are passed in
// explicitly rather than hardcoded so a Binding can be built against a
// different runtime layout without touching the translator.
type Config struct {
	// ValBits is the number of bits available to a pointer's payload once
	// the GC type tag has been removed.
	ValBits int
	// GCTypeBits is the width of the garbage-collector type tag.
	GCTypeBits int
	// IntTypeBits is the width of the fixnum sub-tag within the GC type
	// tag (USE_LSB_TAG layout: the low IntTypeBits bits of a fixnum-typed
	// LispObj identify it as a fixnum).
	IntTypeBits int
	// LispInt0 is the numeric value of the primary fixnum type tag.
	LispInt0 int64
	// ConsTag is the numeric value of the cons-cell type tag.
	ConsTag int64
}

// DefaultConfig returns the layout used by the reference 64-bit backend:
// an 8-byte LispObj, 2-bit fixnum sub-tag, tag 2 for fixnums, tag 3 for
// cons cells.
func DefaultConfig() Config {
	return Config{
		ValBits:     61,
		GCTypeBits:  3,
		IntTypeBits: 2,
		LispInt0:    2,
		ConsTag:     3,
	}
}

// Binding is the immutable set of backend types and constants the
// translator consults throughout a single compilation.
type Binding struct {
	cfg Config
	ctx *backend.Context

	Void     *backend.Type
	Int      *backend.Type
	UInt     *backend.Type
	Long     *backend.Type
	LongLong *backend.Type
	Bool     *backend.Type
	VoidPtr  *backend.Type
	PtrDiff  *backend.Type

	// LispObj is the tagged-value type: in the reference backend it is a
	// single 64-bit integer type, so no union-of-as_ptr/as_num layout is
	// declared: the translator operates on LispObj values directly as
	// integers. EmitReinterpret (same bits, different static type) is
	// available for relabeling a value but has no caller in this module.
	LispObj *backend.Type

	// CastUnion is the width-polymorphic scratch type used to round-trip
	// a value through ll/u/i/b without a native reinterpret-cast
	// operator in the target IR.
	CastUnion *backend.Type

	MostPositiveFixnum backend.Value
	MostNegativeFixnum backend.Value
	IntTypeBitsConst   backend.Value
	LispInt0Const      backend.Value
	One                backend.Value

	// PT, ZV and BEGV are host-owned globals mirroring the buffer
	// position variables the point/point-max/point-min opcodes read; the
	// host updates them between calls, compiled code only ever reads
	// them (see translate's emitBufferPos).
	PT   *backend.Global
	ZV   *backend.Global
	BEGV *backend.Global
}

// Bind constructs the runtime-type binding against ctx. It is called
// exactly once per compilation session.
func Bind(ctx *backend.Context, cfg Config) *Binding {
	b := &Binding{cfg: cfg, ctx: ctx}

	b.Void = ctx.VoidType()
	b.Int = ctx.NewIntType("int", 32, true)
	b.UInt = ctx.NewIntType("unsigned int", 32, false)
	b.Long = ctx.NewIntType("long", 64, true)
	b.LongLong = ctx.NewIntType("long long", 64, true)
	b.Bool = ctx.NewBoolType("bool")
	b.VoidPtr = ctx.NewPointerType("void *", b.Void)
	b.PtrDiff = ctx.NewIntType("ptrdiff_t", 64, true)

	b.LispObj = ctx.NewIntType("Lisp_Object", 64, true)
	b.CastUnion = ctx.NewIntType("cast_union", 64, false)

	b.IntTypeBitsConst = backend.IntVal(b.LongLong, int64(cfg.IntTypeBits))
	b.LispInt0Const = backend.IntVal(b.LongLong, cfg.LispInt0)
	b.One = backend.IntVal(b.LongLong, 1)

	avail := uint(63 - cfg.IntTypeBits)
	mostPos := int64(1)<<avail - 1
	mostNeg := -(int64(1) << avail)
	b.MostPositiveFixnum = backend.IntVal(b.LongLong, mostPos)
	b.MostNegativeFixnum = backend.IntVal(b.LongLong, mostNeg)

	b.PT = ctx.NewHostGlobal(b.PtrDiff)
	b.ZV = ctx.NewHostGlobal(b.PtrDiff)
	b.BEGV = ctx.NewHostGlobal(b.PtrDiff)

	return b
}

// Context returns the backend context this binding was built against.
func (b *Binding) Context() *backend.Context { return b.ctx }

// Config returns the layout configuration this binding was built from.
func (b *Binding) Config() Config { return b.cfg }

// EmitReinterpret reinterprets src's bit pattern with dst's type, the Go
// rendition of the cast_union trick comp.c uses where the target IR has no
// native reinterpret-cast of scalars.
func (b *Binding) EmitReinterpret(blk *backend.Block, dst *backend.Local, src backend.RValue) {
	b.ctx.EmitCast(blk, dst, src)
}

// EmitIsFixnum emits IR computing whether v (a LispObj) is tagged as a
// fixnum, storing the bool result in dst.
func (b *Binding) EmitIsFixnum(blk *backend.Block, dst *backend.Local, v backend.RValue) {
	fn := blk.Function()
	mask := backend.IntVal(b.LongLong, (int64(1)<<uint(b.cfg.IntTypeBits))-1)
	masked := b.ctx.NewLocal(fn, b.LongLong, "fixnum_mask")
	b.ctx.EmitBinOp(blk, masked, backend.And, v, mask)
	b.ctx.EmitCmp(blk, dst, backend.CmpEQ, masked.RV(), backend.LitRV(backend.IntVal(b.LongLong, b.cfg.LispInt0&((1<<uint(b.cfg.IntTypeBits))-1))))
}

// EmitIsCons emits IR computing whether v (a LispObj) is tagged as a cons
// cell, storing the bool result in dst.
func (b *Binding) EmitIsCons(blk *backend.Block, dst *backend.Local, v backend.RValue) {
	fn := blk.Function()
	mask := backend.IntVal(b.LongLong, (int64(1)<<uint(b.cfg.GCTypeBits))-1)
	masked := b.ctx.NewLocal(fn, b.LongLong, "cons_mask")
	b.ctx.EmitBinOp(blk, masked, backend.And, v, mask)
	b.ctx.EmitCmp(blk, dst, backend.CmpEQ, masked.RV(), backend.LitRV(backend.IntVal(b.LongLong, b.cfg.ConsTag)))
}

// EmitXFixnum emits IR extracting the integer value out of a fixnum-tagged
// LispObj: an arithmetic right shift by IntTypeBits.
func (b *Binding) EmitXFixnum(blk *backend.Block, dst *backend.Local, v backend.RValue) {
	b.ctx.EmitBinOp(blk, dst, backend.Shr, v, backend.LitRV(b.IntTypeBitsConst))
}

// EmitMakeFixnum emits IR tagging an integer n as a fixnum-typed LispObj:
// shift left by IntTypeBits and OR in the fixnum type tag.
func (b *Binding) EmitMakeFixnum(blk *backend.Block, dst *backend.Local, n backend.RValue) {
	fn := blk.Function()
	shifted := b.ctx.NewLocal(fn, b.LongLong, "shifted")
	b.ctx.EmitBinOp(blk, shifted, backend.Shl, n, backend.LitRV(b.IntTypeBitsConst))
	b.ctx.EmitBinOp(blk, dst, backend.Or, shifted.RV(), backend.LitRV(b.LispInt0Const))
}
