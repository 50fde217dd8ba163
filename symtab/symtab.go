// Package symtab is the symbol table the translator consults before
// emitting a call: a name-to-backend-function-handle map that declares
// imported runtime helpers lazily, on the first call site that needs them.
package symtab

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/mna/lispjit/backend"
)

// Table maps a runtime function name to its declared backend handle.
type Table struct {
	m   *swiss.Map[string, *backend.Function]
	ctx *backend.Context
}

// New returns an empty table backed by ctx, sized for an initial capacity
// estimate.
func New(ctx *backend.Context, sizeHint int) *Table {
	if sizeHint < 8 {
		sizeHint = 8
	}
	return &Table{m: swiss.NewMap[string, *backend.Function](uint32(sizeHint)), ctx: ctx}
}

// Lookup returns the declared handle for name, if any.
func (t *Table) Lookup(name string) (*backend.Function, bool) {
	return t.m.Get(name)
}

// Declare registers fn under name. kind Reusable functions may only be
// declared once; a second Declare call for the same name with reusable
// set is a bug in the caller, not a recoverable runtime condition, and
// panics accordingly (mirroring the "duplicate function declaration" fatal
// check the byte compiler performs on its own symbol table).
func (t *Table) Declare(name string, fn *backend.Function, reusable bool) {
	if reusable {
		if _, ok := t.m.Get(name); ok {
			panic(fmt.Sprintf("symtab: function %q already declared", name))
		}
	}
	t.m.Put(name, fn)
}

// DeclareFunction builds and registers a new backend function with one
// parameter per entry of argTypes (none if argTypes is nil) returning
// retType, of the given Kind, inserting it into the table when reusable is
// true.
func (t *Table) DeclareFunction(name string, retType *backend.Type, argTypes []*backend.Type, kind backend.FnKind, reusable bool) *backend.Function {
	fn := t.ctx.NewFunction(name, retType, argTypes, kind)
	t.Declare(name, fn, reusable)
	return fn
}

// EmitCall looks up name, auto-declaring it as a reusable Imported
// function with argTypes as its parameter types if it is missing, then
// emits a call into block and returns the local holding the result.
func (t *Table) EmitCall(block *backend.Block, name string, retType *backend.Type, argTypes []*backend.Type, args []backend.RValue) *backend.Local {
	fn, ok := t.Lookup(name)
	if !ok {
		fn = t.DeclareFunction(name, retType, argTypes, backend.Imported, true)
	}
	res := t.ctx.NewLocal(block.Function(), retType, name+"_result")
	t.ctx.EmitCall(block, res, fn, args)
	return res
}
