package symtab_test

import (
	"testing"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/symtab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissThenAutoDeclare(t *testing.T) {
	ctx := backend.NewContext()
	lispObj := ctx.NewIntType("Lisp_Object", 64, true)
	tbl := symtab.New(ctx, 0)

	_, ok := tbl.Lookup("Fadd1")
	assert.False(t, ok)

	fn := ctx.NewFunction("probe", lispObj, []*backend.Type{lispObj}, backend.Exported)
	blk := ctx.NewBlock(fn, "entry")
	res := tbl.EmitCall(blk, "Fadd1", lispObj, []*backend.Type{lispObj}, []backend.RValue{fn.Param(0).RV()})
	require.NotNil(t, res)

	declared, ok := tbl.Lookup("Fadd1")
	require.True(t, ok)
	assert.Equal(t, backend.Imported, declared.Kind)
}

func TestDeclareDuplicateReusablePanics(t *testing.T) {
	ctx := backend.NewContext()
	tbl := symtab.New(ctx, 0)
	fn := ctx.NewFunction("Ffoo", ctx.VoidType(), nil, backend.Imported)

	tbl.Declare("Ffoo", fn, true)
	assert.Panics(t, func() { tbl.Declare("Ffoo", fn, true) })
}

func TestDeclareDuplicateNonReusableOK(t *testing.T) {
	ctx := backend.NewContext()
	tbl := symtab.New(ctx, 0)
	fn := ctx.NewFunction("Ffoo", ctx.VoidType(), nil, backend.Imported)

	tbl.Declare("Ffoo", fn, false)
	assert.NotPanics(t, func() { tbl.Declare("Ffoo", fn, false) })
}
