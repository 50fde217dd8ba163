package backend_test

import (
	"testing"

	"github.com/mna/lispjit/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinOpAddAndShrSigned(t *testing.T) {
	ctx := backend.NewContext()
	i64 := ctx.NewIntType("i64", 64, true)

	fn := ctx.NewFunction("f", i64, nil, backend.Exported)
	blk := ctx.NewBlock(fn, "entry")

	sum := ctx.NewLocal(fn, i64, "sum")
	ctx.EmitBinOp(blk, sum, backend.Add, backend.LitRV(backend.IntVal(i64, 3)), backend.LitRV(backend.IntVal(i64, 4)))

	shifted := ctx.NewLocal(fn, i64, "shifted")
	ctx.EmitBinOp(blk, shifted, backend.Shr, backend.LitRV(backend.IntVal(i64, -8)), backend.LitRV(backend.IntVal(i64, 1)))

	out := ctx.NewLocal(fn, i64, "out")
	ctx.EmitBinOp(blk, out, backend.Add, sum.RV(), shifted.RV())
	ctx.EndWithReturn(blk, out.RV())

	res, err := ctx.Call(fn)
	require.NoError(t, err)
	assert.Equal(t, int64(7+(-4)), res.Int())
}

func TestConditionalBranch(t *testing.T) {
	ctx := backend.NewContext()
	i64 := ctx.NewIntType("i64", 64, true)
	boolT := ctx.NewBoolType("bool")

	fn := ctx.NewFunction("abs", i64, []*backend.Type{i64}, backend.Exported)
	entry := ctx.NewBlock(fn, "entry")
	neg := ctx.NewBlock(fn, "neg")
	pos := ctx.NewBlock(fn, "pos")

	isNeg := ctx.NewLocal(fn, boolT, "isNeg")
	ctx.EmitCmp(entry, isNeg, backend.CmpLT, fn.Param(0).RV(), backend.LitRV(backend.IntVal(i64, 0)))
	ctx.EndWithConditional(entry, isNeg.RV(), neg, pos)

	negated := ctx.NewLocal(fn, i64, "negated")
	ctx.EmitUnOp(neg, negated, backend.Neg, fn.Param(0).RV())
	ctx.EndWithReturn(neg, negated.RV())

	ctx.EndWithReturn(pos, fn.Param(0).RV())

	res, err := ctx.Call(fn, backend.IntVal(i64, -5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Int())

	res, err = ctx.Call(fn, backend.IntVal(i64, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Int())
}

func TestEmitCallImportedFunction(t *testing.T) {
	ctx := backend.NewContext()
	i64 := ctx.NewIntType("i64", 64, true)

	double := ctx.NewFunction("double", i64, []*backend.Type{i64}, backend.Imported)
	double.Impl = func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return backend.IntVal(i64, args[0].Int()*2), nil
	}

	fn := ctx.NewFunction("caller", i64, []*backend.Type{i64}, backend.Exported)
	blk := ctx.NewBlock(fn, "entry")
	res := ctx.NewLocal(fn, i64, "res")
	ctx.EmitCall(blk, res, double, []backend.RValue{fn.Param(0).RV()})
	ctx.EndWithReturn(blk, res.RV())

	got, err := ctx.Call(fn, backend.IntVal(i64, 21))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int())
}

func TestCallUnterminatedBlockErrors(t *testing.T) {
	ctx := backend.NewContext()
	i64 := ctx.NewIntType("i64", 64, true)
	fn := ctx.NewFunction("bad", i64, nil, backend.Exported)
	ctx.NewBlock(fn, "entry")

	_, err := ctx.Call(fn)
	assert.Error(t, err)
}

func TestCallNoBodyErrors(t *testing.T) {
	ctx := backend.NewContext()
	i64 := ctx.NewIntType("i64", 64, true)
	fn := ctx.NewFunction("empty", i64, nil, backend.Imported)

	_, err := ctx.Call(fn)
	assert.Error(t, err)
}
