package rtb_test

import (
	"testing"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/rtb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callWithBody builds a single-block function that runs body against a
// fresh binding and returns whatever it places in a LispObj-typed result
// local named "out".
func callWithBody(t *testing.T, arg uint64, body func(b *rtb.Binding, blk *backend.Block, fn *backend.Function, param backend.RValue) *backend.Local) backend.Value {
	t.Helper()
	ctx := backend.NewContext()
	b := rtb.Bind(ctx, rtb.DefaultConfig())

	fn := ctx.NewFunction("probe", b.LispObj, []*backend.Type{b.LispObj}, backend.Exported)
	blk := ctx.NewBlock(fn, "entry")
	out := body(b, blk, fn, fn.Param(0).RV())
	ctx.EndWithReturn(blk, out.RV())

	res, err := ctx.Call(fn, backend.IntVal(b.LispObj, int64(arg)))
	require.NoError(t, err)
	return res
}

func TestEmitIsFixnum(t *testing.T) {
	cfg := rtb.DefaultConfig()
	fixnum := uint64(5)<<uint(cfg.IntTypeBits) | uint64(cfg.LispInt0)

	res := callWithBody(t, fixnum, func(b *rtb.Binding, blk *backend.Block, fn *backend.Function, param backend.RValue) *backend.Local {
		result := b.Context().NewLocal(fn, b.Bool, "result")
		b.EmitIsFixnum(blk, result, param)
		return result
	})
	assert.True(t, res.Bool())

	nonFixnum := callWithBody(t, uint64(cfg.ConsTag), func(b *rtb.Binding, blk *backend.Block, fn *backend.Function, param backend.RValue) *backend.Local {
		result := b.Context().NewLocal(fn, b.Bool, "result")
		b.EmitIsFixnum(blk, result, param)
		return result
	})
	assert.False(t, nonFixnum.Bool())
}

func TestEmitXFixnumAndMakeFixnum(t *testing.T) {
	ctx := backend.NewContext()
	b := rtb.Bind(ctx, rtb.DefaultConfig())

	fn := ctx.NewFunction("roundtrip", b.LispObj, nil, backend.Exported)
	blk := ctx.NewBlock(fn, "entry")

	n := ctx.NewLocal(fn, b.LongLong, "n")
	ctx.EmitAssign(blk, n, backend.LitRV(backend.IntVal(b.LongLong, -7)))

	tagged := ctx.NewLocal(fn, b.LispObj, "tagged")
	b.EmitMakeFixnum(blk, tagged, n.RV())

	untagged := ctx.NewLocal(fn, b.LongLong, "untagged")
	b.EmitXFixnum(blk, untagged, tagged.RV())

	ctx.EndWithReturn(blk, untagged.RV())

	res, err := ctx.Call(fn)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), res.Int())
}
