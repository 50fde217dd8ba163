package translate_test

import (
	"testing"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/rtb"
	"github.com/mna/lispjit/symtab"
	"github.com/mna/lispjit/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, src string) (*backend.Context, *rtb.Binding, *backend.Function) {
	t.Helper()
	fn, err := bytecode.Asm(src)
	require.NoError(t, err)

	ctx := backend.NewContext()
	binding := rtb.Bind(ctx, rtb.DefaultConfig())
	symbols := symtab.New(ctx, 0)

	bfn, err := translate.Translate(ctx, binding, symbols, fn)
	require.NoError(t, err)
	return ctx, binding, bfn
}

func fixnum(cfg rtb.Config, n int64) int64 {
	return n<<uint(cfg.IntTypeBits) | int64(cfg.LispInt0)
}

// compileWithSymbols is compile's sibling for tests that need a runtime
// helper declared (with a custom Impl) before translation, so the emitted
// call to it is actually invocable via ctx.Call.
func compileWithSymbols(t *testing.T, src string, declare func(*backend.Context, *rtb.Binding, *symtab.Table)) (*backend.Context, *rtb.Binding, *backend.Function) {
	t.Helper()
	fn, err := bytecode.Asm(src)
	require.NoError(t, err)

	ctx := backend.NewContext()
	binding := rtb.Bind(ctx, rtb.DefaultConfig())
	symbols := symtab.New(ctx, 0)
	declare(ctx, binding, symbols)

	bfn, err := translate.Translate(ctx, binding, symbols, fn)
	require.NoError(t, err)
	return ctx, binding, bfn
}

func TestTranslateSub1InlineFastPath(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 1
arg-template: 257
code:
    sub1
    return
`)
	cfg := binding.Config()
	arg := backend.IntVal(binding.LispObj, fixnum(cfg, 5))
	res, err := ctx.Call(bfn, arg)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 4), res.Int())
}

func TestTranslateAdd1InlineFastPath(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 1
arg-template: 257
code:
    add1
    return
`)
	cfg := binding.Config()
	arg := backend.IntVal(binding.LispObj, fixnum(cfg, -3))
	res, err := ctx.Call(bfn, arg)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, -2), res.Int())
}

func TestTranslateNegateInlineFastPath(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 1
arg-template: 257
code:
    negate
    return
`)
	cfg := binding.Config()
	arg := backend.IntVal(binding.LispObj, fixnum(cfg, 9))
	res, err := ctx.Call(bfn, arg)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, -9), res.Int())
}

func TestTranslateConspNoFallback(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 1
arg-template: 257
code:
    consp
    return
`)
	cfg := binding.Config()

	nonCons := backend.IntVal(binding.LispObj, fixnum(cfg, 1))
	res, err := ctx.Call(bfn, nonCons)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Int()) // nil

	cons := backend.IntVal(binding.LispObj, int64(cfg.ConsTag))
	res, err = ctx.Call(bfn, cons)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Int()) // t
}

func TestTranslateBranchAndDup(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 2
arg-template: 257
constants:
    0: 111
    1: 222
code:
    dup
    gotoifnil onNil
    constant 0
    return
onNil:
    constant 1
    return
`)
	cfg := binding.Config()

	res, err := ctx.Call(bfn, backend.IntVal(binding.LispObj, fixnum(cfg, 1)))
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 111), res.Int())

	res, err = ctx.Call(bfn, backend.IntVal(binding.LispObj, 0))
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 222), res.Int())
}

func TestTranslateConstantAndReturn(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 1
arg-template: nil
constants:
    0: 42
code:
    constant 0
    return
`)
	cfg := binding.Config()
	res, err := ctx.Call(bfn)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 42), res.Int())
}

func TestTranslateStackSetWritesDepth(t *testing.T) {
	ctx, binding, bfn := compile(t, `
function: f
stack-depth: 3
arg-template: 771
code:
    stack_set 2
    stack-ref 1
    return
`)
	cfg := binding.Config()
	a := backend.IntVal(binding.LispObj, fixnum(cfg, 1))
	b := backend.IntVal(binding.LispObj, fixnum(cfg, 2))
	c := backend.IntVal(binding.LispObj, fixnum(cfg, 3))
	res, err := ctx.Call(bfn, a, b, c)
	require.NoError(t, err)
	// stack_set 2 pops c and writes it into the local two below the
	// pre-pop top (local_0); stack-ref 1 reads that local back.
	assert.Equal(t, fixnum(cfg, 3), res.Int())
}

func TestTranslateListConstructBuildsRightToLeftConsChain(t *testing.T) {
	var calls [][2]int64
	ctx, binding, bfn := compileWithSymbols(t, `
function: f
stack-depth: 3
arg-template: 771
code:
    list3
    return
`, func(_ *backend.Context, binding *rtb.Binding, symbols *symtab.Table) {
		cons := symbols.DeclareFunction("Fcons", binding.LispObj,
			[]*backend.Type{binding.LispObj, binding.LispObj}, backend.Imported, true)
		cons.Impl = func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
			calls = append(calls, [2]int64{args[0].Int(), args[1].Int()})
			return backend.IntVal(binding.LispObj, int64(len(calls))), nil
		}
	})
	cfg := binding.Config()
	a := backend.IntVal(binding.LispObj, fixnum(cfg, 1))
	b := backend.IntVal(binding.LispObj, fixnum(cfg, 2))
	c := backend.IntVal(binding.LispObj, fixnum(cfg, 3))
	res, err := ctx.Call(bfn, a, b, c)
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, [2]int64{fixnum(cfg, 3), 0}, calls[0])               // Fcons(c, nil)
	assert.Equal(t, [2]int64{fixnum(cfg, 2), 1}, calls[1])               // Fcons(b, <prev>)
	assert.Equal(t, [2]int64{fixnum(cfg, 1), 2}, calls[2])               // Fcons(a, <prev>)
	assert.Equal(t, int64(3), res.Int())
}

func TestTranslateVariadicPlusUsesScratchArea(t *testing.T) {
	ctx, binding, bfn := compileWithSymbols(t, `
function: f
stack-depth: 2
arg-template: 514
code:
    plus
    return
`, func(_ *backend.Context, binding *rtb.Binding, symbols *symtab.Table) {
		cfg := binding.Config()
		plus := symbols.DeclareFunction("Fplus", binding.LispObj,
			[]*backend.Type{binding.PtrDiff, binding.VoidPtr}, backend.Imported, true)
		plus.Impl = func(c *backend.Context, args []backend.Value) (backend.Value, error) {
			n := int(args[0].Int())
			var sum int64
			for i := 0; i < n; i++ {
				sum += c.ScratchValue(i).Int() >> uint(cfg.IntTypeBits)
			}
			return backend.IntVal(binding.LispObj, fixnum(cfg, sum)), nil
		}
	})
	cfg := binding.Config()
	res, err := ctx.Call(bfn,
		backend.IntVal(binding.LispObj, fixnum(cfg, 7)),
		backend.IntVal(binding.LispObj, fixnum(cfg, 35)))
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 42), res.Int())
}

func TestTranslateArithCompareRoutesThroughArithcompare(t *testing.T) {
	ctx, binding, bfn := compileWithSymbols(t, `
function: f
stack-depth: 2
arg-template: 514
code:
    lss
    return
`, func(_ *backend.Context, binding *rtb.Binding, symbols *symtab.Table) {
		cfg := binding.Config()
		arith := symbols.DeclareFunction("arithcompare", binding.LispObj,
			[]*backend.Type{binding.LispObj, binding.LispObj, binding.Int}, backend.Imported, true)
		arith.Impl = func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
			a := args[0].Int() >> uint(cfg.IntTypeBits)
			b := args[1].Int() >> uint(cfg.IntTypeBits)
			require.Equal(t, int64(bytecode.ArithLess), args[2].Int())
			if a < b {
				return backend.IntVal(binding.LispObj, 1), nil
			}
			return backend.IntVal(binding.LispObj, 0), nil
		}
	})
	cfg := binding.Config()

	res, err := ctx.Call(bfn,
		backend.IntVal(binding.LispObj, fixnum(cfg, 2)),
		backend.IntVal(binding.LispObj, fixnum(cfg, 5)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Int())

	res, err = ctx.Call(bfn,
		backend.IntVal(binding.LispObj, fixnum(cfg, 5)),
		backend.IntVal(binding.LispObj, fixnum(cfg, 2)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Int())
}

func TestTranslatePointReadsHostGlobalAtCallTime(t *testing.T) {
	ctx, binding, bfn := compileWithSymbols(t, `
function: f
stack-depth: 1
arg-template: nil
code:
    point
    return
`, func(_ *backend.Context, binding *rtb.Binding, symbols *symtab.Table) {
		cfg := binding.Config()
		natnum := symbols.DeclareFunction("make_fixed_natnum", binding.LispObj,
			[]*backend.Type{binding.PtrDiff}, backend.Imported, true)
		natnum.Impl = func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
			return backend.IntVal(binding.LispObj, fixnum(cfg, args[0].Int())), nil
		}
	})
	cfg := binding.Config()

	ctx.SetGlobal(binding.PT, backend.IntVal(binding.PtrDiff, 123))
	res, err := ctx.Call(bfn)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 123), res.Int())

	// PT is read at call time, not baked in at compile time.
	ctx.SetGlobal(binding.PT, backend.IntVal(binding.PtrDiff, 456))
	res, err = ctx.Call(bfn)
	require.NoError(t, err)
	assert.Equal(t, fixnum(cfg, 456), res.Int())
}

func TestTranslateNegateFallbackCallsFminus(t *testing.T) {
	var gotNargs int
	var gotArg int64
	ctx, binding, bfn := compileWithSymbols(t, `
function: f
stack-depth: 1
arg-template: 257
code:
    negate
    return
`, func(_ *backend.Context, binding *rtb.Binding, symbols *symtab.Table) {
		minus := symbols.DeclareFunction("Fminus", binding.LispObj,
			[]*backend.Type{binding.PtrDiff, binding.VoidPtr}, backend.Imported, true)
		minus.Impl = func(c *backend.Context, args []backend.Value) (backend.Value, error) {
			gotNargs = int(args[0].Int())
			gotArg = c.ScratchValue(0).Int()
			return c.ScratchValue(0), nil
		}
	})
	cfg := binding.Config()
	mostNeg := backend.IntVal(binding.LispObj, fixnum(cfg, binding.MostNegativeFixnum.Int()))

	res, err := ctx.Call(bfn, mostNeg)
	require.NoError(t, err)
	assert.Equal(t, 1, gotNargs)
	assert.Equal(t, mostNeg.Int(), gotArg)
	assert.Equal(t, mostNeg.Int(), res.Int())
}

func TestMangleNameRejectsOverlong(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, err := translate.MangleName(string(long))
	assert.Error(t, err)
}

func TestMangleNameReplacesDashesAndPluses(t *testing.T) {
	got, err := translate.MangleName("foo-bar+baz")
	require.NoError(t, err)
	assert.Equal(t, "Fnative_comp_foo_bar_baz", got)
}
