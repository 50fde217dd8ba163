package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asmFn(t *testing.T, name, src string) *bytecode.CompiledFunction {
	t.Helper()
	fn, err := bytecode.Asm(src)
	require.NoError(t, err)
	fn.Name = name
	return fn
}

func TestNativeCompileRejectsNilFunction(t *testing.T) {
	_, err := loader.NativeCompile(context.Background(), nil, loader.Options{})
	require.Error(t, err)
	var invalid *loader.ErrInvalidInput
	assert.ErrorAs(t, err, &invalid)
}

func TestNativeCompileRejectsMissingName(t *testing.T) {
	fn := asmFn(t, "", `
function: f
stack-depth: 1
arg-template: nil
code:
    return
`)
	fn.Name = ""
	_, err := loader.NativeCompile(context.Background(), fn, loader.Options{})
	require.Error(t, err)
	var invalid *loader.ErrInvalidInput
	assert.ErrorAs(t, err, &invalid)
}

func TestNativeCompileRejectsBadSpeed(t *testing.T) {
	fn := asmFn(t, "foo", `
function: f
stack-depth: 1
arg-template: nil
code:
    return
`)
	_, err := loader.NativeCompile(context.Background(), fn, loader.Options{Speed: 9})
	require.Error(t, err)
	var invalid *loader.ErrInvalidInput
	assert.ErrorAs(t, err, &invalid)
}

func TestNativeCompileSucceedsAndCallable(t *testing.T) {
	fn := asmFn(t, "identity", `
function: identity
stack-depth: 1
arg-template: 257
code:
    return
`)
	art, err := loader.NativeCompile(context.Background(), fn, loader.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Fnative_comp_identity", art.MangledName)
	assert.Equal(t, 1, art.MinArgs)
	assert.Equal(t, 1, art.MaxArgs)

	caller := backend.NewContext()
	res, err := caller.Call(art.Fn, backend.IntVal(art.Fn.Ret, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Int())
}

func TestNativeCompileUnwindProtectRoutesToHelper(t *testing.T) {
	fn := asmFn(t, "with-unwind", `
function: with-unwind
stack-depth: 2
arg-template: 257
code:
    dup
    unwind-protect
    return
`)
	art, err := loader.NativeCompile(context.Background(), fn, loader.Options{})
	require.NoError(t, err)

	caller := backend.NewContext()
	res, err := caller.Call(art.Fn, backend.IntVal(art.Fn.Ret, 77))
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.Int())
}

func TestNativeCompileWithDisassemble(t *testing.T) {
	fn := asmFn(t, "foo", `
function: foo
stack-depth: 1
arg-template: nil
constants:
    0: 1
code:
    constant 0
    return
`)
	art, err := loader.NativeCompile(context.Background(), fn, loader.Options{Disassemble: true})
	require.NoError(t, err)
	assert.Contains(t, art.Disassembly, "foo")
}

func TestWriteDisassemblyRoundTrip(t *testing.T) {
	fn := asmFn(t, "foo", `
function: foo
stack-depth: 1
arg-template: 257
code:
    return
`)
	art, err := loader.NativeCompile(context.Background(), fn, loader.Options{Disassemble: true})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "foo.s")
	text, err := loader.WriteDisassembly(path, art)
	require.NoError(t, err)
	assert.Equal(t, art.Disassembly, text)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, art.Disassembly, string(data))
}
