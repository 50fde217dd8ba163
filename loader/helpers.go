package loader

import (
	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/symtab"
)

// newRuntimeSymtab returns a symbol table pre-populated with the
// compile-emitted glue helpers comp.c defines itself, as opposed to the
// Lisp primitives and runtime ABI entry points (Fsymbol_value, Ffuncall,
// Fadd1, set_internal, specbind, and the like), which remain out of scope:
// the translator auto-declares those on first call site with a nil Impl,
// since they belong to the runtime this package compiles against, not to
// the compiler itself.
func newRuntimeSymtab(ctx *backend.Context) *symtab.Table {
	t := symtab.New(ctx, 16)

	declare(t, ctx, "helper_unbind_n", []*backend.Type{ptrdiffType(ctx)}, func(c *backend.Context, args []backend.Value) (backend.Value, error) {
		return nilObj(c), nil
	})
	declare(t, ctx, "helper_varbind", []*backend.Type{lispObjType(ctx), lispObjType(ctx)}, func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return args[1], nil
	})
	declare(t, ctx, "helper_save_excursion", nil, func(c *backend.Context, args []backend.Value) (backend.Value, error) {
		return nilObj(c), nil
	})
	declare(t, ctx, "helper_save_restriction", nil, func(c *backend.Context, args []backend.Value) (backend.Value, error) {
		return nilObj(c), nil
	})
	declare(t, ctx, "helper_unwind_protect", []*backend.Type{lispObjType(ctx)}, func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return args[0], nil
	})
	declare(t, ctx, "helper_catch", []*backend.Type{lispObjType(ctx), lispObjType(ctx)}, func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return args[1], nil
	})
	declare(t, ctx, "helper_condition_case", []*backend.Type{lispObjType(ctx), lispObjType(ctx), lispObjType(ctx)}, func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return args[0], nil
	})
	declare(t, ctx, "helper_save_window_excursion", []*backend.Type{lispObjType(ctx)}, func(_ *backend.Context, args []backend.Value) (backend.Value, error) {
		return args[0], nil
	})
	declare(t, ctx, "helper_temp_output_buffer_setup", []*backend.Type{lispObjType(ctx)}, func(c *backend.Context, args []backend.Value) (backend.Value, error) {
		return nilObj(c), nil
	})
	declare(t, ctx, "helper_temp_output_buffer_show", []*backend.Type{lispObjType(ctx)}, func(c *backend.Context, args []backend.Value) (backend.Value, error) {
		return nilObj(c), nil
	})

	return t
}

// declare builds and registers an Imported function with a concrete Impl,
// all of them returning Lisp_Object, since that is what comp.c's own
// helper_* functions return.
func declare(t *symtab.Table, ctx *backend.Context, name string, params []*backend.Type, impl func(*backend.Context, []backend.Value) (backend.Value, error)) {
	fn := t.DeclareFunction(name, lispObjType(ctx), params, backend.Imported, true)
	fn.Impl = impl
}

func nilObj(ctx *backend.Context) backend.Value { return backend.IntVal(lispObjType(ctx), 0) }

func lispObjType(ctx *backend.Context) *backend.Type {
	return ctx.NewIntType("Lisp_Object", 64, true)
}

func ptrdiffType(ctx *backend.Context) *backend.Type {
	return ctx.NewIntType("ptrdiff_t", 64, true)
}
