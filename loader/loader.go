// Package loader is the entry point a Lisp runtime would call to turn a
// byte-compiled function into native code: it owns the compile-wide
// serialization lock, wires together the control-flow map, the runtime-type
// binding, the symbol table and the translator, and produces the record a
// host would register with `defsubr`. It also hosts the small set of
// "compile-emitted glue" helpers the translator assumes exist
// (helper_unbind_n and friends) as documented stand-ins for the runtime ABI.
package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mna/lispjit/backend"
	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/rtb"
	"github.com/mna/lispjit/translate"
)

// ErrInvalidInput reports a rejected compile request: not a byte-compiled
// function, an out-of-range optimization level, or similar caller mistakes
// that never reach the translator.
type ErrInvalidInput struct{ Msg string }

func (e *ErrInvalidInput) Error() string { return "loader: invalid input: " + e.Msg }

// Options configures a single NativeCompile call.
type Options struct {
	// Speed is the optimization level, 0..3; the zero value means "use the
	// default" (2), matching native_compile's own default-when-unspecified
	// behavior.
	Speed int

	// Disassemble, when true, renders the compiled function's assembly
	// listing and returns it in the result's Disassembly field.
	Disassemble bool

	// DebugLevel gates the optional diagnostic files: 0 disables both, 1
	// enables the backend log, 2+ additionally enables the reproducer.
	DebugLevel int

	// Log, if non-nil, receives the backend log when DebugLevel >= 1
	// (stands in for libgccjit.log).
	Log io.Writer
	// Reproducer, if non-nil, receives a reproducer dump when DebugLevel >= 2
	// (stands in for comp_reproducer.c).
	Reproducer io.Writer

	// Config overrides the default runtime-type binding layout; the zero
	// value means rtb.DefaultConfig().
	Config *rtb.Config
}

// Artifact is the result of a successful native compile: the backend
// function ready to be called, plus the bookkeeping a host needs to
// register it as a primitive.
type Artifact struct {
	Name        string // original Lisp symbol name
	MangledName string // Fnative_comp_<sym>
	MinArgs     int
	MaxArgs     int
	Fn          *backend.Function
	Disassembly string // populated only if Options.Disassemble
}

// compileMu serializes compilation the way comp.c brackets
// gcc_jit_context_compile with block_atimers/unblock_atimers: the backend
// is modeled as non-reentrant.
var compileMu sync.Mutex

// NativeCompile validates fn, builds its control-flow map, translates its
// bytecode into backend IR, and returns the resulting artifact. No partial
// state survives a failed call: the backend context built for this
// compilation is local to it and discarded on every exit path.
func NativeCompile(ctx context.Context, fn *bytecode.CompiledFunction, opts Options) (art *Artifact, err error) {
	if fn == nil {
		return nil, &ErrInvalidInput{Msg: "not a byte-compiled function"}
	}
	if fn.Name == "" {
		return nil, &ErrInvalidInput{Msg: "not a symbol"}
	}
	speed := opts.Speed
	if speed == 0 {
		speed = 2
	}
	if speed < 0 || speed > 3 {
		return nil, &ErrInvalidInput{Msg: fmt.Sprintf("optimization level %d out of range 0..3", speed)}
	}

	compileMu.Lock()
	defer compileMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = &translate.ErrInternal{Msg: fmt.Sprintf("recovered panic: %v", r)}
		}
	}()

	cfgLayout := rtb.DefaultConfig()
	if opts.Config != nil {
		cfgLayout = *opts.Config
	}

	arity, err := bytecode.DecodeArity(fn.ArgTemplate)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}

	bctx := backend.NewContext()
	binding := rtb.Bind(bctx, cfgLayout)
	symbols := newRuntimeSymtab(bctx)

	if opts.DebugLevel >= 1 && opts.Log != nil {
		fmt.Fprintf(opts.Log, "native-compile %s speed=%d\n", fn.Name, speed)
	}
	if opts.DebugLevel >= 2 && opts.Reproducer != nil {
		fmt.Fprintf(opts.Reproducer, "// reproducer for %s\n", fn.Name)
	}

	bfn, err := translate.Translate(bctx, binding, symbols, fn)
	if err != nil {
		return nil, err
	}

	mangled, err := translate.MangleName(fn.Name)
	if err != nil {
		return nil, err
	}

	art = &Artifact{
		Name:        fn.Name,
		MangledName: mangled,
		MinArgs:     arity.Min,
		MaxArgs:     arity.Max,
		Fn:          bfn,
	}

	if opts.Disassemble {
		text, derr := bytecode.Dasm(fn)
		if derr != nil {
			return nil, fmt.Errorf("loader: disassemble: %w", derr)
		}
		art.Disassembly = text
	}

	return art, nil
}

// WriteDisassembly writes art's disassembly listing to path, the Go
// rendition of native_compile's emacs-asm.s output file, then reads it
// back, mirroring comp.c's own fopen/fread round trip rather than just
// returning the in-memory string.
func WriteDisassembly(path string, art *Artifact) (string, error) {
	if err := os.WriteFile(path, []byte(art.Disassembly), 0o644); err != nil {
		return "", fmt.Errorf("loader: write disassembly: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("loader: read back disassembly: %w", err)
	}
	return string(data), nil
}
