package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/loader"
)

func (c *Cmd) Compile(ctx context.Context, stdio mainer.Stdio, args []string) error {
	opts := loader.Options{
		Speed:       c.Speed,
		Disassemble: c.Disassemble,
		DebugLevel:  c.Debug,
	}
	if c.Debug >= 1 {
		opts.Log = stdio.Stderr
	}
	if c.Debug >= 2 {
		opts.Reproducer = stdio.Stderr
	}

	var failed bool
	for _, path := range args {
		if err := compileFile(ctx, stdio, path, opts); err != nil {
			fmt.Fprintf(stdio.Stderr, "%s: %s\n", path, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("compile: one or more files failed")
	}
	return nil
}

func compileFile(ctx context.Context, stdio mainer.Stdio, path string, opts loader.Options) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fn, err := bytecode.Asm(string(src))
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	art, err := loader.NativeCompile(ctx, fn, opts)
	if err != nil {
		return fmt.Errorf("native-compile: %w", err)
	}

	fmt.Fprintf(stdio.Stdout, "%s -> %s (min=%d max=%d)\n", art.Name, art.MangledName, art.MinArgs, art.MaxArgs)
	if art.Disassembly != "" {
		fmt.Fprintln(stdio.Stdout, art.Disassembly)
	}
	return nil
}
