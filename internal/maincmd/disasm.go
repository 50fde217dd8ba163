package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/cfg"
)

func (c *Cmd) Disasm(_ context.Context, stdio mainer.Stdio, args []string) error {
	var failed bool
	for _, path := range args {
		if err := disasmFile(stdio, path); err != nil {
			fmt.Fprintf(stdio.Stderr, "%s: %s\n", path, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("disasm: one or more files failed")
	}
	return nil
}

func disasmFile(stdio mainer.Stdio, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fn, err := bytecode.Asm(string(src))
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	cmap, err := cfg.Build(fn.ByteString)
	if err != nil {
		return fmt.Errorf("cfg: %w", err)
	}

	fmt.Fprintf(stdio.Stdout, "%s: %d block(s), leaders=%v\n", fn.Name, cmap.NumBlocks(), cmap.Leaders)
	text, err := bytecode.Dasm(fn)
	if err != nil {
		return fmt.Errorf("disassemble: %w", err)
	}
	fmt.Fprintln(stdio.Stdout, text)
	return nil
}
