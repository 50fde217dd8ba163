package bytecode_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/internal/filetest"
	"github.com/stretchr/testify/require"
)

var testUpdateGoldenTests = flag.Bool("test.update-golden-tests", false, "If set, replace expected disassembly golden files with actual results.")

// TestDisasmGolden assembles every fixture under testdata/in and checks that
// disassembling it back to text reproduces a known-good rendering, the same
// assemble/disassemble round trip the CLI's disasm subcommand exercises on
// real input.
func TestDisasmGolden(t *testing.T) {
	srcDir, resultDir := filepath.Join("testdata", "in"), filepath.Join("testdata", "out")

	for _, fi := range filetest.SourceFiles(t, srcDir, ".asm") {
		t.Run(fi.Name(), func(t *testing.T) {
			src, err := os.ReadFile(filepath.Join(srcDir, fi.Name()))
			require.NoError(t, err)

			fn, err := bytecode.Asm(string(src))
			require.NoError(t, err)

			text, err := bytecode.Dasm(fn)
			require.NoError(t, err)

			filetest.DiffOutput(t, fi, text, resultDir, testUpdateGoldenTests)
		})
	}
}
