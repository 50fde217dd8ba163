package cfg_test

import (
	"testing"

	"github.com/mna/lispjit/bytecode"
	"github.com/mna/lispjit/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asmCode(t *testing.T, src string) []byte {
	t.Helper()
	fn, err := bytecode.Asm(src)
	require.NoError(t, err)
	return fn.ByteString
}

func TestBuildStraightLine(t *testing.T) {
	code := asmCode(t, `
function: f
stack-depth: 1
arg-template: nil
code:
    constant 0
    dup
    return
`)
	m, err := cfg.Build(code)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumBlocks())
	for pc := range code {
		assert.Equal(t, 0, m.BlockOf(pc))
	}
}

func TestBuildBranchSplitsBlocks(t *testing.T) {
	code := asmCode(t, `
function: f
stack-depth: 1
arg-template: nil
code:
top:
    dup
    gotoifnil done
    goto top
done:
    return
`)
	m, err := cfg.Build(code)
	require.NoError(t, err)
	// leaders: pc 0 (top), pc after gotoifnil (the goto), pc of done (target)
	assert.GreaterOrEqual(t, m.NumBlocks(), 3)

	// dup and the gotoifnil that reads its result stay in the leader block.
	assert.Equal(t, m.BlockOf(0), m.BlockOf(1))
}

func TestBuildByteOperandOpcodesTrackPC(t *testing.T) {
	// listN's 1-byte count operand must be skipped correctly. The count 6
	// is also the stack-ref6 opcode byte, so decoding it as an instruction
	// would swallow the gotoifnil as its operand and no block would start
	// at pc 5.
	code := asmCode(t, `
function: f
stack-depth: 4
arg-template: nil
code:
    listN 6
    gotoifnil done
    constant 0
    return
done:
    return
`)
	m, err := cfg.Build(code)
	require.NoError(t, err)
	// listN (2 bytes) + gotoifnil (3 bytes) == pc 5 starts the next leader.
	assert.Equal(t, m.BlockOf(0), m.BlockOf(1))
	assert.NotEqual(t, m.BlockOf(0), m.BlockOf(5))
}

func TestBuildTruncatedBranchErrors(t *testing.T) {
	_, err := cfg.Build([]byte{byte(bytecode.Bgoto), 0x00})
	assert.Error(t, err)
}
