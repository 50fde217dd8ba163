// Package cfg reconstructs a control-flow graph from a linear byte string:
// a two-pass scan that finds every basic-block leader, then assigns each
// program counter to the block it belongs to.
package cfg

import (
	"fmt"

	"github.com/mna/lispjit/bytecode"
	"golang.org/x/exp/slices"
)

// BlockMap maps every program counter in a byte string to the index (into
// Leaders) of the basic block it belongs to.
type BlockMap struct {
	Leaders []int // ascending, deduplicated PCs that start a new block
	block   []int // len(ByteString); block[pc] is an index into Leaders
}

// BlockOf returns the index into Leaders of the block containing pc.
func (m *BlockMap) BlockOf(pc int) int { return m.block[pc] }

// NumBlocks reports the number of distinct basic blocks.
func (m *BlockMap) NumBlocks() int { return len(m.Leaders) }

// Build scans code once to find leaders, then fills in the per-PC block
// assignment. It is the sole entry point into this package; there is no
// exported way to invoke only one of the two passes, since a translator
// needs the finished map, not the intermediate leader set.
func Build(code []byte) (*BlockMap, error) {
	leaders, err := findLeaders(code)
	if err != nil {
		return nil, err
	}
	slices.Sort(leaders)
	leaders = slices.Compact(leaders)

	block := make([]int, len(code))
	li := 0
	for pc := range code {
		for li+1 < len(leaders) && leaders[li+1] <= pc {
			li++
		}
		block[pc] = li
	}
	return &BlockMap{Leaders: leaders, block: block}, nil
}

// findLeaders performs the first CFG pass: every PC that is a branch
// target, and every PC immediately following an opcode that forces a
// fresh block (a branch itself, or sub1/add1/negate/return), is a leader.
func findLeaders(code []byte) ([]int, error) {
	leaders := []int{0}
	pc := 0
	for pc < len(code) {
		op := bytecode.Opcode(code[pc])
		size, targetPC, isBranch, err := stepSize(op, code, pc)
		if err != nil {
			return nil, err
		}
		next := pc + size
		if isBranch {
			leaders = append(leaders, targetPC)
			if next < len(code) {
				leaders = append(leaders, next)
			}
		} else if bytecode.EndsBlock(op) {
			if next < len(code) {
				leaders = append(leaders, next)
			}
		}
		pc = next
	}
	return leaders, nil
}

// stepSize returns the encoded size in bytes of the opcode at pc, the
// resolved branch target (valid only when isBranch), and whether it is a
// branch at all.
func stepSize(op bytecode.Opcode, code []byte, pc int) (size, target int, isBranch bool, err error) {
	switch {
	case bytecode.IsAbsoluteBranch(op):
		if pc+3 > len(code) {
			return 0, 0, false, fmt.Errorf("cfg: truncated branch at pc %d", pc)
		}
		t := int(code[pc+1]) | int(code[pc+2])<<8
		return 3, t, true, nil
	case bytecode.IsRelativeBranch(op):
		if pc+2 > len(code) {
			return 0, 0, false, fmt.Errorf("cfg: truncated branch at pc %d", pc)
		}
		off := int(int8(code[pc+1] - 128))
		return 2, pc + 2 + off, true, nil
	case op >= bytecode.Bconstant:
		return 1, 0, false, nil
	case op == bytecode.Bconstant2:
		if pc+3 > len(code) {
			return 0, 0, false, fmt.Errorf("cfg: truncated constant2 at pc %d", pc)
		}
		return 3, 0, false, nil
	case indexedFamilySize(op, code, pc) > 0:
		return indexedFamilySize(op, code, pc), 0, false, nil
	case op == bytecode.Bstack_set || op == bytecode.BlistN || op == bytecode.BconcatN ||
		op == bytecode.BinsertN || op == bytecode.BdiscardN:
		if pc+2 > len(code) {
			return 0, 0, false, fmt.Errorf("cfg: truncated instruction at pc %d", pc)
		}
		return 2, 0, false, nil
	case op == bytecode.Bstack_set2 || op == bytecode.Bpushcatch || op == bytecode.Bpushconditioncase:
		if pc+3 > len(code) {
			return 0, 0, false, fmt.Errorf("cfg: truncated instruction at pc %d", pc)
		}
		return 3, 0, false, nil
	default:
		return 1, 0, false, nil
	}
}

var indexedBases = []bytecode.Opcode{
	bytecode.Bstack_ref0, bytecode.Bvarref, bytecode.Bvarset,
	bytecode.Bvarbind, bytecode.Bcall, bytecode.Bunbind,
}

func indexedFamilySize(op bytecode.Opcode, code []byte, pc int) int {
	for _, base := range indexedBases {
		if op >= base && op <= base+7 {
			switch int(op - base) {
			case 6:
				return 2
			case 7:
				return 3
			default:
				return 1
			}
		}
	}
	return 0
}
