package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Asm assembles the textual format produced by Dasm (and written by hand
// in test fixtures) into a CompiledFunction. The format is a small set of
// top-level sections:
//
//	function: <name>
//	stack-depth: <int>
//	arg-template: nil | <int>
//	constants:
//	    0: <int> | "<string>" | nil
//	code:
//	    [<label>:] <mnemonic> [<operand>]
//
// Branch mnemonics (goto, gotoifnil, ...) take a label operand; all other
// mnemonics that need an operand take an integer.
func Asm(src string) (*CompiledFunction, error) {
	a := &asmState{lines: strings.Split(src, "\n")}
	return a.run()
}

type codeLine struct {
	label string
	mnem  string
	arg   string
	hasArg bool
}

type asmState struct {
	lines []string
	pos   int

	fn        CompiledFunction
	codeLines []codeLine
}

func (a *asmState) run() (*CompiledFunction, error) {
	section := ""
	for a.pos < len(a.lines) {
		raw := a.lines[a.pos]
		a.pos++
		line := strings.TrimRight(raw, " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indented := line != trimmed

		if !indented {
			switch {
			case strings.HasPrefix(trimmed, "function:"):
				a.fn.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "function:"))
				section = ""
			case strings.HasPrefix(trimmed, "stack-depth:"):
				n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "stack-depth:")))
				if err != nil {
					return nil, fmt.Errorf("bytecode: invalid stack-depth: %w", err)
				}
				a.fn.StackDepth = n
				section = ""
			case strings.HasPrefix(trimmed, "arg-template:"):
				v, err := parseLispValue(strings.TrimSpace(strings.TrimPrefix(trimmed, "arg-template:")))
				if err != nil {
					return nil, fmt.Errorf("bytecode: invalid arg-template: %w", err)
				}
				a.fn.ArgTemplate = v
				section = ""
			case trimmed == "constants:":
				section = "constants"
			case trimmed == "code:":
				section = "code"
			default:
				return nil, fmt.Errorf("bytecode: unexpected section: %s", trimmed)
			}
			continue
		}

		switch section {
		case "constants":
			if err := a.parseConstantLine(trimmed); err != nil {
				return nil, err
			}
		case "code":
			cl, err := parseCodeLine(trimmed)
			if err != nil {
				return nil, err
			}
			a.codeLines = append(a.codeLines, cl)
		default:
			return nil, fmt.Errorf("bytecode: indented line outside a section: %q", trimmed)
		}
	}

	code, err := assembleCode(a.codeLines)
	if err != nil {
		return nil, err
	}
	a.fn.ByteString = code
	return &a.fn, nil
}

func (a *asmState) parseConstantLine(s string) error {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return fmt.Errorf("bytecode: invalid constant line: %q", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[:idx]))
	if err != nil {
		return fmt.Errorf("bytecode: invalid constant index: %w", err)
	}
	v, err := parseLispValue(strings.TrimSpace(s[idx+1:]))
	if err != nil {
		return fmt.Errorf("bytecode: invalid constant value: %w", err)
	}
	for len(a.fn.Constants) <= n {
		a.fn.Constants = append(a.fn.Constants, LispValue{Kind: KindNil})
	}
	a.fn.Constants[n] = v
	return nil
}

func parseLispValue(s string) (LispValue, error) {
	switch {
	case s == "nil" || s == "":
		return LispValue{Kind: KindNil}, nil
	case strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2:
		return LispValue{Kind: KindString, Str: s[1 : len(s)-1]}, nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return LispValue{}, fmt.Errorf("unrecognized literal %q", s)
		}
		return LispValue{Kind: KindInt, Int: n}, nil
	}
}

func parseCodeLine(s string) (codeLine, error) {
	var cl codeLine
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		before := s[:idx]
		if !strings.Contains(before, " ") {
			cl.label = before
			s = strings.TrimSpace(s[idx+1:])
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if cl.label == "" {
			return cl, fmt.Errorf("bytecode: empty code line")
		}
		cl.mnem = "nop-label"
		return cl, nil
	}
	cl.mnem = fields[0]
	if len(fields) > 1 {
		cl.arg = fields[1]
		cl.hasArg = true
	}
	return cl, nil
}

var mnemToBase = map[string]Opcode{
	"stack-ref": Bstack_ref0,
	"varref":    Bvarref,
	"varset":    Bvarset,
	"varbind":   Bvarbind,
	"call":      Bcall,
	"unbind":    Bunbind,
}

var mnemToFixed = func() map[string]Opcode {
	m := map[string]Opcode{
		"return": Breturn, "discard": Bdiscard, "dup": Bdup,
		"sub1": Bsub1, "add1": Badd1, "negate": Bnegate, "consp": Bconsp,
		"save-excursion": Bsave_excursion, "unwind-protect": Bunwind_protect,

		"list1": Blist1, "list2": Blist2, "list3": Blist3, "list4": Blist4,
		"concat2": Bconcat2, "concat3": Bconcat3, "concat4": Bconcat4,
		"plus": Bplus, "diff": Bdiff, "mult": Bmult, "min": Bmin, "max": Bmax,
		"quo": Bquo, "nconc": Bnconc, "insert": Binsert,
		"point": Bpoint, "point-max": Bpoint_max, "point-min": Bpoint_min,
		"preceding-char": Bpreceding_char,
		"eqlsign": Beqlsign, "gtr": Bgtr, "lss": Blss, "leq": Bleq, "geq": Bgeq,
	}
	for op := range simpleCalls {
		mnem := opMnemonic(op)
		if _, taken := m[mnem]; !taken {
			m[mnem] = op
		}
	}
	return m
}()

// mnemToByteOperand are opcodes encoded as the opcode byte followed by a
// single inline byte operand (a count or depth), always 2 bytes total --
// distinct from mnemToBase's indexed families, whose encoded size varies
// with the operand's value.
var mnemToByteOperand = map[string]Opcode{
	"stack_set": Bstack_set,
	"listN":     BlistN,
	"concatN":   BconcatN,
}

func opMnemonic(op Opcode) string {
	if sc, ok := simpleCalls[op]; ok {
		return mnemonicFromHelper(sc.name)
	}
	return op.String()
}

func mnemonicFromHelper(name string) string {
	n := strings.TrimPrefix(name, "F")
	return strings.ToLower(strings.ReplaceAll(n, "_", "-"))
}

var branchMnems = map[string]Opcode{
	"goto": Bgoto, "gotoifnil": Bgotoifnil, "gotoifnonnil": Bgotoifnonnil,
	"gotoifnilelsepop": Bgotoifnilelsepop, "gotoifnonnilelsepop": Bgotoifnonnilelsepop,
	"Rgoto": BRgoto, "Rgotoifnil": BRgotoifnil, "Rgotoifnonnil": BRgotoifnonnil,
	"Rgotoifnilelsepop": BRgotoifnilelsepop, "Rgotoifnonnilelsepop": BRgotoifnonnilelsepop,
}

type pendingInsn struct {
	pc    int
	size  int
	line  codeLine
	isBr  bool
	isRel bool
}

func assembleCode(lines []codeLine) ([]byte, error) {
	labels := map[string]int{}
	var insns []pendingInsn
	pc := 0
	for _, cl := range lines {
		if cl.label != "" {
			labels[cl.label] = pc
		}
		if cl.mnem == "" || cl.mnem == "nop-label" {
			continue
		}
		size, isBr, isRel, err := instrSize(cl)
		if err != nil {
			return nil, err
		}
		insns = append(insns, pendingInsn{pc: pc, size: size, line: cl, isBr: isBr, isRel: isRel})
		pc += size
	}

	out := make([]byte, pc)
	for _, ins := range insns {
		b, err := encodeInsn(ins, labels)
		if err != nil {
			return nil, err
		}
		copy(out[ins.pc:], b)
	}
	return out, nil
}

func instrSize(cl codeLine) (size int, isBr, isRel bool, err error) {
	if op, ok := branchMnems[cl.mnem]; ok {
		if IsRelativeBranch(op) {
			return 2, true, true, nil
		}
		return 3, true, false, nil
	}
	if _, ok := mnemToBase[cl.mnem]; ok {
		if !cl.hasArg {
			return 0, false, false, fmt.Errorf("bytecode: %s requires an argument", cl.mnem)
		}
		n, err := strconv.Atoi(cl.arg)
		if err != nil {
			return 0, false, false, fmt.Errorf("bytecode: invalid argument for %s: %w", cl.mnem, err)
		}
		switch {
		case n <= 5:
			return 1, false, false, nil
		case n <= 0xff:
			return 2, false, false, nil
		default:
			return 3, false, false, nil
		}
	}
	if cl.mnem == "constant" {
		n, err := strconv.Atoi(cl.arg)
		if err != nil {
			return 0, false, false, fmt.Errorf("bytecode: invalid constant operand: %w", err)
		}
		if n <= 63 {
			return 1, false, false, nil
		}
		return 3, false, false, nil
	}
	if _, ok := mnemToByteOperand[cl.mnem]; ok {
		if !cl.hasArg {
			return 0, false, false, fmt.Errorf("bytecode: %s requires an argument", cl.mnem)
		}
		if _, err := strconv.Atoi(cl.arg); err != nil {
			return 0, false, false, fmt.Errorf("bytecode: invalid argument for %s: %w", cl.mnem, err)
		}
		return 2, false, false, nil
	}
	if _, ok := mnemToFixed[cl.mnem]; ok {
		return 1, false, false, nil
	}
	return 0, false, false, fmt.Errorf("bytecode: invalid opcode: %s", cl.mnem)
}

func encodeInsn(ins pendingInsn, labels map[string]int) ([]byte, error) {
	cl := ins.line
	if op, ok := branchMnems[cl.mnem]; ok {
		target, ok := labels[cl.arg]
		if !ok {
			return nil, fmt.Errorf("bytecode: undefined label %q", cl.arg)
		}
		if IsRelativeBranch(op) {
			off := target - (ins.pc + ins.size)
			if off < -128 || off > 127 {
				return nil, fmt.Errorf("bytecode: relative branch to %q out of range", cl.arg)
			}
			return []byte{byte(op), byte(off + 128)}, nil
		}
		return []byte{byte(op), byte(target & 0xff), byte(target >> 8)}, nil
	}
	if base, ok := mnemToBase[cl.mnem]; ok {
		n, _ := strconv.Atoi(cl.arg)
		return encodeIndexed(base, n), nil
	}
	if cl.mnem == "constant" {
		n, _ := strconv.Atoi(cl.arg)
		if n <= 63 {
			return []byte{byte(Bconstant) + byte(n)}, nil
		}
		return []byte{byte(Bconstant2), byte(n & 0xff), byte(n >> 8)}, nil
	}
	if op, ok := mnemToByteOperand[cl.mnem]; ok {
		n, _ := strconv.Atoi(cl.arg)
		return []byte{byte(op), byte(n)}, nil
	}
	if op, ok := mnemToFixed[cl.mnem]; ok {
		return []byte{byte(op)}, nil
	}
	return nil, fmt.Errorf("bytecode: invalid opcode: %s", cl.mnem)
}

func encodeIndexed(base Opcode, n int) []byte {
	switch {
	case n <= 5:
		return []byte{byte(base) + byte(n)}
	case n <= 0xff:
		return []byte{byte(base) + 6, byte(n)}
	default:
		return []byte{byte(base) + 7, byte(n & 0xff), byte(n >> 8)}
	}
}

// Dasm renders fn back to the textual format Asm accepts, decoding branch
// targets to synthetic labels.
func Dasm(fn *CompiledFunction) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function: %s\n", fn.Name)
	fmt.Fprintf(&sb, "stack-depth: %d\n", fn.StackDepth)
	fmt.Fprintf(&sb, "arg-template: %s\n", dasmLispValue(fn.ArgTemplate))

	if len(fn.Constants) > 0 {
		sb.WriteString("constants:\n")
		for i, c := range fn.Constants {
			fmt.Fprintf(&sb, "    %d: %s\n", i, dasmLispValue(c))
		}
	}

	targets, err := branchTargets(fn.ByteString)
	if err != nil {
		return "", err
	}

	sb.WriteString("code:\n")
	pc := 0
	code := fn.ByteString
	for pc < len(code) {
		op := Opcode(code[pc])
		if label, ok := targets[pc]; ok {
			fmt.Fprintf(&sb, "%s:\n", label)
		}
		switch {
		case IsAbsoluteBranch(op):
			target := int(code[pc+1]) | int(code[pc+2])<<8
			fmt.Fprintf(&sb, "    %s %s\n", op.String(), targets[target])
			pc += 3
		case IsRelativeBranch(op):
			off := int(int8(code[pc+1] - 128))
			target := pc + 2 + off
			fmt.Fprintf(&sb, "    %s %s\n", op.String(), targets[target])
			pc += 2
		case op >= Bconstant:
			fmt.Fprintf(&sb, "    constant %d\n", int(op-Bconstant))
			pc++
		case op == Bconstant2:
			n := int(code[pc+1]) | int(code[pc+2])<<8
			fmt.Fprintf(&sb, "    constant %d\n", n)
			pc += 3
		case isIndexedFamily(op):
			base, n, size := decodeIndexed(op, code, pc)
			fmt.Fprintf(&sb, "    %s %d\n", mnemForBase(base), n)
			pc += size
		case op == Bstack_set || op == BlistN || op == BconcatN || op == BinsertN || op == BdiscardN:
			fmt.Fprintf(&sb, "    %s %d\n", op.String(), int(code[pc+1]))
			pc += 2
		case op == Bstack_set2 || op == Bpushcatch || op == Bpushconditioncase:
			n := int(code[pc+1]) | int(code[pc+2])<<8
			fmt.Fprintf(&sb, "    %s %d\n", op.String(), n)
			pc += 3
		default:
			fmt.Fprintf(&sb, "    %s\n", op.String())
			pc++
		}
	}
	return sb.String(), nil
}

func dasmLispValue(v LispValue) string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindString:
		return strconv.Quote(v.Str)
	default:
		return strconv.FormatInt(v.Int, 10)
	}
}

func isIndexedFamily(op Opcode) bool {
	return (op >= Bstack_ref0 && op <= Bstack_ref7) ||
		(op >= Bvarref && op <= Bvarref7) ||
		(op >= Bvarset && op <= Bvarset7) ||
		(op >= Bvarbind && op <= Bvarbind7) ||
		(op >= Bcall && op <= Bcall7) ||
		(op >= Bunbind && op <= Bunbind7)
}

func decodeIndexed(op Opcode, code []byte, pc int) (base Opcode, n, size int) {
	var lo Opcode
	switch {
	case op >= Bstack_ref0 && op <= Bstack_ref7:
		lo = Bstack_ref0
	case op >= Bvarref && op <= Bvarref7:
		lo = Bvarref
	case op >= Bvarset && op <= Bvarset7:
		lo = Bvarset
	case op >= Bvarbind && op <= Bvarbind7:
		lo = Bvarbind
	case op >= Bcall && op <= Bcall7:
		lo = Bcall
	case op >= Bunbind && op <= Bunbind7:
		lo = Bunbind
	}
	offset := int(op - lo)
	switch offset {
	case 6:
		return lo, int(code[pc+1]), 2
	case 7:
		return lo, int(code[pc+1]) | int(code[pc+2])<<8, 3
	default:
		return lo, offset, 1
	}
}

func mnemForBase(base Opcode) string {
	for m, b := range mnemToBase {
		if b == base {
			return m
		}
	}
	return base.String()
}

func branchTargets(code []byte) (map[int]string, error) {
	targets := map[int]string{}
	pc := 0
	n := 0
	for pc < len(code) {
		op := Opcode(code[pc])
		switch {
		case IsAbsoluteBranch(op):
			if pc+3 > len(code) {
				return nil, fmt.Errorf("bytecode: truncated branch at %d", pc)
			}
			target := int(code[pc+1]) | int(code[pc+2])<<8
			if _, ok := targets[target]; !ok {
				n++
				targets[target] = fmt.Sprintf("L%d", n)
			}
			pc += 3
		case IsRelativeBranch(op):
			if pc+2 > len(code) {
				return nil, fmt.Errorf("bytecode: truncated branch at %d", pc)
			}
			off := int(int8(code[pc+1] - 128))
			target := pc + 2 + off
			if _, ok := targets[target]; !ok {
				n++
				targets[target] = fmt.Sprintf("L%d", n)
			}
			pc += 2
		case op >= Bconstant:
			pc++
		case op == Bconstant2:
			pc += 3
		case isIndexedFamily(op):
			_, _, size := decodeIndexed(op, code, pc)
			pc += size
		case op == Bstack_set || op == BlistN || op == BconcatN || op == BinsertN || op == BdiscardN:
			pc += 2
		case op == Bstack_set2 || op == Bpushcatch || op == Bpushconditioncase:
			pc += 3
		default:
			pc++
		}
	}
	return targets, nil
}
