// Package bytecode defines the byte-opcode set the translator consumes,
// the record describing one compiled function's bytecode, and a textual
// assembler/disassembler for that record used by tests and the CLI.
package bytecode

import "fmt"

// Opcode is a single byte-code instruction byte.
type Opcode uint8

// Opcodes with dedicated meaning to the control-flow builder and
// translator. Most opcodes below 0300 (octal) that do not appear in this
// list are "simple call" opcodes: they pop a fixed number of operands,
// call a named runtime helper, and push the result (see simpleCalls
// below). The numeric values match the byte-compiler's own opcode table.
const (
	Bstack_ref0 Opcode = 0
	Bstack_ref1 Opcode = 1
	Bstack_ref2 Opcode = 2
	Bstack_ref3 Opcode = 3
	Bstack_ref4 Opcode = 4
	Bstack_ref5 Opcode = 5
	Bstack_ref6 Opcode = 6 // 1-byte operand follows
	Bstack_ref7 Opcode = 7 // 2-byte operand follows

	Bvarref  Opcode = 010
	Bvarref1 Opcode = 011
	Bvarref2 Opcode = 012
	Bvarref3 Opcode = 013
	Bvarref4 Opcode = 014
	Bvarref5 Opcode = 015
	Bvarref6 Opcode = 016 // 1-byte operand follows
	Bvarref7 Opcode = 017 // 2-byte operand follows

	Bvarset  Opcode = 020
	Bvarset1 Opcode = 021
	Bvarset2 Opcode = 022
	Bvarset3 Opcode = 023
	Bvarset4 Opcode = 024
	Bvarset5 Opcode = 025
	Bvarset6 Opcode = 026
	Bvarset7 Opcode = 027

	Bvarbind  Opcode = 030
	Bvarbind1 Opcode = 031
	Bvarbind2 Opcode = 032
	Bvarbind3 Opcode = 033
	Bvarbind4 Opcode = 034
	Bvarbind5 Opcode = 035
	Bvarbind6 Opcode = 036
	Bvarbind7 Opcode = 037

	Bcall  Opcode = 040
	Bcall1 Opcode = 041
	Bcall2 Opcode = 042
	Bcall3 Opcode = 043
	Bcall4 Opcode = 044
	Bcall5 Opcode = 045
	Bcall6 Opcode = 046
	Bcall7 Opcode = 047

	Bunbind  Opcode = 050
	Bunbind1 Opcode = 051
	Bunbind2 Opcode = 052
	Bunbind3 Opcode = 053
	Bunbind4 Opcode = 054
	Bunbind5 Opcode = 055
	Bunbind6 Opcode = 056
	Bunbind7 Opcode = 057

	Bpophandler        Opcode = 060
	Bpushconditioncase Opcode = 061
	Bpushcatch         Opcode = 062

	Bconsp Opcode = 072

	Blist1 Opcode = 0103
	Blist2 Opcode = 0104
	Blist3 Opcode = 0105
	Blist4 Opcode = 0106

	Bconcat2 Opcode = 0120
	Bconcat3 Opcode = 0121
	Bconcat4 Opcode = 0122

	Bsub1   Opcode = 0123
	Badd1   Opcode = 0124
	Beqlsign Opcode = 0125
	Bgtr    Opcode = 0126
	Blss    Opcode = 0127
	Bleq    Opcode = 0130
	Bgeq    Opcode = 0131
	Bdiff   Opcode = 0132
	Bnegate Opcode = 0133
	Bplus   Opcode = 0134
	Bmax    Opcode = 0135
	Bmin    Opcode = 0136
	Bmult   Opcode = 0137

	Bpoint          Opcode = 0140
	Binsert         Opcode = 0143
	Bpoint_max      Opcode = 0144
	Bpoint_min      Opcode = 0145
	Bpreceding_char Opcode = 0150

	Bnconc Opcode = 0244
	Bquo   Opcode = 0245

	Bswitch Opcode = 0267

	Bconstant2 Opcode = 0201

	Bgoto                 Opcode = 0202
	Bgotoifnil            Opcode = 0203
	Bgotoifnonnil         Opcode = 0204
	Bgotoifnilelsepop     Opcode = 0205
	Bgotoifnonnilelsepop  Opcode = 0206

	Breturn  Opcode = 0207
	Bdiscard Opcode = 0210
	Bdup     Opcode = 0211

	Bsave_excursion               Opcode = 0212
	Bsave_window_excursion_OBSOLETE Opcode = 0213
	Bsave_restriction             Opcode = 0214
	Bcatch_OBSOLETE               Opcode = 0215
	Bunwind_protect               Opcode = 0216
	Bcondition_case_OBSOLETE      Opcode = 0217
	Btemp_output_buffer_setup_OBSOLETE Opcode = 0220
	Btemp_output_buffer_show_OBSOLETE  Opcode = 0221
	Bunbind_all_OBSOLETE          Opcode = 0222

	Bcar_safe Opcode = 0242
	Bcdr_safe Opcode = 0243

	Bnumberp  Opcode = 0247
	Bintegerp Opcode = 0250

	BRgoto                Opcode = 0252
	BRgotoifnil           Opcode = 0253
	BRgotoifnonnil        Opcode = 0254
	BRgotoifnilelsepop    Opcode = 0255
	BRgotoifnonnilelsepop Opcode = 0256

	BlistN      Opcode = 0257
	BconcatN    Opcode = 0260
	BinsertN    Opcode = 0261
	Bstack_set  Opcode = 0262
	Bstack_set2 Opcode = 0263
	BdiscardN   Opcode = 0266

	Bconstant Opcode = 0300 // Bconstant+n addresses constants[n], n in [0, 63]
)

// simpleCall describes an opcode that pops a fixed number of operands,
// calls a named runtime helper with them (in reverse order of the pop, so
// the first popped operand is the last argument) and pushes the single
// result. comp.c implements most of these through a handful of
// CASE_CALL_1/2/3 macros; this table generalizes that into data instead of
// one handler per opcode.
type simpleCall struct {
	name   string
	arity  int
	noPush bool // true if the call's result is not pushed back (a pure side effect)
}

var simpleCalls = map[Opcode]simpleCall{
	0070: {"Fnth", 2, false},
	0071: {"Fsymbolp", 1, false},
	0072: {"Fconsp", 1, false},
	0073: {"Fstringp", 1, false},
	0074: {"Flistp", 1, false},
	0075: {"Feq", 2, false},
	0076: {"Fmemq", 2, false},
	0077: {"Fnot", 1, false},
	0100: {"Fcar", 1, false},
	0101: {"Fcdr", 1, false},
	0102: {"Fcons", 2, false},
	0107: {"Flength", 1, false},
	0110: {"Faref", 2, false},
	0111: {"Faset", 3, false},
	0112: {"Fsymbol_value", 1, false},
	0113: {"Fsymbol_function", 1, false},
	0114: {"Fset", 2, false},
	0115: {"Ffset", 2, false},
	0116: {"Fget", 2, false},
	0117: {"Fsubstring", 3, false},
	0123: {"Fsub1", 1, false},
	0124: {"Fadd1", 1, false},
	0142: {"Fgoto_char", 1, false},
	0146: {"Fchar_after", 1, false},
	0147: {"Ffollowing_char", 0, false},
	// Bpreceding_char calls Fprevious_char, not a same-named helper
	// (comp.c:1335-1338) -- the only F-prefixed call target whose name
	// diverges from its opcode's mnemonic (the helper_* entries below use
	// their own naming).
	0150: {"Fprevious_char", 0, false},
	0151: {"Fcurrent_column", 0, false},
	0152: {"Findent_to", 2, false},
	0154: {"Feolp", 0, false},
	0155: {"Feobp", 0, false},
	0156: {"Fbolp", 0, false},
	0157: {"Fbobp", 0, false},
	0160: {"Fcurrent_buffer", 0, false},
	0161: {"Fset_buffer", 1, false},
	0165: {"Fforward_char", 1, false},
	0166: {"Fforward_word", 1, false},
	0167: {"Fskip_chars_forward", 2, false},
	0170: {"Fskip_chars_backward", 2, false},
	0171: {"Fforward_line", 1, false},
	0172: {"Fchar_syntax", 1, false},
	0173: {"Fbuffer_substring", 2, false},
	0174: {"Fdelete_region", 2, false},
	0175: {"Fnarrow_to_region", 2, false},
	0176: {"Fwiden", 0, false},
	0223: {"Fset_marker", 3, false},
	0224: {"Fmatch_beginning", 1, false},
	0225: {"Fmatch_end", 1, false},
	0226: {"Fupcase", 1, false},
	0227: {"Fdowncase", 1, false},
	0230: {"Fstring_equal", 2, false},
	0231: {"Fstring_lessp", 2, false},
	0232: {"Fequal", 2, false},
	0233: {"Fnthcdr", 2, false},
	0234: {"Felt", 2, false},
	0235: {"Fmember", 2, false},
	0236: {"Fassq", 2, false},
	0237: {"Fnreverse", 1, false},
	0240: {"Fsetcar", 2, false},
	0241: {"Fsetcdr", 2, false},
	0246: {"Frem", 2, false},

	// dynamic-extent and obsolete opcodes (SPEC_FULL.md §4.9): each
	// compiles to a call into the matching loader-side helper. catch,
	// condition-case and save-window-excursion push the helper's result;
	// the others discard it.
	Bsave_excursion:                    {"helper_save_excursion", 0, true},
	Bsave_restriction:                  {"helper_save_restriction", 0, true},
	Bunwind_protect:                    {"helper_unwind_protect", 1, true},
	Bcatch_OBSOLETE:                    {"helper_catch", 2, false},
	Bcondition_case_OBSOLETE:           {"helper_condition_case", 3, false},
	Bsave_window_excursion_OBSOLETE:    {"helper_save_window_excursion", 1, false},
	Btemp_output_buffer_setup_OBSOLETE: {"helper_temp_output_buffer_setup", 1, true},
	Btemp_output_buffer_show_OBSOLETE:  {"helper_temp_output_buffer_show", 1, true},
}

// SimpleCall reports whether op follows the generic "pop N, call helper,
// (maybe) push result" convention, and if so its runtime helper name,
// arity, and whether the result should be pushed back onto the operand
// stack.
func SimpleCall(op Opcode) (name string, arity int, pushResult bool, ok bool) {
	sc, ok := simpleCalls[op]
	return sc.name, sc.arity, !sc.noPush, ok
}

// variadicCall describes an opcode whose operands are popped and staged
// through the §4.5 scratch-call-area convention (EMIT_SCRATCH_CALL_N in
// comp.c) rather than passed as direct call arguments. arity is -1 for the
// "N" variants, whose count is instead the opcode's own inline byte
// operand.
type variadicCall struct {
	name  string
	arity int
}

var variadicCalls = map[Opcode]variadicCall{
	Bconcat2: {"Fconcat", 2},
	Bconcat3: {"Fconcat", 3},
	Bconcat4: {"Fconcat", 4},
	BconcatN: {"Fconcat", -1},
	Bplus:    {"Fplus", 2},
	Bdiff:    {"Fminus", 2},
	Bmult:    {"Ftimes", 2},
	Bmin:     {"Fmin", 2},
	Bmax:     {"Fmax", 2},
	Bquo:     {"Fquo", 2},
	Bnconc:   {"Fnconc", 2},
	Binsert:  {"Finsert", 1},
}

// VariadicCall reports whether op routes through the scratch-call-area
// convention, and if so its runtime helper name and fixed arity (-1 if the
// opcode instead carries its own byte-encoded count, i.e. concatN).
func VariadicCall(op Opcode) (name string, arity int, ok bool) {
	vc, ok := variadicCalls[op]
	return vc.name, vc.arity, ok
}

// listConstructOpcodes are list1..4 and listN: each pops N operands and
// builds a right-to-left chain of Fcons(x, acc) from nil (comp.c:1031-1050).
// arity is -1 for listN, whose count is its inline byte operand.
var listConstructOpcodes = map[Opcode]int{
	Blist1: 1,
	Blist2: 2,
	Blist3: 3,
	Blist4: 4,
	BlistN: -1,
}

// ListConstruct reports whether op builds a list via the Fcons chain, and
// if so its fixed arity (-1 if byte-encoded, i.e. listN).
func ListConstruct(op Opcode) (arity int, ok bool) {
	arity, ok = listConstructOpcodes[op]
	return arity, ok
}

// Arithmetic comparison codes passed as the third argument to the runtime
// helper "arithcompare" (comp.c's ARITH_EQUAL and friends).
const (
	ArithEqual = iota
	ArithGrtr
	ArithLess
	ArithGrtrOrEqual
	ArithLessOrEqual
)

// arithCompareCodes maps each arithmetic-comparison opcode to the "code"
// operand comp.c's EMIT_ARITHCOMPARE macro passes as arithcompare's third
// argument.
var arithCompareCodes = map[Opcode]int{
	Beqlsign: ArithEqual,
	Bgtr:     ArithGrtr,
	Blss:     ArithLess,
	Bgeq:     ArithGrtrOrEqual,
	Bleq:     ArithLessOrEqual,
}

// ArithCompare reports whether op is one of the five arithmetic-comparison
// opcodes, and if so the comparison code arithcompare expects.
func ArithCompare(op Opcode) (code int, ok bool) {
	code, ok = arithCompareCodes[op]
	return code, ok
}

// bufferGlobalOpcodes map point/point-max/point-min to the name of the
// host buffer global (see rtb.Binding's PT/ZV/BEGV) each reads before
// calling make_fixed_natnum (comp.c:1277-1315).
var bufferGlobalOpcodes = map[Opcode]string{
	Bpoint:     "PT",
	Bpoint_max: "ZV",
	Bpoint_min: "BEGV",
}

// BufferGlobal reports whether op reads a host buffer-position global, and
// if so which one ("PT", "ZV" or "BEGV").
func BufferGlobal(op Opcode) (global string, ok bool) {
	global, ok = bufferGlobalOpcodes[op]
	return global, ok
}

// unsupported lists opcodes the translator refuses to compile: historical
// oddities this system deliberately does not implement (see SPEC_FULL.md
// §4.9 and §4.3).
var unsupported = map[Opcode]bool{
	Bpophandler:        true,
	Bpushconditioncase: true,
	Bpushcatch:         true,
	Bnumberp:           true,
	Bintegerp:          true,
	BinsertN:           true,
	Bstack_set2:        true,
	BdiscardN:          true,
	Bswitch:            true,
	Bcar_safe:          true,
	Bcdr_safe:          true,
	Bunbind_all_OBSOLETE: true,
}

// Unsupported reports whether op is a recognized-but-refused opcode.
func Unsupported(op Opcode) bool { return unsupported[op] }

var opcodeNames = map[Opcode]string{
	Bgoto: "goto", Bgotoifnil: "gotoifnil", Bgotoifnonnil: "gotoifnonnil",
	Bgotoifnilelsepop: "gotoifnilelsepop", Bgotoifnonnilelsepop: "gotoifnonnilelsepop",
	BRgoto: "Rgoto", BRgotoifnil: "Rgotoifnil", BRgotoifnonnil: "Rgotoifnonnil",
	BRgotoifnilelsepop: "Rgotoifnilelsepop", BRgotoifnonnilelsepop: "Rgotoifnonnilelsepop",
	Breturn: "return", Bdiscard: "discard", Bdup: "dup",
	Bsub1: "sub1", Badd1: "add1", Bnegate: "negate", Bconsp: "consp",
	Bconstant2: "constant2", BlistN: "listN", BconcatN: "concatN",
	Bstack_set: "stack_set", Bswitch: "switch",
	BinsertN: "insertN", BdiscardN: "discardN", Bstack_set2: "stack_set2",
	Bpushcatch: "pushcatch", Bpushconditioncase: "pushconditioncase",
	Blist1: "list1", Blist2: "list2", Blist3: "list3", Blist4: "list4",
	Bconcat2: "concat2", Bconcat3: "concat3", Bconcat4: "concat4",
	Bplus: "plus", Bdiff: "diff", Bmult: "mult", Bmin: "min", Bmax: "max",
	Bquo: "quo", Bnconc: "nconc", Binsert: "insert",
	Bpoint: "point", Bpoint_max: "point_max", Bpoint_min: "point_min",
	Bpreceding_char: "preceding_char",
	Beqlsign: "eqlsign", Bgtr: "gtr", Blss: "lss", Bleq: "leq", Bgeq: "geq",
	Bsave_excursion: "save_excursion", Bsave_restriction: "save_restriction",
	Bunwind_protect: "unwind_protect", Bcatch_OBSOLETE: "catch",
	Bcondition_case_OBSOLETE: "condition_case",
	Bsave_window_excursion_OBSOLETE: "save_window_excursion",
	Btemp_output_buffer_setup_OBSOLETE: "temp_output_buffer_setup",
	Btemp_output_buffer_show_OBSOLETE: "temp_output_buffer_show",
}

// String renders op for disassembly: its mnemonic if known, its
// simple-call helper name if it is a generic call opcode, the constant
// index if it falls in the Bconstant range, the varref/varset/varbind/
// call/unbind family name, or a numeric fallback.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	if sc, ok := simpleCalls[op]; ok {
		return sc.name
	}
	if op >= Bconstant {
		return fmt.Sprintf("constant[%d]", int(op-Bconstant))
	}
	switch {
	case op >= Bstack_ref0 && op <= Bstack_ref7:
		return fmt.Sprintf("stack-ref %d", int(op-Bstack_ref0))
	case op >= Bvarref && op <= Bvarref7:
		return fmt.Sprintf("varref %d", int(op-Bvarref))
	case op >= Bvarset && op <= Bvarset7:
		return fmt.Sprintf("varset %d", int(op-Bvarset))
	case op >= Bvarbind && op <= Bvarbind7:
		return fmt.Sprintf("varbind %d", int(op-Bvarbind))
	case op >= Bcall && op <= Bcall7:
		return fmt.Sprintf("call %d", int(op-Bcall))
	case op >= Bunbind && op <= Bunbind7:
		return fmt.Sprintf("unbind %d", int(op-Bunbind))
	}
	return fmt.Sprintf("illegal op (%d)", op)
}

// IsAbsoluteBranch reports whether op encodes its target as an absolute
// 2-byte little-endian PC.
func IsAbsoluteBranch(op Opcode) bool {
	switch op {
	case Bgoto, Bgotoifnil, Bgotoifnonnil, Bgotoifnilelsepop, Bgotoifnonnilelsepop:
		return true
	}
	return false
}

// IsRelativeBranch reports whether op encodes its target as a signed,
// 128-biased single-byte offset from the PC of the byte following the
// operand.
func IsRelativeBranch(op Opcode) bool {
	switch op {
	case BRgoto, BRgotoifnil, BRgotoifnonnil, BRgotoifnilelsepop, BRgotoifnonnilelsepop:
		return true
	}
	return false
}

// PopsWithoutConsuming reports whether op is one of the two
// conditional-pop branch encodings (absolute or relative) whose pop is
// deferred to the fall-through block.
func PopsWithoutConsuming(op Opcode) bool {
	switch op {
	case Bgotoifnilelsepop, Bgotoifnonnilelsepop, BRgotoifnilelsepop, BRgotoifnonnilelsepop:
		return true
	}
	return false
}

// IsNilBranch reports whether op (absolute or relative) branches on a nil
// condition (as opposed to non-nil).
func IsNilBranch(op Opcode) bool {
	switch op {
	case Bgotoifnil, Bgotoifnilelsepop, BRgotoifnil, BRgotoifnilelsepop:
		return true
	}
	return false
}

// EndsBlock reports whether op is a non-branch opcode that, per the CFG
// builder's rules, still forces the next PC to start a fresh block.
func EndsBlock(op Opcode) bool {
	switch op {
	case Bsub1, Badd1, Bnegate, Breturn:
		return true
	}
	return false
}
