package bytecode

import (
	"fmt"

	"github.com/mna/lispjit/rtb"
)

// LispValue is the compile-time representation of a Lisp constant or an
// arg-template value: a tagged union discriminated by Kind. The translator
// only ever needs to inspect constants, never mutate them.
type LispValue struct {
	Kind LispKind
	Int  int64
	Str  string
	List []LispValue // for the cons-based legacy arg-template encoding
}

type LispKind uint8

const (
	KindNil LispKind = iota
	KindInt
	KindString
	KindSymbol
	KindCons
	KindFloat
)

// CompiledFunction is the loader's input record: everything the translator
// needs to compile one function.
type CompiledFunction struct {
	Name        string
	ByteString  []byte
	Constants   []LispValue
	StackDepth  int
	ArgTemplate LispValue
}

// Arity is the decoded (min, max, rest) argument contract of a function.
type Arity struct {
	Min     int
	Max     int
	HasRest bool
}

// DecodeArity decodes tpl per the byte-compiler's three encodings: a
// fixnum bit-packed template, a cons-based legacy lambda list, or nil
// (meaning the 0-argument, no-rest contract).
func DecodeArity(tpl LispValue) (Arity, error) {
	switch tpl.Kind {
	case KindNil:
		return Arity{}, nil
	case KindInt:
		n := tpl.Int
		if n < 0 {
			return Arity{}, fmt.Errorf("bytecode: negative arg_template %d", n)
		}
		if n&0x80 != 0 {
			return Arity{}, fmt.Errorf("bytecode: rest-args bit set in fixnum arg_template %d, unsupported", n)
		}
		min := int(n & 0x7f)
		max := int(n >> 8)
		if max < min {
			return Arity{}, fmt.Errorf("bytecode: arg_template %d has max %d < min %d", n, max, min)
		}
		return Arity{Min: min, Max: max}, nil
	case KindCons:
		// legacy lambda-list encoding: length of the list is both min and
		// max, &rest/&optional markers are not modeled (Non-goal).
		n := len(tpl.List)
		return Arity{Min: n, Max: n}, nil
	default:
		return Arity{}, fmt.Errorf("bytecode: arg_template has unsupported kind %d", tpl.Kind)
	}
}

// ToLispObjBits renders a compile-time constant as the raw bit pattern a
// LispObj carrying it would have, used to materialize CONSTANT operands.
// Only the representations this system compiles against are supported;
// everything else yields an error rather than a silently wrong bit
// pattern.
func ToLispObjBits(v LispValue, cfg rtb.Config) (uint64, error) {
	switch v.Kind {
	case KindNil:
		return 0, nil
	case KindInt:
		limit := int64(1) << uint(63-cfg.IntTypeBits)
		if v.Int >= limit || v.Int < -limit {
			return 0, fmt.Errorf("bytecode: integer constant %d exceeds fixnum range", v.Int)
		}
		return uint64(v.Int)<<uint(cfg.IntTypeBits) | uint64(cfg.LispInt0), nil
	default:
		return 0, fmt.Errorf("bytecode: constant of kind %d has no compile-time bit representation", v.Kind)
	}
}
