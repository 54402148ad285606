package bytecode

import "strconv"

// ValueType identifies the variant stored in a Value.
type ValueType uint8

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is a stack-allocated tagged union. Small primitives (nil, booleans,
// numbers) never touch the heap; everything else is a reference to a
// heap-managed Obj. Booleans store 0/1 in Num.
type Value struct {
	Type ValueType
	Num  float64
	Obj  Obj
}

// Constructors

func NilVal() Value {
	return Value{Type: ValNil}
}

func BoolVal(b bool) Value {
	var n float64
	if b {
		n = 1
	}
	return Value{Type: ValBool, Num: n}
}

func NumberVal(n float64) Value {
	return Value{Type: ValNumber, Num: n}
}

func ObjVal(o Obj) Value {
	return Value{Type: ValObj, Obj: o}
}

// Predicates and accessors

func (v Value) IsNil() bool    { return v.Type == ValNil }
func (v Value) IsBool() bool   { return v.Type == ValBool }
func (v Value) IsNumber() bool { return v.Type == ValNumber }
func (v Value) IsObj() bool    { return v.Type == ValObj }

func (v Value) AsBool() bool {
	return v.Num != 0
}

func (v Value) AsNumber() float64 {
	return v.Num
}

// IsString reports whether v holds a string object.
func (v Value) IsString() bool {
	_, ok := v.Obj.(*ObjString)
	return v.Type == ValObj && ok
}

// AsString returns the underlying string object. Callers must check
// IsString first.
func (v Value) AsString() *ObjString {
	return v.Obj.(*ObjString)
}

// IsFalsey reports Lox falsiness: nil and false are falsey, everything
// else (including 0 and the empty string) is truthy.
func (v Value) IsFalsey() bool {
	return v.Type == ValNil || (v.Type == ValBool && !v.AsBool())
}

// Equals implements Lox equality: nil equals nil, booleans by value,
// numbers by IEEE-754 comparison (NaN != NaN), objects by identity.
// Identity is sufficient for strings because all strings are interned.
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValNil:
		return true
	case ValBool:
		return v.AsBool() == other.AsBool()
	case ValNumber:
		return v.Num == other.Num
	case ValObj:
		return v.Obj == other.Obj
	default:
		return false
	}
}

// String renders the value the way the print statement does.
func (v Value) String() string {
	switch v.Type {
	case ValNil:
		return "nil"
	case ValBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case ValNumber:
		return formatNumber(v.Num)
	case ValObj:
		return v.Obj.String()
	default:
		return "nil"
	}
}

// formatNumber renders a Lox number: shortest decimal form, no exponent
// notation, no trailing ".0" on integral values. Printing an integer in
// [-2^53, 2^53] and re-scanning the text yields the same number.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
