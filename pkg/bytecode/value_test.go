package bytecode

import (
	"math"
	"strconv"
	"testing"
)

func TestFalsiness(t *testing.T) {
	heap := NewHeap()
	tests := []struct {
		value Value
		want  bool
	}{
		{NilVal(), true},
		{BoolVal(false), true},
		{BoolVal(true), false},
		{NumberVal(0), false},
		{NumberVal(1), false},
		{NumberVal(-1), false},
		{ObjVal(heap.Intern("")), false},
		{ObjVal(heap.Intern("x")), false},
	}

	for _, tt := range tests {
		if got := tt.value.IsFalsey(); got != tt.want {
			t.Errorf("IsFalsey(%s) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestEquality(t *testing.T) {
	heap := NewHeap()
	a := heap.Intern("hello")
	b := heap.Intern("hello")
	c := heap.Intern("world")

	tests := []struct {
		name string
		x, y Value
		want bool
	}{
		{"nil = nil", NilVal(), NilVal(), true},
		{"true = true", BoolVal(true), BoolVal(true), true},
		{"true != false", BoolVal(true), BoolVal(false), false},
		{"1 = 1", NumberVal(1), NumberVal(1), true},
		{"1 != 2", NumberVal(1), NumberVal(2), false},
		{"NaN != NaN", NumberVal(math.NaN()), NumberVal(math.NaN()), false},
		{"nil != false", NilVal(), BoolVal(false), false},
		{"0 != false", NumberVal(0), BoolVal(false), false},
		{"interned strings equal", ObjVal(a), ObjVal(b), true},
		{"different strings", ObjVal(a), ObjVal(c), false},
	}

	for _, tt := range tests {
		if got := tt.x.Equals(tt.y); got != tt.want {
			t.Errorf("%s: Equals = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInterningGivesIdenticalObjects(t *testing.T) {
	heap := NewHeap()
	a := heap.Intern("shared")
	b := heap.Intern("shared")
	if a != b {
		t.Error("equal contents interned to distinct objects")
	}
	if a.Hash != b.Hash {
		t.Error("hashes differ for identical objects")
	}
}

func TestNumberPrinting(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0"},
		{7, "7"},
		{-3, "-3"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{100, "100"},
		{1e6, "1000000"},
	}

	for _, tt := range tests {
		if got := NumberVal(tt.value).String(); got != tt.want {
			t.Errorf("print %v = %q, want %q", tt.value, got, tt.want)
		}
	}
}

// Printing an integer in [-2^53, 2^53] and re-scanning the text yields
// the same number.
func TestNumberPrintRoundTrip(t *testing.T) {
	values := []float64{
		0, 1, -1, 42, 1e15,
		math.Pow(2, 53), -math.Pow(2, 53),
		math.Pow(2, 53) - 1,
	}

	for _, v := range values {
		text := NumberVal(v).String()
		back, err := strconv.ParseFloat(text, 64)
		if err != nil {
			t.Errorf("re-scan of %q failed: %v", text, err)
			continue
		}
		if back != v {
			t.Errorf("round trip %v -> %q -> %v", v, text, back)
		}
	}
}

func TestValuePrintedForms(t *testing.T) {
	heap := NewHeap()

	fn := heap.NewFunction()
	fn.Name = heap.Intern("area")
	script := heap.NewFunction()
	closure := heap.NewClosure(fn)
	class := heap.NewClass(heap.Intern("Shape"))
	instance := heap.NewInstance(class)
	bound := heap.NewBoundMethod(ObjVal(instance), closure)
	native := heap.NewNative(func(int, []Value) Value { return NilVal() })

	tests := []struct {
		value Value
		want  string
	}{
		{NilVal(), "nil"},
		{BoolVal(true), "true"},
		{BoolVal(false), "false"},
		{ObjVal(heap.Intern("text")), "text"},
		{ObjVal(fn), "<fn area>"},
		{ObjVal(script), "<script>"},
		{ObjVal(closure), "<fn area>"},
		{ObjVal(class), "Shape"},
		{ObjVal(instance), "Shape instance"},
		{ObjVal(bound), "<fn area>"},
		{ObjVal(native), "<native fn>"},
	}

	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
