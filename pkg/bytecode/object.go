package bytecode

import (
	"fmt"
	"hash/fnv"
	"unsafe"
)

// ObjType identifies the concrete type of a heap object.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

// Obj is a heap-managed object. Every variant embeds objHeader, which
// carries the mark bit and the intrusive link for the heap's object list.
type Obj interface {
	Type() ObjType
	String() string
	header() *objHeader
}

// objHeader is the common header shared by all heap objects.
type objHeader struct {
	marked bool
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// ObjString is an immutable, interned string with a precomputed FNV-1a
// hash. Two strings with equal contents are the same object.
type ObjString struct {
	objHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) Type() ObjType  { return ObjTypeString }
func (s *ObjString) String() string { return s.Chars }

// ObjFunction is a compiled function: its bytecode chunk, arity, and the
// number of upvalues its closures capture.
type ObjFunction struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString // nil for the top-level script
}

func (f *ObjFunction) Type() ObjType { return ObjTypeFunction }

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NativeFn is a built-in function. Natives receive a window into the value
// stack and must not allocate heap objects without keeping them reachable.
type NativeFn func(argCount int, args []Value) Value

// ObjNative wraps a built-in function.
type ObjNative struct {
	objHeader
	Fn NativeFn
}

func (n *ObjNative) Type() ObjType  { return ObjTypeNative }
func (n *ObjNative) String() string { return "<native fn>" }

// ObjClosure pairs a function with the upvalues it captured. Upvalues has
// exactly Function.UpvalueCount elements.
type ObjClosure struct {
	objHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) Type() ObjType  { return ObjTypeClosure }
func (c *ObjClosure) String() string { return c.Function.String() }

// ObjUpvalue is the indirection cell for a captured variable. While open,
// Location indexes the VM's value stack and the cell sits on the VM's open
// list, ordered by descending slot; once closed, Location is -1 and Closed
// owns the value.
type ObjUpvalue struct {
	objHeader
	Location int
	Closed   Value
	NextOpen *ObjUpvalue
}

func (u *ObjUpvalue) Type() ObjType  { return ObjTypeUpvalue }
func (u *ObjUpvalue) String() string { return "upvalue" }

// IsOpen reports whether the cell still points into the value stack.
func (u *ObjUpvalue) IsOpen() bool { return u.Location >= 0 }

// ObjClass is a class: a name and a method table keyed by interned name.
type ObjClass struct {
	objHeader
	Name    *ObjString
	Methods Table
}

func (c *ObjClass) Type() ObjType  { return ObjTypeClass }
func (c *ObjClass) String() string { return c.Name.Chars }

// ObjInstance is an instance of a class with its field table.
type ObjInstance struct {
	objHeader
	Class  *ObjClass
	Fields Table
}

func (i *ObjInstance) Type() ObjType  { return ObjTypeInstance }
func (i *ObjInstance) String() string { return i.Class.Name.Chars + " instance" }

// ObjBoundMethod pairs a receiver with a method closure so the method can
// be called later with `this` already bound.
type ObjBoundMethod struct {
	objHeader
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) Type() ObjType  { return ObjTypeBoundMethod }
func (b *ObjBoundMethod) String() string { return b.Method.Function.String() }

// hashString computes the FNV-1a hash used for interning and table probing.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Constructors. Every object is created through Heap.allocate, which
// accounts its size, may run a collection, and links it into the object
// list before any other allocation can occur.

// Intern returns the canonical string object for chars, creating and
// registering it on first sight.
func (h *Heap) Intern(chars string) *ObjString {
	hash := hashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	s := &ObjString{Chars: chars, Hash: hash}
	h.allocate(s, objSize(s))
	h.strings.Set(s, NilVal())
	return s
}

// NewFunction creates an empty function object; the compiler fills in the
// chunk, arity, and upvalue count as it parses.
func (h *Heap) NewFunction() *ObjFunction {
	f := &ObjFunction{}
	h.allocate(f, objSize(f))
	return f
}

// NewNative wraps a Go function as a callable object.
func (h *Heap) NewNative(fn NativeFn) *ObjNative {
	n := &ObjNative{Fn: fn}
	h.allocate(n, objSize(n))
	return n
}

// NewClosure wraps a function with an upvalue vector sized to its
// upvalue count. The slots are filled by OP_CLOSURE's descriptor tail.
func (h *Heap) NewClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
	h.allocate(c, objSize(c))
	return c
}

// NewUpvalue creates an open upvalue pointing at the given stack slot.
func (h *Heap) NewUpvalue(slot int) *ObjUpvalue {
	u := &ObjUpvalue{Location: slot, Closed: NilVal()}
	h.allocate(u, objSize(u))
	return u
}

// NewClass creates a class with an empty method table.
func (h *Heap) NewClass(name *ObjString) *ObjClass {
	c := &ObjClass{Name: name}
	h.allocate(c, objSize(c))
	return c
}

// NewInstance creates an instance with an empty field table.
func (h *Heap) NewInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Class: class}
	h.allocate(i, objSize(i))
	return i
}

// NewBoundMethod pairs receiver and method.
func (h *Heap) NewBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Receiver: receiver, Method: method}
	h.allocate(b, objSize(b))
	return b
}

// objSize estimates the heap footprint of an object at allocation time.
// Only parts that are fixed for the object's lifetime are counted, so the
// same size can be subtracted when the sweep frees it.
func objSize(o Obj) int {
	switch o := o.(type) {
	case *ObjString:
		return int(unsafe.Sizeof(*o)) + len(o.Chars)
	case *ObjFunction:
		return int(unsafe.Sizeof(*o))
	case *ObjNative:
		return int(unsafe.Sizeof(*o))
	case *ObjClosure:
		return int(unsafe.Sizeof(*o)) + cap(o.Upvalues)*int(unsafe.Sizeof(uintptr(0)))
	case *ObjUpvalue:
		return int(unsafe.Sizeof(*o))
	case *ObjClass:
		return int(unsafe.Sizeof(*o))
	case *ObjInstance:
		return int(unsafe.Sizeof(*o))
	case *ObjBoundMethod:
		return int(unsafe.Sizeof(*o))
	default:
		return 0
	}
}
