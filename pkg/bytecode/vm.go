package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("lox.vm")

const (
	// FramesMax bounds call depth. Checked on every call.
	FramesMax = 64
	// StackMax bounds the shared value stack. Frames window into it.
	StackMax = FramesMax * 256
)

// InterpretResult is the outcome of interpreting a piece of source.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one active call: the closure being run, its instruction
// pointer, and the stack index where its slot 0 (the callee, or the
// receiver for methods) lives.
type CallFrame struct {
	closure *ObjClosure
	ip      int
	slots   int
}

// VM executes compiled Lox. One VM holds one heap; globals persist across
// Interpret calls, which is what keeps REPL sessions stateful.
type VM struct {
	heap *Heap

	stack    []Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      Table
	openUpvalues *ObjUpvalue
	initString   *ObjString

	startTime time.Time
	stdout    io.Writer
	stderr    io.Writer

	// Trace dumps the stack and each instruction as it executes.
	Trace bool
	// PrintCode disassembles every function as it finishes compiling.
	PrintCode bool
}

// Option configures a VM at construction.
type Option func(*VM)

// WithOutput redirects the print statement and diagnostics.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(vm *VM) {
		vm.stdout = stdout
		vm.stderr = stderr
	}
}

// WithHeap substitutes a preconfigured heap (GC stress mode, etc.).
func WithHeap(h *Heap) Option {
	return func(vm *VM) {
		vm.heap = h
	}
}

// NewVM creates a VM with its own heap and the standard natives defined.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		stack:     make([]Value, StackMax),
		startTime: time.Now(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.heap == nil {
		vm.heap = NewHeap()
	}

	// The VM is a root source before anything is interned: with GC
	// stress on, even the first allocation collects.
	vm.heap.AddRoots(vm)
	vm.initString = vm.heap.Intern("init")

	vm.defineNative("clock", func(argCount int, args []Value) Value {
		return NumberVal(time.Since(vm.startTime).Seconds())
	})

	return vm
}

// Heap exposes the VM's heap, mainly for tests and tooling.
func (vm *VM) Heap() *Heap { return vm.heap }

// Interpret compiles and runs one unit of source.
func (vm *VM) Interpret(source string) InterpretResult {
	function := Compile(vm.heap, source, vm.stderr, vm.PrintCode)
	if function == nil {
		return InterpretCompileError
	}

	vm.push(ObjVal(function))
	closure := vm.heap.NewClosure(function)
	vm.pop()
	vm.push(ObjVal(closure))
	vm.call(closure, 0)

	return vm.run()
}

// ---------------------------------------------------------------------------
// Stack and frame helpers
// ---------------------------------------------------------------------------

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

// runtimeError reports the message and a frame trace to stderr, then
// resets the VM so the driver can keep going (REPL mode).
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.stderr, format, args...)
	fmt.Fprintln(vm.stderr)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		function := frame.closure.Function
		// frame.ip points past the instruction that failed.
		line := function.Chunk.Lines[frame.ip-1]
		fmt.Fprintf(vm.stderr, "[line %d] in ", line)
		if function.Name == nil {
			fmt.Fprintln(vm.stderr, "script")
		} else {
			fmt.Fprintf(vm.stderr, "%s()\n", function.Name.Chars)
		}
	}

	vm.resetStack()
}

// markRoots implements the GC contract: everything the VM can reach is a
// root — the live stack window, every frame's closure, the open upvalue
// list, the globals table, and the cached "init" string.
func (vm *VM) markRoots(h *Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.markObject(vm.frames[i].closure)
	}
	for upvalue := vm.openUpvalues; upvalue != nil; upvalue = upvalue.NextOpen {
		h.markObject(upvalue)
	}
	h.markTable(&vm.globals)
	h.markObject(vm.initString)
}

// defineNative registers a built-in under name. The name string and the
// native both ride the stack until they are in the globals table, so a
// collection between the two allocations cannot reclaim either.
func (vm *VM) defineNative(name string, fn NativeFn) {
	vm.push(ObjVal(vm.heap.Intern(name)))
	vm.push(ObjVal(vm.heap.NewNative(fn)))
	vm.globals.Set(vm.stack[0].AsString(), vm.stack[1])
	vm.pop()
	vm.pop()
	vmLog.Debugf("defined native %q", name)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call pushes a frame for closure. Slot 0 is the callee value already on
// the stack; arguments occupy the following argCount slots.
func (vm *VM) call(closure *ObjClosure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.",
			closure.Function.Arity, argCount)
		return false
	}

	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return true
}

func (vm *VM) callValue(callee Value, argCount int) bool {
	if callee.IsObj() {
		switch callee := callee.Obj.(type) {
		case *ObjBoundMethod:
			vm.stack[vm.stackTop-argCount-1] = callee.Receiver
			return vm.call(callee.Method, argCount)

		case *ObjClass:
			vm.stack[vm.stackTop-argCount-1] = ObjVal(vm.heap.NewInstance(callee))
			if initializer, ok := callee.Methods.Get(vm.initString); ok {
				return vm.call(initializer.Obj.(*ObjClosure), argCount)
			}
			if argCount != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true

		case *ObjClosure:
			return vm.call(callee, argCount)

		case *ObjNative:
			result := callee.Fn(argCount, vm.stack[vm.stackTop-argCount:vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

// invokeFromClass calls a method looked up on class directly, skipping
// the bound-method allocation a plain property access would make.
func (vm *VM) invokeFromClass(class *ObjClass, name *ObjString, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return vm.call(method.Obj.(*ObjClosure), argCount)
}

func (vm *VM) invoke(name *ObjString, argCount int) bool {
	receiver := vm.peek(argCount)

	instance, ok := receiver.Obj.(*ObjInstance)
	if !ok || !receiver.IsObj() {
		vm.runtimeError("Only instances have methods.")
		return false
	}

	// A field shadows any method of the same name.
	if value, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = value
		return vm.callValue(value, argCount)
	}

	return vm.invokeFromClass(instance.Class, name, argCount)
}

// bindMethod wraps a method of class around the receiver at stack top.
func (vm *VM) bindMethod(class *ObjClass, name *ObjString) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}

	bound := vm.heap.NewBoundMethod(vm.peek(0), method.Obj.(*ObjClosure))
	vm.pop()
	vm.push(ObjVal(bound))
	return true
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the upvalue for a stack slot, creating it if no
// closure has captured that slot yet. The open list is ordered by
// descending slot so both this walk and closeUpvalues stay local.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	var prev *ObjUpvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Location > slot {
		prev = upvalue
		upvalue = upvalue.NextOpen
	}

	if upvalue != nil && upvalue.Location == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(slot)
	created.NextOpen = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues moves every open upvalue at or above last off the stack
// and into its own cell.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Location >= last {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Location]
		upvalue.Location = -1
		vm.openUpvalues = upvalue.NextOpen
		upvalue.NextOpen = nil
	}
}

// upvalueGet reads through a cell regardless of open/closed state.
func (vm *VM) upvalueGet(upvalue *ObjUpvalue) Value {
	if upvalue.IsOpen() {
		return vm.stack[upvalue.Location]
	}
	return upvalue.Closed
}

func (vm *VM) upvalueSet(upvalue *ObjUpvalue, v Value) {
	if upvalue.IsOpen() {
		vm.stack[upvalue.Location] = v
	} else {
		upvalue.Closed = v
	}
}

// concatenate joins the two strings at stack top. They stay on the stack
// until the result is interned so a collection cannot reclaim them.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	result := vm.heap.Intern(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(ObjVal(result))
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		s := binary.BigEndian.Uint16(frame.closure.Function.Chunk.Code[frame.ip:])
		frame.ip += 2
		return s
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *ObjString {
		return readConstant().AsString()
	}

	for {
		if vm.Trace {
			fmt.Fprint(vm.stderr, "          ")
			for i := 0; i < vm.stackTop; i++ {
				fmt.Fprintf(vm.stderr, "[ %s ]", vm.stack[i])
			}
			fmt.Fprintln(vm.stderr)
			disassembleInstruction(&frame.closure.Function.Chunk, frame.ip, vm.stderr)
		}

		op := Opcode(readByte())

		switch op {
		case OpConstant:
			vm.push(readConstant())

		case OpNil:
			vm.push(NilVal())

		case OpTrue:
			vm.push(BoolVal(true))

		case OpFalse:
			vm.push(BoolVal(false))

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slots+int(slot)])

		case OpSetLocal:
			slot := readByte()
			vm.stack[frame.slots+int(slot)] = vm.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(value)

		case OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// The set created the key; assignment requires an
				// existing definition, so undo and report.
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}

		case OpGetUpvalue:
			slot := readByte()
			vm.push(vm.upvalueGet(frame.closure.Upvalues[slot]))

		case OpSetUpvalue:
			slot := readByte()
			vm.upvalueSet(frame.closure.Upvalues[slot], vm.peek(0))

		case OpGetProperty:
			instance, ok := vm.peek(0).Obj.(*ObjInstance)
			if !vm.peek(0).IsObj() || !ok {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			name := readString()

			if value, found := instance.Fields.Get(name); found {
				vm.pop() // instance
				vm.push(value)
				break
			}

			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}

		case OpSetProperty:
			instance, ok := vm.peek(1).Obj.(*ObjInstance)
			if !vm.peek(1).IsObj() || !ok {
				vm.runtimeError("Only instances have fields.")
				return InterpretRuntimeError
			}
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop() // instance
			vm.push(value)

		case OpGetSuper:
			name := readString()
			superclass := vm.pop().Obj.(*ObjClass)
			if !vm.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolVal(a.Equals(b)))

		case OpGreater:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(BoolVal(a > b))

		case OpLess:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(BoolVal(a < b))

		case OpAdd:
			switch {
			case vm.peek(0).IsString() && vm.peek(1).IsString():
				vm.concatenate()
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(NumberVal(a + b))
			default:
				vm.runtimeError("Operands must be two numbers or two strings.")
				return InterpretRuntimeError
			}

		case OpSubtract:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberVal(a - b))

		case OpMultiply:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberVal(a * b))

		case OpDivide:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.runtimeError("Operands must be numbers.")
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			vm.push(NumberVal(a / b))

		case OpNot:
			vm.push(BoolVal(vm.pop().IsFalsey()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(NumberVal(-vm.pop().AsNumber()))

		case OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop())

		case OpJump:
			offset := readShort()
			frame.ip += int(offset)

		case OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}

		case OpLoop:
			offset := readShort()
			frame.ip -= int(offset)

		case OpCall:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpInvoke:
			name := readString()
			argCount := int(readByte())
			if !vm.invoke(name, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().Obj.(*ObjClass)
			if !vm.invokeFromClass(superclass, name, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OpClosure:
			function := readConstant().Obj.(*ObjFunction)
			closure := vm.heap.NewClosure(function)
			vm.push(ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop() // the script closure
				return InterpretOK
			}

			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case OpClass:
			vm.push(ObjVal(vm.heap.NewClass(readString())))

		case OpInherit:
			superclass, ok := vm.peek(1).Obj.(*ObjClass)
			if !vm.peek(1).IsObj() || !ok {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := vm.peek(0).Obj.(*ObjClass)
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop() // subclass

		case OpMethod:
			name := readString()
			method := vm.peek(0)
			class := vm.peek(1).Obj.(*ObjClass)
			class.Methods.Set(name, method)
			vm.pop()

		default:
			vm.runtimeError("Unknown opcode 0x%02x.", byte(op))
			return InterpretRuntimeError
		}
	}
}
