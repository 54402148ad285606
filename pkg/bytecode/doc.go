// Package bytecode implements the Lox compiler and virtual machine: a
// single-pass compiler that emits bytecode straight from the token
// stream, and a stack-based VM that executes it.
//
// # Architecture Overview
//
// The package consists of several components:
//
//   - Opcodes: ~35 stack-based instructions covering literals, variable
//     access, arithmetic, control flow, calls, closures, and classes
//
//   - Chunk: a compiled bytecode unit containing code, a parallel source
//     line table, and the constant pool. Jumps carry 16-bit big-endian
//     offsets patched after the target is known.
//
//   - Compiler: a Pratt parser that consumes tokens from the compiler
//     package's lexer and emits directly into the chunk of the innermost
//     function. There is no AST. Locals are stack slots resolved at
//     compile time; variables captured by nested functions become
//     upvalues, threaded through the enclosing compilers.
//
//   - VM: a switch-dispatched interpreter. Call frames are sliding
//     windows over one shared value stack; slot 0 of each window holds
//     the callee (or the receiver, for methods).
//
//   - Heap: every Lox object is tracked on an intrusive list and
//     reclaimed by a precise tri-color mark-sweep collector. The string
//     intern table is the collector's only weak map: an unreferenced
//     string is collectible even though the table still names it.
//
// # Closure Semantics
//
// Variables close over storage, not values. While a captured local is
// still live on the stack, its upvalue points at the slot; when the slot
// leaves the stack the value moves into the upvalue, and every closure
// that captured it keeps seeing the same cell. Two closures capturing
// the same slot share one upvalue.
//
// # Errors
//
// Compile errors accumulate with panic-mode recovery and are written to
// the configured stderr; the VM reports runtime errors with a frame
// trace and resets, so a host REPL can keep the session alive.
package bytecode
