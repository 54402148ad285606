package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var disasmHeader = color.New(color.FgCyan, color.Bold)

// DisassembleChunk writes a human-readable listing of the whole chunk.
func DisassembleChunk(c *Chunk, name string, w io.Writer) {
	disasmHeader.Fprintf(w, "== %s ==\n", name)

	for offset := 0; offset < len(c.Code); {
		offset = disassembleInstruction(c, offset, w)
	}
}

// disassembleInstruction writes one instruction and returns the offset of
// the next. The second column shows the source line, or | when the
// instruction shares the previous one's line.
func disassembleInstruction(c *Chunk, offset int, w io.Writer) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		return constantInstruction(c, info.Name, offset, w)

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return byteInstruction(c, info.Name, offset, w)

	case OpJump, OpJumpIfFalse:
		return jumpInstruction(c, info.Name, 1, offset, w)

	case OpLoop:
		return jumpInstruction(c, info.Name, -1, offset, w)

	case OpInvoke, OpSuperInvoke:
		return invokeInstruction(c, info.Name, offset, w)

	case OpClosure:
		return closureInstruction(c, info.Name, offset, w)

	default:
		fmt.Fprintf(w, "%s\n", info.Name)
		return offset + 1
	}
}

func constantInstruction(c *Chunk, name string, offset int, w io.Writer) int {
	constant := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", name, constant, c.Constants[constant])
	return offset + 2
}

func byteInstruction(c *Chunk, name string, offset int, w io.Writer) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", name, slot)
	return offset + 2
}

func jumpInstruction(c *Chunk, name string, sign int, offset int, w io.Writer) int {
	jump := int(binary.BigEndian.Uint16(c.Code[offset+1:]))
	fmt.Fprintf(w, "%-16s %4d -> %d\n", name, offset, offset+3+sign*jump)
	return offset + 3
}

func invokeInstruction(c *Chunk, name string, offset int, w io.Writer) int {
	constant := c.Code[offset+1]
	argCount := c.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", name, argCount, constant, c.Constants[constant])
	return offset + 3
}

// closureInstruction decodes OpClosure's variable tail: the function
// constant, then one (isLocal, index) pair per captured upvalue.
func closureInstruction(c *Chunk, name string, offset int, w io.Writer) int {
	offset++
	constant := c.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d %s\n", name, constant, c.Constants[constant])

	function := c.Constants[constant].Obj.(*ObjFunction)
	for i := 0; i < function.UpvalueCount; i++ {
		isLocal := c.Code[offset]
		index := c.Code[offset+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d    |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
