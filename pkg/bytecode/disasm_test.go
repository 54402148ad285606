package bytecode

import (
	"bytes"
	"strings"
	"testing"
)

func disassembleSource(t *testing.T, src string) string {
	t.Helper()
	var errBuf bytes.Buffer
	heap := NewHeap()
	fn := Compile(heap, src, &errBuf, false)
	if fn == nil {
		t.Fatalf("compile failed:\n%s", errBuf.String())
	}
	var out bytes.Buffer
	DisassembleChunk(&fn.Chunk, "<script>", &out)
	return out.String()
}

func TestDisassembleSimpleChunk(t *testing.T) {
	listing := disassembleSource(t, "print 1 + 2;")

	for _, want := range []string{
		"== <script> ==",
		"CONSTANT",
		"ADD",
		"PRINT",
		"RETURN",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestDisassembleShowsConstantValues(t *testing.T) {
	listing := disassembleSource(t, `print "hello";`)
	if !strings.Contains(listing, "'hello'") {
		t.Errorf("listing missing constant rendering:\n%s", listing)
	}
}

func TestDisassembleLineColumn(t *testing.T) {
	listing := disassembleSource(t, "1;\n2;")
	lines := strings.Split(listing, "\n")

	// The first instruction shows its line; the POP that follows on the
	// same source line shows the continuation marker.
	var sawLine, sawMarker bool
	for _, l := range lines {
		if strings.Contains(l, "   1 ") {
			sawLine = true
		}
		if strings.Contains(l, "   | ") {
			sawMarker = true
		}
	}
	if !sawLine || !sawMarker {
		t.Errorf("line column not rendered:\n%s", listing)
	}
}

func TestDisassembleJumpTargets(t *testing.T) {
	listing := disassembleSource(t, "if (true) print 1; else print 2;")

	if !strings.Contains(listing, "JUMP_IF_FALSE") || !strings.Contains(listing, "->") {
		t.Errorf("jump rendering missing:\n%s", listing)
	}

	loop := disassembleSource(t, "while (true) print 1;")
	if !strings.Contains(loop, "LOOP") {
		t.Errorf("loop rendering missing:\n%s", loop)
	}
}

func TestDisassembleClosureTail(t *testing.T) {
	listing := disassembleSource(t, `
fun outer() {
  var x = 1;
  fun inner() { return x; }
  return inner();
}
`)
	if !strings.Contains(listing, "CLOSURE") {
		t.Errorf("closure rendering missing:\n%s", listing)
	}

	// Disassemble the inner function, tail descriptors included.
	var errBuf bytes.Buffer
	heap := NewHeap()
	fn := Compile(heap, `
fun outer() {
  var x = 1;
  fun inner() { return x; }
  return inner();
}
`, &errBuf, false)
	outer := findFunction(&fn.Chunk, "outer")
	if outer == nil {
		t.Fatal("outer not found")
	}
	var out bytes.Buffer
	DisassembleChunk(&outer.Chunk, "outer", &out)
	if !strings.Contains(out.String(), "local 1") {
		t.Errorf("upvalue descriptor not rendered:\n%s", out.String())
	}
}

func TestDisassembleInvoke(t *testing.T) {
	listing := disassembleSource(t, `
class A { m() {} }
A().m();
`)
	if !strings.Contains(listing, "INVOKE") || !strings.Contains(listing, "(0 args)") {
		t.Errorf("invoke rendering missing:\n%s", listing)
	}
}
