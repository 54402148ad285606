package bytecode

import (
	"fmt"
	"io"
	"strconv"

	"fortio.org/safecast"

	"github.com/chazu/lox/compiler"
)

// ---------------------------------------------------------------------------
// Single-pass compiler: tokens in, bytecode out. There is no AST; each
// grammar rule emits into the chunk of the innermost function being
// compiled, driven by a Pratt precedence table.
// ---------------------------------------------------------------------------

// FunctionKind distinguishes the kinds of function bodies being compiled.
type FunctionKind uint8

const (
	KindScript FunctionKind = iota
	KindFunction
	KindMethod
	KindInitializer
)

// maxLocals bounds locals and upvalues per function; slots are one byte.
const maxLocals = 256

// Local is a declared local variable. depth is -1 between declaration and
// initialization so a self-referential initializer can be detected.
type Local struct {
	name       compiler.Token
	depth      int
	isCaptured bool
}

// Upvalue describes one captured variable: a local slot of the enclosing
// function, or an upvalue index of the enclosing closure.
type Upvalue struct {
	index   uint8
	isLocal bool
}

// funcCompiler is the per-function compilation state. Function bodies
// nest, so these form a stack linked through enclosing.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *ObjFunction
	kind       FunctionKind
	locals     [maxLocals]Local
	localCount int
	upvalues   [maxLocals]Upvalue
	scopeDepth int
}

// classCompiler tracks the innermost class declaration so this/super
// usage can be validated at compile time.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// Parser drives the lexer and owns shared compilation state. It is a GC
// root source for the duration of Compile: parsing interns strings and
// allocates functions, either of which may trigger a collection.
type Parser struct {
	lexer     *compiler.Lexer
	heap      *Heap
	stderr    io.Writer
	printCode bool

	current   compiler.Token
	previous  compiler.Token
	hadError  bool
	panicMode bool

	currentFunc  *funcCompiler
	currentClass *classCompiler
}

// Compile compiles Lox source to a top-level function. Diagnostics go to
// stderr; on any compile error the result is nil.
func Compile(heap *Heap, source string, stderr io.Writer, printCode bool) *ObjFunction {
	p := &Parser{
		lexer:     compiler.NewLexer(source),
		heap:      heap,
		stderr:    stderr,
		printCode: printCode,
	}

	heap.AddRoots(p)
	defer heap.RemoveRoots(p)

	p.initCompiler(KindScript)

	p.advance()
	for !p.match(compiler.TokenEOF) {
		p.declaration()
	}
	function := p.endCompiler()

	if p.hadError {
		return nil
	}
	return function
}

// markRoots keeps every in-progress function alive during compilation.
func (p *Parser) markRoots(h *Heap) {
	for fc := p.currentFunc; fc != nil; fc = fc.enclosing {
		h.markObject(fc.function)
	}
}

// ---------------------------------------------------------------------------
// Token plumbing and error reporting
// ---------------------------------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.lexer.NextToken()
		if p.current.Type != compiler.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Literal)
	}
}

func (p *Parser) consume(t compiler.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) check(t compiler.TokenType) bool {
	return p.current.Type == t
}

func (p *Parser) match(t compiler.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *Parser) error(message string) {
	p.errorAt(p.previous, message)
}

// errorAt reports one diagnostic per statement: once the parser is in
// panic mode, further errors are swallowed until synchronize.
func (p *Parser) errorAt(token compiler.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true

	fmt.Fprintf(p.stderr, "[line %d] Error", token.Line)
	switch token.Type {
	case compiler.TokenEOF:
		fmt.Fprint(p.stderr, " at end")
	case compiler.TokenError:
		// The message is the lexeme.
	default:
		fmt.Fprintf(p.stderr, " at '%s'", token.Literal)
	}
	fmt.Fprintf(p.stderr, ": %s\n", message)

	p.hadError = true
}

// synchronize discards tokens until a statement boundary, then leaves
// panic mode.
func (p *Parser) synchronize() {
	p.panicMode = false

	for p.current.Type != compiler.TokenEOF {
		if p.previous.Type == compiler.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case compiler.TokenClass, compiler.TokenFun, compiler.TokenVar,
			compiler.TokenFor, compiler.TokenIf, compiler.TokenWhile,
			compiler.TokenPrint, compiler.TokenReturn:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Emit helpers
// ---------------------------------------------------------------------------

func (p *Parser) currentChunk() *Chunk {
	return &p.currentFunc.function.Chunk
}

func (p *Parser) emit(op Opcode) {
	p.currentChunk().Emit(op, p.previous.Line)
}

func (p *Parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *Parser) emitOps(a, b Opcode) {
	p.emit(a)
	p.emit(b)
}

func (p *Parser) emitWithOperand(op Opcode, operand byte) {
	p.currentChunk().EmitWithOperand(op, p.previous.Line, operand)
}

// emitReturn emits the implicit function epilogue: nil (or `this` for an
// initializer) followed by a return.
func (p *Parser) emitReturn() {
	if p.currentFunc.kind == KindInitializer {
		p.emitWithOperand(OpGetLocal, 0)
	} else {
		p.emit(OpNil)
	}
	p.emit(OpReturn)
}

// makeConstant adds a value to the current constant pool, reporting an
// error when the pool outgrows the one-byte operand.
func (p *Parser) makeConstant(value Value) byte {
	index, err := safecast.Conv[uint8](p.currentChunk().AddConstant(value))
	if err != nil {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return index
}

func (p *Parser) emitConstant(value Value) {
	p.emitWithOperand(OpConstant, p.makeConstant(value))
}

func (p *Parser) emitJump(op Opcode) int {
	return p.currentChunk().EmitJump(op, p.previous.Line)
}

func (p *Parser) patchJump(offset int) {
	if !p.currentChunk().PatchJump(offset) {
		p.error("Too much code to jump over.")
	}
}

func (p *Parser) emitLoop(loopStart int) {
	if !p.currentChunk().EmitLoop(loopStart, p.previous.Line) {
		p.error("Loop body too large.")
	}
}

// ---------------------------------------------------------------------------
// Compiler stack
// ---------------------------------------------------------------------------

// initCompiler pushes a fresh function context. Slot 0 is reserved for
// the callee; inside methods it is named "this" so the receiver resolves
// like an ordinary local.
func (p *Parser) initCompiler(kind FunctionKind) {
	fc := &funcCompiler{
		enclosing: p.currentFunc,
		kind:      kind,
	}
	p.currentFunc = fc
	fc.function = p.heap.NewFunction()
	if kind != KindScript {
		fc.function.Name = p.heap.Intern(p.previous.Literal)
	}

	slotZero := &fc.locals[fc.localCount]
	fc.localCount++
	slotZero.depth = 0
	if kind == KindMethod || kind == KindInitializer {
		slotZero.name = compiler.Token{Type: compiler.TokenThis, Literal: "this"}
	} else {
		slotZero.name = compiler.Token{Type: compiler.TokenIdentifier, Literal: ""}
	}
}

// endCompiler finishes the current function and pops back to the
// enclosing one.
func (p *Parser) endCompiler() *ObjFunction {
	p.emitReturn()
	function := p.currentFunc.function

	if p.printCode && !p.hadError {
		name := "<script>"
		if function.Name != nil {
			name = function.Name.Chars
		}
		DisassembleChunk(&function.Chunk, name, p.stderr)
	}

	p.currentFunc = p.currentFunc.enclosing
	return function
}

func (p *Parser) beginScope() {
	p.currentFunc.scopeDepth++
}

// endScope discards the scope's locals, closing over any that were
// captured so their upvalues outlive the slots.
func (p *Parser) endScope() {
	fc := p.currentFunc
	fc.scopeDepth--

	for fc.localCount > 0 && fc.locals[fc.localCount-1].depth > fc.scopeDepth {
		if fc.locals[fc.localCount-1].isCaptured {
			p.emit(OpCloseUpvalue)
		} else {
			p.emit(OpPop)
		}
		fc.localCount--
	}
}

// ---------------------------------------------------------------------------
// Variable resolution
// ---------------------------------------------------------------------------

func identifiersEqual(a, b compiler.Token) bool {
	return a.Literal == b.Literal
}

// identifierConstant interns the name and stores it in the constant pool.
func (p *Parser) identifierConstant(name compiler.Token) byte {
	return p.makeConstant(ObjVal(p.heap.Intern(name.Literal)))
}

// resolveLocal scans the function's locals innermost-first. A hit on a
// still-uninitialized local means the initializer mentions its own name.
func (p *Parser) resolveLocal(fc *funcCompiler, name compiler.Token) int {
	for i := fc.localCount - 1; i >= 0; i-- {
		local := &fc.locals[i]
		if identifiersEqual(name, local.name) {
			if local.depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue registers a capture in fc, reusing an existing descriptor if
// the same variable was captured before.
func (p *Parser) addUpvalue(fc *funcCompiler, index uint8, isLocal bool) int {
	upvalueCount := fc.function.UpvalueCount

	for i := 0; i < upvalueCount; i++ {
		upvalue := &fc.upvalues[i]
		if upvalue.index == index && upvalue.isLocal == isLocal {
			return i
		}
	}

	if upvalueCount == maxLocals {
		p.error("Too many closure variables in function.")
		return 0
	}

	fc.upvalues[upvalueCount] = Upvalue{index: index, isLocal: isLocal}
	fc.function.UpvalueCount++
	return upvalueCount
}

// resolveUpvalue looks for name in the enclosing functions, threading a
// chain of upvalues back down to the current one. A local found in an
// outer function is flagged as captured so its scope exit closes it.
func (p *Parser) resolveUpvalue(fc *funcCompiler, name compiler.Token) int {
	if fc.enclosing == nil {
		return -1
	}

	if local := p.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return p.addUpvalue(fc, uint8(local), true)
	}

	if upvalue := p.resolveUpvalue(fc.enclosing, name); upvalue != -1 {
		return p.addUpvalue(fc, uint8(upvalue), false)
	}

	return -1
}

func (p *Parser) addLocal(name compiler.Token) {
	fc := p.currentFunc
	if fc.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	local := &fc.locals[fc.localCount]
	fc.localCount++
	local.name = name
	local.depth = -1
	local.isCaptured = false
}

// declareVariable records a new local in the current scope. Globals are
// late-bound and need no declaration.
func (p *Parser) declareVariable() {
	fc := p.currentFunc
	if fc.scopeDepth == 0 {
		return
	}

	name := p.previous
	for i := fc.localCount - 1; i >= 0; i-- {
		local := &fc.locals[i]
		if local.depth != -1 && local.depth < fc.scopeDepth {
			break
		}
		if identifiersEqual(name, local.name) {
			p.error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *Parser) parseVariable(errorMessage string) byte {
	p.consume(compiler.TokenIdentifier, errorMessage)

	p.declareVariable()
	if p.currentFunc.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *Parser) markInitialized() {
	fc := p.currentFunc
	if fc.scopeDepth == 0 {
		return
	}
	fc.locals[fc.localCount-1].depth = fc.scopeDepth
}

func (p *Parser) defineVariable(global byte) {
	if p.currentFunc.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitWithOperand(OpDefineGlobal, global)
}

// namedVariable compiles a read of name, or a write if an assignment
// follows and assignment is allowed here.
func (p *Parser) namedVariable(name compiler.Token, canAssign bool) {
	var getOp, setOp Opcode
	arg := p.resolveLocal(p.currentFunc, name)
	switch {
	case arg != -1:
		getOp, setOp = OpGetLocal, OpSetLocal
	default:
		if arg = p.resolveUpvalue(p.currentFunc, name); arg != -1 {
			getOp, setOp = OpGetUpvalue, OpSetUpvalue
		} else {
			arg = int(p.identifierConstant(name))
			getOp, setOp = OpGetGlobal, OpSetGlobal
		}
	}

	if canAssign && p.match(compiler.TokenEqual) {
		p.expression()
		p.emitWithOperand(setOp, byte(arg))
	} else {
		p.emitWithOperand(getOp, byte(arg))
	}
}

func syntheticToken(text string) compiler.Token {
	return compiler.Token{Type: compiler.TokenIdentifier, Literal: text}
}

// ---------------------------------------------------------------------------
// Pratt table
// ---------------------------------------------------------------------------

// Precedence levels, lowest to highest.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[compiler.TokenType]parseRule

func init() {
	rules = map[compiler.TokenType]parseRule{
		compiler.TokenLParen:       {(*Parser).grouping, (*Parser).call, PrecCall},
		compiler.TokenRParen:       {nil, nil, PrecNone},
		compiler.TokenLBrace:       {nil, nil, PrecNone},
		compiler.TokenRBrace:       {nil, nil, PrecNone},
		compiler.TokenComma:        {nil, nil, PrecNone},
		compiler.TokenDot:          {nil, (*Parser).dot, PrecCall},
		compiler.TokenMinus:        {(*Parser).unary, (*Parser).binary, PrecTerm},
		compiler.TokenPlus:         {nil, (*Parser).binary, PrecTerm},
		compiler.TokenSemicolon:    {nil, nil, PrecNone},
		compiler.TokenSlash:        {nil, (*Parser).binary, PrecFactor},
		compiler.TokenStar:         {nil, (*Parser).binary, PrecFactor},
		compiler.TokenBang:         {(*Parser).unary, nil, PrecNone},
		compiler.TokenBangEqual:    {nil, (*Parser).binary, PrecEquality},
		compiler.TokenEqual:        {nil, nil, PrecNone},
		compiler.TokenEqualEqual:   {nil, (*Parser).binary, PrecEquality},
		compiler.TokenGreater:      {nil, (*Parser).binary, PrecComparison},
		compiler.TokenGreaterEqual: {nil, (*Parser).binary, PrecComparison},
		compiler.TokenLess:         {nil, (*Parser).binary, PrecComparison},
		compiler.TokenLessEqual:    {nil, (*Parser).binary, PrecComparison},
		compiler.TokenIdentifier:   {(*Parser).variable, nil, PrecNone},
		compiler.TokenString:       {(*Parser).stringLiteral, nil, PrecNone},
		compiler.TokenNumber:       {(*Parser).number, nil, PrecNone},
		compiler.TokenAnd:          {nil, (*Parser).and, PrecAnd},
		compiler.TokenClass:        {nil, nil, PrecNone},
		compiler.TokenElse:         {nil, nil, PrecNone},
		compiler.TokenFalse:        {(*Parser).literal, nil, PrecNone},
		compiler.TokenFor:          {nil, nil, PrecNone},
		compiler.TokenFun:          {nil, nil, PrecNone},
		compiler.TokenIf:           {nil, nil, PrecNone},
		compiler.TokenNil:          {(*Parser).literal, nil, PrecNone},
		compiler.TokenOr:           {nil, (*Parser).or, PrecOr},
		compiler.TokenPrint:        {nil, nil, PrecNone},
		compiler.TokenReturn:       {nil, nil, PrecNone},
		compiler.TokenSuper:        {(*Parser).super, nil, PrecNone},
		compiler.TokenThis:         {(*Parser).this, nil, PrecNone},
		compiler.TokenTrue:         {(*Parser).literal, nil, PrecNone},
		compiler.TokenVar:          {nil, nil, PrecNone},
		compiler.TokenWhile:        {nil, nil, PrecNone},
		compiler.TokenError:        {nil, nil, PrecNone},
		compiler.TokenEOF:          {nil, nil, PrecNone},
	}
}

func getRule(t compiler.TokenType) parseRule {
	return rules[t]
}

// parsePrecedence parses any expression at the given precedence or
// tighter. canAssign threads down so `a.b = c` parses as an assignment
// while `a + b = c` reports an invalid target.
func (p *Parser) parsePrecedence(precedence Precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := precedence <= PrecAssignment
	prefix(p, canAssign)

	for precedence <= getRule(p.current.Type).precedence {
		p.advance()
		infix := getRule(p.previous.Type).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(compiler.TokenEqual) {
		p.error("Invalid assignment target.")
	}
}

func (p *Parser) expression() {
	p.parsePrecedence(PrecAssignment)
}

// ---------------------------------------------------------------------------
// Expression rules
// ---------------------------------------------------------------------------

func (p *Parser) number(canAssign bool) {
	value, _ := strconv.ParseFloat(p.previous.Literal, 64)
	p.emitConstant(NumberVal(value))
}

func (p *Parser) stringLiteral(canAssign bool) {
	p.emitConstant(ObjVal(p.heap.Intern(p.previous.Literal)))
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case compiler.TokenFalse:
		p.emit(OpFalse)
	case compiler.TokenNil:
		p.emit(OpNil)
	case compiler.TokenTrue:
		p.emit(OpTrue)
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(compiler.TokenRParen, "Expect ')' after expression.")
}

func (p *Parser) unary(canAssign bool) {
	operator := p.previous.Type

	p.parsePrecedence(PrecUnary)

	switch operator {
	case compiler.TokenBang:
		p.emit(OpNot)
	case compiler.TokenMinus:
		p.emit(OpNegate)
	}
}

func (p *Parser) binary(canAssign bool) {
	operator := p.previous.Type
	rule := getRule(operator)
	p.parsePrecedence(rule.precedence + 1)

	switch operator {
	case compiler.TokenBangEqual:
		p.emitOps(OpEqual, OpNot)
	case compiler.TokenEqualEqual:
		p.emit(OpEqual)
	case compiler.TokenGreater:
		p.emit(OpGreater)
	case compiler.TokenGreaterEqual:
		p.emitOps(OpLess, OpNot)
	case compiler.TokenLess:
		p.emit(OpLess)
	case compiler.TokenLessEqual:
		p.emitOps(OpGreater, OpNot)
	case compiler.TokenPlus:
		p.emit(OpAdd)
	case compiler.TokenMinus:
		p.emit(OpSubtract)
	case compiler.TokenStar:
		p.emit(OpMultiply)
	case compiler.TokenSlash:
		p.emit(OpDivide)
	}
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

// and short-circuits: if the left side is falsey it stays on the stack as
// the result and the right side is skipped.
func (p *Parser) and(canAssign bool) {
	endJump := p.emitJump(OpJumpIfFalse)

	p.emit(OpPop)
	p.parsePrecedence(PrecAnd)

	p.patchJump(endJump)
}

func (p *Parser) or(canAssign bool) {
	elseJump := p.emitJump(OpJumpIfFalse)
	endJump := p.emitJump(OpJump)

	p.patchJump(elseJump)
	p.emit(OpPop)

	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

// argumentList compiles call arguments and returns the count.
func (p *Parser) argumentList() byte {
	var argCount byte
	if !p.check(compiler.TokenRParen) {
		for {
			p.expression()
			if argCount == 255 {
				p.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !p.match(compiler.TokenComma) {
				break
			}
		}
	}
	p.consume(compiler.TokenRParen, "Expect ')' after arguments.")
	return argCount
}

func (p *Parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitWithOperand(OpCall, argCount)
}

// dot compiles property access, assignment, or a fused method call.
func (p *Parser) dot(canAssign bool) {
	p.consume(compiler.TokenIdentifier, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous)

	switch {
	case canAssign && p.match(compiler.TokenEqual):
		p.expression()
		p.emitWithOperand(OpSetProperty, name)
	case p.match(compiler.TokenLParen):
		argCount := p.argumentList()
		p.emitWithOperand(OpInvoke, name)
		p.emitByte(argCount)
	default:
		p.emitWithOperand(OpGetProperty, name)
	}
}

func (p *Parser) this(canAssign bool) {
	if p.currentClass == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

// super compiles a superclass method access. `this` and the captured
// `super` slot are pushed so the VM can bind or invoke on the receiver.
func (p *Parser) super(canAssign bool) {
	if p.currentClass == nil {
		p.error("Can't use 'super' outside of a class.")
	} else if !p.currentClass.hasSuperclass {
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(compiler.TokenDot, "Expect '.' after 'super'.")
	p.consume(compiler.TokenIdentifier, "Expect superclass method name.")
	name := p.identifierConstant(p.previous)

	p.namedVariable(syntheticToken("this"), false)
	if p.match(compiler.TokenLParen) {
		argCount := p.argumentList()
		p.namedVariable(syntheticToken("super"), false)
		p.emitWithOperand(OpSuperInvoke, name)
		p.emitByte(argCount)
	} else {
		p.namedVariable(syntheticToken("super"), false)
		p.emitWithOperand(OpGetSuper, name)
	}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (p *Parser) declaration() {
	switch {
	case p.match(compiler.TokenClass):
		p.classDeclaration()
	case p.match(compiler.TokenFun):
		p.funDeclaration()
	case p.match(compiler.TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")

	if p.match(compiler.TokenEqual) {
		p.expression()
	} else {
		p.emit(OpNil)
	}
	p.consume(compiler.TokenSemicolon, "Expect ';' after variable declaration.")

	p.defineVariable(global)
}

// function compiles a function body into a fresh function object and
// emits the closure that wraps it, upvalue descriptors included.
func (p *Parser) function(kind FunctionKind) {
	p.initCompiler(kind)
	p.beginScope()

	p.consume(compiler.TokenLParen, "Expect '(' after function name.")
	if !p.check(compiler.TokenRParen) {
		for {
			p.currentFunc.function.Arity++
			if p.currentFunc.function.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expect parameter name.")
			p.defineVariable(constant)
			if !p.match(compiler.TokenComma) {
				break
			}
		}
	}
	p.consume(compiler.TokenRParen, "Expect ')' after parameters.")
	p.consume(compiler.TokenLBrace, "Expect '{' before function body.")
	p.block()

	fc := p.currentFunc
	function := p.endCompiler()
	p.emitWithOperand(OpClosure, p.makeConstant(ObjVal(function)))

	for i := 0; i < function.UpvalueCount; i++ {
		if fc.upvalues[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(fc.upvalues[i].index)
	}
}

func (p *Parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.markInitialized()
	p.function(KindFunction)
	p.defineVariable(global)
}

func (p *Parser) method() {
	p.consume(compiler.TokenIdentifier, "Expect method name.")
	constant := p.identifierConstant(p.previous)

	kind := KindMethod
	if p.previous.Literal == "init" {
		kind = KindInitializer
	}
	p.function(kind)
	p.emitWithOperand(OpMethod, constant)
}

func (p *Parser) classDeclaration() {
	p.consume(compiler.TokenIdentifier, "Expect class name.")
	className := p.previous
	nameConstant := p.identifierConstant(p.previous)
	p.declareVariable()

	p.emitWithOperand(OpClass, nameConstant)
	p.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: p.currentClass}
	p.currentClass = cc

	if p.match(compiler.TokenLess) {
		p.consume(compiler.TokenIdentifier, "Expect superclass name.")
		p.variable(false)

		if identifiersEqual(className, p.previous) {
			p.error("A class can't inherit from itself.")
		}

		// A scope for the synthetic "super" local, so methods capture it
		// as an upvalue.
		p.beginScope()
		p.addLocal(syntheticToken("super"))
		p.defineVariable(0)

		p.namedVariable(className, false)
		p.emit(OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(compiler.TokenLBrace, "Expect '{' before class body.")
	for !p.check(compiler.TokenRBrace) && !p.check(compiler.TokenEOF) {
		p.method()
	}
	p.consume(compiler.TokenRBrace, "Expect '}' after class body.")
	p.emit(OpPop)

	if cc.hasSuperclass {
		p.endScope()
	}
	p.currentClass = cc.enclosing
}

func (p *Parser) statement() {
	switch {
	case p.match(compiler.TokenPrint):
		p.printStatement()
	case p.match(compiler.TokenFor):
		p.forStatement()
	case p.match(compiler.TokenIf):
		p.ifStatement()
	case p.match(compiler.TokenReturn):
		p.returnStatement()
	case p.match(compiler.TokenWhile):
		p.whileStatement()
	case p.match(compiler.TokenLBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(compiler.TokenRBrace) && !p.check(compiler.TokenEOF) {
		p.declaration()
	}
	p.consume(compiler.TokenRBrace, "Expect '}' after block.")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(compiler.TokenSemicolon, "Expect ';' after expression.")
	p.emit(OpPop)
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(compiler.TokenSemicolon, "Expect ';' after value.")
	p.emit(OpPrint)
}

func (p *Parser) ifStatement() {
	p.consume(compiler.TokenLParen, "Expect '(' after 'if'.")
	p.expression()
	p.consume(compiler.TokenRParen, "Expect ')' after condition.")

	thenJump := p.emitJump(OpJumpIfFalse)
	p.emit(OpPop)
	p.statement()

	elseJump := p.emitJump(OpJump)

	p.patchJump(thenJump)
	p.emit(OpPop)

	if p.match(compiler.TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := p.currentChunk().CurrentOffset()
	p.consume(compiler.TokenLParen, "Expect '(' after 'while'.")
	p.expression()
	p.consume(compiler.TokenRParen, "Expect ')' after condition.")

	exitJump := p.emitJump(OpJumpIfFalse)
	p.emit(OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emit(OpPop)
}

// forStatement desugars to while with an optional initializer and
// increment. The induction variable lives in the loop's outer scope, so
// closures created in the body all share one cell.
func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(compiler.TokenLParen, "Expect '(' after 'for'.")
	switch {
	case p.match(compiler.TokenSemicolon):
		// No initializer.
	case p.match(compiler.TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := p.currentChunk().CurrentOffset()
	exitJump := -1
	if !p.match(compiler.TokenSemicolon) {
		p.expression()
		p.consume(compiler.TokenSemicolon, "Expect ';' after loop condition.")

		exitJump = p.emitJump(OpJumpIfFalse)
		p.emit(OpPop)
	}

	if !p.match(compiler.TokenRParen) {
		bodyJump := p.emitJump(OpJump)
		incrementStart := p.currentChunk().CurrentOffset()
		p.expression()
		p.emit(OpPop)
		p.consume(compiler.TokenRParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emit(OpPop)
	}
	p.endScope()
}

func (p *Parser) returnStatement() {
	if p.currentFunc.kind == KindScript {
		p.error("Can't return from top-level code.")
	}

	if p.match(compiler.TokenSemicolon) {
		p.emitReturn()
		return
	}

	if p.currentFunc.kind == KindInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(compiler.TokenSemicolon, "Expect ';' after return value.")
	p.emit(OpReturn)
}
