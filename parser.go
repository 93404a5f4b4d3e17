package esh

import (
	"fmt"
	"strconv"
)

// compileScratch is the compiler's working state (spec.md §3: "a
// compiler scratch buffer" on the interpreter state). It is not a GC
// root (spec.md §4.7): the templates and string immediates it builds up
// are kept reachable because they sit on the executing thread's operand
// stack, not because the compiler itself is traced.
type compileScratch struct {
	s   *State
	lex *lexer
	tok token // current lookahead
	src string
	name string

	fns []*fnScope
}

// fnScope tracks one function's locals across nested block scopes
// while it is being compiled (spec.md §4.3 "local resolution").
type fnScope struct {
	tmpl *FunctionTemplate

	blocks []blockScope // innermost last

	upvalLocals bool
}

type localVar struct {
	name  string
	slot  int
	isConst bool
}

type blockScope struct {
	locals []localVar
}

func newFnScope(tmpl *FunctionTemplate) *fnScope {
	fs := &fnScope{tmpl: tmpl}
	fs.pushBlock()
	return fs
}

func (fs *fnScope) pushBlock() { fs.blocks = append(fs.blocks, blockScope{}) }

func (fs *fnScope) popBlock() { fs.blocks = fs.blocks[:len(fs.blocks)-1] }

// declare adds a new local to the innermost block, rejecting
// redeclaration within that same block (spec.md §4.3).
func (fs *fnScope) declare(name string, isConst bool) (int, error) {
	cur := &fs.blocks[len(fs.blocks)-1]
	for _, lv := range cur.locals {
		if lv.name == name {
			return 0, fmt.Errorf("variable %q already declared in this block", name)
		}
	}
	slot := fs.tmpl.NLocals
	fs.tmpl.NLocals++
	cur.locals = append(cur.locals, localVar{name: name, slot: slot, isConst: isConst})
	return slot, nil
}

// resolveLocal searches this function's own block scopes, innermost
// first.
func (fs *fnScope) resolveLocal(name string) (localVar, bool) {
	for i := len(fs.blocks) - 1; i >= 0; i-- {
		b := fs.blocks[i]
		for j := len(b.locals) - 1; j >= 0; j-- {
			if b.locals[j].name == name {
				return b.locals[j], true
			}
		}
	}
	return localVar{}, false
}

// resolveVar walks outward function-by-function; crossing a function
// boundary flags every crossed function's locals as captured (spec.md
// §4.3), since a nested closure may now reach into an enclosing frame
// that has already returned.
func (cs *compileScratch) resolveVar(name string) (slot, depth int, isConst, found bool) {
	for i := len(cs.fns) - 1; i >= 0; i-- {
		if lv, ok := cs.fns[i].resolveLocal(name); ok {
			if i < len(cs.fns)-1 {
				for j := i; j < len(cs.fns); j++ {
					cs.fns[j].upvalLocals = true
				}
			}
			return lv.slot, len(cs.fns) - 1 - i, lv.isConst, true
		}
	}
	return 0, 0, false, false
}

func (cs *compileScratch) cur() *fnScope { return cs.fns[len(cs.fns)-1] }
func (cs *compileScratch) tmpl() *FunctionTemplate { return cs.cur().tmpl }

// --- token stream helpers -------------------------------------------------

func (cs *compileScratch) advance() error {
	t, err := cs.lex.Next()
	if err != nil {
		return err
	}
	cs.tok = t
	return nil
}

func (cs *compileScratch) at(kind tokenKind) bool { return cs.tok.kind == kind }

func (cs *compileScratch) syntaxErrorf(format string, args ...any) error {
	return &SyntaxError{
		Message: fmt.Sprintf(format, args...),
		Line:    cs.tok.line,
		Context: cs.lex.contextAt(cs.tok.offset),
	}
}

func (cs *compileScratch) expect(kind tokenKind) (token, error) {
	if cs.tok.kind != kind {
		return token{}, cs.syntaxErrorf("expected %s, got %s", kind, cs.tok.kind)
	}
	t := cs.tok
	err := cs.advance()
	return t, err
}

// Compile compiles src under name into a top-level function template
// (spec.md §2 data flow). interactive relaxes nothing in the grammar
// today but is threaded through so a REPL front-end can later allow a
// bare trailing expression without `return` (SPEC_FULL.md supplemented
// feature); the core grammar is identical either way.
func Compile(s *State, src, name string, interactive bool) (*FunctionTemplate, error) {
	cs := &compileScratch{s: s, lex: newLexer(src), src: src, name: name}
	s.compileScratch = cs
	defer func() { s.compileScratch = nil }()

	top := &FunctionTemplate{Name: name}
	cs.fns = append(cs.fns, newFnScope(top))

	if err := cs.advance(); err != nil {
		return nil, wrapSyntax(err)
	}
	for !cs.at(tokEOF) {
		if err := cs.stmt(); err != nil {
			return nil, wrapSyntax(err)
		}
	}
	top.AppendInstr(Instruction{Op: OpPushNull})
	top.AppendInstr(Instruction{Op: OpRet, Arg: 1})
	top.UpvalLocal = cs.fns[0].upvalLocals
	return top, nil
}

func wrapSyntax(err error) error {
	if _, ok := err.(*SyntaxError); ok {
		return wrapError(ErrSyntax, err, "syntax error")
	}
	return wrapError(ErrSyntax, err, "syntax error")
}

// emit appends instr to the current function's code, first recording a
// line directive for the current token's source line (spec.md §4.3,
// §4.8).
func (cs *compileScratch) emit(instr Instruction) int {
	cs.tmpl().LineDirective(cs.tok.line)
	return cs.tmpl().AppendInstr(instr)
}

func (cs *compileScratch) emitAt(line int, instr Instruction) int {
	cs.tmpl().LineDirective(line)
	return cs.tmpl().AppendInstr(instr)
}

func (cs *compileScratch) immString(str string) uint16 {
	return cs.tmpl().AddImm(cs.s.NewStringValue(str))
}

// --- statements ------------------------------------------------------------

func (cs *compileScratch) stmt() error {
	line := cs.tok.line
	switch cs.tok.kind {
	case tokLocal:
		return cs.localStmt()
	case tokFunction:
		return cs.functionStmt()
	case tokIf:
		return cs.ifStmt()
	case tokReturn:
		return cs.returnStmt()
	case tokWord:
		return cs.wordLedStmt(line)
	default:
		_, err := cs.expr()
		if err != nil {
			return err
		}
		cs.emitAt(line, Instruction{Op: OpPop})
		return nil
	}
}

// wordLedStmt disambiguates the three statement forms that start with
// a bare WORD: indexed assignment (`w:k = e`), ordinary (possibly
// multi-)assignment (`w, w2 = e`), and a call/command expression used
// as a statement (spec.md §4.3 stmt grammar).
func (cs *compileScratch) wordLedStmt(line int) error {
	first := cs.tok.text
	save := *cs.lex
	saveTok := cs.tok
	if err := cs.advance(); err != nil {
		return err
	}

	if cs.at(tokColon) {
		return cs.indexedAssign(line, first)
	}

	names := []string{first}
	for cs.at(tokComma) {
		if err := cs.advance(); err != nil {
			return err
		}
		w, err := cs.expect(tokWord)
		if err != nil {
			return err
		}
		names = append(names, w.text)
	}
	if cs.at(tokAssign) {
		if err := cs.advance(); err != nil {
			return err
		}
		return cs.multiAssign(line, names)
	}

	// Not an assignment after all: rewind and parse as a call/command
	// expression statement.
	*cs.lex = save
	cs.tok = saveTok
	_, err := cs.expr()
	if err != nil {
		return err
	}
	cs.emitAt(line, Instruction{Op: OpPop})
	return nil
}

func (cs *compileScratch) indexedAssign(line int, objName string) error {
	if err := cs.advance(); err != nil { // consume ':'
		return err
	}
	var keys []string
	for {
		w, err := cs.expect(tokWord)
		if err != nil {
			return err
		}
		keys = append(keys, w.text)
		if !cs.at(tokColon) {
			break
		}
		if err := cs.advance(); err != nil {
			return err
		}
	}
	if _, err := cs.expect(tokAssign); err != nil {
		return err
	}

	// SET_INDEX expects [obj, key, value] (value on top, spec.md §4.2);
	// navigate to the target object and push its final key *before*
	// compiling the value expression, so the value naturally lands on
	// top without needing a stack rotation.
	if err := cs.loadVar(line, objName); err != nil {
		return err
	}
	for i := 0; i < len(keys)-1; i++ {
		cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(keys[i])})
		cs.emitAt(line, Instruction{Op: OpIndex})
	}
	cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(keys[len(keys)-1])})

	if _, err := cs.expr(); err != nil {
		return err
	}
	cs.emitAt(line, Instruction{Op: OpSetIndex})
	return nil
}

// multiAssign compiles `w1, w2 = expr`, relying on expected-return
// folding when the right-hand side is a single call (spec.md §4.2) and
// on NEW_OBJ-free direct assignment otherwise.
func (cs *compileScratch) multiAssign(line int, names []string) error {
	if len(names) == 1 {
		if _, err := cs.expr(); err != nil {
			return err
		}
		return cs.storeVar(line, names[0])
	}

	if _, err := cs.expr(); err != nil {
		return err
	}
	cs.emitAt(line, Instruction{Op: OpUnpack, Arg: uint16(len(names))})
	// UNPACK leaves exactly len(names) values; store them in reverse so
	// the first name receives the first (deepest) value.
	for i := len(names) - 1; i >= 0; i-- {
		if err := cs.storeVar(line, names[i]); err != nil {
			return err
		}
	}
	return nil
}

func (cs *compileScratch) localStmt() error {
	line := cs.tok.line
	if err := cs.advance(); err != nil { // consume 'local'
		return err
	}
	isConst := false
	if cs.at(tokConst) {
		isConst = true
		if err := cs.advance(); err != nil {
			return err
		}
	}
	var names []string
	w, err := cs.expect(tokWord)
	if err != nil {
		return err
	}
	names = append(names, w.text)
	for cs.at(tokComma) {
		if err := cs.advance(); err != nil {
			return err
		}
		w, err := cs.expect(tokWord)
		if err != nil {
			return err
		}
		names = append(names, w.text)
	}
	if _, err := cs.expect(tokAssign); err != nil {
		return err
	}

	slots := make([]int, len(names))
	for i, n := range names {
		slot, err := cs.cur().declare(n, isConst)
		if err != nil {
			return cs.syntaxErrorf("%v", err)
		}
		slots[i] = slot
	}

	if len(names) == 1 {
		if _, err := cs.expr(); err != nil {
			return err
		}
		cs.emitAt(line, Instruction{Op: OpStore, Arg: uint16(slots[0])})
		return nil
	}
	if _, err := cs.expr(); err != nil {
		return err
	}
	cs.emitAt(line, Instruction{Op: OpUnpack, Arg: uint16(len(names))})
	for i := len(names) - 1; i >= 0; i-- {
		cs.emitAt(line, Instruction{Op: OpStore, Arg: uint16(slots[i])})
	}
	return nil
}

// functionStmt compiles `function NAME with fn_tail`, binding the name
// before the body is compiled so the body can recurse (spec.md §4.3).
// At top level the name becomes a global; nested, it becomes a new
// const local.
func (cs *compileScratch) functionStmt() error {
	line := cs.tok.line
	if err := cs.advance(); err != nil { // consume 'function'
		return err
	}
	nameTok, err := cs.expect(tokWord)
	if err != nil {
		return err
	}
	if _, err := cs.expect(tokWith); err != nil {
		return err
	}

	topLevel := len(cs.fns) == 1
	var slot int
	if !topLevel {
		slot, err = cs.cur().declare(nameTok.text, true)
		if err != nil {
			return cs.syntaxErrorf("%v", err)
		}
	}

	if err := cs.fnTail(nameTok.text, false); err != nil {
		return err
	}

	if topLevel {
		cs.emitAt(line, Instruction{Op: OpStoreG, Arg: cs.immString(nameTok.text)})
	} else {
		cs.emitAt(line, Instruction{Op: OpStore, Arg: uint16(slot)})
	}
	return nil
}

func (cs *compileScratch) ifStmt() error {
	if err := cs.advance(); err != nil { // consume 'if'
		return err
	}
	endLabels := []uint16{}
	tmpl := cs.tmpl()

	for {
		if _, err := cs.expr(); err != nil {
			return err
		}
		if _, err := cs.expect(tokThen); err != nil {
			return err
		}
		elseLabel := tmpl.NewLabel()
		cs.emit(Instruction{Op: OpJmpIfN, Arg: elseLabel})

		cs.cur().pushBlock()
		for !cs.at(tokElse) && !cs.at(tokEnd) {
			if err := cs.stmt(); err != nil {
				return err
			}
		}
		cs.cur().popBlock()

		if cs.at(tokElse) {
			endLabel := tmpl.NewLabel()
			endLabels = append(endLabels, endLabel)
			cs.emit(Instruction{Op: OpJmp, Arg: endLabel})
			tmpl.PutLabel(elseLabel)

			if err := cs.advance(); err != nil { // consume 'else'
				return err
			}
			if cs.at(tokIf) {
				if err := cs.advance(); err != nil { // consume 'if'
					return err
				}
				continue // loop: another condition/then
			}
			cs.cur().pushBlock()
			for !cs.at(tokEnd) {
				if err := cs.stmt(); err != nil {
					return err
				}
			}
			cs.cur().popBlock()
			break
		}
		tmpl.PutLabel(elseLabel)
		break
	}

	if _, err := cs.expect(tokEnd); err != nil {
		return err
	}
	for _, l := range endLabels {
		tmpl.PutLabel(l)
	}
	return nil
}

func (cs *compileScratch) returnStmt() error {
	line := cs.tok.line
	if err := cs.advance(); err != nil { // consume 'return'
		return err
	}
	n := 0
	if cs.startsExpr() {
		if _, err := cs.expr(); err != nil {
			return err
		}
		n++
		for cs.at(tokComma) {
			if err := cs.advance(); err != nil {
				return err
			}
			if _, err := cs.expr(); err != nil {
				return err
			}
			n++
		}
	}
	if n == 0 {
		cs.emitAt(line, Instruction{Op: OpPushNull})
		n = 1
	}
	cs.emitAt(line, Instruction{Op: OpRet, Arg: uint16(n)})
	return nil
}

// startsExpr reports whether the current token could begin an
// expression, used to tell a bare `return` from `return expr`.
func (cs *compileScratch) startsExpr() bool {
	switch cs.tok.kind {
	case tokWord, tokSigil, tokLParen, tokWith, tokLBrace, tokConst, tokNull,
		tokString, tokStrInterp, tokNot:
		return true
	}
	return false
}

// --- expressions ------------------------------------------------------------

type binopLevel struct {
	kinds []tokenKind
	ops   []Opcode
}

var precedenceLevels = []binopLevel{
	{kinds: []tokenKind{tokOr}, ops: nil},
	{kinds: []tokenKind{tokAnd}, ops: nil},
	{kinds: []tokenKind{tokEqEq, tokNotEq, tokLess, tokGreater},
		ops: []Opcode{OpEq, OpNeq, OpLess, OpGreater}},
	{kinds: []tokenKind{tokPlus, tokMinus}, ops: []Opcode{OpAdd, OpSub}},
	{kinds: []tokenKind{tokStar, tokSlash}, ops: []Opcode{OpMul, OpDiv}},
}

func (cs *compileScratch) expr() (int, error) { return cs.binop(0) }

func (cs *compileScratch) binop(level int) (int, error) {
	if level >= len(precedenceLevels) {
		return cs.unary()
	}
	lv := precedenceLevels[level]

	n, err := cs.binop(level + 1)
	if err != nil {
		return n, err
	}
	for {
		matched := -1
		for i, k := range lv.kinds {
			if cs.at(k) {
				matched = i
				break
			}
		}
		if matched < 0 {
			return n, nil
		}
		kind := lv.kinds[matched]
		line := cs.tok.line
		if err := cs.advance(); err != nil {
			return n, err
		}

		if kind == tokAnd || kind == tokOr {
			if err := cs.shortCircuit(line, kind, level); err != nil {
				return n, err
			}
			continue
		}

		if _, err := cs.binop(level + 1); err != nil {
			return n, err
		}
		cs.emitAt(line, Instruction{Op: lv.ops[matched]})
	}
}

// shortCircuit emits `DUP; JMP_IFN/IF end; POP; rhs; end:` for and/or
// (spec.md §4.3 emission details), leaving exactly one value: the LHS
// if it already decided the result, else the RHS.
func (cs *compileScratch) shortCircuit(line int, kind tokenKind, level int) error {
	tmpl := cs.tmpl()
	end := tmpl.NewLabel()
	cs.emitAt(line, Instruction{Op: OpDup})
	if kind == tokAnd {
		cs.emitAt(line, Instruction{Op: OpJmpIfN, Arg: end})
	} else {
		cs.emitAt(line, Instruction{Op: OpJmpIf, Arg: end})
	}
	cs.emitAt(line, Instruction{Op: OpPop})
	if _, err := cs.binop(level + 1); err != nil {
		return err
	}
	tmpl.PutLabel(end)
	return nil
}

func (cs *compileScratch) unary() (int, error) {
	if cs.at(tokNot) {
		line := cs.tok.line
		if err := cs.advance(); err != nil {
			return 0, err
		}
		if _, err := cs.callExpr(); err != nil {
			return 0, err
		}
		cs.emitAt(line, Instruction{Op: OpNot})
		return 1, nil
	}
	return cs.callExpr()
}

// callExpr compiles `call_expr := (WORD | s_term) arg_list? '!'? '?'?
// ('|' ...)*` (spec.md §4.3): a leading callee, optional positional
// arguments, an optional bang (fire-and-forget marker — core only
// threads the flag through the token stream as a reservation point for
// a future process-oriented stdlib; it has no VM effect today) and
// optional `?` null-propagation, chained across pipes. Each pipe stage
// after the first receives the previous stage's single result as a
// leading extra argument (an extra positional arg for a resolved
// local/s_term callee, or the CMD piped-in value for a command).
func (cs *compileScratch) callExpr() (int, error) {
	if err := cs.callSegment(false); err != nil {
		return 0, err
	}
	for cs.at(tokPipe) {
		if err := cs.advance(); err != nil {
			return 0, err
		}
		if err := cs.callSegment(true); err != nil {
			return 0, err
		}
	}
	return 1, nil
}

// callSegment compiles one call/command segment. When hasPipeIn is
// true, the previous segment's result value is already sitting on the
// stack below where this segment's callee/name is about to be pushed.
func (cs *compileScratch) callSegment(hasPipeIn bool) error {
	line := cs.tok.line

	if cs.tok.kind == tokWord {
		name := cs.tok.text
		if err := cs.advance(); err != nil {
			return err
		}
		if _, err := strconv.ParseInt(name, 10, 64); err == nil {
			// An integer constant is its own decimal string, not a command.
			cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(name)})
			if hasPipeIn {
				cs.emitAt(line, Instruction{Op: OpSwap})
				cs.emitAt(line, Instruction{Op: OpPop})
			}
			return cs.callSuffix(line)
		}
		if slot, depth, _, found := cs.resolveVar(name); found {
			cs.loadLocalAt(line, slot, depth) // push callee
			if hasPipeIn {
				// stack: [pipeval, callee] -> [callee, pipeval]
				cs.emitAt(line, Instruction{Op: OpSwap})
			}
			nArgs, err := cs.argList()
			if err != nil {
				return err
			}
			if hasPipeIn {
				nArgs++
			}
			cs.emitAt(line, Instruction{Op: OpCall, Arg: uint16(nArgs)})
			return cs.callSuffix(line)
		}
		// Unresolved: a CMD. The piped-in value (if any) is already
		// beneath where name is about to land, matching dispatchCmd's
		// expected [pipeval, name, args...] layout — no swap needed.
		cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(name)})
		nArgs, err := cs.argList()
		if err != nil {
			return err
		}
		var l uint8
		if hasPipeIn {
			l |= 1 << 1
		}
		cs.emitAt(line, Instruction{Op: OpCmd, Arg: uint16(nArgs), L: l})
		return cs.callSuffix(line)
	}

	// An s_term-led segment: the term's value is the callee if an
	// arg_list directly follows it, otherwise it is the segment's bare
	// value.
	if _, err := cs.sTerm(); err != nil {
		return err
	}
	if hasPipeIn {
		cs.emitAt(line, Instruction{Op: OpSwap})
	}
	if cs.startsTerm() && !cs.tok.afterNewline {
		nArgs, err := cs.argList()
		if err != nil {
			return err
		}
		if hasPipeIn {
			nArgs++
		}
		cs.emitAt(line, Instruction{Op: OpCall, Arg: uint16(nArgs)})
	} else if hasPipeIn {
		// No call: the swap above already brought the piped-in value to
		// the top, with this segment's own value underneath it. Drop it,
		// keeping only this segment's own value.
		cs.emitAt(line, Instruction{Op: OpPop})
	}
	return cs.callSuffix(line)
}

func (cs *compileScratch) callSuffix(line int) error {
	if cs.at(tokBang) {
		if err := cs.advance(); err != nil {
			return err
		}
	}
	if cs.at(tokQuestion) {
		cs.emitAt(line, Instruction{Op: OpProp})
		if err := cs.advance(); err != nil {
			return err
		}
	}
	return nil
}

// argList compiles `term+`, terminated by a newline-preceded token or
// a token that cannot start a term (spec.md §4.3). The callee itself
// must already be on the stack (pushed by the caller) before this
// runs, matching CALL/CMD's `f, a1..an` convention.
func (cs *compileScratch) argList() (int, error) {
	n := 0
	for cs.startsTerm() && !cs.tok.afterNewline {
		if err := cs.term(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (cs *compileScratch) startsTerm() bool {
	switch cs.tok.kind {
	case tokWord, tokSigil, tokLParen, tokWith, tokLBrace, tokConst, tokNull,
		tokString, tokStrInterp:
		return true
	}
	return false
}

// term compiles `WORD | s_term (':' (WORD | s_term))*`: a bare word is
// pushed as a string literal (a positional command-line-style
// argument); an s_term may be followed by `:`-separated index chains.
func (cs *compileScratch) term() error {
	line := cs.tok.line
	if cs.tok.kind == tokWord {
		text := cs.tok.text
		cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(text)})
		return cs.advance()
	}
	if _, err := cs.sTerm(); err != nil {
		return err
	}
	for cs.at(tokColon) {
		if err := cs.advance(); err != nil {
			return err
		}
		if cs.tok.kind == tokWord {
			cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(cs.tok.text)})
			if err := cs.advance(); err != nil {
				return err
			}
		} else if _, err := cs.sTerm(); err != nil {
			return err
		}
		cs.emitAt(line, Instruction{Op: OpIndex})
	}
	return nil
}

// sTerm compiles `'$' WORD | '(' expr ')' | 'with' fn_tail | ('const')?
// '{' obj_entries '}' | 'null' | STR_INTERP ...` (spec.md §4.3).
func (cs *compileScratch) sTerm() (int, error) {
	line := cs.tok.line
	switch cs.tok.kind {
	case tokSigil:
		if err := cs.advance(); err != nil {
			return 0, err
		}
		w, err := cs.expect(tokWord)
		if err != nil {
			return 0, err
		}
		if err := cs.loadVar(line, w.text); err != nil {
			return 0, err
		}
		return 1, nil

	case tokLParen:
		if err := cs.advance(); err != nil {
			return 0, err
		}
		if _, err := cs.expr(); err != nil {
			return 0, err
		}
		_, err := cs.expect(tokRParen)
		return 1, err

	case tokWith:
		if err := cs.advance(); err != nil {
			return 0, err
		}
		return 1, cs.fnTail("", true)

	case tokNull:
		cs.emitAt(line, Instruction{Op: OpPushNull})
		return 1, cs.advance()

	case tokConst:
		if err := cs.advance(); err != nil {
			return 0, err
		}
		if _, err := cs.expect(tokLBrace); err != nil {
			return 0, err
		}
		n, err := cs.objEntries()
		if err != nil {
			return 0, err
		}
		cs.emitAt(line, Instruction{Op: OpNewObj, Arg: uint16(n)})
		cs.emitAt(line, Instruction{Op: OpMakeConst})
		return 1, nil

	case tokLBrace:
		if err := cs.advance(); err != nil {
			return 0, err
		}
		n, err := cs.objEntries()
		if err != nil {
			return 0, err
		}
		cs.emitAt(line, Instruction{Op: OpNewObj, Arg: uint16(n)})
		return 1, nil

	case tokString:
		cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(cs.tok.text)})
		return 1, cs.advance()

	case tokStrInterp:
		return 1, cs.strInterp()
	}
	return 0, cs.syntaxErrorf("unexpected token %s in expression", cs.tok.kind)
}

// strInterp compiles an interpolated "..." literal into a chain of
// CONCAT-folded pieces: each literal chunk becomes an IMM, each `$w` or
// `$(expr)` specifier is compiled as an expression, and the whole run
// is joined with CONCAT.
func (cs *compileScratch) strInterp() error {
	line := cs.tok.line
	n := 0
	for {
		if cs.tok.text != "" || n == 0 {
			cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(cs.tok.text)})
			n++
		}
		finished := cs.tok.kind == tokString
		if err := cs.advance(); err != nil {
			return err
		}
		if finished {
			break
		}
		// interpolation specifier: $word or ( expr )
		if cs.tok.kind == tokSigil {
			if err := cs.advance(); err != nil {
				return err
			}
			w, err := cs.expect(tokWord)
			if err != nil {
				return err
			}
			if err := cs.loadVar(line, w.text); err != nil {
				return err
			}
		} else if cs.tok.kind == tokLParen {
			if err := cs.advance(); err != nil {
				return err
			}
			if _, err := cs.expr(); err != nil {
				return err
			}
			if _, err := cs.expect(tokRParen); err != nil {
				return err
			}
		} else {
			return cs.syntaxErrorf("expected interpolation specifier")
		}
		n++
		// Resume lexing the string's continuation chunk in place of the
		// token the parser would otherwise read next.
		t, err := cs.lex.continueString()
		if err != nil {
			return err
		}
		cs.tok = t
	}
	cs.emitAt(line, Instruction{Op: OpConcat, Arg: uint16(n)})
	return nil
}

// objEntries compiles `obj_entries` up to (not including) the closing
// '}': a mix of positional entries (assigned consecutive integer keys)
// and `key = expr` keyed entries (spec.md §4.3).
func (cs *compileScratch) objEntries() (int, error) {
	n := 0
	positional := 0
	for !cs.at(tokRBrace) {
		line := cs.tok.line
		if cs.tok.kind == tokWord {
			name := cs.tok.text
			save, saveTok := *cs.lex, cs.tok
			if err := cs.advance(); err != nil {
				return n, err
			}
			if cs.at(tokAssign) {
				if err := cs.advance(); err != nil {
					return n, err
				}
				cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(name)})
				if _, err := cs.expr(); err != nil {
					return n, err
				}
				n++
				if cs.at(tokComma) {
					if err := cs.advance(); err != nil {
						return n, err
					}
				}
				continue
			}
			*cs.lex, cs.tok = save, saveTok
		}
		cs.emitAt(line, Instruction{Op: OpImm, Arg: cs.immString(itoa(positional))})
		if _, err := cs.expr(); err != nil {
			return n, err
		}
		positional++
		n++
		if cs.at(tokComma) {
			if err := cs.advance(); err != nil {
				return n, err
			}
		}
	}
	if _, err := cs.expect(tokRBrace); err != nil {
		return n, err
	}
	return n, nil
}

// fnTail compiles `( WORD '?'? )* ( 'do' stmt* 'end' | '(' expr ')' )`
// as a nested function template, pushing a CLOSURE instruction in the
// enclosing function (spec.md §4.3). name is used for anonymous
// closures too (usually "").
func (cs *compileScratch) fnTail(name string, _ bool) error {
	tmpl := &FunctionTemplate{Name: name}
	cs.fns = append(cs.fns, newFnScope(tmpl))

	for cs.tok.kind == tokWord {
		pname := cs.tok.text
		if err := cs.advance(); err != nil {
			return err
		}
		optional := false
		if cs.at(tokQuestion) {
			optional = true
			if err := cs.advance(); err != nil {
				return err
			}
		}
		if _, err := cs.cur().declare(pname, false); err != nil {
			return cs.syntaxErrorf("%v", err)
		}
		if optional {
			tmpl.OptArgs++
		} else {
			tmpl.NArgs++
		}
	}

	// A literal `()` right after the parameter words is a no-op "no
	// params" marker, not the start of a `'(' expr ')'` single-
	// expression body: that form can never be empty, so one token of
	// lookahead disambiguates them cleanly.
	if cs.at(tokLParen) {
		save := *cs.lex
		saveTok := cs.tok
		if err := cs.advance(); err != nil {
			return err
		}
		if cs.at(tokRParen) {
			if err := cs.advance(); err != nil {
				return err
			}
		} else {
			*cs.lex = save
			cs.tok = saveTok
		}
	}

	if cs.at(tokDo) {
		if err := cs.advance(); err != nil {
			return err
		}
		for !cs.at(tokEnd) {
			if err := cs.stmt(); err != nil {
				return err
			}
		}
		if _, err := cs.expect(tokEnd); err != nil {
			return err
		}
		tmpl.AppendInstr(Instruction{Op: OpPushNull})
		tmpl.AppendInstr(Instruction{Op: OpRet, Arg: 1})
	} else if cs.at(tokLParen) {
		if err := cs.advance(); err != nil {
			return err
		}
		if _, err := cs.expr(); err != nil {
			return err
		}
		if _, err := cs.expect(tokRParen); err != nil {
			return err
		}
		tmpl.AppendInstr(Instruction{Op: OpRet, Arg: 1})
	} else {
		return cs.syntaxErrorf("expected 'do' or '(' to start function body")
	}

	tmpl.UpvalLocal = cs.cur().upvalLocals
	cs.fns = cs.fns[:len(cs.fns)-1]

	tmplObj := cs.s.newTemplateObject(tmpl)
	idx := cs.tmpl().AddImm(objValue(tmplObj))
	cs.emit(Instruction{Op: OpClosure, Arg: idx})
	return nil
}

// --- local/global load & store emission ------------------------------------

func (cs *compileScratch) loadVar(line int, name string) error {
	if slot, depth, _, found := cs.resolveVar(name); found {
		cs.loadLocalAt(line, slot, depth)
		return nil
	}
	cs.emitAt(line, Instruction{Op: OpLoadG, Arg: cs.immString(name)})
	return nil
}

func (cs *compileScratch) loadLocalAt(line int, slot, depth int) {
	cs.emitAt(line, Instruction{Op: OpLoad, Arg: uint16(slot), L: uint8(depth)})
}

func (cs *compileScratch) storeVar(line int, name string) error {
	if slot, depth, isConst, found := cs.resolveVar(name); found {
		if isConst {
			return cs.syntaxErrorf("cannot assign to const variable %q", name)
		}
		cs.emitAt(line, Instruction{Op: OpStore, Arg: uint16(slot), L: uint8(depth)})
		return nil
	}
	cs.emitAt(line, Instruction{Op: OpStoreG, Arg: cs.immString(name)})
	return nil
}
