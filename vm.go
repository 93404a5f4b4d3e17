package esh

// This file is the dispatch loop: call/return discipline, expected-
// return folding, panic propagation across a catch-frame stack, the
// host-callable (native) protocol, and coroutine scheduling by thread
// switching — all driven by one explicit loop rather than Go-level
// recursion, mirroring original_source's run_vm (spec.md §4.5, §4.6).

func fnDisplayName(t *FunctionTemplate) string {
	if t.Name == "" {
		return "anonymous function"
	}
	return "function '" + t.Name + "'"
}

// ExecClosure executes the closure sitting on top of the current
// thread's operand stack (spec.md §6 exec_fn). On success the stack
// holds exactly one more value than before the call (spec.md §8
// invariant 2); on failure it is restored to its pre-call snapshot and
// an error is returned (invariant 3), with the message and trace
// retrievable via ErrorMessage/StackTrace.
func (s *State) ExecClosure() error {
	s.SaveStack()
	s.stackTrace = ""
	s.panicCaught = false

	t := s.current
	if t.stackLen() == 0 {
		err := newError(ErrStackUnderflow, "exec_fn: no closure on the stack")
		s.setError(err)
		return err
	}

	calleeVal := t.top()
	callee := AsObject(calleeVal)
	if callee == nil || callee.kind != objClosure {
		err := newError(ErrTypeMismatch, "exec_fn: top-of-stack value is not a function")
		s.setError(err)
		s.RestoreStack()
		return err
	}

	if err := s.enterCall(0, 1, false); err != nil {
		s.setError(err)
		s.RestoreStack()
		return err
	}
	if err := s.runLoop(); err != nil {
		s.setError(err)
		s.RestoreStack()
		// enterCall consumed the closure; put it back so the stack
		// matches the snapshot again.
		if t.stackLen() < s.savedStackLen {
			t.stack = append(t.stack[:s.savedStackLen-1], calleeVal)
		}
		return err
	}
	return nil
}

// hostDone reports whether the current thread has unwound all the way
// back to the root thread's sentinel (no current function, no
// suspended frames) — the signal that ExecClosure's call is complete.
func (s *State) hostDone() bool {
	t := s.current
	return t.isRoot && len(t.frames) == 0 && t.frame.fn == nil
}

func (s *State) runLoop() error {
	for {
		if s.hostDone() {
			return nil
		}
		t := s.current
		frame := &t.frame

		if frame.fn != nil && frame.fn.Native != nil {
			if err := s.stepNative(); err != nil {
				if perr := s.raisePanic(err); perr != nil {
					return perr
				}
			}
			continue
		}

		if frame.fn == nil || frame.instrIndex >= frame.fn.InstrCount() {
			if err := s.performReturn(0); err != nil {
				if perr := s.raisePanic(err); perr != nil {
					return perr
				}
			}
			continue
		}

		instr := frame.fn.Instr(frame.instrIndex)
		if err := s.execInstr(instr); err != nil {
			if perr := s.raisePanic(err); perr != nil {
				return perr
			}
		}
	}
}

// --- local/global access -------------------------------------------------

func (s *State) loadLocal(frame *Frame, arg uint16, l uint8) (Value, error) {
	t := s.current
	if l == 0 && frame.env == nil {
		idx := frame.base + int(arg)
		if idx < 0 || idx >= t.stackLen() {
			return Null, newError(ErrOutOfBounds, "local slot %d out of range", arg)
		}
		return t.stack[idx], nil
	}
	e := frame.env
	for i := uint8(0); i < l; i++ {
		if e == nil {
			return Null, newError(ErrOutOfBounds, "upvalue depth %d out of range", l)
		}
		e = e.Parent
	}
	if e == nil || int(arg) >= len(e.Locals) {
		return Null, newError(ErrOutOfBounds, "local slot %d out of range", arg)
	}
	return e.Locals[arg], nil
}

func (s *State) storeLocal(frame *Frame, arg uint16, l uint8, v Value) error {
	t := s.current
	if l == 0 && frame.env == nil {
		idx := frame.base + int(arg)
		if idx < 0 || idx >= t.stackLen() {
			return newError(ErrOutOfBounds, "local slot %d out of range", arg)
		}
		t.stack[idx] = v
		return nil
	}
	e := frame.env
	for i := uint8(0); i < l; i++ {
		if e == nil {
			return newError(ErrOutOfBounds, "upvalue depth %d out of range", l)
		}
		e = e.Parent
	}
	if e == nil || int(arg) >= len(e.Locals) {
		return newError(ErrOutOfBounds, "local slot %d out of range", arg)
	}
	e.Locals[arg] = v
	return nil
}

// --- instruction dispatch -------------------------------------------------

func (s *State) execInstr(instr Instruction) error {
	t := s.current
	frame := &t.frame

	switch instr.Op {
	case OpPop:
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "pop on empty stack")
		}
		t.pop()
		frame.instrIndex++

	case OpLoad:
		v, err := s.loadLocal(frame, instr.Arg, instr.L)
		if err != nil {
			return err
		}
		t.push(v)
		frame.instrIndex++

	case OpStore:
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "store with no value on stack")
		}
		v := t.pop()
		if err := s.storeLocal(frame, instr.Arg, instr.L, v); err != nil {
			return err
		}
		frame.instrIndex++

	case OpLoadG:
		name, ok := ReadString(frame.fn.Imms[instr.Arg])
		if !ok {
			return newError(ErrTypeMismatch, "global name immediate is not a string")
		}
		if err := s.GetGlobal(name); err != nil {
			return err
		}
		frame.instrIndex++

	case OpStoreG:
		name, ok := ReadString(frame.fn.Imms[instr.Arg])
		if !ok {
			return newError(ErrTypeMismatch, "global name immediate is not a string")
		}
		if err := s.SetGlobal(name); err != nil {
			return err
		}
		frame.instrIndex++

	case OpJmp:
		frame.instrIndex = frame.fn.Labels[instr.Arg]

	case OpJmpIfN:
		v := t.pop()
		if v.IsNull() {
			frame.instrIndex = frame.fn.Labels[instr.Arg]
		} else {
			frame.instrIndex++
		}

	case OpJmpIf:
		v := t.pop()
		if !v.IsNull() {
			frame.instrIndex = frame.fn.Labels[instr.Arg]
		} else {
			frame.instrIndex++
		}

	case OpImm:
		t.push(frame.fn.Imms[instr.Arg])
		frame.instrIndex++

	case OpPushNull:
		t.push(Null)
		frame.instrIndex++

	case OpCall:
		return s.dispatchCall(frame, int(instr.Arg))

	case OpCmd:
		return s.dispatchCmd(frame, int(instr.Arg), instr.L)

	case OpRet:
		return s.performReturn(int(instr.Arg))

	case OpClosure:
		tmplObj := AsObject(frame.fn.Imms[instr.Arg])
		if tmplObj == nil || tmplObj.kind != objTemplate {
			return newError(ErrTypeMismatch, "CLOSURE immediate is not a function template")
		}
		closureObj := s.newClosureObject(tmplObj.template, frame.env, false)
		t.push(objValue(closureObj))
		frame.instrIndex++

	case OpAdd, OpSub, OpMul, OpDiv:
		b := t.pop()
		a := t.pop()
		ai, err := ReadInt(a)
		if err != nil {
			return err
		}
		bi, err := ReadInt(b)
		if err != nil {
			return err
		}
		var r int64
		switch instr.Op {
		case OpAdd:
			r = ai + bi
		case OpSub:
			r = ai - bi
		case OpMul:
			r = ai * bi
		case OpDiv:
			if bi == 0 {
				r = 0
			} else {
				r = ai / bi
			}
		}
		t.push(s.IntValue(r))
		frame.instrIndex++

	case OpLess, OpGreater, OpLessEq, OpGreaterEq:
		b := t.pop()
		a := t.pop()
		ai, err := ReadInt(a)
		if err != nil {
			return err
		}
		bi, err := ReadInt(b)
		if err != nil {
			return err
		}
		var cond bool
		switch instr.Op {
		case OpLess:
			cond = ai < bi
		case OpGreater:
			cond = ai > bi
		case OpLessEq:
			cond = ai <= bi
		case OpGreaterEq:
			cond = ai >= bi
		}
		t.push(BoolValue(cond))
		frame.instrIndex++

	case OpEq:
		b := t.pop()
		a := t.pop()
		t.push(BoolValue(Equals(a, b)))
		frame.instrIndex++

	case OpNeq:
		b := t.pop()
		a := t.pop()
		t.push(BoolValue(!Equals(a, b)))
		frame.instrIndex++

	case OpNot:
		v := t.pop()
		t.push(BoolValue(v.IsNull()))
		frame.instrIndex++

	case OpDup:
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "dup on empty stack")
		}
		t.push(t.top())
		frame.instrIndex++

	case OpSwap:
		if t.stackLen() < 2 {
			return newError(ErrStackUnderflow, "swap needs two operands")
		}
		a := t.pop()
		b := t.pop()
		t.push(a)
		t.push(b)
		frame.instrIndex++

	case OpNewObj:
		n := int(instr.Arg)
		pairs := t.popN(2 * n)
		obj := s.allocObject(objPlain, nil)
		for i := 0; i < n; i++ {
			key, _ := ReadString(pairs[2*i])
			if err := s.setObjectField(obj, []byte(key), pairs[2*i+1]); err != nil {
				return err
			}
		}
		t.push(objValue(obj))
		frame.instrIndex++

	case OpMakeConst:
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "make_const on empty stack")
		}
		obj := AsObject(t.top())
		if obj == nil {
			return newError(ErrTypeMismatch, "make_const target is not an object")
		}
		obj.MakeConst()
		frame.instrIndex++

	case OpIndex:
		key := t.pop()
		objVal := t.pop()
		obj := AsObject(objVal)
		if obj == nil {
			t.push(Null)
		} else {
			ks, _ := ReadString(key)
			v, ok := obj.GetString(ks)
			if !ok {
				v = Null
			}
			t.push(v)
		}
		frame.instrIndex++

	case OpSetIndex:
		value := t.pop()
		key := t.pop()
		objVal := t.pop()
		obj := AsObject(objVal)
		if obj == nil {
			return newError(ErrIndexOnNonObject, "set_index target is not an object")
		}
		ks, _ := ReadString(key)
		if err := s.setObjectField(obj, []byte(ks), value); err != nil {
			return err
		}
		frame.instrIndex++

	case OpUnpack:
		n := int(instr.Arg)
		v := t.pop()
		if v.IsNull() {
			return newError(ErrTypeMismatch, "UNPACK on NULL")
		}
		obj := AsObject(v)
		if obj == nil {
			return newError(ErrTypeMismatch, "UNPACK on non-object")
		}
		for i := 0; i < n; i++ {
			val, _ := obj.GetString(itoa(i))
			t.push(val)
		}
		frame.instrIndex++

	case OpProp:
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "prop on empty stack")
		}
		if t.top().IsNull() {
			return s.performReturn(1)
		}
		frame.instrIndex++

	case OpConcat:
		n := int(instr.Arg)
		parts := t.popN(n)
		strs := make([]string, n)
		for i, p := range parts {
			str, ok := ReadString(p)
			if !ok {
				return newError(ErrCoerceFailure, "CONCAT operand is not a string")
			}
			strs[i] = str
		}
		t.push(s.NewStringValue(joinStrings(strs)))
		frame.instrIndex++

	default:
		return newError(ErrTypeMismatch, "unknown opcode %v", instr.Op)
	}
	return nil
}

// dispatchCall implements the expected-return folding (spec.md §4.2):
// a CALL immediately followed by UNPACK N sets expected_returns = N and
// consumes the UNPACK; otherwise expected_returns = 1.
func (s *State) dispatchCall(frame *Frame, nArgs int) error {
	expected, skip := s.foldExpectedReturns(frame)
	frame.instrIndex += skip
	return s.enterCall(nArgs, expected, false)
}

func (s *State) foldExpectedReturns(frame *Frame) (expected, instrSkip int) {
	next := frame.instrIndex + 1
	if next < frame.fn.InstrCount() {
		nextInstr := frame.fn.Instr(next)
		if nextInstr.Op == OpUnpack {
			return int(nextInstr.Arg), 2
		}
	}
	return 1, 1
}

// --- call/return -----------------------------------------------------------

func (s *State) bindArgsOnThread(t *Thread, tmpl *FunctionTemplate, env *Environment, args []Value) Frame {
	var f Frame
	f.fn = tmpl
	f.nArgs = len(args)
	if tmpl.UpvalLocal {
		envObj := s.newEnvObject(tmpl.NLocals)
		newEnv := envObj.env
		newEnv.Parent = env
		for i := 0; i < len(args) && i < tmpl.NLocals; i++ {
			newEnv.Locals[i] = args[i]
		}
		f.env = newEnv
		f.base = t.stackLen()
	} else {
		f.base = t.stackLen()
		for _, a := range args {
			t.push(a)
		}
		for t.stackLen() < f.base+tmpl.NLocals {
			t.push(Null)
		}
	}
	return f
}

// enterCall implements "enter function" (spec.md §4.5): it expects the
// current thread's stack to hold `closure, arg1, …, argN` with nArgs
// args, checks arity, and either spawns a suspended coroutine thread
// (closure.IsCoroutine) or pushes a new frame.
func (s *State) enterCall(nArgs, expectedReturns int, catchPanic bool) error {
	t := s.current
	argsStart := t.stackLen() - nArgs
	calleeIdx := argsStart - 1
	if calleeIdx < 0 {
		return newError(ErrStackUnderflow, "call with missing callee on stack")
	}
	calleeVal := t.stack[calleeIdx]
	callee := AsObject(calleeVal)
	if callee == nil || callee.kind != objClosure {
		return newError(ErrTypeMismatch, "call target is not a function")
	}
	closure := callee.closure
	tmpl := closure.Template

	maxArgs := tmpl.NArgs + tmpl.OptArgs
	if nArgs < tmpl.NArgs || (!tmpl.Variadic && nArgs > maxArgs) {
		return newError(ErrArityMismatch, "%s expects %d-%d arguments, got %d",
			fnDisplayName(tmpl), tmpl.NArgs, maxArgs, nArgs)
	}

	args := append([]Value(nil), t.stack[argsStart:]...)

	if closure.IsCoroutine {
		t.stack = t.stack[:calleeIdx]
		child := newThread()
		child.frame = s.bindArgsOnThread(child, tmpl, closure.Env, args)
		s.logCoroutineSpawn(child.ID())
		threadObj := s.allocObject(objThread, threadType)
		threadObj.isConst = true
		threadObj.thread = child
		t.push(objValue(threadObj))
		for i := 1; i < expectedReturns; i++ {
			t.push(Null)
		}
		return nil
	}

	t.frame.expectedReturns = expectedReturns
	t.frame.catchPanic = catchPanic
	t.frames = append(t.frames, t.frame)

	t.stack = t.stack[:calleeIdx]
	t.frame = s.bindArgsOnThread(t, tmpl, closure.Env, args)
	return nil
}

// reconcileValues implements the return-value reconciliation rules of
// spec.md §4.5.
func reconcileValues(s *State, vals []Value, expected int) ([]Value, error) {
	n := len(vals)
	if expected == 1 && n != 1 {
		obj := s.allocObject(objPlain, nil)
		for i, v := range vals {
			if err := s.setObjectField(obj, []byte(itoa(i)), v); err != nil {
				return nil, err
			}
		}
		return []Value{objValue(obj)}, nil
	}
	if expected > 1 && n == 1 {
		obj := AsObject(vals[0])
		out := make([]Value, expected)
		if obj != nil {
			for i := 0; i < expected; i++ {
				v, ok := obj.GetString(itoa(i))
				if ok {
					out[i] = v
				}
			}
		}
		return out, nil
	}
	if expected > n {
		out := append([]Value(nil), vals...)
		for len(out) < expected {
			out = append(out, Null)
		}
		return out, nil
	}
	return vals[:expected], nil
}

func (s *State) freeFrameLocals(f *Frame) {
	if f.nativeFree != nil {
		f.nativeFree(s, f.nativeLocals)
	}
	f.nativeLocals = nil
	f.nativeFree = nil
}

// performReturn implements "Return" (spec.md §4.5): it reconciles n
// values against the suspended caller's expected_returns, or, when
// there is no caller (the thread's own outermost call is finishing),
// either completes the host's ExecClosure call (root thread) or
// reports the coroutine as done and hands a single NULL back to
// whichever thread resumed it.
func (s *State) performReturn(n int) error {
	t := s.current
	s.freeFrameLocals(&t.frame)

	if len(t.frames) == 0 {
		if t.isRoot {
			raw := t.popN(n)
			vals, err := reconcileValues(s, raw, 1)
			if err != nil {
				return err
			}
			t.frame = Frame{}
			for _, v := range vals {
				t.push(v)
			}
			return nil
		}

		t.popN(n)
		t.isDone = true
		if len(s.parents) == 0 {
			return newError(ErrCoroutineMisuse, "coroutine thread has no parent to return to")
		}
		parent := s.parents[len(s.parents)-1]
		s.parents = s.parents[:len(s.parents)-1]
		s.current = parent
		parent.push(Null)
		parent.frame.nativeStep++
		return nil
	}

	caller := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	raw := t.popN(n)
	vals, err := reconcileValues(s, raw, caller.expectedReturns)
	if err != nil {
		return err
	}
	t.stack = t.stack[:t.frame.base]
	t.frame = caller
	for _, v := range vals {
		t.push(v)
	}
	return nil
}

// --- panic propagation ------------------------------------------------------

func frameTraceEntry(f *Frame) stackTraceFrame {
	name := ""
	isNative := false
	line := 0
	if f.fn != nil {
		name = f.fn.Name
		isNative = f.fn.Native != nil
		if !isNative {
			line = f.fn.LineAt(f.instrIndex)
		}
	}
	return stackTraceFrame{name: name, line: line, isNative: isNative}
}

// raisePanic implements panic propagation (spec.md §4.5, §4.8): it
// unwinds frames (and, once a thread's frames are exhausted, crosses
// into its resuming parent thread) until it finds one with
// catch_panic set, or runs off the root thread entirely.
func (s *State) raisePanic(cause error) error {
	s.setError(cause)
	s.panicCaught = false
	var trace []stackTraceFrame
	defer func() { s.logPanic(cause, s.panicCaught) }()

	for {
		t := s.current
		s.freeFrameLocals(&t.frame)
		trace = append(trace, frameTraceEntry(&t.frame))

		for {
			if t.frame.catchPanic {
				t.frame.catchPanic = false
				if t.frame.base <= t.stackLen() {
					t.stack = t.stack[:t.frame.base]
				}
				s.panicCaught = true
				return nil
			}
			if len(t.frames) == 0 {
				break
			}
			t.frame = t.frames[len(t.frames)-1]
			t.frames = t.frames[:len(t.frames)-1]
			s.freeFrameLocals(&t.frame)
			trace = append(trace, frameTraceEntry(&t.frame))
		}

		if t.isRoot || len(s.parents) == 0 {
			s.stackTrace = formatStackTrace(trace)
			t.frame = Frame{}
			return cause
		}

		t.isDone = true
		parent := s.parents[len(s.parents)-1]
		s.parents = s.parents[:len(s.parents)-1]
		s.current = parent
	}
}

// --- native (host callable) protocol ----------------------------------------

// NativeArg reads argument i (0-based) of the currently executing
// native frame.
func (s *State) NativeArg(i int) Value {
	t := s.current
	idx := t.frame.base + i
	if idx < 0 || idx >= t.stackLen() {
		return Null
	}
	return t.stack[idx]
}

// NativeArgCount reports how many arguments the currently executing
// native frame was called with.
func (s *State) NativeArgCount() int { return s.current.frame.nArgs }

// NativeLocals returns the currently executing native frame's per-call
// scratch block, allocating it (via alloc, run once per frame) on
// first access and registering free to run at frame teardown — the
// `locals(size, destructor)` embedding API operation (spec.md §6, §9).
func (s *State) NativeLocals(alloc func() any, free func(s *State, locals any)) any {
	f := &s.current.frame
	if f.nativeLocals == nil {
		f.nativeLocals = alloc()
		f.nativeFree = free
	}
	return f.nativeLocals
}

func (s *State) stepNative() error {
	t := s.current
	frame := &t.frame
	res := frame.fn.Native(s, frame.nArgs, frame.nativeStep)
	switch res.kind {
	case dirReturn:
		return s.performReturn(res.nRes)
	case dirCall, dirTryCall:
		frame.nativeStep++
		if res.kind == dirTryCall {
			s.panicCaught = false
		}
		return s.enterCall(res.nArgs, res.nRes, res.kind == dirTryCall)
	case dirErr:
		if res.err == nil {
			return newError(ErrUserPanic, "native function panicked with no error set")
		}
		return res.err
	case dirYield, dirYieldLast:
		return s.doYield(res.kind == dirYieldLast)
	case dirNext, dirNextS:
		return s.doResume()
	case dirRepeat:
		frame.nativeStep++
		return nil
	default:
		return newError(ErrTypeMismatch, "native function returned an unrecognized directive")
	}
}

func (s *State) doYield(last bool) error {
	t := s.current
	if len(s.parents) == 0 {
		return newError(ErrCoroutineMisuse, "yield outside a coroutine")
	}
	if t.stackLen() == 0 {
		return newError(ErrStackUnderflow, "yield with no value on stack")
	}
	v := t.pop()
	if err := s.performReturn(0); err != nil {
		return err
	}
	if last {
		t.isDone = true
	}
	parent := s.parents[len(s.parents)-1]
	s.parents = s.parents[:len(s.parents)-1]
	s.logCoroutineSwitch(t.ID(), parent.ID(), "yield")
	s.current = parent
	parent.push(v)
	parent.frame.nativeStep++
	return nil
}

// doResume implements Next/NextS (spec.md §4.6): it resolves the
// resume target at top of the native frame's stack (an existing
// thread, a coroutine-flagged closure, or a custom iterable object)
// and either switches the running thread or invokes the type
// descriptor's Next hook synchronously.
func (s *State) doResume() error {
	t := s.current
	if t.stackLen() == 0 {
		return newError(ErrStackUnderflow, "next with no target on stack")
	}
	target := t.pop()
	obj := AsObject(target)
	if obj == nil {
		return newError(ErrTypeMismatch, "next target is not a coroutine or iterable")
	}

	switch obj.kind {
	case objThread:
		child := obj.thread
		if child.isDone {
			t.push(Null)
			t.frame.nativeStep++
			return nil
		}
		s.parents = append(s.parents, t)
		s.logCoroutineSwitch(t.ID(), child.ID(), "next")
		s.current = child
		return nil

	case objClosure:
		closure := obj.closure
		if !closure.IsCoroutine {
			return newError(ErrTypeMismatch, "next target closure is not a coroutine")
		}
		// obj.thread survives across calls on the same closure object
		// (the kind tag stays objClosure; only the .thread field is
		// populated) so repeated `next` on one coroutine value resumes
		// the same thread instead of restarting it from scratch.
		child := obj.thread
		if child == nil {
			child = newThread()
			child.frame = s.bindArgsOnThread(child, closure.Template, closure.Env, nil)
			obj.thread = child
		}
		if child.isDone {
			t.push(Null)
			t.frame.nativeStep++
			return nil
		}
		s.parents = append(s.parents, t)
		s.logCoroutineSwitch(t.ID(), child.ID(), "next")
		s.current = child
		return nil

	default:
		if obj.typ != nil && obj.typ.Next != nil {
			if err := obj.typ.Next(s, obj, 1); err != nil {
				return err
			}
			t.frame.nativeStep++
			return nil
		}
		return newError(ErrCoroutineMisuse, "value is not resumable")
	}
}
