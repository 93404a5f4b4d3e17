package esh

import "fmt"

// This file is the small set of globals every program gets for free at
// Open time: the host-callable protocol's own vocabulary (yield,
// yield_last, next, next_s, try) plus a handful of utilities the
// concrete end-to-end scenarios of spec.md §8 call by name (print,
// sizeof, assert, co, foreach). None of these are grammar keywords —
// they are ordinary globals resolved the same way any other call
// target is, which is why `co $g` and `yield 1` both compile to a
// plain CMD that finds the global of that name.

func (s *State) registerBuiltin(name string, f NativeFunc, nArgs, optArgs int, variadic bool) {
	s.NewNativeClosure(name, f, nArgs, optArgs, variadic)
	if err := s.SetGlobal(name); err != nil {
		panic(err) // only reachable if Open's own bootstrap is broken
	}
}

func (s *State) registerBuiltins() {
	s.registerBuiltin("yield", biYield, 1, 0, false)
	s.registerBuiltin("yield_last", biYieldLast, 1, 0, false)
	s.registerBuiltin("next", biNext, 1, 0, false)
	s.registerBuiltin("next_s", biNextS, 1, 0, false)
	s.registerBuiltin("try", biTry, 0, 0, true)
	s.registerBuiltin("print", biPrint, 0, 0, true)
	s.registerBuiltin("sizeof", biSizeof, 1, 0, false)
	s.registerBuiltin("assert", biAssert, 1, 1, false)
	s.registerBuiltin("co", biCo, 1, 0, false)
	s.registerBuiltin("foreach", biForeach, 2, 0, false)
}

// biYield implements the `yield` global: yield(v) transfers v to the
// parent thread and suspends.
func biYield(s *State, nArgs, step int) NativeResult {
	s.current.push(s.NativeArg(0))
	return Yield()
}

// biYieldLast implements `yield_last`: like yield, but also marks the
// coroutine done, so a further `next` on it yields NULL forever.
func biYieldLast(s *State, nArgs, step int) NativeResult {
	s.current.push(s.NativeArg(0))
	return YieldLast()
}

// biNext implements `next`: resume the coroutine or custom-iterable at
// arg 0 as a child, requiring single-value producer semantics.
func biNext(s *State, nArgs, step int) NativeResult {
	if step == 0 {
		s.current.push(s.NativeArg(0))
		return Next()
	}
	return RetVals(1)
}

// biNextS implements `next_s`: like next, but lets the producer fill an
// implementation-chosen read size instead of a single value.
func biNextS(s *State, nArgs, step int) NativeResult {
	if step == 0 {
		s.current.push(s.NativeArg(0))
		return NextS()
	}
	return RetVals(1)
}

// biTry implements `try`: call the closure in arg 0 with the remaining
// args forwarded to it, catching any panic, and return a
// (result, error_message) pair. Called with no
// arguments it returns (null, null) (spec.md §8 boundary behavior).
func biTry(s *State, nArgs, step int) NativeResult {
	if step == 0 {
		if nArgs == 0 {
			s.current.push(Null)
			s.current.push(Null)
			return RetVals(2)
		}
		s.current.push(s.NativeArg(0))
		for i := 1; i < nArgs; i++ {
			s.current.push(s.NativeArg(i))
		}
		return TryCall(nArgs-1, 1)
	}
	if s.PanicCaught() {
		s.current.push(Null)
		s.current.push(s.NewStringValue(s.ErrorMessage()))
		return RetVals(2)
	}
	result := s.current.pop()
	s.current.push(result)
	s.current.push(Null)
	return RetVals(2)
}

// biPrint implements `print`: writes its arguments space-separated,
// coercing each to its string form (or DebugString for a non-string
// object), followed by a newline.
func biPrint(s *State, nArgs, step int) NativeResult {
	for i := 0; i < nArgs; i++ {
		if i > 0 {
			fmt.Fprint(s.Stdout, " ")
		}
		v := s.NativeArg(i)
		if str, ok := ReadString(v); ok {
			fmt.Fprint(s.Stdout, str)
		} else {
			fmt.Fprint(s.Stdout, DebugString(v))
		}
	}
	fmt.Fprint(s.Stdout, "\n")
	s.current.push(Null)
	return RetVals(1)
}

// biSizeof implements `sizeof`: the live entry count of an object, or 0
// for a non-object.
func biSizeof(s *State, nArgs, step int) NativeResult {
	obj := AsObject(s.NativeArg(0))
	n := 0
	if obj != nil {
		n = obj.Len()
	}
	s.current.push(s.IntValue(int64(n)))
	return RetVals(1)
}

// assertFalsy extends the language's NULL-only truthiness rule for
// assert's purposes: call arguments are shell-style WORDs (plain
// strings, spec.md §4.3 term grammar), so there is no way to spell a
// boolean literal other than the bare word `false` itself.
func assertFalsy(v Value) bool {
	if v.IsNull() {
		return true
	}
	str, ok := ReadString(v)
	return ok && str == "false"
}

// biAssert implements `assert`: panics UserPanic with the given message
// (default "Assertion failed") if its first argument is falsy,
// otherwise returns NULL.
func biAssert(s *State, nArgs, step int) NativeResult {
	if !assertFalsy(s.NativeArg(0)) {
		s.current.push(Null)
		return RetVals(1)
	}
	msg := "Assertion failed"
	if nArgs > 1 {
		if m, ok := ReadString(s.NativeArg(1)); ok && m != "" {
			msg = m
		}
	}
	return Err(newError(ErrUserPanic, "%s", msg))
}

// biCo implements `co`: flips the coroutine flag on a closure in place
// (spec.md §6 make_coroutine) and returns it, so `co $g` can be used
// either as a statement or inline.
func biCo(s *State, nArgs, step int) NativeResult {
	v := s.NativeArg(0)
	obj := AsObject(v)
	if obj == nil || obj.kind != objClosure {
		return Err(newError(ErrTypeMismatch, "co: argument is not a function"))
	}
	obj.closure.IsCoroutine = true
	s.current.push(v)
	return RetVals(1)
}

// foreachLocals is foreach's per-call native scratch block (spec.md §6
// `locals`): it survives across the many Next/Call re-entries a single
// foreach invocation drives.
type foreachLocals struct {
	target   Value
	callback Value
	phase    int // 0: resume target; 1: have a produced value; 2: awaiting callback
}

// biForeach implements `foreach`: repeatedly resumes a coroutine (or
// custom-iterable) target and invokes callback with each produced
// value, stopping at the first NULL (spec.md §8 scenario 4).
func biForeach(s *State, nArgs, step int) NativeResult {
	raw := s.NativeLocals(func() any {
		return &foreachLocals{target: s.NativeArg(0), callback: s.NativeArg(1)}
	}, nil)
	fl := raw.(*foreachLocals)

	switch fl.phase {
	case 0:
		fl.phase = 1
		s.current.push(fl.target)
		return Next()

	case 1:
		v := s.current.pop()
		if v.IsNull() {
			s.current.push(Null)
			return RetVals(1)
		}
		fl.phase = 2
		s.current.push(fl.callback)
		s.current.push(v)
		return Call(1, 1)

	default:
		s.current.pop() // discard the callback's result
		fl.phase = 0
		return Repeat()
	}
}
