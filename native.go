package esh

// directiveKind tags the result a NativeFunc hands back to the VM
// dispatch loop, implementing the host-callable protocol of spec.md
// §4.6.
type directiveKind uint8

const (
	dirReturn directiveKind = iota
	dirCall
	dirTryCall
	dirErr
	dirYield
	dirYieldLast
	dirNext
	dirNextS
	dirRepeat
)

// NativeResult is the tagged directive a NativeFunc returns to tell the
// VM what to do next: return values, push a nested call, panic, yield
// to the coroutine's parent, resume a child producer, or re-enter
// itself with step+1 (spec.md §4.6).
type NativeResult struct {
	kind  directiveKind
	nArgs int
	nRes  int
	err   error
}

// RetVals returns n values already left on the stack by the native
// function.
func RetVals(n int) NativeResult { return NativeResult{kind: dirReturn, nRes: n} }

// Call pushes a call to the closure found nArgs+1 below the stack top
// (callee below its arguments); the native function is re-entered with
// step+1 once the callee returns, with nRes return values on the
// stack.
func Call(nArgs, nRes int) NativeResult {
	return NativeResult{kind: dirCall, nArgs: nArgs, nRes: nRes}
}

// TryCall behaves like Call but installs a catch-panic on the native
// function's own frame, so a panic raised by the callee is recovered
// instead of propagating past it.
func TryCall(nArgs, nRes int) NativeResult {
	return NativeResult{kind: dirTryCall, nArgs: nArgs, nRes: nRes}
}

// Err raises a panic carrying err as the current error.
func Err(err error) NativeResult { return NativeResult{kind: dirErr, err: err} }

// Yield transfers the top-of-stack value to the parent thread and
// suspends the current coroutine.
func Yield() NativeResult { return NativeResult{kind: dirYield, nArgs: 1, nRes: 0} }

// YieldLast behaves like Yield but also marks the coroutine done.
func YieldLast() NativeResult { return NativeResult{kind: dirYieldLast, nArgs: 1, nRes: 0} }

// Next resumes the coroutine or custom-iterable at top-of-stack as a
// child, requiring single-value producer semantics.
func Next() NativeResult { return NativeResult{kind: dirNext, nArgs: 0, nRes: 1} }

// NextS behaves like Next but allows the producer to fill a
// buffer up to an implementation-chosen read size instead of a single
// value.
func NextS() NativeResult { return NativeResult{kind: dirNextS, nArgs: 0, nRes: 1} }

// Repeat re-enters the same native function at step+1 with no
// intervening VM work, the mechanism native loops use to avoid Go-level
// recursion (spec.md §4.6).
func Repeat() NativeResult { return NativeResult{kind: dirRepeat} }
