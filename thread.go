package esh

import "github.com/google/uuid"

// Frame is the VM's per-call book-keeping record (spec.md §3).
type Frame struct {
	base            int // index into the owning thread's value stack
	fn              *FunctionTemplate
	env             *Environment // nil unless fn.UpvalLocal
	instrIndex      int
	nArgs           int
	expectedReturns int
	nativeStep      int
	nativeLocals    any
	nativeFree      func(s *State, locals any)
	catchPanic      bool
}

// threadType is the coroutine object's TypeDescriptor; its destructor
// releases the Go-level slices backing the thread's stack and frames
// once a thread object becomes unreachable (spec.md §3, §4.7).
var threadType = &TypeDescriptor{
	Name: "coroutine",
	Destructor: func(s *State, o *Object) {
		o.thread.stack = nil
		o.thread.frames = nil
	},
}

// Thread is a first-class stackful coroutine: it owns its own operand
// stack and frame stack, has a current frame, and an is-done flag
// (spec.md §3, §4.6).
type Thread struct {
	id uuid.UUID

	stack  []Value
	frames []Frame
	frame  Frame

	// isRoot marks the one thread created by Open/OpenWithOptions, the
	// thread ExecClosure drives directly; every other thread is a
	// coroutine spawned by a coroutine-flagged closure (spec.md §4.6).
	isRoot bool
	isDone bool
}

// ID returns the thread's identity, used only for diagnostics (zerolog
// fields when tracing coroutine switches); it carries no language
// semantics.
func (t *Thread) ID() uuid.UUID { return t.id }

func newThread() *Thread {
	return &Thread{id: uuid.New()}
}

func (t *Thread) stackLen() int { return len(t.stack) }

func (t *Thread) push(v Value) { t.stack = append(t.stack, v) }

func (t *Thread) pop() Value {
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return v
}

func (t *Thread) popN(n int) []Value {
	vs := append([]Value(nil), t.stack[len(t.stack)-n:]...)
	t.stack = t.stack[:len(t.stack)-n]
	return vs
}

func (t *Thread) top() Value { return t.stack[len(t.stack)-1] }

func (t *Thread) reserve(n int) {
	for i := 0; i < n; i++ {
		t.stack = append(t.stack, Null)
	}
}

// operandCount is stack.len - frame.base, the size of the current
// frame's operand stack (spec.md §3 invariants).
func (t *Thread) operandCount() int { return len(t.stack) - t.frame.base }
