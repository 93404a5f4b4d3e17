package esh

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// State is the process-wide singleton of a single running interpreter
// (spec.md §3). It is not reentrant: exactly one interpreter runs on
// one host goroutine at a time (spec.md §5).
type State struct {
	Logger zerolog.Logger
	Stdout io.Writer

	// GC lists (spec.md §4.7): every heap object belongs to exactly one.
	unvisited *Object // white
	toVisit   *Object // gray
	visited   *Object // black

	globals *Object
	cmd     Value

	current *Thread
	parents []*Thread // LIFO stack of suspended threads (spec.md §4.6)

	errMessage string
	stackTrace string
	panicCaught bool
	savedStackLen int

	gcFreq      int
	gcStepSize  int
	allocCount  int

	strBuf strings.Builder

	compileScratch *compileScratch
}

// Open creates a fresh interpreter with default options.
func Open() *State {
	return OpenWithOptions(defaultOptions())
}

// OpenWithOptions creates a fresh interpreter configured by opts.
func OpenWithOptions(opts Options) *State {
	opts = opts.normalize()
	s := &State{
		Logger:     opts.Logger,
		Stdout:     opts.Stdout,
		gcFreq:     opts.GCFreq,
		gcStepSize: opts.GCStepSize,
	}
	s.globals = s.allocObject(objPlain, nil)
	s.current = newThread()
	s.current.isRoot = true
	s.registerBuiltins()
	s.Logger.Debug().Msg("interpreter opened")
	return s
}

// Close releases the interpreter. Every reachable heap object is walked
// once more so destructors run, matching spec.md §8 invariant 1 (no
// leaks, no double free) within what a garbage-collected host language
// can promise: Go's own GC reclaims the backing memory, but this module
// still guarantees every TypeDescriptor.Destructor fires exactly once.
func (s *State) Close() {
	s.GC(0)
	for o := s.unvisited; o != nil; {
		next := o.next
		s.runDestructor(o)
		o = next
	}
	s.unvisited = nil
	s.Logger.Debug().Msg("interpreter closed")
}

func (s *State) runDestructor(o *Object) {
	if o.typ != nil && o.typ.Destructor != nil {
		o.typ.Destructor(s, o)
	}
}

// --- error buffer / panic state -------------------------------------

// ErrorMessage returns the formatted message of the most recent panic.
func (s *State) ErrorMessage() string { return s.errMessage }

// StackTrace returns the cached stack trace captured when a panic last
// went unhandled, or "" if none has been captured since the last
// ExecClosure call (spec.md §4.8, §7).
func (s *State) StackTrace() string { return s.stackTrace }

// PanicCaught reports whether the most recently executed TryCall (or
// compiled `try`) recovered an error (spec.md §7, §8 invariant 9).
func (s *State) PanicCaught() bool { return s.panicCaught }

func (s *State) setError(err error) {
	s.errMessage = err.Error()
}

// --- allocation -------------------------------------------------------

// allocObject allocates a heap object of the given kind, links it into
// the unvisited (white) GC list, and runs one GC pacing step if the
// allocation budget has been exhausted (spec.md §4.7, §5).
func (s *State) allocObject(kind objectKind, typ *TypeDescriptor) *Object {
	o := &Object{kind: kind, typ: typ}
	s.listAdd(&s.unvisited, o)
	s.paceGC()
	return o
}

func (s *State) allocString(str string) *Object {
	o := s.allocObject(objString, stringType)
	o.isConst = true
	o.str = str
	return o
}

func (s *State) paceGC() {
	s.allocCount++
	if s.allocCount >= s.gcFreq {
		s.allocCount = 0
		s.GC(s.gcStepSize)
	}
}

// --- stack snapshot -----------------------------------------------------

// SaveStack snapshots the current thread's operand stack depth so it
// can later be restored (spec.md, original_source esh_save_stack).
func (s *State) SaveStack() { s.savedStackLen = s.current.stackLen() }

// RestoreStack truncates the current thread's operand stack back to the
// last saved snapshot (spec.md §8 invariant 3).
func (s *State) RestoreStack() {
	if s.savedStackLen < s.current.stackLen() {
		s.current.stack = s.current.stack[:s.savedStackLen]
	}
}

// --- string buffer (original_source esh_str_buff_*) ---------------------

// StrBuffBegin resets the interpreter's reusable string buffer.
func (s *State) StrBuffBegin() { s.strBuf.Reset() }

// StrBuffAppendString appends str to the buffer.
func (s *State) StrBuffAppendString(str string) { s.strBuf.WriteString(str) }

// StrBuffAppendByte appends a single byte to the buffer.
func (s *State) StrBuffAppendByte(c byte) { s.strBuf.WriteByte(c) }

// StrBuffString returns the buffer's current contents.
func (s *State) StrBuffString() string { return s.strBuf.String() }

// --- globals -------------------------------------------------------------

// SetGlobal binds name to the top-of-stack value, consuming it.
func (s *State) SetGlobal(name string) error {
	if s.current.stackLen() == 0 {
		return newError(ErrStackUnderflow, "missing value on stack for global store")
	}
	v := s.current.pop()
	return s.setObjectField(s.globals, []byte(name), v)
}

// GetGlobal pushes the value bound to name, or returns
// ErrUndefinedGlobal.
func (s *State) GetGlobal(name string) error {
	v, ok := s.globals.GetString(name)
	if !ok {
		return newError(ErrUndefinedGlobal, "unknown global variable '%s'", name)
	}
	s.current.push(v)
	return nil
}

// SetCmd consumes the top-of-stack value and installs it as the
// host-provided command dispatcher (spec.md §3, §4.6).
func (s *State) SetCmd() error {
	if s.current.stackLen() == 0 {
		return newError(ErrStackUnderflow, "missing value on stack for set_cmd")
	}
	s.cmd = s.current.pop()
	return nil
}
