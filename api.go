package esh

import "github.com/pkg/errors"

// This file is the embedding API (spec.md §6): the operations a host
// program uses to push/read values, build objects and function
// templates, and drive compilation and execution. Offsets index the
// current thread's operand stack: negative ones count back from the top
// (-1 is the top), non-negative ones are absolute indices. The surface
// favors small, orthogonal methods over a single do-everything struct.

// stackOffset resolves a possibly-negative offset (as the C embedding
// API conventionally allows, -1 meaning top-of-stack) to an absolute
// stack index.
func (s *State) stackOffset(offset int) int {
	t := s.current
	if offset < 0 {
		return t.stackLen() + offset
	}
	return offset
}

// PushNull pushes NULL.
func (s *State) PushNull() { s.current.push(Null) }

// PushInt pushes i encoded as the language's decimal-string integer
// representation.
func (s *State) PushInt(i int64) { s.current.push(s.IntValue(i)) }

// PushBool pushes the language's boolean encoding (spec.md §6: true is
// the string "true", false is NULL).
func (s *State) PushBool(b bool) { s.current.push(BoolValue(b)) }

// PushString pushes a new string value, choosing the inline short
// representation when it fits.
func (s *State) PushString(str string) { s.current.push(s.NewStringValue(str)) }

// NewObject pushes a fresh, empty plain object.
func (s *State) NewObject() {
	obj := s.allocObject(objPlain, nil)
	s.current.push(objValue(obj))
}

// ObjectOf consumes n key/value pairs from the stack (key then value,
// lowest pair deepest) and pushes a new plain object, mirroring the
// NEW_OBJ instruction (spec.md §4.2, §6 `object_of`).
func (s *State) ObjectOf(n int) error {
	t := s.current
	if t.stackLen() < 2*n {
		return newError(ErrStackUnderflow, "object_of: not enough values on stack")
	}
	pairs := t.popN(2 * n)
	obj := s.allocObject(objPlain, nil)
	for i := 0; i < n; i++ {
		key, ok := ReadString(pairs[2*i])
		if !ok {
			return newError(ErrTypeMismatch, "object_of: key is not a string")
		}
		if err := s.setObjectField(obj, []byte(key), pairs[2*i+1]); err != nil {
			return err
		}
	}
	t.push(objValue(obj))
	return nil
}

// NewArray consumes n values (bottom-to-top order) and pushes a new
// plain object populated with consecutive decimal-string keys, the
// array view described in spec.md §4.1.
func (s *State) NewArray(n int) error {
	t := s.current
	if t.stackLen() < n {
		return newError(ErrStackUnderflow, "new_array: not enough values on stack")
	}
	vals := t.popN(n)
	obj := s.allocObject(objPlain, nil)
	for i, v := range vals {
		if err := s.setObjectField(obj, []byte(itoa(i)), v); err != nil {
			return err
		}
	}
	t.push(objValue(obj))
	return nil
}

// Pop discards the top n values.
func (s *State) Pop(n int) error {
	t := s.current
	if t.stackLen() < n {
		return newError(ErrStackUnderflow, "pop: not enough values on stack")
	}
	t.popN(n)
	return nil
}

// Dup pushes a copy of the value at offset (negative counts from top).
func (s *State) Dup(offset int) error {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return newError(ErrInvalidOffset, "dup: offset out of range")
	}
	t.push(t.stack[idx])
	return nil
}

// Swap exchanges the values at offsets a and b.
func (s *State) Swap(a, b int) error {
	t := s.current
	ia, ib := s.stackOffset(a), s.stackOffset(b)
	if ia < 0 || ia >= t.stackLen() || ib < 0 || ib >= t.stackLen() {
		return newError(ErrInvalidOffset, "swap: offset out of range")
	}
	t.stack[ia], t.stack[ib] = t.stack[ib], t.stack[ia]
	return nil
}

// RequireCapacity pre-grows the current thread's stack so the next n
// pushes cannot reallocate mid-sequence; it is an optimization hint,
// not an observable operation.
func (s *State) RequireCapacity(n int) {
	t := s.current
	if cap(t.stack)-len(t.stack) < n {
		grown := make([]Value, len(t.stack), len(t.stack)+n)
		copy(grown, t.stack)
		t.stack = grown
	}
}

// AsString reads the value at offset as a string, reporting ok=false
// if it isn't string-readable.
func (s *State) AsString(offset int) (string, bool) {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return "", false
	}
	return ReadString(t.stack[idx])
}

// AsInt reads the value at offset as an integer (spec.md §4.1 coercion
// rules).
func (s *State) AsInt(offset int) (int64, error) {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return 0, newError(ErrInvalidOffset, "as_int: offset out of range")
	}
	return ReadInt(t.stack[idx])
}

// AsBool reads the value at offset using the language's truthiness
// rule.
func (s *State) AsBool(offset int) bool {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return false
	}
	return Truthy(t.stack[idx])
}

// IsNull reports whether the value at offset is NULL.
func (s *State) IsNull(offset int) bool {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return true
	}
	return t.stack[idx].IsNull()
}

// IsArray reports whether the object at offset satisfies the array
// view (spec.md §4.1).
func (s *State) IsArray(offset int) bool {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return false
	}
	obj := AsObject(t.stack[idx])
	return obj != nil && obj.IsArray()
}

// AsType returns the object at offset if it carries the given type
// descriptor, or nil otherwise — the host's way of recovering a
// concrete host-defined object kind.
func (s *State) AsType(offset int, typ *TypeDescriptor) *Object {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return nil
	}
	obj := AsObject(t.stack[idx])
	if obj == nil || obj.typ != typ {
		return nil
	}
	return obj
}

// Index pushes obj[key] (or NULL on a miss or non-object), the INDEX
// instruction's embedding-API equivalent.
func (s *State) Index(objOffset int, key string) error {
	t := s.current
	idx := s.stackOffset(objOffset)
	if idx < 0 || idx >= t.stackLen() {
		return newError(ErrInvalidOffset, "index: offset out of range")
	}
	obj := AsObject(t.stack[idx])
	if obj == nil {
		t.push(Null)
		return nil
	}
	v, ok := obj.GetString(key)
	if !ok {
		v = Null
	}
	t.push(v)
	return nil
}

// SetIndex sets obj[key] = value, where value is popped off the top of
// the stack.
func (s *State) SetIndex(objOffset int, key string) error {
	t := s.current
	idx := s.stackOffset(objOffset)
	if idx < 0 || idx >= t.stackLen() {
		return newError(ErrInvalidOffset, "set: offset out of range")
	}
	if t.stackLen() == 0 {
		return newError(ErrStackUnderflow, "set: missing value on stack")
	}
	obj := AsObject(t.stack[idx])
	if obj == nil {
		return newError(ErrIndexOnNonObject, "set: target is not an object")
	}
	v := t.pop()
	return s.setObjectField(obj, []byte(key), v)
}

// ObjectLen returns the live entry count of the object at offset.
func (s *State) ObjectLen(offset int) (int, error) {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return 0, newError(ErrInvalidOffset, "object_len: offset out of range")
	}
	obj := AsObject(t.stack[idx])
	if obj == nil {
		return 0, newError(ErrTypeMismatch, "object_len: target is not an object")
	}
	return obj.Len(), nil
}

// --- function-building API (spec.md §6) -------------------------------

// NewFunctionTemplate starts a fresh template under construction; pass
// it to FinalizeFunction once its body is emitted.
func NewFunctionTemplate(name string) *FunctionTemplate {
	return &FunctionTemplate{Name: name}
}

// FinalizeFunction fixes a template's arity metadata and pushes a
// closure over it onto the stack (spec.md §6 `fn_finalize`).
// makeClosure controls whether the pushed value is a ready-to-call
// closure (true) or the bare template wrapped only enough to be used
// as a CLOSURE instruction's immediate (false). The compiler does not
// go through this function; it builds its template objects directly.
func (s *State) FinalizeFunction(t *FunctionTemplate, nArgs, optArgs, nLocals int, upvalLocals, makeClosure bool) {
	t.NArgs = nArgs
	t.OptArgs = optArgs
	t.NLocals = nLocals
	t.UpvalLocal = upvalLocals

	tmplObj := s.newTemplateObject(t)
	if makeClosure {
		closureObj := s.newClosureObject(t, nil, false)
		s.current.push(objValue(closureObj))
	} else {
		s.current.push(objValue(tmplObj))
	}
}

// NewNativeClosure registers f as a host callable and pushes a ready
// closure over it (spec.md §6 `new_c_fn`).
func (s *State) NewNativeClosure(name string, f NativeFunc, nArgs, optArgs int, variadic bool) {
	tmpl := &FunctionTemplate{
		Name:     name,
		NArgs:    nArgs,
		OptArgs:  optArgs,
		Variadic: variadic,
		Native:   f,
	}
	closureObj := s.newClosureObject(tmpl, nil, false)
	s.current.push(objValue(closureObj))
}

// MakeCoroutine flips the is_coroutine flag on the closure at offset,
// so future calls to it spawn a suspended thread instead of running
// immediately (spec.md §4.6).
func (s *State) MakeCoroutine(offset int) error {
	t := s.current
	idx := s.stackOffset(offset)
	if idx < 0 || idx >= t.stackLen() {
		return newError(ErrInvalidOffset, "make_coroutine: offset out of range")
	}
	obj := AsObject(t.stack[idx])
	if obj == nil || obj.kind != objClosure {
		return newError(ErrTypeMismatch, "make_coroutine: target is not a function")
	}
	obj.closure.IsCoroutine = true
	return nil
}

// --- GC tuning ---------------------------------------------------------

// GCConf updates the pacing knobs at runtime.
func (s *State) GCConf(freq, stepSize int) {
	if freq > 0 {
		s.gcFreq = freq
	}
	if stepSize > 0 {
		s.gcStepSize = stepSize
	}
}

// --- loading -------------------------------------------------------------

// Loads compiles source under the given name and pushes the resulting
// top-level closure, without executing it (spec.md §6 `loads`).
// interactive is passed on to Compile, which currently compiles the
// same way whatever its value.
func (s *State) Loads(name, source string, interactive bool) error {
	tmpl, err := Compile(s, source, name, interactive)
	if err != nil {
		return errors.WithStack(err)
	}
	closureObj := s.newClosureObject(tmpl, nil, false)
	s.current.push(objValue(closureObj))
	return nil
}
