package esh

// dispatchCmd implements CMD (spec.md §4.2, §4.6): the compiler emits
// it for a bare WORD that didn't resolve to a local, with the command
// name already sitting on the stack below its positional arguments,
// exactly where CALL expects a closure. A global of that name is tried
// first (spec.md §8 invariant 7); failing that, the host-registered
// command dispatcher is invoked with the supplemented argument layout
// `name, pipe_in, capture_output, arg1..argN` (SPEC_FULL.md) so a
// single native dispatcher can see the full piping/capture metadata
// without the core needing to know anything about processes or pipes.
func (s *State) dispatchCmd(frame *Frame, nArgs int, l uint8) error {
	const (
		cmdFlagCapture = 1 << 0
		cmdFlagPipeIn  = 1 << 1
	)
	captureOutput := l&cmdFlagCapture != 0
	pipeIn := l&cmdFlagPipeIn != 0

	expected, skip := s.foldExpectedReturns(frame)
	frame.instrIndex += skip

	t := s.current
	if t.stackLen() < nArgs+1 {
		return newError(ErrStackUnderflow, "cmd: missing name or arguments on stack")
	}
	args := t.popN(nArgs)
	nameVal := t.pop()
	name, ok := ReadString(nameVal)
	if !ok {
		return newError(ErrTypeMismatch, "command name is not a string")
	}
	// The compiler pushes a piped-in value (if any) *before* the name,
	// since it is the already-evaluated result of the previous segment
	// in a `a | b` chain (spec.md §4.2 CMD `l` bit 1).
	pipeVal := Null
	if pipeIn {
		if t.stackLen() == 0 {
			return newError(ErrStackUnderflow, "cmd: missing piped-in value")
		}
		pipeVal = t.pop()
	}

	if gv, found := s.globals.GetString(name); found {
		if obj := AsObject(gv); obj != nil && obj.kind == objClosure {
			t.push(gv)
			for _, a := range args {
				t.push(a)
			}
			return s.enterCall(nArgs, expected, false)
		}
	}

	if s.cmd.IsNull() {
		return newError(ErrNoCommandHandler, "no command handler registered for '%s'", name)
	}
	dispatcher := AsObject(s.cmd)
	if dispatcher == nil || dispatcher.kind != objClosure {
		return newError(ErrNoCommandHandler, "command dispatcher is not callable")
	}

	t.push(s.cmd)
	t.push(s.NewStringValue(name))
	t.push(pipeVal)
	t.push(BoolValue(captureOutput))
	for _, a := range args {
		t.push(a)
	}
	return s.enterCall(nArgs+3, expected, false)
}
