package esh

// Incremental tri-color mark-and-sweep collector over three intrusive
// doubly-linked object lists (unvisited/white, toVisit/gray, visited/
// black), mirroring the original_source obj_list_pop/obj_list_add /
// gc_mark_to_visit/gc_trace_obj pair, generalized to Go's object model
// (spec.md §4.7).

func (s *State) listAdd(head **Object, o *Object) {
	o.prev = nil
	o.next = *head
	if *head != nil {
		(*head).prev = o
	}
	*head = o
}

func (s *State) listRemove(head **Object, o *Object) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		*head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	}
	o.prev, o.next = nil, nil
}

func (s *State) headFor(color gcColor) **Object {
	switch color {
	case gcWhite:
		return &s.unvisited
	case gcGray:
		return &s.toVisit
	default:
		return &s.visited
	}
}

// markGray moves o to the gray (toVisit) list unless it is already gray
// or black (spec.md §4.7 invariant: a black object is never re-marked
// gray except through the write barrier).
func (s *State) markGray(o *Object) {
	if o == nil || o.color == gcGray || o.color == gcBlack {
		return
	}
	s.listRemove(s.headFor(o.color), o)
	o.color = gcGray
	s.listAdd(&s.toVisit, o)
}

// setObjectField mutates o through its normal table contract and then
// applies the write barrier, since o may already be black while v (or
// the object it wraps) is still white (spec.md §4.7).
func (s *State) setObjectField(o *Object, key []byte, v Value) error {
	if err := o.Set(key, v); err != nil {
		return err
	}
	s.writeBarrier(o)
	return nil
}

// writeBarrier re-greys a black object whenever a pointer into it is
// mutated, preserving the tri-color invariant that no black object
// points at a white one (spec.md §4.7, original_source
// gc_obj_write_barrier).
func (s *State) writeBarrier(o *Object) {
	if o != nil && o.color == gcBlack {
		s.listRemove(&s.visited, o)
		o.color = gcGray
		s.listAdd(&s.toVisit, o)
	}
}

// markRoots grays every object directly reachable from interpreter
// roots: globals, the command dispatcher, every suspended thread, and
// the current thread's stack and frame chain.
func (s *State) markRoots() {
	s.markGray(s.globals)
	s.markValue(s.cmd)
	for _, t := range s.parents {
		s.markThread(t)
	}
	if s.current != nil {
		s.markThread(s.current)
	}
}

func (s *State) markThread(t *Thread) {
	for _, v := range t.stack {
		s.markValue(v)
	}
	s.markFrame(&t.frame)
	for i := range t.frames {
		s.markFrame(&t.frames[i])
	}
}

func (s *State) markFrame(f *Frame) {
	if f.fn != nil {
		for _, imm := range f.fn.Imms {
			s.markValue(imm)
		}
	}
	s.markEnv(f.env)
}

func (s *State) markEnv(e *Environment) {
	for e != nil {
		for _, v := range e.Locals {
			s.markValue(v)
		}
		e = e.Parent
	}
}

func (s *State) markValue(v Value) {
	if o := AsObject(v); o != nil {
		s.markGray(o)
	}
}

// traceOne grays every object directly reachable from one gray object,
// then blackens it (original_source gc_trace_obj). Returns the object
// traced, or nil if the gray list was empty.
func (s *State) traceOne() *Object {
	o := s.toVisit
	if o == nil {
		return nil
	}
	s.listRemove(&s.toVisit, o)

	switch o.kind {
	case objPlain:
		for i := range o.entries {
			if o.entries[i].used && !o.entries[i].deleted {
				s.markValue(o.entries[i].value)
			}
		}
	case objClosure:
		if o.closure != nil {
			if o.closure.Template != nil {
				for _, imm := range o.closure.Template.Imms {
					s.markValue(imm)
				}
			}
			s.markEnv(o.closure.Env)
		}
	case objEnv:
		s.markEnv(o.env)
	case objThread:
		if o.thread != nil {
			s.markThread(o.thread)
		}
	case objTemplate:
		if o.template != nil {
			for _, imm := range o.template.Imms {
				s.markValue(imm)
			}
		}
	}
	if o.typ != nil && o.typ.Next != nil {
		// Custom iterables may hold references outside entries; those are
		// not traced. Next describes enumeration order, not GC roots, so
		// it is not called here or during sweep.
		_ = o.typ.Next
	}

	o.color = gcBlack
	s.listAdd(&s.visited, o)
	return o
}

// GC runs mark-and-sweep. budget <= 0 means trace to completion (a full
// stop-the-world collection, as Close uses); budget > 0 traces at most
// that many objects before returning, implementing the incremental step
// the VM calls between allocations (spec.md §4.7, §5).
func (s *State) GC(budget int) {
	s.logGCStart(budget)
	s.markRoots()

	traced := 0
	for {
		if budget > 0 && traced >= budget {
			return
		}
		if s.traceOne() == nil {
			break
		}
		traced++
	}
	if s.toVisit != nil {
		// Incremental step exhausted its budget with gray objects left;
		// the next paced call resumes tracing them.
		return
	}
	s.sweep()
}

// sweep frees every object still white: it was never reached from a
// root during this collection cycle, so it is garbage. Every surviving
// (black) object is reset to white for the next cycle.
func (s *State) sweep() {
	freed := 0
	for o := s.unvisited; o != nil; {
		next := o.next
		s.listRemove(&s.unvisited, o)
		s.runDestructor(o)
		freed++
		o = next
	}
	for o := s.visited; o != nil; o = o.next {
		o.color = gcWhite
	}
	s.unvisited, s.visited = s.visited, nil
	s.logGCSweep(freed)
}

// GCStats reports the object counts of each GC list, used by tests and
// the embedding API's introspection hooks.
type GCStats struct {
	White, Gray, Black int
}

func (s *State) GCStats() GCStats {
	var st GCStats
	for o := s.unvisited; o != nil; o = o.next {
		st.White++
	}
	for o := s.toVisit; o != nil; o = o.next {
		st.Gray++
	}
	for o := s.visited; o != nil; o = o.next {
		st.Black++
	}
	return st
}
