package esh

import "github.com/cespare/xxhash/v2"

// gcColor is the tri-color mark-and-sweep tag carried by every heap
// object (spec.md §3, §4.7).
type gcColor uint8

const (
	gcWhite gcColor = iota // unvisited
	gcGray                 // to-visit
	gcBlack                // visited
)

type objectKind uint8

const (
	objPlain objectKind = iota
	objString
	objTemplate
	objClosure
	objEnv
	objThread
)

// TypeDescriptor names an object kind's custom behavior: an optional
// destructor run once before the object is freed, and an optional
// "next" hook that turns the object into a producer usable by the
// coroutine-resume instruction (spec.md §3, §4.6).
type TypeDescriptor struct {
	Name       string
	Destructor func(s *State, o *Object)
	Next       func(s *State, o *Object, sizeHint int) error
}

// entry is one slot of an Object's open-addressed hash table.
type entry struct {
	key     []byte
	value   Value
	deleted bool
	used    bool
}

// Object is the common heap object header plus the payload for
// whichever kind it is. Every heap value in the language is one of
// these; which fields are meaningful depends on kind, mirroring the C
// original's single-struct-with-shared-prefix layout (esh.h) adapted to
// Go via one struct with kind-tagged payload fields instead of
// pointer-cast "derived structs".
type Object struct {
	// GC list links (doubly linked, see gc.go).
	prev, next *Object
	color      gcColor

	kind    objectKind
	typ     *TypeDescriptor
	isConst bool

	// Hash table, used by objPlain (and transiently addressable on any
	// kind the host tags with a custom TypeDescriptor).
	entries []entry
	length  int // number of live (non-deleted) entries

	// objString
	str string

	// objTemplate
	template *FunctionTemplate

	// objClosure
	closure *Closure

	// objEnv
	env *Environment

	// objThread
	thread *Thread
}

// IsConst reports whether mutation of o must be rejected.
func (o *Object) IsConst() bool { return o.isConst }

// MakeConst marks o immutable, as emitted by the MAKE_CONST instruction
// for `const { ... }` literals (spec.md §4.2, §9).
func (o *Object) MakeConst() { o.isConst = true }

// Len returns the number of live entries in o's table.
func (o *Object) Len() int { return o.length }

func hashKey(key []byte) uint64 { return xxhash.Sum64(key) }

// find returns the slot key would occupy: either its current slot, or
// the first empty/tombstoned slot on the open-addressing probe path.
// Wraps the probe exactly once, per spec.md §4.1.
func find(entries []entry, key []byte) int {
	cap := len(entries)
	if cap == 0 {
		return -1
	}
	start := int(hashKey(key) % uint64(cap))
	for i := start; i < cap; i++ {
		if !entries[i].used || (len(entries[i].key) == len(key) && string(entries[i].key) == string(key)) {
			return i
		}
	}
	for i := 0; i < start; i++ {
		if !entries[i].used || (len(entries[i].key) == len(key) && string(entries[i].key) == string(key)) {
			return i
		}
	}
	return -1
}

// Get looks up key in o's table. A deleted (tombstoned) entry is a
// miss, exactly like a never-inserted key (spec.md §4.1, §4.4).
func (o *Object) Get(key []byte) (Value, bool) {
	if o.length == 0 || len(o.entries) == 0 {
		return Null, false
	}
	i := find(o.entries, key)
	if i < 0 || !o.entries[i].used || o.entries[i].deleted {
		return Null, false
	}
	return o.entries[i].value, true
}

// GetString is a convenience wrapper for string keys.
func (o *Object) GetString(key string) (Value, bool) { return o.Get([]byte(key)) }

const (
	growThresholdNum, growThresholdDen = 2, 3 // 2/3 load factor
)

func growCap(old int) int { return old*2 + 1 }

func (o *Object) grow() {
	newCap := growCap(len(o.entries))
	newEntries := make([]entry, newCap)
	for _, e := range o.entries {
		if !e.used || e.deleted {
			continue // tombstones dropped on rehash (spec.md §4.1)
		}
		i := find(newEntries, e.key)
		newEntries[i] = e
	}
	o.entries = newEntries
}

// Set implements the table's write contract (spec.md §4.1, §4.4):
// setting NULL deletes the entry, mutating a const object fails, and
// growth happens at a 2/3 load factor with a 2x+1 grow factor.
func (o *Object) Set(key []byte, v Value) error {
	if o.isConst {
		return newError(ErrMutateConst, "attempting to mutate constant object")
	}
	if v.IsNull() {
		o.delete(key)
		return nil
	}
	if len(o.entries) == 0 || o.length*growThresholdDen >= len(o.entries)*growThresholdNum {
		o.grow()
	}
	i := find(o.entries, key)
	e := &o.entries[i]
	if e.used && !e.deleted {
		e.value = v
		return nil
	}
	if !e.used {
		keyCopy := make([]byte, len(key))
		copy(keyCopy, key)
		e.key = keyCopy
		e.used = true
	}
	e.deleted = false
	e.value = v
	o.length++
	return nil
}

// SetString is a convenience wrapper for string keys.
func (o *Object) SetString(key string, v Value) error { return o.Set([]byte(key), v) }

func (o *Object) delete(key []byte) bool {
	if len(o.entries) == 0 {
		return false
	}
	i := find(o.entries, key)
	if i < 0 || !o.entries[i].used || o.entries[i].deleted {
		return false
	}
	o.entries[i].deleted = true
	o.length--
	return true
}

// IsArray reports whether o has entries for every decimal key "0"
// through the length it implies — a derived query, not a distinct
// object kind (spec.md §4.1).
func (o *Object) IsArray() bool {
	n := 0
	for {
		if _, ok := o.GetString(itoa(n)); !ok {
			break
		}
		n++
	}
	return n == o.length
}

// Iterator is the cursor used to walk every live slot of an object
// exactly once; order is unspecified but stable across an un-mutated
// object (spec.md §4.1), matching the original's esh_iterator shape.
type Iterator struct {
	done  bool
	step  int
	index int
}

// IterBegin returns a fresh cursor.
func IterBegin() Iterator { return Iterator{step: -1} }

// Next advances iter over o, returning the next live key/value pair.
func (o *Object) Next(iter *Iterator) (key []byte, value Value, ok bool) {
	if iter.done {
		return nil, Null, false
	}
	iter.step++
	for iter.index < len(o.entries) {
		e := o.entries[iter.index]
		iter.index++
		if e.used && !e.deleted {
			return e.key, e.value, true
		}
	}
	iter.done = true
	return nil, Null, false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
