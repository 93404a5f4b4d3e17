package esh

import (
	"strconv"
	"strings"
)

// shortStringCap is how many bytes of a string fit inline in a Value
// without a heap allocation. On the reference C implementation this is
// driven by the pointer width (typically 6 bytes on a 64-bit system,
// since one word minus the tag byte minus a NUL terminator). Go values
// aren't raw pointers we can tag, so this module trades the tag bit for
// a discriminant field and widens the inline buffer a little, which
// still keeps the common case (command names, small flags, short
// identifiers) allocation-free.
const shortStringCap = 14

type valueKind uint8

const (
	kindNull valueKind = iota
	kindShortString
	kindObject
)

// Value is the runtime's tagged union. Its zero value is NULL, matching
// the spec's requirement that NULL be a distinguished, falsy sentinel:
// a zeroed Value naturally decodes to NULL without any constructor.
type Value struct {
	kind  valueKind
	slen  uint8
	short [shortStringCap]byte
	obj   *Object
}

// Null is the distinguished falsy sentinel value.
var Null = Value{}

// NewStringValue builds a Value for s, choosing the inline short-string
// representation when it fits and allocating a heap String object
// otherwise. Heap allocation goes through the owning State so the new
// object is linked into the GC's unvisited list and paced correctly.
func (s *State) NewStringValue(str string) Value {
	if len(str) <= shortStringCap {
		var v Value
		v.kind = kindShortString
		v.slen = uint8(len(str))
		copy(v.short[:], str)
		return v
	}
	obj := s.allocString(str)
	return Value{kind: kindObject, obj: obj}
}

func objValue(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: kindObject, obj: o}
}

// IsNull reports whether v is the NULL sentinel.
func (v Value) IsNull() bool { return v.kind == kindNull }

// Truthy implements the language's truthiness rule: everything but NULL
// is truthy.
func Truthy(v Value) bool { return v.kind != kindNull }

// BoolValue encodes a host bool the way the language does: true becomes
// the short string "true", false becomes NULL (spec.md §6).
func BoolValue(b bool) Value {
	if !b {
		return Null
	}
	v := Value{kind: kindShortString, slen: 4}
	copy(v.short[:], "true")
	return v
}

// ReadString returns the bytes backing v as a string, and whether v was
// readable as a string at all (i.e. a short string or a heap String
// object). It is the single accessor the spec requires so callers don't
// need to care which representation backs the value (spec.md §3, §4.1).
func ReadString(v Value) (string, bool) {
	switch v.kind {
	case kindShortString:
		return string(v.short[:v.slen]), true
	case kindObject:
		if v.obj != nil && v.obj.kind == objString {
			return v.obj.str, true
		}
	}
	return "", false
}

// ReadInt parses v as a decimal integer. Per spec.md §4.1, an empty
// digit run is not an error and yields 0; anything else that isn't a
// valid optionally-signed decimal integer is a CoerceFailure.
func ReadInt(v Value) (int64, error) {
	s, ok := ReadString(v)
	if !ok {
		return 0, newError(ErrCoerceFailure, "cannot coerce non-string value to integer")
	}
	if s == "" {
		return 0, nil
	}
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, nil
	}
	var n int64
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, newError(ErrCoerceFailure, "invalid integer literal %q", s)
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// IntValue formats i as the language's decimal-string integer
// representation (spec.md §3: "Integer constants ... values are
// strings at runtime").
func (s *State) IntValue(i int64) Value {
	return s.NewStringValue(strconv.FormatInt(i, 10))
}

// Equals implements the spec's equality rule: pointer-equal heap
// objects, or byte-identical strings regardless of representation
// (spec.md §4.1).
func Equals(a, b Value) bool {
	if as, aok := ReadString(a); aok {
		if bs, bok := ReadString(b); bok {
			return as == bs
		}
		return false
	}
	if a.kind == kindNull || b.kind == kindNull {
		return a.kind == b.kind
	}
	return a.obj == b.obj
}

// AsObject returns the heap object backing v, or nil if v is NULL or a
// string (inline or heap).
func AsObject(v Value) *Object {
	if v.kind != kindObject || v.obj == nil || v.obj.kind == objString {
		return nil
	}
	return v.obj
}

// objectOfAnyKind returns the heap object behind v whatever its kind,
// string objects included.
func objectOfAnyKind(v Value) *Object {
	if v.kind != kindObject {
		return nil
	}
	return v.obj
}

// DebugString renders v for diagnostics (disassembly, stack dumps); it
// is never used for language-visible behavior.
func DebugString(v Value) string {
	if v.IsNull() {
		return "null"
	}
	if s, ok := ReadString(v); ok {
		return strconv.Quote(s)
	}
	switch v.obj.kind {
	case objPlain:
		return "<object>"
	case objTemplate:
		return "<template " + v.obj.template.Name + ">"
	case objClosure:
		return "<function " + v.obj.closure.Template.Name + ">"
	case objEnv:
		return "<env>"
	case objThread:
		return "<coroutine>"
	}
	return "<unknown>"
}

// joinStrings concatenates operands bottom-to-top, matching CONCAT's
// stack order (spec.md §4.2).
func joinStrings(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
	}
	return b.String()
}
