package esh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func execTop(t *testing.T, s *State, src string) Value {
	t.Helper()
	require.NoError(t, s.Loads("test", src, false))
	require.NoError(t, s.ExecClosure())
	v := s.current.pop()
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	s := Open()
	defer s.Close()

	v := execTop(t, s, "return 2 + 3 * 4")
	str, ok := ReadString(v)
	require.True(t, ok)
	require.Equal(t, "14", str)
}

func TestDivisionByZeroReturnsZero(t *testing.T) {
	s := Open()
	defer s.Close()

	v := execTop(t, s, "return 5 / 0")
	str, ok := ReadString(v)
	require.True(t, ok)
	require.Equal(t, "0", str)
}

func TestRecursiveFibonacci(t *testing.T) {
	s := Open()
	defer s.Close()

	src := "function f with n do if $n < 2 then return $n end; return (f ($n - 1)) + (f ($n - 2)) end; return (f 10)"
	v := execTop(t, s, src)
	str, ok := ReadString(v)
	require.True(t, ok)
	require.Equal(t, "55", str)
}

func TestClosureCapturesUpvalue(t *testing.T) {
	s := Open()
	defer s.Close()

	src := `function make with do local i = 0; return with () do i = $i + 1; return $i end end
c = make
a = c
b = c
return $b`
	v := execTop(t, s, src)
	str, ok := ReadString(v)
	require.True(t, ok)
	require.Equal(t, "2", str)
}

func TestArityMismatchPanics(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "function f with a b do return $a end; return (f 1)", false))
	err := s.ExecClosure()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrArityMismatch, kind)
}

func TestUnpackOnNullPanics(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "a, b = null", false))
	err := s.ExecClosure()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrTypeMismatch, kind)
}

func TestStackRestoredAfterPanic(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "a, b = null", false))
	before := s.current.stackLen() // snapshot ExecClosure itself will take
	err := s.ExecClosure()
	require.Error(t, err)
	require.Equal(t, before, s.current.stackLen())
}

func TestObjectFieldDeleteAndSizeof(t *testing.T) {
	s := Open()
	defer s.Close()

	src := "obj = { a = 1, b = 2 }; obj:a = null; return (sizeof $obj)"
	v := execTop(t, s, src)
	str, ok := ReadString(v)
	require.True(t, ok)
	require.Equal(t, "1", str)
}
