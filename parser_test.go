package esh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIfElseBranching(t *testing.T) {
	s := Open()
	defer s.Close()

	v := execTop(t, s, "x = 5; if $x < 3 then return 1 else return 2 end")
	str, _ := ReadString(v)
	require.Equal(t, "2", str)
}

func TestAndShortCircuitsOnFalsy(t *testing.T) {
	s := Open()
	defer s.Close()

	// null is falsy; "and" must not evaluate (and fail on) the RHS.
	v := execTop(t, s, "return (null and (1 / 0))")
	require.True(t, v.IsNull())
}

func TestOrShortCircuitsOnTruthy(t *testing.T) {
	s := Open()
	defer s.Close()

	v := execTop(t, s, "return (1 or (1 / 0))")
	str, _ := ReadString(v)
	require.Equal(t, "1", str)
}

func TestIndexedAssignmentOnObject(t *testing.T) {
	s := Open()
	defer s.Close()

	src := `function id with v do return $v end
obj = { a = 1 }
obj:a = 9
return (id $obj:a)`
	v := execTop(t, s, src)
	str, _ := ReadString(v)
	require.Equal(t, "9", str)
}

func TestLocalRedeclarationInSameBlockFails(t *testing.T) {
	s := Open()
	defer s.Close()

	err := s.Loads("test", "local x = 1; local x = 2; return $x", false)
	require.Error(t, err)
}

func TestMultiAssignFromCallFolding(t *testing.T) {
	s := Open()
	defer s.Close()

	// pair returns two explicit values (RET arg=2); x, y = pair folds the
	// trailing UNPACK into the CMD's expected_returns, so no intermediate
	// positional object is built.
	src := `function pair with do return 1, 2 end
x, y = pair
return $y`
	v := execTop(t, s, src)
	str, _ := ReadString(v)
	require.Equal(t, "2", str)
}

func TestMultiAssignFromSingleObjectUnpacksPositionalKeys(t *testing.T) {
	s := Open()
	defer s.Close()

	// pair returns one positional-keyed object ("0"/"1"); expected=2
	// against n=1 reconciles by reading those positional keys back out.
	src := `function pair with do return { 1, 2 } end
x, y = pair
return $y`
	v := execTop(t, s, src)
	str, _ := ReadString(v)
	require.Equal(t, "2", str)
}

func TestEmptySourceReturnsNull(t *testing.T) {
	s := Open()
	defer s.Close()

	v := execTop(t, s, "")
	require.True(t, v.IsNull())
}
