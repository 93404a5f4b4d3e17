package esh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStringValueShortAndHeapAgree(t *testing.T) {
	s := Open()
	defer s.Close()

	short := s.NewStringValue("hi")
	long := s.NewStringValue(strings.Repeat("x", shortStringCap+1))

	str, ok := ReadString(short)
	require.True(t, ok)
	require.Equal(t, "hi", str)

	str, ok = ReadString(long)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("x", shortStringCap+1), str)
}

func TestEqualsIgnoresRepresentation(t *testing.T) {
	s := Open()
	defer s.Close()

	short := s.NewStringValue("same")
	// Force a heap-backed copy of the same short text by allocating a
	// string object directly, bypassing the inline representation.
	heapBacked := s.allocString("same")
	heapVal := Value{kind: kindObject, obj: heapBacked}

	require.True(t, Equals(short, heapVal))
	require.True(t, Equals(Null, Null))
	require.False(t, Equals(Null, short))
}

func TestBoolValueEncoding(t *testing.T) {
	require.True(t, BoolValue(true).kind == kindShortString)
	require.True(t, BoolValue(false).IsNull())
	require.True(t, Truthy(BoolValue(true)))
	require.False(t, Truthy(BoolValue(false)))
}

func TestReadIntCoercion(t *testing.T) {
	s := Open()
	defer s.Close()

	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"-7", -7, false},
		{"", 0, false},
		{"-", 0, false},
		{"12x", 0, true},
	}
	for _, c := range cases {
		n, err := ReadInt(s.NewStringValue(c.in))
		if c.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, c.want, n)
	}
}

func TestIntValueRoundTrip(t *testing.T) {
	s := Open()
	defer s.Close()

	v := s.IntValue(-123)
	n, err := ReadInt(v)
	require.NoError(t, err)
	require.Equal(t, int64(-123), n)
}

func TestJoinStringsConcatAssociativity(t *testing.T) {
	a, b, c := "a", "b", "c"
	left := joinStrings([]string{joinStrings([]string{a, b}), c})
	right := joinStrings([]string{a, joinStrings([]string{b, c})})
	require.Equal(t, left, right)
	require.Equal(t, a, joinStrings([]string{a, ""}))
}
