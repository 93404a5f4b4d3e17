package esh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectSetGetDelete(t *testing.T) {
	s := Open()
	defer s.Close()

	obj := s.allocObject(objPlain, nil)
	require.NoError(t, s.setObjectField(obj, []byte("a"), s.NewStringValue("1")))
	require.NoError(t, s.setObjectField(obj, []byte("b"), s.NewStringValue("2")))
	require.Equal(t, 2, obj.Len())

	v, ok := obj.GetString("a")
	require.True(t, ok)
	str, _ := ReadString(v)
	require.Equal(t, "1", str)

	// set(key, NULL) deletes.
	require.NoError(t, s.setObjectField(obj, []byte("a"), Null))
	_, ok = obj.GetString("a")
	require.False(t, ok)
	require.Equal(t, 1, obj.Len())

	// Delete-then-reinsert matches a single insert.
	require.NoError(t, s.setObjectField(obj, []byte("a"), s.NewStringValue("1")))
	require.Equal(t, 2, obj.Len())
	v, ok = obj.GetString("a")
	require.True(t, ok)
	str, _ = ReadString(v)
	require.Equal(t, "1", str)
}

func TestObjectMutateConstRejected(t *testing.T) {
	s := Open()
	defer s.Close()

	obj := s.allocObject(objPlain, nil)
	obj.MakeConst()
	err := s.setObjectField(obj, []byte("x"), s.NewStringValue("y"))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrMutateConst, kind)
}

func TestObjectGrowPreservesEntries(t *testing.T) {
	s := Open()
	defer s.Close()

	obj := s.allocObject(objPlain, nil)
	const n = 64
	for i := 0; i < n; i++ {
		require.NoError(t, s.setObjectField(obj, []byte(itoa(i)), s.IntValue(int64(i))))
	}
	require.Equal(t, n, obj.Len())
	for i := 0; i < n; i++ {
		v, ok := obj.GetString(itoa(i))
		require.True(t, ok)
		got, err := ReadInt(v)
		require.NoError(t, err)
		require.Equal(t, int64(i), got)
	}
}

func TestObjectIsArrayView(t *testing.T) {
	s := Open()
	defer s.Close()

	obj := s.allocObject(objPlain, nil)
	require.NoError(t, s.setObjectField(obj, []byte("0"), s.IntValue(10)))
	require.NoError(t, s.setObjectField(obj, []byte("1"), s.IntValue(20)))
	require.True(t, obj.IsArray())

	// A gap breaks the array view.
	require.NoError(t, s.setObjectField(obj, []byte("3"), s.IntValue(30)))
	require.False(t, obj.IsArray())
}

func TestObjectOfLenAndIndexRoundTrip(t *testing.T) {
	s := Open()
	defer s.Close()

	s.PushString("k1")
	s.PushString("v1")
	s.PushString("k2")
	s.PushString("v2")
	require.NoError(t, s.ObjectOf(2))

	n, err := s.ObjectLen(-1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.Index(-1, "k1"))
	v, ok := s.AsString(-1)
	require.True(t, ok)
	require.Equal(t, "v1", v)
}
