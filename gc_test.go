package esh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCReclaimsUnreachable(t *testing.T) {
	s := Open()
	defer s.Close()

	var destroyed bool
	typ := &TypeDescriptor{
		Name:       "probe",
		Destructor: func(_ *State, _ *Object) { destroyed = true },
	}
	s.allocObject(objPlain, typ) // never reachable from a root

	s.GC(0)
	require.True(t, destroyed)
}

func TestGCKeepsReachableObject(t *testing.T) {
	s := Open()
	defer s.Close()

	var destroyed bool
	typ := &TypeDescriptor{
		Name:       "probe",
		Destructor: func(_ *State, _ *Object) { destroyed = true },
	}
	o := s.allocObject(objPlain, typ)
	require.NoError(t, s.setObjectField(s.globals, []byte("root"), objValue(o)))

	s.GC(0)
	require.False(t, destroyed)

	v, ok := s.globals.GetString("root")
	require.True(t, ok)
	require.Equal(t, o, AsObject(v))
}

func TestGCIncrementalBudgetResumes(t *testing.T) {
	s := Open()
	defer s.Close()

	for i := 0; i < 20; i++ {
		child := s.allocObject(objPlain, nil)
		require.NoError(t, s.setObjectField(s.globals, []byte(itoa(i)), objValue(child)))
	}

	s.GC(1) // small budget: leaves objects gray, doesn't sweep yet
	stats := s.GCStats()
	require.True(t, stats.Gray+stats.Black > 0)

	s.GC(0) // full run: finishes tracing and sweeps
	stats = s.GCStats()
	require.Equal(t, 0, stats.Gray)
}

func TestWriteBarrierReGraysBlackObject(t *testing.T) {
	s := Open()
	defer s.Close()

	parent := s.allocObject(objPlain, nil)
	require.NoError(t, s.setObjectField(s.globals, []byte("p"), objValue(parent)))

	s.markRoots()
	for s.traceOne() != nil {
	}
	require.Equal(t, gcBlack, parent.color)

	child := s.allocObject(objPlain, nil)
	require.NoError(t, s.setObjectField(parent, []byte("c"), objValue(child)))
	require.Equal(t, gcGray, parent.color)
}
