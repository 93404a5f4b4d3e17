package esh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// resumeSource, defined once per test binding, builds a standalone
// program that calls `next` on the already-global coroutine `g` and
// returns its result; each call to execTop re-enters the VM end to end
// (Loads + ExecClosure), exercising the same path a host embedder
// would, rather than reaching into doResume directly.
const resumeSource = "return (next $g)"

func TestCoroutineYieldSequenceThenDone(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "function g with do yield 1; yield 2; yield 3 end\nco $g", false))
	require.NoError(t, s.ExecClosure())
	s.current.pop()

	want := []string{"1", "2", "3"}
	for _, w := range want {
		v := execTop(t, s, resumeSource)
		got, ok := ReadString(v)
		require.True(t, ok)
		require.Equal(t, w, got)
	}

	// Once the body runs out, every further NEXT yields NULL forever.
	for i := 0; i < 3; i++ {
		v := execTop(t, s, resumeSource)
		require.True(t, v.IsNull())
	}
}

func TestForeachDrivesCoroutineToCompletion(t *testing.T) {
	var buf bytes.Buffer
	s := OpenWithOptions(Options{Stdout: &buf})
	defer s.Close()

	src := "function g with do yield 1; yield 2; yield 3 end; co $g; foreach $g with v do print $v end"
	require.NoError(t, s.Loads("test", src, false))
	require.NoError(t, s.ExecClosure())
	s.current.pop()

	require.Equal(t, "1\n2\n3\n", buf.String())
}

func TestYieldOutsideCoroutinePanics(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "yield 1", false))
	err := s.ExecClosure()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, ErrCoroutineMisuse, kind)
}

func TestResumingDoneThreadYieldsNullNotPanic(t *testing.T) {
	s := Open()
	defer s.Close()

	require.NoError(t, s.Loads("test", "function g with do yield_last 1 end\nco $g", false))
	require.NoError(t, s.ExecClosure())
	s.current.pop()

	first := execTop(t, s, resumeSource)
	got, _ := ReadString(first)
	require.Equal(t, "1", got)

	second := execTop(t, s, resumeSource)
	require.True(t, second.IsNull())
}
