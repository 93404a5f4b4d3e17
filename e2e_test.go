package esh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func runProgram(t *testing.T, src string) string {
	t.Helper()
	var buf bytes.Buffer
	s := OpenWithOptions(Options{Stdout: &buf})
	defer s.Close()

	require.NoError(t, s.Loads("e2e", src, false))
	require.NoError(t, s.ExecClosure())
	s.current.pop()
	return buf.String()
}

func TestScenarioArithmeticAndPrint(t *testing.T) {
	out := runProgram(t, "x = 2 + 3 * 4\nprint $x")
	require.Equal(t, "14\n", out)
}

func TestScenarioRecursiveFibonacci(t *testing.T) {
	src := "function f with n do if $n < 2 then return $n end; return (f ($n - 1)) + (f ($n - 2)) end; print (f 10)"
	out := runProgram(t, src)
	require.Equal(t, "55\n", out)
}

func TestScenarioClosureCounter(t *testing.T) {
	src := `function make with do local i = 0; return with () do i = $i + 1; return $i end end
c = make
print (c)
print (c)
print (c)`
	out := runProgram(t, src)
	require.Equal(t, "1\n2\n3\n", out)
}

func TestScenarioCoroutineForeach(t *testing.T) {
	src := "function g with do yield 1; yield 2; yield 3 end; co $g; foreach $g with v do print $v end"
	out := runProgram(t, src)
	require.Equal(t, "1\n2\n3\n", out)
}

func TestScenarioObjectDeleteSizeof(t *testing.T) {
	src := "obj = { a = 1, b = 2 }; obj:a = null; print (sizeof $obj)"
	out := runProgram(t, src)
	require.Equal(t, "1\n", out)
}

func TestScenarioTryAssertFalse(t *testing.T) {
	src := "x, err = try (with () do assert false end); print $err"
	out := runProgram(t, src)
	require.Contains(t, out, "Assertion failed")
}

func TestScenarioTryWithZeroTargetsReturnsNullNull(t *testing.T) {
	src := "x, y = try; print $x; print $y"
	out := runProgram(t, src)
	require.Equal(t, "null\nnull\n", out)
}
