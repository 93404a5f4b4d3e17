package esh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []token {
	t.Helper()
	l := newLexer(src)
	var toks []token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks
		}
	}
}

func TestLexWordKeywordAndOperatorOverlap(t *testing.T) {
	toks := lexAll(t, "local x = 1 + -2")
	kinds := make([]tokenKind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
	}
	require.Equal(t, []tokenKind{
		tokLocal, tokWord, tokAssign, tokWord, tokPlus, tokWord, tokEOF,
	}, kinds)
	// "-2" is a single maximal word-charset run, not MINUS then "2".
	require.Equal(t, "-2", toks[5].text)
}

func TestLexEqEqWinsOverTwoAssigns(t *testing.T) {
	toks := lexAll(t, "a == b")
	require.Equal(t, tokWord, toks[0].kind)
	require.Equal(t, tokEqEq, toks[1].kind)
	require.Equal(t, tokWord, toks[2].kind)
}

func TestLexStringEscapes(t *testing.T) {
	toks := lexAll(t, `'a\nb\t\'c\''`)
	require.Equal(t, tokString, toks[0].kind)
	require.Equal(t, "a\nb\t'c'", toks[0].text)
}

func TestLexUnterminatedStringErrors(t *testing.T) {
	l := newLexer(`"unterminated`)
	_, err := l.Next()
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
}

func TestLexStringInterpolationSplitsIntoChunks(t *testing.T) {
	l := newLexer(`"a$x b"`)
	first, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, tokStrInterp, first.kind)
	require.Equal(t, "a", first.text)

	// Parser consumes "$x" itself via ordinary tokens; continueString
	// resumes scanning the trailing literal chunk.
	sigil, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, tokSigil, sigil.kind)
	word, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, "x", word.text)

	rest, err := l.continueString()
	require.NoError(t, err)
	require.Equal(t, tokString, rest.kind)
	require.Equal(t, " b", rest.text)
}

func TestLexNewlineTrackedAcrossTokens(t *testing.T) {
	toks := lexAll(t, "a\nb")
	require.False(t, toks[0].afterNewline)
	require.True(t, toks[1].afterNewline)
}

func TestLexCommentSkippedToEndOfLine(t *testing.T) {
	toks := lexAll(t, "a # trailing comment\nb")
	require.Equal(t, "a", toks[0].text)
	require.Equal(t, "b", toks[1].text)
	require.True(t, toks[1].afterNewline)
}

func TestLexSyntaxErrorCaretContext(t *testing.T) {
	l := newLexer("a = @")
	_, err := l.Next() // "a"
	require.NoError(t, err)
	_, err = l.Next() // "="
	require.NoError(t, err)
	_, err = l.Next() // "@" is not in the word charset
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
	require.Contains(t, synErr.Context, "^")
}
