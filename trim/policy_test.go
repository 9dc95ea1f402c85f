package trim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStmt builds fixed statement shapes for policy tests.
type stubStmt struct {
	pos, end int
	compound bool
	child    *stubStmt
	next     *stubStmt
}

func (s *stubStmt) Pos() int           { return s.pos }
func (s *stubStmt) End() int           { return s.end }
func (s *stubStmt) Compound() bool     { return s.compound }
func (s *stubStmt) Parent() Statement  { return nil }
func (s *stubStmt) FirstChild() Statement {
	if s.child == nil {
		return nil
	}
	return s.child
}
func (s *stubStmt) NextSibling() Statement {
	if s.next == nil {
		return nil
	}
	return s.next
}

type stubTree struct {
	roots []*stubStmt
}

func (t *stubTree) StatementAt(offset int) Statement {
	for _, r := range t.roots {
		if r.pos <= offset && offset < r.end {
			return r
		}
	}
	return nil
}

func (t *stubTree) Visit(fn func(Statement) bool) {
	var walk func(*stubStmt) bool
	walk = func(s *stubStmt) bool {
		if !fn(s) {
			return false
		}
		if s.child != nil && !walk(s.child) {
			return false
		}
		if s.next != nil {
			return walk(s.next)
		}
		return true
	}
	for _, r := range t.roots {
		if !walk(r) {
			return
		}
	}
}

func (t *stubTree) Release() {}

var emptyTree = &stubTree{}

func TestVerboseKeepsCandidateWithinBudget(t *testing.T) {
	p := Verbose(5)
	cut, ok := p.Cut("", "one\ntwo\n", emptyTree)
	assert.False(t, ok)
	assert.Equal(t, 8, cut)
}

func TestVerboseCutsAtBlankLine(t *testing.T) {
	p := Verbose(3)
	candidate := "one\n\ntwo\nthree\n"
	cut, ok := p.Cut("p:\n", candidate, emptyTree)
	require.True(t, ok)
	assert.Equal(t, "one\n", candidate[:cut])
}

func TestVerboseCutsAtStatementBoundary(t *testing.T) {
	candidate := "if x {\n\ty\n}\nmore1\nmore2\n"
	// Statement A covers the if block, B the first trailing line, C the
	// second. The budget admits A and B but not C.
	c := &stubStmt{pos: 18, end: 24}
	b := &stubStmt{pos: 12, end: 18, next: c}
	a := &stubStmt{pos: 0, end: 12, compound: true, next: b}
	tree := &stubTree{roots: []*stubStmt{a, b, c}}

	p := Verbose(4)
	cut, ok := p.Cut("", candidate, tree)
	require.True(t, ok)
	assert.Equal(t, "if x {\n\ty\n}\nmore1\n", candidate[:cut])
}

func TestVerboseDescendsIntoOversizedStatement(t *testing.T) {
	candidate := "case a:\n\tx\ncase b:\n\ty\ncase c:\n\tz\n"
	// One statement spans the whole candidate; its children are the case
	// arms. The budget fits the first two arms only.
	arm3 := &stubStmt{pos: 22, end: 33}
	arm2 := &stubStmt{pos: 11, end: 22, next: arm3}
	arm1 := &stubStmt{pos: 0, end: 11, next: arm2}
	outer := &stubStmt{pos: 0, end: 33, compound: true, child: arm1}
	tree := &stubTree{roots: []*stubStmt{outer}}

	p := Verbose(5)
	cut, ok := p.Cut("", candidate, tree)
	require.True(t, ok)
	assert.Equal(t, "case a:\n\tx\ncase b:\n\ty\n", candidate[:cut])
}

func TestVerboseHardTruncatesWithoutBoundary(t *testing.T) {
	candidate := "a\nb\nc\nd\n"
	p := Verbose(2)
	cut, ok := p.Cut("", candidate, emptyTree)
	require.True(t, ok)
	assert.Equal(t, "a\nb\n", candidate[:cut])
}

func TestVerboseBacksOutOfTrailingWhitespace(t *testing.T) {
	candidate := "x := 1   \nnext\nmore\n"
	stmt := &stubStmt{pos: 0, end: 9} // ends inside the trailing spaces
	tree := &stubTree{roots: []*stubStmt{stmt}}

	p := Verbose(1)
	cut, ok := p.Cut("", candidate, tree)
	require.True(t, ok)
	assert.Equal(t, "x := 1", candidate[:cut])
}

func TestTerseCutsAtEarliestBlankLine(t *testing.T) {
	p := Terse(6, 4)
	candidate := "one\n\nrest\n"
	cut, ok := p.Cut("", candidate, emptyTree)
	require.True(t, ok)
	assert.Equal(t, "one\n", candidate[:cut])
}

func TestTerseCutsBeforeNextCompoundStatement(t *testing.T) {
	candidate := "body()\nfunc next() {\n\tmore\n}\n"
	next := &stubStmt{pos: 7, end: 28, compound: true}
	body := &stubStmt{pos: 0, end: 7, next: next}
	tree := &stubTree{roots: []*stubStmt{body, next}}

	p := Terse(6, 4)
	cut, ok := p.Cut("", candidate, tree)
	require.True(t, ok)
	assert.Equal(t, "body()\n", candidate[:cut])
}

func TestTerseHardTruncatesAtMaxLines(t *testing.T) {
	candidate := "a\nb\nc\nd\ne\nf\n"
	p := Terse(2, 4)
	cut, ok := p.Cut("", candidate, emptyTree)
	require.True(t, ok)
	assert.Equal(t, "a\nb\n", candidate[:cut])
}

func TestTerseKeepsShortCandidate(t *testing.T) {
	p := Terse(6, 4)
	cut, ok := p.Cut("", "only\n", emptyTree)
	assert.False(t, ok)
	assert.Equal(t, 5, cut)
}

func TestShellTreeStatements(t *testing.T) {
	text := "if true; then\n\techo a\nfi\necho b\n"
	tree, err := NewBuilder().Build(context.Background(), "bash", text, 0, len(text))
	require.NoError(t, err)
	defer tree.Release()

	st := tree.StatementAt(0)
	require.NotNil(t, st)
	assert.True(t, st.Compound())
	assert.Equal(t, 0, st.Pos())
	assert.Equal(t, 24, st.End(), "if statement ends after fi")

	var compounds, total int
	tree.Visit(func(s Statement) bool {
		total++
		if s.Compound() {
			compounds++
		}
		return true
	})
	assert.GreaterOrEqual(t, total, 2)
	assert.GreaterOrEqual(t, compounds, 1)
}

func TestIndentTreeStatements(t *testing.T) {
	text := "func f() {\n\tif x {\n\t\ty()\n\t}\n\tz()\n}\nnext()\n"
	tree, err := NewBuilder().Build(context.Background(), "go", text, 0, len(text))
	require.NoError(t, err)
	defer tree.Release()

	fn := tree.StatementAt(0)
	require.NotNil(t, fn)
	assert.True(t, fn.Compound())
	assert.Equal(t, 0, fn.Pos())
	assert.Equal(t, 34, fn.End(), "closing brace belongs to the function")

	inner := fn.FirstChild()
	require.NotNil(t, inner)
	assert.True(t, inner.Compound())
	assert.Equal(t, 11, inner.Pos())
	assert.Equal(t, 27, inner.End(), "closing brace belongs to the if")
}

func TestStreamCutterReevaluatesPerLine(t *testing.T) {
	calls := 0
	p := policyFunc(func(prefix, candidate string, tree Tree) (int, bool) {
		calls++
		return 0, false
	})

	cut := StreamCutter(context.Background(), p, NewBuilder(), "go", "prefix\n")
	cut("par", "par")
	assert.Equal(t, 0, calls, "no newline yet")
	cut("partial\n", "tial\n")
	assert.Equal(t, 1, calls)
	cut("partial\nmo", "mo")
	assert.Equal(t, 1, calls, "same line count")
	cut("partial\nmore\n", "re\n")
	assert.Equal(t, 2, calls)
}

type policyFunc func(prefix, candidate string, tree Tree) (int, bool)

func (f policyFunc) Cut(prefix, candidate string, tree Tree) (int, bool) {
	return f(prefix, candidate, tree)
}
