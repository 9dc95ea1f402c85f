package trim

import (
	"context"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellLanguages are the languageIDs handled by the shell statement tree.
var shellLanguages = map[string]bool{
	"bash": true, "sh": true, "zsh": true, "shellscript": true, "shell": true,
}

// node is one statement of the parsed tree.
type node struct {
	pos, end int
	compound bool
	parent   *node
	children []*node
	idx      int
}

func (n *node) Pos() int       { return n.pos }
func (n *node) End() int       { return n.end }
func (n *node) Compound() bool { return n.compound }

func (n *node) Parent() Statement {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) FirstChild() Statement {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

func (n *node) NextSibling() Statement {
	var sibs []*node
	if n.parent != nil {
		sibs = n.parent.children
	}
	if n.parent == nil || n.idx+1 >= len(sibs) {
		return nil
	}
	return sibs[n.idx+1]
}

// nodeTree implements Tree over a slice of root nodes.
type nodeTree struct {
	roots    []*node
	released bool
}

func (t *nodeTree) StatementAt(offset int) Statement {
	for _, r := range t.roots {
		if r.pos <= offset && offset < r.end {
			return r
		}
	}
	// A candidate starting exactly at the end of the last statement belongs
	// to whatever the parser attached there.
	for i := len(t.roots) - 1; i >= 0; i-- {
		if t.roots[i].pos <= offset {
			return t.roots[i]
		}
	}
	return nil
}

func (t *nodeTree) Visit(fn func(Statement) bool) {
	var walk func(*node) bool
	walk = func(n *node) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	for _, r := range t.roots {
		if !walk(r) {
			return
		}
	}
}

func (t *nodeTree) Release() {
	t.roots = nil
	t.released = true
}

// shellBuilder parses combined text as shell and exposes its statement
// structure.
type shellBuilder struct{}

func (shellBuilder) Build(_ context.Context, _ string, text string, _, _ int) (Tree, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(text), "")
	if err != nil {
		return nil, fmt.Errorf("parse shell: %w", err)
	}
	roots := make([]*node, 0, len(prog.Stmts))
	for i, s := range prog.Stmts {
		roots = append(roots, buildShellNode(s, nil, i))
	}
	return &nodeTree{roots: roots}, nil
}

func buildShellNode(s *syntax.Stmt, parent *node, idx int) *node {
	n := &node{
		pos:    int(s.Pos().Offset()),
		end:    int(s.End().Offset()),
		parent: parent,
		idx:    idx,
	}
	var inner [][]*syntax.Stmt
	switch cmd := s.Cmd.(type) {
	case *syntax.Block:
		n.compound = true
		inner = append(inner, cmd.Stmts)
	case *syntax.IfClause:
		n.compound = true
		for clause := cmd; clause != nil; clause = clause.Else {
			inner = append(inner, clause.Cond, clause.Then)
		}
	case *syntax.ForClause:
		n.compound = true
		inner = append(inner, cmd.Do)
	case *syntax.WhileClause:
		n.compound = true
		inner = append(inner, cmd.Cond, cmd.Do)
	case *syntax.CaseClause:
		n.compound = true
		for _, item := range cmd.Items {
			inner = append(inner, item.Stmts)
		}
	case *syntax.FuncDecl:
		n.compound = true
		if cmd.Body != nil {
			inner = append(inner, []*syntax.Stmt{cmd.Body})
		}
	case *syntax.Subshell:
		n.compound = true
		inner = append(inner, cmd.Stmts)
	case *syntax.BinaryCmd:
		inner = append(inner, []*syntax.Stmt{cmd.X, cmd.Y})
	}
	for _, stmts := range inner {
		for _, child := range stmts {
			if child == nil {
				continue
			}
			c := buildShellNode(child, n, len(n.children))
			n.children = append(n.children, c)
		}
	}
	return n
}
