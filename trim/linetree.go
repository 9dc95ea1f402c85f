package trim

import (
	"context"
	"strings"
)

// lineBuilder is the fallback statement-tree builder for languages without a
// real parser: statements are derived from indentation, with the lines
// indented deeper than a statement's first line forming its children.
type lineBuilder struct{}

// NewBuilder returns a builder that dispatches to the shell parser for
// shell languageIDs and to the indentation tree for everything else.
func NewBuilder() Builder {
	return dispatchBuilder{}
}

type dispatchBuilder struct{}

func (dispatchBuilder) Build(ctx context.Context, languageID, text string, lo, hi int) (Tree, error) {
	if shellLanguages[languageID] {
		return shellBuilder{}.Build(ctx, languageID, text, lo, hi)
	}
	return lineBuilder{}.Build(ctx, languageID, text, lo, hi)
}

type physLine struct {
	start, end int // byte range, end excludes the newline
	indent     int
	blank      bool
}

func (lineBuilder) Build(_ context.Context, _ string, text string, _, _ int) (Tree, error) {
	lines := splitPhysLines(text)
	roots, _ := buildIndentNodes(text, lines, 0, -1, nil)
	return &nodeTree{roots: roots}, nil
}

func splitPhysLines(text string) []physLine {
	var lines []physLine
	start := 0
	for start <= len(text) {
		end := strings.IndexByte(text[start:], '\n')
		var next int
		if end < 0 {
			end = len(text)
			next = len(text) + 1
		} else {
			end += start
			next = end + 1
		}
		content := text[start:end]
		lines = append(lines, physLine{
			start:  start,
			end:    end,
			indent: indentWidth(content),
			blank:  strings.TrimSpace(content) == "",
		})
		start = next
	}
	return lines
}

func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

// buildIndentNodes groups consecutive lines into statements: a line at the
// current indent starts a statement, and deeper lines below it become its
// children. Blank lines terminate the enclosing statement's span but start
// none of their own.
func buildIndentNodes(text string, lines []physLine, from, parentIndent int, parent *node) ([]*node, int) {
	var nodes []*node
	i := from
	for i < len(lines) {
		ln := lines[i]
		if ln.blank {
			i++
			continue
		}
		if ln.indent <= parentIndent {
			break
		}
		n := &node{pos: ln.start, parent: parent, idx: len(nodes)}
		end := ln.end
		children, next := buildIndentNodes(text, lines, i+1, ln.indent, n)
		n.children = children
		if len(children) > 0 {
			n.compound = true
			end = children[len(children)-1].end
			// A closing delimiter line back at this statement's indent
			// (e.g. "}" or "end") still belongs to the statement.
			if next < len(lines) && !lines[next].blank && lines[next].indent == ln.indent &&
				closesBlock(text[lines[next].start:lines[next].end]) {
				end = lines[next].end
				next++
			}
		} else {
			next = i + 1
		}
		if !n.compound && strings.HasSuffix(strings.TrimRight(text[ln.start:ln.end], " \t"), "{") {
			n.compound = true
		}
		n.end = end
		nodes = append(nodes, n)
		i = next
	}
	return nodes, i
}

func closesBlock(line string) bool {
	t := strings.TrimSpace(line)
	switch t {
	case "}", "};", "},", ")", "],", "]", "end", "fi", "done", "esac":
		return true
	}
	return false
}
