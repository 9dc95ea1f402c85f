// Package trim computes the offset at which a raw multi-line completion
// candidate should be cut so it ends at a sensible block or statement
// boundary, subject to a line-count budget.
package trim

import "context"

// Statement is one parsed statement of the combined prefix+candidate text.
// Offsets are byte offsets into the combined text.
type Statement interface {
	Pos() int
	End() int
	// Compound reports whether the statement is a compound statement
	// (block, conditional, loop, function body and the like).
	Compound() bool
	Parent() Statement
	FirstChild() Statement
	NextSibling() Statement
}

// Tree is a transient parse handle. It is scoped to one policy invocation
// and must be released after use, including on error paths.
type Tree interface {
	// StatementAt returns the outermost statement containing the offset,
	// or nil. Callers descend via FirstChild.
	StatementAt(offset int) Statement
	// Visit walks every statement depth-first until fn returns false.
	Visit(fn func(Statement) bool)
	Release()
}

// Builder builds a parse handle for the given language over combined text.
// The lo..hi range bounds the region of interest.
type Builder interface {
	Build(ctx context.Context, languageID, text string, lo, hi int) (Tree, error)
}

// WithTree acquires a tree, runs fn, and releases the tree unconditionally.
func WithTree(ctx context.Context, b Builder, languageID, text string, lo, hi int, fn func(Tree) (int, bool)) (offset int, ok bool, err error) {
	tree, err := b.Build(ctx, languageID, text, lo, hi)
	if err != nil {
		return 0, false, err
	}
	defer tree.Release()
	offset, ok = fn(tree)
	return offset, ok, nil
}
