package trim

import (
	"context"
	"log/slog"
	"strings"
)

// Policy computes where to cut a raw multi-line candidate generated right
// after prefix, given a tree parsed over prefix+candidate. The returned
// offset is relative to the candidate and never negative; ok=false means
// the candidate should be kept whole.
type Policy interface {
	Cut(prefix, candidate string, tree Tree) (int, bool)
}

// Verbose extends as far as the line budget allows, preferring to stop at a
// blank line or a statement boundary before hard truncation. When the
// statement containing the candidate start itself exceeds the budget, the
// policy descends into its first child.
func Verbose(maxLines int) Policy {
	return verbosePolicy{maxLines: maxLines}
}

// Terse stops near the first plausible end of a logical section: an early
// blank line, or the first new compound-statement boundary within the
// look-ahead window. If no boundary is found within the allowance the
// candidate is hard-truncated at maxLines.
func Terse(maxLines, lookahead int) Policy {
	return tersePolicy{maxLines: maxLines, lookahead: lookahead}
}

type verbosePolicy struct {
	maxLines int
}

func (p verbosePolicy) Cut(prefix, candidate string, tree Tree) (int, bool) {
	starts := lineStarts(candidate)
	if len(starts) <= p.maxLines {
		return len(candidate), false
	}
	hardEnd := starts[p.maxLines]
	base := len(prefix)

	// Last blank line before the budget runs out.
	blank := -1
	for i := 1; i < len(starts) && starts[i] < hardEnd; i++ {
		if blankLine(candidate, starts, i) {
			blank = starts[i]
		}
	}

	// Last statement boundary within budget, descending into the first
	// child when a statement is too large to fit.
	stmtCut := -1
	for st := tree.StatementAt(base); st != nil; st = st.FirstChild() {
		if st.End()-base > hardEnd {
			continue
		}
		end := st.End()
		for sib := st.NextSibling(); sib != nil && sib.End()-base <= hardEnd; sib = sib.NextSibling() {
			end = sib.End()
		}
		stmtCut = end - base
		break
	}

	cut := blank
	if stmtCut > cut {
		cut = stmtCut
	}
	if cut <= 0 {
		cut = hardEnd
	}
	return clampCut(candidate, cut)
}

type tersePolicy struct {
	maxLines  int
	lookahead int
}

func (p tersePolicy) Cut(prefix, candidate string, tree Tree) (int, bool) {
	starts := lineStarts(candidate)
	windowEnd := len(candidate)
	if len(starts) > p.lookahead {
		windowEnd = starts[p.lookahead]
	}
	base := len(prefix)

	// Earliest blank line inside the look-ahead window.
	for i := 1; i < len(starts) && starts[i] <= windowEnd; i++ {
		if blankLine(candidate, starts, i) {
			return clampCut(candidate, starts[i])
		}
	}

	// First new compound statement beginning inside the window: the
	// candidate has run into the next logical section, cut before it.
	boundary := -1
	tree.Visit(func(st Statement) bool {
		if !st.Compound() || st.Pos() <= base || st.Pos()-base > windowEnd {
			return true
		}
		if boundary < 0 || st.Pos()-base < boundary {
			boundary = st.Pos() - base
		}
		return true
	})
	if boundary > 0 {
		return clampCut(candidate, boundary)
	}

	if len(starts) > p.maxLines {
		return clampCut(candidate, starts[p.maxLines])
	}
	return len(candidate), false
}

// clampCut backs the cut out of any run of trailing spaces and tabs so the
// kept text never ends inside trailing whitespace, and clamps it to the
// candidate bounds.
func clampCut(candidate string, cut int) (int, bool) {
	if cut > len(candidate) {
		cut = len(candidate)
	}
	for cut > 0 && (candidate[cut-1] == ' ' || candidate[cut-1] == '\t') {
		cut--
	}
	if cut < 0 {
		cut = 0
	}
	if cut == len(candidate) {
		return cut, false
	}
	return cut, true
}

func lineStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func blankLine(s string, starts []int, i int) bool {
	end := len(s)
	if i+1 < len(starts) {
		end = starts[i+1] - 1
	}
	return strings.TrimSpace(s[starts[i]:end]) == ""
}

// StreamCutter adapts a policy into the transport's per-chunk callback. It
// re-evaluates only when the streamed text has gained a line, acquiring and
// releasing a fresh tree per evaluation.
func StreamCutter(ctx context.Context, p Policy, b Builder, languageID, prefix string) func(text, delta string) (int, bool) {
	lastLines := 0
	return func(text, delta string) (int, bool) {
		lines := strings.Count(text, "\n")
		if lines == lastLines {
			return 0, false
		}
		lastLines = lines
		combined := prefix + text
		offset, ok, err := WithTree(ctx, b, languageID, combined, len(prefix), len(combined), func(tree Tree) (int, bool) {
			return p.Cut(prefix, text, tree)
		})
		if err != nil {
			slog.Debug("stream trim parse failed", "error", err)
			return 0, false
		}
		return offset, ok
	}
}
