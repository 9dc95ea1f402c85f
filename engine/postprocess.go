package engine

import (
	"context"
	"log/slog"
	"strings"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/trim"
)

// postProcess applies the shared candidate filters: empty-text rejection,
// deduplication modulo trailing whitespace, and coherence with the text
// already present after the cursor.
func postProcess(cands []ghostline.Candidate, suffix string, multiline bool) []ghostline.Candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]ghostline.Candidate, 0, len(cands))
	for _, c := range cands {
		if !multiline {
			if i := strings.IndexByte(c.Text, '\n'); i >= 0 {
				c = c.WithText(c.Text[:i])
			}
		}
		if c.IsBlank() {
			continue
		}
		if duplicatesSuffix(c.Text, suffix) {
			continue
		}
		key := strings.TrimRight(c.Text, " \t\r\n")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// duplicatesSuffix reports whether the candidate would only re-type text the
// document already contains after the cursor.
func duplicatesSuffix(text, suffix string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(suffix, " \t\r\n"), t)
}

// mergeTyped puts typing-as-suggested candidates first and appends cache
// hits that are not already present by exact text, so the visible suggestion
// never flickers.
func mergeTyped(typed, cached []ghostline.Candidate) []ghostline.Candidate {
	seen := make(map[string]bool, len(typed))
	for _, c := range typed {
		seen[c.Text] = true
	}
	out := typed
	for _, c := range cached {
		if seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		out = append(out, c)
	}
	return out
}

// trimCandidate cuts a multi-line candidate at a block boundary using the
// configured policy. The parse handle is scoped to the call.
func (e *Engine) trimCandidate(ctx context.Context, policy trim.Policy, languageID, prefix string, cand ghostline.Candidate) ghostline.Candidate {
	combined := prefix + cand.Text
	offset, ok, err := trim.WithTree(ctx, e.trees, languageID, combined, len(prefix), len(combined), func(tree trim.Tree) (int, bool) {
		return policy.Cut(prefix, cand.Text, tree)
	})
	if err != nil {
		slog.Debug("trim parse failed, keeping candidate whole", "error", err)
		return cand
	}
	if !ok {
		return cand
	}
	return cand.WithText(cand.Text[:offset])
}
