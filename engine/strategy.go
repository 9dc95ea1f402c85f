package engine

import (
	"slices"

	"github.com/velvetfork/ghostline/trim"
)

// strategy is the per-request decision of single-line vs multi-line and
// which trim policy, if any, applies.
type strategy struct {
	multiline bool
	// policy is non-nil only in client-side parsing mode.
	policy    trim.Policy
	stop      []string
	maxTokens int
	n         int
}

func (e *Engine) strategyFor(req Request) strategy {
	cfg := e.cfg
	s := strategy{
		maxTokens: cfg.Generation.MaxTokens,
		stop:      cfg.Generation.Stop,
		n:         cfg.Generation.Choices,
	}
	if req.Cycling {
		s.n = cfg.Generation.CyclingChoices
	}

	langOK := slices.Contains(cfg.Block.Languages, req.Doc.LanguageID())
	s.multiline = cfg.Block.Mode != "off" && langOK

	if req.FollowupAfterAccept {
		// A suggestion was just accepted: issue a short, bounded multi-line
		// follow-up capped at the follow-up token budget.
		s.multiline = langOK
		s.maxTokens = cfg.Generation.FollowupMaxTokens
	}

	if !s.multiline {
		s.stop = []string{"\n"}
		return s
	}

	if cfg.Block.Mode == "parsing" {
		switch cfg.Block.Policy {
		case "terse":
			s.policy = trim.Terse(cfg.Block.TerseMaxLines, cfg.Block.Lookahead)
		default:
			s.policy = trim.Verbose(cfg.Block.MaxLines)
		}
	}
	return s
}
