// Package display records the suggestion set currently shown to the user
// and detects when subsequent keystrokes are the user typing along with it,
// in which case the remaining suffix is served without any lookup or
// network call.
package display

import (
	"log/slog"
	"strings"
	"sync"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/document"
	"github.com/velvetfork/ghostline/telemetry"
)

type liveSuggestion struct {
	cand ghostline.Candidate
	// typedOffset counts the bytes of cand.Text the user has typed (or
	// partially accepted) since it was produced.
	typedOffset int
	shown       bool
	terminal    bool
}

func (s *liveSuggestion) remaining() string {
	return s.cand.Text[s.typedOffset:]
}

// Tracker holds at most one live suggestion set per engine. Any position or
// document change that is not a recognized typing continuation rejects the
// previous live set before new state is established, so every shown
// suggestion is accounted accepted or rejected exactly once.
type Tracker struct {
	mu     sync.Mutex
	sink   telemetry.Sink
	uri    string
	pos    document.Position
	prefix string
	suffix string
	typ    ghostline.ResultType
	live   []*liveSuggestion
}

// NewTracker creates a tracker reporting to the given sink.
func NewTracker(sink telemetry.Sink) *Tracker {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Tracker{sink: sink}
}

// SetState begins tracking a new display point. The prior live set, if any,
// is rejected first.
func (t *Tracker) SetState(uri string, pos document.Position, prefix, suffix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectAllLocked()
	t.uri = uri
	t.pos = pos
	t.prefix = prefix
	t.suffix = suffix
	t.live = nil
}

// SetCompletions installs the candidate set produced for the current state.
func (t *Tracker) SetCompletions(cands []ghostline.Candidate, typ ghostline.ResultType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typ = typ
	t.live = t.live[:0]
	for _, c := range cands {
		t.live = append(t.live, &liveSuggestion{cand: c})
	}
}

// AddCompletions merges extra candidates into the live set without
// disturbing suggestions that are already tracked.
func (t *Tracker) AddCompletions(cands []ghostline.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range cands {
		if t.hasLocked(c.ID) {
			continue
		}
		t.live = append(t.live, &liveSuggestion{cand: c})
	}
}

func (t *Tracker) hasLocked(candID string) bool {
	for _, s := range t.live {
		if s.cand.ID == candID {
			return true
		}
	}
	return false
}

// HandleShown records that a candidate was rendered. The shown telemetry
// signal is emitted at most once per candidate id.
func (t *Tracker) HandleShown(cand ghostline.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.live {
		if s.cand.ID != cand.ID || s.shown {
			continue
		}
		s.shown = true
		t.sink.Send(telemetry.Event{
			Type:            telemetry.EventShown,
			CandidateID:     s.cand.ID,
			MeanLogProb:     s.cand.MeanLogProb,
			ServedFromCache: s.cand.ServedFromCache,
		})
		return
	}
}

// CompletionsForTyping is the typing-as-suggested check. If the new prefix
// extends the tracked prefix and the typed delta matches a live suggestion,
// the state is advanced and the remaining suffixes are returned, ordered as
// shown. Suggestions the delta typed over are rejected. Returns ok=false
// when the new point is not a recognized continuation; the caller then
// establishes new state (which rejects the old set).
func (t *Tracker) CompletionsForTyping(uri string, pos document.Position, prefix, suffix string) ([]ghostline.Candidate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.uri != uri || len(t.live) == 0 || t.suffix != suffix {
		return nil, false
	}
	if !strings.HasPrefix(prefix, t.prefix) {
		return nil, false
	}
	delta := prefix[len(t.prefix):]

	var out []ghostline.Candidate
	var matched []*liveSuggestion
	for _, s := range t.live {
		if s.terminal {
			continue
		}
		rem := s.remaining()
		if !strings.HasPrefix(rem, delta) || len(rem) == len(delta) {
			continue
		}
		out = append(out, s.cand.WithText(rem[len(delta):]))
		matched = append(matched, s)
	}
	if len(out) == 0 {
		return nil, false
	}

	for _, s := range t.live {
		if s.terminal {
			continue
		}
		if containsSuggestion(matched, s) {
			s.typedOffset += len(delta)
		} else {
			t.rejectLocked(s)
		}
	}
	t.pos = pos
	t.prefix = prefix
	slog.Debug("typing as suggested", "typed", len(delta), "live", len(out))
	return out, true
}

func containsSuggestion(set []*liveSuggestion, s *liveSuggestion) bool {
	for _, m := range set {
		if m == s {
			return true
		}
	}
	return false
}

// HandleAccept marks the candidate accepted and resets all tracked state.
// Other still-shown suggestions are rejected.
func (t *Tracker) HandleAccept(candID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.live {
		if s.cand.ID == candID && !s.terminal {
			s.terminal = true
			t.sink.Send(telemetry.Event{
				Type:        telemetry.EventAccepted,
				CandidateID: s.cand.ID,
				MeanLogProb: s.cand.MeanLogProb,
			})
		}
	}
	t.rejectAllLocked()
	t.live = nil
	t.uri = ""
	t.prefix = ""
	t.suffix = ""
}

// HandlePartialAccept shrinks the candidate's remaining length by accepted
// bytes while preserving position bookkeeping. Other live suggestions advance
// too when they share the accepted text; the rest are rejected, since they no
// longer align with the new point. Accepting the whole remaining text behaves
// like HandleAccept.
func (t *Tracker) HandlePartialAccept(candID string, accepted int) {
	t.mu.Lock()
	var full bool
	var target *liveSuggestion
	for _, s := range t.live {
		if s.cand.ID == candID && !s.terminal {
			target = s
			break
		}
	}
	if target != nil {
		if accepted >= len(target.remaining()) {
			full = true
		} else {
			text := target.cand.Text[target.typedOffset : target.typedOffset+accepted]
			target.typedOffset += accepted
			t.prefix += text
			t.pos = advance(t.pos, text)
			for _, s := range t.live {
				if s == target || s.terminal {
					continue
				}
				rem := s.remaining()
				if strings.HasPrefix(rem, text) && len(rem) > len(text) {
					s.typedOffset += len(text)
				} else {
					t.rejectLocked(s)
				}
			}
		}
	}
	t.mu.Unlock()
	if full {
		t.HandleAccept(candID)
	}
}

// RejectLastShown reports every still-shown, non-terminal suggestion as
// rejected and resets the tracked state.
func (t *Tracker) RejectLastShown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectAllLocked()
	t.live = nil
	t.uri = ""
	t.prefix = ""
	t.suffix = ""
}

func (t *Tracker) rejectAllLocked() {
	for _, s := range t.live {
		t.rejectLocked(s)
	}
}

func (t *Tracker) rejectLocked(s *liveSuggestion) {
	if s.terminal || !s.shown {
		if !s.terminal {
			s.terminal = true
		}
		return
	}
	s.terminal = true
	t.sink.Send(telemetry.Event{
		Type:            telemetry.EventRejected,
		CandidateID:     s.cand.ID,
		RemainingOffset: s.typedOffset,
	})
}

// advance moves a position across the given inserted text.
func advance(pos document.Position, text string) document.Position {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			pos.Col += len(text)
			return pos
		}
		pos.Line++
		pos.Col = 0
		text = text[i+1:]
	}
}
