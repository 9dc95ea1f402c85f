// Package engine orchestrates inline-completion requests: it decides, per
// request, whether to answer from the displayed suggestion, the prefix
// cache, an in-flight network request, or a new network call, while
// honoring debounce, cancellation, and multi-line trimming policy.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/cache"
	"github.com/velvetfork/ghostline/display"
	"github.com/velvetfork/ghostline/document"
	"github.com/velvetfork/ghostline/flight"
	"github.com/velvetfork/ghostline/prompt"
	"github.com/velvetfork/ghostline/telemetry"
	"github.com/velvetfork/ghostline/transport"
	"github.com/velvetfork/ghostline/trim"
)

const speculativeTimeout = 10 * time.Second

// Request is one completion request at a cursor position.
type Request struct {
	Doc *document.Snapshot
	Pos document.Position
	// Cycling requests every remaining candidate rather than just the first.
	Cycling bool
	// FollowupAfterAccept marks the short bounded request issued right
	// after the previous suggestion was accepted.
	FollowupAfterAccept bool
}

type docState struct {
	id     uint64
	cancel context.CancelFunc
	// prevCancel cancels the superseded request's transport call. It is
	// invoked only once this request decides to issue its own network call,
	// so the older call stays observable through the in-flight registry
	// until then.
	prevCancel context.CancelFunc
}

// Engine is the completion orchestrator. One engine serves one editor
// session; all methods are safe for concurrent use.
type Engine struct {
	cfg       *ghostline.Config
	client    transport.Client
	extractor prompt.Extractor
	trees     trim.Builder
	cache     *cache.PrefixCache
	flight    *flight.Registry
	tracker   *display.Tracker
	sink      telemetry.Sink
	requested *emitter
	shown     *emitter

	nextID atomic.Uint64
	mu     sync.Mutex
	// current maps a document URI to its most recent request; older
	// requests for the same document abort at their next suspension point.
	current map[string]*docState
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor replaces the default windowed prompt extractor.
func WithExtractor(x prompt.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithSink replaces the default telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithTreeBuilder replaces the default statement-tree builder.
func WithTreeBuilder(b trim.Builder) Option {
	return func(e *Engine) { e.trees = b }
}

// New creates an engine over the given transport client.
func New(cfg *ghostline.Config, client transport.Client, opts ...Option) *Engine {
	if cfg == nil {
		cfg = ghostline.DefaultConfig()
	}
	e := &Engine{
		cfg:       cfg,
		client:    client,
		extractor: prompt.NewWindowed(),
		trees:     trim.NewBuilder(),
		sink:      telemetry.Slog{},
		requested: newEmitter(),
		shown:     newEmitter(),
		current:   make(map[string]*docState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.New(cfg.Engine.CacheCapacity)
	e.flight = flight.NewRegistry(e.cache, time.Duration(cfg.Engine.FlightRetentionS)*time.Second)
	e.tracker = display.NewTracker(e.sink)
	return e
}

// Close releases engine resources.
func (e *Engine) Close() {
	e.flight.Close()
}

// ClearCache drops all cached candidates. Call when a model or endpoint
// change makes history invalid.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// HandleShown records that a candidate was rendered and notifies observers.
func (e *Engine) HandleShown(uri string, cand ghostline.Candidate) {
	e.tracker.HandleShown(cand)
	e.shown.emit(Event{URI: uri, CandidateID: cand.ID})
}

// HandleAccept records full acceptance of a candidate.
func (e *Engine) HandleAccept(candID string) {
	e.tracker.HandleAccept(candID)
}

// HandlePartialAccept records acceptance of the next accepted bytes of a
// candidate.
func (e *Engine) HandlePartialAccept(candID string, accepted int) {
	e.tracker.HandlePartialAccept(candID, accepted)
}

// RejectLastShown rejects every still-shown suggestion.
func (e *Engine) RejectLastShown() {
	e.tracker.RejectLastShown()
}

// Complete runs one completion request end to end. Expected conditions
// (superseded, cancelled, empty prompt) come back as typed statuses; only
// genuinely unexpected failures are reported as StatusFailed.
func (e *Engine) Complete(ctx context.Context, req Request) (res ghostline.Result) {
	start := time.Now()
	uri := req.Doc.URI()
	id := e.begin(uri)

	defer func() {
		if r := recover(); r != nil {
			if e.cfg.Engine.FailFast {
				panic(r)
			}
			slog.Error("completion request panicked", "request_id", id, "panic", r)
			res = ghostline.Result{RequestID: id, Status: ghostline.StatusFailed, Reason: "internal error"}
		}
		e.report(res, start)
	}()

	e.requested.emit(Event{URI: uri, RequestID: id})

	if !req.Doc.ValidCompletionPosition(req.Pos) {
		return aborted(id, "invalid mid-line position")
	}

	p, pstatus := e.extractor.Extract(ctx, req.Doc, req.Pos)
	switch pstatus {
	case prompt.StatusOK:
	case prompt.StatusContentExcluded:
		return aborted(id, "content excluded")
	case prompt.StatusTooShort:
		return aborted(id, "prompt too short")
	case prompt.StatusCancelled:
		return canceled(id, "cancelled during prompt extraction")
	case prompt.StatusTimeout:
		return ghostline.Result{RequestID: id, Status: ghostline.StatusPromptTimeout, Reason: "prompt extraction timed out"}
	default:
		return ghostline.Result{RequestID: id, Status: ghostline.StatusPromptError, Reason: "prompt extraction failed"}
	}
	if strings.TrimSpace(p.Prefix) == "" {
		return aborted(id, "empty prompt")
	}
	if !e.isCurrent(uri, id) {
		return aborted(id, "superseded")
	}

	prefix := req.Doc.Prefix(req.Pos)
	suffix := req.Doc.Suffix(req.Pos)
	strat := e.strategyFor(req)

	// Cheapest path first: the user is typing along with the displayed
	// suggestion.
	if !req.Cycling {
		if typed, ok := e.tracker.CompletionsForTyping(uri, req.Pos, prefix, suffix); ok {
			cached := postProcess(e.cache.FindAll(prefix, suffix), suffix, strat.multiline)
			cands := mergeTyped(typed, cached)
			return e.finish(ctx, req, id, prefix, suffix, cands, ghostline.ResultTypingAsSuggested)
		}
	}

	if local := e.cache.FindAll(prefix, suffix); len(local) > 0 {
		filtered := postProcess(local, suffix, strat.multiline)
		need := 1
		if req.Cycling {
			need = strat.n
		}
		if len(filtered) >= need {
			return e.finish(ctx, req, id, prefix, suffix, filtered, ghostline.ResultCache)
		}
		if len(filtered) == 0 && !req.Cycling {
			return ghostline.Result{RequestID: id, Status: ghostline.StatusEmpty, Reason: "cached results empty after post-processing"}
		}
		// A cycling request with too few cached candidates falls through
		// to the network.
	}

	if err := e.wait(ctx, time.Duration(e.cfg.Engine.DebounceMS)*time.Millisecond); err != nil {
		return canceled(id, "cancelled during debounce")
	}
	if !e.isCurrent(uri, id) {
		return canceled(id, "superseded")
	}

	// Reuse a compatible in-flight request instead of duplicating it.
	if !req.Cycling && e.flight.ShouldWait(prefix, p.Fingerprint) {
		waitFor := time.Duration(e.cfg.Engine.FlightWaitMS) * time.Millisecond
		cand, err := e.flight.FirstMatchingTimeout(ctx, id, prefix, p.Fingerprint, false, waitFor)
		if ctx.Err() != nil {
			return canceled(id, "cancelled while waiting on in-flight request")
		}
		if !e.isCurrent(uri, id) {
			return canceled(id, "superseded")
		}
		if err == nil && cand != nil {
			filtered := postProcess([]ghostline.Candidate{*cand}, suffix, strat.multiline)
			if len(filtered) > 0 {
				return e.finish(ctx, req, id, prefix, suffix, filtered, ghostline.ResultAsync)
			}
			return ghostline.Result{RequestID: id, Status: ghostline.StatusEmpty, Reason: "async result empty after post-processing"}
		}
		// Timed out, no longer matching, or settled without a result:
		// issue our own request.
	}

	// Committing to our own network call: the superseded request's transport,
	// if still running, cannot serve us anymore.
	e.stopSuperseded(uri, id)

	nctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setCancel(uri, id, cancel)
	h := e.flight.Queue(id, prefix, suffix, p.Fingerprint)

	var finished transport.FinishedCb
	if strat.policy != nil {
		cutter := trim.StreamCutter(nctx, strat.policy, e.trees, req.Doc.LanguageID(), prefix)
		finished = func(text, delta string) (int, bool) {
			h.Update(text)
			return cutter(text, delta)
		}
	} else {
		finished = func(text, delta string) (int, bool) {
			h.Update(text)
			return 0, false
		}
	}

	resp, err := e.client.Complete(nctx, transport.Request{
		Prompt:      p.Prefix,
		Suffix:      p.Suffix,
		Model:       ghostline.ResolveModel(e.cfg),
		Stop:        strat.stop,
		N:           strat.n,
		Temperature: e.cfg.Generation.Temperature,
		MaxTokens:   strat.maxTokens,
	}, finished)
	if err != nil {
		h.Settle(nil, err)
		if ctx.Err() != nil || !e.isCurrent(uri, id) {
			return canceled(id, "cancelled mid-flight")
		}
		slog.Error("completion request failed", "request_id", id, "error", err)
		return ghostline.Result{RequestID: id, Status: ghostline.StatusFailed, Reason: err.Error()}
	}

	cands := e.candidatesFromChoices(nctx, resp.Choices, strat, req.Doc.LanguageID(), prefix)
	filtered := postProcess(cands, suffix, strat.multiline)
	if len(filtered) == 0 {
		h.Settle(nil, nil)
		return ghostline.Result{RequestID: id, Status: ghostline.StatusEmpty, Reason: "no usable candidates after post-processing"}
	}

	first := filtered[0]
	h.Settle(&first, nil) // also writes the first candidate into the prefix cache
	for _, c := range filtered[1:] {
		e.cache.Append(prefix, suffix, c)
	}

	typ := ghostline.ResultNetwork
	if req.Cycling {
		typ = ghostline.ResultCycling
	}
	return e.finish(ctx, req, id, prefix, suffix, filtered, typ)
}

// candidatesFromChoices converts transport choices into candidates,
// trimming trailing whitespace and applying the block trim policy.
func (e *Engine) candidatesFromChoices(ctx context.Context, choices []transport.Choice, strat strategy, languageID, prefix string) []ghostline.Candidate {
	out := make([]ghostline.Candidate, 0, len(choices))
	for _, ch := range choices {
		text := strings.TrimRight(ch.Text, " \t")
		cand := ghostline.NewCandidate(text, ch.Index)
		cand.MeanLogProb = ch.MeanLogProb
		if strat.policy != nil {
			cand = e.trimCandidate(ctx, strat.policy, languageID, prefix, cand)
		}
		out = append(out, cand)
	}
	return out
}

// finish applies the artificial response delay, re-checks cancellation,
// updates the displayed-suggestion tracker, and schedules the speculative
// prefetch.
func (e *Engine) finish(ctx context.Context, req Request, id uint64, prefix, suffix string, cands []ghostline.Candidate, typ ghostline.ResultType) ghostline.Result {
	uri := req.Doc.URI()
	if len(cands) == 0 {
		return ghostline.Result{RequestID: id, Status: ghostline.StatusEmpty, Reason: "no candidates"}
	}

	// An instantaneous visual replacement is jarring; delay everything
	// except continuations of what is already on screen.
	if typ != ghostline.ResultTypingAsSuggested && typ != ghostline.ResultCycling {
		if err := e.wait(ctx, time.Duration(e.cfg.Engine.DelayMS)*time.Millisecond); err != nil {
			return canceled(id, "cancelled during response delay")
		}
	}
	if !e.isCurrent(uri, id) {
		return canceled(id, "superseded")
	}

	if typ == ghostline.ResultTypingAsSuggested {
		// The tracker already advanced its live set; only merge in the
		// still-relevant cache hits.
		e.tracker.AddCompletions(cands)
	} else {
		e.tracker.SetState(uri, req.Pos, prefix, suffix)
		e.tracker.SetCompletions(cands, typ)
	}

	if typ != ghostline.ResultTypingAsSuggested && typ != ghostline.ResultCycling && ghostline.SpeculativeEnabled(e.cfg) {
		go e.speculate(req.Doc, req.Pos, cands[0])
	}

	return ghostline.Result{
		RequestID:  id,
		Status:     ghostline.StatusSuccess,
		Type:       typ,
		Candidates: cands,
	}
}

// speculate issues the not-awaited prefetch that assumes the first candidate
// will be accepted, seeding the prefix cache for the next keystroke.
func (e *Engine) speculate(doc *document.Snapshot, pos document.Position, first ghostline.Candidate) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), speculativeTimeout)
	defer cancelTimeout()

	specDoc := doc.WithInsert(pos, first.Text)
	specPos := specDoc.PositionAt(doc.OffsetAt(pos) + len(first.Text))

	p, pstatus := e.extractor.Extract(ctx, specDoc, specPos)
	if pstatus != prompt.StatusOK {
		return
	}
	prefix := specDoc.Prefix(specPos)
	suffix := specDoc.Suffix(specPos)
	if len(e.cache.FindAll(prefix, suffix)) > 0 || e.flight.ShouldWait(prefix, p.Fingerprint) {
		return
	}

	id := e.nextID.Add(1) // never registered as current: must not supersede real requests
	nctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := e.flight.Queue(id, prefix, suffix, p.Fingerprint)

	strat := e.strategyFor(Request{Doc: specDoc, Pos: specPos})
	resp, err := e.client.Complete(nctx, transport.Request{
		Prompt:      p.Prefix,
		Suffix:      p.Suffix,
		Model:       ghostline.ResolveModel(e.cfg),
		Stop:        strat.stop,
		N:           1,
		Temperature: e.cfg.Generation.Temperature,
		MaxTokens:   strat.maxTokens,
	}, func(text, delta string) (int, bool) {
		h.Update(text)
		return 0, false
	})
	if err != nil {
		h.Settle(nil, err)
		return
	}

	cands := postProcess(e.candidatesFromChoices(nctx, resp.Choices, strat, specDoc.LanguageID(), prefix), suffix, strat.multiline)
	if len(cands) == 0 {
		h.Settle(nil, nil)
		return
	}
	c := cands[0]
	h.Settle(&c, nil)
	slog.Debug("speculative prefetch cached", "prefix_len", len(prefix))
}

func (e *Engine) report(res ghostline.Result, start time.Time) {
	ev := telemetry.Event{
		Type:    telemetry.EventResult,
		Status:  res.Status.String(),
		Reason:  res.Reason,
		Latency: time.Since(start),
	}
	if res.Status == ghostline.StatusSuccess {
		ev.ResultType = res.Type.String()
		if len(res.Candidates) > 0 {
			ev.CandidateID = res.Candidates[0].ID
			ev.MeanLogProb = res.Candidates[0].MeanLogProb
			ev.ServedFromCache = res.Candidates[0].ServedFromCache
		}
	}
	e.sink.Send(ev)
}

// begin assigns the next request id for the document. The previous request's
// transport call is deliberately left running: the new request may still
// observe its eventual result through the in-flight registry, and the
// superseded request resolves canceled at its next currency check either way.
func (e *Engine) begin(uri string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID.Add(1)
	st := &docState{id: id}
	if prev := e.current[uri]; prev != nil {
		if prev.cancel != nil {
			st.prevCancel = prev.cancel
		} else {
			st.prevCancel = prev.prevCancel
		}
	}
	e.current[uri] = st
	return id
}

// stopSuperseded cancels the inherited transport call of a superseded
// request. Called once the current request commits to a network call of its
// own, at which point the older call can no longer serve it.
func (e *Engine) stopSuperseded(uri string, id uint64) {
	e.mu.Lock()
	var cancel context.CancelFunc
	if st := e.current[uri]; st != nil && st.id == id && st.prevCancel != nil {
		cancel = st.prevCancel
		st.prevCancel = nil
	}
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) setCancel(uri string, id uint64, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.current[uri]; st != nil && st.id == id {
		st.cancel = cancel
	}
}

func (e *Engine) isCurrent(uri string, id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.current[uri]
	return st != nil && st.id == id
}

// wait sleeps for d, returning early with an error when ctx is done.
func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func aborted(id uint64, reason string) ghostline.Result {
	return ghostline.Result{RequestID: id, Status: ghostline.StatusAbortedBeforeIssued, Reason: reason}
}

func canceled(id uint64, reason string) ghostline.Result {
	return ghostline.Result{RequestID: id, Status: ghostline.StatusCanceled, Reason: reason}
}
