package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/document"
	"github.com/velvetfork/ghostline/telemetry"
	"github.com/velvetfork/ghostline/transport"
)

// fakeClient returns a fixed completion text and counts calls.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeClient) Complete(ctx context.Context, req transport.Request, finished transport.FinishedCb) (*transport.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if finished != nil {
		finished(f.text, f.text)
	}
	return &transport.Response{Choices: []transport.Choice{{Text: f.text, Index: 0}}}, nil
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func boolPtr(b bool) *bool { return &b }

func testConfig() *ghostline.Config {
	cfg := ghostline.DefaultConfig()
	cfg.Engine.DebounceMS = 0
	cfg.Engine.DelayMS = 0
	cfg.Engine.FlightWaitMS = 200
	cfg.Engine.Speculative = boolPtr(false)
	cfg.Generation.Choices = 1
	cfg.Block.Mode = "off"
	return cfg
}

func newTestEngine(t *testing.T, cfg *ghostline.Config, client transport.Client) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	e := New(cfg, client, WithSink(telemetry.Nop{}))
	t.Cleanup(e.Close)
	return e
}

func testDoc(text string) (*document.Snapshot, document.Position) {
	doc := document.NewSnapshot("file:///a.go", "go", 1, text)
	return doc, doc.PositionAt(len(text))
}

func TestCompleteNetworkThenCache(t *testing.T) {
	client := &fakeClient{text: "compute()"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	assert.Equal(t, ghostline.ResultNetwork, res.Type)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "compute()", res.Candidates[0].Text)
	assert.Equal(t, 1, client.count())

	// Dismiss the visible suggestion; a repeat request is then served from
	// the prefix cache with no new network call.
	eng.RejectLastShown()
	res = eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	assert.Equal(t, ghostline.ResultCache, res.Type)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "compute()", res.Candidates[0].Text)
	assert.Equal(t, 0, res.Candidates[0].ServedFromCache)
	assert.Equal(t, 1, client.count())
}

func TestCompleteTypingAsSuggested(t *testing.T) {
	client := &fakeClient{text: "compute()"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	require.Equal(t, 1, client.count())

	// The user types the first four suggested characters.
	doc2 := doc.WithInsert(pos, "comp")
	pos2 := doc2.PositionAt(doc.OffsetAt(pos) + 4)
	res = eng.Complete(context.Background(), Request{Doc: doc2, Pos: pos2})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	assert.Equal(t, ghostline.ResultTypingAsSuggested, res.Type)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "ute()", res.Candidates[0].Text)
	assert.Equal(t, 1, client.count(), "no network call while typing as suggested")

	// And four more.
	doc3 := doc2.WithInsert(pos2, "ute(")
	pos3 := doc3.PositionAt(doc2.OffsetAt(pos2) + 4)
	res = eng.Complete(context.Background(), Request{Doc: doc3, Pos: pos3})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	assert.Equal(t, ghostline.ResultTypingAsSuggested, res.Type)
	assert.Equal(t, ")", res.Candidates[0].Text)
	assert.Equal(t, 1, client.count())
}

func TestCompleteCachedResultsFilteredToEmpty(t *testing.T) {
	client := &fakeClient{text: "unused"}
	eng := newTestEngine(t, nil, client)
	doc := document.NewSnapshot("file:///a.go", "go", 1, "let value = \n}")
	pos := document.Position{Line: 0, Col: 12}

	// A cached candidate that only re-types the document suffix is dropped
	// by post-processing, leaving the cached set empty.
	eng.cache.Append(doc.Prefix(pos), doc.Suffix(pos), ghostline.NewCandidate("}", 0))

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	assert.Equal(t, ghostline.StatusEmpty, res.Status)
	assert.Equal(t, "cached results empty after post-processing", res.Reason)
	assert.Equal(t, 0, client.count(), "no fallback network call")
}

func TestCompleteNetworkSuffixDuplicateIsEmpty(t *testing.T) {
	client := &fakeClient{text: "}"}
	eng := newTestEngine(t, nil, client)
	doc := document.NewSnapshot("file:///a.go", "go", 1, "let value = \n}")
	pos := document.Position{Line: 0, Col: 12}

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	assert.Equal(t, ghostline.StatusEmpty, res.Status)
	assert.Equal(t, "no usable candidates after post-processing", res.Reason)
	assert.Equal(t, 1, client.count())
}

func TestCompleteAbortsMidLine(t *testing.T) {
	client := &fakeClient{text: "unused"}
	eng := newTestEngine(t, nil, client)
	doc := document.NewSnapshot("file:///a.go", "go", 1, "let value = compute()")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: document.Position{Line: 0, Col: 4}})
	assert.Equal(t, ghostline.StatusAbortedBeforeIssued, res.Status)
	assert.Equal(t, 0, client.count())
}

func TestCompleteShortPromptAborts(t *testing.T) {
	client := &fakeClient{text: "unused"}
	eng := newTestEngine(t, nil, client)

	for _, text := range []string{"ab", "      "} {
		doc, pos := testDoc(text)
		res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
		assert.Equal(t, ghostline.StatusAbortedBeforeIssued, res.Status)
		assert.Equal(t, "prompt too short", res.Reason)
	}
	assert.Equal(t, 0, client.count())
}

func TestCompleteExcludedDocumentAborts(t *testing.T) {
	client := &fakeClient{text: "unused"}
	eng := newTestEngine(t, nil, client)
	doc := document.NewSnapshot("file:///home/u/.env", "plaintext", 1, "API_KEY=")
	pos := doc.PositionAt(8)

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	assert.Equal(t, ghostline.StatusAbortedBeforeIssued, res.Status)
	assert.Equal(t, "content excluded", res.Reason)
	assert.Equal(t, 0, client.count())
}

func TestCompleteFailedOnTransportError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	assert.Equal(t, ghostline.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "connection refused")
}

// blockingClient parks its first call until the request context is
// cancelled; later calls succeed immediately.
type blockingClient struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
}

func (b *blockingClient) Complete(ctx context.Context, req transport.Request, finished transport.FinishedCb) (*transport.Response, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &transport.Response{Choices: []transport.Choice{{Text: "second()", Index: 0}}}, nil
}

func TestNewerRequestSupersedesOlder(t *testing.T) {
	client := &blockingClient{entered: make(chan struct{})}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	firstDone := make(chan ghostline.Result, 1)
	go func() {
		firstDone <- eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	}()
	<-client.entered

	second := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, second.Status)
	require.Len(t, second.Candidates, 1)
	assert.Equal(t, "second()", second.Candidates[0].Text)

	select {
	case first := <-firstDone:
		assert.Equal(t, ghostline.StatusCanceled, first.Status)
		assert.Greater(t, second.RequestID, first.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not return")
	}
}

// streamingClient streams a partial on its first call, then settles after a
// short delay so a concurrent request can observe the outcome through the
// in-flight registry.
type streamingClient struct {
	mu       sync.Mutex
	calls    int
	streamed chan struct{}
}

func (s *streamingClient) Complete(ctx context.Context, req transport.Request, finished transport.FinishedCb) (*transport.Response, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if !first {
		return &transport.Response{Choices: []transport.Choice{{Text: "dup()", Index: 0}}}, nil
	}
	if finished != nil {
		finished("hello world", "hello world")
	}
	close(s.streamed)
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &transport.Response{Choices: []transport.Choice{{Text: "hello world", Index: 0}}}, nil
}

func (s *streamingClient) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestTypingAlongReusesInFlightRequest(t *testing.T) {
	client := &streamingClient{streamed: make(chan struct{})}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	firstDone := make(chan ghostline.Result, 1)
	go func() {
		firstDone <- eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	}()
	<-client.streamed

	// The user types the first five streamed characters before the older
	// request resolves. The newer request must keep that call alive and wait
	// on its result rather than issuing a duplicate.
	doc2 := doc.WithInsert(pos, "hello")
	pos2 := doc2.PositionAt(doc.OffsetAt(pos) + 5)
	second := eng.Complete(context.Background(), Request{Doc: doc2, Pos: pos2})
	require.Equal(t, ghostline.StatusSuccess, second.Status)
	assert.Equal(t, ghostline.ResultAsync, second.Type)
	require.Len(t, second.Candidates, 1)
	assert.Equal(t, " world", second.Candidates[0].Text)
	assert.Equal(t, 1, client.count(), "the two requests shared one network call")

	select {
	case first := <-firstDone:
		assert.Equal(t, ghostline.StatusCanceled, first.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request did not return")
	}
}

func TestCompleteObservesInFlightRequest(t *testing.T) {
	client := &fakeClient{text: "unused"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	p, _ := eng.extractor.Extract(context.Background(), doc, pos)
	h := eng.flight.Queue(999, doc.Prefix(pos), doc.Suffix(pos), p.Fingerprint)
	go func() {
		time.Sleep(30 * time.Millisecond)
		cand := ghostline.NewCandidate("async()", 0)
		h.Settle(&cand, nil)
	}()

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	assert.Equal(t, ghostline.ResultAsync, res.Type)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "async()", res.Candidates[0].Text)
	assert.Equal(t, 0, client.count(), "observed the earlier request instead of duplicating it")
}

func TestCompleteTrimsMultilineCandidate(t *testing.T) {
	cfg := testConfig()
	cfg.Block.Mode = "parsing"
	cfg.Block.Policy = "verbose"
	cfg.Block.MaxLines = 1
	cfg.Block.Languages = []string{"go"}

	client := &fakeClient{text: "one()\ntwo()\n\nthree()\n"}
	eng := newTestEngine(t, cfg, client)
	doc, pos := testDoc("let value = ")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "one()", res.Candidates[0].Text)
}

func TestSingleLineModeTruncatesAtNewline(t *testing.T) {
	client := &fakeClient{text: "first()\nsecond()"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "first()", res.Candidates[0].Text)
}

func TestObserversAndShownEvents(t *testing.T) {
	client := &fakeClient{text: "compute()"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	var mu sync.Mutex
	var requested, shown []Event
	unsubReq := eng.OnCompletionRequested(func(ev Event) {
		mu.Lock()
		requested = append(requested, ev)
		mu.Unlock()
	})
	defer unsubReq()
	unsubShown := eng.OnCompletionShown(func(ev Event) {
		mu.Lock()
		shown = append(shown, ev)
		mu.Unlock()
	})
	defer unsubShown()

	res := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	require.Equal(t, ghostline.StatusSuccess, res.Status)
	eng.HandleShown(doc.URI(), res.Candidates[0])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requested, 1)
	assert.Equal(t, doc.URI(), requested[0].URI)
	assert.Equal(t, res.RequestID, requested[0].RequestID)
	require.Len(t, shown, 1)
	assert.Equal(t, res.Candidates[0].ID, shown[0].CandidateID)
}

func TestRequestIDsMonotonic(t *testing.T) {
	client := &fakeClient{text: "compute()"}
	eng := newTestEngine(t, nil, client)
	doc, pos := testDoc("let value = ")

	first := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	eng.RejectLastShown()
	second := eng.Complete(context.Background(), Request{Doc: doc, Pos: pos})
	assert.Greater(t, second.RequestID, first.RequestID)
}
