package engine

import "sync"

// Event is delivered to registered observers.
type Event struct {
	// URI identifies the document the event concerns.
	URI string
	// RequestID is the engine-assigned request id, when applicable.
	RequestID uint64
	// CandidateID is set for shown events.
	CandidateID string
}

// emitter is the engine's single event emitter. Observers register a
// callback and get back an unsubscribe function; there is no global bus.
type emitter struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]func(Event))}
}

func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// OnCompletionRequested registers an observer called once per completion
// request. The returned function unsubscribes it.
func (e *Engine) OnCompletionRequested(fn func(Event)) func() {
	return e.requested.subscribe(fn)
}

// OnCompletionShown registers an observer called when a candidate is
// rendered for the first time.
func (e *Engine) OnCompletionShown(fn func(Event)) func() {
	return e.shown.subscribe(fn)
}
