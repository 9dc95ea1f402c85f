// Package flight tracks asynchronous completion requests keyed by
// (prefix, prompt) so that a later request can observe and reuse the result
// of an earlier one instead of issuing a duplicate network call.
package flight

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/cache"
)

// DefaultRetention is how long a settled record stays observable to late
// waiters when no retention is configured.
const DefaultRetention = 30 * time.Second

var (
	// ErrNone means no compatible in-flight or recently settled request exists.
	ErrNone = errors.New("flight: no matching request")
	// ErrTimeout means a compatible request existed but did not settle
	// within the deadline.
	ErrTimeout = errors.New("flight: wait timed out")
)

type record struct {
	requestID uint64
	prefix    string
	suffix    string
	prompt    string
	done      chan struct{}

	mu      sync.Mutex
	partial string
	result  *ghostline.Candidate
	err     error
}

func (r *record) textSoFar() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result != nil {
		return r.result.Text
	}
	return r.partial
}

func (r *record) settledResult() (*ghostline.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Handle lets the owner of a queued request publish progress and its final
// outcome.
type Handle struct {
	reg *Registry
	rec *record
}

// Update publishes streamed partial text so that concurrent typing-along
// checks against a still-in-flight request observe fresh content.
func (h *Handle) Update(partial string) {
	h.rec.mu.Lock()
	h.rec.partial = partial
	h.rec.mu.Unlock()
}

// Settle records the final outcome. A nil candidate with a nil error means
// the request completed without a usable result. A successful candidate is
// also written into the prefix cache. Settle must be called exactly once;
// cancellation does not remove the record, so late waiters still observe
// the outcome.
func (h *Handle) Settle(cand *ghostline.Candidate, err error) {
	h.rec.mu.Lock()
	h.rec.result = cand
	h.rec.err = err
	h.rec.mu.Unlock()
	close(h.rec.done)

	h.reg.settle(h.rec)

	if cand != nil && err == nil {
		h.reg.cache.Append(h.rec.prefix, h.rec.suffix, *cand)
	}
}

// Registry is the in-flight request registry ("async completion manager").
// Deduplication is by (prefix, prompt) identity, not by request id: two
// near-simultaneous requests for the same effective completion point share
// one network call.
type Registry struct {
	mu      sync.Mutex
	active  []*record
	settled *ttlcache.Cache[string, *record]
	cache   *cache.PrefixCache
}

// NewRegistry creates a registry that writes successful results into c and
// retains settled records for the given duration for late waiters.
func NewRegistry(c *cache.PrefixCache, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	settled := ttlcache.New[string, *record](
		ttlcache.WithTTL[string, *record](retention),
		ttlcache.WithDisableTouchOnHit[string, *record](),
	)
	go settled.Start()
	return &Registry{settled: settled, cache: c}
}

// Close stops the settled-record expiration loop.
func (r *Registry) Close() {
	r.settled.Stop()
}

// Queue registers a new outstanding request and returns the handle its owner
// uses to publish progress and the final result. Cancelling the underlying
// transport call remains the owner's responsibility; the registry only
// observes its outcome.
func (r *Registry) Queue(requestID uint64, prefix, suffix, prompt string) *Handle {
	rec := &record{
		requestID: requestID,
		prefix:    prefix,
		suffix:    suffix,
		prompt:    prompt,
		done:      make(chan struct{}),
	}
	r.mu.Lock()
	r.active = append(r.active, rec)
	r.mu.Unlock()
	slog.Debug("queued in-flight request", "request_id", requestID, "prefix_len", len(prefix))
	return &Handle{reg: r, rec: rec}
}

// UpdateCompletion publishes streamed partial text for the active request
// with the given id.
func (r *Registry) UpdateCompletion(requestID uint64, partial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.active {
		if rec.requestID == requestID {
			rec.mu.Lock()
			rec.partial = partial
			rec.mu.Unlock()
			return
		}
	}
}

// ShouldWait reports whether an in-flight request exists whose key is
// compatible with (prefix, prompt), so the caller can wait for its result
// instead of issuing a duplicate call.
func (r *Registry) ShouldWait(prefix, prompt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.active {
		if compatible(rec, prefix, prompt) {
			return true
		}
	}
	return false
}

// compatible reports whether a record can serve a request at (prefix, prompt):
// either the exact same key, or the record was issued at an earlier prefix
// and everything the user typed since matches the record's text so far.
func compatible(rec *record, prefix, prompt string) bool {
	if rec.prefix == prefix && rec.prompt == prompt {
		return true
	}
	if !strings.HasPrefix(prefix, rec.prefix) {
		return false
	}
	typed := prefix[len(rec.prefix):]
	if typed == "" {
		return false
	}
	sofar := rec.textSoFar()
	return sofar != "" && (strings.HasPrefix(sofar, typed) || strings.HasPrefix(typed, sofar))
}

// adjust slices the portion of the record's result the user has already
// typed, mirroring the prefix cache's remaining-key slicing.
func adjust(rec *record, prefix string, cand *ghostline.Candidate) *ghostline.Candidate {
	if cand == nil || rec.prefix == prefix {
		return cand
	}
	typed := prefix[len(rec.prefix):]
	if !strings.HasPrefix(cand.Text, typed) || len(cand.Text) == len(typed) {
		return nil
	}
	out := cand.WithText(cand.Text[len(typed):])
	out.ServedFromCache = 0
	return &out
}

// FirstMatching resolves to the first in-flight or just-settled request
// compatible with (prefix, prompt), without a deadline of its own. It blocks
// until the request settles or ctx is done. Speculative waiters do not count
// as observers, so the record stays available for the request it belongs to.
func (r *Registry) FirstMatching(ctx context.Context, requestID uint64, prefix, prompt string, speculative bool) (*ghostline.Candidate, error) {
	return r.wait(ctx, requestID, prefix, prompt, speculative, 0)
}

// FirstMatchingTimeout is FirstMatching bounded by a deadline; on timeout it
// returns ErrTimeout so the caller can fall through to issuing a new request.
func (r *Registry) FirstMatchingTimeout(ctx context.Context, requestID uint64, prefix, prompt string, speculative bool, timeout time.Duration) (*ghostline.Candidate, error) {
	return r.wait(ctx, requestID, prefix, prompt, speculative, timeout)
}

func (r *Registry) wait(ctx context.Context, requestID uint64, prefix, prompt string, speculative bool, timeout time.Duration) (*ghostline.Candidate, error) {
	rec := r.findCompatible(prefix, prompt)
	if rec == nil {
		return nil, ErrNone
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, ErrTimeout
	}

	cand, err := rec.settledResult()
	if err != nil {
		return nil, err
	}
	if !speculative {
		r.markObserved(rec)
	}
	return adjust(rec, prefix, cand), nil
}

// findCompatible checks active records first, then recently settled ones.
func (r *Registry) findCompatible(prefix, prompt string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.active {
		if compatible(rec, prefix, prompt) {
			return rec
		}
	}
	if item := r.settled.Get(key(prefix, prompt)); item != nil {
		return item.Value()
	}
	return nil
}

// settle moves a record from the active set to the settled cache, where it
// remains observable until it is observed or its retention expires.
func (r *Registry) settle(rec *record) {
	r.mu.Lock()
	for i, a := range r.active {
		if a == rec {
			r.active = append(r.active[:i], r.active[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.settled.Set(key(rec.prefix, rec.prompt), rec, ttlcache.DefaultTTL)
}

// markObserved drops a settled record after its first real observation.
func (r *Registry) markObserved(rec *record) {
	r.settled.Delete(key(rec.prefix, rec.prompt))
}

func key(prefix, prompt string) string {
	return prefix + "\x00" + prompt
}
