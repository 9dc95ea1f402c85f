// Package ghostline defines the core value types of the inline-completion
// engine and the request/response types for its IPC front end.
// IPC messages are JSON-encoded and sent over a Unix domain socket, one per line.
package ghostline

import (
	"strings"

	"github.com/google/uuid"
)

// Candidate is one proposed insertion text plus quality metadata.
// It is immutable after creation.
type Candidate struct {
	// ID uniquely identifies the candidate across its lifetime.
	ID string `json:"id"`
	// Text is the suggested insertion at the cursor.
	Text string `json:"text"`
	// ChoiceIndex is the ordinal of the candidate within its batch.
	ChoiceIndex int `json:"choice_index"`
	// MeanLogProb is the mean token log-probability, when the model reports one.
	MeanLogProb *float64 `json:"mean_log_prob,omitempty"`
	// AltLogProb is the alternative-model log-probability, when available.
	AltLogProb *float64 `json:"alt_log_prob,omitempty"`
	// ServedFromCache is the number of already-typed characters that were
	// sliced off the stored text when the candidate was served from the
	// prefix cache. Zero for network-served candidates. Diagnostic only.
	ServedFromCache int `json:"served_from_cache,omitempty"`
	// Meta is an opaque provenance bag carried through to the caller.
	Meta map[string]string `json:"meta,omitempty"`
}

// NewCandidate creates a candidate with a fresh id and the trailing
// whitespace of text preserved as-is.
func NewCandidate(text string, choiceIndex int) Candidate {
	return Candidate{
		ID:          uuid.NewString(),
		Text:        text,
		ChoiceIndex: choiceIndex,
	}
}

// WithText returns a copy of the candidate with different text but the same
// identity and metadata. Used when slicing cached text by the already-typed
// portion.
func (c Candidate) WithText(text string) Candidate {
	c.Text = text
	return c
}

// IsBlank reports whether the candidate text is empty or whitespace-only.
func (c Candidate) IsBlank() bool {
	return strings.TrimSpace(c.Text) == ""
}

// ResultType records which component satisfied a completion request.
type ResultType int

const (
	// ResultNetwork means a newly issued network request produced the candidates.
	ResultNetwork ResultType = iota
	// ResultCache means the prefix cache produced the candidates.
	ResultCache
	// ResultTypingAsSuggested means the candidates are the remaining suffix of
	// a suggestion the user is typing along with.
	ResultTypingAsSuggested
	// ResultCycling means an explicit request for all remaining candidates.
	ResultCycling
	// ResultAsync means the request was served by waiting on an older
	// in-flight request rather than issuing its own.
	ResultAsync
)

func (t ResultType) String() string {
	switch t {
	case ResultNetwork:
		return "network"
	case ResultCache:
		return "cache"
	case ResultTypingAsSuggested:
		return "typingAsSuggested"
	case ResultCycling:
		return "cycling"
	case ResultAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Status is the outcome classification of a completion request.
type Status int

const (
	// StatusSuccess means one or more usable candidates were produced.
	StatusSuccess Status = iota
	// StatusAbortedBeforeIssued means the request never reached the network:
	// it was superseded, at an invalid position, or its prompt was
	// empty/too short/excluded.
	StatusAbortedBeforeIssued
	// StatusCanceled means the request was in flight and explicitly
	// cancelled or superseded mid-flight.
	StatusCanceled
	// StatusFailed means a network or internal error left no usable result.
	StatusFailed
	// StatusEmpty means a well-formed response produced zero usable
	// candidates after post-processing.
	StatusEmpty
	// StatusPromptError means prompt construction itself failed.
	StatusPromptError
	// StatusPromptTimeout means prompt construction exceeded its budget.
	StatusPromptTimeout
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAbortedBeforeIssued:
		return "abortedBeforeIssued"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusEmpty:
		return "empty"
	case StatusPromptError:
		return "promptError"
	case StatusPromptTimeout:
		return "promptTimeout"
	default:
		return "unknown"
	}
}

// Result is the outcome of one completion request.
type Result struct {
	// Status classifies the outcome. Candidates is non-empty only for
	// StatusSuccess.
	Status Status
	// Reason is a short human-readable explanation for non-success outcomes.
	Reason string
	// Type records which component satisfied the request. Meaningful only
	// for StatusSuccess.
	Type ResultType
	// Candidates is the ordered list of usable candidates.
	Candidates []Candidate
	// RequestID is the engine-assigned monotonic id of the request.
	RequestID uint64
}

// Request is sent from an editor client to the daemon.
type Request struct {
	// RequestID is a per-session incrementing identifier assigned by the
	// client. The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// URI identifies the document.
	URI string `json:"uri"`
	// Text is the full document content.
	Text string `json:"text"`
	// Version is the document version the text corresponds to.
	Version int `json:"version"`
	// Line and Col locate the cursor (zero-based, Col in bytes).
	Line int `json:"line"`
	Col  int `json:"col"`
	// LanguageID is the editor's language identifier for the document.
	LanguageID string `json:"language_id"`
	// SessionID identifies the editor session.
	SessionID string `json:"session_id"`
	// Cycling requests all remaining candidates instead of just the first.
	Cycling bool `json:"cycling,omitempty"`
}

// Response is sent from the daemon back to the editor client.
type Response struct {
	// RequestID is echoed from the request for ordering on the client side.
	RequestID int `json:"request_id"`
	// Status is the string form of the engine Status.
	Status string `json:"status"`
	// Reason explains non-success statuses.
	Reason string `json:"reason,omitempty"`
	// Type is the string form of the result provenance tag, when successful.
	Type string `json:"type,omitempty"`
	// Candidates is the list of completion suggestions.
	Candidates []Candidate `json:"candidates"`
	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_configured", "api_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// EventRequest reports a suggestion lifecycle event from the editor client:
// a candidate was rendered, accepted in full or in part, or dismissed.
type EventRequest struct {
	// Type is always "event".
	Type string `json:"type"`
	// Action is "shown", "accepted", "partial_accepted", or "rejected".
	Action string `json:"action"`
	// URI identifies the document the event belongs to.
	URI string `json:"uri,omitempty"`
	// CandidateID identifies the candidate, except for "rejected" which
	// applies to every shown suggestion.
	CandidateID string `json:"candidate_id,omitempty"`
	// Accepted is the byte count for partial accepts.
	Accepted int `json:"accepted,omitempty"`
}

// EventResponse acknowledges an EventRequest.
type EventResponse struct {
	OK    bool   `json:"ok"`
	Error *Error `json:"error,omitempty"`
}

// ConfigRequest is sent from a client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "reload", or "defaults".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration.
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings.
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
