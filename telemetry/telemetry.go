// Package telemetry defines the measurement sink the engine reports to.
// Sinks receive result, timing and candidate-quality measurements only;
// raw document content is never included.
package telemetry

import (
	"log/slog"
	"time"
)

// EventType classifies a telemetry event.
type EventType string

const (
	// EventShown fires once per candidate the first time it is rendered.
	EventShown EventType = "shown"
	// EventAccepted fires when the user accepts a candidate.
	EventAccepted EventType = "accepted"
	// EventRejected fires when a shown candidate is dismissed without
	// being accepted.
	EventRejected EventType = "rejected"
	// EventResult fires once per completion request with its outcome.
	EventResult EventType = "result"
)

// Event is one measurement.
type Event struct {
	Type        EventType
	CandidateID string
	// ResultType is the provenance tag string for result events.
	ResultType string
	// Status is the outcome classification string for result events.
	Status string
	// Reason explains non-success outcomes.
	Reason string
	// RemainingOffset is how much of a rejected candidate was left unserved.
	RemainingOffset int
	// Latency is the end-to-end request duration for result events.
	Latency time.Duration
	// MeanLogProb carries candidate quality when the model reports it.
	MeanLogProb *float64
	// ServedFromCache is the characters-served-from-cache measurement.
	ServedFromCache int
}

// Sink receives telemetry events. Implementations must be safe for
// concurrent use and must not block.
type Sink interface {
	Send(Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Send(Event) {}

// Slog logs events at debug level.
type Slog struct{}

func (Slog) Send(e Event) {
	slog.Debug("telemetry",
		"event", string(e.Type),
		"candidate_id", e.CandidateID,
		"result_type", e.ResultType,
		"status", e.Status,
		"reason", e.Reason,
		"latency", e.Latency,
		"served_from_cache", e.ServedFromCache,
	)
}
