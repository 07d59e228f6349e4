// Package report emits structured build-lifecycle events and, when a
// Reporter is configured, persists them best-effort to an event-sink Store.
//
// Uses the same structured, typed event shape as the logger wrapper
// elsewhere in this module, and google/uuid for the Reporter's build ID.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/materialsproject/maggma/codec"
)

// Kind identifies a BuildEvent's place in a Builder run's lifecycle.
type Kind string

const (
	// Started is emitted once when an Executor or Manager begins a run.
	Started Kind = "STARTED"
	// Updated is emitted after every successful update_targets batch.
	Updated Kind = "UPDATE"
	// Ended is emitted once when a run terminates, successfully or not.
	Ended Kind = "ENDED"
)

// BuildEvent is a tagged lifecycle record: one document per significant
// moment in a Builder's run, suitable for persisting to an event-sink
// Store.
type BuildEvent struct {
	Kind        Kind           `json:"event"`
	BuilderName string         `json:"builder"`
	BuildID     string         `json:"build_id"`
	MachineID   string         `json:"machine_id"`
	At          time.Time      `json:"at"`
	Payload     map[string]any `json:"payload"`
}

// StartedPayload is the payload shape of a Started event.
type StartedPayload struct {
	Sources []string `json:"sources"`
	Targets []string `json:"targets"`
	Total   *int     `json:"total,omitempty"`
}

// UpdatedPayload is the payload shape of an Updated event.
type UpdatedPayload struct {
	Count int `json:"count"`
}

// EndedPayload is the payload shape of an Ended event.
type EndedPayload struct {
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`
	Duration time.Duration `json:"duration"`
}

// ToPayload flattens a typed *Payload struct into the map[string]any that
// BuildEvent.Payload carries, round-tripping through the module's codec
// registry so the JSON tags on StartedPayload/UpdatedPayload/EndedPayload
// stay the single source of truth for field names.
func ToPayload(v any) map[string]any {
	b := codec.MustMarshal(codec.Default, v)
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Sink receives BuildEvents as a run progresses. Implementations must not
// block the caller for long: the Executor and Manager treat event emission
// as a side channel, never a dependency of the main pipeline.
type Sink interface {
	Emit(ctx context.Context, ev BuildEvent)
}

// NopSink discards every event. Used when no Reporter is configured.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, BuildEvent) {}
