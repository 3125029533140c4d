package capabilityapi

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
)

// Event kinds published on the events port.
const (
	EventOutcomeRecorded = "outcome_recorded"
	EventEvolved         = "evolved"
	EventError           = "error"
)

// OutcomePayload reports one use of a capability. Other agent processes
// publish these after calling a capability so the registry can track
// success rates.
type OutcomePayload struct {
	Name      string `json:"name"`
	Succeeded bool   `json:"succeeded"`
	Source    string `json:"source,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// Schema returns the message type for this payload.
func (p *OutcomePayload) Schema() message.Type {
	return OutcomeType
}

// Validate validates the payload.
func (p *OutcomePayload) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *OutcomePayload) MarshalJSON() ([]byte, error) {
	type Alias OutcomePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *OutcomePayload) UnmarshalJSON(data []byte) error {
	type Alias OutcomePayload
	return json.Unmarshal(data, (*Alias)(p))
}

// OutcomeType is the message type for outcome commands.
var OutcomeType = message.Type{
	Domain:   "capability",
	Category: "outcome",
	Version:  "v1",
}

// EvolvePayload commands an evolution of a named capability. Note is the
// history entry; Implementation and Stage replace the current values when
// set.
type EvolvePayload struct {
	Name           string `json:"name"`
	Note           string `json:"note"`
	Implementation string `json:"implementation,omitempty"`
	Stage          string `json:"stage,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Schema returns the message type for this payload.
func (p *EvolvePayload) Schema() message.Type {
	return EvolveType
}

// Validate validates the payload.
func (p *EvolvePayload) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Note == "" {
		return fmt.Errorf("note is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *EvolvePayload) MarshalJSON() ([]byte, error) {
	type Alias EvolvePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *EvolvePayload) UnmarshalJSON(data []byte) error {
	type Alias EvolvePayload
	return json.Unmarshal(data, (*Alias)(p))
}

// EvolveType is the message type for evolve commands.
var EvolveType = message.Type{
	Domain:   "capability",
	Category: "evolve",
	Version:  "v1",
}

// EventPayload reports the result of an applied command. Version carries
// the capability version after the command; Error is set for rejected
// commands.
type EventPayload struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Version int    `json:"version,omitempty"`
	Note    string `json:"note,omitempty"`
	Error   string `json:"error,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Schema returns the message type for this payload.
func (p *EventPayload) Schema() message.Type {
	return EventType
}

// Validate validates the payload.
func (p *EventPayload) Validate() error {
	if p.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *EventPayload) MarshalJSON() ([]byte, error) {
	type Alias EventPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *EventPayload) UnmarshalJSON(data []byte) error {
	type Alias EventPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// EventType is the message type for registry events.
var EventType = message.Type{
	Domain:   "capability",
	Category: "event",
	Version:  "v1",
}
