// Package events defines the live-channel message envelope shared by the
// server hub and the client reconciler. Every message is a flat JSON object
// carrying a "type" tag plus type-specific fields.
package events

import (
	"encoding/json"
	"fmt"

	"canvas-backend/domain/element"
)

// Recognized event type tags.
const (
	TypeInitialElements      = "initial_elements"
	TypeSyncStatus           = "sync_status"
	TypeElementCreated       = "element_created"
	TypeElementUpdated       = "element_updated"
	TypeElementDeleted       = "element_deleted"
	TypeElementsBatchCreated = "elements_batch_created"
	TypeElementsSynced       = "elements_synced"
	TypeMermaidConvert       = "mermaid_convert"
)

// Event is one live-channel message. Concrete types are the closed set
// below plus Unknown for forward-compatible tags.
type Event interface {
	EventType() string
}

// InitialElements replaces the receiver's entire scene on connect.
type InitialElements struct {
	Type     string            `json:"type"`
	Elements []element.Element `json:"elements"`
}

// SyncStatus is an informational status push. No scene mutation.
type SyncStatus struct {
	Type         string `json:"type"`
	ElementCount int    `json:"elementCount"`
	Timestamp    string `json:"timestamp"`
}

// ElementCreated announces a single new element.
type ElementCreated struct {
	Type    string          `json:"type"`
	Element element.Element `json:"element"`
}

// ElementUpdated announces a replace-in-place of an existing element.
type ElementUpdated struct {
	Type    string          `json:"type"`
	Element element.Element `json:"element"`
}

// ElementDeleted announces a removal and carries only the id.
type ElementDeleted struct {
	Type      string `json:"type"`
	ElementID string `json:"elementId"`
}

// ElementsBatchCreated announces an ordered batch of new elements.
type ElementsBatchCreated struct {
	Type     string            `json:"type"`
	Elements []element.Element `json:"elements"`
}

// ElementsSynced confirms a completed full sync. Informational only; the
// submitting client already holds the synced state.
type ElementsSynced struct {
	Type      string `json:"type"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// MermaidConvert asks clients to convert a mermaid diagram locally.
type MermaidConvert struct {
	Type           string          `json:"type"`
	MermaidDiagram string          `json:"mermaidDiagram"`
	Config         json.RawMessage `json:"config,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

// Unknown wraps a message whose type tag is not recognized. It is forwarded
// to a generic handler rather than discarded.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (e InitialElements) EventType() string      { return TypeInitialElements }
func (e SyncStatus) EventType() string           { return TypeSyncStatus }
func (e ElementCreated) EventType() string       { return TypeElementCreated }
func (e ElementUpdated) EventType() string       { return TypeElementUpdated }
func (e ElementDeleted) EventType() string       { return TypeElementDeleted }
func (e ElementsBatchCreated) EventType() string { return TypeElementsBatchCreated }
func (e ElementsSynced) EventType() string       { return TypeElementsSynced }
func (e MermaidConvert) EventType() string       { return TypeMermaidConvert }
func (e Unknown) EventType() string              { return e.Type }

// NewInitialElements builds an initial_elements event with the tag set.
func NewInitialElements(els []element.Element) InitialElements {
	return InitialElements{Type: TypeInitialElements, Elements: els}
}

// NewSyncStatus builds a sync_status event with the tag set.
func NewSyncStatus(count int, timestamp string) SyncStatus {
	return SyncStatus{Type: TypeSyncStatus, ElementCount: count, Timestamp: timestamp}
}

// NewElementCreated builds an element_created event with the tag set.
func NewElementCreated(el element.Element) ElementCreated {
	return ElementCreated{Type: TypeElementCreated, Element: el}
}

// NewElementUpdated builds an element_updated event with the tag set.
func NewElementUpdated(el element.Element) ElementUpdated {
	return ElementUpdated{Type: TypeElementUpdated, Element: el}
}

// NewElementDeleted builds an element_deleted event with the tag set.
func NewElementDeleted(id string) ElementDeleted {
	return ElementDeleted{Type: TypeElementDeleted, ElementID: id}
}

// NewElementsBatchCreated builds an elements_batch_created event with the tag set.
func NewElementsBatchCreated(els []element.Element) ElementsBatchCreated {
	return ElementsBatchCreated{Type: TypeElementsBatchCreated, Elements: els}
}

// NewElementsSynced builds an elements_synced event with the tag set.
func NewElementsSynced(count int, timestamp, source string) ElementsSynced {
	return ElementsSynced{Type: TypeElementsSynced, Count: count, Timestamp: timestamp, Source: source}
}

// NewMermaidConvert builds a mermaid_convert event with the tag set.
func NewMermaidConvert(diagram string, config json.RawMessage, timestamp string) MermaidConvert {
	return MermaidConvert{Type: TypeMermaidConvert, MermaidDiagram: diagram, Config: config, Timestamp: timestamp}
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one live-channel frame into its concrete event type.
// An unrecognized tag decodes to Unknown; only a frame that is not valid
// JSON, lacks a type tag, or whose body does not match its tag is an error.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event frame missing type tag")
	}

	switch env.Type {
	case TypeInitialElements:
		return decodeAs[InitialElements](raw)
	case TypeSyncStatus:
		return decodeAs[SyncStatus](raw)
	case TypeElementCreated:
		return decodeAs[ElementCreated](raw)
	case TypeElementUpdated:
		return decodeAs[ElementUpdated](raw)
	case TypeElementDeleted:
		return decodeAs[ElementDeleted](raw)
	case TypeElementsBatchCreated:
		return decodeAs[ElementsBatchCreated](raw)
	case TypeElementsSynced:
		return decodeAs[ElementsSynced](raw)
	case TypeMermaidConvert:
		return decodeAs[MermaidConvert](raw)
	default:
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("malformed %T frame: %w", ev, err)
	}
	return ev, nil
}
