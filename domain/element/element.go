// Package element defines the canonical canvas element record and the
// sanitation rules applied before a record is handed to the rendering layer.
package element

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type enumerates the drawable shapes the canvas understands.
type Type string

const (
	TypeRectangle Type = "rectangle"
	TypeEllipse   Type = "ellipse"
	TypeDiamond   Type = "diamond"
	TypeArrow     Type = "arrow"
	TypeLine      Type = "line"
	TypeText      Type = "text"
	TypeFreehand  Type = "freehand"
	TypeImage     Type = "image"
	TypeFrame     Type = "frame"
)

// Types lists every recognized element type. Used by request validation.
var Types = []Type{
	TypeRectangle, TypeEllipse, TypeDiamond, TypeArrow, TypeLine,
	TypeText, TypeFreehand, TypeImage, TypeFrame,
}

// IsValidType reports whether t is a recognized element type.
func IsValidType(t Type) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// BindingType enumerates the recognized binding relations between elements.
type BindingType string

const (
	BindingText  BindingType = "text"
	BindingArrow BindingType = "arrow"
)

// IsValidBindingType reports whether t is a recognized binding type.
func IsValidBindingType(t BindingType) bool {
	return t == BindingText || t == BindingArrow
}

// Binding is one entry of an element's boundElements list.
type Binding struct {
	ID   string      `json:"id"`
	Type BindingType `json:"type"`
}

// SourceFrontendSync marks records that entered the store via a full sync.
const SourceFrontendSync = "frontend_sync"

// Element is the canonical record for one drawable unit on the canvas.
// Width/height and style attributes are pointers so a partial update can
// distinguish "not supplied" from a zero value.
type Element struct {
	ID     string   `json:"id"`
	Type   Type     `json:"type"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`

	StrokeColor     string   `json:"strokeColor,omitempty"`
	BackgroundColor string   `json:"backgroundColor,omitempty"`
	StrokeWidth     *float64 `json:"strokeWidth,omitempty"`
	Roughness       *int     `json:"roughness,omitempty"`
	Opacity         *float64 `json:"opacity,omitempty"`

	Text       string   `json:"text,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	FontFamily *int     `json:"fontFamily,omitempty"`

	BoundElements []Binding `json:"boundElements,omitempty"`
	ContainerID   *string   `json:"containerId,omitempty"`

	Version   int    `json:"version"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`

	// Provenance markers stamped by full sync. Never used for ordering.
	SyncedAt      string `json:"syncedAt,omitempty"`
	SyncTimestamp string `json:"syncTimestamp,omitempty"`
	Source        string `json:"source,omitempty"`

	// Client-local soft-delete marker. The server store never holds a
	// deleted element; this survives only in client scene state.
	IsDeleted bool `json:"isDeleted,omitempty"`
}

// NewID returns a fresh element identifier. ULIDs sort by creation time,
// which keeps generated ids aligned with store insertion order.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Clone returns a deep copy of e, so callers can mutate the copy without
// aliasing pointer fields of the original.
func (e Element) Clone() Element {
	out := e
	out.Width = clonePtr(e.Width)
	out.Height = clonePtr(e.Height)
	out.StrokeWidth = clonePtr(e.StrokeWidth)
	out.Roughness = clonePtr(e.Roughness)
	out.Opacity = clonePtr(e.Opacity)
	out.FontSize = clonePtr(e.FontSize)
	out.FontFamily = clonePtr(e.FontFamily)
	out.ContainerID = clonePtr(e.ContainerID)
	if e.BoundElements != nil {
		out.BoundElements = make([]Binding, len(e.BoundElements))
		copy(out.BoundElements, e.BoundElements)
	}
	return out
}

// StripProvenance clears the server-only sync markers from e. Applied by
// the client reconciler before an inbound element is merged into the scene.
func (e *Element) StripProvenance() {
	e.SyncedAt = ""
	e.SyncTimestamp = ""
	e.Source = ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
