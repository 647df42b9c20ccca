// Package ports declares the capability interfaces the mutation core depends
// on. One concrete single-room implementation of each ships in this
// repository; a multi-room implementation can be substituted without touching
// the service layer.
package ports

import (
	"canvas-backend/domain/element"
	"canvas-backend/domain/events"
)

// ElementStore is the canonical element mapping. Callers must have validated
// and sanitized a record before calling Set; the store performs no implicit
// validation. roomID is a scoping key reserved for multi-room deployments;
// the default implementation ignores it.
type ElementStore interface {
	// Get returns the element and true when id is present.
	Get(roomID, id string) (element.Element, bool)

	// GetAll returns every element in insertion order.
	GetAll(roomID string) []element.Element

	// Set inserts or replaces the element under id.
	Set(roomID, id string, el element.Element)

	// Delete removes id and reports whether a record existed.
	Delete(roomID, id string) bool

	// Clear removes every element in the room.
	Clear(roomID string)

	// Count returns the number of stored elements.
	Count(roomID string) int
}

// Broadcaster fans an event out to every live connection in a room, except
// the connection identified by excludeID (empty means exclude nobody).
// Sends to connections that are not open are best-effort and swallowed.
type Broadcaster interface {
	Broadcast(roomID string, event events.Event, excludeID string)

	// ConnectionCount reports the number of live connections in the room.
	ConnectionCount(roomID string) int
}
