// Package client implements the canvas-side half of the sync protocol: a
// reconnecting live update channel, a scene reconciler that folds inbound
// events into the local element set, and the outbound full-sync path.
package client

import (
	"context"
	"encoding/json"
	"sync"

	"canvas-backend/domain/element"
	"canvas-backend/domain/events"

	"go.uber.org/zap"
)

// Converter turns a mermaid diagram into canvas elements. Conversion happens
// client-side because only the client links the rendering library.
type Converter interface {
	Convert(diagram string, config json.RawMessage) ([]element.Element, error)
}

// Scene is the client-local element set. Deleted elements stay in the scene
// carrying a soft-delete marker and are filtered from Elements(); the server
// store, by contrast, removes them physically.
type Scene struct {
	mu       sync.Mutex
	elements []element.Element
	index    map[string]int
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{index: make(map[string]int)}
}

// Elements returns the live (non-deleted) elements in order.
func (s *Scene) Elements() []element.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]element.Element, 0, len(s.elements))
	for _, el := range s.elements {
		if !el.IsDeleted {
			out = append(out, el.Clone())
		}
	}
	return out
}

// Len returns the number of live elements.
func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, el := range s.elements {
		if !el.IsDeleted {
			n++
		}
	}
	return n
}

// Get returns the element under id when present and not deleted.
func (s *Scene) Get(id string) (element.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok || s.elements[i].IsDeleted {
		return element.Element{}, false
	}
	return s.elements[i].Clone(), true
}

// Replace swaps the entire scene for batch, sanitizing bindings against the
// batch itself.
func (s *Scene) Replace(batch []element.Element) {
	clean := element.SanitizeBindings(batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = clean
	s.index = make(map[string]int, len(clean))
	for i, el := range clean {
		s.index[el.ID] = i
	}
}

// Append adds one inbound element after stripping provenance and revalidating
// its bindings against the post-append element set.
func (s *Scene) Append(el element.Element) {
	el = el.Clone()
	el.StripProvenance()

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool, len(s.index)+1)
	for id := range s.index {
		known[id] = true
	}
	known[el.ID] = true
	el = element.SanitizeAgainst(el, known)

	if i, ok := s.index[el.ID]; ok {
		s.elements[i] = el
		return
	}
	s.index[el.ID] = len(s.elements)
	s.elements = append(s.elements, el)
}

// AppendBatch adds every element of an inbound batch, sanitizing bindings
// against the scene plus the whole batch.
func (s *Scene) AppendBatch(batch []element.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool, len(s.index)+len(batch))
	for id := range s.index {
		known[id] = true
	}
	for _, el := range batch {
		known[el.ID] = true
	}

	for _, el := range batch {
		el = el.Clone()
		el.StripProvenance()
		el = element.SanitizeAgainst(el, known)

		if i, ok := s.index[el.ID]; ok {
			s.elements[i] = el
			continue
		}
		s.index[el.ID] = len(s.elements)
		s.elements = append(s.elements, el)
	}
}

// Update replaces an element in place. An update for an id absent from the
// scene is dropped, not inserted; reports whether it was applied.
func (s *Scene) Update(el element.Element) bool {
	el = el.Clone()
	el.StripProvenance()

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[el.ID]
	if !ok || s.elements[i].IsDeleted {
		return false
	}

	known := make(map[string]bool, len(s.index))
	for id := range s.index {
		known[id] = true
	}
	s.elements[i] = element.SanitizeAgainst(el, known)
	return true
}

// Remove marks the element deleted. Reports whether it existed.
func (s *Scene) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok || s.elements[i].IsDeleted {
		return false
	}
	s.elements[i].IsDeleted = true
	return true
}

// Reconciler folds inbound live-channel events into the scene and drives the
// mermaid conversion round trip.
type Reconciler struct {
	scene     *Scene
	converter Converter

	// syncOut pushes the full scene back to the server after a local
	// mermaid conversion. May be nil.
	syncOut func(ctx context.Context, els []element.Element) error

	// onUnknown receives events with unrecognized type tags. May be nil.
	onUnknown func(events.Unknown)

	logger *zap.Logger
}

// NewReconciler creates a reconciler over scene. converter, syncOut and
// onUnknown are optional collaborators.
func NewReconciler(
	scene *Scene,
	converter Converter,
	syncOut func(ctx context.Context, els []element.Element) error,
	onUnknown func(events.Unknown),
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		scene:     scene,
		converter: converter,
		syncOut:   syncOut,
		onUnknown: onUnknown,
		logger:    logger,
	}
}

// Apply dispatches one inbound event into the scene.
func (r *Reconciler) Apply(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.InitialElements:
		// A snapshot from the server is not a local edit: apply without
		// triggering an outbound sync.
		r.scene.Replace(e.Elements)
		r.logger.Info("scene replaced from snapshot", zap.Int("count", len(e.Elements)))

	case events.ElementCreated:
		r.scene.Append(e.Element)

	case events.ElementUpdated:
		if !r.scene.Update(e.Element) {
			r.logger.Debug("dropping update for unknown element",
				zap.String("elementId", e.Element.ID),
			)
		}

	case events.ElementDeleted:
		r.scene.Remove(e.ElementID)

	case events.ElementsBatchCreated:
		r.scene.AppendBatch(e.Elements)

	case events.ElementsSynced, events.SyncStatus:
		// Status only; no scene mutation.

	case events.MermaidConvert:
		return r.handleMermaid(ctx, e)

	case events.Unknown:
		if r.onUnknown != nil {
			r.onUnknown(e)
		} else {
			r.logger.Debug("ignoring unknown event", zap.String("eventType", e.Type))
		}
	}
	return nil
}

// handleMermaid converts the diagram locally, injects the result into the
// scene, and pushes a full sync so the server converges with what was just
// rendered.
func (r *Reconciler) handleMermaid(ctx context.Context, e events.MermaidConvert) error {
	if r.converter == nil {
		r.logger.Warn("mermaid conversion requested but no converter configured")
		return nil
	}

	converted, err := r.converter.Convert(e.MermaidDiagram, e.Config)
	if err != nil {
		r.logger.Error("mermaid conversion failed", zap.Error(err))
		return err
	}

	r.scene.AppendBatch(converted)
	r.logger.Info("mermaid conversion injected", zap.Int("count", len(converted)))

	if r.syncOut != nil {
		if err := r.syncOut(ctx, r.scene.Elements()); err != nil {
			r.logger.Error("post-conversion sync failed", zap.Error(err))
			return err
		}
	}
	return nil
}
