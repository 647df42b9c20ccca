// Package services implements the mutation core: every element mutation goes
// through ElementService, which validates input, mutates the store, and then
// broadcasts the matching event, in that order. A broadcast is never sent
// for a mutation that failed validation, and the store is never mutated
// without a corresponding broadcast.
package services

import (
	"context"
	"encoding/json"
	"sync"

	"canvas-backend/application/ports"
	"canvas-backend/domain/element"
	"canvas-backend/domain/events"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
	"canvas-backend/pkg/utils"

	"go.uber.org/zap"
)

// ElementService owns the canonical element set for one room.
type ElementService struct {
	store       ports.ElementStore
	broadcaster ports.Broadcaster
	metrics     *observability.Metrics
	logger      *zap.Logger
	roomID      string

	// Serializes validate -> mutate -> broadcast across requests, the
	// equivalent of the single dispatch context the protocol assumes.
	mu sync.Mutex
}

// NewElementService creates the mutation core for roomID (empty in the
// default single-room deployment).
func NewElementService(
	store ports.ElementStore,
	broadcaster ports.Broadcaster,
	metrics *observability.Metrics,
	logger *zap.Logger,
	roomID string,
) *ElementService {
	return &ElementService{
		store:       store,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		roomID:      roomID,
	}
}

// CreateElementInput is a partial element record for create and batch-create.
// Type and geometry are mandatory; the id is honored verbatim when supplied
// so external systems can pre-assign ids.
type CreateElementInput struct {
	ID   string       `json:"id,omitempty"`
	Type element.Type `json:"type" validate:"required,oneof=rectangle ellipse diamond arrow line text freehand image frame"`
	X    *float64     `json:"x" validate:"required"`
	Y    *float64     `json:"y" validate:"required"`

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

	BoundElements []element.Binding `json:"boundElements,omitempty"`
	ContainerID   *string           `json:"containerId,omitempty"`
}

// UpdateElementInput carries the fields of a partial update. Nil pointers
// mean "not supplied"; supplied fields are merged over the existing record.
type UpdateElementInput struct {
	Type *element.Type `json:"type,omitempty" validate:"omitempty,oneof=rectangle ellipse diamond arrow line text freehand image frame"`
	X    *float64      `json:"x,omitempty"`
	Y    *float64      `json:"y,omitempty"`

	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`

	StrokeColor     *string  `json:"strokeColor,omitempty"`
	BackgroundColor *string  `json:"backgroundColor,omitempty"`
	StrokeWidth     *float64 `json:"strokeWidth,omitempty"`
	Roughness       *int     `json:"roughness,omitempty"`
	Opacity         *float64 `json:"opacity,omitempty"`

	Text       *string  `json:"text,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	FontFamily *int     `json:"fontFamily,omitempty"`

	BoundElements *[]element.Binding `json:"boundElements,omitempty"`
	ContainerID   *string            `json:"containerId,omitempty"`
}

// SyncResult reports the outcome of a full-sync overwrite.
type SyncResult struct {
	Submitted   int
	Accepted    int
	SyncedAt    string
	BeforeCount int
	AfterCount  int
}

// List returns every element in insertion order.
func (s *ElementService) List(ctx context.Context) []element.Element {
	return s.store.GetAll(s.roomID)
}

// GetByID returns the element under id or a not-found error.
func (s *ElementService) GetByID(ctx context.Context, id string) (element.Element, error) {
	el, ok := s.store.Get(s.roomID, id)
	if !ok {
		return element.Element{}, apperrors.NewNotFoundError("element")
	}
	return el, nil
}

// Search returns elements matching every supplied equality filter. The
// "type" key matches the element type; any other key is compared against the
// element's JSON representation.
func (s *ElementService) Search(ctx context.Context, filters map[string]string) []element.Element {
	all := s.store.GetAll(s.roomID)
	if len(filters) == 0 {
		return all
	}

	matched := make([]element.Element, 0, len(all))
	for _, el := range all {
		if matchesFilters(el, filters) {
			matched = append(matched, el)
		}
	}
	return matched
}

// Create validates in, stores a fresh element with version 1 and broadcasts
// element_created to every live connection.
func (s *ElementService) Create(ctx context.Context, in CreateElementInput) (element.Element, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return element.Element{}, apperrors.NewValidationError(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el := s.buildElement(in)
	s.store.Set(s.roomID, el.ID, el)
	s.metrics.ElementsCreated.Inc()

	s.broadcaster.Broadcast(s.roomID, events.NewElementCreated(el), "")

	s.logger.Info("element created",
		zap.String("elementId", el.ID),
		zap.String("elementType", string(el.Type)),
	)
	return el, nil
}

// Update merges the supplied fields over the existing record, bumps the
// version by exactly one and broadcasts element_updated.
func (s *ElementService) Update(ctx context.Context, id string, in UpdateElementInput) (element.Element, error) {
	if id == "" {
		return element.Element{}, apperrors.NewValidationError("element id is required")
	}
	if err := utils.ValidateStruct(in); err != nil {
		return element.Element{}, apperrors.NewValidationError(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.store.Get(s.roomID, id)
	if !ok {
		return element.Element{}, apperrors.NewNotFoundError("element")
	}

	mergeInto(&el, in)
	el.Version++
	el.UpdatedAt = utils.NowRFC3339()

	s.store.Set(s.roomID, id, el)
	s.metrics.ElementsUpdated.Inc()

	s.broadcaster.Broadcast(s.roomID, events.NewElementUpdated(el), "")

	s.logger.Info("element updated",
		zap.String("elementId", id),
		zap.Int("version", el.Version),
	)
	return el, nil
}

// Delete removes the element and broadcasts element_deleted with only the id.
func (s *ElementService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.NewValidationError("element id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Delete(s.roomID, id) {
		return apperrors.NewNotFoundError("element")
	}
	s.metrics.ElementsDeleted.Inc()

	s.broadcaster.Broadcast(s.roomID, events.NewElementDeleted(id), "")

	s.logger.Info("element deleted", zap.String("elementId", id))
	return nil
}

// BatchCreate validates every entry before committing any: one invalid entry
// rejects the whole batch and leaves the store untouched. On success all
// elements are stored and one elements_batch_created event is broadcast.
func (s *ElementService) BatchCreate(ctx context.Context, ins []CreateElementInput) ([]element.Element, error) {
	for i, in := range ins {
		if err := utils.ValidateStruct(in); err != nil {
			return nil, apperrors.NewValidationError(err.Error()).WithDetails(
				map[string]interface{}{"index": i},
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]element.Element, 0, len(ins))
	for _, in := range ins {
		el := s.buildElement(in)
		s.store.Set(s.roomID, el.ID, el)
		s.metrics.ElementsCreated.Inc()
		created = append(created, el)
	}

	s.broadcaster.Broadcast(s.roomID, events.NewElementsBatchCreated(created), "")

	s.logger.Info("batch created", zap.Int("count", len(created)))
	return created, nil
}

// FullSync treats the incoming set as authoritative truth: the store is
// cleared and repopulated from the raw entries. A malformed entry is logged
// and skipped without failing the request. Broadcasts a single
// elements_synced confirmation; receiving clients already hold this state.
func (s *ElementService) FullSync(ctx context.Context, rawElements []json.RawMessage, clientTimestamp string) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncedAt := utils.NowRFC3339()
	result := SyncResult{
		Submitted:   len(rawElements),
		SyncedAt:    syncedAt,
		BeforeCount: s.store.Count(s.roomID),
	}

	s.store.Clear(s.roomID)

	for i, raw := range rawElements {
		var el element.Element
		if err := json.Unmarshal(raw, &el); err != nil {
			s.logger.Warn("skipping malformed sync entry",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if !element.IsValidType(el.Type) {
			s.logger.Warn("skipping sync entry with unknown type",
				zap.Int("index", i),
				zap.String("elementType", string(el.Type)),
			)
			continue
		}

		if el.ID == "" {
			el.ID = element.NewID()
		}
		// Prior version history is discarded: the sync payload wins.
		el.Version = 1
		el.IsDeleted = false
		el.SyncedAt = syncedAt
		el.SyncTimestamp = clientTimestamp
		el.Source = element.SourceFrontendSync
		if el.CreatedAt == "" {
			el.CreatedAt = syncedAt
		}
		el.UpdatedAt = syncedAt

		s.store.Set(s.roomID, el.ID, el)
		result.Accepted++
	}

	result.AfterCount = s.store.Count(s.roomID)
	s.metrics.FullSyncs.Inc()

	s.broadcaster.Broadcast(s.roomID, events.NewElementsSynced(result.Accepted, syncedAt, element.SourceFrontendSync), "")

	s.logger.Info("full sync applied",
		zap.Int("submitted", result.Submitted),
		zap.Int("accepted", result.Accepted),
		zap.Int("beforeCount", result.BeforeCount),
	)
	return result, nil
}

// MermaidRelay broadcasts a mermaid_convert request to every live connection.
// Conversion itself happens client-side, where the rendering library lives;
// the server only relays the diagram text and config.
func (s *ElementService) MermaidRelay(ctx context.Context, diagram string, config json.RawMessage) (string, error) {
	if diagram == "" {
		return "", apperrors.NewValidationError("mermaidDiagram is required")
	}

	timestamp := utils.NowRFC3339()
	s.broadcaster.Broadcast(s.roomID, events.NewMermaidConvert(diagram, config, timestamp), "")

	s.logger.Info("mermaid conversion relayed", zap.Int("diagramLength", len(diagram)))
	return timestamp, nil
}

// ElementCount reports the current store size.
func (s *ElementService) ElementCount() int {
	return s.store.Count(s.roomID)
}

// ConnectionCount reports the number of live connections.
func (s *ElementService) ConnectionCount() int {
	return s.broadcaster.ConnectionCount(s.roomID)
}

// buildElement materializes a full record from a validated partial input.
func (s *ElementService) buildElement(in CreateElementInput) element.Element {
	now := utils.NowRFC3339()

	id := in.ID
	if id == "" {
		id = element.NewID()
	}

	return element.Element{
		ID:              id,
		Type:            in.Type,
		X:               *in.X,
		Y:               *in.Y,
		Width:           in.Width,
		Height:          in.Height,
		StrokeColor:     in.StrokeColor,
		BackgroundColor: in.BackgroundColor,
		StrokeWidth:     in.StrokeWidth,
		Roughness:       in.Roughness,
		Opacity:         in.Opacity,
		Text:            in.Text,
		FontSize:        in.FontSize,
		FontFamily:      in.FontFamily,
		BoundElements:   in.BoundElements,
		ContainerID:     in.ContainerID,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// mergeInto applies the non-nil fields of in over el.
func mergeInto(el *element.Element, in UpdateElementInput) {
	if in.Type != nil {
		el.Type = *in.Type
	}
	if in.X != nil {
		el.X = *in.X
	}
	if in.Y != nil {
		el.Y = *in.Y
	}
	if in.Width != nil {
		el.Width = in.Width
	}
	if in.Height != nil {
		el.Height = in.Height
	}
	if in.StrokeColor != nil {
		el.StrokeColor = *in.StrokeColor
	}
	if in.BackgroundColor != nil {
		el.BackgroundColor = *in.BackgroundColor
	}
	if in.StrokeWidth != nil {
		el.StrokeWidth = in.StrokeWidth
	}
	if in.Roughness != nil {
		el.Roughness = in.Roughness
	}
	if in.Opacity != nil {
		el.Opacity = in.Opacity
	}
	if in.Text != nil {
		el.Text = *in.Text
	}
	if in.FontSize != nil {
		el.FontSize = in.FontSize
	}
	if in.FontFamily != nil {
		el.FontFamily = in.FontFamily
	}
	if in.BoundElements != nil {
		if len(*in.BoundElements) == 0 {
			el.BoundElements = nil
		} else {
			el.BoundElements = *in.BoundElements
		}
	}
	if in.ContainerID != nil {
		if *in.ContainerID == "" {
			el.ContainerID = nil
		} else {
			el.ContainerID = in.ContainerID
		}
	}
}

// matchesFilters reports whether el satisfies every equality filter. Fields
// other than "type" are compared against the element's flattened JSON form.
func matchesFilters(el element.Element, filters map[string]string) bool {
	var flat map[string]interface{}
	raw, err := json.Marshal(el)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return false
	}

	for key, want := range filters {
		if key == "type" {
			if string(el.Type) != want {
				return false
			}
			continue
		}
		got, ok := flat[key]
		if !ok {
			return false
		}
		if !equalsString(got, want) {
			return false
		}
	}
	return true
}

// equalsString compares a decoded JSON value against its query-string form.
func equalsString(got interface{}, want string) bool {
	switch v := got.(type) {
	case string:
		return v == want
	case float64:
		var n float64
		if err := json.Unmarshal([]byte(want), &n); err != nil {
			return false
		}
		return v == n
	case bool:
		return (v && want == "true") || (!v && want == "false")
	default:
		raw, err := json.Marshal(got)
		return err == nil && string(raw) == want
	}
}
