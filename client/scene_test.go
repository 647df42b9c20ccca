package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"canvas-backend/domain/element"
	"canvas-backend/domain/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConverter struct {
	elements []element.Element
	err      error
	calls    int
}

func (f *fakeConverter) Convert(_ string, _ json.RawMessage) ([]element.Element, error) {
	f.calls++
	return f.elements, f.err
}

func strPtr(s string) *string {
	return &s
}

func newTestReconciler(converter Converter, syncOut func(context.Context, []element.Element) error) (*Reconciler, *Scene) {
	scene := NewScene()
	r := NewReconciler(scene, converter, syncOut, nil, zap.NewNop())
	return r, scene
}

func TestApply_InitialElementsReplacesSceneWithoutSync(t *testing.T) {
	syncCalls := 0
	r, scene := newTestReconciler(nil, func(context.Context, []element.Element) error {
		syncCalls++
		return nil
	})

	ev := events.NewInitialElements([]element.Element{
		{ID: "a", Type: element.TypeRectangle},
		{ID: "b", Type: element.TypeEllipse},
	})

	require.NoError(t, r.Apply(context.Background(), ev))
	assert.Equal(t, 2, scene.Len())
	// A server snapshot is not a local edit; no outbound sync.
	assert.Equal(t, 0, syncCalls)
}

func TestApply_ElementCreatedStripsProvenance(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	el := element.Element{
		ID: "a", Type: element.TypeRectangle,
		SyncedAt: "x", Source: element.SourceFrontendSync,
	}
	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(el)))

	got, ok := scene.Get("a")
	require.True(t, ok)
	assert.Empty(t, got.SyncedAt)
	assert.Empty(t, got.Source)
}

func TestApply_ElementCreatedSanitizesAgainstScene(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "container", Type: element.TypeRectangle},
	)))

	// containerId referencing a scene element survives; a dangling one is
	// cleared.
	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "label", Type: element.TypeText, ContainerID: strPtr("container")},
	)))
	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "orphan", Type: element.TypeText, ContainerID: strPtr("nowhere")},
	)))

	label, _ := scene.Get("label")
	require.NotNil(t, label.ContainerID)
	assert.Equal(t, "container", *label.ContainerID)

	orphan, _ := scene.Get("orphan")
	assert.Nil(t, orphan.ContainerID)
}

func TestApply_UpdateForUnknownElementIsDropped(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	require.NoError(t, r.Apply(context.Background(), events.NewElementUpdated(
		element.Element{ID: "ghost", Type: element.TypeRectangle, X: 99},
	)))

	_, ok := scene.Get("ghost")
	assert.False(t, ok)
	assert.Equal(t, 0, scene.Len())
}

func TestApply_UpdateReplacesInPlace(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "a", Type: element.TypeRectangle, X: 1},
	)))
	require.NoError(t, r.Apply(context.Background(), events.NewElementUpdated(
		element.Element{ID: "a", Type: element.TypeRectangle, X: 42, Version: 2},
	)))

	got, ok := scene.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42.0, got.X)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 1, scene.Len())
}

func TestApply_ElementDeletedSoftDeletes(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "a", Type: element.TypeRectangle},
	)))
	require.NoError(t, r.Apply(context.Background(), events.NewElementDeleted("a")))

	_, ok := scene.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, scene.Len())

	// Deleted elements do not come back through a later update.
	require.NoError(t, r.Apply(context.Background(), events.NewElementUpdated(
		element.Element{ID: "a", Type: element.TypeRectangle},
	)))
	_, ok = scene.Get("a")
	assert.False(t, ok)
}

func TestApply_BatchCreatedSanitizesWithinBatch(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	batch := []element.Element{
		{ID: "arrow", Type: element.TypeArrow, BoundElements: []element.Binding{
			{ID: "target", Type: element.BindingArrow},
			{ID: "missing", Type: element.BindingArrow},
		}},
		{ID: "target", Type: element.TypeRectangle},
	}
	require.NoError(t, r.Apply(context.Background(), events.NewElementsBatchCreated(batch)))

	arrow, ok := scene.Get("arrow")
	require.True(t, ok)
	require.Len(t, arrow.BoundElements, 1)
	assert.Equal(t, "target", arrow.BoundElements[0].ID)
}

func TestApply_StatusEventsAreIdempotentNoOps(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	require.NoError(t, r.Apply(context.Background(), events.NewElementCreated(
		element.Element{ID: "a", Type: element.TypeRectangle},
	)))
	before := scene.Elements()

	synced := events.NewElementsSynced(5, "2026-01-01T00:00:00Z", element.SourceFrontendSync)
	require.NoError(t, r.Apply(context.Background(), synced))
	require.NoError(t, r.Apply(context.Background(), synced))
	require.NoError(t, r.Apply(context.Background(), events.NewSyncStatus(5, "2026-01-01T00:00:00Z")))

	assert.Equal(t, before, scene.Elements())
}

func TestApply_MermaidConvertInjectsAndSyncs(t *testing.T) {
	converter := &fakeConverter{elements: []element.Element{
		{ID: "m1", Type: element.TypeRectangle},
		{ID: "m2", Type: element.TypeArrow},
	}}
	var synced []element.Element
	r, scene := newTestReconciler(converter, func(_ context.Context, els []element.Element) error {
		synced = els
		return nil
	})

	ev := events.NewMermaidConvert("graph TD; A-->B", nil, "2026-01-01T00:00:00Z")
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, 1, converter.calls)
	assert.Equal(t, 2, scene.Len())
	// The injected elements are pushed back so the server converges.
	assert.Len(t, synced, 2)
}

func TestApply_MermaidConvertWithoutConverterIsNoOp(t *testing.T) {
	r, scene := newTestReconciler(nil, nil)

	ev := events.NewMermaidConvert("graph TD; A-->B", nil, "")
	require.NoError(t, r.Apply(context.Background(), ev))
	assert.Equal(t, 0, scene.Len())
}

func TestApply_MermaidConvertConverterError(t *testing.T) {
	converter := &fakeConverter{err: errors.New("parse failed")}
	r, scene := newTestReconciler(converter, nil)

	err := r.Apply(context.Background(), events.NewMermaidConvert("bad", nil, ""))
	require.Error(t, err)
	assert.Equal(t, 0, scene.Len())
}

func TestApply_UnknownEventForwarded(t *testing.T) {
	scene := NewScene()
	var got events.Unknown
	r := NewReconciler(scene, nil, nil, func(ev events.Unknown) { got = ev }, zap.NewNop())

	ev, err := events.Decode([]byte(`{"type":"presence_update","userId":"u1"}`))
	require.NoError(t, err)
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, "presence_update", got.Type)
}
