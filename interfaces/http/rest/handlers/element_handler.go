package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"

	"canvas-backend/application/services"
	"canvas-backend/domain/element"
	"canvas-backend/pkg/common"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 20 // 10MB; full-sync payloads carry whole scenes

// ElementHandler handles element-related HTTP requests
type ElementHandler struct {
	service *services.ElementService
	logger  *zap.Logger
}

// NewElementHandler creates a new element handler
func NewElementHandler(service *services.ElementService, logger *zap.Logger) *ElementHandler {
	return &ElementHandler{
		service: service,
		logger:  logger,
	}
}

// ListResponse is the success shape for list and search.
type ListResponse struct {
	Success  bool              `json:"success"`
	Elements []element.Element `json:"elements"`
	Count    int               `json:"count"`
}

// ElementResponse is the success shape for get, create and update.
type ElementResponse struct {
	Success bool            `json:"success"`
	Element element.Element `json:"element"`
}

// MessageResponse is the success shape for delete.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SyncResponse is the success shape for a full-sync overwrite.
type SyncResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Count       int    `json:"count"`
	SyncedAt    string `json:"syncedAt"`
	BeforeCount int    `json:"beforeCount"`
	AfterCount  int    `json:"afterCount"`
}

// MermaidResponse echoes a relayed conversion request back to the caller.
type MermaidResponse struct {
	Success        bool            `json:"success"`
	MermaidDiagram string          `json:"mermaidDiagram"`
	Config         json.RawMessage `json:"config,omitempty"`
	Message        string          `json:"message"`
}

// HealthResponse is the health-check shape.
type HealthResponse struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	ElementsCount    int    `json:"elements_count"`
	WebsocketClients int    `json:"websocket_clients"`
}

// StatusResponse is the sync-status shape.
type StatusResponse struct {
	Success          bool              `json:"success"`
	ElementCount     int               `json:"elementCount"`
	Timestamp        string            `json:"timestamp"`
	MemoryUsage      map[string]uint64 `json:"memoryUsage"`
	WebsocketClients int               `json:"websocketClients"`
}

type batchCreateRequest struct {
	Elements json.RawMessage `json:"elements"`
}

type syncRequest struct {
	Elements  json.RawMessage `json:"elements"`
	Timestamp string          `json:"timestamp"`
}

type mermaidRequest struct {
	MermaidDiagram string          `json:"mermaidDiagram"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// ListElements handles GET /api/elements
func (h *ElementHandler) ListElements(w http.ResponseWriter, r *http.Request) {
	elements := h.service.List(r.Context())
	common.RespondJSON(w, http.StatusOK, ListResponse{
		Success:  true,
		Elements: elements,
		Count:    len(elements),
	})
}

// SearchElements handles GET /api/elements/search. Every query parameter is
// an equality filter; "type" matches the element type.
func (h *ElementHandler) SearchElements(w http.ResponseWriter, r *http.Request) {
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}

	elements := h.service.Search(r.Context(), filters)
	common.RespondJSON(w, http.StatusOK, ListResponse{
		Success:  true,
		Elements: elements,
		Count:    len(elements),
	})
}

// GetElement handles GET /api/elements/{elementID}
func (h *ElementHandler) GetElement(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	el, err := h.service.GetByID(r.Context(), elementID)
	if err != nil {
		h.respondServiceError(w, err, "failed to retrieve element")
		return
	}

	common.RespondJSON(w, http.StatusOK, ElementResponse{Success: true, Element: el})
}

// CreateElement handles POST /api/elements
func (h *ElementHandler) CreateElement(w http.ResponseWriter, r *http.Request) {
	var in services.CreateElementInput
	if err := common.ParseJSONBody(w, r, &in, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	el, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err, "failed to create element")
		return
	}

	common.RespondJSON(w, http.StatusOK, ElementResponse{Success: true, Element: el})
}

// UpdateElement handles PUT /api/elements/{elementID}
func (h *ElementHandler) UpdateElement(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	var in services.UpdateElementInput
	if err := common.ParseJSONBody(w, r, &in, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	el, err := h.service.Update(r.Context(), elementID, in)
	if err != nil {
		h.respondServiceError(w, err, "failed to update element")
		return
	}

	common.RespondJSON(w, http.StatusOK, ElementResponse{Success: true, Element: el})
}

// DeleteElement handles DELETE /api/elements/{elementID}
func (h *ElementHandler) DeleteElement(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementID")

	if err := h.service.Delete(r.Context(), elementID); err != nil {
		h.respondServiceError(w, err, "failed to delete element")
		return
	}

	common.RespondJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "element deleted",
	})
}

// BatchCreateElements handles POST /api/elements/batch
func (h *ElementHandler) BatchCreateElements(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var inputs []services.CreateElementInput
	if err := json.Unmarshal(req.Elements, &inputs); err != nil {
		common.RespondError(w, http.StatusBadRequest, "elements must be an array")
		return
	}

	created, err := h.service.BatchCreate(r.Context(), inputs)
	if err != nil {
		h.respondServiceError(w, err, "failed to create batch")
		return
	}

	common.RespondJSON(w, http.StatusOK, ListResponse{
		Success:  true,
		Elements: created,
		Count:    len(created),
	})
}

// SyncElements handles POST /api/elements/sync — the client-authoritative
// overwrite of the whole element set.
func (h *ElementHandler) SyncElements(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var rawElements []json.RawMessage
	if err := json.Unmarshal(req.Elements, &rawElements); err != nil {
		common.RespondError(w, http.StatusBadRequest, "elements must be an array")
		return
	}

	result, err := h.service.FullSync(r.Context(), rawElements, req.Timestamp)
	if err != nil {
		h.respondServiceError(w, err, "failed to sync elements")
		return
	}

	common.RespondJSON(w, http.StatusOK, SyncResponse{
		Success:     true,
		Message:     "elements synced",
		Count:       result.Accepted,
		SyncedAt:    result.SyncedAt,
		BeforeCount: result.BeforeCount,
		AfterCount:  result.AfterCount,
	})
}

// ConvertMermaid handles POST /api/mermaid/convert. The server does not
// convert; it relays the diagram to live clients and echoes the payload back
// so the requester can convert directly.
func (h *ElementHandler) ConvertMermaid(w http.ResponseWriter, r *http.Request) {
	var req mermaidRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		common.RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if _, err := h.service.MermaidRelay(r.Context(), req.MermaidDiagram, req.Config); err != nil {
		h.respondServiceError(w, err, "failed to relay conversion")
		return
	}

	common.RespondJSON(w, http.StatusOK, MermaidResponse{
		Success:        true,
		MermaidDiagram: req.MermaidDiagram,
		Config:         req.Config,
		Message:        "conversion request broadcast to connected clients",
	})
}

// Health handles GET /health
func (h *ElementHandler) Health(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		Timestamp:        utils.NowRFC3339(),
		ElementsCount:    h.service.ElementCount(),
		WebsocketClients: h.service.ConnectionCount(),
	})
}

// SyncStatus handles GET /api/sync/status
func (h *ElementHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	common.RespondJSON(w, http.StatusOK, StatusResponse{
		Success:      true,
		ElementCount: h.service.ElementCount(),
		Timestamp:    utils.NowRFC3339(),
		MemoryUsage: map[string]uint64{
			"heapAlloc": mem.HeapAlloc,
			"heapSys":   mem.HeapSys,
			"sys":       mem.Sys,
		},
		WebsocketClients: h.service.ConnectionCount(),
	})
}

// respondServiceError maps a service error onto the wire. Validation and
// not-found surface their own message and status; anything else is reported
// as a generic internal error with detail only in the log.
func (h *ElementHandler) respondServiceError(w http.ResponseWriter, err error, genericMessage string) {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation, apperrors.ErrorTypeNotFound:
			common.RespondError(w, appErr.HTTPStatus, appErr.Message)
			return
		}
	}

	h.logger.Error(genericMessage, zap.Error(err))
	common.RespondError(w, http.StatusInternalServerError, genericMessage)
}
