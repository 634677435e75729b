package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/audit"
	"github.com/optiflow/optiflow-engine/pkg/auth"
	"github.com/optiflow/optiflow-engine/pkg/database"
	"github.com/optiflow/optiflow-engine/pkg/middleware"
	"github.com/optiflow/optiflow-engine/pkg/store"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// TenantMiddleware is a middleware function that places the caller's tenant
// context into the request context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// Query parameters with a meaning of their own; every other parameter is an equality filter.
const (
	takeParam = "take"
	skipParam = "skip"
)

// ============================================================================
// Response Types
// ============================================================================

// EntityListResponse for GET /api/entities/{kind}
type EntityListResponse struct {
	Records []tenant.Record `json:"records"`
	Total   int             `json:"total"`
}

// EntityCountResponse for GET /api/entities/{kind}/count
type EntityCountResponse struct {
	Count int64 `json:"count"`
}

// ============================================================================
// Handler
// ============================================================================

// EntityHandler exposes tenant-scoped CRUD over every governed entity kind.
// Each request runs through a client derived for the caller's tenant context.
type EntityHandler struct {
	client  *store.Client
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewEntityHandler creates a new entity handler. auditor may be nil.
func NewEntityHandler(client *store.Client, auditor *audit.SecurityAuditor, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		client:  client,
		auditor: auditor,
		logger:  logger,
	}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/entities/{kind}"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/count", authMiddleware.RequireAuth(tenantMiddleware(h.Count)))
	mux.HandleFunc("GET "+base+"/aggregate", authMiddleware.RequireAuth(tenantMiddleware(h.Aggregate)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(tenantMiddleware(h.Create)))
	mux.HandleFunc("PATCH "+base+"/{id}", authMiddleware.RequireAuth(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(tenantMiddleware(h.Delete)))
}

// List handles GET /api/entities/{kind}
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionReadMany)
	if !ok {
		return
	}

	take, ok := h.intParam(w, r, takeParam)
	if !ok {
		return
	}
	skip, ok := h.intParam(w, r, skipParam)
	if !ok {
		return
	}

	records, err := c.FindMany(r.Context(), kind, filterFromQuery(r), take, skip)
	if err != nil {
		h.writeStoreError(w, r, kind, "", err)
		return
	}
	if records == nil {
		records = []tenant.Record{}
	}

	h.writeData(w, http.StatusOK, EntityListResponse{Records: records, Total: len(records)})
}

// Count handles GET /api/entities/{kind}/count
func (h *EntityHandler) Count(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionCount)
	if !ok {
		return
	}

	n, err := c.Count(r.Context(), kind, filterFromQuery(r))
	if err != nil {
		h.writeStoreError(w, r, kind, "", err)
		return
	}

	h.writeData(w, http.StatusOK, EntityCountResponse{Count: n})
}

// Aggregate handles GET /api/entities/{kind}/aggregate
func (h *EntityHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionAggregate)
	if !ok {
		return
	}

	agg, err := c.Aggregate(r.Context(), kind, filterFromQuery(r))
	if err != nil {
		h.writeStoreError(w, r, kind, "", err)
		return
	}

	h.writeData(w, http.StatusOK, agg)
}

// Get handles GET /api/entities/{kind}/{id}
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionReadUnique)
	if !ok {
		return
	}
	id := r.PathValue("id")

	rec, err := c.FindUnique(r.Context(), kind, id)
	if err != nil {
		h.writeStoreError(w, r, kind, id, err)
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "not_found", string(kind)+" not found")
		return
	}

	h.writeData(w, http.StatusOK, rec)
}

// Create handles POST /api/entities/{kind}
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionCreate)
	if !ok {
		return
	}

	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	rec, err := c.Create(r.Context(), kind, data)
	if err != nil {
		h.writeStoreError(w, r, kind, "", err)
		return
	}

	h.writeData(w, http.StatusCreated, rec)
}

// Update handles PATCH /api/entities/{kind}/{id}
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionUpdate)
	if !ok {
		return
	}
	id := r.PathValue("id")

	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	if bodyID, present := data[store.FieldID]; present && bodyID != id {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Record id cannot be changed")
		return
	}

	rec, err := c.Update(r.Context(), kind, id, data)
	if err != nil {
		h.writeStoreError(w, r, kind, id, err)
		return
	}

	h.writeData(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/entities/{kind}/{id}
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kind, c, ok := h.scope(w, r, tenant.ActionDelete)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if err := c.Delete(r.Context(), kind, id); err != nil {
		h.writeStoreError(w, r, kind, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// scope resolves the entity kind from the path and returns a client bound to
// the caller's tenant context. Unknown kinds are reported as 404.
func (h *EntityHandler) scope(w http.ResponseWriter, r *http.Request, action tenant.Action) (tenant.EntityKind, *store.Client, bool) {
	kind, err := tenant.ParseEntityKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown entity kind")
		return "", nil, false
	}

	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		h.logger.Error("Missing tenant context in request",
			zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Missing tenant context")
		return "", nil, false
	}

	if tc.IsAdmin && h.auditor != nil {
		h.auditor.LogAdminBypass(r.Context(), string(kind), string(action), middleware.ClientIP(r))
	}

	return kind, h.client.ForTenant(tc), true
}

// filterFromQuery turns query parameters into equality filters.
// "true" and "false" compare as booleans, everything else as strings.
func filterFromQuery(r *http.Request) tenant.Where {
	var where tenant.Where
	for key, values := range r.URL.Query() {
		switch key {
		case takeParam, skipParam, database.IncludePublicParam:
			continue
		}
		if len(values) == 0 {
			continue
		}
		if where == nil {
			where = tenant.Where{}
		}
		switch values[0] {
		case "true":
			where[key] = true
		case "false":
			where[key] = false
		default:
			where[key] = values[0]
		}
	}
	return where
}

func (h *EntityHandler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_parameter", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *EntityHandler) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object")
		return nil, false
	}
	return data, true
}

// writeStoreError maps store errors to responses. Records outside the caller's
// scope are reported exactly like missing ones.
func (h *EntityHandler) writeStoreError(w http.ResponseWriter, r *http.Request, kind tenant.EntityKind, id string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFoundOrForbidden):
		if h.auditor != nil {
			h.auditor.LogScopeDenied(r.Context(), string(kind), id, middleware.ClientIP(r))
		}
		h.writeError(w, http.StatusNotFound, "not_found", string(kind)+" not found")
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrUnknownEntity):
		h.writeError(w, http.StatusNotFound, "not_found", string(kind)+" not found")
	case errors.Is(err, apperrors.ErrInvalidArg):
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", string(kind)+" already exists")
	case errors.Is(err, apperrors.ErrInconsistentState):
		h.logger.Error("Record changed but could not be read back",
			zap.String("entity", string(kind)),
			zap.String("id", id),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "inconsistent_state", "Record could not be read back")
	default:
		h.logger.Error("Entity operation failed",
			zap.String("entity", string(kind)),
			zap.String("method", r.Method),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Entity operation failed")
	}
}

func (h *EntityHandler) writeData(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EntityHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
