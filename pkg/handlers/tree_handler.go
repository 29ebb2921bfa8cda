package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// CreateCategoryRequest is the body of POST /categories. A nil parent creates a root.
type CreateCategoryRequest struct {
	Name     string     `json:"name"`
	Type     string     `json:"type,omitempty"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

// RenameCategoryRequest is the body of PUT /categories/{cid}.
type RenameCategoryRequest struct {
	Name string `json:"name"`
}

// TreeResponse for GET /tree
type TreeResponse struct {
	Categories []*models.Category `json:"categories"`
}

// FlatTreeResponse for GET /tree/flat
type FlatTreeResponse struct {
	Categories []preference.FlatCategory `json:"categories"`
}

// TreeHandler handles category tree HTTP requests.
type TreeHandler struct {
	tree   services.TreeService
	access *Access
	logger *zap.Logger
}

// NewTreeHandler creates a new tree handler.
func NewTreeHandler(tree services.TreeService, access *Access, logger *zap.Logger) *TreeHandler {
	return &TreeHandler{
		tree:   tree,
		access: access,
		logger: logger,
	}
}

// RegisterRoutes registers the tree handler's routes on the given mux.
func (h *TreeHandler) RegisterRoutes(mux *http.ServeMux, owner OwnerMiddleware) {
	base := "/api/users/{uid}/identities/{iid}"

	mux.HandleFunc("GET "+base+"/tree", owner(h.Get))
	mux.HandleFunc("GET "+base+"/tree/flat", owner(h.Flat))
	mux.HandleFunc("POST "+base+"/categories", owner(h.CreateCategory))
	mux.HandleFunc("GET "+base+"/categories/{cid}", owner(h.GetCategory))
	mux.HandleFunc("PUT "+base+"/categories/{cid}", owner(h.RenameCategory))
	mux.HandleFunc("DELETE "+base+"/categories/{cid}", owner(h.DeleteCategory))
}

// Get handles GET /api/users/{uid}/identities/{iid}/tree
func (h *TreeHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}

	roots, err := h.tree.ListTree(r.Context(), identity.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to load tree")
		return
	}
	if roots == nil {
		roots = []*models.Category{}
	}

	writeData(w, http.StatusOK, TreeResponse{Categories: roots}, h.logger)
}

// Flat handles GET /api/users/{uid}/identities/{iid}/tree/flat
func (h *TreeHandler) Flat(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}

	flat, err := h.tree.FlattenTree(r.Context(), identity.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to flatten tree")
		return
	}
	if flat == nil {
		flat = []preference.FlatCategory{}
	}

	writeData(w, http.StatusOK, FlatTreeResponse{Categories: flat}, h.logger)
}

// CreateCategory handles POST /api/users/{uid}/identities/{iid}/categories
func (h *TreeHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req CreateCategoryRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	category, err := h.tree.CreateCategory(r.Context(), identity.ID, req.ParentID, req.Name, req.Type)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to create category")
		return
	}

	writeData(w, http.StatusCreated, category, h.logger)
}

// GetCategory handles GET /api/users/{uid}/identities/{iid}/categories/{cid}
func (h *TreeHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, category, h.logger)
}

// RenameCategory handles PUT /api/users/{uid}/identities/{iid}/categories/{cid}
func (h *TreeHandler) RenameCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req RenameCategoryRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	renamed, err := h.tree.RenameCategory(r.Context(), category.ID, req.Name)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to rename category")
		return
	}

	writeData(w, http.StatusOK, renamed, h.logger)
}

// DeleteCategory handles DELETE /api/users/{uid}/identities/{iid}/categories/{cid}.
// The category's descendants and all their influences are removed with it.
func (h *TreeHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}

	deletion, err := h.tree.DeleteCategory(r.Context(), category.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to delete category")
		return
	}

	writeData(w, http.StatusOK, deletion, h.logger)
}
