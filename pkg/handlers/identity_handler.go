package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// IdentityRequest is the body of POST and PUT /identities.
type IdentityRequest struct {
	Name               string            `json:"name"`
	IsBase             bool              `json:"is_base,omitempty"`
	Location           *models.Location  `json:"location,omitempty"`
	PhysicalAttributes map[string]string `json:"physical_attributes,omitempty"`
}

// CloneIdentityRequest is the body of POST /identities/{iid}/clone.
type CloneIdentityRequest struct {
	Name string `json:"name,omitempty"`
}

// IdentityListResponse for GET /identities
type IdentityListResponse struct {
	Identities []*models.Identity `json:"identities"`
	Total      int                `json:"total"`
}

// IdentityHandler handles identity lifecycle HTTP requests.
type IdentityHandler struct {
	identities services.IdentityService
	access     *Access
	logger     *zap.Logger
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(identities services.IdentityService, access *Access, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		identities: identities,
		access:     access,
		logger:     logger,
	}
}

// RegisterRoutes registers the identity handler's routes on the given mux.
func (h *IdentityHandler) RegisterRoutes(mux *http.ServeMux, owner OwnerMiddleware) {
	base := "/api/users/{uid}/identities"

	mux.HandleFunc("GET "+base, owner(h.List))
	mux.HandleFunc("POST "+base, owner(h.Create))
	mux.HandleFunc("POST "+base+"/base", owner(h.EnsureBase))
	mux.HandleFunc("GET "+base+"/{iid}", owner(h.Get))
	mux.HandleFunc("PUT "+base+"/{iid}", owner(h.Update))
	mux.HandleFunc("DELETE "+base+"/{iid}", owner(h.Delete))
	mux.HandleFunc("POST "+base+"/{iid}/base", owner(h.SetBase))
	mux.HandleFunc("POST "+base+"/{iid}/clone", owner(h.Clone))
}

// List handles GET /api/users/{uid}/identities
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	identities, err := h.identities.List(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list identities")
		return
	}
	if identities == nil {
		identities = []*models.Identity{}
	}

	writeData(w, http.StatusOK, IdentityListResponse{Identities: identities, Total: len(identities)}, h.logger)
}

// Create handles POST /api/users/{uid}/identities
func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}
	var req IdentityRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	identity, err := h.identities.Create(r.Context(), userID, &models.Identity{
		Name:               req.Name,
		IsBase:             req.IsBase,
		Location:           req.Location,
		PhysicalAttributes: req.PhysicalAttributes,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to create identity")
		return
	}

	writeData(w, http.StatusCreated, identity, h.logger)
}

// EnsureBase handles POST /api/users/{uid}/identities/base (onboarding).
func (h *IdentityHandler) EnsureBase(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	identity, err := h.identities.EnsureBase(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to ensure base identity")
		return
	}

	writeData(w, http.StatusOK, identity, h.logger)
}

// Get handles GET /api/users/{uid}/identities/{iid}
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, identity, h.logger)
}

// Update handles PUT /api/users/{uid}/identities/{iid}
func (h *IdentityHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req IdentityRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	identity.Name = req.Name
	identity.Location = req.Location
	identity.PhysicalAttributes = req.PhysicalAttributes
	updated, err := h.identities.Update(r.Context(), identity.UserID, identity)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to update identity")
		return
	}

	writeData(w, http.StatusOK, updated, h.logger)
}

// Delete handles DELETE /api/users/{uid}/identities/{iid}
func (h *IdentityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}

	if err := h.identities.Delete(r.Context(), identity.UserID, identity.ID); err != nil {
		WriteServiceError(w, err, h.logger, "Failed to delete identity")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"deleted": identity.ID.String()}, h.logger)
}

// SetBase handles POST /api/users/{uid}/identities/{iid}/base
func (h *IdentityHandler) SetBase(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}

	if err := h.identities.SetBase(r.Context(), identity.UserID, identity.ID); err != nil {
		WriteServiceError(w, err, h.logger, "Failed to set base identity")
		return
	}
	identity.IsBase = true

	writeData(w, http.StatusOK, identity, h.logger)
}

// Clone handles POST /api/users/{uid}/identities/{iid}/clone
func (h *IdentityHandler) Clone(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req CloneIdentityRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req, h.logger) {
		return
	}

	clone, err := h.identities.Clone(r.Context(), identity.UserID, identity.ID, req.Name)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to clone identity")
		return
	}

	writeData(w, http.StatusCreated, clone, h.logger)
}
