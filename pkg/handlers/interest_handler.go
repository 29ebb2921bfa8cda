package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// CategorizeInterestRequest is the body of POST /interests/categorize.
type CategorizeInterestRequest struct {
	Text             string     `json:"text"`
	SourceCategoryID *uuid.UUID `json:"source_category_id,omitempty"`
}

// SaveInterestRequest is the body of POST /interests. The identity comes from the path.
type SaveInterestRequest struct {
	CategoryID      *uuid.UUID `json:"category_id,omitempty"`
	NewCategoryName string     `json:"new_category_name,omitempty"`
	NewCategoryType string     `json:"new_category_type,omitempty"`
	Name            string     `json:"name"`
	Alignment       *float64   `json:"alignment,omitempty"`
	Position        *int       `json:"position,omitempty"`
}

// SuggestCategoriesRequest is the body of POST /categories/suggest.
type SuggestCategoriesRequest struct {
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

// SuggestCategoriesResponse for POST /categories/suggest
type SuggestCategoriesResponse struct {
	Suggestions []models.CategorySuggestion `json:"suggestions"`
}

// InterestHandler exposes the add-interest steps that need the server:
// categorization, suggestions and the final save. Flow state lives in the client.
type InterestHandler struct {
	interests services.AddInterestService
	access    *Access
	logger    *zap.Logger
}

// NewInterestHandler creates a new interest handler.
func NewInterestHandler(interests services.AddInterestService, access *Access, logger *zap.Logger) *InterestHandler {
	return &InterestHandler{
		interests: interests,
		access:    access,
		logger:    logger,
	}
}

// RegisterRoutes registers the interest handler's routes on the given mux.
func (h *InterestHandler) RegisterRoutes(mux *http.ServeMux, owner OwnerMiddleware) {
	base := "/api/users/{uid}/identities/{iid}"

	mux.HandleFunc("POST "+base+"/interests/categorize", owner(h.Categorize))
	mux.HandleFunc("POST "+base+"/interests", owner(h.Save))
	mux.HandleFunc("POST "+base+"/categories/suggest", owner(h.Suggest))
}

// Categorize handles POST .../interests/categorize
func (h *InterestHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req CategorizeInterestRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.SourceCategoryID != nil {
		if _, ok := h.access.CategoryOf(w, r, identity.ID, *req.SourceCategoryID); !ok {
			return
		}
	}

	result, err := h.interests.Categorize(r.Context(), identity.ID, req.Text, req.SourceCategoryID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to categorize interest")
		return
	}

	writeData(w, http.StatusOK, result, h.logger)
}

// Save handles POST .../interests
func (h *InterestHandler) Save(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req SaveInterestRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.interests.SaveInterest(r.Context(), &services.SaveInterestRequest{
		IdentityID:      identity.ID,
		CategoryID:      req.CategoryID,
		NewCategoryName: req.NewCategoryName,
		NewCategoryType: req.NewCategoryType,
		Name:            req.Name,
		Alignment:       req.Alignment,
		Position:        req.Position,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to save interest")
		return
	}

	writeData(w, http.StatusCreated, result, h.logger)
}

// Suggest handles POST .../categories/suggest
func (h *InterestHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	var req SuggestCategoriesRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req, h.logger) {
		return
	}

	suggestions, err := h.interests.Suggest(r.Context(), identity.ID, req.ParentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to suggest categories")
		return
	}
	if suggestions == nil {
		suggestions = []models.CategorySuggestion{}
	}

	writeData(w, http.StatusOK, SuggestCategoriesResponse{Suggestions: suggestions}, h.logger)
}
