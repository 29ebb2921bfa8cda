package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// ServedResponse for GET /preferences
type ServedResponse struct {
	Threshold   float64                   `json:"threshold"`
	Preferences []models.ServedPreference `json:"preferences"`
	Total       int                       `json:"total"`
}

// PartitionResponse for GET /preferences/partition
type PartitionResponse struct {
	Threshold   float64             `json:"threshold"`
	Served      []InfluenceResponse `json:"served"`
	Unserved    []InfluenceResponse `json:"unserved"`
	ServedCount int                 `json:"served_count"`
	TotalCount  int                 `json:"total_count"`
}

// PreferenceHandler serves the read side consumed by recommendation engines.
type PreferenceHandler struct {
	preferences services.PreferenceService
	access      *Access
	logger      *zap.Logger
}

// NewPreferenceHandler creates a new preference handler.
func NewPreferenceHandler(preferences services.PreferenceService, access *Access, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		preferences: preferences,
		access:      access,
		logger:      logger,
	}
}

// RegisterRoutes registers the preference handler's routes on the given mux.
func (h *PreferenceHandler) RegisterRoutes(mux *http.ServeMux, owner OwnerMiddleware) {
	base := "/api/users/{uid}/identities/{iid}/preferences"

	mux.HandleFunc("GET "+base, owner(h.Served))
	mux.HandleFunc("GET "+base+"/partition", owner(h.Partition))
	mux.HandleFunc("GET "+base+"/summary", owner(h.Summary))
}

// Served handles GET .../preferences?category_id=&limit=
// The limit applies after sorting, so it keeps the strongest preferences.
func (h *PreferenceHandler) Served(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	categoryID, ok := parseOptionalUUIDQuery(w, r, "category_id", h.logger)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, h.logger)
	if !ok {
		return
	}

	served, err := h.preferences.Served(r.Context(), identity.ID, categoryID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to load served preferences")
		return
	}
	total := len(served)
	if limit > 0 && limit < len(served) {
		served = served[:limit]
	}
	if served == nil {
		served = []models.ServedPreference{}
	}

	writeData(w, http.StatusOK, ServedResponse{
		Threshold:   h.preferences.Threshold(),
		Preferences: served,
		Total:       total,
	}, h.logger)
}

// Partition handles GET .../preferences/partition?category_id=
func (h *PreferenceHandler) Partition(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}
	categoryID, ok := parseOptionalUUIDQuery(w, r, "category_id", h.logger)
	if !ok {
		return
	}

	p, err := h.preferences.Partition(r.Context(), identity.ID, categoryID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to partition preferences")
		return
	}

	writeData(w, http.StatusOK, PartitionResponse{
		Threshold:   h.preferences.Threshold(),
		Served:      withTiers(p.Served).Influences,
		Unserved:    withTiers(p.Unserved).Influences,
		ServedCount: p.ServedCount,
		TotalCount:  p.TotalCount,
	}, h.logger)
}

// Summary handles GET .../preferences/summary
func (h *PreferenceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.access.Identity(w, r)
	if !ok {
		return
	}

	summary, err := h.preferences.Summary(r.Context(), identity.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to build preference summary")
		return
	}

	writeData(w, http.StatusOK, summary, h.logger)
}
