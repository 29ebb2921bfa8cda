package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// InfluenceResponse adds the display tier to a stored influence.
type InfluenceResponse struct {
	*models.Influence
	Tier models.AlignmentTier `json:"tier"`
}

// InfluenceListResponse for GET /influences
type InfluenceListResponse struct {
	Influences []InfluenceResponse `json:"influences"`
	Total      int                 `json:"total"`
}

// InsertInfluenceRequest is the body of POST /influences. Position defaults
// to the end of the list; out-of-range values are clamped.
type InsertInfluenceRequest struct {
	Name      string   `json:"name"`
	Alignment float64  `json:"alignment"`
	Position  *int     `json:"position,omitempty"`
	MoodTags  []string `json:"mood_tags,omitempty"`
}

// ReplaceInfluencesRequest is the body of PUT /influences. Position = index.
type ReplaceInfluencesRequest struct {
	Influences []*models.Influence `json:"influences"`
}

// ReorderRequest is the body of POST /influences/reorder.
type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// DistasteRequest is the body of POST /influences/distaste.
type DistasteRequest struct {
	Name string `json:"name"`
}

// UpdateInfluenceRequest is the body of PATCH /influences/{fid}. Absent fields are unchanged.
type UpdateInfluenceRequest struct {
	Name      *string  `json:"name,omitempty"`
	Alignment *float64 `json:"alignment,omitempty"`
}

// CopyInfluenceRequest is the body of POST /influences/{fid}/copy.
type CopyInfluenceRequest struct {
	TargetCategoryID uuid.UUID `json:"target_category_id"`
}

// AggregateResponse for GET /aggregate
type AggregateResponse struct {
	Influences []AggregatedInfluenceResponse `json:"influences"`
	Total      int                           `json:"total"`
}

// AggregatedInfluenceResponse is an aggregated item with its display tier.
type AggregatedInfluenceResponse struct {
	preference.AggregatedInfluence
	Tier models.AlignmentTier `json:"tier"`
}

// ApplyAggregateRequest is the body of PUT /aggregate.
type ApplyAggregateRequest struct {
	Influences []preference.AggregatedInfluence `json:"influences"`
}

// InfluenceHandler handles ranked influence list and aggregate HTTP requests.
type InfluenceHandler struct {
	ledger     services.LedgerService
	aggregator services.AggregatorService
	access     *Access
	logger     *zap.Logger
}

// NewInfluenceHandler creates a new influence handler.
func NewInfluenceHandler(
	ledger services.LedgerService,
	aggregator services.AggregatorService,
	access *Access,
	logger *zap.Logger,
) *InfluenceHandler {
	return &InfluenceHandler{
		ledger:     ledger,
		aggregator: aggregator,
		access:     access,
		logger:     logger,
	}
}

// RegisterRoutes registers the influence handler's routes on the given mux.
func (h *InfluenceHandler) RegisterRoutes(mux *http.ServeMux, owner OwnerMiddleware) {
	base := "/api/users/{uid}/identities/{iid}/categories/{cid}"

	mux.HandleFunc("GET "+base+"/influences", owner(h.List))
	mux.HandleFunc("POST "+base+"/influences", owner(h.Insert))
	mux.HandleFunc("PUT "+base+"/influences", owner(h.Replace))
	mux.HandleFunc("POST "+base+"/influences/reorder", owner(h.Reorder))
	mux.HandleFunc("POST "+base+"/influences/distaste", owner(h.Distaste))
	mux.HandleFunc("PATCH "+base+"/influences/{fid}", owner(h.Update))
	mux.HandleFunc("DELETE "+base+"/influences/{fid}", owner(h.Delete))
	mux.HandleFunc("POST "+base+"/influences/{fid}/copy", owner(h.Copy))
	mux.HandleFunc("GET "+base+"/aggregate", owner(h.Aggregate))
	mux.HandleFunc("PUT "+base+"/aggregate", owner(h.ApplyAggregate))
}

func withTiers(list []*models.Influence) InfluenceListResponse {
	out := make([]InfluenceResponse, len(list))
	for i, inf := range list {
		out[i] = InfluenceResponse{Influence: inf, Tier: models.Tier(inf.Alignment)}
	}
	return InfluenceListResponse{Influences: out, Total: len(out)}
}

// List handles GET .../categories/{cid}/influences
func (h *InfluenceHandler) List(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}

	list, err := h.ledger.List(r.Context(), category.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list influences")
		return
	}

	writeData(w, http.StatusOK, withTiers(list), h.logger)
}

// Insert handles POST .../categories/{cid}/influences
func (h *InfluenceHandler) Insert(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req InsertInfluenceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	position := services.EndOfList
	if req.Position != nil {
		position = *req.Position
	}
	influence, err := h.ledger.InsertAt(r.Context(), category.ID, &models.Influence{
		Name:      req.Name,
		Alignment: req.Alignment,
		MoodTags:  req.MoodTags,
	}, position)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to insert influence")
		return
	}

	writeData(w, http.StatusCreated, InfluenceResponse{Influence: influence, Tier: models.Tier(influence.Alignment)}, h.logger)
}

// Replace handles PUT .../categories/{cid}/influences
func (h *InfluenceHandler) Replace(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req ReplaceInfluencesRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	for i, inf := range req.Influences {
		if inf == nil {
			req.Influences[i] = &models.Influence{}
		}
	}

	list, err := h.ledger.ReplaceAll(r.Context(), category.ID, req.Influences)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to replace influences")
		return
	}

	writeData(w, http.StatusOK, withTiers(list), h.logger)
}

// Reorder handles POST .../categories/{cid}/influences/reorder
func (h *InfluenceHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req ReorderRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	list, err := h.ledger.Reorder(r.Context(), category.ID, req.From, req.To)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to reorder influences")
		return
	}

	writeData(w, http.StatusOK, withTiers(list), h.logger)
}

// Distaste handles POST .../categories/{cid}/influences/distaste
func (h *InfluenceHandler) Distaste(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req DistasteRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	influence, err := h.ledger.RecordDistaste(r.Context(), category.ID, req.Name)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to record distaste")
		return
	}

	writeData(w, http.StatusCreated, InfluenceResponse{Influence: influence, Tier: models.Tier(influence.Alignment)}, h.logger)
}

// Update handles PATCH .../categories/{cid}/influences/{fid}
func (h *InfluenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	_, influence, ok := h.access.Influence(w, r)
	if !ok {
		return
	}
	var req UpdateInfluenceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	var err error
	if req.Name != nil {
		if influence, err = h.ledger.Rename(r.Context(), influence.ID, *req.Name); err != nil {
			WriteServiceError(w, err, h.logger, "Failed to rename influence")
			return
		}
	}
	if req.Alignment != nil {
		if influence, err = h.ledger.SetAlignment(r.Context(), influence.ID, *req.Alignment); err != nil {
			WriteServiceError(w, err, h.logger, "Failed to set alignment")
			return
		}
	}

	writeData(w, http.StatusOK, InfluenceResponse{Influence: influence, Tier: models.Tier(influence.Alignment)}, h.logger)
}

// Delete handles DELETE .../categories/{cid}/influences/{fid}
func (h *InfluenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	_, influence, ok := h.access.Influence(w, r)
	if !ok {
		return
	}

	if err := h.ledger.Remove(r.Context(), influence.ID); err != nil {
		WriteServiceError(w, err, h.logger, "Failed to remove influence")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"deleted": influence.ID.String()}, h.logger)
}

// Copy handles POST .../categories/{cid}/influences/{fid}/copy
func (h *InfluenceHandler) Copy(w http.ResponseWriter, r *http.Request) {
	category, influence, ok := h.access.Influence(w, r)
	if !ok {
		return
	}
	var req CopyInfluenceRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	target, ok := h.access.CategoryOf(w, r, category.IdentityID, req.TargetCategoryID)
	if !ok {
		return
	}

	copied, err := h.ledger.CopyToCategory(r.Context(), influence.ID, target.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to copy influence")
		return
	}

	writeData(w, http.StatusCreated, InfluenceResponse{Influence: copied, Tier: models.Tier(copied.Alignment)}, h.logger)
}

func aggregateResponse(items []preference.AggregatedInfluence) AggregateResponse {
	out := make([]AggregatedInfluenceResponse, len(items))
	for i, it := range items {
		out[i] = AggregatedInfluenceResponse{AggregatedInfluence: it, Tier: models.Tier(it.Alignment)}
	}
	return AggregateResponse{Influences: out, Total: len(out)}
}

// Aggregate handles GET .../categories/{cid}/aggregate
func (h *InfluenceHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}

	items, err := h.aggregator.Aggregate(r.Context(), category.ID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to aggregate influences")
		return
	}

	writeData(w, http.StatusOK, aggregateResponse(items), h.logger)
}

// ApplyAggregate handles PUT .../categories/{cid}/aggregate
func (h *InfluenceHandler) ApplyAggregate(w http.ResponseWriter, r *http.Request) {
	category, ok := h.access.Category(w, r)
	if !ok {
		return
	}
	var req ApplyAggregateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	items, err := h.aggregator.ApplyAggregatedEdit(r.Context(), category.ID, req.Influences)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to apply aggregated edit")
		return
	}

	writeData(w, http.StatusOK, aggregateResponse(items), h.logger)
}
