package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// Access resolves path ids and checks that each one belongs to its parent:
// identity to user, category to identity, influence to category. A mismatch is
// reported as not found.
type Access struct {
	identities services.IdentityService
	tree       services.TreeService
	ledger     services.LedgerService
	logger     *zap.Logger
}

// NewAccess creates the shared path resolver.
func NewAccess(identities services.IdentityService, tree services.TreeService, ledger services.LedgerService, logger *zap.Logger) *Access {
	return &Access{identities: identities, tree: tree, ledger: ledger, logger: logger}
}

// Identity resolves {uid} and {iid}.
func (a *Access) Identity(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	userID, ok := ParseUserID(w, r, a.logger)
	if !ok {
		return nil, false
	}
	identityID, ok := ParseIdentityID(w, r, a.logger)
	if !ok {
		return nil, false
	}
	identity, err := a.identities.Get(r.Context(), userID, identityID)
	if err != nil {
		WriteServiceError(w, err, a.logger, "Failed to load identity")
		return nil, false
	}
	return identity, true
}

// Category resolves {uid}, {iid} and {cid}.
func (a *Access) Category(w http.ResponseWriter, r *http.Request) (*models.Category, bool) {
	identity, ok := a.Identity(w, r)
	if !ok {
		return nil, false
	}
	categoryID, ok := ParseCategoryID(w, r, a.logger)
	if !ok {
		return nil, false
	}
	return a.CategoryOf(w, r, identity.ID, categoryID)
}

// CategoryOf loads categoryID and checks it belongs to identityID.
func (a *Access) CategoryOf(w http.ResponseWriter, r *http.Request, identityID, categoryID uuid.UUID) (*models.Category, bool) {
	category, err := a.tree.GetCategory(r.Context(), categoryID)
	if err == nil && category.IdentityID != identityID {
		err = apperrors.ErrNotFound
	}
	if err != nil {
		WriteServiceError(w, err, a.logger, "Failed to load category")
		return nil, false
	}
	return category, true
}

// Influence resolves {uid}, {iid}, {cid} and {fid}.
func (a *Access) Influence(w http.ResponseWriter, r *http.Request) (*models.Category, *models.Influence, bool) {
	category, ok := a.Category(w, r)
	if !ok {
		return nil, nil, false
	}
	influenceID, ok := ParseInfluenceID(w, r, a.logger)
	if !ok {
		return nil, nil, false
	}
	influence, err := a.ledger.Get(r.Context(), influenceID)
	if err == nil && influence.CategoryID != category.ID {
		err = apperrors.ErrNotFound
	}
	if err != nil {
		WriteServiceError(w, err, a.logger, "Failed to load influence")
		return nil, nil, false
	}
	return category, influence, true
}
