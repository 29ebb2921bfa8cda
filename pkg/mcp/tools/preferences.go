// Package tools provides the read-only MCP tools recommendation engines use to
// fetch served preferences.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// OwnerScoper opens an owner-scoped connection. Satisfied by *database.DB.
type OwnerScoper interface {
	WithOwner(ctx context.Context, userID uuid.UUID) (*database.OwnerScope, error)
}

// PreferenceToolDeps contains dependencies for preference tools.
type PreferenceToolDeps struct {
	DB          OwnerScoper
	Identities  services.IdentityService
	Tree        services.TreeService
	Preferences services.PreferenceService
	Logger      *zap.Logger
}

// RegisterPreferenceTools registers the preference read tools.
func RegisterPreferenceTools(s *server.MCPServer, deps *PreferenceToolDeps) {
	registerListIdentitiesTool(s, deps)
	registerListCategoriesTool(s, deps)
	registerServedPreferencesTool(s, deps)
	registerPreferenceSummaryTool(s, deps)
}

type identityResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	IsBase bool      `json:"is_base"`
}

type categoryResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	Depth int       `json:"depth"`
	Path  string    `json:"path"`
}

type servedResponse struct {
	IdentityID  uuid.UUID                 `json:"identity_id"`
	CategoryID  *uuid.UUID                `json:"category_id,omitempty"`
	Threshold   float64                   `json:"threshold"`
	Preferences []models.ServedPreference `json:"preferences"`
	Total       int                       `json:"total"`
}

func readOnlyTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append([]mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("UUID of the user who owns the preferences")),
	}, opts...)
	return mcp.NewTool(name, opts...)
}

func withIdentityArg() mcp.ToolOption {
	return mcp.WithString("identity_id", mcp.Description("Identity UUID. Defaults to the user's base identity."))
}

// ownerContext opens an owner-scoped connection for the user named in the request.
// A nil cleanup means the returned result should be sent to the caller as-is.
func ownerContext(ctx context.Context, deps *PreferenceToolDeps, req mcp.CallToolRequest) (context.Context, uuid.UUID, func(), *mcp.CallToolResult, error) {
	userID, err := requiredUUID(req, "user_id")
	if err != nil {
		return nil, uuid.Nil, nil, NewErrorResult(CodeInvalidInput, err.Error()), nil
	}

	scope, err := deps.DB.WithOwner(ctx, userID)
	if err != nil {
		deps.Logger.Error("Failed to acquire owner connection",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, uuid.Nil, nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	return database.SetOwnerScope(ctx, scope), userID, scope.Close, nil, nil
}

// resolveIdentity returns the requested identity or the user's base identity.
// Identities owned by another user are reported as not found.
func resolveIdentity(ctx context.Context, deps *PreferenceToolDeps, userID uuid.UUID, req mcp.CallToolRequest) (*models.Identity, *mcp.CallToolResult, error) {
	identityID, err := optionalUUID(req, "identity_id")
	if err != nil {
		return nil, NewErrorResult(CodeInvalidInput, err.Error()), nil
	}

	if identityID != nil {
		identity, err := deps.Identities.Get(ctx, userID, *identityID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, NewErrorResult(CodeIdentityNotFound, "no identity with that id for this user"), nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get identity: %w", err)
		}
		return identity, nil, nil
	}

	identities, err := deps.Identities.List(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list identities: %w", err)
	}
	for _, identity := range identities {
		if identity.IsBase {
			return identity, nil, nil
		}
	}
	return nil, NewErrorResult(CodeIdentityNotFound, "user has no base identity"), nil
}

// resolveCategory checks that an optional category belongs to the identity.
func resolveCategory(ctx context.Context, deps *PreferenceToolDeps, identity *models.Identity, req mcp.CallToolRequest) (*uuid.UUID, *mcp.CallToolResult, error) {
	categoryID, err := optionalUUID(req, "category_id")
	if err != nil {
		return nil, NewErrorResult(CodeInvalidInput, err.Error()), nil
	}
	if categoryID == nil {
		return nil, nil, nil
	}

	category, err := deps.Tree.GetCategory(ctx, *categoryID)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && category.IdentityID != identity.ID) {
		return nil, NewErrorResult(CodeCategoryNotFound, "no category with that id in this identity"), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get category: %w", err)
	}
	return categoryID, nil, nil
}

func registerListIdentitiesTool(s *server.MCPServer, deps *PreferenceToolDeps) {
	tool := readOnlyTool("list_identities",
		"List the identities (personas) of a user. The base identity is the default for every other tool.")

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, userID, cleanup, errResult, err := ownerContext(ctx, deps, req)
		if errResult != nil || err != nil {
			return errResult, err
		}
		defer cleanup()

		identities, err := deps.Identities.List(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities: %w", err)
		}

		out := make([]identityResponse, 0, len(identities))
		for _, identity := range identities {
			out = append(out, identityResponse{ID: identity.ID, Name: identity.Name, IsBase: identity.IsBase})
		}
		return jsonResult(struct {
			Identities []identityResponse `json:"identities"`
			Count      int                `json:"count"`
		}{out, len(out)})
	})
}

func registerListCategoriesTool(s *server.MCPServer, deps *PreferenceToolDeps) {
	tool := readOnlyTool("list_categories",
		"List an identity's preference categories depth-first with their full paths, e.g. 'Music > Jazz'. "+
			"Use a category id with served_preferences to narrow results to that subtree.",
		withIdentityArg())

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, userID, cleanup, errResult, err := ownerContext(ctx, deps, req)
		if errResult != nil || err != nil {
			return errResult, err
		}
		defer cleanup()

		identity, errResult, err := resolveIdentity(ctx, deps, userID, req)
		if errResult != nil || err != nil {
			return errResult, err
		}

		flat, err := deps.Tree.FlattenTree(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to flatten tree: %w", err)
		}

		out := make([]categoryResponse, 0, len(flat))
		for _, fc := range flat {
			out = append(out, categoryResponse{
				ID:    fc.Category.ID,
				Name:  fc.Category.Name,
				Type:  fc.Category.Type,
				Depth: fc.Depth,
				Path:  fc.Path,
			})
		}
		return jsonResult(struct {
			IdentityID uuid.UUID          `json:"identity_id"`
			Categories []categoryResponse `json:"categories"`
			Count      int                `json:"count"`
		}{identity.ID, out, len(out)})
	})
}

func registerServedPreferencesTool(s *server.MCPServer, deps *PreferenceToolDeps) {
	tool := readOnlyTool("served_preferences",
		"Get the influences a user wants acted on, strongest first. "+
			"Only influences at or above the serving threshold are returned. "+
			"Omit category_id for the whole identity; pass one to restrict to that category and its subcategories.",
		withIdentityArg(),
		mcp.WithString("category_id", mcp.Description("Optional category UUID to restrict to a subtree")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of preferences to return (default: all)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, userID, cleanup, errResult, err := ownerContext(ctx, deps, req)
		if errResult != nil || err != nil {
			return errResult, err
		}
		defer cleanup()

		identity, errResult, err := resolveIdentity(ctx, deps, userID, req)
		if errResult != nil || err != nil {
			return errResult, err
		}
		categoryID, errResult, err := resolveCategory(ctx, deps, identity, req)
		if errResult != nil || err != nil {
			return errResult, err
		}

		limit := 0
		if v, ok := getOptionalFloat(req, "limit"); ok {
			if v < 0 {
				return NewErrorResult(CodeInvalidInput, "limit must not be negative"), nil
			}
			limit = int(v)
		}

		served, err := deps.Preferences.Served(ctx, identity.ID, categoryID)
		if err != nil {
			return nil, fmt.Errorf("failed to get served preferences: %w", err)
		}

		total := len(served)
		if limit > 0 && limit < total {
			served = served[:limit]
		}
		if served == nil {
			served = []models.ServedPreference{}
		}

		return jsonResult(servedResponse{
			IdentityID:  identity.ID,
			CategoryID:  categoryID,
			Threshold:   deps.Preferences.Threshold(),
			Preferences: served,
			Total:       total,
		})
	})
}

func registerPreferenceSummaryTool(s *server.MCPServer, deps *PreferenceToolDeps) {
	tool := readOnlyTool("preference_summary",
		"Get an overview of an identity's preferences: per root category served and total counts, "+
			"alignment tier histograms and the top served influences.",
		withIdentityArg())

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, userID, cleanup, errResult, err := ownerContext(ctx, deps, req)
		if errResult != nil || err != nil {
			return errResult, err
		}
		defer cleanup()

		identity, errResult, err := resolveIdentity(ctx, deps, userID, req)
		if errResult != nil || err != nil {
			return errResult, err
		}

		summary, err := deps.Preferences.Summary(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to build summary: %w", err)
		}
		return jsonResult(summary)
	})
}
