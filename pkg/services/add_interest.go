package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// FlowState is a step of the add-interest flow.
type FlowState string

const (
	FlowInput           FlowState = "input"
	FlowCategorizing    FlowState = "categorizing"
	FlowConfirmCategory FlowState = "confirm_category"
	FlowPickCategory    FlowState = "pick_category"
	FlowAlignment       FlowState = "alignment"
	FlowSaving          FlowState = "saving"
	FlowDone            FlowState = "done"
)

// FlowOptions describe where an add-interest flow was started from.
type FlowOptions struct {
	// SourceCategoryID is the category the user was viewing, used as a classifier hint.
	SourceCategoryID *uuid.UUID
	// Negative starts the flow from "not for me" feedback; alignment defaults to 0.
	Negative bool
}

// SaveInterestRequest stores one influence, creating its root category first when
// CategoryID is nil. Alignment defaults to 85 and Position to the end of the list.
type SaveInterestRequest struct {
	IdentityID      uuid.UUID  `json:"identity_id"`
	CategoryID      *uuid.UUID `json:"category_id,omitempty"`
	NewCategoryName string     `json:"new_category_name,omitempty"`
	NewCategoryType string     `json:"new_category_type,omitempty"`
	Name            string     `json:"name"`
	Alignment       *float64   `json:"alignment,omitempty"`
	Position        *int       `json:"position,omitempty"`
}

// SaveInterestResult reports what a save wrote.
type SaveInterestResult struct {
	Category        *models.Category  `json:"category"`
	Influence       *models.Influence `json:"influence"`
	CreatedCategory bool              `json:"created_category"`
}

// AddInterestService turns free text into a placed, weighted influence.
type AddInterestService interface {
	// NewFlow starts an interactive flow in the input state.
	NewFlow(ctx context.Context, identityID uuid.UUID, opts FlowOptions) (*AddInterestFlow, error)

	// Categorize asks the classifier where text belongs. A returned categoryId that
	// does not resolve in the identity's tree is reported as new.
	Categorize(ctx context.Context, identityID uuid.UUID, text string, sourceCategoryID *uuid.UUID) (*models.CategorizeResult, error)

	// SaveInterest writes the category (when new) and the influence in one transaction.
	SaveInterest(ctx context.Context, req *SaveInterestRequest) (*SaveInterestResult, error)

	// Suggest returns category ideas under parentCategoryID (roots when nil),
	// without names already present at that level.
	Suggest(ctx context.Context, identityID uuid.UUID, parentCategoryID *uuid.UUID) ([]models.CategorySuggestion, error)
}

type addInterestService struct {
	identityRepo repositories.IdentityRepository
	tree         TreeService
	ledger       LedgerService
	classifier   Classifier
	transactor   database.Transactor
	maxDepth     int
	logger       *zap.Logger
}

// NewAddInterestService creates a new add-interest service. maxDepth must
// match the tree service's limit; non-positive means preference.DefaultMaxDepth.
func NewAddInterestService(
	identityRepo repositories.IdentityRepository,
	tree TreeService,
	ledger LedgerService,
	classifier Classifier,
	transactor database.Transactor,
	maxDepth int,
	logger *zap.Logger,
) AddInterestService {
	if maxDepth <= 0 {
		maxDepth = preference.DefaultMaxDepth
	}
	return &addInterestService{
		identityRepo: identityRepo,
		tree:         tree,
		ledger:       ledger,
		classifier:   classifier,
		transactor:   transactor,
		maxDepth:     maxDepth,
		logger:       logger.Named("add-interest"),
	}
}

var _ AddInterestService = (*addInterestService)(nil)

func (s *addInterestService) NewFlow(ctx context.Context, identityID uuid.UUID, opts FlowOptions) (*AddInterestFlow, error) {
	if _, err := s.identityRepo.GetByID(ctx, identityID); err != nil {
		return nil, err
	}

	flow := &AddInterestFlow{
		svc:        s,
		identityID: identityID,
		negative:   opts.Negative,
		state:      FlowInput,
	}
	if opts.SourceCategoryID != nil {
		source, err := s.tree.GetCategory(ctx, *opts.SourceCategoryID)
		if err != nil {
			return nil, err
		}
		if source.IdentityID != identityID {
			return nil, apperrors.ErrNotFound
		}
		flow.source = source
	}
	return flow, nil
}

func (s *addInterestService) Categorize(ctx context.Context, identityID uuid.UUID, text string, sourceCategoryID *uuid.UUID) (*models.CategorizeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("interest text is required: %w", apperrors.ErrInvalidInput)
	}

	tree, err := s.tree.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}

	hint := ""
	if sourceCategoryID != nil {
		source, ok := tree.ByID[*sourceCategoryID]
		if !ok {
			return nil, apperrors.ErrNotFound
		}
		hint = source.Name
	}

	result, _, err := s.categorize(ctx, tree, text, hint)
	return result, err
}

// categorize calls the classifier and resolves its answer against tree. The
// returned category is nil when the result proposes a new category.
func (s *addInterestService) categorize(ctx context.Context, tree *Tree, text, hint string) (*models.CategorizeResult, *models.Category, error) {
	flat, err := preference.Flatten(tree.Roots(), s.maxDepth)
	if err != nil {
		return nil, nil, err
	}
	options := make([]models.CategoryOption, len(flat))
	for i, fc := range flat {
		options[i] = models.CategoryOption{
			ID:   fc.Category.ID,
			Name: fc.Category.Name,
			Type: fc.Category.Type,
			Path: fc.Path,
		}
	}

	s.logger.Debug("Categorizing interest",
		zap.String("identity_id", tree.IdentityID.String()),
		zap.String("text", logging.Excerpt(text)),
		zap.Int("options", len(options)))

	result, err := s.classifier.Categorize(ctx, &models.CategorizeRequest{
		Text:               text,
		IdentityID:         tree.IdentityID,
		SourceCategoryHint: hint,
		Categories:         options,
	})
	if err != nil {
		s.logger.Warn("Classifier unavailable",
			zap.String("identity_id", tree.IdentityID.String()),
			zap.String("error", logging.SanitizeError(err)))
		if !errors.Is(err, apperrors.ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
		}
		return nil, nil, err
	}

	var resolved *models.Category
	if result.CategoryID != nil {
		resolved = tree.ByID[*result.CategoryID]
		if resolved == nil {
			s.logger.Warn("Classifier returned unknown category id; treating as new",
				zap.String("identity_id", tree.IdentityID.String()),
				zap.String("category_id", result.CategoryID.String()),
				zap.String("category", result.Category))
			result.CategoryID = nil
		}
	}
	if resolved != nil {
		result.IsNew = false
		result.Category = resolved.Name
		if result.SuggestedType == "" {
			result.SuggestedType = resolved.Type
		}
	} else {
		result.IsNew = true
		if result.SuggestedType == "" {
			result.SuggestedType = models.DefaultCategoryType
		}
	}

	return result, resolved, nil
}

func (s *addInterestService) SaveInterest(ctx context.Context, req *SaveInterestRequest) (*SaveInterestResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("interest name is required: %w", apperrors.ErrInvalidInput)
	}
	alignment := models.DefaultAlignment
	if req.Alignment != nil {
		alignment = *req.Alignment
	}
	position := EndOfList
	if req.Position != nil {
		position = *req.Position
	}

	result := &SaveInterestResult{}
	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if req.CategoryID != nil {
			category, err := s.tree.GetCategory(ctx, *req.CategoryID)
			if err != nil {
				return err
			}
			if category.IdentityID != req.IdentityID {
				return apperrors.ErrNotFound
			}
			result.Category = category
		} else {
			category, err := s.tree.CreateCategory(ctx, req.IdentityID, nil, req.NewCategoryName, req.NewCategoryType)
			if err != nil {
				return err
			}
			result.Category = category
			result.CreatedCategory = true
		}

		influence, err := s.ledger.InsertAt(ctx, result.Category.ID, &models.Influence{
			Name:      name,
			Alignment: alignment,
		}, position)
		if err != nil {
			return err
		}
		result.Influence = influence
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Saved interest",
		zap.String("identity_id", req.IdentityID.String()),
		zap.String("category_id", result.Category.ID.String()),
		zap.String("influence_id", result.Influence.ID.String()),
		zap.Bool("created_category", result.CreatedCategory))

	return result, nil
}

func (s *addInterestService) Suggest(ctx context.Context, identityID uuid.UUID, parentCategoryID *uuid.UUID) ([]models.CategorySuggestion, error) {
	tree, err := s.tree.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}

	req := &models.SuggestRequest{IdentityID: identityID, ParentCategoryID: parentCategoryID}
	siblings := tree.Roots()
	if parentCategoryID != nil {
		parent, ok := tree.ByID[*parentCategoryID]
		if !ok {
			return nil, apperrors.ErrNotFound
		}
		req.ParentCategoryName = parent.Name
		siblings = parent.Subcategories
	}

	existing := make(map[string]bool, len(siblings))
	for _, c := range siblings {
		existing[nameKey(c.Name)] = true
		req.Existing = append(req.Existing, c.Name)
	}

	result, err := s.classifier.Suggest(ctx, req)
	if err != nil {
		if !errors.Is(err, apperrors.ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %w", apperrors.ErrClassifierUnavailable, err)
		}
		return nil, err
	}

	out := make([]models.CategorySuggestion, 0, len(result.Suggestions))
	for _, sg := range result.Suggestions {
		key := nameKey(sg.Name)
		if key == "" || existing[key] {
			continue
		}
		existing[key] = true
		out = append(out, sg)
	}
	return out, nil
}

// AddInterestFlow is one interactive add-interest session:
// input → categorizing → confirm_category → (alignment | pick_category → alignment) → saving → done.
// Calling a step from the wrong state returns ErrInvalidState and changes nothing.
type AddInterestFlow struct {
	svc        *addInterestService
	identityID uuid.UUID
	source     *models.Category
	negative   bool

	mu          sync.Mutex
	state       FlowState
	text        string
	result      *models.CategorizeResult
	destination *models.Category // nil while the destination is a new category
	options     []preference.FlatCategory
	list        []*models.Influence
	alignment   float64
	rank        int
}

func (f *AddInterestFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *AddInterestFlow) expect(states ...FlowState) error {
	for _, st := range states {
		if f.state == st {
			return nil
		}
	}
	return fmt.Errorf("step not allowed in state %s: %w", f.state, apperrors.ErrInvalidState)
}

// Submit classifies text. On classifier failure the flow returns to input.
func (f *AddInterestFlow) Submit(ctx context.Context, text string) (*models.CategorizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowInput); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("interest text is required: %w", apperrors.ErrInvalidInput)
	}

	f.state = FlowCategorizing
	tree, err := f.svc.tree.LoadTree(ctx, f.identityID)
	if err != nil {
		f.state = FlowInput
		return nil, err
	}
	hint := ""
	if f.source != nil {
		hint = f.source.Name
	}
	result, resolved, err := f.svc.categorize(ctx, tree, text, hint)
	if err != nil {
		f.state = FlowInput
		return nil, err
	}

	f.text = text
	f.result = result
	f.destination = resolved
	f.state = FlowConfirmCategory
	return result, nil
}

// Accept takes the classifier's category and returns its current list.
func (f *AddInterestFlow) Accept(ctx context.Context) ([]*models.Influence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowConfirmCategory); err != nil {
		return nil, err
	}
	return f.enterAlignment(ctx)
}

// Reject returns the identity's categories for manual picking.
func (f *AddInterestFlow) Reject(ctx context.Context) ([]preference.FlatCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowConfirmCategory); err != nil {
		return nil, err
	}
	options, err := f.svc.tree.FlattenTree(ctx, f.identityID)
	if err != nil {
		return nil, err
	}
	f.options = options
	f.state = FlowPickCategory
	return options, nil
}

// Pick chooses an existing category from the picker.
func (f *AddInterestFlow) Pick(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowPickCategory); err != nil {
		return nil, err
	}
	var picked *models.Category
	for _, fc := range f.options {
		if fc.Category.ID == categoryID {
			picked = fc.Category
			break
		}
	}
	if picked == nil {
		return nil, apperrors.ErrNotFound
	}
	f.destination = picked
	return f.enterAlignment(ctx)
}

// PickNew keeps the classifier's suggested name as a new root category.
func (f *AddInterestFlow) PickNew(ctx context.Context) ([]*models.Influence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowPickCategory); err != nil {
		return nil, err
	}
	f.destination = nil
	return f.enterAlignment(ctx)
}

// enterAlignment loads the destination list and sets defaults. Caller holds f.mu.
func (f *AddInterestFlow) enterAlignment(ctx context.Context) ([]*models.Influence, error) {
	var list []*models.Influence
	if f.destination != nil {
		var err error
		list, err = f.svc.ledger.List(ctx, f.destination.ID)
		if err != nil {
			return nil, err
		}
	}
	f.list = list
	f.rank = len(list)
	f.alignment = models.DefaultAlignment
	if f.negative {
		f.alignment = models.DefaultDistasteAlignment
	}
	f.state = FlowAlignment
	return list, nil
}

// SetAlignment clamps v to [0,100] and returns the stored value.
func (f *AddInterestFlow) SetAlignment(v float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowAlignment); err != nil {
		return 0, err
	}
	f.alignment = models.ClampAlignment(v)
	return f.alignment, nil
}

// SetRank clamps r to [0,n] where n is the destination list length.
func (f *AddInterestFlow) SetRank(r int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowAlignment); err != nil {
		return 0, err
	}
	f.rank = preference.ClampPosition(r, len(f.list))
	return f.rank, nil
}

// NudgeUp moves the pending item one slot toward the top of the list.
func (f *AddInterestFlow) NudgeUp() (int, error) {
	return f.nudge(-1)
}

// NudgeDown moves the pending item one slot toward the bottom of the list.
func (f *AddInterestFlow) NudgeDown() (int, error) {
	return f.nudge(1)
}

func (f *AddInterestFlow) nudge(delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowAlignment); err != nil {
		return 0, err
	}
	f.rank = preference.ClampPosition(f.rank+delta, len(f.list))
	return f.rank, nil
}

// Alignment reports the pending alignment.
func (f *AddInterestFlow) Alignment() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alignment
}

// Rank reports the pending insertion slot.
func (f *AddInterestFlow) Rank() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rank
}

// Save writes the category (if new) and the influence. On failure the flow
// stays in the alignment step so the user can retry.
func (f *AddInterestFlow) Save(ctx context.Context) (*SaveInterestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowAlignment); err != nil {
		return nil, err
	}

	req := &SaveInterestRequest{
		IdentityID: f.identityID,
		Name:       f.text,
		Alignment:  &f.alignment,
		Position:   &f.rank,
	}
	if f.destination != nil {
		req.CategoryID = &f.destination.ID
	} else {
		req.NewCategoryName = f.result.Category
		req.NewCategoryType = f.result.SuggestedType
	}

	f.state = FlowSaving
	saved, err := f.svc.SaveInterest(ctx, req)
	if err != nil {
		f.state = FlowAlignment
		return nil, err
	}
	f.state = FlowDone
	return saved, nil
}

// Restart begins another interest from the same starting point.
func (f *AddInterestFlow) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expect(FlowDone); err != nil {
		return err
	}
	f.text = ""
	f.result = nil
	f.destination = nil
	f.options = nil
	f.list = nil
	f.alignment = 0
	f.rank = 0
	f.state = FlowInput
	return nil
}
