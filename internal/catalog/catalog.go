// Package catalog manages the admin-editable plan catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ukschat/ukschat/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrPlanNotFound is returned when no plan matches the requested ID.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidPlan wraps validation failures on plan input.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrPlanInUse is returned when deleting a plan referenced by subscriptions or payments.
	ErrPlanInUse = errors.New("plan is referenced by subscriptions or payments")
)

// PlanInput holds the fields for creating a plan.
type PlanInput struct {
	Name           string
	Description    string
	Price          float64
	Currency       string
	TokensPerMonth int
	RateLimit      int
	IsActive       bool
}

// Service reads and edits the plan catalog.
type Service struct {
	db *gorm.DB
}

// NewService constructs a catalog service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListActive returns the plans offered to users, cheapest first.
func (s *Service) ListActive(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if errFind := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Order("id ASC").
		Find(&plans).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list active: %w", errFind)
	}
	return plans, nil
}

// List returns every plan for the admin view.
func (s *Service) List(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&plans).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list: %w", errFind)
	}
	return plans, nil
}

// Get loads one plan by ID.
func (s *Service) Get(ctx context.Context, id uint64) (*models.Plan, error) {
	return getPlan(s.db.WithContext(ctx), id)
}

// GetActive loads one plan by ID and requires it to be offered.
func (s *Service) GetActive(ctx context.Context, id uint64) (*models.Plan, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// FreePlan returns the active zero-price plan granted at registration.
func (s *Service) FreePlan(ctx context.Context) (*models.Plan, error) {
	var plan models.Plan
	if errFind := s.db.WithContext(ctx).
		Where("is_active = ? AND price <= ?", true, 0).
		Order("id ASC").
		First(&plan).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("catalog: free plan: %w", errFind)
	}
	return &plan, nil
}

// Create validates input and inserts a new plan.
func (s *Service) Create(ctx context.Context, in PlanInput) (*models.Plan, error) {
	now := time.Now().UTC()
	plan := models.Plan{
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Price:          in.Price,
		Currency:       normalizeCurrency(in.Currency),
		TokensPerMonth: in.TokensPerMonth,
		RateLimit:      in.RateLimit,
		IsActive:       in.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if errValidate := validatePlan(&plan); errValidate != nil {
		return nil, errValidate
	}
	if errCreate := s.db.WithContext(ctx).Create(&plan).Error; errCreate != nil {
		return nil, fmt.Errorf("catalog: create: %w", errCreate)
	}
	return &plan, nil
}

// Update applies the present fields of patch to the stored plan.
func (s *Service) Update(ctx context.Context, id uint64, patch PlanPatch) (*models.Plan, error) {
	var updated *models.Plan
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, errGet := getPlan(tx, id)
		if errGet != nil {
			return errGet
		}
		updates, errApply := applyPatch(plan, patch)
		if errApply != nil {
			return errApply
		}
		if len(updates) == 0 {
			updated = plan
			return nil
		}
		if errValidate := validatePlan(plan); errValidate != nil {
			return errValidate
		}
		plan.UpdatedAt = time.Now().UTC()
		updates["updated_at"] = plan.UpdatedAt
		if errUpdate := tx.Model(&models.Plan{}).Where("id = ?", id).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("catalog: update: %w", errUpdate)
		}
		updated = plan
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return updated, nil
}

// Toggle flips the plan's active flag.
func (s *Service) Toggle(ctx context.Context, id uint64) (*models.Plan, error) {
	var toggled *models.Plan
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, errGet := getPlan(tx, id)
		if errGet != nil {
			return errGet
		}
		plan.IsActive = !plan.IsActive
		plan.UpdatedAt = time.Now().UTC()
		if errUpdate := tx.Model(&models.Plan{}).Where("id = ?", id).Updates(map[string]any{
			"is_active":  plan.IsActive,
			"updated_at": plan.UpdatedAt,
		}).Error; errUpdate != nil {
			return fmt.Errorf("catalog: toggle: %w", errUpdate)
		}
		toggled = plan
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return toggled, nil
}

// Delete removes a plan that no subscription or payment references.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, errGet := getPlan(tx, id); errGet != nil {
			return errGet
		}
		var subs int64
		if errCount := tx.Model(&models.Subscription{}).Where("plan_id = ?", id).Count(&subs).Error; errCount != nil {
			return fmt.Errorf("catalog: count subscriptions: %w", errCount)
		}
		var payments int64
		if errCount := tx.Model(&models.Payment{}).Where("plan_id = ?", id).Count(&payments).Error; errCount != nil {
			return fmt.Errorf("catalog: count payments: %w", errCount)
		}
		if subs > 0 || payments > 0 {
			return ErrPlanInUse
		}
		if errDelete := tx.Delete(&models.Plan{}, id).Error; errDelete != nil {
			return fmt.Errorf("catalog: delete: %w", errDelete)
		}
		return nil
	})
}

func getPlan(conn *gorm.DB, id uint64) (*models.Plan, error) {
	if id == 0 {
		return nil, ErrPlanNotFound
	}
	var plan models.Plan
	if errFind := conn.First(&plan, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("catalog: get: %w", errFind)
	}
	return &plan, nil
}

// applyPatch mutates plan field-by-field and returns the column updates.
func applyPatch(plan *models.Plan, patch PlanPatch) (map[string]any, error) {
	updates := make(map[string]any)
	if patch.Name.Set {
		if patch.Name.Null {
			return nil, fmt.Errorf("%w: name cannot be null", ErrInvalidPlan)
		}
		plan.Name = strings.TrimSpace(patch.Name.Value)
		updates["name"] = plan.Name
	}
	if patch.Description.Set {
		plan.Description = strings.TrimSpace(patch.Description.Value)
		updates["description"] = plan.Description
	}
	if patch.Price.Set {
		if patch.Price.Null {
			return nil, fmt.Errorf("%w: price cannot be null", ErrInvalidPlan)
		}
		plan.Price = patch.Price.Value
		updates["price"] = plan.Price
	}
	if patch.Currency.Set {
		if patch.Currency.Null {
			return nil, fmt.Errorf("%w: currency cannot be null", ErrInvalidPlan)
		}
		plan.Currency = normalizeCurrency(patch.Currency.Value)
		updates["currency"] = plan.Currency
	}
	if patch.TokensPerMonth.Set {
		if patch.TokensPerMonth.Null {
			return nil, fmt.Errorf("%w: tokens_per_month cannot be null", ErrInvalidPlan)
		}
		plan.TokensPerMonth = patch.TokensPerMonth.Value
		updates["tokens_per_month"] = plan.TokensPerMonth
	}
	if patch.RateLimit.Set {
		plan.RateLimit = patch.RateLimit.Value
		updates["rate_limit"] = plan.RateLimit
	}
	if patch.IsActive.Set {
		if patch.IsActive.Null {
			return nil, fmt.Errorf("%w: is_active cannot be null", ErrInvalidPlan)
		}
		plan.IsActive = patch.IsActive.Value
		updates["is_active"] = plan.IsActive
	}
	return updates, nil
}

func validatePlan(plan *models.Plan) error {
	if plan.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	}
	if plan.Price < 0 {
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidPlan)
	}
	if plan.TokensPerMonth <= 0 {
		return fmt.Errorf("%w: tokens_per_month must be positive", ErrInvalidPlan)
	}
	if plan.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must be non-negative", ErrInvalidPlan)
	}
	if len(plan.Currency) < 3 || len(plan.Currency) > 5 {
		return fmt.Errorf("%w: currency must be an ISO code", ErrInvalidPlan)
	}
	return nil
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.CurrencyINR
	}
	return code
}
