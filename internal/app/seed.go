package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/security"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/gorm"
)

// defaultPlans are inserted when the plan table is empty.
var defaultPlans = []models.Plan{
	{
		Name:           "Free Tier",
		Description:    "Features: Limited response speed\nTokens/Month: 50 requests",
		Price:          0,
		Currency:       models.CurrencyINR,
		TokensPerMonth: 50,
		IsActive:       true,
	},
	{
		Name:           "Pro Monthly",
		Description:    "Features: Fast responses\nTokens/Month: 1000 requests",
		Price:          299,
		Currency:       models.CurrencyINR,
		TokensPerMonth: 1000,
		IsActive:       true,
	},
	{
		Name:           "Pro Plus",
		Description:    "Features: Priority support\nTokens/Month: 3000 requests",
		Price:          599,
		Currency:       models.CurrencyINR,
		TokensPerMonth: 3000,
		IsActive:       true,
	},
	{
		Name:           "Pro Global",
		Description:    "Features: Fast responses, billed in USD\nTokens/Month: 1000 requests",
		Price:          9.99,
		Currency:       models.CurrencyUSD,
		TokensPerMonth: 1000,
		IsActive:       true,
	},
}

// adminSeedPlan is the plan the seeded admin account is subscribed to.
const adminSeedPlan = "Pro Plus"

// Seed inserts default plans, the admin and default user accounts, and their
// long-running subscriptions. Each step is skipped when its rows already exist.
func Seed(ctx context.Context, conn *gorm.DB, subs *subscription.Service, cfg config.SeedConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if errPlans := seedPlans(ctx, conn); errPlans != nil {
		return errPlans
	}
	admin, errAdmin := seedUser(ctx, conn, cfg.AdminEmail, cfg.AdminPassword, models.RoleAdmin)
	if errAdmin != nil {
		return errAdmin
	}
	user, errUser := seedUser(ctx, conn, cfg.UserEmail, cfg.UserPassword, models.RoleUser)
	if errUser != nil {
		return errUser
	}

	if admin != nil {
		var plan models.Plan
		errPlan := conn.WithContext(ctx).Where("name = ?", adminSeedPlan).First(&plan).Error
		switch {
		case errPlan == nil:
			if errSub := seedSubscription(ctx, subs, admin, &plan); errSub != nil {
				return errSub
			}
		case errors.Is(errPlan, gorm.ErrRecordNotFound):
			log.Infof("seed: plan %q missing, admin subscription skipped", adminSeedPlan)
		default:
			return fmt.Errorf("seed: load admin plan: %w", errPlan)
		}
	}
	if user != nil {
		var plan models.Plan
		errPlan := conn.WithContext(ctx).Where("price <= ?", 0).Order("id ASC").First(&plan).Error
		switch {
		case errPlan == nil:
			if errSub := seedSubscription(ctx, subs, user, &plan); errSub != nil {
				return errSub
			}
		case errors.Is(errPlan, gorm.ErrRecordNotFound):
			log.Info("seed: free plan missing, default user subscription skipped")
		default:
			return fmt.Errorf("seed: load free plan: %w", errPlan)
		}
	}
	return nil
}

func seedPlans(ctx context.Context, conn *gorm.DB) error {
	var count int64
	if errCount := conn.WithContext(ctx).Model(&models.Plan{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("seed: count plans: %w", errCount)
	}
	if count > 0 {
		log.Debug("seed: plans already exist, skipped")
		return nil
	}
	plans := make([]models.Plan, len(defaultPlans))
	copy(plans, defaultPlans)
	if errCreate := conn.WithContext(ctx).Create(&plans).Error; errCreate != nil {
		return fmt.Errorf("seed: create plans: %w", errCreate)
	}
	log.Infof("seed: inserted %d default plans", len(plans))
	return nil
}

// seedUser returns the existing or newly created account, or nil when no email is configured.
func seedUser(ctx context.Context, conn *gorm.DB, email, password, role string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	var user models.User
	errFind := conn.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errFind == nil {
		return &user, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("seed: find user %s: %w", email, errFind)
	}
	if password == "" {
		log.Warnf("seed: no password configured for %s, account skipped", email)
		return nil, nil
	}

	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		return nil, fmt.Errorf("seed: hash password: %w", errHash)
	}
	user = models.User{Email: email, Password: hashed, Role: role}
	if errCreate := conn.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return nil, fmt.Errorf("seed: create user %s: %w", email, errCreate)
	}
	log.Infof("seed: created %s account %s", role, email)
	return &user, nil
}

func seedSubscription(ctx context.Context, subs *subscription.Service, user *models.User, plan *models.Plan) error {
	_, created, errBootstrap := subs.Bootstrap(ctx, user.ID, plan, subscription.SeedWindowDays)
	if errBootstrap != nil {
		return fmt.Errorf("seed: subscribe %s: %w", user.Email, errBootstrap)
	}
	if created {
		log.Infof("seed: subscribed %s to %s", user.Email, plan.Name)
	}
	return nil
}
