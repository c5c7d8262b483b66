package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/catalog"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/db"
	"github.com/ukschat/ukschat/internal/http/api/middleware"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/security"
	"github.com/ukschat/ukschat/internal/subscription"
	"gorm.io/gorm"
)

var errEmailTaken = errors.New("email already registered")

// AuthHandler serves registration, login and profile endpoints.
type AuthHandler struct {
	db      *gorm.DB
	jwtCfg  config.JWTConfig
	catalog *catalog.Service
	subs    *subscription.Service
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig, catalogSvc *catalog.Service, subs *subscription.Service) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg, catalog: catalogSvc, subs: subs}
}

// credentialsRequest is the register and login payload.
type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a user account and grants the free plan when one is offered.
func (h *AuthHandler) Register(c *gin.Context) {
	var body credentialsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "A valid email and password are required")
		return
	}
	email := normalizeEmail(body.Email)
	ctx := c.Request.Context()

	hashed, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "Invalid password")
		return
	}

	freePlan, errFree := h.catalog.FreePlan(ctx)
	if errFree != nil && !errors.Is(errFree, catalog.ErrPlanNotFound) {
		log.WithError(errFree).Warn("register: load free plan failed")
	}
	if errFree != nil {
		freePlan = nil
	}

	user := models.User{Email: email, Password: hashed, Role: models.RoleUser}
	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if errCount := tx.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return errEmailTaken
		}
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			if db.IsUniqueViolation(errCreate) {
				return errEmailTaken
			}
			return errCreate
		}
		if freePlan == nil {
			return nil
		}
		_, errActivate := h.subs.ActivateTx(ctx, tx, user.ID, freePlan, subscription.DefaultWindowDays)
		return errActivate
	})
	if errTx != nil {
		if errors.Is(errTx, errEmailTaken) {
			middleware.AbortWithError(c, http.StatusBadRequest, "Email already registered")
			return
		}
		log.WithError(errTx).Error("register: create user failed")
		middleware.AbortWithError(c, http.StatusInternalServerError, "Registration failed")
		return
	}
	if freePlan != nil {
		h.subs.Notify(freePlan)
	}
	c.JSON(http.StatusCreated, formatUser(&user))
}

// Login verifies credentials and issues an access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body credentialsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "A valid email and password are required")
		return
	}

	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).
		Where("email = ?", normalizeEmail(body.Email)).
		First(&user).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		middleware.AbortWithError(c, http.StatusInternalServerError, "Login failed")
		return
	}
	if errFind != nil || !security.CheckPassword(user.Password, body.Password) {
		middleware.AbortWithError(c, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, errToken := security.IssueUserToken(h.jwtCfg.Secret, user.ID, user.Role, h.jwtCfg.Expiry)
	if errToken != nil {
		log.WithError(errToken).Error("login: issue token failed")
		middleware.AbortWithError(c, http.StatusInternalServerError, "Login failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"role":         user.Role,
		"email":        user.Email,
	})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, middleware.UserID(c)).Error; errFind != nil {
		middleware.AbortWithError(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, formatUser(&user))
}

func formatUser(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"role":       user.Role,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
