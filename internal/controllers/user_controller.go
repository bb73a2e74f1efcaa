package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medcharts/backend/internal/middleware"
	"github.com/medcharts/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserController is the account surface the dashboard needs: the coder's
// own profile and the admin's roster of coders and auditors.
type UserController struct {
	db *gorm.DB
}

func NewUserController(db *gorm.DB) *UserController {
	return &UserController{db: db}
}

type updateProfileRequest struct {
	FullName        string `json:"fullName"`
	Credential      string `json:"credential"`
	Specialty       string `json:"specialty"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// GetCurrentUser returns the authenticated user's profile.
func (uc *UserController) GetCurrentUser(c *gin.Context) {
	authUser, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
		return
	}

	var user models.User
	if err := uc.db.First(&user, authUser.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// UpdateCurrentUser updates the profile fields and, when both password
// fields are supplied, rotates the password.
func (uc *UserController) UpdateCurrentUser(c *gin.Context) {
	authUser, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var user models.User
	if err := uc.db.First(&user, authUser.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
		return
	}

	updates := map[string]interface{}{}
	if req.FullName != "" {
		updates["full_name"] = req.FullName
	}
	if req.Credential != "" {
		updates["credential"] = req.Credential
	}
	if req.Specialty != "" {
		updates["specialty"] = req.Specialty
	}

	if req.NewPassword != "" {
		if len(req.NewPassword) < 8 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "New password must be at least 8 characters"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Current password is incorrect"})
			return
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to hash password"})
			return
		}
		updates["password"] = string(hashed)
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Nothing to update"})
		return
	}
	if err := uc.db.Model(&user).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Profile updated"})
}

// GetUsers lists accounts for the admin roster, optionally filtered by
// role or specialty.
func (uc *UserController) GetUsers(c *gin.Context) {
	query := uc.db.Model(&models.User{})
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}
	if specialty := c.Query("specialty"); specialty != "" {
		query = query.Where("specialty = ?", specialty)
	}

	var users []models.User
	if err := query.Order("full_name ASC").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}
