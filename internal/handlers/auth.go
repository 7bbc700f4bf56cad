// auth.go handles account registration, login and token refresh.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

// Register creates a new user account.
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Email, password (min 8 chars), and name are required")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := h.DB.GetUserByEmail(c.Request.Context(), req.Email)
	if existing != nil {
		respondError(c, http.StatusConflict, "email_taken", "An account with this email already exists")
		return
	}
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		log.Printf("❌ Failed to look up user: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create account")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("❌ Failed to hash password: %v", err)
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to create account")
		return
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         req.Name,
	}

	if err := h.DB.CreateUser(c.Request.Context(), user); err != nil {
		log.Printf("❌ Failed to create user: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create account")
		return
	}

	token, err := middleware.GenerateJWT(user, h.JWTSecret)
	if err != nil {
		log.Printf("❌ Failed to generate token: %v", err)
		respondError(c, http.StatusInternalServerError, "token_error", "Account created but failed to generate token")
		return
	}

	c.JSON(http.StatusCreated, models.AuthResponse{
		Token: token,
		User:  *user,
	})
}

// Login authenticates a user and returns a JWT token.
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	user, err := h.DB.GetUserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	token, err := middleware.GenerateJWT(user, h.JWTSecret)
	if err != nil {
		log.Printf("❌ Failed to generate token: %v", err)
		respondError(c, http.StatusInternalServerError, "token_error", "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{
		Token: token,
		User:  *user,
	})
}

// GetMe returns the current authenticated user.
// GET /api/v1/auth/me
func (h *Handler) GetMe(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	c.JSON(http.StatusOK, user)
}

// RefreshToken issues a new JWT token for an authenticated user.
// POST /api/v1/auth/refresh
func (h *Handler) RefreshToken(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	token, err := middleware.GenerateJWT(user, h.JWTSecret)
	if err != nil {
		log.Printf("❌ Failed to refresh token: %v", err)
		respondError(c, http.StatusInternalServerError, "token_error", "Failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{
		Token: token,
		User:  *user,
	})
}
