package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/directory"
	"github.com/tariel-x/meshcall/internal/models"
)

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=100"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type userEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
	InCall   bool   `json:"in_call"`
}

func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, directory.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}
		h.logger.Error("register failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *Handlers) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.tokens.Generate(user.ID)
	if err != nil {
		h.logger.Error("token generation failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(status, LoginResponse{Token: token, User: *user})
}

func (h *Handlers) GetMe(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers returns everyone except the caller with presence flags, for
// picking call targets.
func (h *Handlers) ListUsers(c *gin.Context) {
	self := auth.UserID(c)
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	online := h.presence.OnlineUsers()
	entries := make([]userEntry, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		_, inCall := h.registry.OccupiedBy(u.ID)
		entries = append(entries, userEntry{
			ID:       u.ID,
			Username: u.Username,
			IsOnline: online[u.ID],
			InCall:   inCall,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": entries})
}
