package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

type RegisterRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Role      string `json:"role"`
}

type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// selfAssignable reports whether anyone may register with role. Agent and
// admin accounts are created by admins.
func selfAssignable(role string) bool {
	return role == models.RoleClient || role == models.RoleOwner
}

// Register creates an account.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleClient
	}
	if err := models.ValidateRole(role); err != nil {
		h.respondError(c, err, "Invalid role")
		return
	}
	if !selfAssignable(role) {
		if actor := currentUser(c); actor == nil || !actor.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "only admins can create " + role + " accounts"})
			return
		}
	}

	user := &models.User{
		ID:        models.NewID(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      role,
		CreatedAt: h.now(),
	}
	if err := h.users.InsertUser(c.Request.Context(), user); err != nil {
		h.respondError(c, err, "Failed to create user")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User registered")
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) UpdateUserRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.ValidateRole(req.Role); err != nil {
		h.respondError(c, err, "Invalid role")
		return
	}

	id, err := models.ParseID(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Invalid user id")
		return
	}
	ctx := c.Request.Context()
	if err := h.users.UpdateUserRole(ctx, id, req.Role); err != nil {
		h.respondError(c, err, "Failed to update role")
		return
	}
	user, err := h.users.GetUser(ctx, id)
	if err != nil {
		h.respondError(c, err, "Failed to load user")
		return
	}
	c.JSON(http.StatusOK, user)
}
