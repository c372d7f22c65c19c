package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"immotech/server/internal/models"
	"immotech/server/internal/property"
)

type ValidateRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

type SoldRequest struct {
	Price *float64 `json:"price" binding:"required"`
}

type AssignAgentRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

type NearbyQuery struct {
	Latitude  *float64 `form:"lat" binding:"required"`
	Longitude *float64 `form:"lon" binding:"required"`
	RadiusKm  float64  `form:"radius_km"`
}

const defaultNearbyRadiusKm = 2.0

func (h *Handler) SearchProperties(c *gin.Context) {
	var filter property.SearchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	props, err := h.properties.Search(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to get properties")
		return
	}
	c.JSON(http.StatusOK, props)
}

func (h *Handler) GetProperty(c *gin.Context) {
	p, err := h.properties.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get property")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateProperty(c *gin.Context) {
	var in property.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.properties.Create(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		h.respondError(c, err, "Failed to create property")
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProperty(c *gin.Context) {
	var in property.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.properties.Update(c.Request.Context(), currentUser(c), c.Param("id"), in)
	if err != nil {
		h.respondError(c, err, "Failed to update property")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProperty(c *gin.Context) {
	if err := h.properties.Delete(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		h.respondError(c, err, "Failed to delete property")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ValidateProperty(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.properties.Validate(c.Request.Context(), currentUser(c), c.Param("id"), *req.Approved)
	if err != nil {
		h.respondError(c, err, "Failed to validate property")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkPropertySold(c *gin.Context) {
	var req SoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.properties.MarkSold(c.Request.Context(), currentUser(c), c.Param("id"), *req.Price)
	if err != nil {
		h.respondError(c, err, "Failed to mark property sold")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkPropertyRented(c *gin.Context) {
	p, err := h.properties.MarkRented(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to mark property rented")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) AssignAgent(c *gin.Context) {
	var req AssignAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	agentID, err := models.ParseID(req.AgentID)
	if err != nil {
		h.respondError(c, err, "Invalid agent id")
		return
	}
	agent, err := h.users.GetUser(ctx, agentID)
	if err != nil {
		h.respondError(c, err, "Failed to load agent")
		return
	}

	p, err := h.properties.AssignAgent(ctx, currentUser(c), c.Param("id"), agent)
	if err != nil {
		h.respondError(c, err, "Failed to assign agent")
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetNearbyProperties lists available listings around a point.
func (h *Handler) GetNearbyProperties(c *gin.Context) {
	var q NearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = defaultNearbyRadiusKm
	}

	matches, err := h.properties.Nearby(c.Request.Context(), *q.Latitude, *q.Longitude, q.RadiusKm)
	if err != nil {
		h.respondError(c, err, "Failed to find nearby properties")
		return
	}
	c.JSON(http.StatusOK, matches)
}
