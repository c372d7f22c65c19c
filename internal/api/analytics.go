package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"immotech/server/internal/geometry"
	"immotech/server/internal/models"
	"immotech/server/internal/property"
)

type TrendQuery struct {
	City         string `form:"city"`
	PropertyType string `form:"property_type"`
	PeriodDays   int    `form:"period_days"`
}

func (h *Handler) GetMarketReport(c *gin.Context) {
	var filter models.MarketFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.aggregator.GenerateMarketReport(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to generate market report")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetPriceTrends(c *gin.Context) {
	var q TrendQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trends, err := h.aggregator.GetPriceTrends(c.Request.Context(), q.City, q.PropertyType, q.PeriodDays)
	if err != nil {
		h.respondError(c, err, "Failed to get price trends")
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (h *Handler) GetMarketAnalysis(c *gin.Context) {
	analysis, err := h.aggregator.GetMarketAnalysis(c.Request.Context(), c.Query("city"))
	if err != nil {
		h.respondError(c, err, "Failed to get market analysis")
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) GetSurfaceHistogram(c *gin.Context) {
	var filter models.MarketFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hist, err := h.aggregator.SurfaceHistogram(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to get surface histogram")
		return
	}
	c.JSON(http.StatusOK, hist)
}

// GetDistricts returns the geolocated listings grouped into district
// polygons as a GeoJSON feature collection.
func (h *Handler) GetDistricts(c *gin.Context) {
	var filter property.SearchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	props, err := h.properties.Search(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to get districts")
		return
	}
	c.JSON(http.StatusOK, geometry.DistrictMap(props, h.now()))
}

// GetUserActivity reports on a user's listings and deals. Users see their
// own report; admins see anyone's.
func (h *Handler) GetUserActivity(c *gin.Context) {
	actor := currentUser(c)
	userID := c.Param("id")
	if userID == "me" {
		userID = actor.ID
	}

	id, err := models.ParseID(userID)
	if err != nil {
		h.respondError(c, err, "Invalid user id")
		return
	}
	if id != actor.ID && !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot view another user's activity"})
		return
	}

	report, err := h.activity.GetUserActivityReport(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get user activity")
		return
	}
	c.JSON(http.StatusOK, report)
}
