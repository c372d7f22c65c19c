package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"immotech/server/internal/models"
)

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(handler *Handler, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(handler.logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = corsOrigins
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", userIDHeader, requestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Disposition", requestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	if len(corsOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	api.Use(handler.Identify())
	{
		api.GET("/cities", handler.GetCities)
		api.POST("/users", handler.Register)

		api.GET("/properties", handler.SearchProperties)
		api.GET("/properties/nearby", handler.GetNearbyProperties)
		api.GET("/properties/:id", handler.GetProperty)

		api.GET("/analytics/trends", handler.GetPriceTrends)
		api.GET("/analytics/market-analysis", handler.GetMarketAnalysis)
		api.GET("/analytics/surface-histogram", handler.GetSurfaceHistogram)
		api.GET("/analytics/districts", handler.GetDistricts)
	}

	authed := api.Group("", RequireUser())
	{
		authed.GET("/users/me", handler.GetMe)
		authed.GET("/users/:id/activity", handler.GetUserActivity)

		authed.PUT("/properties/:id", handler.UpdateProperty)
		authed.DELETE("/properties/:id", handler.DeleteProperty)
		authed.POST("/properties/:id/sold", handler.MarkPropertySold)
		authed.POST("/properties/:id/rented", handler.MarkPropertyRented)
		authed.POST("/properties/:id/agent", handler.AssignAgent)

		authed.POST("/transactions", handler.CreateTransaction)
		authed.GET("/transactions", handler.GetTransactionHistory)
		authed.GET("/transactions/:id", handler.GetTransaction)
		authed.POST("/transactions/:id/payment", handler.ProcessPayment)
		authed.POST("/transactions/:id/booking", handler.ProcessBooking)
		authed.PUT("/transactions/:id/status", handler.UpdateTransactionStatus)
		authed.GET("/transactions/:id/contract", handler.DownloadContract)
	}

	listers := api.Group("", RequireRole(models.RoleOwner, models.RoleAgent, models.RoleAdmin))
	{
		listers.POST("/properties", handler.CreateProperty)
		listers.GET("/analytics/market", handler.GetMarketReport)
	}

	agents := api.Group("", RequireRole(models.RoleAgent, models.RoleAdmin))
	{
		agents.POST("/properties/:id/validate", handler.ValidateProperty)
	}

	admin := api.Group("/admin", RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", handler.ListUsers)
		admin.PUT("/users/:id/role", handler.UpdateUserRole)
		admin.POST("/contracts/reconcile", handler.ReconcileContracts)
	}
}
