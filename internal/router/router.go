// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/handlers"
	"github.com/javajoker/settlement-backend/internal/metrics"
	"github.com/javajoker/settlement-backend/internal/middleware"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

const version = "1.0.0"

func Initialize(db *gorm.DB, cfg *config.Config, svc *services.Services) *gin.Engine {
	// Initialize handlers
	settlementHandler := handlers.NewSettlementHandler(svc.Settlement)
	listingHandler := handlers.NewListingHandler(svc.Market)
	storageHandler := handlers.NewStorageHandler(svc.Storage)
	assetHandler := handlers.NewAssetHandler(svc.Assets)
	purchaseHandler := handlers.NewPurchaseHandler(svc.Payments)
	adminHandler := handlers.NewAdminHandler(svc.Admin, svc.Reconciler)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.BaseURL))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(middleware.Metrics())
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(db))

	r.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": version,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	{
		listings := v1.Group("/listings")
		{
			listings.GET("", middleware.OptionalAuth(), listingHandler.GetListings)
			listings.GET("/:id", middleware.OptionalAuth(), listingHandler.GetListing)

			protected := listings.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", listingHandler.PlaceToMarket)
				protected.PUT("/:id/price", listingHandler.UpdatePrice)
				protected.DELETE("/:id", listingHandler.DisableListing)
			}
		}

		settlements := v1.Group("/settlements")
		settlements.Use(middleware.AuthRequired(), middleware.SettlementRateLimit())
		{
			settlements.POST("/quote", settlementHandler.RequestQuote)
			settlements.POST("/submit", settlementHandler.SubmitSigned)
			settlements.POST("/confirm", settlementHandler.ConfirmSettlement)
		}

		storage := v1.Group("/storage")
		storage.Use(middleware.AuthRequired())
		{
			storage.POST("/account", storageHandler.CreateStorageAccount)
			storage.POST("/place", storageHandler.PlaceToStorage)
			storage.POST("/place-back", storageHandler.PlaceBack)
		}

		envelopes := v1.Group("/envelopes")
		envelopes.Use(middleware.AuthRequired(), middleware.SettlementRateLimit())
		{
			envelopes.POST("/submit", storageHandler.SubmitSigned)
		}

		assets := v1.Group("/assets")
		assets.Use(middleware.AuthRequired())
		{
			assets.POST("/:id/clawback", assetHandler.Clawback)
			assets.POST("/:id/trustline", assetHandler.RequestTrustline)
		}

		purchases := v1.Group("/purchases")
		purchases.Use(middleware.AuthRequired())
		{
			purchases.GET("", purchaseHandler.GetPurchaseHistory)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
			admin.GET("/purchases", adminHandler.GetPurchases)
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
			admin.PUT("/users/:id/status", adminHandler.UpdateUserStatus)
			admin.POST("/reconcile", middleware.AdminRateLimit(), adminHandler.Reconcile)
		}
	}

	return r
}
