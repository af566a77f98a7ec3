package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dealscope/backend/internal/config"
	"github.com/dealscope/backend/internal/db"
	"github.com/dealscope/backend/internal/http/handlers"
	"github.com/dealscope/backend/internal/http/middleware"
	"github.com/dealscope/backend/internal/service"
)

func Router(cfg config.Config, store *db.Store, engine *service.Engine, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Engine:    engine,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/deals", h.DealsList)
		api.GET("/deals/:org_id/:deal_id", h.DealDetails)
		api.GET("/deals/:org_id/:deal_id/confidence", h.DealConfidence)
		api.GET("/deals/:org_id/:deal_id/forecast", h.DealForecast)
		api.GET("/deals/:org_id/:deal_id/audit", h.AuditList)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/tools/invoke", h.InvokeTool)
		admin.POST("/admin/deals/import", h.ImportDeals)
	}

	return r
}
