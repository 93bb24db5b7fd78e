package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"driver-dispatch-backend/config"
	"driver-dispatch-backend/internal/dispatch"
	"driver-dispatch-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(engine *dispatch.Engine, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(engine)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	authenticate := mw.Authenticate([]byte(cfg.JWTSecret))

	// Read caching keeps the browse endpoints cheap; TTL is short because
	// windows close on the clock.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter, authenticate)
	{
		driver := api.Group("", mw.Authorize(mw.RoleDriver))
		{
			driver.GET("/assignments", handler.ListMyAssignments)
			driver.POST("/assignments/:id/confirm", handler.Confirm)
			driver.POST("/assignments/:id/cancel", handler.Cancel)
			driver.POST("/assignments/:id/arrive", handler.Arrive)
			driver.POST("/assignments/:id/start", handler.Start)
			driver.POST("/assignments/:id/complete", handler.Complete)
			driver.PATCH("/assignments/:id/counts", handler.UpdateCounts)

			driver.POST("/windows/:id/bids", handler.SubmitBid)
			driver.POST("/windows/:id/claim", handler.Claim)

			driver.PUT("/drivers/:id/preferences", handler.UpdatePreferences)

			driver.POST("/subscriptions", handler.Subscribe)
			driver.DELETE("/subscriptions", handler.Unsubscribe)
		}

		// Shared reads: drivers and managers.
		shared := api.Group("", mw.Authorize(mw.RoleDriver, mw.RoleManager))
		{
			shared.GET("/assignments/:id", handler.GetAssignment)
			shared.GET("/windows", caching, handler.ListOpenWindows)
			shared.GET("/windows/:id", handler.GetWindow)
			shared.GET("/drivers/:id/health", handler.GetDriverHealth)
		}

		manager := api.Group("/manager", mw.Authorize(mw.RoleManager))
		{
			manager.POST("/assignments/:id/assign", handler.ManagerAssign)
			manager.POST("/assignments/:id/emergency", handler.OpenEmergency)
			manager.POST("/windows/:id/close", handler.ManagerClose)
			manager.GET("/assignments/:id/events", handler.ListAssignmentEvents)
		}
	}

	return r
}
