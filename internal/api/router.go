package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", h.GetHealth)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.WS != nil {
		router.GET("/ws", gin.WrapH(h.WS))
	}

	api := router.Group("/api/v1")
	{
		quotes := api.Group("/quotes")
		{
			quotes.GET("/:symbol", h.GetQuote)
			quotes.GET("/:symbol/history", h.GetHistory)
		}

		watchlist := api.Group("/watchlist")
		{
			watchlist.GET("", h.GetWatchlist)
			watchlist.POST("", h.AddToWatchlist)
			watchlist.DELETE("/:symbol", h.RemoveFromWatchlist)
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("", h.GetAlerts)
			alerts.POST("", h.CreateAlert)
			alerts.DELETE("/:id", h.DeleteAlert)
		}

		api.GET("/popular", h.GetPopular)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			return
		}
		slog.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
