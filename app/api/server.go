package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates the HTTP server with all routes configured. baseURL is
// the public base URL of the service; when set, the root endpoint advertises
// absolute links.
func NewServer(handler *Handler, apiAccessKey, baseURL string, limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	if limiter != nil {
		r.Use(rateLimitMiddleware(limiter))
	}

	setupRoutes(r, handler, apiAccessKey, baseURL)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey, baseURL string) {
	// Public news endpoints
	r.GET("/news", handler.GetNews)
	r.GET("/latest", handler.GetLatest)
	r.GET("/news/:slug", handler.GetNewsItem)

	// Health and status endpoints
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	// API endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.POST("/fetch", handler.APIFetchFeed)
			api.POST("/extract", handler.APIExtractContent)
			api.POST("/refresh", handler.APIRefresh)

			api.GET("/preferences", handler.APIGetPreferences)
			api.POST("/preferences/enable", handler.APIEnableFeed)
			api.POST("/preferences/disable", handler.APIDisableFeed)
			api.POST("/preferences/block", handler.APIBlockFeed)
			api.POST("/preferences/unblock", handler.APIUnblockFeed)
			api.POST("/preferences/favorite", handler.APIFavoriteFeed)
			api.POST("/preferences/unfavorite", handler.APIUnfavoriteFeed)
			api.POST("/preferences/categories/enable", handler.APIEnableCategory)
			api.POST("/preferences/categories/disable", handler.APIDisableCategory)
			api.POST("/preferences/categories/hide", handler.APIHideCategory)
			api.POST("/preferences/categories/unhide", handler.APIUnhideCategory)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	// Root endpoint with basic information
	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"news":   baseURL + "/news",
			"latest": baseURL + "/latest",
			"item":   baseURL + "/news/<slug>",
			"health": baseURL + "/health",
			"stats":  baseURL + "/stats",
		}

		if apiAccessKey != "" {
			endpoints["fetch"] = baseURL + "/api/fetch (POST, requires X-API-Key header)"
			endpoints["extract"] = baseURL + "/api/extract (POST, requires X-API-Key header)"
			endpoints["refresh"] = baseURL + "/api/refresh (POST, requires X-API-Key header)"
			endpoints["preferences"] = baseURL + "/api/preferences (requires X-API-Key header)"
		}

		c.JSON(200, gin.H{
			"service":     "News Comb",
			"description": "News feed aggregator with health tracking, preference filtering, and batched merging",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
