package handler

import (
	"github.com/gin-gonic/gin"
)

// Route templates, also used as keys for per-endpoint middleware
const (
	RouteHealth   = "/health"
	RouteRedirect = "/:short_code"
	RouteShorten  = "/api/v1/shorten"
)

// RouterOptions carries middleware built from configuration
type RouterOptions struct {
	// Global runs in front of every route
	Global []gin.HandlerFunc
	// Endpoint adds middleware to a single route template
	Endpoint map[string][]gin.HandlerFunc
}

// NewRouter registers every route on a fresh engine
func NewRouter(h *LinkHandler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(opts.Global...)

	with := func(route string, handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, opts.Endpoint[route]...), handler)
	}

	router.GET(RouteHealth, h.HealthCheck)
	router.GET(RouteRedirect, with(RouteRedirect, h.Redirect)...)

	api := router.Group("/api/v1")
	{
		api.POST("/shorten", with(RouteShorten, h.CreateLink)...)
		api.GET("/search", h.Search)
		api.GET("/links/:short_code", h.GetLink)
		api.GET("/links/:short_code/stats", h.GetStats)
		api.PUT("/links/:short_code", h.UpdateLink)
		api.DELETE("/links/:short_code", h.DeleteLink)
	}

	return router
}
