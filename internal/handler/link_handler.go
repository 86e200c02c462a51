package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/Monthlyaway/short-link-analytics/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const healthTimeout = 2 * time.Second

// Resolver is the redirect entry point
type Resolver interface {
	Resolve(ctx context.Context, shortCode string, meta model.ClientMetadata) (*service.Resolution, error)
}

// LinkHandler handles HTTP requests for links
type LinkHandler struct {
	resolver Resolver
	links    *service.LinkService
	baseURL  string
	log      zerolog.Logger
}

// NewLinkHandler creates a new link handler instance
func NewLinkHandler(resolver Resolver, links *service.LinkService, baseURL string, log zerolog.Logger) *LinkHandler {
	return &LinkHandler{
		resolver: resolver,
		links:    links,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log.With().Str("component", "handler").Logger(),
	}
}

// Response represents a generic API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateLinkRequest represents the request body for creating a short URL
type CreateLinkRequest struct {
	OriginalURL string     `json:"original_url" binding:"required"`
	CustomAlias string     `json:"custom_alias,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
}

// UpdateLinkRequest represents the request body for changing a link's target
type UpdateLinkRequest struct {
	OriginalURL string `json:"original_url" binding:"required"`
}

// LinkResponse describes a link
type LinkResponse struct {
	ShortCode   string     `json:"short_code"`
	ShortURL    string     `json:"short_url"`
	OriginalURL string     `json:"original_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ClickResponse is one recorded click
type ClickResponse struct {
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
}

// StatsResponse holds the usage of a link
type StatsResponse struct {
	ShortCode     string          `json:"short_code"`
	OriginalURL   string          `json:"original_url"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	ClickCount    int64           `json:"click_count"`
	PendingClicks int64           `json:"pending_clicks"`
	LastAccessed  *time.Time      `json:"last_accessed,omitempty"`
	RecentClicks  []ClickResponse `json:"recent_clicks"`
}

// SearchResponse lists the links of one URL
type SearchResponse struct {
	Links []LinkResponse `json:"links"`
	Count int            `json:"count"`
}

// Redirect handles GET /:short_code
func (h *LinkHandler) Redirect(c *gin.Context) {
	shortCode := c.Param("short_code")

	res, err := h.resolver.Resolve(c.Request.Context(), shortCode, model.ClientMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Redirect(http.StatusFound, res.URL)
}

// CreateLink handles POST /api/v1/shorten
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	link, err := h.links.Create(c.Request.Context(), service.CreateLinkInput{
		OriginalURL: req.OriginalURL,
		CustomAlias: req.CustomAlias,
		ExpiresAt:   req.ExpiresAt,
		Owner:       req.Owner,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Data: h.linkResponse(link),
	})
}

// GetLink handles GET /api/v1/links/:short_code
func (h *LinkHandler) GetLink(c *gin.Context) {
	link, err := h.links.Info(c.Request.Context(), c.Param("short_code"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: h.linkResponse(link)})
}

// GetStats handles GET /api/v1/links/:short_code/stats
func (h *LinkHandler) GetStats(c *gin.Context) {
	stats, err := h.links.Stats(c.Request.Context(), c.Param("short_code"))
	if err != nil {
		h.fail(c, err)
		return
	}

	clicks := make([]ClickResponse, 0, len(stats.RecentClicks))
	for _, click := range stats.RecentClicks {
		clicks = append(clicks, ClickResponse{
			Timestamp: click.Timestamp,
			IPAddress: click.IPAddress,
			UserAgent: click.UserAgent,
			Referer:   click.Referer,
		})
	}

	link := stats.Link
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: StatsResponse{
			ShortCode:     link.ShortCode,
			OriginalURL:   link.OriginalURL,
			CreatedAt:     link.CreatedAt,
			ExpiresAt:     link.ExpiresAt,
			ClickCount:    link.ClickCount,
			PendingClicks: stats.PendingClicks,
			LastAccessed:  link.LastAccessed,
			RecentClicks:  clicks,
		},
	})
}

// UpdateLink handles PUT /api/v1/links/:short_code
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	link, err := h.links.Update(c.Request.Context(), c.Param("short_code"), req.OriginalURL)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: h.linkResponse(link)})
}

// DeleteLink handles DELETE /api/v1/links/:short_code
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	if err := h.links.Delete(c.Request.Context(), c.Param("short_code")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Search handles GET /api/v1/search?original_url=
func (h *LinkHandler) Search(c *gin.Context) {
	links, err := h.links.Search(c.Request.Context(), c.Query("original_url"))
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := SearchResponse{Links: make([]LinkResponse, 0, len(links)), Count: len(links)}
	for i := range links {
		resp.Links = append(resp.Links, h.linkResponse(&links[i]))
	}
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: resp})
}

// HealthCheck handles GET /health. It answers 503 when MySQL or Redis is
// unreachable.
func (h *LinkHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.links.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, Response{
			Code:    http.StatusServiceUnavailable,
			Message: "Unavailable: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "OK",
	})
}

// fail maps service errors onto HTTP statuses
func (h *LinkHandler) fail(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "Short URL not found"
	case errors.Is(err, service.ErrGone):
		status, message = http.StatusGone, "Short URL has expired"
	case errors.Is(err, service.ErrAliasTaken):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, service.ErrInvalidAlias),
		errors.Is(err, service.ErrInvalidExpiry):
		status, message = http.StatusBadRequest, err.Error()
	default:
		_ = c.Error(err)
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	c.JSON(status, Response{Code: status, Message: message})
}

func (h *LinkHandler) linkResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		ShortCode:   link.ShortCode,
		ShortURL:    h.baseURL + "/" + link.ShortCode,
		OriginalURL: link.OriginalURL,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}
}
