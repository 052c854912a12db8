package promotion

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dealhealth/internal/constants"
	"dealhealth/internal/logger"
	"dealhealth/pkg/errors"
)

// StatsProvider exposes pipeline counters to the query surface.
type StatsProvider interface {
	Snapshot() map[string]int64
}

// Handler is the read-only query surface over promotion health.
type Handler struct {
	service *Service
	stats   StatsProvider
	logger  logger.Logger
}

func NewHandler(service *Service, stats StatsProvider, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		promotions := v1.Group("/promotions")
		{
			promotions.GET("/by-health", h.ListByHealthRange)
			promotions.GET("/:id/health", h.GetHealth)
			promotions.GET("/:id/history", h.GetHistory)
		}

		v1.GET("/merchants/:id/promotions", h.ListMerchantPromotions)
		v1.GET("/queue/stats", h.GetQueueStats)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) GetHealth(c *gin.Context) {
	id := c.Param("id")

	state, err := h.service.GetPromotionHealth(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if state == nil {
		h.handleError(c, errors.ErrNotFound.WithDetail("message", "promotion not found: "+id))
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) GetHistory(c *gin.Context) {
	id := c.Param("id")

	limit := constants.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("message", "limit must be a positive integer")))
			return
		}
		if parsed > constants.MaxHistoryLimit {
			parsed = constants.MaxHistoryLimit
		}
		limit = parsed
	}

	history, err := h.service.GetPromotionHistory(c.Request.Context(), id, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"promotionId": id,
		"events":      history,
		"count":       len(history),
	})
}

func (h *Handler) ListMerchantPromotions(c *gin.Context) {
	merchantID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "merchant id must be an integer")))
		return
	}

	states, err := h.service.GetMerchantPromotions(c.Request.Context(), merchantID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchantId": merchantID,
		"promotions": states,
		"count":      len(states),
	})
}

func (h *Handler) ListByHealthRange(c *gin.Context) {
	minHealth, err := queryInt(c, "min_health", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "min_health must be an integer")))
		return
	}
	maxHealth, err := queryInt(c, "max_health", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "max_health must be an integer")))
		return
	}
	if minHealth < 0 || maxHealth > 100 || minHealth > maxHealth {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "health range must satisfy 0 <= min <= max <= 100")))
		return
	}

	states, err := h.service.GetPromotionsByHealthRange(c.Request.Context(), minHealth, maxHealth)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"minHealth":  minHealth,
		"maxHealth":  maxHealth,
		"promotions": states,
		"count":      len(states),
	})
}

func (h *Handler) GetQueueStats(c *gin.Context) {
	if h.stats == nil {
		h.handleError(c, errors.ErrUnavailable.WithDetail("message", "pipeline stats unavailable"))
		return
	}

	c.JSON(http.StatusOK, h.stats.Snapshot())
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
