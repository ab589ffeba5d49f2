package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/models"
	"signalrelay/internal/pipeline"
	"signalrelay/internal/repository"
)

// AdminHandler mutates routing state: coin pairs, mutes and routes. Changes
// take effect on the next routing snapshot; in-flight deliveries are never
// re-resolved.
type AdminHandler struct {
	Repo repository.Repository
}

func (h *AdminHandler) Register(r *gin.Engine) {
	group := r.Group("/api/admin")
	group.GET("/pairs", h.listPairs)
	group.POST("/pairs", h.addPair)
	group.POST("/pairs/:symbol/enable", h.enablePair)
	group.POST("/pairs/:symbol/disable", h.disablePair)
	group.GET("/mutes", h.listMutes)
	group.PUT("/mutes", h.putMute)
	group.GET("/routes", h.listRoutes)
	group.PUT("/routes", h.putRoute)
	group.DELETE("/routes", h.deleteRoute)
}

func (h *AdminHandler) listPairs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	enabledOnly := c.Query("enabled") == "true"
	items, err := h.Repo.ListCoinPairs(c.Request.Context(), enabledOnly)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type addPairRequest struct {
	Symbol  string `json:"symbol" binding:"required"`
	AddedBy string `json:"added_by"`
}

func (h *AdminHandler) addPair(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req addPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "symbol required", nil)
		return
	}
	addedBy := strings.TrimSpace(req.AddedBy)
	if addedBy == "" {
		addedBy = "api"
	}
	item := &models.CoinPair{
		Symbol:  symbol,
		Enabled: true,
		AddedBy: addedBy,
		AddedAt: time.Now().UTC(),
	}
	if err := h.Repo.UpsertCoinPair(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *AdminHandler) enablePair(c *gin.Context) {
	h.setPairEnabled(c, true)
}

func (h *AdminHandler) disablePair(c *gin.Context) {
	h.setPairEnabled(c, false)
}

func (h *AdminHandler) setPairEnabled(c *gin.Context, enabled bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "symbol required", nil)
		return
	}
	if err := h.Repo.SetCoinPairEnabled(c.Request.Context(), symbol, enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"symbol": symbol, "enabled": enabled}, nil)
}

func (h *AdminHandler) listMutes(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListActiveMutes(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putMuteRequest struct {
	Key    string `json:"key" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	Active *bool  `json:"active"`
}

func (h *AdminHandler) putMute(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req putMuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind != models.MuteKindSymbol && kind != models.MuteKindTimeframe {
		Error(c, http.StatusBadRequest, "kind must be symbol or timeframe", nil)
		return
	}
	key := strings.TrimSpace(req.Key)
	if kind == models.MuteKindSymbol {
		key = strings.ToUpper(key)
	} else if normalized, ok := pipeline.NormalizeTimeframe(key); ok {
		key = normalized
	} else {
		Error(c, http.StatusBadRequest, "unsupported timeframe", nil)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	item := &models.Mute{Key: key, Kind: kind, Active: active}
	if err := h.Repo.UpsertMute(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *AdminHandler) listRoutes(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListRoutes(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putRouteRequest struct {
	Kind        string `json:"kind" binding:"required"`
	Key         string `json:"key"`
	Destination string `json:"destination" binding:"required"`
}

func (h *AdminHandler) putRoute(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req putRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	key := strings.TrimSpace(req.Key)
	switch kind {
	case models.RouteKindSymbol:
		key = strings.ToUpper(key)
		if key == "" {
			Error(c, http.StatusBadRequest, "key required for symbol route", nil)
			return
		}
	case models.RouteKindTimeframe:
		normalized, ok := pipeline.NormalizeTimeframe(key)
		if !ok {
			Error(c, http.StatusBadRequest, "unsupported timeframe", nil)
			return
		}
		key = normalized
	case models.RouteKindDefault:
		key = ""
	default:
		Error(c, http.StatusBadRequest, "kind must be symbol, timeframe or default", nil)
		return
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		Error(c, http.StatusBadRequest, "destination required", nil)
		return
	}
	item := &models.Route{Kind: kind, Key: key, Destination: dest}
	if err := h.Repo.UpsertRoute(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *AdminHandler) deleteRoute(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(c.Query("kind")))
	key := strings.TrimSpace(c.Query("key"))
	if kind == models.RouteKindSymbol {
		key = strings.ToUpper(key)
	}
	if kind == "" {
		Error(c, http.StatusBadRequest, "kind required", nil)
		return
	}
	if err := h.Repo.DeleteRoute(c.Request.Context(), kind, key); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"kind": kind, "key": key}, nil)
}
