package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signalrelay/internal/repository"
)

// SignalHandler serves the read side: signal history and status counters.
type SignalHandler struct {
	Repo repository.Repository
}

func (h *SignalHandler) Register(r *gin.Engine) {
	group := r.Group("/api/signals")
	group.GET("", h.listSignals)
	group.GET("/stats", h.stats)
	group.GET("/:signal_id", h.getSignal)
}

func (h *SignalHandler) listSignals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	timeframe := strings.TrimSpace(c.Query("timeframe"))
	status := strings.TrimSpace(c.Query("status"))
	since := strings.TrimSpace(c.Query("since"))
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	var sinceTime *time.Time
	if since != "" {
		if parsed, err := time.Parse(time.RFC3339, since); err == nil {
			parsed = parsed.UTC()
			sinceTime = &parsed
		}
	}

	var symbolPtr *string
	if symbol != "" {
		symbolPtr = &symbol
	}
	var timeframePtr *string
	if timeframe != "" {
		timeframePtr = &timeframe
	}
	var statusPtr *string
	if status != "" {
		statusPtr = &status
	}

	params := repository.ListSignalsParams{
		Limit:     limit,
		Offset:    offset,
		Symbol:    symbolPtr,
		Timeframe: timeframePtr,
		Status:    statusPtr,
		Since:     sinceTime,
		OrderBy:   "received_at",
		Asc:       boolPtr(false),
	}

	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *SignalHandler) getSignal(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	signalID := strings.TrimSpace(c.Param("signal_id"))
	item, err := h.Repo.GetSignalByID(c.Request.Context(), signalID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *SignalHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()

	totals, err := h.Repo.CountSignalsByStatus(ctx, nil)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	recent, err := h.Repo.CountSignalsByStatus(ctx, &since)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	pairs, err := h.Repo.ListCoinPairs(ctx, true)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	Ok(c, gin.H{
		"totals":        totals,
		"last_24h":      recent,
		"enabled_pairs": len(pairs),
	}, nil)
}
