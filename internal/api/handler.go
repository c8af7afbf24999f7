// Package api is the HTTP request layer: quote and history queries,
// watchlist and alert management, plus the WebSocket and metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"quote_pulse/internal/broadcast"
	"quote_pulse/internal/domain"
	"quote_pulse/internal/infra/ws"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const defaultHistoryWindow = 24 * time.Hour

// QuoteReader serves quote and history queries.
type QuoteReader interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	History(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error)
}

// WatchlistManager manages per-user watchlists.
type WatchlistManager interface {
	Add(ctx context.Context, userID, symbol string) (string, error)
	Remove(ctx context.Context, userID, symbol string) error
	Watchlist(ctx context.Context, userID string) ([]string, error)
	Popular(ctx context.Context) ([]string, error)
}

// AlertManager manages per-user alerts.
type AlertManager interface {
	Create(ctx context.Context, userID, symbol, alertType string, threshold decimal.Decimal) (*domain.Alert, error)
	Delete(ctx context.Context, userID, alertID string) error
	List(ctx context.Context, userID string) ([]*domain.Alert, error)
}

// Handler holds the collaborators behind every route.
type Handler struct {
	Quotes    QuoteReader
	Watchlist WatchlistManager
	Alerts    AlertManager
	WS        http.Handler
	Metrics   http.Handler
	Health    func() gin.H
	Now       func() time.Time
}

type watchlistRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

type alertRequest struct {
	Symbol    string          `json:"symbol" binding:"required"`
	Type      string          `json:"alert_type" binding:"required"`
	Threshold decimal.Decimal `json:"threshold"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// GetQuote returns the latest quote of a symbol
// GET /api/v1/quotes/:symbol
func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.Quotes.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": broadcast.NewQuotePayload(q)})
}

// GetHistory returns recorded price changes. from/to are RFC3339 and
// default to the last 24 hours; both are truncated to the minute.
// GET /api/v1/quotes/:symbol/history
func (h *Handler) GetHistory(c *gin.Context) {
	to := h.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t.UTC()
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t.UTC()
	}
	from, to = from.Truncate(time.Minute), to.Truncate(time.Minute)

	ticks, err := h.Quotes.History(c.Request.Context(), c.Param("symbol"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": ticks,
		"range": gin.H{
			"from": from,
			"to":   to,
		},
	})
}

// GetWatchlist returns the caller's watchlist
// GET /api/v1/watchlist
func (h *Handler) GetWatchlist(c *gin.Context) {
	symbols, err := h.Watchlist.Watchlist(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": symbols})
}

// AddToWatchlist
// POST /api/v1/watchlist
func (h *Handler) AddToWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	symbol, err := h.Watchlist.Add(c.Request.Context(), userID(c), req.Symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"symbol": symbol}})
}

// RemoveFromWatchlist
// DELETE /api/v1/watchlist/:symbol
func (h *Handler) RemoveFromWatchlist(c *gin.Context) {
	if err := h.Watchlist.Remove(c.Request.Context(), userID(c), c.Param("symbol")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPopular returns the most watched symbols
// GET /api/v1/popular
func (h *Handler) GetPopular(c *gin.Context) {
	symbols, err := h.Watchlist.Popular(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": symbols})
}

// GetAlerts returns the caller's alerts
// GET /api/v1/alerts
func (h *Handler) GetAlerts(c *gin.Context) {
	alerts, err := h.Alerts.List(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

// CreateAlert
// POST /api/v1/alerts
func (h *Handler) CreateAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, alert_type and threshold are required"})
		return
	}
	a, err := h.Alerts.Create(c.Request.Context(), userID(c), req.Symbol, req.Type, req.Threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": a})
}

// DeleteAlert
// DELETE /api/v1/alerts/:id
func (h *Handler) DeleteAlert(c *gin.Context) {
	if err := h.Alerts.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetHealth
// GET /health
func (h *Handler) GetHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "time": h.now().UTC()}
	if h.Health != nil {
		for k, v := range h.Health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func userID(c *gin.Context) string {
	return ws.UserIDFromRequest(c.Request)
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidAlert),
		errors.Is(err, domain.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingUser):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQuoteUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
