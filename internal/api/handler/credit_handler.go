package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openreel/publisher-be/internal/credits"
)

func ownerParam(c *gin.Context) (int64, bool) {
	owner, err := strconv.ParseInt(c.Query("owner"), 10, 64)
	if err != nil || owner <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner query parameter is required",
		})
		return 0, false
	}
	return owner, true
}

// GetBalance handles GET /api/v1/credits/balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), owner)
	if errors.Is(err, credits.ErrBalanceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no credit balance for owner",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to get balance", slog.Int64("owner", owner), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get balance",
		})
		return
	}

	c.JSON(http.StatusOK, balance)
}

// ListTransactions handles GET /api/v1/credits/transactions
// Returns the owner's ledger entries, newest first.
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}

	limit := defaultTxLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxTxLimit {
		limit = maxTxLimit
	}

	txs, err := h.ledger.Transactions(c.Request.Context(), owner, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", slog.Int64("owner", owner), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner":        owner,
		"transactions": txs,
	})
}
