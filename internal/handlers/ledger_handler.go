package handlers

import (
	"context"
	"net/http"

	"credit-backend/internal/models"
	"credit-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LedgerService the ledger operations exposed over HTTP
type LedgerService interface {
	GetBalance(ctx context.Context, wallet string) (int64, error)
	ListActiveDeposits(ctx context.Context, wallet string) ([]*models.CreditLedgerEntry, error)
	DeductPointsForTraining(ctx context.Context, req services.DeductPointsRequest) (*services.DeductResult, error)
	AddPoints(ctx context.Context, req services.AddPointsRequest) (*services.AddPointsResult, error)
	GetDeduction(ctx context.Context, deductionID string) ([]*models.CreditDeduction, error)
}

// LedgerHandler wallet balance, spend and credit endpoints
type LedgerHandler struct {
	ledger LedgerService
	logger *logrus.Logger
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledger LedgerService, logger *logrus.Logger) *LedgerHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// DeductPointsRequest body of POST /wallets/:address/deductions
type DeductPointsRequest struct {
	Points   int64                  `json:"points" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// AddCreditsRequest body of POST /wallets/:address/credits
type AddCreditsRequest struct {
	MasterAccountID *string                `json:"master_account_id"`
	Points          int64                  `json:"points" binding:"required"`
	EntryType       models.CreditEntryType `json:"entry_type"`
	RewardType      string                 `json:"reward_type"`
	Description     string                 `json:"description"`
	RelatedItems    []string               `json:"related_items"`
}

// GetBalanceHandler GET /api/v1/wallets/:address/balance
func (h *LedgerHandler) GetBalanceHandler(c *gin.Context) {
	wallet := c.Param("address")
	balance, err := h.ledger.GetBalance(c.Request.Context(), wallet)
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"wallet_address": wallet,
		"balance":        balance,
	})
}

// ListDepositsHandler GET /api/v1/wallets/:address/deposits
func (h *LedgerHandler) ListDepositsHandler(c *gin.Context) {
	entries, err := h.ledger.ListActiveDeposits(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"total":   len(entries),
	})
}

// DeductPointsHandler POST /api/v1/wallets/:address/deductions
func (h *LedgerHandler) DeductPointsHandler(c *gin.Context) {
	var req DeductPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := h.ledger.DeductPointsForTraining(c.Request.Context(), services.DeductPointsRequest{
		WalletAddress:  c.Param("address"),
		PointsToDeduct: req.Points,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// AddCreditsHandler POST /api/v1/wallets/:address/credits
func (h *LedgerHandler) AddCreditsHandler(c *gin.Context) {
	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := h.ledger.AddPoints(c.Request.Context(), services.AddPointsRequest{
		WalletAddress:   c.Param("address"),
		MasterAccountID: req.MasterAccountID,
		Points:          req.Points,
		EntryType:       req.EntryType,
		RewardType:      req.RewardType,
		Description:     req.Description,
		RelatedItems:    req.RelatedItems,
	})
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetDeductionHandler GET /api/v1/deductions/:id
func (h *LedgerHandler) GetDeductionHandler(c *gin.Context) {
	rows, err := h.ledger.GetDeduction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
	})
}
