package handlers

import (
	"context"
	"net/http"
	"strconv"

	"credit-backend/internal/models"
	"credit-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WithdrawalService the withdrawal operations exposed over HTTP
type WithdrawalService interface {
	InitiateWithdrawal(ctx context.Context, userAddress, tokenAddress, fundAddress string) (*services.InitiateWithdrawalResult, error)
	GetRequest(ctx context.Context, txHash string) (*models.WithdrawalRequest, error)
	ListRequests(ctx context.Context, status models.WithdrawalRequestStatus, limit int) ([]*models.WithdrawalRequest, error)
	CompleteRequest(ctx context.Context, txHash string, status models.WithdrawalRequestStatus) (*models.WithdrawalRequest, error)
}

// WithdrawalHandler withdrawal initiation and lookup
type WithdrawalHandler struct {
	withdrawals WithdrawalService
	logger      *logrus.Logger
}

// NewWithdrawalHandler creates a new WithdrawalHandler
func NewWithdrawalHandler(withdrawals WithdrawalService, logger *logrus.Logger) *WithdrawalHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WithdrawalHandler{withdrawals: withdrawals, logger: logger}
}

// InitiateWithdrawalRequest body of POST /withdrawals
type InitiateWithdrawalRequest struct {
	UserAddress  string `json:"user_address" binding:"required"`
	TokenAddress string `json:"token_address" binding:"required"`
	FundAddress  string `json:"fund_address"`
}

// InitiateWithdrawalHandler POST /api/v1/withdrawals
// Expected refusals (no account, no collateral, already pending) answer 200 with success=false.
func (h *WithdrawalHandler) InitiateWithdrawalHandler(c *gin.Context) {
	var req InitiateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := h.withdrawals.InitiateWithdrawal(c.Request.Context(), req.UserAddress, req.TokenAddress, req.FundAddress)
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetWithdrawalHandler GET /api/v1/withdrawals/:txHash
func (h *WithdrawalHandler) GetWithdrawalHandler(c *gin.Context) {
	request, err := h.withdrawals.GetRequest(c.Request.Context(), c.Param("txHash"))
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    request,
	})
}

// ListWithdrawalsHandler GET /api/v1/withdrawals?status=PENDING_PROCESSING&limit=50
func (h *WithdrawalHandler) ListWithdrawalsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	requests, err := h.withdrawals.ListRequests(c.Request.Context(), models.WithdrawalRequestStatus(c.Query("status")), limit)
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    requests,
		"total":   len(requests),
	})
}

// CompleteWithdrawalRequest body of POST /withdrawals/:txHash/status
type CompleteWithdrawalRequest struct {
	Status models.WithdrawalRequestStatus `json:"status" binding:"required"`
}

// CompleteWithdrawalHandler POST /api/v1/withdrawals/:txHash/status, called by the payout executor
func (h *WithdrawalHandler) CompleteWithdrawalHandler(c *gin.Context) {
	var req CompleteWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	request, err := h.withdrawals.CompleteRequest(c.Request.Context(), c.Param("txHash"), req.Status)
	if err != nil {
		respondWithServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    request,
	})
}
