package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/models"
	"credit-backend/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithdrawalRequestRepository defines the interface for WithdrawalRequest data access
type WithdrawalRequestRepository interface {
	// Create inserts the request unless one with the same tx hash exists; returns whether it was inserted
	Create(ctx context.Context, request *models.WithdrawalRequest) (bool, error)
	GetByRequestTxHash(ctx context.Context, txHash string) (*models.WithdrawalRequest, error)
	FindPendingByUserAndToken(ctx context.Context, userAddress, tokenAddress string) (*models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status models.WithdrawalRequestStatus, limit int) ([]*models.WithdrawalRequest, error)
	UpdateStatus(ctx context.Context, txHash string, status models.WithdrawalRequestStatus) error
}

// withdrawalRequestRepository implements WithdrawalRequestRepository
type withdrawalRequestRepository struct {
	db *gorm.DB
}

// NewWithdrawalRequestRepository creates a new WithdrawalRequestRepository instance
func NewWithdrawalRequestRepository(db *gorm.DB) WithdrawalRequestRepository {
	return &withdrawalRequestRepository{db: db}
}

// Create creates a new withdrawal request (idempotent by request tx hash)
func (r *withdrawalRequestRepository) Create(ctx context.Context, request *models.WithdrawalRequest) (bool, error) {
	if request.RequestTxHash == "" {
		return false, apperrors.ValidationError("request_tx_hash", "required")
	}
	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	if request.Status == "" {
		request.Status = models.WithdrawalStatusPendingProcessing
	}
	request.RequestTxHash = utils.NormalizeTxHash(request.RequestTxHash)
	request.UserAddress = utils.NormalizeAddress(request.UserAddress)
	request.TokenAddress = utils.NormalizeAddress(request.TokenAddress)
	request.VaultAccount = utils.NormalizeAddress(request.VaultAccount)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(request)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create withdrawal request: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByRequestTxHash retrieves a withdrawal request by its on-chain request tx hash
func (r *withdrawalRequestRepository) GetByRequestTxHash(ctx context.Context, txHash string) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("request_tx_hash = ?", utils.NormalizeTxHash(txHash)).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("withdrawal request %s: %w", txHash, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &request, nil
}

// FindPendingByUserAndToken returns the newest PENDING_PROCESSING request of a (user, token) pair
func (r *withdrawalRequestRepository) FindPendingByUserAndToken(ctx context.Context, userAddress, tokenAddress string) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("user_address = ? AND token_address = ? AND status = ?",
			utils.NormalizeAddress(userAddress), utils.NormalizeAddress(tokenAddress), models.WithdrawalStatusPendingProcessing).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pending withdrawal for %s/%s: %w", userAddress, tokenAddress, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &request, nil
}

// ListByStatus lists requests with the given status, oldest first
func (r *withdrawalRequestRepository) ListByStatus(ctx context.Context, status models.WithdrawalRequestStatus, limit int) ([]*models.WithdrawalRequest, error) {
	var requests []*models.WithdrawalRequest
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// UpdateStatus updates the status of a withdrawal request
func (r *withdrawalRequestRepository) UpdateStatus(ctx context.Context, txHash string, status models.WithdrawalRequestStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("request_tx_hash = ?", utils.NormalizeTxHash(txHash)).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("withdrawal request %s: %w", txHash, apperrors.ErrNotFound)
	}
	return nil
}
