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
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RewardCreditParams input for a non-market (reward or refund) ledger entry
type RewardCreditParams struct {
	EntryType        models.CreditEntryType // REWARD (default) or REFUND
	DepositorAddress string
	MasterAccountID  *string
	Points           int64
	RewardType       string
	Description      string
	RelatedItems     []string
}

// CreditLedgerRepository defines data access for the points ledger
type CreditLedgerRepository interface {
	// Balance
	SumPointsRemainingForWalletAddress(ctx context.Context, wallet string) (int64, error)
	FindActiveDepositsForWalletAddress(ctx context.Context, wallet string) ([]*models.CreditLedgerEntry, error)
	GetEntry(ctx context.Context, id string) (*models.CreditLedgerEntry, error)

	// Mutations
	DeductPointsFromDeposit(ctx context.Context, entryID string, amount int64) error
	CreateRewardCreditEntry(ctx context.Context, params RewardCreditParams) (*models.CreditLedgerEntry, error)
	CreateDepositEntry(ctx context.Context, entry *models.CreditLedgerEntry) (bool, error)

	// Audit trail
	RecordDeductions(ctx context.Context, rows []*models.CreditDeduction) error
	ListDeductions(ctx context.Context, deductionID string) ([]*models.CreditDeduction, error)

	// Transaction runs fn against a repository bound to one database transaction
	Transaction(ctx context.Context, fn func(repo CreditLedgerRepository) error) error
}

// creditLedgerRepository implements CreditLedgerRepository
type creditLedgerRepository struct {
	db *gorm.DB
}

// NewCreditLedgerRepository creates a new CreditLedgerRepository instance
func NewCreditLedgerRepository(db *gorm.DB) CreditLedgerRepository {
	return &creditLedgerRepository{db: db}
}

// SumPointsRemainingForWalletAddress total spendable points of a wallet
func (r *creditLedgerRepository) SumPointsRemainingForWalletAddress(ctx context.Context, wallet string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Select("COALESCE(SUM(points_remaining), 0)").
		Where("depositor_address = ? AND points_remaining > 0", utils.NormalizeAddress(wallet)).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum points for %s: %w", wallet, err)
	}
	return total, nil
}

// FindActiveDepositsForWalletAddress entries with points left, in consumption order:
// reward/refund first, then ascending funding rate, then oldest first
func (r *creditLedgerRepository) FindActiveDepositsForWalletAddress(ctx context.Context, wallet string) ([]*models.CreditLedgerEntry, error) {
	var entries []*models.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("depositor_address = ? AND points_remaining > 0", utils.NormalizeAddress(wallet)).
		Order("CASE WHEN funding_rate_applied IS NULL THEN 0 ELSE 1 END").
		Order("funding_rate_applied ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find active deposits for %s: %w", wallet, err)
	}
	return entries, nil
}

// GetEntry retrieves a ledger entry by ID
func (r *creditLedgerRepository) GetEntry(ctx context.Context, id string) (*models.CreditLedgerEntry, error) {
	var entry models.CreditLedgerEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ledger entry %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &entry, nil
}

// DeductPointsFromDeposit decrements one entry. The update only applies while the entry
// still holds at least amount, so a stale read can never drive it negative.
func (r *creditLedgerRepository) DeductPointsFromDeposit(ctx context.Context, entryID string, amount int64) error {
	if amount <= 0 {
		return apperrors.ValidationError("amount", "must be positive")
	}

	result := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Where("id = ? AND points_remaining >= ?", entryID, amount).
		Updates(map[string]interface{}{
			"points_remaining": gorm.Expr("points_remaining - ?", amount),
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deduct %d points from %s: %w", amount, entryID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ledger entry %s: %w", entryID, apperrors.ErrConcurrentModification)
	}
	return nil
}

// CreateRewardCreditEntry inserts a reward or refund entry with no funding rate
func (r *creditLedgerRepository) CreateRewardCreditEntry(ctx context.Context, params RewardCreditParams) (*models.CreditLedgerEntry, error) {
	if params.Points <= 0 {
		return nil, apperrors.ValidationError("points", "must be positive")
	}
	if !utils.IsEvmAddress(params.DepositorAddress) {
		return nil, apperrors.ValidationError("depositor_address", "invalid address")
	}

	entryType := params.EntryType
	if entryType == "" {
		entryType = models.CreditEntryTypeReward
	}
	if entryType == models.CreditEntryTypeDeposit {
		return nil, apperrors.ValidationError("entry_type", "reward entries cannot be market deposits")
	}

	entry := &models.CreditLedgerEntry{
		ID:               uuid.New().String(),
		EntryType:        entryType,
		DepositorAddress: utils.NormalizeAddress(params.DepositorAddress),
		MasterAccountID:  params.MasterAccountID,
		PointsCredited:   params.Points,
		PointsRemaining:  params.Points,
		RewardType:       params.RewardType,
		Description:      params.Description,
		RelatedItems:     pq.StringArray(params.RelatedItems),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create reward entry: %w", err)
	}
	return entry, nil
}

// CreateDepositEntry inserts a market deposit. Returns false when an entry for the same
// (tx hash, log index) already exists.
func (r *creditLedgerRepository) CreateDepositEntry(ctx context.Context, entry *models.CreditLedgerEntry) (bool, error) {
	if entry.DepositTxHash == nil || entry.DepositLogIndex == nil {
		return false, apperrors.ValidationError("deposit_tx_hash", "deposit entries need a tx hash and log index")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.EntryType == "" {
		entry.EntryType = models.CreditEntryTypeDeposit
	}
	entry.DepositorAddress = utils.NormalizeAddress(entry.DepositorAddress)
	entry.TokenAddress = utils.NormalizeAddress(entry.TokenAddress)
	hash := utils.NormalizeTxHash(*entry.DepositTxHash)
	entry.DepositTxHash = &hash

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create deposit entry: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordDeductions writes the per-entry audit rows of one spend
func (r *creditLedgerRepository) RecordDeductions(ctx context.Context, rows []*models.CreditDeduction) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record deductions: %w", err)
	}
	return nil
}

// ListDeductions returns the audit rows of one spend in consumption order
func (r *creditLedgerRepository) ListDeductions(ctx context.Context, deductionID string) ([]*models.CreditDeduction, error) {
	var rows []*models.CreditDeduction
	err := r.db.WithContext(ctx).
		Where("deduction_id = ?", deductionID).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Transaction runs fn inside a database transaction
func (r *creditLedgerRepository) Transaction(ctx context.Context, fn func(repo CreditLedgerRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&creditLedgerRepository{db: tx})
	})
}
