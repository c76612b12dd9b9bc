package repository

import (
	"context"
	"errors"
	"time"

	"credit-backend/internal/models"
	"credit-backend/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChainCursorRepository persists the event backfill position
type ChainCursorRepository interface {
	// Get returns the last processed block; ok is false when nothing was processed yet
	Get(ctx context.Context, chainID uint64, contract string) (block uint64, ok bool, err error)
	Save(ctx context.Context, chainID uint64, contract string, block uint64) error
}

type chainCursorRepository struct {
	db *gorm.DB
}

// NewChainCursorRepository creates a new ChainCursorRepository instance
func NewChainCursorRepository(db *gorm.DB) ChainCursorRepository {
	return &chainCursorRepository{db: db}
}

func (r *chainCursorRepository) Get(ctx context.Context, chainID uint64, contract string) (uint64, bool, error) {
	var cursor models.ChainSyncCursor
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND contract_address = ?", chainID, utils.NormalizeAddress(contract)).
		First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return cursor.LastProcessedBlock, true, nil
}

func (r *chainCursorRepository) Save(ctx context.Context, chainID uint64, contract string, block uint64) error {
	cursor := models.ChainSyncCursor{
		ChainID:            chainID,
		ContractAddress:    utils.NormalizeAddress(contract),
		LastProcessedBlock: block,
		UpdatedAt:          time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}, {Name: "contract_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "updated_at"}),
		}).
		Create(&cursor).Error
}
