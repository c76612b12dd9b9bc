package models

import (
	"time"
)

// Withdrawal request status
type WithdrawalRequestStatus string

const (
	WithdrawalStatusPendingProcessing WithdrawalRequestStatus = "PENDING_PROCESSING" // recorded, waiting for payout
	WithdrawalStatusProcessed         WithdrawalRequestStatus = "PROCESSED"          // paid out by the executor
	WithdrawalStatusFailed            WithdrawalRequestStatus = "FAILED"             // executor gave up
)

// Valid reports whether s is a known status
func (s WithdrawalRequestStatus) Valid() bool {
	switch s {
	case WithdrawalStatusPendingProcessing, WithdrawalStatusProcessed, WithdrawalStatusFailed:
		return true
	}
	return false
}

// WithdrawalRequest an on-chain withdrawal request. One row per request transaction.
type WithdrawalRequest struct {
	ID                 string `json:"id" gorm:"primaryKey;size:36"`                                   // UUID
	RequestTxHash      string `json:"request_tx_hash" gorm:"size:66;not null;uniqueIndex"`            // lower-cased
	RequestBlockNumber uint64 `json:"request_block_number" gorm:"not null"`                           // block of the request tx
	ChainID            uint64 `json:"chain_id" gorm:"not null"`                                       // chain of the vault
	VaultAccount       string `json:"vault_account" gorm:"size:42;not null"`                          // vault contract
	UserAddress        string `json:"user_address" gorm:"size:42;not null;index:idx_withdrawal_pair"` // lower-cased
	TokenAddress       string `json:"token_address" gorm:"size:42;not null;index:idx_withdrawal_pair"`
	MasterAccountID    string `json:"master_account_id" gorm:"size:64;not null;index"`

	Status WithdrawalRequestStatus `json:"status" gorm:"size:32;not null;default:'PENDING_PROCESSING';index"`

	// custody snapshot at request time (wei, decimal string)
	CollateralAmountWei string `json:"collateral_amount_wei" gorm:"size:80;not null"`

	Source string `json:"source" gorm:"size:16;not null"` // "chain_event" or "user_initiated"

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for WithdrawalRequest
func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}

const (
	WithdrawalSourceChainEvent    = "chain_event"
	WithdrawalSourceUserInitiated = "user_initiated"
)

// ChainSyncCursor last fully processed block of the event backfill per (chain, contract)
type ChainSyncCursor struct {
	ChainID            uint64    `json:"chain_id" gorm:"primaryKey;autoIncrement:false"`
	ContractAddress    string    `json:"contract_address" gorm:"primaryKey;size:42"`
	LastProcessedBlock uint64    `json:"last_processed_block" gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName specifies the table name for ChainSyncCursor
func (ChainSyncCursor) TableName() string {
	return "chain_sync_cursors"
}
