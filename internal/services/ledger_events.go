package services

import (
	"context"
	"time"

	"credit-backend/internal/models"

	"github.com/shopspring/decimal"
)

// PointsDeductedEvent published after a spend commits
type PointsDeductedEvent struct {
	DeductionID    string                 `json:"deduction_id"`
	WalletAddress  string                 `json:"wallet_address"`
	PointsDeducted int64                  `json:"points_deducted"`
	NewBalance     int64                  `json:"new_balance"`
	Deductions     []DeductionEntry       `json:"deductions"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// PointsAddedEvent published after a deposit, reward or refund entry is created
type PointsAddedEvent struct {
	EntryID         string                 `json:"entry_id"`
	WalletAddress   string                 `json:"wallet_address"`
	MasterAccountID *string                `json:"master_account_id,omitempty"`
	EntryType       models.CreditEntryType `json:"entry_type"`
	Points          int64                  `json:"points"`
	FundingRate     decimal.NullDecimal    `json:"funding_rate"`
	NewBalance      int64                  `json:"new_balance"`
	DepositTxHash   *string                `json:"deposit_tx_hash,omitempty"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

// WithdrawalRecordedEvent published after a withdrawal request row is persisted
type WithdrawalRecordedEvent struct {
	RequestTxHash       string    `json:"request_tx_hash"`
	ChainID             uint64    `json:"chain_id"`
	UserAddress         string    `json:"user_address"`
	TokenAddress        string    `json:"token_address"`
	MasterAccountID     string    `json:"master_account_id"`
	CollateralAmountWei string    `json:"collateral_amount_wei"`
	Source              string    `json:"source"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// LedgerEventPublisher fan-out of ledger notifications (NATS in production)
type LedgerEventPublisher interface {
	PublishPointsDeducted(ctx context.Context, event PointsDeductedEvent) error
	PublishPointsAdded(ctx context.Context, event PointsAddedEvent) error
	PublishWithdrawalRecorded(ctx context.Context, event WithdrawalRecordedEvent) error
}
