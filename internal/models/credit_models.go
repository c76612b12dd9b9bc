package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Ledger entry type
type CreditEntryType string

const (
	CreditEntryTypeDeposit CreditEntryType = "DEPOSIT" // market deposit, carries a funding rate
	CreditEntryTypeReward  CreditEntryType = "REWARD"  // free credit
	CreditEntryTypeRefund  CreditEntryType = "REFUND"  // returned spend
)

// CreditLedgerEntry one funding event (deposit, reward or refund) with its own remaining balance.
// Rows are never deleted; exhausted entries stay at zero as audit records.
type CreditLedgerEntry struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"` // UUID
	EntryType        CreditEntryType `json:"entry_type" gorm:"size:16;not null;index"`
	DepositorAddress string          `json:"depositor_address" gorm:"size:42;not null;index:idx_ledger_wallet_remaining"` // lower-cased
	MasterAccountID  *string         `json:"master_account_id,omitempty" gorm:"size:64;index"`                             // nil for anonymous credit

	PointsCredited  int64 `json:"points_credited" gorm:"not null"`
	PointsRemaining int64 `json:"points_remaining" gorm:"not null;index:idx_ledger_wallet_remaining"`

	// nil for reward/refund entries
	FundingRateApplied decimal.NullDecimal `json:"funding_rate_applied" gorm:"type:numeric(20,10)"`

	// Deposit provenance (market deposits only)
	ChainID          *uint64             `json:"chain_id,omitempty"`
	TokenAddress     string              `json:"token_address,omitempty" gorm:"size:42"`
	DepositTxHash    *string             `json:"deposit_tx_hash,omitempty" gorm:"size:66;uniqueIndex:idx_ledger_deposit_event"`
	DepositLogIndex  *uint               `json:"deposit_log_index,omitempty" gorm:"uniqueIndex:idx_ledger_deposit_event"`
	DepositBlock     *uint64             `json:"deposit_block,omitempty"`
	DepositAmountWei string              `json:"deposit_amount_wei,omitempty" gorm:"size:80"`
	UsdValue         decimal.NullDecimal `json:"usd_value" gorm:"type:numeric(30,10)"`

	RewardType   string         `json:"reward_type,omitempty" gorm:"size:64"`
	Description  string         `json:"description,omitempty" gorm:"type:text"`
	RelatedItems pq.StringArray `json:"related_items,omitempty" gorm:"type:text[]"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for CreditLedgerEntry
func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}

// IsMarketDeposit reports whether the entry carries a funding-rate cost basis
func (e *CreditLedgerEntry) IsMarketDeposit() bool {
	return e.FundingRateApplied.Valid
}

// CreditDeduction one per-deposit decrement of a spend. All rows of one spend share DeductionID.
type CreditDeduction struct {
	ID            string `json:"id" gorm:"primaryKey;size:36"`
	DeductionID   string `json:"deduction_id" gorm:"size:36;not null;index"`
	Sequence      int    `json:"sequence" gorm:"not null"` // position in the consumption order
	WalletAddress string `json:"wallet_address" gorm:"size:42;not null;index"`
	LedgerEntryID string `json:"ledger_entry_id" gorm:"size:36;not null;index"`

	Points             int64               `json:"points" gorm:"not null"`
	RemainingBefore    int64               `json:"remaining_before" gorm:"not null"`
	RemainingAfter     int64               `json:"remaining_after" gorm:"not null"`
	FundingRateApplied decimal.NullDecimal `json:"funding_rate_applied" gorm:"type:numeric(20,10)"`

	Metadata map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json;type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for CreditDeduction
func (CreditDeduction) TableName() string {
	return "credit_deductions"
}
