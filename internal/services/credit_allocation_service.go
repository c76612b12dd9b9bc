// Package services provides the credit ledger engine, deposit ingestion,
// withdrawal processing and chain event backfill.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DeductPointsRequest a spend against a wallet's ledger
type DeductPointsRequest struct {
	WalletAddress  string
	PointsToDeduct int64
	Metadata       map[string]interface{}
}

// DeductionEntry how much one ledger entry contributed to a spend
type DeductionEntry struct {
	LedgerEntryID      string                 `json:"ledger_entry_id"`
	EntryType          models.CreditEntryType `json:"entry_type"`
	Points             int64                  `json:"points"`
	RemainingBefore    int64                  `json:"remaining_before"`
	RemainingAfter     int64                  `json:"remaining_after"`
	FundingRateApplied decimal.NullDecimal    `json:"funding_rate_applied"`
}

// DeductResult outcome of a committed spend
type DeductResult struct {
	DeductionID    string           `json:"deduction_id"`
	WalletAddress  string           `json:"wallet_address"`
	Deductions     []DeductionEntry `json:"deductions"`
	PointsDeducted int64            `json:"points_deducted"`
	NewBalance     int64            `json:"new_balance"`
}

// AddPointsRequest a reward or refund credit
type AddPointsRequest struct {
	WalletAddress   string
	MasterAccountID *string
	Points          int64
	EntryType       models.CreditEntryType // REWARD when empty
	RewardType      string
	Description     string
	RelatedItems    []string
}

// AddPointsResult outcome of a committed credit
type AddPointsResult struct {
	Entry      *models.CreditLedgerEntry `json:"entry"`
	NewBalance int64                     `json:"new_balance"`
}

// CreditAllocationService the points ledger engine. Every read-then-write on a
// wallet runs under that wallet's key in the shared GroupLock.
type CreditAllocationService struct {
	ledger    repository.CreditLedgerRepository
	locks     *utils.GroupLock
	notifier  *BackgroundNotifier
	publisher LedgerEventPublisher
	logger    *logrus.Logger
}

// NewCreditAllocationService creates a new CreditAllocationService
func NewCreditAllocationService(ledger repository.CreditLedgerRepository, locks *utils.GroupLock, logger *logrus.Logger) *CreditAllocationService {
	if locks == nil {
		locks = utils.NewGroupLock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CreditAllocationService{
		ledger: ledger,
		locks:  locks,
		logger: logger,
	}
}

// SetNotifier sets the background notifier used to publish ledger events
func (s *CreditAllocationService) SetNotifier(notifier *BackgroundNotifier) {
	s.notifier = notifier
}

// SetPublisher sets the ledger event publisher
func (s *CreditAllocationService) SetPublisher(publisher LedgerEventPublisher) {
	s.publisher = publisher
}

// DeductPointsForTraining spends points from the wallet's ledger in consumption order.
// Fails with ErrInsufficientPoints without touching any entry when the balance is short.
func (s *CreditAllocationService) DeductPointsForTraining(ctx context.Context, req DeductPointsRequest) (*DeductResult, error) {
	var result *DeductResult
	err := s.WithWalletLock(ctx, req.WalletAddress, func(session *WalletSession) error {
		var err error
		result, err = session.Deduct(ctx, req.PointsToDeduct, req.Metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddPoints credits a reward or refund entry
func (s *CreditAllocationService) AddPoints(ctx context.Context, req AddPointsRequest) (*AddPointsResult, error) {
	var result *AddPointsResult
	err := s.WithWalletLock(ctx, req.WalletAddress, func(session *WalletSession) error {
		var err error
		result, err = session.Credit(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance total spendable points of a wallet
func (s *CreditAllocationService) GetBalance(ctx context.Context, wallet string) (int64, error) {
	if !utils.IsEvmAddress(wallet) {
		return 0, apperrors.ValidationError("wallet_address", "must be a 0x-prefixed 20-byte hex address")
	}
	return s.ledger.SumPointsRemainingForWalletAddress(ctx, wallet)
}

// ListActiveDeposits entries with points remaining, in the order they will be consumed
func (s *CreditAllocationService) ListActiveDeposits(ctx context.Context, wallet string) ([]*models.CreditLedgerEntry, error) {
	if !utils.IsEvmAddress(wallet) {
		return nil, apperrors.ValidationError("wallet_address", "must be a 0x-prefixed 20-byte hex address")
	}
	entries, err := s.ledger.FindActiveDepositsForWalletAddress(ctx, wallet)
	if err != nil {
		return nil, err
	}
	SortForConsumption(entries)
	return entries, nil
}

// GetDeduction audit rows of one spend
func (s *CreditAllocationService) GetDeduction(ctx context.Context, deductionID string) ([]*models.CreditDeduction, error) {
	rows, err := s.ledger.ListDeductions(ctx, deductionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("deduction %s: %w", deductionID, apperrors.ErrNotFound)
	}
	return rows, nil
}

// WithWalletLock runs fn holding the wallet's lock. Ledger events produced through
// the session are published only after fn returns nil.
func (s *CreditAllocationService) WithWalletLock(ctx context.Context, wallet string, fn func(session *WalletSession) error) error {
	if !utils.IsEvmAddress(wallet) {
		return apperrors.ValidationError("wallet_address", "must be a 0x-prefixed 20-byte hex address")
	}

	started := time.Now()
	release, err := s.locks.AcquireContext(ctx, utils.WalletLockKey(wallet))
	if err != nil {
		return fmt.Errorf("waiting for wallet lock: %w", err)
	}
	metrics.WalletLockWait.Observe(time.Since(started).Seconds())

	session := &WalletSession{svc: s, wallet: utils.NormalizeAddress(wallet)}
	err = func() error {
		defer release()
		defer func() { session.closed = true }()
		return fn(session)
	}()
	if err != nil {
		return err
	}

	for _, publish := range session.pending {
		s.dispatch(publish)
	}
	return nil
}

// WalletSession ledger operations on one wallet while its lock is held.
// A session is only valid inside the WithWalletLock callback that created it.
type WalletSession struct {
	svc     *CreditAllocationService
	wallet  string
	closed  bool
	pending []pendingEvent
}

type pendingEvent struct {
	name string
	run  func(ctx context.Context, publisher LedgerEventPublisher) error
}

// Wallet the normalized wallet address the session is bound to
func (w *WalletSession) Wallet() string { return w.wallet }

// Balance total spendable points
func (w *WalletSession) Balance(ctx context.Context) (int64, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	return w.svc.ledger.SumPointsRemainingForWalletAddress(ctx, w.wallet)
}

// Deduct spends points across active entries in consumption order, in one transaction
func (w *WalletSession) Deduct(ctx context.Context, points int64, metadata map[string]interface{}) (*DeductResult, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	if points <= 0 {
		return nil, apperrors.ValidationError("points_to_deduct", "must be a positive integer")
	}

	s := w.svc
	logger := s.logger.WithFields(logrus.Fields{"wallet": w.wallet, "points": points})
	result := &DeductResult{DeductionID: uuid.New().String(), WalletAddress: w.wallet}

	err := s.ledger.Transaction(ctx, func(tx repository.CreditLedgerRepository) error {
		available, err := tx.SumPointsRemainingForWalletAddress(ctx, w.wallet)
		if err != nil {
			return err
		}
		if available < points {
			return apperrors.InsufficientPointsError(w.wallet, points, available)
		}

		entries, err := tx.FindActiveDepositsForWalletAddress(ctx, w.wallet)
		if err != nil {
			return err
		}
		SortForConsumption(entries)

		remaining := points
		rows := make([]*models.CreditDeduction, 0, len(entries))
		for _, entry := range entries {
			if remaining == 0 {
				break
			}
			take := entry.PointsRemaining
			if take > remaining {
				take = remaining
			}
			if take <= 0 {
				continue
			}
			if err := tx.DeductPointsFromDeposit(ctx, entry.ID, take); err != nil {
				return fmt.Errorf("%w after %d of %d points: %w", apperrors.ErrPartialDeduction, points-remaining, points, err)
			}

			item := DeductionEntry{
				LedgerEntryID:      entry.ID,
				EntryType:          entry.EntryType,
				Points:             take,
				RemainingBefore:    entry.PointsRemaining,
				RemainingAfter:     entry.PointsRemaining - take,
				FundingRateApplied: entry.FundingRateApplied,
			}
			result.Deductions = append(result.Deductions, item)
			rows = append(rows, &models.CreditDeduction{
				DeductionID:        result.DeductionID,
				Sequence:           len(rows),
				WalletAddress:      w.wallet,
				LedgerEntryID:      entry.ID,
				Points:             take,
				RemainingBefore:    item.RemainingBefore,
				RemainingAfter:     item.RemainingAfter,
				FundingRateApplied: entry.FundingRateApplied,
				Metadata:           metadata,
			})
			remaining -= take
		}

		if remaining > 0 {
			return apperrors.ConsistencyFaultError(w.wallet, remaining)
		}
		if err := tx.RecordDeductions(ctx, rows); err != nil {
			return err
		}

		balance, err := tx.SumPointsRemainingForWalletAddress(ctx, w.wallet)
		if err != nil {
			return err
		}
		result.NewBalance = balance
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInsufficientPoints):
			metrics.DeductionsRejected.WithLabelValues("insufficient_points").Inc()
			logger.Info("[CreditLedger] deduction rejected: insufficient points")
		case errors.Is(err, apperrors.ErrConsistencyFault):
			metrics.DeductionsRejected.WithLabelValues("consistency_fault").Inc()
			metrics.LedgerConsistencyFaults.Inc()
			logger.WithField("severity", "critical").WithError(err).Error("[CreditLedger] balance check passed but active entries ran out")
		default:
			metrics.DeductionsRejected.WithLabelValues("error").Inc()
			logger.WithError(err).Error("[CreditLedger] deduction failed, rolled back")
		}
		return nil, err
	}

	result.PointsDeducted = points
	metrics.PointsDeducted.Add(float64(points))
	logger.WithFields(logrus.Fields{
		"deduction_id": result.DeductionID,
		"entries":      len(result.Deductions),
		"new_balance":  result.NewBalance,
	}).Info("[CreditLedger] points deducted")

	event := PointsDeductedEvent{
		DeductionID:    result.DeductionID,
		WalletAddress:  w.wallet,
		PointsDeducted: points,
		NewBalance:     result.NewBalance,
		Deductions:     result.Deductions,
		Metadata:       metadata,
		OccurredAt:     time.Now(),
	}
	w.enqueue("points_deducted", func(ctx context.Context, p LedgerEventPublisher) error {
		return p.PublishPointsDeducted(ctx, event)
	})
	return result, nil
}

// Credit creates a reward or refund entry
func (w *WalletSession) Credit(ctx context.Context, req AddPointsRequest) (*AddPointsResult, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	entryType := req.EntryType
	if entryType == "" {
		entryType = models.CreditEntryTypeReward
	}

	entry, err := w.svc.ledger.CreateRewardCreditEntry(ctx, repository.RewardCreditParams{
		EntryType:        entryType,
		DepositorAddress: w.wallet,
		MasterAccountID:  req.MasterAccountID,
		Points:           req.Points,
		RewardType:       req.RewardType,
		Description:      req.Description,
		RelatedItems:     req.RelatedItems,
	})
	if err != nil {
		return nil, err
	}
	balance, err := w.svc.ledger.SumPointsRemainingForWalletAddress(ctx, w.wallet)
	if err != nil {
		return nil, err
	}

	metrics.PointsCredited.WithLabelValues(string(entry.EntryType)).Add(float64(entry.PointsCredited))
	w.svc.logger.WithFields(logrus.Fields{
		"wallet":     w.wallet,
		"entry_id":   entry.ID,
		"entry_type": entry.EntryType,
		"points":     entry.PointsCredited,
	}).Info("[CreditLedger] points credited")

	w.enqueueAdded(entry, balance)
	return &AddPointsResult{Entry: entry, NewBalance: balance}, nil
}

// CreditDeposit inserts a market deposit entry. Returns false when the deposit
// event was already recorded.
func (w *WalletSession) CreditDeposit(ctx context.Context, entry *models.CreditLedgerEntry) (bool, error) {
	if err := w.check(); err != nil {
		return false, err
	}
	if utils.NormalizeAddress(entry.DepositorAddress) != w.wallet {
		return false, apperrors.ValidationError("depositor_address", "does not match the locked wallet")
	}

	created, err := w.svc.ledger.CreateDepositEntry(ctx, entry)
	if err != nil || !created {
		return created, err
	}
	balance, err := w.svc.ledger.SumPointsRemainingForWalletAddress(ctx, w.wallet)
	if err != nil {
		return true, err
	}

	metrics.PointsCredited.WithLabelValues(string(models.CreditEntryTypeDeposit)).Add(float64(entry.PointsCredited))
	w.enqueueAdded(entry, balance)
	return true, nil
}

func (w *WalletSession) enqueueAdded(entry *models.CreditLedgerEntry, balance int64) {
	event := PointsAddedEvent{
		EntryID:         entry.ID,
		WalletAddress:   w.wallet,
		MasterAccountID: entry.MasterAccountID,
		EntryType:       entry.EntryType,
		Points:          entry.PointsCredited,
		FundingRate:     entry.FundingRateApplied,
		NewBalance:      balance,
		DepositTxHash:   entry.DepositTxHash,
		OccurredAt:      time.Now(),
	}
	w.enqueue("points_added", func(ctx context.Context, p LedgerEventPublisher) error {
		return p.PublishPointsAdded(ctx, event)
	})
}

func (w *WalletSession) enqueue(name string, run func(ctx context.Context, p LedgerEventPublisher) error) {
	w.pending = append(w.pending, pendingEvent{name: name, run: run})
}

func (w *WalletSession) check() error {
	if w.closed {
		return fmt.Errorf("wallet session for %s used after its lock was released: %w", w.wallet, apperrors.ErrInternal)
	}
	return nil
}

func (s *CreditAllocationService) dispatch(event pendingEvent) {
	publisher := s.publisher
	if publisher == nil || s.notifier == nil {
		return
	}
	s.notifier.Go(event.name, func(ctx context.Context) error {
		return event.run(ctx, publisher)
	})
}

// SortForConsumption orders entries the way a spend consumes them: entries without a
// funding rate first, then ascending funding rate, then oldest first, then by id.
func SortForConsumption(entries []*models.CreditLedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.FundingRateApplied.Valid != b.FundingRateApplied.Valid {
			return !a.FundingRateApplied.Valid
		}
		if a.FundingRateApplied.Valid {
			if c := a.FundingRateApplied.Decimal.Cmp(b.FundingRateApplied.Decimal); c != 0 {
				return c < 0
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
