package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"credit-backend/internal/clients"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// EventSource the chain reads the backfill needs
type EventSource interface {
	ChainID() uint64
	LatestBlock(ctx context.Context) (uint64, error)
	GetPastEvents(ctx context.Context, contract, abiJSON, eventName string, fromBlock uint64, toBlock *uint64, topics ...[]common.Hash) ([]clients.DecodedEvent, error)
}

// DepositSink consumes decoded deposits
type DepositSink interface {
	IngestDeposit(ctx context.Context, event DepositRecordedEvent) (*models.CreditLedgerEntry, error)
}

// WithdrawalSink consumes decoded withdrawal requests
type WithdrawalSink interface {
	ProcessWithdrawalRequest(ctx context.Context, event WithdrawalRequestedEvent, txHash string, blockNumber uint64) (*models.WithdrawalRequest, error)
}

// maxBlocksPerSync bounds one SyncOnce pass; a cold start catches up over several ticks
const maxBlocksPerSync = 20 * clients.LogChunkSize

// SyncResult summary of one backfill pass
type SyncResult struct {
	FromBlock   uint64 `json:"from_block"`
	ToBlock     uint64 `json:"to_block"`
	Deposits    int    `json:"deposits"`
	Withdrawals int    `json:"withdrawals"`
	Skipped     int    `json:"skipped"`
	UpToDate    bool   `json:"up_to_date"`
}

// ChainEventSyncService periodically backfills vault events the NATS feed may have missed
type ChainEventSyncService struct {
	source      EventSource
	cursors     repository.ChainCursorRepository
	deposits    DepositSink
	withdrawals WithdrawalSink
	vault       string
	startBlock  uint64
	reorgDepth  uint64
	interval    time.Duration
	logger      *logrus.Logger

	mu       sync.Mutex // one pass at a time
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChainEventSyncService creates a new ChainEventSyncService
func NewChainEventSyncService(source EventSource, cursors repository.ChainCursorRepository, deposits DepositSink, withdrawals WithdrawalSink, vault string, startBlock, reorgDepth uint64, interval time.Duration, logger *logrus.Logger) *ChainEventSyncService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChainEventSyncService{
		source:      source,
		cursors:     cursors,
		deposits:    deposits,
		withdrawals: withdrawals,
		vault:       utils.NormalizeAddress(vault),
		startBlock:  startBlock,
		reorgDepth:  reorgDepth,
		interval:    interval,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start runs an initial pass and then one pass per interval until Stop
func (s *ChainEventSyncService) Start() {
	s.logger.WithFields(logrus.Fields{
		"chain_id": s.source.ChainID(),
		"vault":    s.vault,
		"interval": s.interval,
	}).Info("[ChainSync] starting")

	s.wg.Add(1)
	go s.run()
}

// Stop ends the loop and waits for the running pass
func (s *ChainEventSyncService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("[ChainSync] stopped")
}

func (s *ChainEventSyncService) run() {
	defer s.wg.Done()

	s.runOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *ChainEventSyncService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.SyncOnce(ctx); err != nil {
		s.logger.WithError(err).Error("[ChainSync] sync pass failed")
	}
}

// SyncOnce processes vault events from the cursor up to latest minus reorgDepth.
// The cursor only advances past blocks whose events were all handled.
func (s *ChainEventSyncService) SyncOnce(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chainID := s.source.ChainID()
	last, ok, err := s.cursors.Get(ctx, chainID, s.vault)
	if err != nil {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}
	from := s.startBlock
	if ok {
		from = last + 1
	}

	head, err := s.source.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if head < s.reorgDepth || head-s.reorgDepth < from {
		return &SyncResult{FromBlock: from, UpToDate: true}, nil
	}
	to := head - s.reorgDepth
	if to-from+1 > maxBlocksPerSync {
		to = from + maxBlocksPerSync - 1
	}
	result := &SyncResult{FromBlock: from, ToBlock: to, UpToDate: to == head-s.reorgDepth}

	deposits, err := s.fetchEvents(ctx, chainID, clients.EventDepositRecorded, from, to, result)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.fetchEvents(ctx, chainID, clients.EventWithdrawalRequested, from, to, result)
	if err != nil {
		return nil, err
	}
	events := append(deposits, withdrawals...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	for _, event := range events {
		if err := s.dispatch(ctx, chainID, event); err != nil {
			if isPermanentEventError(err) {
				s.skipEvent(chainID, event.Name, "invalid_event", event.TxHash.Hex(), event.LogIndex, event.BlockNumber, err)
				result.Skipped++
				continue
			}
			if event.BlockNumber > from {
				if saveErr := s.saveCursor(ctx, chainID, event.BlockNumber-1); saveErr != nil {
					s.logger.WithError(saveErr).Warn("[ChainSync] failed to save partial cursor")
				}
			}
			return result, fmt.Errorf("%s in tx %s (block %d): %w", event.Name, event.TxHash.Hex(), event.BlockNumber, err)
		}
		switch event.Name {
		case clients.EventDepositRecorded:
			result.Deposits++
		case clients.EventWithdrawalRequested:
			result.Withdrawals++
		}
	}

	if err := s.saveCursor(ctx, chainID, to); err != nil {
		return result, err
	}
	if len(events) > 0 || result.Skipped > 0 {
		s.logger.WithFields(logrus.Fields{
			"from":        from,
			"to":          to,
			"deposits":    result.Deposits,
			"withdrawals": result.Withdrawals,
			"skipped":     result.Skipped,
		}).Info("[ChainSync] processed vault events")
	}
	return result, nil
}

// fetchEvents reads one event type over [from, to]. Logs the gateway could not
// decode are skipped; any other failure aborts the pass.
func (s *ChainEventSyncService) fetchEvents(ctx context.Context, chainID uint64, eventName string, from, to uint64, result *SyncResult) ([]clients.DecodedEvent, error) {
	events, err := s.source.GetPastEvents(ctx, s.vault, clients.CreditVaultABI, eventName, from, &to)
	if err == nil {
		return events, nil
	}
	var decodeErr *clients.LogDecodeError
	if !errors.As(err, &decodeErr) {
		return nil, err
	}
	for _, lg := range decodeErr.Logs {
		s.skipEvent(chainID, eventName, "undecodable_log", lg.TxHash.Hex(), lg.LogIndex, lg.BlockNumber, lg.Err)
		result.Skipped++
	}
	return events, nil
}

// isPermanentEventError reports failures that repeat identically on every retry.
// Holding the cursor on them would stall the backfill for good.
func isPermanentEventError(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrInvalidAddress) ||
		errors.Is(err, apperrors.ErrPriceUnavailable) ||
		errors.Is(err, apperrors.ErrUndecodableLog)
}

func (s *ChainEventSyncService) skipEvent(chainID uint64, eventName, reason, txHash string, logIndex uint, block uint64, err error) {
	metrics.ChainSyncSkippedEvents.WithLabelValues(fmt.Sprint(chainID), eventName, reason).Inc()
	s.logger.WithFields(logrus.Fields{
		"severity":  "critical",
		"chain_id":  chainID,
		"event":     eventName,
		"reason":    reason,
		"tx_hash":   txHash,
		"log_index": logIndex,
		"block":     block,
	}).WithError(err).Error("[ChainSync] skipping vault event that cannot be processed")
}

func (s *ChainEventSyncService) saveCursor(ctx context.Context, chainID, block uint64) error {
	if err := s.cursors.Save(ctx, chainID, s.vault, block); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	metrics.ChainSyncLastBlock.WithLabelValues(fmt.Sprint(chainID), s.vault).Set(float64(block))
	return nil
}

func (s *ChainEventSyncService) dispatch(ctx context.Context, chainID uint64, event clients.DecodedEvent) error {
	switch event.Name {
	case clients.EventDepositRecorded:
		amount, ok := event.Args["amount"].(*big.Int)
		if !ok {
			return apperrors.ValidationError("amount", "missing from deposit event")
		}
		_, err := s.deposits.IngestDeposit(ctx, DepositRecordedEvent{
			ChainID:      chainID,
			VaultAccount: argAddress(event.Args, "vaultAccount"),
			User:         argAddress(event.Args, "user"),
			Token:        argAddress(event.Args, "token"),
			Amount:       amount,
			TxHash:       event.TxHash.Hex(),
			LogIndex:     event.LogIndex,
			BlockNumber:  event.BlockNumber,
		})
		return err
	case clients.EventWithdrawalRequested:
		_, err := s.withdrawals.ProcessWithdrawalRequest(ctx, WithdrawalRequestedEvent{
			ChainID:      chainID,
			VaultAccount: argAddress(event.Args, "vaultAccount"),
			User:         argAddress(event.Args, "user"),
			Token:        argAddress(event.Args, "token"),
		}, event.TxHash.Hex(), event.BlockNumber)
		return err
	}
	return nil
}

func argAddress(args map[string]interface{}, name string) string {
	switch v := args[name].(type) {
	case common.Address:
		return v.Hex()
	case string:
		return v
	}
	return ""
}
