package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"credit-backend/internal/clients"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// VaultChain the chain operations the withdrawal flow needs
type VaultChain interface {
	ChainID() uint64
	Read(ctx context.Context, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error)
	Write(ctx context.Context, contract, abiJSON, method string, args ...interface{}) (*clients.PendingTx, error)
	WaitForConfirmation(ctx context.Context, tx *clients.PendingTx, opts clients.WaitOptions) (*ethtypes.Receipt, error)
}

// WithdrawalExecutor pays out a persisted withdrawal request
type WithdrawalExecutor interface {
	ExecuteWithdrawal(ctx context.Context, requestTxHash string) error
}

// WithdrawalRequestedEvent a decoded CreditVault.WithdrawalRequested log
type WithdrawalRequestedEvent struct {
	ChainID      uint64
	VaultAccount string
	User         string
	Token        string
}

// InitiateWithdrawalResult user-facing outcome of a withdrawal initiation
type InitiateWithdrawalResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// WithdrawalProcessorConfig collaborators of the withdrawal flow
type WithdrawalProcessorConfig struct {
	Chain               VaultChain
	Requests            repository.WithdrawalRequestRepository
	Accounts            AccountResolver
	Executor            WithdrawalExecutor
	Locks               *utils.GroupLock
	VaultAddress        string // default target of recordWithdrawalRequest
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	Logger              *logrus.Logger
}

// WithdrawalProcessor records withdrawal requests from chain events and user initiations
type WithdrawalProcessor struct {
	chain               VaultChain
	requests            repository.WithdrawalRequestRepository
	accounts            AccountResolver
	executor            WithdrawalExecutor
	locks               *utils.GroupLock
	vault               string
	confirmations       uint64
	confirmationTimeout time.Duration
	notifier            *BackgroundNotifier
	publisher           LedgerEventPublisher
	logger              *logrus.Logger
}

// NewWithdrawalProcessor creates a new WithdrawalProcessor
func NewWithdrawalProcessor(cfg WithdrawalProcessorConfig) (*WithdrawalProcessor, error) {
	switch {
	case cfg.Chain == nil:
		return nil, fmt.Errorf("withdrawal processor: chain is required")
	case cfg.Requests == nil:
		return nil, fmt.Errorf("withdrawal processor: request repository is required")
	case cfg.Accounts == nil:
		return nil, fmt.Errorf("withdrawal processor: account resolver is required")
	case cfg.Executor == nil:
		return nil, fmt.Errorf("withdrawal processor: executor is required")
	case !utils.IsEvmAddress(cfg.VaultAddress):
		return nil, fmt.Errorf("withdrawal processor: invalid vault address %q", cfg.VaultAddress)
	}
	if cfg.Locks == nil {
		cfg.Locks = utils.NewGroupLock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &WithdrawalProcessor{
		chain:               cfg.Chain,
		requests:            cfg.Requests,
		accounts:            cfg.Accounts,
		executor:            cfg.Executor,
		locks:               cfg.Locks,
		vault:               utils.NormalizeAddress(cfg.VaultAddress),
		confirmations:       cfg.Confirmations,
		confirmationTimeout: cfg.ConfirmationTimeout,
		logger:              cfg.Logger,
	}, nil
}

// SetNotifier sets the background notifier used to publish withdrawal events
func (p *WithdrawalProcessor) SetNotifier(notifier *BackgroundNotifier) {
	p.notifier = notifier
}

// SetPublisher sets the ledger event publisher
func (p *WithdrawalProcessor) SetPublisher(publisher LedgerEventPublisher) {
	p.publisher = publisher
}

// ProcessWithdrawalRequest persists a request seen on chain and triggers its execution.
// Replays of the same tx hash return the stored row. Wallets without an account are
// skipped with (nil, nil).
func (p *WithdrawalProcessor) ProcessWithdrawalRequest(ctx context.Context, event WithdrawalRequestedEvent, txHash string, blockNumber uint64) (*models.WithdrawalRequest, error) {
	if !utils.IsEvmAddress(event.User) || !utils.IsEvmAddress(event.Token) {
		return nil, apperrors.ValidationError("event", "user and token must be valid addresses")
	}
	if txHash == "" {
		return nil, apperrors.ValidationError("tx_hash", "required")
	}
	logger := p.logger.WithFields(logrus.Fields{"tx_hash": txHash, "user": event.User, "token": event.Token})

	release, err := p.locks.AcquireContext(ctx, utils.GroupLockKey(event.User, event.Token))
	if err != nil {
		return nil, fmt.Errorf("waiting for withdrawal lock: %w", err)
	}
	defer release()

	existing, err := p.requests.GetByRequestTxHash(ctx, txHash)
	if err == nil {
		metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceChainEvent, "duplicate").Inc()
		logger.Debug("[Withdrawal] request already recorded")
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	accountID, err := p.accounts.ResolveWallet(ctx, event.User)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceChainEvent, "no_account").Inc()
			logger.Warn("[Withdrawal] no account for wallet, skipping request")
			return nil, nil
		}
		return nil, fmt.Errorf("resolve account for %s: %w", event.User, err)
	}

	vault := p.vault
	if utils.IsEvmAddress(event.VaultAccount) {
		vault = utils.NormalizeAddress(event.VaultAccount)
	}
	collateral, err := p.readCollateral(ctx, vault, event.User, event.Token)
	if err != nil {
		return nil, err
	}

	chainID := event.ChainID
	if chainID == 0 {
		chainID = p.chain.ChainID()
	}
	request := &models.WithdrawalRequest{
		RequestTxHash:       txHash,
		RequestBlockNumber:  blockNumber,
		ChainID:             chainID,
		VaultAccount:        vault,
		UserAddress:         event.User,
		TokenAddress:        event.Token,
		MasterAccountID:     accountID,
		CollateralAmountWei: collateral.String(),
		Source:              models.WithdrawalSourceChainEvent,
	}
	created, err := p.requests.Create(ctx, request)
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceChainEvent, "duplicate").Inc()
		return p.requests.GetByRequestTxHash(ctx, txHash)
	}

	metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceChainEvent, "recorded").Inc()
	logger.WithFields(logrus.Fields{
		"account":    accountID,
		"collateral": request.CollateralAmountWei,
		"block":      blockNumber,
	}).Info("[Withdrawal] request recorded from chain event")

	p.afterPersist(ctx, request)
	return request, nil
}

// InitiateWithdrawal records a withdrawal request on chain for the user and persists it
// once confirmed. Expected refusals come back as Success=false; infrastructure
// failures are returned as errors.
func (p *WithdrawalProcessor) InitiateWithdrawal(ctx context.Context, userAddress, tokenAddress, fundAddress string) (*InitiateWithdrawalResult, error) {
	if !utils.IsEvmAddress(userAddress) {
		return nil, apperrors.ValidationError("user_address", "invalid address")
	}
	if !utils.IsEvmAddress(tokenAddress) {
		return nil, apperrors.ValidationError("token_address", "invalid address")
	}
	target := p.vault
	if fundAddress != "" {
		if !utils.IsEvmAddress(fundAddress) {
			return nil, apperrors.ValidationError("fund_address", "invalid address")
		}
		target = utils.NormalizeAddress(fundAddress)
	}
	logger := p.logger.WithFields(logrus.Fields{"user": userAddress, "token": tokenAddress, "vault": target})

	release, err := p.locks.AcquireContext(ctx, utils.GroupLockKey(userAddress, tokenAddress))
	if err != nil {
		return nil, fmt.Errorf("waiting for withdrawal lock: %w", err)
	}
	defer release()

	pending, err := p.requests.FindPendingByUserAndToken(ctx, userAddress, tokenAddress)
	if err == nil {
		metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceUserInitiated, "already_pending").Inc()
		return &InitiateWithdrawalResult{
			Success: false,
			Message: "A withdrawal for this token is already being processed.",
			TxHash:  pending.RequestTxHash,
		}, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	accountID, err := p.accounts.ResolveWallet(ctx, userAddress)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceUserInitiated, "no_account").Inc()
			return &InitiateWithdrawalResult{Success: false, Message: "No account is linked to this wallet."}, nil
		}
		return nil, fmt.Errorf("resolve account for %s: %w", userAddress, err)
	}

	collateral, err := p.readCollateral(ctx, target, userAddress, tokenAddress)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() == 0 {
		metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceUserInitiated, "zero_collateral").Inc()
		return &InitiateWithdrawalResult{Success: false, Message: "You have no collateral to withdraw for this token."}, nil
	}

	tx, err := p.chain.Write(ctx, target, clients.CreditVaultABI, "recordWithdrawalRequest",
		common.HexToAddress(userAddress), common.HexToAddress(tokenAddress))
	if err != nil {
		return nil, err
	}
	logger.WithField("tx_hash", tx.Hash.Hex()).Info("[Withdrawal] withdrawal request submitted, waiting for confirmation")

	receipt, err := p.chain.WaitForConfirmation(ctx, tx, clients.WaitOptions{
		Confirmations: p.confirmations,
		Timeout:       p.confirmationTimeout,
	})
	if err != nil {
		return nil, err
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	request := &models.WithdrawalRequest{
		RequestTxHash:       receipt.TxHash.Hex(),
		RequestBlockNumber:  block,
		ChainID:             p.chain.ChainID(),
		VaultAccount:        target,
		UserAddress:         userAddress,
		TokenAddress:        tokenAddress,
		MasterAccountID:     accountID,
		CollateralAmountWei: collateral.String(),
		Source:              models.WithdrawalSourceUserInitiated,
	}
	created, err := p.requests.Create(ctx, request)
	if err != nil {
		return nil, err
	}
	if created {
		metrics.WithdrawalRequests.WithLabelValues(models.WithdrawalSourceUserInitiated, "recorded").Inc()
		logger.WithFields(logrus.Fields{
			"tx_hash":    request.RequestTxHash,
			"account":    accountID,
			"collateral": request.CollateralAmountWei,
		}).Info("[Withdrawal] request recorded from user initiation")
		p.afterPersist(ctx, request)
	}

	return &InitiateWithdrawalResult{
		Success: true,
		Message: "Withdrawal request recorded. Your funds will be released shortly.",
		TxHash:  request.RequestTxHash,
	}, nil
}

// GetRequest looks up a persisted request by its transaction hash
func (p *WithdrawalProcessor) GetRequest(ctx context.Context, txHash string) (*models.WithdrawalRequest, error) {
	return p.requests.GetByRequestTxHash(ctx, txHash)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListRequests requests in one status, oldest first
func (p *WithdrawalProcessor) ListRequests(ctx context.Context, status models.WithdrawalRequestStatus, limit int) ([]*models.WithdrawalRequest, error) {
	if status == "" {
		status = models.WithdrawalStatusPendingProcessing
	}
	if !status.Valid() {
		return nil, apperrors.ValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return p.requests.ListByStatus(ctx, status, limit)
}

// CompleteRequest moves a pending request to PROCESSED or FAILED once the executor
// reports back. Runs under the request's (user, token) lock so a concurrent
// initiation sees either the pending row or the final one.
func (p *WithdrawalProcessor) CompleteRequest(ctx context.Context, txHash string, status models.WithdrawalRequestStatus) (*models.WithdrawalRequest, error) {
	if status != models.WithdrawalStatusProcessed && status != models.WithdrawalStatusFailed {
		return nil, apperrors.ValidationError("status", "must be PROCESSED or FAILED")
	}
	request, err := p.requests.GetByRequestTxHash(ctx, txHash)
	if err != nil {
		return nil, err
	}

	release, err := p.locks.AcquireContext(ctx, utils.GroupLockKey(request.UserAddress, request.TokenAddress))
	if err != nil {
		return nil, err
	}
	defer release()

	// re-read under the lock
	request, err = p.requests.GetByRequestTxHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if request.Status == status {
		return request, nil
	}
	if request.Status != models.WithdrawalStatusPendingProcessing {
		return nil, apperrors.NewDomainError(apperrors.ErrInvalidInput, "INVALID_STATUS_TRANSITION",
			fmt.Sprintf("request is already %s", request.Status))
	}
	if err := p.requests.UpdateStatus(ctx, request.RequestTxHash, status); err != nil {
		return nil, err
	}
	request.Status = status

	p.logger.WithFields(logrus.Fields{
		"tx_hash": request.RequestTxHash,
		"status":  status,
	}).Info("[Withdrawal] request completed")
	return request, nil
}

func (p *WithdrawalProcessor) readCollateral(ctx context.Context, vault, user, token string) (*big.Int, error) {
	out, err := p.chain.Read(ctx, vault, clients.CreditVaultABI, "custody",
		common.HexToAddress(user), common.HexToAddress(token))
	if err != nil {
		return nil, fmt.Errorf("read custody: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("read custody: empty result: %w", apperrors.ErrInternal)
	}
	userOwned, ok := out[0].(*big.Int)
	if !ok || userOwned == nil {
		return nil, fmt.Errorf("read custody: unexpected result type %T: %w", out[0], apperrors.ErrInternal)
	}
	return userOwned, nil
}

// afterPersist publishes the request and triggers payout. Executor failures are
// logged and left for the executor's own retry.
func (p *WithdrawalProcessor) afterPersist(ctx context.Context, request *models.WithdrawalRequest) {
	if p.notifier != nil && p.publisher != nil {
		publisher := p.publisher
		event := WithdrawalRecordedEvent{
			RequestTxHash:       request.RequestTxHash,
			ChainID:             request.ChainID,
			UserAddress:         request.UserAddress,
			TokenAddress:        request.TokenAddress,
			MasterAccountID:     request.MasterAccountID,
			CollateralAmountWei: request.CollateralAmountWei,
			Source:              request.Source,
			OccurredAt:          time.Now(),
		}
		p.notifier.Go("withdrawal_recorded", func(ctx context.Context) error {
			return publisher.PublishWithdrawalRecorded(ctx, event)
		})
	}

	if err := p.executor.ExecuteWithdrawal(ctx, request.RequestTxHash); err != nil {
		metrics.WithdrawalExecutorFailures.Inc()
		p.logger.WithField("tx_hash", request.RequestTxHash).WithError(err).
			Error("[Withdrawal] execution trigger failed, request stays pending")
	}
}
