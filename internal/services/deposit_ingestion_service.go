package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"credit-backend/internal/config"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"
	"credit-backend/internal/models"
	"credit-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AccountResolver maps a wallet to its internal master account.
// Returns an error wrapping ErrNotFound when the wallet is not linked.
type AccountResolver interface {
	ResolveWallet(ctx context.Context, address string) (string, error)
}

// PriceFeed USD price of a token. ok is false when no price is configured.
type PriceFeed interface {
	GetPriceInUSD(ctx context.Context, tokenAddress string) (decimal.Decimal, bool, error)
}

// DepositRecordedEvent a decoded CreditVault.DepositRecorded log
type DepositRecordedEvent struct {
	ChainID      uint64
	VaultAccount string
	User         string
	Token        string
	Amount       *big.Int // token base units
	TxHash       string
	LogIndex     uint
	BlockNumber  uint64
}

// DepositPricing conversion from deposited tokens to points
type DepositPricing struct {
	UsdPerPoint   decimal.Decimal
	FundingRates  map[string]decimal.Decimal // lower-cased token -> rate
	TokenDecimals map[string]uint8           // lower-cased token -> decimals
}

const defaultTokenDecimals = 18

// NewDepositPricing parses the ledger config section
func NewDepositPricing(cfg config.LedgerConfig) (DepositPricing, error) {
	usdPerPoint, err := decimal.NewFromString(cfg.UsdPerPoint)
	if err != nil || !usdPerPoint.IsPositive() {
		return DepositPricing{}, fmt.Errorf("invalid usdPerPoint %q", cfg.UsdPerPoint)
	}
	pricing := DepositPricing{
		UsdPerPoint:   usdPerPoint,
		FundingRates:  make(map[string]decimal.Decimal, len(cfg.FundingRates)),
		TokenDecimals: make(map[string]uint8, len(cfg.TokenDecimals)),
	}
	for token, raw := range cfg.FundingRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			return DepositPricing{}, fmt.Errorf("invalid funding rate %q for %s", raw, token)
		}
		pricing.FundingRates[strings.ToLower(token)] = rate
	}
	for token, decimals := range cfg.TokenDecimals {
		pricing.TokenDecimals[strings.ToLower(token)] = decimals
	}
	return pricing, nil
}

// FundingRate rate applied to deposits of token, 1 when not configured
func (p DepositPricing) FundingRate(token string) decimal.Decimal {
	if rate, ok := p.FundingRates[strings.ToLower(token)]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}

// Decimals token decimals, 18 when not configured
func (p DepositPricing) Decimals(token string) int32 {
	if decimals, ok := p.TokenDecimals[strings.ToLower(token)]; ok {
		return int32(decimals)
	}
	return defaultTokenDecimals
}

// Points floor(usd * rate / usdPerPoint)
func (p DepositPricing) Points(usd, rate decimal.Decimal) int64 {
	return usd.Mul(rate).Div(p.UsdPerPoint).Floor().IntPart()
}

// DepositIngestionService turns on-chain deposits into market ledger entries
type DepositIngestionService struct {
	engine   *CreditAllocationService
	resolver AccountResolver
	prices   PriceFeed
	pricing  DepositPricing
	logger   *logrus.Logger
}

// NewDepositIngestionService creates a new DepositIngestionService
func NewDepositIngestionService(engine *CreditAllocationService, resolver AccountResolver, prices PriceFeed, pricing DepositPricing, logger *logrus.Logger) (*DepositIngestionService, error) {
	if engine == nil || resolver == nil || prices == nil {
		return nil, fmt.Errorf("deposit ingestion needs a ledger engine, account resolver and price feed")
	}
	if !pricing.UsdPerPoint.IsPositive() {
		return nil, fmt.Errorf("deposit ingestion needs a positive usdPerPoint")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DepositIngestionService{
		engine:   engine,
		resolver: resolver,
		prices:   prices,
		pricing:  pricing,
		logger:   logger,
	}, nil
}

// IngestDeposit records one DepositRecorded event. Replays of the same
// (tx hash, log index) return (nil, nil).
func (s *DepositIngestionService) IngestDeposit(ctx context.Context, event DepositRecordedEvent) (*models.CreditLedgerEntry, error) {
	if !utils.IsEvmAddress(event.User) {
		return nil, apperrors.ValidationError("user", "invalid depositor address")
	}
	if !utils.IsEvmAddress(event.Token) {
		return nil, apperrors.ValidationError("token", "invalid token address")
	}
	if event.Amount == nil || event.Amount.Sign() <= 0 {
		return nil, apperrors.ValidationError("amount", "must be positive")
	}
	if event.TxHash == "" {
		return nil, apperrors.ValidationError("tx_hash", "required")
	}

	logger := s.logger.WithFields(logrus.Fields{
		"tx_hash":   event.TxHash,
		"log_index": event.LogIndex,
		"user":      event.User,
		"token":     event.Token,
	})

	price, ok, err := s.prices.GetPriceInUSD(ctx, event.Token)
	if err != nil {
		metrics.DepositsIngested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("price lookup for %s: %w", event.Token, err)
	}
	if !ok || !price.IsPositive() {
		metrics.DepositsIngested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token %s: %w", event.Token, apperrors.ErrPriceUnavailable)
	}

	var masterAccountID *string
	accountID, err := s.resolver.ResolveWallet(ctx, event.User)
	switch {
	case err == nil:
		masterAccountID = &accountID
	case errors.Is(err, apperrors.ErrNotFound):
		logger.Info("[DepositIngestion] wallet has no account, recording anonymous credit")
	default:
		metrics.DepositsIngested.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve account for %s: %w", event.User, err)
	}

	usd := decimal.NewFromBigInt(event.Amount, -s.pricing.Decimals(event.Token)).Mul(price)
	rate := s.pricing.FundingRate(event.Token)
	points := s.pricing.Points(usd, rate)

	chainID := event.ChainID
	txHash := event.TxHash
	logIndex := event.LogIndex
	block := event.BlockNumber
	entry := &models.CreditLedgerEntry{
		EntryType:          models.CreditEntryTypeDeposit,
		DepositorAddress:   event.User,
		MasterAccountID:    masterAccountID,
		PointsCredited:     points,
		PointsRemaining:    points,
		FundingRateApplied: decimal.NewNullDecimal(rate),
		ChainID:            &chainID,
		TokenAddress:       event.Token,
		DepositTxHash:      &txHash,
		DepositLogIndex:    &logIndex,
		DepositBlock:       &block,
		DepositAmountWei:   event.Amount.String(),
		UsdValue:           decimal.NewNullDecimal(usd),
	}

	var created bool
	err = s.engine.WithWalletLock(ctx, event.User, func(session *WalletSession) error {
		var err error
		created, err = session.CreditDeposit(ctx, entry)
		return err
	})
	if err != nil {
		metrics.DepositsIngested.WithLabelValues("error").Inc()
		return nil, err
	}
	if !created {
		metrics.DepositsIngested.WithLabelValues("duplicate").Inc()
		logger.Debug("[DepositIngestion] deposit already recorded")
		return nil, nil
	}

	metrics.DepositsIngested.WithLabelValues("created").Inc()
	logger.WithFields(logrus.Fields{
		"usd":    usd.StringFixed(2),
		"rate":   rate.String(),
		"points": points,
	}).Info("[DepositIngestion] deposit credited")
	return entry, nil
}
