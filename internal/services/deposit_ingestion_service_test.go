package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"credit-backend/internal/config"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcToken = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func newIngestion(t *testing.T, f *ledgerFixture, resolver *fakeResolver, prices *fakePrices) *DepositIngestionService {
	t.Helper()
	pricing, err := NewDepositPricing(config.LedgerConfig{
		UsdPerPoint:   "0.5",
		FundingRates:  map[string]string{usdcToken: "0.8"},
		TokenDecimals: map[string]uint8{usdcToken: 6},
	})
	require.NoError(t, err)
	svc, err := NewDepositIngestionService(f.engine, resolver, prices, pricing, quietLogger())
	require.NoError(t, err)
	return svc
}

func usdcDeposit(amount int64, logIndex uint) DepositRecordedEvent {
	return DepositRecordedEvent{
		ChainID:      1337,
		VaultAccount: testVault,
		User:         testWallet,
		Token:        usdcToken,
		Amount:       big.NewInt(amount),
		TxHash:       "0xAAAA000000000000000000000000000000000000000000000000000000000001",
		LogIndex:     logIndex,
		BlockNumber:  42,
	}
}

func TestIngestDepositCreditsPoints(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := &fakeResolver{accounts: map[string]string{strings.ToLower(testWallet): "acct-7"}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{strings.ToLower(usdcToken): decimal.NewFromInt(1)}}
	svc := newIngestion(t, f, resolver, prices)
	ctx := context.Background()

	// 10.5 USDC * 0.8 / 0.5 = 16.8 -> 16 points
	entry, err := svc.IngestDeposit(ctx, usdcDeposit(10_500_000, 3))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.CreditEntryTypeDeposit, entry.EntryType)
	assert.Equal(t, int64(16), entry.PointsCredited)
	assert.Equal(t, int64(16), entry.PointsRemaining)
	require.NotNil(t, entry.MasterAccountID)
	assert.Equal(t, "acct-7", *entry.MasterAccountID)
	assert.True(t, entry.FundingRateApplied.Decimal.Equal(decimal.RequireFromString("0.8")))
	assert.True(t, entry.UsdValue.Decimal.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "10500000", entry.DepositAmountWei)

	balance, err := f.engine.GetBalance(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, int64(16), balance)
}

func TestIngestDepositIsIdempotentPerLog(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := &fakeResolver{accounts: map[string]string{}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{strings.ToLower(usdcToken): decimal.NewFromInt(1)}}
	svc := newIngestion(t, f, resolver, prices)
	ctx := context.Background()

	first, err := svc.IngestDeposit(ctx, usdcDeposit(5_000_000, 0))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Nil(t, first.MasterAccountID, "unlinked wallets get anonymous credit")

	replay, err := svc.IngestDeposit(ctx, usdcDeposit(5_000_000, 0))
	require.NoError(t, err)
	assert.Nil(t, replay)

	// same tx, different log is a separate deposit
	second, err := svc.IngestDeposit(ctx, usdcDeposit(5_000_000, 1))
	require.NoError(t, err)
	require.NotNil(t, second)

	balance, err := f.engine.GetBalance(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, int64(16), balance)
}

func TestIngestDepositFailures(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	noPrice := newIngestion(t, f, &fakeResolver{}, &fakePrices{prices: map[string]decimal.Decimal{}})
	_, err := noPrice.IngestDeposit(ctx, usdcDeposit(1_000_000, 0))
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)

	resolverDown := newIngestion(t, f, &fakeResolver{err: errors.New("502 bad gateway")},
		&fakePrices{prices: map[string]decimal.Decimal{strings.ToLower(usdcToken): decimal.NewFromInt(1)}})
	_, err = resolverDown.IngestDeposit(ctx, usdcDeposit(1_000_000, 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)

	bad := usdcDeposit(0, 0)
	_, err = resolverDown.IngestDeposit(ctx, bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	balance, err := f.engine.GetBalance(ctx, testWallet)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestDepositPricingDefaults(t *testing.T) {
	pricing, err := NewDepositPricing(config.LedgerConfig{UsdPerPoint: "0.000337"})
	require.NoError(t, err)
	assert.True(t, pricing.FundingRate("0x1111111111111111111111111111111111111111").Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int32(18), pricing.Decimals("0x1111111111111111111111111111111111111111"))
	assert.Equal(t, int64(2967), pricing.Points(decimal.NewFromInt(1), decimal.NewFromInt(1)))

	_, err = NewDepositPricing(config.LedgerConfig{UsdPerPoint: "0"})
	assert.Error(t, err)
	_, err = NewDepositPricing(config.LedgerConfig{UsdPerPoint: "1", FundingRates: map[string]string{usdcToken: "-1"}})
	assert.Error(t, err)
}
