package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestTx = "0xBBBB000000000000000000000000000000000000000000000000000000000002"

type withdrawalFixture struct {
	requests  repository.WithdrawalRequestRepository
	chain     *fakeVaultChain
	resolver  *fakeResolver
	executor  *fakeExecutor
	processor *WithdrawalProcessor
}

func newWithdrawalFixture(t *testing.T) *withdrawalFixture {
	t.Helper()
	f := &withdrawalFixture{
		requests: repository.NewWithdrawalRequestRepository(testutil.NewTestDB(t)),
		chain:    &fakeVaultChain{custody: big.NewInt(5_000_000)},
		resolver: &fakeResolver{accounts: map[string]string{strings.ToLower(testWallet): "acct-1"}},
		executor: &fakeExecutor{},
	}
	processor, err := NewWithdrawalProcessor(WithdrawalProcessorConfig{
		Chain:               f.chain,
		Requests:            f.requests,
		Accounts:            f.resolver,
		Executor:            f.executor,
		VaultAddress:        testVault,
		ConfirmationTimeout: time.Second,
		Logger:              quietLogger(),
	})
	require.NoError(t, err)
	f.processor = processor
	return f
}

func withdrawalEvent() WithdrawalRequestedEvent {
	return WithdrawalRequestedEvent{ChainID: 1337, VaultAccount: testVault, User: testWallet, Token: testToken}
}

func TestProcessWithdrawalRequestIsIdempotent(t *testing.T) {
	f := newWithdrawalFixture(t)
	ctx := context.Background()

	first, err := f.processor.ProcessWithdrawalRequest(ctx, withdrawalEvent(), requestTx, 77)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "acct-1", first.MasterAccountID)
	assert.Equal(t, "5000000", first.CollateralAmountWei)
	assert.Equal(t, models.WithdrawalStatusPendingProcessing, first.Status)
	assert.Equal(t, models.WithdrawalSourceChainEvent, first.Source)
	assert.Equal(t, uint64(77), first.RequestBlockNumber)

	second, err := f.processor.ProcessWithdrawalRequest(ctx, withdrawalEvent(), requestTx, 77)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	rows, err := f.requests.ListByStatus(ctx, models.WithdrawalStatusPendingProcessing, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Len(t, f.executor.Calls(), 1, "execution triggered once")
	assert.Equal(t, 1, f.resolver.calls, "replay stops at the idempotency check")
}

func TestProcessWithdrawalRequestSkipsUnknownWallet(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.resolver.accounts = map[string]string{}

	request, err := f.processor.ProcessWithdrawalRequest(context.Background(), withdrawalEvent(), requestTx, 77)
	require.NoError(t, err)
	assert.Nil(t, request)

	_, err = f.requests.GetByRequestTxHash(context.Background(), requestTx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, f.executor.Calls())
}

func TestProcessWithdrawalRequestPropagatesInfrastructureErrors(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.resolver.err = errors.New("internal api unavailable")

	_, err := f.processor.ProcessWithdrawalRequest(context.Background(), withdrawalEvent(), requestTx, 77)
	require.Error(t, err)

	f.resolver.err = nil
	f.chain.readErr = errors.New("connection reset by peer")
	_, err = f.processor.ProcessWithdrawalRequest(context.Background(), withdrawalEvent(), requestTx, 77)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read custody")
}

func TestExecutorFailureDoesNotFailProcessing(t *testing.T) {
	f := newWithdrawalFixture(t)
	f.executor.err = errors.New("executor offline")

	request, err := f.processor.ProcessWithdrawalRequest(context.Background(), withdrawalEvent(), requestTx, 77)
	require.NoError(t, err)
	require.NotNil(t, request)
	assert.Len(t, f.executor.Calls(), 1)
}

func TestInitiateWithdrawal(t *testing.T) {
	f := newWithdrawalFixture(t)
	publisher := &recordingPublisher{}
	notifier := NewBackgroundNotifier(4, time.Second, quietLogger())
	f.processor.SetNotifier(notifier)
	f.processor.SetPublisher(publisher)
	ctx := context.Background()

	result, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotEmpty(t, result.TxHash)
	assert.Equal(t, []string{strings.ToLower(testVault) + ".recordWithdrawalRequest"}, f.chain.writes)

	stored, err := f.processor.GetRequest(ctx, result.TxHash)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalSourceUserInitiated, stored.Source)
	assert.Equal(t, uint64(100), stored.RequestBlockNumber)
	assert.Equal(t, "acct-1", stored.MasterAccountID)
	assert.Equal(t, []string{stored.RequestTxHash}, f.executor.Calls())

	// a second initiation for the same pair is refused while the first is pending
	again, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, stored.RequestTxHash, again.TxHash)
	assert.Len(t, f.chain.writes, 1)

	notifier.Close()
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.withdrawals, 1)
	assert.Equal(t, models.WithdrawalSourceUserInitiated, publisher.withdrawals[0].Source)
}

func TestInitiateWithdrawalRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("zero collateral", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		f.chain.custody = big.NewInt(0)
		result, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "no collateral")
		assert.Empty(t, f.chain.writes)
	})

	t.Run("no account", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		f.resolver.accounts = map[string]string{}
		result, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Empty(t, f.chain.writes)
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		_, err := f.processor.InitiateWithdrawal(ctx, "0x123", testToken, "")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		_, err = f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "vault")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("confirmation timeout propagates", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		f.chain.waitErr = apperrors.ErrConfirmationTimeout
		_, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
		assert.ErrorIs(t, err, apperrors.ErrConfirmationTimeout)
		assert.Empty(t, f.executor.Calls())
	})
}

func TestCompleteRequest(t *testing.T) {
	f := newWithdrawalFixture(t)
	ctx := context.Background()

	_, err := f.processor.ProcessWithdrawalRequest(ctx, withdrawalEvent(), requestTx, 77)
	require.NoError(t, err)

	_, err = f.processor.CompleteRequest(ctx, requestTx, models.WithdrawalStatusPendingProcessing)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	done, err := f.processor.CompleteRequest(ctx, strings.ToLower(requestTx), models.WithdrawalStatusProcessed)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusProcessed, done.Status)

	again, err := f.processor.CompleteRequest(ctx, requestTx, models.WithdrawalStatusProcessed)
	require.NoError(t, err, "repeating the same outcome is a no-op")
	assert.Equal(t, models.WithdrawalStatusProcessed, again.Status)

	_, err = f.processor.CompleteRequest(ctx, requestTx, models.WithdrawalStatusFailed)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", apperrors.Code(err))

	_, err = f.processor.CompleteRequest(ctx, "0xdead", models.WithdrawalStatusFailed)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	pending, err := f.processor.ListRequests(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	processed, err := f.processor.ListRequests(ctx, models.WithdrawalStatusProcessed, 10_000)
	require.NoError(t, err)
	assert.Len(t, processed, 1)

	_, err = f.processor.ListRequests(ctx, "DONE", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestInitiateAllowedAfterCompletion(t *testing.T) {
	f := newWithdrawalFixture(t)
	ctx := context.Background()

	first, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
	require.NoError(t, err)
	require.True(t, first.Success)

	refused, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
	require.NoError(t, err)
	assert.False(t, refused.Success)

	_, err = f.processor.CompleteRequest(ctx, first.TxHash, models.WithdrawalStatusProcessed)
	require.NoError(t, err)

	second, err := f.processor.InitiateWithdrawal(ctx, testWallet, testToken, "")
	require.NoError(t, err)
	assert.True(t, second.Success)
}
