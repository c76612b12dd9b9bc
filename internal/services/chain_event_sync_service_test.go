package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"credit-backend/internal/clients"
	"credit-backend/internal/config"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventSource struct {
	mu          sync.Mutex
	head        uint64
	events      map[string][]clients.DecodedEvent
	undecodable map[string][]clients.UndecodableLog
	ranges      [][2]uint64
}

func (s *fakeEventSource) ChainID() uint64 { return 1337 }

func (s *fakeEventSource) LatestBlock(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *fakeEventSource) GetPastEvents(_ context.Context, _ string, _ string, eventName string, from uint64, to *uint64, _ ...[]common.Hash) ([]clients.DecodedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranges = append(s.ranges, [2]uint64{from, *to})
	var out []clients.DecodedEvent
	for _, ev := range s.events[eventName] {
		if ev.BlockNumber >= from && ev.BlockNumber <= *to {
			out = append(out, ev)
		}
	}
	var bad []clients.UndecodableLog
	for _, lg := range s.undecodable[eventName] {
		if lg.BlockNumber >= from && lg.BlockNumber <= *to {
			bad = append(bad, lg)
		}
	}
	if len(bad) > 0 {
		return out, &clients.LogDecodeError{Event: eventName, Logs: bad}
	}
	return out, nil
}

type recordingSinks struct {
	mu      sync.Mutex
	order   []string
	failAt  uint64
	failErr error
}

func (r *recordingSinks) IngestDeposit(_ context.Context, event DepositRecordedEvent) (*models.CreditLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt != 0 && event.BlockNumber == r.failAt {
		return nil, r.failErr
	}
	r.order = append(r.order, "deposit:"+event.Amount.String())
	return &models.CreditLedgerEntry{}, nil
}

func (r *recordingSinks) ProcessWithdrawalRequest(_ context.Context, event WithdrawalRequestedEvent, txHash string, block uint64) (*models.WithdrawalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "withdrawal:"+strings.ToLower(event.User))
	return &models.WithdrawalRequest{}, nil
}

func depositLog(block uint64, logIndex uint, amount int64) clients.DecodedEvent {
	return clients.DecodedEvent{
		Name:        clients.EventDepositRecorded,
		BlockNumber: block,
		LogIndex:    logIndex,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Args: map[string]interface{}{
			"vaultAccount": common.HexToAddress(testVault),
			"user":         common.HexToAddress(testWallet),
			"token":        common.HexToAddress(testToken),
			"amount":       big.NewInt(amount),
		},
	}
}

func withdrawalLog(block uint64, logIndex uint) clients.DecodedEvent {
	return clients.DecodedEvent{
		Name:        clients.EventWithdrawalRequested,
		BlockNumber: block,
		LogIndex:    logIndex,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Args: map[string]interface{}{
			"vaultAccount": common.HexToAddress(testVault),
			"user":         common.HexToAddress(testWallet),
			"token":        common.HexToAddress(testToken),
		},
	}
}

func newSyncFixture(t *testing.T, source *fakeEventSource, sinks *recordingSinks) (*ChainEventSyncService, repository.ChainCursorRepository) {
	t.Helper()
	cursors := repository.NewChainCursorRepository(testutil.NewTestDB(t))
	svc := NewChainEventSyncService(source, cursors, sinks, sinks, testVault, 10, 5, time.Hour, quietLogger())
	return svc, cursors
}

func TestSyncOnceDispatchesInBlockOrder(t *testing.T) {
	source := &fakeEventSource{
		head: 100,
		events: map[string][]clients.DecodedEvent{
			clients.EventDepositRecorded:     {depositLog(12, 0, 1), depositLog(40, 2, 3), depositLog(97, 0, 99)},
			clients.EventWithdrawalRequested: {withdrawalLog(40, 1)},
		},
	}
	sinks := &recordingSinks{}
	svc, cursors := newSyncFixture(t, source, sinks)
	ctx := context.Background()

	result, err := svc.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), result.FromBlock)
	assert.Equal(t, uint64(95), result.ToBlock, "stays reorgDepth behind the head")
	assert.Equal(t, 2, result.Deposits)
	assert.Equal(t, 1, result.Withdrawals)
	assert.True(t, result.UpToDate)
	assert.Equal(t, []string{"deposit:1", "withdrawal:" + strings.ToLower(testWallet), "deposit:3"}, sinks.order)

	last, ok, err := cursors.Get(ctx, 1337, testVault)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(95), last)

	// nothing new until the head moves
	result, err = svc.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.Len(t, sinks.order, 3)

	source.mu.Lock()
	source.head = 110
	source.mu.Unlock()
	result, err = svc.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(96), result.FromBlock)
	assert.Equal(t, "deposit:99", sinks.order[len(sinks.order)-1])
}

func TestSyncOnceStopsCursorBeforeFailedBlock(t *testing.T) {
	source := &fakeEventSource{
		head: 200,
		events: map[string][]clients.DecodedEvent{
			clients.EventDepositRecorded: {depositLog(20, 0, 1), depositLog(50, 0, 2), depositLog(60, 0, 3)},
		},
	}
	sinks := &recordingSinks{failAt: 50, failErr: errors.New("price feed down")}
	svc, cursors := newSyncFixture(t, source, sinks)
	ctx := context.Background()

	_, err := svc.SyncOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price feed down")

	last, ok, err := cursors.Get(ctx, 1337, testVault)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(49), last)

	sinks.failAt = 0
	_, err = svc.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"deposit:1", "deposit:2", "deposit:3"}, sinks.order)
}

func TestSyncOnceSkipsEventsThatCanNeverSucceed(t *testing.T) {
	f := newLedgerFixture(t)
	pricing, err := NewDepositPricing(config.LedgerConfig{UsdPerPoint: "1"})
	require.NoError(t, err)
	prices := &fakePrices{prices: map[string]decimal.Decimal{strings.ToLower(testToken): decimal.NewFromInt(1)}}
	ingestion, err := NewDepositIngestionService(f.engine, &fakeResolver{accounts: map[string]string{}}, prices, pricing, quietLogger())
	require.NoError(t, err)

	unpriced := depositLog(25, 0, 1_000_000_000_000_000_000)
	unpriced.Args["token"] = common.HexToAddress("0x00000000000000000000000000000000000000E2")
	source := &fakeEventSource{
		head: 100,
		events: map[string][]clients.DecodedEvent{
			clients.EventDepositRecorded: {
				depositLog(20, 0, 0),
				unpriced,
				depositLog(30, 0, 1_000_000_000_000_000_000),
			},
		},
	}
	cursors := repository.NewChainCursorRepository(testutil.NewTestDB(t))
	svc := NewChainEventSyncService(source, cursors, ingestion, &recordingSinks{}, testVault, 10, 5, time.Hour, quietLogger())
	ctx := context.Background()

	for pass := 0; pass < 3; pass++ {
		_, err := svc.SyncOnce(ctx)
		require.NoError(t, err, "pass %d", pass)
	}

	last, ok, err := cursors.Get(ctx, 1337, testVault)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(95), last)

	balance, err := f.engine.GetBalance(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance, "the valid deposit after the bad ones is credited once")
}

func TestSyncOnceReportsSkippedEvents(t *testing.T) {
	source := &fakeEventSource{
		head: 100,
		events: map[string][]clients.DecodedEvent{
			clients.EventDepositRecorded: {depositLog(20, 0, 1), depositLog(40, 0, 2)},
		},
		undecodable: map[string][]clients.UndecodableLog{
			clients.EventWithdrawalRequested: {{
				TxHash:      common.BigToHash(big.NewInt(30)),
				LogIndex:    4,
				BlockNumber: 30,
				Err:         errors.New("abi: improperly formatted output"),
			}},
		},
	}
	sinks := &recordingSinks{failAt: 40, failErr: apperrors.ValidationError("user", "invalid depositor address")}
	svc, cursors := newSyncFixture(t, source, sinks)
	ctx := context.Background()

	result, err := svc.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deposits)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []string{"deposit:1"}, sinks.order)

	last, ok, err := cursors.Get(ctx, 1337, testVault)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(95), last)
}

func TestIsPermanentEventError(t *testing.T) {
	assert.True(t, isPermanentEventError(apperrors.ValidationError("amount", "must be positive")))
	assert.True(t, isPermanentEventError(fmt.Errorf("token x: %w", apperrors.ErrPriceUnavailable)))
	assert.True(t, isPermanentEventError(&clients.LogDecodeError{Event: clients.EventDepositRecorded}))
	assert.False(t, isPermanentEventError(errors.New("connection refused")))
	assert.False(t, isPermanentEventError(fmt.Errorf("resolve account: %w", apperrors.ErrInternal)))
}

func TestSyncOnceBoundsRangePerPass(t *testing.T) {
	source := &fakeEventSource{head: 100_000, events: map[string][]clients.DecodedEvent{}}
	svc, _ := newSyncFixture(t, source, &recordingSinks{})

	result, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Equal(t, uint64(10), result.FromBlock)
	assert.Equal(t, uint64(10+maxBlocksPerSync-1), result.ToBlock)
	// one full pass is exactly 20 eth_getLogs chunks
	assert.Equal(t, uint64(20), (result.ToBlock-result.FromBlock+1)/clients.LogChunkSize)
	assert.Zero(t, (result.ToBlock-result.FromBlock+1)%clients.LogChunkSize)
}

func TestSyncServiceStartStop(t *testing.T) {
	source := &fakeEventSource{head: 20, events: map[string][]clients.DecodedEvent{
		clients.EventDepositRecorded: {depositLog(11, 0, 5)},
	}}
	sinks := &recordingSinks{}
	svc, _ := newSyncFixture(t, source, sinks)

	svc.Start()
	require.Eventually(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.order) == 1
	}, time.Second, 10*time.Millisecond, "initial pass runs on start")
	svc.Stop()
	svc.Stop()
}
