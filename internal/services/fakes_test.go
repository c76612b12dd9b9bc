package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"credit-backend/internal/clients"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/models"
	"credit-backend/internal/repository"
	"credit-backend/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testWallet = "0xAbC0000000000000000000000000000000000001"
	testToken  = "0x00000000000000000000000000000000000000E1"
	testVault  = "0x000000000000000000000000000000000000Fa17"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type ledgerFixture struct {
	db     *gorm.DB
	ledger repository.CreditLedgerRepository
	engine *CreditAllocationService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	gdb := testutil.NewTestDB(t)
	ledger := repository.NewCreditLedgerRepository(gdb)
	return &ledgerFixture{
		db:     gdb,
		ledger: ledger,
		engine: NewCreditAllocationService(ledger, nil, quietLogger()),
	}
}

// seed inserts an active entry; rate "" makes it a refund
func (f *ledgerFixture) seed(t *testing.T, points int64, rate string, createdAt time.Time) *models.CreditLedgerEntry {
	t.Helper()
	entry := &models.CreditLedgerEntry{
		ID:               uuid.NewString(),
		EntryType:        models.CreditEntryTypeRefund,
		DepositorAddress: strings.ToLower(testWallet),
		PointsCredited:   points,
		PointsRemaining:  points,
		CreatedAt:        createdAt,
	}
	if rate != "" {
		entry.EntryType = models.CreditEntryTypeDeposit
		entry.FundingRateApplied = decimal.NewNullDecimal(decimal.RequireFromString(rate))
	}
	require.NoError(t, f.db.Create(entry).Error)
	return entry
}

func (f *ledgerFixture) remaining(t *testing.T, id string) int64 {
	t.Helper()
	entry, err := f.ledger.GetEntry(context.Background(), id)
	require.NoError(t, err)
	return entry.PointsRemaining
}

// inflatedLedger over-reports balances so the decrement loop runs out of entries
type inflatedLedger struct {
	repository.CreditLedgerRepository
}

func (l inflatedLedger) SumPointsRemainingForWalletAddress(ctx context.Context, wallet string) (int64, error) {
	total, err := l.CreditLedgerRepository.SumPointsRemainingForWalletAddress(ctx, wallet)
	return total + 1000, err
}

func (l inflatedLedger) Transaction(ctx context.Context, fn func(repo repository.CreditLedgerRepository) error) error {
	return l.CreditLedgerRepository.Transaction(ctx, func(tx repository.CreditLedgerRepository) error {
		return fn(inflatedLedger{tx})
	})
}

type fakeResolver struct {
	mu       sync.Mutex
	accounts map[string]string
	err      error
	calls    int
}

func (r *fakeResolver) ResolveWallet(_ context.Context, address string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	if id, ok := r.accounts[strings.ToLower(address)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("wallet %s: %w", address, apperrors.ErrNotFound)
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	err    error
}

func (p *fakePrices) GetPriceInUSD(_ context.Context, token string) (decimal.Decimal, bool, error) {
	if p.err != nil {
		return decimal.Zero, false, p.err
	}
	price, ok := p.prices[strings.ToLower(token)]
	return price, ok, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *fakeExecutor) ExecuteWithdrawal(_ context.Context, txHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, txHash)
	return e.err
}

func (e *fakeExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type fakeVaultChain struct {
	mu         sync.Mutex
	custody    *big.Int
	readErr    error
	writeErr   error
	waitErr    error
	writes     []string
	writeCount int
}

func (c *fakeVaultChain) ChainID() uint64 { return 1337 }

func (c *fakeVaultChain) Read(_ context.Context, contract, _ string, method string, args ...interface{}) ([]interface{}, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	if method != "custody" || len(args) != 2 {
		return nil, fmt.Errorf("unexpected read %s on %s", method, contract)
	}
	return []interface{}{new(big.Int).Set(c.custody), big.NewInt(0)}, nil
}

func (c *fakeVaultChain) Write(_ context.Context, contract, _ string, method string, _ ...interface{}) (*clients.PendingTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return nil, c.writeErr
	}
	c.writeCount++
	c.writes = append(c.writes, contract+"."+method)
	return &clients.PendingTx{
		Hash:   common.BigToHash(big.NewInt(int64(0xbeef00 + c.writeCount))),
		To:     common.HexToAddress(contract),
		Method: method,
	}, nil
}

func (c *fakeVaultChain) WaitForConfirmation(_ context.Context, tx *clients.PendingTx, _ clients.WaitOptions) (*ethtypes.Receipt, error) {
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	return &ethtypes.Receipt{
		TxHash:      tx.Hash,
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}, nil
}

type recordingPublisher struct {
	mu          sync.Mutex
	deducted    []PointsDeductedEvent
	added       []PointsAddedEvent
	withdrawals []WithdrawalRecordedEvent
}

func (p *recordingPublisher) PublishPointsDeducted(_ context.Context, event PointsDeductedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deducted = append(p.deducted, event)
	return nil
}

func (p *recordingPublisher) PublishPointsAdded(_ context.Context, event PointsAddedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, event)
	return nil
}

func (p *recordingPublisher) PublishWithdrawalRecorded(_ context.Context, event WithdrawalRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawals = append(p.withdrawals, event)
	return nil
}
