package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "credit-backend/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testVault = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUser  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fakeBackend struct {
	mu sync.Mutex

	callContract func(msg ethereum.CallMsg) ([]byte, error)
	estimateGas  func(msg ethereum.CallMsg) (uint64, error)
	callCount    int

	gasPrice *big.Int
	tipCap   *big.Int
	baseFee  *big.Int
	nonce    uint64
	sendErr  error
	sent     []*types.Transaction

	head         uint64
	logs         []types.Log
	queries      []ethereum.FilterQuery
	receipts     map[common.Hash]*types.Receipt
	pending      bool
	receiptCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gasPrice: big.NewInt(5_000_000_000),
		tipCap:   big.NewInt(2_000_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
		estimateGas: func(ethereum.CallMsg) (uint64, error) {
			return 100_000, nil
		},
	}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.callCount++
	fn := f.callContract
	f.mu.Unlock()
	return fn(msg)
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.estimateGas(msg)
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tipCap, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && lg.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, f.pending, nil
}

type staticPriceFeed struct {
	price decimal.Decimal
	ok    bool
	err   error
}

func (s staticPriceFeed) GetPriceInUSD(context.Context, string) (decimal.Decimal, bool, error) {
	return s.price, s.ok, s.err
}

type codedRPCError struct {
	code int
	msg  string
}

func (e codedRPCError) Error() string  { return e.msg }
func (e codedRPCError) ErrorCode() int { return e.code }

func newTestGateway(t *testing.T, backend EthBackend) *ChainGateway {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	gw, err := NewChainGateway(ChainGatewayConfig{
		ChainID:      1337,
		Backend:      backend,
		PrivateKey:   key,
		PollInterval: 5 * time.Millisecond,
		Retry:        RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		PriceFeed:    staticPriceFeed{price: decimal.NewFromInt(2000), ok: true},
		Logger:       logger,
	})
	require.NoError(t, err)
	return gw
}

func vaultABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(CreditVaultABI))
	require.NoError(t, err)
	return parsed
}

func custodyOutput(t *testing.T, userOwned, escrow int64) []byte {
	t.Helper()
	out, err := vaultABI(t).Methods["custody"].Outputs.Pack(big.NewInt(userOwned), big.NewInt(escrow))
	require.NoError(t, err)
	return out
}

func TestReadSucceedsAfterTransientFailures(t *testing.T) {
	backend := newFakeBackend()
	encoded := custodyOutput(t, 5, 7)
	attempts := 0
	backend.callContract = func(ethereum.CallMsg) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("read tcp: connection reset by peer")
		}
		return encoded, nil
	}
	gw := newTestGateway(t, backend)

	out, err := gw.Read(context.Background(), testVault.Hex(), CreditVaultABI, "custody", testUser, testToken)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, out, 2)
	assert.Equal(t, int64(5), out[0].(*big.Int).Int64())
	assert.Equal(t, int64(7), out[1].(*big.Int).Int64())
}

func TestReadSurfacesLastErrorAfterExhaustingRetries(t *testing.T) {
	backend := newFakeBackend()
	var last error
	backend.callContract = func(ethereum.CallMsg) ([]byte, error) {
		last = codedRPCError{code: -32005, msg: fmt.Sprintf("limit exceeded #%d", backend.callCount)}
		return nil, last
	}
	gw := newTestGateway(t, backend)

	_, err := gw.Read(context.Background(), testVault.Hex(), CreditVaultABI, "custody", testUser, testToken)
	require.Error(t, err)
	assert.Equal(t, 3, backend.callCount)
	assert.Equal(t, last, err, "last error is returned verbatim")
	assert.Contains(t, err.Error(), "#3")
}

func TestReadDoesNotRetryReverts(t *testing.T) {
	backend := newFakeBackend()
	backend.callContract = func(ethereum.CallMsg) ([]byte, error) {
		return nil, codedRPCError{code: 3, msg: "execution reverted: not allowed"}
	}
	gw := newTestGateway(t, backend)

	_, err := gw.Read(context.Background(), testVault.Hex(), CreditVaultABI, "custody", testUser, testToken)
	require.Error(t, err)
	assert.Equal(t, 1, backend.callCount)
	assert.True(t, IsRevert(err))
}

func TestReadValidatesBeforeDispatch(t *testing.T) {
	backend := newFakeBackend()
	backend.callContract = func(ethereum.CallMsg) ([]byte, error) { return nil, nil }
	gw := newTestGateway(t, backend)
	ctx := context.Background()

	_, err := gw.Read(ctx, "0x1234", CreditVaultABI, "custody", testUser, testToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAddress)

	_, err = gw.Read(ctx, testVault.Hex(), "[not json", "custody")
	assert.ErrorIs(t, err, apperrors.ErrInvalidABI)

	_, err = gw.Read(ctx, testVault.Hex(), CreditVaultABI, "missing")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = gw.Read(ctx, testVault.Hex(), CreditVaultABI, "custody", "not-an-address")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Zero(t, backend.callCount)
}

func TestABICacheStats(t *testing.T) {
	backend := newFakeBackend()
	encoded := custodyOutput(t, 1, 1)
	backend.callContract = func(ethereum.CallMsg) ([]byte, error) { return encoded, nil }
	gw := newTestGateway(t, backend)
	ctx := context.Background()

	_, err := gw.Read(ctx, testVault.Hex(), CreditVaultABI, "custody", testUser, testToken)
	require.NoError(t, err)
	// same ABI, different formatting
	compact := strings.Join(strings.Fields(CreditVaultABI), "")
	_, err = gw.Read(ctx, testVault.Hex(), compact, "custody", testUser, testToken)
	require.NoError(t, err)

	stats := gw.CacheStats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, DefaultABICacheSize, stats.Capacity)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestABICacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewABICache(2)
	abiFor := func(name string) string {
		return fmt.Sprintf(`[{"type":"function","name":"%s","inputs":[],"outputs":[]}]`, name)
	}

	for _, name := range []string{"a", "b", "c"} {
		_, err := cache.Get(abiFor(name))
		require.NoError(t, err)
	}
	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)

	_, err := cache.Get(abiFor("c"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cache.Stats().Hits)
}

func depositLog(t *testing.T, block uint64, index uint, amount int64) types.Log {
	t.Helper()
	event := vaultABI(t).Events[EventDepositRecorded]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(amount))
	require.NoError(t, err)
	return types.Log{
		Address: testVault,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(testVault.Bytes()),
			common.BytesToHash(testUser.Bytes()),
			common.BytesToHash(testToken.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*10 + uint64(index))),
	}
}

func TestGetPastEventsChunksInBlockOrder(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 2000
	var expected []uint64
	for block := uint64(0); block <= 1500; block += 37 {
		backend.logs = append(backend.logs, depositLog(t, block, 1, int64(block)), depositLog(t, block, 0, int64(block)))
		expected = append(expected, block, block)
	}
	// boundary blocks of every chunk
	for _, block := range []uint64{498, 499, 997, 998, 1496, 1497} {
		backend.logs = append(backend.logs, depositLog(t, block, 5, int64(block)))
	}
	gw := newTestGateway(t, backend)

	to := uint64(1500)
	events, err := gw.GetPastEvents(context.Background(), testVault.Hex(), CreditVaultABI, EventDepositRecorded, 0, &to)
	require.NoError(t, err)

	require.Len(t, backend.queries, 4)
	ranges := [][2]uint64{{0, 498}, {499, 997}, {998, 1496}, {1497, 1500}}
	for i, q := range backend.queries {
		assert.Equal(t, ranges[i][0], q.FromBlock.Uint64())
		assert.Equal(t, ranges[i][1], q.ToBlock.Uint64())
	}

	assert.Len(t, events, len(expected)+6)
	seen := make(map[string]bool)
	for i, ev := range events {
		key := fmt.Sprintf("%d/%d", ev.BlockNumber, ev.LogIndex)
		assert.False(t, seen[key], "duplicate event %s", key)
		seen[key] = true
		if i > 0 {
			prev := events[i-1]
			assert.True(t, prev.BlockNumber < ev.BlockNumber ||
				(prev.BlockNumber == ev.BlockNumber && prev.LogIndex < ev.LogIndex))
		}
	}
	for _, block := range []uint64{498, 499, 997, 998, 1496, 1497} {
		assert.True(t, seen[fmt.Sprintf("%d/5", block)], "missing boundary event at %d", block)
	}

	first := events[0]
	assert.Equal(t, EventDepositRecorded, first.Name)
	assert.Equal(t, testUser, first.Args["user"])
	assert.Equal(t, testToken, first.Args["token"])
	assert.Equal(t, int64(0), first.Args["amount"].(*big.Int).Int64())
}

func TestGetPastEventsReportsUndecodableLogs(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 300
	bad := depositLog(t, 150, 2, 7)
	bad.Data = []byte{0x01, 0x02}
	backend.logs = []types.Log{depositLog(t, 100, 0, 1), bad, depositLog(t, 200, 0, 3)}
	gw := newTestGateway(t, backend)

	to := uint64(300)
	events, err := gw.GetPastEvents(context.Background(), testVault.Hex(), CreditVaultABI, EventDepositRecorded, 0, &to)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUndecodableLog)
	assert.Contains(t, err.Error(), bad.TxHash.Hex())
	assert.Contains(t, err.Error(), "log 2")

	var decodeErr *LogDecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Len(t, decodeErr.Logs, 1)
	assert.Equal(t, uint64(150), decodeErr.Logs[0].BlockNumber)
	assert.Equal(t, uint(2), decodeErr.Logs[0].LogIndex)

	// the surrounding logs still decode
	require.Len(t, events, 2)
	assert.Equal(t, uint64(100), events[0].BlockNumber)
	assert.Equal(t, uint64(200), events[1].BlockNumber)
}

func TestGetPastEventsResolvesLatestAndValidatesRange(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 600
	backend.logs = []types.Log{depositLog(t, 550, 0, 10)}
	gw := newTestGateway(t, backend)
	ctx := context.Background()

	events, err := gw.GetPastEvents(ctx, testVault.Hex(), CreditVaultABI, EventDepositRecorded, 100, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, backend.queries, 2)
	assert.Equal(t, uint64(600), backend.queries[1].ToBlock.Uint64())

	to := uint64(50)
	_, err = gw.GetPastEvents(ctx, testVault.Hex(), CreditVaultABI, EventDepositRecorded, 100, &to)
	assert.ErrorIs(t, err, apperrors.ErrInvalidBlockRange)

	_, err = gw.GetPastEvents(ctx, testVault.Hex(), CreditVaultABI, "Nope", 0, &to)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestWriteUsesDynamicFeesWhenBaseFeePresent(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = big.NewInt(10_000_000_000)
	backend.nonce = 7
	gw := newTestGateway(t, backend)

	ptx, err := gw.Write(context.Background(), testVault.Hex(), CreditVaultABI, "recordWithdrawalRequest", testUser, testToken)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, ptx.Hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, big.NewInt(22_000_000_000), tx.GasFeeCap())
	assert.Equal(t, big.NewInt(2_000_000_000), tx.GasTipCap())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, testVault, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, gw.SignerAddress(), sender)
}

func TestWriteFallsBackToLegacyPricing(t *testing.T) {
	backend := newFakeBackend()
	gw := newTestGateway(t, backend)

	_, err := gw.Write(context.Background(), testVault.Hex(), CreditVaultABI, "recordWithdrawalRequest", testUser, testToken)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[0].Type())
	assert.Equal(t, big.NewInt(5_000_000_000), backend.sent[0].GasPrice())
}

func TestWriteWrapsFailuresWithCallContext(t *testing.T) {
	backend := newFakeBackend()
	cause := codedRPCError{code: 3, msg: "execution reverted: paused"}
	backend.estimateGas = func(ethereum.CallMsg) (uint64, error) { return 0, cause }
	gw := newTestGateway(t, backend)

	_, err := gw.Write(context.Background(), testVault.Hex(), CreditVaultABI, "recordWithdrawalRequest", testUser, testToken)
	require.Error(t, err)

	var callErr *ContractCallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "write", callErr.Op)
	assert.Equal(t, "recordWithdrawalRequest", callErr.Method)
	assert.Equal(t, testVault.Hex(), callErr.Contract)
	assert.Len(t, callErr.Args, 2)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, backend.sent)
}

func TestWaitForConfirmation(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0x01")
	ptx := &PendingTx{Hash: hash, Method: "recordWithdrawalRequest"}

	t.Run("confirmed", func(t *testing.T) {
		backend := newFakeBackend()
		backend.head = 12
		backend.receipts[hash] = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
		gw := newTestGateway(t, backend)

		receipt, err := gw.WaitForConfirmation(ctx, ptx, WaitOptions{Confirmations: 3, Timeout: time.Second})
		require.NoError(t, err)
		assert.Equal(t, hash, receipt.TxHash)
	})

	t.Run("receipt hash mismatch", func(t *testing.T) {
		backend := newFakeBackend()
		backend.receipts[hash] = &types.Receipt{TxHash: common.HexToHash("0x02"), Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}
		gw := newTestGateway(t, backend)

		_, err := gw.WaitForConfirmation(ctx, ptx, WaitOptions{Timeout: time.Second})
		assert.ErrorIs(t, err, apperrors.ErrReceiptMismatch)
	})

	t.Run("reverted", func(t *testing.T) {
		backend := newFakeBackend()
		backend.receipts[hash] = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}
		gw := newTestGateway(t, backend)

		_, err := gw.WaitForConfirmation(ctx, ptx, WaitOptions{Timeout: time.Second})
		assert.ErrorIs(t, err, apperrors.ErrTransactionReverted)
	})

	t.Run("timeout", func(t *testing.T) {
		backend := newFakeBackend()
		backend.pending = true
		gw := newTestGateway(t, backend)

		_, err := gw.WaitForConfirmation(ctx, ptx, WaitOptions{Timeout: 30 * time.Millisecond})
		assert.ErrorIs(t, err, apperrors.ErrConfirmationTimeout)
		assert.Greater(t, backend.receiptCalls, 1)
	})

	t.Run("waits for confirmations", func(t *testing.T) {
		backend := newFakeBackend()
		backend.head = 10
		backend.receipts[hash] = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}
		gw := newTestGateway(t, backend)

		_, err := gw.WaitForConfirmation(ctx, ptx, WaitOptions{Confirmations: 2, Timeout: 30 * time.Millisecond})
		assert.ErrorIs(t, err, apperrors.ErrConfirmationTimeout)
	})
}

func TestEstimateGasCostInUSD(t *testing.T) {
	ctx := context.Background()
	req := GasEstimateRequest{
		Contract: testVault.Hex(),
		ABI:      CreditVaultABI,
		Method:   "recordWithdrawalRequest",
		Args:     []interface{}{testUser, testToken},
	}

	t.Run("fee market uses 60 percent of max fee", func(t *testing.T) {
		backend := newFakeBackend()
		backend.baseFee = big.NewInt(10_000_000_000)
		gw := newTestGateway(t, backend)

		est, err := gw.EstimateGasCostInUSD(ctx, req)
		require.NoError(t, err)
		assert.True(t, est.FeeMarket)
		// (2*10 + 2) gwei * 0.6 = 13.2 gwei; 100k gas = 0.00132 ETH; at $2000 = $2.64
		assert.Equal(t, big.NewInt(13_200_000_000), est.EffectiveGasPrice)
		assert.True(t, est.CostUSD.Equal(decimal.RequireFromString("2.64")), est.CostUSD.String())
	})

	t.Run("legacy gas price", func(t *testing.T) {
		gw := newTestGateway(t, newFakeBackend())
		est, err := gw.EstimateGasCostInUSD(ctx, req)
		require.NoError(t, err)
		assert.False(t, est.FeeMarket)
		// 5 gwei * 100k = 0.0005 ETH = $1
		assert.True(t, est.CostUSD.Equal(decimal.NewFromInt(1)), est.CostUSD.String())
	})

	t.Run("missing price fails", func(t *testing.T) {
		gw := newTestGateway(t, newFakeBackend())
		gw.SetPriceFeed(staticPriceFeed{ok: false})
		_, err := gw.EstimateGasCostInUSD(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)

		gw.SetPriceFeed(staticPriceFeed{price: decimal.NewFromInt(-1), ok: true})
		_, err = gw.EstimateGasCostInUSD(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	})

	t.Run("simulation revert vs network failure", func(t *testing.T) {
		backend := newFakeBackend()
		backend.estimateGas = func(ethereum.CallMsg) (uint64, error) {
			return 0, codedRPCError{code: 3, msg: "execution reverted"}
		}
		gw := newTestGateway(t, backend)
		_, err := gw.EstimateGasCostInUSD(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrSimulationReverted)

		backend.estimateGas = func(ethereum.CallMsg) (uint64, error) {
			return 0, rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}
		}
		_, err = gw.EstimateGasCostInUSD(ctx, req)
		assert.ErrorIs(t, err, apperrors.ErrGasEstimation)
		assert.NotErrorIs(t, err, apperrors.ErrSimulationReverted)
	})
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", rpc.HTTPError{StatusCode: 429}, true},
		{"http 400", rpc.HTTPError{StatusCode: 400}, false},
		{"limit exceeded code", codedRPCError{code: -32005, msg: "limit exceeded"}, true},
		{"revert code", codedRPCError{code: 3, msg: "execution reverted"}, false},
		{"invalid params", codedRPCError{code: -32602, msg: "invalid params"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"rate limit message", errors.New("daily request rate limit reached"), true},
		{"wrapped timeout", fmt.Errorf("call: %w", errors.New("i/o timeout")), true},
		{"unknown", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
