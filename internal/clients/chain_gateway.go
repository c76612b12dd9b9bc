package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"credit-backend/internal/config"
	apperrors "credit-backend/internal/errors"
	"credit-backend/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// EthBackend is the subset of *ethclient.Client the gateway uses
type EthBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// PriceFeed resolves a token's USD price; ok is false when no usable price exists
type PriceFeed interface {
	GetPriceInUSD(ctx context.Context, tokenAddress string) (price decimal.Decimal, ok bool, err error)
}

// RetryPolicy bounds retries of transient RPC failures
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy 3 attempts, 1s then 2s backoff
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

const (
	defaultConfirmationTimeout = 5 * time.Minute
	defaultPollInterval        = 2 * time.Second
	gasLimitBufferPercent      = 120
)

// ChainGatewayConfig everything a gateway needs; validated by NewChainGateway
type ChainGatewayConfig struct {
	ChainID             uint64
	Backend             EthBackend
	PrivateKey          *ecdsa.PrivateKey
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	RequestsPerSecond   float64 // 0 disables client-side limiting
	Retry               RetryPolicy
	ABICacheSize        int
	PriceFeed           PriceFeed
	NativeToken         string
	NativeTokenDecimals uint8
	Logger              *logrus.Logger
}

// PendingTx handle of a submitted transaction
type PendingTx struct {
	Hash        common.Hash
	Nonce       uint64
	From        common.Address
	To          common.Address
	Method      string
	SubmittedAt time.Time
	Tx          *types.Transaction
}

// WaitOptions overrides the gateway defaults for one wait
type WaitOptions struct {
	Confirmations uint64
	Timeout       time.Duration
}

// ChainGateway is the only component that talks to one EVM chain. It owns the
// signer key, retries transient RPC failures and caches parsed ABIs.
type ChainGateway struct {
	chainID             uint64
	chainLabel          string
	backend             EthBackend
	key                 *ecdsa.PrivateKey
	from                common.Address
	confirmations       uint64
	confirmationTimeout time.Duration
	pollInterval        time.Duration
	retry               RetryPolicy
	limiter             *rate.Limiter
	abis                *ABICache
	nativeToken         string
	nativeDecimals      uint8
	logger              *logrus.Logger

	// nonce assignment and send must not interleave for one signer
	sendMu sync.Mutex

	priceMu   sync.RWMutex
	priceFeed PriceFeed
}

// NewChainGateway validates cfg and creates a gateway
func NewChainGateway(cfg ChainGatewayConfig) (*ChainGateway, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain gateway: chain id is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("chain gateway: backend is required")
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("chain gateway: signer key is required")
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = common.Address{}.Hex()
	}
	if cfg.NativeTokenDecimals == 0 {
		cfg.NativeTokenDecimals = 18
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	g := &ChainGateway{
		chainID:             cfg.ChainID,
		chainLabel:          strconv.FormatUint(cfg.ChainID, 10),
		backend:             cfg.Backend,
		key:                 cfg.PrivateKey,
		from:                crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		confirmations:       cfg.Confirmations,
		confirmationTimeout: cfg.ConfirmationTimeout,
		pollInterval:        cfg.PollInterval,
		retry:               cfg.Retry,
		abis:                NewABICache(cfg.ABICacheSize),
		nativeToken:         strings.ToLower(cfg.NativeToken),
		nativeDecimals:      cfg.NativeTokenDecimals,
		logger:              cfg.Logger,
		priceFeed:           cfg.PriceFeed,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g, nil
}

// DialChainGateway connects to the first reachable RPC endpoint of a network
func DialChainGateway(ctx context.Context, network config.NetworkConfig, logger *logrus.Logger) (*ChainGateway, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(network.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key for %s: %w", network.Name, err)
	}

	var (
		client  *ethclient.Client
		lastErr error
	)
	for i, endpoint := range network.RPCEndpoints {
		logger.WithFields(logrus.Fields{"network": network.Name, "attempt": i + 1}).Debug("[ChainGateway] dialing RPC endpoint")
		c, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		remoteID, err := c.ChainID(checkCtx)
		cancel()
		if err != nil {
			lastErr = err
			c.Close()
			continue
		}
		if remoteID.Uint64() != network.ChainID {
			lastErr = fmt.Errorf("endpoint reports chain %s, expected %d", remoteID, network.ChainID)
			c.Close()
			continue
		}
		client = c
		break
	}
	if client == nil {
		return nil, fmt.Errorf("failed to connect to %s network: %w", network.Name, lastErr)
	}

	logger.WithFields(logrus.Fields{"network": network.Name, "chain_id": network.ChainID}).Info("[ChainGateway] connected")
	return NewChainGateway(ChainGatewayConfig{
		ChainID:             network.ChainID,
		Backend:             client,
		PrivateKey:          key,
		Confirmations:       network.Confirmations,
		ConfirmationTimeout: network.ConfirmationTimeout(),
		RequestsPerSecond:   network.RequestsPerSecond,
		NativeToken:         network.NativeToken,
		NativeTokenDecimals: network.NativeTokenDecimals,
		Logger:              logger,
	})
}

// ChainID the chain this gateway is bound to
func (g *ChainGateway) ChainID() uint64 { return g.chainID }

// SignerAddress the address transactions are sent from
func (g *ChainGateway) SignerAddress() common.Address { return g.from }

// CacheStats ABI cache counters
func (g *ChainGateway) CacheStats() ABICacheStats { return g.abis.Stats() }

// Close releases the RPC connection when the backend owns one
func (g *ChainGateway) Close() {
	if closer, ok := g.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// SetPriceFeed installs the USD source used by gas estimates. The price feed itself
// reads oracles through a gateway, so it is wired after construction.
func (g *ChainGateway) SetPriceFeed(feed PriceFeed) {
	g.priceMu.Lock()
	defer g.priceMu.Unlock()
	g.priceFeed = feed
}

func (g *ChainGateway) currentPriceFeed() PriceFeed {
	g.priceMu.RLock()
	defer g.priceMu.RUnlock()
	return g.priceFeed
}

// LatestBlock current head block number
func (g *ChainGateway) LatestBlock(ctx context.Context) (uint64, error) {
	return withRetry(ctx, g, "blockNumber", func(ctx context.Context) (uint64, error) {
		return g.backend.BlockNumber(ctx)
	})
}

// Read calls a view or pure function and returns the decoded outputs
func (g *ChainGateway) Read(ctx context.Context, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error) {
	to, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	parsed, err := g.abis.Get(abiJSON)
	if err != nil {
		return nil, err
	}
	data, err := packCall(parsed, method, args)
	if err != nil {
		return nil, err
	}

	out, err := withRetry(ctx, g, "read", func(ctx context.Context) ([]byte, error) {
		return g.backend.CallContract(ctx, ethereum.CallMsg{From: g.from, To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", method, err)
	}
	return values, nil
}

// Write signs and submits a state-changing call. It returns once the transaction is
// accepted by the node; use WaitForConfirmation for inclusion.
func (g *ChainGateway) Write(ctx context.Context, contract, abiJSON, method string, args ...interface{}) (*PendingTx, error) {
	to, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	parsed, err := g.abis.Get(abiJSON)
	if err != nil {
		return nil, err
	}
	data, err := packCall(parsed, method, args)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*PendingTx, error) {
		return nil, newContractCallError("write", to.Hex(), method, args, err)
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	nonce, err := withRetry(ctx, g, "pendingNonce", func(ctx context.Context) (uint64, error) {
		return g.backend.PendingNonceAt(ctx, g.from)
	})
	if err != nil {
		return fail(fmt.Errorf("nonce: %w", err))
	}

	gasUnits, err := withRetry(ctx, g, "estimateGas", func(ctx context.Context) (uint64, error) {
		return g.backend.EstimateGas(ctx, ethereum.CallMsg{From: g.from, To: &to, Data: data})
	})
	if err != nil {
		return fail(fmt.Errorf("estimate gas: %w", err))
	}
	gasLimit := gasUnits * gasLimitBufferPercent / 100

	fees, err := g.feeQuote(ctx)
	if err != nil {
		return fail(err)
	}

	chainID := new(big.Int).SetUint64(g.chainID)
	var unsigned *types.Transaction
	if fees.dynamic {
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.tipCap,
			GasFeeCap: fees.maxFee,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		})
	} else {
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Data:     data,
		})
	}

	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(chainID), g.key)
	if err != nil {
		return fail(fmt.Errorf("sign: %w", err))
	}

	_, err = withRetry(ctx, g, "sendTransaction", func(ctx context.Context) (struct{}, error) {
		sendErr := g.backend.SendTransaction(ctx, signed)
		// a retried send of the same signed tx may find it already in the pool
		if sendErr != nil && strings.Contains(strings.ToLower(sendErr.Error()), "already known") {
			return struct{}{}, nil
		}
		return struct{}{}, sendErr
	})
	if err != nil {
		return fail(fmt.Errorf("send: %w", err))
	}

	g.logger.WithFields(logrus.Fields{
		"chain_id": g.chainID,
		"contract": to.Hex(),
		"method":   method,
		"tx_hash":  signed.Hash().Hex(),
		"nonce":    nonce,
	}).Info("[ChainGateway] transaction submitted")

	return &PendingTx{
		Hash:        signed.Hash(),
		Nonce:       nonce,
		From:        g.from,
		To:          to,
		Method:      method,
		SubmittedAt: time.Now(),
		Tx:          signed,
	}, nil
}

// WaitForConfirmation polls until the transaction has the requested confirmations or
// the timeout passes. A timeout means the outcome is unknown, not that the tx failed.
func (g *ChainGateway) WaitForConfirmation(ctx context.Context, tx *PendingTx, opts WaitOptions) (*types.Receipt, error) {
	if tx == nil {
		return nil, apperrors.ValidationError("tx", "pending transaction is required")
	}
	confirmations := opts.Confirmations
	if confirmations == 0 {
		confirmations = g.confirmations
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.confirmationTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	log := g.logger.WithFields(logrus.Fields{"chain_id": g.chainID, "tx_hash": tx.Hash.Hex()})
	for {
		receipt, err := g.backend.TransactionReceipt(waitCtx, tx.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.TxHash != tx.Hash {
				return nil, fmt.Errorf("%w: expected %s, got %s", apperrors.ErrReceiptMismatch, tx.Hash.Hex(), receipt.TxHash.Hex())
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s (%s) in block %s", apperrors.ErrTransactionReverted, tx.Hash.Hex(), tx.Method, receipt.BlockNumber)
			}
			if confirmations <= 1 {
				return receipt, nil
			}
			head, headErr := g.backend.BlockNumber(waitCtx)
			if headErr == nil && receipt.BlockNumber != nil && head >= receipt.BlockNumber.Uint64() &&
				head-receipt.BlockNumber.Uint64()+1 >= confirmations {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil:
			log.WithError(err).Debug("[ChainGateway] receipt query failed, polling again")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logPendingState(tx, timeout)
			return nil, fmt.Errorf("%w: %s after %s", apperrors.ErrConfirmationTimeout, tx.Hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// logPendingState records whether a timed-out transaction is still in the mempool
func (g *ChainGateway) logPendingState(tx *PendingTx, waited time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := g.logger.WithFields(logrus.Fields{
		"chain_id": g.chainID,
		"tx_hash":  tx.Hash.Hex(),
		"method":   tx.Method,
		"waited":   waited.String(),
	})
	_, isPending, err := g.backend.TransactionByHash(ctx, tx.Hash)
	switch {
	case err != nil:
		log.WithError(err).Warn("[ChainGateway] confirmation timed out; transaction status unknown")
	case isPending:
		log.Warn("[ChainGateway] confirmation timed out; transaction still pending")
	default:
		log.Warn("[ChainGateway] confirmation timed out; transaction mined but not yet confirmed")
	}
}

type feeQuote struct {
	dynamic  bool
	baseFee  *big.Int
	tipCap   *big.Int
	maxFee   *big.Int
	gasPrice *big.Int
}

// feeQuote returns EIP-1559 caps when the head block carries a base fee, else a legacy price
func (g *ChainGateway) feeQuote(ctx context.Context) (*feeQuote, error) {
	header, err := withRetry(ctx, g, "headerByNumber", func(ctx context.Context) (*types.Header, error) {
		return g.backend.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if header != nil && header.BaseFee != nil {
		tip, err := withRetry(ctx, g, "suggestGasTipCap", func(ctx context.Context) (*big.Int, error) {
			return g.backend.SuggestGasTipCap(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("gas tip cap: %w", err)
		}
		maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
		return &feeQuote{dynamic: true, baseFee: header.BaseFee, tipCap: tip, maxFee: maxFee}, nil
	}

	price, err := withRetry(ctx, g, "suggestGasPrice", func(ctx context.Context) (*big.Int, error) {
		return g.backend.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return &feeQuote{gasPrice: price}, nil
}

// withRetry runs fn up to the policy's attempt bound, backing off exponentially between
// retryable failures. The last error is returned unchanged.
func withRetry[T any](ctx context.Context, g *ChainGateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := g.retry.BaseDelay
	start := time.Now()
	defer func() {
		metrics.ChainRPCDuration.WithLabelValues(g.chainLabel, op).Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		if err == nil {
			metrics.ChainRPCRequests.WithLabelValues(g.chainLabel, op, "success").Inc()
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == g.retry.MaxAttempts || ctx.Err() != nil {
			break
		}

		metrics.ChainRPCRetries.WithLabelValues(g.chainLabel, op).Inc()
		g.logger.WithFields(logrus.Fields{
			"chain_id": g.chainID,
			"op":       op,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).WithError(err).Warn("[ChainGateway] transient RPC failure, retrying")

		select {
		case <-ctx.Done():
			metrics.ChainRPCRequests.WithLabelValues(g.chainLabel, op, "error").Inc()
			return zero, lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}

	metrics.ChainRPCRequests.WithLabelValues(g.chainLabel, op, "error").Inc()
	return zero, lastErr
}

func parseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidAddress, address)
	}
	return common.HexToAddress(address), nil
}

func packCall(parsed *abi.ABI, method string, args []interface{}) ([]byte, error) {
	if _, ok := parsed.Methods[method]; !ok {
		return nil, apperrors.ValidationError("method", fmt.Sprintf("%q not found in abi", method))
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", apperrors.ErrInvalidInput, method, err)
	}
	return data, nil
}
