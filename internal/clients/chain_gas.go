package clients

import (
	"context"
	"fmt"
	"math/big"

	apperrors "credit-backend/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Share of the EIP-1559 max fee used as the expected price; the cap itself is a worst case
const effectiveMaxFeePercent = 60

// GasEstimateRequest the call to price
type GasEstimateRequest struct {
	Contract string
	ABI      string
	Method   string
	Args     []interface{}
	From     *common.Address // defaults to the gateway signer
	Value    *big.Int
}

// GasEstimate gas cost of a call, in wei and USD
type GasEstimate struct {
	GasUnits          uint64          `json:"gas_units"`
	EffectiveGasPrice *big.Int        `json:"effective_gas_price_wei"`
	FeeMarket         bool            `json:"fee_market"`
	CostWei           *big.Int        `json:"cost_wei"`
	CostNative        decimal.Decimal `json:"cost_native"`
	NativePriceUSD    decimal.Decimal `json:"native_price_usd"`
	CostUSD           decimal.Decimal `json:"cost_usd"`
}

// EstimateGasCostInUSD prices a call. It returns a positive USD cost or an error, never zero.
// A would-revert simulation wraps ErrSimulationReverted; RPC failures wrap ErrGasEstimation.
func (g *ChainGateway) EstimateGasCostInUSD(ctx context.Context, req GasEstimateRequest) (*GasEstimate, error) {
	to, err := parseAddress(req.Contract)
	if err != nil {
		return nil, err
	}
	parsed, err := g.abis.Get(req.ABI)
	if err != nil {
		return nil, err
	}
	data, err := packCall(parsed, req.Method, req.Args)
	if err != nil {
		return nil, err
	}
	from := g.from
	if req.From != nil {
		from = *req.From
	}

	gasUnits, err := withRetry(ctx, g, "estimateGas", func(ctx context.Context) (uint64, error) {
		return g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: req.Value})
	})
	if err != nil {
		if IsRevert(err) {
			reason, _ := RevertReason(err)
			return nil, fmt.Errorf("%w: %s(%s) reason=%q: %w", apperrors.ErrSimulationReverted, req.Method, to.Hex(), reason, err)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrGasEstimation, err)
	}
	if gasUnits == 0 {
		return nil, fmt.Errorf("%w: node returned zero gas", apperrors.ErrGasEstimation)
	}

	fees, err := g.feeQuote(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrGasEstimation, err)
	}
	var effective *big.Int
	if fees.dynamic {
		effective = new(big.Int).Mul(fees.maxFee, big.NewInt(effectiveMaxFeePercent))
		effective.Div(effective, big.NewInt(100))
	} else {
		effective = new(big.Int).Set(fees.gasPrice)
	}
	if effective.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive gas price %s", apperrors.ErrGasEstimation, effective)
	}

	feed := g.currentPriceFeed()
	if feed == nil {
		return nil, fmt.Errorf("%w: no price feed configured", apperrors.ErrPriceUnavailable)
	}
	price, ok, err := feed.GetPriceInUSD(ctx, g.nativeToken)
	if err != nil {
		return nil, fmt.Errorf("%w: native token %s: %w", apperrors.ErrPriceUnavailable, g.nativeToken, err)
	}
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("%w: native token %s has no positive price", apperrors.ErrPriceUnavailable, g.nativeToken)
	}

	costWei := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), effective)
	costNative := decimal.NewFromBigInt(costWei, -int32(g.nativeDecimals))
	costUSD := costNative.Mul(price)
	if !costUSD.IsPositive() {
		return nil, fmt.Errorf("%w: computed non-positive cost", apperrors.ErrGasEstimation)
	}

	g.logger.WithFields(logrus.Fields{
		"chain_id":  g.chainID,
		"method":    req.Method,
		"gas_units": gasUnits,
		"gas_price": effective.String(),
		"cost_usd":  costUSD.StringFixed(6),
	}).Debug("[ChainGateway] gas cost estimated")

	return &GasEstimate{
		GasUnits:          gasUnits,
		EffectiveGasPrice: effective,
		FeeMarket:         fees.dynamic,
		CostWei:           costWei,
		CostNative:        costNative,
		NativePriceUSD:    price,
		CostUSD:           costUSD,
	}, nil
}
