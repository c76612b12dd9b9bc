package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"credit-backend/internal/config"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ContractReader is the read half of the chain gateway
type ContractReader interface {
	Read(ctx context.Context, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error)
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// PriceFeedService resolves token USD prices from static overrides or Chainlink aggregators
type PriceFeedService struct {
	reader     ContractReader
	static     map[string]decimal.Decimal
	aggregator map[string]string
	ttl        time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

// NewPriceFeedService builds the feed from config. reader may be nil when only static prices are used.
func NewPriceFeedService(cfg config.PriceFeedConfig, reader ContractReader, logger *logrus.Logger) (*PriceFeedService, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &PriceFeedService{
		reader:     reader,
		static:     make(map[string]decimal.Decimal),
		aggregator: make(map[string]string),
		ttl:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]cachedPrice),
	}
	for token, value := range cfg.StaticUSD {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("price_feeds.staticUsd[%s]: %w", token, err)
		}
		s.static[strings.ToLower(token)] = price
	}
	for token, feed := range cfg.Chainlink {
		if _, err := parseAddress(feed); err != nil {
			return nil, fmt.Errorf("price_feeds.chainlink[%s]: %w", token, err)
		}
		s.aggregator[strings.ToLower(token)] = feed
	}
	if len(s.aggregator) > 0 && reader == nil {
		return nil, fmt.Errorf("price_feeds.chainlink configured without a chain reader")
	}
	return s, nil
}

// GetPriceInUSD returns the token's USD price. ok is false when no source has a positive price.
func (s *PriceFeedService) GetPriceInUSD(ctx context.Context, tokenAddress string) (decimal.Decimal, bool, error) {
	token := strings.ToLower(strings.TrimSpace(tokenAddress))

	if price, found := s.static[token]; found {
		return price, price.IsPositive(), nil
	}

	feed, found := s.aggregator[token]
	if !found {
		return decimal.Zero, false, nil
	}

	s.mu.RLock()
	cached, hit := s.cache[token]
	s.mu.RUnlock()
	if hit && s.ttl > 0 && s.now().Sub(cached.fetchedAt) < s.ttl {
		return cached.price, true, nil
	}

	price, err := s.readAggregator(ctx, feed)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !price.IsPositive() {
		s.logger.WithFields(logrus.Fields{"token": token, "feed": feed, "answer": price.String()}).
			Warn("[PriceFeed] aggregator returned a non-positive answer")
		return decimal.Zero, false, nil
	}

	s.mu.Lock()
	s.cache[token] = cachedPrice{price: price, fetchedAt: s.now()}
	s.mu.Unlock()
	return price, true, nil
}

func (s *PriceFeedService) readAggregator(ctx context.Context, feed string) (decimal.Decimal, error) {
	decOut, err := s.reader.Read(ctx, feed, ChainlinkAggregatorABI, "decimals")
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s decimals: %w", feed, err)
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected decimals type %T from %s", decOut[0], feed)
	}

	round, err := s.reader.Read(ctx, feed, ChainlinkAggregatorABI, "latestRoundData")
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s latestRoundData: %w", feed, err)
	}
	if len(round) < 2 {
		return decimal.Zero, fmt.Errorf("short latestRoundData output from %s", feed)
	}
	answer, ok := round[1].(*big.Int)
	if !ok || answer == nil {
		return decimal.Zero, fmt.Errorf("unexpected answer type %T from %s", round[1], feed)
	}
	return decimal.NewFromBigInt(answer, -int32(decimals)), nil
}
