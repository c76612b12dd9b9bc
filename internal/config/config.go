package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	InternalAPI InternalAPIConfig `yaml:"internal_api"`
	Blockchain  BlockchainConfig  `yaml:"blockchain"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	PriceFeeds  PriceFeedConfig   `yaml:"price_feeds"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`  // CORS, defaults to *
	AdminAllowedIPs []string `yaml:"adminAllowedIps"` // IPs or CIDRs allowed on /admin besides localhost
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`        // seconds
	ReconnectWait int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"` // defaults to "credit"
}

// LoggingConfig logrus configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// AuthConfig service-to-service JWT configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// InternalAPIConfig internal data API (accounts, withdrawal execution)
type InternalAPIConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Timeout int    `yaml:"timeout"` // seconds
}

// BlockchainConfig Blockchain configuration
type BlockchainConfig struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// NetworkConfig one EVM network the gateway talks to
type NetworkConfig struct {
	ChainID                    uint64   `yaml:"chainId"`
	Name                       string   `yaml:"name"`
	RPCEndpoints               []string `yaml:"rpcEndpoints"`
	PrivateKey                 string   `yaml:"privateKey"` // hex, with or without 0x
	Confirmations              uint64   `yaml:"confirmations"`
	ConfirmationTimeoutSeconds int      `yaml:"confirmationTimeoutSeconds"`
	RequestsPerSecond          float64  `yaml:"requestsPerSecond"` // 0 = unlimited
	CreditVault                string   `yaml:"creditVault"`
	NativeToken                string   `yaml:"nativeToken"` // price-feed key for gas, zero address by default
	NativeTokenDecimals        uint8    `yaml:"nativeTokenDecimals"`
	Enabled                    bool     `yaml:"enabled"`
}

// LedgerConfig credit ledger economics and event sync
type LedgerConfig struct {
	ChainID       uint64            `yaml:"chainId"`
	UsdPerPoint   string            `yaml:"usdPerPoint"`
	FundingRates  map[string]string `yaml:"fundingRates"`  // token address -> rate
	TokenDecimals map[string]uint8  `yaml:"tokenDecimals"` // token address -> decimals
	SyncInterval  int               `yaml:"syncInterval"`  // seconds
	StartBlock    uint64            `yaml:"startBlock"`
	ReorgDepth    uint64            `yaml:"reorgDepth"`
}

// PriceFeedConfig USD price sources
type PriceFeedConfig struct {
	Chainlink       map[string]string `yaml:"chainlink"` // token address -> aggregator address
	StaticUSD       map[string]string `yaml:"staticUsd"` // token address -> fixed USD price
	CacheTTLSeconds int               `yaml:"cacheTtlSeconds"`
}

const (
	defaultUsdPerPoint  = "0.000337"
	defaultSyncInterval = 30
	defaultReorgDepth   = 12
	defaultConfirmTO    = 300
)

// LoadConfig reads the YAML file at configPath, applies environment overrides and defaults,
// and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "credit"
	}
	if c.InternalAPI.Timeout == 0 {
		c.InternalAPI.Timeout = 10
	}
	if c.Ledger.UsdPerPoint == "" {
		c.Ledger.UsdPerPoint = defaultUsdPerPoint
	}
	if c.Ledger.SyncInterval == 0 {
		c.Ledger.SyncInterval = defaultSyncInterval
	}
	if c.Ledger.ReorgDepth == 0 {
		c.Ledger.ReorgDepth = defaultReorgDepth
	}
	if c.PriceFeeds.CacheTTLSeconds == 0 {
		c.PriceFeeds.CacheTTLSeconds = 60
	}
	for name, network := range c.Blockchain.Networks {
		if network.Confirmations == 0 {
			network.Confirmations = 1
		}
		if network.ConfirmationTimeoutSeconds == 0 {
			network.ConfirmationTimeoutSeconds = defaultConfirmTO
		}
		if network.NativeToken == "" {
			network.NativeToken = common.Address{}.Hex()
		}
		if network.NativeTokenDecimals == 0 {
			network.NativeTokenDecimals = 18
		}
		if network.Name == "" {
			network.Name = name
		}
		c.Blockchain.Networks[name] = network
	}
}

// Validate fails fast on configuration that would only break at first use
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwtSecret is required")
	}
	if strings.TrimSpace(c.InternalAPI.BaseURL) == "" {
		return fmt.Errorf("internal_api.baseUrl is required")
	}

	usdPerPoint, err := decimal.NewFromString(c.Ledger.UsdPerPoint)
	if err != nil || !usdPerPoint.IsPositive() {
		return fmt.Errorf("ledger.usdPerPoint must be a positive decimal, got %q", c.Ledger.UsdPerPoint)
	}
	for token, rate := range c.Ledger.FundingRates {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("ledger.fundingRates: invalid token address %q", token)
		}
		r, err := decimal.NewFromString(rate)
		if err != nil || !r.IsPositive() {
			return fmt.Errorf("ledger.fundingRates[%s] must be a positive decimal, got %q", token, rate)
		}
	}

	enabled := 0
	for name, network := range c.Blockchain.Networks {
		if !network.Enabled {
			continue
		}
		enabled++
		if network.ChainID == 0 {
			return fmt.Errorf("blockchain.networks.%s.chainId is required", name)
		}
		if len(network.RPCEndpoints) == 0 {
			return fmt.Errorf("blockchain.networks.%s.rpcEndpoints is required", name)
		}
		if strings.TrimSpace(network.PrivateKey) == "" {
			return fmt.Errorf("blockchain.networks.%s.privateKey is required", name)
		}
		if !common.IsHexAddress(network.CreditVault) {
			return fmt.Errorf("blockchain.networks.%s.creditVault is not a valid address", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled blockchain network is required")
	}
	if _, err := c.NetworkByChainID(c.Ledger.ChainID); err != nil {
		return fmt.Errorf("ledger.chainId: %w", err)
	}
	return nil
}

// NetworkByChainID returns the enabled network with the given chain ID
func (c *Config) NetworkByChainID(chainID uint64) (*NetworkConfig, error) {
	for _, network := range c.Blockchain.Networks {
		if network.ChainID == chainID && network.Enabled {
			n := network
			return &n, nil
		}
	}
	return nil, fmt.Errorf("network with chainID %d not found or disabled", chainID)
}

// ConfirmationTimeout returns the configured wait bound for a network
func (n NetworkConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(n.ConfirmationTimeoutSeconds) * time.Second
}

// SyncEvery returns the backfill period
func (l LedgerConfig) SyncEvery() time.Duration {
	return time.Duration(l.SyncInterval) * time.Second
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitAndTrim(origins)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if apiURL := os.Getenv("INTERNAL_API_URL"); apiURL != "" {
		config.InternalAPI.BaseURL = apiURL
	}
	if apiKey := os.Getenv("INTERNAL_API_KEY"); apiKey != "" {
		config.InternalAPI.APIKey = apiKey
	}

	for networkName, networkConfig := range config.Blockchain.Networks {
		// Network-specific key first (e.g. SEPOLIA_PRIVATE_KEY), then the shared signer key
		envPrivateKey := fmt.Sprintf("%s_PRIVATE_KEY", strings.ToUpper(networkName))
		if privateKey := os.Getenv(envPrivateKey); privateKey != "" {
			networkConfig.PrivateKey = privateKey
		} else if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
			networkConfig.PrivateKey = privateKey
		}

		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(networkName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = splitAndTrim(rpcEndpoints)
		}

		envVault := fmt.Sprintf("%s_CREDIT_VAULT", strings.ToUpper(networkName))
		if vault := os.Getenv(envVault); vault != "" {
			networkConfig.CreditVault = vault
		}

		config.Blockchain.Networks[networkName] = networkConfig
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
