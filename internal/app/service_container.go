package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-backend/internal/clients"
	"credit-backend/internal/config"
	"credit-backend/internal/db"
	"credit-backend/internal/events"
	"credit-backend/internal/handlers"
	"credit-backend/internal/middleware"
	"credit-backend/internal/repository"
	"credit-backend/internal/router"
	"credit-backend/internal/services"
	"credit-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns every long-lived component of the process
type ServiceContainer struct {
	cfg    *config.Config
	logger *logrus.Logger

	// Database
	DB *gorm.DB

	// Repositories
	LedgerRepo     repository.CreditLedgerRepository
	WithdrawalRepo repository.WithdrawalRequestRepository
	CursorRepo     repository.ChainCursorRepository

	// Chain
	Gateways    map[uint64]*clients.ChainGateway
	LedgerChain *clients.ChainGateway
	PriceFeed   *clients.PriceFeedService

	// Internal data API
	InternalAPI *clients.InternalAPIClient

	// Core Services
	Locks               *utils.GroupLock
	Notifier            *services.BackgroundNotifier
	CreditAllocation    *services.CreditAllocationService
	DepositIngestion    *services.DepositIngestionService
	WithdrawalProcessor *services.WithdrawalProcessor
	ChainSync           *services.ChainEventSyncService

	// Event services (optional)
	NATSClient *clients.NATSClient
	EventBus   *events.EventBus

	Auth *middleware.AuthMiddleware
}

// NewServiceContainer wires the process from configuration. The returned container
// has not started any background work yet.
func NewServiceContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		Gateways: make(map[uint64]*clients.ChainGateway),
	}

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"database", c.initDatabase},
		{"chain gateways", c.initChain},
		{"core services", c.initCoreServices},
		{"auth", c.initAuth},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	// Event services are optional; the periodic sync backfills without them
	if err := c.initEventServices(); err != nil {
		logger.WithError(err).Warn("⚠️ Event services initialization skipped or failed")
	}

	logger.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initDatabase(_ context.Context) error {
	gdb, err := db.Open(c.cfg.Database, c.logger)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}
	c.DB = gdb

	c.LedgerRepo = repository.NewCreditLedgerRepository(gdb)
	c.WithdrawalRepo = repository.NewWithdrawalRequestRepository(gdb)
	c.CursorRepo = repository.NewChainCursorRepository(gdb)
	c.logger.Info("✅ Repositories initialized")
	return nil
}

func (c *ServiceContainer) initChain(ctx context.Context) error {
	for name, network := range c.cfg.Blockchain.Networks {
		if !network.Enabled {
			continue
		}
		gateway, err := clients.DialChainGateway(ctx, network, c.logger)
		if err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}
		c.Gateways[network.ChainID] = gateway
	}

	ledgerChain, ok := c.Gateways[c.cfg.Ledger.ChainID]
	if !ok {
		return fmt.Errorf("ledger chain %d is not an enabled network", c.cfg.Ledger.ChainID)
	}
	c.LedgerChain = ledgerChain

	// Chainlink aggregators are read on the ledger chain
	feed, err := clients.NewPriceFeedService(c.cfg.PriceFeeds, ledgerChain, c.logger)
	if err != nil {
		return err
	}
	c.PriceFeed = feed
	for _, gateway := range c.Gateways {
		gateway.SetPriceFeed(feed)
	}
	return nil
}

func (c *ServiceContainer) initCoreServices(_ context.Context) error {
	c.logger.Info("🔧 Initializing Core Services...")

	c.InternalAPI = clients.NewInternalAPIClient(c.cfg.InternalAPI, c.logger)
	accounts := clients.NewAccountResolver(c.InternalAPI)

	c.Locks = utils.NewGroupLock()
	c.Notifier = services.NewBackgroundNotifier(0, 0, c.logger)

	c.CreditAllocation = services.NewCreditAllocationService(c.LedgerRepo, c.Locks, c.logger)
	c.CreditAllocation.SetNotifier(c.Notifier)

	pricing, err := services.NewDepositPricing(c.cfg.Ledger)
	if err != nil {
		return err
	}
	c.DepositIngestion, err = services.NewDepositIngestionService(c.CreditAllocation, accounts, c.PriceFeed, pricing, c.logger)
	if err != nil {
		return err
	}

	network, err := c.cfg.NetworkByChainID(c.cfg.Ledger.ChainID)
	if err != nil {
		return err
	}
	c.WithdrawalProcessor, err = services.NewWithdrawalProcessor(services.WithdrawalProcessorConfig{
		Chain:               c.LedgerChain,
		Requests:            c.WithdrawalRepo,
		Accounts:            accounts,
		Executor:            clients.NewWithdrawalExecutor(c.InternalAPI),
		Locks:               c.Locks,
		VaultAddress:        network.CreditVault,
		Confirmations:       network.Confirmations,
		ConfirmationTimeout: network.ConfirmationTimeout(),
		Logger:              c.logger,
	})
	if err != nil {
		return err
	}
	c.WithdrawalProcessor.SetNotifier(c.Notifier)

	c.ChainSync = services.NewChainEventSyncService(
		c.LedgerChain,
		c.CursorRepo,
		c.DepositIngestion,
		c.WithdrawalProcessor,
		network.CreditVault,
		c.cfg.Ledger.StartBlock,
		c.cfg.Ledger.ReorgDepth,
		c.cfg.Ledger.SyncEvery(),
		c.logger,
	)

	c.logger.Info("✅ Core Services initialized")
	return nil
}

func (c *ServiceContainer) initAuth(_ context.Context) error {
	auth, err := middleware.NewAuthMiddleware(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer, c.logger)
	if err != nil {
		return err
	}
	c.Auth = auth
	return nil
}

func (c *ServiceContainer) initEventServices() error {
	if c.cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}
	client, err := clients.NewNATSClient(c.cfg.NATS, c.logger)
	if err != nil {
		return err
	}
	c.NATSClient = client

	c.EventBus = events.NewEventBus(client, c.cfg.NATS.SubjectPrefix, c.logger)
	if err := c.EventBus.SubscribeVaultEvents(c.DepositIngestion, c.WithdrawalProcessor); err != nil {
		return err
	}
	c.CreditAllocation.SetPublisher(c.EventBus)
	c.WithdrawalProcessor.SetPublisher(c.EventBus)
	return nil
}

// Router builds the HTTP surface over the container's services
func (c *ServiceContainer) Router() *gin.Engine {
	gateways := make(map[uint64]handlers.CacheStatsProvider, len(c.Gateways))
	for chainID, gateway := range c.Gateways {
		gateways[chainID] = gateway
	}

	checks := map[string]handlers.HealthCheck{
		"database": func() error { return db.Ping(c.DB) },
		"internal_api": func() error {
			if !c.InternalAPI.Healthy() {
				return errors.New("circuit breaker open")
			}
			return nil
		},
	}
	if c.NATSClient != nil {
		checks["nats"] = func() error {
			if !c.NATSClient.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	return router.SetupRouter(router.Dependencies{
		Ledger:          c.CreditAllocation,
		Withdrawals:     c.WithdrawalProcessor,
		Gateways:        gateways,
		Syncer:          c.ChainSync,
		HealthChecks:    checks,
		Auth:            c.Auth,
		AllowedOrigins:  c.cfg.Server.AllowedOrigins,
		AdminAllowedIPs: c.cfg.Server.AdminAllowedIPs,
		Logger:          c.logger,
	})
}

// Start launches background work
func (c *ServiceContainer) Start() {
	if c.ChainSync != nil {
		c.ChainSync.Start()
	}
}

// Cleanup stops background work and releases connections. Safe on a partially built container.
func (c *ServiceContainer) Cleanup() {
	c.logger.Info("🧹 Cleaning up Service Container...")

	if c.ChainSync != nil {
		c.ChainSync.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.Notifier != nil {
		c.Notifier.Close()
	}
	for _, gateway := range c.Gateways {
		gateway.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	c.logger.Info("✅ Service Container cleaned up")
}

// ShutdownTimeout bound for draining HTTP requests on exit
const ShutdownTimeout = 15 * time.Second
