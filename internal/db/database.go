package db

import (
	"fmt"
	"time"

	"credit-backend/internal/config"
	"credit-backend/internal/metrics"
	"credit-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres and applies the pool settings. Schema migration is
// left to Migrate.
func Open(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), GormConfig())
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	metrics.DBConnectionStatus.Set(1)
	log.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("✅ Database connected successfully")
	return db, nil
}

// GormConfig shared gorm settings for every dialect
func GormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}
}

// Migrate creates or updates the ledger schema
func Migrate(db *gorm.DB) error {
	logrus.Info("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := db.AutoMigrate(
		&models.CreditLedgerEntry{},
		&models.CreditDeduction{},
		&models.WithdrawalRequest{},
		&models.ChainSyncCursor{},
	); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	logrus.Info("✅ Database schema migrated successfully")
	return nil
}

// Ping checks connectivity and refreshes the pool gauges
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	metrics.DBConnectionStatus.Set(1)
	metrics.DBConnectionOpen.Set(float64(sqlDB.Stats().OpenConnections))
	return nil
}
