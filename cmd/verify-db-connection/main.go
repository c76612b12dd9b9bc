package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	"credit-backend/internal/config"
	"credit-backend/internal/db"
	"credit-backend/internal/models"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and ledger schema...")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gdb, err := db.Open(cfg.Database, logrus.StandardLogger())
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	if err := db.Ping(gdb); err != nil {
		log.Fatalf("Ping failed: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	missing := 0
	migrator := gdb.Migrator()
	for _, model := range []interface{}{
		&models.CreditLedgerEntry{},
		&models.CreditDeduction{},
		&models.WithdrawalRequest{},
		&models.ChainSyncCursor{},
	} {
		name := tableName(model)
		if migrator.HasTable(model) {
			fmt.Printf("✅ table %s\n", name)
			continue
		}
		fmt.Printf("❌ table %s does not exist\n", name)
		missing++
	}
	if !migrator.HasIndex(&models.CreditLedgerEntry{}, "idx_ledger_deposit_event") {
		fmt.Println("❌ unique index idx_ledger_deposit_event is missing; duplicate deposit events would be credited twice")
		missing++
	}

	// tx hashes are 0x + 64 hex chars
	var size sql.NullInt64
	err = sqlDB.QueryRow(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = 'credit_ledger_entries'
		AND column_name = 'deposit_tx_hash'
	`).Scan(&size)
	switch {
	case err == sql.ErrNoRows || (err == nil && !size.Valid):
		fmt.Println("❌ credit_ledger_entries.deposit_tx_hash column does not exist")
		missing++
	case err != nil:
		log.Fatalf("Failed to query column size: %v", err)
	case size.Int64 < 66:
		fmt.Printf("❌ deposit_tx_hash is VARCHAR(%d), need VARCHAR(66)\n", size.Int64)
		missing++
	default:
		fmt.Printf("✅ deposit_tx_hash is VARCHAR(%d)\n", size.Int64)
	}

	fmt.Println(strings.Repeat("=", 60))
	if missing > 0 {
		log.Fatalf("%d schema problem(s) found; start the service once to run migrations", missing)
	}
	fmt.Println("✅ Database is ready")
}

func tableName(model interface{}) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return fmt.Sprintf("%T", model)
}
