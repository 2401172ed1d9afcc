// Package dbtest opens isolated in-memory sqlite databases with the full
// payflow schema for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"github.com/smallbiznis/payflow/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a migrated database seeded with the default ledger accounts.
// Each call gets its own shared-cache memory database, closed on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps the memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	SeedLedgerAccounts(t, conn)
	return conn
}

func SeedLedgerAccounts(t testing.TB, conn *gorm.DB) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, def := range ledgerdomain.DefaultAccounts {
		err := conn.Exec(
			`INSERT INTO ledger_accounts (id, code, type, created_at) VALUES (?, ?, ?, ?)`,
			int64(i+1),
			def.Code,
			def.Type,
			now,
		).Error
		if err != nil {
			t.Fatalf("seed ledger account %s: %v", def.Code, err)
		}
	}
}
