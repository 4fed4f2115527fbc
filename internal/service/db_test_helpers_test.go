package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newLedgerForTest builds a ledger over real sqlite-backed repositories with
// the clock pinned, so day keys are stable across the test run.
func newLedgerForTest(t *testing.T, trialLimit int, now time.Time) (*UsageLedger, *gorm.DB) {
	t.Helper()
	db := newTestDB(t, &domain.UsageRecord{}, &domain.Subscription{}, &domain.Plan{})
	ledger := NewUsageLedger(
		repository.NewUsageRepository(db),
		repository.NewSubscriptionRepository(db),
		NewCatalogService(repository.NewPlanRepository(db)),
		time.UTC,
		trialLimit,
	)
	ledger.now = func() time.Time { return now }
	return ledger, db
}

func seed(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}
