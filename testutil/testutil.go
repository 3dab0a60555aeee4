// Package testutil provides a throwaway sqlite database and fixtures for package tests.
package testutil

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"splitpay-api/config"
	"splitpay-api/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB opens a migrated sqlite database under t.TempDir()
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := config.OpenDatabase(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1, LogLevel: "silent"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SeedTable creates an organization with one table
func SeedTable(t *testing.T, db *gorm.DB) (models.Organization, models.Table) {
	t.Helper()
	org := models.Organization{Name: "Test Bistro"}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("Failed to seed organization: %v", err)
	}
	table := models.Table{OrganizationID: org.ID, Name: "Table 1", QRCode: "qr-" + uuid.NewString()[:8]}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("Failed to seed table: %v", err)
	}
	return org, table
}

// SeedOrder creates an order on table with the given bill total
func SeedOrder(t *testing.T, db *gorm.DB, table models.Table, total int64) models.Order {
	t.Helper()
	order := models.Order{
		OrganizationID: table.OrganizationID,
		TableID:        table.ID,
		Status:         models.OrderOrdering,
		Subtotal:       total,
		TotalAmount:    total,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}

// ReloadOrder reads the order back from the database
func ReloadOrder(t *testing.T, db *gorm.DB, id string) models.Order {
	t.Helper()
	var order models.Order
	if err := db.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload order %s: %v", id, err)
	}
	return order
}

// ReloadClaim reads the claim back from the database
func ReloadClaim(t *testing.T, db *gorm.DB, id string) models.PaymentClaim {
	t.Helper()
	var claim models.PaymentClaim
	if err := db.First(&claim, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload claim %s: %v", id, err)
	}
	return claim
}

// ActiveClaimSum sums claimedAmount over reserved and processing claims
func ActiveClaimSum(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var sum int64
	err := db.Model(&models.PaymentClaim{}).
		Where("order_id = ? AND status IN ?", orderID, models.ActiveClaimStatuses).
		Select("COALESCE(SUM(claimed_amount), 0)").
		Scan(&sum).Error
	if err != nil {
		t.Fatalf("Failed to sum active claims: %v", err)
	}
	return sum
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
