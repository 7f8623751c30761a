package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pinpoint-labs/pinpoint/internal/threads"
)

func TestApplyMigrationsBackfillsThreadPriority(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&threads.Thread{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := threads.Thread{
		ID:          "thread-1",
		Repo:        "acme/storefront",
		ContextType: string(threads.ContextTypeUI),
		Selector:    "div.container",
		Status:      string(threads.StatusOpen),
		Priority:    "",
		CreatedBy:   "user-1",
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert thread: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored threads.Thread
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload thread: %v", err)
	}
	if stored.Priority != string(threads.PriorityNormal) {
		testContext.Fatalf("expected backfilled priority, got %q", stored.Priority)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillThreadPriority).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Re-running must not re-apply.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}
