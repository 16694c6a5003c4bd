package mappings

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/fin-analyzer/internal/apperr"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&TaskReportMapping{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewStore(db), db
}

func TestStoreCreateAndLookup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "task-1", "report-1", "user-1", "comprehensive")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byTask, err := store.ByTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("ByTask failed: %v", err)
	}
	if byTask.ID != created.ID || byTask.ReportID != "report-1" {
		t.Fatalf("unexpected mapping: %#v", byTask)
	}

	byReport, err := store.ByReport(ctx, "report-1")
	if err != nil {
		t.Fatalf("ByReport failed: %v", err)
	}
	if byReport.TaskID != "task-1" {
		t.Fatalf("byReport task = %s, want task-1", byReport.TaskID)
	}
}

func TestStoreByTaskNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.ByTask(context.Background(), "missing"); apperr.AsError(err).Code != "NOT_FOUND" {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestStoreDuplicateTaskIDRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "task-1", "report-1", "user-1", "risk"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, "task-1", "report-2", "user-1", "risk"); err == nil {
		t.Fatal("duplicate task_id should violate the unique index")
	}
}

func TestStoreByReportReturnsLatest(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "task-1", "report-1", "user-1", "risk")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := store.Create(ctx, "task-2", "report-1", "user-1", "risk")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 作成時刻で新旧をはっきりさせる
	if err := db.Model(&TaskReportMapping{}).Where("id = ?", first.ID).
		Update("created_at", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("failed to age first mapping: %v", err)
	}

	latest, err := store.ByReport(ctx, "report-1")
	if err != nil {
		t.Fatalf("ByReport failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest mapping = %s, want %s", latest.ID, second.ID)
	}
}

func TestStoreListByUserPagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Create(ctx, fmt.Sprintf("task-%d", i), fmt.Sprintf("report-%d", i), "user-1", "risk"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list, total, err := store.ListByUser(ctx, "user-1", 2, 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(list) != 2 {
		t.Fatalf("page size = %d, want 2", len(list))
	}
}

func TestStoreDeleteByTask(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "task-1", "report-1", "user-1", "risk"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.DeleteByTask(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteByTask failed: %v", err)
	}
	if err := store.DeleteByTask(ctx, "task-1"); apperr.AsError(err).Code != "NOT_FOUND" {
		t.Fatalf("second delete: got %v, want not found", err)
	}
}

func TestStoreCleanupOlderThan(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	old, err := store.Create(ctx, "task-old", "report-old", "user-1", "risk")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(ctx, "task-new", "report-new", "user-1", "risk"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := db.Model(&TaskReportMapping{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().UTC().AddDate(0, 0, -45)).Error; err != nil {
		t.Fatalf("failed to age mapping: %v", err)
	}

	taskIDs, err := store.CleanupOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOlderThan failed: %v", err)
	}
	if len(taskIDs) != 1 || taskIDs[0] != "task-old" {
		t.Fatalf("cleaned tasks = %v, want [task-old]", taskIDs)
	}

	if _, err := store.ByTask(ctx, "task-new"); err != nil {
		t.Fatalf("recent mapping should survive cleanup: %v", err)
	}
}
