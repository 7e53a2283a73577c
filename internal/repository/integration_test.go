//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
)

// ═══════════════════════════════════════════════════════════
// Test Setup
// ═══════════════════════════════════════════════════════════

var testDB *gorm.DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5433 user=handin password=handin_password dbname=handin_test sslmode=disable TimeZone=Asia/Shanghai"
	}

	var err error
	testDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法连接测试数据库: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.AutoMigrate(&model.HandinTask{}); err != nil {
		fmt.Fprintf(os.Stderr, "AutoMigrate 失败: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Exit(code)
}

// ═══════════════════════════════════════════════════════════
// TaskRepository
// ═══════════════════════════════════════════════════════════

func TestTaskRepo_SaveUpsert(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepo(testDB)

	id := fmt.Sprintf("900:集成测试:%d", time.Now().UnixNano())
	t.Cleanup(func() {
		testDB.Where("task_id = ?", id).Delete(&model.HandinTask{})
	})

	task := &model.HandinTask{
		TaskID:     id,
		GroupID:    900,
		CreatorID:  1,
		Name:       "集成测试",
		CreatedAt:  time.Now(),
		RemindAt:   model.TimeList{time.Now().Add(time.Hour)},
		DeadlineAt: time.Now().Add(2 * time.Hour),
	}
	if err := repo.Save(ctx, []*model.HandinTask{task}); err != nil {
		t.Fatalf("首次保存失败: %v", err)
	}

	task.Closed = true
	task.RemindSentIdx = 1
	if err := repo.Save(ctx, []*model.HandinTask{task}); err != nil {
		t.Fatalf("再次保存失败: %v", err)
	}

	all, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	got := all[id]
	if got == nil {
		t.Fatal("期望读回任务")
	}
	if !got.Closed || got.RemindSentIdx != 1 || len(got.RemindAt) != 1 {
		t.Errorf("upsert 后字段不符: %+v", got)
	}
}
