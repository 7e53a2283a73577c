package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
)

func TestJSONTaskRepo_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "_handin_tasks.json")
	repo := NewJSONTaskRepo(path, zap.NewNop())

	exported := time.Unix(1700007200, 0)
	task := &model.HandinTask{
		TaskID:        "100:作业1:1700000000",
		GroupID:       100,
		CreatorID:     42,
		Name:          "作业1",
		CreatedAt:     time.Unix(1700000000, 0),
		RemindAt:      model.TimeList{time.Unix(1700003600, 0)},
		RemindSentIdx: 1,
		DeadlineAt:    time.Unix(1700007200, 0),
		LastExportAt:  &exported,
	}
	if err := repo.Save(ctx, []*model.HandinTask{task}); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"version": 2`) {
		t.Errorf("文档应写出版本号，实际: %s", raw)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	loaded := got[task.TaskID]
	if loaded == nil {
		t.Fatal("期望加载到任务")
	}
	if loaded.RemindSentIdx != 1 || len(loaded.RemindAt) != 1 || loaded.RemindAt[0].Unix() != 1700003600 {
		t.Errorf("提醒字段不符: %+v", loaded)
	}
	if loaded.LastExportAt == nil || loaded.LastExportAt.Unix() != exported.Unix() {
		t.Errorf("导出时间不符: %v", loaded.LastExportAt)
	}
	if loaded.CancelledAt != nil || loaded.PurgedAt != nil {
		t.Error("未设置的时间应为 nil")
	}

	matches, _ := filepath.Glob(path + ".*.tmp")
	if len(matches) != 0 {
		t.Errorf("不应残留临时文件: %v", matches)
	}
}

func TestJSONTaskRepo_LoadMissingFile(t *testing.T) {
	repo := NewJSONTaskRepo(filepath.Join(t.TempDir(), "none.json"), zap.NewNop())
	got, err := repo.Load(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("文件不存在应返回空表，实际 %v, %v", got, err)
	}
}

func TestJSONTaskRepo_LoadCorruptQuarantines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	repo := NewJSONTaskRepo(path, zap.NewNop())

	if _, err := repo.Load(context.Background()); !errors.Is(err, ErrDocumentCorrupt) {
		t.Fatalf("期望 ErrDocumentCorrupt，实际: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("损坏的文档应被改名隔离")
	}
	aside, _ := filepath.Glob(path + ".corrupt-*")
	if len(aside) != 1 {
		t.Fatalf("期望 1 个隔离文件，实际 %v", aside)
	}
	if data, _ := os.ReadFile(aside[0]); string(data) != "{not json" {
		t.Errorf("隔离文件内容应保持原样，实际 %s", data)
	}
}

func TestJSONTaskRepo_LoadNewerVersionKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "tasks": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	repo := NewJSONTaskRepo(path, zap.NewNop())

	_, err := repo.Load(context.Background())
	if err == nil || errors.Is(err, ErrDocumentCorrupt) {
		t.Fatalf("高版本文档应返回非损坏类错误，实际: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("高版本文档不应被改名")
	}
}

func TestMigrateDocument_V1SingleReminder(t *testing.T) {
	raw := []byte(`{
		"100:作业1:1700000000": {
			"task_id": "100:作业1:1700000000",
			"group_id": 100,
			"creator_id": 42,
			"name": "作业1",
			"created_ts": 1700000000.5,
			"remind_ts": 1700003600,
			"remind_sent": true,
			"deadline_ts": 1700007200,
			"last_handinget_ts": 1700009000
		},
		"100:作业2:1700000001": {
			"group_id": 100,
			"name": "作业2",
			"deadline_ts": 1700007200
		},
		"broken": 5
	}`)

	doc, err := migrateDocument(raw)
	if err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	if doc.Version != currentSchemaVersion {
		t.Errorf("期望升级到 v%d，实际 v%d", currentSchemaVersion, doc.Version)
	}
	if len(doc.Tasks) != 2 {
		t.Fatalf("损坏记录应跳过，期望 2 条，实际 %d", len(doc.Tasks))
	}

	r1 := doc.Tasks["100:作业1:1700000000"]
	if len(r1.RemindTSList) != 1 || r1.RemindSentIdx != 1 {
		t.Errorf("单提醒字段应升级为列表且已发送，实际 %+v", r1)
	}
	if r1.LastExportTS != 1700009000 {
		t.Errorf("last_handinget_ts 应迁移为 last_export_ts，实际 %v", r1.LastExportTS)
	}

	r2 := doc.Tasks["100:作业2:1700000001"]
	if r2.TaskID != "100:作业2:1700000001" || len(r2.RemindTSList) != 0 || r2.RemindSentIdx != 0 {
		t.Errorf("缺省字段应补齐，实际 %+v", r2)
	}
}

func TestMigrateDocument_RejectsNewerVersion(t *testing.T) {
	if _, err := migrateDocument([]byte(`{"version": 99, "tasks": {}}`)); err == nil {
		t.Error("高于当前版本的文档应拒绝加载")
	}
}

func TestTaskRecord_ClampsSentIndex(t *testing.T) {
	rec := &taskRecord{TaskID: "x", RemindTSList: []float64{1}, RemindSentIdx: 5}
	if got := rec.toModel().RemindSentIdx; got != 1 {
		t.Errorf("越界的已发送索引应截断为 1，实际 %d", got)
	}
}
