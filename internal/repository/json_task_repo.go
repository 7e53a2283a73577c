package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
)

// ── 持久化文档格式 ──

// currentSchemaVersion 当前写出的文档版本
//
//	v1: 顶层直接是 task_id → 记录，单个提醒字段 remind_ts / remind_sent，导出时间 last_handinget_ts
//	v2: {"version":2,"tasks":{...}}，提醒为 remind_ts_list + remind_sent_idx，导出时间 last_export_ts
const currentSchemaVersion = 2

// ErrDocumentCorrupt 任务文档无法解析；Load 会先把原文件改名隔离再返回该错误
var ErrDocumentCorrupt = errors.New("任务文档已损坏")

type taskDocument struct {
	Version int                    `json:"version"`
	Tasks   map[string]*taskRecord `json:"tasks"`
}

// taskRecord 文档中的任务记录，时间均为 Unix 秒（浮点）
type taskRecord struct {
	TaskID        string    `json:"task_id"`
	GroupID       int64     `json:"group_id"`
	CreatorID     int64     `json:"creator_id"`
	Name          string    `json:"name"`
	CreatedTS     float64   `json:"created_ts"`
	RemindTSList  []float64 `json:"remind_ts_list"`
	RemindSentIdx int       `json:"remind_sent_idx"`
	DeadlineTS    float64   `json:"deadline_ts"`
	DeadlineSent  bool      `json:"deadline_sent"`
	Closed        bool      `json:"closed"`
	Cancelled     bool      `json:"cancelled"`
	CancelledTS   float64   `json:"cancelled_ts"`
	CancelledBy   int64     `json:"cancelled_by"`
	LastExportTS  float64   `json:"last_export_ts"`
	Purged        bool      `json:"purged"`
	PurgedTS      float64   `json:"purged_ts"`
}

// legacyRecord v1 记录：所有字段都可能缺失
type legacyRecord struct {
	TaskID          string    `json:"task_id"`
	GroupID         int64     `json:"group_id"`
	CreatorID       int64     `json:"creator_id"`
	Name            string    `json:"name"`
	CreatedTS       float64   `json:"created_ts"`
	RemindTS        *float64  `json:"remind_ts"`
	RemindSent      bool      `json:"remind_sent"`
	RemindTSList    []float64 `json:"remind_ts_list"`
	RemindSentIdx   *int      `json:"remind_sent_idx"`
	DeadlineTS      float64   `json:"deadline_ts"`
	DeadlineSent    bool      `json:"deadline_sent"`
	Closed          bool      `json:"closed"`
	Cancelled       bool      `json:"cancelled"`
	CancelledTS     float64   `json:"cancelled_ts"`
	CancelledBy     int64     `json:"cancelled_by"`
	LastHandinGetTS float64   `json:"last_handinget_ts"`
	Purged          bool      `json:"purged"`
	PurgedTS        float64   `json:"purged_ts"`
}

// migrateDocument 把任意历史版本的文档升级为当前版本
func migrateDocument(raw []byte) (*taskDocument, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w，不是 JSON 对象: %w", ErrDocumentCorrupt, err)
	}

	if v, ok := probe["version"]; ok {
		var version int
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("%w，版本号非法: %w", ErrDocumentCorrupt, err)
		}
		if version > currentSchemaVersion {
			return nil, fmt.Errorf("任务文档版本 %d 高于当前支持的 %d", version, currentSchemaVersion)
		}
		var doc taskDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w，解析失败: %w", ErrDocumentCorrupt, err)
		}
		if doc.Tasks == nil {
			doc.Tasks = map[string]*taskRecord{}
		}
		doc.Version = currentSchemaVersion
		return &doc, nil
	}

	// v1：顶层即任务表，单条损坏的记录跳过
	doc := &taskDocument{Version: currentSchemaVersion, Tasks: make(map[string]*taskRecord, len(probe))}
	for id, body := range probe {
		var lr legacyRecord
		if err := json.Unmarshal(body, &lr); err != nil {
			continue
		}
		doc.Tasks[id] = upgradeV1(id, &lr)
	}
	return doc, nil
}

func upgradeV1(id string, lr *legacyRecord) *taskRecord {
	rec := &taskRecord{
		TaskID:       lr.TaskID,
		GroupID:      lr.GroupID,
		CreatorID:    lr.CreatorID,
		Name:         lr.Name,
		CreatedTS:    lr.CreatedTS,
		DeadlineTS:   lr.DeadlineTS,
		DeadlineSent: lr.DeadlineSent,
		Closed:       lr.Closed,
		Cancelled:    lr.Cancelled,
		CancelledTS:  lr.CancelledTS,
		CancelledBy:  lr.CancelledBy,
		LastExportTS: lr.LastHandinGetTS,
		Purged:       lr.Purged,
		PurgedTS:     lr.PurgedTS,
	}
	if rec.TaskID == "" {
		rec.TaskID = id
	}

	if lr.RemindTSList != nil {
		rec.RemindTSList = lr.RemindTSList
		if lr.RemindSentIdx != nil {
			rec.RemindSentIdx = *lr.RemindSentIdx
		}
	} else if lr.RemindTS != nil {
		rec.RemindTSList = []float64{*lr.RemindTS}
		if lr.RemindSent {
			rec.RemindSentIdx = 1
		}
	}
	return rec
}

// ── 记录与模型互转 ──

func fromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

func optionalTime(sec float64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := fromUnix(sec)
	return &t
}

func toUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func optionalUnix(t *time.Time) float64 {
	if t == nil {
		return 0
	}
	return toUnix(*t)
}

func (r *taskRecord) toModel() *model.HandinTask {
	remind := make(model.TimeList, 0, len(r.RemindTSList))
	for _, ts := range r.RemindTSList {
		remind = append(remind, fromUnix(ts))
	}
	idx := r.RemindSentIdx
	if idx < 0 {
		idx = 0
	}
	if idx > len(remind) {
		idx = len(remind)
	}
	return &model.HandinTask{
		TaskID:        r.TaskID,
		GroupID:       r.GroupID,
		CreatorID:     r.CreatorID,
		Name:          r.Name,
		CreatedAt:     fromUnix(r.CreatedTS),
		RemindAt:      remind,
		RemindSentIdx: idx,
		DeadlineAt:    fromUnix(r.DeadlineTS),
		DeadlineSent:  r.DeadlineSent,
		Closed:        r.Closed,
		Cancelled:     r.Cancelled,
		CancelledAt:   optionalTime(r.CancelledTS),
		CancelledBy:   r.CancelledBy,
		LastExportAt:  optionalTime(r.LastExportTS),
		Purged:        r.Purged,
		PurgedAt:      optionalTime(r.PurgedTS),
	}
}

func recordFromModel(t *model.HandinTask) *taskRecord {
	remind := make([]float64, 0, len(t.RemindAt))
	for _, at := range t.RemindAt {
		remind = append(remind, toUnix(at))
	}
	return &taskRecord{
		TaskID:        t.TaskID,
		GroupID:       t.GroupID,
		CreatorID:     t.CreatorID,
		Name:          t.Name,
		CreatedTS:     toUnix(t.CreatedAt),
		RemindTSList:  remind,
		RemindSentIdx: t.RemindSentIdx,
		DeadlineTS:    toUnix(t.DeadlineAt),
		DeadlineSent:  t.DeadlineSent,
		Closed:        t.Closed,
		Cancelled:     t.Cancelled,
		CancelledTS:   optionalUnix(t.CancelledAt),
		CancelledBy:   t.CancelledBy,
		LastExportTS:  optionalUnix(t.LastExportAt),
		Purged:        t.Purged,
		PurgedTS:      optionalUnix(t.PurgedAt),
	}
}

// ── JSON 文件实现 ──

type jsonTaskRepo struct {
	path   string
	logger *zap.Logger
}

// NewJSONTaskRepo 创建 JSON 文档版 TaskRepository
func NewJSONTaskRepo(path string, logger *zap.Logger) TaskRepository {
	return &jsonTaskRepo{path: path, logger: logger}
}

// Load 读取并迁移任务文档；文件不存在时返回空表
func (r *jsonTaskRepo) Load(ctx context.Context) (map[string]*model.HandinTask, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*model.HandinTask{}, nil
		}
		return nil, fmt.Errorf("读取任务文档失败: %w", err)
	}

	doc, err := migrateDocument(raw)
	if err != nil {
		if errors.Is(err, ErrDocumentCorrupt) {
			r.quarantine()
		}
		return nil, err
	}

	out := make(map[string]*model.HandinTask, len(doc.Tasks))
	for id, rec := range doc.Tasks {
		if rec == nil {
			continue
		}
		if rec.TaskID == "" {
			rec.TaskID = id
		}
		out[id] = rec.toModel()
	}
	r.logger.Info("任务文档已加载", zap.String("path", r.path), zap.Int("count", len(out)))
	return out, nil
}

// quarantine 把损坏的文档改名为 <path>.corrupt-<unix秒>，之后的保存不会覆盖它
func (r *jsonTaskRepo) quarantine() {
	aside := fmt.Sprintf("%s.corrupt-%d", r.path, time.Now().Unix())
	if err := os.Rename(r.path, aside); err != nil {
		r.logger.Error("隔离损坏的任务文档失败", zap.String("path", r.path), zap.Error(err))
		return
	}
	r.logger.Warn("任务文档已损坏，原文件已改名保留", zap.String("path", r.path), zap.String("aside", aside))
}

// Save 先写同目录临时文件再 rename，保证文档要么是旧版本要么是新版本
func (r *jsonTaskRepo) Save(ctx context.Context, tasks []*model.HandinTask) error {
	doc := taskDocument{Version: currentSchemaVersion, Tasks: make(map[string]*taskRecord, len(tasks))}
	for _, t := range tasks {
		doc.Tasks[t.TaskID] = recordFromModel(t)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化任务文档失败: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建任务文档目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("刷盘失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		cleanup()
		return fmt.Errorf("替换任务文档失败: %w", err)
	}
	return nil
}
