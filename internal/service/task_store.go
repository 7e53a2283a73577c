package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
	"github.com/Cooper3516833584/Cooper-bot/pkg/ziputil"
)

// ── 提交任务模块业务错误 ──

var (
	ErrTaskNameInvalid         = apperrors.New(apperrors.KindValidation, "任务名不合法：不能为空且不能包含空格。")
	ErrTaskTimeInvalid         = apperrors.New(apperrors.KindValidation, "时间格式不对：请用 月.日 时:分，例如 1.22 18:30（冒号中英文都行）。")
	ErrDeadlineInPast          = apperrors.New(apperrors.KindValidation, "截止时间必须晚于当前时间。")
	ErrRemindNotBeforeDeadline = apperrors.New(apperrors.KindValidation, "提醒时间必须早于截止时间。")
	ErrTaskDuplicateActive     = apperrors.New(apperrors.KindConflict, "任务已存在")
	ErrTaskNotFound            = apperrors.New(apperrors.KindNotFound, "任务不存在。")
	ErrTaskAlreadyClosed       = apperrors.New(apperrors.KindConflict, "任务已结束/已取消。")
	ErrTaskForbidden           = apperrors.New(apperrors.KindForbidden, "权限不足：只能取消你创建的任务（或联系管理员）。")
	ErrInboxFileMissing        = apperrors.New(apperrors.KindNotFound, "临时文件不存在（可能已过期/被清理）。")
	ErrArchiveFileExists       = apperrors.New(apperrors.KindConflict, "归档中已存在同名文件")
	ErrTaskPurged              = apperrors.New(apperrors.KindNotFound, "该任务归档已超过保留期（最后一次 /handinget 后已清理），无法再导出。如需长期保留请及时备份。")
	ErrNoSubmissions           = apperrors.New(apperrors.KindNotFound, "该任务当前还没有提交文件。")
	ErrRosterUnavailable       = apperrors.New(apperrors.KindNotFound, "读取班级名册失败")
)

// RosterSource 名册数据源（*roster.Cache 实现）
type RosterSource interface {
	Entries() []roster.Entry
	Path() string
}

// CreateTaskInput 创建任务参数
type CreateTaskInput struct {
	GroupID   int64
	CreatorID int64
	Name      string
	Reminders []time.Time
	Deadline  time.Time
}

// DueKind 到期通知类型
type DueKind int

const (
	DueReminder DueKind = iota + 1
	DueDeadline
)

// DueNotice 调度器一次扫描中到期的提醒或截止
type DueNotice struct {
	Kind  DueKind
	Task  *model.HandinTask
	Index int // 提醒序号（从 1 开始），截止通知为 0
	Total int // 提醒总数
}

// TaskStore 提交任务存储：任务生命周期、归档目录与持久化
// 对外只返回任务副本，所有修改都经由本接口完成
type TaskStore interface {
	Init(ctx context.Context) error

	CreateTask(ctx context.Context, in CreateTaskInput) (*model.HandinTask, error)
	CancelTask(ctx context.Context, taskID string, actorID int64, isAdmin bool) (*model.HandinTask, error)
	GetTask(taskID string) (*model.HandinTask, bool)

	ListActive() []*model.HandinTask
	ListActiveByGroup(groupID int64) []*model.HandinTask
	ListActiveByCreator(creatorID int64) []*model.HandinTask
	ListAll(includeClosed bool) []*model.HandinTask
	ListByGroup(groupID int64, includeClosed bool) []*model.HandinTask
	ListByCreator(creatorID int64, includeClosed bool) []*model.HandinTask

	ListSubmittedFiles(task *model.HandinTask) []string
	ComputeMissing(task *model.HandinTask) (*MissingReport, error)
	MoveIntoArchive(inboxPath, taskID string, overwrite bool) (string, error)
	IsExportable(task *model.HandinTask) bool
	ZipSubmissions(ctx context.Context, taskID, outZip string) (int, error)
	MarkExported(ctx context.Context, taskID string, at time.Time) error

	CollectDue(now time.Time) []DueNotice
	SweepRetention(now time.Time) bool
	Flush(ctx context.Context) error

	Location() *time.Location
}

// StoreOptions 存储路径与保留策略
type StoreOptions struct {
	ArchiveDir       string
	InboxDir         string
	LegacyGroupsDir  string
	LegacyDirName    string
	ArchiveRetention time.Duration
	InboxRetention   time.Duration
	Location         *time.Location
}

type taskStore struct {
	opts   StoreOptions
	repo   repository.TaskRepository
	roster RosterSource
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	tasks map[string]*model.HandinTask

	// saveMu 串行化持久化写入；archiveMu 串行化归档目录内的同名检查与移动
	saveMu    sync.Mutex
	archiveMu sync.Mutex
}

// NewTaskStore 创建 TaskStore 实例
func NewTaskStore(opts StoreOptions, repo *repository.Repository, rosterSrc RosterSource, logger *zap.Logger) TaskStore {
	return newTaskStore(opts, repo.Task, rosterSrc, logger, time.Now)
}

func newTaskStore(opts StoreOptions, repo repository.TaskRepository, rosterSrc RosterSource, logger *zap.Logger, now func() time.Time) *taskStore {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &taskStore{
		opts:   opts,
		repo:   repo,
		roster: rosterSrc,
		logger: logger,
		now:    now,
		tasks:  make(map[string]*model.HandinTask),
	}
}

func (s *taskStore) Location() *time.Location { return s.opts.Location }

// ────────────────────── Init ──────────────────────

func (s *taskStore) Init(ctx context.Context) error {
	for _, dir := range []string{s.opts.ArchiveDir, s.opts.InboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(apperrors.KindIO, "创建目录失败", err)
		}
	}

	if s.opts.LegacyGroupsDir != "" {
		migrateLegacyTree(s.opts.LegacyGroupsDir, s.opts.LegacyDirName, s.opts.ArchiveDir, s.logger)
	}

	tasks, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, repository.ErrDocumentCorrupt):
		// 损坏的文档已被仓库改名隔离，空表启动不会覆盖原数据
		s.logger.Warn("任务文档损坏，以空任务表启动", zap.Error(err))
		tasks = map[string]*model.HandinTask{}
	case err != nil:
		return apperrors.Wrap(apperrors.KindPersistence, "加载任务失败", err)
	}

	s.mu.Lock()
	s.tasks = tasks
	s.mu.Unlock()

	s.logger.Info("提交任务已加载", zap.Int("count", len(tasks)))
	return nil
}

// ────────────────────── CreateTask ──────────────────────

func (s *taskStore) CreateTask(ctx context.Context, in CreateTaskInput) (*model.HandinTask, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.ContainsAny(name, " \t\r\n　") {
		return nil, ErrTaskNameInvalid
	}
	if in.Deadline.IsZero() {
		return nil, ErrTaskTimeInvalid
	}

	now := s.now()
	if !in.Deadline.After(now) {
		return nil, ErrDeadlineInPast
	}

	reminders := model.TimeList(in.Reminders).Normalize()
	if n := len(reminders); n > 0 && !reminders[n-1].Before(in.Deadline) {
		return nil, ErrRemindNotBeforeDeadline
	}

	s.mu.Lock()
	for _, t := range s.tasks {
		if t.GroupID == in.GroupID && t.Name == name && t.IsActive(now) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w：%s（该群内同名任务尚未截止）", ErrTaskDuplicateActive, name)
		}
	}

	sec := now.Unix()
	id := fmt.Sprintf("%d:%s:%d", in.GroupID, name, sec)
	for s.tasks[id] != nil {
		sec++
		id = fmt.Sprintf("%d:%s:%d", in.GroupID, name, sec)
	}

	task := &model.HandinTask{
		TaskID:     id,
		GroupID:    in.GroupID,
		CreatorID:  in.CreatorID,
		Name:       name,
		CreatedAt:  now,
		RemindAt:   reminders,
		DeadlineAt: in.Deadline,
	}
	s.tasks[id] = task
	out := task.Clone()
	s.mu.Unlock()

	if err := os.MkdirAll(taskFilesDir(s.opts.ArchiveDir, task.GroupID, task.Name), 0o755); err != nil {
		s.logger.Warn("创建任务归档目录失败", zap.String("task_id", id), zap.Error(err))
	}

	s.persist(ctx)
	s.logger.Info("创建提交任务",
		zap.String("task_id", id),
		zap.Int64("group_id", in.GroupID),
		zap.Int64("creator_id", in.CreatorID),
		zap.Int("reminders", len(reminders)),
	)
	return out, nil
}

// ────────────────────── CancelTask ──────────────────────

func (s *taskStore) CancelTask(ctx context.Context, taskID string, actorID int64, isAdmin bool) (*model.HandinTask, error) {
	s.mu.Lock()
	t := s.tasks[taskID]
	if t == nil {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if t.Closed {
		s.mu.Unlock()
		return nil, ErrTaskAlreadyClosed
	}
	if !isAdmin && t.CreatorID != actorID {
		s.mu.Unlock()
		return nil, ErrTaskForbidden
	}

	now := s.now()
	t.Closed = true
	t.DeadlineSent = true
	t.Cancelled = true
	t.CancelledAt = &now
	t.CancelledBy = actorID
	out := t.Clone()
	s.mu.Unlock()

	s.persist(ctx)
	s.logger.Info("取消提交任务", zap.String("task_id", taskID), zap.Int64("actor_id", actorID))
	return out, nil
}

// ────────────────────── 查询 ──────────────────────

func (s *taskStore) GetTask(taskID string) (*model.HandinTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *taskStore) filter(keep func(*model.HandinTask) bool) []*model.HandinTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.HandinTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ListActive 进行中的任务，按截止时间升序
func (s *taskStore) ListActive() []*model.HandinTask {
	now := s.now()
	out := s.filter(func(t *model.HandinTask) bool { return t.IsActive(now) })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeadlineAt.Equal(out[j].DeadlineAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].DeadlineAt.Before(out[j].DeadlineAt)
	})
	return out
}

func (s *taskStore) ListActiveByGroup(groupID int64) []*model.HandinTask {
	return keepTasks(s.ListActive(), func(t *model.HandinTask) bool { return t.GroupID == groupID })
}

func (s *taskStore) ListActiveByCreator(creatorID int64) []*model.HandinTask {
	return keepTasks(s.ListActive(), func(t *model.HandinTask) bool { return t.CreatorID == creatorID })
}

// ListAll 全部任务（可排除已关闭），按截止时间倒序
func (s *taskStore) ListAll(includeClosed bool) []*model.HandinTask {
	out := s.filter(func(t *model.HandinTask) bool { return includeClosed || !t.Closed })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeadlineAt.Equal(out[j].DeadlineAt) {
			return out[i].TaskID > out[j].TaskID
		}
		return out[i].DeadlineAt.After(out[j].DeadlineAt)
	})
	return out
}

func (s *taskStore) ListByGroup(groupID int64, includeClosed bool) []*model.HandinTask {
	return keepTasks(s.ListAll(includeClosed), func(t *model.HandinTask) bool { return t.GroupID == groupID })
}

func (s *taskStore) ListByCreator(creatorID int64, includeClosed bool) []*model.HandinTask {
	return keepTasks(s.ListAll(includeClosed), func(t *model.HandinTask) bool { return t.CreatorID == creatorID })
}

func keepTasks(in []*model.HandinTask, keep func(*model.HandinTask) bool) []*model.HandinTask {
	out := in[:0]
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// ListSubmittedFiles 任务归档中的文件路径，按修改时间倒序
func (s *taskStore) ListSubmittedFiles(task *model.HandinTask) []string {
	dir := taskFilesDir(s.opts.ArchiveDir, task.GroupID, task.Name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type fileWithTime struct {
		path  string
		mtime time.Time
	}
	files := make([]fileWithTime, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithTime{path: filepath.Join(dir, e.Name()), mtime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out
}

// IsExportable 归档未被清理且目录仍存在
func (s *taskStore) IsExportable(task *model.HandinTask) bool {
	if task == nil || task.Purged {
		return false
	}
	info, err := os.Stat(taskFilesDir(s.opts.ArchiveDir, task.GroupID, task.Name))
	return err == nil && info.IsDir()
}

// ────────────────────── 归档 ──────────────────────

// MoveIntoArchive 把收件箱文件移动到任务归档目录，返回目标路径
// 目标已存在且 overwrite=false 时不移动，返回目标路径与 ErrArchiveFileExists
func (s *taskStore) MoveIntoArchive(inboxPath, taskID string, overwrite bool) (string, error) {
	task, ok := s.GetTask(taskID)
	if !ok {
		return "", ErrTaskNotFound
	}
	if inboxPath == "" || !exists(inboxPath) {
		return "", ErrInboxFileMissing
	}

	dir := taskFilesDir(s.opts.ArchiveDir, task.GroupID, task.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.KindIO, "归档失败", err)
	}
	dst := filepath.Join(dir, filepath.Base(inboxPath))

	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	if exists(dst) {
		if !overwrite {
			return dst, ErrArchiveFileExists
		}
		if err := os.Remove(dst); err != nil {
			return "", apperrors.Wrap(apperrors.KindIO, "归档失败", err)
		}
	}
	if err := os.Rename(inboxPath, dst); err != nil {
		return "", apperrors.Wrap(apperrors.KindIO, "归档失败", err)
	}

	s.logger.Info("文件已归档",
		zap.String("task_id", taskID),
		zap.String("file", filepath.Base(dst)),
		zap.Bool("overwrite", overwrite),
	)
	return dst, nil
}

// ZipSubmissions 将任务全部已提交文件打包到 outZip，返回文件数
func (s *taskStore) ZipSubmissions(ctx context.Context, taskID, outZip string) (int, error) {
	task, ok := s.GetTask(taskID)
	if !ok {
		return 0, ErrTaskNotFound
	}
	if !s.IsExportable(task) {
		return 0, ErrTaskPurged
	}
	files := s.ListSubmittedFiles(task)
	if len(files) == 0 {
		return 0, ErrNoSubmissions
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries := make([]ziputil.Entry, len(files))
	for i, p := range files {
		entries[i] = ziputil.Entry{Path: p, Name: filepath.Base(p)}
	}
	packed, _, err := ziputil.WriteArchive(outZip, entries)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindIO, "打包失败", err)
	}
	if packed == 0 {
		return 0, ErrNoSubmissions
	}
	return packed, nil
}

// MarkExported 记录最近一次成功导出时间，用于归档保留期计算
func (s *taskStore) MarkExported(ctx context.Context, taskID string, at time.Time) error {
	s.mu.Lock()
	t := s.tasks[taskID]
	if t == nil {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	t.LastExportAt = &at
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// ────────────────────── 持久化 ──────────────────────

func (s *taskStore) snapshot() []*model.HandinTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.HandinTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// persist 写入失败只记日志，内存状态仍为准，下一次保存会带上本次变更
func (s *taskStore) persist(ctx context.Context) {
	if err := s.Flush(ctx); err != nil {
		s.logger.Error("任务持久化失败", zap.Error(err))
	}
}

func (s *taskStore) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.repo.Save(ctx, s.snapshot()); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "保存任务失败", err)
	}
	return nil
}

// isNotExist 兼容包装过的 not-exist 错误
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
