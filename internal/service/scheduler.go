package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	titleReminder = "📌 作业提交提醒"
	titleDeadline = "⏰ 作业截止提醒（已到截止时间）"
)

// PrivateNotifier 给任务创建者发私聊通知
type PrivateNotifier interface {
	SendPrivate(ctx context.Context, userID int64, text string) error
}

// SweepHook 随保留期清理一起执行的附加清理（如会话超时回收）
type SweepHook func(now time.Time)

// SchedulerOptions 调度参数
type SchedulerOptions struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
}

// Scheduler 提醒/截止推送与保留期清理的周期任务
type Scheduler struct {
	store    TaskStore
	notifier PrivateNotifier
	opts     SchedulerOptions
	logger   *zap.Logger
	hooks    []SweepHook
	now      func() time.Time

	lastSweep time.Time
}

// NewScheduler 创建调度器
func NewScheduler(store TaskStore, notifier PrivateNotifier, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// AddSweepHook 注册附加清理；须在 Run 之前调用
func (s *Scheduler) AddSweepHook(h SweepHook) {
	s.hooks = append(s.hooks, h)
}

// Run 阻塞运行直到 ctx 取消；单次扫描出错只记日志
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.logger.Info("提交任务调度器已启动", zap.Duration("poll_interval", s.opts.PollInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("提交任务调度器已停止")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx, s.now())
		}
	}
}

// RunOnce 执行一次扫描：节流清理、到期通知，有变化时统一持久化一次
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("调度器扫描 panic", zap.Any("panic", r))
		}
	}()

	changed := false

	if now.Sub(s.lastSweep) >= s.opts.CleanupInterval {
		if s.store.SweepRetention(now) {
			changed = true
		}
		for _, h := range s.hooks {
			s.runHook(h, now)
		}
		s.lastSweep = now
	}

	notices := s.store.CollectDue(now)
	for _, n := range notices {
		changed = true
		text := s.noticeText(n)
		if err := s.notifier.SendPrivate(ctx, n.Task.CreatorID, text); err != nil {
			s.logger.Warn("发送提醒失败",
				zap.String("task_id", n.Task.TaskID),
				zap.Int64("creator_id", n.Task.CreatorID),
				zap.Error(err),
			)
		}
	}

	if changed {
		if err := s.store.Flush(ctx); err != nil {
			s.logger.Error("调度器持久化失败", zap.Error(err))
		}
	}
}

func (s *Scheduler) runHook(h SweepHook, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("清理钩子 panic", zap.Any("panic", r))
		}
	}()
	h(now)
}

func (s *Scheduler) noticeText(n DueNotice) string {
	var title, fallback string
	switch n.Kind {
	case DueDeadline:
		title = titleDeadline
		fallback = "⏰ 作业截止提醒"
	default:
		title = titleReminder
		if n.Total > 1 {
			title = fmt.Sprintf("%s（第 %d/%d 次）", titleReminder, n.Index, n.Total)
		}
		fallback = title
	}

	report, err := s.store.ComputeMissing(n.Task)
	if err != nil {
		return fallback + "\n" + err.Error()
	}
	return FormatMissingMessage(n.Task, report, title, s.store.Location())
}
