package service

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
)

// CollectDue 推进所有未关闭任务的提醒/截止状态，返回本次到期的通知
// 提醒按序号依次触发，多个同时到期时一个也不跳过；截止通知只触发一次并关闭任务
func (s *taskStore) CollectDue(now time.Time) []DueNotice {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notices []DueNotice
	for _, t := range s.tasks {
		if t.Closed {
			continue
		}
		total := len(t.RemindAt)
		for t.RemindSentIdx < total && !now.Before(t.RemindAt[t.RemindSentIdx]) {
			t.RemindSentIdx++
			notices = append(notices, DueNotice{
				Kind:  DueReminder,
				Task:  t.Clone(),
				Index: t.RemindSentIdx,
				Total: total,
			})
		}
		if !t.DeadlineSent && !now.Before(t.DeadlineAt) {
			t.DeadlineSent = true
			t.Closed = true
			notices = append(notices, DueNotice{Kind: DueDeadline, Task: t.Clone()})
		}
	}
	return notices
}

// SweepRetention 清理过期归档与收件箱文件，返回任务表是否有变化
//
// 归档：任务不在进行中，且距最后一次导出已满保留期；从未导出过的任务不清理。
// 收件箱：按文件修改时间清理，与任务状态无关。
func (s *taskStore) SweepRetention(now time.Time) bool {
	changed := s.sweepArchives(now)
	s.sweepInbox(now)
	return changed
}

func (s *taskStore) sweepArchives(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, t := range s.tasks {
		if t.Purged || t.LastExportAt == nil || t.IsActive(now) {
			continue
		}
		if now.Sub(*t.LastExportAt) < s.opts.ArchiveRetention {
			continue
		}

		dir := taskDir(s.opts.ArchiveDir, t.GroupID, t.Name)
		if owner := s.dirSharedWith(t, dir); owner != "" {
			// 同群同名的新任务仍在使用该目录，只标记不删文件
			s.logger.Info("归档目录仍被同名任务使用，跳过删除",
				zap.String("task_id", t.TaskID), zap.String("shared_with", owner))
		} else if err := os.RemoveAll(dir); err != nil && !isNotExist(err) {
			s.logger.Warn("删除过期归档失败", zap.String("task_id", t.TaskID), zap.Error(err))
		}
		purgedAt := now
		t.Purged = true
		t.PurgedAt = &purgedAt
		changed = true
		s.logger.Info("归档已过保留期并清理", zap.String("task_id", t.TaskID))
	}
	return changed
}

// dirSharedWith 返回另一个未清理且归档目录相同的任务 ID，没有则返回空串；调用方持有 s.mu
func (s *taskStore) dirSharedWith(t *model.HandinTask, dir string) string {
	for _, other := range s.tasks {
		if other.TaskID == t.TaskID || other.Purged || other.GroupID != t.GroupID {
			continue
		}
		if taskDir(s.opts.ArchiveDir, other.GroupID, other.Name) == dir {
			return other.TaskID
		}
	}
	return ""
}

func (s *taskStore) sweepInbox(now time.Time) {
	removed := 0
	_ = filepath.WalkDir(s.opts.InboxDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) >= s.opts.InboxRetention {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		s.logger.Info("收件箱过期文件已清理", zap.Int("count", removed))
	}
}
