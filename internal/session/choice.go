package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/delivery"
	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// onChoice 私聊中的数字选择：submit / status / check / getzip
func (m *Manager) onChoice(ctx context.Context, msg transport.Message, s *userSession, st AwaitTaskChoice, raw string) (string, bool) {
	choice, ok := parseChoice(normalizeReply(raw))
	if !ok {
		return "", false
	}
	if st.Mode == ModeSubmit {
		return m.onSubmitChoice(s, st, choice), true
	}

	if choice == 0 {
		s.state = Idle{}
		return msgCancelledOp, true
	}
	if choice < 1 || choice > len(st.TaskIDs) {
		return msgInvalidIndex, true
	}
	task, found := m.store.GetTask(st.TaskIDs[choice-1])
	s.state = Idle{}
	if !found {
		return service.ErrTaskNotFound.Error(), true
	}

	switch st.Mode {
	case ModeStatus:
		return m.statusText(task), true
	case ModeCheck:
		return m.checkText(task), true
	case ModeGetZip:
		return m.getZip(ctx, msg, task), true
	}
	return msgInvalidIndex, true
}

func (m *Manager) statusText(task *model.HandinTask) string {
	report, err := m.store.ComputeMissing(task)
	if err != nil {
		return titleMissingList + "\n" + err.Error()
	}
	return service.FormatMissingMessage(task, report, titleMissingList, m.store.Location())
}

func (m *Manager) checkText(task *model.HandinTask) string {
	files := m.store.ListSubmittedFiles(task)
	if len(files) == 0 {
		return fmt.Sprintf("任务「%s」当前还没有提交文件。", task.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📦 已提交文件列表（任务：%s，共 %d 个）：", task.Name, len(files))
	for i, p := range files {
		fmt.Fprintf(&b, "\n%d. %s", i+1, filepath.Base(p))
	}
	return b.String()
}

// getZip 打包任务归档并发送；成功或未确认都记录导出时间
func (m *Manager) getZip(ctx context.Context, msg transport.Message, task *model.HandinTask) string {
	outDir := filepath.Join(m.opts.TempDir, "handin_exports")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "打包失败：" + err.Error()
	}
	outZip := filepath.Join(outDir, fmt.Sprintf("%s_g%d_%d.zip",
		service.SafeComponent(task.Name, 80), task.GroupID, m.now().Unix()))
	defer os.Remove(outZip)

	n, err := m.store.ZipSubmissions(ctx, task.TaskID, outZip)
	if err != nil {
		return err.Error()
	}
	packed := fmt.Sprintf("已打包 %d 个文件：%s", n, filepath.Base(outZip))

	res := m.deliverer.Deliver(ctx, outZip, msg.Conv, task.Name+".zip")
	if res.Delivered() {
		if err := m.store.MarkExported(ctx, task.TaskID, m.now()); err != nil {
			m.logger.Warn("记录导出时间失败", zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}
	m.logger.Info("导出任务归档",
		zap.String("task_id", task.TaskID),
		zap.Int("files", n),
		zap.String("outcome", res.Outcome.String()),
	)

	switch res.Outcome {
	case delivery.OutcomeSent:
		return packed + "\n已发送压缩包。" + res.Detail
	case delivery.OutcomePending:
		detail := ""
		if res.Detail != "" {
			detail = " " + res.Detail
		}
		return packed + "\n已提交发送。" + detail + "若你已在 QQ 里看到文件卡片，可忽略。"
	default:
		if res.Detail == "" {
			return "发送失败：请确认 docker-compose 挂载、NapCat/QQ 账号权限。"
		}
		return "发送失败：" + res.Detail
	}
}

// onCancelChoice 取消任务的数字选择，群聊与私聊均可
func (m *Manager) onCancelChoice(ctx context.Context, msg transport.Message, s *userSession, st AwaitTaskChoice, raw string) (string, bool) {
	choice, ok := parseChoice(normalizeReply(raw))
	if !ok {
		return "", false
	}
	if choice == 0 {
		s.state = Idle{}
		return msgCancelledOp, true
	}
	if choice < 1 || choice > len(st.TaskIDs) {
		return msgInvalidIndex, true
	}

	s.state = Idle{}
	taskID := st.TaskIDs[choice-1]
	task, found := m.store.GetTask(taskID)
	if !found || !task.IsActive(m.now()) {
		return "任务不存在或已结束。", true
	}

	cancelled, err := m.store.CancelTask(ctx, taskID, msg.Conv.UserID, msg.Level >= 3)
	switch {
	case errors.Is(err, service.ErrTaskAlreadyClosed), errors.Is(err, service.ErrTaskNotFound):
		return "任务不存在或已结束。", true
	case err != nil:
		return err.Error(), true
	}
	return fmt.Sprintf("已取消任务「%s」（群 %d）。", cancelled.Name, cancelled.GroupID), true
}
