// Package command 解析 handin 相关的斜杠命令，并把后续的数字回复交给 session。
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/session"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

// ChoiceStarter 进入任务选择（*session.Manager 实现）
type ChoiceStarter interface {
	BeginChoice(msg transport.Message, mode session.ChoiceMode, tasks []*model.HandinTask, groupID int64) error
}

// Handler handin 命令处理器
type Handler struct {
	store     service.TaskStore
	choices   ChoiceStarter
	messenger transport.Messenger
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler 创建命令处理器
func NewHandler(store service.TaskStore, choices ChoiceStarter, messenger transport.Messenger, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		choices:   choices,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

const (
	usageHandin = "用法：/handin 任务名 [月.日 时:分 ...] 月.日 时:分\n" +
		"示例：/handin 作业1 1.22 18:30 1.23 20:00 1.24 23:59\n" +
		"（提醒时间可不填或填多个；最后一组时间为截止时间；任务名不能有空格；冒号中英文都兼容）"
	msgSentPrivately = "已私聊你提交任务列表，请在私聊里回复数字选择。"
	msgListPrivately = "已私聊你任务列表，请在私聊里回复数字选择。"
)

// parseCommand "/handin a b" → ("handin", "a b")；不是命令时 ok=false
func parseCommand(text string) (name, rest string, ok bool) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "／") {
		return "", "", false
	}
	s = strings.TrimLeft(s, "/／")
	name, rest, _ = strings.Cut(s, " ")
	name = strings.ToLower(textutil.NormalizeDigits(name))
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

// Handle 处理命令；不是本包负责的命令时返回 false
func (h *Handler) Handle(ctx context.Context, msg transport.Message) bool {
	name, rest, ok := parseCommand(msg.Text)
	if !ok {
		return false
	}

	var out string
	switch name {
	case "handin":
		out = h.createTask(ctx, msg, rest)
	case "handinstatus":
		out = h.listForChoice(ctx, msg, name, session.ModeStatus)
	case "handincheck":
		out = h.listForChoice(ctx, msg, name, session.ModeCheck)
	case "handinget":
		out = h.listForChoice(ctx, msg, name, session.ModeGetZip)
	case "chandin":
		out = h.listForCancel(msg)
	case "handinhelp", "help", "h":
		out = helpText(msg.Level)
	default:
		return false
	}

	h.logger.Info("处理命令",
		zap.Int64("user_id", msg.Conv.UserID),
		zap.Int64("group_id", msg.Conv.GroupID),
		zap.String("command", name),
	)
	if out != "" {
		h.reply(ctx, msg.Conv, out)
	}
	return true
}

// ────────────────────── /handin ──────────────────────

func (h *Handler) createTask(ctx context.Context, msg transport.Message, rest string) string {
	if msg.Level < 2 {
		return "权限不足：/handin 仅对 2 级及以上开放。"
	}
	if !msg.Conv.IsGroup() {
		return "/handin 只能在群聊中使用。"
	}

	parts := strings.Fields(rest)
	if len(parts) < 3 || (len(parts)-1)%2 != 0 {
		return usageHandin
	}

	now := h.now()
	loc := h.store.Location()
	times := make([]time.Time, 0, (len(parts)-1)/2)
	for i := 1; i < len(parts); i += 2 {
		s := parts[i] + " " + parts[i+1]
		t, ok := ParseMonthDayTime(s, now, loc)
		if !ok {
			return fmt.Sprintf("时间格式不对：%s\n请用 月.日 时:分，例如 1.22 18:30（冒号中英文都行）。", s)
		}
		times = append(times, t)
	}

	task, err := h.store.CreateTask(ctx, service.CreateTaskInput{
		GroupID:   msg.Conv.GroupID,
		CreatorID: msg.Conv.UserID,
		Name:      parts[0],
		Reminders: times[:len(times)-1],
		Deadline:  times[len(times)-1],
	})
	if err != nil {
		return err.Error()
	}

	lines := []string{"创建提交任务成功：" + task.Name}
	if len(task.RemindAt) == 0 {
		lines = append(lines, "提醒：无")
	}
	for i, t := range task.RemindAt {
		lines = append(lines, fmt.Sprintf("提醒%d：%s", i+1, service.PrettyTime(t, loc)))
	}
	lines = append(lines, "截止："+service.PrettyTime(task.DeadlineAt, loc))
	return strings.Join(lines, "\n")
}

// ────────────────────── 状态 / 查看 / 导出 ──────────────────────

func (h *Handler) listForChoice(ctx context.Context, msg transport.Message, cmd string, mode session.ChoiceMode) string {
	if msg.Level < 2 {
		return fmt.Sprintf("权限不足：/%s 仅对 2 级及以上开放。", cmd)
	}

	var tasks []*model.HandinTask
	switch {
	case mode != session.ModeStatus:
		tasks = h.store.ListByCreator(msg.Conv.UserID, true)
	case msg.Conv.IsGroup():
		tasks = h.store.ListByGroup(msg.Conv.GroupID, true)
	default:
		tasks = h.store.ListAll(true)
	}
	tasks = h.exportable(tasks)
	if len(tasks) == 0 {
		if mode == session.ModeStatus {
			return "当前没有提交任务记录。"
		}
		return "你当前没有提交任务记录。"
	}

	if err := h.choices.BeginChoice(msg, mode, tasks, 0); err != nil {
		return err.Error()
	}

	now := h.now()
	loc := h.store.Location()
	header, footer := "你创建的提交任务列表：", ""
	switch mode {
	case session.ModeStatus:
		header = "提交任务列表："
		footer = "回复数字选择任务，我会发送未提交名单（若姓名识别率过低会改发已提交文件列表；已截止任务也可查询）。"
	case session.ModeCheck:
		footer = "回复数字选择任务（回复 0 取消），我会列出已提交文件列表（已截止任务也可查看）。"
	case session.ModeGetZip:
		footer = "回复数字选择任务（回复 0 取消），我会把已提交文件打包为 zip 并发送（已截止任务也可导出）。"
	}

	var b strings.Builder
	b.WriteString(header)
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. [%s] %s（群 %d，截止 %s）", i+1, t.StatusTag(now), t.Name, t.GroupID, service.PrettyTime(t.DeadlineAt, loc))
	}
	b.WriteString("\n" + footer)

	if !msg.Conv.IsGroup() {
		return b.String()
	}
	// 群里只提示，列表走私聊
	if err := h.messenger.SendPrivate(ctx, msg.Conv.UserID, b.String()); err != nil {
		h.logger.Warn("私聊任务列表失败", zap.Int64("user_id", msg.Conv.UserID), zap.Error(err))
	}
	if mode == session.ModeStatus {
		return msgSentPrivately
	}
	return msgListPrivately
}

// exportable 只保留归档尚未清理的任务；进行中优先，其次截止时间倒序
func (h *Handler) exportable(in []*model.HandinTask) []*model.HandinTask {
	now := h.now()
	out := make([]*model.HandinTask, 0, len(in))
	for _, t := range in {
		if h.store.IsExportable(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].IsActive(now), out[j].IsActive(now)
		if ai != aj {
			return ai
		}
		return out[i].DeadlineAt.After(out[j].DeadlineAt)
	})
	return out
}

// ────────────────────── /chandin ──────────────────────

// listForCancel 群里列本群任务；私聊列自己创建的，管理员列全部
func (h *Handler) listForCancel(msg transport.Message) string {
	if msg.Level < 2 {
		return "权限不足：/chandin 仅对 2 级及以上开放。"
	}

	var (
		tasks   []*model.HandinTask
		groupID int64
	)
	switch {
	case msg.Conv.IsGroup():
		tasks = h.store.ListActiveByGroup(msg.Conv.GroupID)
		groupID = msg.Conv.GroupID
	case msg.Level >= 3:
		tasks = h.store.ListActive()
	default:
		tasks = h.store.ListActiveByCreator(msg.Conv.UserID)
	}
	if len(tasks) == 0 {
		return "当前没有可取消的提交任务。"
	}

	if err := h.choices.BeginChoice(msg, session.ModeCancel, tasks, groupID); err != nil {
		return err.Error()
	}

	loc := h.store.Location()
	var b strings.Builder
	b.WriteString("当前可取消的提交任务列表：")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s（群 %d，截止 %s）", i+1, t.Name, t.GroupID, service.PrettyTime(t.DeadlineAt, loc))
	}
	b.WriteString("\n回复数字取消该任务；回复 0 取消操作。\n（提示：仅允许取消你创建的任务。）")
	return b.String()
}

// ────────────────────── 帮助 ──────────────────────

func helpText(level int) string {
	lines := []string{"可用命令：", "/handinhelp"}
	if level >= 2 {
		lines = append(lines,
			"",
			"提交功能：",
			"/handin 任务名 [提醒时间...] 截止时间 时间格式为日期＋时分（如1.31 22：20，仅群聊）",
			"/handinstatus  （列出任务并查询未交名单）",
			"/handincheck  （查看你创建的任务已提交文件）",
			"/handinget  （打包你创建任务的已提交文件为 zip 并发送）",
			"/chandin  （取消提交任务，列出任务后回复数字）",
		)
	}
	if level >= 1 {
		lines = append(lines, "（私聊发送文件后按提示选择任务；若连续发多个文件，发完回复 done 后会先让你命名 zip，再打包并让你选任务）")
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) reply(ctx context.Context, conv transport.Conversation, text string) {
	if err := transport.Reply(ctx, h.messenger, conv, text); err != nil {
		h.logger.Warn("回复失败", zap.Int64("user_id", conv.UserID), zap.Error(err))
	}
}
