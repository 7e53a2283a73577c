package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
	"github.com/Cooper3516833584/Cooper-bot/pkg/ziputil"
)

// ────────────────────── 收文件 ──────────────────────

func (m *Manager) onFile(ctx context.Context, msg transport.Message, s *userSession, ref transport.FileRef) string {
	item, note, err := m.download(ctx, msg.Conv.UserID, ref)
	if err != nil {
		return downloadErrorText(err)
	}
	s.queue = append(s.queue, item)
	n := len(s.queue)

	switch st := s.state.(type) {
	case AwaitOverwrite:
		return joinLines(note, fmt.Sprintf("已加入待提交队列，当前共 %d 个文件。", n), msgOverwritePending)

	case AwaitZipName:
		return joinLines(note, fmt.Sprintf("已加入打包队列，当前共 %d 个文件。\n请回复压缩包名称（无需加 .zip）。", n))

	case AwaitSubmitterName:
		if n < 2 {
			return joinLines(note, "请先回复提交者姓名（或回复 0 跳过）后，再选择归档任务。")
		}
		if len(m.activeTasks()) == 0 {
			s.state = Idle{}
			return joinLines(note, msgNoActiveTask)
		}
		s.state = AwaitDone{}
		return joinLines(note, fmt.Sprintf(msgBatchUpgrade, n))

	case AwaitDone:
		return joinLines(note, fmt.Sprintf(msgBatchUpgrade, n))

	case AwaitTaskChoice:
		if st.Mode == ModeSubmit {
			if n >= 2 {
				s.state = AwaitDone{}
				return joinLines(note, fmt.Sprintf(msgBatchUpgrade, n))
			}
			return joinLines(note, "你还有待分配的提交文件，请先回复数字处理上一份（回复 0 取消上一份）。")
		}
	}

	// 新一轮提交
	if len(m.activeTasks()) == 0 {
		s.state = Idle{}
		return joinLines(note, msgNoActiveTask)
	}
	if n == 1 {
		name := m.rosterNameIn(item.DisplayName)
		if name == "" {
			s.state = AwaitSubmitterName{}
			return joinLines(note,
				"检测到你发送了文件提交。",
				"未在文件名中识别到姓名。",
				"请回复提交者姓名（若不需要姓名信息或是小组作业，请回复 0 跳过）。",
			)
		}
		list, _ := m.promptSubmit(s)
		return joinLines(note, fmt.Sprintf("已识别到姓名：%s。", name), list)
	}
	list, _ := m.promptSubmit(s)
	return joinLines(note, "检测到你发送了文件提交。", list)
}

// download 经 FileResolver 下载到 <inbox>/<user>/，先写 .part 再改名
// 已知大小时，实际字节数不足一半视为下载不完整
func (m *Manager) download(ctx context.Context, userID int64, ref transport.FileRef) (model.InboxItem, string, error) {
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = "file"
	}
	dir := m.userInboxDir(userID)

	type result struct {
		path string
		size int64
	}
	res, err := workerpool.Run(ctx, m.pool, func() (result, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return result{}, apperrors.Wrap(apperrors.KindIO, "下载文件失败", err)
		}
		rc, err := m.files.Open(ctx, userID, ref)
		if err != nil {
			return result{}, err
		}
		defer rc.Close()

		dst := service.UniquePath(dir, name)
		part := dst + ".part"
		f, err := os.Create(part)
		if err != nil {
			return result{}, apperrors.Wrap(apperrors.KindIO, "下载文件失败", err)
		}
		size, err := io.Copy(f, rc)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(part)
			return result{}, apperrors.Wrap(apperrors.KindTransientTransport, "下载文件失败：网络下载异常", err)
		}
		if ref.Size > 0 && size < ref.Size/2 {
			_ = os.Remove(part)
			return result{}, apperrors.New(apperrors.KindTransientTransport,
				fmt.Sprintf("下载疑似不完整：期望约 %d bytes，实际 %d bytes（可能链接失效/被拦截）", ref.Size, size))
		}
		if err := os.Rename(part, dst); err != nil {
			_ = os.Remove(part)
			return result{}, apperrors.Wrap(apperrors.KindIO, "下载文件失败", err)
		}
		return result{path: dst, size: size}, nil
	})
	if err != nil {
		m.logger.Warn("下载提交文件失败",
			zap.Int64("user_id", userID),
			zap.String("file", name),
			zap.Error(err),
		)
		return model.InboxItem{}, "", err
	}

	item := model.InboxItem{Path: res.path, DisplayName: filepath.Base(res.path), ReceivedAt: m.now()}
	return item, fmt.Sprintf("已收到文件：%s（%d bytes）", item.DisplayName, res.size), nil
}

func downloadErrorText(err error) string {
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err.Error()
	}
	return "下载文件失败：" + err.Error()
}

// ────────────────────── 队列操作 ──────────────────────

func (m *Manager) dropItem(s *userSession, idx int) {
	if idx < 0 || idx >= len(s.queue) {
		return
	}
	if err := os.Remove(s.queue[idx].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("删除临时文件失败", zap.String("path", s.queue[idx].Path), zap.Error(err))
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
}

func (m *Manager) purgeAll(s *userSession) {
	for len(s.queue) > 0 {
		m.dropItem(s, len(s.queue)-1)
	}
	s.state = Idle{}
}

// continueQueue 队列还有文件时继续选择任务，否则回到 Idle
func (m *Manager) continueQueue(s *userSession, header string) string {
	if len(s.queue) == 0 {
		s.state = Idle{}
		return ""
	}
	list, ok := m.promptSubmit(s)
	if !ok {
		return list
	}
	return header + "\n" + list
}

// ────────────────────── 覆盖确认 ──────────────────────

func (m *Manager) onOverwrite(s *userSession, st AwaitOverwrite, raw string) string {
	ans := normalizeReply(raw)
	yes := ans == "y" || ans == "yes"
	no := ans == "n" || ans == "no" || isAbort(ans)
	if !yes && !no {
		return msgYesNo
	}

	if len(s.queue) == 0 {
		s.state = Idle{}
		return msgNoPendingFiles
	}
	idx := -1
	for i, it := range s.queue {
		if it.Path == st.Path {
			idx = i
			break
		}
	}
	if idx < 0 {
		// 待覆盖的文件已不在队列里，不能拿别的文件顶替
		s.state = Idle{}
		return joinLines(msgNoPendingFiles, m.continueQueue(s, "你还有待分配的提交文件。"))
	}

	task, ok := m.store.GetTask(st.TaskID)
	if !ok || !task.IsActive(m.now()) {
		m.dropItem(s, idx)
		s.state = Idle{}
		return joinLines("任务不存在或已结束，已丢弃该文件。请重新发送文件。",
			m.continueQueue(s, "你还有待分配的提交文件。"))
	}

	if no {
		m.dropItem(s, idx)
		s.state = Idle{}
		return joinLines("已取消覆盖，请修改文件名后重新发送。",
			m.continueQueue(s, "你还有待分配的提交文件。"))
	}

	dst, err := m.store.MoveIntoArchive(s.queue[idx].Path, task.TaskID, true)
	if err != nil {
		if errors.Is(err, service.ErrInboxFileMissing) {
			m.dropItem(s, idx)
			s.state = Idle{}
			return joinLines(err.Error(), m.continueQueue(s, "你还有待分配的提交文件。"))
		}
		list, _ := m.promptSubmit(s)
		return joinLines(err.Error(), "你可以重新回复任务序号，或回复 0 取消该文件。", list)
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.state = Idle{}
	return joinLines(archivedText(task, dst), m.continueQueue(s, "你还有待分配的提交文件。"))
}

func archivedText(task *model.HandinTask, dst string) string {
	return fmt.Sprintf("已归档到任务「%s」：%s", task.Name, filepath.Base(dst))
}

// ────────────────────── done ──────────────────────

func (m *Manager) onDone(msg transport.Message, s *userSession, raw string) (string, bool) {
	norm := normalizeReply(raw)
	switch {
	case isAbort(norm):
		m.purgeAll(s)
		return msgPurgedAll, true
	case reChoice.MatchString(norm):
		return msgBatchHint, true
	case !isDone(norm):
		return "", false
	}

	switch len(s.queue) {
	case 0:
		s.state = Idle{}
		return msgNoPendingFiles, true
	case 1:
		if len(m.activeTasks()) == 0 {
			s.state = Idle{}
			return msgNoActiveTask, true
		}
		name := m.rosterNameIn(s.queue[0].DisplayName)
		if name == "" {
			s.state = AwaitSubmitterName{}
			return "当前仅有 1 个文件，无需打包。\n未在文件名中识别到班级名册姓名，请回复提交者姓名（或回复 0 跳过）。", true
		}
		list, _ := m.promptSubmit(s)
		return joinLines("当前仅有 1 个文件，无需打包。", fmt.Sprintf("已识别到姓名：%s。", name), list), true
	}

	suggested := suggestZipName(s.queue, msg.Conv.UserID)
	s.state = AwaitZipName{Suggested: suggested}
	return fmt.Sprintf("请回复压缩包名称（无需 .zip）。\n例如：%s\n请在文件名中包含姓名信息，若不需要姓名信息或者是小组作业请忽略。\n我会用你的回复作为 zip 名，再让你选择归档任务。", suggested), true
}

// ────────────────────── 压缩包命名 ──────────────────────

func (m *Manager) onZipName(ctx context.Context, msg transport.Message, s *userSession, st AwaitZipName, raw string) string {
	if isAbort(normalizeReply(raw)) {
		m.purgeAll(s)
		return msgPurgedAll
	}
	if len(s.queue) == 0 {
		s.state = Idle{}
		return msgNoPendingFiles
	}

	label := strings.TrimSpace(strings.TrimLeft(raw, "/／"))
	if strings.HasSuffix(strings.ToLower(label), ".zip") {
		label = strings.TrimSpace(label[:len(label)-4])
	}
	def := st.Suggested
	if def == "" {
		def = suggestZipName(s.queue, msg.Conv.UserID)
	}
	label = safeZipLabel(label, def)

	batchDir := filepath.Join(m.userInboxDir(msg.Conv.UserID), "_batch")
	entries := batchEntries(s.queue)

	type zipped struct {
		path    string
		packed  int
		missing int
	}
	res, err := workerpool.Run(ctx, m.pool, func() (zipped, error) {
		if err := os.MkdirAll(batchDir, 0o755); err != nil {
			return zipped{}, err
		}
		out := service.UniquePath(batchDir, label+".zip")
		packed, missing, err := ziputil.WriteArchive(out, entries)
		return zipped{path: out, packed: packed, missing: len(missing)}, err
	})
	if err != nil {
		m.logger.Warn("批量打包失败", zap.Int64("user_id", msg.Conv.UserID), zap.Error(err))
		return "打包失败：" + err.Error()
	}
	if res.packed == 0 {
		return "打包失败：没有可用文件。"
	}

	for len(s.queue) > 0 {
		m.dropItem(s, len(s.queue)-1)
	}
	zipName := filepath.Base(res.path)
	s.queue = []model.InboxItem{{Path: res.path, DisplayName: zipName, ReceivedAt: m.now()}}

	list, ok := m.promptSubmit(s)
	if !ok {
		return joinLines(fmt.Sprintf("已将 %d 个文件打包为：%s", res.packed, zipName), list)
	}
	var skipped string
	if res.missing > 0 {
		skipped = fmt.Sprintf("另有 %d 个文件未找到，已跳过。", res.missing)
	}
	return joinLines(fmt.Sprintf("已将 %d 个文件打包为：%s。", res.packed, zipName), skipped, list)
}

// batchEntries zip 内使用展示名，重名时加 1 开始的序号前缀
func batchEntries(items []model.InboxItem) []ziputil.Entry {
	seen := make(map[string]int, len(items))
	out := make([]ziputil.Entry, 0, len(items))
	for i, it := range items {
		name := strings.TrimSpace(it.DisplayName)
		if name == "" {
			name = filepath.Base(it.Path)
		}
		seen[name]++
		arc := name
		if seen[name] > 1 {
			arc = fmt.Sprintf("%d_%s", i+1, name)
		}
		out = append(out, ziputil.Entry{Path: it.Path, Name: arc})
	}
	return out
}

// ────────────────────── 提交者姓名 ──────────────────────

func (m *Manager) onSubmitterName(s *userSession, raw string) string {
	if len(s.queue) == 0 {
		s.state = Idle{}
		return msgNoPendingFiles
	}
	if len(s.queue) >= 2 {
		if len(m.activeTasks()) == 0 {
			s.state = Idle{}
			return msgNoActiveTask
		}
		s.state = AwaitDone{}
		return "检测到你在批量发送文件，请发完后回复 done，我会先让你命名 zip，再让你选择归档任务。"
	}

	norm := normalizeReply(raw)
	var note string
	switch {
	case norm == "0":
	case isAbort(norm):
		m.dropItem(s, 0)
		s.state = Idle{}
		return msgPurgedOne
	default:
		name := sanitizeSubmitterName(strings.TrimLeft(raw, "/／"))
		if name == "" {
			return "姓名格式不合法，请重新发送姓名；若不需要姓名信息或是小组作业，请回复 0 跳过。"
		}
		if textutil.IsDigits(textutil.NormalizeDigits(name)) {
			return "请发送姓名文本；若不需要姓名信息或是小组作业，请回复 0 跳过。"
		}
		renamed, err := renameWithSubmitter(&s.queue[0], name)
		if err != nil {
			return err.Error()
		}
		note = "已补充姓名到文件名：" + renamed
	}

	list, _ := m.promptSubmit(s)
	return joinLines(note, list)
}

func renameWithSubmitter(it *model.InboxItem, submitter string) (string, error) {
	info, err := os.Stat(it.Path)
	if err != nil || !info.Mode().IsRegular() {
		return "", service.ErrInboxFileMissing
	}
	display := it.DisplayName
	if display == "" {
		display = filepath.Base(it.Path)
	}
	newName := appendSubmitter(display, submitter)
	dir := filepath.Dir(it.Path)
	dst := filepath.Join(dir, newName)
	if dst != it.Path {
		if _, err := os.Stat(dst); err == nil {
			dst = service.UniquePath(dir, newName)
		}
		if err := os.Rename(it.Path, dst); err != nil {
			return "", fmt.Errorf("重命名失败：%w", err)
		}
	}
	it.Path = dst
	it.DisplayName = filepath.Base(dst)
	return it.DisplayName, nil
}

// ────────────────────── submit 选择 ──────────────────────

func (m *Manager) onSubmitChoice(s *userSession, st AwaitTaskChoice, choice int) string {
	if len(s.queue) == 0 {
		s.state = Idle{}
		return "没有待分配的文件了。"
	}
	if choice == 0 {
		m.dropItem(s, 0)
		s.state = Idle{}
		return joinLines(msgPurgedOne, m.continueQueue(s, fmt.Sprintf("你还有 %d 份待分配文件。", len(s.queue))))
	}
	if choice < 1 || choice > len(st.TaskIDs) {
		return msgInvalidIndex
	}

	task, ok := m.store.GetTask(st.TaskIDs[choice-1])
	if !ok || !task.IsActive(m.now()) {
		// 文件保留在队列里，按最新的任务列表重新选择
		list, more := m.promptSubmit(s)
		if !more {
			return joinLines("任务不存在或已结束，文件已保留。", list)
		}
		return joinLines("任务不存在或已结束，文件已保留，请重新选择任务：", list)
	}

	head := s.queue[0]
	dst, err := m.store.MoveIntoArchive(head.Path, task.TaskID, false)
	switch {
	case errors.Is(err, service.ErrArchiveFileExists):
		s.state = AwaitOverwrite{TaskID: task.TaskID, Path: head.Path}
		return fmt.Sprintf("任务「%s」中已存在同名文件：%s\n是否覆盖？(Y/N)", task.Name, filepath.Base(dst))
	case errors.Is(err, service.ErrInboxFileMissing):
		m.dropItem(s, 0)
		s.state = Idle{}
		return joinLines(err.Error(), m.continueQueue(s, fmt.Sprintf("你还有 %d 份待分配文件。", len(s.queue))))
	case err != nil:
		return joinLines(err.Error(), "请重新回复任务序号，或回复 0 取消该文件。")
	}

	s.queue = s.queue[1:]
	out := archivedText(task, dst)
	base := filepath.Base(dst)
	if roster.ExtractName(base) == "" || roster.ExtractStudentID(base) == "" {
		out += msgNameHint
	}
	s.state = Idle{}
	return joinLines(out, m.continueQueue(s, fmt.Sprintf("你还有 %d 份待分配文件。", len(s.queue))))
}
