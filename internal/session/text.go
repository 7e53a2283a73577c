package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

// ── 回复文本 ──

const (
	msgNoActiveTask     = "当前没有正在进行的提交任务。"
	msgNoPendingFiles   = "没有待处理的提交文件了。"
	msgOverwritePending = "你有一个待确认的覆盖操作，请先回复 Y/N。"
	msgInvalidIndex     = "序号无效，请重新回复数字。"
	msgCancelledOp      = "已取消操作。"
	msgPurgedAll        = "已取消并删除全部临时文件。"
	msgPurgedOne        = "已取消并删除临时文件。"
	msgBatchUpgrade     = "检测到你在连续发送多个文件：当前共 %d 个。\n请把文件发完后回复 done，我会先询问压缩包名称，再打包并让你选择归档任务。"
	msgBatchHint        = "检测到你在批量发送文件，请先发完后回复 done（随后会先让你命名 zip；回复 0 可取消全部临时文件）。"
	msgYesNo            = "请输入 Y 或 N（不区分大小写）。"
	msgNameHint         = "\n（提示：文件名最好包含姓名和学号，例如 张三-U2024xxxxxx.docx）"
	msgLevelTooLow      = "权限不足：你当前是 0 级（游客），不能提交。"
	titleMissingList    = "📋 未提交名单"
)

func taskListText(tasks []*model.HandinTask, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("请选择提交任务：")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s（群 %d，截止 %s）", i+1, t.Name, t.GroupID, service.PrettyTime(t.DeadlineAt, loc))
	}
	b.WriteString("\n回复数字选择；回复 0 取消（删除临时文件）。")
	return b.String()
}

func joinLines(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// ── 输入归一化 ──

var reChoice = regexp.MustCompile(`^\d{1,3}$`)

// normalizeReply 全角转半角、去首尾空白、小写
func normalizeReply(s string) string {
	return strings.ToLower(textutil.NormalizeDigits(s))
}

// isAbort 通用取消：0 / cancel / /cancel / 取消
func isAbort(norm string) bool {
	switch norm {
	case "0", "cancel", "/cancel", "取消":
		return true
	}
	return false
}

func isDone(norm string) bool {
	return norm == "done" || norm == "/done"
}

func parseChoice(norm string) (int, bool) {
	if isAbort(norm) {
		return 0, true
	}
	if !reChoice.MatchString(norm) {
		return 0, false
	}
	n := 0
	for _, r := range norm {
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ── 文件名处理 ──

var (
	reZipIllegal  = regexp.MustCompile(`[<>:"/\\|?*]+`)
	reNameIllegal = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
	reAnySpace    = regexp.MustCompile(`\s+`)
)

const (
	maxSubmitterName = 20
	maxZipLabel      = 60
)

// safeZipLabel 压缩包名：非法字符替换为 _，空白替换为 _，为空时用 def
func safeZipLabel(raw, def string) string {
	s := strings.Trim(reZipIllegal.ReplaceAllString(strings.TrimSpace(raw), "_"), " .")
	s = reAnySpace.ReplaceAllString(s, "_")
	if s == "" {
		return def
	}
	return s
}

// sanitizeSubmitterName 去空白与非法字符，去首尾 ._-，最多 20 个字符
func sanitizeSubmitterName(raw string) string {
	s := reAnySpace.ReplaceAllString(strings.TrimSpace(raw), "")
	s = reNameIllegal.ReplaceAllString(s, "")
	s = strings.Trim(s, "._-")
	return textutil.TruncateRunes(s, maxSubmitterName)
}

// appendSubmitter 张三作业.docx + 李四 → 张三作业-李四.docx
func appendSubmitter(filename, submitter string) string {
	if filename == "" {
		filename = "file"
	}
	stem, ext := textutil.SplitExt(filename)
	stem = strings.TrimRight(stem, " -_")
	out := strings.Trim(reZipIllegal.ReplaceAllString(stem+"-"+submitter+ext, "_"), " .")
	if out == "" {
		return filename
	}
	return out
}

// suggestZipName 从队列文件名推断默认压缩包名：姓名-学号，其次学号、姓名，最后 handin_u<QQ>
func suggestZipName(items []model.InboxItem, userID int64) string {
	var name, sid string
	for _, it := range items {
		raw := strings.TrimSpace(it.DisplayName)
		if raw == "" {
			continue
		}
		if name == "" {
			name = roster.ExtractName(raw)
		}
		if sid == "" {
			sid = roster.ExtractStudentID(raw)
		}
		if name != "" && sid != "" {
			break
		}
	}

	def := fmt.Sprintf("handin_u%d", userID)
	var base string
	switch {
	case name != "" && sid != "":
		base = name + "-" + sid
	case sid != "":
		base = sid
	case name != "":
		base = name
	default:
		base = def
	}
	out := strings.Trim(textutil.TruncateRunes(safeZipLabel(base, def), maxZipLabel), "._-")
	if out == "" {
		return def
	}
	return out
}
