package service

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
)

// lowRecognitionRatio 姓名识别率低于该值时，未交名单不可信，改发已提交文件列表
const lowRecognitionRatio = 0.2

const (
	maxMissingShown   = 120
	maxFilesShown     = 120
	maxUnknownShown   = 80
	titleAllSubmitted = "✅ 全部已提交。"
)

// MissingStats 未交名单统计
type MissingStats struct {
	RosterTotal         int      `json:"roster_total"`
	HandedIn            int      `json:"handed_in"`
	Missing             int      `json:"missing"`
	SubmittedIDs        int      `json:"submitted_ids"`
	SubmittedNames      int      `json:"submitted_names"`
	SubmittedFilesTotal int      `json:"submitted_files_total"`
	RecognizedNameFiles int      `json:"recognized_name_files"`
	RecognizedNameRatio float64  `json:"recognized_name_ratio"`
	UnknownNameFiles    []string `json:"unknown_name_files"`
	SubmittedFileNames  []string `json:"submitted_file_names"`
	UseSubmittedList    bool     `json:"use_submitted_list"`
}

// MissingReport computeMissing 的结果
type MissingReport struct {
	Missing []roster.Entry `json:"missing"`
	Stats   MissingStats   `json:"stats"`
}

// ComputeMissing 对照名册计算未交名单
// 学号或姓名任一出现在提交文件名中即视为已交
func (s *taskStore) ComputeMissing(task *model.HandinTask) (*MissingReport, error) {
	entries := s.roster.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w：%s（文件不存在或格式不对）", ErrRosterUnavailable, s.roster.Path())
	}

	var files []string
	for _, p := range s.ListSubmittedFiles(task) {
		files = append(files, filepath.Base(p))
	}
	return computeMissing(entries, files), nil
}

func computeMissing(entries []roster.Entry, files []string) *MissingReport {
	names := roster.SortedNames(entries)
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	submittedIDs := map[string]struct{}{}
	submittedNames := map[string]struct{}{}
	var fileNames, unknown []string
	matched := 0

	for _, fn := range files {
		// 跳过隐藏文件与下载中的分片
		if strings.HasPrefix(fn, ".") || strings.EqualFold(filepath.Ext(fn), ".part") {
			continue
		}
		fileNames = append(fileNames, fn)

		if sid := roster.ExtractStudentID(fn); sid != "" {
			submittedIDs[sid] = struct{}{}
		}

		nm := roster.FindNameInFilename(fn, names)
		if nm == "" {
			// 先猜姓名，再确认确实在名册里
			if guess := roster.ExtractName(fn); guess != "" {
				if _, ok := nameSet[guess]; ok {
					nm = guess
				}
			}
		}
		if nm != "" {
			submittedNames[nm] = struct{}{}
			matched++
		} else {
			unknown = append(unknown, fn)
		}
	}

	report := &MissingReport{}
	handed := 0
	for _, e := range entries {
		_, idHit := submittedIDs[e.StudentID]
		_, nameHit := submittedNames[e.Name]
		if (e.StudentID != "" && idHit) || (e.Name != "" && nameHit) {
			handed++
			continue
		}
		report.Missing = append(report.Missing, e)
	}

	ratio := 1.0
	if len(fileNames) > 0 {
		ratio = float64(matched) / float64(len(fileNames))
	}
	report.Stats = MissingStats{
		RosterTotal:         len(entries),
		HandedIn:            handed,
		Missing:             len(report.Missing),
		SubmittedIDs:        len(submittedIDs),
		SubmittedNames:      len(submittedNames),
		SubmittedFilesTotal: len(fileNames),
		RecognizedNameFiles: matched,
		RecognizedNameRatio: ratio,
		UnknownNameFiles:    unknown,
		SubmittedFileNames:  fileNames,
		UseSubmittedList:    len(fileNames) > 0 && (matched == 0 || ratio < lowRecognitionRatio),
	}
	return report
}

// FormatMissingMessage 生成发给任务创建者的未交名单文本
func FormatMissingMessage(task *model.HandinTask, r *MissingReport, title string, loc *time.Location) string {
	return formatMissing(task, r, title, PrettyTime(task.DeadlineAt, loc))
}

func formatMissing(task *model.HandinTask, r *MissingReport, title, deadline string) string {
	st := r.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n任务：%s\n群：%d\n截止：%s", title, task.Name, task.GroupID, deadline)
	fmt.Fprintf(&b, "\n已交/总人数：%d/%d；未交：%d", st.HandedIn, st.RosterTotal, st.Missing)
	if st.SubmittedFilesTotal > 0 {
		fmt.Fprintf(&b, "\n姓名识别文件占比：%d/%d（%.1f%%）", st.RecognizedNameFiles, st.SubmittedFilesTotal, st.RecognizedNameRatio*100)
	}

	if st.UseSubmittedList {
		b.WriteString("\n⚠️ 姓名识别率过低（<20%）或未识别到名册姓名，改为发送已提交文件列表。")
		if len(st.SubmittedFileNames) == 0 {
			b.WriteString("\n当前没有已提交文件。")
			return b.String()
		}
		b.WriteString("\n已提交文件列表：")
		writeNumbered(&b, st.SubmittedFileNames, maxFilesShown)
		if n := len(st.SubmittedFileNames); n > maxFilesShown {
			fmt.Fprintf(&b, "\n...（共 %d 个，已截断显示前 %d 个）", n, maxFilesShown)
		}
		return b.String()
	}

	if len(r.Missing) == 0 {
		b.WriteString("\n" + titleAllSubmitted)
	} else {
		b.WriteString("\n未交名单：")
		for i, e := range r.Missing {
			if i >= maxMissingShown {
				break
			}
			name := e.Name
			if name == "" {
				name = "（未知）"
			}
			fmt.Fprintf(&b, "\n%d. %s", i+1, name)
		}
		if n := len(r.Missing); n > maxMissingShown {
			fmt.Fprintf(&b, "\n...（共 %d 人，已截断显示前 %d 人）", n, maxMissingShown)
		}
	}

	if len(st.UnknownNameFiles) > 0 {
		b.WriteString("\n\n未识别到姓名信息的已提交文件：")
		writeNumbered(&b, st.UnknownNameFiles, maxUnknownShown)
		if n := len(st.UnknownNameFiles); n > maxUnknownShown {
			fmt.Fprintf(&b, "\n...（共 %d 个，已截断显示前 %d 个）", n, maxUnknownShown)
		}
	}
	return b.String()
}

func writeNumbered(b *strings.Builder, items []string, limit int) {
	for i, it := range items {
		if i >= limit {
			return
		}
		fmt.Fprintf(b, "\n%d. %s", i+1, it)
	}
}
