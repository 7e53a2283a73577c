package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	apperrors "github.com/Cooper3516833584/Cooper-bot/pkg/errors"
)

// ── 导出模块业务错误 ──

var (
	ErrExportGenerateFail = apperrors.New(apperrors.KindIO, "生成 Excel 文件失败")
)

// ExportService 导出业务接口
//
// 设计说明：
//   - 未交名单导出为 Excel (.xlsx)，供管理接口下载
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
//   - Sheet "未交名单"：序号 / 学号 / 姓名；Sheet "已提交文件"：序号 / 文件名 / 姓名识别
type ExportService interface {
	// ExportMissing 导出任务未交名单为 Excel
	ExportMissing(ctx context.Context, taskID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	store  TaskStore
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(store TaskStore, logger *zap.Logger) ExportService {
	return &exportService{store: store, logger: logger}
}

// ═══════════════════════════════════════════════════════════
// ExportMissing 导出未交名单为 Excel
// ═══════════════════════════════════════════════════════════

func (s *exportService) ExportMissing(ctx context.Context, taskID string) (*bytes.Buffer, string, error) {
	task, ok := s.store.GetTask(taskID)
	if !ok {
		return nil, "", ErrTaskNotFound
	}
	report, err := s.store.ComputeMissing(task)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	missingSheet := "未交名单"
	idx, _ := f.NewSheet(missingSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	st := report.Stats
	f.SetCellValue(missingSheet, "A1", fmt.Sprintf("%s（群 %d）已交 %d/%d，截止 %s",
		task.Name, task.GroupID, st.HandedIn, st.RosterTotal, PrettyTime(task.DeadlineAt, s.store.Location())))
	f.MergeCell(missingSheet, "A1", "C1")
	f.SetCellStyle(missingSheet, "A1", "A1", headerStyle)

	f.SetColWidth(missingSheet, "A", "A", 8)
	f.SetColWidth(missingSheet, "B", "B", 18)
	f.SetColWidth(missingSheet, "C", "C", 14)
	f.SetCellValue(missingSheet, "A2", "序号")
	f.SetCellValue(missingSheet, "B2", "学号")
	f.SetCellValue(missingSheet, "C2", "姓名")
	for i, e := range report.Missing {
		row := i + 3
		f.SetCellValue(missingSheet, cell("A", row), i+1)
		f.SetCellValue(missingSheet, cell("B", row), e.StudentID)
		f.SetCellValue(missingSheet, cell("C", row), e.Name)
	}

	// 已提交文件
	filesSheet := "已提交文件"
	if _, err := f.NewSheet(filesSheet); err == nil {
		unknown := make(map[string]bool, len(st.UnknownNameFiles))
		for _, fn := range st.UnknownNameFiles {
			unknown[fn] = true
		}
		f.SetColWidth(filesSheet, "B", "B", 48)
		f.SetCellValue(filesSheet, "A1", "序号")
		f.SetCellValue(filesSheet, "B1", "文件名")
		f.SetCellValue(filesSheet, "C1", "姓名识别")
		for i, fn := range st.SubmittedFileNames {
			row := i + 2
			f.SetCellValue(filesSheet, cell("A", row), i+1)
			f.SetCellValue(filesSheet, cell("B", row), fn)
			mark := "✓"
			if unknown[fn] {
				mark = "未识别"
			}
			f.SetCellValue(filesSheet, cell("C", row), mark)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("未交名单_%s.xlsx", SafeComponent(task.Name, maxComponentLen))
	return buf, filepath.Base(filename), nil
}

// ── 辅助函数 ──

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
