package roster

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry 名册中的一行
type Entry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

const (
	headerScanRows = 30
	headerScanCols = 50
)

func isIDHeader(s string) bool {
	switch strings.ToLower(s) {
	case "学号", "student id", "student_id":
		return true
	}
	return false
}

func isNameHeader(s string) bool {
	switch strings.ToLower(s) {
	case "姓名", "name":
		return true
	}
	return false
}

// Load 读取班级名册（当前活动工作表）
// 表头行在前 30 行内查找，允许首行是标题；学号统一转大写，空行跳过
func Load(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开名册失败: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("读取名册工作表失败: %w", err)
	}
	return parseRows(rows), nil
}

func parseRows(rows [][]string) []Entry {
	headerRow, colID, colName := -1, -1, -1
	for r := 0; r < len(rows) && r < headerScanRows; r++ {
		id, nm := -1, -1
		for c := 0; c < len(rows[r]) && c < headerScanCols; c++ {
			cell := strings.TrimSpace(rows[r][c])
			switch {
			case id < 0 && isIDHeader(cell):
				id = c
			case nm < 0 && isNameHeader(cell):
				nm = c
			}
		}
		if id >= 0 && nm >= 0 {
			headerRow, colID, colName = r, id, nm
			break
		}
	}
	if headerRow < 0 {
		return nil
	}

	var out []Entry
	for _, row := range rows[headerRow+1:] {
		sid := strings.TrimSpace(cellAt(row, colID))
		name := strings.TrimSpace(cellAt(row, colName))
		if sid == "" && name == "" {
			continue
		}
		out = append(out, Entry{StudentID: strings.ToUpper(sid), Name: name})
	}
	return out
}

func cellAt(row []string, c int) string {
	if c < len(row) {
		return row[c]
	}
	return ""
}
