package dto

// ── 提交任务模块 DTO ──

// ListTasksRequest 任务列表查询参数
type ListTasksRequest struct {
	GroupID       int64 `form:"group_id"       binding:"omitempty,gt=0"`
	CreatorID     int64 `form:"creator_id"     binding:"omitempty,gt=0"`
	IncludeClosed bool  `form:"include_closed"`
}

// TaskResponse 任务信息（时间按配置时区格式化）
type TaskResponse struct {
	TaskID       string   `json:"task_id"`
	GroupID      int64    `json:"group_id"`
	CreatorID    int64    `json:"creator_id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
	Deadline     string   `json:"deadline"`
	Reminders    []string `json:"reminders"`
	RemindSent   int      `json:"remind_sent"`
	DeadlineSent bool     `json:"deadline_sent"`
	Cancelled    bool     `json:"cancelled"`
	CancelledBy  int64    `json:"cancelled_by,omitempty"`
	LastExportAt string   `json:"last_export_at,omitempty"`
	Purged       bool     `json:"purged"`
}

// TaskDetailResponse 任务详情：附带当前已归档文件
type TaskDetailResponse struct {
	TaskResponse
	Exportable     bool     `json:"exportable"`
	SubmittedFiles []string `json:"submitted_files"`
}

// MissingEntry 未交名单条目
type MissingEntry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

// MissingResponse 未交名单与识别统计
type MissingResponse struct {
	TaskID  string         `json:"task_id"`
	Missing []MissingEntry `json:"missing"`
	Stats   interface{}    `json:"stats"`
	Text    string         `json:"text"`
}
