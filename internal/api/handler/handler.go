package handler

import "github.com/Cooper3516833584/Cooper-bot/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Task     *TaskHandler
	Export   *ExportHandler
	Calendar *CalendarHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Task:     NewTaskHandler(svc.Task),
		Export:   NewExportHandler(svc.Export),
		Calendar: NewCalendarHandler(svc.Calendar),
	}
}
