package handler

import (
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cooper3516833584/Cooper-bot/internal/dto"
	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

// TaskHandler 提交任务只读查询
type TaskHandler struct {
	store service.TaskStore
	now   func() time.Time
}

// NewTaskHandler 创建 TaskHandler
func NewTaskHandler(store service.TaskStore) *TaskHandler {
	return &TaskHandler{store: store, now: time.Now}
}

// ListTasks 任务列表
// GET /api/v1/tasks?group_id=&creator_id=&include_closed=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, response.CodeBadParam, "参数校验失败")
		return
	}

	var tasks []*model.HandinTask
	switch {
	case req.GroupID != 0:
		tasks = h.store.ListByGroup(req.GroupID, req.IncludeClosed)
	case req.CreatorID != 0:
		tasks = h.store.ListByCreator(req.CreatorID, req.IncludeClosed)
	default:
		tasks = h.store.ListAll(req.IncludeClosed)
	}

	list := make([]dto.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		if req.CreatorID != 0 && t.CreatorID != req.CreatorID {
			continue
		}
		list = append(list, h.toResponse(t))
	}
	response.OKList(c, list, len(list))
}

// GetTask 任务详情
// GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := MustGetTaskID(c)
	if !ok {
		return
	}
	task, found := h.store.GetTask(id)
	if !found {
		response.FromError(c, service.ErrTaskNotFound)
		return
	}

	files := []string{}
	for _, p := range h.store.ListSubmittedFiles(task) {
		files = append(files, filepath.Base(p))
	}
	response.OK(c, dto.TaskDetailResponse{
		TaskResponse:   h.toResponse(task),
		Exportable:     h.store.IsExportable(task),
		SubmittedFiles: files,
	})
}

// GetMissing 未交名单
// GET /api/v1/tasks/:id/missing
func (h *TaskHandler) GetMissing(c *gin.Context) {
	id, ok := MustGetTaskID(c)
	if !ok {
		return
	}
	task, found := h.store.GetTask(id)
	if !found {
		response.FromError(c, service.ErrTaskNotFound)
		return
	}
	report, err := h.store.ComputeMissing(task)
	if err != nil {
		response.FromError(c, err)
		return
	}

	missing := make([]dto.MissingEntry, 0, len(report.Missing))
	for _, e := range report.Missing {
		missing = append(missing, dto.MissingEntry{StudentID: e.StudentID, Name: e.Name})
	}
	response.OK(c, dto.MissingResponse{
		TaskID:  task.TaskID,
		Missing: missing,
		Stats:   report.Stats,
		Text:    service.FormatMissingMessage(task, report, "📋 未交名单", h.store.Location()),
	})
}

func (h *TaskHandler) toResponse(t *model.HandinTask) dto.TaskResponse {
	loc := h.store.Location()
	r := dto.TaskResponse{
		TaskID:       t.TaskID,
		GroupID:      t.GroupID,
		CreatorID:    t.CreatorID,
		Name:         t.Name,
		Status:       t.StatusTag(h.now()),
		CreatedAt:    service.PrettyTime(t.CreatedAt, loc),
		Deadline:     service.PrettyTime(t.DeadlineAt, loc),
		Reminders:    make([]string, 0, len(t.RemindAt)),
		RemindSent:   t.RemindSentIdx,
		DeadlineSent: t.DeadlineSent,
		Cancelled:    t.Cancelled,
		CancelledBy:  t.CancelledBy,
		Purged:       t.Purged,
	}
	for _, at := range t.RemindAt {
		r.Reminders = append(r.Reminders, service.PrettyTime(at, loc))
	}
	if t.LastExportAt != nil {
		r.LastExportAt = service.PrettyTime(*t.LastExportAt, loc)
	}
	return r
}
