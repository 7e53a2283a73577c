package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportMissing 导出未交名单
// GET /api/v1/tasks/:id/missing.xlsx
func (h *ExportHandler) ExportMissing(c *gin.Context) {
	id, ok := MustGetTaskID(c)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportMissing(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	// 设置下载响应头
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
