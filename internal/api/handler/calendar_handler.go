package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

// CalendarHandler 群截止日历订阅
type CalendarHandler struct {
	calSvc service.CalendarService
}

// NewCalendarHandler 创建 CalendarHandler
func NewCalendarHandler(calSvc service.CalendarService) *CalendarHandler {
	return &CalendarHandler{calSvc: calSvc}
}

// GroupCalendar GET /api/v1/groups/:id/calendar.ics
func (h *CalendarHandler) GroupCalendar(c *gin.Context) {
	groupID, ok := MustParseInt64Param(c, "id")
	if !ok {
		return
	}
	body, err := h.calSvc.GroupCalendar(c.Request.Context(), groupID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=handin-%d.ics", groupID))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}
