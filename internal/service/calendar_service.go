package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

// CalendarService 群内提交任务的截止日历（iCalendar 订阅）
type CalendarService interface {
	GroupCalendar(ctx context.Context, groupID int64) (string, error)
}

type calendarService struct {
	store  TaskStore
	logger *zap.Logger
}

// NewCalendarService 创建 CalendarService 实例
func NewCalendarService(store TaskStore, logger *zap.Logger) CalendarService {
	return &calendarService{store: store, logger: logger}
}

// GroupCalendar 每个未取消的任务生成一个截止事件（截止前 30 分钟至截止时刻），提醒时间写入描述
func (s *calendarService) GroupCalendar(ctx context.Context, groupID int64) (string, error) {
	loc := s.store.Location()
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//Cooper-bot//handin//CN")

	for _, t := range s.store.ListByGroup(groupID, true) {
		if t.Cancelled {
			continue
		}
		evt := cal.AddEvent(fmt.Sprintf("%s@handin", strings.ReplaceAll(t.TaskID, ":", "-")))
		evt.SetCreatedTime(t.CreatedAt)
		evt.SetDtStampTime(t.CreatedAt)
		evt.SetStartAt(t.DeadlineAt.Add(-30 * time.Minute))
		evt.SetEndAt(t.DeadlineAt)
		evt.SetSummary(fmt.Sprintf("作业截止：%s", t.Name))

		var desc strings.Builder
		fmt.Fprintf(&desc, "任务：%s\n截止：%s", t.Name, PrettyTime(t.DeadlineAt, loc))
		for i, r := range t.RemindAt {
			fmt.Fprintf(&desc, "\n提醒%d：%s", i+1, PrettyTime(r, loc))
		}
		evt.SetDescription(desc.String())
	}

	return cal.Serialize(), nil
}
