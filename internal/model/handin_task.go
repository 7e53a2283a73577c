package model

import "time"

// 任务状态标签
const (
	TaskTagCancelled = "已取消"
	TaskTagExpired   = "已截止"
	TaskTagClosed    = "已结束"
	TaskTagActive    = "进行中"
)

// HandinTask 作业收集任务，对应 handin_tasks
//
// TaskID 由 群号:任务名:创建秒数 组成，全局唯一且不复用。
// 任务记录本身永不删除，保留期到达后只清理归档文件并标记 Purged。
type HandinTask struct {
	TaskID        string     `gorm:"type:varchar(255);primaryKey"    json:"task_id"`
	GroupID       int64      `gorm:"not null;index"                  json:"group_id"`
	CreatorID     int64      `gorm:"not null;index"                  json:"creator_id"`
	Name          string     `gorm:"type:varchar(100);not null"      json:"name"`
	CreatedAt     time.Time  `gorm:"not null"                        json:"created_at"`
	RemindAt      TimeList   `gorm:"type:bigint[];not null"          json:"remind_at"`
	RemindSentIdx int        `gorm:"not null;default:0"              json:"remind_sent_idx"`
	DeadlineAt    time.Time  `gorm:"not null"                        json:"deadline_at"`
	DeadlineSent  bool       `gorm:"not null;default:false"          json:"deadline_sent"`
	Closed        bool       `gorm:"not null;default:false"          json:"closed"`
	Cancelled     bool       `gorm:"not null;default:false"          json:"cancelled"`
	CancelledAt   *time.Time `                                       json:"cancelled_at,omitempty"`
	CancelledBy   int64      `gorm:"not null;default:0"              json:"cancelled_by,omitempty"`
	LastExportAt  *time.Time `                                       json:"last_export_at,omitempty"`
	Purged        bool       `gorm:"not null;default:false"          json:"purged"`
	PurgedAt      *time.Time `                                       json:"purged_at,omitempty"`
}

// TableName 指定表名
func (HandinTask) TableName() string { return "handin_tasks" }

// IsActive 任务是否仍在收集：未关闭且未到截止时间
func (t *HandinTask) IsActive(now time.Time) bool {
	return !t.Closed && now.Before(t.DeadlineAt)
}

// StatusTag 列表展示用的状态标签
func (t *HandinTask) StatusTag(now time.Time) string {
	switch {
	case t.Cancelled:
		return TaskTagCancelled
	case !now.Before(t.DeadlineAt):
		return TaskTagExpired
	case t.Closed:
		return TaskTagClosed
	default:
		return TaskTagActive
	}
}

// Clone 深拷贝，调用方拿到的副本与存储内部状态互不影响
func (t *HandinTask) Clone() *HandinTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.RemindAt != nil {
		c.RemindAt = append(TimeList(nil), t.RemindAt...)
	}
	c.CancelledAt = cloneTime(t.CancelledAt)
	c.LastExportAt = cloneTime(t.LastExportAt)
	c.PurgedAt = cloneTime(t.PurgedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// InboxItem 用户收件箱中尚未归档的文件
type InboxItem struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	ReceivedAt  time.Time `json:"received_at"`
}
