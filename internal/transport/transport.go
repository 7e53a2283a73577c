// Package transport 定义聊天平台协作方接口：发送消息、上传文件、解析入站文件与事件源。
// 业务层只依赖这里的类型，具体协议实现位于子包（onebot）。
package transport

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Scene 会话场景
type Scene int

const (
	ScenePrivate Scene = iota + 1
	SceneGroup
)

func (s Scene) String() string {
	switch s {
	case ScenePrivate:
		return "private"
	case SceneGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Conversation 会话身份
type Conversation struct {
	Scene   Scene `json:"scene"`
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id,omitempty"`
}

// IsGroup 是否群聊
func (c Conversation) IsGroup() bool { return c.Scene == SceneGroup }

// LockKey 串行化键：提交会话状态按用户维护，同一用户的群聊与私聊消息共用一把锁
func (c Conversation) LockKey() string { return fmt.Sprintf("user:%d", c.UserID) }

// FileRef 入站文件事件中的文件引用
type FileRef struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Message 归一化后的入站消息
type Message struct {
	EventID    string
	Conv       Conversation
	Nickname   string
	Text       string
	Level      int
	Files      []FileRef
	ReceivedAt time.Time
}

// ── 上传结果 ──

// UploadKind 上传结果分类（封闭枚举），协议层负责把平台错误映射到这里
type UploadKind int

const (
	// UploadOK 平台明确确认成功
	UploadOK UploadKind = iota
	// UploadUnconfirmed 请求已发出但没有可确认的响应（常见于超时）
	UploadUnconfirmed
	// UploadMissingFile 平台侧找不到文件（挂载同步延迟），可重试
	UploadMissingFile
	// UploadRichMediaFailed 富媒体传输失败，可重试
	UploadRichMediaFailed
	// UploadRejected 其他失败，不重试
	UploadRejected
)

func (k UploadKind) String() string {
	switch k {
	case UploadOK:
		return "ok"
	case UploadUnconfirmed:
		return "unconfirmed"
	case UploadMissingFile:
		return "missing_file"
	case UploadRichMediaFailed:
		return "rich_media_failed"
	case UploadRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// UploadStatus 一次上传调用的结果
type UploadStatus struct {
	Kind   UploadKind
	Detail string
}

// Transient 是否值得重试
func (s UploadStatus) Transient() bool {
	return s.Kind == UploadMissingFile || s.Kind == UploadRichMediaFailed
}

// ── 协作方接口 ──

// Messenger 发送文本消息
type Messenger interface {
	SendPrivate(ctx context.Context, userID int64, text string) error
	SendGroup(ctx context.Context, groupID int64, text string) error
}

// Uploader 上传文件；path 为平台可见路径，name 为展示名
type Uploader interface {
	UploadGroupFile(ctx context.Context, groupID int64, path, name string) UploadStatus
	// viaGroupID 非 0 时以群临时会话方式私发
	UploadPrivateFile(ctx context.Context, userID int64, path, name string, viaGroupID int64) UploadStatus
}

// FileResolver 把入站文件引用解析为可读字节流
type FileResolver interface {
	Open(ctx context.Context, userID int64, ref FileRef) (io.ReadCloser, error)
}

// Connection 一次事件连接；Done 关闭表示连接断开
type Connection interface {
	Events() <-chan Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// EventSource 建立事件连接
type EventSource interface {
	Connect(ctx context.Context) (Connection, error)
}

// PermissionResolver 权限等级：0 游客 1 临时 2 好友 3 管理员
type PermissionResolver interface {
	Level(conv Conversation, subType string) int
	IsAdmin(userID int64) bool
}

// Reply 按会话场景回复文本
func Reply(ctx context.Context, m Messenger, conv Conversation, text string) error {
	if conv.IsGroup() {
		return m.SendGroup(ctx, conv.GroupID, text)
	}
	return m.SendPrivate(ctx, conv.UserID, text)
}
