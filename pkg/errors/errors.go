package errors

import "errors"

// Kind 业务错误分类，决定调用方的处理方式（提示、重试或降级）
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation 参数/任务名/时间不合法，同步拒绝，不重试
	KindValidation
	// KindNotFound 任务或文件已不存在
	KindNotFound
	// KindConflict 同名进行中任务、归档同名文件，需要用户决定
	KindConflict
	// KindForbidden 权限不足
	KindForbidden
	// KindTransientTransport 可重试的传输失败
	KindTransientTransport
	// KindPermanentTransport 所有通道与兜底均失败
	KindPermanentTransport
	// KindPersistence 持久化写入失败，内存状态仍为准
	KindPersistence
	// KindIO 本地文件读写失败
	KindIO
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindNotFound:           "not_found",
	KindConflict:           "conflict",
	KindForbidden:          "forbidden",
	KindTransientTransport: "transient_transport",
	KindPermanentTransport: "permanent_transport",
	KindPersistence:        "persistence",
	KindIO:                 "io",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error 带分类的业务错误，Message 为面向用户的中文提示
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + "：" + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建一个分类错误（通常用作包级哨兵错误）
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 以指定分类包装底层错误
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误链上第一个分类错误的 Kind；未分类返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind 判断错误链上是否存在指定分类
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrOptimisticLock 并发写入冲突：记录已被其他操作修改
var ErrOptimisticLock = New(KindConflict, "数据已被其他操作修改，请刷新后重试")
