package session

import "fmt"

// ChoiceMode 数字选择的用途
type ChoiceMode int

const (
	ModeSubmit ChoiceMode = iota + 1
	ModeStatus
	ModeCheck
	ModeGetZip
	ModeCancel
)

func (m ChoiceMode) String() string {
	switch m {
	case ModeSubmit:
		return "submit"
	case ModeStatus:
		return "status"
	case ModeCheck:
		return "check"
	case ModeGetZip:
		return "getzip"
	case ModeCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// State 每个用户同一时刻只有一个待处理交互
type State interface {
	stateName() string
}

// Idle 无待处理交互
type Idle struct{}

// AwaitDone 批量收集中，等待 done
type AwaitDone struct{}

// AwaitZipName 等待压缩包名称
type AwaitZipName struct {
	Suggested string
}

// AwaitSubmitterName 单文件未识别到姓名，等待补充提交者姓名
type AwaitSubmitterName struct{}

// AwaitTaskChoice 等待按序号选择任务
type AwaitTaskChoice struct {
	Mode    ChoiceMode
	TaskIDs []string
	GroupID int64 // 仅 cancel：非 0 时只接受该群内的回复
}

// AwaitOverwrite 归档同名冲突，等待 Y/N
type AwaitOverwrite struct {
	TaskID string
	Path   string
}

func (Idle) stateName() string               { return "idle" }
func (AwaitDone) stateName() string          { return "await_done" }
func (AwaitZipName) stateName() string       { return "await_zip_name" }
func (AwaitSubmitterName) stateName() string { return "await_submitter_name" }
func (s AwaitTaskChoice) stateName() string  { return fmt.Sprintf("await_choice:%s", s.Mode) }
func (AwaitOverwrite) stateName() string     { return "await_overwrite" }

// StateName 日志与接口展示用
func StateName(s State) string {
	if s == nil {
		return Idle{}.stateName()
	}
	return s.stateName()
}
