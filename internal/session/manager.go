// Package session 维护每个用户的作业提交会话：收件箱队列与唯一的待处理交互状态。
//
// 调用方（dispatch）按 Conversation.LockKey 持有分片锁后再调用 HandleFile / HandleText / BeginChoice，
// 因此同一用户的输入严格串行；ExpireIdle 由调度器在锁外调用，自行加锁。
package session

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/delivery"
	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/keylock"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
)

// ErrOverwritePending 存在未确认的覆盖操作，不能开始新的选择
var ErrOverwritePending = errors.New(msgOverwritePending)

// Deliverer 文件投递（*delivery.Engine 实现）
type Deliverer interface {
	Deliver(ctx context.Context, artifact string, conv transport.Conversation, displayName string) delivery.Result
}

// Options 会话目录配置
type Options struct {
	InboxDir string
	TempDir  string
}

type userSession struct {
	state   State
	queue   []model.InboxItem
	touched time.Time
}

// Manager 提交会话管理器
type Manager struct {
	store     service.TaskStore
	roster    service.RosterSource
	messenger transport.Messenger
	files     transport.FileResolver
	deliverer Deliverer
	pool      *workerpool.Pool
	locks     *keylock.Table
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[int64]*userSession
}

// NewManager 创建会话管理器；locks 必须与 dispatch 使用同一张锁表
func NewManager(
	store service.TaskStore,
	rosterSrc service.RosterSource,
	messenger transport.Messenger,
	files transport.FileResolver,
	deliverer Deliverer,
	pool *workerpool.Pool,
	locks *keylock.Table,
	opts Options,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:     store,
		roster:    rosterSrc,
		messenger: messenger,
		files:     files,
		deliverer: deliverer,
		pool:      pool,
		locks:     locks,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[int64]*userSession),
	}
}

// ────────────────────── 会话表 ──────────────────────

func (m *Manager) session(userID int64) *userSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[userID]
	if s == nil {
		s = &userSession{state: Idle{}}
		m.sessions[userID] = s
	}
	s.touched = m.now()
	return s
}

func (m *Manager) peekSession(userID int64) *userSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// Peek 返回用户当前状态与队列副本
func (m *Manager) Peek(userID int64) (State, []model.InboxItem) {
	s := m.peekSession(userID)
	if s == nil {
		return Idle{}, nil
	}
	return s.state, append([]model.InboxItem(nil), s.queue...)
}

// ActiveSessions 有待处理交互或队列非空的会话数
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if _, idle := s.state.(Idle); !idle || len(s.queue) > 0 {
			n++
		}
	}
	return n
}

// ExpireIdle 回收超过 maxIdle 未活动的会话状态；队列中的文件由收件箱保留期清理
func (m *Manager) ExpireIdle(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	var stale []int64
	for uid, s := range m.sessions {
		if now.Sub(s.touched) >= maxIdle {
			stale = append(stale, uid)
		}
	}
	m.mu.Unlock()

	expired := 0
	for _, uid := range stale {
		unlock := m.locks.Lock(transport.Conversation{UserID: uid}.LockKey())
		m.mu.Lock()
		if s := m.sessions[uid]; s != nil && now.Sub(s.touched) >= maxIdle {
			delete(m.sessions, uid)
			expired++
		}
		m.mu.Unlock()
		unlock()
	}
	if expired > 0 {
		m.logger.Info("过期会话已回收", zap.Int("count", expired))
	}
	return expired
}

// ────────────────────── 入口 ──────────────────────

// HandleFile 处理私聊文件；群聊文件不属于提交流程，返回 false
func (m *Manager) HandleFile(ctx context.Context, msg transport.Message, ref transport.FileRef) bool {
	if msg.Conv.IsGroup() {
		return false
	}
	s := m.session(msg.Conv.UserID)
	m.logInput(msg, s, "[file] "+ref.Name)

	if msg.Level < 1 {
		m.reply(ctx, msg.Conv, msgLevelTooLow)
		return true
	}
	m.reply(ctx, msg.Conv, m.onFile(ctx, msg, s, ref))
	return true
}

// HandleText 按当前状态解释文本回复；未处理时返回 false，交给命令解析
func (m *Manager) HandleText(ctx context.Context, msg transport.Message) bool {
	s := m.peekSession(msg.Conv.UserID)
	if s == nil {
		return false
	}
	raw := strings.TrimSpace(msg.Text)
	if raw == "" {
		return false
	}

	var (
		out     string
		handled bool
	)
	switch st := s.state.(type) {
	case AwaitTaskChoice:
		if st.Mode == ModeCancel {
			if msg.Conv.IsGroup() && st.GroupID != 0 && msg.Conv.GroupID != st.GroupID {
				return false
			}
			out, handled = m.onCancelChoice(ctx, msg, s, st, raw)
			break
		}
		if msg.Conv.IsGroup() {
			return false
		}
		out, handled = m.onChoice(ctx, msg, s, st, raw)
	case Idle:
		return false
	default:
		if msg.Conv.IsGroup() {
			return false
		}
		switch st := st.(type) {
		case AwaitOverwrite:
			out, handled = m.onOverwrite(s, st, raw), true
		case AwaitDone:
			out, handled = m.onDone(msg, s, raw)
		case AwaitZipName:
			out, handled = m.onZipName(ctx, msg, s, st, raw), true
		case AwaitSubmitterName:
			out, handled = m.onSubmitterName(s, raw), true
		}
	}
	if !handled {
		return false
	}

	m.touch(s)
	m.logInput(msg, s, raw)
	m.reply(ctx, msg.Conv, out)
	return true
}

// BeginChoice 进入任务选择；存在未确认覆盖时返回 ErrOverwritePending
func (m *Manager) BeginChoice(msg transport.Message, mode ChoiceMode, tasks []*model.HandinTask, groupID int64) error {
	s := m.session(msg.Conv.UserID)
	if _, ok := s.state.(AwaitOverwrite); ok {
		return ErrOverwritePending
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.TaskID
	}
	s.state = AwaitTaskChoice{Mode: mode, TaskIDs: ids, GroupID: groupID}
	m.logger.Info("进入任务选择",
		zap.Int64("user_id", msg.Conv.UserID),
		zap.String("mode", mode.String()),
		zap.Int("candidates", len(ids)),
	)
	return nil
}

// ────────────────────── 辅助 ──────────────────────

func (m *Manager) touch(s *userSession) {
	m.mu.Lock()
	s.touched = m.now()
	m.mu.Unlock()
}

func (m *Manager) reply(ctx context.Context, conv transport.Conversation, text string) {
	if text == "" {
		return
	}
	if err := transport.Reply(ctx, m.messenger, conv, text); err != nil {
		m.logger.Warn("回复失败", zap.Int64("user_id", conv.UserID), zap.Error(err))
	}
}

func (m *Manager) logInput(msg transport.Message, s *userSession, text string) {
	m.logger.Info("会话输入",
		zap.Int64("user_id", msg.Conv.UserID),
		zap.String("scene", msg.Conv.Scene.String()),
		zap.String("state", StateName(s.state)),
		zap.Int("queued", len(s.queue)),
		zap.String("text", text),
	)
}

// activeTasks 当前可提交的任务（全部群）
func (m *Manager) activeTasks() []*model.HandinTask {
	return m.store.ListActive()
}

func (m *Manager) rosterNameIn(filename string) string {
	names := roster.SortedNames(m.roster.Entries())
	return roster.FindNameInFilename(filename, names)
}

// promptSubmit 进入 submit 选择并返回任务列表；无进行中任务时回到 Idle
func (m *Manager) promptSubmit(s *userSession) (string, bool) {
	tasks := m.activeTasks()
	if len(tasks) == 0 {
		s.state = Idle{}
		return msgNoActiveTask, false
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.TaskID
	}
	s.state = AwaitTaskChoice{Mode: ModeSubmit, TaskIDs: ids}
	return taskListText(tasks, m.store.Location()), true
}

func (m *Manager) userInboxDir(userID int64) string {
	return filepath.Join(m.opts.InboxDir, strconv.FormatInt(userID, 10))
}
