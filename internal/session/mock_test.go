package session

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/delivery"
	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/repository"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
	"github.com/Cooper3516833584/Cooper-bot/internal/service"
	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
	"github.com/Cooper3516833584/Cooper-bot/pkg/keylock"
	"github.com/Cooper3516833584/Cooper-bot/pkg/workerpool"
)

// ── Mock Messenger ──

type mockMessenger struct {
	mu      sync.Mutex
	replies []string
}

func (m *mockMessenger) SendPrivate(_ context.Context, _ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return nil
}

func (m *mockMessenger) SendGroup(_ context.Context, _ int64, text string) error {
	return m.SendPrivate(context.Background(), 0, text)
}

func (m *mockMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return ""
	}
	return m.replies[len(m.replies)-1]
}

func (m *mockMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}

// ── Mock FileResolver ──

// mockResolver 以文件名作为内容返回；content 中有对应项时用指定内容
type mockResolver struct {
	content map[string]string
	err     error
}

func (r *mockResolver) Open(_ context.Context, _ int64, ref transport.FileRef) (io.ReadCloser, error) {
	if r.err != nil {
		return nil, r.err
	}
	body := ref.Name
	if c, ok := r.content[ref.Name]; ok {
		body = c
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// ── Mock Deliverer ──

type mockDeliverer struct {
	result delivery.Result
	calls  []string
}

func (d *mockDeliverer) Deliver(_ context.Context, artifact string, _ transport.Conversation, displayName string) delivery.Result {
	d.calls = append(d.calls, displayName)
	return d.result
}

// ── Mock Roster ──

type mockRoster struct{}

func (mockRoster) Entries() []roster.Entry {
	return []roster.Entry{
		{StudentID: "U202412345", Name: "张三"},
		{StudentID: "U202412346", Name: "李四"},
	}
}
func (mockRoster) Path() string { return "班级名册.xlsx" }

// ── 测试辅助 ──

const testUser int64 = 1001

type fixture struct {
	mgr       *Manager
	store     service.TaskStore
	messenger *mockMessenger
	resolver  *mockResolver
	deliverer *mockDeliverer
	root      string
}

func setupTestManager(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := zap.NewNop()

	repo := repository.NewFileRepository(filepath.Join(root, "tasks.json"), logger)
	store := service.NewTaskStore(service.StoreOptions{
		ArchiveDir:       filepath.Join(root, "handin"),
		InboxDir:         filepath.Join(root, "inbox"),
		ArchiveRetention: 720 * time.Hour,
		InboxRetention:   720 * time.Hour,
		Location:         time.UTC,
	}, repo, mockRoster{}, logger)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init 失败: %v", err)
	}

	f := &fixture{
		store:     store,
		messenger: &mockMessenger{},
		resolver:  &mockResolver{content: map[string]string{}},
		deliverer: &mockDeliverer{result: delivery.Result{Outcome: delivery.OutcomeSent}},
		root:      root,
	}
	f.mgr = NewManager(store, mockRoster{}, f.messenger, f.resolver, f.deliverer,
		workerpool.New(2), keylock.New(8),
		Options{InboxDir: filepath.Join(root, "inbox"), TempDir: filepath.Join(root, "temp")},
		logger)
	return f
}

func (f *fixture) createTask(t *testing.T, name string) *model.HandinTask {
	t.Helper()
	task, err := f.store.CreateTask(context.Background(), service.CreateTaskInput{
		GroupID:   100,
		CreatorID: 42,
		Name:      name,
		Deadline:  time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	return task
}

func privateMsg(text string) transport.Message {
	return transport.Message{
		Conv:  transport.Conversation{Scene: transport.ScenePrivate, UserID: testUser},
		Text:  text,
		Level: 2,
	}
}

func groupMsg(groupID int64, text string, level int) transport.Message {
	return transport.Message{
		Conv:  transport.Conversation{Scene: transport.SceneGroup, UserID: testUser, GroupID: groupID},
		Text:  text,
		Level: level,
	}
}

func (f *fixture) sendFile(t *testing.T, name string) string {
	t.Helper()
	if !f.mgr.HandleFile(context.Background(), privateMsg(""), transport.FileRef{Name: name}) {
		t.Fatalf("私聊文件应被处理: %s", name)
	}
	return f.messenger.last()
}

func (f *fixture) say(t *testing.T, text string) string {
	t.Helper()
	before := f.messenger.count()
	if !f.mgr.HandleText(context.Background(), privateMsg(text)) {
		t.Fatalf("回复 %q 应被会话处理", text)
	}
	if f.messenger.count() != before+1 {
		t.Fatalf("每次输入应只回复一条，实际 %d 条", f.messenger.count()-before)
	}
	return f.messenger.last()
}

func (f *fixture) state() State {
	st, _ := f.mgr.Peek(testUser)
	return st
}

func (f *fixture) queue() []model.InboxItem {
	_, q := f.mgr.Peek(testUser)
	return q
}

var errResolve = errors.New("connection reset")
