package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/internal/model"
	"github.com/Cooper3516833584/Cooper-bot/internal/roster"
)

// ── Mock TaskRepository ──

type mockTaskRepo struct {
	mu      sync.Mutex
	tasks   map[string]*model.HandinTask
	saves   int
	saveErr error
	loadErr error
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[string]*model.HandinTask)}
}

func (m *mockTaskRepo) Load(_ context.Context) (map[string]*model.HandinTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]*model.HandinTask, len(m.tasks))
	for id, t := range m.tasks {
		out[id] = t.Clone()
	}
	return out, nil
}

func (m *mockTaskRepo) Save(_ context.Context, tasks []*model.HandinTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tasks = make(map[string]*model.HandinTask, len(tasks))
	for _, t := range tasks {
		m.tasks[t.TaskID] = t.Clone()
	}
	return nil
}

func (m *mockTaskRepo) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// ── Mock RosterSource ──

type mockRoster struct {
	entries []roster.Entry
}

func (m *mockRoster) Entries() []roster.Entry { return m.entries }
func (m *mockRoster) Path() string            { return "班级名册.xlsx" }

func defaultRoster() *mockRoster {
	return &mockRoster{entries: []roster.Entry{
		{StudentID: "U202412345", Name: "张三"},
		{StudentID: "U202412346", Name: "李四"},
		{StudentID: "U202412347", Name: "王五"},
		{StudentID: "U202412348", Name: "欧阳修"},
	}}
}

// ── Mock Notifier ──

type sentMessage struct {
	userID int64
	text   string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockNotifier) SendPrivate(_ context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{userID: userID, text: text})
	return m.err
}

var errMockSave = errors.New("disk full")

// ── 测试辅助 ──

// fixedClock 可手动拨动的时钟
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestStore(t interface {
	TempDir() string
	Fatalf(string, ...interface{})
}) (*taskStore, *mockTaskRepo, *fixedClock) {
	dir := t.TempDir()
	repo := newMockTaskRepo()
	clock := &fixedClock{now: time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)}
	s := newTaskStore(StoreOptions{
		ArchiveDir:       dir + "/handin",
		InboxDir:         dir + "/inbox",
		ArchiveRetention: 720 * time.Hour,
		InboxRetention:   720 * time.Hour,
		Location:         time.UTC,
	}, repo, defaultRoster(), zap.NewNop(), clock.Now)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init 失败: %v", err)
	}
	return s, repo, clock
}
