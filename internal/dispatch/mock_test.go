package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/internal/transport"
)

// ── Mock Connection ──

type mockConn struct {
	events chan transport.Message
	done   chan struct{}
	once   sync.Once
	err    error
}

func newMockConn(buf int) *mockConn {
	return &mockConn{events: make(chan transport.Message, buf), done: make(chan struct{})}
}

func (c *mockConn) Events() <-chan transport.Message { return c.events }
func (c *mockConn) Done() <-chan struct{}            { return c.done }
func (c *mockConn) Err() error                       { return c.err }
func (c *mockConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// ── Mock Handler ──

type recordingHandler struct {
	mu       sync.Mutex
	order    map[int64][]string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	block    bool
	panicOn  string
	canceled atomic.Int32
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{order: map[int64][]string{}}
}

func (h *recordingHandler) Handle(ctx context.Context, msg transport.Message) {
	n := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if msg.Text == h.panicOn && h.panicOn != "" {
		panic("boom")
	}
	if h.block {
		<-ctx.Done()
		h.canceled.Add(1)
		return
	}
	time.Sleep(h.delay)

	h.mu.Lock()
	h.order[msg.Conv.UserID] = append(h.order[msg.Conv.UserID], msg.Text)
	h.mu.Unlock()
}

func (h *recordingHandler) texts(uid int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order[uid]...)
}

func msgFrom(uid int64, text string) transport.Message {
	return transport.Message{
		Conv: transport.Conversation{Scene: transport.ScenePrivate, UserID: uid},
		Text: text,
	}
}
