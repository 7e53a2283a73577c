package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/pkg/keylock"
)

func TestDispatcher_PerUserOrderAndLimit(t *testing.T) {
	h := newRecordingHandler()
	h.delay = 2 * time.Millisecond
	d := New(h, nil, keylock.New(16), Options{MaxInFlight: 3, GracePeriod: time.Second}, zap.NewNop())

	conn := newMockConn(100)
	for i := 0; i < 10; i++ {
		for uid := int64(1); uid <= 4; uid++ {
			conn.events <- msgFrom(uid, fmt.Sprintf("m%d", i))
		}
	}
	close(conn.events)

	err := d.Serve(context.Background(), conn)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("期望 ErrConnectionLost，实际: %v", err)
	}
	for uid := int64(1); uid <= 4; uid++ {
		got := h.texts(uid)
		if len(got) != 10 {
			t.Fatalf("用户 %d 期望处理 10 条，实际 %d", uid, len(got))
		}
		for i, text := range got {
			if text != fmt.Sprintf("m%d", i) {
				t.Errorf("用户 %d 的消息乱序: %v", uid, got)
				break
			}
		}
	}
	if p := h.peak.Load(); p > 3 {
		t.Errorf("同时处理数不应超过 3，实际峰值 %d", p)
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	h := newRecordingHandler()
	h.panicOn = "bad"
	d := New(h, nil, keylock.New(4), Options{MaxInFlight: 2}, zap.NewNop())

	conn := newMockConn(3)
	conn.events <- msgFrom(1, "bad")
	conn.events <- msgFrom(1, "good")
	close(conn.events)

	_ = d.Serve(context.Background(), conn)
	if got := h.texts(1); len(got) != 1 || got[0] != "good" {
		t.Errorf("panic 之后同一用户的消息应继续处理，实际 %v", got)
	}
}

func TestDispatcher_GraceThenCancel(t *testing.T) {
	h := newRecordingHandler()
	h.block = true
	d := New(h, nil, keylock.New(4), Options{MaxInFlight: 4, GracePeriod: 20 * time.Millisecond}, zap.NewNop())

	conn := newMockConn(1)
	conn.events <- msgFrom(1, "a")

	go func() {
		for h.inFlight.Load() < 1 {
			time.Sleep(time.Millisecond)
		}
		conn.err = errors.New("ws closed")
		_ = conn.Close()
	}()

	start := time.Now()
	err := d.Serve(context.Background(), conn)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("期望 ErrConnectionLost，实际: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("应等待宽限期后再取消")
	}
	if n := h.canceled.Load(); n != 1 {
		t.Errorf("在途单元应被取消，实际 %d", n)
	}
}

func TestDispatcher_GuardFilters(t *testing.T) {
	h := newRecordingHandler()
	store := &mockGuardStore{seen: map[string]bool{}}
	guard := NewRedisGuard(store, GuardOptions{}, zap.NewNop())
	d := New(h, guard, keylock.New(4), Options{MaxInFlight: 1}, zap.NewNop())

	conn := newMockConn(3)
	m := msgFrom(1, "x")
	m.EventID = "evt-1"
	conn.events <- m
	conn.events <- m
	close(conn.events)

	_ = d.Serve(context.Background(), conn)
	if got := h.texts(1); len(got) != 1 {
		t.Errorf("重复事件应只处理一次，实际 %v", got)
	}
}

func TestDispatcher_TailsReleased(t *testing.T) {
	h := newRecordingHandler()
	d := New(h, nil, keylock.New(4), Options{MaxInFlight: 4}, zap.NewNop())

	conn := newMockConn(20)
	for i := 0; i < 20; i++ {
		conn.events <- msgFrom(int64(i%5), "x")
	}
	close(conn.events)
	_ = d.Serve(context.Background(), conn)

	d.tailMu.Lock()
	defer d.tailMu.Unlock()
	if len(d.tails) != 0 {
		t.Errorf("处理完成后排队表应为空，实际 %d", len(d.tails))
	}
}

func TestDispatcher_ContextCancel(t *testing.T) {
	d := New(newRecordingHandler(), nil, keylock.New(4), Options{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Serve(ctx, newMockConn(0))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled，实际: %v", err)
	}
}
