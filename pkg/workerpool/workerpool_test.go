package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(2)
	var cur, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&cur, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&cur, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("并发峰值不应超过 2，实际 %d", peak)
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	p := New(1)
	got, err := Run(context.Background(), p, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("期望 42，实际 %d, %v", got, err)
	}
}

func TestPool_CancelledContext(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled，实际: %v", err)
	}
}
